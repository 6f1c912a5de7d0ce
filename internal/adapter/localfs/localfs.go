// Package localfs adapts the local file tree to the adapter contract.
// Locators are paths relative to the adapter root.
package localfs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openmined/portals/internal/adapter"
	"github.com/openmined/portals/internal/core"
	"github.com/openmined/portals/internal/utils"
)

const (
	// TrashDir is where "deleted" files go. Local deletes archive rather
	// than destroy, mirroring the remote archival semantics.
	TrashDir = ".portals/trash"

	filePerm = 0o644
)

type Adapter struct {
	root string
}

var _ adapter.Adapter = (*Adapter)(nil)

func New(root string) (*Adapter, error) {
	abs, err := utils.ResolvePath(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	if !utils.DirExists(abs) {
		return nil, fmt.Errorf("root is not a directory: %s", abs)
	}
	return &Adapter{root: abs}, nil
}

func (a *Adapter) Platform() string { return "local" }

// Root returns the absolute root directory of the adapter.
func (a *Adapter) Root() string { return a.root }

// AbsPath resolves a locator to an absolute path under the root, rejecting
// escapes via "..".
func (a *Adapter) AbsPath(locator string) (string, error) {
	clean := filepath.Clean(locator)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return "", fmt.Errorf("locator escapes root: %s", locator)
	}
	return filepath.Join(a.root, clean), nil
}

func (a *Adapter) Read(_ context.Context, locator string) (*core.Document, error) {
	abs, err := a.AbsPath(locator)
	if err != nil {
		return nil, a.wrap("read", locator, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, a.wrap("read", locator, core.ErrNotFound)
		}
		return nil, a.wrap("read", locator, err)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, a.wrap("read", locator, err)
	}

	return core.NewDocument(string(data), core.DocumentMeta{
		Title:      titleFromPath(locator),
		CreatedAt:  info.ModTime(),
		ModifiedAt: info.ModTime(),
	}), nil
}

func (a *Adapter) Write(_ context.Context, locator string, doc *core.Document) (*adapter.RemoteMetadata, error) {
	abs, err := a.AbsPath(locator)
	if err != nil {
		return nil, a.wrap("write", locator, err)
	}

	if err := utils.WriteFileAtomic(abs, []byte(doc.Content), filePerm); err != nil {
		return nil, a.wrap("write", locator, err)
	}

	return &adapter.RemoteMetadata{
		ID:          locator,
		Title:       titleFromPath(locator),
		Fingerprint: doc.ContentHash,
		ModifiedAt:  time.Now(),
	}, nil
}

func (a *Adapter) Create(_ context.Context, parentLocator, title string, doc *core.Document) (string, error) {
	parentAbs, err := a.AbsPath(parentLocator)
	if err != nil {
		return "", a.wrap("create", parentLocator, err)
	}
	if parentLocator != "." && !utils.DirExists(parentAbs) {
		return "", a.wrap("create", parentLocator, fmt.Errorf("parent does not exist"))
	}

	locator := filepath.Join(parentLocator, title)
	abs := filepath.Join(parentAbs, title)

	if doc == nil {
		// directory node
		if err := utils.EnsureDir(abs); err != nil {
			return "", a.wrap("create", locator, err)
		}
		return locator, nil
	}

	if err := utils.WriteFileAtomic(abs, []byte(doc.Content), filePerm); err != nil {
		return "", a.wrap("create", locator, err)
	}
	return locator, nil
}

// Delete moves the file into the trash directory instead of unlinking it.
func (a *Adapter) Delete(_ context.Context, locator string) error {
	abs, err := a.AbsPath(locator)
	if err != nil {
		return a.wrap("delete", locator, err)
	}
	if !utils.FileExists(abs) && !utils.DirExists(abs) {
		return a.wrap("delete", locator, core.ErrNotFound)
	}

	trashed := filepath.Join(a.root, TrashDir, locator)
	if err := utils.EnsureParent(trashed); err != nil {
		return a.wrap("delete", locator, err)
	}
	if utils.FileExists(trashed) {
		// keep the previous trashed copy, suffix with a timestamp
		trashed = fmt.Sprintf("%s.%s", trashed, time.Now().Format("20060102150405"))
	}
	if err := os.Rename(abs, trashed); err != nil {
		return a.wrap("delete", locator, err)
	}
	return nil
}

func (a *Adapter) GetMetadata(ctx context.Context, locator string) (*adapter.RemoteMetadata, error) {
	abs, err := a.AbsPath(locator)
	if err != nil {
		return nil, a.wrap("metadata", locator, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, a.wrap("metadata", locator, core.ErrNotFound)
		}
		return nil, a.wrap("metadata", locator, err)
	}

	// the local fingerprint is the content hash, there is no cheaper
	// stable digest on a plain filesystem
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, a.wrap("metadata", locator, err)
	}

	return &adapter.RemoteMetadata{
		ID:          locator,
		Title:       titleFromPath(locator),
		Fingerprint: core.HashContent(string(data)),
		ModifiedAt:  info.ModTime(),
	}, nil
}

func (a *Adapter) Exists(_ context.Context, locator string) (bool, error) {
	abs, err := a.AbsPath(locator)
	if err != nil {
		return false, a.wrap("exists", locator, err)
	}
	return utils.FileExists(abs) || utils.DirExists(abs), nil
}

func (a *Adapter) wrap(op, locator string, err error) error {
	return &core.AdapterError{Platform: a.Platform(), Op: op, Locator: locator, Err: err}
}

func titleFromPath(locator string) string {
	base := filepath.Base(locator)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
