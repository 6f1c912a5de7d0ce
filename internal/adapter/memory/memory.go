// Package memory is an in-process adapter used by tests and by dry-run
// probing. It mimics a hierarchical remote store: documents live under
// parent containers and deletes archive instead of removing.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openmined/portals/internal/adapter"
	"github.com/openmined/portals/internal/core"
)

type node struct {
	doc      *core.Document
	parent   string
	title    string
	modified time.Time
	archived bool
	isDir    bool
}

type Adapter struct {
	mu    sync.RWMutex
	nodes map[string]*node

	// failure injection for tests
	ReadErr  error
	WriteErr error

	writeCount int
}

var _ adapter.Adapter = (*Adapter)(nil)

func New() *Adapter {
	return &Adapter{
		nodes: map[string]*node{
			// the root container always exists
			"root": {isDir: true, title: "root", modified: time.Now()},
		},
	}
}

func (a *Adapter) Platform() string { return "memory" }

// Seed inserts a document under root with a fixed locator. Test helper.
func (a *Adapter) Seed(locator, content string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nodes[locator] = &node{
		doc:      core.NewDocument(content, core.DocumentMeta{Title: locator}),
		parent:   "root",
		title:    locator,
		modified: time.Now(),
	}
}

// WriteCount reports how many Write calls succeeded. Test helper.
func (a *Adapter) WriteCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.writeCount
}

func (a *Adapter) Read(_ context.Context, locator string) (*core.Document, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.ReadErr != nil {
		return nil, a.wrap("read", locator, a.ReadErr)
	}

	n, ok := a.nodes[locator]
	if !ok || n.archived || n.doc == nil {
		return nil, a.wrap("read", locator, core.ErrNotFound)
	}
	// fresh instance on every read
	return core.NewDocument(n.doc.Content, n.doc.Meta), nil
}

func (a *Adapter) Write(_ context.Context, locator string, doc *core.Document) (*adapter.RemoteMetadata, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.WriteErr != nil {
		return nil, a.wrap("write", locator, a.WriteErr)
	}

	n, ok := a.nodes[locator]
	if !ok {
		n = &node{parent: "root", title: locator}
		a.nodes[locator] = n
	}
	n.doc = core.NewDocument(doc.Content, doc.Meta)
	n.modified = time.Now()
	n.archived = false
	a.writeCount++

	return a.metadataLocked(locator, n), nil
}

func (a *Adapter) Create(_ context.Context, parentLocator, title string, doc *core.Document) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	parent, ok := a.nodes[parentLocator]
	if !ok || parent.archived {
		return "", a.wrap("create", parentLocator, fmt.Errorf("parent does not exist"))
	}

	locator := uuid.NewString()
	n := &node{parent: parentLocator, title: title, modified: time.Now()}
	if doc != nil {
		n.doc = core.NewDocument(doc.Content, doc.Meta)
	} else {
		n.isDir = true
	}
	a.nodes[locator] = n
	return locator, nil
}

// Delete archives the node, it stays addressable for history.
func (a *Adapter) Delete(_ context.Context, locator string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	n, ok := a.nodes[locator]
	if !ok {
		return a.wrap("delete", locator, core.ErrNotFound)
	}
	n.archived = true
	n.modified = time.Now()
	return nil
}

func (a *Adapter) GetMetadata(_ context.Context, locator string) (*adapter.RemoteMetadata, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	n, ok := a.nodes[locator]
	if !ok {
		return nil, a.wrap("metadata", locator, core.ErrNotFound)
	}
	return a.metadataLocked(locator, n), nil
}

func (a *Adapter) Exists(_ context.Context, locator string) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	n, ok := a.nodes[locator]
	return ok && !n.archived, nil
}

// Title returns the stored title for a locator. Test helper.
func (a *Adapter) Title(locator string) string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if n, ok := a.nodes[locator]; ok {
		return n.title
	}
	return ""
}

// Rename updates the stored title for a locator. Used by hierarchy plans.
func (a *Adapter) Rename(locator, title string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	n, ok := a.nodes[locator]
	if !ok {
		return a.wrap("rename", locator, core.ErrNotFound)
	}
	n.title = title
	n.modified = time.Now()
	return nil
}

// Archived reports whether a locator has been archived. Test helper.
func (a *Adapter) Archived(locator string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	n, ok := a.nodes[locator]
	return ok && n.archived
}

func (a *Adapter) metadataLocked(locator string, n *node) *adapter.RemoteMetadata {
	fingerprint := ""
	if n.doc != nil {
		fingerprint = n.doc.ContentHash
	}
	return &adapter.RemoteMetadata{
		ID:          locator,
		Title:       n.title,
		Fingerprint: fingerprint,
		ModifiedAt:  n.modified,
		Archived:    n.archived,
	}
}

func (a *Adapter) wrap(op, locator string, err error) error {
	return &core.AdapterError{Platform: a.Platform(), Op: op, Locator: locator, Err: err}
}
