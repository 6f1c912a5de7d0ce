// Package adapter defines the contract every document platform implements.
// The sync core depends only on this interface, never on a concrete platform.
package adapter

import (
	"context"
	"time"

	"github.com/openmined/portals/internal/core"
)

// RemoteMetadata is a lightweight description of a remote document, cheap
// enough for the poller to fetch on every tick.
type RemoteMetadata struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Fingerprint string    `json:"fingerprint"`
	ModifiedAt  time.Time `json:"modified_at"`
	Archived    bool      `json:"archived"`
}

// Adapter is the capability set required of every platform.
//
// Implementations must be safe for concurrent use; the sync engine and the
// poller call into the same adapter from different goroutines.
type Adapter interface {
	// Read returns the document at locator. Fails with core.ErrNotFound
	// (wrapped in an AdapterError) if the locator no longer exists.
	Read(ctx context.Context, locator string) (*core.Document, error)

	// Write creates or overwrites content at an existing locator.
	Write(ctx context.Context, locator string, doc *core.Document) (*RemoteMetadata, error)

	// Create makes a new node as a child of parentLocator and returns its
	// locator. Fails if the parent does not exist remotely.
	Create(ctx context.Context, parentLocator, title string, doc *core.Document) (string, error)

	// Delete archives the node non-destructively where the platform
	// supports it.
	Delete(ctx context.Context, locator string) error

	// GetMetadata fetches title and last-modified fingerprint without the
	// full content. Used by the remote poller.
	GetMetadata(ctx context.Context, locator string) (*RemoteMetadata, error)

	// Exists reports whether the locator currently resolves.
	Exists(ctx context.Context, locator string) (bool, error)

	// Platform names the backing platform, e.g. "local" or "httpdoc".
	Platform() string
}
