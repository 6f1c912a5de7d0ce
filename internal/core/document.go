package core

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// DocumentMeta holds platform-agnostic metadata for a document.
type DocumentMeta struct {
	Title      string    `json:"title"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
	Tags       []string  `json:"tags,omitempty"`
}

// Document is the common in-memory representation of one synchronizable unit.
// All adapters convert to and from this format. Treat it as an immutable
// value; adapters produce a fresh instance on every read.
type Document struct {
	Content     string       `json:"content"`
	Meta        DocumentMeta `json:"metadata"`
	ContentHash string       `json:"content_hash"`
}

// NewDocument builds a document and computes its content hash.
func NewDocument(content string, meta DocumentMeta) *Document {
	return &Document{
		Content:     content,
		Meta:        meta,
		ContentHash: HashContent(content),
	}
}

// HashContent returns the hex-encoded SHA-256 digest of content.
// It is the fingerprint used everywhere a hash triad is compared.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
