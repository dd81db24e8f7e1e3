// Package storage persists serialized snapshot payloads outside the database.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by Get when no object exists at a path.
	ErrNotFound = errors.New("object not found")
	// ErrChecksumMismatch is returned by Verify when the bytes do not hash to the expected value.
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// ErrInvalidPath is returned for paths that escape the adapter's namespace.
	ErrInvalidPath = errors.New("invalid object path")
)

// Object describes a blob after it has been written.
type Object struct {
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// Adapter stores opaque blobs. It knows nothing about snapshot semantics.
type Adapter interface {
	// Put writes data and reports where it went, its size and SHA-256.
	Put(ctx context.Context, workspaceID, snapshotID string, data []byte) (Object, error)
	Get(ctx context.Context, path string) ([]byte, error)
	// Delete removes the object at path. A missing object is not an error.
	Delete(ctx context.Context, path string) error
}

// Checksum returns the lowercase hex SHA-256 of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Verify checks data against a checksum produced by Checksum.
func Verify(data []byte, checksum string) error {
	if got := Checksum(data); got != checksum {
		return fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, checksum, got)
	}
	return nil
}

// objectKey is the relative location of a snapshot blob, shared by every backend.
func objectKey(workspaceID, snapshotID string) (string, error) {
	for _, part := range []string{workspaceID, snapshotID} {
		if part == "" || part == "." || part == ".." || containsSeparator(part) {
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, part)
		}
	}
	return workspaceID + "/" + snapshotID + ".json", nil
}

func containsSeparator(s string) bool {
	for _, r := range s {
		if r == '/' || r == '\\' {
			return true
		}
	}
	return false
}
