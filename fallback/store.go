package fallback

import (
	"context"

	"github.com/nexus-link/durable/id"
)

// BlobStore is the secondary store for summary blobs.
type BlobStore interface {
	// WriteBlob creates or replaces the blob at path.
	WriteBlob(ctx context.Context, path string, instanceID id.ID, data []byte) error

	// ReadBlob returns the blob at path or durable.ErrSummaryNotFound.
	ReadBlob(ctx context.Context, path string) ([]byte, error)

	// FindBlob returns the path of the blob of an instance or
	// durable.ErrSummaryNotFound.
	FindBlob(ctx context.Context, instanceID id.ID) (string, error)

	// DeleteBlob removes the blob at path. A missing blob is not an error.
	DeleteBlob(ctx context.Context, path string) error
}
