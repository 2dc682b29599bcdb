package memory

import (
	"context"
	"fmt"

	"github.com/nexus-link/durable"
	"github.com/nexus-link/durable/id"
)

func (m *Store) checkBlob(op string) error {
	if m.blobFault == nil {
		return nil
	}
	return m.blobFault(op)
}

// WriteBlob creates or replaces the blob at path.
func (m *Store) WriteBlob(_ context.Context, path string, instanceID id.ID, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkBlob("WriteBlob"); err != nil {
		return err
	}

	m.blobs[path] = blobEntry{instanceID: instanceID.String(), data: append([]byte(nil), data...)}
	return nil
}

// ReadBlob returns the blob at path.
func (m *Store) ReadBlob(_ context.Context, path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkBlob("ReadBlob"); err != nil {
		return nil, err
	}

	b, ok := m.blobs[path]
	if !ok {
		return nil, fmt.Errorf("memory: blob %s: %w", path, durable.ErrSummaryNotFound)
	}
	return append([]byte(nil), b.data...), nil
}

// FindBlob returns the path of the blob of an instance.
func (m *Store) FindBlob(_ context.Context, instanceID id.ID) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkBlob("FindBlob"); err != nil {
		return "", err
	}

	for path, b := range m.blobs {
		if b.instanceID == instanceID.String() {
			return path, nil
		}
	}
	return "", durable.ErrSummaryNotFound
}

// DeleteBlob removes the blob at path.
func (m *Store) DeleteBlob(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkBlob("DeleteBlob"); err != nil {
		return err
	}

	delete(m.blobs, path)
	return nil
}

// BlobCount returns the number of stored blobs.
func (m *Store) BlobCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}
