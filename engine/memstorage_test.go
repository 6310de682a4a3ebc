package engine

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/Muaazbinsaeed/ai-social-support-app-sub000/store"
)

// memStorage is an in-process DocumentStorage test double.
type memStorage struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStorage() *memStorage {
	return &memStorage{data: make(map[string][]byte)}
}

func (s *memStorage) Put(ctx context.Context, data io.Reader, meta store.DocumentMetadata) (string, error) {
	b, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	handle := uuid.NewString()
	s.mu.Lock()
	s.data[handle] = b
	s.mu.Unlock()
	return handle, nil
}

func (s *memStorage) Open(ctx context.Context, storageHandle string) (io.ReadCloser, error) {
	s.mu.Lock()
	b := s.data[storageHandle]
	s.mu.Unlock()
	return io.NopCloser(bytes.NewReader(b)), nil
}
