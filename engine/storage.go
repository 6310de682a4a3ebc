package engine

import (
	"context"
	"io"

	"github.com/Muaazbinsaeed/ai-social-support-app-sub000/store"
)

// DocumentStorage is the Storage collaborator of §6: put(bytes, metadata) ->
// storage_handle, open(storage_handle) -> stream. The core never holds a
// full document in memory (§5) — it always goes through this interface.
type DocumentStorage interface {
	Put(ctx context.Context, data io.Reader, meta store.DocumentMetadata) (string, error)
	Open(ctx context.Context, storageHandle string) (io.ReadCloser, error)
}
