package domain

import (
	"context"
	"time"
)

// ArchiveBucket is the cold storage that monthly archive files land in. Keys
// are write-once: an existing key is never overwritten.
type ArchiveBucket interface {
	Exists(ctx context.Context, key string) (bool, error)
	Upload(ctx context.Context, key string, body []byte) error
}

// Archiver moves old rows to cold storage.
type Archiver interface {
	ArchiveRuns(ctx context.Context, before time.Time) (int64, error)
	ArchiveCycles(ctx context.Context, before time.Time) (int64, error)
}
