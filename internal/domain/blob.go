package domain

import (
	"context"
	"io"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// RaceArchiver writes settled races to cold storage.
type RaceArchiver interface {
	ArchiveRace(ctx context.Context, race Race, leaderboard []LeaderboardEntry) (string, error)
}
