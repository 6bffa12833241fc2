package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/momentumrace/internal/domain"
)

// RaceArchiver implements domain.RaceArchiver. Each settled race is written
// as two objects partitioned by settlement month:
//
//	races/2026-10/race-123.json              race snapshot and summary
//	races/2026-10/race-123.leaderboard.jsonl one leaderboard row per line
type RaceArchiver struct {
	writer domain.BlobWriter
	now    func() time.Time
}

// NewRaceArchiver creates a RaceArchiver writing through w.
func NewRaceArchiver(w domain.BlobWriter) *RaceArchiver {
	return &RaceArchiver{writer: w, now: time.Now}
}

type raceArchive struct {
	Race        domain.Race `json:"race"`
	Players     int         `json:"players"`
	Winners     int         `json:"winners"`
	TotalPayout uint64      `json:"totalPayout"`
	ArchivedAt  time.Time   `json:"archivedAt"`
}

// ArchiveRace uploads the race and its leaderboard and returns the snapshot
// object path.
func (a *RaceArchiver) ArchiveRace(ctx context.Context, race domain.Race, leaderboard []domain.LeaderboardEntry) (string, error) {
	doc := raceArchive{
		Race:       race,
		Players:    len(leaderboard),
		ArchivedAt: a.now().UTC(),
	}
	for _, e := range leaderboard {
		if e.IsWinner {
			doc.Winners++
		}
		doc.TotalPayout += e.Payout
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal race %d: %w", race.RaceID, err)
	}

	base := archiveBase(race)
	path := base + ".json"
	if err := a.writer.Put(ctx, path, bytes.NewReader(data), "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: archive race %d: %w", race.RaceID, err)
	}

	if len(leaderboard) == 0 {
		return path, nil
	}

	rows, err := marshalJSONL(leaderboard)
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal leaderboard %d: %w", race.RaceID, err)
	}

	lbPath := base + ".leaderboard.jsonl"
	if int64(len(rows)) > minPartSize {
		err = a.writer.PutMultipart(ctx, lbPath, bytes.NewReader(rows), minPartSize)
	} else {
		err = a.writer.Put(ctx, lbPath, bytes.NewReader(rows), "application/x-ndjson")
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: archive leaderboard %d: %w", race.RaceID, err)
	}

	return path, nil
}

// archiveBase builds the key stem for a race, partitioned by the year-month
// of its settlement time.
func archiveBase(race domain.Race) string {
	return fmt.Sprintf("races/%s/race-%d", race.SettleTime().Format("2006-01"), race.RaceID)
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.RaceArchiver = (*RaceArchiver)(nil)
