package fallback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/googleapis/gax-go/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/hearkenlabs/hearken/pkg/audio"
)

// Schema is the DDL for the sample feature index. Execute it via
// [PGIndex.Migrate] or apply it manually during deployment. It requires
// the pgvector extension.
var Schema = fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS hearken_samples (
    fingerprint TEXT PRIMARY KEY,
    text        TEXT NOT NULL,
    embedding   vector(%d) NOT NULL,
    added_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
`, FeatureDim)

// DB is the database interface used by [PGIndex]. Both *pgxpool.Pool and
// *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// indexAttempts bounds the retry loop around index statements; transient
// connection failures back off exponentially between attempts.
const indexAttempts = 3

// PGIndex mirrors sample feature vectors into Postgres so nearest-neighbor
// lookups run server-side instead of scanning in memory.
type PGIndex struct {
	db DB
}

// NewPGIndex wraps an open connection or pool. The caller runs
// [PGIndex.Migrate] before issuing queries.
func NewPGIndex(db DB) *PGIndex {
	return &PGIndex{db: db}
}

// Migrate executes the [Schema] DDL, creating the sample table if it does
// not already exist.
func (x *PGIndex) Migrate(ctx context.Context) error {
	err := x.withRetry(ctx, func() error {
		_, err := x.db.Exec(ctx, Schema)
		return err
	})
	if err != nil {
		return fmt.Errorf("fallback: migrate sample index: %w", err)
	}
	return nil
}

// Add upserts one sample's feature vector, keyed by the clip fingerprint.
func (x *PGIndex) Add(ctx context.Context, fp audio.Fingerprint, text string, features []float64) error {
	const query = `
		INSERT INTO hearken_samples (fingerprint, text, embedding)
		VALUES ($1, $2, $3)
		ON CONFLICT (fingerprint) DO UPDATE SET
			text = EXCLUDED.text,
			embedding = EXCLUDED.embedding`

	err := x.withRetry(ctx, func() error {
		_, err := x.db.Exec(ctx, query, fp.String(), text, pgvector.NewVector(toFloat32(features)))
		return err
	})
	if err != nil {
		return fmt.Errorf("fallback: index sample %s: %w", fp.Prefix(8), err)
	}
	return nil
}

// Nearest returns the stored sample closest to the query vector and its
// cosine similarity. An empty index yields ("", 0, nil).
func (x *PGIndex) Nearest(ctx context.Context, features []float64) (text string, similarity float64, err error) {
	const query = `
		SELECT text, embedding <=> $1 AS distance
		FROM hearken_samples
		ORDER BY distance
		LIMIT 1`

	var distance float64
	err = x.withRetry(ctx, func() error {
		return x.db.QueryRow(ctx, query, pgvector.NewVector(toFloat32(features))).
			Scan(&text, &distance)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", 0, nil
		}
		return "", 0, fmt.Errorf("fallback: nearest sample: %w", err)
	}
	return text, 1 - distance, nil
}

// withRetry runs op up to indexAttempts times with exponential backoff.
// pgx.ErrNoRows is a result, not a failure, and returns immediately.
func (x *PGIndex) withRetry(ctx context.Context, op func() error) error {
	bo := gax.Backoff{
		Initial:    100 * time.Millisecond,
		Max:        time.Second,
		Multiplier: 2,
	}
	var err error
	for attempt := 0; attempt < indexAttempts; attempt++ {
		if err = op(); err == nil || errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		if attempt < indexAttempts-1 {
			if serr := gax.Sleep(ctx, bo.Pause()); serr != nil {
				return serr
			}
		}
	}
	return err
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}
