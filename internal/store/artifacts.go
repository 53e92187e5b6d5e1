package store

import (
	"database/sql"
	"errors"
	"time"
)

// ChartArtifact is a cached rendered visualization artifact, keyed by chart
// kind and a hash of the exact inputs that produced it. Only presentation
// output is memoized here: a hash mismatch is always a miss, so numeric
// results are never reused across differing inputs.
type ChartArtifact struct {
	Kind        string
	ParamsHash  string
	ContentType string
	Content     []byte
	CreatedAt   int64 // unix nanos
}

// ArtifactStore caches rendered chart artifacts.
type ArtifactStore struct {
	db *sql.DB
}

// NewArtifactStore creates an ArtifactStore backed by the given database.
func NewArtifactStore(s *Store) *ArtifactStore {
	return &ArtifactStore{db: s.DB}
}

// Get returns the cached artifact for (kind, paramsHash), or nil on a miss.
func (s *ArtifactStore) Get(kind, paramsHash string) (*ChartArtifact, error) {
	var a ChartArtifact
	err := s.db.QueryRow(`
		SELECT kind, params_hash, content_type, content, created_at
		FROM chart_artifacts WHERE kind = ? AND params_hash = ?`,
		kind, paramsHash,
	).Scan(&a.Kind, &a.ParamsHash, &a.ContentType, &a.Content, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Put stores or replaces the cached artifact for (kind, paramsHash).
func (s *ArtifactStore) Put(a *ChartArtifact) error {
	if a.CreatedAt == 0 {
		a.CreatedAt = time.Now().UnixNano()
	}
	return retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO chart_artifacts (kind, params_hash, content_type, content, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (kind, params_hash) DO UPDATE SET
				content_type = excluded.content_type,
				content = excluded.content,
				created_at = excluded.created_at`,
			a.Kind, a.ParamsHash, a.ContentType, a.Content, a.CreatedAt,
		)
		return err
	})
}
