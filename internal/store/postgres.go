package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// --- API Keys ---

type APIKey struct {
	ID        int64      `json:"id"`
	Key       string     `json:"key"`
	Name      string     `json:"name"`
	Email     string     `json:"email,omitempty"`
	Active    bool       `json:"active"`
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

func (s *Store) CreateAPIKey(ctx context.Context, name, email string) (*APIKey, error) {
	var k APIKey
	err := s.pool.QueryRow(ctx, `
		INSERT INTO api_keys (key, name, email)
		VALUES ($1, $2, $3)
		RETURNING id, key, name, email, active, created_at`,
		uuid.New(), name, email).
		Scan(&k.ID, &k.Key, &k.Name, &k.Email, &k.Active, &k.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// GetAPIKey looks up an active key. Returns (nil, nil) for unknown or
// revoked keys so callers can treat both the same way.
func (s *Store) GetAPIKey(ctx context.Context, key string) (*APIKey, error) {
	if _, err := uuid.Parse(key); err != nil {
		return nil, nil
	}

	var k APIKey
	err := s.pool.QueryRow(ctx, `
		SELECT id, key, name, email, active, created_at, revoked_at
		FROM api_keys WHERE key = $1 AND active = true`, key).
		Scan(&k.ID, &k.Key, &k.Name, &k.Email, &k.Active, &k.CreatedAt, &k.RevokedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}

func (s *Store) ListAPIKeys(ctx context.Context) ([]APIKey, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, key, name, email, active, created_at, revoked_at
		FROM api_keys ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []APIKey
	for rows.Next() {
		var k APIKey
		if err := rows.Scan(&k.ID, &k.Key, &k.Name, &k.Email, &k.Active, &k.CreatedAt, &k.RevokedAt); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *Store) RevokeAPIKey(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE api_keys SET active = false, revoked_at = now()
		WHERE id = $1 AND active = true`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("api key %d not found or already revoked", id)
	}
	return nil
}

// --- Request Logs ---

type RequestLog struct {
	APIKeyID   *int64
	Method     string
	Path       string
	StatusCode int
	DurationMS float64
	ClientIP   string
}

func (s *Store) LogRequest(ctx context.Context, l *RequestLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO request_logs (api_key_id, method, path, status_code, duration_ms, client_ip)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		l.APIKeyID, l.Method, l.Path, l.StatusCode, l.DurationMS, l.ClientIP)
	return err
}

// --- Usage Stats ---

// KeyUsage aggregates request counts per key for the admin stats view.
type KeyUsage struct {
	APIKeyID   int64   `json:"api_key_id"`
	Name       string  `json:"name"`
	Requests   int64   `json:"requests"`
	ErrorCount int64   `json:"errors"`
	AvgMS      float64 `json:"avg_duration_ms"`
}

func (s *Store) UsageByKey(ctx context.Context, window time.Duration) ([]KeyUsage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT k.id, k.name, COUNT(*), COUNT(*) FILTER (WHERE r.status_code >= 500),
		       COALESCE(AVG(r.duration_ms), 0)
		FROM request_logs r
		JOIN api_keys k ON k.id = r.api_key_id
		WHERE r.created_at > $1
		GROUP BY k.id, k.name
		ORDER BY COUNT(*) DESC`, time.Now().Add(-window))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var usage []KeyUsage
	for rows.Next() {
		var u KeyUsage
		if err := rows.Scan(&u.APIKeyID, &u.Name, &u.Requests, &u.ErrorCount, &u.AvgMS); err != nil {
			return nil, err
		}
		usage = append(usage, u)
	}
	return usage, rows.Err()
}

// TrafficStats summarizes request volume across all callers.
type TrafficStats struct {
	Requests    int64   `json:"requests"`
	ErrorCount  int64   `json:"errors"`
	AvgMS       float64 `json:"avg_duration_ms"`
	UniqueKeys  int64   `json:"unique_keys"`
	AnonymousOK int64   `json:"anonymous_requests"`
}

func (s *Store) TrafficStatsSince(ctx context.Context, window time.Duration) (*TrafficStats, error) {
	var t TrafficStats
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE status_code >= 500),
		       COALESCE(AVG(duration_ms), 0),
		       COUNT(DISTINCT api_key_id) FILTER (WHERE api_key_id IS NOT NULL),
		       COUNT(*) FILTER (WHERE api_key_id IS NULL)
		FROM request_logs
		WHERE created_at > $1`, time.Now().Add(-window)).
		Scan(&t.Requests, &t.ErrorCount, &t.AvgMS, &t.UniqueKeys, &t.AnonymousOK)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CleanupOldRequestLogs deletes logs older than the given duration.
func (s *Store) CleanupOldRequestLogs(ctx context.Context, maxAge time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM request_logs WHERE created_at < $1`, time.Now().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
