package store

import (
	"context"
	"time"
)

// PutDedup stores key until the given time, replacing an earlier expiry.
func (s *Store) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	_, err := s.exec(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until = excluded.until`,
		key, until.UnixMilli(),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_ = s.pruneExpired(pctx)
		cancel()
	}
	return err
}

// GetDedup returns the expiry of key; ok is false if unknown or expired.
func (s *Store) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	var until int64
	err := s.queryRow(ctx, `SELECT until FROM dedup WHERE key = ?`, key).Scan(&until)
	if err = notFound(err); err == ErrNotFound {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	t := time.UnixMilli(until)
	if !t.After(s.now()) {
		return t, false, nil
	}
	return t, true, nil
}

func (s *Store) pruneExpired(ctx context.Context) error {
	_, err := s.exec(ctx, `DELETE FROM dedup WHERE until < ?`, s.now().UnixMilli())
	return err
}
