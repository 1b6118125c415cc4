package persist

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rdtc8822/battleshipd/internal/store"
	"golang.org/x/crypto/bcrypt"
)

// UserStore is the Postgres-backed implementation of store.UserStore
// (spec.md C8), adapted from the teacher's AccountRepo: same pgx pool,
// same QueryRow/Exec shape, same bcrypt-at-rest hashing, generalized from
// a login-account table to the core's name/uid/password/stats contract.
type UserStore struct {
	db *DB
}

// NewUserStore wraps db as a store.UserStore.
func NewUserStore(db *DB) *UserStore {
	return &UserStore{db: db}
}

var _ store.UserStore = (*UserStore)(nil)

func (s *UserStore) Find(ctx context.Context, name string) (*store.UserRecord, error) {
	rec := &store.UserRecord{}
	err := s.db.Pool.QueryRow(ctx,
		`SELECT user_name, password, last_login_id FROM users WHERE lower(user_name) = lower($1)`,
		name,
	).Scan(&rec.Name, &rec.PasswordHash, &rec.LastLoginID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Add registers a brand-new user, hashing the client-supplied plaintext
// password with bcrypt before it ever touches the database (spec.md §9
// REDESIGN FLAG: the reference compares passwords verbatim; this store
// hashes at rest — see DESIGN.md OQ-1).
func (s *UserStore) Add(ctx context.Context, name, uid, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	_, err = s.db.Pool.Exec(ctx,
		`INSERT INTO users (user_name, password, last_login_id, register_date)
		 VALUES ($1, $2, $3, NOW())`,
		name, string(hash), uid,
	)
	return err
}

func (s *UserStore) ValidatePassword(ctx context.Context, name, password string) (bool, error) {
	var hash string
	err := s.db.Pool.QueryRow(ctx,
		`SELECT password FROM users WHERE lower(user_name) = lower($1)`, name,
	).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil, nil
}

func (s *UserStore) UpdateLogin(ctx context.Context, name, uid string) error {
	_, err := s.db.Pool.Exec(ctx,
		`UPDATE users SET last_login_id = $2 WHERE lower(user_name) = lower($1)`,
		name, uid,
	)
	return err
}

func (s *UserStore) Blacklisted(ctx context.Context, name, uid string) (bool, error) {
	var count int
	err := s.db.Pool.QueryRow(ctx,
		`SELECT count(*) FROM blacklist WHERE lower(user_name) = lower($1) OR uid = $2`,
		name, uid,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *UserStore) BlacklistAdd(ctx context.Context, name, uid string) error {
	_, err := s.db.Pool.Exec(ctx,
		`INSERT INTO blacklist (user_name, uid) VALUES ($1, $2)
		 ON CONFLICT (user_name) DO UPDATE SET uid = EXCLUDED.uid`,
		name, uid,
	)
	return err
}

func (s *UserStore) BlacklistRemove(ctx context.Context, name string) error {
	_, err := s.db.Pool.Exec(ctx, `DELETE FROM blacklist WHERE lower(user_name) = lower($1)`, name)
	return err
}

func (s *UserStore) Stats(ctx context.Context, name string) (store.Stats, error) {
	var st store.Stats
	err := s.db.Pool.QueryRow(ctx,
		`SELECT wins, defeats, matches, longest_match_ms, hits, misses
		 FROM user_stats WHERE lower(user_name) = lower($1)`,
		name,
	).Scan(&st.Wins, &st.Defeats, &st.Matches, &st.LongestMatchMS, &st.Hits, &st.Misses)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Stats{}, nil
	}
	return st, err
}

// RecordMatchResult upserts stats for every participant of a finished
// session (spec.md SUPPLEMENTED FEATURES "per-player statistics").
func (s *UserStore) RecordMatchResult(ctx context.Context, result store.MatchResult) error {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	bump := func(name string, won bool) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO user_stats (user_name, wins, defeats, matches, longest_match_ms, hits, misses)
			VALUES ($1, $2, $3, 1, $4, $5, $6)
			ON CONFLICT (user_name) DO UPDATE SET
				wins             = user_stats.wins + EXCLUDED.wins,
				defeats          = user_stats.defeats + EXCLUDED.defeats,
				matches          = user_stats.matches + 1,
				longest_match_ms = GREATEST(user_stats.longest_match_ms, EXCLUDED.longest_match_ms),
				hits             = user_stats.hits + EXCLUDED.hits,
				misses           = user_stats.misses + EXCLUDED.misses
		`,
			name, boolToInt(won), boolToInt(!won), result.DurationMS,
			result.HitsByPlayer[name], result.MissByPlayer[name],
		)
		return err
	}

	if err := bump(result.Winner, true); err != nil {
		return err
	}
	for _, loser := range result.Losers {
		if err := bump(loser, false); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
