// Package store defines the UserStore abstraction (spec.md C8) that the
// core consumes for persistent users, blacklist membership, and per-player
// statistics. Concrete backings (internal/persist) implement this
// interface; the core never imports a storage technology directly.
package store

import "context"

// UserRecord is a persisted user account.
type UserRecord struct {
	Name         string
	PasswordHash string
	LastLoginID  string
}

// Stats holds the per-player statistics spec.md §4.8/§6 reference as the
// "Persisted state": wins, defeats, matches, longest match, hits, misses.
type Stats struct {
	Wins           int64
	Defeats        int64
	Matches        int64
	LongestMatchMS int64
	Hits           int64
	Misses         int64
}

// UserStore is the persistence contract required by the core (spec.md
// §4.8). Implementations must be atomic with respect to single-caller
// semantics; the core never issues concurrent calls for the same name.
type UserStore interface {
	// Find returns the stored record for name, or nil if no such user
	// has ever registered.
	Find(ctx context.Context, name string) (*UserRecord, error)

	// Add registers a brand-new user with the given client-supplied uid
	// and password (the core hands the plaintext password exactly as
	// received on the wire; the implementation is responsible for at-rest
	// hashing — see DESIGN.md OQ-1).
	Add(ctx context.Context, name, uid, password string) error

	// ValidatePassword reports whether password matches the stored
	// credential for the named user.
	ValidatePassword(ctx context.Context, name, password string) (bool, error)

	// UpdateLogin records uid as the most recently logged-in client
	// identifier for name. A user is "logged" (spec.md §4.4) iff
	// Find(name).LastLoginID == uid.
	UpdateLogin(ctx context.Context, name, uid string) error

	// Blacklisted reports whether name or uid is on the blacklist.
	Blacklisted(ctx context.Context, name, uid string) (bool, error)

	// BlacklistAdd and BlacklistRemove manage blacklist membership,
	// consumed by the admin surface outside this core (spec.md §1) but
	// required here so AuthFSM and the PING re-check (spec.md §4.4) have
	// something to query.
	BlacklistAdd(ctx context.Context, name, uid string) error
	BlacklistRemove(ctx context.Context, name string) error

	// Stats returns the current statistics for name, or a zero Stats if
	// none have been recorded yet.
	Stats(ctx context.Context, name string) (Stats, error)

	// RecordMatchResult updates stats for every participant of a
	// finished session: winner's Wins, every other player's Defeats,
	// everyone's Matches/LongestMatchMS/Hits/Misses.
	RecordMatchResult(ctx context.Context, result MatchResult) error
}

// MatchResult summarizes one finished session for stats bookkeeping.
type MatchResult struct {
	Winner        string
	Losers        []string
	DurationMS    int64
	HitsByPlayer  map[string]int64
	MissByPlayer  map[string]int64
}
