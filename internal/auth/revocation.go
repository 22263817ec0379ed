package auth

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// RevocationStore tracks tokens rejected before their natural expiry.
type RevocationStore interface {
	Revoke(ctx context.Context, token string) error
	IsRevoked(ctx context.Context, token string) (bool, error)
}

// MemoryRevocationStore is a process-local revocation set. It starts empty,
// grows on logout and shrinks when expired entries are pruned. Nothing
// survives a restart.
type MemoryRevocationStore struct {
	codec   *TokenCodec
	tokens  *xsync.MapOf[string, time.Time]
	now     func() time.Time
	every   time.Duration
	lastRun atomic.Int64
}

type RevocationOption func(*MemoryRevocationStore)

// WithPruneInterval throttles the prune pass triggered by Revoke. Zero prunes
// on every revoke.
func WithPruneInterval(d time.Duration) RevocationOption {
	return func(s *MemoryRevocationStore) {
		if d >= 0 {
			s.every = d
		}
	}
}

func WithRevocationClock(now func() time.Time) RevocationOption {
	return func(s *MemoryRevocationStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewMemoryRevocationStore(codec *TokenCodec, opts ...RevocationOption) *MemoryRevocationStore {
	s := &MemoryRevocationStore{
		codec:  codec,
		tokens: xsync.NewMapOf[string, time.Time](),
		now:    time.Now,
		every:  time.Minute,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Revoke adds token to the set. Malformed tokens are stored with a zero expiry
// and dropped by the next prune.
func (s *MemoryRevocationStore) Revoke(_ context.Context, token string) error {
	if token == "" {
		return nil
	}
	exp, err := s.codec.ExpiresAt(token)
	if err != nil {
		exp = time.Time{}
	}
	s.tokens.Store(token, exp)
	s.maybePrune()
	return nil
}

func (s *MemoryRevocationStore) IsRevoked(_ context.Context, token string) (bool, error) {
	_, ok := s.tokens.Load(token)
	return ok, nil
}

// Size reports the number of tracked tokens.
func (s *MemoryRevocationStore) Size() int {
	return s.tokens.Size()
}

// Prune removes entries whose expiry has passed and returns how many were dropped.
func (s *MemoryRevocationStore) Prune() int {
	now := s.now()
	removed := 0
	s.tokens.Range(func(token string, exp time.Time) bool {
		if exp.IsZero() || !now.Before(exp) {
			s.tokens.Delete(token)
			removed++
		}
		return true
	})
	s.lastRun.Store(now.UnixNano())
	return removed
}

func (s *MemoryRevocationStore) maybePrune() {
	now := s.now().UnixNano()
	last := s.lastRun.Load()
	if s.every > 0 && now-last < int64(s.every) {
		return
	}
	if !s.lastRun.CompareAndSwap(last, now) {
		return
	}
	s.Prune()
}

// Run prunes on a fixed interval until ctx is cancelled.
func (s *MemoryRevocationStore) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Prune()
		}
	}
}
