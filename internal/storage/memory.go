package storage

import (
	"context"
	"slices"
	"sync"
	"time"
)

type memoryStore struct {
	mu     sync.Mutex
	jobs   map[int64]Job
	ttl    time.Duration
	now    func() time.Time
	closed bool
}

// NewMemory returns a process-local store. The claim is a single critical
// section, so it is only atomic within one process.
func NewMemory(claimTTL time.Duration) Store {
	return &memoryStore{jobs: map[int64]Job{}, ttl: claimTTL, now: time.Now}
}

func (s *memoryStore) TryClaim(ctx context.Context, botID int64) (Claim, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Claim{}, false, unavailable("claim", errClosed)
	}
	now := s.now()
	if cur, ok := s.jobs[botID]; ok && !staleClaim(cur, s.ttl, now) {
		return Claim{}, false, nil
	}
	c := newClaim(botID, now)
	j := c.Job()
	j.State, j.UpdatedAt = StateClaimed, now
	s.jobs[botID] = j
	return c, true, nil
}

func (s *memoryStore) Persist(ctx context.Context, job Job) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return unavailable("persist", errClosed)
	}
	cur, ok := s.jobs[job.BotID]
	if !ok || cur.State != StateClaimed || cur.ClaimID != job.ClaimID {
		return ErrNotClaimed
	}
	job.State = StatePending
	job.ClaimedAt = cur.ClaimedAt
	job.UpdatedAt = s.now()
	job.Payload = slices.Clone(job.Payload)
	job.Targets = slices.Clone(job.Targets)
	s.jobs[job.BotID] = job
	return nil
}

func (s *memoryStore) Get(ctx context.Context, botID int64) (Job, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Job{}, unavailable("get", errClosed)
	}
	j, ok := s.jobs[botID]
	if !ok {
		return Job{}, ErrNotFound
	}
	j.Payload = slices.Clone(j.Payload)
	j.Targets = slices.Clone(j.Targets)
	return j, nil
}

func (s *memoryStore) Stats(ctx context.Context) (Stats, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Stats{}, unavailable("stats", errClosed)
	}
	var st Stats
	for _, j := range s.jobs {
		switch j.State {
		case StateClaimed:
			st.Claimed++
		case StatePending:
			st.Pending++
		}
	}
	return st, nil
}

func (s *memoryStore) Ping(ctx context.Context) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return unavailable("ping", errClosed)
	}
	return nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
