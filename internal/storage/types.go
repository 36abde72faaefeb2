package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUnavailable wraps every backend failure (network, closed store, bad rows).
	ErrUnavailable = errors.New("job store unavailable")
	// ErrNotClaimed is returned by Persist when the bot has no claim, or when
	// the presented claim was taken over by a newer one.
	ErrNotClaimed = errors.New("job not claimed")
	ErrNotFound   = errors.New("job not found")

	errClosed = errors.New("store closed")
)

type JobState string

const (
	// StateClaimed marks a reserved slot whose record has not been written yet.
	StateClaimed JobState = "claimed"
	// StatePending marks a complete job waiting for the fan-out worker.
	StatePending JobState = "pending"
)

// Job is the stored broadcast record.
// Keep it compact and schema-stable: the fan-out worker decodes the same JSON.
type Job struct {
	BotID     int64           `json:"bot_id"`
	State     JobState        `json:"state"`
	ClaimID   string          `json:"claim_id"`
	Token     string          `json:"token,omitempty"`
	Method    string          `json:"method,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Targets   []int64         `json:"targets,omitempty"`
	ClaimedAt time.Time       `json:"claimed_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Claim is one won reservation. Only the newest claim of a bot can be
// persisted; a claim taken over after its TTL is fenced off.
type Claim struct {
	BotID     int64
	ID        string
	ClaimedAt time.Time
}

// Job returns the record Persist expects for this claim.
func (c Claim) Job() Job {
	return Job{BotID: c.BotID, ClaimID: c.ID, ClaimedAt: c.ClaimedAt}
}

type Stats struct {
	Claimed int `json:"claimed"`
	Pending int `json:"pending"`
}

// Store is the job persistence API used by the intake pipeline.
type Store interface {
	// TryClaim reserves botID if no job exists. It reports true only when this
	// call made the reservation.
	TryClaim(ctx context.Context, botID int64) (Claim, bool, error)
	// Persist writes the full record for the claim named by job.ClaimID. It
	// fails with ErrNotClaimed unless that claim is still the current one.
	Persist(ctx context.Context, job Job) error
	Get(ctx context.Context, botID int64) (Job, error)
	Stats(ctx context.Context) (Stats, error)
	Ping(ctx context.Context) error
	Close() error
}

// Config configures the job store.
//
// Driver values:
//   - "memory" (default when empty)
//   - "redis": Redis.Addr required
//   - "sqlite": Path required
//   - "postgres": DSN required
type Config struct {
	Driver string
	Path   string
	DSN    string
	Redis  RedisConfig

	// ClaimTTL lets a claim that was never persisted be taken over after this
	// long. 0 keeps claims forever.
	ClaimTTL    time.Duration
	BusyTimeout time.Duration // sqlite only; 0 means default
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

func newClaim(botID int64, now time.Time) Claim {
	return Claim{BotID: botID, ID: uuid.NewString(), ClaimedAt: now}
}

func staleClaim(j Job, ttl time.Duration, now time.Time) bool {
	return ttl > 0 && j.State == StateClaimed && now.Sub(j.ClaimedAt) >= ttl
}
