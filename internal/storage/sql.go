package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	logx "broadcastd/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const (
	claimQuery = `INSERT INTO broadcast_jobs(bot_id, state, claim_id, claimed_at, updated_at)
		VALUES(?, 'claimed', ?, ?, ?)
		ON CONFLICT(bot_id) DO NOTHING`

	// Same insert, but a claim older than the cutoff is taken over in the same statement.
	claimStaleQuery = `INSERT INTO broadcast_jobs(bot_id, state, claim_id, claimed_at, updated_at)
		VALUES(?, 'claimed', ?, ?, ?)
		ON CONFLICT(bot_id) DO UPDATE SET
			state = 'claimed', token = '', method = '', payload = '', targets = '',
			claim_id = excluded.claim_id, claimed_at = excluded.claimed_at, updated_at = excluded.updated_at
		WHERE broadcast_jobs.state = 'claimed' AND broadcast_jobs.claimed_at < ?`

	persistQuery = `UPDATE broadcast_jobs
		SET state = 'pending', token = ?, method = ?, payload = ?, targets = ?, updated_at = ?
		WHERE bot_id = ? AND state = 'claimed' AND claim_id = ?`
)

type sqlStore struct {
	db  *sqlx.DB
	log logx.Logger
	ttl time.Duration
	now func() time.Time
}

type jobRow struct {
	BotID     int64  `db:"bot_id"`
	State     string `db:"state"`
	ClaimID   string `db:"claim_id"`
	Token     string `db:"token"`
	Method    string `db:"method"`
	Payload   string `db:"payload"`
	Targets   string `db:"targets"`
	ClaimedAt int64  `db:"claimed_at"`
	UpdatedAt int64  `db:"updated_at"`
}

func openSQL(driver string, cfg Config, log logx.Logger) (Store, error) {
	var (
		db  *sqlx.DB
		err error
	)
	switch driver {
	case "sqlite":
		path := strings.TrimSpace(cfg.Path)
		if path == "" {
			return nil, errors.New("storage.path is required for sqlite driver")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		db, err = sqlx.Open("sqlite", path)
		if err != nil {
			return nil, err
		}
		// SQLite prefers a small number of concurrent writers.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if cfg.BusyTimeout > 0 {
			_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
		}
		_, _ = db.Exec("PRAGMA journal_mode = WAL")
		_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	case "postgres":
		dsn := strings.TrimSpace(cfg.DSN)
		if dsn == "" {
			return nil, errors.New("storage.dsn is required for postgres driver")
		}
		db, err = sqlx.Open("postgres", dsn)
		if err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("unknown sql driver: " + driver)
	}

	st := &sqlStore{db: db, log: log, ttl: cfg.ClaimTTL, now: time.Now}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqlStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

// TryClaim relies on the primary key: the insert either creates the row or
// affects nothing.
func (s *sqlStore) TryClaim(ctx context.Context, botID int64) (Claim, bool, error) {
	now := s.now().UnixMilli()
	c := newClaim(botID, time.UnixMilli(now))
	var (
		res sql.Result
		err error
	)
	if s.ttl > 0 {
		cutoff := now - s.ttl.Milliseconds()
		res, err = s.db.ExecContext(ctx, s.db.Rebind(claimStaleQuery), botID, c.ID, now, now, cutoff)
	} else {
		res, err = s.db.ExecContext(ctx, s.db.Rebind(claimQuery), botID, c.ID, now, now)
	}
	if err != nil {
		return Claim{}, false, unavailable("claim", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Claim{}, false, unavailable("claim", err)
	}
	if n != 1 {
		return Claim{}, false, nil
	}
	return c, true, nil
}

func (s *sqlStore) Persist(ctx context.Context, job Job) error {
	targets, err := json.Marshal(job.Targets)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(persistQuery),
		job.Token, job.Method, string(job.Payload), string(targets), s.now().UnixMilli(), job.BotID, job.ClaimID)
	if err != nil {
		return unavailable("persist", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("persist", err)
	}
	if n == 0 {
		return ErrNotClaimed
	}
	return nil
}

func (s *sqlStore) Get(ctx context.Context, botID int64) (Job, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(
		`SELECT bot_id, state, claim_id, token, method, payload, targets, claimed_at, updated_at
		 FROM broadcast_jobs WHERE bot_id = ?`), botID)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, unavailable("get", err)
	}
	j := Job{
		BotID:     row.BotID,
		State:     JobState(row.State),
		ClaimID:   row.ClaimID,
		Token:     row.Token,
		Method:    row.Method,
		ClaimedAt: time.UnixMilli(row.ClaimedAt),
		UpdatedAt: time.UnixMilli(row.UpdatedAt),
	}
	if row.Payload != "" {
		j.Payload = json.RawMessage(row.Payload)
	}
	if row.Targets != "" {
		if err := json.Unmarshal([]byte(row.Targets), &j.Targets); err != nil {
			return Job{}, unavailable("decode", err)
		}
	}
	return j, nil
}

func (s *sqlStore) Stats(ctx context.Context) (Stats, error) {
	var rows []struct {
		State string `db:"state"`
		N     int    `db:"n"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT state, COUNT(*) AS n FROM broadcast_jobs GROUP BY state`); err != nil {
		return Stats{}, unavailable("stats", err)
	}
	var st Stats
	for _, r := range rows {
		switch JobState(r.State) {
		case StateClaimed:
			st.Claimed = r.N
		case StatePending:
			st.Pending = r.N
		}
	}
	return st, nil
}

func (s *sqlStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
