package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	logx "broadcastd/pkg/logx"
)

const defaultKeyPrefix = "broadcast:job:"

type redisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	log    logx.Logger
	now    func() time.Time
}

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		return nil, errors.New("storage.redis.addr is required for redis driver")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Don't fail hard on a cold Redis: the pipeline reports StoreUnavailable
	// per request and /healthz shows the state.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("redis ping failed", logx.String("addr", addr), logx.Err(err))
	}
	return newRedisStore(client, cfg.Redis.KeyPrefix, cfg.ClaimTTL, log), nil
}

func newRedisStore(client *redis.Client, prefix string, ttl time.Duration, log logx.Logger) *redisStore {
	if strings.TrimSpace(prefix) == "" {
		prefix = defaultKeyPrefix
	}
	return &redisStore{client: client, prefix: prefix, ttl: ttl, log: log, now: time.Now}
}

func (s *redisStore) key(botID int64) string {
	return s.prefix + strconv.FormatInt(botID, 10)
}

// persistScript swaps a claim for the full record only while the stored claim
// is still the caller's. Plain SET drops the claim TTL.
var persistScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then return 0 end
local ok, j = pcall(cjson.decode, cur)
if not ok or j.state ~= 'claimed' or j.claim_id ~= ARGV[1] then return 0 end
redis.call('SET', KEYS[1], ARGV[2])
return 1
`)

// TryClaim is a single SET NX; the optional TTL lets Redis expire claims that
// were never persisted.
func (s *redisStore) TryClaim(ctx context.Context, botID int64) (Claim, bool, error) {
	now := s.now()
	c := newClaim(botID, now)
	j := c.Job()
	j.State, j.UpdatedAt = StateClaimed, now
	b, err := json.Marshal(j)
	if err != nil {
		return Claim{}, false, err
	}
	ok, err := s.client.SetNX(ctx, s.key(botID), b, s.ttl).Result()
	if err != nil {
		return Claim{}, false, unavailable("claim", err)
	}
	if !ok {
		return Claim{}, false, nil
	}
	return c, true, nil
}

// Persist is one compare-and-set on the claim id. job.ClaimedAt is written as
// given, so it should come from the Claim.
func (s *redisStore) Persist(ctx context.Context, job Job) error {
	if job.ClaimID == "" {
		return ErrNotClaimed
	}
	job.State = StatePending
	job.UpdatedAt = s.now()
	b, err := json.Marshal(job)
	if err != nil {
		return err
	}
	n, err := persistScript.Run(ctx, s.client, []string{s.key(job.BotID)}, job.ClaimID, b).Int()
	if err != nil {
		return unavailable("persist", err)
	}
	if n == 0 {
		return ErrNotClaimed
	}
	return nil
}

func (s *redisStore) Get(ctx context.Context, botID int64) (Job, error) {
	b, err := s.client.Get(ctx, s.key(botID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, unavailable("get", err)
	}
	var j Job
	if err := json.Unmarshal(b, &j); err != nil {
		return Job{}, unavailable("decode", err)
	}
	return j, nil
}

func (s *redisStore) Stats(ctx context.Context) (Stats, error) {
	var (
		st     Stats
		cursor uint64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 200).Result()
		if err != nil {
			return Stats{}, unavailable("scan", err)
		}
		if len(keys) > 0 {
			vals, err := s.client.MGet(ctx, keys...).Result()
			if err != nil {
				return Stats{}, unavailable("mget", err)
			}
			for _, v := range vals {
				raw, ok := v.(string)
				if !ok {
					continue
				}
				var j Job
				if err := json.Unmarshal([]byte(raw), &j); err != nil {
					s.log.Debug("skipping undecodable job", logx.Err(err))
					continue
				}
				switch j.State {
				case StateClaimed:
					st.Claimed++
				case StatePending:
					st.Pending++
				}
			}
		}
		cursor = next
		if cursor == 0 {
			return st, nil
		}
	}
}

func (s *redisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
