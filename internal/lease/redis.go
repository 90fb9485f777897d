package lease

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/denkuservices/denku-mvp-sub000/internal/apperrors"
	"github.com/denkuservices/denku-mvp-sub000/internal/observer"
	"github.com/denkuservices/denku-mvp-sub000/internal/storage"
	"github.com/denkuservices/denku-mvp-sub000/pkg/logger"
)

const (
	backendRedis   = "redis"
	redisKeyPrefix = "lease:ws:"
)

// acquireScript admits a member into a workspace's lease set.
//
// KEYS[1] lease set, scored by expiry in unix ms
// ARGV[1] now ms, ARGV[2] expiry ms, ARGV[3] call id, ARGV[4] limit, ARGV[5] ttl ms
// Returns {granted, live}.
var acquireScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
local ttl = tonumber(ARGV[5])
if redis.call('ZSCORE', KEYS[1], ARGV[3]) then
  redis.call('ZADD', KEYS[1], ARGV[2], ARGV[3])
  if redis.call('PTTL', KEYS[1]) < ttl then
    redis.call('PEXPIRE', KEYS[1], ttl)
  end
  return {1, redis.call('ZCARD', KEYS[1])}
end
local live = redis.call('ZCARD', KEYS[1])
if live < tonumber(ARGV[4]) then
  redis.call('ZADD', KEYS[1], ARGV[2], ARGV[3])
  if redis.call('PTTL', KEYS[1]) < ttl then
    redis.call('PEXPIRE', KEYS[1], ttl)
  end
  return {1, live + 1}
end
return {0, live}
`)

// RedisManager keeps one sorted set per workspace. Each acquire runs as a
// single script, so the check and the insert cannot interleave.
type RedisManager struct {
	client    redis.UniversalClient
	directory storage.DirectoryRepo
	now       func() time.Time
}

func NewRedisManager(client redis.UniversalClient, directory storage.DirectoryRepo) *RedisManager {
	return &RedisManager{client: client, directory: directory, now: time.Now}
}

func (m *RedisManager) Backend() string { return backendRedis }

func leaseKey(workspaceID string) string { return redisKeyPrefix + workspaceID }

// leaseID is stable per (workspace, call) so redeliveries see the same id.
func leaseID(workspaceID, callID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("lease:"+workspaceID+":"+callID)).String()
}

func (m *RedisManager) Acquire(ctx context.Context, workspaceID, agentID, callID string, ttl time.Duration) (Decision, error) {
	ttl = effectiveTTL(ttl)
	internal := func(err error) (Decision, error) {
		d := Decision{Reason: ReasonInternalError}
		observer.IncLeaseDecision(workspaceID, backendRedis, d.Result())
		return d, fmt.Errorf("%w: %w", apperrors.ErrLeaseInternal, err)
	}

	ws, err := m.directory.FindWorkspace(ctx, workspaceID)
	if err != nil {
		return internal(err)
	}
	if !ws.Active {
		d := Decision{Reason: ReasonWorkspaceInactive}
		observer.IncLeaseDecision(workspaceID, backendRedis, d.Result())
		return d, nil
	}

	now := m.now()
	res, err := acquireScript.Run(ctx, m.client, []string{leaseKey(workspaceID)},
		now.UnixMilli(),
		now.Add(ttl).UnixMilli(),
		callID,
		ws.ConcurrencyLimit,
		ttl.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return internal(fmt.Errorf("redis acquire: %w", err))
	}
	if len(res) != 2 {
		return internal(fmt.Errorf("redis acquire: unexpected reply %v", res))
	}

	d := Decision{Granted: res[0] == 1, Live: res[1]}
	if d.Granted {
		d.LeaseID = leaseID(workspaceID, callID)
	} else {
		d.Reason = ReasonLimitReached
	}
	observer.IncLeaseDecision(workspaceID, backendRedis, d.Result())
	logger.FromContext(ctx).Debug("Lease acquire",
		zap.Bool("granted", d.Granted),
		zap.String("reason", string(d.Reason)),
		zap.Int64("live", d.Live),
		zap.String("agent_id", agentID),
	)
	return d, nil
}

func (m *RedisManager) Release(ctx context.Context, workspaceID, callID string) error {
	n, err := m.client.ZRem(ctx, leaseKey(workspaceID), callID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: redis release: %w", apperrors.ErrLeaseInternal, err)
	}
	observer.IncLeaseRelease(backendRedis, n > 0)
	return nil
}

// SweepExpired trims expired members from every workspace lease set.
func (m *RedisManager) SweepExpired(ctx context.Context) (int, error) {
	maxScore := strconv.FormatInt(m.now().UnixMilli(), 10)
	var (
		cursor uint64
		total  int64
	)
	for {
		keys, next, err := m.client.Scan(ctx, cursor, redisKeyPrefix+"*", 100).Result()
		if err != nil {
			return int(total), fmt.Errorf("%w: redis scan: %w", apperrors.ErrLeaseInternal, err)
		}
		for _, key := range keys {
			n, err := m.client.ZRemRangeByScore(ctx, key, "-inf", maxScore).Result()
			if err != nil {
				return int(total), fmt.Errorf("%w: redis sweep %s: %w", apperrors.ErrLeaseInternal, key, err)
			}
			total += n
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	return int(total), nil
}

// Live returns the number of unexpired leases held by a workspace.
func (m *RedisManager) Live(ctx context.Context, workspaceID string) (int64, error) {
	minScore := "(" + strconv.FormatInt(m.now().UnixMilli(), 10)
	return m.client.ZCount(ctx, leaseKey(workspaceID), minScore, "+inf").Result()
}

var _ Manager = (*RedisManager)(nil)
