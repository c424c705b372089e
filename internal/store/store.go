// Package store implements the state-store primitives the ACD needs
// on top of a real Redis server, following the pipeline/ZADD/ZRem style of
// this repo's Redis-backed queue (grounded on
// libs/queue/redis_queue.go's RedisTaskQueue).
//
// Redis has no JSON document type reachable from a plain go-redis client
// without the RedisJSON module, so each document (contact or agent) is
// represented as a Redis HASH, one hash field per top-level struct field,
// marshaled individually. "JSON" operations map onto HSET/HGET/HGETALL.
// Storing fields separately, rather than as a single marshaled blob, keeps a
// write to one field (fname/lname) from racing a concurrent write to
// another (state): HSET only ever touches the fields it was given, so two
// unsynchronized writers touching disjoint fields can never clobber each
// other regardless of ordering. This is the one place in the codebase where
// a dedicated document store isn't available and a narrower primitive
// stands in for it; see DESIGN.md.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Sentinel errors surfaced by the store abstraction.
var (
	ErrNotFound    = errors.New("store: key not found")
	ErrFieldAbsent = errors.New("store: field not present in document")
	ErrLockTimeout = errors.New("store: advisory lock acquire timed out")
)

// Store is the capability set the persistent state store must provide:
// ordered-set operations for the queue and availability indexes, a
// document primitive for contacts and agents, and an advisory lock.
type Store interface {
	ZAdd(ctx context.Context, set string, member string, score float64) error
	ZRem(ctx context.Context, set string, member string) error
	// ZPopMinBlocking blocks up to timeout (0 = forever) for the minimum-score
	// member of set, returning ok=false on timeout.
	ZPopMinBlocking(ctx context.Context, set string, timeout time.Duration) (member string, score float64, ok bool, err error)
	// ZInter returns the members present in every set in sets, ordered by the
	// ascending sum of their per-set scores.
	ZInter(ctx context.Context, sets []string) ([]ScoredMember, error)
	// Len reports the cardinality of a sorted set.
	Len(ctx context.Context, set string) (int64, error)

	JSONSet(ctx context.Context, key string, doc any) error
	JSONGet(ctx context.Context, key string, out any) error
	JSONGetField(ctx context.Context, key, field string, out any) error
	JSONSetField(ctx context.Context, key, field string, value any) error
	JSONMSetFields(ctx context.Context, key string, fields map[string]any) error
	JSONArrAppend(ctx context.Context, key, field string, value string) error
	JSONArrIndex(ctx context.Context, key, field, value string) (int, error)
	JSONArrPop(ctx context.Context, key, field string, index int) error

	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Scan(ctx context.Context, prefix string) ([]string, error)

	// Lock acquires the named advisory lock, blocking up to acquireTimeout.
	// The returned Unlock releases it; the lock also self-releases after
	// holdTTL if Unlock is never called.
	Lock(ctx context.Context, name string, acquireTimeout, holdTTL time.Duration) (unlock func(context.Context) error, acquired bool, err error)
}

// ScoredMember is one member of a zInter result, carrying the summed score
// used to order candidates (longest-idle first).
type ScoredMember struct {
	Member string
	Score  float64
}

// RedisStore is the production Store backed by a real Redis server.
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
}

// New constructs a RedisStore from a redis:// URL, mirroring
// NewRedisTaskQueue's connect-and-ping pattern.
func New(ctx context.Context, redisURL string, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("store: invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("store: failed to connect to redis: %w", err)
	}

	logger.Info("connected to redis", zap.String("addr", opts.Addr))

	return &RedisStore{client: client, logger: logger}, nil
}

// NewFromClient wraps an already-constructed redis.Client, used by tests to
// point the store at a miniredis instance.
func NewFromClient(client *redis.Client, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{client: client, logger: logger}
}

// Close releases the underlying Redis connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) ZAdd(ctx context.Context, set string, member string, score float64) error {
	if err := s.client.ZAdd(ctx, set, redis.Z{Score: score, Member: member}).Err(); err != nil {
		return fmt.Errorf("store: zadd %s: %w", set, err)
	}
	return nil
}

func (s *RedisStore) ZRem(ctx context.Context, set string, member string) error {
	if err := s.client.ZRem(ctx, set, member).Err(); err != nil {
		return fmt.Errorf("store: zrem %s: %w", set, err)
	}
	return nil
}

func (s *RedisStore) ZPopMinBlocking(ctx context.Context, set string, timeout time.Duration) (string, float64, bool, error) {
	res, err := s.client.BZPopMin(ctx, timeout, set).Result()
	if errors.Is(err, redis.Nil) {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, fmt.Errorf("store: bzpopmin %s: %w", set, err)
	}
	member, _ := res.Member.(string)
	return member, res.Score, true, nil
}

// ZInter intersects the given sorted sets server-side with SUM aggregation
// (each member's combined score is the sum across sets) and returns members
// sorted ascending by that sum, so index 0 is the longest-idle candidate.
func (s *RedisStore) ZInter(ctx context.Context, sets []string) ([]ScoredMember, error) {
	if len(sets) == 0 {
		return nil, nil
	}

	res, err := s.client.ZInterWithScores(ctx, &redis.ZStore{
		Keys:      sets,
		Aggregate: "SUM",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("store: zinter %v: %w", sets, err)
	}

	members := make([]ScoredMember, len(res))
	for i, z := range res {
		member, _ := z.Member.(string)
		members[i] = ScoredMember{Member: member, Score: z.Score}
	}
	sort.Slice(members, func(i, j int) bool { return members[i].Score < members[j].Score })
	return members, nil
}

func (s *RedisStore) Len(ctx context.Context, set string) (int64, error) {
	n, err := s.client.ZCard(ctx, set).Result()
	if err != nil {
		return 0, fmt.Errorf("store: zcard %s: %w", set, err)
	}
	return n, nil
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("store: exists %s: %w", key, err)
	}
	return n > 0, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("store: delete %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("store: expire %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Scan(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("store: scan %s: %w", prefix, err)
	}
	return keys, nil
}

// document is the loosely-typed view of a hash-backed document: each
// top-level struct field is its own hash field, individually marshaled, so
// JSONGetField / JSONSetField / the array ops can address one field without
// touching the rest of the document.
type document map[string]json.RawMessage

func (s *RedisStore) readDoc(ctx context.Context, key string) (document, error) {
	raw, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("store: hgetall %s: %w", key, err)
	}
	if len(raw) == 0 {
		return nil, ErrNotFound
	}
	doc := make(document, len(raw))
	for field, v := range raw {
		doc[field] = json.RawMessage(v)
	}
	return doc, nil
}

// JSONSet fully replaces the document at key: every prior field is dropped
// and the marshaled struct's top-level fields become the new hash contents,
// written as a single pipeline so no partial document is ever observable.
func (s *RedisStore) JSONSet(ctx context.Context, key string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", key, err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return fmt.Errorf("store: unmarshal %s: %w", key, err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(fields) > 0 {
		args := make([]any, 0, len(fields)*2)
		for field, v := range fields {
			args = append(args, field, string(v))
		}
		pipe.HSet(ctx, key, args...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store: jsonset %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) JSONGet(ctx context.Context, key string, out any) error {
	doc, err := s.readDoc(ctx, key)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("store: unmarshal %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) JSONGetField(ctx context.Context, key, field string, out any) error {
	raw, err := s.client.HGet(ctx, key, field).Bytes()
	if errors.Is(err, redis.Nil) {
		exists, eerr := s.Exists(ctx, key)
		if eerr != nil {
			return eerr
		}
		if !exists {
			return ErrNotFound
		}
		return ErrFieldAbsent
	}
	if err != nil {
		return fmt.Errorf("store: hget %s.%s: %w", key, field, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("store: unmarshal %s.%s: %w", key, field, err)
	}
	return nil
}

func (s *RedisStore) JSONSetField(ctx context.Context, key, field string, value any) error {
	return s.JSONMSetFields(ctx, key, map[string]any{field: value})
}

// JSONMSetFields patches one or more top-level fields of the document at key
// with a single HSET, mirroring the original source's json().mset calls
// (operations.py complete_contact / dispatcher.py assignment). Because HSET
// only ever writes the hash fields it was given, this cannot clobber a
// concurrent write to a different field of the same document: there is no
// read-modify-write window over the whole document for another writer to
// land in.
func (s *RedisStore) JSONMSetFields(ctx context.Context, key string, fields map[string]any) error {
	exists, err := s.Exists(ctx, key)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}

	args := make([]any, 0, len(fields)*2)
	for field, value := range fields {
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("store: marshal %s.%s: %w", key, field, err)
		}
		args = append(args, field, string(raw))
	}
	if err := s.client.HSet(ctx, key, args...).Err(); err != nil {
		return fmt.Errorf("store: hset %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) getArrField(ctx context.Context, key, field string) ([]string, error) {
	raw, err := s.client.HGet(ctx, key, field).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: hget %s.%s: %w", key, field, err)
	}
	var arr []string
	if err := json.Unmarshal(raw, &arr); err != nil {
		return nil, fmt.Errorf("store: unmarshal %s.%s: %w", key, field, err)
	}
	return arr, nil
}

func (s *RedisStore) setArrField(ctx context.Context, key, field string, arr []string) error {
	raw, err := json.Marshal(arr)
	if err != nil {
		return fmt.Errorf("store: marshal %s.%s: %w", key, field, err)
	}
	if err := s.client.HSet(ctx, key, field, string(raw)).Err(); err != nil {
		return fmt.Errorf("store: hset %s.%s: %w", key, field, err)
	}
	return nil
}

// JSONArrAppend reads, appends to, and rewrites a single hash field. Callers
// that mutate an agent's skills (AddAgentSkill, DeleteAgentSkill) hold the
// per-agent lock, so this field's own read-modify-write window is already
// serialized against itself; it only needed to stop clobbering other fields,
// which the per-field hash layout now guarantees.
func (s *RedisStore) JSONArrAppend(ctx context.Context, key, field string, value string) error {
	arr, err := s.getArrField(ctx, key, field)
	if err != nil {
		return err
	}
	arr = append(arr, value)
	return s.setArrField(ctx, key, field, arr)
}

func (s *RedisStore) JSONArrIndex(ctx context.Context, key, field, value string) (int, error) {
	arr, err := s.getArrField(ctx, key, field)
	if err != nil {
		return -1, err
	}
	for i, v := range arr {
		if v == value {
			return i, nil
		}
	}
	return -1, nil
}

func (s *RedisStore) JSONArrPop(ctx context.Context, key, field string, index int) error {
	arr, err := s.getArrField(ctx, key, field)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(arr) {
		return ErrFieldAbsent
	}
	arr = append(arr[:index], arr[index+1:]...)
	return s.setArrField(ctx, key, field, arr)
}

// Lock implements the per-agent advisory lock as a Redis SET-NX-with-expiry,
// polled at a short interval up to acquireTimeout, the same
// acquire/blocking-timeout/hold-timeout shape as the source's
// redis.asyncio.lock.Lock usage in operations.py.
func (s *RedisStore) Lock(ctx context.Context, name string, acquireTimeout, holdTTL time.Duration) (func(context.Context) error, bool, error) {
	token := fmt.Sprintf("%d", time.Now().UnixNano())
	deadline := time.Now().Add(acquireTimeout)
	const pollInterval = 5 * time.Millisecond

	for {
		ok, err := s.client.SetNX(ctx, name, token, holdTTL).Result()
		if err != nil {
			return nil, false, fmt.Errorf("store: lock %s: %w", name, err)
		}
		if ok {
			unlock := func(unlockCtx context.Context) error {
				script := redis.NewScript(`
					if redis.call("GET", KEYS[1]) == ARGV[1] then
						return redis.call("DEL", KEYS[1])
					end
					return 0
				`)
				return script.Run(unlockCtx, s.client, []string{name}, token).Err()
			}
			return unlock, true, nil
		}

		if time.Now().After(deadline) {
			return nil, false, nil
		}

		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}
