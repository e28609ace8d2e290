package storage

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	logx "remindme/pkg/logx"
)

// redisStore keeps one hash per reminder plus two sorted sets:
//
//	<prefix>:seq            INCR id allocator
//	<prefix>:r:<id>         hash{user,message,canceled,fire_at,created_at}
//	<prefix>:pending        zset score=fire_at(ms) member=id
//	<prefix>:idx:<fnv>      zset score=id member=id, non-canceled only
//
// The idx key is a hash of (user, message); FindActive verifies the record
// so collisions are harmless.
type redisStore struct {
	rdb    *redis.Client
	prefix string
	log    logx.Logger
	now    func() time.Time
}

func openRedis(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for redis driver")
	}
	var opt *redis.Options
	if strings.HasPrefix(dsn, "redis://") || strings.HasPrefix(dsn, "rediss://") {
		o, err := redis.ParseURL(dsn)
		if err != nil {
			return nil, wrap("open", err)
		}
		opt = o
	} else {
		opt = &redis.Options{Addr: dsn, DB: 0}
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, wrap("ping", err)
	}
	prefix := strings.TrimSpace(cfg.KeyPrefix)
	if prefix == "" {
		prefix = "remindme"
	}
	log.Debug("redis store opened", logx.String("addr", opt.Addr), logx.String("prefix", prefix))
	return &redisStore{rdb: rdb, prefix: prefix, log: log, now: time.Now}, nil
}

func (s *redisStore) Close() error { return wrap("close", s.rdb.Close()) }

func (s *redisStore) seqKey() string { return s.prefix + ":seq" }
func (s *redisStore) pendingKey() string { return s.prefix + ":pending" }
func (s *redisStore) rowKey(id int64) string { return s.prefix + ":r:" + strconv.FormatInt(id, 10) }
func (s *redisStore) idxKey(user, msg string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(user))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(msg))
	return fmt.Sprintf("%s:idx:%x", s.prefix, h.Sum64())
}

func (s *redisStore) Insert(ctx context.Context, user, message string, fireAt time.Time) (Reminder, error) {
	id, err := s.rdb.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return Reminder{}, wrap("insert", err)
	}
	now := s.now()
	r := Reminder{
		ID:        id,
		User:      user,
		Message:   message,
		FireAt:    time.UnixMilli(fireAt.UnixMilli()),
		CreatedAt: time.UnixMilli(now.UnixMilli()),
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, s.rowKey(id), map[string]any{
			"user":       user,
			"message":    message,
			"canceled":   "0",
			"fire_at":    r.FireAt.UnixMilli(),
			"created_at": r.CreatedAt.UnixMilli(),
		})
		p.ZAdd(ctx, s.pendingKey(), redis.Z{Score: float64(r.FireAt.UnixMilli()), Member: id})
		p.ZAdd(ctx, s.idxKey(user, message), redis.Z{Score: float64(id), Member: id})
		return nil
	})
	if err != nil {
		return Reminder{}, wrap("insert", err)
	}
	return r, nil
}

func decodeRedisRow(id int64, m map[string]string) (Reminder, bool) {
	if len(m) == 0 {
		return Reminder{}, false
	}
	fa, _ := strconv.ParseInt(m["fire_at"], 10, 64)
	ca, _ := strconv.ParseInt(m["created_at"], 10, 64)
	return Reminder{
		ID:        id,
		User:      m["user"],
		Message:   m["message"],
		Canceled:  m["canceled"] == "1",
		FireAt:    time.UnixMilli(fa),
		CreatedAt: time.UnixMilli(ca),
	}, true
}

func (s *redisStore) Get(ctx context.Context, id int64) (Reminder, bool, error) {
	m, err := s.rdb.HGetAll(ctx, s.rowKey(id)).Result()
	if err != nil {
		return Reminder{}, false, wrap("get", err)
	}
	r, ok := decodeRedisRow(id, m)
	return r, ok, nil
}

func (s *redisStore) FindActive(ctx context.Context, user, message string) (Reminder, bool, error) {
	ids, err := s.rdb.ZRevRange(ctx, s.idxKey(user, message), 0, -1).Result()
	if err != nil {
		return Reminder{}, false, wrap("find", err)
	}
	for _, raw := range ids {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		r, ok, err := s.Get(ctx, id)
		if err != nil {
			return Reminder{}, false, wrap("find", err)
		}
		if ok && !r.Canceled && r.User == user && r.Message == message {
			return r, true, nil
		}
	}
	return Reminder{}, false, nil
}

// cancelScript sets the flag only on a row that still exists, so a Delete
// racing in from another process can't leave a {canceled:1} stub behind.
// KEYS: row, idx. ARGV: id. Returns 0 when the row is gone.
var cancelScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "canceled", "1")
redis.call("ZREM", KEYS[2], ARGV[1])
return 1
`)

func (s *redisStore) MarkCanceled(ctx context.Context, id int64) error {
	vals, err := s.rdb.HMGet(ctx, s.rowKey(id), "user", "message").Result()
	if err != nil {
		return wrap("cancel", err)
	}
	user, ok1 := vals[0].(string)
	msg, ok2 := vals[1].(string)
	if !ok1 || !ok2 {
		return wrap("cancel", ErrNotFound)
	}
	// user and message never change; the script rechecks the row itself
	n, err := cancelScript.Run(ctx, s.rdb, []string{s.rowKey(id), s.idxKey(user, msg)}, id).Int()
	if err != nil {
		return wrap("cancel", err)
	}
	if n == 0 {
		return wrap("cancel", ErrNotFound)
	}
	return nil
}

func (s *redisStore) Delete(ctx context.Context, id int64) error {
	vals, err := s.rdb.HMGet(ctx, s.rowKey(id), "user", "message").Result()
	if err != nil {
		return wrap("delete", err)
	}
	user, _ := vals[0].(string)
	msg, _ := vals[1].(string)
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, s.rowKey(id))
		p.ZRem(ctx, s.pendingKey(), id)
		if user != "" || msg != "" {
			p.ZRem(ctx, s.idxKey(user, msg), id)
		}
		return nil
	})
	return wrap("delete", err)
}

func (s *redisStore) Pending(ctx context.Context) ([]Reminder, error) {
	ids, err := s.rdb.ZRange(ctx, s.pendingKey(), 0, -1).Result()
	if err != nil {
		return nil, wrap("pending", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	parsed := make([]int64, 0, len(ids))
	cmds := make([]*redis.MapStringStringCmd, 0, len(ids))
	_, err = s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, raw := range ids {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				continue
			}
			parsed = append(parsed, id)
			cmds = append(cmds, p.HGetAll(ctx, s.rowKey(id)))
		}
		return nil
	})
	if err != nil {
		return nil, wrap("pending", err)
	}
	out := make([]Reminder, 0, len(cmds))
	for i, c := range cmds {
		if r, ok := decodeRedisRow(parsed[i], c.Val()); ok {
			out = append(out, r)
		}
	}
	sortPending(out)
	return out, nil
}
