package snapshot

import (
	"context"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"clob/domain/symbol"
)

// RedisStore keeps snapshots in Redis: one string key per snapshot and a
// sorted set per symbol indexing them by sequence.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	keep   int
}

func NewRedisStore(client redis.UniversalClient, prefix string, keep int) *RedisStore {
	if keep <= 0 {
		keep = 1
	}
	return &RedisStore{client: client, prefix: prefix, keep: keep}
}

func (r *RedisStore) indexKey(name string) string {
	return r.prefix + symbol.Key(name) + ":index"
}

func (r *RedisStore) dataKey(name string, seq uint64) string {
	return r.prefix + symbol.Key(name) + ":" + strconv.FormatUint(seq, 10)
}

func (r *RedisStore) Save(ctx context.Context, s *Snapshot) error {
	idx := r.indexKey(s.Symbol)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.dataKey(s.Symbol, s.Seq), Marshal(s), 0)
		pipe.ZAdd(ctx, idx, redis.Z{Score: float64(s.Seq), Member: strconv.FormatUint(s.Seq, 10)})
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "redis save snapshot %s@%d", s.Symbol, s.Seq)
	}
	return r.prune(ctx, s.Symbol)
}

func (r *RedisStore) prune(ctx context.Context, name string) error {
	idx := r.indexKey(name)
	old, err := r.client.ZRange(ctx, idx, 0, int64(-r.keep-1)).Result()
	if err != nil {
		return errors.Wrap(err, "redis list snapshots")
	}
	if len(old) == 0 {
		return nil
	}
	keys := make([]string, 0, len(old))
	members := make([]any, 0, len(old))
	for _, m := range old {
		keys = append(keys, r.prefix+symbol.Key(name)+":"+m)
		members = append(members, m)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, idx, members...)
		return nil
	})
	return errors.Wrap(err, "redis prune snapshots")
}

func (r *RedisStore) Latest(ctx context.Context, name string) (*Snapshot, error) {
	top, err := r.client.ZRevRange(ctx, r.indexKey(name), 0, 0).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis latest snapshot")
	}
	if len(top) == 0 {
		return nil, errors.Wrapf(ErrNotFound, "%s", name)
	}
	data, err := r.client.Get(ctx, r.prefix+symbol.Key(name)+":"+top[0]).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errors.Wrapf(ErrNotFound, "%s@%s", name, top[0])
	}
	if err != nil {
		return nil, errors.Wrap(err, "redis get snapshot")
	}
	return Unmarshal(data)
}
