package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-redis/redis"
	"github.com/pkg/errors"

	t "github.com/rius2g/splitgroup/pkg/types"
)

// RedisStore keeps each flow under <prefix>:flow:<id> and indexes flow ids
// per owner in the set <prefix>:owner:<address>.
type RedisStore struct {
	redisClient     *redis.Client
	namespacePrefix string
}

func NewRedisStore(connectionString, namespacePrefix string) (*RedisStore, error) {
	redisOpts, err := redis.ParseURL(connectionString)
	if err != nil {
		return nil, errors.Wrap(err, "error parsing connection string")
	}

	redisClient := redis.NewClient(redisOpts)
	if _, err := redisClient.Ping().Result(); err != nil {
		redisClient.Close()
		return nil, errors.Wrap(err, "failed to ping redis")
	}
	if namespacePrefix == "" {
		namespacePrefix = "splitgroup"
	}
	return &RedisStore{redisClient: redisClient, namespacePrefix: namespacePrefix}, nil
}

func (r *RedisStore) flowKey(id string) string {
	return fmt.Sprintf("%s:flow:%s", r.namespacePrefix, id)
}

func (r *RedisStore) ownerKey(owner common.Address) string {
	return fmt.Sprintf("%s:owner:%s", r.namespacePrefix, owner.Hex())
}

func (r *RedisStore) Save(_ context.Context, p t.Progress) error {
	b, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "encode progress")
	}

	pipe := r.redisClient.TxPipeline()
	pipe.Set(r.flowKey(p.ID), b, 0)
	pipe.SAdd(r.ownerKey(p.Owner), p.ID)
	if _, err := pipe.Exec(); err != nil {
		return errors.Wrapf(err, "save flow %s", p.ID)
	}
	return nil
}

func (r *RedisStore) Load(_ context.Context, id string) (t.Progress, error) {
	val, err := r.redisClient.Get(r.flowKey(id)).Result()
	if err == redis.Nil {
		return t.Progress{}, t.ErrFlowNotFound
	}
	if err != nil {
		return t.Progress{}, errors.Wrapf(err, "error reading flow %s", id)
	}

	var p t.Progress
	if err := json.Unmarshal([]byte(val), &p); err != nil {
		return t.Progress{}, errors.Wrap(err, "error unmarshalling flow")
	}
	return p, nil
}

func (r *RedisStore) ListByOwner(ctx context.Context, owner common.Address) ([]t.Progress, error) {
	ids, err := r.redisClient.SMembers(r.ownerKey(owner)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "error listing flows")
	}

	out := make([]t.Progress, 0, len(ids))
	for _, id := range ids {
		p, err := r.Load(ctx, id)
		if errors.Is(err, t.ErrFlowNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	sortByCreation(out)
	return out, nil
}

func (r *RedisStore) Close() error {
	return r.redisClient.Close()
}
