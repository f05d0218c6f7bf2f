package sequence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("sequence",
	fx.Provide(NewRedisGenerator),
)

// Generator hands out human-readable codes for customer-facing entities.
type Generator interface {
	NextOrderCode(ctx context.Context) (string, error)
	NextContractCode(ctx context.Context) (string, error)
}

type RedisGenerator struct {
	rdb *redis.Client
}

type Params struct {
	fx.In

	Redis *redis.Client
}

func NewRedisGenerator(p Params) Generator {
	return &RedisGenerator{
		rdb: p.Redis,
	}
}

func (g *RedisGenerator) NextOrderCode(ctx context.Context) (string, error) {
	key := fmt.Sprintf("seq:order:%s", time.Now().Format("20060102"))
	seq, err := g.rdb.Incr(ctx, key).Result()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ORD-%s-%05d", time.Now().Format("20060102"), seq), nil
}

func (g *RedisGenerator) NextContractCode(ctx context.Context) (string, error) {
	key := "seq:contract"
	seq, err := g.rdb.Incr(ctx, key).Result()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("C%06d", seq), nil
}
