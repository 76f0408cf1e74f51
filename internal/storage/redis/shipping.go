// Package redis caches read-mostly lookups in Redis.
package redis

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/pillshop/internal/domain/shipping"
)

var _ shipping.Repository = (*ShippingCache)(nil)

const (
	rateKeyPrefix = "shipping:rate:"
	ratesKey      = "shipping:rates"
)

// kv is the subset of redis.Cmdable used by the cache.
type kv interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// ShippingCache is a read-through cache in front of a shipping.Repository.
// Redis failures fall back to the backing repository.
type ShippingCache struct {
	client kv
	next   shipping.Repository
	ttl    time.Duration
}

// NewShippingCache wraps next with a Redis cache whose entries live for ttl.
func NewShippingCache(client redis.Cmdable, next shipping.Repository, ttl time.Duration) *ShippingCache {
	return &ShippingCache{client: client, next: next, ttl: ttl}
}

// NewClient opens a Redis client and checks connectivity.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return client, nil
}

// Rate returns the cached rate for region, loading it on a miss.
func (c *ShippingCache) Rate(ctx context.Context, region string) (*shipping.Rate, error) {
	key := rateKeyPrefix + region
	if raw, err := c.client.Get(ctx, key).Bytes(); err == nil {
		r, err := decodeRate(jx.DecodeBytes(raw))
		if err == nil {
			return &r, nil
		}
		zctx.From(ctx).Warn("Drop corrupt cache entry", zap.String("key", key), zap.Error(err))
	} else if !errors.Is(err, redis.Nil) {
		zctx.From(ctx).Warn("Shipping cache get failed", zap.String("key", key), zap.Error(err))
	}

	r, err := c.next.Rate(ctx, region)
	if err != nil {
		return nil, err
	}

	e := &jx.Encoder{}
	encodeRate(e, *r)
	c.store(ctx, key, e.Bytes())
	return r, nil
}

// List returns every rate, loading the list on a miss.
func (c *ShippingCache) List(ctx context.Context) ([]shipping.Rate, error) {
	if raw, err := c.client.Get(ctx, ratesKey).Bytes(); err == nil {
		var rates []shipping.Rate
		err := jx.DecodeBytes(raw).Arr(func(d *jx.Decoder) error {
			r, err := decodeRate(d)
			if err != nil {
				return err
			}
			rates = append(rates, r)
			return nil
		})
		if err == nil {
			return rates, nil
		}
		zctx.From(ctx).Warn("Drop corrupt cache entry", zap.String("key", ratesKey), zap.Error(err))
	} else if !errors.Is(err, redis.Nil) {
		zctx.From(ctx).Warn("Shipping cache get failed", zap.String("key", ratesKey), zap.Error(err))
	}

	rates, err := c.next.List(ctx)
	if err != nil {
		return nil, err
	}

	e := &jx.Encoder{}
	e.ArrStart()
	for _, r := range rates {
		encodeRate(e, r)
	}
	e.ArrEnd()
	c.store(ctx, ratesKey, e.Bytes())
	return rates, nil
}

// Invalidate drops cached entries for the given regions and the full list.
func (c *ShippingCache) Invalidate(ctx context.Context, regions ...string) error {
	keys := []string{ratesKey}
	for _, r := range regions {
		keys = append(keys, rateKeyPrefix+r)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return errors.Wrap(err, "invalidate shipping cache")
	}
	return nil
}

func (c *ShippingCache) store(ctx context.Context, key string, value []byte) {
	if err := c.client.Set(ctx, key, value, c.ttl).Err(); err != nil {
		zctx.From(ctx).Warn("Shipping cache set failed", zap.String("key", key), zap.Error(err))
	}
}

func encodeRate(e *jx.Encoder, r shipping.Rate) {
	e.ObjStart()
	e.FieldStart("region")
	e.Str(r.Region)
	e.FieldStart("name")
	e.Str(r.Name)
	e.FieldStart("fee")
	e.Str(r.Fee.StringFixed(2))
	e.ObjEnd()
}

func decodeRate(d *jx.Decoder) (shipping.Rate, error) {
	var r shipping.Rate
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "region":
			v, err := d.Str()
			r.Region = v
			return err
		case "name":
			v, err := d.Str()
			r.Name = v
			return err
		case "fee":
			v, err := d.Str()
			if err != nil {
				return err
			}
			r.Fee, err = decimal.NewFromString(v)
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return shipping.Rate{}, errors.Wrap(err, "decode rate")
	}
	return r, nil
}
