package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// CachedSource wraps a primary Source with a Redis read-through cache. A hit
// is served from Redis; a miss asks the primary and stores the answer for
// ttl. Redis failures fall back to the primary.
type CachedSource struct {
	primary Source
	rdb     *redis.Client
	ttl     time.Duration
	log     zerolog.Logger
}

// NewCachedSource creates a cached wrapper around a primary source.
func NewCachedSource(primary Source, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *CachedSource {
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	return &CachedSource{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
		log:     log.With().Str("component", "pricefeed").Str("provider", "redis").Logger(),
	}
}

func (s *CachedSource) Price(ctx context.Context, pair string) (decimal.Decimal, error) {
	raw, err := s.rdb.Get(ctx, priceKey(pair)).Result()
	switch {
	case err == nil:
		if p, perr := decimal.NewFromString(raw); perr == nil {
			return p, nil
		}
		// Unparseable entry; drop it and re-populate below.
		s.rdb.Del(ctx, priceKey(pair))
	case !errors.Is(err, redis.Nil):
		s.log.Debug().Err(err).Str("pair", pair).Msg("price cache read failed")
	}

	p, err := s.primary.Price(ctx, pair)
	if err != nil {
		return decimal.Zero, err
	}
	if err := s.rdb.Set(ctx, priceKey(pair), p.String(), s.ttl).Err(); err != nil {
		s.log.Debug().Err(err).Str("pair", pair).Msg("price cache write failed")
	}
	return p, nil
}

func priceKey(pair string) string { return fmt.Sprintf("price:%s", pair) }
