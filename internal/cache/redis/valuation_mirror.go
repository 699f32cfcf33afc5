package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/optiondesk/paperbot/internal/domain"
)

// ValuationMirror implements domain.ValuationMirror on a single Redis hash.
// Fields are instrument tokens; values encode "price@unixnano" so one HGETALL
// recovers the whole mirror.
type ValuationMirror struct {
	rdb *redis.Client
}

// NewValuationMirror creates a ValuationMirror backed by the given Client.
func NewValuationMirror(c *Client) *ValuationMirror {
	return &ValuationMirror{rdb: c.Underlying()}
}

const mirrorKey = keyPrefix + "ltp"

func encodeValuation(v domain.Valuation) string {
	return strconv.FormatFloat(v.Price, 'f', -1, 64) + "@" +
		strconv.FormatInt(v.ObservedAt.UnixNano(), 10)
}

func decodeValuation(s string) (domain.Valuation, error) {
	price, ts, ok := strings.Cut(s, "@")
	if !ok {
		return domain.Valuation{}, fmt.Errorf("redis: malformed valuation %q", s)
	}
	p, err := strconv.ParseFloat(price, 64)
	if err != nil {
		return domain.Valuation{}, fmt.Errorf("redis: parse valuation price: %w", err)
	}
	nano, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return domain.Valuation{}, fmt.Errorf("redis: parse valuation ts: %w", err)
	}
	return domain.Valuation{Price: p, ObservedAt: time.Unix(0, nano)}, nil
}

// SetBatch writes every valuation from one applied tick batch in a single
// HSET round trip.
func (m *ValuationMirror) SetBatch(ctx context.Context, vals map[uint32]domain.Valuation) error {
	if len(vals) == 0 {
		return nil
	}

	fields := make(map[string]interface{}, len(vals))
	for token, v := range vals {
		fields[strconv.FormatUint(uint64(token), 10)] = encodeValuation(v)
	}
	if err := m.rdb.HSet(ctx, mirrorKey, fields).Err(); err != nil {
		return fmt.Errorf("redis: mirror set batch: %w", err)
	}
	return nil
}

// Get retrieves the mirrored valuation for one instrument. It returns
// domain.ErrNotFound when the token has never been mirrored.
func (m *ValuationMirror) Get(ctx context.Context, token uint32) (domain.Valuation, error) {
	raw, err := m.rdb.HGet(ctx, mirrorKey, strconv.FormatUint(uint64(token), 10)).Result()
	if err == redis.Nil {
		return domain.Valuation{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Valuation{}, fmt.Errorf("redis: mirror get %d: %w", token, err)
	}
	return decodeValuation(raw)
}

// GetAll retrieves the entire mirror. Malformed fields are skipped.
func (m *ValuationMirror) GetAll(ctx context.Context) (map[uint32]domain.Valuation, error) {
	raw, err := m.rdb.HGetAll(ctx, mirrorKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: mirror get all: %w", err)
	}

	out := make(map[uint32]domain.Valuation, len(raw))
	for field, val := range raw {
		token, err := strconv.ParseUint(field, 10, 32)
		if err != nil {
			continue
		}
		v, err := decodeValuation(val)
		if err != nil {
			continue
		}
		out[uint32(token)] = v
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.ValuationMirror = (*ValuationMirror)(nil)
