package redis

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/NFTCall-xyz/nftcall-core/internal/oracle"
)

// bucketSize is the packed width of one bucket: eight (price, vol) pairs of
// big-endian uint16.
const bucketSize = oracle.SlotsPerBucket * 4

// OracleBackend stores an oracle in Redis. State is one JSON document and
// buckets live in a hash keyed by outer index, one packed value per bucket,
// so every bucket write replaces all of its slots together.
type OracleBackend struct {
	c *Client
}

// NewOracleBackend returns a backend under c's prefix.
func NewOracleBackend(c *Client) *OracleBackend {
	return &OracleBackend{c: c}
}

func (b *OracleBackend) stateKey() string  { return b.c.key("oracle", "state") }
func (b *OracleBackend) bucketKey() string { return b.c.key("oracle", "buckets") }

// LoadState returns the zero state when nothing has been saved.
func (b *OracleBackend) LoadState(ctx context.Context) (oracle.State, error) {
	raw, err := b.c.rdb.Get(ctx, b.stateKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return oracle.State{}, nil
	}
	if err != nil {
		return oracle.State{}, fmt.Errorf("redis: load oracle state: %w", err)
	}
	var st oracle.State
	if err := json.Unmarshal(raw, &st); err != nil {
		return oracle.State{}, fmt.Errorf("redis: decode oracle state: %w", err)
	}
	return st, nil
}

func (b *OracleBackend) SaveState(ctx context.Context, st oracle.State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("redis: encode oracle state: %w", err)
	}
	if err := b.c.rdb.Set(ctx, b.stateKey(), raw, 0).Err(); err != nil {
		return fmt.Errorf("redis: save oracle state: %w", err)
	}
	return nil
}

// LoadBuckets fetches the requested buckets; missing ones are zero.
func (b *OracleBackend) LoadBuckets(ctx context.Context, outer []uint64) (map[uint64]oracle.Bucket, error) {
	out := make(map[uint64]oracle.Bucket, len(outer))
	if len(outer) == 0 {
		return out, nil
	}
	fields := make([]string, len(outer))
	for i, o := range outer {
		fields[i] = strconv.FormatUint(o, 10)
	}
	vals, err := b.c.rdb.HMGet(ctx, b.bucketKey(), fields...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: load oracle buckets: %w", err)
	}
	for i, v := range vals {
		var bucket oracle.Bucket
		if s, ok := v.(string); ok {
			if bucket, err = decodeBucket([]byte(s)); err != nil {
				return nil, fmt.Errorf("redis: bucket %d: %w", outer[i], err)
			}
		}
		out[outer[i]] = bucket
	}
	return out, nil
}

// SaveBuckets writes every bucket in one MULTI/EXEC.
func (b *OracleBackend) SaveBuckets(ctx context.Context, buckets map[uint64]oracle.Bucket) error {
	if len(buckets) == 0 {
		return nil
	}
	values := make(map[string]any, len(buckets))
	for o, bucket := range buckets {
		values[strconv.FormatUint(o, 10)] = encodeBucket(bucket)
	}
	_, err := b.c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, b.bucketKey(), values)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: save oracle buckets: %w", err)
	}
	return nil
}

func encodeBucket(bucket oracle.Bucket) []byte {
	buf := make([]byte, bucketSize)
	for i, s := range bucket {
		binary.BigEndian.PutUint16(buf[i*4:], s.Price)
		binary.BigEndian.PutUint16(buf[i*4+2:], s.Vol)
	}
	return buf
}

func decodeBucket(buf []byte) (oracle.Bucket, error) {
	var bucket oracle.Bucket
	if len(buf) != bucketSize {
		return bucket, fmt.Errorf("packed bucket is %d bytes, want %d", len(buf), bucketSize)
	}
	for i := range bucket {
		bucket[i] = oracle.Slot{
			Price: binary.BigEndian.Uint16(buf[i*4:]),
			Vol:   binary.BigEndian.Uint16(buf[i*4+2:]),
		}
	}
	return bucket, nil
}

var _ oracle.Backend = (*OracleBackend)(nil)
