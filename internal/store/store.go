package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrNotFound       = errors.New("store: key not found")
	ErrInvalidBucket  = errors.New("store: invalid bucket")
	ErrInvalidKey     = errors.New("store: invalid key")
	ErrUnknownBackend = errors.New("store: unknown backend")
)

// Entry is one key/value pair returned by Range.
type Entry struct {
	Key   string
	Value []byte
}

// RangeOptions bounds a Range scan. After is exclusive; empty means from
// the first key. Limit <= 0 means unbounded.
type RangeOptions struct {
	After      string
	Descending bool
	Limit      int
}

// Store is the persisted state handle owned by one instance.
type Store interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Put(ctx context.Context, bucket, key string, value []byte) error
	Delete(ctx context.Context, bucket, key string) error
	Range(ctx context.Context, bucket string, opts RangeOptions) ([]Entry, error)
	Close() error
}

const sequenceKeyWidth = 20

// SequenceKey encodes n so bytewise order matches numeric order.
func SequenceKey(n uint64) string {
	s := strconv.FormatUint(n, 10)
	return strings.Repeat("0", sequenceKeyWidth-len(s)) + s
}

// ParseSequenceKey reverses SequenceKey.
func ParseSequenceKey(key string) (uint64, error) {
	if len(key) != sequenceKeyWidth {
		return 0, fmt.Errorf("%w: sequence key %q", ErrInvalidKey, key)
	}
	n, err := strconv.ParseUint(key, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: sequence key %q", ErrInvalidKey, key)
	}
	return n, nil
}

func validate(bucket, key string) error {
	if strings.TrimSpace(bucket) == "" {
		return ErrInvalidBucket
	}
	if key == "" {
		return ErrInvalidKey
	}
	return nil
}
