package coord

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"dogwalker/pkg/logx"
)

// casAttempts bounds the compare-and-swap retry loops. Contention on a single
// key is limited to the worker pool size, so a small bound is plenty.
const casAttempts = 16

// NatsStore implements Store on a JetStream key-value bucket.
//
// Counters use a CAS loop on the entry revision. Lists are modeled as a
// length counter plus one entry per element, so appends from concurrent
// writers serialize through the counter CAS and element slots never collide.
// Expiry is enforced at the bucket level (MaxAge = the retention window);
// per-call TTLs shorter than the window are satisfied by that upper bound.
type NatsStore struct {
	kv     jetstream.KeyValue
	logger *logx.Logger
}

// NewNatsStore connects the store to the named KV bucket, creating it with
// the given retention window if needed.
func NewNatsStore(ctx context.Context, nc *nats.Conn, bucket string, retention time.Duration) (*NatsStore, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "dogwalker coordination state",
		TTL:         retention,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open KV bucket %s: %w", bucket, err)
	}

	return &NatsStore{
		kv:     kv,
		logger: logx.NewLogger("coord"),
	}, nil
}

// sanitizeKey maps store key names onto the KV key alphabet (':' is not a
// valid KV key character).
func sanitizeKey(key string) string {
	return strings.ReplaceAll(key, ":", ".")
}

func (s *NatsStore) Get(ctx context.Context, key string) (string, bool, error) {
	e, err := s.kv.Get(ctx, sanitizeKey(key))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: get %s: %w", ErrUnavailable, key, err)
	}
	return string(e.Value()), true, nil
}

func (s *NatsStore) Set(ctx context.Context, key, value string, _ time.Duration) error {
	if _, err := s.kv.Put(ctx, sanitizeKey(key), []byte(value)); err != nil {
		return fmt.Errorf("%w: set %s: %w", ErrUnavailable, key, err)
	}
	return nil
}

func (s *NatsStore) SetNX(ctx context.Context, key, value string, _ time.Duration) (bool, error) {
	_, err := s.kv.Create(ctx, sanitizeKey(key), []byte(value))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return false, nil
		}
		return false, fmt.Errorf("%w: setnx %s: %w", ErrUnavailable, key, err)
	}
	return true, nil
}

func (s *NatsStore) Delete(ctx context.Context, key string) (bool, error) {
	k := sanitizeKey(key)

	if _, err := s.kv.Get(ctx, k); err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("%w: delete %s: %w", ErrUnavailable, key, err)
	}
	if err := s.kv.Purge(ctx, k); err != nil {
		return false, fmt.Errorf("%w: delete %s: %w", ErrUnavailable, key, err)
	}
	return true, nil
}

func (s *NatsStore) Incr(ctx context.Context, key string, _ time.Duration) (int64, error) {
	return s.addClamped(ctx, sanitizeKey(key), 1)
}

func (s *NatsStore) Decr(ctx context.Context, key string) (int64, error) {
	return s.addClamped(ctx, sanitizeKey(key), -1)
}

// addClamped applies a +1/-1 delta via a revision CAS loop, flooring at zero.
func (s *NatsStore) addClamped(ctx context.Context, key string, delta int64) (int64, error) {
	for attempt := 0; attempt < casAttempts; attempt++ {
		e, err := s.kv.Get(ctx, key)
		if err != nil {
			if !errors.Is(err, jetstream.ErrKeyNotFound) {
				return 0, fmt.Errorf("%w: counter %s: %w", ErrUnavailable, key, err)
			}
			next := delta
			if next < 0 {
				next = 0
			}
			if _, cerr := s.kv.Create(ctx, key, []byte(strconv.FormatInt(next, 10))); cerr != nil {
				if errors.Is(cerr, jetstream.ErrKeyExists) {
					continue // lost the race, re-read
				}
				return 0, fmt.Errorf("%w: counter %s: %w", ErrUnavailable, key, cerr)
			}
			return next, nil
		}

		current, perr := strconv.ParseInt(string(e.Value()), 10, 64)
		if perr != nil {
			return 0, fmt.Errorf("counter %s holds non-numeric value %q", key, e.Value())
		}
		next := current + delta
		if next < 0 {
			next = 0
		}
		if _, uerr := s.kv.Update(ctx, key, []byte(strconv.FormatInt(next, 10)), e.Revision()); uerr == nil {
			return next, nil
		}
		// Revision moved under us; retry with a fresh read.
	}
	return 0, fmt.Errorf("counter %s: CAS contention exceeded %d attempts", key, casAttempts)
}

func lenKey(key string) string { return key + "._len" }
func elemKey(key string, i int) string { return fmt.Sprintf("%s._e.%d", key, i) }

func (s *NatsStore) Append(ctx context.Context, key, value string, _ time.Duration) (int, error) {
	k := sanitizeKey(key)

	n, err := s.addClamped(ctx, lenKey(k), 1)
	if err != nil {
		return 0, err
	}
	// Slot n-1 belongs exclusively to this writer.
	if _, err := s.kv.Put(ctx, elemKey(k, int(n)-1), []byte(value)); err != nil {
		return 0, fmt.Errorf("%w: append %s: %w", ErrUnavailable, key, err)
	}
	return int(n), nil
}

func (s *NatsStore) List(ctx context.Context, key string, from int) ([]string, error) {
	k := sanitizeKey(key)

	length, err := s.Len(ctx, key)
	if err != nil {
		return nil, err
	}
	if from < 0 {
		from = 0
	}

	var out []string
	for i := from; i < length; i++ {
		e, gerr := s.kv.Get(ctx, elemKey(k, i))
		if gerr != nil {
			if errors.Is(gerr, jetstream.ErrKeyNotFound) {
				// Length counter advanced ahead of the element write; expose
				// only the contiguous prefix so readers never see gaps.
				break
			}
			return nil, fmt.Errorf("%w: list %s: %w", ErrUnavailable, key, gerr)
		}
		out = append(out, string(e.Value()))
	}
	return out, nil
}

func (s *NatsStore) Len(ctx context.Context, key string) (int, error) {
	raw, ok, err := s.Get(ctx, lenKey(key))
	if err != nil || !ok {
		return 0, err
	}
	n, perr := strconv.Atoi(raw)
	if perr != nil {
		return 0, fmt.Errorf("list length %s holds non-numeric value %q", key, raw)
	}
	return n, nil
}

func (s *NatsStore) Ping(ctx context.Context) error {
	if _, err := s.kv.Status(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}
