package redisflow

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/unkn0wn-root/redisflow/internal/util"
)

const (
	keySep = "::"

	maxKeyLen  = 200
	keepPrefix = 64
)

var keyEscaper = strings.NewReplacer(`\`, `\\`, `,`, `\,`, `#`, `\#`)

// Escape sequences keyEscaper never produces, so they cannot clash with a part.
const (
	nilPart  = `\0`
	emptyKey = `\_`
)

// Key derives a cache key from identifying arguments. Equal argument tuples give
// equal keys and distinct tuples give distinct keys: each part is escaped and
// parts are joined with ','. A single plain id maps to itself (Key("001") == "001").
// Keys longer than 200 bytes are shortened to a prefix plus an unescaped '#' and
// a SHA-256 digest; the prefix never ends inside an escape.
func Key(args ...any) string {
	if len(args) == 0 {
		return emptyKey
	}
	parts := make([]string, len(args))
	for i, a := range args {
		if a == nil {
			parts[i] = nilPart
			continue
		}
		parts[i] = keyEscaper.Replace(keyPart(a))
	}
	k := strings.Join(parts, ",")
	if len(k) > maxKeyLen {
		return util.HashKey(k, escapeBoundary(k, keepPrefix))
	}
	return k
}

// escapeBoundary returns the first offset >= n that does not split a `\x` pair.
func escapeBoundary(k string, n int) int {
	i := 0
	for i < n && i < len(k) {
		if k[i] == '\\' {
			i += 2
		} else {
			i++
		}
	}
	return min(i, len(k))
}

func keyPart(a any) string {
	switch v := a.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case bool:
		return strconv.FormatBool(v)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// KeyFunc is an explicit key-extraction rule, e.g. func(p Product) string { return p.ID }.
type KeyFunc[A any] func(A) string

// Bound applies a KeyFunc to every call, so call sites pass the identifying
// argument instead of a key.
type Bound[A, V any] struct {
	c   Coordinator[V]
	key KeyFunc[A]
}

func Bind[A, V any](c Coordinator[V], key KeyFunc[A]) (*Bound[A, V], error) {
	if c == nil {
		return nil, &ConfigError{Field: "coordinator", Reason: "required"}
	}
	if key == nil {
		return nil, &ConfigError{Field: "key func", Reason: "required"}
	}
	return &Bound[A, V]{c: c, key: key}, nil
}

func (b *Bound[A, V]) Key(arg A) string { return b.key(arg) }

func (b *Bound[A, V]) Get(ctx context.Context, arg A) (V, bool, error) {
	return b.c.Get(ctx, b.key(arg))
}

func (b *Bound[A, V]) GetOrCompute(ctx context.Context, arg A, ttl time.Duration, compute func(context.Context, A) (V, error)) (V, error) {
	if compute == nil {
		var zero V
		return zero, &ConfigError{Field: "compute", Reason: "required"}
	}
	return b.c.GetOrCompute(ctx, b.key(arg), ttl, func(ctx context.Context) (V, error) {
		return compute(ctx, arg)
	})
}

func (b *Bound[A, V]) Put(ctx context.Context, arg A, value V, ttl time.Duration) error {
	return b.c.Put(ctx, b.key(arg), value, ttl)
}

func (b *Bound[A, V]) Evict(ctx context.Context, arg A) error {
	return b.c.Evict(ctx, b.key(arg))
}
