// Package codegen derives human readable item codes and request numbers.
//
// Counters live in a sequence table keyed by scope ("item:PPR",
// "request:2026"). Reserving a value bumps the row under its lock, seeded
// with the number of codes that already exist so that data imported without
// a counter row never collides.
package codegen

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Store is the data access the generator needs. Implementations run inside
// the caller's database transaction.
type Store interface {
	CategoryName(ctx context.Context, categoryID int64) (string, error)
	CountItemCodesWithPrefix(ctx context.Context, prefix string) (int64, error)
	ItemCodeExists(ctx context.Context, code string) (bool, error)
	CountRequestNumbersForYear(ctx context.Context, year int) (int64, error)
	// NextSequence atomically sets scope to max(current, floor)+1 and returns it.
	NextSequence(ctx context.Context, scope string, floor int64) (int64, error)
}

// Scoper is implemented by stores that can isolate the generator's statements
// so that a failed lookup leaves the caller's transaction usable.
type Scoper interface {
	Scoped(ctx context.Context, fn func(context.Context, Store) error) error
}

// maxCodeProbes bounds how far ItemCode walks past codes taken explicitly.
const maxCodeProbes = 100

// FallbackRecorder counts codes produced by the fail-open path.
type FallbackRecorder interface {
	CodeFallback(kind string)
}

// Generator produces item codes and request numbers.
type Generator struct {
	logger  *slog.Logger
	metrics FallbackRecorder
	now     func() time.Time
}

// NewGenerator constructs a generator. metrics may be nil.
func NewGenerator(logger *slog.Logger, metrics FallbackRecorder) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{logger: logger, metrics: metrics, now: time.Now}
}

// ItemCode reserves the next free code for the category's prefix, skipping
// sequence values already taken by explicitly coded items. Lookup failures
// never block item creation; they yield a timestamp suffixed code instead.
func (g *Generator) ItemCode(ctx context.Context, store Store, categoryID int64) string {
	prefix := DefaultPrefix
	var code string
	err := scoped(ctx, store, func(ctx context.Context, st Store) error {
		name, err := st.CategoryName(ctx, categoryID)
		if err != nil {
			return err
		}
		prefix = PrefixFor(name)

		floor, err := st.CountItemCodesWithPrefix(ctx, prefix+"-")
		if err != nil {
			return err
		}
		scope := ItemScope(prefix)
		for range maxCodeProbes {
			n, err := st.NextSequence(ctx, scope, floor)
			if err != nil {
				return err
			}
			candidate := FormatItemCode(prefix, n)
			taken, err := st.ItemCodeExists(ctx, candidate)
			if err != nil {
				return err
			}
			if !taken {
				code = candidate
				return nil
			}
			floor = n
		}
		return fmt.Errorf("codegen: no free %s code after %d attempts", prefix, maxCodeProbes)
	})
	if err != nil {
		return g.fallback(prefix, "item", err)
	}
	return code
}

func scoped(ctx context.Context, store Store, fn func(context.Context, Store) error) error {
	if sc, ok := store.(Scoper); ok {
		return sc.Scoped(ctx, fn)
	}
	return fn(ctx, store)
}

// RequestNumber reserves the next request number for the year of now.
func (g *Generator) RequestNumber(ctx context.Context, store Store, now time.Time) (string, error) {
	year := now.Year()
	floor, err := store.CountRequestNumbersForYear(ctx, year)
	if err != nil {
		return "", fmt.Errorf("codegen: count requests: %w", err)
	}
	n, err := store.NextSequence(ctx, RequestScope(year), floor)
	if err != nil {
		return "", fmt.Errorf("codegen: reserve request number: %w", err)
	}
	return FormatRequestNumber(year, n), nil
}

func (g *Generator) fallback(prefix, kind string, err error) string {
	code := fmt.Sprintf("%s-%d", prefix, g.now().UnixNano())
	g.logger.Warn("code generation fell back to timestamp",
		slog.String("kind", kind),
		slog.String("code", code),
		slog.Any("error", err),
	)
	if g.metrics != nil {
		g.metrics.CodeFallback(kind)
	}
	return code
}

// ItemScope is the sequence scope for an item prefix.
func ItemScope(prefix string) string {
	return "item:" + prefix
}

// RequestScope is the sequence scope for a request year.
func RequestScope(year int) string {
	return fmt.Sprintf("request:%d", year)
}

// FormatItemCode renders "{prefix}-{n:03d}".
func FormatItemCode(prefix string, n int64) string {
	return fmt.Sprintf("%s-%03d", prefix, n)
}

// FormatRequestNumber renders "REQ-{year}-{n:03d}".
func FormatRequestNumber(year int, n int64) string {
	return fmt.Sprintf("REQ-%d-%03d", year, n)
}

// RequestYearPrefix is the LIKE prefix shared by all request numbers of a year.
func RequestYearPrefix(year int) string {
	return fmt.Sprintf("REQ-%d-", year)
}

// NormalizeCode trims and upper-cases a caller supplied code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
