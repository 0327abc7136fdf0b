package codegen

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore reads counts without locking and only serialises NextSequence,
// which is how the count query and the sequence upsert behave in Postgres.
type fakeStore struct {
	mu         sync.Mutex
	categories map[int64]string
	codes      []string
	requests   []string
	seq        map[string]int64
	delay      time.Duration
	failName   error
	failSeq    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{categories: map[int64]string{}, seq: map[string]int64{}}
}

func (s *fakeStore) CategoryName(_ context.Context, id int64) (string, error) {
	if s.failName != nil {
		return "", s.failName
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	name, ok := s.categories[id]
	if !ok {
		return "", errors.New("missing category")
	}
	return name, nil
}

func (s *fakeStore) CountItemCodesWithPrefix(_ context.Context, prefix string) (int64, error) {
	s.mu.Lock()
	var n int64
	for _, c := range s.codes {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	s.mu.Unlock()
	time.Sleep(s.delay)
	return n, nil
}

func (s *fakeStore) CountRequestNumbersForYear(_ context.Context, year int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.requests {
		if strings.HasPrefix(r, RequestYearPrefix(year)) {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) ItemCodeExists(_ context.Context, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.codes {
		if c == code {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) NextSequence(_ context.Context, scope string, floor int64) (int64, error) {
	if s.failSeq != nil {
		return 0, s.failSeq
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	last := s.seq[scope]
	if floor > last {
		last = floor
	}
	last++
	s.seq[scope] = last
	return last, nil
}

func (s *fakeStore) addCode(code string) {
	s.mu.Lock()
	s.codes = append(s.codes, code)
	s.mu.Unlock()
}

type countingRecorder struct {
	mu    sync.Mutex
	kinds []string
}

func (r *countingRecorder) CodeFallback(kind string) {
	r.mu.Lock()
	r.kinds = append(r.kinds, kind)
	r.mu.Unlock()
}

func TestPrefixFor(t *testing.T) {
	cases := map[string]string{
		"Paper & Printing":         "PPR",
		"  writing   instruments ": "WRT",
		"Filing & Storage":         "FIL",
		"Élan Office":              "ELA",
		"3M Products":              "MPR",
		"Kabel":                    "KAB",
		"Ab":                       "AB",
		"1234 !!":                  DefaultPrefix,
		"":                         DefaultPrefix,
	}
	for name, want := range cases {
		assert.Equal(t, want, PrefixFor(name), name)
	}
}

func TestItemCodeSequentialWithinCategory(t *testing.T) {
	store := newFakeStore()
	store.categories[1] = "Paper & Printing"
	gen := NewGenerator(nil, nil)
	ctx := context.Background()

	first := gen.ItemCode(ctx, store, 1)
	store.addCode(first)
	second := gen.ItemCode(ctx, store, 1)

	require.Equal(t, "PPR-001", first)
	require.Equal(t, "PPR-002", second)
}

func TestItemCodeSeedsFromExistingCodes(t *testing.T) {
	store := newFakeStore()
	store.categories[2] = "Batteries"
	for _, c := range []string{"BAT-001", "BAT-002", "BAT-003"} {
		store.addCode(c)
	}
	code := NewGenerator(nil, nil).ItemCode(context.Background(), store, 2)
	require.Equal(t, "BAT-004", code)
}

func TestItemCodeNotReusedAfterDelete(t *testing.T) {
	store := newFakeStore()
	store.categories[1] = "Envelopes"
	gen := NewGenerator(nil, nil)
	ctx := context.Background()

	require.Equal(t, "ENV-001", gen.ItemCode(ctx, store, 1))
	require.Equal(t, "ENV-002", gen.ItemCode(ctx, store, 1))
	// nothing persisted: counts stay at zero, the counter still advances
	require.Equal(t, "ENV-003", gen.ItemCode(ctx, store, 1))
}

func TestItemCodeUniqueUnderConcurrency(t *testing.T) {
	store := newFakeStore()
	store.categories[1] = "Paper & Printing"
	store.delay = 5 * time.Millisecond
	gen := NewGenerator(nil, nil)

	const k = 16
	codes := make([]string, k)
	var wg sync.WaitGroup
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i] = gen.ItemCode(context.Background(), store, 1)
			store.addCode(codes[i])
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, c := range codes {
		require.False(t, seen[c], "duplicate code %s", c)
		require.True(t, strings.HasPrefix(c, "PPR-"))
		seen[c] = true
	}
}

func TestItemCodeFailsOpen(t *testing.T) {
	store := newFakeStore()
	store.failName = errors.New("connection refused")
	rec := &countingRecorder{}
	gen := NewGenerator(nil, rec)
	gen.now = func() time.Time { return time.Unix(0, 1700000000000000000) }

	code := gen.ItemCode(context.Background(), store, 9)
	require.Equal(t, "ATK-1700000000000000000", code)
	require.Equal(t, []string{"item"}, rec.kinds)
}

func TestItemCodeSkipsExplicitlyTakenCodes(t *testing.T) {
	store := newFakeStore()
	store.categories[1] = "Paper & Printing"
	store.addCode("PPR-002")
	store.addCode("PPR-003")
	gen := NewGenerator(nil, nil)
	ctx := context.Background()

	first := gen.ItemCode(ctx, store, 1)
	require.Equal(t, "PPR-004", first)
	store.addCode(first)
	require.Equal(t, "PPR-005", gen.ItemCode(ctx, store, 1))
}

// savepointStore records how the generator's scope ended.
type savepointStore struct {
	*fakeStore
	released   bool
	rolledBack bool
}

func (s *savepointStore) Scoped(ctx context.Context, fn func(context.Context, Store) error) error {
	if err := fn(ctx, s.fakeStore); err != nil {
		s.rolledBack = true
		return err
	}
	s.released = true
	return nil
}

func TestItemCodeRunsInsideScope(t *testing.T) {
	store := &savepointStore{fakeStore: newFakeStore()}
	store.categories[1] = "Paper & Printing"

	code := NewGenerator(nil, nil).ItemCode(context.Background(), store, 1)
	require.Equal(t, "PPR-001", code)
	require.True(t, store.released)
	require.False(t, store.rolledBack)
}

func TestItemCodeRollsBackScopeBeforeFallback(t *testing.T) {
	store := &savepointStore{fakeStore: newFakeStore()}
	store.categories[1] = "Paper & Printing"
	store.failSeq = errors.New("could not serialize access")
	rec := &countingRecorder{}
	gen := NewGenerator(nil, rec)
	gen.now = func() time.Time { return time.Unix(0, 42) }

	code := gen.ItemCode(context.Background(), store, 1)
	require.Equal(t, "PPR-42", code)
	require.True(t, store.rolledBack)
	require.False(t, store.released)
	require.Equal(t, []string{"item"}, rec.kinds)
}

func TestRequestNumberPerYear(t *testing.T) {
	store := newFakeStore()
	store.requests = []string{"REQ-2025-001", "REQ-2025-002", "REQ-2026-001"}
	gen := NewGenerator(nil, nil)
	ctx := context.Background()

	n, err := gen.RequestNumber(ctx, store, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, "REQ-2026-002", n)

	n, err = gen.RequestNumber(ctx, store, time.Date(2027, 1, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, "REQ-2027-001", n)
}

func TestFormatting(t *testing.T) {
	require.Equal(t, "WRT-007", FormatItemCode("WRT", 7))
	require.Equal(t, "WRT-1234", FormatItemCode("WRT", 1234))
	require.Equal(t, "REQ-2026-045", FormatRequestNumber(2026, 45))
	require.Equal(t, "PPR-01", NormalizeCode("  ppr-01 "))
}
