package store

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"
)

// memoryStore implements Store with mutex-guarded maps. It honors the same
// contract as the Redis implementation and exists for deterministic tests
// and single-process deployments.
type memoryStore struct {
	mu        sync.Mutex
	strings   map[string]string
	hashes    map[string]map[string]string
	lists     map[string][]string
	zsets     map[string]map[string]float64
	sets      map[string]map[string]struct{}
	deadlines map[string]time.Time

	now func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() Store {
	return &memoryStore{
		strings:   make(map[string]string),
		hashes:    make(map[string]map[string]string),
		lists:     make(map[string][]string),
		zsets:     make(map[string]map[string]float64),
		sets:      make(map[string]map[string]struct{}),
		deadlines: make(map[string]time.Time),
		now:       time.Now,
	}
}

// purgeExpired drops a key in every namespace once its deadline passed.
// Caller must hold mu.
func (s *memoryStore) purgeExpired(key string) {
	deadline, ok := s.deadlines[key]
	if !ok || s.now().Before(deadline) {
		return
	}
	delete(s.deadlines, key)
	delete(s.strings, key)
	delete(s.hashes, key)
	delete(s.lists, key)
	delete(s.zsets, key)
	delete(s.sets, key)
}

func (s *memoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeExpired(key)
	return s.strings[key], nil
}

func (s *memoryStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// SET discards any TTL, as in Redis.
	delete(s.deadlines, key)
	s.strings[key] = value
	return nil
}

func (s *memoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.deadlines, key)
	delete(s.strings, key)
	delete(s.hashes, key)
	delete(s.lists, key)
	delete(s.zsets, key)
	delete(s.sets, key)
	return nil
}

func (s *memoryStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadlines[key] = s.now().Add(ttl)
	return nil
}

func (s *memoryStore) IncrBy(ctx context.Context, key string, n int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeExpired(key)
	cur, _ := strconv.ParseInt(s.strings[key], 10, 64)
	cur += n
	s.strings[key] = strconv.FormatInt(cur, 10)
	return cur, nil
}

func (s *memoryStore) DecrBy(ctx context.Context, key string, n int64) (int64, error) {
	return s.IncrBy(ctx, key, -n)
}

func (s *memoryStore) ConditionalDecrBy(ctx context.Context, key string, n, floor int64) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeExpired(key)
	cur, _ := strconv.ParseInt(s.strings[key], 10, 64)
	if cur-n < floor {
		return cur, false, nil
	}
	cur -= n
	s.strings[key] = strconv.FormatInt(cur, 10)
	return cur, true, nil
}

func (s *memoryStore) HashSet(ctx context.Context, key string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeExpired(key)
	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string]string, len(fields))
		s.hashes[key] = h
	}
	for f, v := range fields {
		h[f] = v
	}
	return nil
}

func (s *memoryStore) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeExpired(key)
	out := make(map[string]string, len(s.hashes[key]))
	for f, v := range s.hashes[key] {
		out[f] = v
	}
	return out, nil
}

func (s *memoryStore) ListPush(ctx context.Context, key string, values ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeExpired(key)
	// LPUSH semantics: each value in turn becomes the new head.
	for _, v := range values {
		s.lists[key] = append([]string{v}, s.lists[key]...)
	}
	return nil
}

func (s *memoryStore) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeExpired(key)
	list := s.lists[key]
	n := int64(len(list))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop || start >= n {
		return nil, nil
	}
	out := make([]string, stop-start+1)
	copy(out, list[start:stop+1])
	return out, nil
}

func (s *memoryStore) SortedSetAdd(ctx context.Context, key string, score float64, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeExpired(key)
	z, ok := s.zsets[key]
	if !ok {
		z = make(map[string]float64)
		s.zsets[key] = z
	}
	z[member] = score
	return nil
}

func (s *memoryStore) SortedSetAddNX(ctx context.Context, key string, score float64, member string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeExpired(key)
	z, ok := s.zsets[key]
	if !ok {
		z = make(map[string]float64)
		s.zsets[key] = z
	}
	if _, exists := z[member]; exists {
		return false, nil
	}
	z[member] = score
	return true, nil
}

func (s *memoryStore) SortedSetRemove(ctx context.Context, key, member string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeExpired(key)
	z := s.zsets[key]
	if _, exists := z[member]; !exists {
		return false, nil
	}
	delete(z, member)
	return true, nil
}

func (s *memoryStore) SortedSetRemoveByScoreRange(ctx context.Context, key string, min, max float64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeExpired(key)
	var removed int64
	for member, score := range s.zsets[key] {
		if score >= min && score <= max {
			delete(s.zsets[key], member)
			removed++
		}
	}
	return removed, nil
}

func (s *memoryStore) SortedSetRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeExpired(key)
	type entry struct {
		member string
		score  float64
	}
	var entries []entry
	for member, score := range s.zsets[key] {
		if score >= min && score <= max {
			entries = append(entries, entry{member, score})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].score != entries[j].score {
			return entries[i].score < entries[j].score
		}
		return entries[i].member < entries[j].member
	})
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.member
	}
	return out, nil
}

func (s *memoryStore) SortedSetCard(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeExpired(key)
	return int64(len(s.zsets[key])), nil
}

func (s *memoryStore) SetAdd(ctx context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeExpired(key)
	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{})
		s.sets[key] = set
	}
	set[member] = struct{}{}
	return nil
}

func (s *memoryStore) SetRemove(ctx context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeExpired(key)
	delete(s.sets[key], member)
	return nil
}

func (s *memoryStore) SetCard(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeExpired(key)
	return int64(len(s.sets[key])), nil
}

// Batch applies the queued operations sequentially. There is no pipelining
// to save in memory; the value is contract parity with the Redis store,
// including the absence of any atomicity across the queued operations.
func (s *memoryStore) Batch(ctx context.Context, fn func(b BatchOps) error) error {
	return fn(&memoryBatch{ctx: ctx, store: s})
}

type memoryBatch struct {
	ctx   context.Context
	store *memoryStore
}

func (b *memoryBatch) SortedSetAdd(key string, score float64, member string) {
	b.store.SortedSetAdd(b.ctx, key, score, member)
}

func (b *memoryBatch) SetAdd(key, member string) {
	b.store.SetAdd(b.ctx, key, member)
}

func (b *memoryBatch) ListPush(key string, values ...string) {
	b.store.ListPush(b.ctx, key, values...)
}

func (b *memoryBatch) HashSet(key string, fields map[string]string) {
	b.store.HashSet(b.ctx, key, fields)
}

func (b *memoryBatch) Expire(key string, ttl time.Duration) {
	b.store.Expire(b.ctx, key, ttl)
}
