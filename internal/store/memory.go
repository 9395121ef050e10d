package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// MemoryOptions configures an in-process store.
type MemoryOptions struct {
	// Now is the store clock used to resolve server timestamps.
	Now func() time.Time
	// TimestampDelay simulates the acknowledgement latency of a remote store.
	// While it runs, created documents carry a nil value for server timestamp fields.
	TimestampDelay time.Duration
	Logger         zerolog.Logger
}

type memoryDoc struct {
	seq    int64
	fields Fields
}

type memoryEntry struct {
	id  string
	doc *memoryDoc
}

// MemoryStore is a Store kept entirely in process memory.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]*memoryDoc
	seq         int64
	closed      bool
	timers      map[*time.Timer]struct{}
	fan         *fanout
	now         func() time.Time
	delay       time.Duration
	logger      zerolog.Logger
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore(opts MemoryOptions) *MemoryStore {
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryStore{
		collections: make(map[string]map[string]*memoryDoc),
		timers:      make(map[*time.Timer]struct{}),
		fan:         newFanout(),
		now:         now,
		delay:       opts.TimestampDelay,
		logger:      opts.Logger.With().Str("component", "memory_store").Logger(),
	}
}

func (s *MemoryStore) SubscribeQuery(ctx context.Context, path, orderBy string) (Subscription, error) {
	return s.subscribe(ctx, path, orderBy)
}

func (s *MemoryStore) SubscribeCollection(ctx context.Context, path string) (Subscription, error) {
	return s.subscribe(ctx, path, "")
}

func (s *MemoryStore) subscribe(ctx context.Context, path, orderBy string) (Subscription, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	changes, cancel := s.fan.subscribe(path)
	load := func(context.Context) ([]Document, error) {
		return s.snapshot(path), nil
	}
	return watch(ctx, path, orderBy, changes, load, s.now, s.logger, func() error {
		cancel()
		return nil
	}), nil
}

func (s *MemoryStore) snapshot(path string) []Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]memoryEntry, 0, len(s.collections[path]))
	for id, doc := range s.collections[path] {
		entries = append(entries, memoryEntry{id: id, doc: doc})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].doc.seq < entries[j].doc.seq })

	docs := make([]Document, 0, len(entries))
	for _, entry := range entries {
		docs = append(docs, Document{ID: entry.id, Fields: entry.doc.fields.Clone()})
	}
	return docs
}

func (s *MemoryStore) Get(_ context.Context, path, id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Document{}, ErrClosed
	}
	doc, ok := s.collections[path][id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return Document{ID: id, Fields: doc.fields.Clone()}, nil
}

func (s *MemoryStore) List(_ context.Context, path string) ([]Document, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	return s.snapshot(path), nil
}

func (s *MemoryStore) Upsert(_ context.Context, path, id string, fields Fields, opts SetOptions) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}

	resolved := resolveTimestamps(fields, s.now())
	collection := s.collection(path)
	if existing, ok := collection[id]; ok {
		existing.fields = mergeFields(existing.fields, resolved, opts)
	} else {
		s.seq++
		collection[id] = &memoryDoc{seq: s.seq, fields: resolved}
	}
	s.mu.Unlock()

	s.fan.notify(path)
	return nil
}

func (s *MemoryStore) Create(_ context.Context, path string, fields Fields) (string, error) {
	id := uuid.NewString()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrClosed
	}

	var pending []string
	stored := fields.Clone()
	if s.delay > 0 {
		for key, value := range fields {
			if IsServerTimestamp(value) {
				stored[key] = nil
				pending = append(pending, key)
			}
		}
	} else {
		stored = resolveTimestamps(fields, s.now())
	}

	s.seq++
	s.collection(path)[id] = &memoryDoc{seq: s.seq, fields: stored}
	if len(pending) > 0 {
		s.scheduleResolve(path, id, pending)
	}
	s.mu.Unlock()

	s.fan.notify(path)
	return id, nil
}

func (s *MemoryStore) Increment(_ context.Context, path, id, field string, delta int64) (int64, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrClosed
	}

	collection := s.collection(path)
	doc, ok := collection[id]
	if !ok {
		s.seq++
		doc = &memoryDoc{seq: s.seq}
		collection[id] = doc
	}
	var next int64
	doc.fields, next = incrementField(doc.fields, field, delta)
	s.mu.Unlock()

	s.fan.notify(path)
	return next, nil
}

// scheduleResolve fills pending timestamp fields once the simulated ack
// arrives. Callers must hold s.mu.
func (s *MemoryStore) scheduleResolve(path, id string, keys []string) {
	var timer *time.Timer
	timer = time.AfterFunc(s.delay, func() {
		s.mu.Lock()
		delete(s.timers, timer)
		doc, ok := s.collections[path][id]
		if s.closed || !ok {
			s.mu.Unlock()
			return
		}
		now := s.now()
		for _, key := range keys {
			doc.fields[key] = now
		}
		s.mu.Unlock()

		s.fan.notify(path)
	})
	s.timers[timer] = struct{}{}
}

func (s *MemoryStore) Delete(_ context.Context, path, id string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	delete(s.collections[path], id)
	s.mu.Unlock()

	s.fan.notify(path)
	return nil
}

// Close stops pending timestamp acknowledgements. Open subscriptions keep
// their last snapshot until their own Close.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for timer := range s.timers {
		timer.Stop()
	}
	s.timers = map[*time.Timer]struct{}{}
	return nil
}

func (s *MemoryStore) collection(path string) map[string]*memoryDoc {
	collection, ok := s.collections[path]
	if !ok {
		collection = make(map[string]*memoryDoc)
		s.collections[path] = collection
	}
	return collection
}
