package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const maxMergeAttempts = 16

// RedisOptions configures a Redis backed store.
type RedisOptions struct {
	Client *redis.Client
	// Prefix namespaces every key and channel, e.g. "chat".
	Prefix string
	Logger zerolog.Logger
}

// RedisStore keeps documents in Redis hashes and fans out changes over Redis pub/sub.
//
// Key layout:
//
//	{prefix}:doc:{path}      HASH  id -> encoded fields
//	{prefix}:order:{path}    ZSET  id scored by arrival sequence
//	{prefix}:seq             STRING arrival counter
//	{prefix}:changes:{path}  channel notified after every write
type RedisStore struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
}

// NewRedisStore wraps an existing client.
func NewRedisStore(opts RedisOptions) (*RedisStore, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("redis client must not be nil")
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "chat"
	}
	return &RedisStore{
		client: opts.Client,
		prefix: prefix,
		logger: opts.Logger.With().Str("component", "redis_store").Logger(),
	}, nil
}

func (s *RedisStore) docKey(path string) string {
	return fmt.Sprintf("%s:doc:%s", s.prefix, path)
}

func (s *RedisStore) orderKey(path string) string {
	return fmt.Sprintf("%s:order:%s", s.prefix, path)
}

func (s *RedisStore) seqKey() string {
	return s.prefix + ":seq"
}

func (s *RedisStore) channel(path string) string {
	return fmt.Sprintf("%s:changes:%s", s.prefix, path)
}

func (s *RedisStore) SubscribeQuery(ctx context.Context, path, orderBy string) (Subscription, error) {
	return s.subscribe(ctx, path, orderBy)
}

func (s *RedisStore) SubscribeCollection(ctx context.Context, path string) (Subscription, error) {
	return s.subscribe(ctx, path, "")
}

func (s *RedisStore) subscribe(ctx context.Context, path, orderBy string) (Subscription, error) {
	pubsub := s.client.Subscribe(ctx, s.channel(path))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", path, err)
	}

	changes := make(chan struct{}, 1)
	messages := pubsub.Channel()
	go func() {
		defer close(changes)
		for range messages {
			select {
			case changes <- struct{}{}:
			default:
			}
		}
	}()

	load := func(loadCtx context.Context) ([]Document, error) {
		return s.List(loadCtx, path)
	}
	return watch(ctx, path, orderBy, changes, load, s.serverNow(ctx), s.logger, pubsub.Close), nil
}

// serverNow reads the Redis clock, falling back to the local clock.
func (s *RedisStore) serverNow(ctx context.Context) func() time.Time {
	return func() time.Time {
		now, err := s.client.Time(ctx).Result()
		if err != nil {
			return time.Now().UTC()
		}
		return now.UTC()
	}
}

func (s *RedisStore) Get(ctx context.Context, path, id string) (Document, error) {
	raw, err := s.client.HGet(ctx, s.docKey(path), id).Bytes()
	if errors.Is(err, redis.Nil) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get %s/%s: %w", path, id, err)
	}
	fields, err := decodeFields(raw)
	if err != nil {
		return Document{}, err
	}
	return Document{ID: id, Fields: fields}, nil
}

func (s *RedisStore) List(ctx context.Context, path string) ([]Document, error) {
	ids, err := s.client.ZRange(ctx, s.orderKey(path), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", path, err)
	}
	if len(ids) == 0 {
		return []Document{}, nil
	}

	values, err := s.client.HMGet(ctx, s.docKey(path), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", path, err)
	}

	docs := make([]Document, 0, len(ids))
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		fields, err := decodeFields([]byte(raw))
		if err != nil {
			s.logger.Warn().Err(err).Str("path", path).Str("id", ids[i]).Msg("skipping undecodable document")
			continue
		}
		docs = append(docs, Document{ID: ids[i], Fields: fields})
	}
	return docs, nil
}

func (s *RedisStore) Upsert(ctx context.Context, path, id string, fields Fields, opts SetOptions) error {
	now, err := s.client.Time(ctx).Result()
	if err != nil {
		return fmt.Errorf("read server time: %w", err)
	}
	resolved := resolveTimestamps(fields, now.UTC())

	err = s.mutate(ctx, path, id, func(existing Fields) Fields {
		return mergeFields(existing, resolved, opts)
	})
	if err != nil {
		return fmt.Errorf("upsert %s/%s: %w", path, id, err)
	}

	s.notify(ctx, path)
	return nil
}

func (s *RedisStore) Increment(ctx context.Context, path, id, field string, delta int64) (int64, error) {
	var next int64
	err := s.mutate(ctx, path, id, func(existing Fields) Fields {
		var out Fields
		out, next = incrementField(existing, field, delta)
		return out
	})
	if err != nil {
		return 0, fmt.Errorf("increment %s/%s.%s: %w", path, id, field, err)
	}

	s.notify(ctx, path)
	return next, nil
}

// mutate rewrites one document under WATCH, retrying when another writer
// touched the hash in between. apply receives nil for a new document.
func (s *RedisStore) mutate(ctx context.Context, path, id string, apply func(existing Fields) Fields) error {
	docKey := s.docKey(path)
	txn := func(tx *redis.Tx) error {
		var existing Fields
		raw, err := tx.HGet(ctx, docKey, id).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if existing, err = decodeFields(raw); err != nil {
				return err
			}
		}

		encoded, err := encodeFields(apply(existing))
		if err != nil {
			return err
		}

		isNew := existing == nil
		var seq int64
		if isNew {
			if seq, err = tx.Incr(ctx, s.seqKey()).Result(); err != nil {
				return err
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, docKey, id, encoded)
			if isNew {
				pipe.ZAddNX(ctx, s.orderKey(path), redis.Z{Score: float64(seq), Member: id})
			}
			return nil
		})
		return err
	}

	var err error
	for attempt := 0; attempt < maxMergeAttempts; attempt++ {
		err = s.client.Watch(ctx, txn, docKey)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	return err
}

func (s *RedisStore) Create(ctx context.Context, path string, fields Fields) (string, error) {
	now, err := s.client.Time(ctx).Result()
	if err != nil {
		return "", fmt.Errorf("read server time: %w", err)
	}

	encoded, err := encodeFields(resolveTimestamps(fields, now.UTC()))
	if err != nil {
		return "", err
	}

	seq, err := s.client.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}

	id := uuid.NewString()
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.docKey(path), id, encoded)
		pipe.ZAdd(ctx, s.orderKey(path), redis.Z{Score: float64(seq), Member: id})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}

	s.notify(ctx, path)
	return id, nil
}

func (s *RedisStore) Delete(ctx context.Context, path, id string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, s.docKey(path), id)
		pipe.ZRem(ctx, s.orderKey(path), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", path, id, err)
	}

	s.notify(ctx, path)
	return nil
}

func (s *RedisStore) notify(ctx context.Context, path string) {
	if err := s.client.Publish(ctx, s.channel(path), "changed").Err(); err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("failed to publish change notification")
	}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
