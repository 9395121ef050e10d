package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DocumentRecord is the row layout used by SQLStore.
type DocumentRecord struct {
	Seq       uint           `gorm:"primaryKey;autoIncrement"`
	Path      string         `gorm:"size:255;not null;uniqueIndex:idx_documents_path_doc"`
	DocID     string         `gorm:"size:128;not null;uniqueIndex:idx_documents_path_doc"`
	Fields    datatypes.JSON `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName implements gorm's tabler.
func (DocumentRecord) TableName() string {
	return "documents"
}

// SQLOptions configures a gorm backed store.
type SQLOptions struct {
	DB *gorm.DB
	// Notifier fans out change signals. Defaults to a LocalNotifier.
	Notifier Notifier
	Now      func() time.Time
	Logger   zerolog.Logger
}

// SQLStore keeps documents as JSON rows through gorm (Postgres or SQLite).
type SQLStore struct {
	db       *gorm.DB
	notifier Notifier
	now      func() time.Time
	logger   zerolog.Logger
}

// NewSQLStore migrates the documents table and returns the store.
func NewSQLStore(opts SQLOptions) (*SQLStore, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("gorm db must not be nil")
	}
	if err := opts.DB.AutoMigrate(&DocumentRecord{}); err != nil {
		return nil, fmt.Errorf("migrate documents: %w", err)
	}

	notifier := opts.Notifier
	if notifier == nil {
		notifier = NewLocalNotifier()
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	return &SQLStore{
		db:       opts.DB,
		notifier: notifier,
		now:      now,
		logger:   opts.Logger.With().Str("component", "sql_store").Logger(),
	}, nil
}

func (s *SQLStore) SubscribeQuery(ctx context.Context, path, orderBy string) (Subscription, error) {
	return s.subscribe(ctx, path, orderBy)
}

func (s *SQLStore) SubscribeCollection(ctx context.Context, path string) (Subscription, error) {
	return s.subscribe(ctx, path, "")
}

func (s *SQLStore) subscribe(ctx context.Context, path, orderBy string) (Subscription, error) {
	changes, cancel, err := s.notifier.Subscribe(path)
	if err != nil {
		return nil, err
	}
	load := func(loadCtx context.Context) ([]Document, error) {
		return s.List(loadCtx, path)
	}
	return watch(ctx, path, orderBy, changes, load, s.now, s.logger, func() error {
		cancel()
		return nil
	}), nil
}

func (s *SQLStore) Get(ctx context.Context, path, id string) (Document, error) {
	var record DocumentRecord
	err := s.db.WithContext(ctx).Where("path = ? AND doc_id = ?", path, id).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get %s/%s: %w", path, id, err)
	}
	return recordToDocument(record)
}

func (s *SQLStore) List(ctx context.Context, path string) ([]Document, error) {
	var records []DocumentRecord
	if err := s.db.WithContext(ctx).Where("path = ?", path).Order("seq ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list %s: %w", path, err)
	}

	docs := make([]Document, 0, len(records))
	for _, record := range records {
		doc, err := recordToDocument(record)
		if err != nil {
			s.logger.Warn().Err(err).Str("path", path).Str("id", record.DocID).Msg("skipping undecodable document")
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *SQLStore) Upsert(ctx context.Context, path, id string, fields Fields, opts SetOptions) error {
	resolved := resolveTimestamps(fields, s.now())

	err := s.mutate(ctx, path, id, func(existing Fields) Fields {
		return mergeFields(existing, resolved, opts)
	})
	if err != nil {
		return fmt.Errorf("upsert %s/%s: %w", path, id, err)
	}

	s.notify(ctx, path)
	return nil
}

func (s *SQLStore) Increment(ctx context.Context, path, id, field string, delta int64) (int64, error) {
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

// mutate rewrites one document inside a transaction holding its row lock.
// apply receives nil for a new document.
func (s *SQLStore) mutate(ctx context.Context, path, id string, apply func(existing Fields) Fields) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record DocumentRecord
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("path = ? AND doc_id = ?", path, id).
			First(&record).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			encoded, err := encodeFields(apply(nil))
			if err != nil {
				return err
			}
			return tx.Create(&DocumentRecord{Path: path, DocID: id, Fields: datatypes.JSON(encoded)}).Error
		}
		if err != nil {
			return err
		}

		existing, err := decodeFields(record.Fields)
		if err != nil {
			return err
		}
		encoded, err := encodeFields(apply(existing))
		if err != nil {
			return err
		}
		return tx.Model(&record).Update("fields", datatypes.JSON(encoded)).Error
	})
}

func (s *SQLStore) Create(ctx context.Context, path string, fields Fields) (string, error) {
	encoded, err := encodeFields(resolveTimestamps(fields, s.now()))
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	record := DocumentRecord{Path: path, DocID: id, Fields: datatypes.JSON(encoded)}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}

	s.notify(ctx, path)
	return id, nil
}

func (s *SQLStore) Delete(ctx context.Context, path, id string) error {
	err := s.db.WithContext(ctx).Where("path = ? AND doc_id = ?", path, id).Delete(&DocumentRecord{}).Error
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", path, id, err)
	}

	s.notify(ctx, path)
	return nil
}

func (s *SQLStore) notify(ctx context.Context, path string) {
	if err := s.notifier.Notify(ctx, path); err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("failed to publish change notification")
	}
}

// Close releases the underlying connection pool.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func recordToDocument(record DocumentRecord) (Document, error) {
	fields, err := decodeFields(record.Fields)
	if err != nil {
		return Document{}, err
	}
	return Document{ID: record.DocID, Fields: fields}, nil
}
