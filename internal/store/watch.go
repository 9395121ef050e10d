package store

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

type loader func(ctx context.Context) ([]Document, error)

// watch emits an initial snapshot and a fresh one after every change signal.
func watch(parent context.Context, path, orderBy string, changes <-chan struct{}, load loader, now func() time.Time, logger zerolog.Logger, cleanup func() error) Subscription {
	return Run(parent, func(ctx context.Context, emit func(Snapshot)) {
		publish := func() {
			docs, err := load(ctx)
			if err != nil {
				if ctx.Err() == nil {
					logger.Warn().Err(err).Str("path", path).Msg("failed to load snapshot")
				}
				return
			}
			emit(Snapshot{Path: path, Documents: orderDocuments(docs, orderBy), ReadAt: now()})
		}

		publish()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-changes:
				if !ok {
					return
				}
				publish()
			}
		}
	}, cleanup)
}
