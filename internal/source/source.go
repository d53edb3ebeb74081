// Package source discovers job postings from external job boards.
package source

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jobhound/jobhound/internal/posting"
)

// Source is one job board the pipeline can discover postings from. Fetch
// returns the current batch of seeds; it must not mutate stored state.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]posting.Seed, error)
}

const fetchConcurrency = 4

// Registry fans a discovery pass out over all configured sources.
type Registry struct {
	sources []Source
	logger  *zap.Logger
}

func NewRegistry(logger *zap.Logger, sources ...Source) *Registry {
	r := &Registry{sources: sources, logger: logger}
	logger.Info("sources registered", zap.Strings("sources", r.Names()))
	return r
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.sources))
	for _, src := range r.sources {
		names = append(names, src.Name())
	}
	return names
}

// FetchAll queries every source concurrently. A failing source is logged and
// skipped so a single broken board does not kill the pass; the failure count
// goes into the run report.
func (r *Registry) FetchAll(ctx context.Context) ([]posting.Seed, int) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)

	var mu sync.Mutex
	var seeds []posting.Seed
	var failed atomic.Int64

	for _, src := range r.sources {
		g.Go(func() error {
			batch, err := src.Fetch(gctx)
			if err != nil {
				r.logger.Warn("source fetch failed",
					zap.String("source", src.Name()),
					zap.Error(err),
				)
				failed.Add(1)
				return nil
			}

			r.logger.Debug("source fetch done",
				zap.String("source", src.Name()),
				zap.Int("seeds", len(batch)),
			)

			mu.Lock()
			seeds = append(seeds, batch...)
			mu.Unlock()
			return nil
		})
	}

	// Workers swallow their own errors, Wait only flushes the group.
	_ = g.Wait()

	return seeds, int(failed.Load())
}
