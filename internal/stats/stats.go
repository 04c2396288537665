// Package stats counts rows across the tracked entity sets.
package stats

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/MarcoPoloResearchLab/console/internal/changefeed"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrPartialAggregate is returned when any count fails. No partial summary is
// reported alongside it.
var ErrPartialAggregate = errors.New("stats: aggregate incomplete")

var (
	errMissingCounter = errors.New("stats: counter is required")
	errNoEntitySets   = errors.New("stats: at least one entity set is required")
)

// Counter returns the row count of an entity set. A null count is treated as
// zero.
type Counter interface {
	Count(ctx context.Context, set changefeed.EntitySet) (sql.NullInt64, error)
}

// Summary maps entity set names to row counts.
type Summary map[string]int64

// Config describes the aggregator's dependencies.
type Config struct {
	Counter    Counter
	EntitySets []changefeed.EntitySet
	Logger     *zap.Logger
}

// Aggregator issues one count per entity set concurrently.
type Aggregator struct {
	counter Counter
	sets    []changefeed.EntitySet
	logger  *zap.Logger
}

func NewAggregator(cfg Config) (*Aggregator, error) {
	if cfg.Counter == nil {
		return nil, errMissingCounter
	}
	if len(cfg.EntitySets) == 0 {
		return nil, errNoEntitySets
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		counter: cfg.Counter,
		sets:    append([]changefeed.EntitySet(nil), cfg.EntitySets...),
		logger:  logger,
	}, nil
}

// EntitySets returns the counted entity sets in configuration order.
func (a *Aggregator) EntitySets() []changefeed.EntitySet {
	return append([]changefeed.EntitySet(nil), a.sets...)
}

// Summary counts every entity set. The first failure cancels the remaining
// counts and the whole aggregate fails.
func (a *Aggregator) Summary(ctx context.Context) (Summary, error) {
	group, groupCtx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	summary := make(Summary, len(a.sets))
	for _, set := range a.sets {
		group.Go(func() error {
			count, err := a.counter.Count(groupCtx, set)
			if err != nil {
				return fmt.Errorf("%w: %s: %w", ErrPartialAggregate, set.Name, err)
			}
			var value int64
			if count.Valid {
				value = count.Int64
			}
			mu.Lock()
			summary[set.Name] = value
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		a.logger.Error("stats error",
			zap.String("operation", "stats.summary"),
			zap.String("reason", "count_failed"),
			zap.Error(err))
		return nil, err
	}
	return summary, nil
}
