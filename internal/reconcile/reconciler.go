// Package reconcile keeps an in-memory snapshot of one entity set consistent
// with the row store.
//
// A Reconciler subscribes to the change feed, performs a full read on
// activation and on every change signal, and replaces its snapshot wholesale
// with each successful read. At most one read is in flight per Reconciler;
// signals that arrive during a read mark the view dirty and cause exactly one
// follow-up read once the current one resolves.
package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/console/internal/changefeed"
	"github.com/MarcoPoloResearchLab/console/internal/views"
	"go.uber.org/zap"
)

var (
	// ErrInactive is returned when refreshing a reconciler that is not active.
	ErrInactive = errors.New("reconcile: reconciler is not active")
	// ErrAlreadyActive is returned by a second Activate without Deactivate.
	ErrAlreadyActive = errors.New("reconcile: reconciler is already active")

	errMissingEntitySet = errors.New("reconcile: entity set is required")
	errMissingFeed      = errors.New("reconcile: change feed is required")
	errMissingFetch     = errors.New("reconcile: fetch function is required")
)

// Snapshot is one complete, immutable view of an entity set.
type Snapshot[T any] struct {
	EntitySet string
	Rows      []T
	Sequence  uint64
	FetchedAt time.Time
}

// Config describes one reconciled entity set. Fetch must issue the same query
// shape every time. Key extracts the primary key used to drop duplicate rows.
type Config[T any] struct {
	EntitySet changefeed.EntitySet
	Feed      changefeed.Feed
	Fetch     func(ctx context.Context) ([]T, error)
	Key       func(T) string
	OnChange  func(Snapshot[T])
	OnError   func(error)
	Clock     func() time.Time
	Logger    *zap.Logger
}

// Reconciler owns the snapshot of one entity set.
type Reconciler[T any] struct {
	set      changefeed.EntitySet
	feed     changefeed.Feed
	fetch    func(ctx context.Context) ([]T, error)
	key      func(T) string
	onChange func(Snapshot[T])
	onError  func(error)
	clock    func() time.Time
	logger   *zap.Logger

	mu           sync.Mutex
	active       bool
	generation   uint64
	inFlight     bool
	dirty        bool
	sequence     uint64
	snapshot     *Snapshot[T]
	lastErr      error
	runCtx       context.Context
	cancel       context.CancelFunc
	subscription *changefeed.Subscription
}

func NewReconciler[T any](cfg Config[T]) (*Reconciler[T], error) {
	if cfg.EntitySet.Name == "" {
		return nil, errMissingEntitySet
	}
	if cfg.Feed == nil {
		return nil, errMissingFeed
	}
	if cfg.Fetch == nil {
		return nil, errMissingFetch
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler[T]{
		set:      cfg.EntitySet,
		feed:     cfg.Feed,
		fetch:    cfg.Fetch,
		key:      cfg.Key,
		onChange: cfg.OnChange,
		onError:  cfg.OnError,
		clock:    clock,
		logger:   logger.With(zap.String("entity_set", cfg.EntitySet.Name)),
	}, nil
}

// EntitySet returns the reconciled entity set.
func (r *Reconciler[T]) EntitySet() changefeed.EntitySet {
	return r.set
}

// Activate subscribes to the change feed and performs the initial read. The
// returned error is the outcome of the most recent read; the reconciler stays
// active either way and the next signal retries.
func (r *Reconciler[T]) Activate(ctx context.Context) error {
	r.mu.Lock()
	if r.active {
		r.mu.Unlock()
		return ErrAlreadyActive
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.active = true
	r.generation++
	r.inFlight = true
	r.dirty = false
	r.runCtx = runCtx
	r.cancel = cancel
	r.subscription = r.feed.Subscribe(runCtx, r.set, r.handleSignal)
	generation := r.generation
	r.mu.Unlock()

	return r.drain(runCtx, runCtx, generation)
}

// Deactivate unsubscribes immediately. A read still in flight is cancelled
// and its result discarded; the last installed snapshot stays readable.
func (r *Reconciler[T]) Deactivate() {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return
	}
	r.active = false
	r.inFlight = false
	r.dirty = false
	subscription := r.subscription
	cancel := r.cancel
	r.subscription = nil
	r.cancel = nil
	r.mu.Unlock()

	if subscription != nil {
		subscription.Close()
	}
	if cancel != nil {
		cancel()
	}
}

// Refresh requests a full read outside the change feed. When a read is
// already in flight the request is folded into it and Refresh returns nil.
func (r *Reconciler[T]) Refresh(ctx context.Context) error {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return ErrInactive
	}
	if r.inFlight {
		r.dirty = true
		r.mu.Unlock()
		return nil
	}
	r.inFlight = true
	runCtx := r.runCtx
	generation := r.generation
	r.mu.Unlock()

	return r.drain(ctx, runCtx, generation)
}

// Snapshot returns the current view. The boolean is false while loading.
func (r *Reconciler[T]) Snapshot() (Snapshot[T], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snapshot == nil {
		return Snapshot[T]{EntitySet: r.set.Name}, false
	}
	current := *r.snapshot
	current.Rows = append([]T(nil), r.snapshot.Rows...)
	return current, true
}

// Lookup finds a row of the current snapshot by primary key.
func (r *Reconciler[T]) Lookup(id string) (T, bool) {
	var zero T
	if r.key == nil {
		return zero, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snapshot == nil {
		return zero, false
	}
	return views.Find(r.snapshot.Rows, r.key, id)
}

// LastError reports the failure of the most recent read, or nil.
func (r *Reconciler[T]) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Active reports whether the reconciler is subscribed.
func (r *Reconciler[T]) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *Reconciler[T]) handleSignal(changefeed.Signal) {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return
	}
	if r.inFlight {
		r.dirty = true
		r.mu.Unlock()
		return
	}
	r.inFlight = true
	runCtx := r.runCtx
	generation := r.generation
	r.mu.Unlock()

	_ = r.drain(runCtx, runCtx, generation)
}

// drain runs reads until no signal arrived during the last one. The caller
// must have set inFlight. Follow-up reads use the activation context.
func (r *Reconciler[T]) drain(firstCtx, runCtx context.Context, generation uint64) error {
	ctx := firstCtx
	for {
		rows, err := r.fetch(ctx)

		r.mu.Lock()
		if !r.active || r.generation != generation {
			r.mu.Unlock()
			r.logger.Debug("discarding read for deactivated view")
			return ErrInactive
		}
		var installed *Snapshot[T]
		if err != nil {
			r.lastErr = err
		} else {
			r.lastErr = nil
			installed = r.install(rows)
		}
		again := r.dirty
		r.dirty = false
		if !again {
			r.inFlight = false
		}
		r.mu.Unlock()

		if err != nil {
			r.logger.Warn("view refetch failed", zap.Error(err))
			if r.onError != nil {
				r.onError(err)
			}
		} else if r.onChange != nil {
			r.onChange(*installed)
		}

		if !again {
			return err
		}
		ctx = runCtx
	}
}

func (r *Reconciler[T]) install(rows []T) *Snapshot[T] {
	r.sequence++
	r.snapshot = &Snapshot[T]{
		EntitySet: r.set.Name,
		Rows:      views.UniqueBy(rows, r.key),
		Sequence:  r.sequence,
		FetchedAt: r.clock().UTC(),
	}
	current := *r.snapshot
	current.Rows = append([]T(nil), r.snapshot.Rows...)
	return &current
}
