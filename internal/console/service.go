// Package console exposes the live admin views, the notification feed and the
// stats summary to presentation code, and owns the lifecycle of every
// reconciler behind them.
package console

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/MarcoPoloResearchLab/console/internal/changefeed"
	"github.com/MarcoPoloResearchLab/console/internal/notifications"
	"github.com/MarcoPoloResearchLab/console/internal/rowstore"
	"github.com/MarcoPoloResearchLab/console/internal/stats"
	"github.com/MarcoPoloResearchLab/console/internal/views"
	"go.uber.org/zap"
)

var (
	// ErrUnknownView is returned for entity sets without a live view.
	ErrUnknownView = errors.New("console: unknown view")
	// ErrLoading is returned until a view installs its first snapshot.
	ErrLoading = errors.New("console: view is loading")

	errMissingStore = errors.New("console: row store is required")
	errMissingFeed  = errors.New("console: change feed is required")
)

// Config describes the service's dependencies.
type Config struct {
	Store        *rowstore.Store
	Feed         changefeed.Feed
	PageSize     int
	UnreadCount  notifications.UnreadCountMode
	StatsSets    []changefeed.EntitySet
	OnViewChange func(ViewChange)
	Logger       *zap.Logger
}

// Service is the façade over the reconciled views and aggregators.
type Service struct {
	views         map[string]view
	notifications *notifications.Aggregator
	stats         *stats.Aggregator
	onViewChange  func(ViewChange)
	logger        *zap.Logger

	mu      sync.Mutex
	started bool
}

func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Feed == nil {
		return nil, errMissingFeed
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	statsSets := cfg.StatsSets
	if len(statsSets) == 0 {
		statsSets = rowstore.TrackedSets()
	}

	service := &Service{
		views:        make(map[string]view),
		onViewChange: cfg.OnViewChange,
		logger:       logger,
	}

	store := cfg.Store
	builders := []func() (view, error){
		func() (view, error) {
			return newTypedView(viewDefinition[rowstore.Appointment]{
				table:   rowstore.NewTable[rowstore.Appointment](store, rowstore.AppointmentSet),
				preload: []string{"Location", "User"},
				key:     func(row rowstore.Appointment) string { return row.ID },
				fields:  views.AppointmentFields,
			}, cfg.Feed, service.emit, logger)
		},
		func() (view, error) {
			return newTypedView(viewDefinition[rowstore.Location]{
				table:  rowstore.NewTable[rowstore.Location](store, rowstore.LocationSet),
				key:    func(row rowstore.Location) string { return row.ID },
				fields: views.LocationFields,
			}, cfg.Feed, service.emit, logger)
		},
		func() (view, error) {
			return newTypedView(viewDefinition[rowstore.Post]{
				table:   rowstore.NewTable[rowstore.Post](store, rowstore.PostSet),
				preload: []string{"User", "Category"},
				key:     func(row rowstore.Post) string { return row.ID },
				fields:  views.PostFields,
			}, cfg.Feed, service.emit, logger)
		},
		func() (view, error) {
			return newTypedView(viewDefinition[rowstore.Product]{
				table:   rowstore.NewTable[rowstore.Product](store, rowstore.ProductSet),
				preload: []string{"Category"},
				key:     func(row rowstore.Product) string { return row.ID },
				fields:  views.ProductFields,
			}, cfg.Feed, service.emit, logger)
		},
		func() (view, error) {
			return newTypedView(viewDefinition[rowstore.User]{
				table:  rowstore.NewTable[rowstore.User](store, rowstore.UserSet),
				key:    func(row rowstore.User) string { return row.ID },
				fields: views.UserFields,
			}, cfg.Feed, service.emit, logger)
		},
		func() (view, error) {
			return newTypedView(viewDefinition[rowstore.Category]{
				table:  rowstore.NewTable[rowstore.Category](store, rowstore.CategorySet),
				key:    func(row rowstore.Category) string { return row.ID },
				fields: categoryFields,
			}, cfg.Feed, service.emit, logger)
		},
	}
	for _, build := range builders {
		built, err := build()
		if err != nil {
			return nil, err
		}
		service.views[built.entitySet().Name] = built
	}

	feed, err := notifications.NewAggregator(notifications.Config{
		Table:       rowstore.NewTable[rowstore.Notification](store, rowstore.NotificationSet),
		Counter:     store,
		Feed:        cfg.Feed,
		PageSize:    cfg.PageSize,
		UnreadCount: cfg.UnreadCount,
		OnChange: func(state notifications.FeedState) {
			service.emit(ViewChange{EntitySet: rowstore.NotificationSet.Name, Sequence: state.Sequence})
		},
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	service.notifications = feed

	summary, err := stats.NewAggregator(stats.Config{Counter: store, EntitySets: statsSets, Logger: logger})
	if err != nil {
		return nil, err
	}
	service.stats = summary
	return service, nil
}

// Start activates every view and the notification feed. Initial read failures
// are joined into the returned error; the failed views stay subscribed and
// recover on the next change signal.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	var errs []error
	for _, name := range s.ViewNames() {
		if err := s.views[name].activate(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if err := s.notifications.Activate(ctx); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", rowstore.NotificationSet.Name, err))
	}
	if len(errs) > 0 {
		s.logger.Warn("initial view reads failed", zap.Int("failed", len(errs)))
	}
	return errors.Join(errs...)
}

// Stop unsubscribes every view. The last snapshots remain readable.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	for _, current := range s.views {
		current.deactivate()
	}
	s.notifications.Deactivate()
}

// ViewNames lists the live views in name order.
func (s *Service) ViewNames() []string {
	names := make([]string, 0, len(s.views))
	for name := range s.views {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns the current snapshot of an entity set.
func (s *Service) Snapshot(name string) (ViewSnapshot, error) {
	return s.View(name, "")
}

// View returns the current snapshot narrowed by a case-insensitive search.
func (s *Service) View(name, query string) (ViewSnapshot, error) {
	current, ok := s.views[name]
	if !ok {
		return ViewSnapshot{}, fmt.Errorf("%w: %s", ErrUnknownView, name)
	}
	snapshot, loaded := current.snapshot(query)
	if !loaded {
		if err := current.lastError(); err != nil {
			return snapshot, errors.Join(ErrLoading, err)
		}
		return snapshot, ErrLoading
	}
	return snapshot, nil
}

// RefreshView re-reads an entity set outside the change feed.
func (s *Service) RefreshView(ctx context.Context, name string) error {
	current, ok := s.views[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownView, name)
	}
	return current.refresh(ctx)
}

// NotificationFeed returns the newest notifications and the unread count.
func (s *Service) NotificationFeed() notifications.FeedState {
	return s.notifications.Feed()
}

func (s *Service) MarkNotificationRead(ctx context.Context, id string) error {
	return s.notifications.MarkAsRead(ctx, id)
}

func (s *Service) MarkAllNotificationsRead(ctx context.Context) error {
	return s.notifications.MarkAllAsRead(ctx)
}

// StatsSummary counts every tracked entity set; any failed count fails the
// whole summary.
func (s *Service) StatsSummary(ctx context.Context) (stats.Summary, error) {
	return s.stats.Summary(ctx)
}

func (s *Service) emit(change ViewChange) {
	if s.onViewChange != nil {
		s.onViewChange(change)
	}
}
