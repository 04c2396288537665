// Package notifications aggregates the notification stream into the most
// recent page of rendered items plus an unread count.
package notifications

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/console/internal/changefeed"
	"github.com/MarcoPoloResearchLab/console/internal/reconcile"
	"github.com/MarcoPoloResearchLab/console/internal/rowstore"
	"go.uber.org/zap"
)

// DefaultPageSize is the number of most recent notifications kept in view.
const DefaultPageSize = 10

// UnreadCountMode selects how the unread count is derived after each read.
type UnreadCountMode string

const (
	// UnreadCountPage counts unread items within the fetched page only, so the
	// count never exceeds the page size.
	UnreadCountPage UnreadCountMode = "page"
	// UnreadCountGlobal issues a separate count query over the whole table.
	UnreadCountGlobal UnreadCountMode = "global"
)

const (
	opMarkAsRead    = "notifications.mark_as_read"
	opMarkAllAsRead = "notifications.mark_all_as_read"
	columnRead      = "read"
	queryUnread     = columnRead + " = ?"
)

var (
	errMissingTable   = errors.New("notifications: table is required")
	errMissingFeed    = errors.New("notifications: change feed is required")
	errMissingCounter = errors.New("notifications: unread counter is required in global mode")
	errUnknownMode    = errors.New("notifications: unknown unread count mode")
	errMissingID      = errors.New("notifications: notification id is required")
)

// Table is the subset of the notifications table the aggregator uses.
type Table interface {
	List(ctx context.Context, query rowstore.Query) ([]rowstore.Notification, error)
	Update(ctx context.Context, id string, fields map[string]any) error
	UpdateWhere(ctx context.Context, where string, args []any, fields map[string]any) (int64, error)
}

// UnreadCounter counts matching notification rows.
type UnreadCounter interface {
	CountWhere(ctx context.Context, set changefeed.EntitySet, where string, args ...any) (sql.NullInt64, error)
}

// Config describes the aggregator's dependencies.
type Config struct {
	Table       Table
	Counter     UnreadCounter
	Feed        changefeed.Feed
	PageSize    int
	UnreadCount UnreadCountMode
	OnChange    func(FeedState)
	OnError     func(error)
	Logger      *zap.Logger
}

// Item is one rendered notification.
type Item struct {
	ID             string                    `json:"id"`
	Kind           rowstore.NotificationKind `json:"type"`
	Read           bool                      `json:"read"`
	CreatedAt      time.Time                 `json:"created_at"`
	Text           string                    `json:"text"`
	ActorName      string                    `json:"actor_name,omitempty"`
	ActorAvatarURL *string                   `json:"actor_avatar_url,omitempty"`
	TargetTitle    string                    `json:"target_title,omitempty"`
}

// FeedState is the page of newest notifications and the unread count.
type FeedState struct {
	Items       []Item `json:"items"`
	UnreadCount int64  `json:"unread_count"`
	Sequence    uint64 `json:"sequence"`
	Loaded      bool   `json:"loaded"`
}

// Aggregator owns the notification feed state.
type Aggregator struct {
	table      Table
	counter    UnreadCounter
	pageSize   int
	mode       UnreadCountMode
	onChange   func(FeedState)
	logger     *zap.Logger
	reconciler *reconcile.Reconciler[rowstore.Notification]

	mu            sync.Mutex
	state         FeedState
	fetchedUnread int64
}

func NewAggregator(cfg Config) (*Aggregator, error) {
	if cfg.Table == nil {
		return nil, errMissingTable
	}
	if cfg.Feed == nil {
		return nil, errMissingFeed
	}
	mode := cfg.UnreadCount
	if mode == "" {
		mode = UnreadCountPage
	}
	switch mode {
	case UnreadCountPage:
	case UnreadCountGlobal:
		if cfg.Counter == nil {
			return nil, errMissingCounter
		}
	default:
		return nil, fmt.Errorf("%w: %s", errUnknownMode, mode)
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	aggregator := &Aggregator{
		table:    cfg.Table,
		counter:  cfg.Counter,
		pageSize: pageSize,
		mode:     mode,
		onChange: cfg.OnChange,
		logger:   logger,
		state:    FeedState{Items: []Item{}},
	}
	reconciler, err := reconcile.NewReconciler(reconcile.Config[rowstore.Notification]{
		EntitySet: rowstore.NotificationSet,
		Feed:      cfg.Feed,
		Fetch:     aggregator.fetchPage,
		Key:       notificationKey,
		OnChange:  aggregator.applySnapshot,
		OnError:   cfg.OnError,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	aggregator.reconciler = reconciler
	return aggregator, nil
}

// Activate subscribes to notification changes and loads the first page.
func (a *Aggregator) Activate(ctx context.Context) error {
	return a.reconciler.Activate(ctx)
}

// Deactivate unsubscribes; reads still in flight are discarded.
func (a *Aggregator) Deactivate() {
	a.reconciler.Deactivate()
}

// Refresh reloads the page outside the change feed.
func (a *Aggregator) Refresh(ctx context.Context) error {
	return a.reconciler.Refresh(ctx)
}

// LastError reports the failure of the most recent page read.
func (a *Aggregator) LastError() error {
	return a.reconciler.LastError()
}

// Feed returns a copy of the current feed state.
func (a *Aggregator) Feed() FeedState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.copyStateLocked()
}

// MarkAsRead persists read=true and then patches the local entry, decrementing
// the unread count once. Marking an entry that is already read, or that is not
// on the current page, leaves the count alone. Nothing changes locally when the
// write fails.
func (a *Aggregator) MarkAsRead(ctx context.Context, id string) error {
	if id == "" {
		return errMissingID
	}
	if err := a.table.Update(ctx, id, map[string]any{columnRead: true}); err != nil {
		a.logError(opMarkAsRead, "update_failed", err, zap.String("notification_id", id))
		return err
	}

	a.mu.Lock()
	for index := range a.state.Items {
		if a.state.Items[index].ID != id {
			continue
		}
		if !a.state.Items[index].Read {
			a.state.Items[index].Read = true
			a.state.UnreadCount = max(0, a.state.UnreadCount-1)
		}
		break
	}
	state := a.copyStateLocked()
	a.mu.Unlock()

	a.notify(state)
	return nil
}

// MarkAllAsRead persists read=true for every unread notification and then
// clears the local unread state.
func (a *Aggregator) MarkAllAsRead(ctx context.Context) error {
	updated, err := a.table.UpdateWhere(ctx, queryUnread, []any{false}, map[string]any{columnRead: true})
	if err != nil {
		a.logError(opMarkAllAsRead, "update_failed", err)
		return err
	}
	a.logger.Debug("notifications marked as read", zap.Int64("count", updated))

	a.mu.Lock()
	for index := range a.state.Items {
		a.state.Items[index].Read = true
	}
	a.state.UnreadCount = 0
	state := a.copyStateLocked()
	a.mu.Unlock()

	a.notify(state)
	return nil
}

func (a *Aggregator) fetchPage(ctx context.Context) ([]rowstore.Notification, error) {
	page, err := a.table.List(ctx, rowstore.Query{
		Preload: []string{"Actor", "Post", "Comment", "Reaction"},
		Limit:   a.pageSize,
	})
	if err != nil {
		return nil, err
	}
	if a.mode != UnreadCountGlobal {
		return page, nil
	}

	unread, err := a.counter.CountWhere(ctx, rowstore.NotificationSet, queryUnread, false)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.fetchedUnread = 0
	if unread.Valid {
		a.fetchedUnread = unread.Int64
	}
	a.mu.Unlock()
	return page, nil
}

func (a *Aggregator) applySnapshot(snapshot reconcile.Snapshot[rowstore.Notification]) {
	items := make([]Item, 0, len(snapshot.Rows))
	var pageUnread int64
	for _, notification := range snapshot.Rows {
		items = append(items, newItem(notification))
		if !notification.Read {
			pageUnread++
		}
	}

	a.mu.Lock()
	a.state.Items = items
	a.state.Sequence = snapshot.Sequence
	a.state.Loaded = true
	if a.mode == UnreadCountGlobal {
		a.state.UnreadCount = a.fetchedUnread
	} else {
		a.state.UnreadCount = pageUnread
	}
	state := a.copyStateLocked()
	a.mu.Unlock()

	a.notify(state)
}

func (a *Aggregator) notify(state FeedState) {
	if a.onChange != nil {
		a.onChange(state)
	}
}

func (a *Aggregator) copyStateLocked() FeedState {
	state := a.state
	state.Items = append([]Item(nil), a.state.Items...)
	return state
}

func (a *Aggregator) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	a.logger.Error("notifications error", attrs...)
}

func newItem(notification rowstore.Notification) Item {
	item := Item{
		ID:        notification.ID,
		Kind:      notification.Kind,
		Read:      notification.Read,
		CreatedAt: notification.CreatedAt,
		Text:      Render(notification),
	}
	if notification.Actor != nil {
		item.ActorName = notification.Actor.FullName
		item.ActorAvatarURL = notification.Actor.AvatarURL
	}
	if notification.Post != nil {
		item.TargetTitle = notification.Post.Title
	}
	return item
}

func notificationKey(notification rowstore.Notification) string {
	return notification.ID
}
