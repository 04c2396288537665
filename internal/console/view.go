package console

import (
	"context"
	"time"

	"github.com/MarcoPoloResearchLab/console/internal/changefeed"
	"github.com/MarcoPoloResearchLab/console/internal/reconcile"
	"github.com/MarcoPoloResearchLab/console/internal/rowstore"
	"github.com/MarcoPoloResearchLab/console/internal/views"
	"go.uber.org/zap"
)

// ViewSnapshot is the presentation form of one installed snapshot. Rows holds
// a typed slice of the entity set's rows.
type ViewSnapshot struct {
	EntitySet string    `json:"entitySet"`
	Sequence  uint64    `json:"sequence"`
	FetchedAt time.Time `json:"fetchedAt"`
	Count     int       `json:"count"`
	Rows      any       `json:"rows"`
}

// ViewChange is emitted after every installed snapshot.
type ViewChange struct {
	EntitySet string `json:"entitySet"`
	Sequence  uint64 `json:"sequence"`
}

type view interface {
	entitySet() changefeed.EntitySet
	activate(ctx context.Context) error
	deactivate()
	refresh(ctx context.Context) error
	snapshot(query string) (ViewSnapshot, bool)
	lastError() error
}

type viewDefinition[T any] struct {
	table   rowstore.Table[T]
	preload []string
	key     func(T) string
	fields  func(T) []string
}

type typedView[T any] struct {
	reconciler *reconcile.Reconciler[T]
	fields     func(T) []string
}

func newTypedView[T any](definition viewDefinition[T], feed changefeed.Feed, onChange func(ViewChange), logger *zap.Logger) (*typedView[T], error) {
	query := rowstore.Query{Preload: definition.preload}
	reconciler, err := reconcile.NewReconciler(reconcile.Config[T]{
		EntitySet: definition.table.Set(),
		Feed:      feed,
		Fetch: func(ctx context.Context) ([]T, error) {
			return definition.table.List(ctx, query)
		},
		Key: definition.key,
		OnChange: func(snapshot reconcile.Snapshot[T]) {
			if onChange != nil {
				onChange(ViewChange{EntitySet: snapshot.EntitySet, Sequence: snapshot.Sequence})
			}
		},
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	return &typedView[T]{reconciler: reconciler, fields: definition.fields}, nil
}

func (v *typedView[T]) entitySet() changefeed.EntitySet {
	return v.reconciler.EntitySet()
}

func (v *typedView[T]) activate(ctx context.Context) error {
	return v.reconciler.Activate(ctx)
}

func (v *typedView[T]) deactivate() {
	v.reconciler.Deactivate()
}

func (v *typedView[T]) refresh(ctx context.Context) error {
	return v.reconciler.Refresh(ctx)
}

func (v *typedView[T]) lastError() error {
	return v.reconciler.LastError()
}

func (v *typedView[T]) snapshot(query string) (ViewSnapshot, bool) {
	snapshot, ok := v.reconciler.Snapshot()
	if !ok {
		return ViewSnapshot{EntitySet: v.entitySet().Name}, false
	}
	rows := snapshot.Rows
	if query != "" && v.fields != nil {
		rows = views.Search(rows, query, v.fields)
	}
	return ViewSnapshot{
		EntitySet: snapshot.EntitySet,
		Sequence:  snapshot.Sequence,
		FetchedAt: snapshot.FetchedAt,
		Count:     len(rows),
		Rows:      rows,
	}, true
}

func categoryFields(category rowstore.Category) []string {
	return []string{category.Name}
}
