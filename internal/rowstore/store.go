// Package rowstore is the console's tabular storage: typed tables over GORM
// that publish a change signal after every committed write.
package rowstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/console/internal/changefeed"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StoreConfig describes the dependencies of a Store.
type StoreConfig struct {
	Database   *gorm.DB
	Publisher  changefeed.Publisher
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Store executes reads, counts and writes against the console database.
type Store struct {
	db         *gorm.DB
	publisher  changefeed.Publisher
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// Query is the shape of one read. Zero values mean no filter, the entity
// set's default order and no limit.
type Query struct {
	Preload []string
	Where   string
	Args    []any
	OrderBy string
	Limit   int
}

type noopPublisher struct{}

func (noopPublisher) Publish(changefeed.Signal) {}

func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newStoreError(opStoreNew, "missing_database", nil, errMissingDatabase)
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = noopPublisher{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:         cfg.Database,
		publisher:  publisher,
		clock:      clock,
		idProvider: idProvider,
		logger:     logger,
	}, nil
}

// Count returns the number of rows in the set. The result is null when the
// database reports no value; callers decide how to normalise it.
func (s *Store) Count(ctx context.Context, set changefeed.EntitySet) (sql.NullInt64, error) {
	return s.CountWhere(ctx, set, "")
}

// CountWhere counts the rows of the set matching an optional condition.
func (s *Store) CountWhere(ctx context.Context, set changefeed.EntitySet, where string, args ...any) (sql.NullInt64, error) {
	var count sql.NullInt64
	tx := s.db.WithContext(ctx).Table(set.Name).Select("COUNT(*)")
	if where != "" {
		tx = tx.Where(where, args...)
	}
	if err := tx.Row().Scan(&count); err != nil {
		s.logError(opCount, "query_failed", err, zap.String("entity_set", set.Name))
		return sql.NullInt64{}, newStoreError(opCount, "query_failed", ErrReadFailed, err)
	}
	return count, nil
}

func (s *Store) publish(set changefeed.EntitySet) {
	s.publisher.Publish(changefeed.Signal{EntitySet: set.Name, Timestamp: s.clock().UTC()})
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("row store error", attrs...)
}

// Table is a typed handle on one entity set.
type Table[T any] struct {
	store *Store
	set   changefeed.EntitySet
}

// NewTable binds the row type T to an entity set of the store.
func NewTable[T any](store *Store, set changefeed.EntitySet) Table[T] {
	return Table[T]{store: store, set: set}
}

// Set returns the entity set backing the table.
func (t Table[T]) Set() changefeed.EntitySet {
	return t.set
}

// List reads the rows matching query, joined references included.
func (t Table[T]) List(ctx context.Context, query Query) ([]T, error) {
	tx := t.store.db.WithContext(ctx).Model(new(T))
	for _, association := range query.Preload {
		tx = tx.Preload(association)
	}
	if query.Where != "" {
		tx = tx.Where(query.Where, query.Args...)
	}
	order := query.OrderBy
	if order == "" {
		order = t.set.OrderClause()
	}
	if order != "" {
		tx = tx.Order(order)
	}
	if query.Limit > 0 {
		tx = tx.Limit(query.Limit)
	}

	rows := make([]T, 0)
	if err := tx.Find(&rows).Error; err != nil {
		t.store.logError(opRead, "query_failed", err, zap.String("entity_set", t.set.Name))
		return nil, newStoreError(opRead, "query_failed", ErrReadFailed, err)
	}
	return rows, nil
}

// Insert stores row, assigning a primary key and creation time when absent.
// Joined references on row are never written.
func (t Table[T]) Insert(ctx context.Context, row *T) error {
	if row == nil {
		return newStoreError(opInsert, "missing_row", ErrWriteFailed, errMissingRow)
	}
	if keyed, ok := any(row).(record); ok {
		if keyed.Key() == "" {
			id, err := t.store.idProvider.NewID()
			if err != nil {
				t.store.logError(opInsert, "id_generation_failed", err, zap.String("entity_set", t.set.Name))
				return newStoreError(opInsert, "id_generation_failed", ErrWriteFailed, err)
			}
			keyed.assignKey(id)
		}
		if keyed.createdAt().IsZero() {
			keyed.stampCreatedAt(t.store.clock().UTC())
		}
	}

	if err := t.store.db.WithContext(ctx).Omit(clause.Associations).Create(row).Error; err != nil {
		t.store.logError(opInsert, "insert_failed", err, zap.String("entity_set", t.set.Name))
		return newStoreError(opInsert, "insert_failed", ErrWriteFailed, err)
	}
	t.store.publish(t.set)
	return nil
}

// Update applies a partial set of column values to the row with the given key.
func (t Table[T]) Update(ctx context.Context, id string, fields map[string]any) error {
	if id == "" {
		return newStoreError(opUpdate, "missing_key", ErrWriteFailed, errMissingKey)
	}
	affected, err := t.updateWhere(ctx, fmt.Sprintf("%s = ?", t.primaryKey()), []any{id}, fields)
	if err != nil {
		return err
	}
	if affected == 0 {
		return newStoreError(opUpdate, "not_found", ErrWriteFailed, ErrNotFound)
	}
	return nil
}

// UpdateWhere applies column values to every row matching where and reports
// how many rows changed.
func (t Table[T]) UpdateWhere(ctx context.Context, where string, args []any, fields map[string]any) (int64, error) {
	return t.updateWhere(ctx, where, args, fields)
}

func (t Table[T]) updateWhere(ctx context.Context, where string, args []any, fields map[string]any) (int64, error) {
	if len(fields) == 0 {
		return 0, newStoreError(opUpdate, "empty_update", ErrWriteFailed, errEmptyUpdate)
	}
	result := t.store.db.WithContext(ctx).Model(new(T)).Where(where, args...).Updates(fields)
	if result.Error != nil {
		t.store.logError(opUpdate, "update_failed", result.Error, zap.String("entity_set", t.set.Name))
		return 0, newStoreError(opUpdate, "update_failed", ErrWriteFailed, result.Error)
	}
	if result.RowsAffected > 0 {
		t.store.publish(t.set)
	}
	return result.RowsAffected, nil
}

// Delete removes the row with the given key.
func (t Table[T]) Delete(ctx context.Context, id string) error {
	if id == "" {
		return newStoreError(opDelete, "missing_key", ErrWriteFailed, errMissingKey)
	}
	result := t.store.db.WithContext(ctx).Where(fmt.Sprintf("%s = ?", t.primaryKey()), id).Delete(new(T))
	if result.Error != nil {
		t.store.logError(opDelete, "delete_failed", result.Error,
			zap.String("entity_set", t.set.Name),
			zap.String("id", id))
		return newStoreError(opDelete, "delete_failed", ErrWriteFailed, result.Error)
	}
	if result.RowsAffected == 0 {
		return newStoreError(opDelete, "not_found", ErrWriteFailed, ErrNotFound)
	}
	t.store.publish(t.set)
	return nil
}

func (t Table[T]) primaryKey() string {
	if t.set.PrimaryKey == "" {
		return primaryKeyColumn
	}
	return t.set.PrimaryKey
}
