package console

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/console/internal/changefeed"
	"github.com/MarcoPoloResearchLab/console/internal/rowstore"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type changeRecorder struct {
	mu      sync.Mutex
	changes []ViewChange
}

func (r *changeRecorder) record(change ViewChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, change)
}

func (r *changeRecorder) countFor(entitySet string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, change := range r.changes {
		if change.EntitySet == entitySet {
			total++
		}
	}
	return total
}

func mustService(t *testing.T) (*Service, *rowstore.Store, *changefeed.Dispatcher, *changeRecorder) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "console.db")), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(rowstore.Models()...); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	dispatcher := changefeed.NewDispatcher()
	store, err := rowstore.NewStore(rowstore.StoreConfig{Database: db, Publisher: dispatcher})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	recorder := &changeRecorder{}
	service, err := NewService(Config{Store: store, Feed: dispatcher, OnViewChange: recorder.record})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service, store, dispatcher, recorder
}

func mustAppointment(t *testing.T, store *rowstore.Store, id string, start time.Time) {
	t.Helper()
	appointment := rowstore.Appointment{
		Record:     rowstore.Record{ID: id},
		UserID:     "user-ada",
		LocationID: "location-main",
		StartTime:  start,
		EndTime:    start.Add(time.Hour),
		Status:     "scheduled",
	}
	if err := rowstore.NewTable[rowstore.Appointment](store, rowstore.AppointmentSet).Insert(context.Background(), &appointment); err != nil {
		t.Fatalf("failed to insert appointment: %v", err)
	}
}

func appointmentRows(t *testing.T, snapshot ViewSnapshot) []rowstore.Appointment {
	t.Helper()
	rows, ok := snapshot.Rows.([]rowstore.Appointment)
	if !ok {
		t.Fatalf("expected appointment rows, got %T", snapshot.Rows)
	}
	return rows
}

func waitFor(t *testing.T, description string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", description)
}

func TestSnapshotFollowsInsertsWithoutDuplicates(t *testing.T) {
	service, store, dispatcher, recorder := mustService(t)
	ctx := context.Background()

	user := rowstore.User{Record: rowstore.Record{ID: "user-ada"}, Email: "ada@example.com", FullName: "Ada"}
	if err := rowstore.NewTable[rowstore.User](store, rowstore.UserSet).Insert(ctx, &user); err != nil {
		t.Fatalf("failed to insert user: %v", err)
	}
	location := rowstore.Location{Record: rowstore.Record{ID: "location-main"}, Name: "Main Office", Address: "1 Loop", City: "Springfield"}
	if err := rowstore.NewTable[rowstore.Location](store, rowstore.LocationSet).Insert(ctx, &location); err != nil {
		t.Fatalf("failed to insert location: %v", err)
	}
	start := time.Date(2024, time.May, 1, 9, 0, 0, 0, time.UTC)
	mustAppointment(t, store, "appointment-1", start)

	if _, err := service.Snapshot("appointments"); !errors.Is(err, ErrLoading) {
		t.Fatalf("expected loading before start, got %v", err)
	}
	if err := service.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer service.Stop()

	initial, err := service.Snapshot("appointments")
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	initialRows := appointmentRows(t, initial)
	if len(initialRows) != 1 || initialRows[0].Location == nil || initialRows[0].User == nil {
		t.Fatalf("expected one appointment with joined references, got %+v", initialRows)
	}

	mustAppointment(t, store, "appointment-2", start.Add(2*time.Hour))
	for range 3 {
		dispatcher.Publish(changefeed.Signal{EntitySet: "appointments", Timestamp: time.Now()})
	}

	waitFor(t, "appointment refetch", func() bool {
		snapshot, err := service.Snapshot("appointments")
		return err == nil && snapshot.Count == 2
	})
	current, err := service.Snapshot("appointments")
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if current.Sequence <= initial.Sequence {
		t.Fatalf("expected sequence to advance past %d, got %d", initial.Sequence, current.Sequence)
	}
	rows := appointmentRows(t, current)
	seen := make(map[string]bool)
	for _, row := range rows {
		if seen[row.ID] {
			t.Fatalf("duplicate appointment %s in snapshot", row.ID)
		}
		seen[row.ID] = true
	}
	if !seen["appointment-1"] || !seen["appointment-2"] {
		t.Fatalf("expected both appointments, got %+v", rows)
	}
	if rows[0].ID != "appointment-1" {
		t.Fatalf("expected ascending start time order, got %s first", rows[0].ID)
	}
	if recorder.countFor("appointments") < 2 {
		t.Fatalf("expected view change events for appointments")
	}
}

func TestViewSearch(t *testing.T) {
	service, store, _, _ := mustService(t)
	ctx := context.Background()
	users := rowstore.NewTable[rowstore.User](store, rowstore.UserSet)
	for _, user := range []rowstore.User{
		{Record: rowstore.Record{ID: "user-ada"}, Email: "ada@example.com", FullName: "Ada Lovelace"},
		{Record: rowstore.Record{ID: "user-grace"}, Email: "grace@example.com", FullName: "Grace Hopper"},
	} {
		if err := users.Insert(ctx, &user); err != nil {
			t.Fatalf("failed to insert user: %v", err)
		}
	}
	if err := service.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer service.Stop()

	snapshot, err := service.View("users", "  HOPPER ")
	if err != nil {
		t.Fatalf("view failed: %v", err)
	}
	rows, ok := snapshot.Rows.([]rowstore.User)
	if !ok || len(rows) != 1 || rows[0].ID != "user-grace" {
		t.Fatalf("expected only Grace, got %+v", snapshot.Rows)
	}
}

func TestSnapshotUnknownView(t *testing.T) {
	service, _, _, _ := mustService(t)
	if _, err := service.Snapshot("invoices"); !errors.Is(err, ErrUnknownView) {
		t.Fatalf("expected unknown view error, got %v", err)
	}
	if err := service.RefreshView(context.Background(), "invoices"); !errors.Is(err, ErrUnknownView) {
		t.Fatalf("expected unknown view error, got %v", err)
	}
}

func TestStopKeepsLastSnapshot(t *testing.T) {
	service, store, dispatcher, _ := mustService(t)
	ctx := context.Background()
	if err := service.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	service.Stop()

	category := rowstore.Category{Name: "Books"}
	if err := rowstore.NewTable[rowstore.Category](store, rowstore.CategorySet).Insert(ctx, &category); err != nil {
		t.Fatalf("failed to insert category: %v", err)
	}
	if got := dispatcher.SubscriberCount("categories"); got != 0 {
		t.Fatalf("expected no subscribers after stop, got %d", got)
	}
	snapshot, err := service.Snapshot("categories")
	if err != nil {
		t.Fatalf("expected frozen snapshot, got %v", err)
	}
	if snapshot.Count != 0 {
		t.Fatalf("expected frozen empty snapshot, got %d rows", snapshot.Count)
	}
}

func TestStatsSummaryAndNotifications(t *testing.T) {
	service, store, _, _ := mustService(t)
	ctx := context.Background()
	orders := rowstore.NewTable[rowstore.Order](store, rowstore.OrderSet)
	for range 2 {
		order := rowstore.Order{UserID: "user-ada", Total: 12.5, Status: "paid"}
		if err := orders.Insert(ctx, &order); err != nil {
			t.Fatalf("failed to insert order: %v", err)
		}
	}
	notification := rowstore.Notification{Record: rowstore.Record{ID: "notification-1"}, Kind: rowstore.NotificationKindComment}
	if err := rowstore.NewTable[rowstore.Notification](store, rowstore.NotificationSet).Insert(ctx, &notification); err != nil {
		t.Fatalf("failed to insert notification: %v", err)
	}
	if err := service.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer service.Stop()

	summary, err := service.StatsSummary(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if summary["orders"] != 2 || summary["users"] != 0 || len(summary) != len(rowstore.TrackedSets()) {
		t.Fatalf("unexpected summary %v", summary)
	}

	feed := service.NotificationFeed()
	if len(feed.Items) != 1 || feed.UnreadCount != 1 {
		t.Fatalf("unexpected feed %+v", feed)
	}
	if feed.Items[0].Text != "Notification" {
		t.Fatalf("expected fallback text for dangling references, got %q", feed.Items[0].Text)
	}
	if err := service.MarkNotificationRead(ctx, "notification-1"); err != nil {
		t.Fatalf("mark read failed: %v", err)
	}
	if got := service.NotificationFeed().UnreadCount; got != 0 {
		t.Fatalf("expected unread count 0, got %d", got)
	}
	if err := service.MarkAllNotificationsRead(ctx); err != nil {
		t.Fatalf("mark all read failed: %v", err)
	}
}
