package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/console/internal/console"
	"github.com/MarcoPoloResearchLab/console/internal/notifications"
	"github.com/MarcoPoloResearchLab/console/internal/rowstore"
	"github.com/MarcoPoloResearchLab/console/internal/stats"
	"github.com/gin-gonic/gin"
)

type stubConsole struct {
	snapshots   map[string]console.ViewSnapshot
	loading     map[string]bool
	feed        notifications.FeedState
	summary     stats.Summary
	summaryErr  error
	markErr     error
	markedIDs   []string
	markedAll   bool
	lastQueries []string
}

func (s *stubConsole) View(name, query string) (console.ViewSnapshot, error) {
	s.lastQueries = append(s.lastQueries, query)
	if s.loading[name] {
		return console.ViewSnapshot{EntitySet: name}, console.ErrLoading
	}
	snapshot, ok := s.snapshots[name]
	if !ok {
		return console.ViewSnapshot{}, fmt.Errorf("%w: %s", console.ErrUnknownView, name)
	}
	return snapshot, nil
}

func (s *stubConsole) NotificationFeed() notifications.FeedState {
	return s.feed
}

func (s *stubConsole) MarkNotificationRead(_ context.Context, id string) error {
	if s.markErr != nil {
		return s.markErr
	}
	s.markedIDs = append(s.markedIDs, id)
	return nil
}

func (s *stubConsole) MarkAllNotificationsRead(context.Context) error {
	s.markedAll = true
	return nil
}

func (s *stubConsole) StatsSummary(context.Context) (stats.Summary, error) {
	return s.summary, s.summaryErr
}

func mustHandler(t *testing.T, stub *stubConsole, hub *EventHub) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	handler, err := NewHTTPHandler(Dependencies{
		Console:           stub,
		Events:            hub,
		HeartbeatInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	return handler
}

func serve(handler http.Handler, method, target string) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(method, target, http.NoBody))
	return recorder
}

func decodeError(t *testing.T, recorder *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var payload errorPayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode error payload: %v", err)
	}
	return payload
}

func TestViewRoutes(t *testing.T) {
	stub := &stubConsole{
		snapshots: map[string]console.ViewSnapshot{
			"users": {EntitySet: "users", Sequence: 3, Count: 1, Rows: []rowstore.User{{FullName: "Ada"}}},
		},
		loading: map[string]bool{"appointments": true},
	}
	handler := mustHandler(t, stub, NewEventHub())

	testCases := []struct {
		name           string
		target         string
		expectedStatus int
		expectedError  string
	}{
		{name: "installed snapshot", target: "/views/users?q=ada", expectedStatus: http.StatusOK},
		{name: "loading", target: "/views/appointments", expectedStatus: http.StatusServiceUnavailable, expectedError: "loading"},
		{name: "unknown", target: "/views/invoices", expectedStatus: http.StatusNotFound, expectedError: "unknown_view"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			recorder := serve(handler, http.MethodGet, testCase.target)
			if recorder.Code != testCase.expectedStatus {
				t.Fatalf("expected status %d, got %d", testCase.expectedStatus, recorder.Code)
			}
			if testCase.expectedError != "" {
				if payload := decodeError(t, recorder); payload.Error != testCase.expectedError {
					t.Fatalf("expected error %q, got %q", testCase.expectedError, payload.Error)
				}
			}
		})
	}

	var snapshot struct {
		EntitySet string `json:"entitySet"`
		Sequence  uint64 `json:"sequence"`
		Count     int    `json:"count"`
	}
	recorder := serve(handler, http.MethodGet, "/views/users")
	if err := json.Unmarshal(recorder.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("failed to decode snapshot: %v", err)
	}
	if snapshot.EntitySet != "users" || snapshot.Sequence != 3 || snapshot.Count != 1 {
		t.Fatalf("unexpected snapshot payload %+v", snapshot)
	}
	if stub.lastQueries[0] != "ada" {
		t.Fatalf("expected search query to reach the console, got %q", stub.lastQueries[0])
	}
}

func TestStatsRoute(t *testing.T) {
	stub := &stubConsole{summary: stats.Summary{"users": 3, "orders": 1}}
	handler := mustHandler(t, stub, NewEventHub())

	recorder := serve(handler, http.MethodGet, "/stats")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", recorder.Code)
	}
	var summary map[string]int64
	if err := json.Unmarshal(recorder.Body.Bytes(), &summary); err != nil {
		t.Fatalf("failed to decode summary: %v", err)
	}
	if summary["users"] != 3 || summary["orders"] != 1 {
		t.Fatalf("unexpected summary %v", summary)
	}

	stub.summaryErr = fmt.Errorf("%w: orders: %w", stats.ErrPartialAggregate, rowstore.ErrReadFailed)
	recorder = serve(handler, http.MethodGet, "/stats")
	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", recorder.Code)
	}
	if payload := decodeError(t, recorder); payload.Error != "stats_unavailable" {
		t.Fatalf("expected stats_unavailable, got %q", payload.Error)
	}
}

func TestNotificationRoutes(t *testing.T) {
	stub := &stubConsole{feed: notifications.FeedState{
		Items:       []notifications.Item{{ID: "notification-1", Text: "Notification"}},
		UnreadCount: 1,
		Loaded:      true,
	}}
	handler := mustHandler(t, stub, NewEventHub())

	recorder := serve(handler, http.MethodGet, "/notifications")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", recorder.Code)
	}
	var feed notifications.FeedState
	if err := json.Unmarshal(recorder.Body.Bytes(), &feed); err != nil {
		t.Fatalf("failed to decode feed: %v", err)
	}
	if feed.UnreadCount != 1 || len(feed.Items) != 1 {
		t.Fatalf("unexpected feed %+v", feed)
	}

	recorder = serve(handler, http.MethodPost, "/notifications/notification-1/read")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", recorder.Code)
	}
	if len(stub.markedIDs) != 1 || stub.markedIDs[0] != "notification-1" {
		t.Fatalf("expected notification-1 to be marked, got %v", stub.markedIDs)
	}

	recorder = serve(handler, http.MethodPost, "/notifications/read-all")
	if recorder.Code != http.StatusOK || !stub.markedAll {
		t.Fatalf("expected mark all to succeed, got status %d", recorder.Code)
	}

	stub.markErr = fmt.Errorf("%w: %w", rowstore.ErrWriteFailed, rowstore.ErrNotFound)
	recorder = serve(handler, http.MethodPost, "/notifications/missing/read")
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", recorder.Code)
	}
}

func TestNewHTTPHandlerValidatesDependencies(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{Events: NewEventHub()}); err == nil {
		t.Fatalf("expected error for missing console")
	}
	if _, err := NewHTTPHandler(Dependencies{Console: &stubConsole{}}); err == nil {
		t.Fatalf("expected error for missing event hub")
	}
}

func TestEventStreamEmitsViewChanges(t *testing.T) {
	hub := NewEventHub()
	server := httptest.NewServer(mustHandler(t, &stubConsole{}, hub))
	t.Cleanup(server.Close)

	streamResp, err := http.Get(server.URL + "/events?set=appointments")
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	t.Cleanup(func() {
		_ = streamResp.Body.Close()
	})
	if streamResp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected stream status: %d", streamResp.StatusCode)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.SubscriberCount("appointments") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	hub.Publish(ViewEvent{EntitySet: "users", Sequence: 1, Timestamp: time.Now().UTC()})
	hub.Publish(ViewEvent{EntitySet: "appointments", Sequence: 7, Timestamp: time.Now().UTC()})

	event := readViewEvent(t, bufio.NewReader(streamResp.Body))
	if event.EntitySet != "appointments" || event.Sequence != 7 {
		t.Fatalf("unexpected event %+v", event)
	}
}
