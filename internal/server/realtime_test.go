package server

import (
	"context"
	"testing"
	"time"
)

func TestEventHubPublishesToSubscriber(t *testing.T) {
	hub := NewEventHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := hub.Subscribe(ctx, "appointments")
	defer cleanup()

	hub.Publish(ViewEvent{EntitySet: "appointments", Sequence: 4, Timestamp: time.Now().UTC()})

	select {
	case received := <-stream:
		if received.Sequence != 4 {
			t.Fatalf("expected sequence 4, got %d", received.Sequence)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected view event within deadline")
	}
}

func TestEventHubIsolatedByEntitySet(t *testing.T) {
	hub := NewEventHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	productStream, cleanup := hub.Subscribe(ctx, "products")
	defer cleanup()
	allStream, allCleanup := hub.Subscribe(ctx, "")
	defer allCleanup()

	hub.Publish(ViewEvent{EntitySet: "users", Sequence: 1, Timestamp: time.Now().UTC()})

	select {
	case <-productStream:
		t.Fatal("did not expect view event for unrelated entity set")
	case <-time.After(200 * time.Millisecond):
	}

	select {
	case event := <-allStream:
		if event.EntitySet != "users" {
			t.Fatalf("expected users, received %s", event.EntitySet)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected view event for all-sets subscriber")
	}
}

func TestEventHubReleasesOnContextCancel(t *testing.T) {
	hub := NewEventHub()
	ctx, cancel := context.WithCancel(context.Background())

	_, cleanup := hub.Subscribe(ctx, "posts")
	defer cleanup()
	if got := hub.SubscriberCount("posts"); got != 1 {
		t.Fatalf("expected one subscriber, got %d", got)
	}

	cancel()
	deadline := time.Now().Add(time.Second)
	for hub.SubscriberCount("posts") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected subscriber to be released after cancel")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
