// Package changefeed delivers content-free change signals for watched entity sets.
//
// A Signal only says that something in an EntitySet changed. It carries no row
// identity and no operation kind, so subscribers must re-read the whole set.
// Delivery is at-least-once per subscription; bursts are coalesced.
package changefeed

import (
	"context"
	"strings"
	"time"
)

// EntitySet identifies one watched table. It is declared once and never mutated.
type EntitySet struct {
	Name       string
	PrimaryKey string
	OrderKey   string
	Descending bool
}

// String returns the entity set name.
func (set EntitySet) String() string {
	return set.Name
}

// OrderClause renders the default ordering for reads of the set.
func (set EntitySet) OrderClause() string {
	orderKey := strings.TrimSpace(set.OrderKey)
	if orderKey == "" {
		orderKey = set.PrimaryKey
	}
	if orderKey == "" {
		return ""
	}
	if set.Descending {
		return orderKey + " DESC"
	}
	return orderKey + " ASC"
}

// Signal announces a committed write somewhere in the named entity set.
type Signal struct {
	EntitySet string    `json:"entitySet"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher accepts signals emitted after committed writes.
type Publisher interface {
	Publish(signal Signal)
}

// Feed registers interest in an entity set.
type Feed interface {
	Subscribe(ctx context.Context, set EntitySet, onSignal func(Signal)) *Subscription
}
