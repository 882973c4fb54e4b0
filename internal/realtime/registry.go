// Package realtime maintains live collection subscriptions: each
// subscription re-runs its query, diffs the result set against the previous
// snapshot, publishes transient change notifications and hands the full
// current result set to its callback.
package realtime

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/Lllllllleong/collectionadmin/internal/database"
	"github.com/Lllllllleong/collectionadmin/internal/models"
)

// ChangeType classifies one document change inside a watched result set.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeRemoved  ChangeType = "removed"
)

// Notification is the transient message emitted on each change. These are
// UI toasts, distinct from the persisted audit log.
type Notification struct {
	Type       ChangeType `json:"type"`
	Collection string     `json:"collection"`
	DocumentID string     `json:"documentId"`
	Message    string     `json:"message"`
}

// Notifier receives change notifications; the websocket Hub implements it.
type Notifier interface {
	Publish(n Notification)
}

// Callback receives the full current result set of a subscription.
type Callback func(docs []*models.Document)

// DefaultPollInterval drives snapshot re-evaluation when the caller does
// not override it.
const DefaultPollInterval = 2 * time.Second

type subscription struct {
	id         string
	collection string
	filters    []database.Filter
	callback   Callback

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	// prev is only touched by the subscription's own goroutine.
	prev map[string]*models.Document
}

// Registry owns all live subscriptions. It is an explicit object with an
// explicit Close, not ambient global state.
type Registry struct {
	db       database.Database
	notifier Notifier
	interval time.Duration

	mu     sync.Mutex
	subs   map[string]*subscription
	closed bool
}

// NewRegistry returns a Registry polling at the given interval (0 means
// DefaultPollInterval). notifier may be nil when no UI fan-out is wanted.
func NewRegistry(db database.Database, notifier Notifier, interval time.Duration) *Registry {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Registry{
		db:       db,
		notifier: notifier,
		interval: interval,
		subs:     make(map[string]*subscription),
	}
}

// Subscribe registers a live query. The callback first receives the current
// result set, then the full set again after every observed change. The
// returned handle stops delivery; calling it more than once is harmless.
// When the initial query fails the error is logged and a no-op handle is
// returned.
func (r *Registry) Subscribe(collection string, filters []database.Filter, callback Callback) func() {
	sub := &subscription{
		id:         xid.New().String(),
		collection: collection,
		filters:    filters,
		callback:   callback,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}

	docs, err := r.db.Query(context.Background(), collection, filters, nil, 0)
	if err != nil {
		slog.Error("Failed to establish subscription", "collection", collection, "error", err)
		return func() {}
	}

	sub.prev = indexByID(docs)
	callback(docs)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return func() {}
	}
	r.subs[sub.id] = sub
	r.mu.Unlock()

	go r.run(sub)

	return func() {
		sub.stopOnce.Do(func() { close(sub.stop) })
		r.mu.Lock()
		delete(r.subs, sub.id)
		r.mu.Unlock()
	}
}

// run re-evaluates the subscription's query until it is stopped.
func (r *Registry) run(sub *subscription) {
	defer close(sub.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-sub.stop:
			return
		case <-ticker.C:
		}

		docs, err := r.db.Query(context.Background(), sub.collection, sub.filters, nil, 0)
		if err != nil {
			slog.Warn("Subscription query failed", "collection", sub.collection, "error", err)
			continue
		}

		current := indexByID(docs)
		events := diffSnapshots(sub.prev, current)
		sub.prev = current
		if len(events) == 0 {
			continue
		}

		for _, ev := range events {
			r.notify(sub.collection, ev)
		}

		// An unsubscribe racing this delivery may still see it complete;
		// only future deliveries are guaranteed to stop.
		select {
		case <-sub.stop:
			return
		default:
			sub.callback(docs)
		}
	}
}

type changeEvent struct {
	typ ChangeType
	id  string
}

// diffSnapshots classifies per-document changes between two result sets,
// in deterministic id order.
func diffSnapshots(prev, current map[string]*models.Document) []changeEvent {
	var events []changeEvent
	for id, doc := range current {
		old, existed := prev[id]
		switch {
		case !existed:
			events = append(events, changeEvent{typ: ChangeAdded, id: id})
		case !doc.UpdatedAt.Equal(old.UpdatedAt):
			events = append(events, changeEvent{typ: ChangeModified, id: id})
		}
	}
	for id := range prev {
		if _, exists := current[id]; !exists {
			events = append(events, changeEvent{typ: ChangeRemoved, id: id})
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].id < events[j].id })
	return events
}

func (r *Registry) notify(collection string, ev changeEvent) {
	if r.notifier == nil {
		return
	}
	var msg string
	switch ev.typ {
	case ChangeAdded:
		msg = "New " + collection + " added"
	case ChangeModified:
		msg = collection + " updated"
	case ChangeRemoved:
		msg = collection + " deleted"
	}
	r.notifier.Publish(Notification{
		Type:       ev.typ,
		Collection: collection,
		DocumentID: ev.id,
		Message:    msg,
	})
}

// Close stops every subscription and rejects new ones. It waits for the
// subscription goroutines to exit.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	subs := make([]*subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		subs = append(subs, sub)
	}
	r.subs = make(map[string]*subscription)
	r.mu.Unlock()

	for _, sub := range subs {
		sub.stopOnce.Do(func() { close(sub.stop) })
		<-sub.done
	}
}

func indexByID(docs []*models.Document) map[string]*models.Document {
	m := make(map[string]*models.Document, len(docs))
	for _, d := range docs {
		m[d.ID] = d
	}
	return m
}
