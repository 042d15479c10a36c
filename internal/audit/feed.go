// Package audit fans out ledger decisions (fills and rejections) to live
// subscribers such as the websocket stream.
package audit

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"papertrade/internal/domain"
	"papertrade/internal/util"
)

// NewEntry returns an audit entry stamped with a fresh ID and time.
func NewEntry(action string, req *domain.OrderRequest, now time.Time) *domain.AuditEntry {
	return &domain.AuditEntry{
		ID:        uuid.NewString(),
		Time:      now,
		Action:    action,
		AccountID: req.AccountID,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Qty:       req.Qty,
	}
}

// Feed is an in-process pub/sub of audit entries. Publishing never blocks:
// slow consumers have entries dropped.
type Feed struct {
	log *slog.Logger

	subsMu    sync.Mutex
	nextSubID int
	subs      map[int]chan domain.AuditEntry
	dropped   int
}

// NewFeed creates an empty Feed. A nil logger discards drop warnings.
func NewFeed(log *slog.Logger) *Feed {
	if log == nil {
		log = util.Discard()
	}
	return &Feed{
		log:  log,
		subs: make(map[int]chan domain.AuditEntry),
	}
}

// Subscribe returns a subscription ID and a channel that receives entries.
// bufSize controls the channel buffer.
func (f *Feed) Subscribe(bufSize int) (int, <-chan domain.AuditEntry) {
	ch := make(chan domain.AuditEntry, bufSize)
	f.subsMu.Lock()
	id := f.nextSubID
	f.nextSubID++
	f.subs[id] = ch
	f.subsMu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (f *Feed) Unsubscribe(id int) {
	f.subsMu.Lock()
	if ch, ok := f.subs[id]; ok {
		delete(f.subs, id)
		close(ch)
	}
	f.subsMu.Unlock()
}

// Subscribers returns the number of active subscriptions.
func (f *Feed) Subscribers() int {
	f.subsMu.Lock()
	defer f.subsMu.Unlock()
	return len(f.subs)
}

// Publish sends e to every subscriber without blocking.
func (f *Feed) Publish(e domain.AuditEntry) {
	f.subsMu.Lock()
	defer f.subsMu.Unlock()
	for id, ch := range f.subs {
		select {
		case ch <- e:
		default:
			f.dropped++
			f.log.Warn("audit subscriber full, dropping entry", "subscriber", id, "entry", e.ID)
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber's
// buffer was full.
func (f *Feed) Dropped() int {
	f.subsMu.Lock()
	defer f.subsMu.Unlock()
	return f.dropped
}
