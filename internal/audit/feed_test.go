package audit

import (
	"testing"
	"time"

	"papertrade/internal/domain"
	"papertrade/internal/util"
)

func TestFeedPublishSubscribe(t *testing.T) {
	f := NewFeed(util.Discard())
	id, ch := f.Subscribe(1)
	if got := f.Subscribers(); got != 1 {
		t.Fatalf("Subscribers() = %d, want 1", got)
	}

	req := &domain.OrderRequest{AccountID: "a", Symbol: "SPY", Side: domain.OrderSideBuy, Qty: 2}
	e := NewEntry(domain.ActionOrderFilled, req, time.Unix(0, 0))
	if e.ID == "" {
		t.Fatal("NewEntry should assign an ID")
	}
	f.Publish(*e)

	select {
	case got := <-ch:
		if got.ID != e.ID || got.Qty != 2 || got.Action != domain.ActionOrderFilled {
			t.Errorf("received %+v, want %+v", got, *e)
		}
	default:
		t.Fatal("expected an entry on the subscriber channel")
	}

	// Buffer of one: the second publish is dropped, not blocked.
	f.Publish(*e)
	f.Publish(*e)
	if got := f.Dropped(); got != 1 {
		t.Errorf("Dropped() = %d, want 1", got)
	}

	f.Unsubscribe(id)
	<-ch
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Unsubscribe")
	}
	if got := f.Subscribers(); got != 0 {
		t.Errorf("Subscribers() = %d, want 0", got)
	}
}

func TestFeedWithoutLoggerDropsQuietly(t *testing.T) {
	f := NewFeed(nil)
	_, ch := f.Subscribe(0)

	req := &domain.OrderRequest{AccountID: "a", Symbol: "SPY", Side: domain.OrderSideSell, Qty: 1}
	f.Publish(*NewEntry(domain.ActionOrderRejected, req, time.Unix(0, 0)))

	if got := f.Dropped(); got != 1 {
		t.Errorf("Dropped() = %d, want 1", got)
	}
	select {
	case e := <-ch:
		t.Errorf("unbuffered subscriber received %+v", e)
	default:
	}
}
