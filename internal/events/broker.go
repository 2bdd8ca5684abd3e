// Package events implements an in-process broker that fans change and scan
// notifications out to engine consumers (UI pollers, exporters).
package events

import (
	"sync/atomic"

	"github.com/jomardyan/scriptdex/internal/models"
)

// Event is one notification delivered to subscribers.
type Event struct {
	// Type is "change" for reconciler classifications or "scan" for scan
	// lifecycle transitions.
	Type   string
	RootID int64
	Change *models.ChangeLogEntry
	Scan   *models.ScanEvent
}

// Broker fans events out to subscriber channels.
//
// Concurrency model: a single internal loop (goroutine) owns the subscriber
// set. Public methods communicate with the loop through channels, so no
// mutexes are required. Slow subscribers are skipped, never blocked on.
type Broker struct {
	subscribeCh   chan chan Event
	unsubscribeCh chan chan Event
	publishCh     chan Event

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a running broker.
func NewBroker() *Broker {
	b := &Broker{
		subscribeCh:   make(chan chan Event),
		unsubscribeCh: make(chan chan Event),
		publishCh:     make(chan Event, 256),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	subscribers := make(map[chan Event]struct{})

	for {
		select {
		case <-b.stopCh:
			for ch := range subscribers {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			subscribers[ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := subscribers[ch]; ok {
				delete(subscribers, ch)
				close(ch)
			}

		case ev := <-b.publishCh:
			for ch := range subscribers {
				select {
				case ch <- ev:
				default:
					// Subscriber buffer full; drop rather than stall the loop.
				}
			}
		}
	}
}

// Close stops the loop and closes all subscriber channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe registers a new consumer and returns its channel.
func (b *Broker) Subscribe() chan Event {
	ch := make(chan Event, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}
	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}
	return ch
}

// Unsubscribe removes a consumer and closes its channel.
func (b *Broker) Unsubscribe(ch chan Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// PublishChange broadcasts one reconciler classification.
func (b *Broker) PublishChange(change models.ChangeLogEntry) {
	b.publish(Event{Type: "change", RootID: change.RootID, Change: &change})
}

// PublishScan broadcasts a scan lifecycle transition.
func (b *Broker) PublishScan(scan models.ScanEvent) {
	b.publish(Event{Type: "scan", RootID: scan.RootID, Scan: &scan})
}

func (b *Broker) publish(ev Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- ev:
	case <-b.stopped:
	}
}
