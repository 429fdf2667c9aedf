// Package notify pushes operator notifications for bridge connectivity
// transitions through Shoutrrr service URLs.
package notify

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nicholas-fedor/shoutrrr"

	"fleetbridge/internal/events"
)

// Sender abstracts message dispatch so the notifier can be tested
// without hitting real services.
type Sender interface {
	Send(shoutrrrURL, message string) error
}

// ShoutrrrSender dispatches via the Shoutrrr library.
type ShoutrrrSender struct{}

func (ShoutrrrSender) Send(url, message string) error {
	return shoutrrr.Send(url, message)
}

// cooldown suppresses repeat notifications for the same event type.
const cooldown = 5 * time.Minute

// Notifier subscribes to the event bus and forwards warning-or-worse
// events to each configured Shoutrrr URL.
type Notifier struct {
	urls   []string
	bus    *events.Bus
	sender Sender

	mu       sync.Mutex
	lastSent map[events.EventType]time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewNotifier creates a notifier wired to the given bus. A nil sender
// selects the real Shoutrrr dispatch.
func NewNotifier(urls []string, bus *events.Bus, sender Sender) *Notifier {
	if sender == nil {
		sender = ShoutrrrSender{}
	}
	return &Notifier{
		urls:     urls,
		bus:      bus,
		sender:   sender,
		lastSent: make(map[events.EventType]time.Time),
		stopCh:   make(chan struct{}),
	}
}

// Start subscribes to all events and begins dispatching.
func (n *Notifier) Start() {
	if len(n.urls) == 0 {
		log.Print("[notify] no service URLs configured, notifications disabled")
		return
	}

	ch := make(chan events.Event, 256)

	n.bus.Subscribe(func(e events.Event) {
		select {
		case ch <- e:
		default:
			log.Printf("[notify] event queue full, dropping %s event", e.Type)
		}
	})

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for {
			select {
			case e := <-ch:
				n.handle(e)
			case <-n.stopCh:
				// Drain remaining events
				for {
					select {
					case e := <-ch:
						n.handle(e)
					default:
						return
					}
				}
			}
		}
	}()
}

// Stop signals the dispatch goroutine to finish and waits for it.
func (n *Notifier) Stop() {
	close(n.stopCh)
	n.wg.Wait()
}

// handle dispatches a single event to every configured URL.
func (n *Notifier) handle(e events.Event) {
	if e.Severity < events.SeverityWarning {
		return
	}
	if !n.pastCooldown(e.Type, e.Timestamp) {
		return
	}

	msg := formatMessage(e)
	for _, url := range n.urls {
		if err := n.sender.Send(url, msg); err != nil {
			log.Printf("[notify] send failed: %v", err)
		}
	}
}

// pastCooldown records and checks the last dispatch per event type.
func (n *Notifier) pastCooldown(t events.EventType, at time.Time) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if last, ok := n.lastSent[t]; ok && at.Sub(last) < cooldown {
		return false
	}
	n.lastSent[t] = at
	return true
}

func formatMessage(e events.Event) string {
	if e.AgentUUID != "" {
		return fmt.Sprintf("[%s] %s (agent %s): %s", e.Severity, e.Type, e.AgentUUID, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Severity, e.Type, e.Message)
}
