package bridge

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"fleetbridge/internal/bus"
	"fleetbridge/internal/events"
)

// healthState tracks broker reachability. The flag gates all router
// loops: they run only while it is up, and transitions are broadcast
// for the presentation layer.
type healthState struct {
	conn bus.Conn
	evts *events.Bus
	up   atomic.Bool
}

func newHealthState(conn bus.Conn, evts *events.Bus) *healthState {
	h := &healthState{conn: conn, evts: evts}
	h.up.Store(conn.Connected())
	return h
}

func (h *healthState) running() bool { return h.up.Load() }

// poll watches broker reachability until ctx is cancelled, flipping the
// flag on transitions.
func (h *healthState) poll(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			connected := h.conn.Connected()
			if connected == h.up.Load() {
				continue
			}
			h.up.Store(connected)

			if connected {
				log.Print("[bridge] broker link restored")
				h.evts.Publish(events.Event{
					Type:     events.BusConnected,
					Severity: events.SeverityInfo,
					Message:  "broker link restored",
				})
			} else {
				log.Print("[bridge] broker link lost, pausing loops")
				h.evts.Publish(events.Event{
					Type:     events.BusDisconnected,
					Severity: events.SeverityWarning,
					Message:  "broker unreachable, bridge paused",
				})
			}
		}
	}
}
