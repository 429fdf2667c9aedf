// Package bridge routes collector traffic between the bus and the
// central management server.
package bridge

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"fleetbridge/internal/auth"
	"fleetbridge/internal/bus"
	"fleetbridge/internal/events"
	"fleetbridge/internal/inventory"
	"fleetbridge/internal/store"
	"fleetbridge/internal/upstream"
)

const (
	defaultHealthInterval = 5 * time.Second
	defaultRestartWait    = 2 * time.Second
)

// StatusSink receives collector monitoring status updates for the
// presentation layer.
type StatusSink interface {
	BroadcastStatus(status string)
}

// Config wires the router's collaborators.
type Config struct {
	Bus       bus.Conn
	Store     *store.Store
	Tokens    *auth.Manager
	API       *upstream.Client
	Transport *upstream.Transport
	DB        *sql.DB
	Events    *events.Bus
	Status    StatusSink // optional

	HealthInterval time.Duration // defaults to 5s
	RestartWait    time.Duration // pause between runs, defaults to 2s
}

// Router runs the subscription loops that move collector messages to
// the central server and replies back. All loops share one health flag:
// when broker reachability is lost they are torn down together and
// restarted together once it recovers.
type Router struct {
	conf   Config
	health *healthState
}

// New creates a router. Call Run to start it.
func New(conf Config) *Router {
	if conf.HealthInterval <= 0 {
		conf.HealthInterval = defaultHealthInterval
	}
	if conf.RestartWait <= 0 {
		conf.RestartWait = defaultRestartWait
	}
	return &Router{
		conf:   conf,
		health: newHealthState(conf.Bus, conf.Events),
	}
}

// Run blocks until ctx is cancelled, supervising the health poller and
// the subscription loops. A failed run (a subscription error or a lost
// broker link) tears down every loop; a fresh run starts once the
// broker is reachable again.
func (r *Router) Run(ctx context.Context) error {
	go r.health.poll(ctx, r.conf.HealthInterval)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if !r.health.running() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.conf.RestartWait):
			}
			continue
		}

		if err := r.runOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("[bridge] run failed: %v, restarting all loops", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.conf.RestartWait):
			}
		}
	}
}

// runOnce subscribes every loop and drains them until ctx is cancelled,
// the health flag drops, or a subscription cannot be established.
func (r *Router) runOnce(ctx context.Context) error {
	loops := []struct {
		filter  string
		handler func(bus.Message) error
	}{
		{bus.TopicMasterKey, r.handleMasterKey},
		{bus.TopicAgentData, r.handleAgentData},
		{bus.TopicMonitorData, r.handleMonitorData},
		{bus.TopicScanResults, r.handleScanResult},
		{bus.TopicMonitoringStatus, r.handleMonitoringStatus},
	}

	subs := make([]*bus.Subscription, 0, len(loops))
	defer func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	stop := make(chan struct{})
	defer close(stop)

	for _, loop := range loops {
		sub, err := r.conf.Bus.Subscribe(loop.filter)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", loop.filter, err)
		}
		subs = append(subs, sub)

		wg.Add(1)
		go func(filter string, sub *bus.Subscription, handle func(bus.Message) error) {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				case m := <-sub.C:
					if err := handle(m); err != nil {
						log.Printf("[bridge] %s: %v", filter, err)
					}
				}
			}
		}(loop.filter, sub, loop.handler)
	}

	log.Print("[bridge] all loops running")

	ticker := time.NewTicker(r.conf.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !r.health.running() {
				return fmt.Errorf("broker link lost")
			}
		}
	}
}

// handleMasterKey runs the onboarding exchange. The upstream call is
// skipped when a credential is already stored; the token reply goes back
// on the response subject either way.
func (r *Router) handleMasterKey(m bus.Message) error {
	cred, err := r.conf.Store.GetCredential()
	if err != nil {
		return fmt.Errorf("load credential: %w", err)
	}

	if cred == nil {
		issued, err := r.conf.API.Onboard(m.Payload)
		if err != nil {
			return fmt.Errorf("onboarding: %w", err)
		}
		if err := r.conf.Store.PutCredential(issued); err != nil {
			return fmt.Errorf("persist credential: %w", err)
		}
		log.Printf("[bridge] onboarded as agent %s", issued.UUID)
		r.conf.Events.Publish(events.Event{
			Type:      events.AgentOnboarded,
			Severity:  events.SeverityInfo,
			AgentUUID: issued.UUID,
			Message:   "agent onboarded with central server",
		})
	}

	tok, err := r.conf.Store.GetValidToken(store.AccessToken)
	if err != nil {
		return fmt.Errorf("load token: %w", err)
	}
	if tok != nil {
		// Message text matches what collectors already parse.
		return r.publishJSON(bus.TopicBridgeResponse, map[string]string{
			"message": "Token is already exists",
		})
	}

	token, err := r.conf.Tokens.EnsureToken(store.AccessToken)
	if err != nil {
		return fmt.Errorf("ensure token: %w", err)
	}

	r.conf.Events.Publish(events.Event{
		Type:     events.TokenRefreshed,
		Severity: events.SeverityInfo,
		Message:  "agent access token issued",
	})

	return r.publishJSON(bus.TopicBridgeResponse, map[string]string{
		"status": "ok",
		"token":  token,
	})
}

// handleAgentData forwards a full inventory snapshot to the intake
// endpoint, mirrors the reply into local storage, and acknowledges on
// the response subject.
func (r *Router) handleAgentData(m bus.Message) error {
	cred, token, err := r.authedAgent()
	if err != nil {
		return err
	}

	reply, err := r.conf.API.SendInventory(m.Payload, token, cred.UUID)
	if err != nil {
		return fmt.Errorf("forward inventory: %w", err)
	}

	if err := inventory.StoreSnapshot(r.conf.DB, []byte(reply)); err != nil {
		log.Printf("[bridge] snapshot store failed: %v", err)
		r.conf.Events.Publish(events.Event{
			Type:      events.InventoryRejected,
			Severity:  events.SeverityWarning,
			AgentUUID: cred.UUID,
			Message:   err.Error(),
		})
	} else {
		r.conf.Events.Publish(events.Event{
			Type:      events.InventoryStored,
			Severity:  events.SeverityInfo,
			AgentUUID: cred.UUID,
			Message:   "inventory snapshot stored",
		})
	}

	return r.conf.Bus.Publish(bus.TopicAgentResponse, []byte(reply))
}

// handleMonitorData delivers a monitoring batch over the dual-channel
// transport and routes the reply: deletions go to the inventory engine,
// everything else is republished for the collector per action.
func (r *Router) handleMonitorData(m bus.Message) error {
	cred, token, err := r.authedAgent()
	if err != nil {
		return err
	}

	reply, err := r.conf.Transport.Deliver(m.Payload, token, cred.UUID)
	if err != nil {
		r.conf.Events.Publish(events.Event{
			Type:      events.UpstreamFailed,
			Severity:  events.SeverityCritical,
			AgentUUID: cred.UUID,
			Message:   err.Error(),
		})
		return fmt.Errorf("deliver monitoring batch: %w", err)
	}

	var routed struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal([]byte(reply), &routed); err != nil {
		return fmt.Errorf("parse monitoring reply: %w", err)
	}
	if routed.Action == "" {
		return fmt.Errorf("monitoring reply carries no action")
	}

	if strings.Contains(routed.Action, "deleted") {
		if err := inventory.DeleteSubtree(r.conf.DB, []byte(reply)); err != nil {
			return fmt.Errorf("apply deletion %s: %w", routed.Action, err)
		}
		return nil
	}

	return r.conf.Bus.Publish(bus.TopicScanPrefix+routed.Action, []byte(reply))
}

// handleScanResult PATCHes a collector scan result upstream and applies
// the reply as a subtree upsert. Incomplete payloads are dropped.
func (r *Router) handleScanResult(m bus.Message) error {
	var scan struct {
		UUID   string          `json:"uuid"`
		Action string          `json:"action"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(m.Payload, &scan); err != nil {
		return fmt.Errorf("parse scan result on %s: %w", m.Topic, err)
	}
	if scan.UUID == "" || scan.Action == "" || len(scan.Result) == 0 {
		return fmt.Errorf("scan result on %s missing uuid, action or result, dropping", m.Topic)
	}

	_, token, err := r.authedAgent()
	if err != nil {
		return err
	}

	reply, err := r.conf.API.SendScanResult(scan.Result, token, scan.UUID, scan.Action)
	if err != nil {
		return fmt.Errorf("forward scan result %s: %w", scan.Action, err)
	}

	if err := inventory.UpsertSubtree(r.conf.DB, reply); err != nil {
		return fmt.Errorf("apply scan reply %s: %w", scan.Action, err)
	}

	r.conf.Events.Publish(events.Event{
		Type:     events.ScanResultForwarded,
		Severity: events.SeverityInfo,
		Message:  "scan result applied: " + scan.Action,
	})
	return nil
}

// handleMonitoringStatus surfaces the collector's running/stopped state
// to the presentation layer.
func (r *Router) handleMonitoringStatus(m bus.Message) error {
	var msg struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(m.Payload, &msg); err != nil {
		return fmt.Errorf("parse monitoring status: %w", err)
	}
	if msg.Status == "" {
		return fmt.Errorf("monitoring status message carries no status")
	}

	if r.conf.Status != nil {
		r.conf.Status.BroadcastStatus(msg.Status)
	}
	r.conf.Events.Publish(events.Event{
		Type:     events.MonitoringStatus,
		Severity: events.SeverityInfo,
		Message:  "collector monitoring " + msg.Status,
	})
	return nil
}

// authedAgent returns the stored credential plus a valid access token,
// refreshing the token when needed.
func (r *Router) authedAgent() (*store.Credential, string, error) {
	cred, err := r.conf.Store.GetCredential()
	if err != nil {
		return nil, "", fmt.Errorf("load credential: %w", err)
	}
	if cred == nil {
		return nil, "", auth.ErrNotOnboarded
	}

	token, err := r.conf.Tokens.EnsureToken(store.AccessToken)
	if err != nil {
		return nil, "", fmt.Errorf("ensure token: %w", err)
	}
	return cred, token, nil
}

func (r *Router) publishJSON(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.conf.Bus.Publish(topic, payload)
}
