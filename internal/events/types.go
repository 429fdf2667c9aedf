package events

import "time"

// EventType identifies the kind of event being published.
type EventType string

const (
	// Bus connectivity events
	BusConnected    EventType = "bus_connected"
	BusDisconnected EventType = "bus_disconnected"

	// Upstream delivery events
	UpstreamPrimaryDown EventType = "upstream_primary_down"
	UpstreamFailed      EventType = "upstream_failed"

	// Collector lifecycle events
	AgentOnboarded      EventType = "agent_onboarded"
	TokenRefreshed      EventType = "token_refreshed"
	MonitoringStatus    EventType = "monitoring_status"
	InventoryStored     EventType = "inventory_stored"
	InventoryRejected   EventType = "inventory_rejected"
	ScanResultForwarded EventType = "scan_result_forwarded"
)

// Severity indicates the urgency of an event.
type Severity int

const (
	SeverityInfo     Severity = 0
	SeverityWarning  Severity = 1
	SeverityCritical Severity = 2
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Event is the payload published through the bus.
type Event struct {
	Type      EventType         `json:"type"`
	Severity  Severity          `json:"severity"`
	AgentUUID string            `json:"agent_uuid,omitempty"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}
