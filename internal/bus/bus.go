// Package bus abstracts the authenticated publish/subscribe transport
// between the collector and the bridge. Topics are '/'-separated with
// MQTT-style wildcards ('+' one level, '#' trailing).
package bus

import "strings"

// Topics exchanged with the collector.
const (
	TopicMasterKey        = "master/key"          // collector → bridge: onboarding master key
	TopicBridgeResponse   = "bridge/response"     // bridge → collector: onboarding/token result
	TopicAgentData        = "agent/data"          // collector → bridge: full inventory snapshot
	TopicAgentResponse    = "agent/response"      // bridge → collector: raw upstream reply
	TopicMonitorData      = "monitor/data"        // collector → bridge: batched monitoring samples
	TopicScanResults      = "send/scan/#"         // collector → bridge: scan results, all actions
	TopicScanPrefix       = "scan/"               // bridge → collector: scan dispatch per action
	TopicScanResultPrefix = "send/scan/"          // prefix of TopicScanResults matches
	TopicMonitoringStatus = "monitoring/status"   // collector → bridge: running|stopped
)

// Message is one delivery from the bus.
type Message struct {
	Topic   string
	Payload []byte
}

// Subscription delivers messages for one topic filter, in arrival order,
// on C. Unsubscribe stops delivery; C is never closed.
type Subscription struct {
	C      <-chan Message
	cancel func()
}

// Unsubscribe stops delivery. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Conn is a connection to the bus.
type Conn interface {
	// Subscribe registers interest in a topic filter. Messages arrive
	// on the returned subscription's channel in publish order.
	Subscribe(filter string) (*Subscription, error)
	// Publish sends payload on a concrete topic.
	Publish(topic string, payload []byte) error
	// Connected reports broker reachability.
	Connected() bool
	Close()
}

// TopicMatches reports whether a concrete topic matches a filter with
// '+'/'#' wildcards.
func TopicMatches(filter, topic string) bool {
	if filter == topic {
		return true
	}

	fparts := strings.Split(filter, "/")
	tparts := strings.Split(topic, "/")

	for i, fp := range fparts {
		if fp == "#" {
			return true
		}
		if i >= len(tparts) {
			return false
		}
		if fp != "+" && fp != tparts[i] {
			return false
		}
	}
	return len(fparts) == len(tparts)
}
