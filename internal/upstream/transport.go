package upstream

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrBothFailed is returned by Deliver when the primary and the secondary
// channel both fail for one payload.
var ErrBothFailed = errors.New("both delivery channels failed")

const (
	handshakeTimeout = 10 * time.Second
	exchangeTimeout  = 15 * time.Second
)

// Transport delivers one JSON payload upstream per call and returns the
// server's reply, preferring a persistent WebSocket channel and falling
// back to a stateless HTTPS POST. The cached WebSocket connection is
// mutex-guarded: one in-flight Deliver at a time.
type Transport struct {
	wsURL   string // primary: WebSocket endpoint
	httpURL string // secondary: stateless endpoint
	dialer  *websocket.Dialer
	http    *http.Client

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewTransport creates a dual-channel transport. wsBase and httpBase are
// the central server's WSS and HTTPS base URLs.
func NewTransport(wsBase, httpBase string, insecure bool) *Transport {
	dialer := &websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	if insecure {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &Transport{
		wsURL:   strings.TrimRight(wsBase, "/") + "/api/agent/bridge/",
		httpURL: strings.TrimRight(httpBase, "/") + "/api/agent/bridge/",
		dialer:  dialer,
		http:    newHTTPClient(insecure),
	}
}

// Deliver sends payload upstream and returns the reply body. Any primary
// error drops the cached connection and falls through to the secondary;
// after a successful fallback the primary is reopened best-effort so
// subsequent calls prefer it again.
func (t *Transport) Deliver(payload []byte, token, agentUUID string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	reply, primaryErr := t.sendPrimary(payload, token, agentUUID)
	if primaryErr == nil {
		return reply, nil
	}
	log.Printf("[transport] primary channel failed: %v, falling back to HTTPS", primaryErr)

	reply, secondaryErr := t.sendSecondary(payload, token, agentUUID)
	if secondaryErr != nil {
		return "", fmt.Errorf("%w: primary: %v; secondary: %v", ErrBothFailed, primaryErr, secondaryErr)
	}

	// Self-heal the primary channel for the next call.
	if conn, err := t.dial(token, agentUUID); err != nil {
		log.Printf("[transport] primary reconnect after fallback failed: %v", err)
	} else {
		t.conn = conn
		log.Printf("[transport] primary channel reconnected")
	}

	return reply, nil
}

// sendPrimary performs one request/response exchange over the cached
// WebSocket connection, opening it first if needed. Caller holds t.mu.
func (t *Transport) sendPrimary(payload []byte, token, agentUUID string) (string, error) {
	if t.conn == nil {
		conn, err := t.dial(token, agentUUID)
		if err != nil {
			return "", fmt.Errorf("open primary channel: %w", err)
		}
		t.conn = conn
	}

	deadline := time.Now().Add(exchangeTimeout)
	t.conn.SetWriteDeadline(deadline)
	if err := t.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.dropConn()
		return "", fmt.Errorf("primary send: %w", err)
	}

	t.conn.SetReadDeadline(deadline)
	msgType, reply, err := t.conn.ReadMessage()
	if err != nil {
		t.dropConn()
		return "", fmt.Errorf("primary receive: %w", err)
	}
	if msgType != websocket.TextMessage {
		t.dropConn()
		return "", fmt.Errorf("unexpected message type %d on primary channel", msgType)
	}
	return string(reply), nil
}

func (t *Transport) sendSecondary(payload []byte, token, agentUUID string) (string, error) {
	req, err := http.NewRequest(http.MethodPost, t.httpURL, strings.NewReader(string(payload)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("access-token", token)
	req.Header.Set("uuid", agentUUID)

	resp, err := t.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("secondary send: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("secondary returned HTTP %d: %s", resp.StatusCode, body)
	}
	return string(body), nil
}

func (t *Transport) dial(token, agentUUID string) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("uuid", agentUUID)
	header.Set("access-token", token)

	conn, _, err := t.dialer.Dial(t.wsURL, header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (t *Transport) dropConn() {
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
}

// Close tears down the cached primary connection.
func (t *Transport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dropConn()
}
