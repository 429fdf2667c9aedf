package bridge

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	_ "modernc.org/sqlite"

	"fleetbridge/internal/auth"
	"fleetbridge/internal/bus"
	"fleetbridge/internal/db"
	"fleetbridge/internal/events"
	"fleetbridge/internal/store"
	"fleetbridge/internal/upstream"
)

// centralStub fakes every central-server endpoint the router touches,
// including the dual-channel bridge endpoint.
type centralStub struct {
	upgrader websocket.Upgrader

	onboardCalls    atomic.Int32
	tokenCalls      atomic.Int32
	inventoryCalls  atomic.Int32
	scanCalls       atomic.Int32
	bridgeWSCalls   atomic.Int32
	bridgeHTTPCalls atomic.Int32
	refuseWS        atomic.Bool

	lastScanPath atomic.Value // string

	inventoryReply string
	bridgeReply    string
	scanReply      string
}

func (s *centralStub) handler(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/agent/onboard/":
		s.onboardCalls.Add(1)
		w.Write([]byte(`{"uuid":"a-1","client_id":"cid","client_secret":"sec","master_key":"abc"}`))

	case r.URL.Path == "/api/agent/get/jwt/access_token/":
		s.tokenCalls.Add(1)
		w.Write([]byte(`{"access_token":"jwt-1","expires_in":3600}`))

	case r.URL.Path == "/api/agent/bridge/":
		if websocket.IsWebSocketUpgrade(r) {
			if s.refuseWS.Load() {
				http.Error(w, "no websocket", http.StatusServiceUnavailable)
				return
			}
			conn, err := s.upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			defer conn.Close()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
				s.bridgeWSCalls.Add(1)
				if err := conn.WriteMessage(websocket.TextMessage, []byte(s.bridgeReply)); err != nil {
					return
				}
			}
		}
		s.bridgeHTTPCalls.Add(1)
		w.Write([]byte(s.bridgeReply))

	case r.URL.Path == "/api/agent/init/data/" && r.Method == http.MethodPost:
		s.inventoryCalls.Add(1)
		w.Write([]byte(s.inventoryReply))

	case strings.HasPrefix(r.URL.Path, "/api/agent/init/data/") && r.Method == http.MethodPatch:
		s.scanCalls.Add(1)
		s.lastScanPath.Store(r.URL.Path)
		w.Write([]byte(s.scanReply))

	default:
		http.NotFound(w, r)
	}
}

type routerFixture struct {
	router *Router
	conn   *bus.MemoryConn
	store  *store.Store
	db     *sql.DB
	stub   *centralStub
}

func newFixture(t *testing.T, stub *centralStub) *routerFixture {
	t.Helper()

	database, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.CreateSchema(database); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	st, err := store.New(database, key)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(stub.handler))
	t.Cleanup(srv.Close)

	api := upstream.NewClient(srv.URL, "test-key", false)
	wsBase := "ws" + strings.TrimPrefix(srv.URL, "http")
	transport := upstream.NewTransport(wsBase, srv.URL, false)
	t.Cleanup(transport.Close)

	conn := bus.NewMemoryConn()
	t.Cleanup(conn.Close)

	r := New(Config{
		Bus:            conn,
		Store:          st,
		Tokens:         auth.NewManager(st, api),
		API:            api,
		Transport:      transport,
		DB:             database,
		Events:         events.NewBus(),
		HealthInterval: 50 * time.Millisecond,
		RestartWait:    50 * time.Millisecond,
	})

	return &routerFixture{router: r, conn: conn, store: st, db: database, stub: stub}
}

// start runs the router and blocks until all five loops are subscribed.
func (f *routerFixture) start(t *testing.T) {
	t.Helper()

	base := f.conn.ActiveSubscribers()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go f.router.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for f.conn.ActiveSubscribers() < base+5 {
		if time.Now().After(deadline) {
			t.Fatal("router loops did not come up")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (f *routerFixture) onboard(t *testing.T) {
	t.Helper()
	err := f.store.PutCredential(store.Credential{
		UUID: "a-1", ClientID: "cid", ClientSecret: "sec", MasterKey: "abc",
	})
	if err != nil {
		t.Fatalf("seed credential: %v", err)
	}
	if err := f.store.PutToken(store.AccessToken, "jwt-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("seed token: %v", err)
	}
}

func recvOn(t *testing.T, sub *bus.Subscription) bus.Message {
	t.Helper()
	select {
	case m := <-sub.C:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for bus message")
		return bus.Message{}
	}
}

func rowCount(t *testing.T, database *sql.DB, table string) int {
	t.Helper()
	var n int
	if err := database.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func waitRowCount(t *testing.T, database *sql.DB, table string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for rowCount(t, database, table) != want {
		if time.Now().After(deadline) {
			t.Fatalf("%s: got %d rows, want %d", table, rowCount(t, database, table), want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestOnboardingFlow(t *testing.T) {
	f := newFixture(t, &centralStub{})
	f.start(t)

	responses, err := f.conn.Subscribe(bus.TopicBridgeResponse)
	if err != nil {
		t.Fatal(err)
	}

	f.conn.Publish(bus.TopicMasterKey, []byte(`{"master_key":"abc","hostname":"h1","os":"linux"}`))

	var reply map[string]string
	if err := json.Unmarshal(recvOn(t, responses).Payload, &reply); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if reply["status"] != "ok" || reply["token"] != "jwt-1" {
		t.Fatalf("unexpected onboarding response: %v", reply)
	}
	if f.stub.onboardCalls.Load() != 1 {
		t.Errorf("expected 1 onboarding call, got %d", f.stub.onboardCalls.Load())
	}
	if has, _ := f.store.HasCredential(); !has {
		t.Error("credential was not persisted")
	}

	// Second master key with credential and valid token in place:
	// upstream untouched, collector told the token already exists.
	f.conn.Publish(bus.TopicMasterKey, []byte(`{"master_key":"abc","hostname":"h1","os":"linux"}`))

	if err := json.Unmarshal(recvOn(t, responses).Payload, &reply); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if reply["message"] != "Token is already exists" {
		t.Fatalf("unexpected repeat response: %v", reply)
	}
	if f.stub.onboardCalls.Load() != 1 {
		t.Errorf("repeat onboarding hit upstream: %d calls", f.stub.onboardCalls.Load())
	}
}

func TestMonitorBatchFallbackRepublish(t *testing.T) {
	stub := &centralStub{bridgeReply: `{"action":"disk.updated","free_space":"9000"}`}
	stub.refuseWS.Store(true)
	f := newFixture(t, stub)
	f.onboard(t)
	f.start(t)

	scans, err := f.conn.Subscribe("scan/+")
	if err != nil {
		t.Fatal(err)
	}

	f.conn.Publish(bus.TopicMonitorData, []byte(`[{"sample":1},{"sample":2},{"sample":3},{"sample":4},{"sample":5}]`))

	m := recvOn(t, scans)
	if m.Topic != "scan/disk.updated" {
		t.Errorf("expected scan/disk.updated, got %s", m.Topic)
	}
	if string(m.Payload) != stub.bridgeReply {
		t.Errorf("reply not republished verbatim: %s", m.Payload)
	}
	if stub.bridgeHTTPCalls.Load() != 1 {
		t.Errorf("expected 1 secondary delivery, got %d", stub.bridgeHTTPCalls.Load())
	}
}

func TestMonitorDeletionRoutedToStorage(t *testing.T) {
	stub := &centralStub{bridgeReply: `{"action":"storage.deleted","deleted":"storage","uuid":["A"]}`}
	f := newFixture(t, stub)
	f.onboard(t)

	if _, err := f.db.Exec(`INSERT INTO storage (uuid, device_uuid, hw_disk_type, make, model, serial_number, base_fs_type, free_space, total_disk_usage, total_disk_size) VALUES ('A', 'd', 'ssd', 'm', 'x', 's', 'ext4', '1', '1', '2')`); err != nil {
		t.Fatal(err)
	}

	f.start(t)

	scans, err := f.conn.Subscribe("scan/#")
	if err != nil {
		t.Fatal(err)
	}

	f.conn.Publish(bus.TopicMonitorData, []byte(`[{"sample":1}]`))

	waitRowCount(t, f.db, "storage", 0)

	select {
	case m := <-scans.C:
		t.Errorf("deletion reply should not be republished, got %s", m.Topic)
	default:
	}
}

func TestAgentDataStoredAndAcked(t *testing.T) {
	stub := &centralStub{inventoryReply: `{"agent":{"uuid":"a-1","os":"linux","hostname":"h1"}}`}
	f := newFixture(t, stub)
	f.onboard(t)
	f.start(t)

	acks, err := f.conn.Subscribe(bus.TopicAgentResponse)
	if err != nil {
		t.Fatal(err)
	}

	f.conn.Publish(bus.TopicAgentData, []byte(`{"hostname":"h1","devices":[]}`))

	if got := string(recvOn(t, acks).Payload); got != stub.inventoryReply {
		t.Errorf("ack should carry the raw upstream reply, got %s", got)
	}
	waitRowCount(t, f.db, "agent", 1)
	if stub.inventoryCalls.Load() != 1 {
		t.Errorf("expected 1 inventory call, got %d", stub.inventoryCalls.Load())
	}
}

func TestScanResultForwardedAndApplied(t *testing.T) {
	stub := &centralStub{scanReply: `[{"storage":{"uuid":"s-9","device_uuid":"d-1","hw_disk_type":"nvme","make":"m","model":"x","serial_number":"sn","base_fs_type":"ext4","free_space":"5","total_disk_usage":"5","total_disk_size":"10","partition":[]}}]`}
	f := newFixture(t, stub)
	f.onboard(t)
	f.start(t)

	f.conn.Publish("send/scan/partition", []byte(`{"uuid":"a-1","action":"partition","result":{"scanned":true}}`))

	waitRowCount(t, f.db, "storage", 1)
	if got := stub.lastScanPath.Load(); got != "/api/agent/init/data/a-1/disk/" {
		t.Errorf("partition action should be sent as disk, got path %v", got)
	}
}

func TestScanResultMissingFieldsDropped(t *testing.T) {
	stub := &centralStub{scanReply: `[]`}
	f := newFixture(t, stub)
	f.onboard(t)
	f.start(t)

	f.conn.Publish("send/scan/partition", []byte(`{"action":"partition"}`))

	time.Sleep(150 * time.Millisecond)
	if stub.scanCalls.Load() != 0 {
		t.Errorf("incomplete scan result reached upstream: %d calls", stub.scanCalls.Load())
	}
}

func TestMonitoringStatusSurfaced(t *testing.T) {
	f := newFixture(t, &centralStub{})

	statuses := make(chan string, 4)
	f.router.conf.Status = statusFunc(func(s string) { statuses <- s })
	f.start(t)

	f.conn.Publish(bus.TopicMonitoringStatus, []byte(`{"status":"running"}`))

	select {
	case s := <-statuses:
		if s != "running" {
			t.Errorf("expected running, got %q", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("status was not surfaced")
	}
}

type statusFunc func(string)

func (f statusFunc) BroadcastStatus(s string) { f(s) }

func TestHealthGatesLoops(t *testing.T) {
	f := newFixture(t, &centralStub{})
	f.start(t)

	f.conn.SetConnected(false)

	deadline := time.Now().Add(2 * time.Second)
	for f.router.health.running() {
		if time.Now().After(deadline) {
			t.Fatal("health flag never dropped")
		}
		time.Sleep(10 * time.Millisecond)
	}

	f.conn.SetConnected(true)

	deadline = time.Now().Add(2 * time.Second)
	for !f.router.health.running() {
		if time.Now().After(deadline) {
			t.Fatal("health flag never recovered")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
