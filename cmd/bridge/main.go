package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"fleetbridge/internal/auth"
	"fleetbridge/internal/bridge"
	"fleetbridge/internal/bus"
	"fleetbridge/internal/config"
	"fleetbridge/internal/db"
	"fleetbridge/internal/events"
	"fleetbridge/internal/notify"
	"fleetbridge/internal/secret"
	"fleetbridge/internal/statusws"
	"fleetbridge/internal/store"
	"fleetbridge/internal/upstream"
)

const version = "1.0.0"

func main() {
	showVersion := flag.Bool("version", false, "Show version")
	flag.Parse()

	if *showVersion {
		fmt.Printf("fleetbridge v%s\n", version)
		os.Exit(0)
	}

	log.SetFlags(log.Ltime | log.Ldate)
	log.Printf("[main] fleetbridge v%s starting", version)

	conf := config.Load()

	if err := os.MkdirAll(conf.DataDir, 0o700); err != nil {
		log.Fatalf("[main] create data dir: %v", err)
	}

	database, err := db.Open(conf.DBPath)
	if err != nil {
		log.Fatalf("[main] open database: %v", err)
	}
	defer database.Close()
	log.Printf("[main] database ready (%s)", conf.DBPath)

	key, err := secret.LoadOrGenerate(conf.DataDir)
	if err != nil {
		log.Fatalf("[main] load secret: %v", err)
	}

	st, err := store.New(database, key)
	if err != nil {
		log.Fatalf("[main] init store: %v", err)
	}

	api := upstream.NewClient(conf.ServerURL, conf.APIKey, conf.InsecureTLS)
	transport := upstream.NewTransport(conf.WebSocketURL, conf.ServerURL, conf.InsecureTLS)
	defer transport.Close()

	evts := events.NewBus()

	notifier := notify.NewNotifier(splitURLs(conf.NotifyURLs), evts, nil)
	notifier.Start()
	defer notifier.Stop()

	hub := statusws.NewHub(evts)
	defer hub.CloseAll()
	go serveStatus(conf.StatusAddr, hub)

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Print("[main] shutting down")
		cancel()
	}()

	conn, err := bus.DialMQTT(ctx, bus.MQTTConfig{
		BrokerURL: conf.BrokerURL,
		Username:  conf.BrokerUser,
		Password:  conf.BrokerPass,
	})
	if err != nil {
		log.Fatalf("[main] broker connect: %v", err)
	}
	defer conn.Close()
	log.Printf("[main] broker connected (%s)", conf.BrokerURL)

	router := bridge.New(bridge.Config{
		Bus:       conn,
		Store:     st,
		Tokens:    auth.NewManager(st, api),
		API:       api,
		Transport: transport,
		DB:        database,
		Events:    evts,
		Status:    hub,
	})

	if err := router.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("[main] router stopped: %v", err)
	}
	log.Print("[main] bridge stopped")
}

func serveStatus(addr string, hub *statusws.Hub) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("fleetbridge online"))
	})
	mux.Handle("/ws/status", hub)

	log.Printf("[main] status endpoint listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("[main] status endpoint stopped: %v", err)
	}
}

func splitURLs(raw string) []string {
	var urls []string
	for _, u := range strings.Split(raw, ",") {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}
