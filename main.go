package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"
)

func main() {
	addr := flag.String("addr", ":8080", "HTTP listen address")
	clientDir := flag.String("client", "", "Path to client directory (default: ../client)")
	dbPath := flag.String("db", "spatial.db", "SQLite database path (empty disables operators and analytics)")
	configPath := flag.String("config", "", "Path to JSON world config (optional)")
	adminUser := flag.String("admin-user", "", "Operator account to create or reset on startup")
	adminPass := flag.String("admin-pass", os.Getenv("SPATIAL_ADMIN_PASS"), "Password for -admin-user")
	sessions := flag.Int("sessions", 1, "Number of worlds to start with")
	flag.Parse()

	if *clientDir == "" {
		exe, _ := os.Executable()
		*clientDir = filepath.Join(filepath.Dir(exe), "..", "client")
		// Fallback for development
		if _, err := os.Stat(*clientDir); os.IsNotExist(err) {
			*clientDir = "../client"
		}
		// Run API-only when there is no client at all
		if _, err := os.Stat(*clientDir); os.IsNotExist(err) {
			*clientDir = ""
		}
	}

	cfg := DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = LoadConfig(*configPath); err != nil {
			log.Fatalf("config: %v", err)
		}
	} else if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	var db *DB
	if *dbPath != "" {
		var err error
		if db, err = OpenDB(*dbPath); err != nil {
			log.Fatalf("open database: %v", err)
		}
		defer db.Close()
	}

	hub := NewHub(cfg, db)
	if *adminUser != "" {
		if hub.auth == nil {
			log.Fatalf("-admin-user needs a database")
		}
		if err := hub.auth.EnsureOperator(*adminUser, *adminPass); err != nil {
			log.Fatalf("operator: %v", err)
		}
	}
	go hub.Run()

	for i := 0; i < *sessions; i++ {
		sess, err := hub.sessions.CreateSession("", cfg)
		if err != nil {
			log.Fatalf("create session: %v", err)
		}
		log.Printf("Session %s: %dx%d cells over %gx%g units, %d objects",
			sess.ID, cfg.Columns, cfg.Rows, cfg.WorldWidth, cfg.WorldHeight, cfg.Objects)
	}

	mux := SetupRoutes(hub, *clientDir)

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	server := &http.Server{Addr: *addr, Handler: mux}

	go func() {
		log.Printf("Server starting on %s", *addr)
		if *clientDir != "" {
			log.Printf("Serving client files from %s", *clientDir)
		}
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe: %v", err)
		}
	}()

	<-stop
	log.Println("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	hub.Shutdown()
}
