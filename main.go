package main

import (
	"context"
	"embed"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/YSLin901019/ntu-iot/internal/api"
	"github.com/YSLin901019/ntu-iot/internal/config"
	"github.com/YSLin901019/ntu-iot/internal/db"
	"github.com/YSLin901019/ntu-iot/internal/ingest"
	"github.com/YSLin901019/ntu-iot/internal/mqtt"
	"github.com/YSLin901019/ntu-iot/internal/shelf"
	"github.com/YSLin901019/ntu-iot/internal/version"
)

var (
	//go:embed static/*
	staticFiles embed.FS
	configPath  = flag.String("config", "", "Path to JSON config file")
	listen      = flag.String("listen", "", "Listen address (overrides config)")
	dbPath      = flag.String("db", "", "SQLite database path (overrides config)")
	devMode     = flag.Bool("dev", false, "Serve static files from ./static instead of the embedded copy")
)

// heartbeatInterval is how often the background monitor pings every known
// device and records online/offline transitions.
const heartbeatInterval = 60 * time.Second

// Readings older than retentionDays are swept once a day, always keeping
// the newest retentionKeepMin rows so a long-idle install retains history.
const (
	pruneInterval    = 24 * time.Hour
	retentionDays    = 30
	retentionKeepMin = 1000
)

func loadConfig() *config.Config {
	if *configPath == "" {
		return config.Default()
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config %s: %v", *configPath, err)
	}
	return cfg
}

func main() {
	flag.Parse()

	cfg := loadConfig()
	if *listen != "" {
		cfg.ListenAddr = listen
	}
	if *dbPath != "" {
		cfg.DBPath = dbPath
	}

	// Schema maintenance runs and exits before any of the runtime wiring.
	if flag.NArg() > 0 && flag.Arg(0) == "migrate" {
		db.RunMigrateCommand(flag.Args()[1:], cfg.GetDBPath())
		return
	}

	log.Printf("shelf-monitor %s starting", version.String())

	database, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	resolver := shelf.NewStoreResolver(database, cfg.GetDefaultGeometry())
	handler := ingest.NewHandler(database, resolver, cfg.GetOccupiedThreshold())
	broker := mqtt.NewClient(cfg, handler)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The paho client keeps retrying in the background, so a broker that is
	// down at startup delays ingest instead of killing the daemon.
	if err := broker.Connect(ctx); err != nil {
		log.Printf("mqtt connect failed, retrying in background: %v", err)
	}
	defer broker.Disconnect()

	// periodic heartbeat sweep marking devices online or offline
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				sweepHeartbeats(ctx, database, broker, cfg.GetHeartbeatTimeout())
			case <-ctx.Done():
				log.Printf("heartbeat routine terminated")
				return
			}
		}
	}()

	// retention sweep so sensor_data stays bounded on small disks
	wg.Add(1)
	go func() {
		defer wg.Done()
		pruneReadings(database)
		ticker := time.NewTicker(pruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				pruneReadings(database)
			case <-ctx.Done():
				log.Printf("prune routine terminated")
				return
			}
		}
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		// mount the admin debugging routes
		database.AttachAdminRoutes(mux)

		// mount the console API handlers
		apiMux := api.NewServer(database, broker, cfg).ServeMux()
		mux.Handle("/api/", apiMux)

		// read static files from the embedded filesystem in production or
		// from the local ./static in dev for easier iteration without
		// restarting the server; fs.Sub strips the static/ prefix so both
		// modes serve index.html at /
		var staticHandler http.Handler
		if *devMode {
			staticHandler = http.FileServer(http.Dir("./static"))
		} else {
			staticFS, err := fs.Sub(staticFiles, "static")
			if err != nil {
				log.Fatalf("embedded static files: %v", err)
			}
			staticHandler = http.FileServer(http.FS(staticFS))
		}
		mux.Handle("/", staticHandler)

		server := &http.Server{
			Addr:    cfg.GetListenAddr(),
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			log.Printf("console listening on %s", cfg.GetListenAddr())
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

func pruneReadings(database *db.DB) {
	deleted, err := database.PruneReadings(retentionDays, retentionKeepMin)
	if err != nil {
		log.Printf("prune: %v", err)
		return
	}
	if deleted > 0 {
		log.Printf("prune: deleted %d readings older than %d days", deleted, retentionDays)
	}
}

// sweepHeartbeats pings every registered device and records the result.
func sweepHeartbeats(ctx context.Context, database *db.DB, broker *mqtt.Client, window time.Duration) {
	if !broker.IsConnected() {
		return
	}
	deviceIDs, err := database.DeviceIDs()
	if err != nil {
		log.Printf("heartbeat: list devices: %v", err)
		return
	}
	if len(deviceIDs) == 0 {
		return
	}
	results, err := broker.CheckAllHeartbeats(ctx, deviceIDs, window)
	if err != nil {
		log.Printf("heartbeat: check failed: %v", err)
		return
	}
	for deviceID, alive := range results {
		status := db.DeviceStatusOffline
		if alive {
			status = db.DeviceStatusOnline
		}
		if err := database.UpdateDeviceStatus(deviceID, status); err != nil {
			log.Printf("heartbeat: record %s: %v", deviceID, err)
		}
	}
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(),
			"Usage: %s [flags] [migrate <up|down|status|force>]\n\nFlags:\n", os.Args[0])
		flag.PrintDefaults()
	}
}
