package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/afero"
	"gopkg.in/natefinch/lumberjack.v2"

	"showtime/api"
	"showtime/config"
	"showtime/handlers"
	"showtime/internal/storage"
	"showtime/services/catalog"
	"showtime/services/connections"
	"showtime/services/library"
	"showtime/services/metadata"
	"showtime/services/streaming"
)

func main() {
	configFlag := flag.String("config", "", "path to settings.json")
	portOverride := flag.Int("port", 0, "override server port from config")
	flag.Parse()

	fmt.Println("🚀 showtime starting...")

	// Determine config path (flag, env or default)
	configPath := *configFlag
	if configPath == "" {
		configPath = os.Getenv("SHOWTIME_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join("cache", "settings.json")
	}

	// Init config manager and load settings (creates defaults if missing)
	cfgManager := config.NewManager(configPath)
	settings, err := cfgManager.Load()
	if err != nil {
		log.Fatalf("failed to load settings: %v", err)
	}

	setupLogging(settings.Log)

	if *portOverride > 0 {
		settings.Server.Port = *portOverride
	}

	secret, err := cfgManager.EnsureCredentialSecret()
	if err != nil {
		log.Fatalf("failed to prepare credential secret: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openCatalog(ctx, settings.Database)
	if err != nil {
		log.Fatalf("failed to open catalog: %v", err)
	}
	defer store.Close()

	cache, err := metadata.NewCache(
		afero.NewOsFs(),
		filepath.Join(settings.Cache.Directory, "metadata"),
		time.Duration(settings.Cache.MetadataTTLHours)*time.Hour,
		settings.Cache.MemoryEntries,
	)
	if err != nil {
		log.Fatalf("failed to create metadata cache: %v", err)
	}
	metadataSvc := metadata.NewService(settings.Metadata, cache)

	source := config.NewStorageSource(settings.Storage, &http.Client{Timeout: 15 * time.Second})
	snapshots, err := connections.NewStore(filepath.Join(settings.Cache.Directory, "storage"), secret)
	if err != nil {
		log.Fatalf("failed to open connection store: %v", err)
	}
	registry := storage.NewRegistry(storage.DefaultFactories())
	resolver := connections.NewResolver(registry, source, snapshots)

	connected, err := resolver.InitializeFromConfig(ctx)
	if err != nil {
		log.Printf("[storage] no storage config loaded: %v", err)
	}
	restored := resolver.RestoreSaved(ctx)

	if settings.Storage.Watch {
		if err := config.WatchStorage(ctx, source, resolver.Reload); err != nil {
			log.Printf("[config] storage watcher unavailable: %v", err)
		}
	}

	librarySvc := library.NewService(store, metadataSvc, settings.Indexing.MetadataWorkers)
	transcoder := streaming.NewTranscoder(settings.Transcode)
	streamSvc := streaming.NewService(resolver, transcoder)

	slog.Info("startup summary",
		"config", cfgManager.Path(),
		"catalog", settings.Database.Driver,
		"yamlConnections", connected,
		"restoredConnections", restored,
		"metadataWorkers", settings.Indexing.MetadataWorkers,
		"transcoding", streamSvc.Transcoding(),
	)

	r := mux.NewRouter()
	api.Register(r, api.Handlers{
		Storage:  handlers.NewStorageHandler(resolver, librarySvc),
		Library:  handlers.NewLibraryHandler(librarySvc, resolver),
		Video:    handlers.NewVideoHandler(streamSvc, librarySvc),
		Metadata: handlers.NewMetadataHandler(metadataSvc),
	})

	addr := net.JoinHostPort(settings.Server.Host, strconv.Itoa(settings.Server.Port))
	fmt.Printf("Server starting on %s\n", addr)

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // No write timeout for streaming
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("🛑 Shutdown signal received, cleaning up...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	registry.DisconnectAll()

	log.Println("✅ Shutdown complete")
}

// setupLogging sends the standard logger to stdout and a rotating file.
func setupLogging(cfg config.LogConfig) {
	if cfg.File == "" {
		return
	}
	logDir := filepath.Dir(cfg.File)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		log.Printf("Warning: could not create log directory %s: %v", logDir, err)
		return
	}
	fileWriter := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
	multiWriter := io.MultiWriter(os.Stdout, fileWriter)
	log.SetOutput(multiWriter)
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	slog.SetDefault(slog.New(slog.NewTextHandler(multiWriter, nil)))
	log.Printf("Logging to file: %s", cfg.File)
}

func openCatalog(ctx context.Context, cfg config.DatabaseSettings) (catalog.Store, error) {
	switch cfg.Driver {
	case config.DriverJSON:
		return catalog.OpenFileStore(cfg.Path)
	default:
		return catalog.OpenSQLite(ctx, cfg.Path)
	}
}
