// Command dumpstream copies a remote file, or a byte range of it, from a
// configured storage connection to a local file. It is used to check an
// adapter's ranged reads outside the HTTP server.
package main

import (
	"context"
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"showtime/config"
	"showtime/internal/storage"
	"showtime/services/connections"
	"showtime/services/streaming"
)

func main() {
	var (
		configPath = flag.String("config", "cache/settings.json", "Path to settings.json")
		storageID  = flag.String("storage", "", "Storage connection id")
		remotePath = flag.String("path", "", "Remote file path")
		rangeSpec  = flag.String("range", "", "Optional Range header, e.g. bytes=0-1048575")
		outPath    = flag.String("out", "dump.bin", "Destination file")
	)
	flag.Parse()
	if *storageID == "" || *remotePath == "" {
		log.Fatalf("-storage and -path are required")
	}

	mgr := config.NewManager(*configPath)
	settings, err := mgr.Load()
	if err != nil {
		log.Fatalf("load settings: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	source := config.NewStorageSource(settings.Storage, &http.Client{Timeout: 15 * time.Second})
	registry := storage.NewRegistry(storage.DefaultFactories())
	defer registry.DisconnectAll()
	resolver := connections.NewResolver(registry, source, nil)

	adapter, err := resolver.Adapter(ctx, *storageID, nil)
	if err != nil {
		log.Fatalf("connect %s: %v", *storageID, err)
	}

	name := storage.CleanPath(*remotePath)
	size, err := adapter.FileSize(ctx, name)
	if err != nil {
		log.Fatalf("stat %s: %v", name, err)
	}
	rng, err := streaming.ParseRange(*rangeSpec, size)
	if err != nil {
		log.Fatalf("range: %v", err)
	}

	body, err := adapter.OpenStream(ctx, name, rng)
	if err != nil {
		log.Fatalf("open %s: %v", name, err)
	}
	defer body.Close()

	out, err := os.Create(*outPath)
	if err != nil {
		log.Fatalf("create %s: %v", *outPath, err)
	}
	defer out.Close()

	start := time.Now()
	n, err := io.Copy(out, body)
	if err != nil {
		log.Fatalf("copy after %d bytes: %v", n, err)
	}
	if rng != nil && n != rng.Length() {
		log.Printf("warning: expected %d bytes, got %d", rng.Length(), n)
	}
	log.Printf("wrote %d of %d bytes to %s in %s", n, size, *outPath, time.Since(start).Round(time.Millisecond))
}
