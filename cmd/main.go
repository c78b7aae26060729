package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/Suhaibinator/CraftRouter/internal/config"
	"github.com/Suhaibinator/CraftRouter/server"
)

func main() {
	// The snapshot path is optional, e.g. "./CraftRouter config.json"
	snapshotPath := "config.json"
	if len(os.Args) > 1 {
		snapshotPath = os.Args[1]
	}

	if err := run(snapshotPath); err != nil {
		log.Fatalf("CraftRouter stopped: %v", err)
	}
}

// run keeps the deferred cleanup out of main, where log.Fatalf would skip it.
func run(snapshotPath string) error {
	store, err := newStore(snapshotPath)
	if err != nil {
		return fmt.Errorf("error opening snapshot store: %w", err)
	}
	defer closeStore(store)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return server.Run(ctx, store)
}

// closeStore releases stores that hold a connection, such as RedisStore.
func closeStore(store config.Store) {
	if c, ok := store.(io.Closer); ok {
		if err := c.Close(); err != nil {
			log.Printf("Error closing snapshot store: %v", err)
		}
	}
}

// newStore keeps the snapshot in Redis when SNAPSHOT_REDIS_ADDR is set, and in
// the file at path otherwise.
func newStore(path string) (config.Store, error) {
	addr := os.Getenv("SNAPSHOT_REDIS_ADDR")
	if addr == "" {
		return config.FileStore{Path: path}, nil
	}

	db := 0
	if v := os.Getenv("SNAPSHOT_REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, err
		}
		db = n
	}
	return config.NewRedisStore(addr, os.Getenv("SNAPSHOT_REDIS_PASSWORD"), db, os.Getenv("SNAPSHOT_REDIS_KEY"))
}
