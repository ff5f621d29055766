package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"paylink/internal/app"
	"paylink/internal/config"
)

// connect opens the stores and wires services without New Relic. The returned
// cleanup closes every connection.
func connect(ctx context.Context) (*app.Container, func(), error) {
	cfg := config.Load()

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	db, err := app.NewDatabase(dialCtx, cfg.Database, nil)
	if err != nil {
		return nil, nil, err
	}

	redisClient, err := app.NewRedisClient(dialCtx, cfg.Redis, nil)
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	container, err := app.NewContainer(db, redisClient, cfg, nil)
	if err != nil {
		redisClient.Close()
		db.Close()
		return nil, nil, err
	}

	cleanup := func() {
		redisClient.Close()
		db.Close()
	}

	return container, cleanup, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
