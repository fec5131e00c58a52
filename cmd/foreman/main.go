// Command foreman is the worker orchestration daemon. It manages a pool
// of terminal, container, and debug monitor workers behind an HTTP API.
package main

import (
	"log"
	"os"

	"github.com/seantiz/foreman/internal/api"
	"github.com/seantiz/foreman/internal/config"
	"github.com/seantiz/foreman/internal/manager"
	"github.com/seantiz/foreman/internal/store"
	"github.com/seantiz/foreman/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("foreman: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"max_concurrent", cfg.MaxConcurrent,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	deps := worker.Deps{
		Results: db,
		Terminal: worker.TerminalConfig{
			Command: cfg.WorkerCmd,
			Args:    cfg.WorkerArgs,
		},
		Container: worker.ContainerConfig{
			Image:     cfg.ContainerImage,
			SocketDir: cfg.SocketDir,
		},
		Debug: worker.DebugConfig{
			Target: cfg.TmuxTarget,
		},
	}

	flavors := worker.DefaultRegistry()
	mgr := manager.New(flavors, deps, cfg.MaxConcurrent, logger)

	srv := api.NewServer(cfg.ListenAddr, db, flavors, mgr, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
