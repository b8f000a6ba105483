package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"dagger.io/dagger"
	"github.com/spf13/cobra"

	"github.com/patina/dxspaces/internal/config"
	"github.com/patina/dxspaces/internal/remote"
	"github.com/patina/dxspaces/internal/sandbox"
	"github.com/patina/dxspaces/internal/store"
	"github.com/patina/dxspaces/internal/store/badgerdb"
	"github.com/patina/dxspaces/internal/store/memory"
	"github.com/patina/dxspaces/pkg/api"
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Serve a reference fabric node for remote gateways",
	Args:  cobra.NoArgs,
	RunE:  runNode,
}

func runNode(cmd *cobra.Command, _ []string) error {
	settings, logger, err := setup()
	if err != nil {
		return err
	}
	addr := settings.NodeAddr()
	if listenAddr != "" {
		addr = listenAddr
	}

	st, closeStore, err := openStore(cmd.Context(), settings, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	mux := http.NewServeMux()
	mux.Handle(remote.Path, remote.NewServer(st, logger))
	mux.HandleFunc("/health", api.Health(logger))

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return serve(logger, srv, "fabric node")
}

// openStore builds a reference store. A remote store setting means the
// process is itself the node, so it keeps data in badger when a data
// directory is configured and in memory otherwise.
func openStore(ctx context.Context, settings *config.Settings, logger *slog.Logger) (*store.Store, func(), error) {
	var (
		backend store.Backend
		err     error
	)
	switch {
	case settings.Fabric.Store == config.StoreMemory,
		settings.Fabric.Store == config.StoreRemote && settings.Fabric.DataDir == "":
		backend = memory.New()
		logger.Info("using in-memory store")
	default:
		backend, err = badgerdb.Open(settings.Fabric.DataDir)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using badger store", "data_dir", settings.Fabric.DataDir)
	}

	opts := []store.Option{
		store.WithLogger(logger),
		store.WithModules(settings.Registration.Types...),
	}

	var dag *dagger.Client
	if settings.Sandbox.Enabled {
		logger.Info("connecting to dagger")
		dag, err = dagger.Connect(ctx, dagger.WithLogOutput(os.Stderr))
		if err != nil {
			backend.Close()
			return nil, nil, fmt.Errorf("failed to connect to dagger: %w", err)
		}
		opts = append(opts, store.WithRunner(sandbox.New(dag,
			sandbox.WithImage(settings.Sandbox.Image),
			sandbox.WithPackages(settings.Sandbox.Packages...),
			sandbox.WithLogger(logger),
		)))
	}

	st := store.New(backend, opts...)
	return st, func() {
		if err := st.Close(); err != nil {
			logger.Warn("store close error", "error", err)
		}
		if dag != nil {
			dag.Close()
		}
	}, nil
}
