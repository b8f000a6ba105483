package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/patina/dxspaces/internal/config"
	"github.com/patina/dxspaces/internal/remote"
	"github.com/patina/dxspaces/pkg/api"
	"github.com/patina/dxspaces/pkg/fabric"
	"github.com/patina/dxspaces/pkg/gateway"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Serve the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runGateway,
}

func runGateway(cmd *cobra.Command, _ []string) error {
	settings, logger, err := setup()
	if err != nil {
		return err
	}
	if listenAddr != "" {
		settings.Server.ListenAddr = listenAddr
	}

	logger.Info("gateway configuration",
		"listen_addr", settings.Server.ListenAddr,
		"store", settings.Fabric.Store,
		"unsafe_endpoints", settings.Server.UnsafeEndpoints,
		"registration_types", settings.Registration.Types,
		"max_body_bytes", maxBodyBytes(settings))

	client, closeFabric, err := openFabric(cmd.Context(), settings, logger)
	if err != nil {
		return err
	}
	defer closeFabric()

	svc, err := gateway.NewService(client, logger)
	if err != nil {
		return err
	}

	opts := api.DefaultOptions()
	opts.Title = settings.Server.Title
	opts.UnsafeEndpoints = settings.Server.UnsafeEndpoints
	opts.MaxBodyBytes = maxBodyBytes(settings)
	handlers := api.NewHandlers(svc, logger, opts)

	mux := http.NewServeMux()
	handlers.Routes(mux)

	srv := &http.Server{
		Addr:    settings.Server.ListenAddr,
		Handler: api.CORS(mux),
	}
	return serve(logger, srv, "gateway")
}

// maxBodyBytes caps uploads. Through a remote node an upload must fit in
// one protocol message once encoded.
func maxBodyBytes(settings *config.Settings) int64 {
	if settings.Fabric.Store == config.StoreRemote {
		return remote.MaxPayload(remote.DefaultReadLimit)
	}
	return api.DefaultOptions().MaxBodyBytes
}

// openFabric builds the one fabric client the gateway shares across
// requests: a remote node, or an in-process store
func openFabric(ctx context.Context, settings *config.Settings, logger *slog.Logger) (fabric.Client, func(), error) {
	if settings.Fabric.Store == config.StoreRemote {
		logger.Info("connecting to fabric", "url", settings.Connector())
		client, err := remote.Dial(ctx, settings.Connector(), remote.WithLogger(logger))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to fabric: %w", err)
		}
		return client, func() {
			if err := client.Close(); err != nil {
				logger.Warn("fabric close error", "error", err)
			}
		}, nil
	}

	st, closeStore, err := openStore(ctx, settings, logger)
	if err != nil {
		return nil, nil, err
	}
	return st, closeStore, nil
}
