package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chowlane/ordersync/internal/broadcast"
	"github.com/chowlane/ordersync/internal/config"
	"github.com/chowlane/ordersync/internal/engine"
	"github.com/chowlane/ordersync/internal/model"
	"github.com/chowlane/ordersync/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/ordersync.local.yaml", "path to config file")
	userID := flag.String("user", "", "user id to sync for")
	role := flag.String("role", "shop", "account role: customer, shop, or dasher")
	statusPort := flag.Int("status-port", 8080, "port for the status endpoint")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting ordersync",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	identity := model.Identity{UserID: *userID, Role: model.Role(*role)}
	if identity.UserID == "" || !identity.Role.Valid() {
		logger.Error("a user id and a valid role are required", "user", *userID, "role", *role)
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	identity.Token = cfg.Server.Token

	logger.Info("configuration loaded",
		"ws_url", cfg.Server.WSURL,
		"rest_url", cfg.Server.RESTURL,
		"store", cfg.Store.Path,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	emitter := broadcast.NewChannelEmitter(256)

	eng, err := engine.New(cfg,
		engine.WithLogger(logger),
		engine.WithEmitter(emitter),
	)
	if err != nil {
		logger.Error("failed to build engine", "error", err)
		os.Exit(1)
	}
	defer eng.Close()

	eng.OnSessionExpired(func(err error) {
		logger.Error("session expired", "error", err)
		cancel()
	})

	unsubscribe := eng.SubscribeWallet(func(snap model.WalletSnapshot) {
		logger.Info("wallet updated",
			"user_id", snap.UserID,
			"account_type", snap.AccountType,
			"balance", snap.Balance,
		)
	})
	defer unsubscribe()

	if err := eng.Start(ctx, identity); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	statusServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", *statusPort),
		Handler: createStatusHandler(eng, logger),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting status server", "port", *statusPort)
		if err := statusServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case ev := <-emitter.Events():
				logger.Debug("order update broadcast", "topic", ev.Topic, "payload", string(ev.Payload))
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return statusServer.Shutdown(shutdownCtx)
	})

	logger.Info("ordersync running",
		"user_id", identity.UserID,
		"role", identity.Role,
		"status_url", fmt.Sprintf("http://localhost:%d/status", *statusPort),
	)

	if err := g.Wait(); err != nil {
		logger.Error("shutdown with error", "error", err)
		os.Exit(1)
	}

	logger.Info("ordersync stopped")
}

// createStatusHandler exposes the engine's live state for monitoring.
func createStatusHandler(eng *engine.Engine, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		stats := eng.Stats()

		status := struct {
			Connection string         `json:"connection"`
			Components map[string]any `json:"components"`
		}{
			Connection: string(eng.ConnectionState()),
			Components: map[string]any{
				"router": stats.Router,
				"poller": stats.Poller,
				"feed": map[string]int{
					"items":  len(eng.Feed().Items()),
					"unread": eng.Feed().Unread(),
				},
			},
		}

		w.Header().Set("Content-Type", "application/json")
		if stats.Poller.Failing {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(status)
	})

	mux.HandleFunc("/debug/orders", func(w http.ResponseWriter, r *http.Request) {
		orders := eng.Orders()

		type displayOrder struct {
			model.Order
			DisplayStatus model.Status `json:"displayStatus"`
		}
		out := make([]displayOrder, 0, len(orders))
		for _, o := range orders {
			display, _ := eng.DisplayStatus(o.ID)
			out = append(out, displayOrder{Order: o, DisplayStatus: display})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"count":  len(out),
			"orders": out,
		})
	})

	return mux
}
