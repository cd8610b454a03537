package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	clerk "github.com/clerk/clerk-sdk-go/v2"
	gorilllaHandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"streakkeeper/handlers"
	"streakkeeper/internal/discord"
	"streakkeeper/internal/notification"
	"streakkeeper/internal/store"
	"streakkeeper/internal/workers"
	"streakkeeper/middleware"
	"streakkeeper/services"

	_ "net/http/pprof"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Connect to Discord and serve the HTTP API",
	RunE:  runServe,
}

func storeOptions() store.Options {
	return store.Options{
		Backend:         cfg.Store.Backend,
		FilePath:        cfg.Store.FilePath,
		DatabaseURL:     cfg.Store.DatabaseURL,
		SQLitePath:      cfg.Store.SQLitePath,
		SpreadsheetID:   cfg.Store.SpreadsheetID,
		CredentialsFile: cfg.Store.CredentialsFile,
	}
}

// openService connects the configured store and builds the streak service on
// top of it.
func openService(ctx context.Context) (*services.StreakService, store.Store, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open(ctx, storeOptions(), logger)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("store opened", zap.String("backend", cfg.Store.Backend))
	return services.NewStreakService(st, logger, loc, cfg.Discord.LeaderboardAdmins), st, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.HTTP.ClerkSecretKey != "" {
		clerk.SetKey(cfg.HTTP.ClerkSecretKey)
		logger.Info("Clerk initialized successfully")
	}
	middleware.InitPrometheus()

	svc, st, err := openService(ctx)
	if err != nil {
		return err
	}
	defer func() {
		logger.Info("closing store")
		if err := st.Close(); err != nil {
			logger.Warn("store close failed", zap.Error(err))
		}
	}()

	client, err := discord.NewClient(cfg.Discord.Token, logger)
	if err != nil {
		return err
	}

	providers := []services.NotificationProvider{discord.NewNotifier(client)}
	if cfg.Reminder.FCMTopic != "" {
		fcm, err := notification.NewFCMService(ctx, cfg.Reminder.FCMCredentialsFile, cfg.Reminder.FCMTopic, logger)
		if err != nil {
			logger.Warn("could not initialize FCM, push reminders disabled", zap.Error(err))
		} else {
			providers = append(providers, fcm)
			logger.Info("FCM push provider initialized", zap.String("topic", cfg.Reminder.FCMTopic))
		}
	}
	dispatcher := services.NewNotificationDispatcher(logger, providers...)
	dispatcher.OnDelivered(middleware.RecordNotificationSent)
	defer dispatcher.Stop()

	userLimiter := middleware.NewUserRateLimiter()
	ipLimiter := middleware.NewIPRateLimiter()

	commands := handlers.NewCommandHandler(svc, client, cfg.Discord.CommandPrefix, userLimiter, logger)
	client.Bind(ctx, commands)

	scheduler := workers.NewScheduler(workers.Config{
		GuildID:          cfg.Discord.GuildID,
		ChannelID:        cfg.Discord.ReminderChannelID,
		Prefix:           cfg.Discord.CommandPrefix,
		Interval:         cfg.Reminder.Interval,
		RemindersEnabled: cfg.Reminder.Enabled,
	}, svc, dispatcher, handlers.FormatLeaderboard, logger)

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      newRouter(svc, st, ipLimiter),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting server", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return client.Run(gctx) })
	g.Go(func() error { return userLimiter.Cleanup(gctx) })
	g.Go(func() error { return ipLimiter.Cleanup(gctx) })
	if cfg.Discord.GuildID != "" && cfg.Discord.ReminderChannelID != "" {
		g.Go(func() error { return scheduler.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func newRouter(svc *services.StreakService, st store.Store, ipLimiter *middleware.RateLimiter) http.Handler {
	streakHandler := handlers.NewStreakHandler(svc, st, logger)

	r := mux.NewRouter()
	standardRouter := r.PathPrefix("/").Subrouter()
	standardRouter.Use(ipLimiter.Middleware)
	standardRouter.Use(middleware.MonitorMiddleware)

	standardRouter.Handle("/metrics", middleware.BasicAuthMiddleware(cfg.HTTP.MetricsUser, cfg.HTTP.MetricsPass)(promhttp.Handler()))
	if cfg.HTTP.PprofSecret != "" {
		standardRouter.PathPrefix("/debug/pprof/").Handler(middleware.PprofSecurityMiddleware(cfg.HTTP.PprofSecret)(http.DefaultServeMux))
	}
	standardRouter.HandleFunc("/health", streakHandler.Health).Methods("GET")

	api := standardRouter.PathPrefix("/api/v1/guilds/{guildID}").Subrouter()
	api.HandleFunc("/streak", streakHandler.GetStreak).Methods("GET")
	api.HandleFunc("/leaderboard", streakHandler.GetLeaderboard).Methods("GET")
	api.HandleFunc("/stats/{userID}", streakHandler.GetStats).Methods("GET")
	api.HandleFunc("/longest", streakHandler.GetLongest).Methods("GET")

	if cfg.HTTP.ClerkSecretKey != "" {
		protected := api.PathPrefix("").Subrouter()
		protected.Use(middleware.ClerkAuthMiddleware(middleware.ClerkVerifier, logger))
		protected.Use(middleware.RequireAdmin(cfg.HTTP.AdminClerkIDs))
		protected.HandleFunc("/export", streakHandler.Export).Methods("GET")
	} else {
		logger.Info("CLERK_SECRET_KEY not set, export endpoint disabled")
	}

	corsHandler := gorilllaHandlers.CORS(
		gorilllaHandlers.AllowedOrigins([]string{"*"}),
		gorilllaHandlers.AllowedMethods([]string{"GET", "OPTIONS"}),
		gorilllaHandlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-Pprof-Secret"}),
		gorilllaHandlers.ExposedHeaders([]string{"Content-Length", "Content-Disposition"}),
	)
	return corsHandler(r)
}
