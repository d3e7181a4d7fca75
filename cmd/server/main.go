package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "marketescrow/docs" // swagger docs

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"

	"marketescrow/internal/auth"
	"marketescrow/internal/cache"
	"marketescrow/internal/config"
	"marketescrow/internal/db"
	"marketescrow/internal/handler"
	"marketescrow/internal/jury"
	"marketescrow/internal/ledger"
	"marketescrow/internal/notify"
	"marketescrow/internal/repository"
	"marketescrow/internal/router"
	"marketescrow/internal/scheduler"
	"marketescrow/internal/service"
	"marketescrow/internal/telemetry"
)

// @title Marketplace Escrow API
// @version 1.0
// @description Escrow lifecycle, AI-jury disputes, Aura reputation and community payouts for a services marketplace.
// @host localhost:8080
// @BasePath /api
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "marketescrow", cfg.OTelEndpoint)
	if err != nil {
		log.Printf("telemetry: disabled: %v", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	gormDB, err := db.Open(cfg.DBDriver, cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("database init: %v", err)
	}
	if cfg.ResetDB {
		log.Println("RESET_DB=true detected, dropping all tables...")
	}
	if err := db.Migrate(gormDB, cfg.ResetDB); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	cacheClient := cache.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	if err := cacheClient.Ping(ctx); err != nil {
		log.Printf("cache: redis unreachable, continuing without it: %v", err)
	}

	var sink notify.Sink = notify.LogSink{}
	if cfg.NotifySink == "amqp" {
		amqpSink := notify.NewAMQPSink(cfg.RabbitMQURL)
		defer amqpSink.Close()
		sink = amqpSink
	}

	ledgerRouter := ledger.NewRouter(
		ledger.NewMockAdapter(),
		ledger.NewCardProcessorAdapter(ledger.GatewayConfig{BaseURL: cfg.CardGatewayURL, APIKey: cfg.LedgerAPIKey}),
		ledger.NewLocalWalletAdapter(ledger.GatewayConfig{BaseURL: cfg.WalletGatewayURL, APIKey: cfg.LedgerAPIKey}),
		cfg.LedgerMode == ledger.ForceModeMock,
	)

	var juryProvider jury.Provider = jury.NewRulesProvider()
	if cfg.JuryMode == "openai" {
		juryProvider = jury.NewOpenAIProvider(jury.OpenAIConfig{URL: cfg.JuryURL, APIKey: cfg.JuryAPIKey, Model: cfg.JuryModel})
	}

	var distribute service.DistributionFunc = service.ProportionalDistribution
	if cfg.PayoutDistribution == "tiered" {
		distribute = service.TieredDistribution(cfg.Policy)
	}

	store := repository.NewStore(gormDB)
	policy := cfg.Policy

	// Initialize auth components
	jwtService := auth.NewJWTService(cfg.JWTSecret)
	tokenStore := auth.NewTokenStore(cacheClient)

	// Initialize services
	authService := service.NewAuthService(store.Users(), jwtService, tokenStore)
	auraService := service.NewAuraService(store, policy, cacheClient, nil)
	escrowService := service.NewEscrowService(store, policy, ledgerRouter, auraService, sink, nil)
	sliceService := service.NewSliceService(store, policy, ledgerRouter, auraService, escrowService, sink)
	ratingService := service.NewRatingService(store, policy, auraService)
	disputeService := service.NewDisputeService(store, policy, escrowService, auraService, juryProvider, sink, nil)
	payoutService := service.NewPayoutService(store, policy, escrowService, distribute, sink)

	e := echo.New()
	e.HideBanner = true
	router.Register(e, jwtService.Secret(), tokenStore, router.Handlers{
		Auth:     handler.NewAuthHandler(authService),
		Slices:   handler.NewSliceHandler(sliceService, escrowService, ratingService),
		Disputes: handler.NewDisputeHandler(disputeService),
		Aura:     handler.NewAuraHandler(auraService, escrowService),
		Admin:    handler.NewAdminHandler(payoutService, auraService, nil),
		Webhooks: handler.NewWebhookHandler(escrowService),
	})

	swaggerHost := cfg.SwaggerHost
	if swaggerHost == "" {
		swaggerHost = "http://localhost:" + cfg.ServerPort
	}
	log.Printf("Swagger documentation available at: %s/swagger/index.html", swaggerHost)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := ":" + cfg.ServerPort
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})
	if cfg.SchedulerEnabled {
		sched := scheduler.New(payoutService, auraService, cacheClient, policy, nil)
		g.Go(func() error { return sched.Run(gctx) })
	}

	if err := g.Wait(); err != nil {
		log.Fatalf("server: %v", err)
	}
	log.Println("server: stopped")
}
