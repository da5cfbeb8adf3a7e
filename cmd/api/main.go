package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vpn-bot/internal/config"
	"vpn-bot/internal/cryptopay"
	"vpn-bot/internal/db"
	apihttp "vpn-bot/internal/http"
	"vpn-bot/internal/migrate"
	"vpn-bot/internal/render"
	"vpn-bot/internal/repository"
	"vpn-bot/internal/service"
	"vpn-bot/internal/telegram"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	store, err := repository.OpenUserStore(cfg.UsersFile)
	if err != nil {
		logger.Fatal("open user store", zap.String("path", cfg.UsersFile), zap.Error(err))
	}
	defer store.Close()

	var invoices repository.InvoiceRepository = repository.NewMemoryInvoiceRepository()
	if cfg.DatabaseURL != "" {
		if err := migrate.Up(ctx, cfg.DatabaseURL); err != nil {
			logger.Fatal("db migrate", zap.Error(err))
		}
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("db connect", zap.Error(err))
		}
		defer pool.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.Ping(pingCtx, pool)
		cancel()
		if err != nil {
			logger.Fatal("db ping", zap.Error(err))
		}
		invoices = repository.NewPgInvoiceRepository(pool)
	} else {
		logger.Warn("DATABASE_URL not set, invoice ledger kept in memory")
	}

	var limiter service.CommandLimiter
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed", zap.Error(err))
		} else {
			limiter = service.NewRedisCommandLimiter(redisClient, cfg.CommandCooldown, 1)
		}
		cancel()
	}
	if limiter == nil {
		limiter = service.NewCommandLimiter(cfg.CommandCooldown, 1)
	}

	renderer, err := render.NewRenderer(logger, cfg.TemplateDir, render.Params{
		ServerHost:        cfg.ServerHost,
		ServerPort:        cfg.ServerPort,
		WGEndpointHost:    cfg.WGEndpointHost,
		WGEndpointPort:    cfg.WGEndpointPort,
		WGAllowedIPs:      cfg.WGAllowedIPs,
		WGDNS:             cfg.WGDNS,
		WGServerPublicKey: cfg.WGServerPublicKey,
	})
	if err != nil {
		logger.Fatal("load templates", zap.Error(err))
	}

	pool := service.AddressPool{Prefix: cfg.WGAddressPrefix, CIDR: cfg.WGAddressCIDR, StartHost: cfg.WGStartHost}
	subscriptions := service.NewSubscriptionService(logger, store)
	provisioning := service.NewProvisioningService(logger, store, pool, nil)
	tokens := service.NewLoginTokenBroker(cfg.LoginCodeTTL)
	credentials := service.NewCredentialService(logger, store, tokens, subscriptions, provisioning, renderer, cfg.TelegramLink())
	payClient := cryptopay.NewClient(cfg.CryptoPayBaseURL, cfg.CryptoPayToken, cfg.CryptoPayTimeout, logger)
	payments := service.NewPaymentService(logger, payClient, invoices, subscriptions, provisioning, service.PaymentConfig{
		Price:        cfg.PriceUSDT,
		Asset:        cfg.PayAsset,
		Days:         cfg.SubDays,
		InvoiceTTL:   cfg.InvoiceTTL,
		CheckTimeout: cfg.CryptoPayTimeout,
	})
	sweeper := service.NewExpirySweeper(logger, subscriptions, nil, cfg.SweepFirstDelay, cfg.SweepInterval)
	adminTokens := service.NewAdminTokenService(cfg.AdminJWTSecret, 0)
	if !adminTokens.Enabled() {
		logger.Warn("ADMIN_JWT_SECRET not set, admin api disabled")
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		logger.Fatal("telegram connect", zap.Error(err))
	}
	bot := telegram.NewBot(logger, botAPI, credentials, subscriptions, payments, sweeper, limiter, telegram.Config{
		DevMode: cfg.DevMode,
		OwnerID: cfg.OwnerID,
	})
	sweeper.SetNotifier(bot)

	apiHandler := apihttp.NewAPIHandler(logger, credentials)
	adminHandler := apihttp.NewAdminHandler(logger, store, payments, sweeper)
	router := apihttp.NewRouter(logger, apiHandler, adminHandler, adminTokens)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting server", zap.String("port", cfg.HTTPPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return bot.Run(gctx, botAPI)
	})
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		if err := renderer.Watch(gctx); err != nil {
			// Sin watcher las plantillas siguen sirviendo; solo se pierde la recarga.
			logger.Warn("template watcher stopped", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("shutdown with error", zap.Error(err))
	}
	logger.Info("stopped")
}
