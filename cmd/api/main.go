package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	stdtls "crypto/tls"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"

	"happy-hour-api/internal/cache"
	"happy-hour-api/internal/config"
	"happy-hour-api/internal/database"
	"happy-hour-api/internal/events"
	"happy-hour-api/internal/features"
	"happy-hour-api/internal/handler"
	"happy-hour-api/internal/middleware"
	"happy-hour-api/internal/models"
	"happy-hour-api/internal/service"
	tlsconfig "happy-hour-api/internal/tls"
	"happy-hour-api/internal/tracing"
)

func main() {
	_ = godotenv.Load() // Load .env file if exists

	configFile := flag.String("config", "", "Path to JSON config file")
	port := flag.String("port", "", "Server port (overrides config)")
	dbPath := flag.String("db", "", "Database file path (overrides config)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize tracing
	if _, err := tracing.InitTracing(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: "happy-hour-api",
		Environment: cfg.Tracing.Environment,
	}); err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracing.Shutdown(ctx)
	}()

	// Initialize database
	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	stopCleanup := db.StartIdempotencyCleanup(time.Duration(cfg.Idempotency.CleanupMinutes) * time.Minute)
	defer stopCleanup()

	// Feature flags
	flags := features.NewManager()
	flags.Register(features.FeatureDealCache, true, "read-through cache for deal lookups")
	flags.Register(features.FeatureEventHooks, true, "async audit events for claims and redemptions")
	flags.Register(features.FeatureAbuseSoftHide, true, "move reported deals to UNDER_REVIEW")
	defer flags.Shutdown()

	// Cache: Redis when configured, in-process otherwise
	var dealCache cache.Cache
	var redisCache *cache.RedisCache
	if cfg.Redis.Enabled {
		redisCache, err = cache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisCache.Close()
		dealCache = redisCache
	} else {
		dealCache = cache.NewInMemoryCache()
	}

	// Audit events
	eventManager := events.NewManager(flags.IsEnabled(features.FeatureEventHooks))
	defer eventManager.Shutdown()
	eventManager.Subscribe(events.EventVoucherClaimed, func(ctx context.Context, e events.Event) error {
		if data, ok := e.Data.(events.VoucherClaimedData); ok {
			log.Printf("audit: voucher %s claimed for deal %s", data.Voucher.ID, data.DealID)
		}
		return nil
	})
	eventManager.Subscribe(events.EventVoucherRedeemed, func(ctx context.Context, e events.Event) error {
		if data, ok := e.Data.(events.VoucherRedeemedData); ok {
			log.Printf("audit: voucher %s redeemed at %s", data.Receipt.RedemptionID, data.Receipt.VenueName)
		}
		return nil
	})
	eventManager.Subscribe(events.EventDealReported, func(ctx context.Context, e events.Event) error {
		if data, ok := e.Data.(events.DealReportedData); ok {
			log.Printf("audit: deal %s reported (%d pending, status %s)", data.DealID, data.PendingCount, data.DealStatus)
		}
		return nil
	})

	// Initialize service
	svc := service.NewServiceWithOptions(db, service.Options{
		Cache:          dealCache,
		Events:         eventManager,
		Flags:          flags,
		ClaimWindow:    time.Duration(cfg.Claims.WindowMinutes) * time.Minute,
		IdempotencyTTL: time.Duration(cfg.Idempotency.TTLHours) * time.Hour,
	})

	// Initialize handlers
	h := handler.NewHandlerWithOptions(svc, handler.NewHandlerOptions{
		MaxBodySize: cfg.Security.MaxRequestBodySize,
	})

	// Rate limiter
	var limiter middleware.Limiter
	if cfg.RateLimit.Enabled {
		window := time.Duration(cfg.RateLimit.Window) * time.Second
		if cfg.RateLimit.Backend == "redis" {
			limiter = middleware.NewRedisRateLimiter(redisCache.Client(), cfg.RateLimit.Rate, window)
		} else {
			memLimiter := middleware.NewRateLimiter(cfg.RateLimit.Rate, window)
			defer memLimiter.Stop()
			limiter = memLimiter
		}
	}

	// Setup router
	r := chi.NewRouter()

	// Middleware (order matters)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(middleware.TracingMiddleware())
	r.Use(middleware.ActorContext)

	if limiter != nil {
		r.Use(middleware.RateLimitMiddleware(limiter))
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.Security.AllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", middleware.HeaderActorRole, middleware.HeaderMerchantID},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Routes
	r.Route("/deals", func(r chi.Router) {
		r.Get("/", h.ListDeals)
		r.With(middleware.RequireRole(models.RoleMerchant, models.RoleAdmin)).Post("/", h.CreateDeal)
		r.Get("/{deal_id}", h.GetDeal)
		r.Post("/{deal_id}/reports", h.ReportDeal)
	})

	r.Post("/claim", h.Claim)
	r.Post("/redeem", h.Redeem)

	r.Route("/users", func(r chi.Router) {
		r.Get("/{user_id}/vouchers", h.GetUserVouchers)
	})

	r.With(middleware.RequireRole(models.RoleAdmin)).Post("/vouchers/{code}/cancel", h.CancelVoucher)

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Configure TLS if enabled
	var tlsCfg *stdtls.Config
	if cfg.Server.EnableTLS {
		tlsCfg, err = tlsconfig.LoadTLSConfig(tlsconfig.Config{
			CertFile: cfg.Server.CertFile,
			KeyFile:  cfg.Server.KeyFile,
		})
		if err != nil {
			log.Fatalf("Failed to load TLS configuration: %v", err)
		}
		if cfg.Server.CertFile == "" || cfg.Server.KeyFile == "" {
			log.Println("WARNING: no certificate files provided, using self-signed certificate for development")
		}
	}

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	protocol := "HTTP"
	if cfg.Server.EnableTLS {
		protocol = "HTTPS"
	}
	log.Printf("Starting %s server on %s", protocol, addr)
	log.Printf("Database: %s", cfg.Database.Path)
	if cfg.RateLimit.Enabled {
		log.Printf("Rate limit: %d requests per %d seconds (%s)", cfg.RateLimit.Rate, cfg.RateLimit.Window, cfg.RateLimit.Backend)
	}

	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		TLSConfig:    tlsCfg,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	idleConnsClosed := make(chan struct{})
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Println("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("HTTP server shutdown: %v", err)
		}
		close(idleConnsClosed)
	}()

	if cfg.Server.EnableTLS {
		// Certificates already live in TLSConfig; ListenAndServeTLS only
		// needs file paths when the config carries none.
		err = server.ListenAndServeTLS("", "")
	} else {
		err = server.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed: %v", err)
	}

	<-idleConnsClosed
	log.Println("Server stopped")
}
