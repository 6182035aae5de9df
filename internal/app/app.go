package app

import (
	"fmt"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/merchantkit/server/internal/module/payment"
	"github.com/merchantkit/server/internal/module/payment/provider"
	"github.com/merchantkit/server/internal/shared/cache"
	"github.com/merchantkit/server/internal/shared/config"
	"github.com/merchantkit/server/internal/shared/database"
	"github.com/merchantkit/server/internal/shared/logger"
	"github.com/merchantkit/server/internal/shared/middleware"
)

// Application wires configuration, stores, providers and the HTTP
// router together.
type Application struct {
	cfg         *config.Config
	logger      *zap.Logger
	router      *gin.Engine
	db          *gorm.DB
	redisClient *redis.Client
	registry    *payment.Registry
}

// LoadConfig loads the application configuration.
func LoadConfig() (*config.Config, error) {
	return config.Load()
}

// New initializes the application.
func New(cfg *config.Config) (*Application, error) {
	log, err := logger.New(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	app := &Application{cfg: cfg, logger: log}

	// Optional durable backend.
	var durable payment.Store
	if cfg.Database.Enabled {
		db, err := database.New(&cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("init database: %w", err)
		}
		app.db = db

		store, err := payment.NewGormStore(db, cfg.Database.Models...)
		if err != nil {
			return nil, fmt.Errorf("init durable store: %w", err)
		}
		durable = store
		log.Info("durable store enabled", zap.Strings("models", store.Models()))
	}

	// Cache backend: Redis when enabled, in-memory otherwise.
	var cacheStore payment.Store = payment.NewMemoryStore()
	if cfg.Redis.Enabled {
		client, err := cache.NewRedisClient(&cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("init redis: %w", err)
		}
		app.redisClient = client
		cacheStore = payment.NewRedisStore(client, cfg.Redis.KeyPrefix, cfg.Redis.TTL)
		log.Info("redis cache enabled", zap.String("address", cfg.Redis.Address))
	}

	providers, err := buildProviders(&cfg.Merchants)
	if err != nil {
		return nil, err
	}

	app.registry = payment.NewRegistry(payment.RegistryOptions{
		Providers: providers,
		Cache:     cacheStore,
		Durable:   durable,
		Logger:    log,
	})

	app.router = buildRouter(cfg, app.registry, log)
	return app, nil
}

// Registry exposes the payment registry, e.g. for registering extra
// providers before serving.
func (a *Application) Registry() *payment.Registry {
	return a.registry
}

// Router returns the HTTP router.
func (a *Application) Router() *gin.Engine {
	return a.router
}

// Stop releases application resources.
func (a *Application) Stop() {
	if a.db != nil {
		if err := database.Close(a.db); err != nil {
			a.logger.Warn("close database", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := cache.Close(a.redisClient); err != nil {
			a.logger.Warn("close redis", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

// buildProviders constructs the configured providers in a fixed
// order; the first one is the registry default.
func buildProviders(cfg *config.MerchantsConfig) ([]provider.Provider, error) {
	var providers []provider.Provider

	if cfg.Dummy.Enabled {
		providers = append(providers, provider.NewDummyProvider())
	}
	if cfg.Stripe.APIKey != "" {
		providers = append(providers, provider.NewStripeProvider(&provider.StripeConfig{
			APIKey:        cfg.Stripe.APIKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
		}))
	}
	if cfg.PayPal.ClientID != "" {
		p, err := provider.NewPayPalProvider(&provider.PayPalConfig{
			ClientID: cfg.PayPal.ClientID,
			Secret:   cfg.PayPal.Secret,
			Live:     cfg.PayPal.Live,
		})
		if err != nil {
			return nil, fmt.Errorf("init paypal provider: %w", err)
		}
		providers = append(providers, p)
	}
	if cfg.Alipay.AppID != "" {
		p, err := provider.NewAlipayProvider(&provider.AlipayConfig{
			AppID:           cfg.Alipay.AppID,
			PrivateKey:      cfg.Alipay.PrivateKey,
			AlipayPublicKey: cfg.Alipay.AlipayPublicKey,
			IsProd:          cfg.Alipay.IsProd,
			NotifyURL:       cfg.Alipay.NotifyURL,
			ReturnURL:       cfg.Alipay.ReturnURL,
		})
		if err != nil {
			return nil, fmt.Errorf("init alipay provider: %w", err)
		}
		providers = append(providers, p)
	}

	return providers, nil
}

func buildRouter(cfg *config.Config, registry *payment.Registry, log *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(middleware.Recovery(log))
	router.Use(middleware.Metrics())
	router.Use(cors.Default())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	group := router.Group(cfg.Merchants.URLPrefix)
	payment.NewHandler(registry, cfg.Merchants.WebhookSecret, log).RegisterRoutes(group)
	payment.NewAdminHandler(registry, log).RegisterRoutes(group)

	return router
}
