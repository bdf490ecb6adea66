package server

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/relaymail/relaymail/lib"
	"github.com/relaymail/relaymail/lib/dashboard"
	"github.com/relaymail/relaymail/lib/relay"
	"github.com/relaymail/relaymail/lib/smtp"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App holds every long-lived component built from the configuration.
type App struct {
	Config    lib.Configuration
	Log       *zap.Logger
	DB        *gorm.DB
	Redis     *redis.Client
	Accounts  *lib.AccountStore
	Keys      *lib.KeyStore
	Logs      *lib.DeliveryLog
	Sessions  *lib.Sessions
	Pipeline  *relay.Pipeline
	Dashboard *dashboard.Handler
}

// NewApp opens the database (and redis, when configured) and wires the
// stores, the SMTP transport and the send pipeline.
func NewApp(cfg lib.Configuration, log *zap.Logger) (*App, error) {
	db, err := lib.OpenDB(cfg.Settings.Database, log)
	if err != nil {
		return nil, err
	}
	return NewAppWithDB(cfg, log, db)
}

// NewAppWithDB is NewApp with an already opened database.
func NewAppWithDB(cfg lib.Configuration, log *zap.Logger, db *gorm.DB) (*App, error) {
	var client *redis.Client
	if cfg.Settings.Redis.URI != "" {
		c, err := lib.NewRedisClient(cfg.Settings.Redis.URI)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		client = c
	}

	cache := lib.NewCache(client, cfg.Settings.Cache)
	keys := lib.NewKeyStore(db, cache, log.Named("keys"))
	logs := lib.NewDeliveryLog(db)
	accounts := lib.NewAccountStore(db)
	sessions := &lib.Sessions{
		Store:  lib.NewSessionStore(client, cfg.Settings.Session),
		Config: cfg.Settings.Session,
		Log:    log.Named("sessions"),
	}

	transport := smtp.NewTransport(cfg.Settings.SMTP.Transport(), smtp.WithLogger(log.Named("smtp")))
	pipeline := relay.NewPipeline(keys, logs, transport, relay.Options{
		Sender:                cfg.Settings.SMTP.SenderAddress(),
		ExposeTransportErrors: cfg.Settings.Relay.ExposeTransportErrors,
		TextFallback:          cfg.Settings.Relay.TextFallback,
	}, log.Named("relay"))

	return &App{
		Config:    cfg,
		Log:       log,
		DB:        db,
		Redis:     client,
		Accounts:  accounts,
		Keys:      keys,
		Logs:      logs,
		Sessions:  sessions,
		Pipeline:  pipeline,
		Dashboard: dashboard.NewHandler(accounts, keys, logs, sessions, log.Named("dashboard")),
	}, nil
}

func (a *App) Close() error {
	var firstErr error
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			firstErr = err
		}
	}
	if err := lib.CloseDB(a.DB); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
