package main

import (
	"context"
	"fmt"
	"io"

	"github.com/jmoiron/sqlx"
	"google.golang.org/api/option"

	"github.com/onlab/orderdesk/internal/accounts"
	"github.com/onlab/orderdesk/internal/config"
	"github.com/onlab/orderdesk/internal/database"
	"github.com/onlab/orderdesk/internal/httputil"
	"github.com/onlab/orderdesk/internal/ledger"
	"github.com/onlab/orderdesk/internal/logging"
	"github.com/onlab/orderdesk/internal/metrics"
	"github.com/onlab/orderdesk/internal/notify"
	"github.com/onlab/orderdesk/internal/objectstore"
	"github.com/onlab/orderdesk/internal/orders"
	"github.com/onlab/orderdesk/internal/pageestimate"
	"github.com/onlab/orderdesk/internal/pricing"
	"github.com/onlab/orderdesk/internal/workflow"
	"github.com/onlab/orderdesk/supabase/client"
)

// hubBuffer is the per-subscriber notification backlog.
const hubBuffer = 32

// app holds the wired process dependencies.
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	metrics *metrics.Metrics

	db       *sqlx.DB
	supabase *client.Client

	ledger        ledger.Store
	orders        orders.Repository
	accounts      *accounts.Service
	notifications notify.Store
	hub           *notify.Hub
	inputs        objectstore.Gateway
	reports       objectstore.Gateway
	engine        *workflow.Engine

	closers []io.Closer
}

func loadConfig() (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, nil, err
	}
	logger := logging.New("orderdesk", cfg.LogLevel, cfg.LogFormat)
	logger.WithField("env", cfg.Env).
		WithField("store", cfg.StoreBackend).
		WithField("object_store", cfg.ObjectStore).
		Info("Configuration loaded")
	return cfg, logger, nil
}

// newApp wires stores, gateways and the workflow engine from cfg.
func newApp(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, metrics: metrics.New(), hub: notify.NewHub(hubBuffer)}

	if err := a.openStores(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openObjectStores(ctx); err != nil {
		a.Close()
		return nil, err
	}

	prices, err := loadPricing(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	var emitterOpts []notify.EmitterOption
	emitterOpts = append(emitterOpts, notify.WithMetrics(a.metrics))
	if cfg.PubSubProjectID != "" {
		publisher, err := notify.DialPubSub(ctx, cfg.PubSubProjectID, cfg.PubSubTopic, pubsubOptions(cfg)...)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, publisher)
		emitterOpts = append(emitterOpts, notify.WithPublisher(publisher))
	}

	a.engine, err = workflow.New(workflow.Config{
		Orders:    a.orders,
		Ledger:    a.ledger,
		Inputs:    a.inputs,
		Reports:   a.reports,
		Pricing:   prices,
		Estimator: pageEstimator(cfg),
		Notifier:  notify.NewEmitter(a.notifications, a.hub, logger, emitterOpts...),
		Logger:    logger,
		Metrics:   a.metrics,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) openStores(ctx context.Context) error {
	switch a.cfg.StoreBackend {
	case config.BackendMemory:
		a.logger.Warn("Using in-memory stores; data is lost on restart")
		a.ledger = ledger.NewMemoryStore()
		a.orders = orders.NewMemoryRepository()
		a.notifications = notify.NewMemoryStore()
		a.accounts = accounts.NewService(accounts.NewMemoryStore(), a.ledger, a.logger)
		return nil
	}

	db, err := database.Open(ctx, database.Config{DSN: a.cfg.DatabaseURL})
	if err != nil {
		return err
	}
	a.db = db
	a.closers = append(a.closers, db)
	a.ledger = ledger.NewPostgresStore(db)
	a.orders = orders.NewPostgresRepository(db)
	a.notifications = notify.NewPostgresStore(db)
	a.accounts = accounts.NewService(accounts.NewPostgresStore(db), a.ledger, a.logger)
	return nil
}

func (a *app) openObjectStores(ctx context.Context) error {
	switch a.cfg.ObjectStore {
	case config.ObjectStoreMemory:
		a.inputs = objectstore.NewMemoryGateway(a.cfg.UploadBucket)
		a.reports = objectstore.NewMemoryGateway(a.cfg.ReportBucket)
		return nil

	case config.ObjectStoreGCS:
		inputs, err := objectstore.NewGCSGateway(ctx, objectstore.GCSConfig{
			Bucket:          a.cfg.GCSBucket,
			Prefix:          "uploads",
			CredentialsFile: a.cfg.GCSCredentials,
		})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, inputs)
		reports, err := objectstore.NewGCSGateway(ctx, objectstore.GCSConfig{
			Bucket:          a.cfg.GCSBucket,
			Prefix:          "reports",
			CredentialsFile: a.cfg.GCSCredentials,
		})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, reports)
		a.inputs, a.reports = inputs, reports
		return nil
	}

	sb, err := a.supabaseClient()
	if err != nil {
		return err
	}
	a.inputs = objectstore.NewSupabaseGateway(sb, a.cfg.UploadBucket)
	a.reports = objectstore.NewSupabaseGateway(sb, a.cfg.ReportBucket)
	return nil
}

func (a *app) supabaseClient() (*client.Client, error) {
	if a.supabase != nil {
		return a.supabase, nil
	}
	sb, err := client.New(client.Config{
		URL:       a.cfg.SupabaseURL,
		APIKey:    a.cfg.SupabaseServiceKey,
		Resilient: true,
		Retry:     client.DefaultRetryConfig(),
	})
	if err != nil {
		return nil, fmt.Errorf("supabase client: %w", err)
	}
	a.supabase = sb
	return sb, nil
}

func loadPricing(cfg *config.Config) (*pricing.Table, error) {
	if cfg.PricingFile == "" {
		return pricing.Default(), nil
	}
	file, err := config.LoadPricingFromPath(cfg.PricingFile)
	if err != nil {
		return nil, err
	}
	return pricing.FromConfig(file)
}

func pageEstimator(cfg *config.Config) pageestimate.Estimator {
	if cfg.PageEstimatorURL == "" {
		return pageestimate.SizeEstimator{}
	}
	return pageestimate.NewHTTPEstimator(httputil.NewServiceClient(httputil.ServiceClientConfig{
		BaseURL: cfg.PageEstimatorURL,
		APIKey:  cfg.PageEstimatorKey,
	}))
}

func pubsubOptions(cfg *config.Config) []option.ClientOption {
	if cfg.GCSCredentials == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsFile(cfg.GCSCredentials)}
}

// Close releases everything newApp opened, newest first.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.WithError(err).Warn("Close failed")
		}
	}
	a.closers = nil
}
