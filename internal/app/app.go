// Package app assembles the nodes hosted by one process from its
// configuration: the network, the notary, one vault and flow set per party,
// and the services the HTTP surface runs on.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	dbm "github.com/tendermint/tm-db"

	"github.com/efreitasn/stockshares/internal/config"
	"github.com/efreitasn/stockshares/internal/domain"
	"github.com/efreitasn/stockshares/internal/flow"
	"github.com/efreitasn/stockshares/internal/ledger"
	"github.com/efreitasn/stockshares/internal/network"
	"github.com/efreitasn/stockshares/internal/node"
	"github.com/efreitasn/stockshares/internal/service"
	"github.com/efreitasn/stockshares/internal/store"
	"github.com/efreitasn/stockshares/internal/vault"
)

// Metrics groups the metrics of every instrumented package.
type Metrics struct {
	Flow   *flow.Metrics
	Ledger *ledger.Metrics
}

// PrometheusMetrics registers every metric with the default Prometheus
// registry. Call it once per process.
func PrometheusMetrics(namespace string) *Metrics {
	return &Metrics{
		Flow:   flow.PrometheusMetrics(namespace),
		Ledger: ledger.PrometheusMetrics(namespace),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{Flow: flow.NopMetrics(), Ledger: ledger.NopMetrics()}
}

// App is a running set of nodes.
type App struct {
	Config   *config.Config
	Network  *network.Network
	Notary   *node.Node
	Flows    map[string]*flow.Flows
	Stocks   *service.StockService
	Webhooks *service.WebhookService

	logger   *slog.Logger
	reapers  []*vault.LockReaper
	notaryDB dbm.DB
	sqlDB    *sqlx.DB
}

// New builds every node named in cfg. Nothing runs in the background
// until Start.
func New(cfg *config.Config, logger *slog.Logger, metrics *Metrics) (_ *App, err error) {
	if metrics == nil {
		metrics = NopMetrics()
	}
	a := &App{
		Config:  cfg,
		Network: network.New(network.NewIdentityService(), cfg.SessionTimeout, logger),
		Flows:   make(map[string]*flow.Flows, len(cfg.Parties)),
		logger:  logger,
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.notaryDB, err = openNotaryDB(cfg); err != nil {
		return nil, err
	}
	if a.Notary, err = a.newNode(cfg.Notary, vault.NewMemoryStore(), node.Options{}); err != nil {
		return nil, err
	}
	a.Notary.Uniqueness = ledger.NewUniquenessProvider(a.notaryDB, metrics.Ledger)
	opts := node.Options{
		Notary:              a.Notary.Party,
		Maintainer:          cfg.Maintainer,
		Currency:            domain.FiatCurrency(cfg.Currency, cfg.CurrencyDigits),
		StockFractionDigits: cfg.StockFractionDigits,
	}
	a.Notary.Options = opts
	flow.New(a.Notary, metrics.Flow)

	if cfg.VaultBackend == config.VaultPostgres {
		if a.sqlDB, err = vault.OpenPostgres(cfg.DatabaseURL); err != nil {
			return nil, err
		}
	}

	a.Webhooks = service.NewWebhookService(store.NewWebhookStore(), a.hosts, cfg.WebhookTimeout, logger)
	for _, name := range cfg.Parties {
		var st vault.Store = vault.NewMemoryStore()
		if a.sqlDB != nil {
			st = vault.NewPostgresStore(a.sqlDB, name)
		}
		n, err := a.newNode(name, st, opts)
		if err != nil {
			return nil, err
		}
		n.AddObserver(a.Webhooks)
		a.Flows[name] = flow.New(n, metrics.Flow)
	}
	a.Stocks = service.NewStockService(a.Flows, a.Webhooks)

	logger.Info("nodes created",
		"parties", cfg.Parties,
		"notary", cfg.Notary,
		"vault_backend", cfg.VaultBackend,
		"notary_db_backend", cfg.NotaryDBBackend,
	)
	return a, nil
}

func (a *App) newNode(name string, st vault.Store, opts node.Options) (*node.Node, error) {
	locks := vault.NewLockTable(a.Config.LockTTL)
	n, err := node.New(name, st, locks, a.Network, a.logger, opts)
	if err != nil {
		return nil, fmt.Errorf("creating node %s: %w", name, err)
	}
	a.reapers = append(a.reapers, vault.NewLockReaper(a.Config.LockReapInterval, locks, n.Logger))
	return n, nil
}

func (a *App) hosts(party string) bool {
	_, ok := a.Flows[party]
	return ok
}

func openNotaryDB(cfg *config.Config) (dbm.DB, error) {
	if cfg.NotaryDBBackend == config.NotaryMemDB {
		return dbm.NewMemDB(), nil
	}
	db, err := dbm.NewDB("notary", dbm.BackendType(cfg.NotaryDBBackend), cfg.NotaryDBDir)
	if err != nil {
		return nil, fmt.Errorf("opening notary db: %w", err)
	}
	return db, nil
}

// Start launches the soft lock reapers. They stop when ctx is cancelled.
func (a *App) Start(ctx context.Context) {
	for _, r := range a.reapers {
		r.Start(ctx)
	}
}

// Close stops every responder, waits for in-flight webhook deliveries and
// closes the databases.
func (a *App) Close() error {
	a.Network.Close()
	if a.Webhooks != nil {
		a.Webhooks.Wait()
	}
	var errs []error
	if a.notaryDB != nil {
		errs = append(errs, a.notaryDB.Close())
	}
	if a.sqlDB != nil {
		errs = append(errs, a.sqlDB.Close())
	}
	return errors.Join(errs...)
}
