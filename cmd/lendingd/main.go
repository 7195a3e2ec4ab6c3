package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/database/manager"
	"github.com/luxfi/log"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/luxfi/lending/pkg/api"
	"github.com/luxfi/lending/pkg/lending"
	"github.com/luxfi/lending/pkg/store"
)

const (
	defaultDataDir     = ".lendingd"
	defaultHTTPPort    = 8080
	defaultMetricsPort = 9090
)

type Config struct {
	// Paths
	DataDir  string
	LogLevel string

	// Network
	HTTPPort    int
	MetricsPort int

	// Oracle dev mode: comma separated ASSET=PRICE pairs served by a static
	// oracle and refreshed so they never go stale.
	Prices      string
	MaxPriceAge time.Duration

	// Persistence
	FlushInterval time.Duration

	// Eventing
	NATSURL     string
	NATSSubject string

	// Dev faucet: exposes lending_mint so wallets on a fresh node can be
	// funded. The vault is in-memory, so this costs nothing real.
	Faucet bool
}

type Node struct {
	config  *Config
	db      database.Database
	ledger  *lending.Ledger
	store   *store.Store
	oracle  *lending.StaticOracle
	vault   *lending.MemoryVault
	metrics *lending.Metrics
	logger  log.Logger

	httpServer    *http.Server
	metricsServer *http.Server
	stream        *api.EventStream
	nats          *nats.Conn

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewNode(config *Config) (*Node, error) {
	level, _ := log.ToLevel(config.LogLevel)
	logger := log.NewTestLogger(level)
	logger.Info("Initializing lending node")

	dataPath := filepath.Join(os.Getenv("HOME"), config.DataDir)
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbManager := manager.NewManager(dataPath, nil)
	dbConfig := manager.DefaultBadgerDBConfig("badgerdb")
	dbConfig.Namespace = "lendingd"

	db, err := dbManager.New(dbConfig)
	if err != nil {
		logger.Warn("Failed to open BadgerDB", "error", err)
		memConfig := manager.DefaultMemoryConfig()
		db, err = dbManager.New(memConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
		logger.Info("Using in-memory database")
	} else {
		logger.Info("BadgerDB initialized", "path", filepath.Join(dataPath, "badgerdb"))
	}

	oracle := lending.NewStaticOracle()
	if err := setPrices(oracle, config.Prices); err != nil {
		return nil, err
	}

	metrics, err := lending.NewMetrics("lending")
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	vault := lending.NewMemoryVault()
	ledger := lending.NewLedger(lending.LedgerConfig{
		Oracle:      oracle,
		Vault:       vault,
		Logger:      logger,
		Metrics:     metrics,
		MaxPriceAge: config.MaxPriceAge,
	})

	st := store.New(db, logger)
	banks, positions, err := st.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger records: %w", err)
	}
	ledger.Restore(banks, positions)

	ctx, cancel := context.WithCancel(context.Background())
	node := &Node{
		config:  config,
		db:      db,
		ledger:  ledger,
		store:   st,
		oracle:  oracle,
		vault:   vault,
		metrics: metrics,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}

	if config.NATSURL != "" {
		nc, err := nats.Connect(config.NATSURL)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		node.nats = nc
		logger.Info("NATS connected", "url", config.NATSURL, "subject", config.NATSSubject)
	}

	return node, nil
}

// setPrices parses comma separated ASSET=PRICE pairs into the dev oracle.
func setPrices(oracle *lending.StaticOracle, spec string) error {
	if spec == "" {
		return nil
	}
	for _, pair := range strings.Split(spec, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid price pair %q", pair)
		}
		price, err := decimal.NewFromString(parts[1])
		if err != nil {
			return fmt.Errorf("invalid price for %s: %w", parts[0], err)
		}
		oracle.SetPrice(lending.AssetID(parts[0]), price)
	}
	return nil
}

func (n *Node) Start() error {
	n.stream = api.NewEventStream(nil, n.logger)

	mux := http.NewServeMux()
	rpc := api.NewJSONRPCServer(n.ledger, n.logger)
	if n.config.Faucet {
		rpc.EnableFaucet(n.vault)
		n.logger.Info("Dev faucet enabled")
	}
	mux.Handle("/rpc", rpc)
	mux.Handle("/events", n.stream)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	n.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", n.config.HTTPPort),
		Handler: mux,
	}
	n.metricsServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", n.config.MetricsPort),
		Handler: promhttp.HandlerFor(n.metrics.Gatherer(), promhttp.HandlerOpts{}),
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.logger.Info("HTTP server listening", "port", n.config.HTTPPort)
		if err := n.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			n.logger.Error("HTTP server failed", "error", err)
		}
	}()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.logger.Info("Metrics server listening", "port", n.config.MetricsPort)
		if err := n.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			n.logger.Error("Metrics server failed", "error", err)
		}
	}()

	n.wg.Add(1)
	go n.forwardEvents()

	n.wg.Add(1)
	go n.flushLoop()

	n.wg.Add(1)
	go n.refreshPrices()

	return nil
}

// forwardEvents bridges ledger events to the websocket stream and, when
// configured, to NATS.
func (n *Node) forwardEvents() {
	defer n.wg.Done()
	for {
		select {
		case <-n.ctx.Done():
			return
		case ev, ok := <-n.ledger.Events():
			if !ok {
				return
			}
			n.stream.Publish(ev)
			if n.nats == nil {
				continue
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := n.nats.Publish(n.config.NATSSubject, payload); err != nil {
				n.logger.Warn("NATS publish failed", "error", err)
			}
		}
	}
}

// flushLoop persists the ledger snapshot on an interval and once on
// shutdown.
func (n *Node) flushLoop() {
	defer n.wg.Done()
	ticker := time.NewTicker(n.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			n.flush()
			return
		case <-ticker.C:
			n.flush()
		}
	}
}

func (n *Node) flush() {
	banks, positions := n.ledger.Snapshot()
	if err := n.store.SaveSnapshot(banks, positions); err != nil {
		n.logger.Error("Failed to persist ledger snapshot", "error", err)
	}
}

// refreshPrices re-stamps the dev oracle quotes so they stay fresh. A live
// deployment replaces the static oracle with a feed adapter and drops this
// loop.
func (n *Node) refreshPrices() {
	defer n.wg.Done()
	if n.config.Prices == "" {
		return
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			if err := setPrices(n.oracle, n.config.Prices); err != nil {
				n.logger.Error("Failed to refresh prices", "error", err)
			}
		}
	}
}

func (n *Node) Stop() {
	n.logger.Info("Shutting down")
	n.cancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if n.httpServer != nil {
		n.httpServer.Shutdown(shutdownCtx)
	}
	if n.metricsServer != nil {
		n.metricsServer.Shutdown(shutdownCtx)
	}
	if n.stream != nil {
		n.stream.Stop()
	}

	n.wg.Wait()

	if n.nats != nil {
		n.nats.Close()
	}
	if err := n.db.Close(); err != nil {
		n.logger.Error("Failed to close database", "error", err)
	}
	n.logger.Info("Shutdown complete")
}

func main() {
	config := &Config{}
	flag.StringVar(&config.DataDir, "datadir", defaultDataDir, "Data directory under $HOME")
	flag.StringVar(&config.LogLevel, "loglevel", "info", "Log level (debug, info, warn, error)")
	flag.IntVar(&config.HTTPPort, "http", defaultHTTPPort, "JSON-RPC and event stream port")
	flag.IntVar(&config.MetricsPort, "metrics", defaultMetricsPort, "Prometheus metrics port")
	flag.StringVar(&config.Prices, "prices", "", "Static oracle prices, e.g. USDC=1,SOL=150")
	flag.DurationVar(&config.MaxPriceAge, "max-price-age", lending.DefaultMaxPriceAge, "Oracle quote staleness bound")
	flag.DurationVar(&config.FlushInterval, "flush-interval", 5*time.Second, "Snapshot persistence interval")
	flag.StringVar(&config.NATSURL, "nats", "", "NATS URL for event publishing (empty disables)")
	flag.StringVar(&config.NATSSubject, "nats-subject", "lending.events", "NATS subject for ledger events")
	flag.BoolVar(&config.Faucet, "faucet", true, "Expose the lending_mint dev faucet")
	flag.Parse()

	node, err := NewNode(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize node: %v\n", err)
		os.Exit(1)
	}

	if err := node.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start node: %v\n", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	node.Stop()
}
