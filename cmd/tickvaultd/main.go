package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/database/manager"
	"github.com/luxfi/log"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tickvault/tickvault/pkg/api"
	"github.com/tickvault/tickvault/pkg/vault"
	"github.com/tickvault/tickvault/pkg/websocket"
)

const (
	defaultDataDir     = ".tickvaultd"
	defaultHTTPPort    = 8080
	defaultWSPort      = 8081
	defaultMetricsPort = 9090
)

type Config struct {
	DataDir  string
	LogLevel string

	HTTPPort    int
	WSPort      int
	MetricsPort int

	OracleMaxAge  time.Duration
	SnapshotEvery time.Duration

	NATSURL     string
	NATSSubject string

	InitVault string
	InitPrice string
}

type Node struct {
	config   *Config
	logger   log.Logger
	db       database.Database
	protocol *vault.Protocol
	store    *vault.Store
	ws       *websocket.Server
	registry *prometheus.Registry
	nats     *nats.Conn

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewNode(config *Config, logger log.Logger) (*Node, error) {
	dataPath := filepath.Join(os.Getenv("HOME"), config.DataDir)
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbManager := manager.NewManager(dataPath, nil)
	dbConfig := manager.DefaultBadgerDBConfig("badgerdb")
	dbConfig.Namespace = "tickvaultd"

	db, err := dbManager.New(dbConfig)
	if err != nil {
		logger.Warn("failed to open BadgerDB, falling back to memory", "err", err)
		memConfig := manager.DefaultMemoryConfig()
		db, err = dbManager.New(memConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	} else {
		logger.Info("BadgerDB initialized", "path", filepath.Join(dataPath, "badgerdb"))
	}

	registry := prometheus.NewRegistry()
	metrics := vault.NewMetrics(registry)

	oracle := &vault.AttestationOracle{MaxAge: config.OracleMaxAge}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		config:   config,
		logger:   logger,
		db:       db,
		registry: registry,
		ctx:      ctx,
		cancel:   cancel,
	}

	var sinks vault.FanoutSink
	if config.NATSURL != "" {
		nc, err := nats.Connect(config.NATSURL,
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(-1))
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		n.nats = nc
		sinks = append(sinks, vault.NewNATSSink(nc, config.NATSSubject))
		logger.Info("NATS event sink connected", "url", config.NATSURL, "root", config.NATSSubject)
	}

	protocol, err := vault.NewProtocol(
		vault.DefaultConfig(),
		oracle,
		logger.New("module", "vault"),
		vault.WithMetrics(metrics),
	)
	if err != nil {
		cancel()
		return nil, err
	}
	n.protocol = protocol
	n.store = vault.NewStore(db, logger.New("module", "store"))

	// The hub serves state snapshots, so it needs the protocol; the
	// sink is attached after both exist.
	ws := websocket.NewServer(protocol, logger.New("module", "websocket"), websocket.DefaultConfig())
	n.ws = ws
	sinks = append(sinks, ws)
	protocol.SetEventSink(sinks)

	return n, nil
}

func (n *Node) Start() error {
	loaded, err := n.store.Load(n.protocol)
	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}
	if !loaded && n.config.InitVault != "" {
		vaultAmount, ok := new(big.Int).SetString(n.config.InitVault, 10)
		if !ok {
			return fmt.Errorf("invalid init-vault amount %q", n.config.InitVault)
		}
		price, ok := new(big.Int).SetString(n.config.InitPrice, 10)
		if !ok {
			return fmt.Errorf("invalid init-price %q", n.config.InitPrice)
		}
		if err := n.protocol.Initialize(vaultAmount, price, time.Now()); err != nil {
			return fmt.Errorf("failed to initialize protocol: %w", err)
		}
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := api.StartJSONRPCServer(n.ctx, n.config.HTTPPort, n.protocol, n.logger.New("module", "api")); err != nil && err != http.ErrServerClosed {
			n.logger.Error("JSON-RPC server stopped", "err", err)
		}
	}()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.ws.Start(n.config.WSPort); err != nil {
			n.logger.Error("WebSocket server stopped", "err", err)
		}
	}()

	n.wg.Add(1)
	go n.runMetricsServer()

	n.wg.Add(1)
	go n.runSnapshots()

	n.logger.Info("tickvaultd started",
		"http", n.config.HTTPPort, "ws", n.config.WSPort, "metrics", n.config.MetricsPort)
	return nil
}

func (n *Node) runMetricsServer() {
	defer n.wg.Done()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(n.registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", n.config.MetricsPort),
		Handler: mux,
	}
	go func() {
		<-n.ctx.Done()
		server.Shutdown(context.Background())
	}()
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		n.logger.Error("metrics server stopped", "err", err)
	}
}

// runSnapshots persists the ledger periodically and once at shutdown.
func (n *Node) runSnapshots() {
	defer n.wg.Done()

	ticker := time.NewTicker(n.config.SnapshotEvery)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			if err := n.store.Save(n.protocol); err != nil {
				n.logger.Error("final snapshot failed", "err", err)
			}
			return
		case <-ticker.C:
			if err := n.store.Save(n.protocol); err != nil {
				n.logger.Error("snapshot failed", "err", err)
			}
		}
	}
}

func (n *Node) Shutdown() {
	n.logger.Info("shutting down")

	n.cancel()
	n.ws.Stop()
	n.wg.Wait()

	if n.nats != nil {
		n.nats.Close()
	}
	if n.db != nil {
		n.db.Close()
	}
	n.logger.Info("shutdown complete")
}

func main() {
	config := &Config{}

	flag.StringVar(&config.DataDir, "data-dir", defaultDataDir, "Data directory (relative to $HOME)")
	flag.StringVar(&config.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.IntVar(&config.HTTPPort, "http-port", defaultHTTPPort, "JSON-RPC port")
	flag.IntVar(&config.WSPort, "ws-port", defaultWSPort, "WebSocket port")
	flag.IntVar(&config.MetricsPort, "metrics-port", defaultMetricsPort, "Prometheus metrics port")
	flag.DurationVar(&config.OracleMaxAge, "oracle-max-age", time.Minute, "Maximum accepted price attestation age")
	flag.DurationVar(&config.SnapshotEvery, "snapshot-interval", 30*time.Second, "State snapshot interval")
	flag.StringVar(&config.NATSURL, "nats-url", "", "NATS server URL for event publishing (empty disables)")
	flag.StringVar(&config.NATSSubject, "nats-subject", "tickvault", "Root subject for NATS events")
	flag.StringVar(&config.InitVault, "init-vault", "", "Initial vault deposit when no snapshot exists (18-decimal units)")
	flag.StringVar(&config.InitPrice, "init-price", "", "Initial price when no snapshot exists (18-decimal units)")
	flag.Parse()

	logger := log.Root().New("app", "tickvaultd")

	node, err := NewNode(config, logger)
	if err != nil {
		logger.Error("failed to create node", "err", err)
		os.Exit(1)
	}

	if err := node.Start(); err != nil {
		logger.Error("failed to start node", "err", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("received signal", "signal", sig.String())

	node.Shutdown()
}
