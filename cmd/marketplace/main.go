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

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/matheusmosca/offers-marketplace/internal/account"
	"github.com/matheusmosca/offers-marketplace/internal/api"
	"github.com/matheusmosca/offers-marketplace/internal/blockchain"
	"github.com/matheusmosca/offers-marketplace/internal/blockchain/simnet"
	"github.com/matheusmosca/offers-marketplace/internal/config"
	"github.com/matheusmosca/offers-marketplace/internal/events"
	"github.com/matheusmosca/offers-marketplace/internal/kvstore"
	"github.com/matheusmosca/offers-marketplace/internal/ledger"
	"github.com/matheusmosca/offers-marketplace/internal/observable"
	"github.com/matheusmosca/offers-marketplace/internal/offers"
	"github.com/matheusmosca/offers-marketplace/internal/orders"
	"github.com/matheusmosca/offers-marketplace/internal/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize OpenTelemetry
	tp, err := telemetry.InitTracer(ctx, cfg.OTLPEndpoint, cfg.ServiceName)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	mp, err := telemetry.InitMetrics(ctx, cfg.OTLPEndpoint, cfg.ServiceName)
	if err != nil {
		log.Fatalf("Failed to initialize metrics: %v", err)
	}
	defer func() {
		if err := mp.Shutdown(context.Background()); err != nil {
			log.Printf("Error shutting down meter: %v", err)
		}
	}()

	// Initialize storage
	store, err := kvstore.Open(ctx, cfg.KVDriver, cfg.KVDSN)
	if err != nil {
		log.Fatalf("Failed to open key-value store: %v", err)
	}
	defer store.Close()
	settings := kvstore.NewSettings(store, cfg.AppID)

	// Observers are notified one at a time on a single goroutine.
	executor := observable.NewSerialExecutor()
	defer executor.Close()
	observableOpts := []observable.Option{observable.WithExecutor(executor)}

	keystore := initSimulatedChain(cfg)
	gateway := blockchain.NewGateway(cfg.AppID, keystore, settings, observableOpts...)
	if err := gateway.Init(ctx); err != nil {
		log.Fatalf("Failed to initialize blockchain gateway: %v", err)
	}
	balanceObserver := gateway.AddBalanceObserver(func(b decimal.Decimal) {
		log.Printf("ℹ️ Balance | Address=%s | Balance=%s", gateway.PublicAddress(), b)
	})
	defer gateway.RemoveBalanceObserver(balanceObserver)

	// Initialize dependencies
	session := ledger.NewSession(cfg.LedgerURL, credentials(cfg), gateway.PublicAddress)
	ledgerClient := ledger.NewClient(cfg.LedgerURL, session)

	manager := account.NewManager(settings, gateway, session, account.StaticMigrator{Client: keystore},
		account.WithCreationTimeout(cfg.AccountCreationTimeout),
		account.WithObservableOptions(observableOpts...),
	)
	stateObserver := manager.AddStateObserver(func(s account.State) {
		log.Printf("ℹ️ Account state | State=%s", s)
	})
	defer manager.RemoveStateObserver(stateObserver)
	if err := manager.Start(ctx); err != nil {
		log.Fatalf("Failed to start account provisioning: %v", err)
	}
	defer manager.Close()

	engine := orders.NewEngine(ledgerClient, gateway,
		orders.NewPoller(ledgerClient, cfg.OrderPollAttempts, cfg.OrderPollInterval),
		orders.WithPaymentWaitTimeout(cfg.PaymentWaitTimeout),
		orders.WithSettings(settings),
		orders.WithObservableOptions(observableOpts...),
		orders.WithTracer(tp.Tracer("orders-engine")),
		orders.WithMeter(mp.Meter("orders-engine")),
	)
	defer engine.Close()

	catalog := offers.NewCatalog(ledgerClient, engine)
	defer catalog.Close()
	if err := catalog.Refresh(ctx); err != nil {
		log.Printf("⚠️  Offer catalog not loaded, will retry on demand: %v", err)
	}

	if len(cfg.KafkaBrokers) > 0 {
		publisher := events.NewPublisher(events.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaOrderTopic), engine)
		defer func() {
			if err := publisher.Close(); err != nil {
				log.Printf("Error closing kafka writer: %v", err)
			}
		}()
		log.Printf("✅ Publishing order events | Brokers=%v | Topic=%s", cfg.KafkaBrokers, cfg.KafkaOrderTopic)
	}

	handler := api.NewHandler(engine, catalog, manager, gateway, settings)
	defer handler.Close()

	// Setup Gin router
	r := gin.Default()
	r.Use(otelgin.Middleware(cfg.ServiceName))
	handler.RegisterRoutes(r)

	log.Printf("🚀 Marketplace listening on port %s", cfg.HTTPPort)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  30 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error shutting down server: %v", err)
		}
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Failed to start server: %v", err)
	}
	log.Println("👋 Marketplace stopped")
}

// initSimulatedChain builds the in-process network. New local accounts are created
// on chain shortly after they appear, the way the backend onboards real wallets.
func initSimulatedChain(cfg config.Config) *simnet.Keystore {
	starting, err := decimal.NewFromString(cfg.SimStartingBalance)
	if err != nil {
		log.Fatalf("Invalid SIM_STARTING_BALANCE %q: %v", cfg.SimStartingBalance, err)
	}
	network := simnet.NewNetwork(simnet.Options{
		AutoCreate:      true,
		CreationDelay:   2 * time.Second,
		StartingBalance: starting,
	})
	for _, merchant := range cfg.SimMerchants {
		network.CreateAccount(merchant, decimal.Zero)
		if err := network.Activate(merchant); err != nil {
			log.Fatalf("Failed to activate merchant %s: %v", merchant, err)
		}
		log.Printf("✅ Simulated merchant ready | Address=%s", merchant)
	}
	return network.NewKeystore()
}

func credentials(cfg config.Config) ledger.Credentials {
	creds := ledger.Credentials{AppID: cfg.AppID, UserID: cfg.UserID, DeviceID: cfg.DeviceID}
	if creds.UserID == "" {
		creds.UserID = uuid.NewString()
		log.Printf("ℹ️ USER_ID not set, using a random user | UserID=%s", creds.UserID)
	}
	if creds.DeviceID == "" {
		creds.DeviceID = uuid.NewString()
	}
	return creds
}
