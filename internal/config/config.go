package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the settings of the marketplace host process.
type Config struct {
	AppID    string
	UserID   string
	DeviceID string

	LedgerURL string
	HTTPPort  string

	KVDriver string
	KVDSN    string

	KafkaBrokers    []string
	KafkaOrderTopic string

	OrderPollAttempts      int
	OrderPollInterval      time.Duration
	AccountCreationTimeout time.Duration
	PaymentWaitTimeout     time.Duration

	OTLPEndpoint string
	ServiceName  string

	// ChainMode selects the chain backend. Only "sim" is built in.
	ChainMode string
	// SimMerchants are recipient addresses created and activated on the simulated
	// network at startup so spend orders have somewhere to pay.
	SimMerchants       []string
	SimStartingBalance string
}

var defaults = map[string]any{
	"APP_ID":                      "test",
	"USER_ID":                     "",
	"DEVICE_ID":                   "",
	"LEDGER_URL":                  "http://localhost:3000/v1",
	"HTTP_PORT":                   "8080",
	"KV_DRIVER":                   "memory",
	"KV_DSN":                      "",
	"KAFKA_BROKERS":               "",
	"KAFKA_ORDER_TOPIC":           "marketplace.orders",
	"ORDER_POLL_ATTEMPTS":         10,
	"ORDER_POLL_INTERVAL":         "2s",
	"ACCOUNT_CREATION_TIMEOUT":    "15s",
	"PAYMENT_WAIT_TIMEOUT":        "30s",
	"OTEL_EXPORTER_OTLP_ENDPOINT": "localhost:4318",
	"SERVICE_NAME":                "offers-marketplace",
	"CHAIN_MODE":                  "sim",
	"SIM_MERCHANTS":               "",
	"SIM_STARTING_BALANCE":        "100",
}

// Load reads an optional .env file and then the environment. Unset keys take
// their defaults.
func Load(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil {
		log.Printf("ℹ️ No .env file loaded, using environment | Error=%v", err)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
		if err := v.BindEnv(key); err != nil {
			return Config{}, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	cfg := Config{
		AppID:                  v.GetString("APP_ID"),
		UserID:                 v.GetString("USER_ID"),
		DeviceID:               v.GetString("DEVICE_ID"),
		LedgerURL:              strings.TrimRight(v.GetString("LEDGER_URL"), "/"),
		HTTPPort:               v.GetString("HTTP_PORT"),
		KVDriver:               strings.ToLower(v.GetString("KV_DRIVER")),
		KVDSN:                  v.GetString("KV_DSN"),
		KafkaBrokers:           splitList(v.GetString("KAFKA_BROKERS")),
		KafkaOrderTopic:        v.GetString("KAFKA_ORDER_TOPIC"),
		OrderPollAttempts:      v.GetInt("ORDER_POLL_ATTEMPTS"),
		OrderPollInterval:      v.GetDuration("ORDER_POLL_INTERVAL"),
		AccountCreationTimeout: v.GetDuration("ACCOUNT_CREATION_TIMEOUT"),
		PaymentWaitTimeout:     v.GetDuration("PAYMENT_WAIT_TIMEOUT"),
		OTLPEndpoint:           v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ServiceName:            v.GetString("SERVICE_NAME"),
		ChainMode:              strings.ToLower(v.GetString("CHAIN_MODE")),
		SimMerchants:           splitList(v.GetString("SIM_MERCHANTS")),
		SimStartingBalance:     v.GetString("SIM_STARTING_BALANCE"),
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.AppID == "" {
		return fmt.Errorf("APP_ID is required")
	}
	if c.ChainMode != "sim" {
		return fmt.Errorf("unsupported CHAIN_MODE %q", c.ChainMode)
	}
	if c.OrderPollAttempts <= 0 {
		return fmt.Errorf("ORDER_POLL_ATTEMPTS must be positive, got %d", c.OrderPollAttempts)
	}
	return nil
}

// splitList splits a comma separated value, dropping blanks.
func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
