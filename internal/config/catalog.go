package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/mbd888/payroute/internal/registry"
)

// Executor types a catalog entry can use.
const (
	ExecutorSimulated = "simulated"
	ExecutorHTTP      = "http"
	ExecutorStripe    = "stripe"
)

var ErrInvalidCatalog = errors.New("config: invalid processor catalog")

// Catalog is the list of processors the router starts with, in
// registration order.
type Catalog struct {
	Processors []ProcessorDef `yaml:"processors"`
}

// ProcessorDef describes one processor and how to reach it.
type ProcessorDef struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Kind     string `yaml:"kind"`
	Priority int    `yaml:"priority"`
	Status   string `yaml:"status"`

	Executor  string `yaml:"executor"` // simulated | http | stripe
	Endpoint  string `yaml:"endpoint"`
	APIKeyEnv string `yaml:"api_key_env"`

	Fees struct {
		Percentage float64 `yaml:"percentage"`
		Fixed      string  `yaml:"fixed"`
	} `yaml:"fees"`
	Currencies []string `yaml:"currencies"`
	MinAmount  string   `yaml:"min_amount"`
	MaxAmount  string   `yaml:"max_amount"`

	Metrics struct {
		SuccessRate       float64 `yaml:"success_rate"`
		AvgResponseTimeMs float64 `yaml:"avg_response_time_ms"`
		FailureCount24h   int     `yaml:"failure_count_24h"`
		UptimePercentage  float64 `yaml:"uptime_percentage"`
		FreezeRiskScore   float64 `yaml:"freeze_risk_score"`
	} `yaml:"metrics"`

	Simulation struct {
		SuccessRate float64 `yaml:"success_rate"`
		LatencyMs   int     `yaml:"latency_ms"`
		Seed        uint64  `yaml:"seed"`
	} `yaml:"simulation"`
}

// LoadCatalog reads the YAML catalog at path, or returns the built-in
// demo catalog when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return ParseCatalog([]byte(DefaultCatalogYAML))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read processor catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks ids are unique and every entry converts to a record.
func (c *Catalog) Validate() error {
	if len(c.Processors) == 0 {
		return fmt.Errorf("%w: no processors", ErrInvalidCatalog)
	}
	seen := make(map[string]bool, len(c.Processors))
	for i, p := range c.Processors {
		if seen[p.ID] {
			return fmt.Errorf("%w: duplicate processor id %q", ErrInvalidCatalog, p.ID)
		}
		seen[p.ID] = true

		switch p.ExecutorType() {
		case ExecutorSimulated, ExecutorStripe:
		case ExecutorHTTP:
			if p.Endpoint == "" {
				return fmt.Errorf("%w: processor %q: http executor needs an endpoint", ErrInvalidCatalog, p.ID)
			}
		default:
			return fmt.Errorf("%w: processor %q: unknown executor %q", ErrInvalidCatalog, p.ID, p.Executor)
		}
		if _, err := p.Record(); err != nil {
			return fmt.Errorf("%w: entry %d: %v", ErrInvalidCatalog, i, err)
		}
	}
	return nil
}

// ExecutorType defaults to simulated.
func (p ProcessorDef) ExecutorType() string {
	if p.Executor == "" {
		return ExecutorSimulated
	}
	return strings.ToLower(p.Executor)
}

// APIKey reads the processor's credential from the environment variable
// named by api_key_env.
func (p ProcessorDef) APIKey() string {
	if p.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(p.APIKeyEnv)
}

// Record converts the entry into a registry record.
func (p ProcessorDef) Record() (registry.ProcessorRecord, error) {
	if strings.TrimSpace(p.ID) == "" {
		return registry.ProcessorRecord{}, errors.New("id is required")
	}
	fixed, err := optionalDecimal(p.Fees.Fixed)
	if err != nil {
		return registry.ProcessorRecord{}, fmt.Errorf("processor %q: fees.fixed: %w", p.ID, err)
	}
	minAmount, err := optionalDecimal(p.MinAmount)
	if err != nil {
		return registry.ProcessorRecord{}, fmt.Errorf("processor %q: min_amount: %w", p.ID, err)
	}
	maxAmount, err := optionalDecimal(p.MaxAmount)
	if err != nil {
		return registry.ProcessorRecord{}, fmt.Errorf("processor %q: max_amount: %w", p.ID, err)
	}

	name := p.Name
	if name == "" {
		name = p.ID
	}
	kind := registry.Kind(p.Kind)
	if kind == "" {
		kind = registry.KindCard
	}
	status := registry.Status(p.Status)
	switch status {
	case "", registry.StatusHealthy, registry.StatusDegraded, registry.StatusFrozen, registry.StatusMaintenance:
	default:
		return registry.ProcessorRecord{}, fmt.Errorf("processor %q: unknown status %q", p.ID, p.Status)
	}

	currencies := make([]string, len(p.Currencies))
	for i, cur := range p.Currencies {
		currencies[i] = strings.ToUpper(cur)
	}

	return registry.ProcessorRecord{
		ID:       p.ID,
		Name:     name,
		Kind:     kind,
		Status:   status,
		Priority: p.Priority,
		Metrics: registry.Metrics{
			SuccessRate:       p.Metrics.SuccessRate,
			AvgResponseTimeMs: p.Metrics.AvgResponseTimeMs,
			FailureCount24h:   p.Metrics.FailureCount24h,
			UptimePercentage:  p.Metrics.UptimePercentage,
			FreezeRiskScore:   p.Metrics.FreezeRiskScore,
		},
		Fees: registry.Fees{Percentage: p.Fees.Percentage, Fixed: fixed},
		Capabilities: registry.Capabilities{
			Currencies: currencies,
			MinAmount:  minAmount,
			MaxAmount:  maxAmount,
		},
	}, nil
}

func optionalDecimal(s string) (decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// DefaultCatalogYAML is the demo catalog: simulated executors with the
// published fees and typical health of four well-known processors.
const DefaultCatalogYAML = `
processors:
  - id: stripe
    name: Stripe
    kind: card
    priority: 1
    executor: simulated
    fees: {percentage: 2.9, fixed: "0.30"}
    max_amount: "99999"
    metrics: {success_rate: 0.987, avg_response_time_ms: 245, failure_count_24h: 3, uptime_percentage: 99.94, freeze_risk_score: 2.1}
    simulation: {success_rate: 0.95, latency_ms: 245, seed: 1}
  - id: paypal
    name: PayPal
    kind: wallet
    priority: 2
    executor: simulated
    fees: {percentage: 3.5, fixed: "0.49"}
    max_amount: "60000"
    metrics: {success_rate: 0.983, avg_response_time_ms: 312, failure_count_24h: 7, uptime_percentage: 99.82, freeze_risk_score: 1.7}
    simulation: {success_rate: 0.93, latency_ms: 312, seed: 2}
  - id: visa
    name: Visa Direct
    kind: bank_transfer
    priority: 3
    executor: simulated
    fees: {percentage: 2.5, fixed: "0.50"}
    max_amount: "25000"
    metrics: {success_rate: 0.995, avg_response_time_ms: 189, failure_count_24h: 1, uptime_percentage: 99.97, freeze_risk_score: 0.8}
    simulation: {success_rate: 0.97, latency_ms: 189, seed: 3}
  - id: square
    name: Square
    kind: card
    priority: 4
    executor: simulated
    fees: {percentage: 2.6, fixed: "0.10"}
    currencies: [USD, CAD, GBP, EUR, AUD, JPY]
    max_amount: "50000"
    metrics: {success_rate: 0.979, avg_response_time_ms: 278, failure_count_24h: 5, uptime_percentage: 99.9, freeze_risk_score: 1.4}
    simulation: {success_rate: 0.92, latency_ms: 278, seed: 4}
`
