// Package config loads the swarm's on-disk allocation file and reads
// its environment-only secrets, following the split spec.md §6.6
// requires: allocation fractions are non-secret and may live in a
// file, but wallet keys, store credentials, and gateway keys are read
// from the environment only. The YAML decoding and the MergeEnv-style
// override pattern are grounded on the teacher SDK's pkg/bot/config.go.
package config

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Allocations is the YAML shape spec.md §9's Open Question resolution
// names: a reserve fraction plus one fraction per named strategy,
// which must sum to exactly 1 (within epsilon).
type Allocations struct {
	ReserveFraction decimal.Decimal            `yaml:"reserve_fraction"`
	Strategies      map[string]decimal.Decimal `yaml:"strategies"`
}

// sumEpsilon is the tolerance load validation allows before rejecting
// a file whose fractions don't sum to 1, per spec.md §9's explicit
// "reject, don't renormalize" instruction.
var sumEpsilon = decimal.RequireFromString("0.0001")

// LoadAllocations reads and validates the allocation file at path.
func LoadAllocations(path string) (Allocations, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Allocations{}, fmt.Errorf("config: read allocation file: %w", err)
	}
	var a Allocations
	if err := yaml.Unmarshal(data, &a); err != nil {
		return Allocations{}, fmt.Errorf("config: parse allocation file: %w", err)
	}
	if err := a.Validate(); err != nil {
		return Allocations{}, err
	}
	return a, nil
}

// Validate checks reserve_fraction + sum(strategies) == 1 within
// sumEpsilon, and that no fraction is negative.
func (a Allocations) Validate() error {
	if a.ReserveFraction.IsNegative() {
		return fmt.Errorf("config: reserve_fraction must be >= 0, got %s", a.ReserveFraction)
	}
	if len(a.Strategies) == 0 {
		return fmt.Errorf("config: allocation file must name at least one strategy")
	}
	total := a.ReserveFraction
	for name, frac := range a.Strategies {
		if frac.IsNegative() {
			return fmt.Errorf("config: strategy %s allocation must be >= 0, got %s", name, frac)
		}
		total = total.Add(frac)
	}
	diff := total.Sub(decimal.NewFromInt(1)).Abs()
	if diff.GreaterThan(sumEpsilon) {
		return fmt.Errorf("config: reserve_fraction + sum(strategies) = %s, must equal 1 (±%s)", total, sumEpsilon)
	}
	return nil
}

// Secrets are the environment-only values spec.md §6.6 forbids reading
// from disk.
type Secrets struct {
	WalletPrivateKeyHex string
	StoreURL            string
	StoreCredentials    string
	GatewayAPIKey       string
}

// LoadSecrets reads every secret from its environment variable. Missing
// StoreCredentials/GatewayAPIKey are tolerated (some deployments run
// against an unauthenticated local gateway); a missing wallet key is
// not, since BudgetManager cannot sign or derive an identity without one.
func LoadSecrets() (Secrets, error) {
	s := Secrets{
		WalletPrivateKeyHex: os.Getenv("SWARM_WALLET_PRIVATE_KEY"),
		StoreURL:            os.Getenv("SWARM_STORE_URL"),
		StoreCredentials:    os.Getenv("SWARM_STORE_CREDENTIALS"),
		GatewayAPIKey:       os.Getenv("SWARM_GATEWAY_API_KEY"),
	}
	if s.WalletPrivateKeyHex == "" {
		return Secrets{}, fmt.Errorf("config: SWARM_WALLET_PRIVATE_KEY is required")
	}
	return s, nil
}
