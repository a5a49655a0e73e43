// Package genesis parses the document a node is initialised from: the
// risk configuration and the market seeds. The raw file bytes are
// hashed into a digest the node pins on first boot, so every later
// start must present the identical document.
package genesis

import (
	"bytes"
	"fmt"
	"math/big"
	"os"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"gopkg.in/yaml.v3"

	"termlend/native/auditor"
	"termlend/native/market"
	"termlend/wad"
)

// Spec is the genesis document. Rate and factor fields are 18-decimal
// fixed point integers in string form; empty fields fall back to the
// stock configuration.
type Spec struct {
	GenesisTime uint64       `yaml:"genesisTime"`
	Risk        RiskSpec     `yaml:"risk"`
	Markets     []MarketSpec `yaml:"markets"`

	digest     [32]byte
	riskParams auditor.Parameters
	seeds      []MarketSeed
}

// RiskSpec configures the auditor.
type RiskSpec struct {
	TargetHealth        string  `yaml:"targetHealth,omitempty"`
	LiquidatorIncentive string  `yaml:"liquidatorIncentive,omitempty"`
	LendersIncentive    string  `yaml:"lendersIncentive,omitempty"`
	PriceMaxAge         *uint64 `yaml:"priceMaxAgeSeconds,omitempty"`
}

// MarketSpec seeds one market.
type MarketSpec struct {
	Name         string            `yaml:"name"`
	AdjustFactor string            `yaml:"adjustFactor,omitempty"`
	Price        string            `yaml:"price,omitempty"`
	Parameters   *MarketParamsSpec `yaml:"parameters,omitempty"`
	RateModel    *RateParamsSpec   `yaml:"rateModel,omitempty"`
}

// MarketParamsSpec overrides the stock market parameters field by
// field.
type MarketParamsSpec struct {
	MaxFuturePools int    `yaml:"maxFuturePools,omitempty"`
	PenaltyRate    string `yaml:"penaltyRate,omitempty"`
	BackupFeeRate  string `yaml:"backupFeeRate,omitempty"`
	ReserveFactor  string `yaml:"reserveFactor,omitempty"`
	DampSpeedUp    string `yaml:"dampSpeedUp,omitempty"`
	DampSpeedDown  string `yaml:"dampSpeedDown,omitempty"`
	SmoothFactor   string `yaml:"smoothFactor,omitempty"`
}

// RateParamsSpec overrides the stock curve parameters field by field.
type RateParamsSpec struct {
	CurveA             string `yaml:"curveA,omitempty"`
	CurveB             string `yaml:"curveB,omitempty"`
	MaxUtilization     string `yaml:"maxUtilization,omitempty"`
	NaturalUtilization string `yaml:"naturalUtilization,omitempty"`
	SigmoidSpeed       string `yaml:"sigmoidSpeed,omitempty"`
	GrowthSpeed        string `yaml:"growthSpeed,omitempty"`
	SpreadFactor       string `yaml:"spreadFactor,omitempty"`
	TimePreference     string `yaml:"timePreference,omitempty"`
	MaturitySpeed      string `yaml:"maturitySpeed,omitempty"`
	MaxRate            string `yaml:"maxRate,omitempty"`
}

// MarketSeed is one market's resolved configuration.
type MarketSeed struct {
	Name         string
	AdjustFactor *big.Int
	Price        *big.Int
	Params       market.Parameters
	Rates        market.RateParameters
}

// LoadFile reads and parses a genesis document.
func LoadFile(path string) (*Spec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis %q: %w", path, err)
	}
	spec, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("genesis %q: %w", path, err)
	}
	return spec, nil
}

// Parse decodes a genesis document, rejecting unknown fields.
func Parse(data []byte) (*Spec, error) {
	spec := new(Spec)
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(spec); err != nil {
		return nil, fmt.Errorf("decode genesis: %w", err)
	}
	if err := spec.resolve(); err != nil {
		return nil, err
	}
	spec.digest = [32]byte(ethcrypto.Keccak256Hash(data))
	return spec, nil
}

// Digest returns the keccak hash of the raw document.
func (s *Spec) Digest() [32]byte { return s.digest }

// RiskParameters returns the resolved auditor configuration.
func (s *Spec) RiskParameters() auditor.Parameters { return s.riskParams }

// MarketSeeds returns the resolved market configurations in document
// order.
func (s *Spec) MarketSeeds() []MarketSeed { return s.seeds }

func (s *Spec) resolve() error {
	if err := s.resolveRisk(); err != nil {
		return fmt.Errorf("risk: %w", err)
	}
	if len(s.Markets) == 0 {
		return fmt.Errorf("at least one market must be seeded")
	}
	names := make(map[string]struct{}, len(s.Markets))
	s.seeds = make([]MarketSeed, 0, len(s.Markets))
	for i := range s.Markets {
		seed, err := s.Markets[i].resolve()
		if err != nil {
			return fmt.Errorf("market[%d]: %w", i, err)
		}
		if _, exists := names[seed.Name]; exists {
			return fmt.Errorf("market[%d]: duplicate name %q", i, seed.Name)
		}
		names[seed.Name] = struct{}{}
		s.seeds = append(s.seeds, seed)
	}
	return nil
}

func (s *Spec) resolveRisk() error {
	defaults := auditor.DefaultParameters()
	params := auditor.Parameters{PriceMaxAge: defaults.PriceMaxAge}
	var err error
	if params.TargetHealth, err = parseWad("targetHealth", s.Risk.TargetHealth, defaults.TargetHealth); err != nil {
		return err
	}
	if params.LiquidatorIncentive, err = parseWad("liquidatorIncentive", s.Risk.LiquidatorIncentive, defaults.LiquidatorIncentive); err != nil {
		return err
	}
	if params.LendersIncentive, err = parseWad("lendersIncentive", s.Risk.LendersIncentive, defaults.LendersIncentive); err != nil {
		return err
	}
	if s.Risk.PriceMaxAge != nil {
		params.PriceMaxAge = *s.Risk.PriceMaxAge
	}
	if err := params.Validate(); err != nil {
		return err
	}
	s.riskParams = params
	return nil
}

func (m *MarketSpec) resolve() (MarketSeed, error) {
	seed := MarketSeed{Name: strings.TrimSpace(m.Name)}
	if seed.Name == "" {
		return seed, fmt.Errorf("name must be provided")
	}
	var err error
	if seed.AdjustFactor, err = parseWad("adjustFactor", m.AdjustFactor, defaultAdjustFactor); err != nil {
		return seed, err
	}
	if seed.AdjustFactor.Sign() <= 0 || seed.AdjustFactor.Cmp(wad.One) > 0 {
		return seed, fmt.Errorf("adjustFactor must be in (0, 1]")
	}
	if seed.Price, err = parseWad("price", m.Price, wad.One); err != nil {
		return seed, err
	}
	if seed.Price.Sign() <= 0 {
		return seed, fmt.Errorf("price must be positive")
	}
	if seed.Params, err = m.Parameters.resolve(); err != nil {
		return seed, err
	}
	if seed.Rates, err = m.RateModel.resolve(); err != nil {
		return seed, err
	}
	return seed, nil
}

func (p *MarketParamsSpec) resolve() (market.Parameters, error) {
	params := market.DefaultParameters()
	if p == nil {
		return params, nil
	}
	if p.MaxFuturePools != 0 {
		params.MaxFuturePools = p.MaxFuturePools
	}
	var err error
	if params.PenaltyRate, err = parseWad("penaltyRate", p.PenaltyRate, params.PenaltyRate); err != nil {
		return params, err
	}
	if params.BackupFeeRate, err = parseWad("backupFeeRate", p.BackupFeeRate, params.BackupFeeRate); err != nil {
		return params, err
	}
	if params.ReserveFactor, err = parseWad("reserveFactor", p.ReserveFactor, params.ReserveFactor); err != nil {
		return params, err
	}
	if params.DampSpeedUp, err = parseWad("dampSpeedUp", p.DampSpeedUp, params.DampSpeedUp); err != nil {
		return params, err
	}
	if params.DampSpeedDown, err = parseWad("dampSpeedDown", p.DampSpeedDown, params.DampSpeedDown); err != nil {
		return params, err
	}
	if params.SmoothFactor, err = parseWad("smoothFactor", p.SmoothFactor, params.SmoothFactor); err != nil {
		return params, err
	}
	if err := params.Validate(); err != nil {
		return params, fmt.Errorf("parameters: %w", err)
	}
	return params, nil
}

func (r *RateParamsSpec) resolve() (market.RateParameters, error) {
	params := market.DefaultRateParameters()
	if r == nil {
		return params, nil
	}
	fields := []struct {
		name  string
		value string
		into  **big.Int
	}{
		{"curveA", r.CurveA, &params.CurveA},
		{"curveB", r.CurveB, &params.CurveB},
		{"maxUtilization", r.MaxUtilization, &params.MaxUtilization},
		{"naturalUtilization", r.NaturalUtilization, &params.NaturalUtilization},
		{"sigmoidSpeed", r.SigmoidSpeed, &params.SigmoidSpeed},
		{"growthSpeed", r.GrowthSpeed, &params.GrowthSpeed},
		{"spreadFactor", r.SpreadFactor, &params.SpreadFactor},
		{"timePreference", r.TimePreference, &params.TimePreference},
		{"maturitySpeed", r.MaturitySpeed, &params.MaturitySpeed},
		{"maxRate", r.MaxRate, &params.MaxRate},
	}
	for _, field := range fields {
		parsed, err := parseWad(field.name, field.value, *field.into)
		if err != nil {
			return params, err
		}
		*field.into = parsed
	}
	// Constructing the model runs the curve validation.
	if _, err := market.NewRateModel(params); err != nil {
		return params, fmt.Errorf("rateModel: %w", err)
	}
	return params, nil
}

var defaultAdjustFactor = big.NewInt(900_000_000_000_000_000)

func parseWad(field, value string, fallback *big.Int) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return wad.Clone(fallback), nil
	}
	parsed, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("%s: invalid amount %q", field, value)
	}
	return parsed, nil
}
