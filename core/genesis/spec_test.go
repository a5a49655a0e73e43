package genesis

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"termlend/native/auditor"
	"termlend/native/market"
	"termlend/wad"
)

const sampleDoc = `genesisTime: 1700000000
risk:
  targetHealth: "1300000000000000000"
  liquidatorIncentive: "100000000000000000"
  lendersIncentive: "20000000000000000"
  priceMaxAgeSeconds: 600
markets:
  - name: usdc
    adjustFactor: "910000000000000000"
    price: "1000000000000000000"
    parameters:
      maxFuturePools: 3
      reserveFactor: "100000000000000000"
    rateModel:
      maxRate: "10000000000000000000"
  - name: weth
    price: "2000000000000000000000"
`

func TestParseGenesisDocument(t *testing.T) {
	spec, err := Parse([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if spec.GenesisTime != 1700000000 {
		t.Fatalf("genesisTime mismatch: got %d want 1700000000", spec.GenesisTime)
	}

	risk := spec.RiskParameters()
	if risk.TargetHealth.String() != "1300000000000000000" {
		t.Fatalf("unexpected targetHealth: %s", risk.TargetHealth)
	}
	if risk.LiquidatorIncentive.String() != "100000000000000000" {
		t.Fatalf("unexpected liquidatorIncentive: %s", risk.LiquidatorIncentive)
	}
	if risk.LendersIncentive.String() != "20000000000000000" {
		t.Fatalf("unexpected lendersIncentive: %s", risk.LendersIncentive)
	}
	if risk.PriceMaxAge != 600 {
		t.Fatalf("unexpected priceMaxAge: %d", risk.PriceMaxAge)
	}

	seeds := spec.MarketSeeds()
	if len(seeds) != 2 {
		t.Fatalf("unexpected seed count: got %d want 2", len(seeds))
	}
	usdc := seeds[0]
	if usdc.Name != "usdc" {
		t.Fatalf("unexpected seed[0] name: %q", usdc.Name)
	}
	if usdc.AdjustFactor.String() != "910000000000000000" {
		t.Fatalf("unexpected adjustFactor: %s", usdc.AdjustFactor)
	}
	if usdc.Price.Cmp(wad.One) != 0 {
		t.Fatalf("unexpected price: %s", usdc.Price)
	}
	if usdc.Params.MaxFuturePools != 3 {
		t.Fatalf("unexpected maxFuturePools: %d", usdc.Params.MaxFuturePools)
	}
	if usdc.Params.ReserveFactor.String() != "100000000000000000" {
		t.Fatalf("unexpected reserveFactor: %s", usdc.Params.ReserveFactor)
	}
	stock := market.DefaultParameters()
	if usdc.Params.PenaltyRate.Cmp(stock.PenaltyRate) != 0 {
		t.Fatalf("penaltyRate should keep the stock value, got %s", usdc.Params.PenaltyRate)
	}
	if usdc.Rates.MaxRate.String() != "10000000000000000000" {
		t.Fatalf("unexpected maxRate: %s", usdc.Rates.MaxRate)
	}

	weth := seeds[1]
	if weth.Name != "weth" {
		t.Fatalf("unexpected seed[1] name: %q", weth.Name)
	}
	if weth.Price.String() != "2000000000000000000000" {
		t.Fatalf("unexpected weth price: %s", weth.Price)
	}
	if weth.AdjustFactor.Cmp(defaultAdjustFactor) != 0 {
		t.Fatalf("weth should fall back to the stock adjust factor, got %s", weth.AdjustFactor)
	}
}

func TestParseAppliesDefaults(t *testing.T) {
	doc := "genesisTime: 1700000000\nmarkets:\n  - name: dai\n"
	spec, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	defaults := auditor.DefaultParameters()
	risk := spec.RiskParameters()
	if risk.TargetHealth.Cmp(defaults.TargetHealth) != 0 {
		t.Fatalf("unexpected targetHealth: %s", risk.TargetHealth)
	}
	if risk.PriceMaxAge != defaults.PriceMaxAge {
		t.Fatalf("unexpected priceMaxAge: %d", risk.PriceMaxAge)
	}

	seeds := spec.MarketSeeds()
	if len(seeds) != 1 {
		t.Fatalf("unexpected seed count: %d", len(seeds))
	}
	seed := seeds[0]
	if seed.Price.Cmp(wad.One) != 0 {
		t.Fatalf("price should default to one, got %s", seed.Price)
	}
	stock := market.DefaultParameters()
	if seed.Params.MaxFuturePools != stock.MaxFuturePools {
		t.Fatalf("unexpected maxFuturePools: %d", seed.Params.MaxFuturePools)
	}
	stockRates := market.DefaultRateParameters()
	if seed.Rates.CurveA.Cmp(stockRates.CurveA) != 0 {
		t.Fatalf("unexpected curveA: %s", seed.Rates.CurveA)
	}
}

func TestParseDisablesStalenessWithZeroAge(t *testing.T) {
	doc := "genesisTime: 1\nrisk:\n  priceMaxAgeSeconds: 0\nmarkets:\n  - name: dai\n"
	spec, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := spec.RiskParameters().PriceMaxAge; got != 0 {
		t.Fatalf("expected staleness check disabled, got %d", got)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	doc := "genesisTime: 1\nmarkets:\n  - name: dai\n    colour: blue\n"
	if _, err := Parse([]byte(doc)); err == nil {
		t.Fatalf("expected unknown field to be rejected")
	}
}

func TestParseRejectsDuplicateMarkets(t *testing.T) {
	doc := "genesisTime: 1\nmarkets:\n  - name: dai\n  - name: \" dai \"\n"
	_, err := Parse([]byte(doc))
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate market error, got %v", err)
	}
}

func TestParseRequiresMarkets(t *testing.T) {
	if _, err := Parse([]byte("genesisTime: 1\n")); err == nil {
		t.Fatalf("expected empty market list to be rejected")
	}
}

func TestParseValidatesAdjustFactor(t *testing.T) {
	cases := []string{"0", "-1", "1000000000000000001"}
	for _, factor := range cases {
		doc := "genesisTime: 1\nmarkets:\n  - name: dai\n    adjustFactor: \"" + factor + "\"\n"
		if _, err := Parse([]byte(doc)); err == nil {
			t.Fatalf("expected adjustFactor %s to be rejected", factor)
		}
	}
}

func TestParseValidatesAmounts(t *testing.T) {
	doc := "genesisTime: 1\nmarkets:\n  - name: dai\n    price: \"1.5\"\n"
	_, err := Parse([]byte(doc))
	if err == nil || !strings.Contains(err.Error(), "invalid amount") {
		t.Fatalf("expected invalid amount error, got %v", err)
	}
}

func TestParseValidatesRiskParameters(t *testing.T) {
	doc := "genesisTime: 1\nrisk:\n  targetHealth: \"1000000000000000000\"\nmarkets:\n  - name: dai\n"
	if _, err := Parse([]byte(doc)); err == nil {
		t.Fatalf("expected target health at one to be rejected")
	}
}

func TestDigestPinsRawBytes(t *testing.T) {
	first, err := Parse([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	second, err := Parse([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("Parse again: %v", err)
	}
	if first.Digest() != second.Digest() {
		t.Fatalf("identical documents must share a digest")
	}

	// A trailing comment leaves the semantics untouched but must still
	// move the digest.
	altered, err := Parse([]byte(sampleDoc + "# note\n"))
	if err != nil {
		t.Fatalf("Parse altered: %v", err)
	}
	if altered.Digest() == first.Digest() {
		t.Fatalf("byte changes must change the digest")
	}

	var zero [32]byte
	if first.Digest() == zero {
		t.Fatalf("digest must not be zero")
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "genesis.yaml")
	if err := os.WriteFile(path, []byte(sampleDoc), 0o644); err != nil {
		t.Fatalf("write genesis: %v", err)
	}

	loaded, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	parsed, err := Parse([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if loaded.Digest() != parsed.Digest() {
		t.Fatalf("digest mismatch between LoadFile and Parse")
	}

	if _, err := LoadFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatalf("expected missing file error")
	}
	if _, err := LoadFile("  "); err == nil {
		t.Fatalf("expected blank path error")
	}
}
