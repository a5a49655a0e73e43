package state

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"termlend/storage"
)

func TestMarketBlobsAndIndex(t *testing.T) {
	m := NewManager(storage.NewMemDB())

	if _, ok, err := m.LoadMarket("usdc"); err != nil || ok {
		t.Fatalf("load before save: ok=%v err=%v", ok, err)
	}
	markets, err := m.Markets()
	if err != nil {
		t.Fatalf("markets: %v", err)
	}
	if len(markets) != 0 {
		t.Fatalf("fresh index should be empty, got %v", markets)
	}

	if err := m.SaveMarket("usdc", []byte{0x01, 0x02}); err != nil {
		t.Fatalf("save usdc: %v", err)
	}
	if err := m.SaveMarket("dai", []byte{0x03}); err != nil {
		t.Fatalf("save dai: %v", err)
	}
	// Re-saving must not duplicate the index entry.
	if err := m.SaveMarket("usdc", []byte{0x04}); err != nil {
		t.Fatalf("resave usdc: %v", err)
	}

	blob, ok, err := m.LoadMarket("usdc")
	if err != nil || !ok {
		t.Fatalf("load usdc: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(blob, []byte{0x04}) {
		t.Fatalf("load returned stale blob %x", blob)
	}

	markets, err = m.Markets()
	if err != nil {
		t.Fatalf("markets: %v", err)
	}
	if len(markets) != 2 || markets[0] != "dai" || markets[1] != "usdc" {
		t.Fatalf("index = %v, want [dai usdc]", markets)
	}

	if err := m.SaveMarket("  ", nil); err == nil {
		t.Fatal("blank market name should be rejected")
	}
}

func TestPauseListIsCanonical(t *testing.T) {
	m := NewManager(storage.NewMemDB())

	paused, err := m.Pauses()
	if err != nil {
		t.Fatalf("pauses: %v", err)
	}
	if len(paused) != 0 {
		t.Fatalf("fresh pause list should be empty, got %v", paused)
	}

	if err := m.SavePauses([]string{"market", " rpc ", "market", ""}); err != nil {
		t.Fatalf("save pauses: %v", err)
	}
	paused, err = m.Pauses()
	if err != nil {
		t.Fatalf("pauses: %v", err)
	}
	if len(paused) != 2 || paused[0] != "market" || paused[1] != "rpc" {
		t.Fatalf("pause list = %v, want [market rpc]", paused)
	}

	if err := m.SavePauses(nil); err != nil {
		t.Fatalf("clear pauses: %v", err)
	}
	paused, err = m.Pauses()
	if err != nil {
		t.Fatalf("pauses: %v", err)
	}
	if len(paused) != 0 {
		t.Fatalf("cleared pause list should be empty, got %v", paused)
	}
}

func TestListingsPreserveOrder(t *testing.T) {
	m := NewManager(storage.NewMemDB())

	listings, err := m.Listings()
	if err != nil {
		t.Fatalf("listings: %v", err)
	}
	if len(listings) != 0 {
		t.Fatalf("fresh listings should be empty, got %v", listings)
	}

	saved := []MarketListing{
		{Name: "weth", AdjustFactor: big.NewInt(840_000_000_000_000_000)},
		{Name: "usdc", AdjustFactor: big.NewInt(910_000_000_000_000_000)},
	}
	if err := m.SaveListings(saved); err != nil {
		t.Fatalf("save listings: %v", err)
	}
	listings, err = m.Listings()
	if err != nil {
		t.Fatalf("listings: %v", err)
	}
	if len(listings) != 2 || listings[0].Name != "weth" || listings[1].Name != "usdc" {
		t.Fatalf("listing order not preserved: %v", listings)
	}
	if listings[0].AdjustFactor.Cmp(saved[0].AdjustFactor) != 0 {
		t.Fatalf("adjust factor = %s, want %s", listings[0].AdjustFactor, saved[0].AdjustFactor)
	}
}

func TestMembershipsRoundTrip(t *testing.T) {
	m := NewManager(storage.NewMemDB())

	account := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	saved := []Membership{{Account: account, Markets: []string{"usdc", "weth"}}}
	if err := m.SaveMemberships(saved); err != nil {
		t.Fatalf("save memberships: %v", err)
	}
	members, err := m.Memberships()
	if err != nil {
		t.Fatalf("memberships: %v", err)
	}
	if len(members) != 1 || members[0].Account != account {
		t.Fatalf("memberships = %v", members)
	}
	if len(members[0].Markets) != 2 || members[0].Markets[1] != "weth" {
		t.Fatalf("markets = %v", members[0].Markets)
	}
}

func TestQuotesRoundTrip(t *testing.T) {
	m := NewManager(storage.NewMemDB())

	saved := []Quote{
		{Market: "usdc", Price: big.NewInt(1_000_000_000_000_000_000), UpdatedAt: 500},
		{Market: "weth", Price: big.NewInt(2_000_000_000_000_000_000), UpdatedAt: 600},
	}
	if err := m.SaveQuotes(saved); err != nil {
		t.Fatalf("save quotes: %v", err)
	}
	quotes, err := m.Quotes()
	if err != nil {
		t.Fatalf("quotes: %v", err)
	}
	if len(quotes) != 2 {
		t.Fatalf("quotes = %v", quotes)
	}
	if quotes[1].Market != "weth" || quotes[1].UpdatedAt != 600 {
		t.Fatalf("quote = %+v", quotes[1])
	}
	if quotes[0].Price.Cmp(saved[0].Price) != 0 {
		t.Fatalf("price = %s, want %s", quotes[0].Price, saved[0].Price)
	}
}

func TestClockRoundTrip(t *testing.T) {
	m := NewManager(storage.NewMemDB())

	ts, err := m.Clock()
	if err != nil || ts != 0 {
		t.Fatalf("fresh clock: ts=%d err=%v", ts, err)
	}
	if err := m.SaveClock(1_720_000_000); err != nil {
		t.Fatalf("save clock: %v", err)
	}
	ts, err = m.Clock()
	if err != nil {
		t.Fatalf("clock: %v", err)
	}
	if ts != 1_720_000_000 {
		t.Fatalf("clock = %d, want 1720000000", ts)
	}
}

func TestGenesisDigestRoundTrip(t *testing.T) {
	m := NewManager(storage.NewMemDB())

	if _, ok, err := m.GenesisDigest(); err != nil || ok {
		t.Fatalf("fresh digest: ok=%v err=%v", ok, err)
	}
	var digest [32]byte
	for i := range digest {
		digest[i] = byte(i)
	}
	if err := m.SaveGenesisDigest(digest); err != nil {
		t.Fatalf("save digest: %v", err)
	}
	got, ok, err := m.GenesisDigest()
	if err != nil || !ok {
		t.Fatalf("digest: ok=%v err=%v", ok, err)
	}
	if got != digest {
		t.Fatalf("digest = %x, want %x", got, digest)
	}
}
