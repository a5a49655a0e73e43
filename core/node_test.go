package core

import (
	stderrors "errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"termlend/core/errors"
	"termlend/core/events"
	"termlend/core/genesis"
	"termlend/core/types"
	"termlend/native/auditor"
	nativecommon "termlend/native/common"
	"termlend/native/market"
	"termlend/storage"
	"termlend/wad"
)

const genesisStamp = uint64(1_700_000_000)

const nodeDoc = `genesisTime: 1700000000
risk:
  priceMaxAgeSeconds: 0
markets:
  - name: usdc
  - name: weth
    price: "100000000000000000000"
`

func makeAddress(suffix byte) common.Address {
	var addr common.Address
	addr[common.AddressLength-1] = suffix
	return addr
}

type recordingEmitter struct {
	emitted []events.Event
}

func (r *recordingEmitter) Emit(evt events.Event) {
	r.emitted = append(r.emitted, evt)
}

func (r *recordingEmitter) typeList() []string {
	out := make([]string, 0, len(r.emitted))
	for _, evt := range r.emitted {
		out = append(out, evt.EventType())
	}
	return out
}

// last renders the most recent event of the given type into its wire
// attributes.
func (r *recordingEmitter) last(t *testing.T, eventType string) map[string]string {
	t.Helper()
	for i := len(r.emitted) - 1; i >= 0; i-- {
		if r.emitted[i].EventType() != eventType {
			continue
		}
		rendered, ok := r.emitted[i].(interface{ Event() *types.Event })
		if !ok {
			t.Fatalf("event %s cannot render", eventType)
		}
		return rendered.Event().Attributes
	}
	t.Fatalf("no %s event recorded", eventType)
	return nil
}

func (r *recordingEmitter) count(eventType string) int {
	total := 0
	for _, evt := range r.emitted {
		if evt.EventType() == eventType {
			total++
		}
	}
	return total
}

func openNode(t *testing.T, db storage.Database, doc string, emitter events.Emitter) *Node {
	t.Helper()
	spec, err := genesis.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse genesis: %v", err)
	}
	node, err := NewNode(db, spec, emitter)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return node
}

func requireSameSnapshot(t *testing.T, before, after market.Snapshot) {
	t.Helper()
	if before.Name != after.Name {
		t.Fatalf("name mismatch: got %q want %q", after.Name, before.Name)
	}
	if before.Timestamp != after.Timestamp {
		t.Fatalf("timestamp mismatch: got %d want %d", after.Timestamp, before.Timestamp)
	}
	pairs := []struct {
		name string
		a, b *big.Int
	}{
		{"floatingAssets", before.FloatingAssets, after.FloatingAssets},
		{"floatingShares", before.FloatingShares, after.FloatingShares},
		{"floatingDebt", before.FloatingDebt, after.FloatingDebt},
		{"borrowShares", before.BorrowShares, after.BorrowShares},
		{"floatingBackupBorrowed", before.FloatingBackupBorrowed, after.FloatingBackupBorrowed},
		{"earningsAccumulator", before.EarningsAccumulator, after.EarningsAccumulator},
		{"badDebt", before.BadDebt, after.BadDebt},
		{"floatingAssetsAverage", before.FloatingAssetsAverage, after.FloatingAssetsAverage},
	}
	for _, pair := range pairs {
		if pair.a.Cmp(pair.b) != 0 {
			t.Fatalf("%s mismatch: got %s want %s", pair.name, pair.b, pair.a)
		}
	}
	if len(before.Pools) != len(after.Pools) {
		t.Fatalf("pool count mismatch: got %d want %d", len(after.Pools), len(before.Pools))
	}
	for maturity, pool := range before.Pools {
		other, ok := after.Pools[maturity]
		if !ok {
			t.Fatalf("pool %d missing after restore", maturity)
		}
		if pool.Borrowed.Cmp(other.Borrowed) != 0 || pool.Supplied.Cmp(other.Supplied) != 0 ||
			pool.UnassignedEarnings.Cmp(other.UnassignedEarnings) != 0 || pool.LastAccrual != other.LastAccrual {
			t.Fatalf("pool %d diverged after restore", maturity)
		}
	}
}

func TestNodeBootstrapPinsGenesisDigest(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()

	emitter := &recordingEmitter{}
	node := openNode(t, db, nodeDoc, emitter)

	markets := node.Markets()
	if len(markets) != 2 || markets[0] != "usdc" || markets[1] != "weth" {
		t.Fatalf("unexpected market order: %v", markets)
	}
	if got := node.Timestamp(); got != genesisStamp {
		t.Fatalf("unexpected clock: got %d want %d", got, genesisStamp)
	}

	wantTypes := []string{
		events.TypeMarketListed, events.TypePriceUpdated,
		events.TypeMarketListed, events.TypePriceUpdated,
	}
	got := emitter.typeList()
	if len(got) != len(wantTypes) {
		t.Fatalf("unexpected genesis events: %v", got)
	}
	for i, want := range wantTypes {
		if got[i] != want {
			t.Fatalf("event[%d]: got %s want %s", i, got[i], want)
		}
	}
	attrs := emitter.last(t, events.TypePriceUpdated)
	if attrs["market"] != "weth" || attrs["price"] != "100000000000000000000" {
		t.Fatalf("unexpected genesis quote attrs: %v", attrs)
	}

	// The identical document reopens; a byte-level variant must not.
	if _, err := NewNode(db, mustParse(t, nodeDoc), events.NoopEmitter{}); err != nil {
		t.Fatalf("reopen with same document: %v", err)
	}
	_, err := NewNode(db, mustParse(t, nodeDoc+"# drift\n"), events.NoopEmitter{})
	if !stderrors.Is(err, errors.ErrGenesisMismatch) {
		t.Fatalf("expected genesis mismatch, got %v", err)
	}
}

func mustParse(t *testing.T, doc string) *genesis.Spec {
	t.Helper()
	spec, err := genesis.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse genesis: %v", err)
	}
	return spec
}

func TestNodeRestoresLedgersAcrossRestart(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()

	lender := makeAddress(0x01)
	borrower := makeAddress(0x02)

	node := openNode(t, db, nodeDoc, nil)
	if _, err := node.Deposit("usdc", lender, big.NewInt(10_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := node.Mint("usdc", lender, big.NewInt(500)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := node.Deposit("usdc", borrower, big.NewInt(2_000)); err != nil {
		t.Fatalf("borrower deposit: %v", err)
	}
	if err := node.EnterMarket(borrower, "usdc"); err != nil {
		t.Fatalf("enter market: %v", err)
	}
	if _, err := node.Borrow("usdc", borrower, big.NewInt(1_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if _, err := node.Repay("usdc", borrower, big.NewInt(300)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	if _, err := node.Refund("usdc", borrower, big.NewInt(200)); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if _, err := node.Withdraw("usdc", lender, big.NewInt(1_000)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if _, err := node.Redeem("usdc", lender, big.NewInt(250)); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if err := node.SetTimestamp(genesisStamp + 3_600); err != nil {
		t.Fatalf("advance clock: %v", err)
	}

	before, err := node.MarketSnapshot("usdc")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	beforeCollateral, beforeDebt, err := node.AccountLiquidity(borrower)
	if err != nil {
		t.Fatalf("liquidity: %v", err)
	}

	reopened := openNode(t, db, nodeDoc, nil)
	after, err := reopened.MarketSnapshot("usdc")
	if err != nil {
		t.Fatalf("snapshot after restart: %v", err)
	}
	requireSameSnapshot(t, before, after)

	if got := reopened.Timestamp(); got != genesisStamp+3_600 {
		t.Fatalf("clock not restored: got %d", got)
	}
	members := reopened.Membership(borrower)
	if len(members) != 1 || members[0] != "usdc" {
		t.Fatalf("membership not restored: %v", members)
	}
	collateral, debt, err := reopened.AccountLiquidity(borrower)
	if err != nil {
		t.Fatalf("liquidity after restart: %v", err)
	}
	if collateral.Cmp(beforeCollateral) != 0 || debt.Cmp(beforeDebt) != 0 {
		t.Fatalf("valuation drifted: got (%s, %s) want (%s, %s)", collateral, debt, beforeCollateral, beforeDebt)
	}
}

func TestNodePausePersistsAcrossRestart(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()

	account := makeAddress(0x03)
	node := openNode(t, db, nodeDoc, nil)

	if err := node.Pause("market"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if !node.IsPaused("market") {
		t.Fatalf("pause not visible")
	}
	_, err := node.Deposit("usdc", account, big.NewInt(100))
	if !stderrors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected pause error, got %v", err)
	}

	reopened := openNode(t, db, nodeDoc, nil)
	if !reopened.IsPaused("market") {
		t.Fatalf("pause lost on restart")
	}
	if _, err := reopened.Deposit("usdc", account, big.NewInt(100)); !stderrors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected pause error after restart, got %v", err)
	}

	if err := reopened.Resume("market"); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if _, err := reopened.Deposit("usdc", account, big.NewInt(100)); err != nil {
		t.Fatalf("deposit after resume: %v", err)
	}
}

func TestNodePauseValidatesModules(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()

	node := openNode(t, db, nodeDoc, nil)

	if err := node.Pause("settlement"); !stderrors.Is(err, nativecommon.ErrUnknownModule) {
		t.Fatalf("expected unknown module error, got %v", err)
	}
	if err := node.Resume("settlement"); !stderrors.Is(err, nativecommon.ErrUnknownModule) {
		t.Fatalf("expected unknown module error on resume, got %v", err)
	}
}

func TestNodeOraclePauseBlocksPricePosting(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()

	node := openNode(t, db, nodeDoc, nil)
	account := makeAddress(0x07)

	if err := node.Pause(nativecommon.ModuleOracle); err != nil {
		t.Fatalf("pause oracle: %v", err)
	}
	err := node.SetPrice("usdc", big.NewInt(2e18))
	if !stderrors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected pause error, got %v", err)
	}
	// Ledger mutations stay open while only the oracle is held.
	if _, err := node.Deposit("usdc", account, big.NewInt(100)); err != nil {
		t.Fatalf("deposit with oracle paused: %v", err)
	}

	if err := node.Resume(nativecommon.ModuleOracle); err != nil {
		t.Fatalf("resume oracle: %v", err)
	}
	if err := node.SetPrice("usdc", big.NewInt(2e18)); err != nil {
		t.Fatalf("set price after resume: %v", err)
	}
}

func TestNodeClockNeverRewinds(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()

	node := openNode(t, db, nodeDoc, nil)
	if err := node.SetTimestamp(genesisStamp + 100); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := node.SetTimestamp(genesisStamp + 50); !stderrors.Is(err, errors.ErrClockRewind) {
		t.Fatalf("expected rewind error, got %v", err)
	}
	// Equal is allowed: the tick is idempotent.
	if err := node.SetTimestamp(genesisStamp + 100); err != nil {
		t.Fatalf("same timestamp: %v", err)
	}

	reopened := openNode(t, db, nodeDoc, nil)
	if got := reopened.Timestamp(); got != genesisStamp+100 {
		t.Fatalf("clock not persisted: got %d", got)
	}
}

func TestNodeSetPriceRevaluesCollateral(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()

	account := makeAddress(0x04)
	emitter := &recordingEmitter{}
	node := openNode(t, db, nodeDoc, emitter)

	if _, err := node.Deposit("usdc", account, big.NewInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := node.EnterMarket(account, "usdc"); err != nil {
		t.Fatalf("enter: %v", err)
	}
	collateral, _, err := node.AccountLiquidity(account)
	if err != nil {
		t.Fatalf("liquidity: %v", err)
	}
	if collateral.Cmp(big.NewInt(90)) != 0 {
		t.Fatalf("unexpected collateral: got %s want 90", collateral)
	}

	doubled := new(big.Int).Mul(big.NewInt(2), wad.One)
	if err := node.SetPrice("usdc", doubled); err != nil {
		t.Fatalf("set price: %v", err)
	}
	collateral, _, err = node.AccountLiquidity(account)
	if err != nil {
		t.Fatalf("liquidity after repricing: %v", err)
	}
	if collateral.Cmp(big.NewInt(180)) != 0 {
		t.Fatalf("unexpected collateral after repricing: got %s want 180", collateral)
	}
	attrs := emitter.last(t, events.TypePriceUpdated)
	if attrs["market"] != "usdc" || attrs["price"] != doubled.String() {
		t.Fatalf("unexpected price event attrs: %v", attrs)
	}

	if err := node.SetPrice("usdc", big.NewInt(0)); !stderrors.Is(err, auditor.ErrInvalidPrice) {
		t.Fatalf("expected invalid price, got %v", err)
	}
	if err := node.SetPrice("doge", wad.One); !stderrors.Is(err, errors.ErrUnknownMarket) {
		t.Fatalf("expected unknown market, got %v", err)
	}

	// The repriced quote survives a restart.
	reopened := openNode(t, db, nodeDoc, nil)
	collateral, _, err = reopened.AccountLiquidity(account)
	if err != nil {
		t.Fatalf("liquidity after restart: %v", err)
	}
	if collateral.Cmp(big.NewInt(180)) != 0 {
		t.Fatalf("quote lost on restart: got %s want 180", collateral)
	}
}

func TestNodeStaleQuotesBlockBorrows(t *testing.T) {
	doc := `genesisTime: 1700000000
risk:
  priceMaxAgeSeconds: 300
markets:
  - name: usdc
`
	db := storage.NewMemDB()
	defer db.Close()

	account := makeAddress(0x05)
	node := openNode(t, db, doc, nil)

	if _, err := node.Deposit("usdc", account, big.NewInt(1_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := node.EnterMarket(account, "usdc"); err != nil {
		t.Fatalf("enter: %v", err)
	}
	if err := node.SetTimestamp(genesisStamp + 301); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if _, err := node.Borrow("usdc", account, big.NewInt(100)); !stderrors.Is(err, auditor.ErrStalePrice) {
		t.Fatalf("expected stale quote error, got %v", err)
	}

	// A fresh quote stamped with the current clock unblocks borrowing.
	if err := node.SetPrice("usdc", wad.One); err != nil {
		t.Fatalf("set price: %v", err)
	}
	if _, err := node.Borrow("usdc", account, big.NewInt(100)); err != nil {
		t.Fatalf("borrow after repricing: %v", err)
	}
}

func TestNodeFixedLifecycle(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()

	lender := makeAddress(0x06)
	saver := makeAddress(0x07)
	borrower := makeAddress(0x08)
	emitter := &recordingEmitter{}
	node := openNode(t, db, nodeDoc, emitter)

	first := genesisStamp - genesisStamp%market.Interval + market.Interval
	second := first + market.Interval
	open, err := node.OpenMaturities("usdc")
	if err != nil {
		t.Fatalf("open maturities: %v", err)
	}
	if len(open) != 6 || open[0] != first || open[1] != second {
		t.Fatalf("unexpected maturities: %v", open)
	}

	if _, err := node.Deposit("usdc", lender, big.NewInt(10_000)); err != nil {
		t.Fatalf("floating deposit: %v", err)
	}
	fd, err := node.DepositAtMaturity("usdc", saver, first, big.NewInt(1_000), nil)
	if err != nil {
		t.Fatalf("fixed deposit: %v", err)
	}
	if fd.Assets.Cmp(big.NewInt(1_000)) != 0 || fd.Yield.Sign() != 0 {
		t.Fatalf("unexpected fixed deposit result: assets %s yield %s", fd.Assets, fd.Yield)
	}

	if _, err := node.Deposit("usdc", borrower, big.NewInt(5_000)); err != nil {
		t.Fatalf("collateral deposit: %v", err)
	}
	if err := node.EnterMarket(borrower, "usdc"); err != nil {
		t.Fatalf("enter: %v", err)
	}
	fb, err := node.BorrowAtMaturity("usdc", borrower, first, big.NewInt(500), big.NewInt(1_000))
	if err != nil {
		t.Fatalf("fixed borrow: %v", err)
	}
	if fb.Assets.Cmp(big.NewInt(500)) != 0 || fb.Fee.Sign() <= 0 {
		t.Fatalf("unexpected fixed borrow result: assets %s fee %s", fb.Assets, fb.Fee)
	}

	roll, err := node.RollAtMaturity("usdc", borrower, first, second, nil, nil)
	if err != nil {
		t.Fatalf("roll: %v", err)
	}
	if roll.Repaid.Maturity != first || roll.Borrowed.Maturity != second {
		t.Fatalf("unexpected roll maturities: %d -> %d", roll.Repaid.Maturity, roll.Borrowed.Maturity)
	}
	attrs := emitter.last(t, events.TypeFixedRoll)
	if attrs["fromMaturity"] == attrs["toMaturity"] {
		t.Fatalf("roll event maturities collapsed: %v", attrs)
	}

	// A day past the second maturity the repayment carries a penalty.
	if err := node.SetTimestamp(second + 86_400); err != nil {
		t.Fatalf("advance past maturity: %v", err)
	}
	repay, err := node.RepayAtMaturity("usdc", borrower, second, roll.Borrowed.Owed, nil)
	if err != nil {
		t.Fatalf("late repay: %v", err)
	}
	if repay.Penalty == nil || repay.Penalty.Sign() <= 0 {
		t.Fatalf("expected late penalty, got %v", repay.Penalty)
	}
	attrs = emitter.last(t, events.TypeFixedRepay)
	if _, ok := attrs["penalty"]; !ok {
		t.Fatalf("repay event missing penalty: %v", attrs)
	}

	// The matured fixed deposit pays out at face value.
	fw, err := node.WithdrawAtMaturity("usdc", saver, first, big.NewInt(1_000), nil)
	if err != nil {
		t.Fatalf("fixed withdraw: %v", err)
	}
	if fw.Assets.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("unexpected matured payout: %s", fw.Assets)
	}

	for _, want := range []string{
		events.TypeFixedDeposit, events.TypeFixedBorrow, events.TypeFixedRoll,
		events.TypeFixedRepay, events.TypeFixedWithdraw,
	} {
		if emitter.count(want) != 1 {
			t.Fatalf("expected exactly one %s event, got %d", want, emitter.count(want))
		}
	}
}

func TestNodeLiquidationSeizesCollateral(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()

	lender := makeAddress(0x10)
	borrower := makeAddress(0x11)
	liquidator := makeAddress(0x12)
	emitter := &recordingEmitter{}
	node := openNode(t, db, nodeDoc, emitter)

	if _, err := node.Deposit("usdc", lender, big.NewInt(100_000)); err != nil {
		t.Fatalf("lender deposit: %v", err)
	}
	if _, err := node.Deposit("weth", borrower, big.NewInt(100)); err != nil {
		t.Fatalf("collateral deposit: %v", err)
	}
	if err := node.EnterMarket(borrower, "weth"); err != nil {
		t.Fatalf("enter: %v", err)
	}
	if _, err := node.Borrow("usdc", borrower, big.NewInt(5_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	// Healthy accounts cannot be liquidated.
	if _, err := node.Liquidate("usdc", "weth", liquidator, borrower, big.NewInt(1_000)); !stderrors.Is(err, auditor.ErrNoShortfall) {
		t.Fatalf("expected no shortfall, got %v", err)
	}

	crashed := new(big.Int).Mul(big.NewInt(40), wad.One)
	if err := node.SetPrice("weth", crashed); err != nil {
		t.Fatalf("reprice: %v", err)
	}

	res, err := node.Liquidate("usdc", "weth", liquidator, borrower, big.NewInt(1_000))
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if res.Repaid.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("unexpected repaid: %s", res.Repaid)
	}
	if res.SeizeMarket != "weth" || res.SeizedAssets.Cmp(big.NewInt(28)) != 0 || res.SeizedShares.Cmp(big.NewInt(28)) != 0 {
		t.Fatalf("unexpected seizure: %s assets %s shares in %s", res.SeizedAssets, res.SeizedShares, res.SeizeMarket)
	}
	if res.LendersAssets.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("unexpected lenders cut: %s", res.LendersAssets)
	}

	status, err := node.AccountStatus(borrower)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if got := status.Markets["weth"].FloatingShares; got.Cmp(big.NewInt(72)) != 0 {
		t.Fatalf("unexpected remaining collateral shares: %s", got)
	}
	if got := status.Markets["usdc"].FloatingDebt; got.Cmp(big.NewInt(4_000)) != 0 {
		t.Fatalf("unexpected remaining debt: %s", got)
	}

	attrs := emitter.last(t, events.TypeLiquidation)
	if attrs["repaid"] != "1000" || attrs["seizeMarket"] != "weth" {
		t.Fatalf("unexpected liquidation attrs: %v", attrs)
	}
	if emitter.count(events.TypeSeize) != 1 {
		t.Fatalf("expected one seize event")
	}
	if emitter.count(events.TypeBadDebtCleared) != 0 {
		t.Fatalf("no write-off expected while collateral remains")
	}

	usdcSnap, err := node.MarketSnapshot("usdc")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if usdcSnap.EarningsAccumulator.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("lenders cut not booked: %s", usdcSnap.EarningsAccumulator)
	}

	// Both touched markets restore bit for bit.
	reopened := openNode(t, db, nodeDoc, nil)
	for _, name := range []string{"usdc", "weth"} {
		before, err := node.MarketSnapshot(name)
		if err != nil {
			t.Fatalf("snapshot %s: %v", name, err)
		}
		after, err := reopened.MarketSnapshot(name)
		if err != nil {
			t.Fatalf("restored snapshot %s: %v", name, err)
		}
		requireSameSnapshot(t, before, after)
	}
}

func TestNodeLiquidationWritesOffBadDebt(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()

	lender := makeAddress(0x20)
	borrower := makeAddress(0x21)
	liquidator := makeAddress(0x22)
	emitter := &recordingEmitter{}
	node := openNode(t, db, nodeDoc, emitter)

	if _, err := node.Deposit("usdc", lender, big.NewInt(100_000)); err != nil {
		t.Fatalf("lender deposit: %v", err)
	}
	if _, err := node.Deposit("weth", borrower, big.NewInt(10)); err != nil {
		t.Fatalf("collateral deposit: %v", err)
	}
	if err := node.EnterMarket(borrower, "weth"); err != nil {
		t.Fatalf("enter: %v", err)
	}
	if _, err := node.Borrow("usdc", borrower, big.NewInt(500)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	// Collapse the collateral so even a full seizure cannot cover the
	// debt.
	if err := node.SetPrice("weth", wad.One); err != nil {
		t.Fatalf("reprice: %v", err)
	}

	res, err := node.Liquidate("usdc", "weth", liquidator, borrower, big.NewInt(10_000))
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if res.Repaid.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("unexpected repaid: %s", res.Repaid)
	}
	if res.SeizedAssets.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("expected the whole collateral seized, got %s", res.SeizedAssets)
	}

	status, err := node.AccountStatus(borrower)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if got := status.Markets["weth"].FloatingShares; got.Sign() != 0 {
		t.Fatalf("collateral should be exhausted, got %s", got)
	}
	if got := status.Markets["usdc"].FloatingDebt; got.Sign() != 0 {
		t.Fatalf("debt should be written off, got %s", got)
	}

	attrs := emitter.last(t, events.TypeBadDebtCleared)
	if attrs["market"] != "usdc" || attrs["uncovered"] != "490" || attrs["covered"] != "0" {
		t.Fatalf("unexpected write-off attrs: %v", attrs)
	}

	snap, err := node.MarketSnapshot("usdc")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.BadDebt.Cmp(big.NewInt(490)) != 0 {
		t.Fatalf("unexpected socialized bad debt: %s", snap.BadDebt)
	}
	if snap.FloatingDebt.Sign() != 0 {
		t.Fatalf("floating debt should be cleared, got %s", snap.FloatingDebt)
	}

	// The write-off is durable.
	reopened := openNode(t, db, nodeDoc, nil)
	restored, err := reopened.MarketSnapshot("usdc")
	if err != nil {
		t.Fatalf("restored snapshot: %v", err)
	}
	requireSameSnapshot(t, snap, restored)
}

func TestNodeMembershipLifecycle(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()

	account := makeAddress(0x30)
	emitter := &recordingEmitter{}
	node := openNode(t, db, nodeDoc, emitter)

	if err := node.EnterMarket(account, "weth"); err != nil {
		t.Fatalf("enter weth: %v", err)
	}
	if err := node.EnterMarket(account, "usdc"); err != nil {
		t.Fatalf("enter usdc: %v", err)
	}
	members := node.Membership(account)
	if len(members) != 2 || members[0] != "usdc" || members[1] != "weth" {
		t.Fatalf("membership should follow listing order: %v", members)
	}
	if err := node.EnterMarket(account, "doge"); !stderrors.Is(err, auditor.ErrMarketNotListed) {
		t.Fatalf("expected unlisted market error, got %v", err)
	}

	reopened := openNode(t, db, nodeDoc, nil)
	members = reopened.Membership(account)
	if len(members) != 2 || members[0] != "usdc" || members[1] != "weth" {
		t.Fatalf("membership not restored: %v", members)
	}

	if err := reopened.ExitMarket(account, "weth"); err != nil {
		t.Fatalf("exit: %v", err)
	}
	members = reopened.Membership(account)
	if len(members) != 1 || members[0] != "usdc" {
		t.Fatalf("unexpected membership after exit: %v", members)
	}
	if emitter.count(events.TypeMarketEntered) != 2 {
		t.Fatalf("expected two enter events, got %d", emitter.count(events.TypeMarketEntered))
	}
}

func TestNodeAccountStatusAndPreviews(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()

	lender := makeAddress(0x40)
	borrower := makeAddress(0x41)
	node := openNode(t, db, nodeDoc, nil)

	if _, err := node.Deposit("usdc", lender, big.NewInt(10_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := node.Deposit("usdc", borrower, big.NewInt(5_000)); err != nil {
		t.Fatalf("collateral deposit: %v", err)
	}
	if err := node.EnterMarket(borrower, "usdc"); err != nil {
		t.Fatalf("enter: %v", err)
	}
	first := genesisStamp - genesisStamp%market.Interval + market.Interval
	if _, err := node.BorrowAtMaturity("usdc", borrower, first, big.NewInt(500), nil); err != nil {
		t.Fatalf("fixed borrow: %v", err)
	}

	status, err := node.AccountStatus(borrower)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	usdc := status.Markets["usdc"]
	if usdc.FloatingAssets.Cmp(big.NewInt(5_000)) != 0 {
		t.Fatalf("unexpected floating assets: %s", usdc.FloatingAssets)
	}
	if len(usdc.FixedBorrows) != 1 || usdc.FixedBorrows[0].Maturity != first {
		t.Fatalf("unexpected fixed borrows: %+v", usdc.FixedBorrows)
	}
	if usdc.FixedBorrows[0].Principal.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("unexpected principal: %s", usdc.FixedBorrows[0].Principal)
	}
	if status.Collateral.Sign() <= 0 || status.Debt.Sign() <= 0 {
		t.Fatalf("valuation missing: collateral %s debt %s", status.Collateral, status.Debt)
	}

	// An account with no history reports zeros instead of failing.
	idle, err := node.AccountStatus(makeAddress(0x42))
	if err != nil {
		t.Fatalf("idle status: %v", err)
	}
	if idle.Collateral.Sign() != 0 || idle.Debt.Sign() != 0 || len(idle.Memberships) != 0 {
		t.Fatalf("unexpected idle status: %+v", idle)
	}

	preview, err := node.PreviewRates("usdc", big.NewInt(100))
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if preview.FloatingRate == nil || preview.FloatingRate.Sign() <= 0 {
		t.Fatalf("floating rate missing: %v", preview.FloatingRate)
	}
	if len(preview.Fixed) != 6 {
		t.Fatalf("expected six maturity previews, got %d", len(preview.Fixed))
	}
	if preview.Fixed[0].Maturity != first || preview.Fixed[0].BorrowRate == nil {
		t.Fatalf("unexpected first preview: %+v", preview.Fixed[0])
	}

	if _, err := node.PreviewRates("doge", big.NewInt(100)); !stderrors.Is(err, errors.ErrUnknownMarket) {
		t.Fatalf("expected unknown market, got %v", err)
	}
}
