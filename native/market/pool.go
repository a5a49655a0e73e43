package market

import (
	"math/big"

	"termlend/wad"
)

// Pool aggregates one fixed maturity. Borrowed and Supplied track
// outstanding principals only; position fees flow through
// UnassignedEarnings and the market accumulator instead.
type Pool struct {
	Borrowed           *big.Int
	Supplied           *big.Int
	UnassignedEarnings *big.Int
	LastAccrual        uint64
}

// NewPool returns an empty pool whose earnings clock starts at now.
func NewPool(now uint64) *Pool {
	return &Pool{
		Borrowed:           big.NewInt(0),
		Supplied:           big.NewInt(0),
		UnassignedEarnings: big.NewInt(0),
		LastAccrual:        now,
	}
}

// Clone returns an independent deep copy.
func (p *Pool) Clone() *Pool {
	return &Pool{
		Borrowed:           wad.Clone(p.Borrowed),
		Supplied:           wad.Clone(p.Supplied),
		UnassignedEarnings: wad.Clone(p.UnassignedEarnings),
		LastAccrual:        p.LastAccrual,
	}
}

// BackupSupplied returns how much of the pool's borrowing the floating
// pool is financing: max(Borrowed - Supplied, 0).
func (p *Pool) BackupSupplied() *big.Int {
	diff := new(big.Int).Sub(p.Borrowed, p.Supplied)
	if diff.Sign() < 0 {
		return big.NewInt(0)
	}
	return diff
}

// Deposit adds fixed-side principal and returns how much backup
// financing it releases.
func (p *Pool) Deposit(amount *big.Int) *big.Int {
	released := wad.Min(amount, p.BackupSupplied())
	p.Supplied = new(big.Int).Add(p.Supplied, amount)
	return released
}

// Borrow adds borrowed principal and returns how much extra backup
// financing the floating pool must provide.
func (p *Pool) Borrow(amount *big.Int) *big.Int {
	before := p.BackupSupplied()
	p.Borrowed = new(big.Int).Add(p.Borrowed, amount)
	return new(big.Int).Sub(p.BackupSupplied(), before)
}

// Repay removes borrowed principal and returns how much backup
// financing it releases. Repaying more than is borrowed is an
// invariant violation.
func (p *Pool) Repay(principal *big.Int) *big.Int {
	if principal.Cmp(p.Borrowed) > 0 {
		panic("market: pool repay exceeds borrowed principal")
	}
	before := p.BackupSupplied()
	p.Borrowed = new(big.Int).Sub(p.Borrowed, principal)
	return new(big.Int).Sub(before, p.BackupSupplied())
}

// Withdraw removes fixed-side principal and returns how much backup
// financing the floating pool must add to cover it.
func (p *Pool) Withdraw(principal *big.Int) *big.Int {
	if principal.Cmp(p.Supplied) > 0 {
		panic("market: pool withdraw exceeds supplied principal")
	}
	before := p.BackupSupplied()
	p.Supplied = new(big.Int).Sub(p.Supplied, principal)
	return new(big.Int).Sub(p.BackupSupplied(), before)
}

// AccrueEarnings releases unassigned earnings linearly over the time
// remaining to maturity and returns the released amount. Once now
// reaches the maturity everything still unassigned is released. The
// call is idempotent within the same second.
func (p *Pool) AccrueEarnings(maturity, now uint64) *big.Int {
	if now <= p.LastAccrual {
		return big.NewInt(0)
	}
	if p.LastAccrual >= maturity {
		p.LastAccrual = now
		return big.NewInt(0)
	}
	if now >= maturity {
		released := p.UnassignedEarnings
		p.UnassignedEarnings = big.NewInt(0)
		p.LastAccrual = now
		return released
	}
	elapsed := new(big.Int).SetUint64(now - p.LastAccrual)
	window := new(big.Int).SetUint64(maturity - p.LastAccrual)
	released := wad.MulDivDown(p.UnassignedEarnings, elapsed, window)
	p.UnassignedEarnings = new(big.Int).Sub(p.UnassignedEarnings, released)
	p.LastAccrual = now
	return released
}

// pendingEarnings projects what AccrueEarnings would release at now
// without mutating the pool.
func (p *Pool) pendingEarnings(maturity, now uint64) *big.Int {
	if now <= p.LastAccrual || p.LastAccrual >= maturity {
		return big.NewInt(0)
	}
	if now >= maturity {
		return wad.Clone(p.UnassignedEarnings)
	}
	elapsed := new(big.Int).SetUint64(now - p.LastAccrual)
	window := new(big.Int).SetUint64(maturity - p.LastAccrual)
	return wad.MulDivDown(p.UnassignedEarnings, elapsed, window)
}

// DistributeEarnings splits new fee income between the backup
// suppliers and the treasury accumulator, pro-rata to the share of the
// pool's borrowing the floating pool finances and net of the reserve
// cut. With nothing borrowed everything goes to the treasury.
func (p *Pool) DistributeEarnings(fee, reserveFactor *big.Int) (backup, treasury *big.Int) {
	if fee.Sign() == 0 {
		return big.NewInt(0), big.NewInt(0)
	}
	if p.Borrowed.Sign() == 0 {
		return big.NewInt(0), wad.Clone(fee)
	}
	share := wad.MulDivDown(fee, p.BackupSupplied(), p.Borrowed)
	backup = wad.MulDown(share, new(big.Int).Sub(wad.One, reserveFactor))
	treasury = new(big.Int).Sub(fee, backup)
	return backup, treasury
}

// CalculateDeposit prices an incoming fixed deposit's claim on the
// pool's unassigned earnings: the deposit buys out backup financing,
// so it earns the matching share immediately, less the backup fee kept
// for the treasury. The caller removes yield+backupFee from
// UnassignedEarnings.
func (p *Pool) CalculateDeposit(amount, backupFeeRate *big.Int) (yield, backupFee *big.Int) {
	backup := p.BackupSupplied()
	if backup.Sign() == 0 {
		return big.NewInt(0), big.NewInt(0)
	}
	gross := wad.MulDivDown(p.UnassignedEarnings, wad.Min(amount, backup), backup)
	backupFee = wad.MulDown(gross, backupFeeRate)
	yield = new(big.Int).Sub(gross, backupFee)
	return yield, backupFee
}
