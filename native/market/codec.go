package market

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"termlend/wad"
)

// stateSchema versions the serialized ledger layout.
const stateSchema = 1

type storedPool struct {
	Maturity           uint64
	Borrowed           *big.Int
	Supplied           *big.Int
	UnassignedEarnings *big.Int
	LastAccrual        uint64
}

type storedPosition struct {
	Maturity  uint64
	Principal *big.Int
	Fee       *big.Int
}

type storedAccount struct {
	Address        common.Address
	FloatingShares *big.Int
	BorrowShares   *big.Int
	FixedDeposits  []storedPosition
	FixedBorrows   []storedPosition
	DepositSet     [32]byte
	BorrowSet      [32]byte
}

type storedLedger struct {
	Schema                 uint64
	Timestamp              uint64
	FloatingAssets         *big.Int
	TotalFloatingShares    *big.Int
	FloatingDebt           *big.Int
	TotalBorrowShares      *big.Int
	FloatingBackupBorrowed *big.Int
	EarningsAccumulator    *big.Int
	BadDebt                *big.Int
	FloatingAssetsAverage  *big.Int
	LastFloatingDebtUpdate uint64
	LastAccumulatorAccrual uint64
	LastAverageUpdate      uint64
	Pools                  []storedPool
	Accounts               []storedAccount
}

// SerializeState encodes the committed ledger, clock included, as one
// RLP blob. Pools, accounts and positions are sorted so equal states
// always serialize to equal bytes.
func (m *Market) SerializeState() ([]byte, error) {
	st := m.state
	stored := &storedLedger{
		Schema:                 stateSchema,
		Timestamp:              m.now,
		FloatingAssets:         wad.Clone(st.FloatingAssets),
		TotalFloatingShares:    wad.Clone(st.TotalFloatingShares),
		FloatingDebt:           wad.Clone(st.FloatingDebt),
		TotalBorrowShares:      wad.Clone(st.TotalBorrowShares),
		FloatingBackupBorrowed: wad.Clone(st.FloatingBackupBorrowed),
		EarningsAccumulator:    wad.Clone(st.EarningsAccumulator),
		BadDebt:                wad.Clone(st.BadDebt),
		FloatingAssetsAverage:  wad.Clone(st.FloatingAssetsAverage),
		LastFloatingDebtUpdate: st.LastFloatingDebtUpdate,
		LastAccumulatorAccrual: st.LastAccumulatorAccrual,
		LastAverageUpdate:      st.LastAverageUpdate,
	}

	maturities := make([]uint64, 0, len(st.Pools))
	for maturity := range st.Pools {
		maturities = append(maturities, maturity)
	}
	sort.Slice(maturities, func(i, j int) bool { return maturities[i] < maturities[j] })
	for _, maturity := range maturities {
		pool := st.Pools[maturity]
		stored.Pools = append(stored.Pools, storedPool{
			Maturity:           maturity,
			Borrowed:           wad.Clone(pool.Borrowed),
			Supplied:           wad.Clone(pool.Supplied),
			UnassignedEarnings: wad.Clone(pool.UnassignedEarnings),
			LastAccrual:        pool.LastAccrual,
		})
	}

	addrs := make([]common.Address, 0, len(st.Accounts))
	for addr := range st.Accounts {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return bytes.Compare(addrs[i][:], addrs[j][:]) < 0 })
	for _, addr := range addrs {
		account := st.Accounts[addr]
		stored.Accounts = append(stored.Accounts, storedAccount{
			Address:        addr,
			FloatingShares: wad.Clone(account.FloatingShares),
			BorrowShares:   wad.Clone(account.BorrowShares),
			FixedDeposits:  storedPositions(account.FixedDeposits),
			FixedBorrows:   storedPositions(account.FixedBorrows),
			DepositSet:     account.DepositSet.Pack().Bytes32(),
			BorrowSet:      account.BorrowSet.Pack().Bytes32(),
		})
	}
	return rlp.EncodeToBytes(stored)
}

func storedPositions(positions map[uint64]*Position) []storedPosition {
	if len(positions) == 0 {
		return nil
	}
	out := make([]storedPosition, 0, len(positions))
	for maturity, position := range positions {
		out = append(out, storedPosition{
			Maturity:  maturity,
			Principal: wad.Clone(position.Principal),
			Fee:       wad.Clone(position.Fee),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Maturity < out[j].Maturity })
	return out
}

// RestoreState replaces the committed ledger and the clock with a
// previously serialized blob. Blobs that are off the maturity grid,
// out of order or inconsistent with their packed maturity sets are
// rejected, leaving the current state in place.
func (m *Market) RestoreState(data []byte) error {
	var stored storedLedger
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return fmt.Errorf("market %s: decode state: %w", m.name, err)
	}
	if stored.Schema != stateSchema {
		return fmt.Errorf("market %s: unsupported state schema %d", m.name, stored.Schema)
	}

	st := newLedgerState(stored.Timestamp)
	st.FloatingAssets = wad.Clone(stored.FloatingAssets)
	st.TotalFloatingShares = wad.Clone(stored.TotalFloatingShares)
	st.FloatingDebt = wad.Clone(stored.FloatingDebt)
	st.TotalBorrowShares = wad.Clone(stored.TotalBorrowShares)
	st.FloatingBackupBorrowed = wad.Clone(stored.FloatingBackupBorrowed)
	st.EarningsAccumulator = wad.Clone(stored.EarningsAccumulator)
	st.BadDebt = wad.Clone(stored.BadDebt)
	st.FloatingAssetsAverage = wad.Clone(stored.FloatingAssetsAverage)
	st.LastFloatingDebtUpdate = stored.LastFloatingDebtUpdate
	st.LastAccumulatorAccrual = stored.LastAccumulatorAccrual
	st.LastAverageUpdate = stored.LastAverageUpdate

	var lastMaturity uint64
	for _, entry := range stored.Pools {
		if entry.Maturity == 0 || entry.Maturity%Interval != 0 {
			return fmt.Errorf("market %s: pool maturity %d off the interval grid", m.name, entry.Maturity)
		}
		if entry.Maturity <= lastMaturity {
			return fmt.Errorf("market %s: pool maturities not strictly ascending", m.name)
		}
		lastMaturity = entry.Maturity
		st.Pools[entry.Maturity] = &Pool{
			Borrowed:           wad.Clone(entry.Borrowed),
			Supplied:           wad.Clone(entry.Supplied),
			UnassignedEarnings: wad.Clone(entry.UnassignedEarnings),
			LastAccrual:        entry.LastAccrual,
		}
	}

	var lastAddr common.Address
	for i, entry := range stored.Accounts {
		if i > 0 && bytes.Compare(entry.Address[:], lastAddr[:]) <= 0 {
			return fmt.Errorf("market %s: accounts not strictly ascending", m.name)
		}
		lastAddr = entry.Address
		account := NewAccount()
		account.FloatingShares = wad.Clone(entry.FloatingShares)
		account.BorrowShares = wad.Clone(entry.BorrowShares)
		account.DepositSet = UnpackMaturitySet(new(uint256.Int).SetBytes(entry.DepositSet[:]))
		account.BorrowSet = UnpackMaturitySet(new(uint256.Int).SetBytes(entry.BorrowSet[:]))
		if err := restorePositions(account.FixedDeposits, &account.DepositSet, entry.FixedDeposits); err != nil {
			return fmt.Errorf("market %s: account %s deposits: %w", m.name, entry.Address.Hex(), err)
		}
		if err := restorePositions(account.FixedBorrows, &account.BorrowSet, entry.FixedBorrows); err != nil {
			return fmt.Errorf("market %s: account %s borrows: %w", m.name, entry.Address.Hex(), err)
		}
		st.Accounts[entry.Address] = account
	}

	m.state = st
	m.now = stored.Timestamp
	return nil
}

func restorePositions(into map[uint64]*Position, set *MaturitySet, stored []storedPosition) error {
	var last uint64
	for i, entry := range stored {
		if entry.Maturity == 0 || entry.Maturity%Interval != 0 {
			return fmt.Errorf("maturity %d off the interval grid", entry.Maturity)
		}
		if i > 0 && entry.Maturity <= last {
			return fmt.Errorf("maturities not strictly ascending")
		}
		last = entry.Maturity
		if !set.Has(entry.Maturity) {
			return fmt.Errorf("maturity %d missing from the packed set", entry.Maturity)
		}
		into[entry.Maturity] = &Position{
			Principal: wad.Clone(entry.Principal),
			Fee:       wad.Clone(entry.Fee),
		}
	}
	if len(into) != len(set.Ascending()) {
		return fmt.Errorf("packed set carries maturities without positions")
	}
	return nil
}
