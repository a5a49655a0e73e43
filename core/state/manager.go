// Package state persists ledger snapshots and operational flags through a
// storage.Database. Every record is keyed by the keccak hash of a
// human-readable prefix so backends never see raw names.
package state

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"termlend/storage"
)

var (
	marketPrefix  = []byte("market:")
	marketListKey = ethcrypto.Keccak256([]byte("market-list"))
	listingsKey   = ethcrypto.Keccak256([]byte("auditor-listings"))
	membersKey    = ethcrypto.Keccak256([]byte("auditor-members"))
	quotesKey     = ethcrypto.Keccak256([]byte("oracle-quotes"))
	pausesKey     = ethcrypto.Keccak256([]byte("module-pauses"))
	clockKey      = ethcrypto.Keccak256([]byte("clock"))
	genesisKey    = ethcrypto.Keccak256([]byte("genesis-digest"))
)

func marketKey(name string) []byte {
	buf := make([]byte, len(marketPrefix)+len(name))
	copy(buf, marketPrefix)
	copy(buf[len(marketPrefix):], name)
	return ethcrypto.Keccak256(buf)
}

// Manager reads and writes the node's persistent records.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func (m *Manager) get(key []byte) ([]byte, bool, error) {
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// SaveMarket stores a serialized market ledger and records the name in the
// market index.
func (m *Manager) SaveMarket(name string, blob []byte) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("market name must not be empty")
	}
	if err := m.db.Put(marketKey(trimmed), blob); err != nil {
		return err
	}
	list, err := m.Markets()
	if err != nil {
		return err
	}
	for _, existing := range list {
		if existing == trimmed {
			return nil
		}
	}
	list = append(list, trimmed)
	sort.Strings(list)
	encoded, err := rlp.EncodeToBytes(list)
	if err != nil {
		return err
	}
	return m.db.Put(marketListKey, encoded)
}

// LoadMarket returns the serialized ledger for name. The second return is
// false when the market has never been saved.
func (m *Manager) LoadMarket(name string) ([]byte, bool, error) {
	return m.get(marketKey(strings.TrimSpace(name)))
}

// Markets returns the saved market names in ascending order.
func (m *Manager) Markets() ([]string, error) {
	data, ok, err := m.get(marketListKey)
	if err != nil || !ok {
		return []string{}, err
	}
	var list []string
	if err := rlp.DecodeBytes(data, &list); err != nil {
		return nil, fmt.Errorf("decode market list: %w", err)
	}
	return list, nil
}

// MarketListing mirrors one risk-engine registration: the market name and
// the collateral adjust factor it was listed under.
type MarketListing struct {
	Name         string
	AdjustFactor *big.Int
}

// SaveListings persists the risk-engine registrations. Order is preserved
// so a restart rebuilds the same registration order.
func (m *Manager) SaveListings(listings []MarketListing) error {
	encoded, err := rlp.EncodeToBytes(listings)
	if err != nil {
		return err
	}
	return m.db.Put(listingsKey, encoded)
}

// Listings returns the stored risk-engine registrations.
func (m *Manager) Listings() ([]MarketListing, error) {
	data, ok, err := m.get(listingsKey)
	if err != nil || !ok {
		return []MarketListing{}, err
	}
	var listings []MarketListing
	if err := rlp.DecodeBytes(data, &listings); err != nil {
		return nil, fmt.Errorf("decode listings: %w", err)
	}
	return listings, nil
}

// Membership records the markets one account counts as collateral.
type Membership struct {
	Account common.Address
	Markets []string
}

// SaveMemberships persists every account's collateral set. Callers pass
// accounts sorted by address so the record is canonical.
func (m *Manager) SaveMemberships(members []Membership) error {
	encoded, err := rlp.EncodeToBytes(members)
	if err != nil {
		return err
	}
	return m.db.Put(membersKey, encoded)
}

// Memberships returns the stored collateral sets.
func (m *Manager) Memberships() ([]Membership, error) {
	data, ok, err := m.get(membersKey)
	if err != nil || !ok {
		return []Membership{}, err
	}
	var members []Membership
	if err := rlp.DecodeBytes(data, &members); err != nil {
		return nil, fmt.Errorf("decode memberships: %w", err)
	}
	return members, nil
}

// Quote mirrors one posted oracle price.
type Quote struct {
	Market    string
	Price     *big.Int
	UpdatedAt uint64
}

// SaveQuotes persists the posted oracle prices. Callers pass quotes
// sorted by market name so the record is canonical.
func (m *Manager) SaveQuotes(quotes []Quote) error {
	encoded, err := rlp.EncodeToBytes(quotes)
	if err != nil {
		return err
	}
	return m.db.Put(quotesKey, encoded)
}

// Quotes returns the stored oracle prices.
func (m *Manager) Quotes() ([]Quote, error) {
	data, ok, err := m.get(quotesKey)
	if err != nil || !ok {
		return []Quote{}, err
	}
	var quotes []Quote
	if err := rlp.DecodeBytes(data, &quotes); err != nil {
		return nil, fmt.Errorf("decode quotes: %w", err)
	}
	return quotes, nil
}

// SavePauses persists the set of paused module names. Names are trimmed,
// deduplicated and stored sorted so the record is canonical.
func (m *Manager) SavePauses(paused []string) error {
	normalized := make([]string, 0, len(paused))
	seen := make(map[string]struct{}, len(paused))
	for _, module := range paused {
		trimmed := strings.TrimSpace(module)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		normalized = append(normalized, trimmed)
	}
	sort.Strings(normalized)
	encoded, err := rlp.EncodeToBytes(normalized)
	if err != nil {
		return err
	}
	return m.db.Put(pausesKey, encoded)
}

// Pauses returns the stored paused module names.
func (m *Manager) Pauses() ([]string, error) {
	data, ok, err := m.get(pausesKey)
	if err != nil || !ok {
		return []string{}, err
	}
	var list []string
	if err := rlp.DecodeBytes(data, &list); err != nil {
		return nil, fmt.Errorf("decode pause list: %w", err)
	}
	return list, nil
}

// SaveClock persists the last committed ledger timestamp.
func (m *Manager) SaveClock(timestamp uint64) error {
	encoded, err := rlp.EncodeToBytes(timestamp)
	if err != nil {
		return err
	}
	return m.db.Put(clockKey, encoded)
}

// Clock returns the last committed ledger timestamp, zero when unset.
func (m *Manager) Clock() (uint64, error) {
	data, ok, err := m.get(clockKey)
	if err != nil || !ok {
		return 0, err
	}
	var timestamp uint64
	if err := rlp.DecodeBytes(data, &timestamp); err != nil {
		return 0, fmt.Errorf("decode clock: %w", err)
	}
	return timestamp, nil
}

// SaveGenesisDigest records the hash of the genesis document the node was
// initialised from so a restart can refuse a mismatched file.
func (m *Manager) SaveGenesisDigest(digest [32]byte) error {
	return m.db.Put(genesisKey, digest[:])
}

// GenesisDigest returns the stored genesis hash. The second return is false
// when the node has never been initialised.
func (m *Manager) GenesisDigest() ([32]byte, bool, error) {
	data, ok, err := m.get(genesisKey)
	if err != nil || !ok {
		return [32]byte{}, false, err
	}
	if len(data) != 32 {
		return [32]byte{}, false, fmt.Errorf("genesis digest has %d bytes, want 32", len(data))
	}
	var digest [32]byte
	copy(digest[:], data)
	return digest, true, nil
}
