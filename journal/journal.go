// Package journal persists committed ledger events to an embedded sqlite
// database so operators can audit operation history across restarts.
package journal

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"termlend/core/events"
	"termlend/core/types"
)

// Entry is one committed ledger event. Seq preserves commit order; ID gives
// each entry a stable external identifier.
type Entry struct {
	Seq        int64     `gorm:"primaryKey;autoIncrement" json:"seq"`
	ID         uuid.UUID `gorm:"type:uuid;uniqueIndex" json:"id"`
	Type       string    `gorm:"size:64;index" json:"type"`
	Market     string    `gorm:"size:64;index" json:"market,omitempty"`
	Account    string    `gorm:"size:64;index" json:"account,omitempty"`
	Attributes string    `json:"attributes"`
	Timestamp  uint64    `gorm:"index" json:"timestamp"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Store wraps the journal persistence layer.
type Store struct {
	db *gorm.DB
}

// Open initialises the backing store at the given sqlite path and applies
// the schema.
func Open(path string) (*Store, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("journal path must be configured")
	}
	db, err := gorm.Open(sqlite.Open(trimmed), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Append renders the event and persists it with the supplied ledger clock.
func (s *Store) Append(event events.Event, clock uint64) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("journal not configured")
	}
	rendered, ok := event.(interface{ Event() *types.Event })
	if !ok {
		return fmt.Errorf("event %T has no wire form", event)
	}
	payload := rendered.Event()
	if payload == nil {
		return fmt.Errorf("event %T rendered empty", event)
	}
	attrs, err := json.Marshal(payload.Attributes)
	if err != nil {
		return fmt.Errorf("encode attributes: %w", err)
	}
	entry := Entry{
		ID:         uuid.New(),
		Type:       payload.Type,
		Market:     payload.Attribute("market"),
		Account:    entryAccount(payload),
		Attributes: string(attrs),
		Timestamp:  clock,
	}
	if err := s.db.Create(&entry).Error; err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

// Liquidations touch two accounts; the borrower is the one auditors filter
// by, so it wins over the liquidator.
func entryAccount(payload *types.Event) string {
	if borrower := payload.Attribute("borrower"); borrower != "" {
		return borrower
	}
	return payload.Attribute("account")
}

// Query narrows a journal listing. Zero values leave the dimension
// unfiltered.
type Query struct {
	Market  string
	Account string
	Type    string
	Since   uint64
	Limit   int
}

const (
	defaultQueryLimit = 50
	maxQueryLimit     = 200
)

// List returns matching entries newest first.
func (s *Store) List(q Query) ([]Entry, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("journal not configured")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	} else if limit > maxQueryLimit {
		limit = maxQueryLimit
	}

	tx := s.db.Model(&Entry{})
	if market := strings.TrimSpace(q.Market); market != "" {
		tx = tx.Where("market = ?", market)
	}
	if account := strings.TrimSpace(q.Account); account != "" {
		tx = tx.Where("account = ?", account)
	}
	if kind := strings.TrimSpace(q.Type); kind != "" {
		tx = tx.Where("type = ?", kind)
	}
	if q.Since > 0 {
		tx = tx.Where("timestamp >= ?", q.Since)
	}

	var entries []Entry
	if err := tx.Order("seq DESC").Limit(limit).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	return entries, nil
}

// Count returns the total number of persisted entries.
func (s *Store) Count() (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("journal not configured")
	}
	var total int64
	if err := s.db.Model(&Entry{}).Count(&total).Error; err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return total, nil
}
