package rpc

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"termlend/journal"
)

// parseNameParam accepts either a bare string or an object carrying
// the named field, so `["usdc"]` and `[{"market":"usdc"}]` both work.
func parseNameParam(req *RPCRequest, field string) (string, bool) {
	if len(req.Params) != 1 {
		return "", false
	}
	var plain string
	if err := json.Unmarshal(req.Params[0], &plain); err == nil {
		return strings.TrimSpace(plain), true
	}
	var obj map[string]string
	if err := json.Unmarshal(req.Params[0], &obj); err != nil {
		return "", false
	}
	return strings.TrimSpace(obj[field]), true
}

// MarketStatusResult is the full state of one market at the current
// clock, amounts as base-10 strings and utilizations WAD-scaled.
type MarketStatusResult struct {
	Market                 string            `json:"market"`
	Timestamp              uint64            `json:"timestamp"`
	FloatingAssets         string            `json:"floatingAssets"`
	FloatingShares         string            `json:"floatingShares"`
	FloatingDebt           string            `json:"floatingDebt"`
	BorrowShares           string            `json:"borrowShares"`
	FloatingBackupBorrowed string            `json:"floatingBackupBorrowed"`
	EarningsAccumulator    string            `json:"earningsAccumulator"`
	BadDebt                string            `json:"badDebt"`
	FloatingAssetsAverage  string            `json:"floatingAssetsAverage"`
	TotalAssets            string            `json:"totalAssets"`
	UtilizationFloating    string            `json:"utilizationFloating"`
	UtilizationGlobal      string            `json:"utilizationGlobal"`
	Pools                  []FixedPoolResult `json:"pools,omitempty"`
}

// FixedPoolResult is one maturity's book.
type FixedPoolResult struct {
	Maturity           uint64 `json:"maturity"`
	Borrowed           string `json:"borrowed"`
	Supplied           string `json:"supplied"`
	UnassignedEarnings string `json:"unassignedEarnings"`
	LastAccrual        uint64 `json:"lastAccrual"`
}

func (s *Server) handleGetMarket(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	name, ok := parseNameParam(req, "market")
	if !ok || name == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "market name required", nil)
		return
	}
	snap, err := s.node.MarketSnapshot(name)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	result := MarketStatusResult{
		Market:                 snap.Name,
		Timestamp:              snap.Timestamp,
		FloatingAssets:         bigString(snap.FloatingAssets),
		FloatingShares:         bigString(snap.FloatingShares),
		FloatingDebt:           bigString(snap.FloatingDebt),
		BorrowShares:           bigString(snap.BorrowShares),
		FloatingBackupBorrowed: bigString(snap.FloatingBackupBorrowed),
		EarningsAccumulator:    bigString(snap.EarningsAccumulator),
		BadDebt:                bigString(snap.BadDebt),
		FloatingAssetsAverage:  bigString(snap.FloatingAssetsAverage),
		TotalAssets:            bigString(snap.TotalAssets),
		UtilizationFloating:    bigString(snap.UtilizationFloating),
		UtilizationGlobal:      bigString(snap.UtilizationGlobal),
	}
	for maturity, pool := range snap.Pools {
		result.Pools = append(result.Pools, FixedPoolResult{
			Maturity:           maturity,
			Borrowed:           bigString(pool.Borrowed),
			Supplied:           bigString(pool.Supplied),
			UnassignedEarnings: bigString(pool.UnassignedEarnings),
			LastAccrual:        pool.LastAccrual,
		})
	}
	sort.Slice(result.Pools, func(i, j int) bool { return result.Pools[i].Maturity < result.Pools[j].Maturity })
	writeResult(w, req.ID, result)
}

// AccountStatusResult is an account's standing across every market.
// Collateral and debt are omitted when the risk engine cannot value
// the account, stale quotes being the usual cause.
type AccountStatusResult struct {
	Address     string                         `json:"address"`
	Memberships []string                       `json:"memberships"`
	Collateral  string                         `json:"collateral,omitempty"`
	Debt        string                         `json:"debt,omitempty"`
	Markets     map[string]AccountMarketResult `json:"markets,omitempty"`
}

// AccountMarketResult is one market's slice of the account.
type AccountMarketResult struct {
	FloatingShares string                `json:"floatingShares"`
	FloatingAssets string                `json:"floatingAssets"`
	FloatingDebt   string                `json:"floatingDebt"`
	FixedDeposits  []FixedPositionResult `json:"fixedDeposits,omitempty"`
	FixedBorrows   []FixedPositionResult `json:"fixedBorrows,omitempty"`
}

// FixedPositionResult is one fixed-term position, principal and fee
// split out so face value is their sum.
type FixedPositionResult struct {
	Maturity  uint64 `json:"maturity"`
	Principal string `json:"principal"`
	Fee       string `json:"fee"`
}

func (s *Server) handleGetAccount(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	value, ok := parseNameParam(req, "account")
	if !ok || value == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "account address required", nil)
		return
	}
	account, err := parseAddress(value, "account")
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	status, err := s.node.AccountStatus(account)
	if err != nil && status == nil {
		writeEngineError(w, req.ID, err)
		return
	}
	result := AccountStatusResult{
		Address:     status.Address.Hex(),
		Memberships: status.Memberships,
	}
	if status.Collateral != nil {
		result.Collateral = status.Collateral.String()
	}
	if status.Debt != nil {
		result.Debt = status.Debt.String()
	}
	for name, ms := range status.Markets {
		entry := AccountMarketResult{
			FloatingShares: bigString(ms.FloatingShares),
			FloatingAssets: bigString(ms.FloatingAssets),
			FloatingDebt:   bigString(ms.FloatingDebt),
		}
		for _, pos := range ms.FixedDeposits {
			entry.FixedDeposits = append(entry.FixedDeposits, FixedPositionResult{
				Maturity:  pos.Maturity,
				Principal: bigString(pos.Principal),
				Fee:       bigString(pos.Fee),
			})
		}
		for _, pos := range ms.FixedBorrows {
			entry.FixedBorrows = append(entry.FixedBorrows, FixedPositionResult{
				Maturity:  pos.Maturity,
				Principal: bigString(pos.Principal),
				Fee:       bigString(pos.Fee),
			})
		}
		if result.Markets == nil {
			result.Markets = make(map[string]AccountMarketResult)
		}
		result.Markets[name] = entry
	}
	writeResult(w, req.ID, result)
}

// RatePreviewResult prices a reference amount against the current
// books without moving them.
type RatePreviewResult struct {
	Market              string               `json:"market"`
	Assets              string               `json:"assets"`
	UtilizationFloating string               `json:"utilizationFloating"`
	UtilizationGlobal   string               `json:"utilizationGlobal"`
	FloatingRate        string               `json:"floatingRate,omitempty"`
	Fixed               []MaturityRateResult `json:"fixed,omitempty"`
}

// MaturityRateResult carries the quotes one maturity can honor. A
// missing borrow rate means backup liquidity could not cover the
// amount there.
type MaturityRateResult struct {
	Maturity     uint64 `json:"maturity"`
	BorrowRate   string `json:"borrowRate,omitempty"`
	DepositYield string `json:"depositYield,omitempty"`
}

type previewRatesParams struct {
	Market string `json:"market"`
	Assets string `json:"assets"`
}

func (s *Server) handlePreviewRates(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params previewRatesParams
	if !decodeParams(w, req, &params) {
		return
	}
	assets, err := parseAmount(params.Assets, "assets")
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	preview, err := s.node.PreviewRates(params.Market, assets)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	result := RatePreviewResult{
		Market:              params.Market,
		Assets:              bigString(preview.Assets),
		UtilizationFloating: bigString(preview.UtilFloating),
		UtilizationGlobal:   bigString(preview.UtilGlobal),
	}
	if preview.FloatingRate != nil {
		result.FloatingRate = preview.FloatingRate.String()
	}
	for _, entry := range preview.Fixed {
		quote := MaturityRateResult{Maturity: entry.Maturity}
		if entry.BorrowRate != nil {
			quote.BorrowRate = entry.BorrowRate.String()
		}
		if entry.DepositYield != nil {
			quote.DepositYield = entry.DepositYield.String()
		}
		result.Fixed = append(result.Fixed, quote)
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleListMarkets(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	writeResult(w, req.ID, s.node.Markets())
}

func (s *Server) handleOpenMaturities(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	name, ok := parseNameParam(req, "market")
	if !ok || name == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "market name required", nil)
		return
	}
	maturities, err := s.node.OpenMaturities(name)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, maturities)
}

// JournalEntryResult is one persisted ledger event.
type JournalEntryResult struct {
	Seq        int64             `json:"seq"`
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Market     string            `json:"market,omitempty"`
	Account    string            `json:"account,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Timestamp  uint64            `json:"timestamp"`
}

type journalParams struct {
	Market  string `json:"market,omitempty"`
	Account string `json:"account,omitempty"`
	Type    string `json:"type,omitempty"`
	Since   uint64 `json:"since,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

func (s *Server) handleGetJournal(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, req.ID, codeServerError, "journal disabled", nil)
		return
	}
	var params journalParams
	if len(req.Params) > 0 {
		if !decodeParams(w, req, &params) {
			return
		}
	}
	entries, err := s.journal.List(journal.Query{
		Market:  params.Market,
		Account: params.Account,
		Type:    params.Type,
		Since:   params.Since,
		Limit:   params.Limit,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "journal query failed", err.Error())
		return
	}
	results := make([]JournalEntryResult, 0, len(entries))
	for _, entry := range entries {
		out := JournalEntryResult{
			Seq:       entry.Seq,
			ID:        entry.ID.String(),
			Type:      entry.Type,
			Market:    entry.Market,
			Account:   entry.Account,
			Timestamp: entry.Timestamp,
		}
		if entry.Attributes != "" {
			var attrs map[string]string
			if err := json.Unmarshal([]byte(entry.Attributes), &attrs); err == nil {
				out.Attributes = attrs
			}
		}
		results = append(results, out)
	}
	writeResult(w, req.ID, results)
}
