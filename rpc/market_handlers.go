package rpc

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"termlend/native/market"
	"termlend/observability/metrics"
)

// decodeParams expects exactly one JSON object parameter and decodes
// it into out, writing the error response itself on failure.
func decodeParams(w http.ResponseWriter, req *RPCRequest, out interface{}) bool {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return false
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return false
	}
	return true
}

func parseAddress(value, field string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return common.Address{}, fmt.Errorf("%s required", field)
	}
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("%s must be a 0x-prefixed hex address", field)
	}
	return common.HexToAddress(trimmed), nil
}

// parseAmount reads a positive base-10 integer. Amounts travel as
// strings so 256-bit values survive JSON number handling.
func parseAmount(value, field string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("%s required", field)
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("%s must be a base-10 integer", field)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("%s must be positive", field)
	}
	return amount, nil
}

// parseOptionalAmount treats an absent value as no bound.
func parseOptionalAmount(value, field string) (*big.Int, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	return parseAmount(value, field)
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func writeParamError(w http.ResponseWriter, id interface{}, err error) {
	writeError(w, http.StatusBadRequest, id, codeInvalidParams, err.Error(), nil)
}

// writeOperationError counts the engine's refusal before reporting it.
func writeOperationError(w http.ResponseWriter, id interface{}, kind string, err error) {
	metrics.Engine().ObserveRejection(kind)
	writeEngineError(w, id, err)
}

// PoolChangeResult reports a floating-pool operation: the assets that
// moved and the shares minted or burned with them.
type PoolChangeResult struct {
	Market  string `json:"market"`
	Account string `json:"account"`
	Assets  string `json:"assets"`
	Shares  string `json:"shares"`
}

func poolChangeResult(name string, account common.Address, assets, shares *big.Int) PoolChangeResult {
	return PoolChangeResult{
		Market:  name,
		Account: account.Hex(),
		Assets:  bigString(assets),
		Shares:  bigString(shares),
	}
}

type vaultAssetsParams struct {
	Market string `json:"market"`
	From   string `json:"from"`
	Assets string `json:"assets"`
}

type vaultSharesParams struct {
	Market string `json:"market"`
	From   string `json:"from"`
	Shares string `json:"shares"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params vaultAssetsParams
	if !decodeParams(w, req, &params) {
		return
	}
	account, err := parseAddress(params.From, "from")
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	assets, err := parseAmount(params.Assets, "assets")
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	res, err := s.node.Deposit(params.Market, account, assets)
	if err != nil {
		writeOperationError(w, req.ID, "deposit", err)
		return
	}
	metrics.Engine().ObserveOperation("deposit")
	writeResult(w, req.ID, poolChangeResult(params.Market, account, res.Assets, res.Shares))
}

func (s *Server) handleMint(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params vaultSharesParams
	if !decodeParams(w, req, &params) {
		return
	}
	account, err := parseAddress(params.From, "from")
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	shares, err := parseAmount(params.Shares, "shares")
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	res, err := s.node.Mint(params.Market, account, shares)
	if err != nil {
		writeOperationError(w, req.ID, "mint", err)
		return
	}
	metrics.Engine().ObserveOperation("mint")
	writeResult(w, req.ID, poolChangeResult(params.Market, account, res.Assets, res.Shares))
}

func (s *Server) handleWithdraw(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params vaultAssetsParams
	if !decodeParams(w, req, &params) {
		return
	}
	account, err := parseAddress(params.From, "from")
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	assets, err := parseAmount(params.Assets, "assets")
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	res, err := s.node.Withdraw(params.Market, account, assets)
	if err != nil {
		writeOperationError(w, req.ID, "withdraw", err)
		return
	}
	metrics.Engine().ObserveOperation("withdraw")
	writeResult(w, req.ID, poolChangeResult(params.Market, account, res.Assets, res.Shares))
}

func (s *Server) handleRedeem(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params vaultSharesParams
	if !decodeParams(w, req, &params) {
		return
	}
	account, err := parseAddress(params.From, "from")
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	shares, err := parseAmount(params.Shares, "shares")
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	res, err := s.node.Redeem(params.Market, account, shares)
	if err != nil {
		writeOperationError(w, req.ID, "redeem", err)
		return
	}
	metrics.Engine().ObserveOperation("redeem")
	writeResult(w, req.ID, poolChangeResult(params.Market, account, res.Assets, res.Shares))
}

func (s *Server) handleBorrow(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params vaultAssetsParams
	if !decodeParams(w, req, &params) {
		return
	}
	account, err := parseAddress(params.From, "from")
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	assets, err := parseAmount(params.Assets, "assets")
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	res, err := s.node.Borrow(params.Market, account, assets)
	if err != nil {
		writeOperationError(w, req.ID, "borrow", err)
		return
	}
	metrics.Engine().ObserveOperation("borrow")
	writeResult(w, req.ID, poolChangeResult(params.Market, account, res.Assets, res.Shares))
}

func (s *Server) handleRepay(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params vaultAssetsParams
	if !decodeParams(w, req, &params) {
		return
	}
	account, err := parseAddress(params.From, "from")
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	assets, err := parseAmount(params.Assets, "assets")
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	res, err := s.node.Repay(params.Market, account, assets)
	if err != nil {
		writeOperationError(w, req.ID, "repay", err)
		return
	}
	metrics.Engine().ObserveOperation("repay")
	writeResult(w, req.ID, poolChangeResult(params.Market, account, res.Assets, res.Shares))
}

func (s *Server) handleRefund(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params vaultSharesParams
	if !decodeParams(w, req, &params) {
		return
	}
	account, err := parseAddress(params.From, "from")
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	shares, err := parseAmount(params.Shares, "shares")
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	res, err := s.node.Refund(params.Market, account, shares)
	if err != nil {
		writeOperationError(w, req.ID, "refund", err)
		return
	}
	metrics.Engine().ObserveOperation("refund")
	writeResult(w, req.ID, poolChangeResult(params.Market, account, res.Assets, res.Shares))
}

// FixedDepositResult reports a fixed-term deposit: the principal, the
// yield locked in at trade time and the face value due at maturity.
type FixedDepositResult struct {
	Market   string `json:"market"`
	Account  string `json:"account"`
	Maturity uint64 `json:"maturity"`
	Assets   string `json:"assets"`
	Yield    string `json:"yield"`
	Credited string `json:"credited"`
}

type fixedDepositParams struct {
	Market    string `json:"market"`
	From      string `json:"from"`
	Maturity  uint64 `json:"maturity"`
	Assets    string `json:"assets"`
	MinAssets string `json:"minAssetsRequired,omitempty"`
}

func (s *Server) handleDepositAtMaturity(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params fixedDepositParams
	if !decodeParams(w, req, &params) {
		return
	}
	account, err := parseAddress(params.From, "from")
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	assets, err := parseAmount(params.Assets, "assets")
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	minAssets, err := parseOptionalAmount(params.MinAssets, "minAssetsRequired")
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	res, err := s.node.DepositAtMaturity(params.Market, account, params.Maturity, assets, minAssets)
	if err != nil {
		writeOperationError(w, req.ID, "fixed_deposit", err)
		return
	}
	metrics.Engine().ObserveOperation("fixed_deposit")
	writeResult(w, req.ID, FixedDepositResult{
		Market:   params.Market,
		Account:  account.Hex(),
		Maturity: res.Maturity,
		Assets:   bigString(res.Assets),
		Yield:    bigString(res.Yield),
		Credited: bigString(res.Credited),
	})
}

// FixedBorrowResult reports a fixed-term borrow: the assets drawn,
// the fee locked in and the total owed at maturity.
type FixedBorrowResult struct {
	Market   string `json:"market"`
	Account  string `json:"account"`
	Maturity uint64 `json:"maturity"`
	Assets   string `json:"assets"`
	Fee      string `json:"fee"`
	Owed     string `json:"owed"`
	Rate     string `json:"rate"`
}

type fixedBorrowParams struct {
	Market    string `json:"market"`
	From      string `json:"from"`
	Maturity  uint64 `json:"maturity"`
	Assets    string `json:"assets"`
	MaxAssets string `json:"maxAssets,omitempty"`
}

func (s *Server) handleBorrowAtMaturity(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params fixedBorrowParams
	if !decodeParams(w, req, &params) {
		return
	}
	account, err := parseAddress(params.From, "from")
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	assets, err := parseAmount(params.Assets, "assets")
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	maxAssets, err := parseOptionalAmount(params.MaxAssets, "maxAssets")
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	res, err := s.node.BorrowAtMaturity(params.Market, account, params.Maturity, assets, maxAssets)
	if err != nil {
		writeOperationError(w, req.ID, "fixed_borrow", err)
		return
	}
	metrics.Engine().ObserveOperation("fixed_borrow")
	writeResult(w, req.ID, fixedBorrowResultFrom(params.Market, account, res))
}

func fixedBorrowResultFrom(name string, account common.Address, res *market.FixedBorrowResult) FixedBorrowResult {
	return FixedBorrowResult{
		Market:   name,
		Account:  account.Hex(),
		Maturity: res.Maturity,
		Assets:   bigString(res.Assets),
		Fee:      bigString(res.Fee),
		Owed:     bigString(res.Owed),
		Rate:     bigString(res.Rate),
	}
}

// FixedWithdrawResult reports a fixed-term deposit exit: the position
// assets surrendered and what they bought, discounted when early.
type FixedWithdrawResult struct {
	Market         string `json:"market"`
	Account        string `json:"account"`
	Maturity       uint64 `json:"maturity"`
	PositionAssets string `json:"positionAssets"`
	Assets         string `json:"assets"`
}

type fixedWithdrawParams struct {
	Market         string `json:"market"`
	From           string `json:"from"`
	Maturity       uint64 `json:"maturity"`
	PositionAssets string `json:"positionAssets"`
	MinAssets      string `json:"minAssetsRequired,omitempty"`
}

func (s *Server) handleWithdrawAtMaturity(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params fixedWithdrawParams
	if !decodeParams(w, req, &params) {
		return
	}
	account, err := parseAddress(params.From, "from")
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	positionAssets, err := parseAmount(params.PositionAssets, "positionAssets")
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	minAssets, err := parseOptionalAmount(params.MinAssets, "minAssetsRequired")
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	res, err := s.node.WithdrawAtMaturity(params.Market, account, params.Maturity, positionAssets, minAssets)
	if err != nil {
		writeOperationError(w, req.ID, "fixed_withdraw", err)
		return
	}
	metrics.Engine().ObserveOperation("fixed_withdraw")
	writeResult(w, req.ID, FixedWithdrawResult{
		Market:         params.Market,
		Account:        account.Hex(),
		Maturity:       res.Maturity,
		PositionAssets: bigString(res.PositionAssets),
		Assets:         bigString(res.Assets),
	})
}

// FixedRepayResult reports a fixed-term repayment: the position
// assets covered and the cash that cost, with the early discount or
// the late penalty that moved the price off face value.
type FixedRepayResult struct {
	Market         string `json:"market"`
	Account        string `json:"account"`
	Maturity       uint64 `json:"maturity"`
	PositionAssets string `json:"positionAssets"`
	Assets         string `json:"assets"`
	Discount       string `json:"discount,omitempty"`
	Penalty        string `json:"penalty,omitempty"`
}

type fixedRepayParams struct {
	Market         string `json:"market"`
	From           string `json:"from"`
	Maturity       uint64 `json:"maturity"`
	PositionAssets string `json:"positionAssets"`
	MaxAssets      string `json:"maxAssets,omitempty"`
}

func (s *Server) handleRepayAtMaturity(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params fixedRepayParams
	if !decodeParams(w, req, &params) {
		return
	}
	account, err := parseAddress(params.From, "from")
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	positionAssets, err := parseAmount(params.PositionAssets, "positionAssets")
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	maxAssets, err := parseOptionalAmount(params.MaxAssets, "maxAssets")
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	res, err := s.node.RepayAtMaturity(params.Market, account, params.Maturity, positionAssets, maxAssets)
	if err != nil {
		writeOperationError(w, req.ID, "fixed_repay", err)
		return
	}
	metrics.Engine().ObserveOperation("fixed_repay")
	writeResult(w, req.ID, fixedRepayResultFrom(params.Market, account, res))
}

func fixedRepayResultFrom(name string, account common.Address, res *market.FixedRepayResult) FixedRepayResult {
	out := FixedRepayResult{
		Market:         name,
		Account:        account.Hex(),
		Maturity:       res.Maturity,
		PositionAssets: bigString(res.PositionAssets),
		Assets:         bigString(res.Assets),
	}
	if res.Discount != nil && res.Discount.Sign() > 0 {
		out.Discount = res.Discount.String()
	}
	if res.Penalty != nil && res.Penalty.Sign() > 0 {
		out.Penalty = res.Penalty.String()
	}
	return out
}

// RollResult pairs the repayment leg with the borrow leg of a debt
// rollover.
type RollResult struct {
	Market   string            `json:"market"`
	Account  string            `json:"account"`
	Repaid   FixedRepayResult  `json:"repaid"`
	Borrowed FixedBorrowResult `json:"borrowed"`
}

type rollParams struct {
	Market          string `json:"market"`
	From            string `json:"from"`
	FromMaturity    uint64 `json:"fromMaturity"`
	ToMaturity      uint64 `json:"toMaturity"`
	MaxRepayAssets  string `json:"maxRepayAssets,omitempty"`
	MaxBorrowAssets string `json:"maxBorrowAssets,omitempty"`
}

func (s *Server) handleRollAtMaturity(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params rollParams
	if !decodeParams(w, req, &params) {
		return
	}
	account, err := parseAddress(params.From, "from")
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	maxRepay, err := parseOptionalAmount(params.MaxRepayAssets, "maxRepayAssets")
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	maxBorrow, err := parseOptionalAmount(params.MaxBorrowAssets, "maxBorrowAssets")
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	res, err := s.node.RollAtMaturity(params.Market, account, params.FromMaturity, params.ToMaturity, maxRepay, maxBorrow)
	if err != nil {
		writeOperationError(w, req.ID, "roll", err)
		return
	}
	metrics.Engine().ObserveOperation("roll")
	writeResult(w, req.ID, RollResult{
		Market:   params.Market,
		Account:  account.Hex(),
		Repaid:   fixedRepayResultFrom(params.Market, account, res.Repaid),
		Borrowed: fixedBorrowResultFrom(params.Market, account, res.Borrowed),
	})
}

// LiquidateResult reports a liquidation: the debt repaid, what was
// seized in exchange and which legs of the borrower's book it
// touched.
type LiquidateResult struct {
	Market         string               `json:"market"`
	SeizeMarket    string               `json:"seizeMarket"`
	Liquidator     string               `json:"liquidator"`
	Borrower       string               `json:"borrower"`
	Repaid         string               `json:"repaid"`
	SeizedAssets   string               `json:"seizedAssets"`
	SeizedShares   string               `json:"seizedShares"`
	LendersAssets  string               `json:"lendersAssets"`
	FloatingRepaid string               `json:"floatingRepaid,omitempty"`
	FixedLegs      []LiquidateLegResult `json:"fixedLegs,omitempty"`
}

// LiquidateLegResult is one fixed maturity closed by the liquidation.
type LiquidateLegResult struct {
	Maturity uint64 `json:"maturity"`
	Assets   string `json:"assets"`
	Penalty  string `json:"penalty,omitempty"`
}

type liquidateParams struct {
	Market      string `json:"market"`
	SeizeMarket string `json:"seizeMarket"`
	Liquidator  string `json:"liquidator"`
	Borrower    string `json:"borrower"`
	MaxAssets   string `json:"maxAssets"`
}

func (s *Server) handleLiquidate(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params liquidateParams
	if !decodeParams(w, req, &params) {
		return
	}
	liquidator, err := parseAddress(params.Liquidator, "liquidator")
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	borrower, err := parseAddress(params.Borrower, "borrower")
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	maxAssets, err := parseAmount(params.MaxAssets, "maxAssets")
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	res, err := s.node.Liquidate(params.Market, params.SeizeMarket, liquidator, borrower, maxAssets)
	if err != nil {
		writeOperationError(w, req.ID, "liquidate", err)
		return
	}
	metrics.Engine().ObserveOperation("liquidate")
	result := LiquidateResult{
		Market:        params.Market,
		SeizeMarket:   res.SeizeMarket,
		Liquidator:    liquidator.Hex(),
		Borrower:      res.Borrower.Hex(),
		Repaid:        bigString(res.Repaid),
		SeizedAssets:  bigString(res.SeizedAssets),
		SeizedShares:  bigString(res.SeizedShares),
		LendersAssets: bigString(res.LendersAssets),
	}
	if res.FloatingLeg != nil {
		result.FloatingRepaid = bigString(res.FloatingLeg.Assets)
	}
	for _, leg := range res.FixedLegs {
		entry := LiquidateLegResult{Maturity: leg.Maturity, Assets: bigString(leg.Assets)}
		if leg.Penalty != nil && leg.Penalty.Sign() > 0 {
			entry.Penalty = leg.Penalty.String()
		}
		result.FixedLegs = append(result.FixedLegs, entry)
	}
	writeResult(w, req.ID, result)
}

// MembershipResult lists the markets counted as the account's
// collateral after the change.
type MembershipResult struct {
	Account string   `json:"account"`
	Markets []string `json:"markets"`
}

type membershipParams struct {
	Market  string `json:"market"`
	Account string `json:"account"`
}

func (s *Server) handleEnterMarket(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params membershipParams
	if !decodeParams(w, req, &params) {
		return
	}
	account, err := parseAddress(params.Account, "account")
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	if err := s.node.EnterMarket(account, params.Market); err != nil {
		writeOperationError(w, req.ID, "enter_market", err)
		return
	}
	metrics.Engine().ObserveOperation("enter_market")
	writeResult(w, req.ID, MembershipResult{Account: account.Hex(), Markets: s.node.Membership(account)})
}

func (s *Server) handleExitMarket(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params membershipParams
	if !decodeParams(w, req, &params) {
		return
	}
	account, err := parseAddress(params.Account, "account")
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	if err := s.node.ExitMarket(account, params.Market); err != nil {
		writeOperationError(w, req.ID, "exit_market", err)
		return
	}
	metrics.Engine().ObserveOperation("exit_market")
	writeResult(w, req.ID, MembershipResult{Account: account.Hex(), Markets: s.node.Membership(account)})
}

// PriceResult echoes the posted quote and the ledger clock it was
// stamped with.
type PriceResult struct {
	Market    string `json:"market"`
	Price     string `json:"price"`
	UpdatedAt uint64 `json:"updatedAt"`
}

type setPriceParams struct {
	Market string `json:"market"`
	Price  string `json:"price"`
}

func (s *Server) handleSetPrice(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params setPriceParams
	if !decodeParams(w, req, &params) {
		return
	}
	price, err := parseAmount(params.Price, "price")
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	if err := s.node.SetPrice(params.Market, price); err != nil {
		writeOperationError(w, req.ID, "set_price", err)
		return
	}
	metrics.Engine().ObserveOperation("set_price")
	writeResult(w, req.ID, PriceResult{
		Market:    params.Market,
		Price:     price.String(),
		UpdatedAt: s.node.Timestamp(),
	})
}

// PauseResult reports the module's switch position after the call.
type PauseResult struct {
	Module string `json:"module"`
	Paused bool   `json:"paused"`
}

type pauseParams struct {
	Module string `json:"module"`
}

func (s *Server) handlePause(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params pauseParams
	if !decodeParams(w, req, &params) {
		return
	}
	module := strings.TrimSpace(params.Module)
	if module == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "module required", nil)
		return
	}
	if err := s.node.Pause(module); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, PauseResult{Module: module, Paused: true})
}

func (s *Server) handleResume(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params pauseParams
	if !decodeParams(w, req, &params) {
		return
	}
	module := strings.TrimSpace(params.Module)
	if module == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "module required", nil)
		return
	}
	if err := s.node.Resume(module); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, PauseResult{Module: module, Paused: false})
}
