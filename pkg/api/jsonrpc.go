// Package api exposes the lending ledger over JSON-RPC 2.0 and streams
// committed ledger events over websocket.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/luxfi/log"
	"github.com/shopspring/decimal"

	"github.com/luxfi/lending/pkg/lending"
)

// Faucet mints wallet funds on demand. Development deployments back it
// with the in-memory vault so deposits have something to draw from.
type Faucet interface {
	Mint(account lending.CustodyAccount, asset lending.AssetID, amount decimal.Decimal)
}

// JSONRPCServer handles JSON-RPC 2.0 requests against a ledger.
type JSONRPCServer struct {
	ledger *lending.Ledger
	faucet Faucet
	logger log.Logger
}

// NewJSONRPCServer creates a new JSON-RPC server.
func NewJSONRPCServer(ledger *lending.Ledger, logger log.Logger) *JSONRPCServer {
	if logger == nil {
		logger = log.Root().New("module", "api")
	}
	return &JSONRPCServer{ledger: ledger, logger: logger}
}

// EnableFaucet exposes lending_mint backed by the given faucet. Without it
// the method does not exist.
func (s *JSONRPCServer) EnableFaucet(f Faucet) {
	s.faucet = f
}

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      interface{}     `json:"id"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// RPCError represents a JSON-RPC error.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC Error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC error codes, plus a ledger-rejection code.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603

	// LedgerError carries a rejected ledger operation; the message names
	// the rejection reason.
	LedgerError = -32050
)

// ServeHTTP implements http.Handler.
func (s *JSONRPCServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, nil, ParseError, "Parse error")
		return
	}

	if req.JSONRPC != "2.0" {
		s.sendError(w, req.ID, InvalidRequest, "Invalid Request")
		return
	}

	result, err := s.handleMethod(req.Method, req.Params)
	if err != nil {
		var rpcErr *RPCError
		if !errors.As(err, &rpcErr) {
			rpcErr = &RPCError{Code: InternalError, Message: err.Error()}
		}
		s.sendError(w, req.ID, rpcErr.Code, rpcErr.Message)
		return
	}

	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Result:  result,
		ID:      req.ID,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

type initBankParams struct {
	Asset  lending.AssetID    `json:"asset"`
	Config lending.BankConfig `json:"config"`
}

type userParams struct {
	User lending.UserID `json:"user"`
}

type operationParams struct {
	User   lending.UserID  `json:"user"`
	Asset  lending.AssetID `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
}

type liquidateParams struct {
	Liquidator      lending.UserID  `json:"liquidator"`
	Borrower        lending.UserID  `json:"borrower"`
	CollateralAsset lending.AssetID `json:"collateralAsset"`
	DebtAsset       lending.AssetID `json:"debtAsset"`
}

type bankParams struct {
	Asset lending.AssetID `json:"asset"`
}

type accountHealthResult struct {
	Collateral       decimal.Decimal `json:"collateral"`
	BorrowLimit      decimal.Decimal `json:"borrowLimit"`
	LiquidationBound decimal.Decimal `json:"liquidationBound"`
	Borrowed         decimal.Decimal `json:"borrowed"`
}

type okResult struct {
	OK bool `json:"ok"`
}

// handleMethod routes a request to the ledger.
func (s *JSONRPCServer) handleMethod(method string, params json.RawMessage) (interface{}, error) {
	switch method {
	case "lending_initBank":
		var p initBankParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, invalidParams()
		}
		bank, err := s.ledger.InitBank(p.Asset, p.Config)
		if err != nil {
			return nil, ledgerError(err)
		}
		return bank, nil

	case "lending_initUser":
		var p userParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, invalidParams()
		}
		pos, err := s.ledger.InitUser(p.User)
		if err != nil {
			return nil, ledgerError(err)
		}
		return pos, nil

	case "lending_deposit", "lending_withdraw", "lending_borrow", "lending_repay":
		var p operationParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, invalidParams()
		}
		var err error
		switch method {
		case "lending_deposit":
			err = s.ledger.Deposit(p.User, p.Asset, p.Amount)
		case "lending_withdraw":
			err = s.ledger.Withdraw(p.User, p.Asset, p.Amount)
		case "lending_borrow":
			err = s.ledger.Borrow(p.User, p.Asset, p.Amount)
		case "lending_repay":
			err = s.ledger.Repay(p.User, p.Asset, p.Amount)
		}
		if err != nil {
			return nil, ledgerError(err)
		}
		return okResult{OK: true}, nil

	case "lending_mint":
		if s.faucet == nil {
			return nil, &RPCError{Code: MethodNotFound, Message: "Method not found"}
		}
		var p operationParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, invalidParams()
		}
		if p.User == "" || p.Asset == "" || !p.Amount.IsPositive() {
			return nil, invalidParams()
		}
		s.faucet.Mint(lending.UserCustody(p.User, p.Asset), p.Asset, p.Amount)
		s.logger.Info("faucet mint", "user", p.User, "asset", p.Asset, "amount", p.Amount)
		return okResult{OK: true}, nil

	case "lending_liquidate":
		var p liquidateParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, invalidParams()
		}
		res, err := s.ledger.Liquidate(p.Liquidator, p.Borrower, p.CollateralAsset, p.DebtAsset)
		if err != nil {
			return nil, ledgerError(err)
		}
		return res, nil

	case "lending_getBank":
		var p bankParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, invalidParams()
		}
		bank, err := s.ledger.GetBank(p.Asset)
		if err != nil {
			return nil, ledgerError(err)
		}
		return bank, nil

	case "lending_getPosition":
		var p userParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, invalidParams()
		}
		pos, err := s.ledger.GetPosition(p.User)
		if err != nil {
			return nil, ledgerError(err)
		}
		return pos, nil

	case "lending_accountHealth":
		var p userParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, invalidParams()
		}
		collateral, limit, bound, borrowed, err := s.ledger.AccountHealth(p.User)
		if err != nil {
			return nil, ledgerError(err)
		}
		return accountHealthResult{
			Collateral:       collateral,
			BorrowLimit:      limit,
			LiquidationBound: bound,
			Borrowed:         borrowed,
		}, nil

	default:
		return nil, &RPCError{Code: MethodNotFound, Message: "Method not found"}
	}
}

func invalidParams() *RPCError {
	return &RPCError{Code: InvalidParams, Message: "Invalid params"}
}

// ledgerError wraps a ledger rejection for the wire, keeping the error kind
// visible to callers.
func ledgerError(err error) *RPCError {
	return &RPCError{Code: LedgerError, Message: err.Error()}
}

func (s *JSONRPCServer) sendError(w http.ResponseWriter, id interface{}, code int, message string) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Error:   &RPCError{Code: code, Message: message},
		ID:      id,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
