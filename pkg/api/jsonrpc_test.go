package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/luxfi/log"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/lending/pkg/lending"
)

func newTestServer(t *testing.T) (*JSONRPCServer, *lending.StaticOracle, *lending.MemoryVault) {
	t.Helper()

	oracle := lending.NewStaticOracle()
	vault := lending.NewMemoryVault()
	level, _ := log.ToLevel("error")
	logger := log.NewTestLogger(level)
	ledger := lending.NewLedger(lending.LedgerConfig{
		Oracle: oracle,
		Vault:  vault,
		Logger: logger,
	})
	return NewJSONRPCServer(ledger, logger), oracle, vault
}

func call(t *testing.T, s *JSONRPCServer, method string, params interface{}) JSONRPCResponse {
	t.Helper()

	raw, err := json.Marshal(params)
	require.NoError(t, err)
	body, err := json.Marshal(JSONRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  raw,
		ID:      1,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	var resp JSONRPCResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func testConfig() lending.BankConfig {
	return lending.BankConfig{
		MaxLTV:                 decimal.RequireFromString("0.8"),
		LiquidationThreshold:   decimal.RequireFromString("0.85"),
		LiquidationBonus:       decimal.RequireFromString("0.05"),
		LiquidationCloseFactor: decimal.RequireFromString("0.5"),
		InterestRate:           decimal.RequireFromString("0.05"),
	}
}

func TestJSONRPCFlow(t *testing.T) {
	server, oracle, vault := newTestServer(t)
	oracle.SetPrice("USDC", decimal.NewFromInt(1))

	resp := call(t, server, "lending_initBank", initBankParams{Asset: "USDC", Config: testConfig()})
	require.Nil(t, resp.Error)

	resp = call(t, server, "lending_initUser", userParams{User: "alice"})
	require.Nil(t, resp.Error)

	vault.Mint(lending.UserCustody("alice", "USDC"), "USDC", decimal.NewFromInt(1000))
	resp = call(t, server, "lending_deposit", operationParams{
		User: "alice", Asset: "USDC", Amount: decimal.NewFromInt(1000),
	})
	require.Nil(t, resp.Error)

	resp = call(t, server, "lending_getBank", bankParams{Asset: "USDC"})
	require.Nil(t, resp.Error)
	bank, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var got lending.Bank
	require.NoError(t, json.Unmarshal(bank, &got))
	assert.True(t, got.TotalDepositValue.Equal(decimal.NewFromInt(1000)))

	resp = call(t, server, "lending_accountHealth", userParams{User: "alice"})
	require.Nil(t, resp.Error)
}

func TestFaucet(t *testing.T) {
	server, oracle, vault := newTestServer(t)
	oracle.SetPrice("USDC", decimal.NewFromInt(1))

	resp := call(t, server, "lending_initBank", initBankParams{Asset: "USDC", Config: testConfig()})
	require.Nil(t, resp.Error)
	resp = call(t, server, "lending_initUser", userParams{User: "alice"})
	require.Nil(t, resp.Error)

	t.Run("hidden until enabled", func(t *testing.T) {
		resp := call(t, server, "lending_mint", operationParams{
			User: "alice", Asset: "USDC", Amount: decimal.NewFromInt(500),
		})
		require.NotNil(t, resp.Error)
		assert.Equal(t, MethodNotFound, resp.Error.Code)
	})

	server.EnableFaucet(vault)

	t.Run("mint funds a deposit end to end", func(t *testing.T) {
		resp := call(t, server, "lending_mint", operationParams{
			User: "alice", Asset: "USDC", Amount: decimal.NewFromInt(500),
		})
		require.Nil(t, resp.Error)
		assert.True(t, vault.Balance(lending.UserCustody("alice", "USDC"), "USDC").Equal(decimal.NewFromInt(500)))

		resp = call(t, server, "lending_deposit", operationParams{
			User: "alice", Asset: "USDC", Amount: decimal.NewFromInt(500),
		})
		require.Nil(t, resp.Error)
	})

	t.Run("rejects a non-positive amount", func(t *testing.T) {
		resp := call(t, server, "lending_mint", operationParams{
			User: "alice", Asset: "USDC", Amount: decimal.Zero,
		})
		require.NotNil(t, resp.Error)
		assert.Equal(t, InvalidParams, resp.Error.Code)
	})
}

func TestJSONRPCLedgerErrors(t *testing.T) {
	server, oracle, _ := newTestServer(t)
	oracle.SetPrice("USDC", decimal.NewFromInt(1))

	resp := call(t, server, "lending_initBank", initBankParams{Asset: "USDC", Config: testConfig()})
	require.Nil(t, resp.Error)

	t.Run("duplicate bank is a ledger error", func(t *testing.T) {
		resp := call(t, server, "lending_initBank", initBankParams{Asset: "USDC", Config: testConfig()})
		require.NotNil(t, resp.Error)
		assert.Equal(t, LedgerError, resp.Error.Code)
		assert.Contains(t, resp.Error.Message, "already exists")
	})

	t.Run("unknown method", func(t *testing.T) {
		resp := call(t, server, "lending_unknown", struct{}{})
		require.NotNil(t, resp.Error)
		assert.Equal(t, MethodNotFound, resp.Error.Code)
	})

	t.Run("bad jsonrpc version", func(t *testing.T) {
		body := []byte(`{"jsonrpc":"1.0","method":"lending_getBank","id":1}`)
		req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		server.ServeHTTP(rec, req)

		var resp JSONRPCResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		require.NotNil(t, resp.Error)
		assert.Equal(t, InvalidRequest, resp.Error.Code)
	})

	t.Run("get only requires POST", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/rpc", nil)
		rec := httptest.NewRecorder()
		server.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}
