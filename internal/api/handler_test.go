package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ayo6706/stablecoin-gateway/internal/api"
	"github.com/ayo6706/stablecoin-gateway/internal/api/middleware"
	"github.com/ayo6706/stablecoin-gateway/internal/chain"
	"github.com/ayo6706/stablecoin-gateway/internal/config"
	"github.com/ayo6706/stablecoin-gateway/internal/domain"
	"github.com/ayo6706/stablecoin-gateway/internal/idempotency"
	"github.com/ayo6706/stablecoin-gateway/internal/keygen"
	"github.com/ayo6706/stablecoin-gateway/internal/lock"
	"github.com/ayo6706/stablecoin-gateway/internal/models"
	"github.com/ayo6706/stablecoin-gateway/internal/observability"
	"github.com/ayo6706/stablecoin-gateway/internal/operator"
	"github.com/ayo6706/stablecoin-gateway/internal/repository/memory"
	"github.com/ayo6706/stablecoin-gateway/internal/retry"
	"github.com/ayo6706/stablecoin-gateway/internal/service"
	"github.com/ayo6706/stablecoin-gateway/internal/settlement"
	"github.com/ayo6706/stablecoin-gateway/internal/sweep"
	"github.com/ayo6706/stablecoin-gateway/internal/txbuilder"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testJWTSecret   = "test-secret-0123456789-test-secret"
	testJWTIssuer   = "stablecoin-gateway-test"
	testJWTAudience = "gateway-api-test"
)

var (
	testChainID  = big.NewInt(56)
	testContract = common.HexToAddress("0x55d398326f99059fF775485246999027B3197955")
	testTreasury = common.HexToAddress("0x90F79bf6EB2c4f870365E785982E1f101E93b906")
	testPayee    = "0x15d34aaf54267db7d7c367839aaf71a00a2c6a65"
)

func TestMain(m *testing.M) {
	observability.Init()
	os.Exit(m.Run())
}

type testAPI struct {
	handler http.Handler
	backend *chain.MockBackend
	tasks   *service.TaskRegistry
	signer  keygen.Keypair
}

func units(s string) *big.Int {
	v, _ := new(big.Int).SetString(decimal.RequireFromString(s).Shift(domain.TokenDecimals).String(), 10)
	return v
}

func setupAPI(t *testing.T) *testAPI {
	t.Helper()

	signer, err := keygen.Generate()
	require.NoError(t, err)
	gasWallet, err := keygen.Generate()
	require.NoError(t, err)

	backend := chain.NewMockBackend(testChainID, testContract)
	backend.SetNative(common.HexToAddress(gasWallet.Address), units("1"))
	backend.SetNative(common.HexToAddress(signer.Address), units("1"))
	backend.SetToken(common.HexToAddress(signer.Address), units("1000"))
	client := chain.NewClient(backend, testContract)
	builder := txbuilder.New(testChainID, testContract)

	holder, err := operator.NewHolder(operator.Credentials{
		TreasuryAddress:     testTreasury.Hex(),
		GasWalletPrivateKey: gasWallet.Hex(),
		SignerPrivateKey:    signer.Hex(),
	})
	require.NoError(t, err)

	poll := retry.Policy{Attempts: 3, Interval: time.Millisecond}
	locker := lock.NewLocal()
	sweepCfg := sweep.DefaultConfig()
	sweepCfg.SettleDelay = 0
	sweepCfg.ReceiptPoll = poll
	settleCfg := settlement.DefaultConfig()
	settleCfg.ReceiptPoll = poll

	store := memory.NewStore()
	tasks := service.NewTaskRegistry()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tasks.Shutdown(ctx)
	})

	cfg := &config.Config{
		HTTPPort:           "0",
		JWTSecret:          testJWTSecret,
		JWTIssuer:          testJWTIssuer,
		JWTAudience:        testJWTAudience,
		PublicRateLimitRPS: 1000,
		AuthRateLimitRPS:   1000,
		IdempotencyTTL:     time.Hour,
	}
	idemStore := idempotency.NewStore(nil, store.Queries(), cfg.IdempotencyTTL).
		WithWait(retry.Policy{Attempts: 5, Interval: time.Millisecond})

	router := api.NewRouter(cfg, zap.NewNop(), store, idemStore, nil, api.Services{
		Deposits:    service.NewDepositService(store, sweep.NewEngine(client, builder, locker, sweepCfg), locker, holder, tasks, domain.DefaultTokenSymbol),
		Withdrawals: service.NewWithdrawalService(store, settlement.NewEngine(client, builder, locker, settleCfg), locker, holder, domain.DefaultTokenSymbol),
		Ledger:      service.NewLedgerService(store),
		Settings:    service.NewSettingsService(store, holder),
	})
	return &testAPI{handler: router.Routes(), backend: backend, tasks: tasks, signer: signer}
}

var testAuth = middleware.NewAuthenticator(testJWTSecret, testJWTIssuer, testJWTAudience)

func generateTestToken(subject string) string {
	return generateTokenWithRole(subject, domain.RoleUser)
}

func generateTokenWithRole(subject, role string) string {
	token, err := testAuth.Sign(subject, role, time.Hour)
	if err != nil {
		panic(err)
	}
	return token
}

type call struct {
	method         string
	path           string
	token          string
	body           interface{}
	idempotencyKey string
}

func (a *testAPI) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if c.body != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(c.body))
	}
	req := httptest.NewRequest(c.method, c.path, &body)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", c.idempotencyKey)
	}
	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealthAndMetrics(t *testing.T) {
	a := setupAPI(t)

	cases := []struct {
		name string
		path string
	}{
		{name: "live", path: "/health/live"},
		{name: "ready", path: "/health/ready"},
		{name: "metrics", path: "/metrics"},
		{name: "openapi", path: "/openapi.yaml"},
		{name: "swagger", path: "/swagger/index.html"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := a.do(t, call{method: http.MethodGet, path: tc.path})
			assert.Equal(t, http.StatusOK, w.Code)
		})
	}
}

func TestAuthRequired(t *testing.T) {
	a := setupAPI(t)
	user := uuid.NewString()

	cases := []struct {
		name   string
		call   call
		status int
	}{
		{name: "missing token", call: call{method: http.MethodPost, path: "/v1/deposit-address"}, status: http.StatusUnauthorized},
		{name: "bad token", call: call{method: http.MethodGet, path: "/v1/ledger", token: "nope"}, status: http.StatusUnauthorized},
		{name: "user on admin route", call: call{method: http.MethodGet, path: "/v1/admin/settings", token: generateTestToken(user)}, status: http.StatusForbidden},
		{name: "foreign owner", call: call{method: http.MethodPost, path: "/v1/deposit-address", token: generateTestToken(user), body: map[string]string{"owner_ref": "someone-else"}}, status: http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := a.do(t, tc.call)
			assert.Equal(t, tc.status, w.Code)
			assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
			body := decode[map[string]interface{}](t, w)
			assert.Equal(t, w.Header().Get("X-Trace-ID"), body["request_id"])
			assert.NotEmpty(t, body["request_id"])
		})
	}
}

func TestDepositAddressFlow(t *testing.T) {
	a := setupAPI(t)
	user := "merchant-42"
	token := generateTestToken(user)

	w := a.do(t, call{method: http.MethodGet, path: "/v1/deposit-address", token: token})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = a.do(t, call{method: http.MethodPost, path: "/v1/deposit-address", token: token})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), "private")
	created := decode[models.DepositAddress](t, w)
	assert.Equal(t, user, created.OwnerRef)
	assert.True(t, common.IsHexAddress(created.Address))

	w = a.do(t, call{method: http.MethodPost, path: "/v1/deposit-address", token: token})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = a.do(t, call{method: http.MethodGet, path: "/v1/deposit-address", token: token})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, created.Address, decode[models.DepositAddress](t, w).Address)
}

func TestDepositSweepFlow(t *testing.T) {
	a := setupAPI(t)
	user := uuid.NewString()
	token := generateTestToken(user)

	w := a.do(t, call{method: http.MethodPost, path: "/v1/deposits", token: token})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = a.do(t, call{method: http.MethodPost, path: "/v1/deposit-address", token: token})
	require.Equal(t, http.StatusCreated, w.Code)
	deposit := common.HexToAddress(decode[models.DepositAddress](t, w).Address)
	a.backend.SetToken(deposit, units("40.1234567"))

	w = a.do(t, call{method: http.MethodPost, path: "/v1/deposits", token: token})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	entry := decode[models.LedgerEntry](t, w)
	assert.Equal(t, domain.LedgerStatusPending, entry.Status)
	assert.Equal(t, domain.LedgerKindDeposit, entry.Kind)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.tasks.Wait(ctx, entry.ID))

	w = a.do(t, call{method: http.MethodGet, path: "/v1/ledger/" + entry.ID.String(), token: token})
	require.Equal(t, http.StatusOK, w.Code)
	done := decode[models.LedgerEntry](t, w)
	assert.Equal(t, domain.LedgerStatusCompleted, done.Status)
	assert.Equal(t, "40.123456", done.Amount.String())
	require.NotNil(t, done.TxHash)

	other := generateTestToken(uuid.NewString())
	w = a.do(t, call{method: http.MethodGet, path: "/v1/ledger/" + entry.ID.String(), token: other})
	assert.Equal(t, http.StatusNotFound, w.Code)

	admin := generateTokenWithRole(uuid.NewString(), domain.RoleAdmin)
	w = a.do(t, call{method: http.MethodGet, path: "/v1/ledger/" + entry.ID.String(), token: admin})
	assert.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, call{method: http.MethodGet, path: "/v1/admin/ledger/" + entry.ID.String() + "/history", token: admin})
	require.Equal(t, http.StatusOK, w.Code)
	history := decode[struct {
		Events []models.AuditLog `json:"events"`
	}](t, w)
	require.Len(t, history.Events, 2)
	assert.Equal(t, "sweep_completed", history.Events[1].Action)

	w = a.do(t, call{method: http.MethodGet, path: "/v1/ledger?limit=10", token: token})
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Entries []models.LedgerEntry `json:"entries"`
	}](t, w)
	require.Len(t, list.Entries, 1)
	assert.Equal(t, entry.ID, list.Entries[0].ID)
}

func TestCreateWithdrawalValidation(t *testing.T) {
	a := setupAPI(t)
	token := generateTestToken(uuid.NewString())

	cases := []struct {
		name   string
		key    string
		body   interface{}
		status int
	}{
		{name: "missing key", body: map[string]string{"amount": "1", "address": testPayee}, status: http.StatusBadRequest},
		{name: "too many decimals", key: "k1", body: map[string]string{"amount": "1.0000001", "address": testPayee}, status: http.StatusBadRequest},
		{name: "zero amount", key: "k2", body: map[string]string{"amount": "0", "address": testPayee}, status: http.StatusBadRequest},
		{name: "short address", key: "k3", body: map[string]string{"amount": "1", "address": "0x1234"}, status: http.StatusBadRequest},
		{name: "address without prefix", key: "k4", body: map[string]string{"amount": "1", "address": strings.TrimPrefix(testPayee, "0x")}, status: http.StatusBadRequest},
		{name: "unknown field", key: "k5", body: map[string]string{"amount": "1", "address": testPayee, "memo": "x"}, status: http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := a.do(t, call{method: http.MethodPost, path: "/v1/withdrawals", token: token, body: tc.body, idempotencyKey: tc.key})
			assert.Equal(t, tc.status, w.Code, w.Body.String())
		})
	}
}

func TestWithdrawalIdempotentReplay(t *testing.T) {
	a := setupAPI(t)
	token := generateTestToken(uuid.NewString())
	body := map[string]string{"amount": "5.5", "address": testPayee}

	first := a.do(t, call{method: http.MethodPost, path: "/v1/withdrawals", token: token, body: body, idempotencyKey: "withdraw-1"})
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())

	replay := a.do(t, call{method: http.MethodPost, path: "/v1/withdrawals", token: token, body: body, idempotencyKey: "withdraw-1"})
	require.Equal(t, http.StatusCreated, replay.Code)
	assert.Equal(t, "database", replay.Header().Get("X-Idempotent-Replay"))
	assert.JSONEq(t, first.Body.String(), replay.Body.String())

	conflict := a.do(t, call{method: http.MethodPost, path: "/v1/withdrawals", token: token, body: map[string]string{"amount": "6", "address": testPayee}, idempotencyKey: "withdraw-1"})
	assert.Equal(t, http.StatusConflict, conflict.Code)

	// The same key from another caller is a different request.
	other := generateTestToken(uuid.NewString())
	fresh := a.do(t, call{method: http.MethodPost, path: "/v1/withdrawals", token: other, body: body, idempotencyKey: "withdraw-1"})
	require.Equal(t, http.StatusCreated, fresh.Code)
	assert.NotEqual(t, decode[models.LedgerEntry](t, first).ID, decode[models.LedgerEntry](t, fresh).ID)
}

func TestSettleWithdrawal(t *testing.T) {
	a := setupAPI(t)
	token := generateTestToken(uuid.NewString())
	admin := generateTokenWithRole(uuid.NewString(), domain.RoleAdmin)

	w := a.do(t, call{method: http.MethodPost, path: "/v1/withdrawals", token: token, body: map[string]string{"amount": "12.5", "address": testPayee}, idempotencyKey: "settle-1"})
	require.Equal(t, http.StatusCreated, w.Code)
	entry := decode[models.LedgerEntry](t, w)
	settlePath := "/v1/admin/withdrawals/" + entry.ID.String() + "/settle"

	w = a.do(t, call{method: http.MethodPost, path: settlePath, token: token})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = a.do(t, call{method: http.MethodPost, path: settlePath, token: admin})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	settled := decode[struct {
		TxHash string `json:"tx_hash"`
		Status string `json:"status"`
	}](t, w)
	assert.Equal(t, domain.LedgerStatusCompleted, settled.Status)
	assert.NotEmpty(t, settled.TxHash)
	assert.Equal(t, 0, units("12.5").Cmp(a.backend.TokenOf(common.HexToAddress(testPayee))))

	w = a.do(t, call{method: http.MethodPost, path: settlePath, token: admin})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Len(t, a.backend.Sent(), 1)

	w = a.do(t, call{method: http.MethodPost, path: "/v1/admin/withdrawals/" + entry.ID.String() + "/cancel", token: admin})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = a.do(t, call{method: http.MethodPost, path: "/v1/admin/withdrawals/" + uuid.NewString() + "/settle", token: admin})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = a.do(t, call{method: http.MethodGet, path: "/v1/ledger/" + entry.ID.String(), token: token})
	require.Equal(t, http.StatusOK, w.Code)
	done := decode[models.LedgerEntry](t, w)
	require.NotNil(t, done.TxHash)
	assert.Equal(t, settled.TxHash, *done.TxHash)
}

func TestSettleWithdrawalUnderfundedSigner(t *testing.T) {
	a := setupAPI(t)
	a.backend.SetToken(common.HexToAddress(a.signer.Address), big.NewInt(0))
	token := generateTestToken(uuid.NewString())
	admin := generateTokenWithRole(uuid.NewString(), domain.RoleAdmin)

	w := a.do(t, call{method: http.MethodPost, path: "/v1/withdrawals", token: token, body: map[string]string{"amount": "3", "address": testPayee}, idempotencyKey: "poor-1"})
	require.Equal(t, http.StatusCreated, w.Code)
	entry := decode[models.LedgerEntry](t, w)

	w = a.do(t, call{method: http.MethodPost, path: "/v1/admin/withdrawals/" + entry.ID.String() + "/settle", token: admin})
	assert.Equal(t, http.StatusBadGateway, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), a.signer.Hex())

	w = a.do(t, call{method: http.MethodGet, path: "/v1/ledger/" + entry.ID.String(), token: token})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.LedgerStatusFailed, decode[models.LedgerEntry](t, w).Status)
}

func TestCancelWithdrawal(t *testing.T) {
	a := setupAPI(t)
	token := generateTestToken(uuid.NewString())
	admin := generateTokenWithRole(uuid.NewString(), domain.RoleAdmin)

	w := a.do(t, call{method: http.MethodPost, path: "/v1/withdrawals", token: token, body: map[string]string{"amount": "1", "address": testPayee}, idempotencyKey: "cancel-1"})
	require.Equal(t, http.StatusCreated, w.Code)
	entry := decode[models.LedgerEntry](t, w)

	w = a.do(t, call{method: http.MethodPost, path: "/v1/admin/withdrawals/" + entry.ID.String() + "/cancel", token: admin, body: map[string]string{"reason": "customer request"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	cancelled := decode[models.LedgerEntry](t, w)
	assert.Equal(t, domain.LedgerStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.Notes)
	assert.Equal(t, "customer request", *cancelled.Notes)

	w = a.do(t, call{method: http.MethodPost, path: "/v1/admin/withdrawals/" + entry.ID.String() + "/settle", token: admin})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Empty(t, a.backend.Sent())
}

func TestOperatorSettings(t *testing.T) {
	a := setupAPI(t)
	admin := generateTokenWithRole(uuid.NewString(), domain.RoleAdmin)

	w := a.do(t, call{method: http.MethodGet, path: "/v1/admin/settings", token: admin})
	require.Equal(t, http.StatusOK, w.Code)
	current := decode[operator.View](t, w)
	assert.Zero(t, current.Version)
	assert.True(t, current.SignerKeySet)
	assert.NotContains(t, w.Body.String(), a.signer.Hex())

	w = a.do(t, call{method: http.MethodPut, path: "/v1/admin/settings", token: admin, idempotencyKey: "settings-bad", body: map[string]string{
		"treasury_address": "0x1234",
	}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	next, err := keygen.Generate()
	require.NoError(t, err)
	w = a.do(t, call{method: http.MethodPut, path: "/v1/admin/settings", token: admin, idempotencyKey: "settings-1", body: map[string]string{
		"treasury_address":       testPayee,
		"gas_wallet_private_key": next.Hex(),
		"signer_private_key":     next.Hex(),
	}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), next.Hex())
	updated := decode[operator.View](t, w)
	assert.EqualValues(t, 1, updated.Version)
	assert.Equal(t, testPayee, updated.TreasuryAddress)
	assert.Equal(t, next.Address, updated.GasWalletAddress)
	assert.Equal(t, next.Address, updated.SignerAddress)
}
