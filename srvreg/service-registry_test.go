package srvreg

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AnamikaSharma1509/supplychain-authentication-using-blockchain-system/chain"
	"github.com/AnamikaSharma1509/supplychain-authentication-using-blockchain-system/ledger"
	"github.com/AnamikaSharma1509/supplychain-authentication-using-blockchain-system/repository"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRegistry(t *testing.T) *ServiceRegistry {
	t.Helper()
	logger := cmtlog.NewNopLogger()

	repo := repository.NewRepository(logger)
	require.NoError(t, repo.ConnectDB(repository.Options{Driver: repository.DriverSQLite, DSN: ":memory:", Seed: true}))
	t.Cleanup(func() { repo.Close() })

	adapter := chain.NewMockAdapter(logger)
	locker := ledger.NewKeyedMutex()
	coordinator := ledger.NewCoordinator(repo, adapter, locker, ledger.Config{CallTimeout: time.Second}, logger)
	reconciler := ledger.NewReconciler(repo, adapter, locker, 10, logger)

	sr := NewServiceRegistry(coordinator, reconciler, logger)
	sr.RegisterDefaultServices()
	return sr
}

func do(t *testing.T, sr *ServiceRegistry, method, path, body string, headers map[string]string) (*Response, map[string]interface{}) {
	t.Helper()
	httpReq := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}
	req, err := ConvertHttpRequest(httpReq)
	require.NoError(t, err)

	resp, err := req.GenerateResponse(context.Background(), sr)
	require.NoError(t, err)

	var decoded map[string]interface{}
	if strings.HasPrefix(resp.Body, "{") {
		require.NoError(t, json.Unmarshal([]byte(resp.Body), &decoded))
	}
	return resp, decoded
}

func TestMatchPath(t *testing.T) {
	assert.True(t, matchPath("/api/blockchain/products/:id", "/api/blockchain/products/7"))
	assert.True(t, matchPath("/api/blockchain/verify/:qr_code", "/api/blockchain/verify/abc"))
	assert.False(t, matchPath("/api/blockchain/products/:id", "/api/blockchain/products/7/history"))
	assert.False(t, matchPath("/api/blockchain/products/:id", "/api/blockchain/orders/7"))
}

func TestAddAndReadProduct(t *testing.T) {
	sr := setupRegistry(t)

	resp, created := do(t, sr, http.MethodPost, "/api/blockchain/products",
		`{"name":"Widget","description":"blue","manufacturer_id":1}`, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, resp.Body)
	assert.Equal(t, chain.MockTransactionHash, created["blockchain_tx_hash"])
	assert.Equal(t, "1", created["blockchain_id"])
	qr, _ := created["qr_code_hash"].(string)
	assert.Len(t, qr, 64)

	resp, _ = do(t, sr, http.MethodGet, "/api/blockchain/products", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listings []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &listings))
	require.Len(t, listings, 1)
	assert.Equal(t, true, listings[0]["is_on_blockchain"])

	resp, product := do(t, sr, http.MethodGet, "/api/blockchain/products/1", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Widget", product["name"])
	assert.NotNil(t, product["blockchain_data"])

	resp, verified := do(t, sr, http.MethodGet, "/api/blockchain/verify/"+qr, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, verified["verified"])
	assert.Equal(t, true, verified["blockchain_verified"])
}

func TestAddProductValidation(t *testing.T) {
	sr := setupRegistry(t)

	resp, body := do(t, sr, http.MethodPost, "/api/blockchain/products", `{"name":"","manufacturer_id":1}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, string(ledger.KindValidation), body["kind"])
	assert.Equal(t, string(ledger.OutcomeNotApplied), body["outcome"])

	resp, _ = do(t, sr, http.MethodPost, "/api/blockchain/products", `not json`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTransferAndHistory(t *testing.T) {
	sr := setupRegistry(t)
	resp, _ := do(t, sr, http.MethodPost, "/api/blockchain/products", `{"name":"Widget","manufacturer_id":1}`, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, event := do(t, sr, http.MethodPost, "/api/blockchain/transfer", `{"product_id":1,"from_id":1,"to_id":2}`, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, resp.Body)
	assert.Equal(t, chain.MockTransferHash, event["blockchain_tx_hash"])
	assert.EqualValues(t, 2, event["to_id"])

	resp, history := do(t, sr, http.MethodGet, "/api/blockchain/products/1/history", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events, _ := history["database_history"].([]interface{})
	assert.Len(t, events, 2)

	resp, body := do(t, sr, http.MethodPost, "/api/blockchain/transfer", `{"product_id":1,"from_id":1,"to_id":3}`, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, ledger.CodeNotCurrentOwner, body["code"])

	resp, body = do(t, sr, http.MethodPost, "/api/blockchain/transfer", `{"product_id":1,"from_id":2,"to_id":4}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, ledger.CodeInvalidRecipient, body["code"])

	resp, _ = do(t, sr, http.MethodPost, "/api/blockchain/transfer", `{"product_id":99,"from_id":1,"to_id":2}`, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = do(t, sr, http.MethodPost, "/api/blockchain/transfer", `{"product_id":1,"from_id":2,"to_id":3,"status":"manufactured"}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, ledger.CodeInvalidInput, body["code"])

	resp, flags := do(t, sr, http.MethodGet, "/api/blockchain/flags", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, flags["count"])
}

func TestConvertHttpRequestLimitsBody(t *testing.T) {
	httpReq := httptest.NewRequest(http.MethodPost, "/api/blockchain/products", strings.NewReader(strings.Repeat("a", MaxBodyBytes+1)))
	_, err := ConvertHttpRequest(httpReq)
	assert.ErrorIs(t, err, ErrBodyTooLarge)

	httpReq = httptest.NewRequest(http.MethodPost, "/api/blockchain/products", strings.NewReader(strings.Repeat("a", MaxBodyBytes)))
	req, err := ConvertHttpRequest(httpReq)
	require.NoError(t, err)
	assert.Len(t, req.Body, MaxBodyBytes)
}

func TestCallerScopedEndpoints(t *testing.T) {
	sr := setupRegistry(t)
	resp, _ := do(t, sr, http.MethodPost, "/api/blockchain/products", `{"name":"Widget","manufacturer_id":1}`, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = do(t, sr, http.MethodGet, "/api/blockchain/my-products", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := do(t, sr, http.MethodPost, "/api/blockchain/products/1/purchase", "", map[string]string{"x-user-id": "3"})
	require.Equal(t, http.StatusOK, resp.StatusCode, resp.Body)
	assert.Equal(t, chain.MockTransferHash, body["blockchain_tx_hash"])

	resp, _ = do(t, sr, http.MethodGet, "/api/blockchain/my-products", "", map[string]string{UserIDHeader: "3"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var mine []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &mine))
	assert.Len(t, mine, 1)

	resp, history := do(t, sr, http.MethodGet, "/api/blockchain/purchase-history", "", map[string]string{UserIDHeader: "3"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, history["has_purchases"])
}

func TestFlagsAndStatus(t *testing.T) {
	sr := setupRegistry(t)

	resp, flags := do(t, sr, http.MethodGet, "/api/blockchain/flags", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, flags["count"])

	resp, report := do(t, sr, http.MethodPost, "/api/blockchain/flags/resolve", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, report["examined"])

	resp, status := do(t, sr, http.MethodGet, "/status", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, chain.ModeMock, status["chain_mode"])
	assert.Equal(t, true, status["store_reachable"])
}

func TestUnknownRoute(t *testing.T) {
	sr := setupRegistry(t)
	resp, _ := do(t, sr, http.MethodDelete, "/api/blockchain/products/1", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStatusForError(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&ledger.Error{Kind: ledger.KindValidation, Code: ledger.CodeInvalidInput}, http.StatusBadRequest},
		{&ledger.Error{Kind: ledger.KindValidation, Code: ledger.CodeQRHashCollision}, http.StatusConflict},
		{&ledger.Error{Kind: ledger.KindValidation, Code: ledger.CodeProductPending}, http.StatusConflict},
		{&ledger.Error{Kind: ledger.KindNotFound, Code: ledger.CodeProductNotFound}, http.StatusNotFound},
		{&ledger.Error{Kind: ledger.KindNotFound, Code: ledger.CodeInvalidRecipient}, http.StatusBadRequest},
		{&ledger.Error{Kind: ledger.KindUnauthorizedTransfer}, http.StatusForbidden},
		{&ledger.Error{Kind: ledger.KindChainUnavailable}, http.StatusServiceUnavailable},
		{&ledger.Error{Kind: ledger.KindChainExecution}, http.StatusBadGateway},
		{&ledger.Error{Kind: ledger.KindConsistencyDivergence}, http.StatusConflict},
		{&ledger.Error{Kind: ledger.KindDependencyUnavailable}, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusForError(tc.err), tc.err.Error())
	}
}
