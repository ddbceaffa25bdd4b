package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AnamikaSharma1509/supplychain-authentication-using-blockchain-system/chain"
	"github.com/AnamikaSharma1509/supplychain-authentication-using-blockchain-system/ledger"
	"github.com/AnamikaSharma1509/supplychain-authentication-using-blockchain-system/repository"
	"github.com/AnamikaSharma1509/supplychain-authentication-using-blockchain-system/srvreg"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := cmtlog.NewNopLogger()

	repo := repository.NewRepository(logger)
	require.NoError(t, repo.ConnectDB(repository.Options{Driver: repository.DriverSQLite, DSN: ":memory:", Seed: true}))
	t.Cleanup(func() { repo.Close() })

	adapter := chain.NewMockAdapter(logger)
	locker := ledger.NewKeyedMutex()
	coordinator := ledger.NewCoordinator(repo, adapter, locker, ledger.Config{CallTimeout: time.Second}, logger)
	reconciler := ledger.NewReconciler(repo, adapter, locker, 10, logger)

	registry := srvreg.NewServiceRegistry(coordinator, reconciler, logger)
	registry.RegisterDefaultServices()

	ws := NewWebServer("0", registry, adapter.Mode(), logger)
	ts := httptest.NewServer(ws.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestCreateProductOverHTTP(t *testing.T) {
	ts := setupServer(t)

	resp, err := http.Post(ts.URL+"/api/blockchain/products", "application/json",
		strings.NewReader(`{"name":"Widget","description":"blue","manufacturer_id":1}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Widget", body["name"])
	assert.Equal(t, chain.MockTransactionHash, body["blockchain_tx_hash"])
}

func TestStatusAndMetrics(t *testing.T) {
	ts := setupServer(t)

	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "custody_http_request_seconds")
}

func TestRootAndUnknownPaths(t *testing.T) {
	ts := setupServer(t)

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/blockchain/unknown")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestOversizedBodyIsRejected(t *testing.T) {
	ts := setupServer(t)

	huge := `{"name":"Widget","manufacturer_id":1,"description":"` + strings.Repeat("x", srvreg.MaxBodyBytes) + `"}`
	resp, err := http.Post(ts.URL+"/api/blockchain/products", "application/json", strings.NewReader(huge))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/blockchain/products")
	require.NoError(t, err)
	defer resp.Body.Close()
	var listings []map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listings))
	assert.Empty(t, listings)
}
