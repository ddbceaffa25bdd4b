package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/AnamikaSharma1509/supplychain-authentication-using-blockchain-system/metrics"
	"github.com/AnamikaSharma1509/supplychain-authentication-using-blockchain-system/srvreg"
	cmtlog "github.com/cometbft/cometbft/libs/log"
)

// WebServer serves the custody API
type WebServer struct {
	httpAddr        string
	server          *http.Server
	serviceRegistry *srvreg.ServiceRegistry
	logger          cmtlog.Logger
	startTime       time.Time
	chainMode       string
}

// NewWebServer creates a new custody web server
func NewWebServer(httpPort string, serviceRegistry *srvreg.ServiceRegistry, chainMode string, logger cmtlog.Logger) *WebServer {
	mux := http.NewServeMux()

	ws := &WebServer{
		httpAddr: ":" + httpPort,
		server: &http.Server{
			Addr:              ":" + httpPort,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		serviceRegistry: serviceRegistry,
		logger:          logger,
		startTime:       time.Now(),
		chainMode:       chainMode,
	}

	// Register routes
	mux.HandleFunc("/", ws.handleRoot)
	mux.HandleFunc("/status", ws.handleAPI)
	mux.HandleFunc("/api/blockchain/", ws.handleAPI)
	mux.Handle("/metrics", metrics.Handler())

	return ws
}

// Handler exposes the router, mainly for tests
func (ws *WebServer) Handler() http.Handler {
	return ws.server.Handler
}

// Start starts the web server
func (ws *WebServer) Start() error {
	ws.logger.Info("Starting custody web server", "addr", ws.httpAddr, "chain_mode", ws.chainMode)
	go func() {
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			ws.logger.Error("Custody web server error", "err", err)
		}
	}()
	return nil
}

// Shutdown gracefully shuts down the web server
func (ws *WebServer) Shutdown(ctx context.Context) error {
	ws.logger.Info("Shutting down custody web server")
	return ws.server.Shutdown(ctx)
}

// handleRoot shows service information
func (ws *WebServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		jsonError(w, "Not found", http.StatusNotFound)
		return
	}
	if r.Method != http.MethodGet {
		jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	info := map[string]interface{}{
		"service":    "supply-chain custody coordinator",
		"chain_mode": ws.chainMode,
		"uptime":     time.Since(ws.startTime).Round(time.Second).String(),
		"endpoints": []string{
			"POST /api/blockchain/products",
			"GET  /api/blockchain/products",
			"GET  /api/blockchain/products/:id",
			"GET  /api/blockchain/products/:id/history",
			"POST /api/blockchain/products/:id/purchase",
			"GET  /api/blockchain/my-products",
			"GET  /api/blockchain/purchase-history",
			"POST /api/blockchain/transfer",
			"GET  /api/blockchain/verify/:qr_code",
			"GET  /api/blockchain/flags",
			"POST /api/blockchain/flags/resolve",
			"GET  /status",
			"GET  /metrics",
		},
	}

	w.Header().Set("Content-Type", "application/json")
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(info); err != nil {
		ws.logger.Error("Failed to encode root response", "err", err)
	}
}

// handleAPI routes every API request through the service registry
func (ws *WebServer) handleAPI(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer r.Body.Close()

	request, err := srvreg.ConvertHttpRequest(r)
	if err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, srvreg.ErrBodyTooLarge) {
			code = http.StatusRequestEntityTooLarge
		}
		jsonError(w, "Failed to read request: "+err.Error(), code)
		ws.logger.Error("Failed to convert HTTP request", "err", err)
		return
	}

	response, err := request.GenerateResponse(r.Context(), ws.serviceRegistry)
	if err != nil {
		jsonError(w, "Internal server error", http.StatusInternalServerError)
		ws.logger.Error("Failed to generate response", "request_id", request.RequestID, "err", err)
		return
	}

	w.Header().Set("X-Request-ID", request.RequestID)
	writeResponse(w, response)

	metrics.HTTPRequestDuration.
		WithLabelValues(request.Method, strconv.Itoa(response.StatusCode)).
		Observe(time.Since(start).Seconds())
	ws.logger.Info("API request processed",
		"request_id", request.RequestID,
		"method", request.Method,
		"path", request.Path,
		"status", response.StatusCode,
		"duration", time.Since(start).String(),
	)
}

// writeResponse writes a Response to http.ResponseWriter
func writeResponse(w http.ResponseWriter, resp *srvreg.Response) {
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	w.Write([]byte(resp.Body))
}

// jsonError writes a JSON error response
func jsonError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		http.Error(w, fmt.Sprintf("Internal server error: %v", err), http.StatusInternalServerError)
	}
}
