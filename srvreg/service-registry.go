package srvreg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/AnamikaSharma1509/supplychain-authentication-using-blockchain-system/ledger"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/google/uuid"
)

// UserIDHeader carries the caller identity for user-scoped endpoints
const UserIDHeader = "X-User-ID"

// MaxBodyBytes caps the size of a request body
const MaxBodyBytes = 1 << 20

// ErrBodyTooLarge is returned for request bodies over MaxBodyBytes
var ErrBodyTooLarge = errors.New("request body too large")

// Request represents the client's HTTP request
type Request struct {
	Method     string            `json:"method"`
	Path       string            `json:"path"`
	Headers    map[string]string `json:"headers"`
	Query      map[string]string `json:"query,omitempty"`
	Body       string            `json:"body"`
	RemoteAddr string            `json:"remote_addr"`
	RequestID  string            `json:"request_id"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Response represents the computed response from server
type Response struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
	Error      string            `json:"error,omitempty"`
}

// ServiceHandler is a function type for service handlers
type ServiceHandler func(ctx context.Context, req *Request) (*Response, error)

// RouteKey uniquely identifies a route
type RouteKey struct {
	Method string
	Path   string
}

// ServiceRegistry routes custody API requests to the coordinator and reconciler
type ServiceRegistry struct {
	handlers    map[RouteKey]ServiceHandler
	exactRoutes map[RouteKey]bool
	mu          sync.RWMutex
	coordinator *ledger.Coordinator
	reconciler  *ledger.Reconciler
	logger      cmtlog.Logger
}

var defaultHeaders = map[string]string{"Content-Type": "application/json"}

// NewServiceRegistry creates a new service registry
func NewServiceRegistry(coordinator *ledger.Coordinator, reconciler *ledger.Reconciler, logger cmtlog.Logger) *ServiceRegistry {
	return &ServiceRegistry{
		handlers:    make(map[RouteKey]ServiceHandler),
		exactRoutes: make(map[RouteKey]bool),
		coordinator: coordinator,
		reconciler:  reconciler,
		logger:      logger,
	}
}

// RegisterHandler registers a new service handler
func (sr *ServiceRegistry) RegisterHandler(method, path string, isExactPath bool, handler ServiceHandler) {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	key := RouteKey{Method: strings.ToUpper(method), Path: path}
	sr.handlers[key] = handler
	sr.exactRoutes[key] = isExactPath
}

// GetHandlerForPath finds the appropriate handler for a given path
func (sr *ServiceRegistry) GetHandlerForPath(method, path string) (ServiceHandler, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	// Try exact match first
	key := RouteKey{Method: strings.ToUpper(method), Path: path}
	if handler, ok := sr.handlers[key]; ok {
		if sr.exactRoutes[key] {
			return handler, true
		}
	}

	// Try pattern matching
	for routeKey, handler := range sr.handlers {
		if routeKey.Method != strings.ToUpper(method) {
			continue
		}

		if sr.exactRoutes[routeKey] {
			continue
		}

		if matchPath(routeKey.Path, path) {
			return handler, true
		}
	}

	return nil, false
}

// matchPath does simple pattern matching for routes
func matchPath(pattern, path string) bool {
	patternParts := strings.Split(pattern, "/")
	pathParts := strings.Split(path, "/")

	if len(patternParts) != len(pathParts) {
		return false
	}

	for i := range len(patternParts) {
		if strings.HasPrefix(patternParts[i], ":") {
			continue
		}
		if patternParts[i] != pathParts[i] {
			return false
		}
	}

	return true
}

// RegisterDefaultServices sets up the custody API routes
func (sr *ServiceRegistry) RegisterDefaultServices() {
	// Products
	sr.RegisterHandler("POST", "/api/blockchain/products", true, sr.AddProductHandler)
	sr.RegisterHandler("GET", "/api/blockchain/products", true, sr.GetAllProductsHandler)
	sr.RegisterHandler("GET", "/api/blockchain/products/:id", false, sr.GetProductHandler)
	sr.RegisterHandler("GET", "/api/blockchain/products/:id/history", false, sr.GetProductHistoryHandler)
	sr.RegisterHandler("POST", "/api/blockchain/products/:id/purchase", false, sr.PurchaseProductHandler)

	// Caller-scoped reads
	sr.RegisterHandler("GET", "/api/blockchain/my-products", true, sr.GetMyProductsHandler)
	sr.RegisterHandler("GET", "/api/blockchain/purchase-history", true, sr.PurchaseHistoryHandler)

	// Custody transfer
	sr.RegisterHandler("POST", "/api/blockchain/transfer", true, sr.TransferProductHandler)

	// QR code verification
	sr.RegisterHandler("GET", "/api/blockchain/verify/:qr_code", false, sr.VerifyQRCodeHandler)

	// Reconciliation
	sr.RegisterHandler("GET", "/api/blockchain/flags", true, sr.ListFlagsHandler)
	sr.RegisterHandler("POST", "/api/blockchain/flags/resolve", true, sr.ResolveFlagsHandler)

	// System
	sr.RegisterHandler("GET", "/status", true, sr.StatusHandler)

	sr.logger.Info("Registered custody services", "routes", len(sr.handlers))
}

// ConvertHttpRequest converts an http.Request to Request
func ConvertHttpRequest(r *http.Request) (*Request, error) {
	headers := make(map[string]string)
	for name, values := range r.Header {
		if len(values) > 0 {
			headers[name] = values[0]
		}
	}

	query := make(map[string]string)
	for name, values := range r.URL.Query() {
		if len(values) > 0 {
			query[name] = values[0]
		}
	}

	body := ""
	if r.Body != nil {
		bodyBytes, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
		if err != nil {
			return nil, err
		}
		if len(bodyBytes) > MaxBodyBytes {
			return nil, fmt.Errorf("%w: limit is %d bytes", ErrBodyTooLarge, MaxBodyBytes)
		}
		raw := strings.TrimSpace(string(bodyBytes))
		body = compactJSON(raw)
	}

	return &Request{
		Method:     r.Method,
		Path:       strings.TrimSuffix(r.URL.Path, "/"),
		Headers:    headers,
		Query:      query,
		Body:       body,
		RemoteAddr: r.RemoteAddr,
		RequestID:  uuid.NewString(),
		Timestamp:  time.Now(),
	}, nil
}

// GenerateResponse executes the request and generates a response
func (req *Request) GenerateResponse(ctx context.Context, services *ServiceRegistry) (*Response, error) {
	handler, found := services.GetHandlerForPath(req.Method, req.Path)
	if !found {
		return &Response{
			StatusCode: http.StatusNotFound,
			Headers:    defaultHeaders,
			Body:       fmt.Sprintf(`{"error":"Service not found for %s %s"}`, req.Method, req.Path),
		}, nil
	}

	return handler(ctx, req)
}

// Header returns a request header regardless of the casing it was sent with
func (req *Request) Header(name string) string {
	if v, ok := req.Headers[http.CanonicalHeaderKey(name)]; ok {
		return v
	}
	for k, v := range req.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// pathParam returns the path segment at index, counted from the leading slash
func (req *Request) pathParam(index int) string {
	parts := strings.Split(req.Path, "/")
	if index >= len(parts) {
		return ""
	}
	return parts[index]
}

// userID reads the caller identity header
func (req *Request) userID() (uint, bool) {
	return parseID(req.Header(UserIDHeader))
}

func parseID(s string) (uint, bool) {
	id, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// compactJSON removes whitespace from JSON
func compactJSON(body string) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(body)); err != nil {
		return strings.TrimSpace(body)
	}
	return buf.String()
}
