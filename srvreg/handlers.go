package srvreg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/AnamikaSharma1509/supplychain-authentication-using-blockchain-system/ledger"
	"github.com/AnamikaSharma1509/supplychain-authentication-using-blockchain-system/repository/models"
)

// AddProductHandler registers a new product on both ledgers
func (sr *ServiceRegistry) AddProductHandler(ctx context.Context, req *Request) (*Response, error) {
	var body struct {
		Name           string `json:"name"`
		Description    string `json:"description"`
		ManufacturerID uint   `json:"manufacturer_id"`
	}
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return badRequest(fmt.Sprintf("Invalid request body: %s", err.Error())), nil
	}
	if body.ManufacturerID == 0 {
		if id, ok := req.userID(); ok {
			body.ManufacturerID = id
		}
	}

	result, err := sr.coordinator.CreateProduct(ctx, ledger.CreateProductInput{
		Name:           body.Name,
		Description:    body.Description,
		ManufacturerID: body.ManufacturerID,
	})
	if err != nil {
		return sr.errorResponse(req, err), nil
	}

	product := productJSON(result.Product)
	product["blockchain_tx_hash"] = result.ChainTxHash
	product["blockchain_id"] = result.ChainProductID
	return jsonResponse(http.StatusCreated, product), nil
}

// GetAllProductsHandler lists products annotated with their chain presence
func (sr *ServiceRegistry) GetAllProductsHandler(ctx context.Context, req *Request) (*Response, error) {
	result, err := sr.reconciler.GetAllProducts(ctx)
	if err != nil {
		return sr.errorResponse(req, err), nil
	}
	return jsonResponse(http.StatusOK, listingsJSON(result)), nil
}

// GetMyProductsHandler lists products the caller manufactured or currently owns
func (sr *ServiceRegistry) GetMyProductsHandler(ctx context.Context, req *Request) (*Response, error) {
	userID, ok := req.userID()
	if !ok {
		return missingIdentity(), nil
	}
	result, err := sr.reconciler.MyProducts(ctx, userID)
	if err != nil {
		return sr.errorResponse(req, err), nil
	}
	return jsonResponse(http.StatusOK, listingsJSON(result)), nil
}

// GetProductHandler returns one product with its chain view
func (sr *ServiceRegistry) GetProductHandler(ctx context.Context, req *Request) (*Response, error) {
	productID, ok := parseID(req.pathParam(4))
	if !ok {
		return badRequest("Invalid product id"), nil
	}

	detail, err := sr.reconciler.GetProduct(ctx, productID)
	if err != nil {
		return sr.errorResponse(req, err), nil
	}

	product := productJSON(detail.Product)
	product["blockchain_data"] = detail.ChainData
	if detail.ChainError != "" {
		product["blockchain_error"] = detail.ChainError
	}
	return jsonResponse(http.StatusOK, product), nil
}

// GetProductHistoryHandler returns the relational and chain histories side by side
func (sr *ServiceRegistry) GetProductHistoryHandler(ctx context.Context, req *Request) (*Response, error) {
	productID, ok := parseID(req.pathParam(4))
	if !ok {
		return badRequest("Invalid product id"), nil
	}

	history, err := sr.reconciler.GetProductHistory(ctx, productID)
	if err != nil {
		return sr.errorResponse(req, err), nil
	}

	events := make([]map[string]interface{}, 0, len(history.Events))
	for i := range history.Events {
		events = append(events, eventJSON(&history.Events[i]))
	}
	response := map[string]interface{}{
		"product_id":           productID,
		"database_history":     events,
		"blockchain_history":   history.ChainHistory,
		"blockchain_available": history.ChainAvailable,
	}
	if history.ChainError != "" {
		response["blockchain_error"] = history.ChainError
	}
	return jsonResponse(http.StatusOK, response), nil
}

// PurchaseProductHandler transfers a product from its current owner to the caller
func (sr *ServiceRegistry) PurchaseProductHandler(ctx context.Context, req *Request) (*Response, error) {
	productID, ok := parseID(req.pathParam(4))
	if !ok {
		return badRequest("Invalid product id"), nil
	}
	buyerID, ok := req.userID()
	if !ok {
		return missingIdentity(), nil
	}

	result, err := sr.coordinator.PurchaseProduct(ctx, productID, buyerID)
	if err != nil {
		return sr.errorResponse(req, err), nil
	}

	return jsonResponse(http.StatusOK, map[string]interface{}{
		"message":            "Product purchased successfully",
		"blockchain_tx_hash": result.ChainTxHash,
		"event":              eventJSON(result.Event),
	}), nil
}

// PurchaseHistoryHandler lists every product transferred to the caller
func (sr *ServiceRegistry) PurchaseHistoryHandler(ctx context.Context, req *Request) (*Response, error) {
	userID, ok := req.userID()
	if !ok {
		return missingIdentity(), nil
	}

	records, err := sr.reconciler.PurchaseHistory(ctx, userID)
	if err != nil {
		return sr.errorResponse(req, err), nil
	}

	purchases := make([]map[string]interface{}, 0, len(records))
	for _, r := range records {
		purchases = append(purchases, map[string]interface{}{
			"event_id":           r.EventID,
			"product_id":         r.ProductID,
			"name":               r.Name,
			"description":        r.Description,
			"qr_code_hash":       r.QRCodeHash,
			"manufacturer_name":  r.ManufacturerName,
			"from_id":            r.FromID,
			"status":             r.Status,
			"purchase_date":      r.PurchaseDate,
			"blockchain_tx_hash": r.BlockchainTxHash,
		})
	}
	return jsonResponse(http.StatusOK, map[string]interface{}{
		"has_purchases": len(purchases) > 0,
		"purchases":     purchases,
	}), nil
}

// TransferProductHandler moves custody of a product between two users
func (sr *ServiceRegistry) TransferProductHandler(ctx context.Context, req *Request) (*Response, error) {
	var body struct {
		ProductID uint   `json:"product_id"`
		FromID    uint   `json:"from_id"`
		ToID      uint   `json:"to_id"`
		Status    string `json:"status"`
	}
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return badRequest(fmt.Sprintf("Invalid request body: %s", err.Error())), nil
	}

	result, err := sr.coordinator.TransferOwnership(ctx, ledger.TransferInput{
		ProductID: body.ProductID,
		FromID:    body.FromID,
		ToID:      body.ToID,
		Status:    body.Status,
	})
	if err != nil {
		return sr.errorResponse(req, err), nil
	}

	event := eventJSON(result.Event)
	event["blockchain_tx_hash"] = result.ChainTxHash
	return jsonResponse(http.StatusCreated, event), nil
}

// VerifyQRCodeHandler checks a scanned QR code against both ledgers
func (sr *ServiceRegistry) VerifyQRCodeHandler(ctx context.Context, req *Request) (*Response, error) {
	qrCodeHash := req.pathParam(4)

	result, err := sr.reconciler.VerifyQRCode(ctx, qrCodeHash)
	if err != nil {
		return sr.errorResponse(req, err), nil
	}

	response := productJSON(result.Product)
	response["qr_code_hash"] = result.QRCodeHash
	response["blockchain_verified"] = result.ExistsOnChain
	response["verified"] = result.Verified
	return jsonResponse(http.StatusOK, response), nil
}

// ListFlagsHandler lists reconciliation flags, open ones unless ?status= says otherwise
func (sr *ServiceRegistry) ListFlagsHandler(ctx context.Context, req *Request) (*Response, error) {
	status := req.Query["status"]
	if status == "" {
		status = models.FlagOpen
	}

	flags, err := sr.reconciler.ListFlags(ctx, status)
	if err != nil {
		return sr.errorResponse(req, err), nil
	}

	out := make([]map[string]interface{}, 0, len(flags))
	for i := range flags {
		out = append(out, flagJSON(&flags[i]))
	}
	return jsonResponse(http.StatusOK, map[string]interface{}{
		"status": status,
		"count":  len(out),
		"flags":  out,
	}), nil
}

// ResolveFlagsHandler runs one reconciliation pass over open flags
func (sr *ServiceRegistry) ResolveFlagsHandler(ctx context.Context, req *Request) (*Response, error) {
	report, err := sr.reconciler.ResolveFlags(ctx)
	if err != nil {
		return sr.errorResponse(req, err), nil
	}

	failures := report.Failures
	if failures == nil {
		failures = []string{}
	}
	return jsonResponse(http.StatusOK, map[string]interface{}{
		"examined": report.Examined,
		"resolved": report.Resolved,
		"open":     report.Open,
		"failures": failures,
	}), nil
}

// StatusHandler reports reachability of both ledgers
func (sr *ServiceRegistry) StatusHandler(ctx context.Context, req *Request) (*Response, error) {
	report := sr.reconciler.Status(ctx)

	status := "active"
	statusCode := http.StatusOK
	if !report.StoreReachable || !report.ChainReachable {
		status = "degraded"
	}
	if !report.StoreReachable {
		statusCode = http.StatusServiceUnavailable
	}

	return jsonResponse(statusCode, map[string]interface{}{
		"status":          status,
		"chain_mode":      report.ChainMode,
		"chain_reachable": report.ChainReachable,
		"store_reachable": report.StoreReachable,
		"open_flags":      report.OpenFlags,
	}), nil
}

// statusForError maps a coordinator failure onto an HTTP status
func statusForError(err error) int {
	var ledgerErr *ledger.Error
	if !errors.As(err, &ledgerErr) {
		return http.StatusInternalServerError
	}

	switch ledgerErr.Kind {
	case ledger.KindValidation:
		if ledgerErr.Code == ledger.CodeQRHashCollision || ledgerErr.Code == ledger.CodeProductPending {
			return http.StatusConflict
		}
		return http.StatusBadRequest
	case ledger.KindNotFound:
		if ledgerErr.Code == ledger.CodeInvalidRecipient {
			return http.StatusBadRequest
		}
		return http.StatusNotFound
	case ledger.KindUnauthorizedTransfer:
		return http.StatusForbidden
	case ledger.KindChainUnavailable:
		return http.StatusServiceUnavailable
	case ledger.KindChainExecution:
		return http.StatusBadGateway
	case ledger.KindConsistencyDivergence:
		return http.StatusConflict
	case ledger.KindDependencyUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (sr *ServiceRegistry) errorResponse(req *Request, err error) *Response {
	statusCode := statusForError(err)
	body := map[string]interface{}{"error": err.Error()}

	var ledgerErr *ledger.Error
	if errors.As(err, &ledgerErr) {
		body["error"] = ledgerErr.Message
		body["kind"] = ledgerErr.Kind
		body["code"] = ledgerErr.Code
		body["outcome"] = ledgerErr.Outcome
	}

	if statusCode >= http.StatusInternalServerError {
		sr.logger.Error("Request failed", "request_id", req.RequestID, "path", req.Path, "status", statusCode, "err", err)
	} else {
		sr.logger.Debug("Request rejected", "request_id", req.RequestID, "path", req.Path, "status", statusCode, "err", err)
	}
	return jsonResponse(statusCode, body)
}

func jsonResponse(statusCode int, v interface{}) *Response {
	body, err := json.Marshal(v)
	if err != nil {
		return &Response{
			StatusCode: http.StatusInternalServerError,
			Headers:    defaultHeaders,
			Body:       `{"error":"Failed to serialize response"}`,
		}
	}
	return &Response{
		StatusCode: statusCode,
		Headers:    defaultHeaders,
		Body:       string(body),
	}
}

func badRequest(message string) *Response {
	return jsonResponse(http.StatusBadRequest, map[string]string{"error": message})
}

func missingIdentity() *Response {
	return jsonResponse(http.StatusUnauthorized, map[string]string{"error": UserIDHeader + " header is required"})
}

func listingsJSON(result *ledger.ListResult) []map[string]interface{} {
	products := make([]map[string]interface{}, 0, len(result.Products))
	for i := range result.Products {
		listing := &result.Products[i]
		product := productJSON(&listing.Product)
		product["blockchain_data"] = listing.ChainData
		product["is_on_blockchain"] = listing.IsOnBlockchain
		products = append(products, product)
	}
	return products
}

func productJSON(p *models.Product) map[string]interface{} {
	if p == nil {
		return map[string]interface{}{}
	}
	product := map[string]interface{}{
		"id":                 p.ID,
		"name":               p.Name,
		"description":        p.Description,
		"manufacturer_id":    p.ManufacturerID,
		"qr_code_hash":       p.QRCodeHash,
		"blockchain_id":      p.BlockchainID,
		"blockchain_tx_hash": p.BlockchainTxHash,
		"current_owner_id":   p.CurrentOwnerID,
		"created_at":         p.CreatedAt,
	}
	if p.Manufacturer != nil {
		product["manufacturer_name"] = p.Manufacturer.Username
	}
	return product
}

func eventJSON(e *models.OwnershipEvent) map[string]interface{} {
	if e == nil {
		return map[string]interface{}{}
	}
	return map[string]interface{}{
		"id":                 e.ID,
		"product_id":         e.ProductID,
		"from_id":            e.FromID,
		"to_id":              e.ToID,
		"status":             e.Status,
		"timestamp":          e.Timestamp,
		"blockchain_tx_hash": e.BlockchainTxHash,
	}
}

func flagJSON(f *models.ReconciliationFlag) map[string]interface{} {
	return map[string]interface{}{
		"id":           f.ID,
		"kind":         f.Kind,
		"product_id":   f.ProductID,
		"qr_code_hash": f.QRCodeHash,
		"from_id":      f.FromID,
		"to_id":        f.ToID,
		"from_address": f.FromAddress,
		"to_address":   f.ToAddress,
		"tx_hash":      f.TxHash,
		"status":       f.Status,
		"detail":       f.Detail,
		"resolution":   f.Resolution,
		"attempts":     f.Attempts,
		"last_error":   f.LastError,
		"created_at":   f.CreatedAt,
		"attempted_at": f.AttemptedAt,
		"resolved_at":  f.ResolvedAt,
	}
}
