package main

import (
	"fmt"
	"time"
)

type ProductResponse struct {
	ID               uint   `json:"id"`
	QRCodeHash       string `json:"qr_code_hash"`
	CurrentOwnerID   uint   `json:"current_owner_id"`
	BlockchainTxHash string `json:"blockchain_tx_hash"`
}

type TransferResponse struct {
	ID               uint   `json:"id"`
	FromID           uint   `json:"from_id"`
	ToID             uint   `json:"to_id"`
	BlockchainTxHash string `json:"blockchain_tx_hash"`
}

type VerifyResponse struct {
	Verified bool `json:"verified"`
}

type HistoryResponse struct {
	DatabaseHistory []TransferResponse `json:"database_history"`
}

type StepResult struct {
	Step    string
	Latency time.Duration
}

// Seeded directory users; the workflow walks a product down the chain of custody
const (
	manufacturerID uint = 1
	distributorID  uint = 2
	retailerID     uint = 3
)

func createProduct(client *HTTPClient, name string) (*ProductResponse, error) {
	resp, err := client.POST("/api/blockchain/products", manufacturerID, map[string]interface{}{
		"name":            name,
		"description":     "benchmark item",
		"manufacturer_id": manufacturerID,
	})
	if err != nil {
		return nil, err
	}
	var product ProductResponse
	if err := UnmarshalBody(resp, &product); err != nil {
		return nil, err
	}
	return &product, nil
}

func transfer(client *HTTPClient, productID, fromID, toID uint) (*TransferResponse, error) {
	resp, err := client.POST("/api/blockchain/transfer", fromID, map[string]interface{}{
		"product_id": productID,
		"from_id":    fromID,
		"to_id":      toID,
	})
	if err != nil {
		return nil, err
	}
	var event TransferResponse
	if err := UnmarshalBody(resp, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

func getProduct(client *HTTPClient, productID uint) (*ProductResponse, error) {
	resp, err := client.GET(fmt.Sprintf("/api/blockchain/products/%d", productID), 0)
	if err != nil {
		return nil, err
	}
	var product ProductResponse
	if err := UnmarshalBody(resp, &product); err != nil {
		return nil, err
	}
	return &product, nil
}

func getHistory(client *HTTPClient, productID uint) (*HistoryResponse, error) {
	resp, err := client.GET(fmt.Sprintf("/api/blockchain/products/%d/history", productID), 0)
	if err != nil {
		return nil, err
	}
	var history HistoryResponse
	if err := UnmarshalBody(resp, &history); err != nil {
		return nil, err
	}
	return &history, nil
}

// runWorkflow creates a product, moves it manufacturer to distributor to
// retailer, then verifies the QR code. Each step is timed.
func runWorkflow(client *HTTPClient, name string) ([]StepResult, error) {
	var results []StepResult
	totalStart := time.Now()

	start := time.Now()
	product, err := createProduct(client, name)
	if err != nil {
		return results, fmt.Errorf("create product: %w", err)
	}
	results = append(results, StepResult{"Create Product", time.Since(start)})

	start = time.Now()
	if _, err := transfer(client, product.ID, manufacturerID, distributorID); err != nil {
		return results, fmt.Errorf("transfer to distributor: %w", err)
	}
	results = append(results, StepResult{"Transfer To Distributor", time.Since(start)})

	start = time.Now()
	if _, err := transfer(client, product.ID, distributorID, retailerID); err != nil {
		return results, fmt.Errorf("transfer to retailer: %w", err)
	}
	results = append(results, StepResult{"Transfer To Retailer", time.Since(start)})

	start = time.Now()
	resp, err := client.GET("/api/blockchain/verify/"+product.QRCodeHash, 0)
	if err != nil {
		return results, fmt.Errorf("verify: %w", err)
	}
	var verify VerifyResponse
	if err := UnmarshalBody(resp, &verify); err != nil {
		return results, fmt.Errorf("verify: %w", err)
	}
	if !verify.Verified {
		return results, fmt.Errorf("verify: product %d not verified", product.ID)
	}
	results = append(results, StepResult{"Verify QR Code", time.Since(start)})

	results = append(results, StepResult{"Complete Workflow", time.Since(totalStart)})
	return results, nil
}
