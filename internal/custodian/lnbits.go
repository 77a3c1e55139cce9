package custodian

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/relayhq/relay-provisioner/internal/config"
	"github.com/relayhq/relay-provisioner/pkg/utils"
)

// LNBitsClient implements Custodian against an LNbits wallet API
type LNBitsClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewLNBitsClient creates a custodian client from payments configuration
func NewLNBitsClient(cfg *config.PaymentsConfig) *LNBitsClient {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &LNBitsClient{
		baseURL: strings.TrimRight(cfg.LNBitsURL, "/"),
		apiKey:  cfg.LNBitsKey,
		logger:  utils.GetLogger(),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

// CreateInvoice creates an incoming invoice on the custodian wallet
func (c *LNBitsClient) CreateInvoice(ctx context.Context, amountSats int64, memo string) (*Invoice, error) {
	body, err := json.Marshal(map[string]interface{}{
		"out":    false,
		"amount": amountSats,
		"memo":   memo,
	})
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeCustodian, "Failed to encode invoice request", err.Error())
	}

	var invoice Invoice
	if err := c.do(ctx, http.MethodPost, "/api/v1/payments", bytes.NewReader(body), &invoice); err != nil {
		return nil, err
	}

	if invoice.PaymentReference == "" {
		return nil, utils.NewAppError(utils.ErrCodeCustodian, "Custodian returned invoice without payment hash", "")
	}

	return &invoice, nil
}

// CheckInvoice queries settlement status by payment reference
func (c *LNBitsClient) CheckInvoice(ctx context.Context, paymentReference string) (*InvoiceStatus, error) {
	if paymentReference == "" {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Payment reference is required", "")
	}

	var status InvoiceStatus
	path := "/api/v1/payments/" + paymentReference
	if err := c.do(ctx, http.MethodGet, path, nil, &status); err != nil {
		return nil, err
	}

	return &status, nil
}

// do performs one custodian API call and decodes the JSON response
func (c *LNBitsClient) do(ctx context.Context, method, path string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeCustodian, "Failed to build custodian request", err.Error())
	}

	req.Header.Set("X-Api-Key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeCustodian, "Custodian request failed", err.Error())
	}
	defer resp.Body.Close()

	c.logger.WithFields(logrus.Fields{
		"method":   method,
		"path":     path,
		"status":   resp.StatusCode,
		"duration": time.Since(start),
	}).Debug("Custodian API call")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return utils.NewAppError(utils.ErrCodeCustodian,
			fmt.Sprintf("Custodian returned status %d", resp.StatusCode),
			string(payload))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return utils.NewAppError(utils.ErrCodeCustodian, "Failed to decode custodian response", err.Error())
	}

	return nil
}
