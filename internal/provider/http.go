package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const requestTimeout = 15 * time.Second

// HTTPClient talks to the provider's REST API with bearer authentication.
type HTTPClient struct {
	baseURL   string
	secretKey string
	http      *http.Client
	logger    *zap.Logger
}

// NewHTTPClient creates a provider client for the given API base URL
func NewHTTPClient(baseURL, secretKey string, logger *zap.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL:   baseURL,
		secretKey: secretKey,
		http:      &http.Client{Timeout: requestTimeout},
		logger:    logger.Named("provider"),
	}
}

// listResponse is the provider's transaction list envelope. Amounts arrive
// in minor units (kobo) and are converted to currency units here.
type listResponse struct {
	Status bool   `json:"status"`
	Msg    string `json:"message"`
	Data   []struct {
		ID        int64           `json:"id"`
		Reference string          `json:"reference"`
		Amount    decimal.Decimal `json:"amount"`
		Currency  string          `json:"currency"`
		Status    string          `json:"status"`
		PaidAt    time.Time       `json:"paid_at"`
		Customer  struct {
			Code string `json:"customer_code"`
		} `json:"customer"`
	} `json:"data"`
}

// ListSuccessfulTransactions fetches settled incoming transactions since the
// given time. The provider pages at 100 per request; one page per poll is
// enough because polls overlap.
func (c *HTTPClient) ListSuccessfulTransactions(ctx context.Context, since time.Time) ([]Transaction, error) {
	q := url.Values{}
	q.Set("status", "success")
	q.Set("from", since.UTC().Format(time.RFC3339))
	q.Set("perPage", "100")

	var resp listResponse
	if err := c.do(ctx, http.MethodGet, "/transaction?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Status {
		return nil, fmt.Errorf("provider rejected transaction list: %s", resp.Msg)
	}

	txs := make([]Transaction, 0, len(resp.Data))
	for _, d := range resp.Data {
		if d.Status != "success" {
			continue
		}
		txs = append(txs, Transaction{
			ID:          fmt.Sprintf("%d", d.ID),
			Reference:   d.Reference,
			CustomerRef: d.Customer.Code,
			Amount:      FromMinorUnits(d.Amount),
			Currency:    d.Currency,
			Status:      d.Status,
			PaidAt:      d.PaidAt,
		})
	}
	return txs, nil
}

// transferResponse is the provider's payout initiation envelope
type transferResponse struct {
	Status bool   `json:"status"`
	Msg    string `json:"message"`
	Data   struct {
		TransferCode string `json:"transfer_code"`
		Status       string `json:"status"`
	} `json:"data"`
}

// InitiateTransfer starts a payout. The idempotency key is sent as the
// transfer reference, so replays of the same settlement are collapsed
// provider-side.
func (c *HTTPClient) InitiateTransfer(ctx context.Context, req TransferRequest) (string, error) {
	body := map[string]any{
		"source":    "balance",
		"amount":    ToMinorUnits(req.Amount).IntPart(),
		"currency":  req.Currency,
		"recipient": req.RecipientID,
		"reference": req.IdempotencyKey,
		"reason":    req.Narration,
	}

	var resp transferResponse
	if err := c.do(ctx, http.MethodPost, "/transfer", body, &resp); err != nil {
		return "", err
	}
	if !resp.Status {
		return "", fmt.Errorf("provider rejected transfer: %s", resp.Msg)
	}

	c.logger.Info("Transfer initiated",
		zap.String("transfer_code", resp.Data.TransferCode),
		zap.String("reference", req.IdempotencyKey))

	return resp.Data.TransferCode, nil
}

// accountResponse is the provider's dedicated-account creation envelope
type accountResponse struct {
	Status bool   `json:"status"`
	Msg    string `json:"message"`
	Data   struct {
		AccountNumber string `json:"account_number"`
		Bank          struct {
			Name string `json:"name"`
		} `json:"bank"`
		Customer struct {
			Code string `json:"customer_code"`
		} `json:"customer"`
	} `json:"data"`
}

// CreateVirtualAccount asks the provider to issue a dedicated deposit
// account. The user's wallet address travels as provider metadata so
// support can trace accounts back to users.
func (c *HTTPClient) CreateVirtualAccount(ctx context.Context, req VirtualAccountRequest) (*VirtualAccountDetails, error) {
	body := map[string]any{
		"email":    req.Email,
		"currency": req.Currency,
		"metadata": map[string]string{"wallet_address": req.UserAddress},
	}

	var resp accountResponse
	if err := c.do(ctx, http.MethodPost, "/dedicated_account", body, &resp); err != nil {
		return nil, err
	}
	if !resp.Status {
		return nil, fmt.Errorf("provider rejected account creation: %s", resp.Msg)
	}

	return &VirtualAccountDetails{
		Reference: resp.Data.Customer.Code,
		AccountNo: resp.Data.AccountNumber,
		BankName:  resp.Data.Bank.Name,
	}, nil
}

// do issues one authenticated request and decodes the JSON response
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read provider response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("provider returned status %d: %s", resp.StatusCode, string(raw))
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode provider response: %w", err)
	}
	return nil
}
