package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Invoice is the gateway's answer to an invoice creation request. PayURL is
// the page the buyer is sent to.
type Invoice struct {
	InvoiceID string
	PayURL    string
}

// InvoiceClient creates payment invoices at the gateway.
type InvoiceClient interface {
	CreateInvoice(ctx context.Context, orderID string, amount decimal.Decimal, currency string) (*Invoice, error)
}

var ErrGatewayUnavailable = errors.New("gateway_unavailable")

type gatewayClient struct {
	baseURL string
	shopID  string
	apiKey  string
	client  *http.Client
}

func newGatewayClient(baseURL, shopID, apiKey string) *gatewayClient {
	return &gatewayClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		shopID:  strings.TrimSpace(shopID),
		apiKey:  strings.TrimSpace(apiKey),
		client:  &http.Client{Timeout: 12 * time.Second},
	}
}

type createInvoiceRequest struct {
	ShopID   string `json:"shop_id"`
	OrderID  string `json:"order_id"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type createInvoiceResponse struct {
	Status string `json:"status"`
	Result struct {
		UUID string `json:"uuid"`
		Link string `json:"link"`
	} `json:"result"`
}

func (c *gatewayClient) CreateInvoice(ctx context.Context, orderID string, amount decimal.Decimal, currency string) (*Invoice, error) {
	if c.apiKey == "" || c.shopID == "" {
		return nil, ErrGatewayUnavailable
	}

	body, err := json.Marshal(createInvoiceRequest{
		ShopID:   c.shopID,
		OrderID:  orderID,
		Amount:   amount.String(),
		Currency: currency,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/invoice/create", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, ErrGatewayUnavailable
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, ErrGatewayUnavailable
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, ErrGatewayUnavailable
	}

	var parsed createInvoiceResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, ErrGatewayUnavailable
	}
	if parsed.Result.UUID == "" {
		return nil, ErrGatewayUnavailable
	}

	return &Invoice{
		InvoiceID: parsed.Result.UUID,
		PayURL:    parsed.Result.Link,
	}, nil
}
