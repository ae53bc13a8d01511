// Package backend talks to the storefront HTTP API on behalf of the terminal.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"goflare.io/storefront/checkout"
	"goflare.io/storefront/inventory"
	"goflare.io/storefront/models"
	"goflare.io/storefront/quote"
)

var (
	_ inventory.Fetcher       = (*Client)(nil)
	_ quote.Converter         = (*Client)(nil)
	_ checkout.PaymentStarter = (*Client)(nil)
)

const defaultTimeout = 10 * time.Second

// StatusError is a non-2xx response; Message is the server's {error} text when present.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

func NewClient(baseURL string, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		logger:  logger,
	}
}

// EventsURL 是 SSE 推播端點
func (c *Client) EventsURL() string {
	return c.baseURL + "/events"
}

func (c *Client) FetchInventory(ctx context.Context, cacheBust string) (*models.InventorySnapshot, error) {
	endpoint := c.baseURL + "/inventory?cacheBust=" + url.QueryEscape(cacheBust)

	var snapshot models.InventorySnapshot
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// Convert 將本地總額換算為外幣；伺服器回傳 {error} 時視為失敗
func (c *Client) Convert(ctx context.Context, localTotal decimal.Decimal) (decimal.Decimal, error) {
	var resp models.ConvertResponse
	err := c.do(ctx, http.MethodPost, c.baseURL+"/convert-currency",
		models.ConvertRequest{LocalTotal: models.Amount(localTotal)}, &resp)
	if err != nil {
		return decimal.Zero, err
	}
	if resp.Error != "" {
		return decimal.Zero, errors.New(resp.Error)
	}
	if resp.ForeignTotal == nil {
		return decimal.Zero, errors.New("response has no foreignTotal")
	}
	return resp.ForeignTotal.Decimal(), nil
}

func (c *Client) StartPayment(ctx context.Context, req checkout.PaymentRequest) (string, error) {
	var resp models.PaymentStartResponse
	err := c.do(ctx, http.MethodPost, c.baseURL+"/payment/start", models.PaymentStartRequest{
		LocalTotal:  models.Amount(req.LocalTotal),
		LocationRef: req.LocationRef,
		Quantity:    req.Quantity,
	}, &resp)
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			return "", &models.PaymentSessionError{Message: statusErr.Message, Err: err}
		}
		return "", err
	}
	return resp.RedirectURL, nil
}

// Sell 是舊版的直接扣庫存端點，不經過付款
func (c *Client) Sell(ctx context.Context, ref models.LocationID, quantity int) (models.SellResponse, error) {
	var resp models.SellResponse
	err := c.do(ctx, http.MethodPost, c.baseURL+"/sell",
		models.SellRequest{LocationRef: ref, Quantity: quantity}, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s %s: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp models.ErrorResponse
		_ = json.Unmarshal(raw, &errResp)
		c.logger.Warn("backend returned error status",
			zap.String("path", req.URL.Path),
			zap.Int("status", resp.StatusCode),
			zap.String("message", errResp.Error))
		return &StatusError{StatusCode: resp.StatusCode, Message: errResp.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
