// Package papertrade is a Go client for the paper-trading server's REST API.
package papertrade

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"papertrade/internal/broker"
	"papertrade/internal/domain"
)

// Wire types shared with the server.
type (
	Account        = domain.Account
	AccountSummary = domain.AccountSummary
	Position       = domain.Position
	PDTStatus      = domain.PDTStatus
	OrderRequest   = domain.OrderRequest
	Quote          = domain.Quote
	Result         = domain.Result
	Estimate       = broker.Estimate
)

// Order sides.
const (
	Buy  = domain.OrderSideBuy
	Sell = domain.OrderSideSell
)

// APIError is a non-2xx response other than an order rejection.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("papertrade: %d %s", e.StatusCode, e.Message)
}

// Client provides a Go SDK for interacting with the paper-trading server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client for the server at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// do sends body as JSON and decodes the response into out. Statuses listed
// in accept are decoded like 200.
func (c *Client) do(ctx context.Context, method, path string, body, out any, accept ...int) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	ok := resp.StatusCode == http.StatusOK
	for _, s := range accept {
		ok = ok || resp.StatusCode == s
	}
	if !ok {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

// CreateAccount returns the account for (userID, instance), creating it on
// first use. An empty instance means "default".
func (c *Client) CreateAccount(ctx context.Context, userID, instance string) (*Account, error) {
	var acct Account
	body := map[string]string{"user_id": userID, "instance": instance}
	if err := c.do(ctx, http.MethodPost, "/api/v1/accounts", body, &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

// GetAccount retrieves the account summary.
func (c *Client) GetAccount(ctx context.Context, accountID string) (*AccountSummary, error) {
	var sum AccountSummary
	if err := c.do(ctx, http.MethodGet, "/api/v1/accounts/"+url.PathEscape(accountID), nil, &sum); err != nil {
		return nil, err
	}
	return &sum, nil
}

// GetPositions retrieves the account's open positions.
func (c *Client) GetPositions(ctx context.Context, accountID string) ([]Position, error) {
	var out []Position
	if err := c.do(ctx, http.MethodGet, "/api/v1/accounts/"+url.PathEscape(accountID)+"/positions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetPDTStatus retrieves the account's day-trade window.
func (c *Client) GetPDTStatus(ctx context.Context, accountID string) (*PDTStatus, error) {
	var st PDTStatus
	if err := c.do(ctx, http.MethodGet, "/api/v1/accounts/"+url.PathEscape(accountID)+"/pdt", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// MarkToMarket reprices positions from quotes, or from the server's quote
// source when quotes is empty.
func (c *Client) MarkToMarket(ctx context.Context, accountID string, quotes []Quote) ([]Position, error) {
	var body any
	if len(quotes) > 0 {
		body = map[string][]Quote{"quotes": quotes}
	}
	var out []Position
	if err := c.do(ctx, http.MethodPost, "/api/v1/accounts/"+url.PathEscape(accountID)+"/mark", body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SubmitOrder submits an order. A rejection is returned as a Result with
// status rejected and a nil error. quote may be nil to let the server look
// one up.
func (c *Client) SubmitOrder(ctx context.Context, order OrderRequest, quote *Quote) (*Result, error) {
	body := struct {
		OrderRequest
		Quote *Quote `json:"quote,omitempty"`
	}{order, quote}
	var res Result
	if err := c.do(ctx, http.MethodPost, "/api/v1/orders", body, &res, http.StatusUnprocessableEntity); err != nil {
		return nil, err
	}
	return &res, nil
}

// EstimateSlippage asks the server for a size-adjusted slippage estimate.
// adv ≤ 0 lets the server look up volume for symbol when it can.
func (c *Client) EstimateSlippage(ctx context.Context, symbol string, qty int64, adv float64) (*Estimate, error) {
	v := url.Values{}
	v.Set("quantity", strconv.FormatInt(qty, 10))
	if symbol != "" {
		v.Set("symbol", symbol)
	}
	if adv > 0 {
		v.Set("adv", strconv.FormatFloat(adv, 'f', -1, 64))
	}
	var est Estimate
	if err := c.do(ctx, http.MethodGet, "/api/v1/slippage/estimate?"+v.Encode(), nil, &est); err != nil {
		return nil, err
	}
	return &est, nil
}
