package polymarket

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
	"sync"
	"time"

	"github.com/alanyoungcy/clearwinbot/internal/crypto"
	"github.com/alanyoungcy/clearwinbot/internal/domain"
)

// ClobClient is the REST client for the Polymarket CLOB (Central Limit
// Order Book) API. Order book reads are public; order calls need a signer
// and L2 credentials.
type ClobClient struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.Signer

	mu       sync.RWMutex
	hmacAuth *crypto.HMACAuth
}

// NewClobClient creates a CLOB REST client. signer and hmac may be nil for
// read-only use.
func NewClobClient(baseURL string, httpClient *http.Client, signer *crypto.Signer, hmac *crypto.HMACAuth) *ClobClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &ClobClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		signer:     signer,
		hmacAuth:   hmac,
	}
}

// GetOrderBook returns the top of the order book for a token.
func (c *ClobClient) GetOrderBook(ctx context.Context, tokenID string) (domain.BookTop, error) {
	body, err := c.do(ctx, http.MethodGet, "/book?token_id="+url.QueryEscape(tokenID), nil, false)
	if err != nil {
		return domain.BookTop{}, fmt.Errorf("polymarket/clob: get book %s: %w", tokenID, err)
	}
	var book APIBook
	if err := json.Unmarshal(body, &book); err != nil {
		return domain.BookTop{}, fmt.Errorf("polymarket/clob: decode book: %w", err)
	}
	return book.Top(), nil
}

// PostOrder submits a signed order. A response with success=false is
// returned together with a *RejectedError.
func (c *ClobClient) PostOrder(ctx context.Context, order APIOrder, orderType string) (APIOrderResult, error) {
	c.mu.RLock()
	owner := ""
	if c.hmacAuth != nil {
		owner = c.hmacAuth.Key
	}
	c.mu.RUnlock()

	body := map[string]any{
		"order":     order,
		"owner":     owner,
		"orderType": orderType,
	}
	respBody, err := c.do(ctx, http.MethodPost, "/order", body, true)
	if err != nil {
		return APIOrderResult{}, fmt.Errorf("polymarket/clob: post order: %w", err)
	}

	var result APIOrderResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return APIOrderResult{}, fmt.Errorf("polymarket/clob: decode order result: %w", err)
	}
	if !result.Success {
		return result, fmt.Errorf("polymarket/clob: %w", &RejectedError{Message: result.ErrorMsg, ShouldRetry: result.ShouldRetry})
	}
	return result, nil
}

// GetOrder retrieves an order by its ID (the EIP-712 order hash).
func (c *ClobClient) GetOrder(ctx context.Context, orderID string) (OrderState, error) {
	respBody, err := c.do(ctx, http.MethodGet, "/data/order/"+url.PathEscape(orderID), nil, true)
	if err != nil {
		return OrderState{}, fmt.Errorf("polymarket/clob: get order %s: %w", orderID, err)
	}
	// An unknown order is returned as an empty body or "null".
	if len(bytes.TrimSpace(respBody)) == 0 || string(bytes.TrimSpace(respBody)) == "null" {
		return OrderState{}, fmt.Errorf("polymarket/clob: get order %s: %w", orderID, domain.ErrNotFound)
	}
	var o APIOpenOrder
	if err := json.Unmarshal(respBody, &o); err != nil {
		return OrderState{}, fmt.Errorf("polymarket/clob: decode order: %w", err)
	}
	if o.ID == "" {
		return OrderState{}, fmt.Errorf("polymarket/clob: get order %s: %w", orderID, domain.ErrNotFound)
	}
	return o.toState(), nil
}

// CancelOrder cancels a single order by its ID.
func (c *ClobClient) CancelOrder(ctx context.Context, orderID string) error {
	respBody, err := c.do(ctx, http.MethodDelete, "/order", map[string]any{"orderID": orderID}, true)
	if err != nil {
		return fmt.Errorf("polymarket/clob: cancel order %s: %w", orderID, err)
	}
	var result struct {
		Canceled    []string          `json:"canceled"`
		NotCanceled map[string]string `json:"not_canceled"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("polymarket/clob: decode cancel response: %w", err)
	}
	if reason, ok := result.NotCanceled[orderID]; ok {
		return fmt.Errorf("polymarket/clob: cancel %s refused: %s", orderID, reason)
	}
	return nil
}

// DeriveAPIKey runs the L1 auth flow and installs the returned L2
// credentials on the client.
func (c *ClobClient) DeriveAPIKey(ctx context.Context) error {
	if c.signer == nil {
		return fmt.Errorf("polymarket/clob: derive api key: %w", domain.ErrUnauthorized)
	}
	timestamp := time.Now().Unix()
	const nonce = int64(0)

	sig, err := c.signer.SignAuthMessage(timestamp, nonce)
	if err != nil {
		return fmt.Errorf("polymarket/clob: sign auth message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/derive-api-key", nil)
	if err != nil {
		return fmt.Errorf("polymarket/clob: create auth request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", c.signer.Address().Hex())
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("POLY_NONCE", strconv.FormatInt(nonce, 10))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("polymarket/clob: auth request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("polymarket/clob: read auth response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return fmt.Errorf("polymarket/clob: derive api key: %w", err)
	}

	var creds struct {
		APIKey     string `json:"apiKey"`
		Secret     string `json:"secret"`
		Passphrase string `json:"passphrase"`
	}
	if err := json.Unmarshal(respBody, &creds); err != nil {
		return fmt.Errorf("polymarket/clob: decode auth response: %w", err)
	}

	c.mu.Lock()
	c.hmacAuth = &crypto.HMACAuth{Key: creds.APIKey, Secret: creds.Secret, Passphrase: creds.Passphrase}
	c.mu.Unlock()
	return nil
}

// do builds, optionally signs (HMAC), sends and reads a CLOB request.
func (c *ClobClient) do(ctx context.Context, method, path string, body any, auth bool) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if auth {
		c.mu.RLock()
		h := c.hmacAuth
		c.mu.RUnlock()
		if h == nil || c.signer == nil {
			return nil, fmt.Errorf("missing L2 credentials: %w", domain.ErrUnauthorized)
		}
		// The signature covers the path without the query string.
		signPath := path
		if i := strings.IndexByte(signPath, '?'); i >= 0 {
			signPath = signPath[:i]
		}
		for k, v := range h.L2Headers(c.signer.Address().Hex(), method, signPath, bodyStr) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}
