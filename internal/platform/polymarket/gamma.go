package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/clearwinbot/internal/domain"
)

// GammaClient is the REST client for the Polymarket Gamma API, which serves
// market discovery and settlement state.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

// NewGammaClient creates a Gamma API client. baseURL is the API root, e.g.
// "https://gamma-api.polymarket.com". A nil httpClient selects a client
// without its own timeout; callers bound each request with a context.
func NewGammaClient(baseURL string, httpClient *http.Client) *GammaClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &GammaClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		now:        time.Now,
	}
}

// ListMarkets returns one page of open markets as snapshots.
func (g *GammaClient) ListMarkets(ctx context.Context, limit, offset int) ([]domain.MarketSnapshot, error) {
	params := url.Values{}
	params.Set("active", "true")
	params.Set("closed", "false")
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))

	body, err := g.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: list markets: %w", err)
	}

	var apiMarkets []APIMarket
	if err := json.Unmarshal(body, &apiMarkets); err != nil {
		var wrapped struct {
			Data []APIMarket `json:"data"`
		}
		if err2 := json.Unmarshal(body, &wrapped); err2 != nil {
			return nil, fmt.Errorf("polymarket/gamma: decode markets: %w", err)
		}
		apiMarkets = wrapped.Data
	}

	fetchedAt := g.now().UTC()
	snaps := make([]domain.MarketSnapshot, 0, len(apiMarkets))
	for i := range apiMarkets {
		snaps = append(snaps, apiMarkets[i].ToSnapshot(fetchedAt))
	}
	return snaps, nil
}

// GetMarketResolution fetches a market by ID and reports its settlement.
func (g *GammaClient) GetMarketResolution(ctx context.Context, marketID string) (domain.MarketResolution, error) {
	body, err := g.doGet(ctx, "/markets/"+url.PathEscape(marketID))
	if err != nil {
		return domain.MarketResolution{}, fmt.Errorf("polymarket/gamma: get market %s: %w", marketID, err)
	}
	var m APIMarket
	if err := json.Unmarshal(body, &m); err != nil {
		return domain.MarketResolution{}, fmt.Errorf("polymarket/gamma: decode market: %w", err)
	}
	return m.Resolution(), nil
}

// doGet sends an unauthenticated GET request to the Gamma API.
func (g *GammaClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}
