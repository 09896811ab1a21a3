package polymarket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alanyoungcy/clearwinbot/internal/crypto"
	"github.com/alanyoungcy/clearwinbot/internal/domain"
	"github.com/shopspring/decimal"
)

const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestClobGetOrderBook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/book" || r.URL.Query().Get("token_id") != "111" {
			t.Errorf("unexpected request %s", r.URL)
		}
		_, _ = w.Write([]byte(`{
			"asset_id": "111",
			"bids": [{"price": "0.96", "size": "50"}, {"price": "0.97", "size": "10"}],
			"asks": [{"price": "0.99", "size": "100"}, {"price": "0.98", "size": "12"}, {"price": "0.98", "size": "3"}, {"price": "bad", "size": "1"}]
		}`))
	}))
	defer srv.Close()

	top, err := NewClobClient(srv.URL, srv.Client(), nil, nil).GetOrderBook(context.Background(), "111")
	if err != nil {
		t.Fatalf("GetOrderBook: %v", err)
	}
	checks := []struct {
		name string
		got  decimal.NullDecimal
		want string
	}{
		{"best bid", top.BestBid, "0.97"},
		{"best ask", top.BestAsk, "0.98"},
		{"liquidity", top.Liquidity, "15"},
	}
	for _, c := range checks {
		if !c.got.Valid || !c.got.Decimal.Equal(decimal.RequireFromString(c.want)) {
			t.Errorf("%s = %v, want %s", c.name, c.got, c.want)
		}
	}
}

func TestClobEmptyBookHasNoAsk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"bids": [], "asks": []}`))
	}))
	defer srv.Close()

	top, err := NewClobClient(srv.URL, srv.Client(), nil, nil).GetOrderBook(context.Background(), "1")
	if err != nil {
		t.Fatalf("GetOrderBook: %v", err)
	}
	if top.BestAsk.Valid || top.Liquidity.Valid {
		t.Fatalf("empty book reported %+v", top)
	}
}

func newAuthedClient(t *testing.T, url string, hc *http.Client) *ClobClient {
	t.Helper()
	s, err := crypto.NewSigner(testKey, 137, "")
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	return NewClobClient(url, hc, s, &crypto.HMACAuth{Key: "k", Secret: "c2VjcmV0", Passphrase: "p"})
}

func TestClobPostOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/order" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("POLY_SIGNATURE") == "" || r.Header.Get("POLY_API_KEY") != "k" {
			t.Errorf("missing L2 headers: %v", r.Header)
		}
		var body struct {
			Order     APIOrder `json:"order"`
			Owner     string   `json:"owner"`
			OrderType string   `json:"orderType"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body.Owner != "k" || body.OrderType != "FOK" || body.Order.Side != "BUY" {
			t.Errorf("unexpected body %+v", body)
		}
		_, _ = w.Write([]byte(`{"success": true, "orderID": "0xabc", "status": "matched"}`))
	}))
	defer srv.Close()

	res, err := newAuthedClient(t, srv.URL, srv.Client()).PostOrder(context.Background(), APIOrder{Side: "BUY"}, "FOK")
	if err != nil {
		t.Fatalf("PostOrder: %v", err)
	}
	if res.OrderID != "0xabc" || res.Status != "matched" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestClobPostOrderRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success": false, "errorMsg": "not enough balance", "shouldRetry": false}`))
	}))
	defer srv.Close()

	_, err := newAuthedClient(t, srv.URL, srv.Client()).PostOrder(context.Background(), APIOrder{}, "FOK")
	var rej *RejectedError
	if !errors.As(err, &rej) {
		t.Fatalf("error %v is not a *RejectedError", err)
	}
	if rej.Retryable() || rej.Message != "not enough balance" {
		t.Fatalf("unexpected rejection %+v", rej)
	}
}

func TestClobGetOrderNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/data/order/0xdead" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`null`))
	}))
	defer srv.Close()

	_, err := newAuthedClient(t, srv.URL, srv.Client()).GetOrder(context.Background(), "0xdead")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestClobGetOrderMatched(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id": "0xbeef", "status": "MATCHED", "price": "0.98", "size_matched": "5.1"}`))
	}))
	defer srv.Close()

	st, err := newAuthedClient(t, srv.URL, srv.Client()).GetOrder(context.Background(), "0xbeef")
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if !st.Matched() || st.Open() {
		t.Fatalf("state %+v should be matched", st)
	}
}

func TestClobAuthRequired(t *testing.T) {
	c := NewClobClient("http://127.0.0.1:0", nil, nil, nil)
	if _, err := c.GetOrder(context.Background(), "x"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("error = %v, want ErrUnauthorized", err)
	}
}
