package marketplace

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopflow/printbridge/internal/config"
)

func testClient(apiBase, authBase string) *Client {
	return NewClient(config.MarketplaceConfig{
		AppKey:      "test-app-key",
		AppSecret:   "test-app-secret",
		RedirectURI: "https://example.com/callback",
		APIBaseURL:  apiBase,
		AuthBaseURL: authBase,
	})
}

func TestVerifyWebhookSignature(t *testing.T) {
	c := testClient("", "")
	body := []byte(`{"type":"order","shop_id":"123"}`)
	timestamp := "1700000000"

	payload := "test-app-secret" + timestamp + string(body) + "test-app-secret"
	sum := sha256.Sum256([]byte(payload))
	good := hex.EncodeToString(sum[:])

	if !c.VerifyWebhookSignature(good, timestamp, body) {
		t.Error("expected valid signature to verify")
	}
	if c.VerifyWebhookSignature(good, "1700000001", body) {
		t.Error("expected signature with wrong timestamp to fail")
	}
	if c.VerifyWebhookSignature("deadbeef", timestamp, body) {
		t.Error("expected bogus signature to fail")
	}
	if c.VerifyWebhookSignature(good, timestamp, []byte(`{"tampered":true}`)) {
		t.Error("expected signature over different body to fail")
	}
}

func TestExchangeCodeForToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/token/get" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Write([]byte(`{"code":0,"message":"success","data":{"access_token":"at-1","refresh_token":"rt-1","open_id":"o1","seller_name":"Test Seller"}}`))
	}))
	defer server.Close()

	c := testClient(server.URL, server.URL)
	token, err := c.ExchangeCodeForToken(context.Background(), "auth-code")
	if err != nil {
		t.Fatalf("ExchangeCodeForToken failed: %v", err)
	}
	if token.AccessToken != "at-1" || token.RefreshToken != "rt-1" {
		t.Errorf("unexpected token data: %+v", token)
	}
}

func TestGetOrdersTokenExpired(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":105002,"message":"access token expired","data":null}`))
	}))
	defer server.Close()

	c := testClient(server.URL, server.URL)
	_, err := c.GetOrders(context.Background(), "stale-token", "shop-1", OrderQuery{})
	if !errors.Is(err, ErrTokenExpired) {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}
}

func TestGetOrdersRetriesServerErrors(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"code":0,"message":"success","data":{"order_list":[{"order_id":"576461","order_status":"AWAITING_SHIPMENT"}],"next_cursor":"","more":false}}`))
	}))
	defer server.Close()

	c := testClient(server.URL, server.URL)
	page, err := c.GetOrders(context.Background(), "token", "shop-1", OrderQuery{PageSize: 10})
	if err != nil {
		t.Fatalf("GetOrders failed after retry: %v", err)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
	if len(page.Orders) != 1 || page.Orders[0].OrderID != "576461" {
		t.Errorf("unexpected page: %+v", page)
	}
	if page.More {
		t.Error("expected final page")
	}
}

func TestAuthorizationURL(t *testing.T) {
	c := testClient("", "https://auth.example.com")
	u := c.AuthorizationURL("state-xyz")

	for _, want := range []string{"app_key=test-app-key", "state=state-xyz", "response_type=code"} {
		if !strings.Contains(u, want) {
			t.Errorf("authorization URL missing %q: %s", want, u)
		}
	}
}
