// Package marketplace wraps the marketplace open API as an opaque
// authenticated HTTP client. The rest of the system treats it as an external
// collaborator: token exchange/refresh, shop info, paged order search, and
// webhook signature verification.
package marketplace

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/shopflow/printbridge/internal/config"
)

const (
	apiVersion  = "202309"
	maxAttempts = 3
)

// ErrTokenExpired signals that the shop's access token is no longer valid
// and the caller should refresh before retrying the whole batch.
var ErrTokenExpired = errors.New("marketplace: access token expired")

// Token-related platform error codes that mean reauthorization is needed
var tokenErrorCodes = map[int]bool{
	105001: true, // access token invalid
	105002: true, // access token expired
	105003: true, // refresh token expired
}

// Client is an authenticated marketplace API client. Construct one per
// process and inject it; it holds no per-shop state.
type Client struct {
	appKey      string
	appSecret   string
	redirectURI string
	apiBase     string
	authBase    string
	http        *http.Client
}

// NewClient creates a marketplace client with a 10s request timeout
func NewClient(cfg config.MarketplaceConfig) *Client {
	return &Client{
		appKey:      cfg.AppKey,
		appSecret:   cfg.AppSecret,
		redirectURI: cfg.RedirectURI,
		apiBase:     cfg.APIBaseURL,
		authBase:    cfg.AuthBaseURL,
		http:        &http.Client{Timeout: 10 * time.Second},
	}
}

// apiEnvelope is the common response wrapper of the open API
type apiEnvelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// TokenData holds the result of a code exchange or token refresh
type TokenData struct {
	AccessToken           string `json:"access_token"`
	RefreshToken          string `json:"refresh_token"`
	AccessTokenExpireIn   int64  `json:"access_token_expire_in"`
	RefreshTokenExpireIn  int64  `json:"refresh_token_expire_in"`
	OpenID                string `json:"open_id"`
	SellerName            string `json:"seller_name"`
	SellerBaseRegion      string `json:"seller_base_region"`
}

// ShopInfo describes a connected shop
type ShopInfo struct {
	ShopID   string `json:"shop_id"`
	ShopName string `json:"shop_name"`
	Region   string `json:"region"`
}

// RecipientAddress is the shipping destination of a platform order
type RecipientAddress struct {
	Name         string `json:"name"`
	PhoneNumber  string `json:"phone_number"`
	AddressLine1 string `json:"address_line1"`
	AddressLine2 string `json:"address_line2"`
	City         string `json:"city"`
	State        string `json:"state"`
	Zipcode      string `json:"zipcode"`
	CountryCode  string `json:"country_code"`
}

// OrderLine is one purchased item on a platform order
type OrderLine struct {
	ProductID   string `json:"product_id"`
	SkuID       string `json:"sku_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	Price       string `json:"platform_total_price"`
	SkuImage    string `json:"sku_image"`
}

// Payment holds the monetary totals of a platform order
type Payment struct {
	TotalAmount string `json:"total_amount"`
	Currency    string `json:"currency"`
}

// PlatformOrder is a raw order as returned by the marketplace
type PlatformOrder struct {
	OrderID          string            `json:"order_id"`
	OrderNumber      string            `json:"order_number"`
	OrderStatus      string            `json:"order_status"`
	CreateTime       int64             `json:"create_time"`
	BuyerEmail       string            `json:"buyer_email"`
	RecipientAddress *RecipientAddress `json:"recipient_address"`
	OrderLines       []OrderLine       `json:"order_line_list"`
	Payment          *Payment          `json:"payment"`
}

// OrdersPage is one page of an order search
type OrdersPage struct {
	Orders     []PlatformOrder `json:"order_list"`
	NextCursor string          `json:"next_cursor"`
	More       bool            `json:"more"`
}

// OrderQuery selects a page of orders
type OrderQuery struct {
	PageSize  int
	Cursor    string
	SortField string
	SortOrder string
}

// AuthorizationURL builds the OAuth consent URL for connecting a shop
func (c *Client) AuthorizationURL(state string) string {
	params := url.Values{}
	params.Set("app_key", c.appKey)
	params.Set("state", state)
	params.Set("response_type", "code")
	params.Set("redirect_uri", c.redirectURI)
	return c.authBase + "/oauth/authorize?" + params.Encode()
}

// ExchangeCodeForToken exchanges an authorization code for tokens
func (c *Client) ExchangeCodeForToken(ctx context.Context, code string) (*TokenData, error) {
	body := map[string]string{
		"app_key":    c.appKey,
		"app_secret": c.appSecret,
		"auth_code":  code,
		"grant_type": "authorized_code",
	}
	return c.tokenRequest(ctx, "/api/v2/token/get", body)
}

// RefreshToken exchanges a refresh token for a fresh token pair
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenData, error) {
	body := map[string]string{
		"app_key":       c.appKey,
		"app_secret":    c.appSecret,
		"refresh_token": refreshToken,
		"grant_type":    "refresh_token",
	}
	return c.tokenRequest(ctx, "/api/v2/token/refresh", body)
}

func (c *Client) tokenRequest(ctx context.Context, path string, body map[string]string) (*TokenData, error) {
	data, err := c.doJSON(ctx, http.MethodPost, c.authBase+path, nil, body, "")
	if err != nil {
		return nil, err
	}

	var token TokenData
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, errors.New("marketplace: empty access token in response")
	}
	return &token, nil
}

// GetShopInfo returns the shop bound to the given access token
func (c *Client) GetShopInfo(ctx context.Context, accessToken string) (*ShopInfo, error) {
	path := "/shop/" + apiVersion + "/shops"
	params := c.baseParams()

	data, err := c.doJSON(ctx, http.MethodGet, c.apiBase+path+"?"+c.signedQuery(path, params, nil), nil, nil, accessToken)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Shops []ShopInfo `json:"shops"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode shop info: %w", err)
	}
	if len(payload.Shops) == 0 {
		return nil, errors.New("marketplace: no shop bound to token")
	}
	return &payload.Shops[0], nil
}

// GetOrders fetches one page of orders for a shop
func (c *Client) GetOrders(ctx context.Context, accessToken, platformShopID string, query OrderQuery) (*OrdersPage, error) {
	if query.PageSize <= 0 {
		query.PageSize = 50
	}
	if query.SortField == "" {
		query.SortField = "create_time"
	}
	if query.SortOrder == "" {
		query.SortOrder = "DESC"
	}

	path := "/order/" + apiVersion + "/orders/search"
	params := c.baseParams()
	params["shop_id"] = platformShopID

	body := map[string]interface{}{
		"page_size":  query.PageSize,
		"sort_field": query.SortField,
		"sort_order": query.SortOrder,
	}
	if query.Cursor != "" {
		body["page_token"] = query.Cursor
	}

	rawBody, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	requestURL := c.apiBase + path + "?" + c.signedQuery(path, params, rawBody)
	data, err := c.doJSON(ctx, http.MethodPost, requestURL, rawBody, nil, accessToken)
	if err != nil {
		return nil, err
	}

	var page OrdersPage
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("decode orders page: %w", err)
	}
	return &page, nil
}

// VerifyWebhookSignature checks the webhook signature header against the raw
// body. Webhook processing must not proceed when this returns false.
func (c *Client) VerifyWebhookSignature(signature, timestamp string, body []byte) bool {
	payload := c.appSecret + timestamp + string(body) + c.appSecret
	sum := sha256.Sum256([]byte(payload))
	return signature == hex.EncodeToString(sum[:])
}

func (c *Client) baseParams() map[string]string {
	return map[string]string{
		"app_key":   c.appKey,
		"timestamp": strconv.FormatInt(time.Now().Unix(), 10),
		"version":   apiVersion,
	}
}

// signedQuery computes the request signature (sorted params concatenated,
// wrapped in the app secret, SHA-256) and returns the encoded query string
func (c *Client) signedQuery(path string, params map[string]string, body []byte) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var toSign bytes.Buffer
	toSign.WriteString(c.appSecret)
	toSign.WriteString(path)
	for _, k := range keys {
		toSign.WriteString(k)
		toSign.WriteString(params[k])
	}
	toSign.Write(body)
	toSign.WriteString(c.appSecret)

	sum := sha256.Sum256(toSign.Bytes())

	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	values.Set("sign", hex.EncodeToString(sum[:]))
	return values.Encode()
}

// doJSON performs a request, retrying transient failures with exponential
// backoff, and unwraps the API envelope
func (c *Client) doJSON(ctx context.Context, method, requestURL string, rawBody []byte, jsonBody interface{}, accessToken string) (json.RawMessage, error) {
	if jsonBody != nil {
		encoded, err := json.Marshal(jsonBody)
		if err != nil {
			return nil, err
		}
		rawBody = encoded
	}

	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.InitialInterval = 500 * time.Millisecond
	backoffCfg.MaxInterval = 5 * time.Second

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			sleep := backoffCfg.NextBackOff()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(sleep):
			}
		}

		data, retryable, err := c.doOnce(ctx, method, requestURL, rawBody, accessToken)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) doOnce(ctx context.Context, method, requestURL string, rawBody []byte, accessToken string) (json.RawMessage, bool, error) {
	var reader io.Reader
	if rawBody != nil {
		reader = bytes.NewReader(rawBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, reader)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	if accessToken != "" {
		req.Header.Set("x-tts-access-token", accessToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Network errors are transient
		return nil, true, fmt.Errorf("marketplace request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, true, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, false, ErrTokenExpired
	}
	if resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("marketplace server error: %s", resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("marketplace error: %s: %s", resp.Status, respBody)
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, false, fmt.Errorf("decode response envelope: %w", err)
	}
	if envelope.Code != 0 {
		if tokenErrorCodes[envelope.Code] {
			return nil, false, fmt.Errorf("%w (code %d: %s)", ErrTokenExpired, envelope.Code, envelope.Message)
		}
		return nil, false, fmt.Errorf("marketplace error code %d: %s", envelope.Code, envelope.Message)
	}
	return envelope.Data, false, nil
}
