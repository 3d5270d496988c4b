package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/shopflow/printbridge/internal/marketplace"
	"github.com/shopflow/printbridge/internal/models"
)

// maxWebhookBody bounds a webhook payload
const maxWebhookBody = 1 << 20 // 1MB

// WebhookEvent is the envelope the marketplace posts on order changes
type WebhookEvent struct {
	Type   string          `json:"type"`
	ShopID string          `json:"shop_id"`
	Data   json.RawMessage `json:"data"`
}

// marketplaceWebhook ingests order events pushed by the platform. The
// signature gate is mandatory; after it passes the work happens in the
// background so the platform always gets a fast 200 and never retries a
// slow-but-successful delivery.
func (r *Router) marketplaceWebhook(w http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(io.LimitReader(req.Body, maxWebhookBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Failed to read body")
		return
	}

	signature := req.Header.Get("X-Signature")
	timestamp := req.Header.Get("X-Timestamp")
	if !r.Market.VerifyWebhookSignature(signature, timestamp, body) {
		log.Printf("⚠️ Webhook: rejected payload with bad signature")
		respondError(w, http.StatusUnauthorized, "Invalid signature")
		return
	}

	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		respondError(w, http.StatusBadRequest, "Malformed event")
		return
	}
	if event.ShopID == "" {
		respondError(w, http.StatusBadRequest, "Missing shop_id")
		return
	}

	go r.processWebhookEvent(event)

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"code":    0,
		"message": "success",
	})
}

// processWebhookEvent applies one verified event. Runs detached from the
// HTTP request; the poller picks up anything that fails here.
func (r *Router) processWebhookEvent(event WebhookEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var shop models.Shop
	if err := r.DB.Where("platform_shop_id = ?", event.ShopID).First(&shop).Error; err != nil {
		log.Printf("⚠️ Webhook: event for unknown shop %s", event.ShopID)
		return
	}
	if shop.Status != models.ShopStatusActive {
		log.Printf("⚠️ Webhook: event for inactive shop %s dropped", event.ShopID)
		return
	}

	var po marketplace.PlatformOrder
	if err := json.Unmarshal(event.Data, &po); err != nil {
		log.Printf("⚠️ Webhook: malformed order data for shop %s: %v", event.ShopID, err)
		return
	}

	result, _, err := r.Adapter.UpsertOrder(ctx, &shop, po)
	if err != nil {
		log.Printf("⚠️ Webhook: ingest order %s: %v", po.OrderID, err)
		return
	}
	log.Printf("📬 Webhook: order %s for shop %s (%s)", po.OrderID, event.ShopID, result)
}
