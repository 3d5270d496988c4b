package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"gorm.io/gorm"

	"github.com/shopflow/printbridge/internal/kvstore"
	"github.com/shopflow/printbridge/internal/middleware"
	"github.com/shopflow/printbridge/internal/models"
	"github.com/shopflow/printbridge/internal/utils"
)

// oauthStateTTL bounds how long a consent redirect may take
const oauthStateTTL = 5 * time.Minute

// connectShop starts the OAuth flow: it mints a one-time state bound to the
// current user and returns the consent URL to redirect the merchant to
func (r *Router) connectShop(w http.ResponseWriter, req *http.Request) {
	userID, ok := middleware.UserID(req.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Invalid session")
		return
	}

	state := uuid.New().String()
	if err := r.States.Put(req.Context(), "oauth_state:"+state, userID, oauthStateTTL); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to start authorization")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"authorizationUrl": r.Market.AuthorizationURL(state),
		"state":            state,
	})
}

// oauthCallback completes the OAuth flow. The marketplace redirects here
// with a code and the state minted by connectShop.
func (r *Router) oauthCallback(w http.ResponseWriter, req *http.Request) {
	code := req.URL.Query().Get("code")
	state := req.URL.Query().Get("state")
	if code == "" || state == "" {
		respondError(w, http.StatusBadRequest, "Missing code or state")
		return
	}

	userID, err := r.States.Get(req.Context(), "oauth_state:"+state)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			respondError(w, http.StatusBadRequest, "Unknown or expired state")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to verify state")
		return
	}
	// One-time use
	_ = r.States.Delete(req.Context(), "oauth_state:"+state)

	tokens, err := r.Market.ExchangeCodeForToken(req.Context(), code)
	if err != nil {
		log.Printf("⚠️ OAuth: code exchange failed: %v", err)
		respondError(w, http.StatusBadGateway, "Token exchange failed")
		return
	}

	info, err := r.Market.GetShopInfo(req.Context(), tokens.AccessToken)
	if err != nil {
		log.Printf("⚠️ OAuth: shop info fetch failed: %v", err)
		respondError(w, http.StatusBadGateway, "Failed to fetch shop info")
		return
	}

	encAccess, err := utils.Encrypt(tokens.AccessToken, r.EncKey)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to store credentials")
		return
	}
	encRefresh, err := utils.Encrypt(tokens.RefreshToken, r.EncKey)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to store credentials")
		return
	}
	expiresAt := time.Unix(tokens.AccessTokenExpireIn, 0).UTC()

	// Reconnecting an existing shop refreshes its credentials
	var shop models.Shop
	err = r.DB.Where("platform_shop_id = ?", info.ShopID).First(&shop).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		shop = models.Shop{
			UserID:         userID,
			PlatformShopID: info.ShopID,
			Name:           info.ShopName,
			Region:         info.Region,
			Status:         models.ShopStatusActive,
			AccessToken:    encAccess,
			RefreshToken:   encRefresh,
			TokenExpiresAt: &expiresAt,
		}
		if err := r.DB.Create(&shop).Error; err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to save shop")
			return
		}
	case err != nil:
		respondError(w, http.StatusInternalServerError, "Failed to look up shop")
		return
	default:
		if shop.UserID != userID {
			respondError(w, http.StatusForbidden, "Shop is connected to another account")
			return
		}
		updates := map[string]interface{}{
			"name":             info.ShopName,
			"region":           info.Region,
			"status":           models.ShopStatusActive,
			"access_token":     encAccess,
			"refresh_token":    encRefresh,
			"token_expires_at": expiresAt,
		}
		if err := r.DB.Model(&shop).Updates(updates).Error; err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to update shop")
			return
		}
	}

	log.Printf("🛍️ Shop %s connected for user %s", info.ShopID, userID)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Shop connected",
		"shop":    shop,
	})
}

// listShops returns the current user's shops
func (r *Router) listShops(w http.ResponseWriter, req *http.Request) {
	userID, _ := middleware.UserID(req.Context())

	var shops []models.Shop
	if err := r.DB.Where("user_id = ?", userID).Order("created_at ASC").Find(&shops).Error; err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list shops")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"shops": shops})
}

// getShop returns one shop
func (r *Router) getShop(w http.ResponseWriter, req *http.Request) {
	shop, ok := r.userShop(w, req)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, shop)
}

// UpdateShopRequest carries the operator-editable shop settings
type UpdateShopRequest struct {
	AutoPrint        *bool  `json:"autoPrint,omitempty"`
	LiveMode         *bool  `json:"liveMode,omitempty"`
	DefaultPrinterID *uint  `json:"defaultPrinterId,omitempty"`
	DefaultTemplate  *uint  `json:"defaultTemplateId,omitempty"`
	Name             string `json:"name,omitempty"`
}

// updateShop changes print automation settings on a shop
func (r *Router) updateShop(w http.ResponseWriter, req *http.Request) {
	shop, ok := r.userShop(w, req)
	if !ok {
		return
	}

	var upd UpdateShopRequest
	if err := json.NewDecoder(req.Body).Decode(&upd); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	updates := map[string]interface{}{}
	if upd.AutoPrint != nil {
		updates["auto_print"] = *upd.AutoPrint
	}
	if upd.LiveMode != nil {
		updates["live_mode"] = *upd.LiveMode
	}
	if upd.DefaultPrinterID != nil {
		var printer models.Printer
		err := r.DB.Where("id = ? AND user_id = ?", *upd.DefaultPrinterID, shop.UserID).First(&printer).Error
		if err != nil {
			respondError(w, http.StatusBadRequest, "Unknown printer")
			return
		}
		updates["default_printer_id"] = *upd.DefaultPrinterID
	}
	if upd.DefaultTemplate != nil {
		var template models.Template
		err := r.DB.Where("id = ? AND user_id = ?", *upd.DefaultTemplate, shop.UserID).First(&template).Error
		if err != nil {
			respondError(w, http.StatusBadRequest, "Unknown template")
			return
		}
		updates["default_template"] = *upd.DefaultTemplate
	}
	if upd.Name != "" {
		updates["name"] = upd.Name
	}
	if len(updates) == 0 {
		respondJSON(w, http.StatusOK, shop)
		return
	}

	if err := r.DB.Model(shop).Updates(updates).Error; err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to update shop")
		return
	}
	respondJSON(w, http.StatusOK, shop)
}

// disconnectShop stops polling a shop and drops its credentials
func (r *Router) disconnectShop(w http.ResponseWriter, req *http.Request) {
	shop, ok := r.userShop(w, req)
	if !ok {
		return
	}

	updates := map[string]interface{}{
		"status":        models.ShopStatusDisconnected,
		"access_token":  "",
		"refresh_token": "",
	}
	if err := r.DB.Model(shop).Updates(updates).Error; err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to disconnect shop")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Shop disconnected"})
}

// syncShop triggers an immediate poll of one shop instead of waiting for
// the next scheduled sweep
func (r *Router) syncShop(w http.ResponseWriter, req *http.Request) {
	shop, ok := r.userShop(w, req)
	if !ok {
		return
	}
	if shop.Status != models.ShopStatusActive {
		respondError(w, http.StatusConflict, "Shop is not active")
		return
	}

	if err := r.Poller.PollShop(req.Context(), shop); err != nil {
		log.Printf("⚠️ Manual sync: shop %s: %v", shop.PlatformShopID, err)
		respondError(w, http.StatusBadGateway, "Sync failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Sync completed",
		"shop":    shop,
	})
}

// userShop loads the shop in the route and checks it belongs to the caller
func (r *Router) userShop(w http.ResponseWriter, req *http.Request) (*models.Shop, bool) {
	userID, _ := middleware.UserID(req.Context())
	id := mux.Vars(req)["id"]

	var shop models.Shop
	if err := r.DB.First(&shop, "id = ?", id).Error; err != nil {
		respondError(w, http.StatusNotFound, "Shop not found")
		return nil, false
	}
	if shop.UserID != userID {
		respondError(w, http.StatusNotFound, "Shop not found")
		return nil, false
	}
	return &shop, true
}
