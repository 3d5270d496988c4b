package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/shopflow/printbridge/internal/config"
	"github.com/shopflow/printbridge/internal/database"
	"github.com/shopflow/printbridge/internal/history"
	"github.com/shopflow/printbridge/internal/ingest"
	"github.com/shopflow/printbridge/internal/kvstore"
	"github.com/shopflow/printbridge/internal/liveness"
	"github.com/shopflow/printbridge/internal/marketplace"
	"github.com/shopflow/printbridge/internal/middleware"
	"github.com/shopflow/printbridge/internal/queue"
	ws "github.com/shopflow/printbridge/internal/websocket"
)

// Deps carries everything the HTTP layer talks to
type Deps struct {
	DB         *database.DB
	Cfg        *config.Config
	Store      *queue.Store
	Completion *queue.Completion
	Adapter    *ingest.Adapter
	Market     *marketplace.Client
	Hub        *ws.Hub
	States     kvstore.Store
	History    *history.Logger
	Tracker    *liveness.Tracker
	Poller     *ingest.Poller
	EncKey     []byte
}

// Router wraps the mux router and the service dependencies
type Router struct {
	*mux.Router
	Deps
}

// NewRouter creates a new HTTP router with all routes
func NewRouter(deps Deps) *Router {
	r := &Router{
		Router: mux.NewRouter(),
		Deps:   deps,
	}

	// Health check endpoint
	r.HandleFunc("/health", r.healthCheck).Methods("GET")

	// Auth routes, throttled per address against credential stuffing
	auth := r.PathPrefix("/auth").Subrouter()
	auth.Use(middleware.RateLimit(deps.States, "auth",
		int64(deps.Cfg.RateLimit.AuthBurst), deps.Cfg.RateLimit.Window))
	auth.HandleFunc("/login", r.login).Methods("POST")
	auth.HandleFunc("/register", r.register).Methods("POST")
	auth.HandleFunc("/marketplace/callback", r.oauthCallback).Methods("GET")

	// Marketplace webhook, authenticated by signature instead of JWT.
	// Registered before the /api subrouter so it skips the JWT middleware.
	r.HandleFunc("/api/webhooks/marketplace/orders", r.marketplaceWebhook).Methods("POST")

	// Printer agent websocket
	r.HandleFunc("/ws/agent", func(w http.ResponseWriter, req *http.Request) {
		ws.ServeWs(r.Hub, w, req)
	})

	// API routes (protected), throttled per user after authentication
	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.Auth(deps.Cfg.JWTSecret))
	api.Use(middleware.RateLimit(deps.States, "api",
		int64(deps.Cfg.RateLimit.APIBurst), deps.Cfg.RateLimit.Window))

	// Shop routes
	api.HandleFunc("/shops", r.listShops).Methods("GET")
	api.HandleFunc("/shops/connect", r.connectShop).Methods("POST")
	api.HandleFunc("/shops/{id}", r.getShop).Methods("GET")
	api.HandleFunc("/shops/{id}", r.updateShop).Methods("PUT")
	api.HandleFunc("/shops/{id}", r.disconnectShop).Methods("DELETE")
	api.HandleFunc("/shops/{id}/sync", r.syncShop).Methods("POST")

	// Order routes
	api.HandleFunc("/orders", r.listOrders).Methods("GET")
	api.HandleFunc("/orders/print-bulk", r.printBulk).Methods("POST")
	api.HandleFunc("/orders/{id}", r.getOrder).Methods("GET")
	api.HandleFunc("/orders/{id}/status", r.updateOrderStatus).Methods("PUT")
	api.HandleFunc("/orders/{id}/print", r.printOrder).Methods("POST")
	api.HandleFunc("/orders/{id}/packing-slip", r.packingSlip).Methods("GET")

	// Printer routes
	api.HandleFunc("/printers", r.listPrinters).Methods("GET")
	api.HandleFunc("/printers", r.registerPrinter).Methods("POST")
	api.HandleFunc("/printers/{id}", r.deletePrinter).Methods("DELETE")
	api.HandleFunc("/printers/{id}/heartbeat", r.printerHeartbeat).Methods("POST")
	api.HandleFunc("/printers/{id}/test-print", r.testPrint).Methods("POST")
	api.HandleFunc("/printers/{id}/stats", r.printerStats).Methods("GET")

	// Template routes
	api.HandleFunc("/templates", r.listTemplates).Methods("GET")
	api.HandleFunc("/templates", r.createTemplate).Methods("POST")
	api.HandleFunc("/templates/{id}", r.getTemplate).Methods("GET")
	api.HandleFunc("/templates/{id}", r.updateTemplate).Methods("PUT")
	api.HandleFunc("/templates/{id}", r.deleteTemplate).Methods("DELETE")
	api.HandleFunc("/templates/{id}/default", r.setDefaultTemplate).Methods("POST")

	// Job routes
	api.HandleFunc("/jobs", r.listJobs).Methods("GET")
	api.HandleFunc("/jobs/stats", r.jobStats).Methods("GET")
	api.HandleFunc("/jobs/{id}", r.getJob).Methods("GET")
	api.HandleFunc("/jobs/{id}/retry", r.reprintJob).Methods("POST")
	api.HandleFunc("/jobs/{id}/cancel", r.cancelJob).Methods("POST")

	return r
}

// healthCheck returns the health status of the API
func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
