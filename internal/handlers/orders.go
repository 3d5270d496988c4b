package handlers

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"gorm.io/gorm"

	"github.com/shopflow/printbridge/internal/labels"
	"github.com/shopflow/printbridge/internal/middleware"
	"github.com/shopflow/printbridge/internal/models"
	"github.com/shopflow/printbridge/internal/queue"
)

// maxBulkPrint bounds one bulk print request
const maxBulkPrint = 50

// userShopIDs scopes order queries to shops the caller owns
func (r *Router) userShopIDs(userID string) *gorm.DB {
	return r.DB.Model(&models.Shop{}).Select("id").Where("user_id = ?", userID)
}

// listOrders returns the caller's orders, newest first
func (r *Router) listOrders(w http.ResponseWriter, req *http.Request) {
	userID, _ := middleware.UserID(req.Context())

	q := r.DB.Model(&models.Order{}).Where("shop_id IN (?)", r.userShopIDs(userID))
	if status := req.URL.Query().Get("status"); status != "" {
		q = q.Where("status = ?", status)
	}
	if shopID := req.URL.Query().Get("shop_id"); shopID != "" {
		q = q.Where("shop_id = ?", shopID)
	}
	if search := req.URL.Query().Get("search"); search != "" {
		q = q.Where("order_number LIKE ? OR customer_name LIKE ?", "%"+search+"%", "%"+search+"%")
	}

	limit := queryInt(req, "limit", 50)
	if limit > 200 {
		limit = 200
	}
	offset := queryInt(req, "offset", 0)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to count orders")
		return
	}

	var orders []models.Order
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&orders).Error; err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list orders")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"orders": orders,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// getOrder returns one order together with its print jobs
func (r *Router) getOrder(w http.ResponseWriter, req *http.Request) {
	order, ok := r.userOrder(w, req)
	if !ok {
		return
	}

	var jobs []models.PrintJob
	if err := r.DB.Where("order_id = ?", order.ID).
		Order("created_at DESC").Find(&jobs).Error; err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to load print jobs")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"order": order,
		"jobs":  jobs,
	})
}

// UpdateOrderStatusRequest moves an order through its lifecycle
type UpdateOrderStatusRequest struct {
	Status       models.OrderStatus `json:"status"`
	CancelReason string             `json:"cancelReason,omitempty"`
}

// updateOrderStatus applies an operator status change. Orders only move
// forward; cancelling drops any queued print jobs.
func (r *Router) updateOrderStatus(w http.ResponseWriter, req *http.Request) {
	order, ok := r.userOrder(w, req)
	if !ok {
		return
	}

	var upd UpdateOrderStatusRequest
	if err := json.NewDecoder(req.Body).Decode(&upd); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if !order.Status.CanTransitionTo(upd.Status) {
		respondError(w, http.StatusConflict,
			fmt.Sprintf("Cannot move order from %s to %s", order.Status, upd.Status))
		return
	}

	updates := map[string]interface{}{"status": upd.Status}
	if upd.Status == models.OrderStatusCancelled {
		updates["cancel_reason"] = upd.CancelReason
	}
	if err := r.DB.Model(order).Updates(updates).Error; err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to update order")
		return
	}

	if upd.Status == models.OrderStatusCancelled {
		if n, err := r.Store.CancelForOrder(req.Context(), order.ID); err != nil {
			log.Printf("⚠️ Orders: cancel jobs for order %d: %v", order.ID, err)
		} else if n > 0 {
			log.Printf("🚫 Order %d cancelled, dropped %d queued jobs", order.ID, n)
		}
	}
	respondJSON(w, http.StatusOK, order)
}

// maxCopies caps how many copies one print request may enqueue
const maxCopies = 10

// PrintOrderRequest selects where and how to print one order
type PrintOrderRequest struct {
	PrinterID  uint            `json:"printerId"`
	TemplateID *uint           `json:"templateId,omitempty"`
	Priority   models.Priority `json:"priority,omitempty"`
	Copies     int             `json:"copies,omitempty"`
}

// printOrder enqueues one print job per requested copy of an order
func (r *Router) printOrder(w http.ResponseWriter, req *http.Request) {
	order, ok := r.userOrder(w, req)
	if !ok {
		return
	}

	var printReq PrintOrderRequest
	if err := json.NewDecoder(req.Body).Decode(&printReq); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	copies := printReq.Copies
	if copies <= 0 {
		copies = 1
	}
	if copies > maxCopies {
		respondError(w, http.StatusBadRequest,
			fmt.Sprintf("At most %d copies per request", maxCopies))
		return
	}

	userID, _ := middleware.UserID(req.Context())
	jobs := make([]*models.PrintJob, 0, copies)
	for i := 0; i < copies; i++ {
		job, err := r.enqueueOrderJob(req, userID, order, printReq)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		jobs = append(jobs, job)
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"jobs":   jobs,
		"queued": len(jobs),
	})
}

// BulkPrintRequest prints several orders to one printer
type BulkPrintRequest struct {
	OrderIDs   []uint          `json:"orderIds"`
	PrinterID  uint            `json:"printerId"`
	TemplateID *uint           `json:"templateId,omitempty"`
	Priority   models.Priority `json:"priority,omitempty"`
}

// BulkPrintResult reports the outcome for one order in a bulk request
type BulkPrintResult struct {
	OrderID uint   `json:"orderId"`
	JobID   uint   `json:"jobId,omitempty"`
	Error   string `json:"error,omitempty"`
}

// printBulk enqueues jobs for up to 50 orders. Failures are reported per
// order; one bad order never voids the rest of the batch.
func (r *Router) printBulk(w http.ResponseWriter, req *http.Request) {
	userID, _ := middleware.UserID(req.Context())

	var bulkReq BulkPrintRequest
	if err := json.NewDecoder(req.Body).Decode(&bulkReq); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if len(bulkReq.OrderIDs) == 0 {
		respondError(w, http.StatusBadRequest, "orderIds is required")
		return
	}
	if len(bulkReq.OrderIDs) > maxBulkPrint {
		respondError(w, http.StatusBadRequest,
			fmt.Sprintf("At most %d orders per bulk print", maxBulkPrint))
		return
	}

	printReq := PrintOrderRequest{
		PrinterID:  bulkReq.PrinterID,
		TemplateID: bulkReq.TemplateID,
		Priority:   bulkReq.Priority,
	}

	results := make([]BulkPrintResult, 0, len(bulkReq.OrderIDs))
	queued := 0
	for _, orderID := range bulkReq.OrderIDs {
		var order models.Order
		err := r.DB.
			Where("id = ? AND shop_id IN (?)", orderID, r.userShopIDs(userID)).
			First(&order).Error
		if err != nil {
			results = append(results, BulkPrintResult{OrderID: orderID, Error: "order not found"})
			continue
		}

		job, err := r.enqueueOrderJob(req, userID, &order, printReq)
		if err != nil {
			results = append(results, BulkPrintResult{OrderID: orderID, Error: err.Error()})
			continue
		}
		results = append(results, BulkPrintResult{OrderID: orderID, JobID: job.ID})
		queued++
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"queued":  queued,
		"failed":  len(results) - queued,
		"results": results,
	})
}

// enqueueOrderJob snapshots the order into a job payload and enqueues it
func (r *Router) enqueueOrderJob(req *http.Request, userID string, order *models.Order, printReq PrintOrderRequest) (*models.PrintJob, error) {
	if printReq.PrinterID == 0 {
		return nil, fmt.Errorf("printerId is required")
	}
	var printer models.Printer
	err := r.DB.Where("id = ? AND user_id = ?", printReq.PrinterID, userID).First(&printer).Error
	if err != nil {
		return nil, fmt.Errorf("unknown printer")
	}
	if order.Status == models.OrderStatusCancelled {
		return nil, fmt.Errorf("order is cancelled")
	}

	priority := printReq.Priority
	if priority == "" {
		priority = order.Priority
	}

	job, err := r.Store.Enqueue(req.Context(), queue.JobSpec{
		OrderID:    &order.ID,
		UserID:     userID,
		ShopID:     &order.ShopID,
		TemplateID: printReq.TemplateID,
		PrinterID:  printReq.PrinterID,
		Priority:   priority,
		Payload: map[string]interface{}{
			"orderId":         order.ID,
			"platformOrderId": order.PlatformOrderID,
			"orderNumber":     order.OrderNumber,
			"customerName":    order.CustomerName,
			"shippingAddress": json.RawMessage(order.ShippingAddress),
			"items":           json.RawMessage(order.Items),
		},
	})
	if err != nil {
		return nil, err
	}

	// First job moves the order forward
	r.DB.Model(&models.Order{}).
		Where("id = ? AND status = ?", order.ID, models.OrderStatusPending).
		Update("status", models.OrderStatusQueued)
	return job, nil
}

// packingSlip renders the order's packing slip as a PDF
func (r *Router) packingSlip(w http.ResponseWriter, req *http.Request) {
	order, ok := r.userOrder(w, req)
	if !ok {
		return
	}

	var shop models.Shop
	shopName := ""
	if err := r.DB.First(&shop, order.ShopID).Error; err == nil {
		shopName = shop.Name
	}

	pdf, err := labels.GeneratePackingSlip(order, shopName)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to render packing slip")
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("inline; filename=packing-slip-%s.pdf", order.OrderNumber))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

// userOrder loads the order in the route and checks ownership through shops
func (r *Router) userOrder(w http.ResponseWriter, req *http.Request) (*models.Order, bool) {
	userID, _ := middleware.UserID(req.Context())
	id := mux.Vars(req)["id"]

	var order models.Order
	err := r.DB.
		Where("id = ? AND shop_id IN (?)", id, r.userShopIDs(userID)).
		First(&order).Error
	if err != nil {
		respondError(w, http.StatusNotFound, "Order not found")
		return nil, false
	}
	return &order, true
}

// queryInt reads an integer query parameter with a default
func queryInt(req *http.Request, key string, defaultValue int) int {
	if value := req.URL.Query().Get(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n >= 0 {
			return n
		}
	}
	return defaultValue
}
