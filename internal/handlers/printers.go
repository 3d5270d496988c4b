package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/shopflow/printbridge/internal/middleware"
	"github.com/shopflow/printbridge/internal/models"
	"github.com/shopflow/printbridge/internal/queue"
)

// RegisterPrinterRequest registers or re-registers a desktop print agent
type RegisterPrinterRequest struct {
	DeviceID     string          `json:"deviceId"`
	Name         string          `json:"name"`
	Type         string          `json:"type"`
	Capabilities json.RawMessage `json:"capabilities,omitempty"`
}

// printerView is a printer plus its derived online flag
type printerView struct {
	models.Printer
	IsOnline bool `json:"isOnline"`
}

// registerPrinter creates a printer, or refreshes it when the same device
// registers again after a reinstall
func (r *Router) registerPrinter(w http.ResponseWriter, req *http.Request) {
	userID, _ := middleware.UserID(req.Context())

	var regReq RegisterPrinterRequest
	if err := json.NewDecoder(req.Body).Decode(&regReq); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if regReq.DeviceID == "" {
		respondError(w, http.StatusBadRequest, "deviceId is required")
		return
	}

	var printer models.Printer
	err := r.DB.Where("user_id = ? AND device_id = ?", userID, regReq.DeviceID).First(&printer).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		printer = models.Printer{
			UserID:       userID,
			DeviceID:     regReq.DeviceID,
			Name:         regReq.Name,
			Type:         regReq.Type,
			Capabilities: datatypes.JSON(regReq.Capabilities),
			Status:       models.PrinterStatusOffline,
		}
		if err := r.DB.Create(&printer).Error; err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to register printer")
			return
		}
		respondJSON(w, http.StatusCreated, printer)
	case err != nil:
		respondError(w, http.StatusInternalServerError, "Failed to look up printer")
	default:
		updates := map[string]interface{}{}
		if regReq.Name != "" {
			updates["name"] = regReq.Name
		}
		if regReq.Type != "" {
			updates["type"] = regReq.Type
		}
		if len(regReq.Capabilities) > 0 {
			updates["capabilities"] = datatypes.JSON(regReq.Capabilities)
		}
		if len(updates) > 0 {
			if err := r.DB.Model(&printer).Updates(updates).Error; err != nil {
				respondError(w, http.StatusInternalServerError, "Failed to update printer")
				return
			}
		}
		respondJSON(w, http.StatusOK, printer)
	}
}

// listPrinters returns the caller's printers with their online state
func (r *Router) listPrinters(w http.ResponseWriter, req *http.Request) {
	userID, _ := middleware.UserID(req.Context())

	var printers []models.Printer
	if err := r.DB.Where("user_id = ?", userID).Order("created_at ASC").Find(&printers).Error; err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list printers")
		return
	}

	views := make([]printerView, 0, len(printers))
	for _, p := range printers {
		views = append(views, printerView{
			Printer:  p,
			IsOnline: p.Status == models.PrinterStatusOnline && p.SeenWithin(r.Cfg.Pipeline.DisplayWindow),
		})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"printers": views})
}

// printerHeartbeat lets an agent report liveness over plain HTTP when its
// websocket is down
func (r *Router) printerHeartbeat(w http.ResponseWriter, req *http.Request) {
	printer, ok := r.userPrinter(w, req)
	if !ok {
		return
	}

	var body struct {
		JobCount int `json:"jobCount"`
	}
	_ = json.NewDecoder(req.Body).Decode(&body)

	if err := r.Tracker.Heartbeat(req.Context(), printer.ID, body.JobCount); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to record heartbeat")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// deletePrinter removes a printer. Refused while the printer still has
// queued or in-flight jobs.
func (r *Router) deletePrinter(w http.ResponseWriter, req *http.Request) {
	printer, ok := r.userPrinter(w, req)
	if !ok {
		return
	}

	outstanding, err := r.Store.CountPendingForPrinter(req.Context(), printer.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to check printer jobs")
		return
	}
	if outstanding > 0 {
		respondError(w, http.StatusConflict,
			fmt.Sprintf("Printer has %d outstanding jobs; cancel them first", outstanding))
		return
	}

	if err := r.DB.Delete(printer).Error; err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to delete printer")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Printer deleted"})
}

// testPrint enqueues an urgent test job so the operator can verify the
// agent end to end
func (r *Router) testPrint(w http.ResponseWriter, req *http.Request) {
	printer, ok := r.userPrinter(w, req)
	if !ok {
		return
	}
	userID, _ := middleware.UserID(req.Context())

	job, err := r.Store.Enqueue(req.Context(), queue.JobSpec{
		UserID:    userID,
		PrinterID: printer.ID,
		Priority:  models.PriorityUrgent,
		Payload: map[string]interface{}{
			"test":        true,
			"printerName": printer.Name,
			"requestedAt": time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to enqueue test print")
		return
	}
	respondJSON(w, http.StatusCreated, job)
}

// printerStats reports completion counts and failure rate for one printer
func (r *Router) printerStats(w http.ResponseWriter, req *http.Request) {
	printer, ok := r.userPrinter(w, req)
	if !ok {
		return
	}

	days := queryInt(req, "days", 7)
	if days <= 0 || days > 90 {
		days = 7
	}
	since := time.Now().UTC().AddDate(0, 0, -days)

	stats, err := r.History.StatsForPrinter(req.Context(), printer.ID, since)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to compute stats")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"printerId": printer.ID,
		"days":      days,
		"stats":     stats,
	})
}

// userPrinter loads the printer in the route and checks ownership
func (r *Router) userPrinter(w http.ResponseWriter, req *http.Request) (*models.Printer, bool) {
	userID, _ := middleware.UserID(req.Context())
	id := mux.Vars(req)["id"]

	var printer models.Printer
	if err := r.DB.Where("id = ? AND user_id = ?", id, userID).First(&printer).Error; err != nil {
		respondError(w, http.StatusNotFound, "Printer not found")
		return nil, false
	}
	return &printer, true
}
