package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/shopflow/printbridge/internal/middleware"
	"github.com/shopflow/printbridge/internal/models"
	"github.com/shopflow/printbridge/internal/queue"
)

// listJobs returns the caller's print jobs, newest first
func (r *Router) listJobs(w http.ResponseWriter, req *http.Request) {
	userID, _ := middleware.UserID(req.Context())

	q := r.DB.Model(&models.PrintJob{}).Where("user_id = ?", userID)
	if status := req.URL.Query().Get("status"); status != "" {
		q = q.Where("status = ?", status)
	}
	if printerID := req.URL.Query().Get("printer_id"); printerID != "" {
		q = q.Where("printer_id = ?", printerID)
	}
	if orderID := req.URL.Query().Get("order_id"); orderID != "" {
		q = q.Where("order_id = ?", orderID)
	}

	limit := queryInt(req, "limit", 50)
	if limit > 200 {
		limit = 200
	}
	offset := queryInt(req, "offset", 0)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to count jobs")
		return
	}

	var jobs []models.PrintJob
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&jobs).Error; err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":   jobs,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// jobStats returns the caller's job counts per status
func (r *Router) jobStats(w http.ResponseWriter, req *http.Request) {
	userID, _ := middleware.UserID(req.Context())

	counts, err := r.Store.StatusCounts(req.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to compute stats")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"counts": counts})
}

// getJob returns one job together with its full history timeline
func (r *Router) getJob(w http.ResponseWriter, req *http.Request) {
	job, ok := r.userJob(w, req)
	if !ok {
		return
	}

	timeline, err := r.History.Timeline(req.Context(), job.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to load job history")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"job":     job,
		"history": timeline,
	})
}

// reprintJob clones a failed job into a fresh pending one
func (r *Router) reprintJob(w http.ResponseWriter, req *http.Request) {
	job, ok := r.userJob(w, req)
	if !ok {
		return
	}

	fresh, err := r.Completion.Reprint(req.Context(), job.ID)
	if err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, fresh)
}

// cancelJob cancels a job that has not been dispatched yet
func (r *Router) cancelJob(w http.ResponseWriter, req *http.Request) {
	job, ok := r.userJob(w, req)
	if !ok {
		return
	}

	cancelled, err := r.Store.Transition(req.Context(), job.ID, nil, models.JobStatusCancelled, queue.TransitionUpdate{})
	if err != nil {
		if errors.Is(err, queue.ErrConflict) {
			respondError(w, http.StatusConflict, "Job is already printing or finished")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to cancel job")
		return
	}
	respondJSON(w, http.StatusOK, cancelled)
}

// userJob loads the job in the route and checks ownership
func (r *Router) userJob(w http.ResponseWriter, req *http.Request) (*models.PrintJob, bool) {
	userID, _ := middleware.UserID(req.Context())
	id := mux.Vars(req)["id"]

	var job models.PrintJob
	if err := r.DB.Where("id = ? AND user_id = ?", id, userID).First(&job).Error; err != nil {
		respondError(w, http.StatusNotFound, "Job not found")
		return nil, false
	}
	return &job, true
}
