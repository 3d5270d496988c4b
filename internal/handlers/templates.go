package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"gorm.io/datatypes"

	"github.com/shopflow/printbridge/internal/middleware"
	"github.com/shopflow/printbridge/internal/models"
)

// TemplateRequest carries the operator-editable template fields
type TemplateRequest struct {
	Name      string              `json:"name"`
	Kind      models.TemplateKind `json:"kind,omitempty"`
	Layout    json.RawMessage     `json:"layout,omitempty"`
	IsDefault bool                `json:"isDefault,omitempty"`
}

func validTemplateKind(kind models.TemplateKind) bool {
	switch kind {
	case models.TemplateKindShippingLabel, models.TemplateKindPackingSlip:
		return true
	}
	return false
}

// listTemplates returns the caller's templates
func (r *Router) listTemplates(w http.ResponseWriter, req *http.Request) {
	userID, _ := middleware.UserID(req.Context())

	q := r.DB.Where("user_id = ?", userID)
	if kind := req.URL.Query().Get("kind"); kind != "" {
		q = q.Where("kind = ?", kind)
	}

	var templates []models.Template
	if err := q.Order("created_at ASC").Find(&templates).Error; err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list templates")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"templates": templates})
}

// createTemplate stores a new document layout
func (r *Router) createTemplate(w http.ResponseWriter, req *http.Request) {
	userID, _ := middleware.UserID(req.Context())

	var tmplReq TemplateRequest
	if err := json.NewDecoder(req.Body).Decode(&tmplReq); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if tmplReq.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	kind := tmplReq.Kind
	if kind == "" {
		kind = models.TemplateKindShippingLabel
	}
	if !validTemplateKind(kind) {
		respondError(w, http.StatusBadRequest, "Unknown template kind")
		return
	}

	template := models.Template{
		UserID: userID,
		Name:   tmplReq.Name,
		Kind:   kind,
		Layout: datatypes.JSON(tmplReq.Layout),
	}
	if err := r.DB.Create(&template).Error; err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to create template")
		return
	}

	if tmplReq.IsDefault {
		if err := r.makeDefaultTemplate(&template); err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to set default template")
			return
		}
	}
	respondJSON(w, http.StatusCreated, template)
}

// getTemplate returns one template
func (r *Router) getTemplate(w http.ResponseWriter, req *http.Request) {
	template, ok := r.userTemplate(w, req)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, template)
}

// updateTemplate changes a template's name, kind, or layout
func (r *Router) updateTemplate(w http.ResponseWriter, req *http.Request) {
	template, ok := r.userTemplate(w, req)
	if !ok {
		return
	}

	var tmplReq TemplateRequest
	if err := json.NewDecoder(req.Body).Decode(&tmplReq); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	updates := map[string]interface{}{}
	if tmplReq.Name != "" {
		updates["name"] = tmplReq.Name
	}
	if tmplReq.Kind != "" {
		if !validTemplateKind(tmplReq.Kind) {
			respondError(w, http.StatusBadRequest, "Unknown template kind")
			return
		}
		updates["kind"] = tmplReq.Kind
	}
	if len(tmplReq.Layout) > 0 {
		updates["layout"] = datatypes.JSON(tmplReq.Layout)
	}
	if len(updates) > 0 {
		if err := r.DB.Model(template).Updates(updates).Error; err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to update template")
			return
		}
	}

	if tmplReq.IsDefault && !template.IsDefault {
		if err := r.makeDefaultTemplate(template); err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to set default template")
			return
		}
	}
	respondJSON(w, http.StatusOK, template)
}

// setDefaultTemplate marks a template as the default for its kind
func (r *Router) setDefaultTemplate(w http.ResponseWriter, req *http.Request) {
	template, ok := r.userTemplate(w, req)
	if !ok {
		return
	}
	if err := r.makeDefaultTemplate(template); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to set default template")
		return
	}
	respondJSON(w, http.StatusOK, template)
}

// makeDefaultTemplate flips the default flag to one template per kind
func (r *Router) makeDefaultTemplate(template *models.Template) error {
	err := r.DB.Model(&models.Template{}).
		Where("user_id = ? AND kind = ? AND id <> ?", template.UserID, template.Kind, template.ID).
		Update("is_default", false).Error
	if err != nil {
		return err
	}
	if err := r.DB.Model(template).Update("is_default", true).Error; err != nil {
		return err
	}
	template.IsDefault = true
	return nil
}

// deleteTemplate removes a template unless a shop still uses it as default
func (r *Router) deleteTemplate(w http.ResponseWriter, req *http.Request) {
	template, ok := r.userTemplate(w, req)
	if !ok {
		return
	}

	var inUse int64
	err := r.DB.Model(&models.Shop{}).
		Where("default_template = ?", template.ID).
		Count(&inUse).Error
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to check template usage")
		return
	}
	if inUse > 0 {
		respondError(w, http.StatusConflict, "Template is the default for a connected shop")
		return
	}

	if err := r.DB.Delete(template).Error; err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to delete template")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Template deleted"})
}

// userTemplate loads the template in the route and checks ownership
func (r *Router) userTemplate(w http.ResponseWriter, req *http.Request) (*models.Template, bool) {
	userID, _ := middleware.UserID(req.Context())
	id := mux.Vars(req)["id"]

	var template models.Template
	if err := r.DB.Where("id = ? AND user_id = ?", id, userID).First(&template).Error; err != nil {
		respondError(w, http.StatusNotFound, "Template not found")
		return nil, false
	}
	return &template, true
}
