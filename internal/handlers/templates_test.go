package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/shopflow/printbridge/internal/models"
)

func TestTemplateCRUD(t *testing.T) {
	r, db := newTestRouter(t)
	_, token := createTestUser(t, db)

	rec := doJSON(t, r, http.MethodPost, "/api/templates", token, TemplateRequest{
		Name:   "Standard label",
		Kind:   models.TemplateKindShippingLabel,
		Layout: json.RawMessage(`{"size":"100x150"}`),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	var template models.Template
	if err := json.Unmarshal(rec.Body.Bytes(), &template); err != nil {
		t.Fatalf("decode template: %v", err)
	}

	rec = doJSON(t, r, http.MethodGet, "/api/templates", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d, want 200", rec.Code)
	}
	var listResp struct {
		Templates []models.Template `json:"templates"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listResp.Templates) != 1 {
		t.Fatalf("listed %d templates, want 1", len(listResp.Templates))
	}

	rec = doJSON(t, r, http.MethodPut, fmt.Sprintf("/api/templates/%d", template.ID), token, TemplateRequest{
		Name: "Renamed label",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var renamed models.Template
	if err := db.First(&renamed, template.ID).Error; err != nil {
		t.Fatalf("reload template: %v", err)
	}
	if renamed.Name != "Renamed label" {
		t.Errorf("name = %q, want %q", renamed.Name, "Renamed label")
	}

	rec = doJSON(t, r, http.MethodDelete, fmt.Sprintf("/api/templates/%d", template.ID), token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d, want 200", rec.Code)
	}
	if err := db.First(&models.Template{}, template.ID).Error; err == nil {
		t.Error("template still readable after delete")
	}
}

func TestTemplateCreateValidation(t *testing.T) {
	r, db := newTestRouter(t)
	_, token := createTestUser(t, db)

	rec := doJSON(t, r, http.MethodPost, "/api/templates", token, TemplateRequest{Kind: models.TemplateKindPackingSlip})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("nameless create status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, r, http.MethodPost, "/api/templates", token, TemplateRequest{Name: "Bad", Kind: "poster"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown kind status = %d, want 400", rec.Code)
	}
}

func TestTemplateDefaultIsExclusivePerKind(t *testing.T) {
	r, db := newTestRouter(t)
	user, token := createTestUser(t, db)

	first := models.Template{UserID: user.ID, Name: "A", Kind: models.TemplateKindShippingLabel, IsDefault: true}
	second := models.Template{UserID: user.ID, Name: "B", Kind: models.TemplateKindShippingLabel}
	slip := models.Template{UserID: user.ID, Name: "S", Kind: models.TemplateKindPackingSlip, IsDefault: true}
	for _, tmpl := range []*models.Template{&first, &second, &slip} {
		if err := db.Create(tmpl).Error; err != nil {
			t.Fatalf("create template: %v", err)
		}
	}

	rec := doJSON(t, r, http.MethodPost, fmt.Sprintf("/api/templates/%d/default", second.ID), token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("set default status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	check := func(id uint, want bool) {
		t.Helper()
		var tmpl models.Template
		if err := db.First(&tmpl, id).Error; err != nil {
			t.Fatalf("reload template %d: %v", id, err)
		}
		if tmpl.IsDefault != want {
			t.Errorf("template %d is_default = %v, want %v", id, tmpl.IsDefault, want)
		}
	}
	check(first.ID, false)
	check(second.ID, true)
	// Other kinds keep their own default
	check(slip.ID, true)
}

func TestTemplateDeleteRefusedWhileShopDefault(t *testing.T) {
	r, db := newTestRouter(t)
	user, token := createTestUser(t, db)

	template := models.Template{UserID: user.ID, Name: "Shop default", Kind: models.TemplateKindShippingLabel}
	if err := db.Create(&template).Error; err != nil {
		t.Fatalf("create template: %v", err)
	}
	shop := models.Shop{UserID: user.ID, PlatformShopID: "shop-1", DefaultTemplate: &template.ID}
	if err := db.Create(&shop).Error; err != nil {
		t.Fatalf("create shop: %v", err)
	}

	rec := doJSON(t, r, http.MethodDelete, fmt.Sprintf("/api/templates/%d", template.ID), token, nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("delete status = %d, want 409", rec.Code)
	}
}

func TestTemplatesScopedToOwner(t *testing.T) {
	r, db := newTestRouter(t)
	_, token := createTestUser(t, db)

	foreign := models.Template{UserID: "someone-else", Name: "Not yours"}
	if err := db.Create(&foreign).Error; err != nil {
		t.Fatalf("create template: %v", err)
	}

	rec := doJSON(t, r, http.MethodGet, fmt.Sprintf("/api/templates/%d", foreign.ID), token, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for foreign template", rec.Code)
	}
}
