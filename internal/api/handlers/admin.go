package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/cloo-solutions/supportdesk/internal/api"
	"github.com/cloo-solutions/supportdesk/internal/domain"
	"github.com/cloo-solutions/supportdesk/internal/service"
)

type AdminService interface {
	Profile() service.ProfileInfo
	Reload(ctx context.Context) (service.ProfileInfo, bool, error)
	Normalize(text string) (service.NormalizePreview, error)
}

type AdminHandler struct {
	svc AdminService
}

func NewAdminHandler(svc AdminService) *AdminHandler {
	return &AdminHandler{svc: svc}
}

type NormalizeRequest struct {
	Text string `json:"text"`
}

type ReloadResponse struct {
	Changed bool                `json:"changed"`
	Profile service.ProfileInfo `json:"profile"`
}

func (h *AdminHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	api.Success(w, http.StatusOK, h.svc.Profile())
}

func (h *AdminHandler) ReloadProfile(w http.ResponseWriter, r *http.Request) {
	info, changed, err := h.svc.Reload(r.Context())
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, ReloadResponse{Changed: changed, Profile: info})
}

func (h *AdminHandler) Normalize(w http.ResponseWriter, r *http.Request) {
	var req NormalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, domain.NewDomainError(domain.ErrCodeValidation, "invalid request body"))
		return
	}

	preview, err := h.svc.Normalize(req.Text)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, preview)
}
