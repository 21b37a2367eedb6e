package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/hitoshi/choraleadmin/internal/chorale"
	"github.com/hitoshi/choraleadmin/internal/model"
)

// ChoraleServiceInterface はチョラルハンドラーが必要とするサービスインターフェース。
type ChoraleServiceInterface interface {
	List(ctx context.Context, filter model.ChoraleFilter) ([]model.ChoraleWithCounts, error)
	Get(ctx context.Context, id string) (*model.Chorale, error)
	Create(ctx context.Context, actorID string, in chorale.Input) (*model.Chorale, error)
	Update(ctx context.Context, actorID, id string, in chorale.Input) (*model.Chorale, error)
	ToggleStatus(ctx context.Context, actorID, id string) (*model.Chorale, error)
	Delete(ctx context.Context, actorID, id string) error
}

var _ ChoraleServiceInterface = (*chorale.Service)(nil)

// ChoraleHandler はチョラル管理のHTTPハンドラー。
type ChoraleHandler struct {
	service  ChoraleServiceInterface
	validate *validator.Validate
}

// NewChoraleHandler はChoraleHandlerを生成する。
func NewChoraleHandler(service ChoraleServiceInterface) *ChoraleHandler {
	return &ChoraleHandler{service: service, validate: newValidator()}
}

// choraleRequest はチョラル作成・更新リクエストのボディ。
// 名前の長さとURLの安全性はサービス層で検証する。
type choraleRequest struct {
	Name         string `json:"nom" validate:"required"`
	Description  string `json:"description" validate:"max=5000"`
	LogoURL      string `json:"logo_url" validate:"max=2048"`
	ThemeColor   string `json:"couleur_theme" validate:"omitempty,hexcolor"`
	ContactEmail string `json:"email_contact" validate:"omitempty,email,max=254"`
	Phone        string `json:"telephone" validate:"max=40"`
	Address      string `json:"adresse" validate:"max=500"`
	City         string `json:"ville" validate:"max=120"`
	Country      string `json:"pays" validate:"max=120"`
	Website      string `json:"site_web" validate:"max=2048"`
}

func (req choraleRequest) input() chorale.Input {
	return chorale.Input{
		Name:         req.Name,
		Description:  req.Description,
		LogoURL:      req.LogoURL,
		ThemeColor:   req.ThemeColor,
		ContactEmail: req.ContactEmail,
		Phone:        req.Phone,
		Address:      req.Address,
		City:         req.City,
		Country:      req.Country,
		Website:      req.Website,
	}
}

// choraleResponse はチョラル情報のAPIレスポンス。
type choraleResponse struct {
	ID           string    `json:"id"`
	Name         string    `json:"nom"`
	Slug         string    `json:"slug"`
	Description  string    `json:"description"`
	LogoURL      string    `json:"logo_url"`
	ThemeColor   string    `json:"couleur_theme"`
	ContactEmail string    `json:"email_contact"`
	Phone        string    `json:"telephone"`
	Address      string    `json:"adresse"`
	City         string    `json:"ville"`
	Country      string    `json:"pays"`
	Website      string    `json:"site_web"`
	Status       string    `json:"statut"`
	MemberCount  *int      `json:"nombre_membres,omitempty"`
	SongCount    *int      `json:"nombre_chants,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toChoraleResponse(c *model.Chorale) choraleResponse {
	return choraleResponse{
		ID:           c.ID,
		Name:         c.Name,
		Slug:         c.Slug,
		Description:  c.Description,
		LogoURL:      c.LogoURL,
		ThemeColor:   c.ThemeColor,
		ContactEmail: c.ContactEmail,
		Phone:        c.Phone,
		Address:      c.Address,
		City:         c.City,
		Country:      c.Country,
		Website:      c.Website,
		Status:       string(c.Status),
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

// ListChorales はチョラル一覧を返す。
// GET /api/chorales?q=...&statut=actif|inactif
func (h *ChoraleHandler) ListChorales(w http.ResponseWriter, r *http.Request) {
	filter := model.ChoraleFilter{Query: r.URL.Query().Get("q")}
	switch status := model.ChoraleStatus(r.URL.Query().Get("statut")); status {
	case "", model.ChoraleActive, model.ChoraleInactive:
		filter.Status = status
	default:
		writeAPIError(w, model.NewInvalidInputError("statut inconnu"))
		return
	}

	chorales, err := h.service.List(r.Context(), filter)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]choraleResponse, 0, len(chorales))
	for i := range chorales {
		c := toChoraleResponse(&chorales[i].Chorale)
		c.MemberCount = &chorales[i].MemberCount
		c.SongCount = &chorales[i].SongCount
		resp = append(resp, c)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetChorale はチョラル詳細を返す。
// GET /api/chorales/{id}
func (h *ChoraleHandler) GetChorale(w http.ResponseWriter, r *http.Request) {
	c, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toChoraleResponse(c))
}

// CreateChorale はチョラルを作成する。
// POST /api/chorales
func (h *ChoraleHandler) CreateChorale(w http.ResponseWriter, r *http.Request) {
	session, ok := currentSession(w, r)
	if !ok {
		return
	}
	var req choraleRequest
	if !decodeRequest(w, r, h.validate, &req) {
		return
	}

	c, err := h.service.Create(r.Context(), session.Identity.ID, req.input())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toChoraleResponse(c))
}

// UpdateChorale はチョラル情報を更新する。
// PUT /api/chorales/{id}
func (h *ChoraleHandler) UpdateChorale(w http.ResponseWriter, r *http.Request) {
	session, ok := currentSession(w, r)
	if !ok {
		return
	}
	var req choraleRequest
	if !decodeRequest(w, r, h.validate, &req) {
		return
	}

	c, err := h.service.Update(r.Context(), session.Identity.ID, chi.URLParam(r, "id"), req.input())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toChoraleResponse(c))
}

// ToggleChoraleStatus は稼働状態を切り替える。
// POST /api/chorales/{id}/toggle-status
func (h *ChoraleHandler) ToggleChoraleStatus(w http.ResponseWriter, r *http.Request) {
	session, ok := currentSession(w, r)
	if !ok {
		return
	}

	c, err := h.service.ToggleStatus(r.Context(), session.Identity.ID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toChoraleResponse(c))
}

// DeleteChorale はチョラルを削除する。
// DELETE /api/chorales/{id}
func (h *ChoraleHandler) DeleteChorale(w http.ResponseWriter, r *http.Request) {
	session, ok := currentSession(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), session.Identity.ID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
