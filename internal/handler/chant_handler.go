package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/hitoshi/choraleadmin/internal/chant"
	"github.com/hitoshi/choraleadmin/internal/model"
)

// ChantServiceInterface は楽曲ハンドラーが必要とするサービスインターフェース。
type ChantServiceInterface interface {
	List(ctx context.Context, filter model.ChantFilter) (*chant.Listing, error)
	Get(ctx context.Context, id string) (*model.Chant, error)
	Update(ctx context.Context, actorID, id string, in chant.Input) (*model.Chant, error)
	Delete(ctx context.Context, actorID, id string) error
}

var _ ChantServiceInterface = (*chant.Service)(nil)

// ChantHandler は楽曲管理のHTTPハンドラー。
type ChantHandler struct {
	service  ChantServiceInterface
	validate *validator.Validate
}

// NewChantHandler はChantHandlerを生成する。
func NewChantHandler(service ChantServiceInterface) *ChantHandler {
	return &ChantHandler{service: service, validate: newValidator()}
}

// chantRequest は楽曲更新リクエストのボディ。
type chantRequest struct {
	Title     string `json:"titre" validate:"required,max=1000"`
	ChoraleID string `json:"chorale_id" validate:"required"`
}

type chantResponse struct {
	ID          string    `json:"id"`
	ChoraleID   string    `json:"chorale_id"`
	ChoraleName string    `json:"chorale_nom"`
	Title       string    `json:"titre"`
	Composer    string    `json:"compositeur"`
	Lyrics      string    `json:"paroles,omitempty"`
	AudioURL    string    `json:"audio_url"`
	Duration    int       `json:"duree"`
	Language    string    `json:"langue"`
	Category    string    `json:"categorie"`
	Pupitre     string    `json:"pupitre"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type chantListResponse struct {
	Chants []chantResponse `json:"chants"`
	Counts struct {
		Total      int `json:"total"`
		Soprano    int `json:"soprano"`
		Alto       int `json:"alto"`
		TenorBasse int `json:"tenor_basse"`
	} `json:"compteurs"`
}

func toChantResponse(ch *model.Chant) chantResponse {
	return chantResponse{
		ID:          ch.ID,
		ChoraleID:   ch.ChoraleID,
		ChoraleName: ch.ChoraleName,
		Title:       ch.Title,
		Composer:    ch.Composer,
		Lyrics:      ch.Lyrics,
		AudioURL:    ch.AudioURL,
		Duration:    ch.Duration,
		Language:    ch.Language,
		Category:    ch.Category,
		Pupitre:     string(ch.Pupitre),
		CreatedAt:   ch.CreatedAt,
		UpdatedAt:   ch.UpdatedAt,
	}
}

// ListChants は楽曲一覧と声部別件数を返す。歌詞は一覧に含めない。
// GET /api/chants?q=...&chorale_id=...&pupitre=soprano|alto|tenor|basse
func (h *ChantHandler) ListChants(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := model.ChantFilter{
		Query:     query.Get("q"),
		ChoraleID: query.Get("chorale_id"),
	}
	if query.Has("pupitre") {
		p, err := model.ParsePupitre(query.Get("pupitre"))
		if err != nil {
			writeAPIError(w, model.NewInvalidInputError("pupitre inconnu"))
			return
		}
		filter.Pupitre = &p
	}

	listing, err := h.service.List(r.Context(), filter)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	var resp chantListResponse
	resp.Chants = make([]chantResponse, 0, len(listing.Chants))
	for _, ch := range listing.Chants {
		c := toChantResponse(ch)
		c.Lyrics = ""
		resp.Chants = append(resp.Chants, c)
	}
	resp.Counts.Total = listing.Summary.Total
	resp.Counts.Soprano = listing.Summary.Soprano
	resp.Counts.Alto = listing.Summary.Alto
	resp.Counts.TenorBasse = listing.Summary.TenorBasse
	writeJSON(w, http.StatusOK, resp)
}

// GetChant は楽曲詳細を返す。
// GET /api/chants/{id}
func (h *ChantHandler) GetChant(w http.ResponseWriter, r *http.Request) {
	ch, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toChantResponse(ch))
}

// UpdateChant は楽曲のタイトルと所属チョラルを更新する。
// PUT /api/chants/{id}
func (h *ChantHandler) UpdateChant(w http.ResponseWriter, r *http.Request) {
	session, ok := currentSession(w, r)
	if !ok {
		return
	}
	var req chantRequest
	if !decodeRequest(w, r, h.validate, &req) {
		return
	}

	ch, err := h.service.Update(r.Context(), session.Identity.ID, chi.URLParam(r, "id"), chant.Input{
		Title:     req.Title,
		ChoraleID: req.ChoraleID,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toChantResponse(ch))
}

// DeleteChant は楽曲を削除する。
// DELETE /api/chants/{id}
func (h *ChantHandler) DeleteChant(w http.ResponseWriter, r *http.Request) {
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
