package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/choraleadmin/internal/chant"
	"github.com/hitoshi/choraleadmin/internal/model"
)

func TestChantHandler_ListChants(t *testing.T) {
	var gotFilter model.ChantFilter
	svc := &mockChantService{
		listFn: func(_ context.Context, filter model.ChantFilter) (*chant.Listing, error) {
			gotFilter = filter
			chants := []*model.Chant{
				{ID: "ch-1", ChoraleName: "Chœur de Lyon", Title: "Ave Maria", Lyrics: "Ave Maria, gratia plena", Pupitre: model.PupitreSoprano},
				{ID: "ch-2", ChoraleName: "Chœur de Lyon", Title: "Requiem", Pupitre: model.PupitreBasse},
			}
			return &chant.Listing{Chants: chants, Summary: model.SummarizeChants(chants)}, nil
		},
	}
	h := NewChantHandler(svc)

	w := httptest.NewRecorder()
	h.ListChants(w, httptest.NewRequest(http.MethodGet, "/api/chants?q=ave&pupitre=soprano&chorale_id=c-1", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if gotFilter.Query != "ave" || gotFilter.ChoraleID != "c-1" || gotFilter.Pupitre == nil || *gotFilter.Pupitre != model.PupitreSoprano {
		t.Errorf("filter = %+v", gotFilter)
	}

	var resp struct {
		Chants []map[string]any `json:"chants"`
		Counts map[string]int   `json:"compteurs"`
	}
	decodeBody(t, w, &resp)
	if len(resp.Chants) != 2 || resp.Chants[0]["chorale_nom"] != "Chœur de Lyon" {
		t.Fatalf("chants = %v", resp.Chants)
	}
	if _, ok := resp.Chants[0]["paroles"]; ok {
		t.Error("lyrics should not be listed")
	}
	if resp.Counts["total"] != 2 || resp.Counts["soprano"] != 1 || resp.Counts["tenor_basse"] != 1 {
		t.Errorf("counts = %v", resp.Counts)
	}
}

func TestChantHandler_ListChants_PupitreFilter(t *testing.T) {
	var gotFilter model.ChantFilter
	h := NewChantHandler(&mockChantService{
		listFn: func(_ context.Context, filter model.ChantFilter) (*chant.Listing, error) {
			gotFilter = filter
			return &chant.Listing{}, nil
		},
	})

	w := httptest.NewRecorder()
	h.ListChants(w, httptest.NewRequest(http.MethodGet, "/api/chants", nil))
	if w.Code != http.StatusOK || gotFilter.Pupitre != nil {
		t.Errorf("no pupitre param: status = %d, filter = %+v", w.Code, gotFilter)
	}

	// 空のpupitreは全声部向けの楽曲を指す
	w = httptest.NewRecorder()
	h.ListChants(w, httptest.NewRequest(http.MethodGet, "/api/chants?pupitre=", nil))
	if w.Code != http.StatusOK || gotFilter.Pupitre == nil || *gotFilter.Pupitre != model.PupitreTous {
		t.Errorf("empty pupitre: status = %d, filter = %+v", w.Code, gotFilter)
	}

	w = httptest.NewRecorder()
	h.ListChants(w, httptest.NewRequest(http.MethodGet, "/api/chants?pupitre=baryton", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown pupitre status = %d, want 400", w.Code)
	}
}

func TestChantHandler_GetChant(t *testing.T) {
	h := NewChantHandler(&mockChantService{
		getFn: func(_ context.Context, id string) (*model.Chant, error) {
			return &model.Chant{ID: id, Title: "Ave Maria", Lyrics: "Ave Maria, gratia plena"}, nil
		},
	})

	req := withChiURLParams(httptest.NewRequest(http.MethodGet, "/api/chants/ch-1", nil), "id", "ch-1")
	w := httptest.NewRecorder()
	h.GetChant(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp map[string]any
	decodeBody(t, w, &resp)
	if resp["paroles"] != "Ave Maria, gratia plena" {
		t.Errorf("detail should include lyrics: %v", resp)
	}
}

func TestChantHandler_GetChant_NotFound(t *testing.T) {
	h := NewChantHandler(&mockChantService{})

	req := withChiURLParams(httptest.NewRequest(http.MethodGet, "/api/chants/ch-x", nil), "id", "ch-x")
	w := httptest.NewRecorder()
	h.GetChant(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if code := errorCode(t, w); code != model.ErrCodeChantNotFound {
		t.Errorf("code = %q", code)
	}
}

func TestChantHandler_UpdateChant(t *testing.T) {
	var gotActor, gotID string
	var gotInput chant.Input
	h := NewChantHandler(&mockChantService{
		updateFn: func(_ context.Context, actorID, id string, in chant.Input) (*model.Chant, error) {
			gotActor, gotID, gotInput = actorID, id, in
			return &model.Chant{ID: id, Title: in.Title, ChoraleID: in.ChoraleID, ChoraleName: "Maîtrise de Paris"}, nil
		},
	})

	body := `{"titre":"Ave Maria","chorale_id":"c-paris"}`
	req := withChiURLParams(withSession(httptest.NewRequest(http.MethodPut, "/api/chants/ch-1", strings.NewReader(body)), model.RoleAdmin, "u-admin"), "id", "ch-1")
	w := httptest.NewRecorder()
	h.UpdateChant(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if gotActor != "u-admin" || gotID != "ch-1" || gotInput.ChoraleID != "c-paris" {
		t.Errorf("actor=%q id=%q input=%+v", gotActor, gotID, gotInput)
	}
	var resp map[string]any
	decodeBody(t, w, &resp)
	if resp["chorale_nom"] != "Maîtrise de Paris" {
		t.Errorf("resp = %v", resp)
	}
}

func TestChantHandler_UpdateChant_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing title", `{"chorale_id":"c-1"}`},
		{"missing chorale", `{"titre":"Ave"}`},
		{"malformed", `{"titre":`},
		{"fields managed by the mobile app", `{"titre":"Ave","chorale_id":"c-1","compositeur":"Caccini"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			h := NewChantHandler(&mockChantService{
				updateFn: func(context.Context, string, string, chant.Input) (*model.Chant, error) {
					called = true
					return nil, nil
				},
			})
			req := withChiURLParams(withSession(httptest.NewRequest(http.MethodPut, "/api/chants/ch-1", strings.NewReader(tt.body)), model.RoleAdmin, "u-admin"), "id", "ch-1")
			w := httptest.NewRecorder()
			h.UpdateChant(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
			if called {
				t.Error("service should not be called for invalid input")
			}
		})
	}
}

func TestChantHandler_UpdateChant_UnknownChorale(t *testing.T) {
	h := NewChantHandler(&mockChantService{
		updateFn: func(_ context.Context, _, _ string, in chant.Input) (*model.Chant, error) {
			return nil, model.NewChoraleNotFoundError(in.ChoraleID)
		},
	})
	body := `{"titre":"Ave","chorale_id":"c-none"}`
	req := withChiURLParams(withSession(httptest.NewRequest(http.MethodPut, "/api/chants/ch-1", strings.NewReader(body)), model.RoleAdmin, "u-admin"), "id", "ch-1")
	w := httptest.NewRecorder()
	h.UpdateChant(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestChantHandler_DeleteChant(t *testing.T) {
	var deleted string
	h := NewChantHandler(&mockChantService{
		deleteFn: func(_ context.Context, _, id string) error {
			deleted = id
			return nil
		},
	})

	req := withChiURLParams(withSession(httptest.NewRequest(http.MethodDelete, "/api/chants/ch-1", nil), model.RoleAdmin, "u-admin"), "id", "ch-1")
	w := httptest.NewRecorder()
	h.DeleteChant(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if deleted != "ch-1" {
		t.Errorf("deleted = %q", deleted)
	}

	w = httptest.NewRecorder()
	h.DeleteChant(w, httptest.NewRequest(http.MethodDelete, "/api/chants/ch-1", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("without session status = %d, want 401", w.Code)
	}
}
