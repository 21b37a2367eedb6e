package handler

import (
	"bytes"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/hitoshi/choraleadmin/internal/model"
)

var dashboardTemplate = template.Must(template.New("dashboard").Parse(`<!doctype html>
<html lang="fr">
<head><meta charset="utf-8"><title>Tableau de bord</title></head>
<body>
<header><p>Connecté en tant que {{.FullName}} ({{.Role}})</p></header>
<main>
<h1>Tableau de bord</h1>
{{with .Stats}}<ul>
<li>Chorales : {{.TotalChorales}} ({{.ActiveChorales}} actives, {{.ActivePercent}} %)</li>
<li>Membres : {{.TotalMembers}}</li>
<li>En attente de validation : {{.PendingMembers}} ({{.PendingPercent}} %)</li>
<li>Chants : {{.TotalSongs}}</li>
<li>Administrateurs : {{.TotalAdmins}}</li>
</ul>{{else}}<p>Statistiques indisponibles.</p>{{end}}
</main>
</body>
</html>
`))

type dashboardView struct {
	FullName string
	Role     string
	Stats    *model.DashboardStats
}

// DashboardHandler はルートガードの内側に置く管理画面の入口。
type DashboardHandler struct {
	stats StatsServiceInterface
}

// NewDashboardHandler はDashboardHandlerを生成する。
func NewDashboardHandler(stats StatsServiceInterface) *DashboardHandler {
	return &DashboardHandler{stats: stats}
}

// Show はダッシュボードを描画する。集計の取得に失敗しても画面は表示する。
// GET /dashboard
func (h *DashboardHandler) Show(w http.ResponseWriter, r *http.Request) {
	session, ok := currentSession(w, r)
	if !ok {
		return
	}

	view := dashboardView{
		FullName: session.Profile.FullName,
		Role:     string(session.Profile.Role),
	}
	s, err := h.stats.Dashboard(r.Context())
	if err != nil {
		slog.Warn("failed to load dashboard stats", slog.String("error", err.Error()))
	} else {
		view.Stats = s
	}

	var buf bytes.Buffer
	if err := dashboardTemplate.Execute(&buf, view); err != nil {
		slog.Error("failed to render dashboard", slog.String("error", err.Error()))
		http.Error(w, "Erreur interne", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(buf.Bytes())
}
