package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/choraleadmin/internal/middleware"
)

// HealthChecker はデータベースの疎通確認を行う。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger        *slog.Logger
	HTTPRecorder  middleware.HTTPRecorder
	GuardRecorder middleware.GuardRecorder
	// MetricsHandler がnilの場合は/metricsを公開しない
	MetricsHandler http.Handler
	HealthChecker  HealthChecker

	// ミドルウェア依存
	Sessions          *middleware.Sessions
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRF              middleware.CSRFConfig

	// ドメインサービス
	ChoraleService      ChoraleServiceInterface
	ChantService        ChantServiceInterface
	RecoveryService     RecoveryServiceInterface
	UserService         UserServiceInterface
	PermissionService   PermissionServiceInterface
	ValidationService   ValidationServiceInterface
	AuditService        AuditServiceInterface
	StatsService        StatsServiceInterface
	NotificationService NotificationServiceInterface
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → CORS
//	  /auth/*: CSRF (+ login, password: LoginRateLimit)
//	  保護対象: RouteGuard → RateLimit(General) → CSRF
//
// ルートガードを通過した管理者は全ての画面とAPIに到達できる。
// モジュール権限は/auth/meと/api/permissionsで返すデータであり、ルート単位では検査しない。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware(middleware.SecurityHeadersConfig{HSTS: deps.CSRF.CookieSecure}))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.HTTPRecorder))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.Sessions, deps.PermissionService)
	dashboardHandler := NewDashboardHandler(deps.StatsService)
	choraleHandler := NewChoraleHandler(deps.ChoraleService)
	chantHandler := NewChantHandler(deps.ChantService)
	passwordHandler := NewPasswordHandler(deps.RecoveryService)
	userHandler := NewUserHandler(deps.UserService)
	permHandler := NewPermissionHandler(deps.PermissionService)
	validationHandler := NewValidationHandler(deps.ValidationService)
	adminHandler := NewAdminHandler(deps.AuditService, deps.StatsService, deps.NotificationService)

	// --- 認証不要のルート ---
	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}
	r.Handle("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF))

	r.Route("/auth", func(r chi.Router) {
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))
		r.With(deps.RateLimiter.LoginMiddleware()).Post("/login", authHandler.Login)
		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)
		r.Route("/password", func(r chi.Router) {
			r.Use(deps.RateLimiter.LoginMiddleware())
			r.Post("/code", passwordHandler.RequestCode)
			r.Post("/reset", passwordHandler.Reset)
		})
	})

	// --- ルートガードで保護するルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewRouteGuard(deps.Sessions, middleware.GuardConfig{
			LoginPath: "/login",
			Recorder:  deps.GuardRecorder,
		}))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

		r.Get("/dashboard", dashboardHandler.Show)
		r.Get("/api/stats", adminHandler.Stats)

		// チョラル管理
		r.Route("/api/chorales", func(r chi.Router) {
			r.Get("/", choraleHandler.ListChorales)
			r.Get("/{id}", choraleHandler.GetChorale)
			r.Post("/", choraleHandler.CreateChorale)
			r.Put("/{id}", choraleHandler.UpdateChorale)
			r.Post("/{id}/toggle-status", choraleHandler.ToggleChoraleStatus)
			r.Delete("/{id}", choraleHandler.DeleteChorale)
		})

		// レパートリー（登録はモバイルアプリで行う）
		r.Route("/api/chants", func(r chi.Router) {
			r.Get("/", chantHandler.ListChants)
			r.Get("/{id}", chantHandler.GetChant)
			r.Put("/{id}", chantHandler.UpdateChant)
			r.Delete("/{id}", chantHandler.DeleteChant)
		})

		// ユーザー管理
		r.Route("/api/users", func(r chi.Router) {
			r.Get("/", userHandler.ListUsers)
			r.Post("/", userHandler.CreateUser)
			r.Get("/{id}", userHandler.GetUser)
			r.Put("/{id}", userHandler.UpdateUser)
			r.Delete("/{id}", userHandler.DeleteUser)
		})

		// 権限管理（付与・剥奪はサービス層でsuper_adminに限定する）
		r.Route("/api/permissions", func(r chi.Router) {
			r.Get("/", permHandler.Matrix)
			r.Get("/modules", permHandler.ListModules)
			r.Put("/{userID}/{module}", permHandler.Grant)
			r.Delete("/{userID}/{module}", permHandler.Revoke)
		})

		// メンバー承認
		r.Route("/api/validation", func(r chi.Router) {
			r.Get("/", validationHandler.ListPending)
			r.Post("/{id}/validate", validationHandler.ValidateMember)
			r.Post("/{id}/reject", validationHandler.RejectMember)
		})

		r.Get("/api/logs", adminHandler.ListLogs)

		// 通知
		r.Route("/api/notifications", func(r chi.Router) {
			r.Get("/", adminHandler.ListNotifications)
			r.Get("/unread-count", adminHandler.UnreadCount)
			r.Post("/read-all", adminHandler.MarkAllNotificationsRead)
			r.Post("/{id}/read", adminHandler.MarkNotificationRead)
		})
	})

	return r
}

// healthHandler はDBへの疎通を確認するヘルスチェックハンドラーを返す。
// GET /health
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
