package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/choraleadmin/internal/audit"
	"github.com/hitoshi/choraleadmin/internal/auth"
	"github.com/hitoshi/choraleadmin/internal/chant"
	"github.com/hitoshi/choraleadmin/internal/chorale"
	"github.com/hitoshi/choraleadmin/internal/config"
	"github.com/hitoshi/choraleadmin/internal/database"
	"github.com/hitoshi/choraleadmin/internal/handler"
	"github.com/hitoshi/choraleadmin/internal/identity"
	"github.com/hitoshi/choraleadmin/internal/logger"
	"github.com/hitoshi/choraleadmin/internal/mailer"
	"github.com/hitoshi/choraleadmin/internal/member"
	"github.com/hitoshi/choraleadmin/internal/metrics"
	"github.com/hitoshi/choraleadmin/internal/middleware"
	"github.com/hitoshi/choraleadmin/internal/model"
	"github.com/hitoshi/choraleadmin/internal/notification"
	"github.com/hitoshi/choraleadmin/internal/permission"
	"github.com/hitoshi/choraleadmin/internal/repository"
	"github.com/hitoshi/choraleadmin/internal/security"
	"github.com/hitoshi/choraleadmin/internal/stats"
	"github.com/hitoshi/choraleadmin/internal/validation"
	"github.com/hitoshi/choraleadmin/internal/worker/cleanup"
)

var _ auth.Provider = (*identity.Client)(nil)

// Init はアプリケーションの初期化を行う。
// ログを先に初期化してから環境変数のConfigを読み込み、LOG_LEVELでログを再設定する。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, "info")

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, cfg.LogLevel)
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandCreateAdmin:
		return runCreateAdmin(cfg, args[1:], os.Getenv("ADMIN_PASSWORD"))
	default:
		return runServe(cfg)
	}
}

// openDB はDB接続を開き、疎通を確認する。
func openDB(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// repositories はPostgreSQLリポジトリ一式。
type repositories struct {
	credentials   *repository.PostgresCredentialRepo
	sessions      *repository.PostgresSessionRepo
	profiles      *repository.PostgresProfileRepo
	chorales      *repository.PostgresChoraleRepo
	chants        *repository.PostgresChantRepo
	otpCodes      *repository.PostgresOTPRepo
	permissions   *repository.PostgresPermissionRepo
	audit         *repository.PostgresAuditRepo
	notifications *repository.PostgresNotificationRepo
	stats         *repository.PostgresStatsRepo
}

func newRepositories(db *sql.DB) *repositories {
	return &repositories{
		credentials:   repository.NewPostgresCredentialRepo(db),
		sessions:      repository.NewPostgresSessionRepo(db),
		profiles:      repository.NewPostgresProfileRepo(db),
		chorales:      repository.NewPostgresChoraleRepo(db),
		chants:        repository.NewPostgresChantRepo(db),
		otpCodes:      repository.NewPostgresOTPRepo(db),
		permissions:   repository.NewPostgresPermissionRepo(db),
		audit:         repository.NewPostgresAuditRepo(db),
		notifications: repository.NewPostgresNotificationRepo(db),
		stats:         repository.NewPostgresStatsRepo(db),
	}
}

func newIdentityService(cfg *config.Config, repos *repositories) *identity.Service {
	return identity.NewService(
		repos.credentials, repos.sessions, repos.profiles, identity.NewBroker(),
		identity.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge, BcryptCost: cfg.BcryptCost},
	)
}

// newMailSender はMAIL_API_KEYが設定されていればHTTP送信、なければログ出力のSenderを返す。
func newMailSender(cfg *config.Config, guard security.URLGuard, recorder mailer.Recorder) mailer.Sender {
	if !cfg.MailEnabled() {
		slog.Warn("MAIL_API_KEY is not set, emails will only be logged")
		return mailer.NewLogSender(slog.Default(), recorder)
	}
	return mailer.NewHTTPSender(guard.NewSafeClient(cfg.MailTimeout), slog.Default(), mailer.HTTPConfig{
		Endpoint: cfg.MailAPIURL,
		APIKey:   cfg.MailAPIKey,
		From:     cfg.MailFrom,
	}, recorder)
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーとクリーンアップジョブを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. リポジトリとメトリクスの初期化
	repos := newRepositories(db)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 3. セキュリティサービスの初期化
	urlGuard := security.NewURLGuard()
	sanitizer := security.NewTextSanitizer()

	// 4. 認証プロバイダーとセッションストア
	idSvc := newIdentityService(cfg, repos)
	authRegistry := auth.NewRegistry(func(token string) auth.Provider {
		return identity.NewClient(idSvc, token)
	}, collector)
	codec := middleware.NewCookieCodec(middleware.CookieConfig{
		Secret: cfg.SessionSecret,
		MaxAge: cfg.SessionMaxAge,
		Secure: cfg.CookieSecure,
		Domain: cfg.CookieDomain,
	})
	sessions := middleware.NewSessions(authRegistry, codec)

	// 5. ドメインサービスの初期化
	auditSvc := audit.NewService(repos.audit)
	sender := newMailSender(cfg, urlGuard, collector)
	notificationSvc := notification.NewService(repos.notifications)
	validationSvc := validation.NewService(repos.profiles, repos.chorales, idSvc, sender, sanitizer, auditSvc)
	recovery := identity.NewRecovery(idSvc, repos.otpCodes, sender, identity.RecoveryConfig{CodeTTL: cfg.PasswordCodeTTL})

	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitLogin))
	defer rateLimiter.Stop()

	// 6. ルーターの構築
	deps := &handler.RouterDeps{
		Logger:         slog.Default(),
		HTTPRecorder:   collector,
		GuardRecorder:  collector,
		MetricsHandler: metrics.Handler(registry),
		HealthChecker:  db,

		Sessions:          sessions,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		CSRF: middleware.CSRFConfig{
			CookieSecure:   cfg.CookieSecure,
			CookieDomain:   cfg.CookieDomain,
			TrustedOrigins: middleware.ParseAllowedOrigins(cfg.CORSAllowedOrigin),
		},

		ChoraleService:      chorale.NewService(repos.chorales, urlGuard, sanitizer, auditSvc),
		ChantService:        chant.NewService(repos.chants, repos.chorales, sanitizer, auditSvc),
		RecoveryService:     recovery,
		UserService:         member.NewService(repos.profiles, repos.chorales, idSvc, sanitizer, auditSvc),
		PermissionService:   permission.NewService(repos.permissions, repos.profiles, auditSvc),
		ValidationService:   validationSvc,
		AuditService:        auditSvc,
		StatsService:        stats.NewService(repos.stats),
		NotificationService: notificationSvc,
	}

	router := handler.NewRouter(deps)

	// 7. バックグラウンドジョブ
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cleanupJob := newCleanupJob(cfg, repos, notificationSvc, collector)
	go cleanupJob.Start(ctx, cfg.SessionCleanupInterval)
	go pruneLoop(ctx, authRegistry, cfg.SessionCleanupInterval)

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	validationSvc.Wait()

	slog.Info("API server stopped gracefully")
	return nil
}

func newCleanupJob(cfg *config.Config, repos *repositories, notifications cleanup.NotificationPurger, recorder cleanup.Recorder) *cleanup.CleanupJob {
	job := cleanup.NewCleanupJob(repos.sessions, notifications, slog.Default(), recorder)
	job.Codes = repos.otpCodes
	if cfg.NotificationRetentionDays > 0 {
		job.RetentionDays = cfg.NotificationRetentionDays
	}
	return job
}

// pruneLoop はプロバイダーセッションが終了したAuthenticatorを定期的にレジストリから取り除く。
func pruneLoop(ctx context.Context, registry *auth.Registry, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := registry.Prune(ctx); n > 0 {
				slog.Info("pruned ended sessions",
					slog.Int("pruned", n),
					slog.Int("remaining", registry.Len()),
				)
			}
		}
	}
}

// runWorker はワーカーモードで起動する。
// APIサーバーとは別プロセスでクリーンアップジョブだけを実行したい場合に使う。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	repos := newRepositories(db)
	collector := metrics.NewCollector(prometheus.NewRegistry())
	job := newCleanupJob(cfg, repos, notification.NewService(repos.notifications), collector)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.SessionCleanupInterval),
		slog.Int("retention_days", job.RetentionDays),
	)

	// メインgoroutineで実行（ブロッキング）
	job.Start(ctx, cfg.SessionCleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("schema_version", uint64(version)),
	)
	return nil
}

// parseCreateAdminArgs は "createadmin <email> <氏名...>" の引数を解析する。
func parseCreateAdminArgs(args []string, password string) (email, fullName string, err error) {
	if len(args) < 2 {
		return "", "", errors.New("usage: createadmin <email> <full name> (password from ADMIN_PASSWORD)")
	}
	email = strings.TrimSpace(args[0])
	fullName = strings.TrimSpace(strings.Join(args[1:], " "))
	if email == "" || fullName == "" {
		return "", "", errors.New("email and full name must not be empty")
	}
	if len(password) < 8 {
		return "", "", errors.New("ADMIN_PASSWORD must be at least 8 characters")
	}
	return email, fullName, nil
}

// runCreateAdmin は承認済みのsuper_adminアカウントを作成する。
// 管理画面からは最初の管理者を作れないため、初期セットアップで使う。
func runCreateAdmin(cfg *config.Config, args []string, password string) error {
	email, fullName, err := parseCreateAdminArgs(args, password)
	if err != nil {
		return err
	}

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	idSvc := newIdentityService(cfg, newRepositories(db))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	userID, err := idSvc.CreateUser(ctx, email, password, &model.Profile{
		FullName:         fullName,
		Email:            email,
		Role:             model.RoleSuperAdmin,
		ValidationStatus: model.StatusValide,
	})
	if err != nil {
		return fmt.Errorf("failed to create super admin: %w", err)
	}

	slog.Info("super admin created",
		slog.String("user_id", userID),
		slog.String("email", email),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
