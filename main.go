package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/khanghh/rms/internal/access"
	"github.com/khanghh/rms/internal/audit"
	"github.com/khanghh/rms/internal/auth"
	"github.com/khanghh/rms/internal/common"
	"github.com/khanghh/rms/internal/config"
	"github.com/khanghh/rms/internal/handlers/api"
	"github.com/khanghh/rms/internal/mail"
	"github.com/khanghh/rms/internal/metrics"
	"github.com/khanghh/rms/internal/middlewares"
	"github.com/khanghh/rms/internal/policy"
	"github.com/khanghh/rms/internal/users"
	"github.com/khanghh/rms/model"
	"github.com/khanghh/rms/params"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
	"gorm.io/plugin/dbresolver"
)

const (
	metricsNamespace = "rms"
	shutdownTimeout  = 10 * time.Second
	cliActorName     = "system"
)

var (
	app       *cli.App
	gitCommit string
	gitDate   string
)

var (
	configFileFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "YAML config file",
		Value: "config.yaml",
	}
	debugFlag = &cli.BoolFlag{
		Name:  "debug",
		Usage: "Enable debug logging",
	}
	secretLengthFlag = &cli.IntFlag{
		Name:  "length",
		Usage: "Number of characters",
		Value: 48,
	}
)

func init() {
	app = cli.NewApp()
	app.EnableBashCompletion = true
	app.Usage = "rms - research management authentication and audit server"
	app.Flags = []cli.Flag{
		configFileFlag,
		debugFlag,
	}
	app.Commands = []*cli.Command{
		{
			Name:  "version",
			Usage: "Print version",
			Action: func(ctx *cli.Context) error {
				fmt.Println(params.VersionWithCommit(gitCommit, gitDate))
				return nil
			},
		},
		{
			Name:   "migrate",
			Usage:  "Create or update database tables",
			Action: migrate,
		},
		{
			Name:      "unlock",
			Usage:     "Clear the failed login counter and lock of an account",
			ArgsUsage: "<username>",
			Action:    unlock,
		},
		{
			Name:   "gen-secret",
			Usage:  "Generate a random token signing secret",
			Flags:  []cli.Flag{secretLengthFlag},
			Action: genSecret,
		},
	}
	app.Action = run
}

func mustInitLogger(debug bool) {
	logLevel := slog.LevelInfo
	if debug {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))
}

func mustLoadConfig(ctx *cli.Context) *config.Config {
	cfg, err := config.LoadConfig(ctx.String(configFileFlag.Name))
	if err != nil {
		slog.Error("Could not load config file.", "error", err)
		os.Exit(1)
	}
	mustInitLogger(cfg.Debug || ctx.IsSet(debugFlag.Name))
	return cfg
}

func mustInitDatabase(dbConfig config.MySQLConfig) *gorm.DB {
	db, err := gorm.Open(mysql.Open(dbConfig.Dsn), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			TablePrefix: dbConfig.TablePrefix,
		},
	})
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if len(dbConfig.Replicas) > 0 {
		replicas := make([]gorm.Dialector, 0, len(dbConfig.Replicas))
		for _, dsn := range dbConfig.Replicas {
			replicas = append(replicas, mysql.Open(dsn))
		}
		resolver := dbresolver.Register(dbresolver.Config{
			Replicas: replicas,
			Policy:   dbresolver.RandomPolicy{},
		})
		if err := db.Use(resolver); err != nil {
			slog.Error("Failed to register read replicas", "error", err)
			os.Exit(1)
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		slog.Error("Failed to access database pool", "error", err)
		os.Exit(1)
	}
	if dbConfig.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(dbConfig.MaxIdleConns)
	}
	if dbConfig.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(dbConfig.MaxOpenConns)
	}
	if dbConfig.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(time.Duration(dbConfig.ConnMaxIdleTime) * time.Second)
	}
	if dbConfig.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(dbConfig.ConnMaxLifetime) * time.Second)
	}
	return db
}

// mustInitRedis returns nil when no redis url is configured.
func mustInitRedis(redisCfg config.RedisConfig) redis.UniversalClient {
	if redisCfg.URL == "" {
		return nil
	}
	opts, err := redis.ParseURL(redisCfg.URL)
	if err != nil {
		slog.Error("Invalid redis url", "error", err)
		os.Exit(1)
	}
	if redisCfg.PoolSize > 0 {
		opts.PoolSize = redisCfg.PoolSize
	}
	if redisCfg.ClusterMode {
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:     []string{opts.Addr},
			Username:  opts.Username,
			Password:  opts.Password,
			PoolSize:  opts.PoolSize,
			TLSConfig: opts.TLSConfig,
		})
	}
	return redis.NewClient(opts)
}

func mustInitMailSender(mailCfg config.MailConfig) mail.MailSender {
	switch mailCfg.Backend {
	case "log":
		return mail.LogMailSender{}
	case "smtp":
		sender, err := mail.NewSMTPMailSender(mailCfg.SMTP.MailConfig(), mailCfg.From)
		if err != nil {
			slog.Error("Failed to initialize smtp mail sender", "error", err)
			os.Exit(1)
		}
		return sender
	}
	slog.Error("Unsupported mail sender backend", "backend", mailCfg.Backend)
	os.Exit(1)
	return nil
}

func mustInitAuditSink(cfg *config.Config, logRepo audit.OperationLogRepository, rdb redis.UniversalClient) audit.Sink {
	if !cfg.Audit.RedisMirror {
		return logRepo
	}
	if rdb == nil {
		slog.Error("audit.redisMirror requires redis.url")
		os.Exit(1)
	}
	return audit.MultiSink{
		logRepo,
		audit.NewRedisStreamSink(rdb, cfg.Redis.AuditStream, params.AuditRedisStreamMaxLen),
	}
}

type apiHandlers struct {
	auth  *api.AuthHandler
	users *api.UserHandler
	audit *api.AuditHandler
}

func setupAPIRoutes(router fiber.Router, handlers apiHandlers, authn fiber.Handler, gate *middlewares.RoleGate) {
	authRoutes := router.Group("/auth")
	authRoutes.Post("/login", handlers.auth.PostLogin)
	authRoutes.Post("/register", handlers.auth.PostRegister)
	authRoutes.Get("/password-policy", handlers.auth.GetPasswordPolicy)
	authRoutes.Post("/logout", authn, handlers.auth.PostLogout)

	userRoutes := router.Group("/users", authn)
	userRoutes.Get("/me", handlers.auth.GetMe)
	userRoutes.Post("/me/change-password", handlers.auth.PostChangePassword)
	userRoutes.Post("/:id/unlock", gate.Require(access.AdminOnly, "user"), handlers.users.PostUnlock)

	auditRoutes := router.Group("/audit", authn, gate.Require(access.AdminOrSecretary, "audit"))
	auditRoutes.Get("/logs", handlers.audit.GetLogs)
	auditRoutes.Get("/logs/statistics", handlers.audit.GetStatistics)
	auditRoutes.Get("/logs/export", handlers.audit.GetExport)
	auditRoutes.Get("/logs/:id", handlers.audit.GetLogDetail)
}

func run(ctx *cli.Context) error {
	cfg := mustLoadConfig(ctx)

	db := mustInitDatabase(cfg.MySQL)
	if err := model.AutoMigrate(db); err != nil {
		slog.Error("Database migration failed", "error", err)
		return err
	}
	rdb := mustInitRedis(cfg.Redis)
	mailSender := mustInitMailSender(cfg.Mail)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(metricsNamespace, registry)

	// repositories
	var (
		userRepo = users.NewUserRepository(db)
		logRepo  = audit.NewOperationLogRepository(db)
	)

	auditLog := audit.NewLogger(
		mustInitAuditSink(cfg, logRepo, rdb),
		audit.WithFailureHook(appMetrics.RecordAuditFailure),
	)

	// services
	var (
		pwPolicy     = policy.NewPasswordPolicy(cfg.PasswordPolicy.PolicyConfig())
		tokens       = auth.NewTokenManager(cfg.Auth.JWTSecret, params.AccessTokenIssuer, cfg.Auth.TokenExpiration)
		userService  = users.NewUserService(userRepo)
		queryService = audit.NewQueryService(logRepo)
		authService  = auth.NewAuthService(userService, pwPolicy, tokens, auditLog,
			auth.WithLockNotifier(mail.NewAccountLockNotifier(mailSender, cfg.SiteName)),
			auth.WithMetrics(appMetrics),
		)
	)

	router := fiber.New(fiber.Config{
		Prefork:       false,
		CaseSensitive: true,
		BodyLimit:     params.ServerBodyLimit,
		IdleTimeout:   params.ServerIdleTimeout,
		ReadTimeout:   params.ServerReadTimeout,
		WriteTimeout:  params.ServerWriteTimeout,
		ErrorHandler:  middlewares.ErrorHandler,
	})

	router.Use(recover.New())
	router.Use(logger.New())
	router.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.AllowOrigins, ", "),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))
	router.Use(appMetrics.Middleware())

	setupAPIRoutes(
		router.Group("/api"),
		apiHandlers{
			auth:  api.NewAuthHandler(authService, auditLog),
			users: api.NewUserHandler(userService, auditLog),
			audit: api.NewAuditHandler(queryService, auditLog),
		},
		middlewares.Authenticate(authService),
		middlewares.NewRoleGate(auditLog, appMetrics.RecordPermissionDenied),
	)

	sigCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	healthCheckCtx, term := context.WithCancel(sigCtx)
	done := make(chan struct{})
	go common.StartHealthCheckServer(healthCheckCtx, done, db, rdb, metrics.Handler(registry))
	defer func() {
		term()
		<-done
	}()

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- router.Listen(cfg.ListenAddr)
	}()

	select {
	case err := <-listenErr:
		return err
	case <-sigCtx.Done():
		slog.Info("Shutting down server")
		return router.ShutdownWithTimeout(shutdownTimeout)
	}
}

func migrate(ctx *cli.Context) error {
	cfg := mustLoadConfig(ctx)
	db := mustInitDatabase(cfg.MySQL)
	if err := model.AutoMigrate(db); err != nil {
		slog.Error("Database migration failed", "error", err)
		return err
	}
	slog.Info("Database migrated")
	return nil
}

func unlock(ctx *cli.Context) error {
	username := strings.TrimSpace(ctx.Args().First())
	if username == "" {
		return errors.New("missing username")
	}

	cfg := mustLoadConfig(ctx)
	db := mustInitDatabase(cfg.MySQL)
	userService := users.NewUserService(users.NewUserRepository(db))
	auditLog := audit.NewLogger(audit.NewOperationLogRepository(db))

	user, err := userService.ResetLockByUsername(ctx.Context, username)
	if errors.Is(err, users.ErrUserNotFound) {
		return fmt.Errorf("user %q not found", username)
	}
	if err != nil {
		return err
	}

	auditLog.LogUpdate(ctx.Context, audit.Actor{Username: cliActorName}, "user", "用户", user.ID,
		audit.RequestContext{Method: "CLI", Path: "unlock"},
		audit.Details{"login_failures": 0, "locked_until": nil},
	)
	fmt.Printf("Account %s (id %d) unlocked\n", user.Username, user.ID)
	return nil
}

func genSecret(ctx *cli.Context) error {
	secret, err := common.GenerateSecret(ctx.Int(secretLengthFlag.Name))
	if err != nil {
		return err
	}
	fmt.Println(secret)
	return nil
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
