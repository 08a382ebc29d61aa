package app

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	"tutor_backend/internal/config"
	"tutor_backend/internal/controller"
	"tutor_backend/internal/graph"
	"tutor_backend/internal/importer"
	"tutor_backend/internal/llm"
	"tutor_backend/internal/repository"
	"tutor_backend/internal/service"
	"tutor_backend/internal/util"
	"tutor_backend/pkg/database"
	"tutor_backend/pkg/logger"
	"tutor_backend/pkg/monitoring"
	"tutor_backend/pkg/security"
	"tutor_backend/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config *config.Config
	Router *gin.Engine
	DB     *gorm.DB
	Redis  *redis.Client

	services        *services
	configCallbacks []func(*config.Config)
}

type repositories struct {
	user        *repository.UserRepository
	node        *repository.NodeRepository
	state       *repository.UserNodeStateRepository
	history     *repository.ExerciseHistoryRepository
	session     *repository.SessionRepository
	turn        *repository.TurnRepository
	achievement *repository.AchievementRepository
}

type services struct {
	graph       *graph.Service
	auth        *service.AuthService
	user        *service.UserService
	session     *service.SessionService
	context     *service.ContextService
	processing  *service.ProcessingService
	turn        *service.TurnService
	path        *service.PathService
	achievement *service.AchievementService
	storage     service.StorageProvider
}

type controllers struct {
	auth        *controller.AuthController
	user        *controller.UserController
	session     *controller.SessionController
	path        *controller.PathController
	achievement *controller.AchievementController
	health      *controller.HealthController
}

func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.configCallbacks = append(a.configCallbacks, callback)
}

// ApplyConfig fans a reloaded config out to the registered callbacks.
func (a *App) ApplyConfig(cfg *config.Config) {
	a.Config = cfg
	for _, cb := range a.configCallbacks {
		cb(cfg)
	}
	logger.Log.Info("Configuration reloaded")
}

func (a *App) initRepositories(db *gorm.DB) *repositories {
	return &repositories{
		user:        repository.NewUserRepository(db),
		node:        repository.NewNodeRepository(db),
		state:       repository.NewUserNodeStateRepository(db),
		history:     repository.NewExerciseHistoryRepository(db),
		session:     repository.NewSessionRepository(db),
		turn:        repository.NewTurnRepository(db),
		achievement: repository.NewAchievementRepository(db),
	}
}

func (a *App) initServices(repos *repositories, cfg *config.Config, db *gorm.DB, rdb *redis.Client) *services {
	s := &services{}

	s.graph = graph.NewService(db)

	storage, err := service.NewStorageProvider(&cfg.Storage)
	if err != nil {
		logger.Log.Fatal("Failed to initialize storage", zap.Error(err))
	}
	s.storage = storage

	s.auth = service.NewAuthService(repos.user, cfg)
	s.user = service.NewUserService(repos.user, s.storage)

	s.session = &service.SessionService{
		SessionRepo: repos.session,
		StateRepo:   repos.state,
		TurnRepo:    repos.turn,
		UserRepo:    repos.user,
		Graph:       s.graph,
		Redis:       rdb,
		Config:      cfg.Session,
	}

	s.context = &service.ContextService{
		UserRepo:    repos.user,
		SessionRepo: repos.session,
		NodeRepo:    repos.node,
		StateRepo:   repos.state,
		HistoryRepo: repos.history,
		TurnRepo:    repos.turn,
		Graph:       s.graph,
		LLMConfig:   cfg.LLM,
	}

	s.processing = service.NewProcessingService(repos.node, repos.state, repos.history, s.graph)

	s.achievement = &service.AchievementService{
		AchievementRepo: repos.achievement,
		StateRepo:       repos.state,
		HistoryRepo:     repos.history,
		SessionRepo:     repos.session,
		UserRepo:        repos.user,
	}

	s.turn = &service.TurnService{
		DB:           db,
		Context:      s.context,
		Processing:   s.processing,
		Model:        llm.NewClient(cfg.LLM),
		TurnRepo:     repos.turn,
		SessionRepo:  repos.session,
		Achievements: s.achievement,
	}

	s.path = service.NewPathService(repos.state, repos.node, s.graph)

	return s
}

func (a *App) initControllers(s *services, db *gorm.DB) *controllers {
	return &controllers{
		auth:        controller.NewAuthController(s.auth),
		user:        controller.NewUserController(s.user),
		session:     controller.NewSessionController(s.session, s.turn, s.achievement),
		path:        controller.NewPathController(s.path),
		achievement: controller.NewAchievementController(s.achievement),
		health:      controller.NewHealthController(db, s.graph),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())

	maxRequests := cfg.RateLimit.MaxRequests
	if maxRequests == 0 {
		maxRequests = 1000
	}
	window := time.Duration(cfg.RateLimit.WindowMinutes) * time.Minute
	if window == 0 {
		window = time.Minute
	}
	router.Use(security.RateLimiter(maxRequests, window))

	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

func NewApp(cfg *config.Config) *App {
	logger.InitLogger(cfg)

	db, err := database.InitDB(&cfg.Database)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
	}

	if cfg.ForceMigrate || cfg.Server.Mode != "release" {
		if err := database.Migrate(db); err != nil {
			logger.Log.Fatal("Failed to run migrations", zap.Error(err))
		}
	}
	if cfg.MigrateOnly {
		return &App{Config: cfg, DB: db}
	}

	rdb, err := database.InitRedis(&cfg.Redis)
	if err != nil {
		logger.Log.Fatal("Failed to initialize redis", zap.Error(err))
	}

	app := &App{
		Config: cfg,
		DB:     db,
		Redis:  rdb,
	}

	repos := app.initRepositories(db)
	services := app.initServices(repos, cfg, db, rdb)
	app.services = services
	controllers := app.initControllers(services, db)

	if cfg.ImportPath != "" {
		if err := importer.Run(db, cfg.ImportPath); err != nil {
			logger.Log.Fatal("Knowledge base import failed", zap.Error(err))
		}
	}

	if err := services.achievement.Seed(); err != nil {
		logger.Log.Fatal("Failed to seed achievements", zap.Error(err))
	}

	if err := services.graph.Load(context.Background()); err != nil {
		logger.Log.Fatal("Failed to load knowledge graph", zap.Error(err))
	}

	monitoring.Init()

	gin.SetMode(ginMode(cfg.Server.Mode))
	router := gin.New()
	router.Use(gin.Recovery())
	app.Router = router

	app.setupMiddlewares(router, cfg)

	if cfg.Tracing.Enabled {
		if _, err := tracing.InitTracer("tutor-backend", cfg.Tracing.CollectorEndpoint); err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
	}

	app.registerRoutes(router, controllers, repos, cfg)

	if cfg.Storage.Type != util.StorageMinio {
		router.Static("/uploads", cfg.Storage.LocalPath)
	}

	return app
}

func ginMode(mode string) string {
	switch mode {
	case "release", "test":
		return mode
	default:
		return gin.DebugMode
	}
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	go func() {
		log.Printf("Server running on port %s", a.Config.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exiting")
}
