package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "waitlist_backend/docs"
	"waitlist_backend/internal/auth"
	"waitlist_backend/internal/config"
	"waitlist_backend/internal/handlers"
	"waitlist_backend/internal/lock"
	"waitlist_backend/internal/storage"
	"waitlist_backend/internal/tasks"
	"waitlist_backend/internal/waitlist"
	"waitlist_backend/internal/ws"
)

// @Title						Лист ожидания с приоритетами
// @securityDefinitions.apikey	BearerAuth
// @in							header
// @name						Authorization
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Ошибка загрузки конфигурации: ", err)
	}

	db, err := storage.ConnectDatabase(cfg.DB)
	if err != nil {
		log.Fatal("Ошибка подключения к базе данных: ", err)
	}
	if err := storage.Migrate(db); err != nil {
		log.Fatal("Ошибка при миграции... ", err.Error())
	}

	rdb, err := storage.InitRedis(ctx, cfg.Redis)
	if err != nil {
		log.Fatal("Ошибка подключения к Redis: ", err)
	}
	defer rdb.Close()

	policy, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		log.Fatal("Ошибка загрузки политики: ", err)
	}

	var locker waitlist.Locker = lock.NewMutexMap()
	if cfg.LockBackend == "redis" {
		locker = lock.NewRedisLocker(rdb, cfg.LockTTL)
	}

	hub := ws.NewHub()
	go hub.Run(ctx)

	store := storage.NewGormStore(db)
	penalties := storage.NewPenaltyChecker(rdb)
	engine := waitlist.New(store,
		waitlist.WithPolicy(policy),
		waitlist.WithLocker(locker),
		waitlist.WithEligibility(penalties),
		waitlist.WithNotifier(hub),
		waitlist.WithEventSink(waitlist.MultiSink{
			hub,
			storage.NewRedisEventSink(rdb),
			waitlist.LogSink{},
		}),
	)

	err = config.WatchPolicy(ctx, cfg.PolicyFile, func(p config.Policy) {
		engine.SetPolicy(p)
		log.Println("Политика листа ожидания обновлена")
	})
	if err != nil {
		log.Println("Наблюдение за файлом политики не запущено:", err)
	}

	scheduler, err := tasks.InitScheduler(tasks.NewPlanner(engine), tasks.Schedule{
		Sweep:     cfg.SweepSpec,
		Reminders: cfg.ReminderSpec,
		Close:     cfg.CloseSpec,
	})
	if err != nil {
		log.Fatal("Ошибка запуска планировщика: ", err)
	}
	defer func() { <-scheduler.Stop().Done() }()

	tokens := auth.NewTokens(cfg.JWTAccessSecret, cfg.JWTRefreshSecret)
	authHandler := handlers.NewAuthHandler(db, tokens)
	waitlistHandler := handlers.NewWaitlistHandler(engine, store, penalties, hub)

	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	authGroup := r.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
		authGroup.POST("/refresh", authHandler.RefreshToken)
	}

	api := r.Group("/api", auth.AuthMiddleware(tokens))
	waitlistHandler.RegisterRoutes(api)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Ошибка запуска сервера...", err.Error())
		}
	}()

	<-ctx.Done()
	log.Println("Остановка сервера...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Println("Ошибка остановки сервера:", err)
	}
}
