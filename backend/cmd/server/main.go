package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"x-bounce/backend/internal/config"
	"x-bounce/backend/internal/health"
	"x-bounce/backend/internal/logger"
	"x-bounce/backend/internal/physics"
	"x-bounce/backend/internal/session"
	"x-bounce/backend/internal/transport/ws"
	"x-bounce/backend/internal/world"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatalf("Ошибка конфигурации: %v", err)
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	log := logger.For("server")

	// Движок и террейн загружаются один раз; без них сервер не стартует
	loader := physics.NewLoader(cfg.EnginePath)
	engine, err := loader.Engine()
	if err != nil {
		log.Fatalf("Физический движок недоступен: %v", err)
	}
	profile := engine.Profile()
	log.Infof("Движок загружен из %s: substeps=%d iterations=%d", engine.Path(), profile.Substeps, profile.Iterations)

	terrain, err := world.LoadTerrain(cfg.HeightmapPath, world.GetTerrainConfig())
	if err != nil {
		log.Fatalf("Не удалось загрузить террейн: %v", err)
	}
	log.Infof("Террейн загружен: %s (%d байт, %s)", cfg.HeightmapPath, len(terrain.Raw()), terrain.MimeType())

	var healthServer *health.Server
	if cfg.HealthPort != "" {
		healthServer = health.New(logger.For("health"))
		go func() {
			if err := healthServer.ListenAndServe(":" + cfg.HealthPort); err != nil {
				log.Errorf("gRPC health check остановлен с ошибкой: %v", err)
			}
		}()
	}

	manager := session.NewManager(loader, terrain, session.ManagerConfig{
		TickRate:    cfg.TickRate,
		MaxSessions: cfg.MaxSessions,
	}, logger.For("sessions"))

	wsServer, err := ws.NewWSServer(manager, terrain, ws.ServerConfig{
		TickRate:       cfg.TickRate,
		PingInterval:   cfg.PingInterval,
		WriteTimeout:   cfg.WriteTimeout,
		AcceptRate:     cfg.AcceptRate,
		AcceptBurst:    cfg.AcceptBurst,
		NetworkProfile: cfg.NetSimProfile,
	}, logger.For("ws"))
	if err != nil {
		log.Fatalf("Ошибка создания WebSocket сервера: %v", err)
	}

	mux := http.NewServeMux()
	wsServer.RegisterRoutes(mux)
	session.NewDebugHandler(manager).RegisterRoutes(mux)

	if _, err := os.Stat(cfg.StaticDir); os.IsNotExist(err) {
		log.Warnf("Директория статики %s не существует", cfg.StaticDir)
	}
	mux.Handle("/", http.FileServer(http.Dir(cfg.StaticDir)))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Infof("Serving static files from: %s", cfg.StaticDir)
		log.Infof("Server starting on :%s (tick rate %d/s)", cfg.Port, cfg.TickRate)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server start error: %v", err)
		}
	}()
	if healthServer != nil {
		healthServer.SetServing(true)
	}

	<-stop
	log.Info("Shutting down...")

	if healthServer != nil {
		healthServer.SetServing(false)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warnf("HTTP сервер остановлен с ошибкой: %v", err)
	}

	// WebSocket соединения не отслеживаются http.Server, закрываем сессии явно
	manager.Shutdown()
	if healthServer != nil {
		healthServer.Stop()
	}

	opened, rejected := manager.Totals()
	log.Infof("Done. Сессий открыто: %d, отклонено: %d", opened, rejected)
}
