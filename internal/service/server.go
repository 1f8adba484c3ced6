// Package service 组装并运行考勤验证服务
package service

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"presence-validation/internal/broadcaster"
	"presence-validation/internal/cache"
	"presence-validation/internal/common/database"
	commonmqtt "presence-validation/internal/common/mqtt"
	commonredis "presence-validation/internal/common/redis"
	"presence-validation/internal/config"
	"presence-validation/internal/consumer"
	"presence-validation/internal/gateway"
	"presence-validation/internal/registry"
	"presence-validation/internal/repository"
	"presence-validation/internal/session"
	"presence-validation/internal/validation"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Server 考勤验证服务
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *commonmqtt.Client

	tracker     *session.Tracker
	engine      *validation.Engine
	metrics     *validation.Metrics
	registry    *registry.Registry
	broadcaster *broadcaster.Broadcaster
	consumer    *consumer.SensorConsumer
	httpServer  *http.Server

	cancel context.CancelFunc
}

// NewServer 创建并装配服务（建立数据库/Redis/MQTT 连接）
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	redisClient := commonredis.NewRedisClient(&cfg.Redis)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := commonredis.Ping(ctx, redisClient); err != nil {
		database.Close(db)
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	s := &Server{
		cfg:         cfg,
		logger:      logger,
		db:          db,
		redisClient: redisClient,
	}

	if err := s.wire(); err != nil {
		s.closeConnections()
		return nil, err
	}
	return s, nil
}

// wire 组装内部组件
func (s *Server) wire() error {
	cfg := s.cfg

	students := repository.NewStudentRepository(s.db, s.logger)
	classrooms := repository.NewClassroomRepository(s.db, s.logger)
	sessions := repository.NewSessionRepository(s.db, s.logger)
	attendance := repository.NewAttendanceRepository(s.db, s.logger)

	s.broadcaster = broadcaster.NewBroadcaster(
		broadcaster.NewRedisStreamPublisher(s.redisClient),
		cfg.Engine.Stream.Output,
		s.logger,
	)
	s.registry = registry.NewRegistry(s.broadcaster, s.logger)

	thresholds := session.Thresholds{
		LateMinutes:   cfg.Engine.LateThresholdMinutes,
		AbsentPercent: cfg.Engine.AbsentThresholdPercent,
		GraceMinutes:  cfg.Engine.CheckoutGraceMinutes,
	}
	s.tracker = session.NewTracker(sessions, thresholds, cfg.Engine.ModeRecomputeInterval, s.logger)

	s.metrics = validation.NewMetrics()
	correlator := validation.NewCorrelator(
		cfg.Engine.ValidationTimeout,
		attendance,
		s.broadcaster,
		s.registry,
		s.metrics,
		s.logger,
	)
	classifier := validation.NewClassifier(
		s.tracker,
		students,
		attendance,
		correlator,
		s.broadcaster,
		thresholds,
		cfg.Engine.ValidationTimeout,
		s.metrics,
		s.logger,
	)
	s.engine = validation.NewEngine(classifier, correlator, s.tracker, s.broadcaster, s.metrics, s.logger)

	statusCache := cache.NewDeviceStatusCache(
		s.redisClient,
		cfg.Engine.Cache.DeviceStatusKeyPrefix,
		cfg.Engine.Cache.DeviceStatusTTL,
	)

	gw := gateway.NewGateway(
		s.engine,
		s.registry,
		s.broadcaster,
		classrooms,
		s.tracker,
		statusCache,
		gateway.Settings{
			LateThresholdMinutes:     cfg.Engine.LateThresholdMinutes,
			AbsentThresholdPercent:   cfg.Engine.AbsentThresholdPercent,
			ValidationTimeoutSeconds: cfg.Engine.ValidationTimeout.Seconds(),
			HeartbeatIntervalSeconds: 30,
		},
		s.logger,
	)

	s.httpServer = &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      gw.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	if cfg.Sensor.Enabled {
		mqttClient, err := commonmqtt.NewClient(&cfg.MQTT, s.logger)
		if err != nil {
			return fmt.Errorf("failed to create MQTT client: %w", err)
		}
		s.mqttClient = mqttClient
		s.consumer = consumer.NewSensorConsumer(mqttClient, s.engine, cfg.Sensor.Topic, cfg.MQTT.QoS, s.logger)
	}

	return nil
}

// Start 启动服务（阻塞直到 HTTP 服务退出）
func (s *Server) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	if err := s.tracker.Refresh(ctx); err != nil {
		s.logger.Warn("Initial session refresh failed, continuing with empty mode table",
			zap.Error(err),
		)
	}
	go func() {
		if err := s.tracker.Start(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("Session tracker stopped", zap.Error(err))
		}
	}()

	go s.metrics.ReportLoop(ctx, 60*time.Second, s.logger)
	go s.heartbeatSweep(ctx)

	if s.consumer != nil {
		if err := s.consumer.Start(); err != nil {
			return fmt.Errorf("failed to start sensor consumer: %w", err)
		}
	}

	s.logger.Info("Presence validation service listening",
		zap.String("addr", s.cfg.Server.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// heartbeatSweep 周期扫描心跳超时的设备
func (s *Server) heartbeatSweep(ctx context.Context) {
	interval := s.cfg.Engine.HeartbeatTimeout / 3
	if interval < 10*time.Second {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if marked := s.registry.MarkStale(s.cfg.Engine.HeartbeatTimeout); marked > 0 {
				s.logger.Warn("Marked stale devices",
					zap.Int("count", marked),
				)
			}
		}
	}
}

// Stop 优雅停机
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down presence validation service")

	if s.cancel != nil {
		s.cancel()
	}
	if s.consumer != nil {
		if err := s.consumer.Stop(); err != nil {
			s.logger.Warn("Failed to stop sensor consumer", zap.Error(err))
		}
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("HTTP server shutdown error", zap.Error(err))
	}

	s.closeConnections()
	s.logger.Info("Presence validation service stopped")
	return nil
}

func (s *Server) closeConnections() {
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if s.redisClient != nil {
		_ = commonredis.Close(s.redisClient)
	}
	if s.db != nil {
		_ = database.Close(s.db)
	}
}
