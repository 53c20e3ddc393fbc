package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lifeline-sync/internal/auth"
	"lifeline-sync/internal/config"
	"lifeline-sync/internal/feed"
	"lifeline-sync/internal/repository"
	"lifeline-sync/internal/sensor"
	"lifeline-sync/internal/store"
	"lifeline-sync/pkg/database"
	"lifeline-sync/pkg/logger"
	"lifeline-sync/pkg/mqtt"
	"lifeline-sync/pkg/redisdb"

	"go.uber.org/zap"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. 初始化日志
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "lifeline-sync")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	// 3. 连接后端（PostgreSQL + Redis）
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database",
			zap.Error(err),
		)
	}
	defer database.Close(db)

	redisClient := redisdb.NewRedisClient(&cfg.Redis)
	defer redisdb.Close(redisClient)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := redisdb.Ping(ctx, redisClient); err != nil {
		log.Fatal("Failed to connect to Redis",
			zap.Error(err),
		)
	}

	// 4. 变更订阅 + 仓库
	publisher := feed.NewPublisher(redisClient, cfg.Feed.ChannelPrefix, log)
	subscriber := feed.NewSubscriber(redisClient, cfg.Feed.ChannelPrefix, log)

	profilesRepo := repository.NewProfilesRepository(db, log)
	alertsRepo := repository.NewAlertsRepository(db, publisher, log)
	requestsRepo := repository.NewBloodRequestsRepository(db, publisher, log)
	notificationsRepo := repository.NewNotificationsRepository(db, publisher, log)
	locationsRepo := repository.NewLocationsRepository(db, log)

	authService := auth.NewService(db, redisClient,
		cfg.Auth.SessionKeyPrefix,
		time.Duration(cfg.Auth.SessionTTL)*time.Second,
		log,
	)

	// 5. 位置传感器（可选，未启用时定位为不支持状态）
	var source sensor.Source
	if cfg.Sensor.MQTT.Enabled {
		mqttClient, err := mqtt.NewClient(&cfg.Sensor.MQTT, log)
		if err != nil {
			log.Fatal("Failed to connect to MQTT broker",
				zap.Error(err),
			)
		}
		defer mqttClient.Disconnect()
		source = sensor.NewMQTTSource(mqttClient, cfg.Sensor.MQTT.Topic, cfg.Sensor.MQTT.QoS, log)
	}

	watchOpts := sensor.WatchOptions{
		HighAccuracy: cfg.Sensor.HighAccuracy,
		MaximumAge:   time.Duration(cfg.Sensor.MaximumAgeMs) * time.Millisecond,
		Timeout:      time.Duration(cfg.Sensor.TimeoutMs) * time.Millisecond,
	}

	// 6. 状态容器
	sessionStore := store.NewSessionStore(authService, profilesRepo, log)
	locationStore := store.NewLocationStore(source, locationsRepo, watchOpts, log)
	emergencyStore := store.NewEmergencyStore(alertsRepo, requestsRepo, subscriber, log)
	notificationStore := store.NewNotificationStore(notificationsRepo, subscriber, log)

	// 7. 启动会话（凭据来自环境变量，未提供时保持未登录）
	email := os.Getenv("LIFELINE_EMAIL")
	password := os.Getenv("LIFELINE_PASSWORD")
	if email != "" && password != "" {
		if err := sessionStore.SignIn(ctx, email, password); err != nil {
			log.Fatal("Failed to sign in",
				zap.Error(err),
			)
		}

		userID := sessionStore.UserID()
		log.Info("Signed in",
			zap.String("user_id", userID),
		)

		if err := emergencyStore.FetchUserAlerts(ctx, userID); err != nil {
			log.Warn("Failed to fetch alerts",
				zap.Error(err),
			)
		}
		if err := notificationStore.FetchNotifications(ctx, userID); err != nil {
			log.Warn("Failed to fetch notifications",
				zap.Error(err),
			)
		}
		if err := emergencyStore.Subscribe(ctx, userID); err != nil {
			log.Warn("Failed to subscribe to emergency updates",
				zap.Error(err),
			)
		}
		defer emergencyStore.Unsubscribe()
		if err := notificationStore.Subscribe(ctx, userID); err != nil {
			log.Warn("Failed to subscribe to notifications",
				zap.Error(err),
			)
		}
		defer notificationStore.Unsubscribe()

		if source != nil {
			if err := locationStore.StartTracking(ctx, userID); err != nil {
				log.Warn("Failed to start location tracking",
					zap.Error(err),
				)
			}
			defer locationStore.StopTracking()
		}
	}

	// 8. 过期请求清理（删除事件经由变更订阅广播给所有客户端）
	go runExpirySweeper(ctx, cfg, requestsRepo, log)

	// 9. 等待信号（优雅关闭）
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info("Received signal, shutting down",
		zap.String("signal", sig.String()),
	)
	cancel()

	log.Info("lifeline-sync stopped")
}

// runExpirySweeper 周期清理已过期的活跃献血请求
func runExpirySweeper(ctx context.Context, cfg *config.Config, repo *repository.BloodRequestsRepository, log *zap.Logger) {
	interval := time.Duration(cfg.Sweep.Interval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info("Expiry sweeper started",
		zap.Duration("interval", interval),
	)

	for {
		select {
		case <-ctx.Done():
			log.Info("Expiry sweeper stopped")
			return
		case <-ticker.C:
			deleted, err := repo.DeleteExpired(ctx, time.Now())
			if err != nil {
				log.Error("Failed to delete expired blood requests",
					zap.Error(err),
				)
				// 继续执行，不中断
				continue
			}
			if len(deleted) > 0 {
				log.Info("Deleted expired blood requests",
					zap.Int("count", len(deleted)),
				)
			}
		}
	}
}
