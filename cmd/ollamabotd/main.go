package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"OllamaBot/internal/api"
	"OllamaBot/internal/auth"
	"OllamaBot/internal/bot"
	"OllamaBot/internal/channel"
	"OllamaBot/internal/config"
	"OllamaBot/internal/llm/ollama"
	"OllamaBot/internal/observability/alerting"
	"OllamaBot/internal/session"
	"OllamaBot/pkg/logger"
)

// main 是 OllamaBot 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("ollamabotd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("OLLAMABOT_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "ollamabot.json")
	}

	manager, err := config.NewManager(configPath)
	if err != nil {
		return err
	}
	cfg := manager.Current()

	if err := logger.Init(loggerConfig(cfg.Log)); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	client, err := ollama.NewClient(ollama.Config{
		BaseURL: cfg.Bot.OllamaModelURL,
		Timeout: cfg.Bot.RequestTimeout(),
	})
	if err != nil {
		return err
	}

	store, err := createSessionStore(ctx, cfg)
	if err != nil {
		return err
	}
	sessions := session.NewManager(store,
		session.WithSystemPrompt(cfg.Bot.CharacterDesc),
		session.WithMaxTokens(cfg.Bot.ConversationMaxTokens),
	)
	defer func() {
		if err := sessions.Close(); err != nil {
			logger.L().Warn("关闭会话存储失败", slog.Any("error", err))
		}
	}()

	authService := auth.NewService(cfg.Server.APITokens)
	manager.OnReload(func(next *config.Config) {
		authService.SetTokens(next.Server.APITokens)
		if err := client.SetBaseURL(next.Bot.OllamaModelURL); err != nil {
			logger.L().Error("更新 Ollama 地址失败", slog.Any("error", err))
		}
		client.SetTimeout(next.Bot.RequestTimeout())
		sessions.Configure(next.Bot.CharacterDesc, next.Bot.ConversationMaxTokens)
		sessions.SetTTL(next.Bot.SessionTTL())
		logger.SetLevel(next.Log.Level)
	})

	notifiers := []alerting.Notifier{alerting.LogNotifier{}}
	if cfg.Alerting.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: cfg.Alerting.WebhookURL})
	}
	ollamaBot := bot.New(sessions, client, manager, bot.WithAlertDispatcher(alerting.NewFanout(notifiers...)))

	go reloadOnHangup(ctx, manager)

	relayErr := make(chan error, 1)
	if cfg.Channel.Driver != "none" {
		inbound, outbound, err := createQueues(ctx, cfg.Channel)
		if err != nil {
			return err
		}
		defer func() {
			_ = inbound.Close()
			_ = outbound.Close()
		}()
		relay := channel.NewRelay(ollamaBot, inbound, outbound, channel.WithWorkerCount(cfg.Channel.Worker))
		go func() {
			relayErr <- relay.Start(ctx)
		}()
	}

	logger.L().Info("OllamaBot 已启动",
		slog.String("model", cfg.Bot.OllamaModel),
		slog.String("ollama_url", cfg.Bot.OllamaModelURL),
		slog.String("session_driver", cfg.Session.Driver),
		slog.String("channel_driver", cfg.Channel.Driver),
	)

	server := api.NewServer(cfg.Server.Address, ollamaBot, sessions, api.WithAuth(authService))
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(ctx)
	}()

	select {
	case err := <-serverErr:
		return err
	case err := <-relayErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("消息通道退出: %w", err)
		}
		return <-serverErr
	}
}

func loggerConfig(cfg config.LogConfig) logger.Config {
	return logger.Config{
		Level:       cfg.Level,
		Format:      cfg.Format,
		OutputPaths: cfg.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Audit.Enabled,
			Path:       cfg.Audit.Path,
			MaxSizeMB:  cfg.Audit.MaxSizeMB,
			MaxBackups: cfg.Audit.MaxBackups,
			MaxAgeDays: cfg.Audit.MaxAgeDays,
		},
	}
}

func createSessionStore(ctx context.Context, cfg *config.Config) (session.Store, error) {
	ttl := cfg.Bot.SessionTTL()
	switch cfg.Session.Driver {
	case "", "memory":
		return session.NewMemoryStore(ttl), nil
	case "redis":
		return session.NewRedisStore(ctx, session.RedisStoreConfig{
			Address:   cfg.Session.Redis.Address,
			Password:  cfg.Session.Redis.Password,
			DB:        cfg.Session.Redis.DB,
			KeyPrefix: cfg.Session.Redis.KeyPrefix,
			TTL:       ttl,
		})
	case "mysql":
		return session.NewMySQLStore(ctx, session.MySQLStoreConfig{
			DSN:             cfg.Session.MySQL.DSN,
			MaxOpenConns:    cfg.Session.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.Session.MySQL.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Session.MySQL.ConnMaxLifetimeSeconds) * time.Second,
			TTL:             ttl,
		})
	default:
		return nil, fmt.Errorf("未知的会话存储驱动: %s", cfg.Session.Driver)
	}
}

func createQueues(ctx context.Context, cfg config.ChannelConfig) (channel.Queue, channel.Queue, error) {
	open := func(name string) (channel.Queue, error) {
		switch cfg.Driver {
		case "redis":
			return channel.NewRedisQueue(ctx, channel.RedisQueueConfig{
				Address:  cfg.Redis.Address,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
				Queue:    name,
			})
		case "rabbitmq":
			return channel.NewRabbitMQQueue(channel.RabbitMQConfig{
				URL:        cfg.RabbitMQ.URL,
				Queue:      name,
				Prefetch:   cfg.RabbitMQ.Prefetch,
				Durable:    cfg.RabbitMQ.Durable,
				AutoDelete: cfg.RabbitMQ.AutoDelete,
			})
		default:
			return nil, fmt.Errorf("未知的消息通道驱动: %s", cfg.Driver)
		}
	}

	inbound, err := open(cfg.InboundQueue)
	if err != nil {
		return nil, nil, err
	}
	outbound, err := open(cfg.OutboundQueue)
	if err != nil {
		_ = inbound.Close()
		return nil, nil, err
	}
	return inbound, outbound, nil
}

// reloadOnHangup 在收到 SIGHUP 时重新加载配置。
func reloadOnHangup(ctx context.Context, manager *config.Manager) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := manager.Reload(); err != nil {
				logger.L().Error("重新加载配置失败", slog.Any("error", err))
				continue
			}
			logger.Audit().Info("配置已重新加载", slog.String("trigger", "SIGHUP"))
		}
	}
}
