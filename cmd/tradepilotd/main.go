package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	ossignal "os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"TradePilot/internal/aggregator"
	"TradePilot/internal/api"
	"TradePilot/internal/auth"
	"TradePilot/internal/bridge"
	"TradePilot/internal/config"
	"TradePilot/internal/exchange"
	"TradePilot/internal/feed"
	"TradePilot/internal/keyring"
	"TradePilot/internal/launchpad"
	"TradePilot/internal/observability/alerting"
	"TradePilot/internal/observability/metrics"
	"TradePilot/internal/router"
	"TradePilot/internal/signal"
	storage "TradePilot/internal/storage/mysql"
	"TradePilot/internal/task"
	"TradePilot/internal/trade"
	"TradePilot/internal/web3"
	"TradePilot/internal/web3/provider"
	"TradePilot/pkg/logger"
)

// main 是 TradePilot 守护进程的入口。
func main() {
	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// .env 不存在时忽略，环境变量仍然生效。
	_ = godotenv.Load()

	if err := run(ctx); err != nil {
		log.Fatalf("tradepilotd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}
	if err := logger.Init(logger.Config{
		Level:       cfg.Logger.Level,
		Format:      cfg.Logger.Format,
		OutputPaths: cfg.Logger.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logger.Audit.Enabled,
			Path:       cfg.Logger.Audit.Path,
			MaxSizeMB:  cfg.Logger.Audit.MaxSizeMB,
			MaxBackups: cfg.Logger.Audit.MaxBackups,
			MaxAgeDays: cfg.Logger.Audit.MaxAgeDays,
			Compress:   cfg.Logger.Audit.Compress,
		},
	}); err != nil {
		return err
	}
	defer logger.Sync()

	authService, err := buildAuth(cfg.Server.Auth)
	if err != nil {
		return err
	}
	keys := keyring.New(cfg.Keyring, keyring.WithPassphraseRequired(cfg.Exchange.Venue == exchange.VenueBitget))

	var (
		deps      = api.Deps{Credentials: keys}
		executors = task.Executors{Credentials: keys}
		onchain   bridge.OnchainTrader
	)

	if cfg.Web3.RPCURL != "" || cfg.Web3.ChainConfig != "" {
		executor, chain, closeChain, err := buildExecutor(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeChain()
		onchain = executor
		deps.Onchain = executor
		deps.Chain = chain
		executors.Trades = executor
	}

	var exchangeTrader bridge.ExchangeTrader
	if cfg.Exchange.Venue != "" {
		venue, err := exchange.New(cfg.Exchange.Venue, exchange.Config{
			BaseURL:     cfg.Exchange.BaseURL,
			Timeout:     time.Duration(cfg.Exchange.TimeoutSeconds) * time.Second,
			RecvWindow:  time.Duration(cfg.Exchange.RecvWindowMillis) * time.Millisecond,
			ProductType: cfg.Exchange.ProductType,
			MarginCoin:  cfg.Exchange.MarginCoin,
			MarginMode:  cfg.Exchange.MarginMode,
		})
		if err != nil {
			return err
		}
		trader := exchange.NewTrader(venue)
		exchangeTrader = trader
		deps.Exchange = trader
	}

	quoteSize, err := decimal.NewFromString(cfg.Bridge.DefaultQuoteSize)
	if err != nil {
		return fmt.Errorf("bridge.default_quote_size 无效: %w", err)
	}
	signals := bridge.New(bridge.Config{
		Venue:            bridge.Venue(cfg.Bridge.Venue),
		QuoteCurrency:    cfg.Bridge.QuoteCurrency,
		DefaultQuoteSize: quoteSize,
		DefaultETHSize:   cfg.Bridge.DefaultETHSize,
		MinConfidence:    cfg.Bridge.MinConfidence,
		TokenAddresses:   cfg.Bridge.TokenAddresses,
	}, onchain, exchangeTrader, cfg.Exchange.Venue)
	deps.Signals = signals
	executors.Signals = signals

	known := make([]string, 0, len(cfg.Bridge.TokenAddresses))
	for symbol := range cfg.Bridge.TokenAddresses {
		known = append(known, symbol)
	}
	extractor := signal.NewExtractor(signal.WithKnownTokens(known...))
	deps.Extractor = extractor

	publisher, err := buildPublisher(cfg.Feed.Kafka)
	if err != nil {
		return err
	}
	defer publisher.Close()
	scanner := signal.NewScanner(feed.NewRedditClient(feed.Config{
		BaseURL:   cfg.Feed.BaseURL,
		UserAgent: cfg.Feed.UserAgent,
	}), extractor, publisher, cfg.Feed.Limit)
	deps.Scanner = scanner

	store, err := buildStore(ctx, cfg.Jobs.Store)
	if err != nil {
		return err
	}
	queue, err := buildQueue(ctx, cfg.Jobs.Queue)
	if err != nil {
		_ = store.Close()
		return err
	}
	jobs := task.NewService(store, queue, cfg.Jobs.MaxRetries)
	defer func() {
		if err := jobs.Close(); err != nil {
			logger.L().Error("关闭任务服务失败", slog.Any("error", err))
		}
	}()
	deps.Jobs = jobs

	processorOpts := []task.ProcessorOption{
		task.WithWorkerCount(cfg.Jobs.Workers),
		task.WithProcessorLogger(logger.Named("task")),
	}
	if alerts := buildAlerts(cfg.Alerting); alerts.Len() > 0 {
		processorOpts = append(processorOpts, task.WithAlertDispatcher(alerts))
	}
	processor := task.NewProcessor(executors, store, queue, queue, processorOpts...)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()
	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("任务处理器异常退出", slog.Any("error", err))
		}
	}()

	if cfg.Feed.IntervalSeconds > 0 && len(cfg.Feed.Subreddits) > 0 {
		go scanLoop(ctx, scanner, cfg.Feed.Subreddits, time.Duration(cfg.Feed.IntervalSeconds)*time.Second)
	}
	if cfg.Server.MetricsAddress != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Server.MetricsAddress); err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Error("指标服务异常退出", slog.Any("error", err))
			}
		}()
	}

	logger.L().Info("tradepilotd 启动",
		slog.String("address", cfg.Server.Address),
		slog.String("bridge_venue", cfg.Bridge.Venue),
		slog.String("exchange", cfg.Exchange.Venue),
		slog.Bool("onchain", onchain != nil),
		slog.String("queue", cfg.Jobs.Queue.Driver),
		slog.String("store", cfg.Jobs.Store.Driver),
	)
	server := api.NewServer(cfg.Server.Address, deps,
		api.WithShutdownTimeout(time.Duration(cfg.Server.ShutdownTimeoutSeconds)*time.Second),
		api.WithReadTimeout(time.Duration(cfg.Server.ReadTimeoutSeconds)*time.Second),
		api.WithAuth(authService),
	)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func buildExecutor(ctx context.Context, cfg *config.Config) (*trade.Executor, web3.Client, func(), error) {
	registry, err := provider.NewRegistry(ctx, cfg.Web3, provider.DialEVM)
	if err != nil {
		return nil, nil, nil, err
	}
	chain, err := registry.DefaultClient()
	if err != nil {
		registry.Close()
		return nil, nil, nil, err
	}

	providers := make([]aggregator.Provider, 0, len(cfg.Aggregators.Providers))
	for _, p := range cfg.Aggregators.Providers {
		pc := aggregator.Config{
			BaseURL:     p.BaseURL,
			Chain:       cfg.Aggregators.Chain,
			ChainID:     cfg.Aggregators.ChainID,
			Timeout:     time.Duration(cfg.Aggregators.TimeoutSeconds) * time.Second,
			SlippageBps: p.SlippageBps,
		}
		if p.APIKeyEnv != "" {
			pc.APIKey = strings.TrimSpace(os.Getenv(p.APIKeyEnv))
		}
		switch p.Name {
		case "kyberswap":
			providers = append(providers, aggregator.NewKyberSwap(pc))
		case "odos":
			providers = append(providers, aggregator.NewOdos(pc))
		case "paraswap":
			providers = append(providers, aggregator.NewParaSwap(pc))
		case "openocean":
			providers = append(providers, aggregator.NewOpenOcean(pc))
		}
	}

	routerOpts := []router.Option{router.WithGuidanceURL(cfg.Aggregators.GuidanceURL)}
	if cfg.Aggregators.LaunchpadAddress != "" {
		venue, err := launchpad.New(common.HexToAddress(cfg.Aggregators.LaunchpadAddress), chain)
		if err != nil {
			registry.Close()
			return nil, nil, nil, err
		}
		routerOpts = append(routerOpts, router.WithLaunchVenue(venue))
	}

	gasBuffer, err := decimal.NewFromString(cfg.Trade.GasBufferETH)
	if err != nil {
		registry.Close()
		return nil, nil, nil, fmt.Errorf("trade.gas_buffer_eth 无效: %w", err)
	}
	executor := trade.NewExecutor(chain, router.New(providers, routerOpts...), trade.WithGasBuffer(gasBuffer))
	return executor, chain, registry.Close, nil
}

func buildAuth(cfg config.AuthConfig) (*auth.Service, error) {
	principals := make([]auth.Principal, 0, len(cfg.Tokens))
	for _, t := range cfg.Tokens {
		principals = append(principals, auth.Principal{
			Name:        t.Name,
			Token:       strings.TrimSpace(os.Getenv(t.TokenEnv)),
			Permissions: t.Permissions,
		})
	}
	return auth.NewService(auth.Config{Mode: auth.Mode(cfg.Mode), Principals: principals})
}

func buildPublisher(cfg config.KafkaConfig) (signal.Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return signal.NopPublisher{}, nil
	}
	return signal.NewKafkaPublisher(signal.KafkaConfig{Brokers: cfg.Brokers, Topic: cfg.Topic})
}

func buildStore(ctx context.Context, cfg config.StoreConfig) (task.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return task.NewMemoryStore(), nil
	case "mysql":
		return task.NewMySQLStore(ctx, storage.Config{
			DSN:             strings.TrimSpace(os.Getenv(cfg.DSNEnv)),
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetimeSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("未知的任务存储驱动: %s", cfg.Driver)
	}
}

func buildQueue(ctx context.Context, cfg config.QueueConfig) (task.Queue, error) {
	switch cfg.Driver {
	case "", "memory":
		return task.NewMemoryQueue(cfg.Size), nil
	case "redis":
		password := ""
		if cfg.Redis.PasswordEnv != "" {
			password = os.Getenv(cfg.Redis.PasswordEnv)
		}
		return task.NewRedisQueue(ctx, task.RedisQueueConfig{
			Address:  cfg.Redis.Address,
			Password: password,
			DB:       cfg.Redis.DB,
			Queue:    cfg.Redis.Queue,
		})
	case "rabbitmq":
		return task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:      strings.TrimSpace(os.Getenv(cfg.RabbitMQ.URLEnv)),
			Queue:    cfg.RabbitMQ.Queue,
			Prefetch: cfg.RabbitMQ.Prefetch,
			Durable:  true,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Driver)
	}
}

func buildAlerts(cfg config.AlertingConfig) *alerting.FanoutDispatcher {
	var notifiers []alerting.Notifier
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: cfg.WebhookURL, Headers: cfg.WebhookHeaders})
	}
	if cfg.SlackWebhookEnv != "" {
		if url := strings.TrimSpace(os.Getenv(cfg.SlackWebhookEnv)); url != "" {
			notifiers = append(notifiers, &alerting.SlackNotifier{WebhookURL: url})
		}
	}
	return alerting.NewFanout(notifiers...)
}

func scanLoop(ctx context.Context, scanner *signal.Scanner, subreddits []string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		signals, err := scanner.Scan(ctx, subreddits)
		if err != nil {
			logger.L().Warn("扫描社区帖子失败", slog.Any("error", err))
		} else {
			logger.L().Info("扫描完成", slog.Int("signals", len(signals)))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
