package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"ledger-sync-go/config"
	"ledger-sync-go/gateway"
	"ledger-sync-go/infrastructure/logger"
	"ledger-sync-go/internal/engine"
	"ledger-sync-go/ledger"
	"ledger-sync-go/metrics"
	"ledger-sync-go/symbols"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	once := flag.Bool("once", false, "仅执行一次同步迭代后退出")
	restRate := flag.Float64("restRate", 5, "REST 限流：每秒令牌数")
	restBurst := flag.Int("restBurst", 10, "REST 限流：最大突发令牌数")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	zlog, err := logger.New(cfg.Logger)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer zlog.Close()

	store, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		log.Fatalf("打开账本失败: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	brokers, candles := buildBrokers(ctx, cfg, zlog, *restRate, *restBurst, store)
	oracle := &gateway.HistoricalOracle{
		Source:       candles,
		LookbackDays: cfg.Sync.VolatilityLookbackDays,
	}

	metrics.StartServer(cfg.Metrics.Addr)
	o := engine.New(store, zlog, brokers, oracle, cfg.Sync)

	// 配置热更新：仅同步策略开关即时生效，券商连接参数需要重启。
	go func() {
		w := &config.Watcher{Path: *cfgPath}
		err := w.Start(ctx, func(next config.AppConfig) {
			o.SetPolicy(next.Sync)
			zlog.LogSync("config_reloaded", map[string]interface{}{"path": *cfgPath})
		}, func(err error) {
			zlog.LogError(err, map[string]interface{}{"stage": "config_watch"})
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			zlog.LogError(err, map[string]interface{}{"stage": "config_watch"})
		}
	}()

	daemon.SdNotify(false, daemon.SdNotifyReady)
	go watchdogLoop(ctx)

	if *once {
		if _, err := o.RunIteration(ctx); err != nil {
			zlog.LogError(err, map[string]interface{}{"stage": "iteration"})
			os.Exit(1)
		}
		return
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Sync.Interval())
	defer ticker.Stop()
	runOnce := func() bool {
		policy := o.Policy()
		now := time.Now()
		if policy.MarketHoursOnly && !symbols.IsMarketOpen(now) && !symbols.IsFuturesMarketOpen(now) {
			zlog.LogSync("iteration_skipped_market_closed", nil)
			return true
		}
		if _, err := o.RunIteration(ctx); err != nil {
			if errors.Is(err, engine.ErrIterationTimeout) {
				// 超时视为致命错误：账本可能处于半同步状态，交给 systemd 重启。
				zlog.LogError(err, map[string]interface{}{"stage": "iteration"})
				return false
			}
			zlog.LogError(err, map[string]interface{}{"stage": "iteration"})
		}
		return true
	}

	if !runOnce() {
		os.Exit(1)
	}
	for {
		select {
		case <-quit:
			daemon.SdNotify(false, daemon.SdNotifyStopping)
			zlog.LogSync("daemon_exit", nil)
			return
		case <-ticker.C:
			if !runOnce() {
				os.Exit(1)
			}
		}
	}
}

// buildBrokers constructs the configured broker gateways. A broker with a
// streamURL gets a websocket price cache layered over its REST client; the
// first broker (by name) doubles as the candle source for volatility.
func buildBrokers(ctx context.Context, cfg config.AppConfig, zlog *logger.Logger, rate float64, burst int, store *ledger.Store) (*gateway.Service, gateway.CandleSource) {
	names := make([]string, 0, len(cfg.Brokers))
	for name := range cfg.Brokers {
		names = append(names, name)
	}
	sort.Strings(names)

	var list []gateway.Broker
	var candles gateway.CandleSource
	for _, name := range names {
		bc := cfg.Brokers[name]
		rest := &gateway.RESTBroker{
			BrokerName: name,
			BaseURL:    bc.BaseURL,
			APIKey:     bc.APIKey,
			HTTPClient: gateway.NewDefaultHTTPClient(),
			Limiter:    gateway.NewTokenBucketLimiter(rate, burst),
		}
		if candles == nil {
			candles = rest
		}
		var broker gateway.Broker = rest
		if bc.StreamURL != "" {
			feed := gateway.NewPriceFeed(bc.StreamURL, ledgerSymbols(ctx, store, name, zlog))
			go feedLoop(ctx, feed, zlog, name)
			broker = &gateway.StreamingBroker{Broker: rest, Feed: feed}
		}
		list = append(list, broker)
	}
	return gateway.NewService(list...), candles
}

// ledgerSymbols returns the broker's currently tracked symbols for the
// stream subscription.
func ledgerSymbols(ctx context.Context, store *ledger.Store, broker string, zlog *logger.Logger) []string {
	positions, err := store.PositionsByBroker(ctx, broker)
	if err != nil {
		zlog.LogError(err, map[string]interface{}{"broker": broker, "stage": "stream_subscribe"})
		return nil
	}
	seen := map[string]bool{}
	var out []string
	for _, pos := range positions {
		if !seen[pos.Symbol] {
			seen[pos.Symbol] = true
			out = append(out, pos.Symbol)
		}
	}
	sort.Strings(out)
	return out
}

// feedLoop keeps the price stream alive, reconnecting with a small backoff.
func feedLoop(ctx context.Context, feed *gateway.PriceFeed, zlog *logger.Logger, broker string) {
	for {
		err := feed.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		zlog.LogError(err, map[string]interface{}{"broker": broker, "stage": "price_stream"})
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

// watchdogLoop pings the systemd watchdog at half its interval when enabled.
func watchdogLoop(ctx context.Context) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}
