package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/betbot/hodbot/internal/broker"
	"github.com/betbot/hodbot/internal/broker/alpaca"
	"github.com/betbot/hodbot/internal/broker/paper"
	"github.com/betbot/hodbot/internal/controlplane"
	"github.com/betbot/hodbot/internal/dashboard"
	"github.com/betbot/hodbot/internal/execution"
	"github.com/betbot/hodbot/internal/journal"
	"github.com/betbot/hodbot/internal/metrics"
	"github.com/betbot/hodbot/internal/scanner"
	"github.com/betbot/hodbot/internal/trader"
	"github.com/betbot/hodbot/pkg/config"
	"github.com/betbot/hodbot/pkg/logger"
	"github.com/betbot/hodbot/pkg/shutdown"
)

const (
	// paperEquity 纸交易账户的初始权益
	paperEquity     = 100_000
	shutdownTimeout = 30 * time.Second
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "盘前准备后开始实时扫描和交易",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if err := initLogger(cfg); err != nil {
				return fmt.Errorf("初始化日志失败: %w", err)
			}
			return run(cmd.Context(), cfg)
		},
	}
}

func run(parent context.Context, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rotateStop := make(chan struct{})
	defer close(rotateStop)
	logger.StartRotationChecker(rotateStop)

	mode := "live"
	if cfg.DryRun {
		mode = "paper"
	}
	logger.Infof("🚀 hodbot 启动 (mode=%s, max_positions=%d, position_size=%.0f)", mode, cfg.Risk.MaxPositions, cfg.Sizing.PositionSize)

	store, _, err := prepare(ctx, cfg)
	if err != nil {
		return fmt.Errorf("盘前准备失败: %w", err)
	}
	if store.Len() == 0 {
		return errors.New("没有可用的参考数据，无法扫描")
	}

	sd := shutdown.NewManager()
	m := metrics.New()

	client := alpaca.NewClient(cfg.Alpaca)
	var (
		orders   broker.OrderBroker = client
		paperBrk *paper.Broker
	)
	if cfg.DryRun {
		paperBrk = paper.New(paperEquity)
		orders = paperBrk
		logger.Infof("📝 纸交易模式：订单不会发送到券商")
	}

	var (
		jrnl    journal.Journal
		history controlplane.OrderHistory
		sqlJ    *journal.SQLiteJournal
	)
	if path := cfg.Storage.JournalPath; path != "" {
		sqlJ, err = journal.OpenSQLite(ctx, path)
		if err != nil {
			logger.Warnf("打开交易日志失败，本次不记录: %v", err)
		} else {
			jrnl, history = sqlJ, sqlJ
		}
	}

	var session *trader.SessionStore
	if cfg.Storage.StateDir != "" {
		session = trader.NewSessionStore(cfg.Storage.StateDir, mode)
	}

	tr := trader.New(ctx, cfg, trader.Deps{
		Broker:  orders,
		Assets:  store,
		Journal: jrnl,
		Metrics: m,
		Session: session,
	})
	tr.ClearPositions()

	engine := execution.NewEngine(tr, cfg.Execution.QueueSize, jrnl, m)
	stream := alpaca.NewStream(cfg.Alpaca.StreamEndpoint(), cfg.Alpaca.APIKey, cfg.Alpaca.SecretKey)
	sc := scanner.New(cfg.Screening, store, stream, func(symbol string, refPrice float64) {
		engine.Enqueue(symbol, refPrice)
	}, m)
	if paperBrk != nil {
		sc.SetTradeObserver(paperBrk.OnTrade)
	}
	monitor := trader.NewMonitor(tr, orders, cfg.Monitor.PollInterval, m)
	cp := controlplane.New(cfg.ListenAddr, controlplane.Deps{
		Scanner:   sc,
		Positions: tr,
		Orders:    history,
		Metrics:   m.Handler(),
	})

	// 关闭顺序：先停对账并等待，再停行情，最后释放存储
	sd.OnShutdown("monitor", func(context.Context) error { monitor.Stop(); return nil })
	sd.OnShutdown("scanner", func(context.Context) error { return sc.Stop() })
	sd.OnShutdown("execution", func(context.Context) error { engine.Stop(); return nil })
	sd.OnShutdown("controlplane", cp.Shutdown)
	if sqlJ != nil {
		sd.OnShutdown("journal", func(context.Context) error { return sqlJ.Close() })
	}

	if err := engine.Start(ctx); err != nil {
		return err
	}
	monitor.Start(ctx)
	if err := cp.Start(); err != nil {
		logger.Errorf("控制面启动失败: %v", err)
	}

	scanDone := make(chan error, 1)
	go func() { scanDone <- sc.Start(ctx) }()
	go watchReconnects(ctx, stream)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if cfg.Dashboard {
		board := dashboard.New(func() dashboard.Snapshot {
			return dashboard.Snapshot{
				Watchlist:    sc.Watchlist(),
				LastSignal:   sc.LastSignal(),
				Positions:    tr.Positions(),
				MaxPositions: cfg.Risk.MaxPositions,
				Pending:      engine.Pending(),
				Scanning:     sc.Running(),
				UpdatedAt:    time.Now(),
			}
		}, cancel)
		go func() {
			if err := board.Run(runCtx); err != nil {
				logger.Errorf("终端看板异常退出: %v", err)
			}
		}()
	}

	var runErr error
	select {
	case <-runCtx.Done():
		logger.Infof("收到退出信号，开始关闭")
	case err := <-scanDone:
		if err != nil {
			logger.Errorf("扫描器退出: %v", err)
			runErr = err
		}
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	sd.Shutdown(shutdownCtx)
	logger.Infof("👋 hodbot 已退出 (持仓 %d)", tr.PositionCount())
	return runErr
}

// watchReconnects 行情重连提示
func watchReconnects(ctx context.Context, stream *alpaca.Stream) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stream.Reconnected():
			logger.Warnf("行情已重连，断线期间的成交未计入日内高点 / 累计成交量")
		}
	}
}
