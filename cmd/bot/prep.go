package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/betbot/hodbot/internal/broker/alpaca"
	"github.com/betbot/hodbot/internal/refdata"
	"github.com/betbot/hodbot/pkg/config"
	"github.com/betbot/hodbot/pkg/logger"
)

func newPrepCmd(opts *rootOptions) *cobra.Command {
	var show int
	cmd := &cobra.Command{
		Use:   "prep",
		Short: "只执行盘前准备：下载日线并计算参考数据",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			cfg.Dashboard = false
			if err := initLogger(cfg); err != nil {
				return fmt.Errorf("初始化日志失败: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			store, sum, err := prepare(ctx, cfg)
			if err != nil {
				return err
			}
			printSummary(cmd, store, sum, show)
			return nil
		},
	}
	cmd.Flags().IntVar(&show, "show", 20, "打印前 N 个标的")
	return cmd
}

// prepare 读取股票池并执行盘前准备。缓存打开失败时不使用缓存继续。
func prepare(ctx context.Context, cfg config.Config) (*refdata.Store, refdata.Summary, error) {
	symbols, err := refdata.LoadUniverse(cfg.Prep.UniverseFile)
	if err != nil {
		return nil, refdata.Summary{}, err
	}
	logger.Infof("%s", universeBanner(cfg, len(symbols)))
	if cfg.Alpaca.APIKey == "" {
		logger.Warnf("⚠️ 未配置 API 密钥，行情数据请求可能失败")
	}

	var cache refdata.Cache
	if dir := cfg.Storage.AssetCacheDir; dir != "" {
		bc, err := refdata.OpenBadgerCache(dir)
		if err != nil {
			logger.Warnf("打开参考数据缓存失败，本次不使用缓存: %v", err)
		} else {
			defer bc.Close()
			cache = bc
		}
	}

	client := alpaca.NewClient(cfg.Alpaca)
	store, sum, err := refdata.NewPreparer(client, cache, cfg.Prep.BarLimit, cfg.Prep.Concurrency).Run(ctx, symbols)
	return store, sum, err
}

// universeBanner 股票池文件需预先按流通股上限筛选，这里只记录阈值
func universeBanner(cfg config.Config, n int) string {
	return fmt.Sprintf("📋 股票池 %s: %d 个标的（低流通股阈值 %d 股，需预先筛选）",
		cfg.Prep.UniverseFile, n, cfg.Screening.LowFloatThreshold)
}

func printSummary(cmd *cobra.Command, store *refdata.Store, sum refdata.Summary, show int) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "universe: %d requested, %d fetched, %d cached, %d failed, %d usable\n",
		sum.Requested, sum.Fetched, sum.Cached, sum.Failed, store.Len())

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SYMBOL\tPREV CLOSE\tAVG VOLUME\tVOLATILITY")
	for i, sym := range store.Symbols() {
		if show > 0 && i >= show {
			break
		}
		info, _ := store.Get(sym)
		vol := "-"
		if info.HasVolatility {
			vol = fmt.Sprintf("%.4f", info.Volatility)
		}
		fmt.Fprintf(w, "%s\t%.2f\t%.0f\t%s\n", sym, info.PrevClose, info.AvgVolume, vol)
	}
	_ = w.Flush()
	if show > 0 && store.Len() > show {
		fmt.Fprintf(out, "... %d more\n", store.Len()-show)
	}
}
