package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/betbot/hodbot/pkg/config"
	"github.com/betbot/hodbot/pkg/logger"
)

// rootOptions 全局命令行参数
type rootOptions struct {
	configPath string
	envFile    string
	dryRun     bool
	tui        bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "hodbot",
		Short:         "低流通盘日内高点突破交易机器人",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "配置文件路径（支持 .yaml, .yml, .json）")
	flags.StringVar(&opts.envFile, "env-file", ".env", "环境变量文件（不存在时忽略）")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "纸交易模式：订单只记录在内存中")
	flags.BoolVar(&opts.tui, "tui", false, "启用终端看板")

	cmd.AddCommand(
		newRunCmd(opts),
		newPrepCmd(opts),
	)
	return cmd
}

// loadConfig 依次加载 .env、配置文件，再应用命令行开关
func loadConfig(opts *rootOptions) (config.Config, error) {
	if opts.envFile != "" {
		if _, err := os.Stat(opts.envFile); err == nil {
			if err := godotenv.Load(opts.envFile); err != nil {
				return config.Config{}, fmt.Errorf("加载 %s 失败: %w", opts.envFile, err)
			}
		}
	}
	if opts.dryRun {
		// 让校验阶段就按纸交易处理（不要求密钥）
		_ = os.Setenv("DRY_RUN", "true")
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if opts.dryRun {
		cfg.DryRun = true
	}
	if opts.tui {
		cfg.Dashboard = true
	}
	return cfg, nil
}

func initLogger(cfg config.Config) error {
	return logger.Init(logger.Config{
		Level:        cfg.LogLevel,
		OutputFile:   cfg.LogFile,
		MaxSize:      100, // 100MB
		MaxBackups:   3,
		MaxAge:       7, // 7天
		Compress:     true,
		LogBySession: true,
		Quiet:        cfg.Dashboard,
	})
}
