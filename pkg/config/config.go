package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AlpacaConfig 券商 / 行情接入配置
type AlpacaConfig struct {
	APIKey    string
	SecretKey string
	BaseURL   string // 交易 API，例如 https://paper-api.alpaca.markets
	DataURL   string // 历史行情 API
	StreamURL string // 实时行情 WebSocket（不含 feed 后缀）
	Feed      string // sip / iex
}

// SizingConfig 仓位计算配置
type SizingConfig struct {
	PositionSize        float64 // 固定每笔金额（美元）
	SizeEquityPct       float64 // >0 时按权益比例计算每笔金额
	UseVolatilityAdjust bool    // 是否按波动率缩放
	VolatilityTarget    float64 // 目标波动率
}

// RiskConfig 风控配置
type RiskConfig struct {
	StopLossPct   float64
	TakeProfitPct float64
	MaxDailyLoss  float64 // 当日最大亏损（美元），<=0 表示关闭
	MaxPositions  int     // 最大同时持仓数，<=0 表示不限制
}

// ScreeningConfig 扫描阈值
type ScreeningConfig struct {
	LowFloatThreshold int64
	MinPrice          float64
	MaxPrice          float64
	MinPctChange      float64
	MinRelVolume      float64
	HODProximityPct   float64
}

// ExecutionConfig 下单执行配置
type ExecutionConfig struct {
	SubmitAttempts int           // 提交总次数（含首次）
	RetryBackoff   time.Duration // 失败后固定等待
	QueueSize      int           // 信号队列长度
}

// MonitorConfig 持仓对账配置
type MonitorConfig struct {
	PollInterval time.Duration
}

// PrepConfig 盘前准备配置
type PrepConfig struct {
	UniverseFile string
	BarLimit     int
	Concurrency  int
}

// StorageConfig 本地存储路径，为空表示关闭对应功能
type StorageConfig struct {
	JournalPath   string // SQLite 交易日志
	AssetCacheDir string // Badger 参考数据缓存
	StateDir      string // 会话状态（起始权益）
}

// Config 应用配置（启动时构建一次，按值传入各组件）
type Config struct {
	Alpaca     AlpacaConfig
	Sizing     SizingConfig
	Risk       RiskConfig
	Screening  ScreeningConfig
	Execution  ExecutionConfig
	Monitor    MonitorConfig
	Prep       PrepConfig
	Storage    StorageConfig
	ListenAddr string // 控制面 HTTP 监听地址，为空则不启动
	LogLevel   string
	LogFile    string
	Dashboard  bool
	DryRun     bool // 纸交易模式：不调用真实下单接口
}

// Default 返回默认配置（与原始常量一致）
func Default() Config {
	return Config{
		Alpaca: AlpacaConfig{
			BaseURL:   "https://paper-api.alpaca.markets",
			DataURL:   "https://data.alpaca.markets",
			StreamURL: "wss://stream.data.alpaca.markets/v2",
			Feed:      "sip",
		},
		Sizing: SizingConfig{
			PositionSize:     1000,
			VolatilityTarget: 0.02,
		},
		Risk: RiskConfig{
			StopLossPct:   0.025,
			TakeProfitPct: 0.05,
			MaxDailyLoss:  500,
			MaxPositions:  3,
		},
		Screening: ScreeningConfig{
			LowFloatThreshold: 10_000_000,
			MinPrice:          2.0,
			MaxPrice:          20.0,
			MinPctChange:      0.10,
			MinRelVolume:      5,
			HODProximityPct:   0.03,
		},
		Execution: ExecutionConfig{
			SubmitAttempts: 3,
			RetryBackoff:   2 * time.Second,
			QueueSize:      64,
		},
		Monitor: MonitorConfig{
			PollInterval: 60 * time.Second,
		},
		Prep: PrepConfig{
			UniverseFile: "low_float_stocks.csv",
			BarLimit:     50,
			Concurrency:  20,
		},
		Storage: StorageConfig{
			JournalPath:   "data/journal.db",
			AssetCacheDir: "data/assets",
			StateDir:      "data/state",
		},
		LogLevel: "info",
		LogFile:  "logs/bot.log",
	}
}

// ConfigFile 配置文件结构（用于 YAML/JSON 解析）。
// 指针字段：只有文件里出现的键才覆盖环境变量/默认值。
type ConfigFile struct {
	Alpaca struct {
		APIKey    *string `yaml:"api_key" json:"api_key"`
		SecretKey *string `yaml:"secret_key" json:"secret_key"`
		BaseURL   *string `yaml:"base_url" json:"base_url"`
		DataURL   *string `yaml:"data_url" json:"data_url"`
		StreamURL *string `yaml:"stream_url" json:"stream_url"`
		Feed      *string `yaml:"feed" json:"feed"`
	} `yaml:"alpaca" json:"alpaca"`
	Sizing struct {
		PositionSize        *float64 `yaml:"position_size" json:"position_size"`
		SizeEquityPct       *float64 `yaml:"size_equity_pct" json:"size_equity_pct"`
		UseVolatilityAdjust *bool    `yaml:"use_volatility_adjust" json:"use_volatility_adjust"`
		VolatilityTarget    *float64 `yaml:"volatility_target" json:"volatility_target"`
	} `yaml:"sizing" json:"sizing"`
	Risk struct {
		StopLossPct   *float64 `yaml:"stop_loss_pct" json:"stop_loss_pct"`
		TakeProfitPct *float64 `yaml:"take_profit_pct" json:"take_profit_pct"`
		MaxDailyLoss  *float64 `yaml:"max_daily_loss" json:"max_daily_loss"`
		MaxPositions  *int     `yaml:"max_positions" json:"max_positions"`
	} `yaml:"risk" json:"risk"`
	Screening struct {
		LowFloatThreshold *int64   `yaml:"low_float_threshold" json:"low_float_threshold"`
		MinPrice          *float64 `yaml:"min_price" json:"min_price"`
		MaxPrice          *float64 `yaml:"max_price" json:"max_price"`
		MinPctChange      *float64 `yaml:"min_pct_change" json:"min_pct_change"`
		MinRelVolume      *float64 `yaml:"min_rel_volume" json:"min_rel_volume"`
		HODProximityPct   *float64 `yaml:"hod_proximity_pct" json:"hod_proximity_pct"`
	} `yaml:"screening" json:"screening"`
	Execution struct {
		SubmitAttempts *int    `yaml:"submit_attempts" json:"submit_attempts"`
		RetryBackoff   *string `yaml:"retry_backoff" json:"retry_backoff"` // 例如 "2s"
		QueueSize      *int    `yaml:"queue_size" json:"queue_size"`
	} `yaml:"execution" json:"execution"`
	Monitor struct {
		PollInterval *string `yaml:"poll_interval" json:"poll_interval"` // 例如 "60s"
	} `yaml:"monitor" json:"monitor"`
	Prep struct {
		UniverseFile *string `yaml:"universe_file" json:"universe_file"`
		BarLimit     *int    `yaml:"bar_limit" json:"bar_limit"`
		Concurrency  *int    `yaml:"concurrency" json:"concurrency"`
	} `yaml:"prep" json:"prep"`
	Storage struct {
		JournalPath   *string `yaml:"journal_path" json:"journal_path"`
		AssetCacheDir *string `yaml:"asset_cache_dir" json:"asset_cache_dir"`
		StateDir      *string `yaml:"state_dir" json:"state_dir"`
	} `yaml:"storage" json:"storage"`
	ListenAddr *string `yaml:"listen_addr" json:"listen_addr"`
	LogLevel   *string `yaml:"log_level" json:"log_level"`
	LogFile    *string `yaml:"log_file" json:"log_file"`
	Dashboard  *bool   `yaml:"dashboard" json:"dashboard"`
	DryRun     *bool   `yaml:"dry_run" json:"dry_run"`
}

// Load 构建配置，优先级：配置文件 > 环境变量 > 默认值。
// filePath 为空时只使用环境变量和默认值。
func Load(filePath string) (Config, error) {
	cfg := Default()
	applyEnv(&cfg)

	if filePath != "" {
		cf, err := loadConfigFile(filePath)
		if err != nil {
			return Config{}, fmt.Errorf("加载配置文件失败 %s: %w", filePath, err)
		}
		if err := cf.apply(&cfg); err != nil {
			return Config{}, fmt.Errorf("解析配置文件失败 %s: %w", filePath, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("配置验证失败: %w", err)
	}
	return cfg, nil
}

// loadConfigFile 加载配置文件（支持 YAML 和 JSON）
func loadConfigFile(filePath string) (*ConfigFile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cf ConfigFile
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cf); err != nil {
			return nil, fmt.Errorf("解析 YAML 配置文件失败: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cf); err != nil {
			return nil, fmt.Errorf("解析 JSON 配置文件失败: %w", err)
		}
	default:
		return nil, fmt.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml, .json)", filepath.Ext(filePath))
	}
	return &cf, nil
}

func applyEnv(cfg *Config) {
	cfg.Alpaca.APIKey = getEnv("ALPACA_API_KEY", cfg.Alpaca.APIKey)
	cfg.Alpaca.SecretKey = getEnv("ALPACA_SECRET_KEY", cfg.Alpaca.SecretKey)
	cfg.Alpaca.BaseURL = getEnv("BASE_URL", cfg.Alpaca.BaseURL)
	cfg.Alpaca.DataURL = getEnv("DATA_URL", cfg.Alpaca.DataURL)
	cfg.Alpaca.StreamURL = getEnv("DATA_STREAM_URL", cfg.Alpaca.StreamURL)
	cfg.Alpaca.Feed = getEnv("DATA_FEED", cfg.Alpaca.Feed)

	cfg.Sizing.PositionSize = parseFloatEnv("POSITION_SIZE", cfg.Sizing.PositionSize)
	cfg.Sizing.SizeEquityPct = parseFloatEnv("SIZE_EQUITY_PCT", cfg.Sizing.SizeEquityPct)
	cfg.Sizing.UseVolatilityAdjust = parseBoolEnv("USE_VOLATILITY_ADJUST", cfg.Sizing.UseVolatilityAdjust)
	cfg.Sizing.VolatilityTarget = parseFloatEnv("VOLATILITY_TARGET", cfg.Sizing.VolatilityTarget)

	cfg.Risk.StopLossPct = parseFloatEnv("STOP_LOSS_PCT", cfg.Risk.StopLossPct)
	cfg.Risk.TakeProfitPct = parseFloatEnv("TAKE_PROFIT_PCT", cfg.Risk.TakeProfitPct)
	cfg.Risk.MaxDailyLoss = parseFloatEnv("MAX_DAILY_LOSS", cfg.Risk.MaxDailyLoss)
	cfg.Risk.MaxPositions = parseIntEnv("MAX_POSITIONS", cfg.Risk.MaxPositions)

	cfg.Screening.LowFloatThreshold = int64(parseIntEnv("LOW_FLOAT_THRESHOLD", int(cfg.Screening.LowFloatThreshold)))
	cfg.Screening.MinPrice = parseFloatEnv("MIN_PRICE", cfg.Screening.MinPrice)
	cfg.Screening.MaxPrice = parseFloatEnv("MAX_PRICE", cfg.Screening.MaxPrice)
	cfg.Screening.MinPctChange = parseFloatEnv("MIN_PCT_CHANGE", cfg.Screening.MinPctChange)
	cfg.Screening.MinRelVolume = parseFloatEnv("MIN_REL_VOLUME", cfg.Screening.MinRelVolume)
	cfg.Screening.HODProximityPct = parseFloatEnv("HOD_PROXIMITY_PCT", cfg.Screening.HODProximityPct)

	cfg.Execution.SubmitAttempts = parseIntEnv("SUBMIT_ATTEMPTS", cfg.Execution.SubmitAttempts)
	cfg.Execution.RetryBackoff = parseDurationEnv("RETRY_BACKOFF", cfg.Execution.RetryBackoff)
	cfg.Execution.QueueSize = parseIntEnv("SIGNAL_QUEUE_SIZE", cfg.Execution.QueueSize)
	cfg.Monitor.PollInterval = parseDurationEnv("MONITOR_POLL_INTERVAL", cfg.Monitor.PollInterval)

	cfg.Prep.UniverseFile = getEnv("UNIVERSE_FILE", cfg.Prep.UniverseFile)
	cfg.Prep.BarLimit = parseIntEnv("PREP_BAR_LIMIT", cfg.Prep.BarLimit)
	cfg.Prep.Concurrency = parseIntEnv("PREP_CONCURRENCY", cfg.Prep.Concurrency)

	cfg.Storage.JournalPath = getEnv("JOURNAL_PATH", cfg.Storage.JournalPath)
	cfg.Storage.AssetCacheDir = getEnv("ASSET_CACHE_DIR", cfg.Storage.AssetCacheDir)
	cfg.Storage.StateDir = getEnv("STATE_DIR", cfg.Storage.StateDir)

	cfg.ListenAddr = getEnv("LISTEN_ADDR", cfg.ListenAddr)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)
	cfg.Dashboard = parseBoolEnv("DASHBOARD", cfg.Dashboard)
	cfg.DryRun = parseBoolEnv("DRY_RUN", cfg.DryRun)
}

func (cf *ConfigFile) apply(cfg *Config) error {
	setString(&cfg.Alpaca.APIKey, cf.Alpaca.APIKey)
	setString(&cfg.Alpaca.SecretKey, cf.Alpaca.SecretKey)
	setString(&cfg.Alpaca.BaseURL, cf.Alpaca.BaseURL)
	setString(&cfg.Alpaca.DataURL, cf.Alpaca.DataURL)
	setString(&cfg.Alpaca.StreamURL, cf.Alpaca.StreamURL)
	setString(&cfg.Alpaca.Feed, cf.Alpaca.Feed)

	setFloat(&cfg.Sizing.PositionSize, cf.Sizing.PositionSize)
	setFloat(&cfg.Sizing.SizeEquityPct, cf.Sizing.SizeEquityPct)
	setBool(&cfg.Sizing.UseVolatilityAdjust, cf.Sizing.UseVolatilityAdjust)
	setFloat(&cfg.Sizing.VolatilityTarget, cf.Sizing.VolatilityTarget)

	setFloat(&cfg.Risk.StopLossPct, cf.Risk.StopLossPct)
	setFloat(&cfg.Risk.TakeProfitPct, cf.Risk.TakeProfitPct)
	setFloat(&cfg.Risk.MaxDailyLoss, cf.Risk.MaxDailyLoss)
	setInt(&cfg.Risk.MaxPositions, cf.Risk.MaxPositions)

	if cf.Screening.LowFloatThreshold != nil {
		cfg.Screening.LowFloatThreshold = *cf.Screening.LowFloatThreshold
	}
	setFloat(&cfg.Screening.MinPrice, cf.Screening.MinPrice)
	setFloat(&cfg.Screening.MaxPrice, cf.Screening.MaxPrice)
	setFloat(&cfg.Screening.MinPctChange, cf.Screening.MinPctChange)
	setFloat(&cfg.Screening.MinRelVolume, cf.Screening.MinRelVolume)
	setFloat(&cfg.Screening.HODProximityPct, cf.Screening.HODProximityPct)

	setInt(&cfg.Execution.SubmitAttempts, cf.Execution.SubmitAttempts)
	if err := setDuration(&cfg.Execution.RetryBackoff, cf.Execution.RetryBackoff); err != nil {
		return fmt.Errorf("execution.retry_backoff: %w", err)
	}
	setInt(&cfg.Execution.QueueSize, cf.Execution.QueueSize)
	if err := setDuration(&cfg.Monitor.PollInterval, cf.Monitor.PollInterval); err != nil {
		return fmt.Errorf("monitor.poll_interval: %w", err)
	}

	setString(&cfg.Prep.UniverseFile, cf.Prep.UniverseFile)
	setInt(&cfg.Prep.BarLimit, cf.Prep.BarLimit)
	setInt(&cfg.Prep.Concurrency, cf.Prep.Concurrency)

	setString(&cfg.Storage.JournalPath, cf.Storage.JournalPath)
	setString(&cfg.Storage.AssetCacheDir, cf.Storage.AssetCacheDir)
	setString(&cfg.Storage.StateDir, cf.Storage.StateDir)

	setString(&cfg.ListenAddr, cf.ListenAddr)
	setString(&cfg.LogLevel, cf.LogLevel)
	setString(&cfg.LogFile, cf.LogFile)
	setBool(&cfg.Dashboard, cf.Dashboard)
	setBool(&cfg.DryRun, cf.DryRun)
	return nil
}

// Validate 校验配置
func (c Config) Validate() error {
	if !c.DryRun {
		if c.Alpaca.APIKey == "" {
			return fmt.Errorf("ALPACA_API_KEY 未配置")
		}
		if c.Alpaca.SecretKey == "" {
			return fmt.Errorf("ALPACA_SECRET_KEY 未配置")
		}
	}
	if c.Sizing.PositionSize <= 0 {
		return fmt.Errorf("POSITION_SIZE 必须大于 0")
	}
	if c.Sizing.SizeEquityPct < 0 || c.Sizing.SizeEquityPct > 1 {
		return fmt.Errorf("SIZE_EQUITY_PCT 必须在 0 到 1 之间")
	}
	if c.Sizing.UseVolatilityAdjust && c.Sizing.VolatilityTarget <= 0 {
		return fmt.Errorf("启用波动率调整时 VOLATILITY_TARGET 必须大于 0")
	}
	if c.Risk.StopLossPct <= 0 || c.Risk.StopLossPct >= 1 {
		return fmt.Errorf("STOP_LOSS_PCT 必须在 0 到 1 之间")
	}
	if c.Risk.TakeProfitPct <= 0 {
		return fmt.Errorf("TAKE_PROFIT_PCT 必须大于 0")
	}
	if c.Screening.MinPrice < 0 || c.Screening.MaxPrice <= 0 {
		return fmt.Errorf("MIN_PRICE/MAX_PRICE 不能为负数")
	}
	if c.Screening.MinPrice > c.Screening.MaxPrice {
		return fmt.Errorf("MIN_PRICE (%.2f) 不能大于 MAX_PRICE (%.2f)", c.Screening.MinPrice, c.Screening.MaxPrice)
	}
	if c.Screening.MinRelVolume < 0 {
		return fmt.Errorf("MIN_REL_VOLUME 不能为负数")
	}
	if c.Screening.HODProximityPct < 0 || c.Screening.HODProximityPct >= 1 {
		return fmt.Errorf("HOD_PROXIMITY_PCT 必须在 0 到 1 之间")
	}
	if c.Execution.SubmitAttempts < 1 {
		return fmt.Errorf("SUBMIT_ATTEMPTS 至少为 1")
	}
	if c.Execution.RetryBackoff < 0 {
		return fmt.Errorf("RETRY_BACKOFF 不能为负数")
	}
	if c.Execution.QueueSize < 1 {
		return fmt.Errorf("SIGNAL_QUEUE_SIZE 至少为 1")
	}
	if c.Monitor.PollInterval <= 0 {
		return fmt.Errorf("MONITOR_POLL_INTERVAL 必须大于 0")
	}
	if c.Prep.BarLimit < 2 {
		return fmt.Errorf("PREP_BAR_LIMIT 至少为 2")
	}
	if c.Prep.Concurrency < 1 {
		return fmt.Errorf("PREP_CONCURRENCY 至少为 1")
	}
	return nil
}

// StreamEndpoint 返回带 feed 的实时行情地址
func (a AlpacaConfig) StreamEndpoint() string {
	return strings.TrimSuffix(a.StreamURL, "/") + "/" + a.Feed
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *string) error {
	if v == nil {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func parseFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseBool(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func parseDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if v, err := time.ParseDuration(value); err == nil {
			return v
		}
	}
	return defaultValue
}
