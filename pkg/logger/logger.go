package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Logger 全局日志实例
	Logger *logrus.Logger
	// currentLogFile 当前日志文件路径
	currentLogFile string
	// currentSession 当前交易日（YYYY-MM-DD）
	currentSession string
	// savedConfig 保存的日志配置（用于按交易日切换）
	savedConfig Config
	// logMu 日志文件切换锁
	logMu sync.Mutex
	// now 可替换的时钟（测试用）
	now = time.Now
)

// Config 日志配置
type Config struct {
	Level        string // 日志级别: debug, info, warn, error
	OutputFile   string // 日志文件路径（可选，为空则只输出到控制台）
	MaxSize      int    // 日志文件最大大小（MB）
	MaxBackups   int    // 保留的旧日志文件数量
	MaxAge       int    // 保留旧日志文件的天数
	Compress     bool   // 是否压缩旧日志文件
	LogBySession bool   // 是否按交易日命名日志文件
	Quiet        bool   // 不输出到控制台（TUI 模式下使用）
}

func sessionKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// sessionFileName 根据交易日生成日志文件名：logs/bot.log -> logs/bot_2026-10-15.log
func sessionFileName(basePath, session string) string {
	dir := filepath.Dir(basePath)
	base := filepath.Base(basePath)
	ext := filepath.Ext(base)
	name := base[:len(base)-len(ext)]
	file := fmt.Sprintf("%s_%s%s", name, session, ext)
	if dir == "." || dir == "" {
		return file
	}
	return filepath.Join(dir, file)
}

func newFormatter() logrus.Formatter {
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "06-01-02 15:04:05", // 格式: yy-mm-dd HH:MM:ss
	}
}

// Init 初始化日志系统
func Init(config Config) error {
	logMu.Lock()
	defer logMu.Unlock()
	return initLocked(config)
}

func initLocked(config Config) error {
	logger := logrus.New()

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	logger.SetFormatter(newFormatter())

	var writers []io.Writer
	if !config.Quiet {
		writers = append(writers, os.Stdout)
	}

	savedConfig = config
	currentLogFile = ""
	if config.OutputFile != "" {
		logFilePath := config.OutputFile
		if config.LogBySession {
			currentSession = sessionKey(now())
			logFilePath = sessionFileName(config.OutputFile, currentSession)
		}

		if err := os.MkdirAll(filepath.Dir(logFilePath), 0o755); err != nil {
			return err
		}

		writers = append(writers, &lumberjack.Logger{
			Filename:   logFilePath,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
			Compress:   config.Compress,
		})
		currentLogFile = logFilePath
	}
	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	out := io.MultiWriter(writers...)
	logger.SetOutput(out)

	// 同时设置全局 logrus，组件里 logrus.WithField() 创建的 entry 也能写入文件
	logrus.SetOutput(out)
	logrus.SetLevel(level)
	logrus.SetFormatter(newFormatter())

	Logger = logger
	return nil
}

// CheckAndRotate 交易日变化时切换日志文件
func CheckAndRotate() error {
	logMu.Lock()
	defer logMu.Unlock()

	if !savedConfig.LogBySession || savedConfig.OutputFile == "" {
		return nil
	}
	session := sessionKey(now())
	if session == currentSession {
		return nil
	}
	old := currentLogFile
	if err := initLocked(savedConfig); err != nil {
		return err
	}
	Logger.Infof("日志文件已切换到新交易日: %s -> %s", old, currentLogFile)
	return nil
}

// InitDefault 使用默认配置初始化日志系统
func InitDefault() error {
	return Init(Config{
		Level:        "info",
		OutputFile:   "logs/bot.log",
		MaxSize:      100, // 100MB
		MaxBackups:   3,
		MaxAge:       7, // 7天
		Compress:     true,
		LogBySession: true,
	})
}

// StartRotationChecker 启动按交易日切换日志的后台检查，stop 关闭后退出
func StartRotationChecker(stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := CheckAndRotate(); err != nil && Logger != nil {
					Logger.Errorf("检查日志轮转失败: %v", err)
				}
			}
		}
	}()
}

// Debugf 记录格式化的 DEBUG 级别日志
func Debugf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Debugf(format, args...)
	}
}

// Infof 记录格式化的 INFO 级别日志
func Infof(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Infof(format, args...)
	}
}

// Warnf 记录格式化的 WARN 级别日志
func Warnf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Warnf(format, args...)
	}
}

// Errorf 记录格式化的 ERROR 级别日志
func Errorf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Errorf(format, args...)
	}
}

// WithField 添加字段到日志上下文
func WithField(key string, value interface{}) *logrus.Entry {
	if Logger != nil {
		return Logger.WithField(key, value)
	}
	return logrus.WithField(key, value)
}

// WithFields 添加多个字段到日志上下文
func WithFields(fields logrus.Fields) *logrus.Entry {
	if Logger != nil {
		return Logger.WithFields(fields)
	}
	return logrus.WithFields(fields)
}

// CurrentLogFile 获取当前日志文件路径
func CurrentLogFile() string {
	logMu.Lock()
	defer logMu.Unlock()
	return currentLogFile
}
