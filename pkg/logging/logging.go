// Package logging настраивает zap логгер сигнального ядра.
// Запись в файл идет через lumberjack с ротацией.
package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Форматы вывода
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

var levelMapping = map[string]zapcore.Level{
	"debug": zap.DebugLevel,
	"info":  zap.InfoLevel,
	"warn":  zap.WarnLevel,
	"error": zap.ErrorLevel,
}

// Config параметры логгера
type Config struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`

	// File путь к файлу лога. Пустое значение означает stdout.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// DefaultConfig консольный вывод уровня info
func DefaultConfig() Config {
	return Config{
		Level:     "info",
		Format:    FormatConsole,
		MaxSizeMB: 100,
	}
}

// New создает логгер по конфигурации
func New(cfg Config) (*zap.Logger, error) {
	var ws zapcore.WriteSyncer = zapcore.AddSync(os.Stdout)
	if cfg.File != "" {
		ws = zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxAge:     cfg.MaxAgeDays,
			MaxBackups: cfg.MaxBackups,
			Compress:   cfg.Compress,
		})
	}
	return newLogger(cfg, ws)
}

func newLogger(cfg Config, ws zapcore.WriteSyncer) (*zap.Logger, error) {
	levelName := strings.ToLower(strings.TrimSpace(cfg.Level))
	if levelName == "" {
		levelName = "info"
	}
	level, ok := levelMapping[levelName]
	if !ok {
		return nil, fmt.Errorf("unknown log level %q", cfg.Level)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	switch strings.ToLower(cfg.Format) {
	case FormatJSON:
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	case FormatConsole, "":
		encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	core := zapcore.NewCore(encoder, ws, zap.NewAtomicLevelAt(level))
	return zap.New(core, zap.AddCaller()), nil
}

// Named логгер компонента ядра
func Named(logger *zap.Logger, component string) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger.Named(component).With(Component(component))
}
