package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options controls logger outputs
type Options struct {
	// Level is the console level ("debug", "info", "warn", "error"). Defaults to info.
	Level string
	// Dir receives one JSON log file per run at debug level. Empty disables the file output.
	Dir string
	// JSONConsole writes JSON instead of colored text to stdout, for the long-running worker
	JSONConsole bool
}

// InitLogger initializes a zap logger with console and file outputs
// env is used to prefix the log file name
func InitLogger(env string, opts Options) (*zap.Logger, error) {
	consoleLevel := zapcore.InfoLevel
	if opts.Level != "" {
		if err := consoleLevel.UnmarshalText([]byte(opts.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
	}

	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder(opts.JSONConsole), zapcore.AddSync(os.Stdout), consoleLevel),
	}

	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create logs directory: %w", err)
		}

		timestamp := time.Now().Format("2006-01-02_15-04-05")
		logFileName := filepath.Join(opts.Dir, fmt.Sprintf("%s_%s.log", env, timestamp))
		logFile, err := os.OpenFile(logFileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}

		cores = append(cores, zapcore.NewCore(jsonEncoder(), zapcore.AddSync(logFile), zapcore.DebugLevel))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger.With(zap.String("env", env)), nil
}

func consoleEncoder(asJSON bool) zapcore.Encoder {
	if asJSON {
		return jsonEncoder()
	}
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewConsoleEncoder(cfg)
}

func jsonEncoder() zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "timestamp"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewJSONEncoder(cfg)
}
