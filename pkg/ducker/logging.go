package ducker

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/jrick/logrotate/rotator"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/MixyLabs/ducker/pkg/ducker/util"
)

const (
	buildTypeRelease = "release"

	logDirectory = "logs"
	logFilename  = "ducker-latest-run.log"

	// rotate at 1MB and keep a handful of old runs around
	logRotateThresholdKB = 1024
	logMaxRolls          = 5
)

// NewLogger provides a logger instance for the whole program.
// Release builds log at info level unless verbose is set
func NewLogger(buildType string, verbose bool) (*zap.SugaredLogger, error) {
	loggerConfig := zap.NewDevelopmentConfig()

	// colorize levels and shorten the encoder's fields; no need for caller info in a small daemon
	loggerConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	loggerConfig.EncoderConfig.EncodeCaller = nil
	loggerConfig.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format("2006-01-02 15:04:05.000"))
	}
	loggerConfig.EncoderConfig.EncodeName = func(s string, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(fmt.Sprintf("%-27s", fmt.Sprintf("[%s]", s)))
	}

	var options []zap.Option

	// release builds also keep a rotated log file next to the executable, without colors
	if buildType == buildTypeRelease {
		if !verbose {
			loggerConfig.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
		}

		fileCore, err := newRotatedFileCore(loggerConfig.EncoderConfig, loggerConfig.Level)
		if err != nil {
			return nil, fmt.Errorf("create log file: %w", err)
		}

		options = append(options, zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return zapcore.NewTee(core, fileCore)
		}))
	}

	logger, err := loggerConfig.Build(options...)
	if err != nil {
		return nil, fmt.Errorf("create zap logger: %w", err)
	}

	return logger.Sugar(), nil
}

func newRotatedFileCore(encoderConfig zapcore.EncoderConfig, level zap.AtomicLevel) (zapcore.Core, error) {
	if err := util.EnsureDirExists(logDirectory); err != nil {
		return nil, fmt.Errorf("ensure log directory exists: %w", err)
	}

	logRotator, err := rotator.New(filepath.Join(logDirectory, logFilename), logRotateThresholdKB, false, logMaxRolls)
	if err != nil {
		return nil, fmt.Errorf("create log rotator: %w", err)
	}

	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	return zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.AddSync(logRotator), level), nil
}
