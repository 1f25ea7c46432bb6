package telemetry

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	charmlog "github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/zarigata/CHAOSV3/internal/config"
)

const consoleTimeFormat = "15:04:05"

// ParseLevel maps a configured level name onto a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", name)
	}
}

// NewLogger builds the process logger from cfg. Records go to out as JSON or,
// with log_format=console, through a charmbracelet text formatter. When
// cfg.LogFile is set every record is also appended as JSON to a rotated file;
// the returned closer releases it and is never nil.
func NewLogger(cfg config.TelemetryConfig, out io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	var console slog.Handler
	if cfg.LogFormat == "console" {
		console = charmlog.NewWithOptions(out, charmlog.Options{
			ReportTimestamp: true,
			TimeFormat:      consoleTimeFormat,
			Level:           charmLevel(level),
		})
	} else {
		console = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	}

	var closer io.Closer = nopCloser{}
	handler := console
	if cfg.LogFile != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			MaxAge:     cfg.LogMaxAgeDays,
			Compress:   true,
		}
		closer = file
		handler = multiHandler{console, slog.NewJSONHandler(file, &slog.HandlerOptions{
			Level: level,
			ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey {
					a.Value = slog.StringValue(a.Value.Time().UTC().Format(time.RFC3339Nano))
				}
				return a
			},
		})}
	}

	return slog.New(NewContextHandler(handler)), closer, nil
}

func charmLevel(l slog.Level) charmlog.Level {
	switch {
	case l <= slog.LevelDebug:
		return charmlog.DebugLevel
	case l <= slog.LevelInfo:
		return charmlog.InfoLevel
	case l <= slog.LevelWarn:
		return charmlog.WarnLevel
	default:
		return charmlog.ErrorLevel
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
