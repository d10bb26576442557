package logging

import (
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/harvestbin/silo/internal/config"
)

const timeFormat = "2006-01-02 15:04:05"

// Rotation defaults, also seeded into the settings table.
const (
	DefaultLogFilePath = "silo.log"
	DefaultMaxSizeMB   = 50
	DefaultMaxBackups  = 5
	DefaultMaxAgeDays  = 30
	DefaultCompress    = true
)

// Apply reconfigures the global logger from stored settings: the level plus a
// console writer and a rotating file. An empty logFilePath falls back to a
// default filename in the working directory.
func Apply(level string, loader *config.Loader, logFilePath string) {
	zerolog.SetGlobalLevel(parseLevel(level))

	console := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: timeFormat}

	if logFilePath == "" {
		logFilePath = DefaultLogFilePath
	}
	if err := os.MkdirAll(filepath.Dir(logFilePath), 0o755); err != nil {
		log.Logger = zerolog.New(console).With().Timestamp().Logger()
		log.Error().Err(err).Str("path", logFilePath).Msg("Failed to prepare log directory; logging to console only")
		return
	}

	file := zerolog.ConsoleWriter{
		Out: &lumberjack.Logger{
			Filename:   logFilePath,
			MaxSize:    loader.Int("log.max_size_mb", DefaultMaxSizeMB),
			MaxBackups: loader.Int("log.max_backups", DefaultMaxBackups),
			MaxAge:     loader.Int("log.max_age_days", DefaultMaxAgeDays),
			Compress:   loader.Bool("log.compress", DefaultCompress),
		},
		TimeFormat: timeFormat,
		NoColor:    true,
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(console, file)).With().Timestamp().Logger()
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	default:
		return zerolog.InfoLevel
	}
}

// FilePathForDB returns the log file path next to the database file.
func FilePathForDB(dbPath string) string {
	if dbPath == "" {
		return DefaultLogFilePath
	}
	if abs, err := filepath.Abs(dbPath); err == nil {
		dbPath = abs
	}
	return filepath.Join(filepath.Dir(dbPath), DefaultLogFilePath)
}
