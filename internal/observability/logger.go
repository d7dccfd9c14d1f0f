package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog for structured logging.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new structured logger.
func NewLogger(service, version string, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(output).With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Str("host", getHostname()).
		Logger()

	return &Logger{
		logger: logger,
	}
}

// NewConsoleLogger writes human readable lines, for interactive commands.
func NewConsoleLogger(output io.Writer) *Logger {
	if output == nil {
		output = os.Stderr
	}
	return &Logger{
		logger: zerolog.New(zerolog.ConsoleWriter{Out: output, TimeFormat: time.Kitchen}).
			With().Timestamp().Logger(),
	}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{logger: zerolog.Nop()}
}

// WithLevel returns a copy filtered at level ("debug", "info", "warn",
// "error"). Unknown levels fall back to info.
func (l *Logger) WithLevel(level string) *Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return &Logger{logger: l.logger.Level(lvl)}
}

// WithSession adds session_id context to logger.
func (l *Logger) WithSession(sessionID string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("session_id", sessionID).Logger(),
	}
}

// WithRole adds the exchange role (receiver or sender) to logger.
func (l *Logger) WithRole(role string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("role", role).Logger(),
	}
}

// WithFile adds file context to logger.
func (l *Logger) WithFile(fileName string, fileSize int64) *Logger {
	return &Logger{
		logger: l.logger.With().
			Str("file_name", fileName).
			Int64("file_size", fileSize).
			Logger(),
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

// Info logs an info message.
func (l *Logger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string) {
	l.logger.Warn().Msg(msg)
}

// Error logs an error message.
func (l *Logger) Error(err error, msg string) {
	l.logger.Error().Err(err).Msg(msg)
}

// Fatal logs a fatal message and exits.
func (l *Logger) Fatal(err error, msg string) {
	l.logger.Fatal().Err(err).Msg(msg)
}

// SessionOpened logs the registration of an exchange session.
func (l *Logger) SessionOpened(sessionID string, kdfOps, kdfMemLimit int) {
	l.logger.Info().
		Str("session_id", sessionID).
		Int("kdf_ops", kdfOps).
		Int("kdf_mem_limit", kdfMemLimit).
		Msg("exchange session opened")
}

// LinkIssued logs that an exchange link is ready to be shared. The link
// itself is never logged since its fragment carries key material.
func (l *Logger) LinkIssued(sessionID string) {
	l.logger.Info().
		Str("session_id", sessionID).
		Msg("exchange link issued")
}

// UploadStarted logs the start of a ciphertext upload.
func (l *Logger) UploadStarted(sessionID string, encSize int64, totalChunks int) {
	l.logger.Info().
		Str("session_id", sessionID).
		Int64("enc_size", encSize).
		Int("total_chunks", totalChunks).
		Msg("upload started")
}

// ChunkUploaded logs chunk upload event.
func (l *Logger) ChunkUploaded(sessionID string, sequenceID, chunkSize int, last bool) {
	l.logger.Debug().
		Str("session_id", sessionID).
		Int("sequence_id", sequenceID).
		Int("chunk_size", chunkSize).
		Bool("last", last).
		Msg("chunk uploaded")
}

// UploadFinalized logs upload completion.
func (l *Logger) UploadFinalized(sessionID string, totalChunks int, duration time.Duration) {
	l.logger.Info().
		Str("session_id", sessionID).
		Int("total_chunks", totalChunks).
		Float64("duration_seconds", duration.Seconds()).
		Msg("upload finalized")
}

// FileDecrypted logs a successful download and decryption.
func (l *Logger) FileDecrypted(sessionID string, fileSize int64, duration time.Duration) {
	l.logger.Info().
		Str("session_id", sessionID).
		Int64("file_size", fileSize).
		Float64("duration_seconds", duration.Seconds()).
		Msg("file decrypted")
}

// StepFailed logs a failed protocol step.
func (l *Logger) StepFailed(sessionID, step string, err error) {
	l.logger.Error().
		Str("session_id", sessionID).
		Str("step", step).
		Err(err).
		Msg("exchange step failed")
}

// RequestServed logs one relay request.
func (l *Logger) RequestServed(method, route string, status int, duration time.Duration) {
	l.logger.Debug().
		Str("method", method).
		Str("route", route).
		Int("status", status).
		Float64("duration_ms", float64(duration.Microseconds())/1000).
		Msg("request served")
}

// RecordsExpired logs a cleanup pass that removed records.
func (l *Logger) RecordsExpired(count int) {
	l.logger.Info().
		Int("count", count).
		Msg("expired exchange records removed")
}

func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
