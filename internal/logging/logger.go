// Package logging provides structured logging for zoom-to-vault on top of zap
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/curtbushko/zoom-to-vault/internal/config"
)

// LogLevel represents the severity level of a log entry
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	default:
		return "unknown"
	}
}

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case DebugLevel:
		return zapcore.DebugLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func fromZapLevel(l zapcore.Level) LogLevel {
	switch l {
	case zapcore.DebugLevel:
		return DebugLevel
	case zapcore.WarnLevel:
		return WarnLevel
	case zapcore.ErrorLevel:
		return ErrorLevel
	default:
		return InfoLevel
	}
}

type contextKey string

// RequestIDKey is the context key for request IDs
const RequestIDKey contextKey = "request_id"

// Logger defines the interface for logging operations
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})

	DebugWithContext(ctx context.Context, format string, args ...interface{})
	InfoWithContext(ctx context.Context, format string, args ...interface{})
	WarnWithContext(ctx context.Context, format string, args ...interface{})
	ErrorWithContext(ctx context.Context, format string, args ...interface{})

	LogUserAction(action string, user string, metadata map[string]interface{})
	LogPerformance(metrics PerformanceMetrics)
	LogAPIRequest(request APIRequest)
	LogAPIResponse(response APIResponse)

	GetLevel() LogLevel
	SetLevel(level LogLevel)
	SetOutput(w io.Writer)
	Close() error
}

// PerformanceMetrics represents performance data for logging
type PerformanceMetrics struct {
	Operation      string
	Duration       time.Duration
	BytesProcessed int64
	Success        bool
	Error          string
	Metadata       map[string]interface{}
}

// APIRequest represents API request data for logging
type APIRequest struct {
	Method    string
	URL       string
	Headers   map[string]string
	Body      string
	RequestID string
	Timestamp time.Time
}

// APIResponse represents API response data for logging
type APIResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       string
	RequestID  string
	Duration   time.Duration
	Timestamp  time.Time
	Success    bool
	Error      string
}

// loggerImpl implements Logger with a zap core that can be re-pointed at runtime
type loggerImpl struct {
	level      zap.AtomicLevel
	jsonFormat bool
	mutex      sync.RWMutex
	zl         *zap.Logger
	fileHandle *os.File
}

// NewLogger creates a new Logger instance with the given configuration
func NewLogger(cfg config.LoggingConfig) (Logger, error) {
	level, err := parseLogLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	logger := &loggerImpl{
		level:      zap.NewAtomicLevelAt(level.zapLevel()),
		jsonFormat: cfg.JSONFormat,
	}

	var sinks []zapcore.WriteSyncer
	if cfg.Console {
		sinks = append(sinks, zapcore.Lock(os.Stdout))
	}
	if cfg.File != "" {
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", cfg.File, err)
		}
		logger.fileHandle = file
		sinks = append(sinks, zapcore.AddSync(file))
	}

	logger.zl = logger.build(sinks...)
	return logger, nil
}

// NewNopLogger returns a Logger that discards everything
func NewNopLogger() Logger {
	return &loggerImpl{
		level: zap.NewAtomicLevelAt(zapcore.ErrorLevel),
		zl:    zap.NewNop(),
	}
}

func (l *loggerImpl) build(sinks ...zapcore.WriteSyncer) *zap.Logger {
	encCfg := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		MessageKey:     "message",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
	}

	var encoder zapcore.Encoder
	if l.jsonFormat {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	cores := make([]zapcore.Core, 0, len(sinks))
	for _, sink := range sinks {
		cores = append(cores, zapcore.NewCore(encoder, sink, l.level))
	}
	return zap.New(zapcore.NewTee(cores...))
}

// parseLogLevel converts a string to LogLevel
func parseLogLevel(level string) (LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel, nil
	case "info":
		return InfoLevel, nil
	case "warn":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, fmt.Errorf("unknown log level: %s", level)
	}
}

func (l *loggerImpl) current() *zap.Logger {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return l.zl
}

// log writes a formatted message, attaching the request ID carried by ctx
func (l *loggerImpl) log(level LogLevel, ctx context.Context, format string, args ...interface{}) {
	ce := l.current().Check(level.zapLevel(), fmt.Sprintf(format, args...))
	if ce == nil {
		return
	}

	var fields []zap.Field
	if ctx != nil {
		if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
			fields = append(fields, zap.String("request_id", requestID))
		}
	}
	ce.Write(fields...)
}

// logFields writes a message with structured fields in stable key order
func (l *loggerImpl) logFields(level LogLevel, message string, fields map[string]interface{}) {
	ce := l.current().Check(level.zapLevel(), message)
	if ce == nil {
		return
	}

	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	zf := make([]zap.Field, 0, len(keys))
	for _, key := range keys {
		zf = append(zf, zap.Any(key, fields[key]))
	}
	ce.Write(zf...)
}

func (l *loggerImpl) Debug(format string, args ...interface{}) {
	l.log(DebugLevel, nil, format, args...)
}

func (l *loggerImpl) Info(format string, args ...interface{}) {
	l.log(InfoLevel, nil, format, args...)
}

func (l *loggerImpl) Warn(format string, args ...interface{}) {
	l.log(WarnLevel, nil, format, args...)
}

func (l *loggerImpl) Error(format string, args ...interface{}) {
	l.log(ErrorLevel, nil, format, args...)
}

func (l *loggerImpl) DebugWithContext(ctx context.Context, format string, args ...interface{}) {
	l.log(DebugLevel, ctx, format, args...)
}

func (l *loggerImpl) InfoWithContext(ctx context.Context, format string, args ...interface{}) {
	l.log(InfoLevel, ctx, format, args...)
}

func (l *loggerImpl) WarnWithContext(ctx context.Context, format string, args ...interface{}) {
	l.log(WarnLevel, ctx, format, args...)
}

func (l *loggerImpl) ErrorWithContext(ctx context.Context, format string, args ...interface{}) {
	l.log(ErrorLevel, ctx, format, args...)
}

// LogUserAction logs operator actions with metadata
func (l *loggerImpl) LogUserAction(action string, user string, metadata map[string]interface{}) {
	fields := map[string]interface{}{
		"action": action,
		"user":   user,
	}
	for key, value := range metadata {
		fields[key] = value
	}

	l.logFields(InfoLevel, fmt.Sprintf("User action: %s", action), fields)
}

// LogPerformance logs performance metrics
func (l *loggerImpl) LogPerformance(metrics PerformanceMetrics) {
	fields := map[string]interface{}{
		"operation":       metrics.Operation,
		"duration_ms":     metrics.Duration.Milliseconds(),
		"bytes_processed": metrics.BytesProcessed,
		"success":         metrics.Success,
	}
	if metrics.Error != "" {
		fields["error"] = metrics.Error
	}
	for key, value := range metrics.Metadata {
		fields[key] = value
	}

	message := fmt.Sprintf("Performance: %s completed in %v", metrics.Operation, metrics.Duration)
	l.logFields(InfoLevel, message, fields)
}

// LogAPIRequest logs outgoing API requests at debug level with credentials redacted
func (l *loggerImpl) LogAPIRequest(request APIRequest) {
	if request.Timestamp.IsZero() {
		request.Timestamp = time.Now().UTC()
	}

	fields := map[string]interface{}{
		"method":     request.Method,
		"url":        request.URL,
		"request_id": request.RequestID,
		"timestamp":  request.Timestamp,
	}

	if len(request.Headers) > 0 {
		sanitized := make(map[string]string, len(request.Headers))
		for key, value := range request.Headers {
			if strings.EqualFold(key, "authorization") {
				sanitized[key] = "***"
			} else {
				sanitized[key] = value
			}
		}
		fields["headers"] = sanitized
	}
	if request.Body != "" {
		fields["body"] = truncate(request.Body)
	}

	l.logFields(DebugLevel, fmt.Sprintf("API Request: %s %s", request.Method, request.URL), fields)
}

// LogAPIResponse logs API responses at debug level
func (l *loggerImpl) LogAPIResponse(response APIResponse) {
	if response.Timestamp.IsZero() {
		response.Timestamp = time.Now().UTC()
	}

	fields := map[string]interface{}{
		"status_code": response.StatusCode,
		"request_id":  response.RequestID,
		"duration_ms": response.Duration.Milliseconds(),
		"timestamp":   response.Timestamp,
		"success":     response.Success,
	}
	if response.Error != "" {
		fields["error"] = response.Error
	}
	if len(response.Headers) > 0 {
		fields["headers"] = response.Headers
	}
	if response.Body != "" {
		fields["body"] = truncate(response.Body)
	}

	l.logFields(DebugLevel, fmt.Sprintf("API Response: %d (%v)", response.StatusCode, response.Duration), fields)
}

func truncate(body string) string {
	if len(body) > 1000 {
		return body[:1000] + "... (truncated)"
	}
	return body
}

func (l *loggerImpl) GetLevel() LogLevel {
	return fromZapLevel(l.level.Level())
}

func (l *loggerImpl) SetLevel(level LogLevel) {
	l.level.SetLevel(level.zapLevel())
}

// SetOutput replaces every sink with w (mainly for testing)
func (l *loggerImpl) SetOutput(w io.Writer) {
	zl := l.build(zapcore.AddSync(w))
	l.mutex.Lock()
	l.zl = zl
	l.mutex.Unlock()
}

// Close flushes buffered entries and closes the log file
func (l *loggerImpl) Close() error {
	_ = l.current().Sync()
	if l.fileHandle != nil {
		return l.fileHandle.Close()
	}
	return nil
}

var (
	defaultMutex  sync.RWMutex
	defaultLogger Logger
)

// SetDefaultLogger sets the global default logger
func SetDefaultLogger(logger Logger) {
	defaultMutex.Lock()
	defaultLogger = logger
	defaultMutex.Unlock()
}

// GetDefaultLogger returns the global default logger, or a no-op logger when none is set
func GetDefaultLogger() Logger {
	defaultMutex.RLock()
	defer defaultMutex.RUnlock()
	if defaultLogger == nil {
		return nopLogger
	}
	return defaultLogger
}

var nopLogger = NewNopLogger()

// InitializeLogging initializes the global logger with the provided configuration
func InitializeLogging(cfg config.LoggingConfig) error {
	logger, err := NewLogger(cfg)
	if err != nil {
		return err
	}

	SetDefaultLogger(logger)
	return nil
}

// Package-level convenience functions that use the default logger

func Debug(format string, args ...interface{}) {
	GetDefaultLogger().Debug(format, args...)
}

func Info(format string, args ...interface{}) {
	GetDefaultLogger().Info(format, args...)
}

func Warn(format string, args ...interface{}) {
	GetDefaultLogger().Warn(format, args...)
}

func Error(format string, args ...interface{}) {
	GetDefaultLogger().Error(format, args...)
}

func DebugWithContext(ctx context.Context, format string, args ...interface{}) {
	GetDefaultLogger().DebugWithContext(ctx, format, args...)
}

func InfoWithContext(ctx context.Context, format string, args ...interface{}) {
	GetDefaultLogger().InfoWithContext(ctx, format, args...)
}

func WarnWithContext(ctx context.Context, format string, args ...interface{}) {
	GetDefaultLogger().WarnWithContext(ctx, format, args...)
}

func ErrorWithContext(ctx context.Context, format string, args ...interface{}) {
	GetDefaultLogger().ErrorWithContext(ctx, format, args...)
}

func LogUserAction(action string, user string, metadata map[string]interface{}) {
	GetDefaultLogger().LogUserAction(action, user, metadata)
}

func LogPerformance(metrics PerformanceMetrics) {
	GetDefaultLogger().LogPerformance(metrics)
}

// WithRequestID creates a context with a request ID
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID extracts the request ID from a context
func GetRequestID(ctx context.Context) (string, bool) {
	requestID, ok := ctx.Value(RequestIDKey).(string)
	return requestID, ok
}

// GenerateRequestID returns a new random request ID
func GenerateRequestID() string {
	return "req-" + uuid.NewString()
}
