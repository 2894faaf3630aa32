// Package logging provides structured logging for the tap
package logging

import (
	"go.uber.org/zap"
)

// TapLogger wraps zap.Logger with extraction-specific helpers
type TapLogger struct {
	*zap.Logger
	fields map[string]interface{}
}

// Config holds logging configuration
type Config struct {
	Level       string            `json:"level"`
	Format      string            `json:"format"` // "json" or "console"
	OutputPath  string            `json:"output_path"`
	Fields      map[string]string `json:"fields"`
	Development bool              `json:"development"`
}

// NewLogger creates a structured logger from config
func NewLogger(config Config) (*TapLogger, error) {
	var zapConfig zap.Config

	if config.Development {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
	}

	level, err := zap.ParseAtomicLevel(config.Level)
	if err != nil {
		level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	zapConfig.Level = level

	if config.Format == "console" {
		zapConfig.Encoding = "console"
	} else {
		zapConfig.Encoding = "json"
	}

	// Records go to stdout, so logs default to stderr.
	zapConfig.OutputPaths = []string{"stderr"}
	if config.OutputPath != "" {
		zapConfig.OutputPaths = []string{config.OutputPath}
	}

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, err
	}

	fields := make(map[string]interface{})
	zapFields := make([]zap.Field, 0, len(config.Fields))
	for k, v := range config.Fields {
		fields[k] = v
		zapFields = append(zapFields, zap.String(k, v))
	}

	return &TapLogger{
		Logger: logger.With(zapFields...),
		fields: fields,
	}, nil
}

// NewDefaultLogger creates a logger with sensible defaults
func NewDefaultLogger() *TapLogger {
	config := Config{
		Level:  "info",
		Format: "json",
		Fields: map[string]string{
			"service": "tap-sftp",
		},
	}

	logger, err := NewLogger(config)
	if err != nil {
		// Fallback to basic logger
		zapLogger, _ := zap.NewProduction()
		return &TapLogger{
			Logger: zapLogger,
			fields: map[string]interface{}{"service": "tap-sftp"},
		}
	}

	return logger
}

// WithField adds a field to the logger context
func (l *TapLogger) WithField(key string, value interface{}) *TapLogger {
	newFields := make(map[string]interface{})
	for k, v := range l.fields {
		newFields[k] = v
	}
	newFields[key] = value

	return &TapLogger{
		Logger: l.Logger.With(zap.Any(key, value)),
		fields: newFields,
	}
}

// WithFields adds multiple fields to the logger context
func (l *TapLogger) WithFields(fields map[string]interface{}) *TapLogger {
	newFields := make(map[string]interface{})
	for k, v := range l.fields {
		newFields[k] = v
	}
	for k, v := range fields {
		newFields[k] = v
	}

	zapFields := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zapFields = append(zapFields, zap.Any(k, v))
	}

	return &TapLogger{
		Logger: l.Logger.With(zapFields...),
		fields: newFields,
	}
}

// LogDataQualityEvent logs a data quality issue found in a stream
func (l *TapLogger) LogDataQualityEvent(stream string, issue string, severity string) {
	l.WithFields(map[string]interface{}{
		"stream":   stream,
		"issue":    issue,
		"severity": severity,
		"type":     "data_quality",
	}).Warn("Data quality issue")
}

// Sync flushes any buffered log entries
func (l *TapLogger) Sync() error {
	return l.Logger.Sync()
}
