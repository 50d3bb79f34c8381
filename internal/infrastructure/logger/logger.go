package logger

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
)

var (
	logger        = logrus.New()
	sentryEnabled bool
)

func init() {
	logger.Level = logrus.InfoLevel
	logger.Formatter = &formatter{}
	logger.Out = os.Stdout
}

// Setup configures level and, outside local/test environments, Sentry capture.
func Setup(level, environment, sentryDSN string) error {
	if lvl, err := logrus.ParseLevel(level); err == nil {
		logger.Level = lvl
	} else if level != "" {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	if sentryDSN != "" && (environment == "production" || environment == "staging") {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              sentryDSN,
			Environment:      environment,
			AttachStacktrace: true,
		})
		if err != nil {
			return fmt.Errorf("sentry init: %w", err)
		}
		sentryEnabled = true
	}
	return nil
}

// SetOutput redirects log output; tests use it to capture lines.
func SetOutput(w io.Writer) { logger.Out = w }

// SetLogLevel sets the log level for the logger.
func SetLogLevel(level logrus.Level) { logger.Level = level }

// Flush waits for buffered Sentry events.
func Flush(timeout time.Duration) {
	if sentryEnabled {
		sentry.Flush(timeout)
	}
}

// Fields type, used to pass to `WithFields`.
type Fields logrus.Fields

// WithFields returns an entry for ad-hoc structured logging.
func WithFields(fields Fields) *logrus.Entry {
	return logger.WithFields(logrus.Fields(fields))
}

func capture(level sentry.Level, msg string, fields Fields) {
	if !sentryEnabled {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(level)
		for key, value := range fields {
			if v, ok := value.(string); ok {
				scope.SetTag(key, v)
				continue
			}
			scope.SetExtra(key, value)
		}
		sentry.CaptureMessage(msg)
	})
}

func Debugf(format string, fields Fields, args ...interface{}) {
	if logger.Level >= logrus.DebugLevel {
		logger.WithFields(logrus.Fields(fields)).Debugf(format, args...)
	}
}

func Infof(format string, fields Fields, args ...interface{}) {
	if logger.Level >= logrus.InfoLevel {
		logger.WithFields(logrus.Fields(fields)).Infof(format, args...)
	}
}

// Warnf logs at Warn and forwards the message to Sentry when enabled.
func Warnf(format string, fields Fields, args ...interface{}) {
	if logger.Level >= logrus.WarnLevel {
		capture(sentry.LevelWarning, fmt.Sprintf(format, args...), fields)
		logger.WithFields(logrus.Fields(fields)).Warnf(format, args...)
	}
}

// Errorf logs at Error and forwards the message to Sentry when enabled.
func Errorf(format string, fields Fields, args ...interface{}) {
	if logger.Level >= logrus.ErrorLevel {
		msg := fmt.Sprintf(format, args...)
		capture(sentry.LevelError, msg, fields)
		logger.WithFields(logrus.Fields(fields)).Error(msg)
	}
}

func Fatalf(format string, fields Fields, args ...interface{}) {
	capture(sentry.LevelFatal, fmt.Sprintf(format, args...), fields)
	Flush(2 * time.Second)
	logger.WithFields(logrus.Fields(fields)).Fatalf(format, args...)
}

type formatter struct{}

// Format renders `LEVEL RFC3339 message [k=v ...]` with keys sorted.
func (f *formatter) Format(entry *logrus.Entry) ([]byte, error) {
	var sb bytes.Buffer
	sb.WriteString(strings.ToUpper(entry.Level.String()))
	sb.WriteString(" ")
	sb.WriteString(entry.Time.Format(time.RFC3339))
	sb.WriteString(" ")
	sb.WriteString(entry.Message)

	if len(entry.Data) > 0 {
		keys := make([]string, 0, len(entry.Data))
		for k := range entry.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString(" [")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(" ")
			}
			sb.WriteString(fmt.Sprintf("%s=%v", k, entry.Data[k]))
		}
		sb.WriteString("]")
	}
	sb.WriteString("\n")
	return sb.Bytes(), nil
}
