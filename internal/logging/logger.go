package logging

// Leveled logging for linkshim, backed by zap. Console output always goes to
// stderr because stdout may be carrying the frame tunnel.

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents the logging level
type LogLevel int

const (
	LogLevelSilent LogLevel = iota
	LogLevelError
	LogLevelInfo
	LogLevelVerbose
	LogLevelDebug
)

// ParseLevel maps a config/flag string to a LogLevel.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "silent", "off":
		return LogLevelSilent, nil
	case "error":
		return LogLevelError, nil
	case "", "info":
		return LogLevelInfo, nil
	case "verbose":
		return LogLevelVerbose, nil
	case "debug":
		return LogLevelDebug, nil
	default:
		return LogLevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// FileOptions configures the rolling log file.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// levelState is shared between a logger and the children derived from it.
type levelState struct {
	mu    sync.Mutex
	level LogLevel
}

// Logger provides leveled logging. Children created with Named share the
// level and outputs of their parent.
type Logger struct {
	state *levelState
	zl    *zap.Logger
	file  *lumberjack.Logger
}

// NewLogger creates a logger writing to stderr and, when logFile is set, to a
// rolling JSON file.
func NewLogger(level LogLevel, logFile string) (*Logger, error) {
	return NewLoggerWithOptions(level, os.Stderr, FileOptions{Path: logFile})
}

// NewLoggerWithOptions creates a logger with an explicit console writer and
// file rotation settings.
func NewLoggerWithOptions(level LogLevel, console io.Writer, file FileOptions) (*Logger, error) {
	encoderCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "msg",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     func(t time.Time, enc zapcore.PrimitiveArrayEncoder) { enc.AppendString(t.Format(time.RFC3339Nano)) },
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}

	cores := []zapcore.Core{}
	if console != nil {
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.AddSync(console), zapcore.DebugLevel))
	}

	l := &Logger{state: &levelState{level: level}}
	if file.Path != "" {
		f, err := os.OpenFile(file.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("create log file: %w", err)
		}
		f.Close()
		l.file = &lumberjack.Logger{
			Filename:   file.Path,
			MaxSize:    file.MaxSizeMB,
			MaxBackups: file.MaxBackups,
			MaxAge:     file.MaxAgeDays,
			Compress:   file.Compress,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(l.file), zapcore.DebugLevel))
	}

	l.zl = zap.New(zapcore.NewTee(cores...))
	return l, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{state: &levelState{level: LogLevelSilent}, zl: zap.NewNop()}
}

// Named returns a child logger tagged with a component name.
func (l *Logger) Named(component string) *Logger {
	return &Logger{state: l.state, zl: l.zl.Named(component), file: l.file}
}

// Close flushes buffered output and closes the log file.
func (l *Logger) Close() error {
	_ = l.zl.Sync()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Error logs an error message
func (l *Logger) Error(format string, v ...interface{}) {
	if l.enabled(LogLevelError) {
		l.zl.Error(fmt.Sprintf(format, v...))
	}
}

// Info logs an info message
func (l *Logger) Info(format string, v ...interface{}) {
	if l.enabled(LogLevelInfo) {
		l.zl.Info(fmt.Sprintf(format, v...))
	}
}

// Verbose logs a verbose message
func (l *Logger) Verbose(format string, v ...interface{}) {
	if l.enabled(LogLevelVerbose) {
		l.zl.Info(fmt.Sprintf(format, v...), zap.Bool("verbose", true))
	}
}

// Debug logs a debug message
func (l *Logger) Debug(format string, v ...interface{}) {
	if l.enabled(LogLevelDebug) {
		l.zl.Debug(fmt.Sprintf(format, v...))
	}
}

// SetLevel sets the logging level
func (l *Logger) SetLevel(level LogLevel) {
	l.state.mu.Lock()
	defer l.state.mu.Unlock()
	l.state.level = level
}

// GetLevel returns the current logging level
func (l *Logger) GetLevel() LogLevel {
	l.state.mu.Lock()
	defer l.state.mu.Unlock()
	return l.state.level
}

func (l *Logger) enabled(level LogLevel) bool {
	return l.GetLevel() >= level
}

// LogStep logs the outcome of one diagnostic step.
func (l *Logger) LogStep(step, opcode string, success bool, elapsed time.Duration, err error) {
	fields := []zap.Field{
		zap.String("step", step),
		zap.String("opcode", opcode),
		zap.Duration("elapsed", elapsed),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	if success {
		if l.enabled(LogLevelVerbose) {
			l.zl.Info("step passed", fields...)
		}
		return
	}
	if l.enabled(LogLevelError) {
		l.zl.Error("step failed", fields...)
	}
}

// LogFrame logs a one-line frame summary at debug level.
func (l *Logger) LogFrame(label string, summary fmt.Stringer) {
	if l.enabled(LogLevelDebug) {
		l.zl.Debug(label, zap.Stringer("frame", summary))
	}
}

// LogHex logs hex data (for debug level)
func (l *Logger) LogHex(label string, data []byte) {
	if !l.enabled(LogLevelDebug) {
		return
	}
	var b strings.Builder
	for i, c := range data {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%02x", c)
	}
	l.Debug("%s: %s", label, b.String())
}

// LineWriter returns an io.Writer that logs every complete line it receives
// at info level. It is used to surface a child process's stderr.
func (l *Logger) LineWriter(source string) io.Writer {
	return &lineWriter{l: l, source: source}
}

type lineWriter struct {
	mu      sync.Mutex
	l       *Logger
	source  string
	pending []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = append(w.pending, p...)
	for {
		i := strings.IndexByte(string(w.pending), '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(string(w.pending[:i]), "\r")
		w.pending = w.pending[i+1:]
		if line != "" {
			w.l.Info("[%s] %s", w.source, line)
		}
	}
	return len(p), nil
}
