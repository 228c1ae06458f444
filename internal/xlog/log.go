// Package xlog is the toolchain's ambient logging/color layer: a thin
// wrapper over zap for structured diagnostics, themed with lipgloss when
// the `color` configuration key is enabled. The CLI logs the terminal error
// of each pipeline stage (assembler, linker, loader, interpreter) through
// this package before turning it into a process exit code.
package xlog

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/maxrt101/xvm-go/internal/xerr"
)

// Logger wraps a *zap.Logger with the color styles xvm's CLI output and
// disassembly use.
type Logger struct {
	z *zap.Logger

	errStyle  lipgloss.Style
	warnStyle lipgloss.Style
	okStyle   lipgloss.Style
	dimStyle  lipgloss.Style
}

// New builds a Logger. color enables lipgloss styling of the human-facing
// lines New's caller prints via Err/Warn/Okf/Dimf; the underlying zap core
// always logs plain structured fields regardless of color.
func New(color bool) *Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.TimeKey = ""
	z, _ := cfg.Build()

	l := &Logger{z: z}
	if color {
		l.errStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
		l.warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
		l.okStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
		l.dimStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	}
	return l
}

// Err logs err at Error level with kind/file/line fields when err carries
// xerr position info, and prints a styled one-line summary to stderr.
func (l *Logger) Err(err error) {
	fields := []zap.Field{zap.Error(err)}
	if kind, ok := xerr.KindOf(err); ok {
		fields = append(fields, zap.String("kind", kind.String()))
	}
	var xe *xerr.Error
	if errors.As(err, &xe) && xe.File != "" {
		fields = append(fields, zap.String("file", xe.File), zap.Int("line", xe.Line))
	}
	l.z.Error("xvm error", fields...)
	os.Stderr.WriteString(l.errStyle.Render(err.Error()) + "\n")
}

// Warn logs a structured warning and prints a styled summary.
func (l *Logger) Warn(msg string, fields ...zap.Field) {
	l.z.Warn(msg, fields...)
	os.Stderr.WriteString(l.warnStyle.Render(msg) + "\n")
}

// Info logs at Info level without a styled echo — used for verbose/trace
// output that a plain zap core is enough for.
func (l *Logger) Info(msg string, fields ...zap.Field) {
	l.z.Info(msg, fields...)
}

// Okf prints a styled success line (no structured log entry — this is
// purely CLI-facing, e.g. "wrote a.out").
func (l *Logger) Okf(format string, args ...any) {
	os.Stdout.WriteString(l.okStyle.Render(sprintf(format, args...)) + "\n")
}

// Dimf prints a styled secondary-emphasis line, used by `dump` for section
// headers and disassembly addresses.
func (l *Logger) Dimf(format string, args ...any) string {
	return l.dimStyle.Render(sprintf(format, args...))
}

// Sync flushes the underlying zap core.
func (l *Logger) Sync() error { return l.z.Sync() }

func sprintf(format string, args ...any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
