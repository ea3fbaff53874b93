// Package logger prints one line per record in the form
//
//	<level mark> [COMPONENT] message key=value ...
//
// with the component optionally coloured. A logger and the loggers derived
// from it with For share one level.
package logger

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Component tags the part of the tool a line comes from.
type Component string

const (
	ComponentCLI           Component = "HELSEID-CLI"
	ComponentCryptoCLI     Component = "CRYPTO-CLI"
	ComponentSelvbetjening Component = "SELVBETJENING"
	ComponentToken         Component = "TOKEN"
	ComponentKeyGen        Component = "KEYGEN"
	ComponentCertGen       Component = "CERTGEN"
	ComponentPolicy        Component = "POLICY"
	ComponentKeyStore      Component = "KEYSTORE"
)

const (
	colorReset   = "\033[0m"
	colorGreen   = "\033[32m"
	colorBlue    = "\033[34m"
	colorMagenta = "\033[35m"
	colorCyan    = "\033[36m"
	colorWhite   = "\033[37m"
	colorOrange  = "\033[38;5;208m"
)

var componentColors = map[Component]string{
	ComponentCLI:           colorWhite,
	ComponentCryptoCLI:     colorWhite,
	ComponentSelvbetjening: colorBlue,
	ComponentToken:         colorMagenta,
	ComponentKeyGen:        colorGreen,
	ComponentCertGen:       colorGreen,
	ComponentPolicy:        colorOrange,
	ComponentKeyStore:      colorCyan,
}

// Direction marks whether a message describes a call to or a reply from HelseID.
type Direction string

const (
	DirectionOutgoing Direction = "->"
	DirectionIncoming Direction = "<-"
)

// lineHandler is an slog.Handler writing the one-line console format.
// Handlers derived with WithAttrs/WithGroup share the writer lock.
type lineHandler struct {
	w         io.Writer
	mu        *sync.Mutex
	level     *slog.LevelVar
	component Component
	colors    bool
	prefix    string // group prefix for attribute keys, "a.b."
	preset    []byte // pre-rendered attributes from WithAttrs
}

func (h *lineHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

func (h *lineHandler) Handle(_ context.Context, r slog.Record) error {
	var buf bytes.Buffer

	color, reset := componentColors[h.component], colorReset
	if !h.colors {
		color, reset = "", ""
	}
	fmt.Fprintf(&buf, "%s%s [%s]%s %s", color, levelMark(r.Level), h.component, reset, r.Message)

	buf.Write(h.preset)
	r.Attrs(func(a slog.Attr) bool {
		appendAttr(&buf, h.prefix, a)
		return true
	})
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf.Bytes())
	return err
}

func (h *lineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	var buf bytes.Buffer
	buf.Write(h.preset)
	for _, a := range attrs {
		appendAttr(&buf, h.prefix, a)
	}
	clone := *h
	clone.preset = buf.Bytes()
	return &clone
}

func (h *lineHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.prefix = h.prefix + name + "."
	return &clone
}

func appendAttr(buf *bytes.Buffer, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			appendAttr(buf, p, ga)
		}
		return
	}
	buf.WriteByte(' ')
	buf.WriteString(prefix + a.Key)
	buf.WriteByte('=')
	buf.WriteString(formatValue(a.Value))
}

func formatValue(v slog.Value) string {
	var s string
	switch v.Kind() {
	case slog.KindTime:
		s = v.Time().Format(time.RFC3339)
	case slog.KindDuration:
		s = v.Duration().String()
	default:
		s = fmt.Sprint(v.Any())
	}
	if s == "" || strings.ContainsAny(s, " \t\"=") {
		return strconv.Quote(s)
	}
	return s
}

func levelMark(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "\U0001F534"
	case l >= slog.LevelWarn:
		return "\U0001F7E1"
	case l >= slog.LevelInfo:
		return "\U0001F535"
	default:
		return "\U0001F7E3"
	}
}

// Logger is an slog.Logger bound to a component.
type Logger struct {
	*slog.Logger
	component Component
	w         io.Writer
	colors    bool
	mu        *sync.Mutex
	level     *slog.LevelVar
}

// New creates a logger on stdout, coloured unless NO_COLOR is set.
func New(component Component) *Logger {
	colors := os.Getenv("NO_COLOR") == "" && os.Getenv("TERM") != "dumb"
	return NewWithWriter(component, os.Stdout, colors)
}

// NewWithWriter creates a logger writing to w at info level.
func NewWithWriter(component Component, w io.Writer, colors bool) *Logger {
	return newLogger(component, w, colors, &sync.Mutex{}, new(slog.LevelVar))
}

func newLogger(component Component, w io.Writer, colors bool, mu *sync.Mutex, level *slog.LevelVar) *Logger {
	h := &lineHandler{w: w, mu: mu, level: level, component: component, colors: colors}
	return &Logger{Logger: slog.New(h), component: component, w: w, colors: colors, mu: mu, level: level}
}

// SetLevel sets the minimum level ("debug", "info", "warn", "error") of l
// and of every logger derived from it.
func (l *Logger) SetLevel(name string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		return fmt.Errorf("invalid log level %q: %w", name, err)
	}
	l.level.Set(lvl)
	return nil
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return NewWithWriter(ComponentCLI, io.Discard, false)
}

// For returns a logger for another component writing to the same sink at
// the same level.
func (l *Logger) For(component Component) *Logger {
	return newLogger(component, l.w, l.colors, l.mu, l.level)
}

// Flow logs a request to, or a reply from, a remote endpoint.
func (l *Logger) Flow(dir Direction, msg string, args ...any) {
	l.Info(string(dir)+" "+msg, args...)
}

func (l *Logger) Success(msg string, args ...any) {
	l.Info("✅ "+msg, args...)
}

// Deny logs a rejected decision at error level.
func (l *Logger) Deny(msg string, args ...any) {
	l.Error("❌ "+msg, args...)
}

func (l *Logger) Allow(msg string, args ...any) {
	l.Info("✅ ALLOW: "+msg, args...)
}

// Section frames a heading between two rules.
func (l *Logger) Section(title string) {
	rule := strings.Repeat("═", 50)
	l.Info(rule)
	l.Info(" " + title)
	l.Info(rule)
}

// Key logs a message about the key identified by kid.
func (l *Logger) Key(kid, msg string) {
	l.Info("\U0001F511 [" + kid + "] " + msg)
}
