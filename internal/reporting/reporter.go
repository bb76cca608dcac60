// Package reporting delivers bundler lifecycle events to an external sink.
// Reporting is fire-and-forget: a reporter must never block or fail the
// build that produced the event.
package reporting

import (
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EventType names a lifecycle event.
type EventType string

const (
	BundleBuildStarted EventType = "bundle_build_started"
	BundleBuildDone    EventType = "bundle_build_done"
	BundleBuildFailed  EventType = "bundle_build_failed"
	Transform          EventType = "transform"
	WatchChange        EventType = "watch_change"
	ClientLog          EventType = "client_log"
	ClientDropped      EventType = "client_dropped"
)

// Event is one lifecycle event. Only the fields relevant to Type are set.
type Event struct {
	Type        EventType
	BundleName  string
	Fingerprint string
	ModuleID    string
	Paths       []string
	Duration    time.Duration
	CacheHit    bool
	Error       string
	ClientID    uint64
	Level       string
	Data        []any
}

// Reporter receives lifecycle events.
type Reporter interface {
	Report(Event)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Event)

func (f ReporterFunc) Report(e Event) { f(e) }

type nop struct{}

func (nop) Report(Event) {}

// Nop discards every event.
func Nop() Reporter { return nop{} }

// Multi fans each event out to every reporter in order.
func Multi(reporters ...Reporter) Reporter {
	filtered := make([]Reporter, 0, len(reporters))
	for _, r := range reporters {
		if r != nil {
			filtered = append(filtered, Safe(r))
		}
	}
	return ReporterFunc(func(e Event) {
		for _, r := range filtered {
			r.Report(e)
		}
	})
}

type safe struct {
	inner Reporter
}

// Safe wraps r so a panicking reporter is contained.
func Safe(r Reporter) Reporter {
	if r == nil {
		return Nop()
	}
	if s, ok := r.(safe); ok {
		return s
	}
	return safe{inner: r}
}

func (s safe) Report(e Event) {
	defer func() { _ = recover() }()
	s.inner.Report(e)
}

// ZapReporter writes events as JSON lines through zap.
type ZapReporter struct {
	logger *zap.Logger
	closer func() error
}

// NewZapReporter reports through an existing zap logger.
func NewZapReporter(logger *zap.Logger) *ZapReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapReporter{logger: logger}
}

// NewWriterReporter builds a JSON-lines reporter over ws.
func NewWriterReporter(ws zapcore.WriteSyncer) *ZapReporter {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.MessageKey = "event"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeDuration = zapcore.MillisDurationEncoder

	core := zapcore.NewCore(zapcore.NewJSONEncoder(cfg), ws, zapcore.DebugLevel)
	return &ZapReporter{logger: zap.New(core)}
}

// Open returns a reporter for a configured events destination: "" disables
// reporting, "-" writes to stderr, anything else appends to that file.
func Open(path string) (Reporter, func() error, error) {
	switch path {
	case "":
		return Nop(), func() error { return nil }, nil
	case "-":
		r := NewWriterReporter(zapcore.Lock(os.Stderr))
		return r, r.Close, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open events file %s: %w", path, err)
	}
	r := NewWriterReporter(zapcore.Lock(f))
	var once sync.Once
	r.closer = func() error {
		var err error
		once.Do(func() { err = f.Close() })
		return err
	}
	return r, r.Close, nil
}

// Report logs e. Build failures are logged at error level.
func (r *ZapReporter) Report(e Event) {
	fields := make([]zap.Field, 0, 8)
	if e.BundleName != "" {
		fields = append(fields, zap.String("bundle", e.BundleName))
	}
	if e.Fingerprint != "" {
		fields = append(fields, zap.String("fingerprint", e.Fingerprint))
	}
	if e.ModuleID != "" {
		fields = append(fields, zap.String("module", e.ModuleID))
	}
	if len(e.Paths) > 0 {
		fields = append(fields, zap.Strings("paths", e.Paths))
	}
	if e.Duration > 0 {
		fields = append(fields, zap.Duration("duration", e.Duration))
	}
	if e.Type == Transform {
		fields = append(fields, zap.Bool("cache_hit", e.CacheHit))
	}
	if e.ClientID != 0 {
		fields = append(fields, zap.Uint64("client", e.ClientID))
	}
	if e.Level != "" {
		fields = append(fields, zap.String("level_client", e.Level))
	}
	if len(e.Data) > 0 {
		fields = append(fields, zap.Any("data", e.Data))
	}

	switch e.Type {
	case BundleBuildFailed:
		fields = append(fields, zap.String("error", e.Error))
		r.logger.Error(string(e.Type), fields...)
		return
	case ClientDropped:
		fields = append(fields, zap.String("reason", e.Error))
		r.logger.Warn(string(e.Type), fields...)
		return
	}
	r.logger.Info(string(e.Type), fields...)
}

// Close flushes buffered output and closes any file the reporter opened.
func (r *ZapReporter) Close() error {
	_ = r.logger.Sync()
	if r.closer != nil {
		return r.closer()
	}
	return nil
}
