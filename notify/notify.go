// Package notify provides parcela.Notifier implementations.
//
// Toasts are fire-and-forget: none of these block or fail.
package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/warp/parcela-engine/parcela"
)

// Logger writes every toast to a zap logger. Destructive toasts log at Error,
// warnings at Warn, everything else at Info.
type Logger struct {
	log *zap.Logger
}

func NewLogger(log *zap.Logger) *Logger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Logger{log: log.Named("toast")}
}

func (l *Logger) Notify(_ context.Context, t parcela.Toast) {
	fields := []zap.Field{
		zap.String("title", t.Title),
		zap.String("description", t.Description),
		zap.String("variant", string(t.Variant)),
		zap.Duration("duration", t.Duration),
	}
	switch t.Variant {
	case parcela.VariantDestructive:
		l.log.Error("toast", fields...)
	case parcela.VariantWarning:
		l.log.Warn("toast", fields...)
	default:
		l.log.Info("toast", fields...)
	}
}

// Recorder keeps toasts in memory so a caller can hand them to a client.
type Recorder struct {
	mu     sync.Mutex
	toasts []parcela.Toast
}

func (r *Recorder) Notify(_ context.Context, t parcela.Toast) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toasts = append(r.toasts, t)
}

// Toasts returns a copy of what was recorded.
func (r *Recorder) Toasts() []parcela.Toast {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]parcela.Toast(nil), r.toasts...)
}

// Drain returns the recorded toasts and forgets them.
func (r *Recorder) Drain() []parcela.Toast {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.toasts
	r.toasts = nil
	return out
}

// Multi fans a toast out to several notifiers in order. Nil entries are skipped.
type Multi []parcela.Notifier

func (m Multi) Notify(ctx context.Context, t parcela.Toast) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, t)
		}
	}
}

// =============================================================================
// REQUEST SCOPE
// =============================================================================

type recorderKey struct{}

// WithRecorder attaches a recorder to ctx. Scoped picks it up.
func WithRecorder(ctx context.Context, r *Recorder) context.Context {
	return context.WithValue(ctx, recorderKey{}, r)
}

// Scoped forwards each toast to the Recorder carried by the context, if any.
// A single reconciler can then serve many requests while each request only
// sees its own toasts.
type Scoped struct{}

func (Scoped) Notify(ctx context.Context, t parcela.Toast) {
	if r, ok := ctx.Value(recorderKey{}).(*Recorder); ok && r != nil {
		r.Notify(ctx, t)
	}
}
