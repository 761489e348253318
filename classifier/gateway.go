package classifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/room4-2/ordercall/metrics"
)

const (
	sourceOracle   = "oracle"
	sourceFallback = "fallback"

	defaultTimeout = 8 * time.Second
)

// Gateway asks the oracle first and answers from the keyword fallback when the
// oracle is missing, failing, too slow or returns an unknown label. Its methods
// never fail.
type Gateway struct {
	oracle   Oracle
	fallback Keywords
	breaker  *Breaker
	timeout  time.Duration
	logger   zerolog.Logger
}

// Option configures a Gateway
type Option func(*Gateway)

// WithOracle sets the primary classifier
func WithOracle(o Oracle) Option {
	return func(g *Gateway) { g.oracle = o }
}

// WithBreaker guards oracle calls with a circuit breaker
func WithBreaker(b *Breaker) Option {
	return func(g *Gateway) { g.breaker = b }
}

// WithTimeout bounds each oracle call
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithLogger sets the gateway logger
func WithLogger(l zerolog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// NewGateway builds a gateway. Without WithOracle it is keyword-only.
func NewGateway(opts ...Option) *Gateway {
	g := &Gateway{
		timeout: defaultTimeout,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ClassifyLanguage returns arabic or english
func (g *Gateway) ClassifyLanguage(ctx context.Context, promptContext, utterance string) Language {
	return ask(ctx, g, TaskLanguage,
		func(ctx context.Context) (Language, error) {
			return g.oracle.ClassifyLanguage(ctx, promptContext, utterance)
		},
		Language.Valid,
		func() Language {
			l, _ := g.fallback.ClassifyLanguage(ctx, promptContext, utterance)
			return l
		},
	)
}

// ExtractIdentity returns whatever name and national id could be extracted
func (g *Gateway) ExtractIdentity(ctx context.Context, utterance string) Identity {
	id := ask(ctx, g, TaskIdentity,
		func(ctx context.Context) (Identity, error) {
			return g.oracle.ExtractIdentity(ctx, utterance)
		},
		func(Identity) bool { return true },
		func() Identity {
			id, _ := g.fallback.ExtractIdentity(ctx, utterance)
			return id
		},
	)
	return sanitizeIdentity(id)
}

// ClassifyConfirmation returns confirm, modify or reject
func (g *Gateway) ClassifyConfirmation(ctx context.Context, utterance string) Intent {
	return ask(ctx, g, TaskConfirmation,
		func(ctx context.Context) (Intent, error) {
			return g.oracle.ClassifyConfirmation(ctx, utterance)
		},
		Intent.Valid,
		func() Intent {
			i, _ := g.fallback.ClassifyConfirmation(ctx, utterance)
			return i
		},
	)
}

// ask runs one oracle call and falls back on any failure, including a panic.
func ask[T any](ctx context.Context, g *Gateway, task Task, call func(context.Context) (T, error), valid func(T) bool, fallback func() T) T {
	if g.oracle == nil {
		metrics.RecordClassifierCall(string(task), sourceFallback)
		return fallback()
	}
	if g.breaker != nil && !g.breaker.Allow() {
		g.logger.Debug().Str("task", string(task)).Msg("classifier breaker open, using fallback")
		metrics.RecordClassifierCall(string(task), sourceFallback)
		return fallback()
	}

	result, err := guardedCall(ctx, g.timeout, call)
	if err == nil && !valid(result) {
		err = fmt.Errorf("%w: unexpected label %v", ErrUnavailable, result)
	}
	if err != nil {
		if g.breaker != nil {
			g.breaker.RecordFailure()
		}
		g.logger.Warn().Err(err).Str("task", string(task)).Msg("classifier failed, using fallback")
		metrics.RecordClassifierCall(string(task), sourceFallback)
		return fallback()
	}

	if g.breaker != nil {
		g.breaker.RecordSuccess()
	}
	metrics.RecordClassifierCall(string(task), sourceOracle)
	return result
}

func guardedCall[T any](ctx context.Context, timeout time.Duration, call func(context.Context) (T, error)) (result T, err error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: oracle panic: %v", ErrUnavailable, r)
		}
	}()

	return call(callCtx)
}

// sanitizeIdentity trims the name and keeps the national id only when it is
// exactly nine digits. Arabic-Indic digits are converted to ASCII.
func sanitizeIdentity(id Identity) Identity {
	id.Name = strings.TrimSpace(id.Name)

	var b strings.Builder
	for _, r := range id.NationalID {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= '٠' && r <= '٩':
			b.WriteRune('0' + (r - '٠'))
		case r >= '۰' && r <= '۹':
			b.WriteRune('0' + (r - '۰'))
		case r == ' ' || r == '-':
		default:
			id.NationalID = ""
			return id
		}
	}
	digits := b.String()
	if len(digits) != 9 {
		digits = ""
	}
	id.NationalID = digits
	return id
}
