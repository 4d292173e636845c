package advisory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/calibration-cli/internal/model"
	"github.com/sells-group/calibration-cli/internal/resilience"
)

// Failure classes. Callers never see these as errors from Assess; they are
// reported on Outcome.Err for logging and metrics.
var (
	ErrAdvisoryTimeout = eris.New("advisory: timed out")
	ErrAdvisoryService = eris.New("advisory: service failure")
	ErrRateLimited     = eris.New("advisory: rate limited")
)

// DefaultTimeout bounds a single advisory call.
const DefaultTimeout = 5 * time.Second

// FailureError pairs a failure class with its cause.
type FailureError struct {
	Kind error
	Err  error
}

func (e *FailureError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Err.Error())
}

func (e *FailureError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Config configures an Adapter.
type Config struct {
	Timeout time.Duration

	// RatePerSecond limits advisory calls; zero disables limiting. Calls over
	// budget degrade immediately rather than wait.
	RatePerSecond float64
	Burst         int

	Breaker resilience.CircuitBreakerConfig
}

// Outcome is the result of an assessment. Result is never nil.
type Outcome struct {
	Result     *model.ComplianceResult
	Err        error
	Overridden bool
}

// Adapter wraps an Advisor with a timeout, circuit breaker, rate limit and
// deterministic fallback. A nil *Adapter or one with a nil advisor is
// disabled and passes the deterministic result through unchanged.
type Adapter struct {
	advisor Advisor
	timeout time.Duration
	breaker *resilience.CircuitBreaker
	limiter *rate.Limiter
}

// NewAdapter creates an Adapter. A nil advisor yields a disabled adapter.
func NewAdapter(advisor Advisor, cfg Config) *Adapter {
	a := &Adapter{advisor: advisor, timeout: cfg.Timeout}
	if a.timeout <= 0 {
		a.timeout = DefaultTimeout
	}
	if cfg.Breaker.Name == "" {
		cfg.Breaker.Name = "advisory"
	}
	a.breaker = resilience.NewCircuitBreaker(cfg.Breaker)
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		a.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return a
}

// Enabled reports whether an advisor is configured.
func (a *Adapter) Enabled() bool {
	return a != nil && a.advisor != nil
}

// Timeout returns the per-call bound.
func (a *Adapter) Timeout() time.Duration {
	if a == nil {
		return 0
	}
	return a.timeout
}

// Assess consults the advisor about a deterministic result. It returns within
// the configured timeout even if the advisor ignores its context. On any
// advisory failure the deterministic result is returned with Degraded set.
// If ctx itself is cancelled, Outcome.Err is ctx.Err().
func (a *Adapter) Assess(ctx context.Context, req Request, det *model.ComplianceResult) Outcome {
	if !a.Enabled() {
		return Outcome{Result: det.Clone()}
	}

	if err := a.breaker.Allow(); err != nil {
		return a.degrade(req, det, &FailureError{Kind: ErrAdvisoryService, Err: err})
	}
	if a.limiter != nil && !a.limiter.Allow() {
		return a.degrade(req, det, &FailureError{Kind: ErrRateLimited})
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	type reply struct {
		resp *Response
		err  error
	}
	ch := make(chan reply, 1)
	go func() {
		resp, err := a.advisor.Advise(callCtx, req)
		ch <- reply{resp: resp, err: err}
	}()

	var (
		resp *Response
		err  error
	)
	select {
	case r := <-ch:
		resp, err = r.resp, r.err
	case <-callCtx.Done():
		err = callCtx.Err()
	}

	if ctx.Err() != nil {
		return Outcome{Result: degraded(det), Err: ctx.Err()}
	}
	if err == nil {
		err = checkResponse(resp)
	}
	if err != nil {
		kind := ErrAdvisoryService
		if errors.Is(err, context.DeadlineExceeded) {
			kind = ErrAdvisoryTimeout
		}
		a.breaker.Record(err)
		return a.degrade(req, det, &FailureError{Kind: kind, Err: err})
	}
	a.breaker.Record(nil)

	result, overridden := Reconcile(det, resp)
	return Outcome{Result: result, Overridden: overridden}
}

func (a *Adapter) degrade(req Request, det *model.ComplianceResult, err error) Outcome {
	zap.L().Warn("advisory: falling back to deterministic result",
		zap.String("session_id", req.SessionID),
		zap.String("verdict", string(det.Verdict)),
		zap.Error(err),
	)
	return Outcome{Result: degraded(det), Err: err}
}

func degraded(det *model.ComplianceResult) *model.ComplianceResult {
	out := det.Clone()
	out.Degraded = true
	return out
}

func checkResponse(resp *Response) error {
	if resp == nil {
		return eris.New("advisory: empty response")
	}
	if resp.Verdict != nil && !resp.Verdict.Valid() {
		return eris.Errorf("advisory: unknown verdict %q", *resp.Verdict)
	}
	return nil
}
