package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/schoolhub/schoolhub/internal/audit"
	"github.com/schoolhub/schoolhub/internal/rbac"
)

// Observer counts rejected requests per policy.
type Observer interface {
	ObserveRateLimited(policy string)
}

// Guard applies the login and API policies and audits every rejection.
type Guard struct {
	limiter  Limiter
	login    Policy
	api      Policy
	recorder audit.Recorder
	observer Observer
	logger   *slog.Logger
	now      func() time.Time
}

// GuardConfig wires a Guard.
type GuardConfig struct {
	Limiter  Limiter
	Login    Policy
	API      Policy
	Recorder audit.Recorder
	Observer Observer
	Logger   *slog.Logger
	Now      func() time.Time
}

// NewGuard validates the policies and returns a Guard.
func NewGuard(cfg GuardConfig) (*Guard, error) {
	if cfg.Limiter == nil {
		return nil, errors.New("ratelimit: limiter is required")
	}
	if cfg.Recorder == nil {
		return nil, errors.New("ratelimit: audit recorder is required")
	}
	if cfg.Login.Name == "" {
		cfg.Login.Name = DefaultLoginPolicy.Name
	}
	if cfg.API.Name == "" {
		cfg.API.Name = DefaultAPIPolicy.Name
	}
	if err := cfg.Login.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.API.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Guard{
		limiter:  cfg.Limiter,
		login:    cfg.Login,
		api:      cfg.API,
		recorder: cfg.Recorder,
		observer: cfg.Observer,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}, nil
}

// CheckLogin counts one sign-in attempt for identifier.
func (g *Guard) CheckLogin(ctx context.Context, identifier string) (Result, error) {
	subject := strings.ToLower(strings.TrimSpace(identifier))
	return g.check(ctx, g.login, "login:"+subject, rbac.Principal{}, "auth.login_throttled")
}

// CheckAPI counts one API call for subject, a principal id or client address. The
// principal is zero for anonymous callers.
func (g *Guard) CheckAPI(ctx context.Context, subject string, principal rbac.Principal) (Result, error) {
	return g.check(ctx, g.api, "api:"+subject, principal, "api.throttled")
}

func (g *Guard) check(ctx context.Context, p Policy, key string, principal rbac.Principal, operation string) (Result, error) {
	res, err := g.limiter.Check(ctx, key, p.Window, p.Max)
	if err != nil {
		return Result{}, err
	}
	if res.Allowed {
		return res, nil
	}
	if g.observer != nil {
		g.observer.ObserveRateLimited(p.Name)
	}
	g.logger.WarnContext(ctx, "rate limit exceeded",
		slog.String("policy", p.Name),
		slog.Int("count", res.Count),
		slog.Time("reset_at", res.ResetAt))
	err = g.recorder.Record(ctx, audit.Input{
		Operation:     operation,
		ResourceType:  rbac.ResourceSystem,
		ResourceID:    "ratelimit/" + p.Name,
		PrincipalID:   principal.ID,
		PrincipalRole: principal.Role,
		Granted:       false,
		Reason:        "rate limit exceeded",
		Metadata: map[string]any{
			"policy":   p.Name,
			"limit":    p.Max,
			"window":   p.Window.String(),
			"reset_at": res.ResetAt.UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		g.logger.ErrorContext(ctx, "audit throttled request", slog.Any("error", err))
	}
	return res, nil
}
