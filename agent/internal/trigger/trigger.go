package trigger

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/tewa-sim/tewa/agent/internal/config"
	"github.com/tewa-sim/tewa/agent/internal/report"
	"github.com/tewa-sim/tewa/internal/rpc"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0
)

// Trigger asks tewa-server to score its configured scenarios at a fixed
// interval and logs the resulting threat boards.
type Trigger struct {
	mu  sync.Mutex
	cfg config.AgentConfig

	dialFn dialFunc // injectable for tests
	log    *slog.Logger

	// backoff bounds, overridden by tests
	initial time.Duration
	max     time.Duration
}

// dialFunc opens the client connection. Abstracted so tests can inject an
// in-memory bufconn dialer.
type dialFunc func(endpoint string, cfg config.AgentConfig) (*grpc.ClientConn, error)

// New creates a Trigger using the given agent config.
func New(cfg config.AgentConfig) *Trigger {
	return &Trigger{
		cfg:     cfg,
		dialFn:  defaultDial,
		log:     slog.Default().With("component", "trigger"),
		initial: backoffInitial,
		max:     backoffMax,
	}
}

// SetConfig replaces the cycle settings. The endpoint and auth in use are not
// changed until the next Run.
func (t *Trigger) SetConfig(cfg config.AgentConfig) {
	t.mu.Lock()
	t.cfg = cfg
	t.mu.Unlock()
}

func (t *Trigger) config() config.AgentConfig {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cfg
}

// Run fires a cycle immediately and then every interval until ctx is
// cancelled. A changed interval takes effect after the next tick.
func (t *Trigger) Run(ctx context.Context) error {
	cfg := t.config()
	conn, err := t.dialFn(cfg.ServerEndpoint, cfg)
	if err != nil {
		return fmt.Errorf("trigger: dial %s: %w", cfg.ServerEndpoint, err)
	}
	defer conn.Close()
	client := rpc.NewClient(conn)

	t.log.Info("trigger: started", "endpoint", cfg.ServerEndpoint, "scenarios", cfg.ScenarioIDs)

	interval := cfg.Interval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	t.Cycle(ctx, client)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.Cycle(ctx, client)
			if next := t.config().Interval; next != interval {
				interval = next
				ticker.Reset(interval)
				t.log.Info("trigger: interval changed", "interval", interval)
			}
		}
	}
}

// Cycle computes every configured scenario once. Failures are logged per
// scenario; the remaining scenarios still run.
func (t *Trigger) Cycle(ctx context.Context, client *rpc.Client) {
	cfg := t.config()
	for _, id := range cfg.ScenarioIDs {
		if ctx.Err() != nil {
			return
		}
		if err := t.fire(ctx, client, cfg, id); err != nil {
			t.log.Error("trigger: scenario failed", "scenario_id", id, "err", err)
		}
	}
}

func (t *Trigger) fire(ctx context.Context, client *rpc.Client, cfg config.AgentConfig, scenarioID int64) error {
	// One tag for every attempt, so a retry after a lost reply cannot write
	// the run twice.
	tag := uuid.NewString()
	var reply rpc.ComputeReply
	attempt := 0
	err := t.retry(ctx, cfg, func(ctx context.Context) error {
		attempt++
		var err error
		reply, err = client.Compute(ctx, rpc.ComputeRequest{
			ScenarioID:    scenarioID,
			Now:           true,
			Method:        cfg.Method,
			WeaponRangeKm: cfg.WeaponRangeKm,
			RunTag:        tag,
		})
		if attempt > 1 && status.Code(err) == codes.AlreadyExists {
			t.log.Info("trigger: run persisted by an earlier attempt", "scenario_id", scenarioID, "run_tag", tag)
			reply = rpc.ComputeReply{ScenarioID: scenarioID, RunTag: tag}
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("compute: %w", err)
	}
	t.log.Info("trigger: run complete",
		"scenario_id", scenarioID,
		"run_tag", reply.RunTag,
		"records", reply.Count,
		"skipped", reply.Skipped,
	)

	var ranked rpc.RankReply
	err = t.retry(ctx, cfg, func(ctx context.Context) error {
		var err error
		ranked, err = client.Rank(ctx, rpc.RankRequest{ScenarioID: scenarioID, TopN: cfg.TopN, Latest: true})
		return err
	})
	if err != nil {
		return fmt.Errorf("rank: %w", err)
	}
	report.Groups(t.log, scenarioID, reply.RunTag, ranked.Groups)
	return nil
}

// retry calls fn with a per-call timeout until it succeeds, fails with a
// permanent error, or MaxAttempts is reached.
func (t *Trigger) retry(ctx context.Context, cfg config.AgentConfig, fn func(context.Context) error) error {
	bo := newBackoff(t.initial, t.max)
	attempts := max(cfg.MaxAttempts, 1)

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
		err = fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		if !rpc.Retryable(err) || attempt == attempts || ctx.Err() != nil {
			break
		}

		wait := bo.next()
		t.log.Warn("trigger: call failed, will retry",
			"attempt", attempt, "err", err, "retry_in", wait)
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(wait):
		}
	}
	return err
}

// defaultDial opens a client connection to endpoint with auth configured from cfg.
func defaultDial(endpoint string, cfg config.AgentConfig) (*grpc.ClientConn, error) {
	opts, err := dialOptions(cfg)
	if err != nil {
		return nil, err
	}
	return grpc.NewClient(endpoint, opts...)
}

// dialOptions builds the grpc.DialOption slice based on the server auth config.
func dialOptions(cfg config.AgentConfig) ([]grpc.DialOption, error) {
	opts := []grpc.DialOption{grpc.WithStatsHandler(otelgrpc.NewClientHandler())}

	switch cfg.ServerAuth.Mode {
	case "mtls":
		creds, err := buildMTLSCreds(cfg.ServerAuth)
		if err != nil {
			return nil, fmt.Errorf("trigger: build mtls creds: %w", err)
		}
		return append(opts, grpc.WithTransportCredentials(creds)), nil

	case "apikey":
		return append(opts,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.ServerAuth.EffectiveHeader(), cfg.ServerAuth.Key())),
		), nil

	default: // "none" or empty, insecure for local dev
		return append(opts, grpc.WithTransportCredentials(insecure.NewCredentials())), nil
	}
}

// apiKeyInterceptor attaches the key to every outgoing call.
func apiKeyInterceptor(header, key string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if key != "" {
			ctx = metadata.AppendToOutgoingContext(ctx, header, key)
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// buildMTLSCreds loads client certificate and optional CA from the auth config.
func buildMTLSCreds(auth config.AuthConfig) (credentials.TransportCredentials, error) {
	cert, err := tls.LoadX509KeyPair(auth.CertFile, auth.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load client cert: %w", err)
	}

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if auth.CAFile != "" {
		caPEM, err := os.ReadFile(auth.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no valid certs in ca file %q", auth.CAFile)
		}
		tlsCfg.RootCAs = pool
	}

	return credentials.NewTLS(tlsCfg), nil
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	max     time.Duration
	current time.Duration
}

func newBackoff(initial, maxWait time.Duration) *backoff {
	return &backoff{max: maxWait, current: initial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	// Apply ±25 % jitter.
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > b.max {
		b.current = b.max
	}
	return d
}
