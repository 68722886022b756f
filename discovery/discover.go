// Package discovery connects to MCP tool hosts and merges their tools
// into one Registry.
//
// An unreachable or failing host contributes zero tools. The failure is
// logged and recorded in Registry.Failures, it does not fail Discover.
package discovery

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolchat/pkg/metricskey"
	"github.com/effective-security/toolchat/tools"
	"github.com/effective-security/xlog"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolchat", "discovery")

// DefaultConnectTimeout bounds connecting to a host and listing its tools.
const DefaultConnectTimeout = 30 * time.Second

type options struct {
	policy         Policy
	connectTimeout time.Duration
	clientName     string
	clientVersion  string
}

// Option is a functional option for Discover.
type Option func(*options)

// WithPolicy sets the duplicate policy, FirstWins by default.
func WithPolicy(p Policy) Option {
	return func(o *options) {
		o.policy = p
	}
}

// WithConnectTimeout bounds connecting to a host and listing its tools.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.connectTimeout = d
		}
	}
}

// WithClientInfo sets the implementation reported to the hosts.
func WithClientInfo(name, version string) Option {
	return func(o *options) {
		o.clientName = name
		o.clientVersion = version
	}
}

type endpointResult struct {
	session *hostSession
	tools   []tools.ITool
	err     *EndpointError
}

// Discover connects to every endpoint concurrently and returns the merged
// tool set. Tools are merged in endpoint order, then in the order each host
// lists them.
//
// Discover fails only with ErrDuplicateTool under the RejectDuplicates
// policy, or when ctx is done.
func Discover(ctx context.Context, endpoints []Endpoint, opts ...Option) (*Registry, error) {
	o := &options{
		policy:         FirstWins,
		connectTimeout: DefaultConnectTimeout,
		clientName:     "toolchat",
		clientVersion:  "v1",
	}
	for _, opt := range opts {
		opt(o)
	}

	client := mcp.NewClient(&mcp.Implementation{Name: o.clientName, Version: o.clientVersion}, nil)

	results := make([]endpointResult, len(endpoints))
	var g errgroup.Group
	for i := range endpoints {
		g.Go(func() error {
			results[i] = connect(ctx, client, &endpoints[i], o.connectTimeout)
			return nil
		})
	}
	_ = g.Wait()

	reg := NewRegistry(o.policy)
	for _, res := range results {
		if res.session != nil {
			reg.sessions = append(reg.sessions, res.session)
		}
	}
	for i, res := range results {
		if res.err != nil {
			reg.failures = append(reg.failures, *res.err)
			continue
		}
		if err := reg.add(endpoints[i].Name, res.tools); err != nil {
			_ = reg.Close()
			return nil, err
		}
	}

	if err := ctx.Err(); err != nil {
		_ = reg.Close()
		return nil, errors.WithStack(err)
	}

	logger.KV(xlog.INFO,
		"status", "discovered",
		"endpoints", len(endpoints),
		"failed", len(reg.failures),
		"tools", reg.Names(),
	)
	return reg, nil
}

func connect(ctx context.Context, client *mcp.Client, ep *Endpoint, timeout time.Duration) endpointResult {
	fail := func(stage string, err error) endpointResult {
		metricskey.StatsDiscoveryFailures.IncrCounter(1, ep.Name)
		logger.ContextKV(ctx, xlog.WARNING,
			"status", "endpoint_failed",
			"endpoint", ep.Name,
			"transport", ep.Transport,
			"stage", stage,
			"err", err.Error(),
		)
		return endpointResult{err: &EndpointError{Endpoint: ep.Name, Stage: stage, Err: err}}
	}

	if err := ep.Validate(); err != nil {
		return fail(StageValidate, err)
	}

	// the transports bind the connection to the connect context,
	// so it is detached from ctx and canceled on Close
	connCtx, connCancel := context.WithCancel(context.WithoutCancel(ctx))
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type connected struct {
		session *mcp.ClientSession
		err     error
	}
	done := make(chan connected, 1)
	go func() {
		session, err := client.Connect(connCtx, ep.transport(), nil)
		done <- connected{session: session, err: err}
	}()

	var session *mcp.ClientSession
	select {
	case res := <-done:
		if res.err != nil {
			connCancel()
			return fail(StageConnect, res.err)
		}
		session = res.session
	case <-cctx.Done():
		connCancel()
		go func() {
			if res := <-done; res.session != nil {
				_ = res.session.Close()
			}
		}()
		return fail(StageConnect, errors.Wrap(cctx.Err(), "connect"))
	}
	hs := &hostSession{session: session, cancel: connCancel}

	var list []tools.ITool
	for t, err := range session.Tools(cctx, nil) {
		if err != nil {
			_ = hs.Close()
			return fail(StageList, err)
		}
		p, err := NewProxy(ep.Name, session, t)
		if err != nil {
			_ = hs.Close()
			return fail(StageList, err)
		}
		list = append(list, p)
	}

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "connected",
		"endpoint", ep.Name,
		"transport", ep.Transport,
		"tools", tools.Names(list...),
	)
	return endpointResult{session: hs, tools: list}
}

// hostSession is a client session and the cancel of its connection.
type hostSession struct {
	session *mcp.ClientSession
	cancel  context.CancelFunc
}

func (s *hostSession) Close() error {
	defer s.cancel()
	return s.session.Close()
}
