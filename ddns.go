package cfddns

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"time"

	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"
)

var discard logrus.FieldLogger = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

// New validates cfg, connects to the DNS provider and returns a Client ready to run.
//
// Unless overridden with options, the record service is Cloudflare built from cfg,
// and the resolver is an InterfaceResolver when address_interface is set or a WebResolver otherwise.
// All errors returned by New are fatal; see IsFatal.
func New(ctx context.Context, cfg *Config, options ...Option) (*Client, error) {
	if cfg == nil {
		return nil, &ConfigurationError{Setting: "settings file", Reason: "no configuration loaded"}
	}
	c := &Client{
		cfg:   *cfg,
		log:   discard,
		clock: clock.RealClock{},
	}
	c.cfg.ApplyDefaults()
	for i, opt := range options {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("cfddns.New: option %d returned an error: %w", i, err)
		}
	}
	if err := c.cfg.Validate(); err != nil {
		return nil, err
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.cfg.RequestTimeout}
	}

	var err error
	if c.Resolver == nil {
		if c.Resolver, err = defaultResolver(&c.cfg); err != nil {
			return nil, &ConfigurationError{Setting: "address_endpoint", Reason: "unusable address endpoint", Err: err}
		}
	}
	if c.svc == nil {
		c.svc, err = NewCloudflare(c.cfg.ProviderToken,
			CloudflareBaseURL(c.cfg.APIBaseURL),
			CloudflareHTTPClient(c.httpClient),
		)
		if err != nil {
			return nil, &ConfigurationError{Setting: "provider_token", Reason: "unusable token", Err: err}
		}
	}

	// this lets us propagate the http client to dependencies regardless of option order
	type setHTTPClient interface {
		SetHTTPClient(*http.Client)
	}
	if r, ok := c.Resolver.(setHTTPClient); ok {
		r.SetHTTPClient(c.httpClient)
	}

	c.reconciler, err = NewReconciler(ctx, &c.cfg, c.svc, c.log)
	if err != nil {
		return nil, err
	}
	c.reconciler.metrics = c.metrics
	return c, nil
}

func defaultResolver(cfg *Config) (Resolver, error) {
	if cfg.AddressInterface != "" {
		return InterfaceResolver(cfg.AddressInterface), nil
	}
	return WebResolver(cfg.AddressEndpoint, cfg.addressField())
}

// Option configures New.
type Option func(*Client) error

// UsingResolver replaces the resolver chosen from the configuration.
func UsingResolver(resolver Resolver) Option {
	return func(c *Client) error {
		if resolver == nil {
			return errors.New("nil resolver")
		}
		c.Resolver = resolver
		return nil
	}
}

// UsingRecordService replaces the Cloudflare record service built from the configuration.
func UsingRecordService(svc RecordService) Option {
	return func(c *Client) error {
		if svc == nil {
			return errors.New("nil record service")
		}
		c.svc = svc
		return nil
	}
}

// UsingHTTPClient sets the *http.Client used by the default resolver and record service.
func UsingHTTPClient(httpclient *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = httpclient
		return nil
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Client) error {
		if logger == nil {
			logger = discard
		}
		c.log = logger
		return nil
	}
}

// WithClock sets the clock used to wait between cycles.
func WithClock(clk Clock) Option {
	return func(c *Client) error {
		if clk == nil {
			return errors.New("nil clock")
		}
		c.clock = clk
		return nil
	}
}

// WithMetrics records cycle and update metrics into m.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) error {
		c.metrics = m
		return nil
	}
}

// Client binds a Resolver to a Reconciler and drives the poll loop.
type Client struct {
	Resolver
	svc        RecordService
	reconciler *Reconciler
	cfg        Config
	httpClient *http.Client
	log        logrus.FieldLogger
	clock      Clock
	metrics    *Metrics
}

// RunOnce resolves the current address and reconciles the managed records against it.
func (c *Client) RunOnce(ctx context.Context) error {
	addr, err := c.Resolve(ctx)
	if err != nil {
		var re *ResolutionError
		if !errors.As(err, &re) {
			err = &ResolutionError{Endpoint: "resolver", Err: err}
		}
		return err
	}
	c.log.Infof("current IPv4: %s", addr)
	c.metrics.observeAddress(addr)

	return c.reconciler.Reconcile(ctx, addr)
}

// Run calls RunOnce until ctx is cancelled or too many cycles fail in a row.
//
// After a successful cycle Run waits for the poll interval.
// After a failed one it waits for the backoff interval,
// unless this was the max_consecutive_errors-th failure in a row,
// in which case Run returns a *ThresholdError.
// A cycle in progress is never interrupted; cancellation is observed between cycles
// and while waiting, and makes Run return nil.
func (c *Client) Run(ctx context.Context) error {
	failures := 0
	for {
		if ctx.Err() != nil {
			c.log.Info("exiting...")
			return nil
		}

		err := c.RunOnce(context.WithoutCancel(ctx))
		if err == nil {
			failures = 0
			c.metrics.cycleSucceeded(float64(c.clock.Now().Unix()))
			c.log.Infof("sleeping for %s...", c.cfg.PollInterval)
			if !c.wait(ctx, c.cfg.PollInterval) {
				c.log.Info("exiting...")
				return nil
			}
			continue
		}

		failures++
		c.metrics.cycleFailed(failures)
		c.log.WithError(err).WithField("failures", failures).Error("cycle failed")
		if failures >= c.cfg.MaxConsecutiveErrors {
			c.log.Error("too many errors, exiting...")
			return &ThresholdError{Failures: failures, Last: err}
		}
		c.log.Infof("sleeping for %s...", c.cfg.BackoffInterval)
		if !c.wait(ctx, c.cfg.BackoffInterval) {
			c.log.Info("exiting...")
			return nil
		}
	}
}

// wait reports false if ctx was cancelled before d elapsed.
func (c *Client) wait(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-c.clock.After(d):
		return true
	}
}

// Records returns a copy of the cached zone records.
func (c *Client) Records() []Record {
	return c.reconciler.Records()
}

// Reconcile exposes the reconciler for callers that resolve the address themselves.
func (c *Client) Reconcile(ctx context.Context, addr netip.Addr) error {
	return c.reconciler.Reconcile(ctx, addr)
}
