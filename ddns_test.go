package cfddns_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/Travis-Britz/cfddns"
)

// stepClock fires every wait immediately and records how long it was asked to wait.
type stepClock struct {
	now    time.Time
	sleeps []time.Duration
}

func (c *stepClock) Now() time.Time { return c.now }

func (c *stepClock) After(d time.Duration) <-chan time.Time {
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

// scripted returns a resolver that succeeds with addr or fails according to script,
// one entry per call. It fails once the script runs out.
func scripted(addr string, script ...bool) (cfddns.Resolver, *int) {
	calls := new(int)
	return cfddns.ResolverFunc(func(ctx context.Context) (netip.Addr, error) {
		i := *calls
		*calls++
		if i < len(script) && script[i] {
			return netip.MustParseAddr(addr), nil
		}
		return netip.Addr{}, &cfddns.ResolutionError{Endpoint: "test", Err: context.DeadlineExceeded}
	}), calls
}

func newTestClient(t *testing.T, svc cfddns.RecordService, opts ...cfddns.Option) *cfddns.Client {
	t.Helper()
	cfg := testConfig("a.example.com")
	c, err := cfddns.New(context.Background(), cfg, append([]cfddns.Option{cfddns.UsingRecordService(svc)}, opts...)...)
	require.NoError(t, err)
	return c
}

func TestRunThreshold(t *testing.T) {
	clk := &stepClock{}
	r, calls := scripted("2.2.2.2")
	c := newTestClient(t, &fakeService{records: zone()}, cfddns.UsingResolver(r), cfddns.WithClock(clk))

	err := c.Run(context.Background())

	var te *cfddns.ThresholdError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, cfddns.DefaultMaxConsecutiveErrors, te.Failures)
	var re *cfddns.ResolutionError
	assert.ErrorAs(t, err, &re)
	assert.Equal(t, 10, *calls)

	require.Len(t, clk.sleeps, 9)
	for _, d := range clk.sleeps {
		assert.Equal(t, cfddns.DefaultBackoffInterval, d)
	}
}

func TestRunResetsFailuresAfterSuccess(t *testing.T) {
	clk := &stepClock{}
	// F F S F F F with a threshold of 3: the success resets the counter,
	// so only the last three failures count.
	r, calls := scripted("2.2.2.2", false, false, true, false, false, false)
	cfg := testConfig("a.example.com")
	cfg.MaxConsecutiveErrors = 3
	svc := &fakeService{records: zone()}
	c, err := cfddns.New(context.Background(), cfg,
		cfddns.UsingRecordService(svc),
		cfddns.UsingResolver(r),
		cfddns.WithClock(clk),
	)
	require.NoError(t, err)

	err = c.Run(context.Background())

	var te *cfddns.ThresholdError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 3, te.Failures)
	assert.Equal(t, 6, *calls)

	b, p := cfddns.DefaultBackoffInterval, cfddns.DefaultPollInterval
	assert.Equal(t, []time.Duration{b, b, p, b, b}, clk.sleeps)
	assert.Len(t, svc.updates, 1)
}

func TestRunMetrics(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	r, _ := scripted("2.2.2.2", false, false, true, false, false, false)
	cfg := testConfig("a.example.com")
	cfg.MaxConsecutiveErrors = 3
	c, err := cfddns.New(context.Background(), cfg,
		cfddns.UsingRecordService(&fakeService{records: zone()}),
		cfddns.UsingResolver(r),
		cfddns.WithClock(&stepClock{}),
		cfddns.WithMetrics(cfddns.NewMetrics(reg)),
	)
	require.NoError(t, err)
	require.Error(t, c.Run(context.Background()))

	expected := `
# HELP cfddns_consecutive_failures Number of consecutive failed cycles
# TYPE cfddns_consecutive_failures gauge
cfddns_consecutive_failures 3
# HELP cfddns_cycles_total Total number of reconciliation cycles by result
# TYPE cfddns_cycles_total counter
cfddns_cycles_total{result="failure"} 5
cfddns_cycles_total{result="success"} 1
# HELP cfddns_record_updates_total Total number of DNS records updated
# TYPE cfddns_record_updates_total counter
cfddns_record_updates_total{name="a.example.com"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"cfddns_consecutive_failures", "cfddns_cycles_total", "cfddns_record_updates_total"))
}

func TestRunUpdateErrorsCount(t *testing.T) {
	clk := &stepClock{}
	r, _ := scripted("2.2.2.2", true, true, true)
	svc := &fakeService{
		records:   zone(),
		updateErr: map[string]error{"1": errors.New("rejected")},
	}
	cfg := testConfig("a.example.com")
	cfg.MaxConsecutiveErrors = 3
	c, err := cfddns.New(context.Background(), cfg,
		cfddns.UsingRecordService(svc),
		cfddns.UsingResolver(r),
		cfddns.WithClock(clk),
	)
	require.NoError(t, err)

	err = c.Run(context.Background())
	var ue *cfddns.UpdateError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "a.example.com", ue.Name)
	assert.Len(t, clk.sleeps, 2)
}

func TestRunCancelled(t *testing.T) {
	fc := testingclock.NewFakeClock(time.Now())
	var calls atomic.Int32
	r := cfddns.ResolverFunc(func(ctx context.Context) (netip.Addr, error) {
		calls.Add(1)
		return netip.MustParseAddr("2.2.2.2"), nil
	})
	c := newTestClient(t, &fakeService{records: zone()}, cfddns.UsingResolver(r), cfddns.WithClock(fc))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, fc.HasWaiters, time.Second, time.Millisecond)
	assert.EqualValues(t, 1, calls.Load())

	fc.Step(cfddns.DefaultPollInterval)
	require.Eventually(t, func() bool { return calls.Load() == 2 && fc.HasWaiters() }, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.EqualValues(t, 2, calls.Load())
}

func TestRunAlreadyCancelled(t *testing.T) {
	r, calls := scripted("2.2.2.2", true)
	c := newTestClient(t, &fakeService{records: zone()}, cfddns.UsingResolver(r), cfddns.WithClock(&stepClock{}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, c.Run(ctx))
	assert.Zero(t, *calls)
}

func TestRunOnceWrapsResolverErrors(t *testing.T) {
	plain := errors.New("no route to host")
	r := cfddns.ResolverFunc(func(ctx context.Context) (netip.Addr, error) {
		return netip.Addr{}, plain
	})
	c := newTestClient(t, &fakeService{records: zone()}, cfddns.UsingResolver(r))

	err := c.RunOnce(context.Background())
	var re *cfddns.ResolutionError
	require.ErrorAs(t, err, &re)
	assert.ErrorIs(t, err, plain)
}

// The address service never answers in time; the run ends after the tenth failure.
func TestRunAddressEndpointTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	cfg := testConfig("a.example.com")
	cfg.AddressEndpoint = srv.URL
	clk := &stepClock{}
	svc := &fakeService{records: zone()}
	c, err := cfddns.New(context.Background(), cfg,
		cfddns.UsingRecordService(svc),
		cfddns.UsingHTTPClient(&http.Client{Timeout: 20 * time.Millisecond}),
		cfddns.WithClock(clk),
	)
	require.NoError(t, err)

	err = c.Run(context.Background())
	var te *cfddns.ThresholdError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 10, te.Failures)
	var re *cfddns.ResolutionError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, srv.URL, re.Endpoint)
	assert.Len(t, clk.sleeps, 9)
	assert.Empty(t, svc.updates)
}

func TestNewValidatesBeforeConnecting(t *testing.T) {
	svc := &fakeService{records: zone()}
	_, err := cfddns.New(context.Background(), &cfddns.Config{ZoneID: "zone1", ManagedNames: []string{"a.example.com"}},
		cfddns.UsingRecordService(svc),
	)
	var ce *cfddns.ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Zero(t, svc.lists)
}

func TestNewDoesNotModifyConfig(t *testing.T) {
	cfg := &cfddns.Config{ProviderToken: "t", ZoneID: "zone1", ManagedNames: []string{"A.example.com."}}
	_, err := cfddns.New(context.Background(), cfg, cfddns.UsingRecordService(&fakeService{records: zone()}))
	require.NoError(t, err)
	assert.Equal(t, []string{"A.example.com."}, cfg.ManagedNames)
	assert.Zero(t, cfg.PollInterval)
}

func TestNewOptionError(t *testing.T) {
	_, err := cfddns.New(context.Background(), testConfig("a.example.com"), cfddns.UsingResolver(nil))
	assert.Error(t, err)
}
