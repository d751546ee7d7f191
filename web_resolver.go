package cfddns

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/buger/jsonparser"
)

// lookupTimeout bounds a single request to the address-reporting service.
const lookupTimeout = 15 * time.Second

// maxBodySize is far more than any address-reporting service needs.
const maxBodySize = 64 << 10

// WebResolver constructs a resolver which asks an external web service for our "public" IPv4 address.
//
// The service must speak http and return status "200 OK".
// If field is non-empty the response body is parsed as a JSON object and the address is read from that field,
// e.g. {"ip": "203.0.113.7"} with field "ip".
// If field is empty the first line of the body is used.
// All other responses, and any address that is not IPv4, are considered an error.
//
// The resolver never retries; a failed lookup is left to the caller's retry policy.
func WebResolver(serviceURL string, field string) (Resolver, error) {
	u, err := url.Parse(serviceURL)
	if err != nil {
		return nil, fmt.Errorf("error parsing URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
	return &webResolver{serviceURL: u, field: field}, nil
}

type webResolver struct {
	httpClient *http.Client
	serviceURL *url.URL
	field      string
}

// Resolve implements cfddns.Resolver.
func (wr *webResolver) Resolve(ctx context.Context) (netip.Addr, error) {
	addr, status, err := wr.lookup(ctx)
	if err != nil {
		return netip.Addr{}, &ResolutionError{Endpoint: wr.serviceURL.String(), Status: status, Err: err}
	}
	return addr, nil
}

// SetHTTPClient replaces the client used for lookups.
func (wr *webResolver) SetHTTPClient(c *http.Client) {
	wr.httpClient = c
}

func (wr *webResolver) lookup(ctx context.Context) (netip.Addr, int, error) {
	// 15 seconds is an eternity for the size of the request we're making,
	// but this ensures that all calls to resolve will eventually complete even if the user supplied context.TODO or context.Background
	// using http.DefaultClient (with no timeout).
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wr.serviceURL.String(), nil)
	if err != nil {
		return netip.Addr{}, 0, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")
	if wr.field != "" {
		req.Header.Set("Accept", "application/json")
	}

	httpclient := wr.httpClient
	if httpclient == nil {
		httpclient = http.DefaultClient
	}

	resp, err := httpclient.Do(req)
	if err != nil {
		return netip.Addr{}, 0, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return netip.Addr{}, resp.StatusCode, fmt.Errorf("http request returned %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return netip.Addr{}, resp.StatusCode, fmt.Errorf("error reading response body: %w", err)
	}

	var ipstring string
	if wr.field == "" {
		ipstring, _ = bufio.NewReader(bytes.NewReader(body)).ReadString('\n')
	} else {
		ipstring, err = jsonparser.GetString(body, wr.field)
		if err != nil {
			return netip.Addr{}, resp.StatusCode, fmt.Errorf("field %q not found in response body: %w", wr.field, err)
		}
	}

	ip, err := parseIPv4(ipstring)
	if err != nil {
		return netip.Addr{}, resp.StatusCode, err
	}
	return ip, resp.StatusCode, nil
}

var errNotIPv4 = errors.New("not an IPv4 address")

func parseIPv4(s string) (netip.Addr, error) {
	ip, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("error parsing IP address: %w", err)
	}
	// ::ffff:a.b.c.d still names an IPv4 host
	ip = ip.Unmap()
	if !ip.Is4() {
		return netip.Addr{}, fmt.Errorf("%s: %w", ip, errNotIPv4)
	}
	return ip, nil
}
