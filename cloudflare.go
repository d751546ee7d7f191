package cfddns

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/cloudflare/cloudflare-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/Travis-Britz/cfddns"

// NewCloudflare constructs a RecordService backed by the Cloudflare v4 API.
//
// The returned service never retries on its own;
// a failed call is left to the caller's retry policy.
func NewCloudflare(token string, options ...CloudflareOption) (*Cloudflare, error) {
	cf := &Cloudflare{}
	for _, opt := range options {
		opt(cf)
	}
	opts := []cloudflare.Option{cloudflare.UsingRetryPolicy(0, 0, 0)}
	if cf.baseURL != "" {
		opts = append(opts, cloudflare.BaseURL(cf.baseURL))
	}
	if cf.httpClient != nil {
		opts = append(opts, cloudflare.HTTPClient(cf.httpClient))
	}
	api, err := cloudflare.NewWithAPIToken(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("error creating cloudflare api client: %w", err)
	}
	cf.api = api
	return cf, nil
}

// CloudflareOption configures NewCloudflare.
type CloudflareOption func(*Cloudflare)

// CloudflareBaseURL points the client at a different API root, e.g. a test server.
func CloudflareBaseURL(u string) CloudflareOption {
	return func(cf *Cloudflare) { cf.baseURL = u }
}

// CloudflareHTTPClient sets the *http.Client used for API calls.
func CloudflareHTTPClient(c *http.Client) CloudflareOption {
	return func(cf *Cloudflare) { cf.httpClient = c }
}

// Cloudflare implements cfddns.RecordService.
//
// It should be constructed using NewCloudflare.
type Cloudflare struct {
	api        *cloudflare.API
	baseURL    string
	httpClient *http.Client
}

var errNotConstructed = errors.New("cfddns.Cloudflare should be constructed with cfddns.NewCloudflare")

// ListRecords returns every DNS record in the zone, in the order the API lists them.
func (cf *Cloudflare) ListRecords(ctx context.Context, zoneID string) ([]Record, error) {
	if cf.api == nil {
		return nil, errNotConstructed
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, "cloudflare.ListRecords",
		trace.WithAttributes(attribute.String("zone_id", zoneID)))
	defer span.End()

	records, _, err := cf.api.ListDNSRecords(ctx, cloudflare.ZoneIdentifier(zoneID), cloudflare.ListDNSRecordsParams{})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list failed")
		return nil, fmt.Errorf("error listing DNS records: %w", err)
	}

	out := make([]Record, 0, len(records))
	for _, r := range records {
		out = append(out, Record{ID: r.ID, Name: r.Name, Type: r.Type, Content: r.Content})
	}
	span.SetAttributes(attribute.Int("record_count", len(out)))
	return out, nil
}

// updateBody is the exact request body for a record overwrite.
type updateBody struct {
	Content string `json:"content"`
	Name    string `json:"name"`
	Type    string `json:"type"`
}

// UpdateRecord overwrites a record with PUT /zones/{zone}/dns_records/{id}.
// A rejected update returns the provider's error, which carries its status and messages.
func (cf *Cloudflare) UpdateRecord(ctx context.Context, zoneID string, r Record) error {
	if cf.api == nil {
		return errNotConstructed
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, "cloudflare.UpdateRecord",
		trace.WithAttributes(
			attribute.String("zone_id", zoneID),
			attribute.String("record_id", r.ID),
			attribute.String("record_name", r.Name),
			attribute.String("record_content", r.Content),
		))
	defer span.End()

	endpoint := fmt.Sprintf("/zones/%s/dns_records/%s", zoneID, r.ID)
	_, err := cf.api.Raw(ctx, http.MethodPut, endpoint, updateBody{Content: r.Content, Name: r.Name, Type: r.Type}, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
		return err
	}
	return nil
}

// VerifyToken reports an error unless the API token is active.
func (cf *Cloudflare) VerifyToken(ctx context.Context) error {
	if cf.api == nil {
		return errNotConstructed
	}
	result, err := cf.api.VerifyAPIToken(ctx)
	if err != nil {
		return fmt.Errorf("unable to verify api token: %w", err)
	}
	if result.Status != "active" {
		return fmt.Errorf("expected api token status to be \"active\"; got \"%s\"", result.Status)
	}
	return nil
}
