package cfddns

import (
	"context"
	"net/netip"
	"time"
)

// Resolver looks up the current public IPv4 address.
type Resolver interface {
	Resolve(context.Context) (netip.Addr, error)
}

// ResolverFunc adapts an ordinary function to the Resolver interface.
type ResolverFunc func(context.Context) (netip.Addr, error)

// Resolve implements cfddns.Resolver.
func (f ResolverFunc) Resolve(ctx context.Context) (netip.Addr, error) {
	return f(ctx)
}

// Record is one DNS record as reported by the provider.
type Record struct {
	ID      string
	Name    string
	Type    string
	Content string
}

// RecordService is the subset of a DNS provider API needed to keep records current.
//
// UpdateRecord overwrites the record identified by r.ID with r.Name, r.Type and r.Content.
type RecordService interface {
	ListRecords(ctx context.Context, zoneID string) ([]Record, error)
	UpdateRecord(ctx context.Context, zoneID string, r Record) error
}

// Clock is the part of k8s.io/utils/clock.Clock used by the run loop.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}
