package cfddns

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/sirupsen/logrus"
)

// Reconciler keeps the managed A records of one zone pointed at the current address.
//
// It caches the zone's records at construction and only talks to the provider again to update a stale record,
// so it assumes nothing else edits those records while it runs.
// Reconcile must not be called concurrently.
type Reconciler struct {
	svc     RecordService
	log     logrus.FieldLogger
	zoneID  string
	managed map[string]bool
	records []Record
	metrics *Metrics
}

// NewReconciler validates cfg, checks that the provider is reachable by listing the zone,
// and checks that every managed name exists in the zone.
//
// Errors are *ConfigurationError, *ConnectivityError or *ValidationError and should all be treated as fatal.
func NewReconciler(ctx context.Context, cfg *Config, svc RecordService, log logrus.FieldLogger) (*Reconciler, error) {
	if cfg == nil {
		return nil, &ConfigurationError{Setting: "settings file", Reason: "no configuration loaded"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if svc == nil {
		return nil, fmt.Errorf("cfddns.NewReconciler: no record service")
	}
	if log == nil {
		log = discard
	}
	log = log.WithField("zone_id", cfg.ZoneID)

	rc := &Reconciler{
		svc:     svc,
		log:     log,
		zoneID:  cfg.ZoneID,
		managed: make(map[string]bool, len(cfg.ManagedNames)),
	}

	log.Info("testing provider connection...")
	records, err := svc.ListRecords(ctx, cfg.ZoneID)
	if err != nil {
		return nil, &ConnectivityError{ZoneID: cfg.ZoneID, Err: err}
	}
	log.Debugf("found %d records in zone", len(records))

	present := make(map[string]bool, len(records))
	for _, r := range records {
		present[r.Name] = true
	}
	for _, name := range cfg.ManagedNames {
		if !present[name] {
			return nil, &ValidationError{Name: name, ZoneID: cfg.ZoneID}
		}
		rc.managed[name] = true
	}

	rc.records = records
	log.WithField("names", cfg.ManagedNames).Info("provider settings validated")
	return rc, nil
}

// Reconcile updates every managed A record whose content differs from addr.
//
// Records are processed in the provider's listing order, one request per stale record.
// The first rejected update stops the pass and is returned as an *UpdateError;
// records updated before it keep their new content.
func (rc *Reconciler) Reconcile(ctx context.Context, addr netip.Addr) error {
	if !addr.Is4() {
		return fmt.Errorf("cfddns.Reconcile: %s: %w", addr, errNotIPv4)
	}
	content := addr.String()

	for i := range rc.records {
		r := &rc.records[i]
		if !rc.managed[r.Name] || r.Type != "A" {
			continue
		}
		log := rc.log.WithFields(logrus.Fields{"name": r.Name, "record_id": r.ID})
		if r.Content == content {
			log.Infof("%s is up to date", r.Name)
			continue
		}

		log.Infof("updating %s from %s to %s...", r.Name, r.Content, content)
		err := rc.svc.UpdateRecord(ctx, rc.zoneID, Record{ID: r.ID, Name: r.Name, Type: "A", Content: content})
		if err != nil {
			return &UpdateError{Name: r.Name, RecordID: r.ID, Err: err}
		}
		r.Content = content
		rc.metrics.recordUpdated(r.Name)
		log.Infof("DNS record %s updated", r.Name)
	}
	rc.log.Info("all DNS records are current")
	return nil
}

// Records returns a copy of the cached zone records.
func (rc *Reconciler) Records() []Record {
	out := make([]Record, len(rc.records))
	copy(out, rc.records)
	return out
}
