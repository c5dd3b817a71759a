// Package reconcile repairs drift between the upload directory and the
// record store. A file write and its metadata write are not transactional
// with each other, so either side can survive alone; the sweep is what
// brings the two back into agreement.
package reconcile

import (
	"context"
	"log"
	"time"

	"taxlens/internal/filestore"
	"taxlens/internal/session"
	"taxlens/internal/store"
)

// DefaultGrace is the minimum file age before a file with no database
// reference counts as an orphan. A file younger than this may belong to an
// ingestion whose document row has not committed yet; skipping it closes
// the race with concurrent uploads without any cross-process locking.
const DefaultGrace = 15 * time.Minute

// Report summarizes one sweep.
type Report struct {
	SessionsExpired int `json:"sessionsExpired"`
	OrphansRemoved  int `json:"orphansRemoved"`
	Failures        int `json:"failures"`
}

// Reconciler runs the periodic sweep.
type Reconciler struct {
	sessions *session.Manager
	store    store.Store
	files    *filestore.Store
	grace    time.Duration
	now      func() time.Time
}

// New constructs a Reconciler. A non-positive grace falls back to
// DefaultGrace.
func New(sessions *session.Manager, st store.Store, files *filestore.Store, grace time.Duration) *Reconciler {
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Reconciler{
		sessions: sessions,
		store:    st,
		files:    files,
		grace:    grace,
		now:      time.Now,
	}
}

// Sweep expires sessions and removes orphaned files. Expiring a session
// deletes its document rows, which drops its files out of the live set, so
// the single disk-minus-live set difference handles both expiry-triggered
// and drift-triggered cleanup. Individual file deletion failures are
// counted and logged; they never abort the sweep. Running the sweep twice
// in a row removes nothing the second time.
func (r *Reconciler) Sweep(ctx context.Context) (Report, error) {
	var report Report
	expired, err := r.sessions.ExpireSweep(ctx)
	if err != nil {
		return report, err
	}
	report.SessionsExpired = expired

	names, err := r.store.LiveStoredNames(ctx)
	if err != nil {
		return report, err
	}
	live := make(map[string]bool, len(names))
	for _, name := range names {
		live[name] = true
	}

	disk, err := r.files.List()
	if err != nil {
		return report, err
	}
	cutoff := r.now().Add(-r.grace)
	for _, f := range disk {
		if live[f.Name] {
			continue
		}
		if f.ModTime.After(cutoff) {
			// Possibly an in-flight ingestion; leave it for a later sweep.
			continue
		}
		if err := r.files.Remove(f.Name); err != nil {
			log.Printf("remove orphan %s: %v", f.Name, err)
			report.Failures++
			continue
		}
		log.Printf("removed orphan file %s", f.Name)
		report.OrphansRemoved++
	}
	return report, nil
}
