// Package reaper runs the scheduled maintenance jobs: re-driving cases
// stuck in processing and expiring cases past their SLA deadline.
package reaper

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"decisiond/internal/casework"
	"decisiond/internal/model"
	"decisiond/internal/policy"
	"decisiond/internal/store"
)

// StuckProcessingAge is how long a case may sit in processing before the
// reaper re-drives it. Processing normally completes within the agent
// budget; anything older lost its worker.
const StuckProcessingAge = 10 * time.Minute

// Reaper owns the cron schedule.
type Reaper struct {
	db     *store.DB
	cases  *casework.Manager
	logger *slog.Logger
	cron   *cron.Cron
}

// New wires a reaper.
func New(db *store.DB, cases *casework.Manager, logger *slog.Logger) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{db: db, cases: cases, logger: logger}
}

// Start registers the jobs and starts the scheduler. Stop shuts it down.
func (r *Reaper) Start(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc("@every 1m", func() { r.RedriveStuck(ctx) }); err != nil {
		return err
	}
	if _, err := c.AddFunc("@every 5m", func() { r.ExpireOverdue(ctx) }); err != nil {
		return err
	}
	c.Start()
	r.cron = c
	return nil
}

// Stop stops the scheduler and waits for running jobs.
func (r *Reaper) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}

// RedriveStuck finds cases that entered processing and never left, and
// sends them through the failure path into manual review. Re-running the
// pipeline could double-charge external providers, so the reaper parks
// them for a human instead.
func (r *Reaper) RedriveStuck(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-StuckProcessingAge)
	cases, err := r.db.ListCasesByStatusOlderThan(ctx, model.StatusProcessing, cutoff)
	if err != nil {
		r.logger.Error("listing stuck cases failed", "error", err)
		return
	}
	for _, c := range cases {
		if _, err := r.cases.ParkStuck(ctx, c.CaseID); err != nil {
			r.logger.Error("parking stuck case failed", "case_id", c.CaseID, "error", err)
			continue
		}
		r.logger.Warn("stuck case parked for manual review",
			"case_id", c.CaseID, "stuck_since", c.UpdatedAt)
	}
}

// ExpireOverdue transitions non-terminal cases past their SLA deadline
// to expired.
func (r *Reaper) ExpireOverdue(ctx context.Context) {
	cases, err := r.db.ListCasesPastSLA(ctx, time.Now().UTC())
	if err != nil {
		r.logger.Error("listing overdue cases failed", "error", err)
		return
	}
	for _, c := range cases {
		if _, err := r.cases.ExpireCase(ctx, c.CaseID); err != nil {
			// Some states have no expiry edge for the system actor;
			// refusal is expected there, anything else is a real error.
			if !policy.IsStateRefused(err) {
				r.logger.Error("expiring case failed", "case_id", c.CaseID, "error", err)
			}
			continue
		}
		r.logger.Info("case expired past sla", "case_id", c.CaseID)
	}
}
