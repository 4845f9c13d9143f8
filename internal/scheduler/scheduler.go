// Package scheduler provides cron-based background maintenance for TallerBot.
//
// Jobs such as flagging overdue invoices or sweeping idle wizard sessions are
// scheduled with standard 5-field cron expressions.
package scheduler

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rsautomocion/tallerbot/internal/store"
)

// Default maintenance schedules.
const (
	// DefaultVencidasCron runs the overdue invoice check every night at 02:00.
	DefaultVencidasCron = "0 2 * * *"
	// DefaultSweepCron drops idle wizard sessions every 10 minutes.
	DefaultSweepCron = "*/10 * * * *"
)

// SessionSweeper removes expired wizard sessions and reports how many were
// dropped. The in-memory session store implements it; the Redis store expires
// sessions on its own and needs no sweeping.
type SessionSweeper interface {
	Sweep() int
}

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Use standard 5-field cron parser (min, hour, dom, month, dow) and enable recovery
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// ScheduleVencidas registers the nightly job that marks unpaid invoices past
// their due date as vencidas.
func (s *Scheduler) ScheduleVencidas(expr string, st store.Store) error {
	if expr == "" {
		expr = DefaultVencidasCron
	}
	return s.AddJob(expr, func() {
		n, err := st.MarkFacturasVencidas(time.Now())
		if err != nil {
			slog.Error("Overdue invoice check failed", "error", err)
			return
		}
		if n > 0 {
			slog.Info("Marked overdue invoices", "count", n)
		}
	})
}

// ScheduleSessionSweep registers the periodic job that drops idle wizard
// sessions from the given sweeper.
func (s *Scheduler) ScheduleSessionSweep(expr string, sweeper SessionSweeper) error {
	if expr == "" {
		expr = DefaultSweepCron
	}
	return s.AddJob(expr, func() {
		if n := sweeper.Sweep(); n > 0 {
			slog.Debug("Swept idle wizard sessions", "count", n)
		}
	})
}
