package auth

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper periodically renews accounts whose last refresh is stale so every
// refresh credential in the pool stays alive, not just the active one.
type Sweeper struct {
	manager    *Manager
	interval   time.Duration
	staleAfter time.Duration
	// pause between per-account renewals, shortened in tests
	pause time.Duration

	cron *cron.Cron
}

// NewSweeper creates a sweeper running every interval, renewing accounts
// idle for longer than staleAfter.
func NewSweeper(manager *Manager, interval, staleAfter time.Duration) *Sweeper {
	return &Sweeper{
		manager:    manager,
		interval:   interval,
		staleAfter: staleAfter,
		pause:      2 * time.Second,
		cron:       cron.New(),
	}
}

// Start schedules the sweep. The cron runner owns the single long-lived
// background goroutine of the process.
func (s *Sweeper) Start() error {
	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(spec, s.Sweep); err != nil {
		return fmt.Errorf("scheduling sweep: %w", err)
	}
	s.cron.Start()
	log.Printf("🔄 Token renewal sweep started (interval: %s, stale after: %s)", s.interval, s.staleAfter)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Sweep renews every stale account once. A failure for one account is
// logged and the sweep moves on; the active selection is never disturbed
// because renewal addresses accounts by id.
func (s *Sweeper) Sweep() {
	now := time.Now()
	for _, acc := range s.manager.store.All() {
		if !acc.HasCredentials() {
			continue
		}
		last := acc.LastRefresh()
		if !last.IsZero() && now.Sub(last) <= s.staleAfter {
			continue
		}

		if last.IsZero() {
			log.Printf("🔄 Sweep: account %s never refreshed, renewing", acc.Name)
		} else {
			log.Printf("🔄 Sweep: account %s idle %.1f min, renewing", acc.Name, now.Sub(last).Minutes())
		}

		if err := s.manager.Renew(context.Background(), acc.ID); err != nil {
			log.Printf("❌ Sweep: renewal failed for account %s: %v", acc.Name, err)
		}

		// Spread renewals out so the auth endpoint is not hammered.
		time.Sleep(s.pause)
	}
}
