/*
monitor.go - Background lesson-ledger drift monitor

PURPOSE:
  Periodically reconciles every member's lesson partitions: purchased
  minus consumed must equal the chain's remaining balance. Drift means a
  write path skipped the ledger, and the desk should hear about it before
  a member does.

DESIGN:
  - Background goroutine with a configurable check interval
  - Read-only: logs warnings, never mutates
  - Runs once at startup, then on every tick

USAGE:
  monitor := NewDriftMonitor(store)
  monitor.Start()
  // ... later
  monitor.Stop()

SEE ALSO:
  - ledger/lessons.go: Reconcile and Drift
*/
package api

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/fairway/academy-ledger/contract"
	"github.com/fairway/academy-ledger/ledger"
)

// DriftMonitor periodically checks lesson-ledger reconciliation.
type DriftMonitor struct {
	Store         contract.Store
	CheckInterval time.Duration
	Enabled       bool

	lessons ledger.LessonLedger
	ticker  *time.Ticker
	stop    chan bool
	wg      sync.WaitGroup
	mu      sync.Mutex
}

// NewDriftMonitor creates a monitor with a one-hour interval.
func NewDriftMonitor(store contract.Store) *DriftMonitor {
	return &DriftMonitor{
		Store:         store,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the monitor.
func (m *DriftMonitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.Enabled {
		log.Println("[Monitor] Disabled, not starting")
		return
	}

	m.ticker = time.NewTicker(m.CheckInterval)
	m.wg.Add(1)

	go m.run()

	log.Printf("[Monitor] Started with check interval: %v", m.CheckInterval)
}

// Stop stops the monitor. Safe to call more than once.
func (m *DriftMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ticker == nil {
		return
	}
	m.ticker.Stop()
	close(m.stop)
	m.wg.Wait()
	m.ticker = nil
	log.Println("[Monitor] Stopped")
}

func (m *DriftMonitor) run() {
	defer m.wg.Done()

	// Run immediately on start
	m.checkAll()

	for {
		select {
		case <-m.ticker.C:
			m.checkAll()
		case <-m.stop:
			return
		}
	}
}

// checkAll reconciles every partition that has lesson activity.
func (m *DriftMonitor) checkAll() {
	ctx := context.Background()

	members, err := m.Store.ListMembers(ctx)
	if err != nil {
		log.Printf("[Monitor] List members failed: %v", err)
		return
	}

	checked, drifted := 0, 0
	for _, member := range members {
		entries, err := m.Store.Lessons(ctx, member.ID)
		if err != nil {
			log.Printf("[Monitor] Lessons for member %d failed: %v", member.ID, err)
			continue
		}
		if len(entries) == 0 {
			continue
		}

		for _, p := range partitionsOf(member.ID, entries) {
			rec, err := m.lessons.Reconcile(ctx, m.Store, p)
			if err != nil {
				log.Printf("[Monitor] Reconcile member %d failed: %v", member.ID, err)
				continue
			}
			checked++
			if rec.Drift() != 0 {
				drifted++
				log.Printf("[Monitor] DRIFT member=%d pool=%s purchased=%d consumed=%d remaining=%d drift=%d",
					member.ID, p.Pool, rec.Purchased, rec.Consumed, rec.Remaining, rec.Drift())
			}
		}
	}

	log.Printf("[Monitor] Reconciled %d partitions, %d drifted", checked, drifted)
}

// partitionsOf collects the distinct partitions present in a member's
// lesson entries.
func partitionsOf(member ledger.MemberID, entries []ledger.LessonEntry) []ledger.Partition {
	seen := make(map[string]bool)
	var out []ledger.Partition
	for _, e := range entries {
		key := string(e.Pool)
		if e.DependentID != nil {
			key += "/" + strconv.FormatInt(int64(*e.DependentID), 10)
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, ledger.Partition{
			MemberID:    member,
			DependentID: e.DependentID,
			Pool:        e.Pool,
		})
	}
	return out
}
