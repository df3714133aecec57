// Package battery reads the battery gauge and caches the level for the
// display header.
package battery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "paperpiper/internal/log"
)

// DefaultSchedule refreshes the cached level once a minute.
const DefaultSchedule = "@every 1m"

const readTimeout = 2 * time.Second

// Poller refreshes the battery status on a cron schedule. Reads are served
// from the cache and never touch the bus.
type Poller struct {
	reader Reader
	cron   *cron.Cron

	mu   sync.RWMutex
	last Status
	ok   bool
}

// NewPoller schedules reader on schedule (cron syntax or "@every <d>").
func NewPoller(reader Reader, schedule string) (*Poller, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	p := &Poller{reader: reader, cron: cron.New()}
	if _, err := p.cron.AddFunc(schedule, p.Refresh); err != nil {
		return nil, fmt.Errorf("battery: invalid schedule %q: %w", schedule, err)
	}
	return p, nil
}

// Start reads once and starts the schedule.
func (p *Poller) Start() {
	p.Refresh()
	p.cron.Start()
}

// Stop halts the schedule and waits for a running refresh.
func (p *Poller) Stop() {
	<-p.cron.Stop().Done()
}

// Refresh reads the gauge now. A failed read keeps the previous value.
func (p *Poller) Refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), readTimeout)
	defer cancel()

	st, err := p.reader.Read(ctx)
	if err != nil {
		appLog.Debug("battery read failed", "err", err.Error())
		return
	}
	p.mu.Lock()
	p.last, p.ok = st, true
	p.mu.Unlock()
}

// Status returns the cached status; ok is false until a read succeeded.
func (p *Poller) Status() (Status, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last, p.ok
}

// BatteryPercent returns the cached percentage.
func (p *Poller) BatteryPercent() (int, bool) {
	st, ok := p.Status()
	return st.Percent, ok
}
