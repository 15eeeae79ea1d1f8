// Package clock provides an NTP-disciplined wall clock.
//
// Until the first successful synchronization the clock reports itself as
// unsynchronized and callers are expected to skip anything date related.
package clock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/beevik/ntp"
	"github.com/rs/zerolog/log"
)

// DateLayout is the dd/mm/yyyy layout shown on the panels.
const DateLayout = "02/01/2006"

// QueryFunc queries an NTP server. It matches ntp.QueryWithOptions.
type QueryFunc func(host string, opt ntp.QueryOptions) (*ntp.Response, error)

// Clock tracks the offset between the local clock and an NTP server
type Clock struct {
	server  string
	timeout time.Duration
	loc     *time.Location
	query   QueryFunc
	local   func() time.Time

	mu          sync.RWMutex
	offset      time.Duration
	synced      bool
	lastSync    time.Time
	onFirstSync func()
}

// New creates a clock for the given server and location
func New(server string, loc *time.Location, timeout time.Duration) *Clock {
	if loc == nil {
		loc = time.Local
	}
	return &Clock{
		server:  server,
		timeout: timeout,
		loc:     loc,
		query:   ntp.QueryWithOptions,
		local:   time.Now,
	}
}

// WithQuery replaces the NTP query function (tests)
func (c *Clock) WithQuery(q QueryFunc) *Clock {
	c.query = q
	return c
}

// Sync queries the NTP server once and updates the offset
func (c *Clock) Sync(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	resp, err := c.query(c.server, ntp.QueryOptions{Timeout: c.timeout})
	if err != nil {
		return fmt.Errorf("ntp query to %s failed: %w", c.server, err)
	}
	if err := resp.Validate(); err != nil {
		return fmt.Errorf("ntp response from %s rejected: %w", c.server, err)
	}

	c.mu.Lock()
	first := !c.synced
	c.offset = resp.ClockOffset
	c.synced = true
	c.lastSync = c.local()
	onFirstSync := c.onFirstSync
	c.mu.Unlock()

	if first && onFirstSync != nil {
		onFirstSync()
	}

	log.Debug().
		Str("server", c.server).
		Dur("offset", resp.ClockOffset).
		Dur("rtt", resp.RTT).
		Msg("Clock synchronized")
	return nil
}

// OnFirstSync registers fn to be called once the clock first becomes trustworthy
func (c *Clock) OnFirstSync(fn func()) {
	c.mu.Lock()
	c.onFirstSync = fn
	c.mu.Unlock()
}

// Run resynchronizes every interval until ctx is done, starting with an
// immediate attempt when the clock was never synchronized.
// Failures are logged; the previous offset stays in effect.
func (c *Clock) Run(ctx context.Context, interval time.Duration) {
	if !c.Synced() {
		if err := c.Sync(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to obtain time")
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Sync(ctx); err != nil {
				log.Warn().Err(err).Msg("Clock resync failed")
			}
		}
	}
}

// Now returns the corrected time in the configured location and whether
// the clock has ever been synchronized.
func (c *Clock) Now() (time.Time, bool) {
	c.mu.RLock()
	offset, synced := c.offset, c.synced
	c.mu.RUnlock()

	return c.local().Add(offset).In(c.loc), synced
}

// Synced reports whether at least one synchronization succeeded
func (c *Clock) Synced() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.synced
}

// Tomorrow returns the same wall-clock time one calendar day later,
// rolling over month and year boundaries.
func Tomorrow(t time.Time) time.Time {
	return t.AddDate(0, 0, 1)
}

// FormatDate renders t as dd/mm/yyyy
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// DayKey renders t as yyyy-mm-dd, used as a storage key
func DayKey(t time.Time) string {
	return t.Format(time.DateOnly)
}
