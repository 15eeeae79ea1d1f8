// Package dimmer steps the backlight down while the panel is idle.
package dimmer

import (
	"time"

	"github.com/rs/zerolog/log"
)

// Output is the backlight as seen by the controller
type Output interface {
	// Pulse dims by one step
	Pulse() error
	// Full restores full brightness
	Full() error
}

// Controller tracks idle time and the current dimming step.
// Step 0 is full brightness, MaxSteps the dimmest level.
// Not safe for concurrent use; it is owned by the control loop.
type Controller struct {
	out          Output
	delay        time.Duration
	maxSteps     int
	step         int
	lastActivity time.Time
}

// New creates a controller whose activity timer starts at now
func New(out Output, delay time.Duration, maxSteps int, now time.Time) *Controller {
	return &Controller{
		out:          out,
		delay:        delay,
		maxSteps:     maxSteps,
		lastActivity: now,
	}
}

// Check applies the dimming policy for one loop iteration.
// Once idle for at least the delay, the step grows by one per call until
// MaxSteps. Back under the delay, a dimmed panel snaps to full brightness.
func (c *Controller) Check(now time.Time) {
	if c.Idle(now) >= c.delay {
		if c.step < c.maxSteps {
			c.step++
			if err := c.out.Pulse(); err != nil {
				log.Warn().Err(err).Int("step", c.step).Msg("Failed to dim backlight")
			}
			log.Debug().Int("step", c.step).Msg("Backlight dimmed")
		}
		return
	}

	if c.step > 0 {
		c.step = 0
		if err := c.out.Full(); err != nil {
			log.Warn().Err(err).Msg("Failed to restore backlight")
		}
	}
}

// Reset records activity at now and restores full brightness
func (c *Controller) Reset(now time.Time) {
	c.lastActivity = now
	c.step = 0
	if err := c.out.Full(); err != nil {
		log.Warn().Err(err).Msg("Failed to restore backlight")
	}
}

// Step returns the current dimming step
func (c *Controller) Step() int {
	return c.step
}

// MaxSteps returns the dimmest step
func (c *Controller) MaxSteps() int {
	return c.maxSteps
}

// LastActivity returns the time of the last recorded activity
func (c *Controller) LastActivity() time.Time {
	return c.lastActivity
}

// Idle returns how long the panel has been idle at now
func (c *Controller) Idle(now time.Time) time.Duration {
	return now.Sub(c.lastActivity)
}
