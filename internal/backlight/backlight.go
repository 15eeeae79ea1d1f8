// Package backlight drives the panel backlight enable line.
package backlight

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Line is the subset of gpio.PinOut the backlight needs
type Line interface {
	Out(l gpio.Level) error
}

// Backlight toggles a digital line. The panel controller steps its
// brightness down by one level on every short LOW pulse and returns to
// full brightness when the line is held HIGH.
type Backlight struct {
	line       Line
	name       string
	pulseWidth time.Duration
	pulseGap   time.Duration
	sleep      func(time.Duration)
}

// New wraps an already configured line
func New(line Line, name string, pulseWidth, pulseGap time.Duration) *Backlight {
	return &Backlight{
		line:       line,
		name:       name,
		pulseWidth: pulseWidth,
		pulseGap:   pulseGap,
		sleep:      time.Sleep,
	}
}

// Open initializes the host drivers and looks up pin by its periph.io name
// (e.g. "GPIO18"). An empty pin yields a backlight without hardware.
func Open(pin string, pulseWidth, pulseGap time.Duration) (*Backlight, error) {
	if pin == "" {
		log.Info().Msg("No backlight pin configured, dimming is simulated")
		return New(nopLine{}, "none", pulseWidth, pulseGap), nil
	}

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	p := gpioreg.ByName(pin)
	if p == nil {
		return nil, fmt.Errorf("backlight pin %q not found", pin)
	}

	b := New(p, p.Name(), pulseWidth, pulseGap)
	if err := b.Full(); err != nil {
		return nil, fmt.Errorf("failed to drive backlight pin %s high: %w", p.Name(), err)
	}

	return b, nil
}

// Name returns the pin name, "none" without hardware
func (b *Backlight) Name() string {
	return b.name
}

// Pulse dims the backlight by one step
func (b *Backlight) Pulse() error {
	if err := b.line.Out(gpio.Low); err != nil {
		return err
	}
	b.sleep(b.pulseWidth)
	if err := b.line.Out(gpio.High); err != nil {
		return err
	}
	b.sleep(b.pulseGap)
	return nil
}

// Full restores full brightness
func (b *Backlight) Full() error {
	return b.line.Out(gpio.High)
}

type nopLine struct{}

func (nopLine) Out(gpio.Level) error { return nil }
