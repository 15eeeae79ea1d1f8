package backlight

import (
	"errors"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
)

type recordingLine struct {
	levels []gpio.Level
	err    error
}

func (l *recordingLine) Out(level gpio.Level) error {
	if l.err != nil {
		return l.err
	}
	l.levels = append(l.levels, level)
	return nil
}

func TestPulse(t *testing.T) {
	line := &recordingLine{}
	b := New(line, "test", 200*time.Microsecond, time.Millisecond)

	var slept []time.Duration
	b.sleep = func(d time.Duration) { slept = append(slept, d) }

	if err := b.Pulse(); err != nil {
		t.Fatalf("Pulse() error = %v", err)
	}

	if len(line.levels) != 2 || line.levels[0] != gpio.Low || line.levels[1] != gpio.High {
		t.Errorf("levels = %v, want [Low High]", line.levels)
	}
	if len(slept) != 2 || slept[0] != 200*time.Microsecond || slept[1] != time.Millisecond {
		t.Errorf("sleeps = %v, want [200µs 1ms]", slept)
	}
}

func TestFull(t *testing.T) {
	line := &recordingLine{}
	b := New(line, "test", 0, 0)

	if err := b.Full(); err != nil {
		t.Fatalf("Full() error = %v", err)
	}
	if len(line.levels) != 1 || line.levels[0] != gpio.High {
		t.Errorf("levels = %v, want [High]", line.levels)
	}
}

func TestPulse_LineError(t *testing.T) {
	want := errors.New("bus fault")
	b := New(&recordingLine{err: want}, "test", 0, 0)
	b.sleep = func(time.Duration) { t.Error("should not sleep after a failed write") }

	if err := b.Pulse(); !errors.Is(err, want) {
		t.Errorf("Pulse() error = %v, want %v", err, want)
	}
}

func TestOpen_NoPin(t *testing.T) {
	b, err := Open("", time.Microsecond, time.Microsecond)
	if err != nil {
		t.Fatalf("Open(\"\") error = %v", err)
	}
	if b.Name() != "none" {
		t.Errorf("Name() = %q, want none", b.Name())
	}
	if err := b.Full(); err != nil {
		t.Errorf("Full() on simulated line error = %v", err)
	}
}
