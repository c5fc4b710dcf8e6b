// Package doorio drives the latch and status-indicator GPIO lines for
// one door: lock/unlock, a brief timed unlock, a denied-access flash,
// and the persistent-unlock flag the decision engine and heartbeat
// both read.
package doorio

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
)

// Config names the GPIO lines and timing for one door.
type Config struct {
	LatchPin          string
	GrantedPin        string
	DeniedPin         string
	UnlockValue       gpio.Level // level asserted on LatchPin to energize unlock
	OpenDelay         time.Duration
	FlashPulseWidth   time.Duration // defaults to ~50ms (10Hz)
}

// DoorIO owns the latch and indicator lines for one door and the
// advisory unlocked_persistent flag.
type DoorIO struct {
	latch   gpio.PinIO
	granted gpio.PinIO
	denied  gpio.PinIO

	unlockValue gpio.Level
	openDelay   time.Duration
	pulseWidth  time.Duration

	mu         sync.Mutex
	persistent bool

	briefOnce sync.Once
	briefCh   chan time.Duration
	done      chan struct{}
}

// New resolves the configured GPIO lines and sets the door to its
// initial locked state. A missing or unconfigurable pin is a fatal
// configuration/GPIO error per the spec, so New returns an error
// rather than a half-wired DoorIO.
func New(cfg Config) (*DoorIO, error) {
	latch := gpioreg.ByName(cfg.LatchPin)
	if latch == nil {
		return nil, fmt.Errorf("doorio: unknown latch pin %q", cfg.LatchPin)
	}
	granted := gpioreg.ByName(cfg.GrantedPin)
	if granted == nil {
		return nil, fmt.Errorf("doorio: unknown granted-indicator pin %q", cfg.GrantedPin)
	}
	denied := gpioreg.ByName(cfg.DeniedPin)
	if denied == nil {
		return nil, fmt.Errorf("doorio: unknown denied-indicator pin %q", cfg.DeniedPin)
	}

	for name, pin := range map[string]gpio.PinIO{"latch": latch, "granted": granted, "denied": denied} {
		if err := pin.Out(gpio.Low); err != nil {
			return nil, fmt.Errorf("doorio: configure %s pin: %w", name, err)
		}
	}

	pulse := cfg.FlashPulseWidth
	if pulse <= 0 {
		pulse = 50 * time.Millisecond
	}

	d := &DoorIO{
		latch:       latch,
		granted:     granted,
		denied:      denied,
		unlockValue: cfg.UnlockValue,
		openDelay:   cfg.OpenDelay,
		pulseWidth:  pulse,
		briefCh:     make(chan time.Duration, 8),
		done:        make(chan struct{}),
	}
	go d.briefUnlockWorker()

	d.Lock()
	return d, nil
}

func (d *DoorIO) unlockLevel() gpio.Level { return d.unlockValue }
func (d *DoorIO) lockLevel() gpio.Level {
	if d.unlockValue == gpio.High {
		return gpio.Low
	}
	return gpio.High
}

// Lock de-energizes the latch and sets the indicators to the secure
// state: denied on, granted off.
func (d *DoorIO) Lock() {
	d.latch.Out(d.lockLevel())
	d.granted.Out(gpio.Low)
	d.denied.Out(gpio.High)
}

// Unlock energizes the latch and sets the indicators to the open
// state: granted on, denied off.
func (d *DoorIO) Unlock() {
	d.latch.Out(d.unlockLevel())
	d.granted.Out(gpio.High)
	d.denied.Out(gpio.Low)
}

// UnlockBriefly schedules an unlock → sleep(open_delay) → lock cycle
// on the dedicated worker goroutine. It returns immediately; the
// caller never blocks on the open delay.
func (d *DoorIO) UnlockBriefly() {
	select {
	case d.briefCh <- d.openDelay:
	default:
		// Worker is saturated; drop rather than block the decision path.
	}
}

func (d *DoorIO) briefUnlockWorker() {
	for {
		select {
		case delay := <-d.briefCh:
			d.Unlock()
			time.Sleep(delay)
			if !d.IsPersistentUnlocked() {
				d.Lock()
			}
		case <-d.done:
			return
		}
	}
}

// FlashDenied pulses the denied indicator three times at roughly 10Hz.
func (d *DoorIO) FlashDenied() {
	for i := 0; i < 3; i++ {
		d.denied.Out(gpio.Low)
		time.Sleep(d.pulseWidth)
		d.denied.Out(gpio.High)
		if i < 2 {
			time.Sleep(d.pulseWidth)
		}
	}
}

// SetPersistentUnlocked toggles the advisory unlocked_persistent flag
// and issues the matching hardware Lock/Unlock.
func (d *DoorIO) SetPersistentUnlocked(unlocked bool) {
	d.mu.Lock()
	d.persistent = unlocked
	d.mu.Unlock()

	if unlocked {
		d.Unlock()
	} else {
		d.Lock()
	}
}

// IsPersistentUnlocked reports the advisory flag, readable by the
// heartbeat and decision engine without touching hardware.
func (d *DoorIO) IsPersistentUnlocked() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.persistent
}

// Close stops the brief-unlock worker goroutine.
func (d *DoorIO) Close() {
	d.briefOnce.Do(func() { close(d.done) })
}
