// Package readers is the capability-set seam between a physical card
// reader transport and the rest of the controller: every transport
// delivers CardRead values to one shared onRead callback regardless of
// its origin. WiegandReader is the only concrete implementation this
// module ships; OSDP and NFC would implement the same CardReader
// interface.
package readers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"

	"github.com/pidoors/accessd/internal/wiegand"
)

// ReaderStatus is the lifecycle state a CardReader reports.
type ReaderStatus int

const (
	StatusStopped ReaderStatus = iota
	StatusRunning
	StatusError
)

func (s ReaderStatus) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusError:
		return "error"
	default:
		return "stopped"
	}
}

// CardReader is the capability set every reader transport implements.
type CardReader interface {
	Initialize() error
	Start() error
	Stop() error
	Status() ReaderStatus
}

// WiegandReaderConfig configures one physical Wiegand reader.
type WiegandReaderConfig struct {
	Name       string
	D0Pin      string
	D1Pin      string
	GapTimeout time.Duration // zero uses wiegand.DefaultGapTimeout
}

// WiegandReader wires two GPIO edge-interrupt pins into a
// wiegand.Decoder and forwards validated reads to onRead.
type WiegandReader struct {
	cfg      WiegandReaderConfig
	registry *wiegand.FormatRegistry
	decoder  *wiegand.Decoder
	onRead   func(wiegand.CardRead)

	d0, d1 gpio.PinIO

	mu     sync.Mutex
	status ReaderStatus
	cancel context.CancelFunc
}

// NewWiegandReader returns a reader not yet bound to any GPIO pins —
// call Initialize before Start.
func NewWiegandReader(cfg WiegandReaderConfig, registry *wiegand.FormatRegistry, onRead func(wiegand.CardRead)) *WiegandReader {
	if cfg.GapTimeout <= 0 {
		cfg.GapTimeout = wiegand.DefaultGapTimeout
	}
	return &WiegandReader{cfg: cfg, registry: registry, onRead: onRead}
}

// Initialize resolves and configures the D0/D1 GPIO pins for
// falling-edge interrupts, matching the teacher's gpioreg.ByName +
// PullDown/FallingEdge idiom.
func (w *WiegandReader) Initialize() error {
	d0 := gpioreg.ByName(w.cfg.D0Pin)
	d1 := gpioreg.ByName(w.cfg.D1Pin)
	if d0 == nil || d1 == nil {
		w.setStatus(StatusError)
		return fmt.Errorf("readers: invalid GPIO pins for %q: D0=%s D1=%s", w.cfg.Name, w.cfg.D0Pin, w.cfg.D1Pin)
	}
	if err := d0.In(gpio.PullDown, gpio.FallingEdge); err != nil {
		w.setStatus(StatusError)
		return fmt.Errorf("readers: configure D0 pin %s: %w", w.cfg.D0Pin, err)
	}
	if err := d1.In(gpio.PullDown, gpio.FallingEdge); err != nil {
		w.setStatus(StatusError)
		return fmt.Errorf("readers: configure D1 pin %s: %w", w.cfg.D1Pin, err)
	}

	w.d0, w.d1 = d0, d1
	w.decoder = wiegand.NewDecoder(w.registry, w.cfg.Name, w.cfg.GapTimeout, w.onRead)
	return nil
}

// Start launches the two edge-watching goroutines. Each watcher's body
// is O(1) per edge: it appends one bit to the decoder and returns to
// waiting, never blocking on I/O, per spec.md §5.
func (w *WiegandReader) Start() error {
	if w.d0 == nil || w.d1 == nil {
		return fmt.Errorf("readers: %q not initialized", w.cfg.Name)
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.setStatus(StatusRunning)

	go w.watchPin(ctx, w.d0, '0')
	go w.watchPin(ctx, w.d1, '1')
	return nil
}

func (w *WiegandReader) watchPin(ctx context.Context, pin gpio.PinIO, bit byte) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			if pin.WaitForEdge(time.Second) && pin.Read() == gpio.Low {
				w.decoder.PushBit(bit)
			}
		}
	}
}

// Stop cancels the edge-watching goroutines. GPIO pin teardown itself
// is DoorIO/Supervisor's job, not this reader's.
func (w *WiegandReader) Stop() error {
	w.mu.Lock()
	cancel := w.cancel
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	w.setStatus(StatusStopped)
	return nil
}

// Status reports the reader's current lifecycle state.
func (w *WiegandReader) Status() ReaderStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *WiegandReader) setStatus(s ReaderStatus) {
	w.mu.Lock()
	w.status = s
	w.mu.Unlock()
}

var _ CardReader = (*WiegandReader)(nil)
