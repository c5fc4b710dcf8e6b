package wiegand

import (
	"strings"
	"sync"
	"time"
)

// DefaultGapTimeout is the inter-bit-gap duration after which an
// in-progress bitstream is considered complete and flushed.
const DefaultGapTimeout = 100 * time.Millisecond

// CardRead is a validated facility/user tuple, ready for the decision
// engine. It is produced by Decoder and carries enough provenance
// (reader name, raw bitstring) for logging.
type CardRead struct {
	CardID     string
	Facility   string
	UserID     string
	Bitstring  string
	BitLength  int
	FormatName string
	ReaderName string
}

// Decoder accumulates D0/D1 edges for one physical reader into a
// bitstring and validates it against a FormatRegistry once the
// inter-bit gap elapses. A Decoder is safe for concurrent use from the
// GPIO edge-watching goroutines that feed it bits.
type Decoder struct {
	registry   *FormatRegistry
	readerName string
	gap        time.Duration
	onRead     func(CardRead)

	mu     sync.Mutex
	buf    strings.Builder
	timer  *time.Timer
	nbits  int
}

// NewDecoder builds a Decoder for one reader. onRead is invoked (off
// the bit-accumulator's lock) whenever a flushed bitstring validates;
// invalid bitstrings are dropped silently.
func NewDecoder(registry *FormatRegistry, readerName string, gap time.Duration, onRead func(CardRead)) *Decoder {
	if gap <= 0 {
		gap = DefaultGapTimeout
	}
	return &Decoder{
		registry:   registry,
		readerName: readerName,
		gap:        gap,
		onRead:     onRead,
	}
}

// PushBit appends one bit ('0' from the D0 line, '1' from D1) and
// (re)arms the gap-timeout flush. It must complete in O(1) and never
// block — it is called directly from a GPIO edge callback.
func (d *Decoder) PushBit(bit byte) {
	d.mu.Lock()
	d.buf.WriteByte(bit)
	d.nbits++
	if d.timer == nil {
		d.timer = time.AfterFunc(d.gap, d.flush)
	} else {
		d.timer.Reset(d.gap)
	}
	d.mu.Unlock()
}

// flush fires on the gap timer. It atomically swaps out the
// accumulated bitstring and hands it to FormatRegistry outside the
// lock, so a slow or unlucky validation never blocks a concurrent
// PushBit. It flushes at most once per gap event: the timer is nil'd
// out here and only re-armed by the next PushBit.
func (d *Decoder) flush() {
	d.mu.Lock()
	if d.nbits == 0 {
		d.timer = nil
		d.mu.Unlock()
		return
	}
	bitstring := d.buf.String()
	d.buf.Reset()
	d.nbits = 0
	d.timer = nil
	d.mu.Unlock()

	decoded, ok := d.registry.Validate(bitstring)
	if !ok {
		return
	}

	if d.onRead != nil {
		d.onRead(CardRead{
			CardID:     decoded.CardID,
			Facility:   decoded.Facility,
			UserID:     decoded.UserID,
			Bitstring:  bitstring,
			BitLength:  len(bitstring),
			FormatName: decoded.Format.Name,
			ReaderName: d.readerName,
		})
	}
}
