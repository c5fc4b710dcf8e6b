// Package supervisor owns the controller's Init → Running → Stopping →
// Stopped lifecycle (spec.md §4.9): it builds every other component,
// wires card reads to the decision engine, and runs the single signal
// select loop.
package supervisor

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"

	"github.com/pidoors/accessd/internal/cachestore"
	"github.com/pidoors/accessd/internal/config"
	"github.com/pidoors/accessd/internal/decision"
	"github.com/pidoors/accessd/internal/doorio"
	"github.com/pidoors/accessd/internal/heartbeat"
	"github.com/pidoors/accessd/internal/logging"
	"github.com/pidoors/accessd/internal/metrics"
	"github.com/pidoors/accessd/internal/readers"
	"github.com/pidoors/accessd/internal/remotestore"
	"github.com/pidoors/accessd/internal/sharedstate"
	"github.com/pidoors/accessd/internal/swipe"
	"github.com/pidoors/accessd/internal/synchronizer"
	"github.com/pidoors/accessd/internal/wiegand"
)

// GrantedIndicatorPin and DeniedIndicatorPin are the two fixed
// status-indicator lines (spec.md §6: "Two status-indicator lines are
// fixed"), unlike latch_gpio and the per-reader pins, which come from
// config.json.
const (
	GrantedIndicatorPin = "GPIO_GRANTED"
	DeniedIndicatorPin  = "GPIO_DENIED"
)

// State is the Supervisor's own lifecycle state, spec.md §4.9.
type State int

const (
	StateInit State = iota
	StateRunning
	StateStopping
	StateStopped
)

// Supervisor owns every long-lived component and the process's signal
// handling.
type Supervisor struct {
	cacheDir string
	logger   *logging.Logger
	metrics  *metrics.Metrics

	cache   *cachestore.Store
	remote  *remotestore.Store
	state   *sharedstate.State
	door    *doorio.DoorIO
	swipeM  *swipe.Machine
	engine  *decision.Engine
	sync    *synchronizer.Synchronizer
	beat    *heartbeat.Heartbeat
	cfg     config.Config
	readers []readers.CardReader

	doorSensor gpio.PinIO // optional, nil if not configured
	rex        gpio.PinIO // optional, nil if not configured

	mu         sync.Mutex
	lifecycle  State
	cancelWork context.CancelFunc
}

// New builds every component from a loaded Config but does not yet
// start any goroutines — call Run for that.
func New(cfg config.Config, cacheDir string) (*Supervisor, error) {
	logger := logging.New()
	if cfg.LogLevel == "debug" {
		logger.SetDebug(true)
	}
	m := metrics.NewDefault()

	cache := cachestore.New(cacheDir, cfg.Zone, cachestore.WithLogger(logger))
	cache.LoadAccessCache()
	cache.LoadMasterCards()

	remote := remotestore.New(remotestore.Config{
		Addr: cfg.SQLAddr, User: cfg.SQLUser, Pass: cfg.SQLPass, DB: cfg.SQLDB,
	})
	state := sharedstate.New()

	door, err := doorio.New(doorio.Config{
		LatchPin:    cfg.LatchGPIO,
		GrantedPin:  GrantedIndicatorPin,
		DeniedPin:   DeniedIndicatorPin,
		UnlockValue: unlockLevel(cfg.UnlockValue),
		OpenDelay:   time.Duration(cfg.OpenDelay) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("supervisor: door io: %w", err)
	}

	var doorSensor, rex gpio.PinIO
	if cfg.DoorSensorGPIO != "" {
		doorSensor = gpioreg.ByName(cfg.DoorSensorGPIO)
		if doorSensor == nil {
			return nil, fmt.Errorf("supervisor: unknown door sensor pin %q", cfg.DoorSensorGPIO)
		}
		if err := doorSensor.In(gpio.PullUp, gpio.BothEdges); err != nil {
			return nil, fmt.Errorf("supervisor: configure door sensor pin %s: %w", cfg.DoorSensorGPIO, err)
		}
	}
	if cfg.RexGPIO != "" {
		rex = gpioreg.ByName(cfg.RexGPIO)
		if rex == nil {
			return nil, fmt.Errorf("supervisor: unknown rex pin %q", cfg.RexGPIO)
		}
		if err := rex.In(gpio.PullUp, gpio.FallingEdge); err != nil {
			return nil, fmt.Errorf("supervisor: configure rex pin %s: %w", cfg.RexGPIO, err)
		}
	}

	engine := decision.New(cache, remote, state, cfg.Zone)
	engine.OnMasterCardRevoked(func(action string) { m.RecordMasterCardEvent(action) })

	sw := swipe.New()
	synch := synchronizer.New(cache, remote, state, cfg.Zone, logger, m)
	beat := heartbeat.New(remote, state, m, logger, door, cfg.Zone, GetLocalIP)

	registry := wiegand.NewFormatRegistry()
	if err := registry.LoadCustomFormats(filepath.Join(cacheDir, "formats.json")); err != nil {
		logger.Warnf("supervisor: custom formats not loaded: %v", err)
	}

	sup := &Supervisor{
		cacheDir:   cacheDir,
		logger:     logger,
		metrics:    m,
		cache:      cache,
		remote:     remote,
		state:      state,
		door:       door,
		swipeM:     sw,
		engine:     engine,
		sync:       synch,
		beat:       beat,
		cfg:        cfg,
		lifecycle:  StateInit,
		doorSensor: doorSensor,
		rex:        rex,
	}

	for name, rd := range cfg.Readers {
		wr := readers.NewWiegandReader(readers.WiegandReaderConfig{Name: name, D0Pin: rd.D0, D1Pin: rd.D1}, registry, sup.onCardRead)
		if err := wr.Initialize(); err != nil {
			return nil, fmt.Errorf("supervisor: reader %q: %w", name, err)
		}
		sup.readers = append(sup.readers, wr)
	}

	return sup, nil
}

func unlockLevel(v int) gpio.Level { return gpio.Level(v != 0) }

// Run executes the full Init → Running → Stopping → Stopped lifecycle,
// blocking until ctx is cancelled or a terminating signal arrives.
func (s *Supervisor) Run(ctx context.Context) error {
	workCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancelWork = cancel
	s.lifecycle = StateRunning
	s.mu.Unlock()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGUSR2, syscall.SIGWINCH)
	defer signal.Stop(sigCh)

	if s.cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: s.cfg.MetricsAddr, Handler: metrics.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.logger.Warnf("supervisor: metrics endpoint: %v", err)
			}
		}()
		defer srv.Close()
	}

	for _, r := range s.readers {
		if err := r.Start(); err != nil {
			s.logger.Errorf("supervisor: reader start failed: %v", err)
		}
	}

	go s.sync.Run(workCtx)
	go s.beat.Run(workCtx)
	if s.doorSensor != nil {
		go s.watchDoorSensor(workCtx)
	}
	if s.rex != nil {
		go s.watchRex(workCtx)
	}

	s.logger.Report("online", logrus.Fields{"zone": s.cfg.Zone})

	for {
		select {
		case <-ctx.Done():
			s.stop(cancel)
			return nil
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGINT, syscall.SIGTERM:
				s.stop(cancel)
				return nil
			case syscall.SIGHUP, syscall.SIGUSR2:
				s.reload()
			case syscall.SIGWINCH:
				s.logger.SetDebug(!s.logger.DebugEnabled())
			}
		}
	}
}

func (s *Supervisor) stop(cancel context.CancelFunc) {
	s.mu.Lock()
	s.lifecycle = StateStopping
	s.mu.Unlock()

	for _, r := range s.readers {
		_ = r.Stop()
	}
	cancel()
	// Give the heartbeat goroutine's deferred final offline update a
	// moment to land before the process exits.
	time.Sleep(200 * time.Millisecond)
	s.door.Close()

	s.mu.Lock()
	s.lifecycle = StateStopped
	s.mu.Unlock()
}

// reload re-reads configuration and, on success, swaps it in and
// triggers an immediate sync. On failure the previous configuration
// remains in effect (REDESIGN R1) — only startup load is fatal.
func (s *Supervisor) reload() {
	cfg, err := config.Load(s.cacheDir)
	if err != nil {
		s.logger.Warnf("supervisor: reload failed, keeping previous configuration: %v", err)
		return
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.sync.TriggerNow()
	s.logger.Report("configuration reloaded", logrus.Fields{"zone": cfg.Zone})
}

// onCardRead is the callback every reader's decoder invokes on a
// validated read; it runs the decision ladder and drives DoorIO, the
// swipe machine, and both log sinks.
func (s *Supervisor) onCardRead(cr wiegand.CardRead) {
	now := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), decision.ProbeTimeout)
	defer cancel()

	res := s.engine.Decide(ctx, cr.Facility, cr.UserID, now)
	s.metrics.RecordDecision(res.Granted, res.Reason)

	entry := cachestore.AccessLogEntry{
		ID:        uuid.NewString(),
		Timestamp: now.Format(time.RFC3339),
		UserID:    cr.UserID,
		CardID:    cr.CardID,
		Facility:  cr.Facility,
		Granted:   res.Granted,
		Reason:    res.Reason,
		Zone:      s.cfg.Zone,
	}
	if err := s.cache.AppendAccessLog(entry); err != nil {
		s.logger.Warnf("supervisor: append access log: %v", err)
	}
	if s.state.IsConnected() {
		lctx, lcancel := context.WithTimeout(context.Background(), decision.ProbeTimeout)
		_ = s.remote.InsertLog(lctx, cr.UserID, res.Granted, s.cfg.Zone, "")
		lcancel()
	}

	if !res.Granted {
		s.swipeM.OnDeny()
		go s.door.FlashDenied()
		s.logger.Report("access denied", logrus.Fields{"facility": cr.Facility, "user_id": cr.UserID, "reason": res.Reason})
		return
	}

	action := s.swipeM.OnGrant(cr.UserID, now, s.door.IsPersistentUnlocked())
	switch action {
	case swipe.ActionUnlockBriefly:
		s.door.UnlockBriefly()
		s.logger.Report("access granted", logrus.Fields{"name": res.DisplayName})
	case swipe.ActionAlreadyUnlocked:
		s.logger.Report(res.DisplayName+" entered (already unlocked)", nil)
	case swipe.ActionToggledUnlock:
		s.door.SetPersistentUnlocked(true)
		s.metrics.SetDoorUnlockedPersistent(true)
		s.appendDoorEvent(cachestore.EventUnlock, "unlocked persistently by "+res.DisplayName)
		s.logger.Report("unlocked persistently by "+res.DisplayName, nil)
	case swipe.ActionToggledLock:
		s.door.SetPersistentUnlocked(false)
		s.metrics.SetDoorUnlockedPersistent(false)
		s.appendDoorEvent(cachestore.EventLock, "locked by "+res.DisplayName)
		s.logger.Report("locked by "+res.DisplayName, nil)
	}
}

// watchDoorSensor is the edge-watching loop for the optional active-low
// door-open sensor (spec.md §4.7: door-sensor transitions "feed
// directly into DoorIO and the local log; they bypass the swipe
// machine"), shaped like readers.WiegandReader.watchPin.
func (s *Supervisor) watchDoorSensor(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			if !s.doorSensor.WaitForEdge(time.Second) {
				continue
			}
			if s.doorSensor.Read() == gpio.Low {
				s.appendDoorEvent(cachestore.EventDoorOpened, "door sensor transitioned open")
			} else {
				s.appendDoorEvent(cachestore.EventDoorClosed, "door sensor transitioned closed")
			}
		}
	}
}

// watchRex is the edge-watching loop for the optional request-to-exit
// button: a press unlocks the door directly, bypassing the swipe
// machine entirely (spec.md §4.7).
func (s *Supervisor) watchRex(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			if !s.rex.WaitForEdge(time.Second) {
				continue
			}
			if s.rex.Read() != gpio.Low {
				continue
			}
			s.door.UnlockBriefly()
			s.appendDoorEvent(cachestore.EventRexActivated, "request-to-exit button pressed")
		}
	}
}

// appendDoorEvent writes one entry to the zone's door-event ring,
// warning (not failing) on a corrupt or unwritable log file.
func (s *Supervisor) appendDoorEvent(eventType cachestore.DoorEventType, details string) {
	entry := cachestore.DoorEventEntry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().Format(time.RFC3339),
		EventType: eventType,
		Details:   details,
		Zone:      s.cfg.Zone,
	}
	if err := s.cache.AppendDoorEvent(entry); err != nil {
		s.logger.Warnf("supervisor: append door event: %v", err)
	}
}

// GetLocalIP dials a well-known address over UDP (no packets are
// actually sent for a connected UDP socket) and reads back the local
// endpoint the kernel chose for that route — the simplest portable way
// to learn this host's outbound-facing address without assuming any
// particular interface name.
func GetLocalIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", fmt.Errorf("supervisor: get local ip: %w", err)
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", fmt.Errorf("supervisor: unexpected local addr type %T", conn.LocalAddr())
	}
	return addr.IP.String(), nil
}
