package device

import (
	"sync"
	"time"

	"github.com/moolticute/go-mooltipass/logging"
	"github.com/moolticute/go-mooltipass/memdb"
	"github.com/moolticute/go-mooltipass/protocol"
)

// Device is the protocol engine driving one password manager device through
// an injected Transport.
//
// All engine state lives on a single goroutine: inbound frames, the status
// timer and every public call are funneled through one event channel, so no
// locks guard the command queue, the job queue or the memory management
// session. Only the observable snapshot (status, version, parameters) is
// independently readable.
//
// There is no command timeout: the device is trusted to reply, its own
// watchdogs guarantee liveness. A missing reply stalls the pipeline.
type Device struct {
	tr  Transport
	cfg Config
	log logging.Logger

	events chan func()
	closed chan struct{}
	once   sync.Once

	cmdQueue   []*command
	jobQueue   []*Job
	currentJob *Job

	session *memdb.Store

	paramRetries    int
	dateRetries     int
	changeNbRetries int

	obs observable
}

// observable is the independently readable snapshot of device state.
type observable struct {
	mu sync.RWMutex

	status    protocol.DeviceStatus
	flashMb   int
	hwVersion string
	isFw12    bool
	isMini    bool
	serial    uint32
	memMgmt   bool

	credChangeNb int
	dataChangeNb int

	params map[protocol.Param]int
}

// New creates the engine on the given transport and starts its event loop.
//
// Example:
//
//	tr := emulator.New()
//	dev := device.New(tr,
//	    device.WithLogger(logging.NewDevelopmentLogger()),
//	)
//	defer dev.Close()
func New(tr Transport, opts ...Option) *Device {
	if tr == nil {
		panic("transport cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	d := &Device{
		tr:     tr,
		cfg:    cfg,
		log:    cfg.Logger,
		events: make(chan func(), cfg.EventQueueSize),
		closed: make(chan struct{}),
	}
	d.obs.status = protocol.StatusUnknown
	d.obs.params = map[protocol.Param]int{}

	tr.SetFrameHandler(d.handleFrame)

	go d.run()
	return d
}

// Close stops the engine. Pending callbacks are dropped.
func (d *Device) Close() {
	d.once.Do(func() { close(d.closed) })
}

// post schedules fn on the engine goroutine.
func (d *Device) post(fn func()) {
	select {
	case d.events <- fn:
	case <-d.closed:
	}
}

func (d *Device) handleFrame(frame Frame) {
	d.post(func() { d.onFrame(frame[:]) })
}

func (d *Device) run() {
	var tick <-chan time.Time
	if d.cfg.StatusPollInterval > 0 {
		ticker := time.NewTicker(d.cfg.StatusPollInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case fn := <-d.events:
			fn()
		case <-tick:
			d.pollStatus()
		case <-d.closed:
			return
		}
	}
}

// Status returns the last observed device status.
func (d *Device) Status() protocol.DeviceStatus {
	d.obs.mu.RLock()
	defer d.obs.mu.RUnlock()
	return d.obs.status
}

// HwVersion returns the firmware version string reported by the device.
func (d *Device) HwVersion() string {
	d.obs.mu.RLock()
	defer d.obs.mu.RUnlock()
	return d.obs.hwVersion
}

// FlashMb returns the flash size in megabits.
func (d *Device) FlashMb() int {
	d.obs.mu.RLock()
	defer d.obs.mu.RUnlock()
	return d.obs.flashMb
}

// IsFw12 reports whether the firmware is v1.2 or later.
func (d *Device) IsFw12() bool {
	d.obs.mu.RLock()
	defer d.obs.mu.RUnlock()
	return d.obs.isFw12
}

// IsMini reports whether the device is a Mini.
func (d *Device) IsMini() bool {
	d.obs.mu.RLock()
	defer d.obs.mu.RUnlock()
	return d.obs.isMini
}

// Serial returns the device serial number (Mini, firmware v1.2+).
func (d *Device) Serial() uint32 {
	d.obs.mu.RLock()
	defer d.obs.mu.RUnlock()
	return d.obs.serial
}

// InMemMgmt reports whether a memory management session is active.
func (d *Device) InMemMgmt() bool {
	d.obs.mu.RLock()
	defer d.obs.mu.RUnlock()
	return d.obs.memMgmt
}

// ChangeNumbers returns the credentials and data database change counters.
func (d *Device) ChangeNumbers() (cred, data int) {
	d.obs.mu.RLock()
	defer d.obs.mu.RUnlock()
	return d.obs.credChangeNb, d.obs.dataChangeNb
}

// Param returns the last observed raw value of a device parameter.
func (d *Device) Param(p protocol.Param) (int, bool) {
	d.obs.mu.RLock()
	defer d.obs.mu.RUnlock()
	v, ok := d.obs.params[p]
	return v, ok
}

// KnockSensitivity returns the observed knock sensitivity level.
func (d *Device) KnockSensitivity() protocol.KnockSensitivity {
	raw, _ := d.Param(protocol.ParamMiniKnockThreshold)
	return protocol.KnockSensitivityFromRaw(byte(raw))
}

func (d *Device) setObservable(fn func(*observable)) {
	d.obs.mu.Lock()
	defer d.obs.mu.Unlock()
	fn(&d.obs)
}

func (d *Device) setParam(p protocol.Param, v int) {
	d.setObservable(func(o *observable) { o.params[p] = v })
}

// JobsQueueBusy reports whether a job is currently running.
func (d *Device) JobsQueueBusy() bool {
	busy := make(chan bool, 1)
	d.post(func() { busy <- d.currentJob != nil })
	select {
	case b := <-busy:
		return b
	case <-d.closed:
		return false
	}
}
