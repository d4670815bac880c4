// Package usecase contains application business logic.
package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/kvmtray/internal/domain"
)

// ControllerConfig holds controller timing.
type ControllerConfig struct {
	// TickInterval is the liveness/display poll period.
	TickInterval time.Duration

	// ObserverTimeout bounds lock-state queries at startup and when an
	// override elapses.
	ObserverTimeout time.Duration

	// TickQueryTimeout bounds the lock-state query made on each tick.
	// Zero means a quarter of TickInterval.
	TickQueryTimeout time.Duration
}

// DefaultControllerConfig returns production timing.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		TickInterval:     time.Second,
		ObserverTimeout:  2 * time.Second,
		TickQueryTimeout: 200 * time.Millisecond,
	}
}

// StatusListener is called on the loop goroutine whenever the published
// Status changes. It must not call back into the controller synchronously.
type StatusListener func(domain.Status)

type requestKind int

const (
	reqStart requestKind = iota
	reqStop
	reqToggle
	reqArmTimer
	reqSetRole
	reqSetFollow
	reqSetUnlockCommand
	reqQuit
)

func (k requestKind) String() string {
	return [...]string{"start", "stop", "toggle", "arm-timer", "set-role", "set-follow", "set-unlock-command", "quit"}[k]
}

type request struct {
	kind     requestKind
	duration time.Duration
	role     domain.Role
	follow   bool
	command  string
	reply    chan error
}

type pendingOverride struct {
	deadline   time.Time
	generation uint64
	timer      *time.Timer
}

// LifecycleController decides whether the managed KVM daemon should run.
// All transitions happen on the goroutine running Run; public methods post
// a request and wait for it to be applied.
type LifecycleController struct {
	backend   domain.BackendConfig
	store     domain.ModeStore
	factory   domain.ManagedProcessFactory
	observer  domain.IdleObserver
	inhibitor domain.ScreensaverInhibitor
	unlocker  domain.RemoteUnlocker
	logger    *zap.Logger
	config    ControllerConfig

	requests      chan request
	overrideFired chan uint64
	done          chan struct{}
	started       atomic.Bool

	// Owned by the loop goroutine.
	mode       domain.Mode
	state      domain.RunState
	proc       *domain.ManagedProcess
	hold       bool
	override   *pendingOverride
	generation uint64
	observerOK bool
	inhibited  bool

	mu        sync.RWMutex
	status    domain.Status
	listeners []StatusListener
}

// NewLifecycleController creates a controller for one backend.
// Observer, inhibitor and unlocker are optional; see the With* methods.
func NewLifecycleController(
	backend domain.BackendConfig,
	store domain.ModeStore,
	factory domain.ManagedProcessFactory,
	logger *zap.Logger,
) *LifecycleController {
	return &LifecycleController{
		backend:       backend,
		store:         store,
		factory:       factory,
		logger:        logger,
		config:        DefaultControllerConfig(),
		requests:      make(chan request),
		overrideFired: make(chan uint64),
		done:          make(chan struct{}),
		status: domain.Status{
			Backend:  backend.ID,
			RunState: domain.StateStopped.String(),
			Display:  domain.DisplayInactive.String(),
		},
	}
}

// WithObserver sets the lock state source.
func (c *LifecycleController) WithObserver(o domain.IdleObserver) *LifecycleController {
	c.observer = o
	return c
}

// WithInhibitor sets the local screensaver inhibitor used while a client is Active.
func (c *LifecycleController) WithInhibitor(i domain.ScreensaverInhibitor) *LifecycleController {
	c.inhibitor = i
	return c
}

// WithUnlocker sets the runner for the remote unlock command.
func (c *LifecycleController) WithUnlocker(u domain.RemoteUnlocker) *LifecycleController {
	c.unlocker = u
	return c
}

// WithConfig overrides timing.
func (c *LifecycleController) WithConfig(cfg ControllerConfig) *LifecycleController {
	c.config = cfg
	return c
}

// OnDisplayChange registers a listener for Status changes.
func (c *LifecycleController) OnDisplayChange(l StatusListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Done is closed once Run has returned and the managed process is stopped.
func (c *LifecycleController) Done() <-chan struct{} {
	return c.done
}

// Run executes the startup sequence and then serves events until ctx is
// done or Quit is called. The managed process is always stopped before Run
// returns, including when a handler panics.
func (c *LifecycleController) Run(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("controller already running")
	}
	defer close(c.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.shutdown()

	mode, err := c.store.Load()
	if err != nil {
		c.logger.Debug("using default mode", zap.String("path", c.store.Path()), zap.Error(err))
	}
	c.mode = mode

	proc, err := c.factory.New(mode.Role)
	if err != nil {
		return err
	}
	c.proc = proc

	lockEvents := c.subscribe(ctx)

	c.logger.Info("controller started",
		zap.String("backend", c.backend.ID),
		zap.String("role", string(c.mode.Role)),
		zap.Bool("follow_screensaver", c.mode.FollowScreensaver))

	c.evaluateIdle(ctx)
	c.refresh(ctx)

	ticker := time.NewTicker(c.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("controller context done", zap.Error(ctx.Err()))
			return nil

		case req := <-c.requests:
			err := c.handle(ctx, req)
			if req.kind == reqQuit {
				c.shutdown()
				req.reply <- nil
				return nil
			}
			// Status reflects the request before the caller is released.
			c.refresh(ctx)
			req.reply <- err
			continue

		case gen := <-c.overrideFired:
			c.handleOverride(ctx, gen)

		case ev, ok := <-lockEvents:
			if !ok {
				c.logger.Warn("idle observer stream ended, following screensaver disabled")
				lockEvents = nil
				c.observerOK = false
				continue
			}
			c.handleLockEvent(ctx, ev)

		case <-ticker.C:
			c.tick(ctx)
		}

		c.refresh(ctx)
	}
}

// Start cancels any pending override and starts the managed process.
// A spawn failure wraps domain.ErrSpawnFailure and leaves the state Stopped.
func (c *LifecycleController) Start(ctx context.Context) error {
	return c.send(ctx, request{kind: reqStart})
}

// Stop cancels any pending override and stops the managed process.
// When Stop returns the process has been reaped.
func (c *LifecycleController) Stop(ctx context.Context) error {
	return c.send(ctx, request{kind: reqStop})
}

// Toggle stops a running process or starts a stopped one.
func (c *LifecycleController) Toggle(ctx context.Context) error {
	return c.send(ctx, request{kind: reqToggle})
}

// ArmTimer stops the process now and re-runs idle evaluation after d,
// replacing any earlier pending override.
func (c *LifecycleController) ArmTimer(ctx context.Context, d time.Duration) error {
	return c.send(ctx, request{kind: reqArmTimer, duration: d})
}

// SetRole switches to role, restarting the process in the new role if it was running.
func (c *LifecycleController) SetRole(ctx context.Context, role domain.Role) error {
	return c.send(ctx, request{kind: reqSetRole, role: role})
}

// SetFollowScreensaver persists the preference; the next tick reconciles.
func (c *LifecycleController) SetFollowScreensaver(ctx context.Context, follow bool) error {
	return c.send(ctx, request{kind: reqSetFollow, follow: follow})
}

// SetRemoteUnlockCommand persists the command run on unlock in server role.
func (c *LifecycleController) SetRemoteUnlockCommand(ctx context.Context, command string) error {
	return c.send(ctx, request{kind: reqSetUnlockCommand, command: command})
}

// Quit stops the managed process and ends Run.
func (c *LifecycleController) Quit(ctx context.Context) error {
	return c.send(ctx, request{kind: reqQuit})
}

// CurrentDisplayState returns the last derived display state.
func (c *LifecycleController) CurrentDisplayState() domain.DisplayState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch c.status.Display {
	case domain.DisplayActive.String():
		return domain.DisplayActive
	case domain.DisplayIdle.String():
		return domain.DisplayIdle
	default:
		return domain.DisplayInactive
	}
}

// Status returns the last published snapshot.
func (c *LifecycleController) Status() domain.Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *LifecycleController) send(ctx context.Context, req request) error {
	req.reply = make(chan error, 1)

	select {
	case c.requests <- req:
	case <-c.done:
		return domain.ErrControllerStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.reply:
		return err
	case <-c.done:
		select {
		case err := <-req.reply:
			return err
		default:
			return domain.ErrControllerStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *LifecycleController) handle(ctx context.Context, req request) error {
	c.logger.Debug("request", zap.Stringer("kind", req.kind))

	switch req.kind {
	case reqStart:
		c.cancelOverride()
		c.hold = false
		return c.startProcess()

	case reqStop:
		c.cancelOverride()
		c.hold = true
		c.stopProcess()
		return nil

	case reqToggle:
		if c.proc.Supervisor.IsRunning() {
			c.cancelOverride()
			c.hold = true
			c.stopProcess()
			return nil
		}
		c.cancelOverride()
		c.hold = false
		return c.startProcess()

	case reqArmTimer:
		c.stopProcess()
		c.armOverride(req.duration)
		return nil

	case reqSetRole:
		return c.switchRole(req.role)

	case reqSetFollow:
		c.mode.FollowScreensaver = req.follow
		if req.follow && !c.observerOK {
			c.logger.Warn("follow screensaver enabled but no idle observer is available")
		}
		return c.saveMode()

	case reqSetUnlockCommand:
		c.mode.RemoteUnlockCommand = req.command
		return c.saveMode()

	case reqQuit:
		c.logger.Info("quit requested")
		return nil
	}
	return nil
}

func (c *LifecycleController) subscribe(ctx context.Context) <-chan domain.LockEvent {
	if c.observer == nil {
		c.logger.Info("no idle observer, screensaver following disabled")
		return nil
	}
	events, err := c.observer.Subscribe(ctx)
	if err != nil {
		c.logger.Warn("idle observer unavailable, falling back to manual control", zap.Error(err))
		return nil
	}
	c.observerOK = true
	return events
}

// following reports whether lock state should drive the process.
func (c *LifecycleController) following() bool {
	return c.mode.FollowScreensaver && c.observerOK
}

func (c *LifecycleController) locked(ctx context.Context, timeout time.Duration) (bool, error) {
	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.observer.Locked(qctx)
}

// tickQueryTimeout keeps the per-tick query short so requests are not held up.
func (c *LifecycleController) tickQueryTimeout() time.Duration {
	if c.config.TickQueryTimeout > 0 {
		return c.config.TickQueryTimeout
	}
	return c.config.TickInterval / 4
}

// evaluateIdle runs at startup and when an override elapses.
func (c *LifecycleController) evaluateIdle(ctx context.Context) {
	c.hold = false

	if !c.following() {
		_ = c.startProcess()
		return
	}

	locked, err := c.locked(ctx, c.config.ObserverTimeout)
	if err != nil {
		c.logger.Warn("lock state query failed, assuming unlocked", zap.Error(err))
		locked = false
	}
	if locked {
		c.stopProcess()
		return
	}
	_ = c.startProcess()
}

func (c *LifecycleController) handleLockEvent(ctx context.Context, ev domain.LockEvent) {
	if !c.following() {
		c.logger.Debug("ignoring lock event", zap.Stringer("event", ev))
		return
	}

	c.logger.Info("lock event", zap.Stringer("event", ev))

	switch ev {
	case domain.EventLocked:
		c.stopProcess()

	case domain.EventUnlocked:
		c.hold = false
		// A pending override still elapses; its evaluation then finds the process running.
		_ = c.startProcess()
		if c.mode.Role == domain.RoleServer {
			c.fireRemoteUnlock()
		}
	}
}

func (c *LifecycleController) fireRemoteUnlock() {
	if c.unlocker == nil || c.mode.RemoteUnlockCommand == "" {
		return
	}
	if err := c.unlocker.Fire(c.mode.RemoteUnlockCommand); err != nil {
		c.logger.Warn("remote unlock failed", zap.Error(err))
	}
}

func (c *LifecycleController) tick(ctx context.Context) {
	if c.override != nil {
		return
	}

	if c.following() {
		locked, err := c.locked(ctx, c.tickQueryTimeout())
		if err != nil {
			c.logger.Debug("lock state query failed", zap.Error(err))
		} else if locked && c.state == domain.StateRunning {
			c.logger.Info("session locked while running, stopping")
			c.stopProcess()
			return
		} else if !locked && c.state == domain.StateStopped && !c.hold {
			c.logger.Info("session unlocked while stopped, starting")
			_ = c.startProcess()
			return
		}
	}

	if c.state == domain.StateRunning && !c.proc.Supervisor.IsRunning() {
		c.logger.Warn("managed process exited unexpectedly, restarting",
			zap.String("executable", c.proc.Spec.Executable))
		_ = c.startProcess()
	}
}

func (c *LifecycleController) armOverride(d time.Duration) {
	c.cancelOverride()

	c.generation++
	gen := c.generation
	c.override = &pendingOverride{
		deadline:   time.Now().Add(d),
		generation: gen,
		timer: time.AfterFunc(d, func() {
			select {
			case c.overrideFired <- gen:
			case <-c.done:
			}
		}),
	}
	c.logger.Info("override armed", zap.Duration("duration", d), zap.Uint64("generation", gen))
}

func (c *LifecycleController) cancelOverride() {
	if c.override == nil {
		return
	}
	c.override.timer.Stop()
	c.logger.Debug("override cancelled", zap.Uint64("generation", c.override.generation))
	c.override = nil
}

func (c *LifecycleController) handleOverride(ctx context.Context, gen uint64) {
	if c.override == nil || c.override.generation != gen {
		c.logger.Debug("discarding stale override", zap.Uint64("generation", gen))
		return
	}
	c.override = nil
	c.logger.Info("override elapsed", zap.Uint64("generation", gen))
	c.evaluateIdle(ctx)
}

func (c *LifecycleController) switchRole(role domain.Role) error {
	if _, err := domain.ParseRole(string(role)); err != nil {
		return err
	}
	if role == c.mode.Role {
		return nil
	}

	next, err := c.factory.New(role)
	if err != nil {
		return err
	}

	wasRunning := c.state == domain.StateRunning
	c.mode.Role = role
	saveErr := c.saveMode()

	c.proc.Supervisor.Stop()
	c.state = domain.StateStopped
	c.proc = next

	c.logger.Info("role switched", zap.String("role", string(role)), zap.Bool("restart", wasRunning))

	if wasRunning {
		if err := c.startProcess(); err != nil {
			return err
		}
	}
	return saveErr
}

func (c *LifecycleController) saveMode() error {
	if err := c.store.Save(c.mode); err != nil {
		c.logger.Warn("failed to save mode", zap.String("path", c.store.Path()), zap.Error(err))
		return err
	}
	return nil
}

func (c *LifecycleController) startProcess() error {
	if err := c.proc.Supervisor.Start(c.proc.Spec); err != nil {
		c.logger.Error("failed to start managed process",
			zap.String("executable", c.proc.Spec.Executable),
			zap.Error(err))
		c.state = domain.StateStopped
		return err
	}
	c.state = domain.StateRunning
	return nil
}

func (c *LifecycleController) stopProcess() {
	c.proc.Supervisor.Stop()
	c.state = domain.StateStopped
}

// displayState derives what the icon shows.
func (c *LifecycleController) displayState() domain.DisplayState {
	if c.proc == nil || !c.proc.Supervisor.IsRunning() {
		return domain.DisplayInactive
	}
	if c.proc.Classifier.Classify() == domain.ClassConnected {
		return domain.DisplayActive
	}
	return domain.DisplayIdle
}

// refresh recomputes the Status and notifies listeners if it changed.
func (c *LifecycleController) refresh(ctx context.Context) {
	display := c.displayState()
	c.updateInhibitor(ctx, display)

	next := domain.Status{
		Backend:           c.backend.ID,
		Role:              c.mode.Role,
		RunState:          c.state.String(),
		Display:           display.String(),
		FollowScreensaver: c.mode.FollowScreensaver,
		Label:             c.backend.Label(c.mode.Role, display),
		Icon:              c.backend.Icon(display),
	}
	if c.proc != nil {
		next.PID = c.proc.Supervisor.PID()
	}
	if c.override != nil {
		deadline := c.override.deadline
		next.OverrideDeadline = &deadline
	}

	c.mu.Lock()
	if sameStatus(c.status, next) {
		c.mu.Unlock()
		return
	}
	next.UpdatedAt = time.Now()
	c.status = next
	listeners := make([]StatusListener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	c.logger.Debug("status changed",
		zap.String("display", next.Display),
		zap.String("run_state", next.RunState),
		zap.Int("pid", next.PID))

	for _, l := range listeners {
		l(next)
	}
}

// updateInhibitor keeps the local session awake while this machine is an
// Active client, since its own input arrives over the network.
func (c *LifecycleController) updateInhibitor(ctx context.Context, display domain.DisplayState) {
	if c.inhibitor == nil {
		return
	}
	want := c.mode.Role == domain.RoleClient && display == domain.DisplayActive
	if want == c.inhibited {
		return
	}

	qctx, cancel := context.WithTimeout(ctx, c.config.ObserverTimeout)
	defer cancel()

	var err error
	if want {
		err = c.inhibitor.Inhibit(qctx, c.backend.Name+" client connected")
	} else {
		err = c.inhibitor.Release(qctx)
	}
	if err != nil {
		c.logger.Warn("screensaver inhibitor failed", zap.Bool("inhibit", want), zap.Error(err))
		return
	}
	c.inhibited = want
}

// shutdown stops the managed process. Safe to call more than once.
func (c *LifecycleController) shutdown() {
	c.cancelOverride()
	if c.proc != nil {
		c.stopProcess()
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.config.ObserverTimeout)
	defer cancel()
	c.refresh(ctx)
}

func sameStatus(a, b domain.Status) bool {
	if (a.OverrideDeadline == nil) != (b.OverrideDeadline == nil) {
		return false
	}
	if a.OverrideDeadline != nil && !a.OverrideDeadline.Equal(*b.OverrideDeadline) {
		return false
	}
	return a.Backend == b.Backend &&
		a.Role == b.Role &&
		a.RunState == b.RunState &&
		a.Display == b.Display &&
		a.FollowScreensaver == b.FollowScreensaver &&
		a.Label == b.Label &&
		a.Icon == b.Icon &&
		a.PID == b.PID
}
