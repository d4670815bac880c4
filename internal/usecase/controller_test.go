package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/kvmtray/internal/domain"
)

const (
	waitFor = 2 * time.Second
	pollMs  = 5 * time.Millisecond
)

// fakeSupervisor implements domain.ProcessSupervisor for testing
type fakeSupervisor struct {
	mu       sync.Mutex
	running  bool
	spawns   int
	stops    int
	startErr error
	pid      int
	factory  *fakeFactory
}

func (s *fakeSupervisor) Start(spec domain.LaunchSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	if s.running {
		return nil
	}
	s.running = true
	s.spawns++
	s.factory.spawned()
	return nil
}

func (s *fakeSupervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	s.stops++
	s.factory.reaped()
}

func (s *fakeSupervisor) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *fakeSupervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return 0
	}
	return s.pid
}

// crash simulates the child exiting on its own.
func (s *fakeSupervisor) crash() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.running = false
		s.factory.reaped()
	}
}

func (s *fakeSupervisor) counts() (spawns, stops int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spawns, s.stops
}

func (s *fakeSupervisor) setStartErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startErr = err
}

// fakeClassifier implements domain.ConnectionClassifier for testing
type fakeClassifier struct {
	result atomic.Int32
}

func (c *fakeClassifier) Classify() domain.Classification {
	return domain.Classification(c.result.Load())
}

func (c *fakeClassifier) set(cl domain.Classification) {
	c.result.Store(int32(cl))
}

// fakeFactory implements domain.ManagedProcessFactory for testing
type fakeFactory struct {
	mu       sync.Mutex
	built    []*domain.ManagedProcess
	live     int
	maxLive  int
	startErr error
	newErr   error
	nextPID  int
}

func (f *fakeFactory) New(role domain.Role) (*domain.ManagedProcess, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.newErr != nil {
		return nil, f.newErr
	}
	f.nextPID++
	mp := &domain.ManagedProcess{
		Role: role,
		Spec: domain.LaunchSpec{
			Executable: "/usr/bin/kvm-" + string(role),
			LogPath:    "/tmp/kvm-" + string(role) + ".log",
		},
		Supervisor: &fakeSupervisor{factory: f, startErr: f.startErr, pid: 1000 + f.nextPID},
		Classifier: &fakeClassifier{},
	}
	f.built = append(f.built, mp)
	return mp, nil
}

func (f *fakeFactory) spawned() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.live++
	if f.live > f.maxLive {
		f.maxLive = f.live
	}
}

func (f *fakeFactory) reaped() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.live--
}

func (f *fakeFactory) current() *domain.ManagedProcess {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.built) == 0 {
		return nil
	}
	return f.built[len(f.built)-1]
}

func (f *fakeFactory) sup() *fakeSupervisor {
	mp := f.current()
	if mp == nil {
		return nil
	}
	return mp.Supervisor.(*fakeSupervisor)
}

func (f *fakeFactory) classifier() *fakeClassifier {
	return f.current().Classifier.(*fakeClassifier)
}

func (f *fakeFactory) liveCounts() (live, maxLive int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live, f.maxLive
}

// fakeModeStore implements domain.ModeStore for testing
type fakeModeStore struct {
	mu      sync.Mutex
	mode    *domain.Mode
	saves   []domain.Mode
	saveErr error
}

func (s *fakeModeStore) Load() (domain.Mode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == nil {
		return domain.DefaultMode(), fmt.Errorf("%w: no such file", domain.ErrConfigLoad)
	}
	return *s.mode, nil
}

func (s *fakeModeStore) Save(mode domain.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	m := mode
	s.mode = &m
	s.saves = append(s.saves, mode)
	return nil
}

func (s *fakeModeStore) Path() string {
	return "/tmp/kvmtray-test.json"
}

func (s *fakeModeStore) saved() (domain.Mode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.saves) == 0 {
		return domain.Mode{}, false
	}
	return s.saves[len(s.saves)-1], true
}

// fakeObserver implements domain.IdleObserver for testing
type fakeObserver struct {
	mu        sync.Mutex
	locked    bool
	lockedErr error
	block     bool
	subErr    error
	events    chan domain.LockEvent
}

func newFakeObserver() *fakeObserver {
	return &fakeObserver{events: make(chan domain.LockEvent, 8)}
}

func (o *fakeObserver) Locked(ctx context.Context) (bool, error) {
	o.mu.Lock()
	block := o.block
	locked, err := o.locked, o.lockedErr
	o.mu.Unlock()

	// A hung bus answers only when the caller gives up
	if block {
		<-ctx.Done()
		return false, ctx.Err()
	}
	return locked, err
}

func (o *fakeObserver) setBlock(block bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.block = block
}

func (o *fakeObserver) Subscribe(ctx context.Context) (<-chan domain.LockEvent, error) {
	if o.subErr != nil {
		return nil, o.subErr
	}
	return o.events, nil
}

// emit changes the lock state and optionally delivers the signal.
func (o *fakeObserver) emit(locked bool, deliver bool) {
	o.mu.Lock()
	o.locked = locked
	o.mu.Unlock()
	if !deliver {
		return
	}
	if locked {
		o.events <- domain.EventLocked
	} else {
		o.events <- domain.EventUnlocked
	}
}

// fakeInhibitor implements domain.ScreensaverInhibitor for testing
type fakeInhibitor struct {
	held atomic.Bool
}

func (i *fakeInhibitor) Inhibit(ctx context.Context, reason string) error {
	i.held.Store(true)
	return nil
}

func (i *fakeInhibitor) Release(ctx context.Context) error {
	i.held.Store(false)
	return nil
}

// fakeUnlocker implements domain.RemoteUnlocker for testing
type fakeUnlocker struct {
	mu    sync.Mutex
	fired []string
}

func (u *fakeUnlocker) Fire(command string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.fired = append(u.fired, command)
	return nil
}

func (u *fakeUnlocker) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.fired)
}

var testBackend = domain.BackendConfig{ID: "deskflow", Name: "Deskflow"}

type harness struct {
	ctrl     *LifecycleController
	factory  *fakeFactory
	store    *fakeModeStore
	observer *fakeObserver
	cancel   context.CancelFunc
	runErr   chan error
}

func testConfig() ControllerConfig {
	return ControllerConfig{
		TickInterval:     10 * time.Millisecond,
		ObserverTimeout:  100 * time.Millisecond,
		TickQueryTimeout: 50 * time.Millisecond,
	}
}

// startHarness runs a controller and waits until its managed process is built.
func startHarness(t *testing.T, mode *domain.Mode, observer *fakeObserver, opts ...func(*LifecycleController)) *harness {
	t.Helper()

	h := &harness{
		factory:  &fakeFactory{},
		store:    &fakeModeStore{mode: mode},
		observer: observer,
		runErr:   make(chan error, 1),
	}
	h.ctrl = NewLifecycleController(testBackend, h.store, h.factory, zap.NewNop()).WithConfig(testConfig())
	if observer != nil {
		h.ctrl.WithObserver(observer)
	}
	for _, opt := range opts {
		opt(h.ctrl)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.runErr <- h.ctrl.Run(ctx) }()

	require.Eventually(t, func() bool { return h.factory.current() != nil }, waitFor, pollMs)
	t.Cleanup(func() {
		cancel()
		<-h.ctrl.Done()
	})
	return h
}

func (h *harness) running() bool {
	return h.factory.sup().IsRunning()
}

func modeOf(role domain.Role, follow bool) *domain.Mode {
	return &domain.Mode{Role: role, FollowScreensaver: follow}
}

func TestController_FreshInstallDefaultsAndStarts(t *testing.T) {
	h := startHarness(t, nil, nil)

	assert.Eventually(t, h.running, waitFor, pollMs)
	assert.Equal(t, domain.RoleClient, h.factory.current().Role)

	assert.Eventually(t, func() bool {
		s := h.ctrl.Status()
		return s.Role == domain.RoleClient && !s.FollowScreensaver && s.RunState == "running"
	}, waitFor, pollMs)
}

func TestController_StopIsSynchronous(t *testing.T) {
	h := startHarness(t, modeOf(domain.RoleClient, false), nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, h.ctrl.Start(ctx))
		assert.True(t, h.running())
		require.NoError(t, h.ctrl.Stop(ctx))
		assert.False(t, h.running(), "running right after Stop returned (iteration %d)", i)
	}
}

func TestController_StartIsIdempotent(t *testing.T) {
	h := startHarness(t, modeOf(domain.RoleClient, false), nil)
	ctx := context.Background()

	require.NoError(t, h.ctrl.Start(ctx))
	require.NoError(t, h.ctrl.Start(ctx))
	require.NoError(t, h.ctrl.Start(ctx))

	spawns, _ := h.factory.sup().counts()
	assert.Equal(t, 1, spawns)
	_, maxLive := h.factory.liveCounts()
	assert.Equal(t, 1, maxLive)
}

func TestController_StopHeldAgainstTick(t *testing.T) {
	obs := newFakeObserver()
	h := startHarness(t, modeOf(domain.RoleClient, true), obs)
	ctx := context.Background()

	require.Eventually(t, h.running, waitFor, pollMs)
	require.NoError(t, h.ctrl.Stop(ctx))

	// Several ticks with an unlocked session must not undo a user stop.
	time.Sleep(100 * time.Millisecond)
	assert.False(t, h.running())
}

func TestController_ToggleFlips(t *testing.T) {
	h := startHarness(t, modeOf(domain.RoleClient, false), nil)
	ctx := context.Background()

	require.Eventually(t, h.running, waitFor, pollMs)
	require.NoError(t, h.ctrl.Toggle(ctx))
	assert.False(t, h.running())
	require.NoError(t, h.ctrl.Toggle(ctx))
	assert.True(t, h.running())
}

func TestController_RoleSwitchWhileRunning(t *testing.T) {
	h := startHarness(t, modeOf(domain.RoleClient, false), nil)
	ctx := context.Background()

	require.Eventually(t, h.running, waitFor, pollMs)
	oldSup := h.factory.sup()

	require.NoError(t, h.ctrl.SetRole(ctx, domain.RoleServer))

	assert.False(t, oldSup.IsRunning(), "old role process must be reaped")
	assert.Equal(t, domain.RoleServer, h.factory.current().Role)
	assert.True(t, h.running())

	live, maxLive := h.factory.liveCounts()
	assert.Equal(t, 1, live)
	assert.Equal(t, 1, maxLive, "two processes were live at once")

	saved, ok := h.store.saved()
	require.True(t, ok)
	assert.Equal(t, domain.RoleServer, saved.Role)
}

func TestController_RoleSwitchWhileStopped(t *testing.T) {
	h := startHarness(t, modeOf(domain.RoleServer, false), nil)
	ctx := context.Background()

	require.NoError(t, h.ctrl.Stop(ctx))
	require.NoError(t, h.ctrl.SetRole(ctx, domain.RoleClient))

	assert.Equal(t, domain.RoleClient, h.factory.current().Role)
	assert.False(t, h.running())
}

func TestController_RoleSwitchSameRoleIsNoop(t *testing.T) {
	h := startHarness(t, modeOf(domain.RoleServer, false), nil)

	before := h.factory.current()
	require.NoError(t, h.ctrl.SetRole(context.Background(), domain.RoleServer))
	assert.Same(t, before, h.factory.current())
	_, ok := h.store.saved()
	assert.False(t, ok)
}

func TestController_RoleSwitchRejectsInvalidRole(t *testing.T) {
	h := startHarness(t, modeOf(domain.RoleServer, false), nil)
	err := h.ctrl.SetRole(context.Background(), domain.Role("peer"))
	assert.ErrorIs(t, err, domain.ErrInvalidRole)
}

func TestController_ArmTimerReplacesPendingOverride(t *testing.T) {
	h := startHarness(t, modeOf(domain.RoleClient, false), nil)
	ctx := context.Background()

	require.Eventually(t, h.running, waitFor, pollMs)

	require.NoError(t, h.ctrl.ArmTimer(ctx, 150*time.Millisecond))
	assert.False(t, h.running())
	require.NoError(t, h.ctrl.ArmTimer(ctx, 500*time.Millisecond))
	assert.False(t, h.running())

	// Past the first deadline: the cancelled override must not fire.
	time.Sleep(300 * time.Millisecond)
	assert.False(t, h.running())
	assert.NotNil(t, h.ctrl.Status().OverrideDeadline)

	require.Eventually(t, h.running, waitFor, pollMs)

	// Idle evaluation ran exactly once: initial spawn plus one restart.
	time.Sleep(200 * time.Millisecond)
	spawns, _ := h.factory.sup().counts()
	assert.Equal(t, 2, spawns)
	assert.Nil(t, h.ctrl.Status().OverrideDeadline)
}

func TestController_StopCancelsOverride(t *testing.T) {
	h := startHarness(t, modeOf(domain.RoleClient, false), nil)
	ctx := context.Background()

	require.NoError(t, h.ctrl.ArmTimer(ctx, 100*time.Millisecond))
	require.NoError(t, h.ctrl.Stop(ctx))

	// Override was cancelled by Stop, so nothing restarts the process.
	time.Sleep(250 * time.Millisecond)
	assert.False(t, h.running())
}

func TestController_PauseScenario(t *testing.T) {
	// "10 Seconds" preset, scaled down.
	h := startHarness(t, modeOf(domain.RoleClient, false), nil)
	ctx := context.Background()

	require.Eventually(t, h.running, waitFor, pollMs)
	require.NoError(t, h.ctrl.ArmTimer(ctx, 100*time.Millisecond))
	assert.False(t, h.running())
	assert.Eventually(t, h.running, waitFor, pollMs)
}

func TestController_FollowLockAndUnlock(t *testing.T) {
	obs := newFakeObserver()
	unlocker := &fakeUnlocker{}
	mode := &domain.Mode{Role: domain.RoleServer, FollowScreensaver: true, RemoteUnlockCommand: "ssh peer unlock"}
	h := startHarness(t, mode, obs, func(c *LifecycleController) { c.WithUnlocker(unlocker) })

	require.Eventually(t, h.running, waitFor, pollMs)

	obs.emit(true, true)
	assert.Eventually(t, func() bool { return !h.running() }, waitFor, pollMs)

	obs.emit(false, true)
	assert.Eventually(t, h.running, waitFor, pollMs)
	assert.Eventually(t, func() bool { return unlocker.count() == 1 }, waitFor, pollMs)
}

func TestController_FollowStartsLockedSession(t *testing.T) {
	obs := newFakeObserver()
	obs.locked = true
	h := startHarness(t, modeOf(domain.RoleClient, true), obs)

	time.Sleep(50 * time.Millisecond)
	assert.False(t, h.running())
	spawns, _ := h.factory.sup().counts()
	assert.Equal(t, 0, spawns)
}

func TestController_ClientUnlockDoesNotFireRemoteUnlock(t *testing.T) {
	obs := newFakeObserver()
	unlocker := &fakeUnlocker{}
	mode := &domain.Mode{Role: domain.RoleClient, FollowScreensaver: true, RemoteUnlockCommand: "ssh peer unlock"}
	h := startHarness(t, mode, obs, func(c *LifecycleController) { c.WithUnlocker(unlocker) })

	obs.emit(true, true)
	require.Eventually(t, func() bool { return !h.running() }, waitFor, pollMs)
	obs.emit(false, true)
	require.Eventually(t, h.running, waitFor, pollMs)
	assert.Equal(t, 0, unlocker.count())
}

func TestController_NotFollowingIgnoresLockEvents(t *testing.T) {
	obs := newFakeObserver()
	h := startHarness(t, modeOf(domain.RoleClient, false), obs)

	require.Eventually(t, h.running, waitFor, pollMs)
	obs.emit(true, true)
	time.Sleep(50 * time.Millisecond)
	assert.True(t, h.running())

	require.NoError(t, h.ctrl.Stop(context.Background()))
	obs.emit(false, true)
	time.Sleep(50 * time.Millisecond)
	assert.False(t, h.running())
}

func TestController_TickCatchesMissedLockSignals(t *testing.T) {
	obs := newFakeObserver()
	h := startHarness(t, modeOf(domain.RoleClient, true), obs)

	require.Eventually(t, h.running, waitFor, pollMs)

	obs.emit(true, false)
	assert.Eventually(t, func() bool { return !h.running() }, waitFor, pollMs)

	obs.emit(false, false)
	assert.Eventually(t, h.running, waitFor, pollMs)
}

func TestController_UnlockDuringOverrideStarts(t *testing.T) {
	obs := newFakeObserver()
	h := startHarness(t, modeOf(domain.RoleClient, true), obs)
	ctx := context.Background()

	require.Eventually(t, h.running, waitFor, pollMs)
	require.NoError(t, h.ctrl.ArmTimer(ctx, 2*time.Second))
	require.False(t, h.running())

	obs.emit(true, true)
	obs.emit(false, true)
	assert.Eventually(t, h.running, 500*time.Millisecond, pollMs)

	// The override is still pending and elapses without stopping the process
	assert.NotNil(t, h.ctrl.Status().OverrideDeadline)
}

func TestController_OverrideElapsesAfterUnlockStart(t *testing.T) {
	obs := newFakeObserver()
	h := startHarness(t, modeOf(domain.RoleClient, true), obs)
	ctx := context.Background()

	require.Eventually(t, h.running, waitFor, pollMs)
	require.NoError(t, h.ctrl.ArmTimer(ctx, 150*time.Millisecond))
	obs.emit(false, true)
	require.Eventually(t, h.running, waitFor, pollMs)

	assert.Eventually(t, func() bool { return h.ctrl.Status().OverrideDeadline == nil }, waitFor, pollMs)
	assert.True(t, h.running())
}

func TestController_HungLockQueryDoesNotStallRequests(t *testing.T) {
	obs := newFakeObserver()
	h := startHarness(t, modeOf(domain.RoleClient, true), obs, func(c *LifecycleController) {
		c.WithConfig(ControllerConfig{
			TickInterval:     20 * time.Millisecond,
			ObserverTimeout:  2 * time.Second,
			TickQueryTimeout: 20 * time.Millisecond,
		})
	})
	require.Eventually(t, h.running, waitFor, pollMs)

	obs.setBlock(true)
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	require.NoError(t, h.ctrl.Stop(context.Background()))
	assert.Less(t, time.Since(start), 300*time.Millisecond)
	assert.False(t, h.running())
}

func TestController_TickQueryTimeoutDefault(t *testing.T) {
	c := NewLifecycleController(testBackend, &fakeModeStore{}, &fakeFactory{}, zap.NewNop()).
		WithConfig(ControllerConfig{TickInterval: time.Second})
	assert.Equal(t, 250*time.Millisecond, c.tickQueryTimeout())

	c.WithConfig(DefaultControllerConfig())
	assert.Equal(t, 200*time.Millisecond, c.tickQueryTimeout())
}

func TestController_SetFollowReconcilesOnTick(t *testing.T) {
	obs := newFakeObserver()
	obs.locked = true
	h := startHarness(t, modeOf(domain.RoleClient, false), obs)

	require.Eventually(t, h.running, waitFor, pollMs)
	require.NoError(t, h.ctrl.SetFollowScreensaver(context.Background(), true))

	assert.Eventually(t, func() bool { return !h.running() }, waitFor, pollMs)
	saved, ok := h.store.saved()
	require.True(t, ok)
	assert.True(t, saved.FollowScreensaver)
}

func TestController_ObserverUnavailableDegradesToManual(t *testing.T) {
	obs := newFakeObserver()
	obs.subErr = domain.ErrObserverUnavailable
	obs.locked = true
	h := startHarness(t, modeOf(domain.RoleClient, true), obs)

	// Locked, but follow cannot apply without signals: stays under manual control.
	assert.Eventually(t, h.running, waitFor, pollMs)
	time.Sleep(50 * time.Millisecond)
	assert.True(t, h.running())
}

func TestController_LockQueryFailureAssumesUnlocked(t *testing.T) {
	obs := newFakeObserver()
	obs.lockedErr = errors.New("no reply")
	h := startHarness(t, modeOf(domain.RoleClient, true), obs)

	assert.Eventually(t, h.running, waitFor, pollMs)
}

func TestController_RestartsAfterUnexpectedExit(t *testing.T) {
	h := startHarness(t, modeOf(domain.RoleClient, false), nil)

	require.Eventually(t, h.running, waitFor, pollMs)
	h.factory.sup().crash()

	assert.Eventually(t, h.running, waitFor, pollMs)
	spawns, _ := h.factory.sup().counts()
	assert.Equal(t, 2, spawns)
}

func TestController_SpawnFailure(t *testing.T) {
	h := startHarness(t, modeOf(domain.RoleClient, false), nil)
	ctx := context.Background()

	require.NoError(t, h.ctrl.Stop(ctx))
	h.factory.sup().setStartErr(fmt.Errorf("%w: /usr/bin/kvm-client: not found", domain.ErrSpawnFailure))

	err := h.ctrl.Start(ctx)
	assert.ErrorIs(t, err, domain.ErrSpawnFailure)
	assert.Eventually(t, func() bool { return h.ctrl.Status().RunState == "stopped" }, waitFor, pollMs)
}

func TestController_SetRemoteUnlockCommandPersists(t *testing.T) {
	h := startHarness(t, modeOf(domain.RoleServer, false), nil)

	require.NoError(t, h.ctrl.SetRemoteUnlockCommand(context.Background(), "loginctl unlock-sessions"))
	saved, ok := h.store.saved()
	require.True(t, ok)
	assert.Equal(t, "loginctl unlock-sessions", saved.RemoteUnlockCommand)
	assert.Equal(t, domain.RoleServer, saved.Role)
}

func TestController_DisplayStateAndInhibitor(t *testing.T) {
	inhibitor := &fakeInhibitor{}
	var mu sync.Mutex
	var seen []string
	h := startHarness(t, modeOf(domain.RoleClient, false), nil, func(c *LifecycleController) {
		c.WithInhibitor(inhibitor)
		c.OnDisplayChange(func(s domain.Status) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, s.Display)
		})
	})

	require.Eventually(t, func() bool { return h.ctrl.CurrentDisplayState() == domain.DisplayIdle }, waitFor, pollMs)
	assert.Equal(t, "deskflow-idle", h.ctrl.Status().Icon)
	assert.False(t, inhibitor.held.Load())

	h.factory.classifier().set(domain.ClassConnected)
	require.Eventually(t, func() bool { return h.ctrl.CurrentDisplayState() == domain.DisplayActive }, waitFor, pollMs)
	assert.Equal(t, "Deskflow Client Active", h.ctrl.Status().Label)
	assert.True(t, inhibitor.held.Load())

	h.factory.classifier().set(domain.ClassDisconnected)
	require.Eventually(t, func() bool { return h.ctrl.CurrentDisplayState() == domain.DisplayIdle }, waitFor, pollMs)
	assert.False(t, inhibitor.held.Load())

	require.NoError(t, h.ctrl.Stop(context.Background()))
	assert.Equal(t, domain.DisplayInactive, h.ctrl.CurrentDisplayState())
	assert.Equal(t, "Deskflow Client Inhibited", h.ctrl.Status().Label)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, seen, "active")
	assert.Contains(t, seen, "inactive")
}

func TestController_QuitStopsProcess(t *testing.T) {
	h := startHarness(t, modeOf(domain.RoleClient, false), nil)
	ctx := context.Background()

	require.Eventually(t, h.running, waitFor, pollMs)
	require.NoError(t, h.ctrl.Quit(ctx))

	assert.False(t, h.running())
	select {
	case err := <-h.runErr:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Run did not return after Quit")
	}

	assert.ErrorIs(t, h.ctrl.Start(ctx), domain.ErrControllerStopped)
}

func TestController_ContextCancelStopsProcess(t *testing.T) {
	h := startHarness(t, modeOf(domain.RoleClient, false), nil)

	require.Eventually(t, h.running, waitFor, pollMs)
	h.cancel()
	<-h.ctrl.Done()

	assert.False(t, h.running())
	live, _ := h.factory.liveCounts()
	assert.Equal(t, 0, live)
}

func TestController_FactoryErrorEndsRun(t *testing.T) {
	factory := &fakeFactory{newErr: errors.New("bad pattern")}
	ctrl := NewLifecycleController(testBackend, &fakeModeStore{}, factory, zap.NewNop()).WithConfig(testConfig())

	err := ctrl.Run(context.Background())
	assert.EqualError(t, err, "bad pattern")
	<-ctrl.Done()
}

func TestController_RunTwice(t *testing.T) {
	h := startHarness(t, modeOf(domain.RoleClient, false), nil)
	assert.Error(t, h.ctrl.Run(context.Background()))
}

func TestController_SendHonoursContext(t *testing.T) {
	ctrl := NewLifecycleController(testBackend, &fakeModeStore{}, &fakeFactory{}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// Run was never started, so nothing picks the request up.
	assert.ErrorIs(t, ctrl.Start(ctx), context.DeadlineExceeded)
}
