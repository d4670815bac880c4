//go:build integration

package integration

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/kvmtray/internal/domain"
	"github.com/eliteGoblin/focusd/kvmtray/internal/infra"
	"github.com/eliteGoblin/focusd/kvmtray/internal/usecase"
	"github.com/eliteGoblin/focusd/kvmtray/test/fixtures"
)

// scriptedObserver stands in for the session screensaver.
type scriptedObserver struct {
	mu     sync.Mutex
	locked bool
	events chan domain.LockEvent
}

func newScriptedObserver() *scriptedObserver {
	return &scriptedObserver{events: make(chan domain.LockEvent, 4)}
}

func (o *scriptedObserver) Locked(ctx context.Context) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.locked, nil
}

func (o *scriptedObserver) Subscribe(ctx context.Context) (<-chan domain.LockEvent, error) {
	return o.events, nil
}

func (o *scriptedObserver) set(locked bool) {
	o.mu.Lock()
	o.locked = locked
	o.mu.Unlock()
	if locked {
		o.events <- domain.EventLocked
	} else {
		o.events <- domain.EventUnlocked
	}
}

var _ = Describe("LifecycleController", func() {
	var (
		tmpDir     string
		logDir     string
		fake       *fixtures.FakeDaemon
		store      *infra.FileModeStore
		observer   *scriptedObserver
		controller *usecase.LifecycleController
		cancel     context.CancelFunc
		runErr     chan error
		pm         = infra.NewProcessManager()
	)

	startController := func(lines ...string) {
		Expect(fake.Create(lines...)).To(Succeed())

		factory := infra.NewProcessFactory(fake.Backend(), logDir, pm, infra.NewFileSystemManagerWithHome(tmpDir), zap.NewNop()).
			WithStopGrace(300 * time.Millisecond)

		config := usecase.DefaultControllerConfig()
		config.TickInterval = 50 * time.Millisecond

		controller = usecase.NewLifecycleController(fake.Backend(), store, factory, zap.NewNop()).
			WithObserver(observer).
			WithConfig(config)

		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		runErr = make(chan error, 1)
		go func() { runErr <- controller.Run(ctx) }()

		Eventually(func() string { return controller.Status().RunState }, 5*time.Second).Should(Equal("running"))
	}

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "kvmtray-integration-*")
		Expect(err).NotTo(HaveOccurred())

		logDir = filepath.Join(tmpDir, "var", "log")
		fake = fixtures.NewFakeDaemon(filepath.Join(tmpDir, "bin"), "fakekvm")
		store = infra.NewFileModeStore(filepath.Join(tmpDir, "config", "fakekvm.json"))
		observer = newScriptedObserver()
	})

	AfterEach(func() {
		if cancel != nil {
			cancel()
			Eventually(runErr, 5*time.Second).Should(Receive())
		}
		os.RemoveAll(tmpDir)
	})

	Describe("startup", func() {
		Context("on a fresh install", func() {
			It("starts the client and reports the peer as connected", func() {
				startController(fixtures.ConnectedLine)

				s := controller.Status()
				Expect(s.Role).To(Equal(domain.RoleClient))
				Expect(s.PID).To(BeNumerically(">", 0))
				Eventually(func() domain.DisplayState { return controller.CurrentDisplayState() }, 5*time.Second).
					Should(Equal(domain.DisplayActive))
				Expect(filepath.Join(logDir, "fakekvm-client.log")).To(BeAnExistingFile())
			})
		})

		Context("when the log shows a disconnect", func() {
			It("reports the process as idle", func() {
				startController(fixtures.ConnectedLine, fixtures.DisconnectedLine)

				Eventually(func() bool {
					data, err := os.ReadFile(filepath.Join(logDir, "fakekvm-client.log"))
					return err == nil && len(data) > len(fixtures.ConnectedLine)+len(fixtures.DisconnectedLine)
				}, 5*time.Second).Should(BeTrue())
				Consistently(func() domain.DisplayState { return controller.CurrentDisplayState() }, 300*time.Millisecond).
					Should(Equal(domain.DisplayIdle))
			})
		})
	})

	Describe("role switch", func() {
		It("replaces the running daemon and persists the role", func() {
			startController(fixtures.ConnectedLine)
			oldPID := controller.Status().PID

			Expect(controller.SetRole(context.Background(), domain.RoleServer)).To(Succeed())

			s := controller.Status()
			Expect(s.Role).To(Equal(domain.RoleServer))
			Expect(s.RunState).To(Equal("running"))
			Expect(s.PID).NotTo(Equal(oldPID))
			Expect(pm.IsRunning(oldPID)).To(BeFalse())

			mode, err := store.Load()
			Expect(err).NotTo(HaveOccurred())
			Expect(mode.Role).To(Equal(domain.RoleServer))

			Eventually(filepath.Join(logDir, "fakekvm-server.log"), 5*time.Second).Should(BeAnExistingFile())
		})
	})

	Describe("pause", func() {
		It("stops now and starts again when the timer elapses", func() {
			startController(fixtures.ConnectedLine)
			oldPID := controller.Status().PID

			Expect(controller.ArmTimer(context.Background(), 400*time.Millisecond)).To(Succeed())

			s := controller.Status()
			Expect(s.RunState).To(Equal("stopped"))
			Expect(s.OverrideDeadline).NotTo(BeNil())
			Expect(pm.IsRunning(oldPID)).To(BeFalse())

			Eventually(func() string { return controller.Status().RunState }, 5*time.Second).Should(Equal("running"))
			Expect(controller.Status().OverrideDeadline).To(BeNil())
		})
	})

	Describe("following the screensaver", func() {
		BeforeEach(func() {
			Expect(store.Save(domain.Mode{Role: domain.RoleClient, FollowScreensaver: true})).To(Succeed())
		})

		It("stops on lock and starts on unlock", func() {
			startController(fixtures.ConnectedLine)

			observer.set(true)
			Eventually(func() string { return controller.Status().RunState }, 5*time.Second).Should(Equal("stopped"))
			Expect(controller.CurrentDisplayState()).To(Equal(domain.DisplayInactive))

			observer.set(false)
			Eventually(func() string { return controller.Status().RunState }, 5*time.Second).Should(Equal("running"))
		})

		It("keeps a manual stop across ticks", func() {
			startController(fixtures.ConnectedLine)

			Expect(controller.Stop(context.Background())).To(Succeed())
			Consistently(func() string { return controller.Status().RunState }, 300*time.Millisecond).
				Should(Equal("stopped"))
		})
	})

	Describe("quit", func() {
		It("stops the daemon before returning", func() {
			startController(fixtures.ConnectedLine)
			pid := controller.Status().PID

			Expect(controller.Quit(context.Background())).To(Succeed())
			Eventually(runErr, 5*time.Second).Should(Receive(BeNil()))
			cancel = nil

			Expect(pm.IsRunning(pid)).To(BeFalse())
		})
	})

	Describe("context cancellation", func() {
		It("stops the daemon", func() {
			startController(fixtures.ConnectedLine)
			pid := controller.Status().PID

			cancel()
			Eventually(runErr, 5*time.Second).Should(Receive(BeNil()))
			cancel = nil

			Expect(pm.IsRunning(pid)).To(BeFalse())
		})
	})
})
