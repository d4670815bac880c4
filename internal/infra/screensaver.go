package infra

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/kvmtray/internal/domain"
)

// screensaverService is one D-Bus endpoint exposing GetActive/ActiveChanged.
type screensaverService struct {
	dest  string
	path  dbus.ObjectPath
	iface string
}

// Probed in order; the first that answers GetActive wins.
var screensaverServices = []screensaverService{
	{dest: "org.freedesktop.ScreenSaver", path: "/org/freedesktop/ScreenSaver", iface: "org.freedesktop.ScreenSaver"},
	{dest: "org.gnome.ScreenSaver", path: "/org/gnome/ScreenSaver", iface: "org.gnome.ScreenSaver"},
	{dest: "org.kde.screensaver", path: "/ScreenSaver", iface: "org.freedesktop.ScreenSaver"},
}

// DBusIdleObserver reports lock state from the session screensaver service.
type DBusIdleObserver struct {
	conn    *dbus.Conn
	service screensaverService
	logger  *zap.Logger
}

// NewDBusIdleObserver connects to the session bus and picks the first
// screensaver service that responds. Errors wrap domain.ErrObserverUnavailable.
func NewDBusIdleObserver(ctx context.Context, logger *zap.Logger) (*DBusIdleObserver, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("%w: session bus: %v", domain.ErrObserverUnavailable, err)
	}

	for _, svc := range screensaverServices {
		o := &DBusIdleObserver{conn: conn, service: svc, logger: logger}
		if _, err := o.Locked(ctx); err != nil {
			logger.Debug("screensaver service not available",
				zap.String("service", svc.dest),
				zap.Error(err))
			continue
		}
		logger.Info("using screensaver service", zap.String("service", svc.dest))
		return o, nil
	}

	conn.Close()
	return nil, fmt.Errorf("%w: no screensaver service on session bus", domain.ErrObserverUnavailable)
}

// Service returns the D-Bus name in use.
func (o *DBusIdleObserver) Service() string {
	return o.service.dest
}

// Locked reports whether the screensaver is active.
func (o *DBusIdleObserver) Locked(ctx context.Context) (bool, error) {
	var active bool
	obj := o.conn.Object(o.service.dest, o.service.path)
	if err := obj.CallWithContext(ctx, o.service.iface+".GetActive", 0).Store(&active); err != nil {
		return false, err
	}
	return active, nil
}

// Subscribe delivers one LockEvent per ActiveChanged transition.
// Repeated signals with the same value are dropped. The channel is closed
// when ctx is done or the bus connection goes away.
func (o *DBusIdleObserver) Subscribe(ctx context.Context) (<-chan domain.LockEvent, error) {
	matchOpts := []dbus.MatchOption{
		dbus.WithMatchInterface(o.service.iface),
		dbus.WithMatchMember("ActiveChanged"),
	}
	if err := o.conn.AddMatchSignalContext(ctx, matchOpts...); err != nil {
		return nil, fmt.Errorf("%w: subscribe ActiveChanged: %v", domain.ErrObserverUnavailable, err)
	}

	signals := make(chan *dbus.Signal, 8)
	o.conn.Signal(signals)

	last, err := o.Locked(ctx)
	if err != nil {
		o.logger.Debug("initial lock state unknown", zap.Error(err))
	}
	events := make(chan domain.LockEvent, 8)

	go func() {
		defer close(events)
		defer func() {
			o.conn.RemoveSignal(signals)
			_ = o.conn.RemoveMatchSignal(matchOpts...)
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-signals:
				if !ok || sig == nil {
					o.logger.Warn("screensaver signal stream closed")
					return
				}
				locked, ok := decodeActiveChanged(sig, o.service.iface)
				if !ok || locked == last {
					continue
				}
				last = locked

				ev := domain.EventUnlocked
				if locked {
					ev = domain.EventLocked
				}
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return events, nil
}

// Close releases the bus connection.
func (o *DBusIdleObserver) Close() error {
	return o.conn.Close()
}

func decodeActiveChanged(sig *dbus.Signal, iface string) (bool, bool) {
	if sig.Name != iface+".ActiveChanged" || len(sig.Body) < 1 {
		return false, false
	}
	active, ok := sig.Body[0].(bool)
	return active, ok
}

// DBusInhibitor holds an org.freedesktop.ScreenSaver inhibit cookie.
type DBusInhibitor struct {
	conn   *dbus.Conn
	logger *zap.Logger

	mu     sync.Mutex
	cookie uint32
	held   bool
}

// NewDBusInhibitor connects to the session bus.
func NewDBusInhibitor(logger *zap.Logger) (*DBusInhibitor, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("session bus: %w", err)
	}
	return &DBusInhibitor{conn: conn, logger: logger}, nil
}

// Inhibit prevents idle locking until Release. Calling it while held is a no-op.
func (i *DBusInhibitor) Inhibit(ctx context.Context, reason string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.held {
		return nil
	}

	var cookie uint32
	obj := i.conn.Object("org.freedesktop.ScreenSaver", "/org/freedesktop/ScreenSaver")
	if err := obj.CallWithContext(ctx, "org.freedesktop.ScreenSaver.Inhibit", 0, AppName, reason).Store(&cookie); err != nil {
		return fmt.Errorf("inhibit screensaver: %w", err)
	}
	i.cookie = cookie
	i.held = true
	i.logger.Info("screensaver inhibited", zap.Uint32("cookie", cookie), zap.String("reason", reason))
	return nil
}

// Release lifts a held inhibition. Calling it while not held is a no-op.
func (i *DBusInhibitor) Release(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.held {
		return nil
	}

	obj := i.conn.Object("org.freedesktop.ScreenSaver", "/org/freedesktop/ScreenSaver")
	call := obj.CallWithContext(ctx, "org.freedesktop.ScreenSaver.UnInhibit", 0, i.cookie)
	i.held = false
	if call.Err != nil {
		return fmt.Errorf("release screensaver inhibit: %w", call.Err)
	}
	i.logger.Info("screensaver inhibit released", zap.Uint32("cookie", i.cookie))
	return nil
}

// Close releases any inhibition and the bus connection.
func (i *DBusInhibitor) Close() error {
	_ = i.Release(context.Background())
	return i.conn.Close()
}

var (
	_ domain.IdleObserver         = (*DBusIdleObserver)(nil)
	_ domain.ScreensaverInhibitor = (*DBusInhibitor)(nil)
)
