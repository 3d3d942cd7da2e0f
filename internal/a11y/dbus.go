package a11y

import (
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/godbus/dbus/v5"
)

// AT-SPI status object on the session bus.
const (
	busName        = "org.a11y.Bus"
	busPath        = dbus.ObjectPath("/org/a11y/bus")
	statusIface    = "org.a11y.Status"
	screenReaderOn = "ScreenReaderEnabled"
	propsIface     = "org.freedesktop.DBus.Properties"
)

// DBusMonitor follows org.a11y.Status.ScreenReaderEnabled, the flag Orca and
// other AT-SPI screen readers set on Linux desktops.
type DBusMonitor struct {
	conn   *dbus.Conn
	logger *log.Logger
	static Static
	quit   chan struct{}
	once   sync.Once
}

// NewDBusMonitor connects to the session bus and starts watching.
func NewDBusMonitor(logger *log.Logger) (*DBusMonitor, error) {
	if logger == nil {
		logger = log.Default().WithPrefix("a11y")
	}
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("unable to connect to session bus: %w", err)
	}

	m := &DBusMonitor{conn: conn, logger: logger, quit: make(chan struct{})}

	obj := conn.Object(busName, busPath)
	v, err := obj.GetProperty(statusIface + "." + screenReaderOn)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("unable to read screen reader status: %w", err)
	}
	if on, ok := v.Value().(bool); ok {
		m.static.active = on
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(busPath),
		dbus.WithMatchInterface(propsIface),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("unable to watch screen reader status: %w", err)
	}

	signals := make(chan *dbus.Signal, 8)
	conn.Signal(signals)
	go m.watch(signals)

	logger.Debug("Watching screen reader", "enabled", m.static.active)
	return m, nil
}

func (m *DBusMonitor) watch(signals <-chan *dbus.Signal) {
	for {
		select {
		case <-m.quit:
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			if on, changed := parseStatusChange(sig); changed {
				m.logger.Debug("Screen reader status changed", "enabled", on)
				m.static.Set(on)
			}
		}
	}
}

// parseStatusChange extracts ScreenReaderEnabled from a PropertiesChanged
// signal.
func parseStatusChange(sig *dbus.Signal) (bool, bool) {
	if sig == nil || sig.Name != propsIface+".PropertiesChanged" || len(sig.Body) < 2 {
		return false, false
	}
	iface, ok := sig.Body[0].(string)
	if !ok || iface != statusIface {
		return false, false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return false, false
	}
	v, ok := changed[screenReaderOn]
	if !ok {
		return false, false
	}
	on, ok := v.Value().(bool)
	return on, ok
}

// Enabled implements Monitor.
func (m *DBusMonitor) Enabled() bool { return m.static.Enabled() }

// Subscribe implements Monitor.
func (m *DBusMonitor) Subscribe(fn func(bool)) func() { return m.static.Subscribe(fn) }

// Close stops watching and closes the bus connection.
func (m *DBusMonitor) Close() error {
	var err error
	m.once.Do(func() {
		close(m.quit)
		err = m.conn.Close()
	})
	return err
}
