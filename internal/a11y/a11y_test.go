package a11y

import (
	"testing"

	"github.com/godbus/dbus/v5"
)

func TestStaticNotifiesOnChange(t *testing.T) {
	s := NewStatic(false)
	var got []bool
	cancel := s.Subscribe(func(on bool) { got = append(got, on) })

	s.Set(false) // no change
	s.Set(true)
	s.Set(true) // no change
	s.Set(false)
	cancel()
	s.Set(true)

	if len(got) != 2 || got[0] != true || got[1] != false {
		t.Fatalf("notifications: %v", got)
	}
	if !s.Enabled() {
		t.Fatal("Enabled should reflect the last Set")
	}
}

func TestParseStatusChange(t *testing.T) {
	signal := func(iface string, props map[string]dbus.Variant) *dbus.Signal {
		return &dbus.Signal{
			Name: propsIface + ".PropertiesChanged",
			Body: []interface{}{iface, props, []string{}},
		}
	}

	tests := []struct {
		name        string
		sig         *dbus.Signal
		wantOn      bool
		wantChanged bool
	}{
		{"enabled", signal(statusIface, map[string]dbus.Variant{screenReaderOn: dbus.MakeVariant(true)}), true, true},
		{"disabled", signal(statusIface, map[string]dbus.Variant{screenReaderOn: dbus.MakeVariant(false)}), false, true},
		{"other property", signal(statusIface, map[string]dbus.Variant{"IsEnabled": dbus.MakeVariant(true)}), false, false},
		{"other interface", signal("org.example.Foo", map[string]dbus.Variant{screenReaderOn: dbus.MakeVariant(true)}), false, false},
		{"wrong type", signal(statusIface, map[string]dbus.Variant{screenReaderOn: dbus.MakeVariant("yes")}), false, false},
		{"nil", nil, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			on, changed := parseStatusChange(tt.sig)
			if on != tt.wantOn || changed != tt.wantChanged {
				t.Fatalf("got (%v, %v), want (%v, %v)", on, changed, tt.wantOn, tt.wantChanged)
			}
		})
	}
}
