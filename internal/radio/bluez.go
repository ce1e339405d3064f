package radio

import (
	"fmt"
	"sort"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	bluezBus           = "org.bluez"
	adapterIface       = "org.bluez.Adapter1"
	deviceIface        = "org.bluez.Device1"
	propsIface         = "org.freedesktop.DBus.Properties"
	managedObjectsCall = "org.freedesktop.DBus.ObjectManager.GetManagedObjects"

	// DefaultAdapterPath is the first local controller.
	DefaultAdapterPath = dbus.ObjectPath("/org/bluez/hci0")
)

// managedObjects is the reply shape of ObjectManager.GetManagedObjects.
type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// BlueZ wraps a private system D-Bus connection for BlueZ queries.
type BlueZ struct {
	conn        *dbus.Conn
	adapterPath dbus.ObjectPath
}

// NewBlueZ connects to the system bus and checks that BlueZ is present.
func NewBlueZ(adapterPath string) (*BlueZ, error) {
	path := DefaultAdapterPath
	if adapterPath != "" {
		path = dbus.ObjectPath(adapterPath)
	}
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("bluez: connect to system bus: %w", err)
	}
	var names []string
	if err := conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		conn.Close()
		return nil, fmt.Errorf("bluez: list bus names: %w", err)
	}
	found := false
	for _, n := range names {
		if n == bluezBus {
			found = true
			break
		}
	}
	if !found {
		conn.Close()
		return nil, fmt.Errorf("bluez: %s not found on system bus, is bluetooth.service running?", bluezBus)
	}
	return &BlueZ{conn: conn, adapterPath: path}, nil
}

// Close releases the D-Bus connection.
func (b *BlueZ) Close() error {
	return b.conn.Close()
}

// AdapterPowered reports whether the local controller is switched on.
func (b *BlueZ) AdapterPowered() (bool, error) {
	obj := b.conn.Object(bluezBus, b.adapterPath)
	var v dbus.Variant
	if err := obj.Call(propsIface+".Get", 0, adapterIface, "Powered").Store(&v); err != nil {
		return false, fmt.Errorf("bluez: read Powered: %w", err)
	}
	powered, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("bluez: property Powered is not bool")
	}
	return powered, nil
}

// BondedDevices lists paired devices known to the adapter.
func (b *BlueZ) BondedDevices() ([]Device, error) {
	var objects managedObjects
	obj := b.conn.Object(bluezBus, "/")
	if err := obj.Call(managedObjectsCall, 0).Store(&objects); err != nil {
		return nil, fmt.Errorf("bluez: get managed objects: %w", err)
	}
	return bondedFromObjects(objects, b.adapterPath), nil
}

// bondedFromObjects extracts paired Device1 entries below adapterPath,
// sorted by address.
func bondedFromObjects(objects managedObjects, adapterPath dbus.ObjectPath) []Device {
	prefix := string(adapterPath) + "/dev_"
	var devices []Device
	for path, ifaces := range objects {
		if !strings.HasPrefix(string(path), prefix) {
			continue
		}
		props, ok := ifaces[deviceIface]
		if !ok {
			continue
		}
		// Paired covers legacy pairings, Bonded is only exposed by BlueZ >= 5.66.
		if !variantBool(props["Paired"]) && !variantBool(props["Bonded"]) {
			continue
		}
		addr := variantString(props["Address"])
		if addr == "" {
			addr = macFromPath(path, adapterPath)
		}
		name := variantString(props["Name"])
		if name == "" {
			name = variantString(props["Alias"])
		}
		devices = append(devices, Device{
			Address: NormalizeAddress(addr),
			Name:    name,
			Bonded:  true,
		})
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Address < devices[j].Address })
	return devices
}

// macFromPath extracts a MAC address from a BlueZ device object path.
func macFromPath(path, adapterPath dbus.ObjectPath) string {
	s := string(path)
	prefix := string(adapterPath) + "/dev_"
	if !strings.HasPrefix(s, prefix) {
		return ""
	}
	return strings.ReplaceAll(s[len(prefix):], "_", ":")
}

func variantBool(v dbus.Variant) bool {
	b, _ := v.Value().(bool)
	return b
}

func variantString(v dbus.Variant) string {
	s, _ := v.Value().(string)
	return s
}
