package radio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

// HM-10 style BLE serial bridges expose a single transparent characteristic.
const (
	BridgeServiceUUID = 0xFFE0
	BridgeCharUUID    = 0xFFE1
)

// DefaultScanTimeout bounds peer discovery when no bonded list exists.
const DefaultScanTimeout = 5 * time.Second

// BLEUARTStack reaches the controller through a BLE-to-serial bridge module
// using tinygo-org/bluetooth. It works wherever that library does (BlueZ,
// CoreBluetooth, WinRT).
//
// Bridges have no bonded list: BondedDevices reports the peers seen
// advertising the bridge service during a bounded scan. On macOS addresses
// are CoreBluetooth UUIDs rather than MAC addresses.
type BLEUARTStack struct {
	adapter     *bluetooth.Adapter
	scanTimeout time.Duration

	enableOnce sync.Once
	enableErr  error

	// mu protects conns.
	mu    sync.Mutex
	conns map[string]*bleuartConn // keyed by normalized address
}

// Compile-time check that BLEUARTStack implements Stack.
var _ Stack = (*BLEUARTStack)(nil)

// NewBLEUARTStack creates a stack on the default adapter.
func NewBLEUARTStack(scanTimeout time.Duration) *BLEUARTStack {
	if scanTimeout <= 0 {
		scanTimeout = DefaultScanTimeout
	}
	return &BLEUARTStack{
		adapter:     bluetooth.DefaultAdapter,
		scanTimeout: scanTimeout,
		conns:       make(map[string]*bleuartConn),
	}
}

func (s *BLEUARTStack) enable() error {
	s.enableOnce.Do(func() {
		if err := s.adapter.Enable(); err != nil {
			s.enableErr = fmt.Errorf("bleuart: enable adapter: %w", err)
			return
		}
		// Drop the handle when the peripheral goes away so IsConnected
		// reflects the platform view.
		s.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
			if connected {
				return
			}
			key := NormalizeAddress(device.Address.String())
			s.mu.Lock()
			_, ok := s.conns[key]
			delete(s.conns, key)
			s.mu.Unlock()
			if ok {
				slog.Warn("[BLEUART] peripheral disconnected", "address", key)
			}
		})
	})
	return s.enableErr
}

func (s *BLEUARTStack) BondedDevices(ctx context.Context) ([]Device, error) {
	if err := s.enable(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.scanTimeout)
	defer cancel()

	svc := bluetooth.New16BitUUID(BridgeServiceUUID)

	var mu sync.Mutex
	var devices []Device
	seen := make(map[string]bool)

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.adapter.StopScan()
		case <-done:
		}
	}()

	err := s.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		if !result.HasServiceUUID(svc) {
			return
		}
		addr := NormalizeAddress(result.Address.String())
		mu.Lock()
		defer mu.Unlock()
		if seen[addr] {
			return
		}
		seen[addr] = true
		devices = append(devices, Device{Address: addr, Name: result.LocalName()})
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("bleuart: scan: %w", err)
	}
	return devices, nil
}

func (s *BLEUARTStack) IsConnected(_ context.Context, address string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.conns[NormalizeAddress(address)]
	return ok, nil
}

func (s *BLEUARTStack) Connect(ctx context.Context, address string) error {
	if err := s.enable(); err != nil {
		return err
	}

	var addr bluetooth.Address
	addr.Set(address)

	// tinygo/bluetooth's Connect blocks with its own timeout. A peripheral
	// that connects after ctx is done is disconnected again.
	device, err := awaitConnect(ctx, func() (bluetooth.Device, error) {
		return s.adapter.Connect(addr, bluetooth.ConnectionParams{})
	}, func(d bluetooth.Device, err error) {
		if err != nil {
			return
		}
		if derr := d.Disconnect(); derr != nil {
			slog.Warn("[BLEUART] disconnect after late connect failed", "address", address, "error", derr)
		}
	})
	if err != nil {
		return fmt.Errorf("bleuart: connect to %s: %w", address, err)
	}

	char, err := discoverBridgeChar(&device)
	if err != nil {
		_ = device.Disconnect()
		return fmt.Errorf("bleuart: %s: %w", address, err)
	}

	key := NormalizeAddress(address)
	s.mu.Lock()
	s.conns[key] = &bleuartConn{device: device, char: char}
	s.mu.Unlock()

	slog.Info("[BLEUART] connected", "address", key)
	return nil
}

func discoverBridgeChar(device *bluetooth.Device) (bluetooth.DeviceCharacteristic, error) {
	svcs, err := device.DiscoverServices([]bluetooth.UUID{bluetooth.New16BitUUID(BridgeServiceUUID)})
	if err != nil {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("discover services: %w", err)
	}
	if len(svcs) == 0 {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("service %#04x not found", BridgeServiceUUID)
	}
	chars, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{bluetooth.New16BitUUID(BridgeCharUUID)})
	if err != nil {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("discover characteristics: %w", err)
	}
	if len(chars) == 0 {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("characteristic %#04x not found", BridgeCharUUID)
	}
	return chars[0], nil
}

func (s *BLEUARTStack) Write(_ context.Context, address string, payload []byte) (int, error) {
	s.mu.Lock()
	conn, ok := s.conns[NormalizeAddress(address)]
	s.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("bleuart: write to %s: %w", address, ErrNotConnected)
	}
	n, err := conn.char.WriteWithoutResponse(payload)
	if err != nil {
		return n, fmt.Errorf("bleuart: write to %s: %w", address, err)
	}
	return n, nil
}

// Close disconnects every peripheral.
func (s *BLEUARTStack) Close() error {
	s.mu.Lock()
	conns := s.conns
	s.conns = make(map[string]*bleuartConn)
	s.mu.Unlock()

	// Disconnect outside mu: the connect handler takes it too.
	for key, conn := range conns {
		if err := conn.device.Disconnect(); err != nil {
			slog.Warn("[BLEUART] disconnect failed", "address", key, "error", err)
		}
	}
	return nil
}

type bleuartConn struct {
	device bluetooth.Device
	char   bluetooth.DeviceCharacteristic
}
