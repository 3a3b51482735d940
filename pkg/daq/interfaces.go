package daq

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/gousb"
)

// Kind categorizes device backends.
type Kind string

const (
	KindUSB Kind = "usb"
	KindSim Kind = "simulator"
)

// VendorIDLabJack is the USB vendor ID of LabJack Corporation.
const VendorIDLabJack = 0x0CD5

// Device type codes as reported in DeviceInfo.DeviceType.
const (
	DeviceTypeT4 = 4
	DeviceTypeT7 = 7
	DeviceTypeT8 = 8
)

// Connection type codes as reported in DeviceInfo.ConnectionType.
const (
	ConnectionUSB      = 1
	ConnectionTCP      = 2
	ConnectionEthernet = 3
	ConnectionWiFi     = 4
)

// Interface describes a detected device.
type Interface struct {
	Kind        Kind
	Description string
	DeviceType  int
	VendorID    uint16
	ProductID   uint16
	Serial      string
}

// Label returns a user-friendly description for the interface.
func (i Interface) Label() string {
	if i.Description != "" {
		return i.Description
	}
	return fmt.Sprintf("%s (%04X:%04X)", string(i.Kind), i.VendorID, i.ProductID)
}

type knownUSBDevice struct {
	ProductID   uint16
	DeviceType  int
	Description string
}

// Only the T-series supports stream-out buffers.
var knownLabJackPIDs = []knownUSBDevice{
	{ProductID: 0x0004, DeviceType: DeviceTypeT4, Description: "LabJack T4"},
	{ProductID: 0x0007, DeviceType: DeviceTypeT7, Description: "LabJack T7"},
	{ProductID: 0x0008, DeviceType: DeviceTypeT8, Description: "LabJack T8"},
}

func classifyUSBDevice(desc *gousb.DeviceDesc) (Interface, bool) {
	if uint16(desc.Vendor) != VendorIDLabJack {
		return Interface{}, false
	}
	for _, known := range knownLabJackPIDs {
		if uint16(desc.Product) == known.ProductID {
			return Interface{
				Kind:        KindUSB,
				Description: known.Description,
				DeviceType:  known.DeviceType,
				VendorID:    VendorIDLabJack,
				ProductID:   known.ProductID,
			}, true
		}
	}
	return Interface{}, false
}

// DiscoverDevices enumerates connected LabJack USB devices. It always returns
// the simulator entry last so runs can be exercised without hardware.
func DiscoverDevices(ctx context.Context) ([]Interface, error) {
	results, err := enumerateUSB(ctx)
	results = append(results, Interface{
		Kind:        KindSim,
		Description: "Simulator (no hardware)",
	})
	return results, err
}

func enumerateUSB(ctx context.Context) ([]Interface, error) {
	var results []Interface
	usb := gousb.NewContext()
	defer usb.Close()

	devs, err := usb.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		_, ok := classifyUSBDevice(desc)
		return ok
	})
	for _, dev := range devs {
		info, _ := classifyUSBDevice(dev.Desc)
		info.Serial, _ = dev.SerialNumber()
		results = append(results, info)
		dev.Close()
	}
	if err != nil && err != gousb.ErrorAccess {
		return results, fmt.Errorf("enumerate usb: %w", err)
	}
	return results, nil
}

// Matches reports whether the interface satisfies c.
func (i Interface) Matches(c Criteria) bool {
	if !matchDeviceType(c.DeviceType, i.DeviceType) {
		return false
	}
	id := strings.TrimSpace(c.Identifier)
	if id == "" || strings.EqualFold(id, "ANY") {
		return true
	}
	return id == i.Serial
}

func matchDeviceType(want string, have int) bool {
	want = strings.ToUpper(strings.TrimSpace(want))
	switch want {
	case "", "ANY":
		return true
	case "T4":
		return have == DeviceTypeT4
	case "T7":
		return have == DeviceTypeT7
	case "T8":
		return have == DeviceTypeT8
	}
	if n, err := strconv.Atoi(want); err == nil {
		return n == have
	}
	return false
}

// USBOpener locates devices on the USB bus. The register transport for real
// hardware is not part of this module, so a located device is reported with
// ErrNotImplemented.
type USBOpener struct{}

func (USBOpener) Open(ctx context.Context, c Criteria) (Device, error) {
	conn := strings.ToUpper(strings.TrimSpace(c.ConnectionType))
	if conn != "" && conn != "ANY" && conn != "USB" {
		return nil, &DeviceError{Op: "open", Err: fmt.Errorf("connection type %s: %w", c.ConnectionType, ErrNotImplemented)}
	}

	found, err := enumerateUSB(ctx)
	if err != nil {
		return nil, &DeviceError{Op: "open", Err: err}
	}
	for _, iface := range found {
		if iface.Matches(c) {
			return nil, &DeviceError{
				Op:  "open",
				Err: fmt.Errorf("%s serial %s: register transport: %w", iface.Label(), iface.Serial, ErrNotImplemented),
			}
		}
	}
	return nil, &DeviceError{Op: "open", Err: fmt.Errorf("%s: %w", c, ErrDeviceNotFound)}
}
