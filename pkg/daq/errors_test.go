package daq

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/gousb"
)

func TestStallErrorMessage(t *testing.T) {
	err := &StallError{
		Names:     []string{"STREAM_OUT0_BUFFER_STATUS", "STREAM_OUT1_BUFFER_STATUS"},
		Statuses:  []float64{3, 4},
		Threshold: 64,
		Polls:     2001,
		Elapsed:   1500 * time.Millisecond,
		Err:       ErrBudgetExhausted,
	}
	msg := err.Error()
	for _, want := range []string{"2001 polls", "STREAM_OUT0_BUFFER_STATUS=3", "STREAM_OUT1_BUFFER_STATUS=4", "threshold 64"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
	if !errors.Is(err, ErrBudgetExhausted) {
		t.Fatalf("StallError should unwrap to ErrBudgetExhausted")
	}
}

func TestWrappedErrors(t *testing.T) {
	cause := errors.New("usb pipe")
	var wrapped error = &StreamIOError{Op: "read", Err: cause}
	if !errors.Is(wrapped, cause) {
		t.Fatalf("StreamIOError does not unwrap")
	}
	wrapped = &DeviceError{Op: "open", Err: ErrDeviceNotFound}
	if !errors.Is(wrapped, ErrDeviceNotFound) {
		t.Fatalf("DeviceError does not unwrap")
	}

	cfg := &ConfigError{Field: "outputs[0].buffer_num_bytes", Reason: "must be positive"}
	if got := cfg.Error(); got != "config: outputs[0].buffer_num_bytes: must be positive" {
		t.Fatalf("ConfigError = %q", got)
	}
}

func TestDeviceInfoIP(t *testing.T) {
	info := DeviceInfo{IPAddress: 0xC0A80164}
	if got := info.IP(); got != "192.168.1.100" {
		t.Fatalf("IP() = %q, want 192.168.1.100", got)
	}
}

func TestClassifyUSBDevice(t *testing.T) {
	info, ok := classifyUSBDevice(&gousb.DeviceDesc{Vendor: gousb.ID(VendorIDLabJack), Product: gousb.ID(0x0007)})
	if !ok || info.DeviceType != DeviceTypeT7 || info.Kind != KindUSB {
		t.Fatalf("classify T7 = %+v, %v", info, ok)
	}
	if _, ok := classifyUSBDevice(&gousb.DeviceDesc{Vendor: gousb.ID(VendorIDLabJack), Product: gousb.ID(0x0003)}); ok {
		t.Fatalf("U3 should not be classified as a streaming device")
	}
	if _, ok := classifyUSBDevice(&gousb.DeviceDesc{Vendor: gousb.ID(0x2E8A), Product: gousb.ID(0x0007)}); ok {
		t.Fatalf("foreign vendor should not match")
	}
}

func TestInterfaceMatches(t *testing.T) {
	iface := Interface{Kind: KindUSB, DeviceType: DeviceTypeT7, Serial: "470012345"}
	tests := []struct {
		c    Criteria
		want bool
	}{
		{AnyDevice(), true},
		{Criteria{}, true},
		{Criteria{DeviceType: "t7"}, true},
		{Criteria{DeviceType: "7", Identifier: "470012345"}, true},
		{Criteria{DeviceType: "T4"}, false},
		{Criteria{Identifier: "1"}, false},
	}
	for _, tt := range tests {
		if got := iface.Matches(tt.c); got != tt.want {
			t.Errorf("Matches(%+v) = %v, want %v", tt.c, got, tt.want)
		}
	}
}

func TestDiscoverDevicesIncludesSimulator(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping usb enumeration in short mode")
	}
	found, err := DiscoverDevices(context.Background())
	if err != nil {
		t.Skipf("usb enumeration unavailable: %v", err)
	}
	if len(found) == 0 || found[len(found)-1].Kind != KindSim {
		t.Fatalf("simulator entry missing: %+v", found)
	}
	for _, iface := range found {
		t.Logf("  %s [%s] serial=%s", iface.Label(), iface.Kind, iface.Serial)
	}
}
