package daq

import (
	"context"
	"fmt"
)

// DeviceInfo describes an opened device, as reported by its handle.
type DeviceInfo struct {
	Name           string
	DeviceType     int
	ConnectionType int
	SerialNumber   int
	IPAddress      uint32
	Port           int
	MaxBytesPerMB  int
}

// IP formats IPAddress in dotted-quad notation.
func (i DeviceInfo) IP() string {
	a := i.IPAddress
	return fmt.Sprintf("%d.%d.%d.%d", byte(a>>24), byte(a>>16), byte(a>>8), byte(a))
}

// Label returns a short description for logs.
func (i DeviceInfo) Label() string {
	if i.Name != "" {
		return fmt.Sprintf("%s (serial %d)", i.Name, i.SerialNumber)
	}
	return fmt.Sprintf("device type %d (serial %d)", i.DeviceType, i.SerialNumber)
}

// StreamData is the result of one stream read. Data holds scans in scan-list
// order for the input channels only.
type StreamData struct {
	Data          []float64
	DeviceBacklog int
	DriverBacklog int
}

// Device abstracts an opened data-acquisition device. Buffer management for
// stream-out (loop size, enable, set-loop) goes through named register writes.
// A Device is owned by one caller at a time.
type Device interface {
	Info() (DeviceInfo, error)
	ReadNames(names []string) ([]float64, error)
	WriteName(name string, value float64) error
	WriteNameArray(name string, values []float64) error

	// StreamStart starts streaming scanList at the requested rate and returns
	// the rate the device actually achieved.
	StreamStart(scansPerRead int, scanList []int, scanRateHz float64) (float64, error)

	// StreamRead blocks until scansPerRead scans are available.
	StreamRead(ctx context.Context) (StreamData, error)

	StreamStop() error
	Close() error
}

// Criteria selects the device to open. "ANY" matches everything.
type Criteria struct {
	DeviceType     string
	ConnectionType string
	Identifier     string
}

// AnyDevice matches the first available device.
func AnyDevice() Criteria {
	return Criteria{DeviceType: "ANY", ConnectionType: "ANY", Identifier: "ANY"}
}

func (c Criteria) String() string {
	return fmt.Sprintf("device_type=%s, connection_type=%s, identifier=%s",
		orAny(c.DeviceType), orAny(c.ConnectionType), orAny(c.Identifier))
}

func orAny(s string) string {
	if s == "" {
		return "ANY"
	}
	return s
}

// Opener acquires a Device handle.
type Opener interface {
	Open(ctx context.Context, c Criteria) (Device, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context, c Criteria) (Device, error)

func (f OpenerFunc) Open(ctx context.Context, c Criteria) (Device, error) {
	return f(ctx, c)
}
