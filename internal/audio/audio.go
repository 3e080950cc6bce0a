// Package audio provides loopback capture of system playback through
// PortAudio's WASAPI host.
package audio

import (
	"errors"
	"strings"
)

// ErrDeviceUnavailable is returned when no loopback-capable device exists or
// the requested device id cannot be used for loopback capture.
var ErrDeviceUnavailable = errors.New("audio device unavailable")

// loopbackHostAPI is matched case-insensitively against the driver-reported
// host API name; WASAPI is the only host that exposes playback endpoints for
// loopback capture.
const loopbackHostAPI = "wasapi"

// Device is an immutable snapshot of a driver-reported endpoint. The id is
// only meaningful for the enumeration that produced it.
type Device struct {
	ID                int    `json:"id"`
	Name              string `json:"name"`
	HostAPI           string `json:"hostApiName,omitempty"`
	MaxOutputChannels int    `json:"maxOutputChannels"`
	Default           bool   `json:"default"`
}

// StreamConfig describes the capture stream to open against a loopback
// endpoint.
type StreamConfig struct {
	// DeviceID selects a device from the catalog; nil picks the default
	// playback endpoint, falling back to the first loopback-capable device.
	DeviceID *int
	// Channels and SampleRate are the interleaved source format delivered to
	// the data callback.
	Channels   int
	SampleRate int
	// FramesPerBuffer sets the delivery granularity.
	FramesPerBuffer int
}

// Stream is an open capture stream.
type Stream interface {
	// Start begins delivering buffers to the data callback from a single
	// goroutine.
	Start() error
	// Stop halts capture. Safe to call more than once.
	Stop() error
	// Close releases the stream. It waits for the delivery goroutine to
	// finish, so no callback runs once Close returns.
	Close() error
}

// Driver is the boundary to the audio host.
type Driver interface {
	// Devices returns the loopback-capable device catalog in driver
	// enumeration order. An empty catalog is not an error.
	Devices() ([]Device, error)
	// OpenLoopback opens (but does not start) a capture stream. onData is
	// called with interleaved samples; the slice is reused between calls and
	// must not be retained. onErr is called at most once if the stream fails
	// mid-capture and must not block.
	OpenLoopback(cfg StreamConfig, onData func([]int16), onErr func(error)) (Stream, error)
	// Close releases the audio host.
	Close() error
}

// loopbackCapable reports whether a device can be opened for loopback
// capture: it must expose output channels through a WASAPI host API.
func loopbackCapable(d Device) bool {
	return d.MaxOutputChannels > 0 && strings.Contains(strings.ToLower(d.HostAPI), loopbackHostAPI)
}

// filterLoopback retains the loopback-capable subset of devices, preserving
// enumeration order.
func filterLoopback(devices []Device) []Device {
	result := make([]Device, 0, len(devices))
	for _, d := range devices {
		if loopbackCapable(d) {
			result = append(result, d)
		}
	}
	return result
}
