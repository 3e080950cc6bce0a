package audio

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

type portAudioDriver struct{}

// New initializes the PortAudio host and returns a Driver backed by it.
func New() (Driver, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return &portAudioDriver{}, nil
}

func (p *portAudioDriver) Devices() ([]Device, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	defaultDevice, _ := portaudio.DefaultOutputDevice()

	all := make([]Device, len(devices))
	for i, d := range devices {
		all[i] = describe(i, d, defaultDevice)
	}
	return filterLoopback(all), nil
}

func (p *portAudioDriver) OpenLoopback(cfg StreamConfig, onData func([]int16), onErr func(error)) (Stream, error) {
	device, err := resolveDevice(cfg.DeviceID)
	if err != nil {
		return nil, err
	}

	buffer := make([]int16, cfg.FramesPerBuffer*cfg.Channels)
	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: cfg.Channels,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      float64(cfg.SampleRate),
		FramesPerBuffer: cfg.FramesPerBuffer,
	}, buffer)
	if err != nil {
		return nil, fmt.Errorf("failed to open loopback stream on %q: %w", device.Name, err)
	}

	return &loopbackStream{
		stream: stream,
		buffer: buffer,
		onData: onData,
		onErr:  onErr,
	}, nil
}

func (p *portAudioDriver) Close() error {
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("failed to terminate PortAudio: %w", err)
	}
	return nil
}

// describe snapshots a driver device under the id assigned by the current
// enumeration.
func describe(id int, d, defaultDevice *portaudio.DeviceInfo) Device {
	desc := Device{
		ID:                id,
		Name:              d.Name,
		MaxOutputChannels: d.MaxOutputChannels,
		Default:           defaultDevice != nil && d == defaultDevice,
	}
	if d.HostApi != nil {
		desc.HostAPI = d.HostApi.Name
	}
	return desc
}

// resolveDevice maps a catalog id to the underlying device. A nil id picks
// the default playback endpoint when it is loopback-capable, otherwise the
// first capable device in enumeration order.
func resolveDevice(id *int) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	defaultDevice, _ := portaudio.DefaultOutputDevice()

	if id != nil {
		if *id < 0 || *id >= len(devices) {
			return nil, fmt.Errorf("%w: no device with id %d", ErrDeviceUnavailable, *id)
		}
		if !loopbackCapable(describe(*id, devices[*id], defaultDevice)) {
			return nil, fmt.Errorf("%w: device %q does not support loopback capture", ErrDeviceUnavailable, devices[*id].Name)
		}
		return devices[*id], nil
	}

	if defaultDevice != nil && loopbackCapable(describe(-1, defaultDevice, defaultDevice)) {
		return defaultDevice, nil
	}
	for i, d := range devices {
		if loopbackCapable(describe(i, d, defaultDevice)) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: no loopback-capable device found", ErrDeviceUnavailable)
}

type loopbackStream struct {
	stream *portaudio.Stream
	buffer []int16
	onData func([]int16)
	onErr  func(error)

	mu      sync.Mutex
	started bool
	stopped bool
	done    chan struct{}
}

func (s *loopbackStream) Start() error {
	if err := s.stream.Start(); err != nil {
		return fmt.Errorf("failed to start stream: %w", err)
	}

	s.mu.Lock()
	s.started = true
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.readLoop()
	return nil
}

// readLoop is the single goroutine that delivers buffers. Delivery is a
// synchronous call, so callbacks for one stream never overlap.
func (s *loopbackStream) readLoop() {
	defer close(s.done)
	for {
		if err := s.stream.Read(); err != nil {
			if !s.isStopped() && s.onErr != nil {
				s.onErr(fmt.Errorf("stream read failed: %w", err))
			}
			return
		}
		if s.isStopped() {
			return
		}
		s.onData(s.buffer)
	}
}

func (s *loopbackStream) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *loopbackStream) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	// Unblocks the pending Read in readLoop.
	if err := s.stream.Stop(); err != nil {
		return fmt.Errorf("failed to stop stream: %w", err)
	}
	return nil
}

func (s *loopbackStream) Close() error {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started {
		<-s.done
	}

	if err := s.stream.Close(); err != nil {
		return fmt.Errorf("failed to close stream: %w", err)
	}
	return nil
}
