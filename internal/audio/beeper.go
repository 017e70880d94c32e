// Package audio plays the countdown tick sound through the default output
// device.
package audio

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/pkg/errors"
)

// Beeper keeps a playback device open and plays its clip on demand.
type Beeper struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	clip   Clip

	mu      sync.Mutex
	pos     int
	playing bool
}

// NewBeeper opens the default playback device for clip. Call Close() when
// done.
func NewBeeper(clip Clip) (*Beeper, error) {
	if len(clip.Samples) == 0 || clip.SampleRate == 0 {
		return nil, errors.New("audio: empty clip")
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, errors.Wrap(err, "initializing audio context")
	}

	b := &Beeper{ctx: ctx, clip: clip}

	deviceCfg := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceCfg.Playback.Format = malgo.FormatF32
	deviceCfg.Playback.Channels = 1
	deviceCfg.SampleRate = clip.SampleRate

	callbacks := malgo.DeviceCallbacks{
		Data: b.onData,
	}

	device, err := malgo.InitDevice(ctx.Context, deviceCfg, callbacks)
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return nil, errors.Wrap(err, "initializing playback device")
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = ctx.Uninit()
		ctx.Free()
		return nil, errors.Wrap(err, "starting playback device")
	}
	b.device = device

	return b, nil
}

// Beep plays the clip from the start, cutting off a beep still in progress.
func (b *Beeper) Beep() {
	b.mu.Lock()
	b.pos = 0
	b.playing = true
	b.mu.Unlock()
}

// Close releases all audio resources.
func (b *Beeper) Close() error {
	if b.device != nil {
		b.device.Uninit()
		b.device = nil
	}
	if b.ctx != nil {
		if err := b.ctx.Uninit(); err != nil {
			return errors.Wrap(err, "uninitializing audio context")
		}
		b.ctx.Free()
		b.ctx = nil
	}
	return nil
}

// onData is the malgo callback invoked when the device wants frames.
func (b *Beeper) onData(pOutput, _ []byte, frameCount uint32) {
	b.fill(pOutput, frameCount)
}

// fill writes frameCount mono float32 frames into out: clip samples while a
// beep is playing, silence otherwise.
func (b *Beeper) fill(out []byte, frameCount uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := uint32(0); i < frameCount; i++ {
		offset := i * 4
		if offset+4 > uint32(len(out)) {
			break
		}
		var v float32
		if b.playing && b.pos < len(b.clip.Samples) {
			v = b.clip.Samples[b.pos]
			b.pos++
		} else {
			b.playing = false
		}
		binary.LittleEndian.PutUint32(out[offset:offset+4], math.Float32bits(v))
	}
}
