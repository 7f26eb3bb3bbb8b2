// Package chime plays a shutter sound whenever a frame is delivered.
package chime

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hajimehoshi/go-mp3"
	"github.com/youpy/go-wav"

	"github.com/wachiwi/framecam/pkg/camera"
)

const (
	SampleRate   = 44100
	ChannelCount = 2
)

// Sound is 16-bit little-endian PCM at SampleRate, stereo.
type Sound struct {
	Name string
	PCM  []byte
}

// Duration returns the playback length of s.
func (s *Sound) Duration() time.Duration {
	frames := len(s.PCM) / (2 * ChannelCount)
	return time.Duration(frames) * time.Second / SampleRate
}

// Load reads a .wav or .mp3 file.
func Load(path string) (*Sound, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sound file: %w", err)
	}
	s, err := Decode(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.Name = filepath.Base(path)
	return s, nil
}

// Decode turns WAV or MP3 data into a Sound, resampling as needed. ext
// selects the decoder.
func Decode(data []byte, ext string) (*Sound, error) {
	var (
		pcm          []byte
		sampleRate   int
		channelCount int
	)

	switch strings.ToLower(ext) {
	case ".wav":
		format, err := wav.NewReader(bytes.NewReader(data)).Format()
		if err != nil {
			return nil, fmt.Errorf("failed to get wav format: %w", err)
		}
		if format.BitsPerSample != 16 {
			return nil, fmt.Errorf("unsupported wav sample size %d bits", format.BitsPerSample)
		}
		pcm, err = io.ReadAll(wav.NewReader(bytes.NewReader(data)))
		if err != nil {
			return nil, fmt.Errorf("failed to decode wav data: %w", err)
		}
		sampleRate = int(format.SampleRate)
		channelCount = int(format.NumChannels)

	case ".mp3":
		decoder, err := mp3.NewDecoder(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to create mp3 decoder: %w", err)
		}
		pcm, err = io.ReadAll(decoder)
		if err != nil {
			return nil, fmt.Errorf("failed to decode mp3 data: %w", err)
		}
		sampleRate = decoder.SampleRate()
		channelCount = 2

	default:
		return nil, fmt.Errorf("unsupported sound file type %q", ext)
	}

	if sampleRate != SampleRate || channelCount != ChannelCount {
		pcm = convertAudio(pcm, sampleRate, channelCount, SampleRate, ChannelCount)
	}
	return &Sound{PCM: pcm}, nil
}

// convertAudio converts 16-bit PCM between sample rates and from mono to
// stereo.
func convertAudio(pcmData []byte, fromRate, fromChannels, toRate, toChannels int) []byte {
	sampleCount := len(pcmData) / 2
	samples := make([]int16, sampleCount)
	for i := 0; i < sampleCount; i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(pcmData[i*2 : i*2+2]))
	}

	stereo := samples
	if fromChannels == 1 && toChannels == 2 {
		stereo = make([]int16, sampleCount*2)
		for i, s := range samples {
			stereo[i*2] = s
			stereo[i*2+1] = s
		}
	}

	resampled := stereo
	if fromRate != toRate && len(stereo) > 0 {
		// Interpolate per channel so left and right never mix.
		frames := len(stereo) / toChannels
		ratio := float64(toRate) / float64(fromRate)
		outFrames := int(float64(frames) * ratio)
		resampled = make([]int16, outFrames*toChannels)

		for i := 0; i < outFrames; i++ {
			srcPos := float64(i) / ratio
			srcIdx := int(srcPos)
			frac := srcPos - float64(srcIdx)
			for ch := 0; ch < toChannels; ch++ {
				if srcIdx >= frames-1 {
					resampled[i*toChannels+ch] = stereo[(frames-1)*toChannels+ch]
					continue
				}
				a := float64(stereo[srcIdx*toChannels+ch])
				b := float64(stereo[(srcIdx+1)*toChannels+ch])
				resampled[i*toChannels+ch] = int16(a + (b-a)*frac)
			}
		}
	}

	out := make([]byte, len(resampled)*2)
	for i, s := range resampled {
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], uint16(s))
	}
	return out
}

// Player plays PCM in the Sound layout and returns when it is done.
type Player interface {
	Play(pcm []byte) error
}

// Chime is a camera.Sink. A frame that arrives while the sound is still
// playing stays silent.
type Chime struct {
	sound  *Sound
	out    Player
	logger *slog.Logger
	busy   atomic.Bool
	wg     sync.WaitGroup
}

var _ camera.Sink = (*Chime)(nil)

func New(sound *Sound, out Player, logger *slog.Logger) *Chime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chime{sound: sound, out: out, logger: logger.With("sound", sound.Name)}
}

// Deliver starts playback in the background and returns at once.
func (c *Chime) Deliver(_ context.Context, f *camera.Frame) error {
	if !c.busy.CompareAndSwap(false, true) {
		return nil
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.busy.Store(false)
		if err := c.out.Play(c.sound.PCM); err != nil {
			c.logger.Warn("failed to play chime", "frame", f.Seq, "error", err)
		}
	}()
	return nil
}

// Wait blocks until playback has finished.
func (c *Chime) Wait() {
	c.wg.Wait()
}
