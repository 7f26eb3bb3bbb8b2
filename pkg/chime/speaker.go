package chime

import (
	"bytes"
	"fmt"
	"time"

	"github.com/ebitengine/oto/v3"
)

// Speaker plays through the default audio device. Only one may exist per
// process.
type Speaker struct {
	ctx *oto.Context
}

func NewSpeaker() (*Speaker, error) {
	op := &oto.NewContextOptions{
		SampleRate:   SampleRate,
		ChannelCount: ChannelCount,
		Format:       oto.FormatSignedInt16LE,
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}
	<-ready
	return &Speaker{ctx: ctx}, nil
}

func (s *Speaker) Play(pcm []byte) error {
	player := s.ctx.NewPlayer(bytes.NewReader(pcm))
	defer player.Close()
	player.Play()

	for player.IsPlaying() {
		time.Sleep(20 * time.Millisecond)
	}
	return player.Err()
}
