// pcm-source streams a synthetic sine tone into the middle server's ingest
// socket. It is the reference source implementation and doubles as a load
// generator for local testing.
package main

import (
	"flag"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/Myxogastria0808/asyncbeats/internal/audio"
)

var logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().
	Timestamp().Str("component", "pcm-source").Logger()

func main() {
	socketPath := flag.String("socket", "", "ingest socket path (default: the server's well-known path)")
	sampleRate := flag.Int("rate", 48000, "sample rate in Hz")
	channels := flag.Int("channels", 2, "channel count")
	frameMs := flag.Int("frame", 20, "frame size in milliseconds")
	toneHz := flag.Float64("tone", 440, "sine tone frequency in Hz")
	flag.Parse()

	if *socketPath != "" {
		os.Setenv("ASYNCBEATS_PCM_SOCKET", *socketPath)
	}

	format := audio.PCMConfig{
		SampleRate: *sampleRate,
		Channels:   *channels,
		FrameSize:  time.Duration(*frameMs) * time.Millisecond,
	}
	if err := audio.ValidatePCMConfig(format.SampleRate, format.Channels, format.FrameSize); err != nil {
		logger.Fatal().Err(err).Msg("invalid stream format")
	}

	client := audio.NewAudioIngestClient()
	if err := client.Connect(); err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to middle server")
	}
	defer client.Disconnect()

	if err := client.SendConfig(format); err != nil {
		logger.Fatal().Err(err).Msg("failed to announce stream format")
	}
	logger.Info().
		Int("sample_rate", format.SampleRate).
		Int("channels", format.Channels).
		Dur("frame_size", format.FrameSize).
		Float64("tone_hz", *toneHz).
		Msg("streaming synthetic tone")

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	frameTicker := time.NewTicker(format.FrameSize)
	defer frameTicker.Stop()
	heartbeatTicker := time.NewTicker(time.Second)
	defer heartbeatTicker.Stop()

	gen := newToneGenerator(format, *toneHz)
	for {
		select {
		case <-frameTicker.C:
			frame := gen.nextFrame()
			err := client.SendFrame(frame)
			audio.PutAudioFrameBuffer(frame)
			if err != nil {
				logger.Fatal().Err(err).Msg("frame write failed, source exiting")
			}
		case <-heartbeatTicker.C:
			if err := client.SendHeartbeat(); err != nil {
				logger.Warn().Err(err).Msg("heartbeat failed")
			}
		case <-sigs:
			sent, dropped := client.GetClientStats()
			logger.Info().
				Int64("frames_sent", sent).
				Int64("frames_dropped", dropped).
				Msg("source shutting down")
			return
		}
	}
}

// toneGenerator produces s16le interleaved sine frames, carrying the phase
// across frame boundaries so the tone stays continuous.
type toneGenerator struct {
	format audio.PCMConfig
	step   float64
	phase  float64
}

func newToneGenerator(format audio.PCMConfig, toneHz float64) *toneGenerator {
	return &toneGenerator{
		format: format,
		step:   2 * math.Pi * toneHz / float64(format.SampleRate),
	}
}

func (g *toneGenerator) nextFrame() []byte {
	buf := audio.GetAudioFrameBuffer()
	samples := g.format.SampleRate * int(g.format.FrameSize/time.Millisecond) / 1000
	for i := 0; i < samples; i++ {
		v := int16(math.Sin(g.phase) * 0.2 * math.MaxInt16)
		g.phase += g.step
		if g.phase > 2*math.Pi {
			g.phase -= 2 * math.Pi
		}
		for ch := 0; ch < g.format.Channels; ch++ {
			buf = append(buf, byte(v), byte(v>>8))
		}
	}
	return buf
}
