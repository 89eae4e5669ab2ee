package voice

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"
	"strconv"

	"layeh.com/gopus"
)

const (
	channels   = 2
	sampleRate = 48000
	frameSize  = 960 // 20ms at 48kHz
	maxOpus    = frameSize * channels * 2
)

// ffmpegSource decodes whatever ffmpeg understands into PCM.
type ffmpegSource struct {
	io.Reader
	cmd   *exec.Cmd
	input io.Closer
}

func (f *ffmpegSource) Close() error {
	if f.input != nil {
		_ = f.input.Close()
	}
	if f.cmd.Process != nil {
		_ = f.cmd.Process.Kill()
	}
	_ = f.cmd.Wait()
	return nil
}

// FFmpeg decodes in (a container stream) to 48kHz stereo s16le. in is closed
// together with the returned source when it is an io.Closer.
func FFmpeg(in io.Reader) (Source, error) {
	return startFFmpeg("pipe:0", in)
}

// FFmpegURL decodes a remote or local media location.
func FFmpegURL(location string) (Source, error) {
	return startFFmpeg(location, nil)
}

func startFFmpeg(input string, stdin io.Reader) (Source, error) {
	cmd := exec.Command("ffmpeg",
		"-i", input,
		"-f", "s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", strconv.Itoa(channels),
		"-loglevel", "warning",
		"pipe:1",
	)
	cmd.Stdin = stdin
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg start: %w", err)
	}
	src := &ffmpegSource{Reader: out, cmd: cmd}
	if c, ok := stdin.(io.Closer); ok {
		src.input = c
	}
	return src, nil
}

// encodeOpus reads PCM frames from src, scales them by volume and hands the
// opus packets to send until src ends, stop is closed or send reports false.
// All three end cleanly.
func encodeOpus(src io.Reader, stop <-chan struct{}, send func([]byte) bool, volume func() float64) error {
	encoder, err := gopus.NewEncoder(sampleRate, channels, gopus.Audio)
	if err != nil {
		return fmt.Errorf("encoder error: %w", err)
	}

	pcmBuf := make([]byte, frameSize*channels*2)
	intBuf := make([]int16, frameSize*channels)
	for {
		select {
		case <-stop:
			return nil
		default:
		}

		if _, err := io.ReadFull(src, pcmBuf); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return fmt.Errorf("read error: %w", err)
		}
		scale(pcmBuf, intBuf, volume())

		opus, err := encoder.Encode(intBuf, frameSize, maxOpus)
		if err != nil {
			return fmt.Errorf("encode error: %w", err)
		}

		if !send(opus) {
			return nil
		}
	}
}

// scale decodes little endian samples into dst, multiplied by v and clamped.
func scale(pcm []byte, dst []int16, v float64) {
	for i := range dst {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) * v
		dst[i] = int16(max(math.MinInt16, min(math.MaxInt16, s)))
	}
}
