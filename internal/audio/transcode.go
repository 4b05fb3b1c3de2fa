package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/go-audio/wav"
)

// ErrInvalidCapture is returned when the raw capture is missing or unreadable.
var ErrInvalidCapture = errors.New("raw capture is not a valid wav file")

// FFMPEGTranscoder converts WAV captures to MP3 for upload.
type FFMPEGTranscoder struct {
	command    string
	sampleRate int
	channels   int
	bitrate    string
}

func NewFFMPEGTranscoder(command string, sampleRate int, channels int, bitrate string) *FFMPEGTranscoder {
	if command == "" {
		command = "ffmpeg"
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if channels <= 0 {
		channels = 1
	}
	if bitrate == "" {
		bitrate = "64k"
	}
	return &FFMPEGTranscoder{command: command, sampleRate: sampleRate, channels: channels, bitrate: bitrate}
}

func (t *FFMPEGTranscoder) Transcode(ctx context.Context, inputPath string, outputPath string) error {
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-i", inputPath,
		"-ac", strconv.Itoa(t.channels),
		"-ar", strconv.Itoa(t.sampleRate),
		"-codec:a", "libmp3lame",
		"-b:a", t.bitrate,
		outputPath,
	}

	output, err := exec.CommandContext(ctx, t.command, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg transcode failed: %w: %s", err, stringsTrimSpaceSafe(string(output)))
	}
	info, err := os.Stat(outputPath)
	if err != nil {
		return fmt.Errorf("transcoded file missing: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("transcoded file %s is empty", outputPath)
	}
	return nil
}

// FFProbe reads container durations with ffprobe.
type FFProbe struct {
	command string
}

func NewFFProbe(command string) *FFProbe {
	if command == "" {
		command = "ffprobe"
	}
	return &FFProbe{command: command}
}

func (p *FFProbe) Probe(ctx context.Context, path string) (time.Duration, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.command, args...)
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w: %s", err, stringsTrimSpaceSafe(stderr.String()))
	}

	value := stringsTrimSpaceSafe(string(output))
	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe returned unusable duration %q", value)
	}
	if seconds < 0 {
		return 0, fmt.Errorf("ffprobe returned negative duration %q", value)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// WAVInspector checks raw captures by reading their RIFF header.
type WAVInspector struct{}

// Inspect returns the PCM duration recorded in the WAV header.
func (WAVInspector) Inspect(_ context.Context, path string) (time.Duration, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidCapture, err)
	}
	defer file.Close()

	decoder := wav.NewDecoder(file)
	if !decoder.IsValidFile() {
		return 0, fmt.Errorf("%w: %s", ErrInvalidCapture, path)
	}
	if err := decoder.FwdToPCM(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidCapture, err)
	}

	bytesPerSecond := int64(decoder.SampleRate) * int64(decoder.NumChans) * int64(decoder.BitDepth) / 8
	if bytesPerSecond <= 0 {
		return 0, fmt.Errorf("%w: zero byte rate", ErrInvalidCapture)
	}
	return time.Duration(decoder.PCMLen() * int64(time.Second) / bytesPerSecond), nil
}

func stringsTrimSpaceSafe(input string) string {
	if input == "" {
		return input
	}
	return strings.TrimSpace(input)
}
