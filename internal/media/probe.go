package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/ingesthub/ingesthub/internal/catalog"
)

const probeTimeout = time.Second * 30

type (
	// ProbeResult is the normalized output of a single ffprobe call,
	// reduced to the properties the ingest pipeline records on an asset.
	ProbeResult struct {
		Width           int
		Height          int
		DurationSeconds float64
		Codec           string
		Camera          string
		NeedsProxy      bool
		FrameRate       float64
		PixelFormat     string
		ColorSpace      string
		BitRate         int64
		AudioCodec      string
		AudioSampleRate int
		AudioChannels   int
		ContainerFormat string
	}

	// Prober abstracts the ffprobe invocation so the pipeline can be
	// exercised in tests without a real binary on the PATH.
	Prober interface {
		Probe(ctx context.Context, path string) (*ProbeResult, error)
	}

	ffprobeProber struct {
		binPath string
	}
)

func NewProber(ffprobeBinPath string) Prober {
	if ffprobeBinPath == "" {
		ffprobeBinPath = "ffprobe"
	}

	return &ffprobeProber{binPath: ffprobeBinPath}
}

// Probe runs a single ffprobe JSON call against the path and returns the
// parsed result.
func (prober *ffprobeProber) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, prober.binPath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format", "-show_streams",
		path,
	)

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe %q: %w", path, err)
	}

	return ParseProbeJSON(out)
}

// ParseProbeJSON converts raw ffprobe JSON output into a ProbeResult.
// Exported for testing without a real ffprobe binary.
func ParseProbeJSON(data []byte) (*ProbeResult, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe JSON: %w", err)
	}

	return buildProbeResult(&raw), nil
}

// ffprobe JSON wire types. Numeric values arrive as strings.

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	FormatName string            `json:"format_name"`
	Duration   string            `json:"duration"`
	BitRate    string            `json:"bit_rate"`
	Tags       map[string]string `json:"tags"`
}

type ffprobeStream struct {
	CodecName  string            `json:"codec_name"`
	CodecType  string            `json:"codec_type"`
	PixFmt     string            `json:"pix_fmt"`
	Width      int               `json:"width"`
	Height     int               `json:"height"`
	ColorSpace string            `json:"color_space"`
	RFrameRate string            `json:"r_frame_rate"`
	SampleRate string            `json:"sample_rate"`
	Channels   int               `json:"channels"`
	Tags       map[string]string `json:"tags"`
}

func buildProbeResult(raw *ffprobeOutput) *ProbeResult {
	var videoStream, audioStream *ffprobeStream
	for i := range raw.Streams {
		stream := &raw.Streams[i]
		if stream.CodecType == "video" && videoStream == nil {
			videoStream = stream
		}
		if stream.CodecType == "audio" && audioStream == nil {
			audioStream = stream
		}
	}

	result := &ProbeResult{
		DurationSeconds: parseFloat(raw.Format.Duration),
		BitRate:         parseInt64(raw.Format.BitRate),
		ContainerFormat: raw.Format.FormatName,
	}

	tags := make(map[string]string, len(raw.Format.Tags))
	for k, v := range raw.Format.Tags {
		tags[k] = v
	}

	if videoStream != nil {
		result.Width = videoStream.Width
		result.Height = videoStream.Height
		result.Codec = videoStream.CodecName
		result.NeedsProxy = IsNonWebCodec(videoStream.CodecName)
		result.FrameRate = parseFrameRate(videoStream.RFrameRate)
		result.PixelFormat = videoStream.PixFmt
		result.ColorSpace = videoStream.ColorSpace
		for k, v := range videoStream.Tags {
			tags[k] = v
		}
	}

	if audioStream != nil {
		result.AudioCodec = audioStream.CodecName
		result.AudioSampleRate = parseInt(audioStream.SampleRate)
		result.AudioChannels = audioStream.Channels
		if result.Codec == "" {
			result.Codec = audioStream.CodecName
		}
	}

	cameraMake := firstNonEmpty(tags["make"], tags["com.apple.quicktime.make"])
	cameraModel := firstNonEmpty(tags["model"], tags["com.apple.quicktime.model"])
	result.Camera = strings.TrimSpace(cameraMake + " " + cameraModel)

	return result
}

// Technical flattens the probe result into the typed metadata section stored
// under the asset's 'technical' key.
func (result *ProbeResult) Technical() catalog.TechnicalMetadata {
	return catalog.TechnicalMetadata{
		Container:    result.ContainerFormat,
		Codec:        result.Codec,
		Width:        result.Width,
		Height:       result.Height,
		FrameRate:    result.FrameRate,
		Duration:     result.DurationSeconds,
		BitRate:      int(result.BitRate),
		NeedsProxy:   result.NeedsProxy,
		SampleRate:   result.AudioSampleRate,
		ChannelCount: result.AudioChannels,
	}
}

// parseFrameRate parses the fractional rate strings ffprobe emits, such as
// "24000/1001".
func parseFrameRate(rate string) float64 {
	if rate == "" {
		return 0
	}

	if num, den, found := strings.Cut(rate, "/"); found {
		n := parseFloat(num)
		d := parseFloat(den)
		if d == 0 {
			return 0
		}

		return roundTo(n/d, 3)
	}

	return roundTo(parseFloat(rate), 3)
}

func roundTo(v float64, places int) float64 {
	shift := 1.0
	for i := 0; i < places; i++ {
		shift *= 10
	}

	return float64(int64(v*shift+0.5)) / shift
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return n
}

func parseInt(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}
