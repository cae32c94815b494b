package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/floostack/transcoder"
	"github.com/floostack/transcoder/ffmpeg"
	"github.com/ingesthub/ingesthub/pkg/logger"
)

var log = logger.Get("Media")

// DefaultProxyHeight caps video proxies when the request does not specify
// its own height.
const DefaultProxyHeight = 720

const (
	proxyCrf       = 23
	thumbnailWidth = 480
)

type (
	Config struct {
		FfmpegBinPath  string `yaml:"ffmpeg_binary" env:"INGESTHUB_FFMPEG_BINARY_PATH" env-default:""`
		FfprobeBinPath string `yaml:"ffprobe_binary" env:"INGESTHUB_FFPROBE_BINARY_PATH" env-default:""`
	}

	// Generator produces web-playable proxies and JPEG thumbnails from
	// source media via ffmpeg. Every method is idempotent: an output
	// which already exists on disk is returned as-is.
	Generator interface {
		VideoProxy(ctx context.Context, source string, outputDir string, maxHeight int) (string, error)
		VideoThumbnail(ctx context.Context, source string, outputDir string) (string, error)
		ImageThumbnail(ctx context.Context, source string, outputDir string) (string, error)
	}

	ffmpegGenerator struct {
		config Config
	}
)

func NewGenerator(config Config) Generator {
	return &ffmpegGenerator{config: config}
}

// VideoProxy transcodes the source down to a web-playable H.264 MP4 capped
// at the given height, with even dimensions and a faststart moov atom.
func (gen *ffmpegGenerator) VideoProxy(ctx context.Context, source string, outputDir string, maxHeight int) (string, error) {
	outputPath := derivativePath(source, outputDir, "_proxy.mp4")
	if _, err := os.Stat(outputPath); err == nil {
		return outputPath, nil
	}

	if maxHeight <= 0 {
		maxHeight = DefaultProxyHeight
	}

	outputFormat := "mp4"
	videoCodec := "libx264"
	preset := "fast"
	crf := uint32(proxyCrf)
	videoFilter := fmt.Sprintf("scale=-2:'min(%d,ih)':flags=lanczos,pad=ceil(iw/2)*2:ceil(ih/2)*2", maxHeight)
	audioCodec := "aac"
	audioBitrate := "128k"
	movFlags := "+faststart"
	pixFmt := "yuv420p"
	overwrite := true

	err := gen.run(ctx, source, outputPath, ffmpeg.Options{
		OutputFormat: &outputFormat,
		VideoCodec:   &videoCodec,
		Preset:       &preset,
		Crf:          &crf,
		VideoFilter:  &videoFilter,
		AudioCodec:   &audioCodec,
		AudioBitrate: &audioBitrate,
		MovFlags:     &movFlags,
		PixFmt:       &pixFmt,
		Overwrite:    &overwrite,
	})
	if err != nil {
		return "", fmt.Errorf("proxy generation for %s failed: %w", filepath.Base(source), err)
	}

	return outputPath, nil
}

// VideoThumbnail extracts a single frame one second in to the source as a
// width-capped JPEG.
func (gen *ffmpegGenerator) VideoThumbnail(ctx context.Context, source string, outputDir string) (string, error) {
	outputPath := derivativePath(source, outputDir, "_thumb.jpg")
	if _, err := os.Stat(outputPath); err == nil {
		return outputPath, nil
	}

	seekTime := "00:00:01"
	vframes := 1
	videoFilter := fmt.Sprintf("scale=%d:-2", thumbnailWidth)
	qscale := uint32(2)
	overwrite := true

	err := gen.run(ctx, source, outputPath, ffmpeg.Options{
		SeekTime:    &seekTime,
		Vframes:     &vframes,
		VideoFilter: &videoFilter,
		Qscale:      &qscale,
		Overwrite:   &overwrite,
	})
	if err != nil {
		return "", fmt.Errorf("thumbnail extraction for %s failed: %w", filepath.Base(source), err)
	}

	return outputPath, nil
}

// ImageThumbnail produces a small JPEG preview of the source image.
func (gen *ffmpegGenerator) ImageThumbnail(ctx context.Context, source string, outputDir string) (string, error) {
	outputPath := derivativePath(source, outputDir, "_thumb.jpg")
	if _, err := os.Stat(outputPath); err == nil {
		return outputPath, nil
	}

	videoFilter := fmt.Sprintf(
		"scale='min(%d,iw)':'min(%d,ih)':force_original_aspect_ratio=decrease:flags=lanczos",
		thumbnailWidth, thumbnailWidth)
	qscale := uint32(3)
	overwrite := true

	err := gen.run(ctx, source, outputPath, ffmpeg.Options{
		VideoFilter: &videoFilter,
		Qscale:      &qscale,
		Overwrite:   &overwrite,
	})
	if err != nil {
		return "", fmt.Errorf("image thumbnail generation for %s failed: %w", filepath.Base(source), err)
	}

	return outputPath, nil
}

func (gen *ffmpegGenerator) run(ctx context.Context, inputPath string, outputPath string, options transcoder.Options) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), os.ModePerm); err != nil {
		return err
	}

	instance := ffmpeg.
		New(&ffmpeg.Config{
			ProgressEnabled: true,
			FfmpegBinPath:   gen.config.FfmpegBinPath,
			FfprobeBinPath:  gen.config.FfprobeBinPath,
		}).
		Input(inputPath).
		Output(outputPath).
		WithContext(&ctx)

	progressChannel, err := instance.Start(options)
	if err != nil {
		gen.removePartialOutput(outputPath)
		return parseFfmpegError(err)
	}

	// Drain the progress channel until the command terminates.
	for range progressChannel {
	}

	if _, err := os.Stat(outputPath); err != nil {
		return fmt.Errorf("ffmpeg produced no output at %s", outputPath)
	}

	return nil
}

// removePartialOutput discards a half-written derivative so a retry never
// mistakes it for a completed one.
func (gen *ffmpegGenerator) removePartialOutput(outputPath string) {
	if err := os.Remove(outputPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Emit(logger.WARNING, "Failed to remove partial ffmpeg output %s: %v\n", outputPath, err)
	}
}

func derivativePath(source string, outputDir string, suffix string) string {
	stem := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	return filepath.Join(outputDir, stem+suffix)
}

func parseFfmpegError(err error) error {
	// Try and pick out some relevant information from the HUGE
	// output log from ffmpeg. The error we get contains lots of information
	// about how the binary was compiled... this is useless info, we just
	// want the 'message' JSON that is encoded inside.
	messageMatcher := regexp.MustCompile(`(?s)message: ({.*})`)
	groups := messageMatcher.FindStringSubmatch(err.Error())
	if len(groups) == 0 {
		return err
	}

	var out map[string]interface{}
	jsonErr := json.Unmarshal([]byte(groups[1]), &out)
	if jsonErr != nil {
		return errors.New(groups[1])
	}

	ffmpegException, ok := out["error"].(map[string]interface{})
	if !ok {
		return errors.New(groups[1])
	}

	return errors.New(ffmpegException["string"].(string))
}
