// Media file classification, probing and derivative generation for the
// ingest pipeline. Classification is purely extension based; probing runs
// ffprobe; derivatives (proxies, thumbnails) run through ffmpeg.
package media

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/ingesthub/ingesthub/internal/catalog"
)

var videoExtensions = map[string]struct{}{
	".mp4": {}, ".mov": {}, ".avi": {}, ".mkv": {}, ".wmv": {}, ".flv": {},
	".webm": {}, ".m4v": {}, ".mpg": {}, ".mpeg": {}, ".mxf": {}, ".ts": {},
	".mts": {}, ".m2ts": {}, ".3gp": {}, ".ogv": {}, ".r3d": {},
}

var imageExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".tiff": {}, ".tif": {}, ".bmp": {},
	".webp": {}, ".exr": {}, ".dpx": {}, ".hdr": {}, ".gif": {}, ".heic": {},
	".heif": {}, ".raw": {}, ".cr2": {}, ".cr3": {}, ".nef": {}, ".arw": {},
	".dng": {},
}

var audioExtensions = map[string]struct{}{
	".wav": {}, ".aiff": {}, ".aif": {}, ".mp3": {}, ".flac": {}, ".ogg": {}, ".m4a": {},
}

// Codecs browsers cannot play natively. Assets carrying one of these always
// receive a proxy regardless of their resolution.
var nonWebVideoCodecs = map[string]struct{}{
	"prores": {}, "dnxhd": {}, "dnxhr": {}, "cfhd": {}, "v210": {},
	"rawvideo": {}, "ffv1": {}, "huffyuv": {}, "mjpeg": {}, "mpeg2video": {},
	"r210": {},
}

// Classify derives the broad media kind of a file from its extension alone.
// Anything unrecognized is KindOther and passes through ingest unprobed.
func Classify(path string) catalog.AssetKind {
	switch ext := strings.ToLower(filepath.Ext(path)); {
	case extIn(ext, videoExtensions):
		return catalog.KindVideo
	case extIn(ext, imageExtensions):
		return catalog.KindImage
	case extIn(ext, audioExtensions):
		return catalog.KindAudio
	default:
		return catalog.KindOther
	}
}

// MimeType guesses the MIME type for a file from its extension, returning an
// empty string when the extension is unknown to the platform MIME database.
func MimeType(path string) string {
	mediaType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if idx := strings.IndexByte(mediaType, ';'); idx >= 0 {
		mediaType = mediaType[:idx]
	}

	return strings.TrimSpace(mediaType)
}

// IsNonWebCodec reports whether the provided video codec needs transcoding
// before a browser can play it.
func IsNonWebCodec(codec string) bool {
	return extIn(strings.ToLower(codec), nonWebVideoCodecs)
}

func extIn(ext string, set map[string]struct{}) bool {
	_, ok := set[ext]
	return ok
}
