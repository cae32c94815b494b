package media_test

import (
	"testing"

	"github.com/ingesthub/ingesthub/internal/catalog"
	"github.com/ingesthub/ingesthub/internal/media"
	"github.com/stretchr/testify/assert"
)

func Test_Classify_MapsExtensionsToKinds(t *testing.T) {
	tests := []struct {
		Summary  string
		Path     string
		Expected catalog.AssetKind
	}{
		{"common video container", "/mnt/raw/A001_C002.mov", catalog.KindVideo},
		{"broadcast container", "clip.MXF", catalog.KindVideo},
		{"red raw", "shot.r3d", catalog.KindVideo},
		{"aligned face png", "aligned/frame_00001.png", catalog.KindImage},
		{"raw camera still", "IMG_4421.CR3", catalog.KindImage},
		{"production audio", "boom_01.wav", catalog.KindAudio},
		{"sidecar xml is not media", "A001_C002.xml", catalog.KindOther},
		{"no extension", "README", catalog.KindOther},
	}

	for _, test := range tests {
		t.Run(test.Summary, func(t *testing.T) {
			assert.Equal(t, test.Expected, media.Classify(test.Path))
		})
	}
}

func Test_MimeType_StripsParameters(t *testing.T) {
	assert.Equal(t, "video/mp4", media.MimeType("clip.mp4"))
	assert.Equal(t, "image/png", media.MimeType("face.png"))
	assert.Equal(t, "", media.MimeType("unknown.zzz"))
}

func Test_IsNonWebCodec_MatchesCaseInsensitively(t *testing.T) {
	assert.True(t, media.IsNonWebCodec("prores"))
	assert.True(t, media.IsNonWebCodec("ProRes"))
	assert.True(t, media.IsNonWebCodec("mpeg2video"))
	assert.False(t, media.IsNonWebCodec("h264"))
	assert.False(t, media.IsNonWebCodec(""))
}
