package media_test

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/ingesthub/ingesthub/internal/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeChunk(buffer *bytes.Buffer, chunkType string, data []byte) {
	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(data)))
	buffer.Write(length)
	buffer.WriteString(chunkType)
	buffer.Write(data)
	buffer.Write([]byte{0, 0, 0, 0})
}

func writeTestPng(t *testing.T, chunks func(*bytes.Buffer)) string {
	buffer := &bytes.Buffer{}
	buffer.WriteString("\x89PNG\r\n\x1a\n")
	writeChunk(buffer, "IHDR", make([]byte, 13))
	chunks(buffer)
	writeChunk(buffer, "IEND", nil)

	path := filepath.Join(t.TempDir(), "face.png")
	require.NoError(t, os.WriteFile(path, buffer.Bytes(), 0o644))
	return path
}

func Test_ReadFaceMetadata_ParsesDflHeader(t *testing.T) {
	header := `{"face_type": "whole_face", "yaw": -12.5, "pitch": 4.0, "source_filename": "frame_000120.png"}`
	path := writeTestPng(t, func(buffer *bytes.Buffer) {
		writeChunk(buffer, "tEXt", append([]byte("dfl_header\x00"), header...))
	})

	face, err := media.ReadFaceMetadata(path)
	require.NoError(t, err)
	require.NotNil(t, face)

	assert.Equal(t, "whole_face", face["face_type"])
	assert.Equal(t, -12.5, face["yaw"])
	assert.Equal(t, "frame_000120.png", face["source_filename"])
}

func Test_ReadFaceMetadata_IgnoresUnrelatedTextChunks(t *testing.T) {
	path := writeTestPng(t, func(buffer *bytes.Buffer) {
		writeChunk(buffer, "tEXt", []byte("Comment\x00created by test"))
	})

	face, err := media.ReadFaceMetadata(path)
	assert.NoError(t, err)
	assert.Nil(t, face)
}

// The pickle writers below emit protocol 2 opcodes, matching the streams
// the aligned-face tooling embeds in fcWp chunks.
func pickleString(buffer *bytes.Buffer, value string) {
	buffer.WriteByte('U')
	buffer.WriteByte(byte(len(value)))
	buffer.WriteString(value)
}

func pickleFloat(buffer *bytes.Buffer, value float64) {
	buffer.WriteByte('G')
	raw := make([]byte, 8)
	binary.BigEndian.PutUint64(raw, math.Float64bits(value))
	buffer.Write(raw)
}

func pickleInt(buffer *bytes.Buffer, value uint16) {
	buffer.WriteByte('M')
	raw := make([]byte, 2)
	binary.LittleEndian.PutUint16(raw, value)
	buffer.Write(raw)
}

func pickledFaceHeader() []byte {
	payload := &bytes.Buffer{}
	payload.WriteString("\x80\x02}(")

	pickleString(payload, "pose")
	pickleFloat(payload, 12.5)
	pickleFloat(payload, -30.0)
	pickleFloat(payload, 2.0)
	payload.WriteByte('\x87')

	pickleString(payload, "face_type")
	pickleString(payload, "whole_face")

	pickleString(payload, "source_filename")
	pickleString(payload, "shot_0042.png")

	pickleString(payload, "source_size")
	pickleInt(payload, 3840)
	pickleInt(payload, 2160)
	payload.WriteByte('\x86')

	pickleString(payload, "sharpness")
	pickleFloat(payload, 7.25)

	// A numpy landmarks array: GLOBAL _reconstruct, REDUCE with empty
	// args, BUILD with empty state.
	pickleString(payload, "source_landmarks")
	payload.WriteString("cnumpy.core.multiarray\n_reconstruct\n)R)b")

	payload.WriteString("u.")
	return payload.Bytes()
}

func Test_ReadFaceMetadata_DecodesPickledHeader(t *testing.T) {
	path := writeTestPng(t, func(buffer *bytes.Buffer) {
		writeChunk(buffer, "fcWp", pickledFaceHeader())
	})

	face, err := media.ReadFaceMetadata(path)
	require.NoError(t, err)
	require.NotNil(t, face)

	assert.Equal(t, 12.5, face["pitch"])
	assert.Equal(t, -30.0, face["yaw"])
	assert.Equal(t, 2.0, face["roll"])
	assert.Equal(t, "whole_face", face["face_type"])
	assert.Equal(t, "shot_0042.png", face["source_filename"])
	assert.Equal(t, 3840, face["source_width"])
	assert.Equal(t, 2160, face["source_height"])
	assert.Equal(t, 7.25, face["sharpness"])
	assert.Equal(t, 7.25, face["confidence"])

	// The numpy array decodes to a stand-in and is omitted.
	_, hasLandmarks := face["landmarks"]
	assert.False(t, hasLandmarks)
}

func Test_ReadFaceMetadata_UndecodablePickleYieldsNothing(t *testing.T) {
	path := writeTestPng(t, func(buffer *bytes.Buffer) {
		writeChunk(buffer, "fcWp", []byte{0x80, 0x04, 0x95, 0x01})
	})

	face, err := media.ReadFaceMetadata(path)
	assert.NoError(t, err)
	assert.Nil(t, face)
}

func Test_ReadFaceMetadata_OversizedChunkAbortsScan(t *testing.T) {
	path := writeTestPng(t, func(buffer *bytes.Buffer) {
		length := make([]byte, 4)
		binary.BigEndian.PutUint32(length, 512<<20)
		buffer.Write(length)
		buffer.WriteString("fcWp")
		buffer.Write([]byte{1, 2, 3})
	})

	face, err := media.ReadFaceMetadata(path)
	assert.NoError(t, err)
	assert.Nil(t, face)
}

func Test_ReadFaceMetadata_MalformedHeaderErrors(t *testing.T) {
	path := writeTestPng(t, func(buffer *bytes.Buffer) {
		writeChunk(buffer, "tEXt", []byte("dfl_header\x00{not json"))
	})

	_, err := media.ReadFaceMetadata(path)
	assert.Error(t, err)
}

func Test_ReadFaceMetadata_NonPngYieldsNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.jpg")
	require.NoError(t, os.WriteFile(path, []byte("\xff\xd8\xff\xe0 not a png"), 0o644))

	face, err := media.ReadFaceMetadata(path)
	assert.NoError(t, err)
	assert.Nil(t, face)
}

func Test_ReadFaceMetadata_MissingFileYieldsNothing(t *testing.T) {
	face, err := media.ReadFaceMetadata(filepath.Join(t.TempDir(), "nope.png"))
	assert.NoError(t, err)
	assert.Nil(t, face)
}
