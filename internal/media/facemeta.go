package media

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ingesthub/ingesthub/pkg/logger"
	"github.com/nlpodyssey/gopickle/pickle"
	"github.com/nlpodyssey/gopickle/types"
)

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// maxFaceChunkLength bounds how much of a single PNG chunk is read into
// memory while scanning for a face header. Real headers are a few KiB;
// a chunk claiming more than this aborts the scan instead of allocating.
const maxFaceChunkLength = 64 << 20

// ReadFaceMetadata walks the chunks of a PNG file looking for an embedded
// face header and returns its fields as a metadata map. Two chunk formats
// are recognized:
//   - tEXt chunks keyed 'dfl_header' carrying a JSON payload;
//   - 'fcWp' chunks carrying a pickled dict, decoded with numpy values
//     replaced by inert stand-ins.
//
// Returns nil (and no error) when the file is not a PNG or carries no
// readable face header.
func ReadFaceMetadata(path string) (map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil
	}
	defer f.Close()

	return parseFaceChunks(f)
}

func parseFaceChunks(r io.Reader) (map[string]any, error) {
	signature := make([]byte, len(pngSignature))
	if _, err := io.ReadFull(r, signature); err != nil || !bytes.Equal(signature, pngSignature) {
		return nil, nil
	}

	header := make([]byte, 8)
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			// Truncated files just end the walk.
			return nil, nil
		}

		length := binary.BigEndian.Uint32(header[:4])
		chunkType := string(header[4:8])

		if chunkType == "IEND" {
			return nil, nil
		}

		if length > maxFaceChunkLength {
			log.Emit(logger.WARNING, "Oversized %s chunk (%d bytes), abandoning face header scan\n", chunkType, length)
			return nil, nil
		}

		data := make([]byte, length)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, nil
		}

		// Skip the trailing CRC.
		if _, err := io.CopyN(io.Discard, r, 4); err != nil {
			return nil, nil
		}

		switch chunkType {
		case "fcWp":
			return parseFcwpHeader(data)
		case "tEXt":
			if face, err := parseDflHeader(data); face != nil || err != nil {
				return face, err
			}
		}
	}
}

// parseDflHeader splits a tEXt chunk into its keyword and value, decoding
// the value as JSON when the keyword is 'dfl_header'. Non-matching keywords
// yield (nil, nil) so the chunk walk continues.
func parseDflHeader(data []byte) (map[string]any, error) {
	key, value, found := bytes.Cut(data, []byte{0})
	if !found || string(key) != "dfl_header" {
		return nil, nil
	}

	var face map[string]any
	if err := json.Unmarshal(value, &face); err != nil {
		return nil, fmt.Errorf("malformed dfl_header JSON: %w", err)
	}

	return face, nil
}

// parseFcwpHeader decodes a pickle-serialized face header into the same
// normalized shape as a dfl_header. Any numpy value inside the pickle is
// replaced by a stand-in during decoding; fields whose values land on a
// stand-in are omitted. Undecodable payloads yield (nil, nil) so the
// asset is ingested without face metadata.
func parseFcwpHeader(data []byte) (map[string]any, error) {
	unpickler := pickle.NewUnpickler(bytes.NewReader(data))
	unpickler.FindClass = findFaceClass

	raw, err := unpickler.Load()
	if err != nil {
		log.Emit(logger.DEBUG, "Undecodable fcWp face header: %v\n", err)
		return nil, nil
	}

	dict, ok := raw.(*types.Dict)
	if !ok {
		return nil, nil
	}

	face := make(map[string]any)

	if pose, ok := sequenceFloats(dictGet(dict, "pose")); ok && len(pose) >= 3 {
		face["pitch"] = pose[0]
		face["yaw"] = pose[1]
		face["roll"] = pose[2]
	}

	for _, key := range []string{"source_filename", "source_filepath", "face_type"} {
		if value, ok := dictGet(dict, key).(string); ok {
			face[key] = value
		}
	}

	if size, ok := sequenceFloats(dictGet(dict, "source_size")); ok && len(size) >= 2 {
		face["source_width"] = int(size[0])
		face["source_height"] = int(size[1])
	}

	landmarks := dictGet(dict, "source_landmarks")
	if landmarks == nil {
		landmarks = dictGet(dict, "landmarks")
	}
	if points, ok := landmarkPoints(landmarks); ok {
		face["landmarks"] = points
	}

	for _, key := range []string{"sharpness", "pureness", "brightness", "hue", "black"} {
		if value, ok := pickledFloat(dictGet(dict, key)); ok {
			face[key] = value
		}
	}

	if sharpness, ok := face["sharpness"]; ok {
		if _, exists := face["confidence"]; !exists {
			face["confidence"] = sharpness
		}
	}

	if len(face) == 0 {
		return nil, nil
	}

	return face, nil
}

// numpyStandin takes the place of any numpy class or function referenced
// by a pickled face header. Construction and state are swallowed so the
// surrounding dict still decodes without numpy itself.
type numpyStandin struct{}

func (stub *numpyStandin) Call(_ ...interface{}) (interface{}, error)  { return &numpyStandin{}, nil }
func (stub *numpyStandin) PyNew(_ ...interface{}) (interface{}, error) { return &numpyStandin{}, nil }
func (stub *numpyStandin) PySetState(_ interface{}) error              { return nil }

func findFaceClass(module string, name string) (interface{}, error) {
	if strings.HasPrefix(module, "numpy") {
		return &numpyStandin{}, nil
	}

	return types.NewGenericClass(module, name), nil
}

// sequence is the common read surface of pickled lists and tuples.
type sequence interface {
	Len() int
	Get(i int) interface{}
}

func dictGet(dict *types.Dict, key string) any {
	value, _ := dict.Get(key)
	return value
}

func sequenceFloats(value any) ([]float64, bool) {
	seq, ok := value.(sequence)
	if !ok {
		return nil, false
	}

	out := make([]float64, 0, seq.Len())
	for i := 0; i < seq.Len(); i++ {
		number, ok := pickledFloat(seq.Get(i))
		if !ok {
			return nil, false
		}

		out = append(out, number)
	}

	return out, true
}

// landmarkPoints converts a pickled landmark collection into plain
// slices. Flat sequences become []float64, nested ones a slice of
// per-point []float64; non-numeric entries are dropped.
func landmarkPoints(value any) ([]any, bool) {
	seq, ok := value.(sequence)
	if !ok {
		return nil, false
	}

	out := make([]any, 0, seq.Len())
	for i := 0; i < seq.Len(); i++ {
		item := seq.Get(i)
		if nested, ok := sequenceFloats(item); ok {
			out = append(out, nested)
			continue
		}

		if number, ok := pickledFloat(item); ok {
			out = append(out, number)
		}
	}

	return out, true
}

func pickledFloat(value any) (float64, bool) {
	switch number := value.(type) {
	case float64:
		return number, true
	case float32:
		return float64(number), true
	case int:
		return float64(number), true
	case int64:
		return float64(number), true
	case uint64:
		return float64(number), true
	}

	return 0, false
}
