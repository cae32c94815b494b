package dataset_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ingesthub/ingesthub/internal/catalog"
	"github.com/ingesthub/ingesthub/internal/dataset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSource(t *testing.T, dir string, name string) string {
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("media"), 0o644))
	return path
}

func Test_Mirror_CreatesLayeredSymlinkTree(t *testing.T) {
	sourceDir := t.TempDir()
	datasetDir := t.TempDir()
	clip := writeSource(t, sourceDir, "clip.mov")
	boom := writeSource(t, sourceDir, "boom.wav")

	result := dataset.Mirror(datasetDir, "Shoot 042", []dataset.MirrorAsset{
		{OriginalPath: clip, Kind: catalog.KindVideo, AssetType: "raw"},
		{OriginalPath: boom, Kind: catalog.KindAudio, AssetType: "raw"},
	})

	assert.Equal(t, 2, result.Created)
	assert.Zero(t, result.Skipped)
	assert.Empty(t, result.Errors)

	visualLink := filepath.Join(datasetDir, "media", "external", "from_client", "Shoot 042", "visuals", "raw", "clip.mov")
	audioLink := filepath.Join(datasetDir, "media", "external", "from_client", "Shoot 042", "audio", "raw", "boom.wav")

	linked, err := os.Readlink(visualLink)
	require.NoError(t, err)
	assert.Equal(t, clip, linked)

	linked, err = os.Readlink(audioLink)
	require.NoError(t, err)
	assert.Equal(t, boom, linked)
}

func Test_Mirror_SecondPassSkipsExistingLinks(t *testing.T) {
	sourceDir := t.TempDir()
	datasetDir := t.TempDir()
	clip := writeSource(t, sourceDir, "clip.mov")
	assets := []dataset.MirrorAsset{{OriginalPath: clip, Kind: catalog.KindVideo, AssetType: "raw"}}

	first := dataset.Mirror(datasetDir, "pkg", assets)
	assert.Equal(t, 1, first.Created)

	second := dataset.Mirror(datasetDir, "pkg", assets)
	assert.Zero(t, second.Created)
	assert.Equal(t, 1, second.Skipped)
}

func Test_Mirror_ReplacesStaleLinks(t *testing.T) {
	sourceDir := t.TempDir()
	datasetDir := t.TempDir()
	oldClip := writeSource(t, sourceDir, "old.mov")
	newClip := writeSource(t, sourceDir, "clip.mov")

	// Pre-seed a link at the expected location pointing somewhere else.
	linkPath := filepath.Join(datasetDir, "media", "external", "from_client", "pkg", "visuals", "raw", "clip.mov")
	require.NoError(t, os.MkdirAll(filepath.Dir(linkPath), 0o755))
	require.NoError(t, os.Symlink(oldClip, linkPath))

	result := dataset.Mirror(datasetDir, "pkg", []dataset.MirrorAsset{
		{OriginalPath: newClip, Kind: catalog.KindVideo, AssetType: "raw"},
	})

	assert.Equal(t, 1, result.Created)
	linked, err := os.Readlink(linkPath)
	require.NoError(t, err)
	assert.Equal(t, newClip, linked)
}

func Test_Mirror_SanitizesTraversalComponents(t *testing.T) {
	sourceDir := t.TempDir()
	datasetDir := t.TempDir()
	clip := writeSource(t, sourceDir, "clip.mov")

	result := dataset.Mirror(datasetDir, "../../escape", []dataset.MirrorAsset{
		{OriginalPath: clip, Kind: catalog.KindVideo, AssetType: "../../../etc"},
	})

	// Both components are reduced to their base names, so the link still
	// lands inside the dataset directory.
	assert.Equal(t, 1, result.Created)
	safeLink := filepath.Join(datasetDir, "media", "external", "from_client", "escape", "visuals", "etc", "clip.mov")
	_, err := os.Readlink(safeLink)
	assert.NoError(t, err)

	escaped := filepath.Join(filepath.Dir(filepath.Dir(datasetDir)), "escape")
	_, err = os.Stat(escaped)
	assert.True(t, os.IsNotExist(err), "nothing may be written outside the dataset directory")
}

func Test_Mirror_ResolvesSymlinkedDatasetDir(t *testing.T) {
	sourceDir := t.TempDir()
	realDir := t.TempDir()
	clip := writeSource(t, sourceDir, "clip.mov")

	linkedDir := filepath.Join(t.TempDir(), "dataset")
	require.NoError(t, os.Symlink(realDir, linkedDir))

	result := dataset.Mirror(linkedDir, "pkg", []dataset.MirrorAsset{
		{OriginalPath: clip, Kind: catalog.KindVideo, AssetType: "raw"},
	})

	assert.Equal(t, 1, result.Created)
	assert.Empty(t, result.Errors)

	// The link lands under the resolved directory, reachable through both
	// paths.
	resolved := filepath.Join(realDir, "media", "external", "from_client", "pkg", "visuals", "raw", "clip.mov")
	linked, err := os.Readlink(resolved)
	require.NoError(t, err)
	assert.Equal(t, clip, linked)
}

func Test_Mirror_DefaultsEmptyAssetTypeToRaw(t *testing.T) {
	sourceDir := t.TempDir()
	datasetDir := t.TempDir()
	clip := writeSource(t, sourceDir, "clip.mov")

	result := dataset.Mirror(datasetDir, "pkg", []dataset.MirrorAsset{
		{OriginalPath: clip, Kind: catalog.KindVideo},
	})

	assert.Equal(t, 1, result.Created)
	link := filepath.Join(datasetDir, "media", "external", "from_client", "pkg", "visuals", "raw", "clip.mov")
	_, err := os.Readlink(link)
	assert.NoError(t, err)
}
