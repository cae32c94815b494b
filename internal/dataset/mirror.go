package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ingesthub/ingesthub/internal/catalog"
	"github.com/ingesthub/ingesthub/pkg/logger"
)

var log = logger.Get("Dataset")

var audioMirrorExtensions = map[string]struct{}{
	".wav": {}, ".mp3": {}, ".aac": {}, ".flac": {}, ".ogg": {}, ".m4a": {},
	".aiff": {}, ".wma": {},
}

type (
	// MirrorAsset is one ingested file to be linked into a dataset
	// directory.
	MirrorAsset struct {
		OriginalPath string
		Kind         catalog.AssetKind
		AssetType    string
	}

	// MirrorResult reports the outcome of a symlink pass. Errors are
	// collected per file and never abort the pass.
	MirrorResult struct {
		Created int      `json:"created"`
		Skipped int      `json:"skipped"`
		Errors  []string `json:"errors"`
	}
)

// Mirror creates symlinks from a dataset directory back to the ingested
// source files, laid out as:
//
//	{datasetDir}/media/external/from_client/{package}/{audio|visuals}/{assetType}/{filename}
//
// Path components taken from request data are reduced to their base name so
// a crafted package or asset type can never escape the dataset directory.
// The dataset directory itself is resolved through any symlinks before the
// containment check so the comparison runs on real paths.
// Existing links pointing at the same source are skipped; stale links are
// replaced.
func Mirror(datasetDir string, packageName string, assets []MirrorAsset) MirrorResult {
	result := MirrorResult{Errors: []string{}}

	root, err := filepath.Abs(datasetDir)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", datasetDir, err))
		return result
	}
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}

	base := filepath.Join(root, "media", "external", "from_client", filepath.Base(packageName))

	for _, asset := range assets {
		filename := filepath.Base(asset.OriginalPath)

		mediaType := "visuals"
		ext := strings.ToLower(filepath.Ext(asset.OriginalPath))
		if _, isAudio := audioMirrorExtensions[ext]; isAudio || asset.Kind == catalog.KindAudio {
			mediaType = "audio"
		}

		assetType := asset.AssetType
		if assetType == "" {
			assetType = "raw"
		}

		target := filepath.Join(base, mediaType, filepath.Base(assetType), filename)
		if !strings.HasPrefix(target, base+string(filepath.Separator)) {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: path escapes dataset directory", filename))
			continue
		}

		if err := linkAsset(asset.OriginalPath, target, &result); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", filename, err))
			log.Emit(logger.WARNING, "Symlink error for %s: %v\n", filename, err)
		}
	}

	log.Emit(logger.INFO, "Dataset symlinks for %s/%s: created=%d skipped=%d errors=%d\n",
		filepath.Base(datasetDir), packageName, result.Created, result.Skipped, len(result.Errors))
	return result
}

func linkAsset(source string, target string, result *MirrorResult) error {
	if err := os.MkdirAll(filepath.Dir(target), os.ModePerm); err != nil {
		return err
	}

	if existing, err := os.Readlink(target); err == nil {
		if sameFile(existing, source) {
			result.Skipped++
			return nil
		}

		// Stale link to a different source.
		if err := os.Remove(target); err != nil {
			return err
		}
	}

	if err := os.Symlink(source, target); err != nil {
		return err
	}

	result.Created++
	return nil
}

func sameFile(a string, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return a == b
	}

	return absA == absB
}
