package ingest

import (
	"os"
	"path/filepath"

	"github.com/ingesthub/ingesthub/internal/catalog"
	"github.com/ingesthub/ingesthub/internal/media"
)

type (
	// ManifestEntry is one selected, on-disk file ready for processing.
	// Position is the file's 1-based index among ALL selected files,
	// including skipped ones, so progress counters stay stable.
	ManifestEntry struct {
		Position    int
		SubjectName string
		RelPath     string
		AbsPath     string
		Filename    string
		AssetType   string
		Kind        catalog.AssetKind
		SizeBytes   int64
	}

	// SkippedFile records a selected file which could not be resolved.
	SkippedFile struct {
		Position int
		Filename string
		Reason   string
	}

	// Manifest is the resolved form of a request's file selection.
	Manifest struct {
		Entries []ManifestEntry
		Skipped []SkippedFile
		Total   int
	}
)

// ResolveManifest validates the request's source directory and flattens the
// per-subject file selections into an ordered manifest. Subject names are
// normalized; files missing on disk are recorded as skipped rather than
// failing the resolution. Returns ErrSourceNotFound or ErrNoFilesSelected
// for the two request-level failures.
func ResolveManifest(request *Request) (*Manifest, error) {
	info, err := os.Stat(request.SourcePath)
	if err != nil || !info.IsDir() {
		return nil, ErrSourceNotFound
	}

	type selection struct {
		subjectName string
		file        FileSelection
	}

	var selected []selection
	for _, subject := range request.Subjects {
		normalized := catalog.NormalizeSubjectName(subject.Name)
		for _, file := range subject.Files {
			if file.Selected {
				selected = append(selected, selection{normalized, file})
			}
		}
	}

	if len(selected) == 0 {
		return nil, ErrNoFilesSelected
	}

	manifest := &Manifest{Total: len(selected)}
	for idx, sel := range selected {
		position := idx + 1
		absPath := filepath.Join(request.SourcePath, sel.file.OriginalPath)
		filename := filepath.Base(sel.file.OriginalPath)

		stat, err := os.Stat(absPath)
		if err != nil {
			manifest.Skipped = append(manifest.Skipped, SkippedFile{
				Position: position,
				Filename: filename,
				Reason:   "File not found",
			})
			continue
		}

		assetType := sel.file.AssetType
		if assetType == "" {
			assetType = "raw"
		}

		manifest.Entries = append(manifest.Entries, ManifestEntry{
			Position:    position,
			SubjectName: sel.subjectName,
			RelPath:     sel.file.OriginalPath,
			AbsPath:     absPath,
			Filename:    filename,
			AssetType:   assetType,
			Kind:        media.Classify(absPath),
			SizeBytes:   stat.Size(),
		})
	}

	return manifest, nil
}

// SubjectNames returns the distinct normalized subject names that have at
// least one selected file, in first-seen order.
func (request *Request) SubjectNames() []string {
	var names []string
	seen := make(map[string]struct{})
	for _, subject := range request.Subjects {
		hasSelected := false
		for _, file := range subject.Files {
			if file.Selected {
				hasSelected = true
				break
			}
		}
		if !hasSelected {
			continue
		}

		normalized := catalog.NormalizeSubjectName(subject.Name)
		if _, dup := seen[normalized]; !dup {
			seen[normalized] = struct{}{}
			names = append(names, normalized)
		}
	}

	return names
}
