// Ingest execution: manifest resolution, derivative fan-out, catalog
// writes, aggregation and dataset mirroring, all inside one database
// transaction per request.
package ingest

import (
	"errors"

	"github.com/google/uuid"
	"github.com/ingesthub/ingesthub/internal/catalog"
)

var (
	ErrSourceNotFound  = errors.New("source path does not exist or is not a directory")
	ErrNoFilesSelected = errors.New("no files selected for ingestion")
	ErrProjectNotFound = errors.New("project does not exist")
)

type (
	// FileSelection is one file inside a subject's selection. Only
	// selected files participate in the ingest.
	FileSelection struct {
		OriginalPath string `json:"original_path" validate:"required"`
		AssetType    string `json:"asset_type"`
		Selected     bool   `json:"selected"`
	}

	// SubjectSelection groups the selected files attributed to a single
	// subject. The name is normalized before any database access.
	SubjectSelection struct {
		Name  string          `json:"name" validate:"required"`
		Files []FileSelection `json:"files" validate:"required"`
	}

	// DatasetMapping requests a symlink mirror of a subject's ingested
	// files into the given dataset directory.
	DatasetMapping struct {
		SubjectName string `json:"subject_name" validate:"required"`
		DatasetDir  string `json:"dataset_dir" validate:"required"`
		IsNew       bool   `json:"is_new"`
	}

	// Request describes one ingest execution.
	Request struct {
		ProjectID       uuid.UUID              `json:"project_id" validate:"required"`
		SourcePath      string                 `json:"source_path" validate:"required"`
		PackageName     string                 `json:"package_name" validate:"required"`
		Description     string                 `json:"description"`
		Variant         catalog.PackageVariant `json:"variant" validate:"omitempty,oneof=standard specialized"`
		Tags            []string               `json:"tags"`
		SkipProxies     bool                   `json:"skip_proxies"`
		ProxyHeight     int                    `json:"proxy_height" validate:"omitempty,gt=0"`
		Subjects        []SubjectSelection     `json:"subjects" validate:"required,min=1,dive"`
		DatasetMappings []DatasetMapping       `json:"dataset_mappings" validate:"omitempty,dive"`
	}

	// Result summarizes a committed ingest. PackageID is the first
	// package created, which is the only one for standard ingests.
	Result struct {
		PackageID       uuid.UUID `json:"package_id"`
		FileCount       int       `json:"file_count"`
		SubjectsCreated []string  `json:"subjects_created"`
	}
)

// NormalizedVariant applies the default package variant.
func (request *Request) NormalizedVariant() catalog.PackageVariant {
	if request.Variant == "" {
		return catalog.VariantStandard
	}

	return request.Variant
}
