package catalog

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ingesthub/ingesthub/internal/database"
	"github.com/lib/pq"
)

type (
	// PackageVariant distinguishes the two ingest shapes: a standard
	// package links all selected subjects to one package, whereas a
	// specialized package fans out to one package per subject and
	// receives the aggregation passes after asset insertion.
	PackageVariant string

	// PackageStatus follows the package through its lifetime. A package
	// is created as 'processing' and flipped to 'ready' in the same
	// transaction that finalizes its stats; any package still
	// 'processing' at startup was orphaned by a crash.
	PackageStatus string

	// AssetKind is the broad media class of a file, derived from its
	// extension.
	AssetKind string

	Project struct {
		ID          uuid.UUID      `db:"id" json:"id"`
		Name        string         `db:"name" json:"name"`
		Description string         `db:"description" json:"description"`
		Tags        pq.StringArray `db:"tags" json:"tags"`
		CreatedAt   time.Time      `db:"created_at" json:"createdAt"`
		UpdatedAt   time.Time      `db:"updated_at" json:"updatedAt"`
	}

	Subject struct {
		ID           uuid.UUID  `db:"id" json:"id"`
		ProjectID    uuid.UUID  `db:"project_id" json:"projectId"`
		Name         string     `db:"name" json:"name"`
		ThumbnailURL *string    `db:"thumbnail_url" json:"thumbnailUrl"`
		DatasetDir   *string    `db:"dataset_dir" json:"datasetDir"`
		CreatedAt    time.Time  `db:"created_at" json:"createdAt"`
		UpdatedAt    time.Time  `db:"updated_at" json:"updatedAt"`
	}

	Package struct {
		ID                uuid.UUID                                    `db:"id" json:"id"`
		SubjectID         uuid.UUID                                    `db:"subject_id" json:"subjectId"`
		Name              string                                       `db:"name" json:"name"`
		DiskPath          string                                       `db:"disk_path" json:"diskPath"`
		SourceDescription string                                       `db:"source_description" json:"sourceDescription"`
		Variant           PackageVariant                               `db:"variant" json:"variant"`
		Status            PackageStatus                                `db:"status" json:"status"`
		FileCount         int                                          `db:"file_count" json:"fileCount"`
		TotalSizeBytes    int64                                        `db:"total_size_bytes" json:"totalSizeBytes"`
		Tags              pq.StringArray                               `db:"tags" json:"tags"`
		Metadata          database.JsonColumn[map[string]any]          `db:"metadata" json:"metadata"`
		IngestedAt        time.Time                                    `db:"ingested_at" json:"ingestedAt"`
	}

	Asset struct {
		ID              uuid.UUID                           `db:"id" json:"id"`
		PackageID       uuid.UUID                           `db:"package_id" json:"packageId"`
		SubjectID       *uuid.UUID                          `db:"subject_id" json:"subjectId"`
		Filename        string                              `db:"filename" json:"filename"`
		Kind            AssetKind                           `db:"kind" json:"kind"`
		AssetType       string                              `db:"asset_type" json:"assetType"`
		MimeType        string                              `db:"mime_type" json:"mimeType"`
		FileSizeBytes   int64                               `db:"file_size_bytes" json:"fileSizeBytes"`
		DiskPath        string                              `db:"disk_path" json:"diskPath"`
		ProxyPath       *string                             `db:"proxy_path" json:"proxyPath"`
		ThumbnailPath   *string                             `db:"thumbnail_path" json:"thumbnailPath"`
		Width           *int                                `db:"width" json:"width"`
		Height          *int                                `db:"height" json:"height"`
		DurationSeconds *float64                            `db:"duration_seconds" json:"durationSeconds"`
		Codec           *string                             `db:"codec" json:"codec"`
		Camera          *string                             `db:"camera" json:"camera"`
		Tags            pq.StringArray                      `db:"tags" json:"tags"`
		Metadata        database.JsonColumn[map[string]any] `db:"metadata" json:"metadata"`
		CreatedAt       time.Time                           `db:"created_at" json:"createdAt"`
	}
)

const (
	VariantStandard    PackageVariant = "standard"
	VariantSpecialized PackageVariant = "specialized"

	StatusProcessing PackageStatus = "processing"
	StatusReady      PackageStatus = "ready"
	StatusError      PackageStatus = "error"

	KindVideo AssetKind = "VIDEO"
	KindImage AssetKind = "IMAGE"
	KindAudio AssetKind = "AUDIO"
	KindOther AssetKind = "OTHER"
)

// NormalizeSubjectName canonicalizes a user supplied or directory derived
// subject name: surrounding whitespace is stripped, underscores become
// spaces, and each word is title-cased. "jo_plaete " and "Jo Plaete" both
// normalize to "Jo Plaete" so re-ingests find the existing subject row.
func NormalizeSubjectName(raw string) string {
	cleaned := strings.ReplaceAll(strings.TrimSpace(raw), "_", " ")
	words := strings.Fields(cleaned)
	for i, word := range words {
		words[i] = strings.ToUpper(word[:1]) + strings.ToLower(word[1:])
	}

	return strings.Join(words, " ")
}

// SpecializedPackageName composes the per-subject package name used when a
// specialized ingest selects multiple subjects.
func SpecializedPackageName(base string, subject string) string {
	return base + " — " + subject
}
