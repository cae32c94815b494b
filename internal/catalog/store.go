package catalog

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/ingesthub/ingesthub/internal/database"
	"github.com/ingesthub/ingesthub/pkg/logger"
)

var (
	ErrProjectNotFound = errors.New("project does not exist")
	ErrSubjectNotFound = errors.New("subject does not exist")
	ErrPackageNotFound = errors.New("package does not exist")
)

var log = logger.Get("CatalogStore")

type Store struct{}

func NewStore() *Store { return &Store{} }

func (store *Store) GetProject(db database.Queryable, id uuid.UUID) (*Project, error) {
	query, args, err := squirrel.Select("*").From("projects").Where("id=?", id).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct select project query: %w", err)
	}

	var project Project
	if err := db.Get(&project, db.Rebind(query), args...); err != nil {
		return nil, ErrProjectNotFound
	}

	return &project, nil
}

func (store *Store) GetSubjectByName(db database.Queryable, projectID uuid.UUID, name string) (*Subject, error) {
	query, args, err := squirrel.Select("*").From("subjects").
		Where("project_id=?", projectID).
		Where("name=?", name).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct select subject query: %w", err)
	}

	var subject Subject
	if err := db.Get(&subject, db.Rebind(query), args...); err != nil {
		return nil, ErrSubjectNotFound
	}

	return &subject, nil
}

// GetOrCreateSubject finds a subject of the given project by its normalized
// name, inserting a new row if none exists. The boolean reports whether a
// row was created. The name provided is expected to already be normalized
// (see NormalizeSubjectName).
func (store *Store) GetOrCreateSubject(db database.Queryable, projectID uuid.UUID, name string) (*Subject, bool, error) {
	if subject, err := store.GetSubjectByName(db, projectID, name); err == nil {
		return subject, false, nil
	}

	id := uuid.New()
	_, err := db.Exec(`
		INSERT INTO subjects(id, project_id, name, created_at, updated_at)
		VALUES ($1, $2, $3, current_timestamp, current_timestamp)
		ON CONFLICT(project_id, name) DO NOTHING
	`, id, projectID, name)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert new subject %s: %w", name, err)
	}

	subject, err := store.GetSubjectByName(db, projectID, name)
	if err != nil {
		return nil, false, err
	}

	return subject, true, nil
}

func (store *Store) GetPackage(db database.Queryable, id uuid.UUID) (*Package, error) {
	query, args, err := squirrel.Select("*").From("packages").Where("id=?", id).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct select package query: %w", err)
	}

	var pkg Package
	if err := db.Get(&pkg, db.Rebind(query), args...); err != nil {
		return nil, ErrPackageNotFound
	}

	return &pkg, nil
}

func (store *Store) CreatePackage(db database.Queryable, pkg *Package) error {
	_, err := db.NamedExec(`
		INSERT INTO packages(
			id, subject_id, name, disk_path, source_description,
			variant, status, file_count, total_size_bytes, tags, metadata, ingested_at
		)
		VALUES (
			:id, :subject_id, :name, :disk_path, :source_description,
			:variant, :status, :file_count, :total_size_bytes, :tags, :metadata, current_timestamp
		)
	`, pkg)
	if err != nil {
		return fmt.Errorf("failed to insert package %s: %w", pkg.Name, err)
	}

	return nil
}

func (store *Store) LinkPackageSubject(db database.Queryable, packageID uuid.UUID, subjectID uuid.UUID) error {
	_, err := db.Exec(`
		INSERT INTO packages_subjects(package_id, subject_id)
		VALUES ($1, $2)
		ON CONFLICT(package_id, subject_id) DO NOTHING
	`, packageID, subjectID)
	return err
}

// InsertAssets batch-inserts the provided assets in a single statement.
// A no-op when the slice is empty.
func (store *Store) InsertAssets(db database.Queryable, assets []*Asset) error {
	if len(assets) == 0 {
		return nil
	}

	_, err := db.NamedExec(`
		INSERT INTO assets(
			id, package_id, subject_id, filename, kind, asset_type,
			mime_type, file_size_bytes, disk_path, proxy_path, thumbnail_path,
			width, height, duration_seconds, codec, camera, tags, metadata, created_at
		)
		VALUES (
			:id, :package_id, :subject_id, :filename, :kind, :asset_type,
			:mime_type, :file_size_bytes, :disk_path, :proxy_path, :thumbnail_path,
			:width, :height, :duration_seconds, :codec, :camera, :tags, :metadata, current_timestamp
		)
	`, assets)
	if err != nil {
		return fmt.Errorf("failed to batch insert %d assets: %w", len(assets), err)
	}

	return nil
}

// FinalizePackage flushes the accumulated stats for a package and flips its
// status to 'ready'. This is the last write a package sees during ingest; a
// package whose status never left 'processing' was abandoned mid-transaction.
func (store *Store) FinalizePackage(db database.Queryable, packageID uuid.UUID, fileCount int, totalSizeBytes int64) error {
	_, err := db.Exec(`
		UPDATE packages SET file_count=$1, total_size_bytes=$2, status='ready'
		WHERE id=$3
	`, fileCount, totalSizeBytes, packageID)
	return err
}

// SetSubjectThumbnail records a thumbnail for the subject ONLY if one has not
// already been set. First writer wins so re-ingests never clobber an existing
// subject portrait.
func (store *Store) SetSubjectThumbnail(db database.Queryable, subjectID uuid.UUID, thumbnailURL string) error {
	_, err := db.Exec(`
		UPDATE subjects SET thumbnail_url=$1, updated_at=current_timestamp
		WHERE id=$2 AND thumbnail_url IS NULL
	`, thumbnailURL, subjectID)
	return err
}

// GetSubjectDatasetDir finds the recorded dataset directory for any subject
// with the given normalized name, regardless of project. Returns an empty
// string when no subject has one.
func (store *Store) GetSubjectDatasetDir(db database.Queryable, name string) (string, error) {
	var datasetDir string
	err := db.Get(&datasetDir, `
		SELECT dataset_dir FROM subjects
		WHERE name = $1 AND dataset_dir IS NOT NULL
		LIMIT 1
	`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	} else if err != nil {
		return "", fmt.Errorf("failed to find dataset dir for subject %s: %w", name, err)
	}

	return datasetDir, nil
}

func (store *Store) SetSubjectDatasetDir(db database.Queryable, subjectID uuid.UUID, datasetDir string) error {
	_, err := db.Exec(`
		UPDATE subjects SET dataset_dir=$1, updated_at=current_timestamp
		WHERE id=$2
	`, datasetDir, subjectID)
	return err
}

// SweepStaleProcessingPackages marks every package still in 'processing' as
// errored and returns their IDs. Run once at startup to recover from a crash
// which left packages mid-ingest.
func (store *Store) SweepStaleProcessingPackages(db database.Queryable) ([]uuid.UUID, error) {
	var swept []uuid.UUID
	if err := db.Select(&swept, `
		UPDATE packages
		SET status='error',
		    metadata = metadata || '{"status_note": "ingest interrupted; recovered at startup"}'::jsonb
		WHERE status='processing'
		RETURNING id
	`); err != nil {
		return nil, fmt.Errorf("failed to sweep stale processing packages: %w", err)
	}

	if len(swept) > 0 {
		log.Emit(logger.WARNING, "Swept %d stale 'processing' packages to 'error'\n", len(swept))
	}

	return swept, nil
}

type faceSummaryRow struct {
	FaceTypes    database.JsonColumn[[]string] `db:"face_types"`
	AlignedCount int                           `db:"aligned_count"`
	SourceWidth  *int                          `db:"source_width"`
	SourceHeight *int                          `db:"source_height"`
}

// SummarizeFaces runs the face aggregation pass over every asset of the
// package, reducing the per-asset face metadata down to the distinct face
// types, the aligned asset count and the largest recorded source dimensions.
func (store *Store) SummarizeFaces(db database.Queryable, packageID uuid.UUID) (*FaceSummary, error) {
	var row faceSummaryRow
	err := db.Get(&row, `
		SELECT
			jsonb_agg(DISTINCT metadata->'face'->>'face_type')
				FILTER (WHERE metadata->'face'->>'face_type' IS NOT NULL) AS face_types,
			COUNT(*) FILTER (WHERE asset_type = 'aligned') AS aligned_count,
			MAX((metadata->'face'->>'source_width')::int)
				FILTER (WHERE metadata->'face'->>'source_width' IS NOT NULL) AS source_width,
			MAX((metadata->'face'->>'source_height')::int)
				FILTER (WHERE metadata->'face'->>'source_height' IS NOT NULL) AS source_height
		FROM assets WHERE package_id = $1
	`, packageID)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize faces for package %s: %w", packageID, err)
	}

	summary := FaceSummary{AlignedCount: row.AlignedCount}
	if types := row.FaceTypes.Get(); types != nil {
		summary.FaceTypes = *types
	}
	if row.SourceWidth != nil {
		summary.SourceWidth = *row.SourceWidth
	}
	if row.SourceHeight != nil {
		summary.SourceHeight = *row.SourceHeight
	}

	return &summary, nil
}

// ResolveSourcePointers runs the pointer aggregation pass: the source video
// recorded by the first aligned asset, plus the package's grid and plate
// assets. A plate's disk path stands in for the source video when no aligned
// asset carries one.
func (store *Store) ResolveSourcePointers(db database.Queryable, packageID uuid.UUID) (*SourcePointers, error) {
	pointers := SourcePointers{}

	var source struct {
		Path *string `db:"path"`
		Name *string `db:"name"`
	}
	err := db.Get(&source, `
		SELECT metadata->'face'->>'source_filepath' AS path,
		       metadata->'face'->>'source_filename' AS name
		FROM assets WHERE package_id = $1 AND asset_type = 'aligned'
		  AND metadata->'face'->>'source_filepath' IS NOT NULL LIMIT 1
	`, packageID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to resolve source video pointer: %w", err)
	}
	if err == nil && source.Path != nil {
		pointers.SourceVideoPath = *source.Path
		if source.Name != nil {
			pointers.SourceVideoFilename = *source.Name
		}
	}

	var gridID uuid.UUID
	err = db.Get(&gridID, `
		SELECT id FROM assets WHERE package_id = $1 AND asset_type = 'grid' LIMIT 1
	`, packageID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to resolve grid pointer: %w", err)
	}
	if err == nil {
		pointers.GridAssetID = gridID.String()
	}

	var plate struct {
		ID       uuid.UUID `db:"id"`
		DiskPath string    `db:"disk_path"`
	}
	err = db.Get(&plate, `
		SELECT id, disk_path FROM assets WHERE package_id = $1 AND asset_type = 'plate' LIMIT 1
	`, packageID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to resolve plate pointer: %w", err)
	}
	if err == nil {
		pointers.PlateAssetID = plate.ID.String()
		if pointers.SourceVideoPath == "" {
			pointers.SourceVideoPath = plate.DiskPath
		}
	}

	return &pointers, nil
}

// PoseHistogram runs the pose aggregation pass: a 2-D histogram of the
// aligned assets' yaw and pitch angles, bucketed to 10 degree cells.
func (store *Store) PoseHistogram(db database.Queryable, packageID uuid.UUID) ([]PoseBucket, error) {
	var buckets []PoseBucket
	err := db.Select(&buckets, `
		SELECT (FLOOR((metadata->'face'->>'yaw')::float / 10) * 10)::int AS yaw_bucket,
		       (FLOOR((metadata->'face'->>'pitch')::float / 10) * 10)::int AS pitch_bucket,
		       COUNT(*) AS count
		FROM assets WHERE package_id = $1 AND asset_type = 'aligned'
		  AND metadata->'face'->>'yaw' IS NOT NULL
		GROUP BY 1, 2
		ORDER BY 1, 2
	`, packageID)
	if err != nil {
		return nil, fmt.Errorf("failed to build pose histogram for package %s: %w", packageID, err)
	}

	return buckets, nil
}

// MergePackageMetadata shallow-merges the provided section over the package's
// existing metadata at the database level. Keys in the section win.
func (store *Store) MergePackageMetadata(db database.Queryable, packageID uuid.UUID, section map[string]any) error {
	if len(section) == 0 {
		return nil
	}

	encoded, err := json.Marshal(section)
	if err != nil {
		return fmt.Errorf("failed to encode metadata section for package %s: %w", packageID, err)
	}

	_, err = db.Exec(`
		UPDATE packages SET metadata = metadata || $1::jsonb WHERE id = $2
	`, string(encoded), packageID)
	return err
}
