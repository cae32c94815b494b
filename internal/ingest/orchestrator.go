package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/ingesthub/ingesthub/internal/catalog"
	"github.com/ingesthub/ingesthub/internal/database"
	"github.com/ingesthub/ingesthub/internal/dataset"
	"github.com/ingesthub/ingesthub/internal/event"
	"github.com/ingesthub/ingesthub/internal/media"
	"github.com/ingesthub/ingesthub/pkg/logger"
	"github.com/lib/pq"
)

var log = logger.Get("Ingest")

// DefaultDerivativeTimeout bounds how long a single file's derivative
// generation may run before the asset is inserted without derivatives.
const DefaultDerivativeTimeout = time.Minute * 5

type (
	// Catalog is the slice of the catalog store the orchestrator drives.
	// Every method runs against the Queryable it is handed, which is the
	// ingest transaction.
	Catalog interface {
		GetProject(db database.Queryable, id uuid.UUID) (*catalog.Project, error)
		GetOrCreateSubject(db database.Queryable, projectID uuid.UUID, name string) (*catalog.Subject, bool, error)
		CreatePackage(db database.Queryable, pkg *catalog.Package) error
		LinkPackageSubject(db database.Queryable, packageID uuid.UUID, subjectID uuid.UUID) error
		InsertAssets(db database.Queryable, assets []*catalog.Asset) error
		FinalizePackage(db database.Queryable, packageID uuid.UUID, fileCount int, totalSizeBytes int64) error
		SetSubjectThumbnail(db database.Queryable, subjectID uuid.UUID, thumbnailURL string) error
		SetSubjectDatasetDir(db database.Queryable, subjectID uuid.UUID, datasetDir string) error
		GetSubjectDatasetDir(db database.Queryable, name string) (string, error)
		SummarizeFaces(db database.Queryable, packageID uuid.UUID) (*catalog.FaceSummary, error)
		ResolveSourcePointers(db database.Queryable, packageID uuid.UUID) (*catalog.SourcePointers, error)
		PoseHistogram(db database.Queryable, packageID uuid.UUID) ([]catalog.PoseBucket, error)
		MergePackageMetadata(db database.Queryable, packageID uuid.UUID, section map[string]any) error
	}

	// Transactioner runs a function inside a single database transaction,
	// committing on nil and rolling back on error.
	Transactioner interface {
		InTransaction(fn func(db database.Queryable) error) error
	}

	Config struct {
		ProxyDir          string        `yaml:"proxy_dir" env:"INGESTHUB_PROXY_DIR"`
		DatasetsRoot      string        `yaml:"datasets_root" env:"INGESTHUB_DATASETS_ROOT" env-default:""`
		PipelineWorkers   int           `yaml:"pipeline_workers" env:"INGESTHUB_PIPELINE_WORKERS" env-default:"4"`
		DerivativeTimeout time.Duration `yaml:"derivative_timeout" env:"INGESTHUB_DERIVATIVE_TIMEOUT" env-default:"5m"`
	}

	// Service orchestrates ingest execution end to end.
	Service struct {
		tx          Transactioner
		store       Catalog
		prober      media.Prober
		newPipeline func() media.Pipeline
		mirror      func(datasetDir string, packageName string, assets []dataset.MirrorAsset) dataset.MirrorResult
		eventBus    event.EventDispatcher
		validate    *validator.Validate
		config      Config
	}

	// DatasetResolution is the answer for one subject of a
	// resolve-datasets call.
	DatasetResolution struct {
		SubjectName string               `json:"subject_name"`
		ExistingDir string               `json:"existing_dir,omitempty"`
		Suggestions []dataset.Suggestion `json:"suggestions"`
	}

	pendingAsset struct {
		entry    ManifestEntry
		probe    *media.ProbeResult
		metadata map[string]any
		await    func() (media.Derivatives, error)
	}
)

func New(tx Transactioner, store Catalog, prober media.Prober, generator media.Generator, eventBus event.EventDispatcher, config Config) *Service {
	if config.DerivativeTimeout <= 0 {
		config.DerivativeTimeout = DefaultDerivativeTimeout
	}

	return &Service{
		tx:     tx,
		store:  store,
		prober: prober,
		newPipeline: func() media.Pipeline {
			return media.NewPipeline(generator, config.PipelineWorkers)
		},
		mirror:   dataset.Mirror,
		eventBus: eventBus,
		validate: validator.New(),
		config:   config,
	}
}

// CheckRequest validates a request and confirms its manifest resolves,
// without executing anything. Callers which must commit to a response
// before running the ingest use this to reject bad requests up front.
func (service *Service) CheckRequest(request *Request) error {
	if err := service.validate.Struct(request); err != nil {
		return err
	}

	_, err := ResolveManifest(request)
	return err
}

// Execute runs a full ingest: manifest resolution, per-file probing and
// derivative generation, catalog writes, aggregation for specialized
// packages and dataset mirroring. All database writes commit atomically;
// a failure at any point rolls the catalog back and reports an error event
// on the sink.
func (service *Service) Execute(ctx context.Context, request *Request, sink ProgressSink) (*Result, error) {
	if err := service.validate.Struct(request); err != nil {
		return nil, err
	}

	manifest, err := ResolveManifest(request)
	if err != nil {
		return nil, err
	}

	var result Result
	txErr := service.tx.InTransaction(func(db database.Queryable) error {
		res, err := service.executeInTx(ctx, db, request, manifest, sink)
		if err != nil {
			return err
		}

		result = *res
		return nil
	})
	if txErr != nil {
		log.Emit(logger.ERROR, "Ingest failed for %s: %v\n", request.PackageName, txErr)
		sink.Send(ProgressEvent{Type: EventError, Message: txErr.Error()})
		service.eventBus.Dispatch(event.IngestFailedEvent, txErr)
		return nil, txErr
	}

	log.Emit(logger.SUCCESS, "Ingest complete: package=%s assets=%d subjects_created=%v\n",
		result.PackageID, result.FileCount, result.SubjectsCreated)
	sink.Send(ProgressEvent{
		Type:            EventComplete,
		PackageID:       result.PackageID.String(),
		FileCount:       result.FileCount,
		SubjectsCreated: result.SubjectsCreated,
	})
	service.eventBus.Dispatch(event.IngestCompleteEvent, result.PackageID)

	return &result, nil
}

func (service *Service) executeInTx(
	ctx context.Context,
	db database.Queryable,
	request *Request,
	manifest *Manifest,
	sink ProgressSink,
) (*Result, error) {
	if _, err := service.store.GetProject(db, request.ProjectID); err != nil {
		return nil, ErrProjectNotFound
	}

	subjectNames := request.SubjectNames()
	subjects := make(map[string]*catalog.Subject, len(subjectNames))
	subjectsCreated := []string{}
	for _, name := range subjectNames {
		subject, created, err := service.store.GetOrCreateSubject(db, request.ProjectID, name)
		if err != nil {
			return nil, err
		}

		subjects[name] = subject
		if created {
			subjectsCreated = append(subjectsCreated, name)
		}
	}

	variant := request.NormalizedVariant()
	packageIDs, firstPackageID, err := service.createPackages(db, request, variant, subjectNames, subjects)
	if err != nil {
		return nil, err
	}

	service.eventBus.Dispatch(event.IngestStartedEvent, firstPackageID)
	sink.Send(ProgressEvent{
		Type:       EventSetup,
		Subjects:   len(subjects),
		Packages:   countDistinct(packageIDs),
		TotalFiles: manifest.Total,
	})

	// The pipeline is only closed once collectAssets has awaited every
	// future; closing first would drain the pool and resolve the futures
	// before their timeouts could apply.
	pipeline := service.newPipeline()
	defer pipeline.Close()

	pending, err := service.runPipeline(ctx, pipeline, request, manifest, variant, sink)
	if err != nil {
		return nil, err
	}

	assets, firstThumbBySubject, stats := service.collectAssets(request, manifest, pending, packageIDs, subjects, sink)
	if err := service.store.InsertAssets(db, assets); err != nil {
		return nil, err
	}

	sink.Send(ProgressEvent{
		Type:       EventFinalizing,
		Message:    "Updating package stats and committing...",
		TotalFiles: len(assets),
	})

	if variant == catalog.VariantSpecialized {
		if err := service.aggregatePackages(db, packageIDs); err != nil {
			return nil, err
		}
	}

	if err := service.finalizePackages(db, packageIDs, stats); err != nil {
		return nil, err
	}

	for name, thumbnail := range firstThumbBySubject {
		subject, ok := subjects[name]
		if !ok {
			continue
		}

		if err := service.store.SetSubjectThumbnail(db, subject.ID, thumbnail); err != nil {
			return nil, err
		}
	}

	if err := service.mirrorDatasets(db, request, pending, subjects, sink); err != nil {
		return nil, err
	}

	return &Result{
		PackageID:       firstPackageID,
		FileCount:       len(assets),
		SubjectsCreated: subjectsCreated,
	}, nil
}

// createPackages inserts the package rows for this ingest. A specialized
// ingest selecting multiple subjects fans out to one package per subject,
// named "{base} — {subject}"; everything else gets a single package linked
// to every subject.
func (service *Service) createPackages(
	db database.Queryable,
	request *Request,
	variant catalog.PackageVariant,
	subjectNames []string,
	subjects map[string]*catalog.Subject,
) (map[string]uuid.UUID, uuid.UUID, error) {
	packageIDs := make(map[string]uuid.UUID, len(subjectNames))
	baseMetadata := map[string]any{"variant": string(variant)}

	newPackage := func(name string, ownerSubject uuid.UUID) *catalog.Package {
		return &catalog.Package{
			ID:                uuid.New(),
			SubjectID:         ownerSubject,
			Name:              name,
			DiskPath:          request.SourcePath,
			SourceDescription: request.Description,
			Variant:           variant,
			Status:            catalog.StatusProcessing,
			Tags:              pq.StringArray(append([]string{}, request.Tags...)),
			Metadata:          database.NewJsonColumn(baseMetadata),
		}
	}

	multiSubject := len(subjectNames) > 1
	var firstPackageID uuid.UUID

	if variant == catalog.VariantSpecialized {
		for idx, name := range subjectNames {
			packageName := request.PackageName
			if multiSubject {
				packageName = catalog.SpecializedPackageName(request.PackageName, name)
			}

			pkg := newPackage(packageName, subjects[name].ID)
			if err := service.store.CreatePackage(db, pkg); err != nil {
				return nil, uuid.Nil, err
			}
			if err := service.store.LinkPackageSubject(db, pkg.ID, subjects[name].ID); err != nil {
				return nil, uuid.Nil, err
			}

			packageIDs[name] = pkg.ID
			if idx == 0 {
				firstPackageID = pkg.ID
			}
		}

		return packageIDs, firstPackageID, nil
	}

	pkg := newPackage(request.PackageName, subjects[subjectNames[0]].ID)
	if err := service.store.CreatePackage(db, pkg); err != nil {
		return nil, uuid.Nil, err
	}

	for _, name := range subjectNames {
		if err := service.store.LinkPackageSubject(db, pkg.ID, subjects[name].ID); err != nil {
			return nil, uuid.Nil, err
		}

		packageIDs[name] = pkg.ID
	}

	return packageIDs, pkg.ID, nil
}

// runPipeline probes every manifest entry and submits its derivative work,
// returning the pending assets in manifest order. Skipped files surface as
// progress events only. The caller owns the pipeline and closes it after
// awaiting the returned futures.
func (service *Service) runPipeline(
	ctx context.Context,
	pipeline media.Pipeline,
	request *Request,
	manifest *Manifest,
	variant catalog.PackageVariant,
	sink ProgressSink,
) ([]pendingAsset, error) {
	for _, skipped := range manifest.Skipped {
		log.Emit(logger.WARNING, "File not found, skipping: %s\n", skipped.Filename)
		sink.Send(ProgressEvent{
			Current: skipped.Position,
			Total:   manifest.Total,
			File:    skipped.Filename,
			Step:    StepSkipped,
			Message: skipped.Reason,
		})
	}

	proxyBase := filepath.Join(service.config.ProxyDir, request.PackageName)
	pending := make([]pendingAsset, 0, len(manifest.Entries))

	for _, entry := range manifest.Entries {
		sink.Send(ProgressEvent{
			Current: entry.Position,
			Total:   manifest.Total,
			File:    entry.Filename,
			Step:    StepProbing,
		})

		var probe *media.ProbeResult
		if entry.Kind != catalog.KindOther {
			probed, err := service.prober.Probe(ctx, entry.AbsPath)
			if err != nil {
				log.Emit(logger.WARNING, "Probe failed for %s: %v\n", entry.Filename, err)
			} else {
				probe = probed
			}
		}

		metadata := make(map[string]any)
		if probe != nil {
			technical, err := catalog.AsMap(probe.Technical())
			if err != nil {
				return nil, err
			}

			metadata["technical"] = technical
		}

		if variant == catalog.VariantSpecialized && strings.EqualFold(filepath.Ext(entry.AbsPath), ".png") {
			face, err := media.ReadFaceMetadata(entry.AbsPath)
			if err != nil {
				log.Emit(logger.WARNING, "Unreadable face header in %s: %v\n", entry.Filename, err)
			} else if face != nil {
				metadata["face"] = face
			}
		}

		item := pendingAsset{entry: entry, probe: probe, metadata: metadata}
		if entry.Kind == catalog.KindVideo || entry.Kind == catalog.KindImage {
			future := pipeline.Submit(ctx, media.DerivativeJob{
				SourcePath:  entry.AbsPath,
				OutputDir:   filepath.Join(proxyBase, filepath.Dir(entry.RelPath)),
				Kind:        entry.Kind,
				Probe:       probe,
				SkipProxy:   request.SkipProxies,
				ProxyHeight: request.ProxyHeight,
			})
			timeout := service.config.DerivativeTimeout
			item.await = func() (media.Derivatives, error) { return future.AwaitTimeout(timeout) }
		}

		pending = append(pending, item)
	}

	return pending, nil
}

// collectAssets awaits each pending derivative in submission order and
// builds the asset rows. Derivative failures are logged and leave the
// asset without proxy or thumbnail.
func (service *Service) collectAssets(
	request *Request,
	manifest *Manifest,
	pending []pendingAsset,
	packageIDs map[string]uuid.UUID,
	subjects map[string]*catalog.Subject,
	sink ProgressSink,
) ([]*catalog.Asset, map[string]string, map[string]*packageStat) {
	assets := make([]*catalog.Asset, 0, len(pending))
	firstThumbBySubject := make(map[string]string)
	stats := make(map[string]*packageStat)

	for _, item := range pending {
		entry := item.entry
		sink.Send(ProgressEvent{
			Current: entry.Position,
			Total:   manifest.Total,
			File:    entry.Filename,
			Step:    StepInserting,
		})

		var derivatives media.Derivatives
		if item.await != nil {
			var err error
			if derivatives, err = item.await(); err != nil {
				log.Emit(logger.WARNING, "Media gen failed/timed out for %s: %v\n", entry.Filename, err)
			}
		}

		if derivatives.ThumbnailPath != "" {
			if _, exists := firstThumbBySubject[entry.SubjectName]; !exists {
				firstThumbBySubject[entry.SubjectName] = derivatives.ThumbnailPath
			}
		}

		subject := subjects[entry.SubjectName]
		asset := &catalog.Asset{
			ID:            uuid.New(),
			PackageID:     packageIDs[entry.SubjectName],
			SubjectID:     &subject.ID,
			Filename:      entry.RelPath,
			Kind:          entry.Kind,
			AssetType:     entry.AssetType,
			MimeType:      media.MimeType(entry.AbsPath),
			FileSizeBytes: entry.SizeBytes,
			DiskPath:      entry.AbsPath,
			ProxyPath:     optionalString(derivatives.ProxyPath),
			ThumbnailPath: optionalString(derivatives.ThumbnailPath),
			Tags:          pq.StringArray{entry.SubjectName, entry.AssetType},
			Metadata:      database.NewJsonColumn(item.metadata),
		}

		if probe := item.probe; probe != nil {
			asset.Width = optionalInt(probe.Width)
			asset.Height = optionalInt(probe.Height)
			asset.DurationSeconds = optionalFloat(probe.DurationSeconds)
			asset.Codec = optionalString(probe.Codec)
			asset.Camera = optionalString(probe.Camera)
		}

		assets = append(assets, asset)

		stat, ok := stats[entry.SubjectName]
		if !ok {
			stat = &packageStat{}
			stats[entry.SubjectName] = stat
		}
		stat.count++
		stat.size += entry.SizeBytes
	}

	return assets, firstThumbBySubject, stats
}

type packageStat struct {
	count int
	size  int64
}

// aggregatePackages runs the three aggregation passes over each package of
// a specialized ingest and merges the results into the package metadata.
func (service *Service) aggregatePackages(db database.Queryable, packageIDs map[string]uuid.UUID) error {
	for _, packageID := range distinctPackageIDs(packageIDs) {
		summary, err := service.store.SummarizeFaces(db, packageID)
		if err != nil {
			return err
		}

		merge, err := catalog.AsMap(summary)
		if err != nil {
			return err
		}
		if err := service.store.MergePackageMetadata(db, packageID, merge); err != nil {
			return err
		}

		pointers, err := service.store.ResolveSourcePointers(db, packageID)
		if err != nil {
			return err
		}

		pointerMerge, err := catalog.AsMap(pointers)
		if err != nil {
			return err
		}
		if err := service.store.MergePackageMetadata(db, packageID, pointerMerge); err != nil {
			return err
		}

		poseData, err := service.store.PoseHistogram(db, packageID)
		if err != nil {
			return err
		}
		if len(poseData) > 0 {
			err := service.store.MergePackageMetadata(db, packageID, map[string]any{"pose_data": poseData})
			if err != nil {
				return err
			}
		}
	}

	return nil
}

// finalizePackages folds the per-subject stats into per-package totals and
// flips every package to ready.
func (service *Service) finalizePackages(db database.Queryable, packageIDs map[string]uuid.UUID, stats map[string]*packageStat) error {
	totals := make(map[uuid.UUID]*packageStat)
	for name, packageID := range packageIDs {
		total, ok := totals[packageID]
		if !ok {
			total = &packageStat{}
			totals[packageID] = total
		}

		if stat, ok := stats[name]; ok {
			total.count += stat.count
			total.size += stat.size
		}
	}

	for packageID, total := range totals {
		if err := service.store.FinalizePackage(db, packageID, total.count, total.size); err != nil {
			return err
		}
	}

	return nil
}

// mirrorDatasets links each mapped subject's ingested files into its
// dataset directory. Mirroring is best effort: per-file errors are summed
// into a progress event and never fail the ingest, but the chosen dataset
// dir is always persisted on the subject.
func (service *Service) mirrorDatasets(
	db database.Queryable,
	request *Request,
	pending []pendingAsset,
	subjects map[string]*catalog.Subject,
	sink ProgressSink,
) error {
	if len(request.DatasetMappings) == 0 {
		return nil
	}

	assetsBySubject := make(map[string][]dataset.MirrorAsset)
	for _, item := range pending {
		entry := item.entry
		assetsBySubject[entry.SubjectName] = append(assetsBySubject[entry.SubjectName], dataset.MirrorAsset{
			OriginalPath: entry.AbsPath,
			Kind:         entry.Kind,
			AssetType:    entry.AssetType,
		})
	}

	for _, mapping := range request.DatasetMappings {
		name := catalog.NormalizeSubjectName(mapping.SubjectName)
		subjectAssets := assetsBySubject[name]
		if len(subjectAssets) == 0 {
			continue
		}

		if mapping.IsNew {
			if err := os.MkdirAll(mapping.DatasetDir, os.ModePerm); err != nil {
				log.Emit(logger.WARNING, "Failed to create dataset dir %s: %v\n", mapping.DatasetDir, err)
			}
		}

		result := service.mirror(mapping.DatasetDir, request.PackageName, subjectAssets)
		sink.Send(ProgressEvent{
			Type:    EventDatasets,
			Subject: name,
			Created: result.Created,
			Skipped: result.Skipped,
			Errors:  len(result.Errors),
		})

		if subject, ok := subjects[name]; ok {
			if err := service.store.SetSubjectDatasetDir(db, subject.ID, mapping.DatasetDir); err != nil {
				return err
			}
		}
	}

	return nil
}

// ListDatasetDirs returns the configured datasets root and the directories
// under it.
func (service *Service) ListDatasetDirs() (string, []string) {
	if service.config.DatasetsRoot == "" {
		return "", []string{}
	}

	return service.config.DatasetsRoot, dataset.ListDirs(service.config.DatasetsRoot)
}

// ResolveDatasets suggests dataset directories for each subject name,
// surfacing any directory already recorded on a matching subject.
func (service *Service) ResolveDatasets(subjectNames []string) ([]DatasetResolution, error) {
	_, dirs := service.ListDatasetDirs()

	resolutions := make([]DatasetResolution, 0, len(subjectNames))
	err := service.tx.InTransaction(func(db database.Queryable) error {
		for _, name := range subjectNames {
			existing, err := service.store.GetSubjectDatasetDir(db, catalog.NormalizeSubjectName(name))
			if err != nil {
				return err
			}

			suggestions := []dataset.Suggestion{}
			if len(dirs) > 0 {
				suggestions = dataset.Match(name, dirs)
			}

			resolutions = append(resolutions, DatasetResolution{
				SubjectName: name,
				ExistingDir: existing,
				Suggestions: suggestions,
			})
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return resolutions, nil
}

func countDistinct(packageIDs map[string]uuid.UUID) int {
	return len(distinctPackageIDs(packageIDs))
}

func distinctPackageIDs(packageIDs map[string]uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(packageIDs))
	var ids []uuid.UUID
	for _, id := range packageIDs {
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}

	return ids
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}

	return &value
}

func optionalInt(value int) *int {
	if value == 0 {
		return nil
	}

	return &value
}

func optionalFloat(value float64) *float64 {
	if value == 0 {
		return nil
	}

	return &value
}
