package media

import (
	"context"
	"path/filepath"

	"github.com/ingesthub/ingesthub/internal/catalog"
	"github.com/ingesthub/ingesthub/pkg/logger"
	"github.com/ingesthub/ingesthub/pkg/worker"
)

// DefaultPipelineWorkers is the number of concurrent ffmpeg invocations a
// single ingest call may run.
const DefaultPipelineWorkers = 4

type (
	// DerivativeJob describes the derivative work for one selected file.
	DerivativeJob struct {
		SourcePath string
		OutputDir  string
		Kind       catalog.AssetKind
		Probe      *ProbeResult

		// SkipProxy limits generation to a thumbnail.
		SkipProxy bool

		// ProxyHeight caps the video proxy; zero uses the default.
		ProxyHeight int
	}

	// Derivatives is the result of a completed job. Either path may be
	// empty when generation failed or was not applicable; derivative
	// failures never fail an ingest.
	Derivatives struct {
		ProxyPath     string
		ThumbnailPath string
	}

	// Pipeline fans derivative jobs out over a bounded worker pool. A
	// pipeline serves a single ingest call and must be closed once every
	// submitted future has been awaited.
	Pipeline interface {
		Submit(ctx context.Context, job DerivativeJob) *worker.Future[Derivatives]
		Close()
	}

	derivativePipeline struct {
		generator Generator
		pool      *worker.Pool[Derivatives]
	}
)

func NewPipeline(generator Generator, workers int) Pipeline {
	if workers <= 0 {
		workers = DefaultPipelineWorkers
	}

	return &derivativePipeline{
		generator: generator,
		pool:      worker.NewPool[Derivatives](workers),
	}
}

func (pipeline *derivativePipeline) Submit(ctx context.Context, job DerivativeJob) *worker.Future[Derivatives] {
	return pipeline.pool.Submit(func() (Derivatives, error) {
		return pipeline.process(ctx, job)
	})
}

func (pipeline *derivativePipeline) Close() { pipeline.pool.Close() }

// process applies the derivative rules for a single file:
//   - videos always receive a thumbnail; a proxy is generated when the
//     probed codec is not web-playable or the source is at least 1080p,
//     otherwise the source itself serves as the proxy;
//   - images receive a thumbnail and use the source as their proxy;
//   - with SkipProxy set only the thumbnail is produced.
func (pipeline *derivativePipeline) process(ctx context.Context, job DerivativeJob) (Derivatives, error) {
	switch job.Kind {
	case catalog.KindVideo:
		return pipeline.processVideo(ctx, job)
	case catalog.KindImage:
		return pipeline.processImage(ctx, job)
	default:
		return Derivatives{}, nil
	}
}

func (pipeline *derivativePipeline) processVideo(ctx context.Context, job DerivativeJob) (Derivatives, error) {
	out := Derivatives{}

	if !job.SkipProxy {
		if needsVideoProxy(job.Probe) {
			proxyPath, err := pipeline.generator.VideoProxy(ctx, job.SourcePath, job.OutputDir, job.ProxyHeight)
			if err != nil {
				// A failed proxy degrades only the proxy; the thumbnail
				// is still attempted.
				log.Emit(logger.WARNING, "Proxy generation failed for %s: %v\n", filepath.Base(job.SourcePath), err)
			} else {
				out.ProxyPath = proxyPath
			}
		} else {
			// Web-playable at a reasonable resolution already.
			out.ProxyPath = job.SourcePath
		}
	}

	thumbPath, err := pipeline.generator.VideoThumbnail(ctx, job.SourcePath, job.OutputDir)
	if err != nil {
		return out, err
	}

	out.ThumbnailPath = thumbPath
	return out, nil
}

func (pipeline *derivativePipeline) processImage(ctx context.Context, job DerivativeJob) (Derivatives, error) {
	out := Derivatives{}
	if !job.SkipProxy {
		out.ProxyPath = job.SourcePath
	}

	thumbPath, err := pipeline.generator.ImageThumbnail(ctx, job.SourcePath, job.OutputDir)
	if err != nil {
		return out, err
	}

	out.ThumbnailPath = thumbPath
	return out, nil
}

// needsVideoProxy reports whether a probed video must be transcoded before
// serving: either its codec is not web-playable, or it is full HD or larger.
func needsVideoProxy(probe *ProbeResult) bool {
	if probe == nil {
		return true
	}

	return probe.NeedsProxy || (probe.Width >= 1920 && probe.Height >= 1080)
}
