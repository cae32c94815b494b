package ingests

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/ingesthub/ingesthub/internal/ingest"
	"github.com/ingesthub/ingesthub/pkg/logger"
	"github.com/labstack/echo/v4"
)

type (
	// IngestService is the slice of the ingest orchestrator this controller
	// drives.
	IngestService interface {
		CheckRequest(request *ingest.Request) error
		Execute(ctx context.Context, request *ingest.Request, sink ingest.ProgressSink) (*ingest.Result, error)
		ListDatasetDirs() (string, []string)
		ResolveDatasets(subjectNames []string) ([]ingest.DatasetResolution, error)
	}

	DatasetDirsDto struct {
		DatasetsRoot string   `json:"datasets_root"`
		Dirs         []string `json:"dirs"`
	}

	ResolveDatasetsRequest struct {
		SubjectNames []string `json:"subject_names"`
	}

	ResolveDatasetsDto struct {
		Resolutions []ingest.DatasetResolution `json:"resolutions"`
	}

	// Controller defines the routes for ingest execution and dataset
	// resolution.
	Controller struct {
		service IngestService
	}
)

var controllerLogger = logger.Get("IngestsController")

// streamBufferSize bounds the progress event backlog for a streaming
// execution; a slow consumer loses intermediate events rather than
// stalling the ingest.
const streamBufferSize = 64

func New(service IngestService) *Controller {
	return &Controller{service: service}
}

// SetRoutes accepts the Echo group for the ingest endpoints and sets the
// routes on them.
func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.POST("/execute/", controller.execute)
	eg.POST("/execute-stream/", controller.executeStream)
	eg.GET("/dataset-dirs/", controller.datasetDirs)
	eg.POST("/resolve-datasets/", controller.resolveDatasets)
}

// execute runs a full ingest synchronously and returns the result once the
// transaction commits.
func (controller *Controller) execute(ec echo.Context) error {
	var request ingest.Request
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	result, err := controller.service.Execute(ec.Request().Context(), &request, ingest.DiscardProgress())
	if err != nil {
		return ingestError(err)
	}

	return ec.JSON(http.StatusOK, result)
}

// executeStream runs a full ingest while streaming progress events to the
// client as server-sent events. Requests that fail validation or manifest
// resolution are rejected with a regular error status before the stream
// opens; once streaming has started the outcome arrives as a terminal
// 'complete' or 'error' event and the HTTP status stays 200.
func (controller *Controller) executeStream(ec echo.Context) error {
	var request ingest.Request
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := controller.service.CheckRequest(&request); err != nil {
		return ingestError(err)
	}

	response := ec.Response()
	response.Header().Set(echo.HeaderContentType, "text/event-stream")
	response.Header().Set("Cache-Control", "no-cache")
	response.Header().Set(echo.HeaderConnection, "keep-alive")
	response.WriteHeader(http.StatusOK)

	events := make(chan ingest.ProgressEvent, streamBufferSize)
	sink := ingest.NewChannelSink(events)

	go func() {
		defer close(events)
		if _, err := controller.service.Execute(ec.Request().Context(), &request, sink); err != nil {
			controllerLogger.Emit(logger.ERROR, "Streamed ingest failed: %v\n", err)
		}
	}()

	for event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			controllerLogger.Emit(logger.WARNING, "Failed to marshal progress event: %v\n", err)
			continue
		}

		if _, err := fmt.Fprintf(response, "data: %s\n\n", payload); err != nil {
			// Client went away; the ingest itself carries on to commit.
			controllerLogger.Emit(logger.WARNING, "Progress stream closed early: %v\n", err)
			break
		}
		response.Flush()
	}

	return nil
}

// datasetDirs lists the directories under the configured datasets root.
func (controller *Controller) datasetDirs(ec echo.Context) error {
	root, dirs := controller.service.ListDatasetDirs()
	return ec.JSON(http.StatusOK, DatasetDirsDto{DatasetsRoot: root, Dirs: dirs})
}

// resolveDatasets suggests dataset directories for each provided subject
// name.
func (controller *Controller) resolveDatasets(ec echo.Context) error {
	var request ResolveDatasetsRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	resolutions, err := controller.service.ResolveDatasets(request.SubjectNames)
	if err != nil {
		return ingestError(err)
	}

	return ec.JSON(http.StatusOK, ResolveDatasetsDto{Resolutions: resolutions})
}

// ingestError maps orchestrator errors onto HTTP status codes.
func ingestError(err error) *echo.HTTPError {
	var validationErrs validator.ValidationErrors
	switch {
	case errors.Is(err, ingest.ErrProjectNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ingest.ErrSourceNotFound), errors.Is(err, ingest.ErrNoFilesSelected), errors.As(err, &validationErrs):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
