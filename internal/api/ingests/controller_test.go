package ingests_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/ingesthub/ingesthub/internal/api/ingests"
	"github.com/ingesthub/ingesthub/internal/ingest"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIngestService struct {
	result   *ingest.Result
	err      error
	checkErr error
	events   []ingest.ProgressEvent

	root        string
	dirs        []string
	resolutions []ingest.DatasetResolution
}

func (fake *fakeIngestService) CheckRequest(_ *ingest.Request) error {
	return fake.checkErr
}

func (fake *fakeIngestService) Execute(_ context.Context, _ *ingest.Request, sink ingest.ProgressSink) (*ingest.Result, error) {
	for _, event := range fake.events {
		sink.Send(event)
	}
	return fake.result, fake.err
}

func (fake *fakeIngestService) ListDatasetDirs() (string, []string) {
	return fake.root, fake.dirs
}

func (fake *fakeIngestService) ResolveDatasets([]string) ([]ingest.DatasetResolution, error) {
	return fake.resolutions, fake.err
}

func serve(service ingests.IngestService, method string, path string, body string) *httptest.ResponseRecorder {
	ec := echo.New()
	ingests.New(service).SetRoutes(ec.Group(""))

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}

	request := httptest.NewRequest(method, path, reader)
	request.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	recorder := httptest.NewRecorder()
	ec.ServeHTTP(recorder, request)
	return recorder
}

func Test_Execute_ReturnsResultOnSuccess(t *testing.T) {
	packageID := uuid.New()
	service := &fakeIngestService{result: &ingest.Result{
		PackageID:       packageID,
		FileCount:       3,
		SubjectsCreated: []string{"Jo Plaete"},
	}}

	recorder := serve(service, http.MethodPost, "/execute/", "")
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), packageID.String())
	assert.Contains(t, recorder.Body.String(), `"file_count":3`)
}

func Test_Execute_MapsErrorsToStatusCodes(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		expectedCode int
	}{
		{"unknown project", ingest.ErrProjectNotFound, http.StatusNotFound},
		{"missing source dir", ingest.ErrSourceNotFound, http.StatusBadRequest},
		{"empty selection", ingest.ErrNoFilesSelected, http.StatusBadRequest},
		{"unexpected failure", assert.AnError, http.StatusInternalServerError},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			recorder := serve(&fakeIngestService{err: test.err}, http.MethodPost, "/execute/", "")
			assert.Equal(t, test.expectedCode, recorder.Code)
		})
	}
}

func Test_Execute_RejectsMalformedBody(t *testing.T) {
	recorder := serve(&fakeIngestService{}, http.MethodPost, "/execute/", "{not json")
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func Test_ExecuteStream_WritesServerSentEvents(t *testing.T) {
	service := &fakeIngestService{
		result: &ingest.Result{PackageID: uuid.New()},
		events: []ingest.ProgressEvent{
			{Type: ingest.EventSetup, Subjects: 1, TotalFiles: 2},
			{Step: ingest.StepProbing, Current: 1, Total: 2, File: "clip.mov"},
		},
	}

	recorder := serve(service, http.MethodPost, "/execute-stream/", "")
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "text/event-stream", recorder.Header().Get(echo.HeaderContentType))

	body := recorder.Body.String()
	frames := strings.Split(strings.TrimSpace(body), "\n\n")
	require.Len(t, frames, 2)
	assert.True(t, strings.HasPrefix(frames[0], "data: "))
	assert.Contains(t, frames[0], `"type":"setup"`)
	assert.Contains(t, frames[1], `"step":"probing"`)
}

func Test_ExecuteStream_RejectsBadRequestsBeforeStreaming(t *testing.T) {
	service := &fakeIngestService{checkErr: ingest.ErrSourceNotFound}

	recorder := serve(service, http.MethodPost, "/execute-stream/", "")
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.NotEqual(t, "text/event-stream", recorder.Header().Get(echo.HeaderContentType),
		"no stream should open for a rejected request")
}

func Test_DatasetDirs_ReturnsRootAndDirs(t *testing.T) {
	service := &fakeIngestService{root: "/datasets", dirs: []string{"jo_plaete", "mika"}}

	recorder := serve(service, http.MethodGet, "/dataset-dirs/", "")
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), `"datasets_root":"/datasets"`)
	assert.Contains(t, recorder.Body.String(), "jo_plaete")
}

func Test_ResolveDatasets_ReturnsResolutions(t *testing.T) {
	service := &fakeIngestService{resolutions: []ingest.DatasetResolution{
		{SubjectName: "Jo Plaete", ExistingDir: "/datasets/jo_plaete"},
	}}

	recorder := serve(service, http.MethodPost, "/resolve-datasets/", `{"subject_names":["Jo Plaete"]}`)
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), `"existing_dir":"/datasets/jo_plaete"`)
}
