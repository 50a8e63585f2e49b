package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"convertd/internal/api"
	"convertd/internal/config"
	"convertd/internal/dispatch"
	"convertd/internal/execution"
	"convertd/internal/gateway"
	"convertd/internal/httpx"
	"convertd/internal/plugin"
	"convertd/internal/plugin/gpxtool"
	"convertd/internal/status"
	"convertd/internal/testsupport"
)

var trackStart = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

type env struct {
	cfg    *config.Config
	store  *execution.Store
	server *httptest.Server
	token  string
}

func newEnv(t *testing.T, token string) *env {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	blobs := testsupport.NewBlobStore(t, cfg)
	registry, err := plugin.Build(cfg, gpxtool.Plugins()...)
	require.NoError(t, err)

	exec, err := dispatch.NewExecutor(dispatch.ExecutorOptions{
		Store:    store,
		Blobs:    blobs,
		Registry: registry,
		WorkDir:  cfg.Paths.WorkDir,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	pool := dispatch.NewPool(exec, 2, 16, nil)
	pool.Start(ctx)
	dispatcher, err := dispatch.NewDispatcher(dispatch.OptionsFromConfig(cfg, pool, store, nil))
	require.NoError(t, err)
	dispatcher.Start(ctx)

	gw, err := gateway.New(gateway.Options{
		Registry: registry,
		Store:    store,
		Blobs:    blobs,
		Trigger:  dispatcher,
		Inline:   exec,
	})
	require.NoError(t, err)

	handler, err := api.NewHandler(api.Options{
		Gateway:  gw,
		Status:   status.New(store, blobs, nil),
		Registry: registry,
		Store:    store,
		Token:    token,
	})
	require.NoError(t, err)
	server := httptest.NewServer(handler)
	t.Cleanup(func() {
		server.Close()
		dispatcher.Stop()
		pool.Stop()
		cancel()
	})
	return &env{cfg: cfg, store: store, server: server, token: token}
}

func (e *env) do(t *testing.T, method, path string, body io.Reader, contentType string, headers ...string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	httpx.SetBearer(req, e.token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func multipartBody(t *testing.T, filename string, data []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (e *env) waitFor(t *testing.T, id string, want string) status.Report {
	t.Helper()
	var report status.Report
	require.Eventually(t, func() bool {
		req, err := http.NewRequest(http.MethodGet, e.server.URL+"/executions/"+id+"/status", nil)
		if err != nil {
			return false
		}
		httpx.SetBearer(req, e.token)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
			return false
		}
		return string(report.Status) == want
	}, 5*time.Second, 20*time.Millisecond)
	return report
}

func TestConvertPollDownloadDelete(t *testing.T) {
	e := newEnv(t, "")
	body, ct := multipartBody(t, "ride.gpx", testsupport.ThreePointTrack(trackStart), map[string]string{"speed_multiplier": "2"})

	resp := e.do(t, http.MethodPost, "/tools/gpx-speed/convert", body, ct, api.OwnerHeader, "alice")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	receipt := decode[api.SubmitResponse](t, resp)
	require.NotEmpty(t, receipt.ExecutionID)
	assert.Contains(t, []string{"pending", "processing"}, receipt.Status)

	rec, err := e.store.Get(context.Background(), receipt.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.Owner)
	assert.Equal(t, "2", rec.Parameters["speed_multiplier"])

	report := e.waitFor(t, receipt.ExecutionID, "completed")
	assert.True(t, report.OutputAvailable)

	dl := e.do(t, http.MethodGet, "/executions/"+receipt.ExecutionID+"/download", nil, "")
	require.Equal(t, http.StatusOK, dl.StatusCode)
	assert.Equal(t, "attachment; filename=ride.gpx", dl.Header.Get("Content-Disposition"))
	payload, err := io.ReadAll(dl.Body)
	require.NoError(t, err)
	assert.Contains(t, string(payload), "<gpx")

	del := e.do(t, http.MethodDelete, "/executions/"+receipt.ExecutionID, nil, "")
	assert.Equal(t, http.StatusNoContent, del.StatusCode)
	again := e.do(t, http.MethodDelete, "/executions/"+receipt.ExecutionID, nil, "")
	assert.Equal(t, http.StatusNoContent, again.StatusCode, "delete is idempotent")

	gone := e.do(t, http.MethodGet, "/executions/"+receipt.ExecutionID+"/status", nil, "")
	assert.Equal(t, http.StatusNotFound, gone.StatusCode)
	assert.Equal(t, "not_found", decode[httpx.ErrorBody](t, gone).Code)
}

func TestConvertRejectsOutOfRangeMultiplier(t *testing.T) {
	e := newEnv(t, "")
	body, ct := multipartBody(t, "ride.gpx", testsupport.ThreePointTrack(trackStart), map[string]string{"speed_multiplier": "50"})

	resp := e.do(t, http.MethodPost, "/tools/gpx-speed/convert", body, ct)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	errBody := decode[httpx.ErrorBody](t, resp)
	assert.Equal(t, "out_of_range", errBody.Code)
	assert.NotEmpty(t, errBody.Message)

	records, err := e.store.List(context.Background(), execution.Filter{})
	require.NoError(t, err)
	assert.Empty(t, records, "rejected uploads leave no record")
}

func TestConvertAcceptsQueryParameters(t *testing.T) {
	e := newEnv(t, "")
	body, ct := multipartBody(t, "ride.gpx", testsupport.ThreePointTrack(trackStart), nil)

	resp := e.do(t, http.MethodPost, "/tools/gpx-speed/convert?speed_multiplier=0.5", body, ct)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	receipt := decode[api.SubmitResponse](t, resp)
	e.waitFor(t, receipt.ExecutionID, "completed")
}

func TestConvertErrors(t *testing.T) {
	e := newEnv(t, "")

	cases := []struct {
		name     string
		path     string
		filename string
		wantCode int
		errCode  string
	}{
		{name: "unknown tool", path: "/tools/nope/convert", filename: "ride.gpx", wantCode: http.StatusNotFound, errCode: "not_found"},
		{name: "missing file", path: "/tools/gpx-speed/convert", wantCode: http.StatusBadRequest, errCode: "missing_file"},
		{name: "wrong extension", path: "/tools/gpx-speed/convert", filename: "ride.txt", wantCode: http.StatusBadRequest, errCode: "unsupported_extension"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body, ct := multipartBody(t, tc.filename, testsupport.ThreePointTrack(trackStart), map[string]string{"speed_multiplier": "2"})
			resp := e.do(t, http.MethodPost, tc.path, body, ct)
			require.Equal(t, tc.wantCode, resp.StatusCode)
			assert.Equal(t, tc.errCode, decode[httpx.ErrorBody](t, resp).Code)
		})
	}

	resp := e.do(t, http.MethodPost, "/tools/gpx-speed/convert", bytes.NewBufferString("{}"), "application/json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_multipart", decode[httpx.ErrorBody](t, resp).Code)
}

func TestDownloadNotReady(t *testing.T) {
	e := newEnv(t, "")
	rec := testsupport.NewRecord(t, e.store)

	resp := e.do(t, http.MethodGet, "/executions/"+rec.ID+"/download", nil, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "not_ready", decode[httpx.ErrorBody](t, resp).Code)

	missing := e.do(t, http.MethodGet, "/executions/unknown/download", nil, "")
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestInlineToolCompletesOnSubmit(t *testing.T) {
	e := newEnv(t, "")
	body, ct := multipartBody(t, "ride.gpx", testsupport.ThreePointTrack(trackStart), nil)

	resp := e.do(t, http.MethodPost, "/tools/gpx-analyze/convert", body, ct)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	receipt := decode[api.SubmitResponse](t, resp)
	assert.Equal(t, "completed", receipt.Status)

	dl := e.do(t, http.MethodGet, "/executions/"+receipt.ExecutionID+"/download", nil, "")
	require.Equal(t, http.StatusOK, dl.StatusCode)
	report := decode[gpxtool.Report](t, dl)
	assert.Equal(t, 3, report.PointCount)
}

func TestToolsAndHealth(t *testing.T) {
	e := newEnv(t, "")

	tools := decode[api.ToolListResponse](t, e.do(t, http.MethodGet, "/tools", nil, ""))
	require.Len(t, tools.Tools, 2)
	assert.Equal(t, "gpx-analyze", tools.Tools[0].Name)
	assert.Equal(t, "gpx-speed", tools.Tools[1].Name)
	assert.Equal(t, []string{"gpx"}, tools.Tools[1].InputExtensions)

	testsupport.NewRecord(t, e.store)
	health := decode[api.HealthResponse](t, e.do(t, http.MethodGet, "/healthz", nil, ""))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.Counts["pending"])
	assert.Equal(t, 0, health.Counts["failed"])
	assert.Equal(t, 1, health.Total)
	assert.Equal(t, 2, health.Tools)
	assert.True(t, health.Database.TableExists)
	assert.True(t, health.Database.Integrity)
	assert.Positive(t, health.Database.SchemaVersion)
}

func TestHealthUnavailableWhenStoreClosed(t *testing.T) {
	e := newEnv(t, "")
	require.NoError(t, e.store.Close())

	resp := e.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestBearerTokenRequired(t *testing.T) {
	e := newEnv(t, "s3cret")

	resp, err := http.Get(e.server.URL + "/tools")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	ok := e.do(t, http.MethodGet, "/tools", nil, "")
	assert.Equal(t, http.StatusOK, ok.StatusCode)
}
