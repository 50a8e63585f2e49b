package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"convertd/internal/api"
	"convertd/internal/httpx"
	"convertd/internal/status"
)

// errNotFound reports a 404 from the daemon.
var errNotFound = errors.New("execution not found")

// apiError carries a non-2xx daemon response.
type apiError struct {
	Status int
	Body   httpx.ErrorBody
}

func (e *apiError) Error() string {
	if e.Body.Code != "" {
		return fmt.Sprintf("server returned %d (%s): %s", e.Status, e.Body.Code, e.Body.Message)
	}
	return fmt.Sprintf("server returned %d", e.Status)
}

type apiClient struct {
	base   string
	token  string
	client *http.Client
}

func newAPIClient(base, token string) *apiClient {
	return &apiClient{
		base:   strings.TrimRight(base, "/"),
		token:  token,
		client: &http.Client{},
	}
}

func (c *apiClient) do(req *http.Request) (*http.Response, error) {
	httpx.SetBearer(req, c.token)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, wrapDialError(err, c.base)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		apiErr := &apiError{Status: resp.StatusCode}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&apiErr.Body)
		if resp.StatusCode == http.StatusNotFound && apiErr.Body.Code == "not_found" && strings.HasPrefix(req.URL.Path, "/executions/") {
			return nil, fmt.Errorf("%w: %s", errNotFound, apiErr.Body.Message)
		}
		return nil, apiErr
	}
	return resp, nil
}

// Submit streams the file at path to the tool's convert route. Parameters
// are written before the file part so the daemon sees them first.
func (c *apiClient) Submit(ctx context.Context, tool, path string, params map[string]string) (api.SubmitResponse, error) {
	file, err := os.Open(path)
	if err != nil {
		return api.SubmitResponse{}, fmt.Errorf("open input: %w", err)
	}
	defer file.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeUpload(mw, file, filepath.Base(path), params))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/tools/"+url.PathEscape(tool)+"/convert", pr)
	if err != nil {
		pr.Close()
		return api.SubmitResponse{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if owner := os.Getenv("USER"); owner != "" {
		req.Header.Set(api.OwnerHeader, owner)
	}
	resp, err := c.do(req)
	if err != nil {
		pr.Close()
		return api.SubmitResponse{}, err
	}
	defer resp.Body.Close()

	var receipt api.SubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		return api.SubmitResponse{}, fmt.Errorf("decode receipt: %w", err)
	}
	return receipt, nil
}

func writeUpload(mw *multipart.Writer, file io.Reader, name string, params map[string]string) error {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := mw.WriteField(k, params[k]); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, file); err != nil {
		return err
	}
	return mw.Close()
}

// Status polls one execution.
func (c *apiClient) Status(ctx context.Context, id string) (status.Report, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/executions/"+url.PathEscape(id)+"/status", nil)
	if err != nil {
		return status.Report{}, err
	}
	resp, err := c.do(req)
	if err != nil {
		return status.Report{}, err
	}
	defer resp.Body.Close()
	var report status.Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return status.Report{}, fmt.Errorf("decode status: %w", err)
	}
	return report, nil
}

// Download opens the result stream and returns the server-suggested name.
// The caller closes the body.
func (c *apiClient) Download(ctx context.Context, id string) (io.ReadCloser, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/executions/"+url.PathEscape(id)+"/download", nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, "", err
	}
	name := ""
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		name = filepath.Base(params["filename"])
	}
	return resp.Body, name, nil
}

// Delete removes an execution.
func (c *apiClient) Delete(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.base+"/executions/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}
