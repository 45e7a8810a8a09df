// Package pageestimate asks a collaborator service how many pages a document has.
package pageestimate

import (
	"context"
	"fmt"
	"net/http"

	"github.com/onlab/orderdesk/internal/domain"
	"github.com/onlab/orderdesk/internal/httputil"
)

// Estimator returns a page count for a stored document.
type Estimator interface {
	EstimatePages(ctx context.Context, objectPath string, size int64) (int, error)
}

// HTTPEstimator calls a remote estimator over JSON.
type HTTPEstimator struct {
	client *httputil.ServiceClient
}

// NewHTTPEstimator creates an estimator backed by a ServiceClient.
func NewHTTPEstimator(client *httputil.ServiceClient) *HTTPEstimator {
	return &HTTPEstimator{client: client}
}

type estimateRequest struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

type estimateResponse struct {
	Pages int `json:"pages"`
}

// EstimatePages implements Estimator.
func (e *HTTPEstimator) EstimatePages(ctx context.Context, objectPath string, size int64) (int, error) {
	resp, err := e.client.Post(ctx, "/v1/estimate", estimateRequest{Path: objectPath, Size: size})
	if err != nil {
		return 0, fmt.Errorf("%w: page estimator: %v", domain.ErrTransient, err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		resp.Body.Close()
		return 0, fmt.Errorf("%w: page estimator returned %d", domain.ErrTransient, resp.StatusCode)
	}

	var out estimateResponse
	if err := httputil.DecodeResponse(resp, &out); err != nil {
		return 0, fmt.Errorf("page estimator: %w", err)
	}
	if out.Pages <= 0 {
		return 0, fmt.Errorf("%w: page estimator returned %d pages", domain.ErrInvalidInput, out.Pages)
	}
	return out.Pages, nil
}

// SizeEstimator approximates pages from the file size when no collaborator is configured.
type SizeEstimator struct {
	BytesPerPage int64
}

// EstimatePages implements Estimator.
func (e SizeEstimator) EstimatePages(_ context.Context, _ string, size int64) (int, error) {
	per := e.BytesPerPage
	if per <= 0 {
		per = 20 << 10
	}
	pages := int((size + per - 1) / per)
	if pages < 1 {
		pages = 1
	}
	return pages, nil
}

// Fixed always returns the same count. Used in tests.
type Fixed int

// EstimatePages implements Estimator.
func (f Fixed) EstimatePages(context.Context, string, int64) (int, error) {
	return int(f), nil
}
