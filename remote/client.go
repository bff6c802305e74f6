// Copyright 2025 Andrew Huh
// SPDX-License-Identifier: Apache-2.0

// Package remote implements the client for the authoritative journal
// backend: paginated/filtered entry and survey queries, writes, deletes and
// blob storage, all over an HTTP+JSON API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Repository is the contract the sync core consumes. The HTTP client below
// is the production implementation; tests substitute fakes.
type Repository interface {
	QueryEntries(ctx context.Context, q EntryQuery) (*EntryPage, error)
	GetEntry(ctx context.Context, id string) (*Entry, error)
	WriteEntry(ctx context.Context, e *Entry) (*Entry, error)
	UpdateEntry(ctx context.Context, id string, patch EntryPatch) (*Entry, error)
	DeleteEntry(ctx context.Context, id string) error
	ListEntryDates(ctx context.Context, ownerID string) ([]string, error)

	QuerySurveys(ctx context.Context, ownerID string, from, to time.Time) ([]Survey, error)
	GetSurvey(ctx context.Context, ownerID, targetDate string) (*Survey, error)
	WriteSurvey(ctx context.Context, s *Survey) error
	DeleteSurvey(ctx context.Context, ownerID, targetDate string) error

	UploadBlob(ctx context.Context, name string, contentType string, data []byte) (string, error)
	DeleteBlob(ctx context.Context, ref string) error
}

// Client talks to the journal backend over HTTP.
type Client struct {
	BaseURL string
	Token   func(context.Context) (string, error) // returns bearer token
	HTTP    *http.Client
}

var _ Repository = (*Client)(nil)

// NewClient creates an HTTP repository client. tok is called per request to
// obtain the current bearer token.
func NewClient(baseURL string, tok func(ctx context.Context) (string, error)) *Client {
	return &Client{
		BaseURL: baseURL,
		Token:   tok,
		HTTP:    &http.Client{Timeout: 60 * time.Second},
	}
}

// QueryEntries fetches one page of entries matching q.
func (c *Client) QueryEntries(ctx context.Context, q EntryQuery) (*EntryPage, error) {
	if q.OwnerID == "" {
		return nil, &QueryError{Op: "query entries", Err: fmt.Errorf("owner id is required")}
	}

	params := url.Values{}
	params.Set("owner", q.OwnerID)
	if !q.UpdatedAfter.IsZero() {
		params.Set("updated_after", q.UpdatedAfter.UTC().Format(time.RFC3339Nano))
	}
	if !q.StartDate.IsZero() {
		params.Set("start", q.StartDate.UTC().Format(time.RFC3339Nano))
	}
	if !q.EndDate.IsZero() {
		params.Set("end", q.EndDate.UTC().Format(time.RFC3339Nano))
	}
	if q.PageSize > 0 {
		params.Set("page_size", strconv.Itoa(q.PageSize))
	}
	if q.Cursor != "" {
		params.Set("cursor", q.Cursor)
	}

	var page EntryPage
	if err := c.doJSON(ctx, http.MethodGet, "/v1/entries?"+params.Encode(), nil, &page); err != nil {
		return nil, &QueryError{Op: "query entries", StatusCode: statusOf(err), Err: err}
	}
	for i := range page.Entries {
		if err := page.Entries[i].Validate(); err != nil {
			return nil, &QueryError{Op: "query entries", Err: fmt.Errorf("invalid record in response: %w", err)}
		}
	}
	return &page, nil
}

// GetEntry fetches a single entry by id.
func (c *Client) GetEntry(ctx context.Context, id string) (*Entry, error) {
	var e Entry
	if err := c.doJSON(ctx, http.MethodGet, "/v1/entries/"+url.PathEscape(id), nil, &e); err != nil {
		return nil, &QueryError{Op: "get entry", StatusCode: statusOf(err), Err: err}
	}
	return &e, nil
}

// WriteEntry creates an entry and returns the stored record, including the
// backend-assigned id and write timestamps.
func (c *Client) WriteEntry(ctx context.Context, e *Entry) (*Entry, error) {
	if err := e.Validate(); err != nil {
		return nil, &WriteError{Op: "write entry", Err: err}
	}
	var resp writeEntryResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/entries", e, &resp); err != nil {
		return nil, &WriteError{Op: "write entry", StatusCode: statusOf(err), Err: err}
	}
	if resp.Entry.ID == "" {
		return nil, &WriteError{Op: "write entry", Err: fmt.Errorf("backend returned entry without id")}
	}
	return &resp.Entry, nil
}

// UpdateEntry applies a partial patch and returns the full updated record.
func (c *Client) UpdateEntry(ctx context.Context, id string, patch EntryPatch) (*Entry, error) {
	var e Entry
	if err := c.doJSON(ctx, http.MethodPatch, "/v1/entries/"+url.PathEscape(id), &patch, &e); err != nil {
		return nil, &WriteError{Op: "update entry", StatusCode: statusOf(err), Err: err}
	}
	return &e, nil
}

// DeleteEntry removes the entry record. Referenced blobs are not touched;
// callers cascade image deletion themselves before calling this.
func (c *Client) DeleteEntry(ctx context.Context, id string) error {
	if err := c.doJSON(ctx, http.MethodDelete, "/v1/entries/"+url.PathEscape(id), nil, nil); err != nil {
		return &WriteError{Op: "delete entry", StatusCode: statusOf(err), Err: err}
	}
	return nil
}

// ListEntryDates returns the canonical date keys (calendar days) on which
// the owner has at least one entry. Used to rebuild the date index cold.
func (c *Client) ListEntryDates(ctx context.Context, ownerID string) ([]string, error) {
	params := url.Values{}
	params.Set("owner", ownerID)
	var listing dateListing
	if err := c.doJSON(ctx, http.MethodGet, "/v1/entry-dates?"+params.Encode(), nil, &listing); err != nil {
		return nil, &QueryError{Op: "list entry dates", StatusCode: statusOf(err), Err: err}
	}
	return listing.Dates, nil
}

// QuerySurveys fetches all surveys for the owner whose target date falls in
// [from, to].
func (c *Client) QuerySurveys(ctx context.Context, ownerID string, from, to time.Time) ([]Survey, error) {
	params := url.Values{}
	params.Set("owner", ownerID)
	params.Set("from", from.UTC().Format(time.RFC3339Nano))
	params.Set("to", to.UTC().Format(time.RFC3339Nano))
	var page surveyPage
	if err := c.doJSON(ctx, http.MethodGet, "/v1/surveys?"+params.Encode(), nil, &page); err != nil {
		return nil, &QueryError{Op: "query surveys", StatusCode: statusOf(err), Err: err}
	}
	for i := range page.Surveys {
		if err := page.Surveys[i].Validate(); err != nil {
			return nil, &QueryError{Op: "query surveys", Err: fmt.Errorf("invalid record in response: %w", err)}
		}
	}
	return page.Surveys, nil
}

// GetSurvey fetches the completed survey for a specific day, or nil if the
// backend has none.
func (c *Client) GetSurvey(ctx context.Context, ownerID, targetDate string) (*Survey, error) {
	params := url.Values{}
	params.Set("owner", ownerID)
	params.Set("target_date", targetDate)
	var s Survey
	err := c.doJSON(ctx, http.MethodGet, "/v1/surveys/by-date?"+params.Encode(), nil, &s)
	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			return nil, nil
		}
		return nil, &QueryError{Op: "get survey", StatusCode: statusOf(err), Err: err}
	}
	return &s, nil
}

// WriteSurvey stores a completed survey. The backend enforces at most one
// completed survey per (owner, target date) and answers 409 on a duplicate;
// callers map that status to their conflict error.
func (c *Client) WriteSurvey(ctx context.Context, s *Survey) error {
	if err := s.Validate(); err != nil {
		return &WriteError{Op: "write survey", Err: err}
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/surveys", s, nil); err != nil {
		return &WriteError{Op: "write survey", StatusCode: statusOf(err), Err: err}
	}
	return nil
}

// DeleteSurvey removes the completed survey for a specific day.
func (c *Client) DeleteSurvey(ctx context.Context, ownerID, targetDate string) error {
	params := url.Values{}
	params.Set("owner", ownerID)
	params.Set("target_date", targetDate)
	if err := c.doJSON(ctx, http.MethodDelete, "/v1/surveys/by-date?"+params.Encode(), nil, nil); err != nil {
		return &WriteError{Op: "delete survey", StatusCode: statusOf(err), Err: err}
	}
	return nil
}

// UploadBlob stores image bytes under the given object name and returns the
// canonical ref to embed in an entry.
func (c *Client) UploadBlob(ctx context.Context, name string, contentType string, data []byte) (string, error) {
	u := c.BaseURL + "/v1/blobs/" + url.PathEscape(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(data))
	if err != nil {
		return "", &WriteError{Op: "upload blob", Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	if err := c.authorize(ctx, req); err != nil {
		return "", &WriteError{Op: "upload blob", Err: err}
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", &WriteError{Op: "upload blob", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return "", &WriteError{Op: "upload blob", StatusCode: resp.StatusCode,
			Err: fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))}
	}
	var blobResp uploadBlobResponse
	if err := json.NewDecoder(resp.Body).Decode(&blobResp); err != nil {
		return "", &WriteError{Op: "upload blob", Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return blobResp.Ref, nil
}

// DeleteBlob removes a stored blob by ref.
func (c *Client) DeleteBlob(ctx context.Context, ref string) error {
	params := url.Values{}
	params.Set("ref", ref)
	if err := c.doJSON(ctx, http.MethodDelete, "/v1/blobs?"+params.Encode(), nil, nil); err != nil {
		return &WriteError{Op: "delete blob", StatusCode: statusOf(err), Err: err}
	}
	return nil
}

// httpStatusError carries a non-2xx status through the error chain so the
// typed wrappers can record it.
type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("server returned status %d: %s", e.status, e.body)
}

func statusOf(err error) int {
	if se, ok := err.(*httpStatusError); ok {
		return se.status
	}
	return 0
}

// doJSON sends a request with an optional JSON body and decodes a JSON
// response into out (out may be nil to discard the body).
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := c.authorize(ctx, req); err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &httpStatusError{status: resp.StatusCode, body: string(b)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	if c.Token == nil {
		return nil
	}
	token, err := c.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to get auth token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}
