package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/maloquacious/roasteries/internal/catalog"
	"github.com/maloquacious/roasteries/internal/durable"
	"github.com/maloquacious/roasteries/internal/logger"
	"github.com/maloquacious/roasteries/internal/session"
	"github.com/maloquacious/roasteries/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T) *session.Session {
	t.Helper()
	s, err := session.Start(context.Background(), session.Options{
		Durable: durable.NewFileStore(t.TempDir()),
		Catalog: catalog.Default(),
		Logger:  logger.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func do(t *testing.T, h http.Handler, method, target, contentType string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAPIList(t *testing.T) {
	s := newTestSession(t)
	h := newAPI(s, logger.Nop())

	rec := do(t, h, http.MethodGet, "/api/roasteries", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var entries []session.Entry
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&entries))
	assert.Len(t, entries, s.Catalog().Len())

	rec = do(t, h, http.MethodGet, "/api/roasteries?starred=true", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestAPISetAndGet(t *testing.T) {
	s := newTestSession(t)
	h := newAPI(s, logger.Nop())

	rec := do(t, h, http.MethodPost, "/api/roasteries/LA%20CABRA", "application/json",
		strings.NewReader(`{"field": "starred", "value": true}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/roasteries/LA%20CABRA", "application/json",
		strings.NewReader(`{"field": "comment", "value": "natural process"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/roasteries/LA%20CABRA", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got store.Record
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.True(t, got.Starred)
	assert.Equal(t, "natural process", got.Comment)

	rec = do(t, h, http.MethodGet, "/api/stats", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st session.Stats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&st))
	assert.Equal(t, 1, st.Starred)
	assert.Equal(t, 0, st.Visited)
}

func TestAPISetErrors(t *testing.T) {
	s := newTestSession(t)
	h := newAPI(s, logger.Nop())

	tests := []struct {
		name        string
		contentType string
		body        string
		wantStatus  int
		wantCode    string
	}{
		{"unknown field", "application/json", `{"field": "rating", "value": 5}`, http.StatusBadRequest, "invalid_request"},
		{"unknown string field", "application/json", `{"field": "rating", "value": "5"}`, http.StatusBadRequest, "unknown_field"},
		{"bad boolean", "application/json", `{"field": "purchased", "value": "maybe"}`, http.StatusBadRequest, "invalid_value"},
		{"bad json", "application/json", `{`, http.StatusBadRequest, "invalid_request"},
		{"wrong content type", "text/plain", `{"field": "starred", "value": true}`, http.StatusUnsupportedMediaType, "unsupported_media_type"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/roasteries/Amokka", tc.contentType, strings.NewReader(tc.body))
			require.Equal(t, tc.wantStatus, rec.Code, rec.Body.String())
			var body map[string]string
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tc.wantCode, body["error"])
		})
	}

	got, err := s.Get(context.Background(), "Amokka")
	require.NoError(t, err)
	assert.Equal(t, store.DefaultRecord("Amokka"), got)
}

func TestAPIRegions(t *testing.T) {
	s := newTestSession(t)
	rec := do(t, newAPI(s, logger.Nop()), http.MethodGet, "/api/regions", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got []RegionCount
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Len(t, got, len(s.Catalog().Regions()))

	total := 0
	for i, rc := range got {
		assert.Equal(t, s.Catalog().Regions()[i], rc.Region)
		assert.Positive(t, rc.Roasteries, rc.Region)
		total += rc.Roasteries
	}
	assert.LessOrEqual(t, total, s.Catalog().Len())
}

func TestAPINotAcceptable(t *testing.T) {
	h := newAPI(newTestSession(t), logger.Nop())

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("Accept", "text/html")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotAcceptable, rec.Code)
}

func TestAPIExportImport(t *testing.T) {
	src := newTestSession(t)
	require.NoError(t, src.Set(context.Background(), "Amokka", store.SetPurchased(true)))

	rec := do(t, newAPI(src, logger.Nop()), http.MethodGet, "/api/export", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-sqlite3", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "coffee-tracker-")
	image := rec.Body.Bytes()
	require.True(t, bytes.HasPrefix(image, []byte("SQLite format 3\x00")))

	dst := newTestSession(t)
	h := newAPI(dst, logger.Nop())

	rec = do(t, h, http.MethodPost, "/api/import", "application/x-sqlite3", strings.NewReader("garbage"))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/import", "application/x-sqlite3", bytes.NewReader(image))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got, err := dst.Get(context.Background(), "Amokka")
	require.NoError(t, err)
	assert.True(t, got.Purchased)
}

func TestRawValue(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{`true`, "true", false},
		{`false`, "false", false},
		{`"hello"`, "hello", false},
		{`""`, "", false},
		{`42`, "", true},
		{`null`, "false", false},
		{`{"a": 1}`, "", true},
	}
	for _, tc := range tests {
		t.Run(tc.raw, func(t *testing.T) {
			got, err := rawValue(json.RawMessage(tc.raw))
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
