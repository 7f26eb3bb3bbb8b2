package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wachiwi/framecam/pkg/camera"
	"github.com/wachiwi/framecam/pkg/encode"
	"github.com/wachiwi/framecam/pkg/store"
	"github.com/wachiwi/framecam/pkg/trigger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	latest   *camera.Cell
	preview  *camera.Cell
	store    *store.Store
	requests atomic.Int32
	router   *gin.Engine
}

func newFixture(t *testing.T, user string, onDemand bool) *fixture {
	t.Helper()
	f := &fixture{
		latest:  camera.NewCell(0),
		preview: camera.NewCell(0),
		store:   store.New(t.TempDir(), 0),
	}
	var req trigger.Requester
	if onDemand {
		req = trigger.RequesterFunc(func() bool { return f.requests.Add(1) == 1 })
	}
	f.router = newRouter(routes{
		Latest:        f.latest,
		Preview:       f.preview,
		Store:         f.store,
		Trigger:       req,
		User:          user,
		Password:      "secret",
		SessionSecret: "test-secret",
	})
	return f
}

func (f *fixture) deliver(t *testing.T) *camera.Frame {
	t.Helper()
	frame := &camera.Frame{
		Seq:        7,
		Format:     encode.JPEG,
		Width:      4,
		Height:     2,
		Data:       []byte{0xFF, 0xD8, 0x01, 0x02, 0xFF, 0xD9},
		CapturedAt: time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC),
	}
	require.NoError(t, f.latest.Deliver(context.Background(), frame))
	require.NoError(t, f.preview.Deliver(context.Background(), frame))
	return frame
}

func (f *fixture) do(method, target string, body string, header http.Header) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestSnapshot(t *testing.T) {
	f := newFixture(t, "", false)

	w := f.do(http.MethodGet, "/snapshot", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	frame := f.deliver(t)
	w = f.do(http.MethodGet, "/snapshot", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	assert.Equal(t, "7", w.Header().Get("X-Frame-Seq"))
	assert.Equal(t, frame.Data, w.Body.Bytes())
}

func TestTrigger(t *testing.T) {
	f := newFixture(t, "", false)
	w := f.do(http.MethodPost, "/trigger", "", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	f = newFixture(t, "", true)
	w = f.do(http.MethodPost, "/trigger", "", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"queued":true}`, w.Body.String())

	w = f.do(http.MethodPost, "/trigger", "", nil)
	assert.JSONEq(t, `{"queued":false}`, w.Body.String())
	assert.Equal(t, int32(2), f.requests.Load())
}

func TestSaveAndDownload(t *testing.T) {
	f := newFixture(t, "", false)

	w := f.do(http.MethodPost, "/save", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	frame := f.deliver(t)
	w = f.do(http.MethodPost, "/save", "", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var saved struct {
		Name string `json:"name"`
		Seq  uint64 `json:"seq"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &saved))
	assert.Equal(t, "FrameCam_20250601_123000.jpg", saved.Name)
	assert.Equal(t, uint64(7), saved.Seq)

	w = f.do(http.MethodGet, "/frames", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var entries []store.Entry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, saved.Name, entries[0].Name)

	w = f.do(http.MethodGet, "/frames/"+saved.Name, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, frame.Data, w.Body.Bytes())

	w = f.do(http.MethodGet, "/frames/journal.json", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), saved.Name)
}

func TestStream(t *testing.T) {
	f := newFixture(t, "", false)
	f.deliver(t)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/stream", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, camera.MJPEGContentType, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: 6\r\n")
}

func TestAuthRequired(t *testing.T) {
	f := newFixture(t, "admin", false)

	w := f.do(http.MethodGet, "/snapshot", "", nil)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/login", w.Header().Get("Location"))

	w = f.do(http.MethodGet, "/snapshot", "", http.Header{"Hx-Request": {"true"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "/login", w.Header().Get("HX-Redirect"))

	w = f.do(http.MethodGet, "/login", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	form := url.Values{"username": {"admin"}, "password": {"wrong"}}
	w = f.do(http.MethodPost, "/login", form.Encode(), nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid credentials")

	form.Set("password", "secret")
	w = f.do(http.MethodPost, "/login", form.Encode(), nil)
	require.Equal(t, http.StatusFound, w.Code)
	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)

	f.deliver(t)
	header := http.Header{"Cookie": {cookies[0].Name + "=" + cookies[0].Value}}
	w = f.do(http.MethodGet, "/snapshot", "", header)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodGet, "/logout", "", header)
	assert.Equal(t, http.StatusFound, w.Code)
}
