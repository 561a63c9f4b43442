package webhook

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/conduit/internal/config"
	"github.com/mattjoyce/conduit/internal/log"
)

type submitted struct {
	name string
	args []any
}

type fakeBridge struct {
	mu      sync.Mutex
	running bool
	got     []submitted
}

func (f *fakeBridge) Submit(name string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, submitted{name: name, args: args})
}

func (f *fakeBridge) Running() bool { return f.running }

const testSecret = "test-secret"

func newTestServer(running bool) (*fakeBridge, http.Handler) {
	fb := &fakeBridge{running: running}
	srv := New(Config{
		Listen: "127.0.0.1:0",
		Endpoints: []EndpointConfig{{
			Path:        "/hooks/deploy",
			Event:       "Deploy",
			Secret:      testSecret,
			MaxBodySize: 64,
		}},
	}, fb, log.Discard())
	return fb, srv.Handler()
}

func post(h http.Handler, path string, body []byte, sig string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	if sig != "" {
		req.Header.Set(DefaultSignatureHeader, sig)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWebhookSubmitsVerifiedBody(t *testing.T) {
	fb, h := newTestServer(true)
	body := []byte(`{"ref":"main"}`)

	rec := post(h, "/hooks/deploy", body, Signature(body, testSecret))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp AcceptedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Deploy", resp.Event)
	assert.Equal(t, len(body), resp.Bytes)

	require.Len(t, fb.got, 1)
	assert.Equal(t, "Deploy", fb.got[0].name)
	assert.Equal(t, []any{string(body)}, fb.got[0].args)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	fb, h := newTestServer(true)
	body := []byte(`{"ref":"main"}`)

	rec := post(h, "/hooks/deploy", body, Signature([]byte("other"), testSecret))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.NotContains(t, rec.Body.String(), "hmac")

	rec = post(h, "/hooks/deploy", body, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, fb.got)
}

func TestWebhookBodyTooLarge(t *testing.T) {
	fb, h := newTestServer(true)
	body := []byte(strings.Repeat("x", 65))

	rec := post(h, "/hooks/deploy", body, Signature(body, testSecret))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, fb.got)
}

func TestWebhookWorkerStopped(t *testing.T) {
	fb, h := newTestServer(false)
	body := []byte(`{}`)

	rec := post(h, "/hooks/deploy", body, Signature(body, testSecret))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, fb.got)
}

func TestWebhookUnknownPath(t *testing.T) {
	_, h := newTestServer(true)
	rec := post(h, "/hooks/other", []byte(`{}`), "sha256=00")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFromConfig(t *testing.T) {
	cfg, err := FromConfig(config.WebhooksConfig{
		Listen: "127.0.0.1:9000",
		Endpoints: []config.WebhookEndpoint{{
			Path:            "/hooks/a",
			Event:           "A",
			Secret:          "s",
			SignatureHeader: "X-Sig",
			MaxBodySize:     "4KB",
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Listen)
	require.Len(t, cfg.Endpoints, 1)
	assert.Equal(t, int64(4096), cfg.Endpoints[0].MaxBodySize)
	assert.Equal(t, "X-Sig", cfg.Endpoints[0].SignatureHeader)

	_, err = FromConfig(config.WebhooksConfig{Endpoints: []config.WebhookEndpoint{{Path: "/x", Event: "X", Secret: "s", MaxBodySize: "big"}}})
	assert.Error(t, err)
}

func TestNewAppliesDefaults(t *testing.T) {
	srv := New(Config{Endpoints: []EndpointConfig{{Path: "/p", Event: "E", Secret: "s"}}}, &fakeBridge{}, log.Discard())
	ep := srv.endpoints["/p"]
	require.NotNil(t, ep)
	assert.Equal(t, int64(DefaultMaxBodySize), ep.MaxBodySize)
	assert.Equal(t, DefaultSignatureHeader, ep.SignatureHeader)
}
