package diag

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ploytecd/internal/shmring"
)

type fakeSource struct{ state string }

func (f fakeSource) StateName() string { return f.state }

func newTestServer(t *testing.T) (*Server, *shmring.Region) {
	t.Helper()
	name := "ploytecd-diag-test-" + time.Now().Format("150405.000000")
	region, err := shmring.Create(name, 4, 8192)
	require.NoError(t, err)
	t.Cleanup(func() { region.Close() })
	return New(region, fakeSource{state: "streaming"}), region
}

func TestHealthzReportsNoDeviceWhenAbsent(t *testing.T) {
	server, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	server.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "no-device", resp.Status)
}

func TestHealthzReportsHealthyWhenStreaming(t *testing.T) {
	server, region := newTestServer(t)
	region.Audio.HardwarePresent.Store(true)
	region.Audio.DriverReady.Store(true)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	server.router.ServeHTTP(rec, req)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
}

func TestStatusReportsRegionFields(t *testing.T) {
	server, region := newTestServer(t)
	region.Audio.SampleRate.Store(96000)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	server.router.ServeHTTP(rec, req)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "streaming", resp.State)
	assert.Equal(t, uint32(96000), resp.SampleRate)
	assert.Equal(t, region.Header.SessionID.Load(), resp.SessionID)
}
