package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/jake-scott/smartthings-appliances/internal/pkg/cloudapi"
	"github.com/jake-scott/smartthings-appliances/internal/pkg/dispatch"
	"github.com/jake-scott/smartthings-appliances/internal/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCloud struct {
	controlDocs []cloudapi.StateDocument
}

func (f *fakeCloud) WithAccessToken(string) cloudapi.ApplianceCloud { return f }

func (f *fakeCloud) WithTimeout(time.Duration) cloudapi.ApplianceCloud { return f }

func (f *fakeCloud) Devices() ([]cloudapi.ApplianceSummary, error) {
	return []cloudapi.ApplianceSummary{
		{ID: "dryer-1", Alias: "Dryer", DeviceType: "DEVICE_DRYER", ModelName: "RH90"},
	}, nil
}

func (f *fakeCloud) DeviceProfile(string) (cloudapi.StateDocument, error) { return nil, nil }

func (f *fakeCloud) DeviceState(string) (cloudapi.StateDocument, error) { return nil, nil }

func (f *fakeCloud) Control(_ string, doc cloudapi.StateDocument) (cloudapi.StateDocument, error) {
	f.controlDocs = append(f.controlDocs, doc)
	return nil, nil
}

func (f *fakeCloud) Route() (string, error) { return "", nil }

func (f *fakeCloud) RegisterClient() error { return nil }

func (f *fakeCloud) IssueCertificate(string) (*cloudapi.CertificateGrant, error) { return nil, nil }

func (f *fakeCloud) SubscribeEvents(string, time.Duration) error { return nil }

func testRouter(t *testing.T) (*mux.Router, *registry.Registry, *fakeCloud) {
	cloud := &fakeCloud{}

	reg := registry.New(cloud)
	_, err := reg.Discover()
	require.NoError(t, err)
	reg.SyncSelection([]string{"dryer-1"})

	dh := NewDevicesHandler(reg, dispatch.New(cloud, reg))

	r := mux.NewRouter()
	r.HandleFunc("/devices", dh.List).Methods(http.MethodGet)
	r.HandleFunc("/devices/{id}", dh.Get).Methods(http.MethodGet)
	r.HandleFunc("/devices/{id}/commands", dh.Command).Methods(http.MethodPost)

	return r, reg, cloud
}

func TestListDevices(t *testing.T) {
	r, reg, _ := testRouter(t)
	reg.ApplyUpdate("dryer-1", map[string]interface{}{"switch": "on"})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/devices", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var views []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)

	assert.Equal(t, "dryer-1", views[0]["id"])
	assert.Equal(t, "DEVICE_DRYER", views[0]["deviceType"])
	assert.Equal(t, true, views[0]["primary"])

	attrs, ok := views[0]["attributes"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "on", attrs["switch"])
}

func TestGetDevice(t *testing.T) {
	r, _, _ := testRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/devices/dryer-1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/devices/ghost-9", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCommand(t *testing.T) {
	r, _, cloud := testRouter(t)

	body := strings.NewReader(`{"attribute": "operation", "value": "START"}`)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/devices/dryer-1/commands", body))

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, cloud.controlDocs, 1)
	assert.Equal(t, cloudapi.StateDocument{
		"operation": map[string]interface{}{"dryerOperationMode": "START"},
	}, cloud.controlDocs[0])
}

func TestCommandValidation(t *testing.T) {
	r, _, _ := testRouter(t)

	// missing attribute
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/devices/dryer-1/commands", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// trailing garbage
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/devices/dryer-1/commands",
		strings.NewReader(`{"attribute": "operation", "value": "START"} extra`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// unknown device
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/devices/ghost-9/commands",
		strings.NewReader(`{"attribute": "operation", "value": "START"}`)))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
