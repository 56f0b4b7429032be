package installation

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGeneratesClientID(t *testing.T) {
	s := New()
	assert.NotEmpty(t, s.ClientID())

	// each installation gets its own ID
	assert.NotEqual(t, s.ClientID(), New().ClientID())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	fileName := filepath.Join(t.TempDir(), "state.json")

	s := New()
	s.SetAccessToken("tok-123")
	s.SetCountryCode("GB")
	s.SetCertificate("ca-pem", "cert-pem", "key-pem")
	s.SetCSRHash("abc")
	s.SetRouteAddress("ssl://mqtt.example.com:8883")
	s.SetSubscriptions([]string{"app/clients/x/push", "app/clients/x/event"})
	s.SetSelectedDeviceIDs([]string{"dev-1", "dev-2"})
	s.SetSnapshot("dev-1", map[string]interface{}{"switch": "on"})

	require.NoError(t, s.Save(fileName))

	loaded := New()
	require.NoError(t, loaded.Load(fileName))

	// the generated ID is replaced by the persisted one
	assert.Equal(t, s.ClientID(), loaded.ClientID())
	assert.Equal(t, "tok-123", loaded.AccessToken())
	assert.Equal(t, "GB", loaded.CountryCode())

	ca, cert, key := loaded.Certificate()
	assert.Equal(t, "ca-pem", ca)
	assert.Equal(t, "cert-pem", cert)
	assert.Equal(t, "key-pem", key)

	assert.Equal(t, "abc", loaded.CSRHash())
	assert.Equal(t, "ssl://mqtt.example.com:8883", loaded.RouteAddress())
	assert.Equal(t, []string{"app/clients/x/push", "app/clients/x/event"}, loaded.Subscriptions())
	assert.Equal(t, []string{"dev-1", "dev-2"}, loaded.SelectedDeviceIDs())
	assert.Equal(t, map[string]interface{}{"switch": "on"}, loaded.Snapshot("dev-1"))
}

func TestPersistWithoutFileIsNoop(t *testing.T) {
	s := New()
	assert.NoError(t, s.Persist())
}

func TestSnapshotReturnsCopy(t *testing.T) {
	s := New()
	s.SetSnapshot("dev-1", map[string]interface{}{"switch": "on"})

	snap := s.Snapshot("dev-1")
	snap["switch"] = "off"

	assert.Equal(t, map[string]interface{}{"switch": "on"}, s.Snapshot("dev-1"))
	assert.Nil(t, s.Snapshot("missing"))
}

func TestStringObfuscatesSecrets(t *testing.T) {
	s := New()
	s.SetAccessToken("super-secret-token")

	assert.NotContains(t, s.String(), "super-secret-token")
}
