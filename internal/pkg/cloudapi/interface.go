package cloudapi

import "time"

// StateDocument is a vendor-shaped nested attribute document.  Transient:
// decoded by the attribute mapper and discarded.
type StateDocument map[string]interface{}

// ApplianceSummary is one entry from the device-listing call
type ApplianceSummary struct {
	ID         string `json:"deviceId"`
	Alias      string `json:"alias"`
	DeviceType string `json:"deviceType"`
	ModelName  string `json:"modelName"`
	Reportable bool   `json:"reportable"`
}

// CertificateGrant is the result of submitting a CSR: the signed client
// certificate plus the event topics this installation may subscribe to
type CertificateGrant struct {
	CertificatePEM string   `json:"certificatePem"`
	Subscriptions  []string `json:"subscriptions"`
}

type ApplianceCloud interface {
	WithAccessToken(token string) ApplianceCloud
	WithTimeout(d time.Duration) ApplianceCloud

	Devices() ([]ApplianceSummary, error)
	DeviceProfile(deviceID string) (StateDocument, error)
	DeviceState(deviceID string) (StateDocument, error)
	Control(deviceID string, doc StateDocument) (StateDocument, error)

	Route() (string, error)
	RegisterClient() error
	IssueCertificate(csrPEM string) (*CertificateGrant, error)
	SubscribeEvents(deviceID string, expiry time.Duration) error
}
