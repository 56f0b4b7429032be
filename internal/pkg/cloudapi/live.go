package cloudapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jake-scott/smartthings-appliances/internal/pkg/logging"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

const (
	// Fixed constants the vendor requires on every call
	apiKey       = "VGhpblEyLjAgU0VSVklDRQ=="
	servicePhase = "OP"
	serviceCode  = "SVC202"

	clientKindStreaming = "MQTT"
)

// Region-selected API base hosts.  The vendor shards its cloud by
// continent; the country code picks the shard.
var regionHosts = map[string]string{
	"US": "https://aic.appliance-api.com/v1",
	"CA": "https://aic.appliance-api.com/v1",
	"BR": "https://aic.appliance-api.com/v1",
	"GB": "https://eic.appliance-api.com/v1",
	"DE": "https://eic.appliance-api.com/v1",
	"FR": "https://eic.appliance-api.com/v1",
	"KR": "https://kic.appliance-api.com/v1",
	"JP": "https://kic.appliance-api.com/v1",
	"AU": "https://kic.appliance-api.com/v1",
}

const defaultRegionHost = "https://kic.appliance-api.com/v1"

func regionHost(countryCode string) string {
	if host, ok := regionHosts[strings.ToUpper(countryCode)]; ok {
		return host
	}
	return defaultRegionHost
}

type Live struct {
	baseURL     string
	countryCode string
	clientID    string
	accessToken string
	timeout     time.Duration
}

// NewLiveClient returns a client for the region selected by countryCode.
// clientID is the installation's persisted client identifier.
func NewLiveClient(countryCode string, clientID string) *Live {
	return &Live{
		baseURL:     regionHost(countryCode),
		countryCode: countryCode,
		clientID:    clientID,
	}
}

func (c *Live) WithAccessToken(token string) ApplianceCloud {
	nc := *c
	nc.accessToken = token
	return &nc
}

func (c *Live) WithTimeout(d time.Duration) ApplianceCloud {
	nc := *c
	nc.timeout = d
	return &nc
}

// WithBaseURL overrides the region-selected host (tests)
func (c *Live) WithBaseURL(u string) *Live {
	nc := *c
	nc.baseURL = u
	return &nc
}

// headerRoundTripper attaches the vendor's required headers to every
// request.  The bearer token is added separately by the oauth2 transport.
type headerRoundTripper struct {
	next        http.RoundTripper
	countryCode string
	clientID    string
}

func (t *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("x-country-code", t.countryCode)
	req.Header.Set("x-message-id", uuid.New().String())
	req.Header.Set("x-client-id", t.clientID)
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("x-service-phase", servicePhase)
	req.Header.Set("Accept", "application/json")

	return t.next.RoundTrip(req)
}

func (c *Live) api() *http.Client {
	base := &http.Client{
		Transport: &headerRoundTripper{
			next:        http.DefaultTransport,
			countryCode: c.countryCode,
			clientID:    c.clientID,
		},
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: c.accessToken})
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)

	cli := oauth2.NewClient(ctx, ts)
	cli.Timeout = c.timeout
	return cli
}

// The vendor wraps every successful response body in an envelope; an
// empty or null envelope is itself a valid success for registration
// style endpoints.
type envelope struct {
	Response json.RawMessage `json:"response"`
}

func (c *Live) do(method string, path string, body interface{}) (json.RawMessage, error) {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "encoding request body")
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, errors.Wrap(err, "building request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	logging.Logger(nil).Debugf("vendor API call: %s %s", method, path)

	resp, err := c.api().Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, respBody)
	}

	env := envelope{}
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &env); err != nil {
			return nil, &DecodeError{Err: err}
		}
	}

	return env.Response, nil
}

func (c *Live) Devices() ([]ApplianceSummary, error) {
	raw, err := c.do(http.MethodGet, "/devices", nil)
	if err != nil {
		return nil, errors.Wrap(err, "listing devices")
	}

	var items []ApplianceSummary
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, &DecodeError{Err: err}
		}
	}

	return items, nil
}

func (c *Live) DeviceProfile(deviceID string) (StateDocument, error) {
	raw, err := c.do(http.MethodGet, fmt.Sprintf("/devices/%s/profile", deviceID), nil)
	if err != nil {
		return nil, errors.Wrapf(err, "fetching profile for device %s", deviceID)
	}

	return decodeDocument(raw)
}

func (c *Live) DeviceState(deviceID string) (StateDocument, error) {
	raw, err := c.do(http.MethodGet, fmt.Sprintf("/devices/%s/state", deviceID), nil)
	if err != nil {
		return nil, errors.Wrapf(err, "fetching state for device %s", deviceID)
	}

	return decodeDocument(raw)
}

func (c *Live) Control(deviceID string, doc StateDocument) (StateDocument, error) {
	raw, err := c.do(http.MethodPost, fmt.Sprintf("/devices/%s/control", deviceID), doc)
	if err != nil {
		return nil, errors.Wrapf(err, "sending control document to device %s", deviceID)
	}

	return decodeDocument(raw)
}

type routeResponse struct {
	MQTTServer string `json:"mqttServer"`
}

// Route discovers the streaming server address for this installation
func (c *Live) Route() (string, error) {
	raw, err := c.do(http.MethodGet, "/route", nil)
	if err != nil {
		return "", errors.Wrap(err, "discovering streaming route")
	}

	rr := routeResponse{}
	if err := json.Unmarshal(raw, &rr); err != nil {
		return "", &DecodeError{Err: err}
	}
	if rr.MQTTServer == "" {
		return "", &DecodeError{Err: errors.New("route response missing mqttServer")}
	}

	return rr.MQTTServer, nil
}

type registerClientRequest struct {
	Type        string `json:"type"`
	ServiceCode string `json:"service-code"`
	DeviceType  string `json:"device-type"`
	AllowExist  bool   `json:"allowExist"`
}

// RegisterClient registers a streaming-kind client for the installation.
// The vendor returns an empty envelope on success.
func (c *Live) RegisterClient() error {
	body := registerClientRequest{
		Type:        clientKindStreaming,
		ServiceCode: serviceCode,
		DeviceType:  "607",
		AllowExist:  true,
	}

	if _, err := c.do(http.MethodPost, "/client", body); err != nil {
		return errors.Wrap(err, "registering streaming client")
	}

	return nil
}

type certificateRequest struct {
	ServiceCode string `json:"service-code"`
	CSR         string `json:"csr"`
}

func (c *Live) IssueCertificate(csrPEM string) (*CertificateGrant, error) {
	body := certificateRequest{
		ServiceCode: serviceCode,
		CSR:         csrPEM,
	}

	raw, err := c.do(http.MethodPost, "/client/certificate", body)
	if err != nil {
		return nil, errors.Wrap(err, "requesting client certificate")
	}

	grant := CertificateGrant{}
	if err := json.Unmarshal(raw, &grant); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if grant.CertificatePEM == "" {
		return nil, &DecodeError{Err: errors.New("certificate response missing certificatePem")}
	}

	return &grant, nil
}

type subscribeEventRequest struct {
	Expire expireSpec `json:"expire"`
}

type expireSpec struct {
	Unit  string `json:"unit"`
	Timer int    `json:"timer"`
}

// SubscribeEvents renews push-event eligibility for one device
func (c *Live) SubscribeEvents(deviceID string, expiry time.Duration) error {
	hours := int(expiry.Hours())
	if hours < 1 {
		hours = 1
	}

	body := subscribeEventRequest{
		Expire: expireSpec{Unit: "HOUR", Timer: hours},
	}

	if _, err := c.do(http.MethodPost, fmt.Sprintf("/event/%s/subscribe", deviceID), body); err != nil {
		return errors.Wrapf(err, "renewing event subscription for device %s", deviceID)
	}

	return nil
}

func decodeDocument(raw json.RawMessage) (StateDocument, error) {
	doc := StateDocument{}
	if len(raw) == 0 || string(raw) == "null" {
		return doc, nil
	}

	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &DecodeError{Err: err}
	}

	return doc, nil
}
