package installation

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

/*
 *  Persisted per-deployment state for the appliance cloud integration.
 *
 *  Exactly one State exists per deployment.  It is created on first
 *  setup and mutated whenever the region, token or certificate material
 *  changes.
 */

type State struct {
	mu sync.Mutex

	accessToken string
	countryCode string
	clientID    string

	caCertPEM     string
	clientCertPEM string
	privateKeyPEM string
	csrHash       string

	routeAddress  string
	subscriptions []string

	selectedIDs []string
	snapshots   map[string]map[string]interface{}

	fileName string
}

// Version of state that we marshal/unmarshal
type stateMarshal struct {
	AccessToken   string                            `json:"access-token"`
	CountryCode   string                            `json:"country-code"`
	ClientID      string                            `json:"client-id"`
	CACertPEM     string                            `json:"ca-cert"`
	ClientCertPEM string                            `json:"client-cert"`
	PrivateKeyPEM string                            `json:"private-key"`
	CSRHash       string                            `json:"csr-hash"`
	RouteAddress  string                            `json:"route-address"`
	Subscriptions []string                          `json:"subscriptions"`
	SelectedIDs   []string                          `json:"selected-devices"`
	Snapshots     map[string]map[string]interface{} `json:"snapshots"`
}

func hashOf(s string) string {
	sum := sha1.Sum([]byte(s))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// obfuscate tokens and key material when stringified
func (s *State) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return fmt.Sprintf("clientID [%s], countryCode [%s], accessToken [%s], privateKey [%s], route [%s], subscriptions %v, selected %v",
		s.clientID, s.countryCode, hashOf(s.accessToken), hashOf(s.privateKeyPEM),
		s.routeAddress, s.subscriptions, s.selectedIDs)
}

// New returns a State with a freshly generated client ID.  The client ID
// is stable for the life of the installation once the state is saved.
func New() *State {
	return &State{
		clientID:  uuid.New().String(),
		snapshots: make(map[string]map[string]interface{}),
	}
}

func (s *State) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accessToken
}

func (s *State) SetAccessToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = token
}

func (s *State) CountryCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countryCode
}

func (s *State) SetCountryCode(cc string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.countryCode = cc
}

func (s *State) ClientID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientID
}

// Certificate returns the cached CA certificate, client certificate and
// private key, all PEM encoded.  Empty strings mean no certificate has
// been issued yet.
func (s *State) Certificate() (caPEM, certPEM, keyPEM string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caCertPEM, s.clientCertPEM, s.privateKeyPEM
}

func (s *State) SetCertificate(caPEM, certPEM, keyPEM string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.caCertPEM = caPEM
	s.clientCertPEM = certPEM
	s.privateKeyPEM = keyPEM
}

// CSRHash is the content hash of the (CSR, key) pair last submitted for
// certificate issuance; it makes issuance idempotent across repeated
// configuration visits.
func (s *State) CSRHash() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.csrHash
}

func (s *State) SetCSRHash(h string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.csrHash = h
}

func (s *State) RouteAddress() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.routeAddress
}

func (s *State) SetRouteAddress(addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routeAddress = addr
}

func (s *State) Subscriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.subscriptions...)
}

func (s *State) SetSubscriptions(topics []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions = append([]string(nil), topics...)
}

func (s *State) SelectedDeviceIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.selectedIDs...)
}

func (s *State) SetSelectedDeviceIDs(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectedIDs = append([]string(nil), ids...)
}

// Snapshot returns the last-known attribute snapshot cached for a device,
// or nil if none is cached.
func (s *State) Snapshot(deviceID string) map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.snapshots[deviceID]
	if !ok {
		return nil
	}

	out := make(map[string]interface{}, len(snap))
	for k, v := range snap {
		out[k] = v
	}
	return out
}

func (s *State) SetSnapshot(deviceID string, snap map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snapshots == nil {
		s.snapshots = make(map[string]map[string]interface{})
	}

	copied := make(map[string]interface{}, len(snap))
	for k, v := range snap {
		copied[k] = v
	}
	s.snapshots[deviceID] = copied
}

func (s *State) DropSnapshot(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, deviceID)
}

// Save writes the state to fileName and remembers the name for later
// Persist calls
func (s *State) Save(fileName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sm := stateMarshal{
		AccessToken:   s.accessToken,
		CountryCode:   s.countryCode,
		ClientID:      s.clientID,
		CACertPEM:     s.caCertPEM,
		ClientCertPEM: s.clientCertPEM,
		PrivateKeyPEM: s.privateKeyPEM,
		CSRHash:       s.csrHash,
		RouteAddress:  s.routeAddress,
		Subscriptions: s.subscriptions,
		SelectedIDs:   s.selectedIDs,
		Snapshots:     s.snapshots,
	}

	file, err := os.OpenFile(fileName, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return errors.Wrapf(err, "opening installation state %s for write", fileName)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(sm); err != nil {
		return errors.Wrapf(err, "saving installation state to %s", fileName)
	}

	s.fileName = fileName
	return nil
}

// Persist re-saves the state to the file it was loaded from or last
// saved to.  It is a no-op when the state has never touched a file.
func (s *State) Persist() error {
	s.mu.Lock()
	fileName := s.fileName
	s.mu.Unlock()

	if fileName == "" {
		return nil
	}
	return s.Save(fileName)
}

func (s *State) Load(fileName string) error {
	sm := stateMarshal{}

	file, err := os.OpenFile(fileName, os.O_RDONLY, 0600)
	if err != nil {
		return errors.Wrapf(err, "opening installation state %s for read", fileName)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&sm); err != nil {
		return errors.Wrapf(err, "loading installation state from %s", fileName)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.accessToken = sm.AccessToken
	s.countryCode = sm.CountryCode
	if sm.ClientID != "" {
		s.clientID = sm.ClientID
	}
	s.caCertPEM = sm.CACertPEM
	s.clientCertPEM = sm.ClientCertPEM
	s.privateKeyPEM = sm.PrivateKeyPEM
	s.csrHash = sm.CSRHash
	s.routeAddress = sm.RouteAddress
	s.subscriptions = sm.Subscriptions
	s.selectedIDs = sm.SelectedIDs
	s.snapshots = sm.Snapshots
	if s.snapshots == nil {
		s.snapshots = make(map[string]map[string]interface{})
	}

	s.fileName = fileName
	return nil
}
