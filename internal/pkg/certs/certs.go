package certs

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/jake-scott/smartthings-appliances/internal/pkg/cloudapi"
	"github.com/jake-scott/smartthings-appliances/internal/pkg/installation"
	"github.com/jake-scott/smartthings-appliances/internal/pkg/logging"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// The vendor throttles certificate issuance; do not hit the endpoint
// more often than this regardless of what callers ask for.
const issueFloor = cloudapi.IssuanceRetryFloor

// Material is everything the streaming session needs to authenticate
type Material struct {
	CAPEM         string
	CertPEM       string
	KeyPEM        string
	Subscriptions []string
}

// Manager runs the two-step certificate issuance protocol and keeps it
// idempotent: a (CSR, key) pair that hashes identically to the last
// issued pair is served from the installation cache without touching
// the network.
type Manager struct {
	cloud   cloudapi.ApplianceCloud
	state   *installation.State
	limiter *rate.Limiter
}

func NewManager(cloud cloudapi.ApplianceCloud, state *installation.State) *Manager {
	return &Manager{
		cloud:   cloud,
		state:   state,
		limiter: rate.NewLimiter(rate.Every(issueFloor), 1),
	}
}

func hashPair(csrPEM, keyPEM string) string {
	sum := sha256.Sum256([]byte(csrPEM + "\x00" + keyPEM))
	return hex.EncodeToString(sum[:])
}

// Ensure returns certificate material for the supplied CSR and private
// key, issuing a new certificate only when the pair has not been issued
// before.  A ThrottledError is returned - without a network call - when
// issuance would violate the vendor's rate floor.
func (m *Manager) Ensure(csrPEM, keyPEM string) (*Material, error) {
	h := hashPair(csrPEM, keyPEM)

	ca, cert, key := m.state.Certificate()
	if h == m.state.CSRHash() && cert != "" {
		logging.Logger(nil).Debug("Serving client certificate from installation cache")
		return &Material{
			CAPEM:         ca,
			CertPEM:       cert,
			KeyPEM:        key,
			Subscriptions: m.state.Subscriptions(),
		}, nil
	}

	if !m.limiter.Allow() {
		return nil, &cloudapi.ThrottledError{
			RetryAfter: issueFloor,
			Body:       "certificate issuance attempted more than once per minute",
		}
	}

	// Step 1: register a streaming-kind client.  An empty response is
	// success; an already-registered client is not an error.
	if err := m.cloud.RegisterClient(); err != nil {
		return nil, errors.Wrap(err, "registering streaming client")
	}

	// Step 2: submit the CSR for signing
	grant, err := m.cloud.IssueCertificate(csrPEM)
	if err != nil {
		return nil, errors.Wrap(err, "issuing client certificate")
	}

	logging.Logger(nil).Infof("Issued client certificate, %d topic subscriptions", len(grant.Subscriptions))

	m.state.SetCertificate(ca, grant.CertificatePEM, keyPEM)
	m.state.SetSubscriptions(grant.Subscriptions)
	m.state.SetCSRHash(h)
	if err := m.state.Persist(); err != nil {
		logging.Logger(nil).WithError(err).Warn("persisting installation state after certificate issuance")
	}

	return &Material{
		CAPEM:         ca,
		CertPEM:       grant.CertificatePEM,
		KeyPEM:        keyPEM,
		Subscriptions: grant.Subscriptions,
	}, nil
}
