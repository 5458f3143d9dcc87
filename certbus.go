package ftpcore

import (
	"crypto/x509"
	"sync"
)

// CertValidationEvent is handed to every validation subscriber when a TLS
// handshake needs a trust decision. Subscribers inspect the certificate
// and the verification findings and call Accept or Reject; the last
// decision wins.
type CertValidationEvent struct {
	// Host is the server name presented for SNI.
	Host string

	// Certificate is the peer's leaf certificate.
	Certificate *x509.Certificate

	// Chains holds the verified chains, if platform verification
	// succeeded.
	Chains [][]*x509.Certificate

	// Findings lists the platform verification failures (chain errors,
	// name mismatch, expiry). Empty when the certificate verified clean.
	Findings []error

	accepted bool
	decided  bool
}

// Accept marks the certificate as trusted.
func (e *CertValidationEvent) Accept() {
	e.accepted = true
	e.decided = true
}

// Reject marks the certificate as untrusted.
func (e *CertValidationEvent) Reject() {
	e.accepted = false
	e.decided = true
}

// CertValidationPolicy is a subscriber on the validation bus.
type CertValidationPolicy func(*CertValidationEvent)

// CertValidationBus dispatches TLS peer validation decisions to its
// subscribers. With no subscriber making a decision, validation fails
// closed.
type CertValidationBus struct {
	mu   sync.Mutex
	subs []CertValidationPolicy
}

// NewCertValidationBus returns an empty bus.
func NewCertValidationBus() *CertValidationBus {
	return &CertValidationBus{}
}

// Subscribe adds a policy. Policies run in subscription order.
func (b *CertValidationBus) Subscribe(p CertValidationPolicy) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, p)
}

// Clear removes all subscribers.
func (b *CertValidationBus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = nil
}

// dispatch runs the subscribers and reports the final decision.
func (b *CertValidationBus) dispatch(ev *CertValidationEvent) bool {
	b.mu.Lock()
	subs := make([]CertValidationPolicy, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, p := range subs {
		p(ev)
	}

	return ev.decided && ev.accepted
}

// SystemTrustPolicy accepts certificates that passed platform
// verification without findings. This is the policy a fresh session
// starts with.
func SystemTrustPolicy(ev *CertValidationEvent) {
	if len(ev.Findings) == 0 {
		ev.Accept()
	} else {
		ev.Reject()
	}
}

// TrustedHostPolicy accepts every certificate. Cloned sessions use it so
// a sibling connection to an already-accepted host does not re-prompt.
func TrustedHostPolicy(ev *CertValidationEvent) {
	ev.Accept()
}
