package ftpcore

import (
	"crypto/x509"
	"errors"
	"testing"
)

func TestCertValidationBus_FailsClosed(t *testing.T) {
	t.Parallel()
	bus := NewCertValidationBus()
	ev := &CertValidationEvent{Host: "ftp.example.com"}

	if bus.dispatch(ev) {
		t.Error("empty bus must reject")
	}
}

func TestCertValidationBus_UndecidedRejects(t *testing.T) {
	t.Parallel()
	bus := NewCertValidationBus()
	bus.Subscribe(func(ev *CertValidationEvent) {
		// Inspects but never decides.
	})

	if bus.dispatch(&CertValidationEvent{}) {
		t.Error("a subscriber that makes no decision must not accept")
	}
}

func TestCertValidationBus_LastDecisionWins(t *testing.T) {
	t.Parallel()
	bus := NewCertValidationBus()
	bus.Subscribe(func(ev *CertValidationEvent) { ev.Accept() })
	bus.Subscribe(func(ev *CertValidationEvent) { ev.Reject() })

	if bus.dispatch(&CertValidationEvent{}) {
		t.Error("later Reject must override earlier Accept")
	}

	bus.Clear()
	bus.Subscribe(func(ev *CertValidationEvent) { ev.Reject() })
	bus.Subscribe(func(ev *CertValidationEvent) { ev.Accept() })

	if !bus.dispatch(&CertValidationEvent{}) {
		t.Error("later Accept must override earlier Reject")
	}
}

func TestCertValidationBus_Clear(t *testing.T) {
	t.Parallel()
	bus := NewCertValidationBus()
	bus.Subscribe(TrustedHostPolicy)
	bus.Clear()

	if bus.dispatch(&CertValidationEvent{}) {
		t.Error("cleared bus must reject")
	}
}

func TestSystemTrustPolicy(t *testing.T) {
	t.Parallel()
	clean := &CertValidationEvent{Certificate: &x509.Certificate{}}
	SystemTrustPolicy(clean)
	if !clean.decided || !clean.accepted {
		t.Error("certificate without findings must be accepted")
	}

	tainted := &CertValidationEvent{
		Certificate: &x509.Certificate{},
		Findings:    []error{errors.New("x509: certificate has expired")},
	}
	SystemTrustPolicy(tainted)
	if !tainted.decided || tainted.accepted {
		t.Error("certificate with findings must be rejected")
	}
}

func TestTrustedHostPolicy(t *testing.T) {
	t.Parallel()
	ev := &CertValidationEvent{
		Findings: []error{errors.New("x509: certificate signed by unknown authority")},
	}
	TrustedHostPolicy(ev)
	if !ev.decided || !ev.accepted {
		t.Error("trusted-host policy must accept despite findings")
	}
}
