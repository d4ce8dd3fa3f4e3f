package security

import (
	"testing"
	"time"
)

func TestInitializeCA(t *testing.T) {
	ca := NewCertAuthority()

	if err := ca.Initialize(); err != nil {
		t.Fatalf("Failed to initialize CA: %v", err)
	}

	if !ca.IsInitialized() {
		t.Error("CA should be initialized")
	}
	if ca.rootCert == nil {
		t.Error("Root certificate should not be nil")
	}
	if ca.rootKey == nil {
		t.Error("Root key should not be nil")
	}
	if !ca.rootCert.IsCA {
		t.Error("Root certificate should be a CA")
	}
}

func TestCANotInitializedErrors(t *testing.T) {
	ca := NewCertAuthority()

	if ca.IsInitialized() {
		t.Error("fresh CA should not be initialized")
	}
	if _, err := ca.IssueClientCertificate("instance-1"); err == nil {
		t.Error("expected error issuing a certificate from an uninitialized CA")
	}
	if err := ca.VerifyCertificate(nil); err == nil {
		t.Error("expected error verifying against an uninitialized CA")
	}
	if ca.GetRootCACert() != nil {
		t.Error("expected nil root cert from an uninitialized CA")
	}
}

func TestIssueClientCertificate(t *testing.T) {
	ca := NewCertAuthority()
	if err := ca.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	cert, err := ca.IssueClientCertificate("instance-a")
	if err != nil {
		t.Fatalf("IssueClientCertificate: %v", err)
	}
	if cert.Leaf == nil {
		t.Fatal("expected a parsed leaf certificate")
	}
	if cert.Leaf.Subject.CommonName != "vaultd-instance-a" {
		t.Errorf("unexpected CN: %s", cert.Leaf.Subject.CommonName)
	}
	if time.Until(cert.Leaf.NotAfter) > clientCertValidity {
		t.Error("client cert validity exceeds expected window")
	}

	cached, ok := ca.GetCachedCert("instance-a")
	if !ok {
		t.Fatal("expected cert to be cached")
	}
	if cached.Cert.SerialNumber.Cmp(cert.Leaf.SerialNumber) != 0 {
		t.Error("cached cert serial mismatch")
	}
}

func TestVerifyCertificate(t *testing.T) {
	ca := NewCertAuthority()
	if err := ca.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	cert, err := ca.IssueClientCertificate("instance-b")
	if err != nil {
		t.Fatalf("IssueClientCertificate: %v", err)
	}

	if err := ca.VerifyCertificate(cert.Leaf); err != nil {
		t.Errorf("expected issued certificate to verify: %v", err)
	}

	otherCA := NewCertAuthority()
	if err := otherCA.Initialize(); err != nil {
		t.Fatalf("Initialize other CA: %v", err)
	}
	if err := otherCA.VerifyCertificate(cert.Leaf); err == nil {
		t.Error("expected verification against a different CA to fail")
	}
}

func TestSaveAndLoadCAFromFiles(t *testing.T) {
	ca := NewCertAuthority()
	if err := ca.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	dir := t.TempDir()
	if err := ca.SaveToFiles(dir); err != nil {
		t.Fatalf("SaveToFiles: %v", err)
	}

	loaded := NewCertAuthority()
	if err := loaded.LoadFromFiles(dir); err != nil {
		t.Fatalf("LoadFromFiles: %v", err)
	}
	if !loaded.IsInitialized() {
		t.Error("loaded CA should be initialized")
	}
	if loaded.rootCert.SerialNumber.Cmp(ca.rootCert.SerialNumber) != 0 {
		t.Error("loaded CA serial mismatch")
	}
}
