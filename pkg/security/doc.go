/*
Package security provides vaultd's own mTLS client identity for talking
to the relay.

Everything in this package serves one purpose: let a vaultd instance
present a short-lived client certificate when it dials the relay, so the
relay can authenticate the caller at the TLS layer in addition to the
bearer token pkg/relay already sends. A CertAuthority is local to a
vaultd deployment — its root is not a public trust anchor, just a way to
hand a relay operator one certificate to add to their client-auth trust
store and keep reissuing certificates afterward without involving them
again.

# Architecture

	┌──────────────────── CertAuthority ────────────────────┐
	│  root cert/key generated once (Initialize) or loaded   │
	│  from disk (LoadFromFiles)                             │
	│                                                          │
	│  IssueClientCertificate(instanceID) → *tls.Certificate  │
	│  signed by the root, 90-day validity, ClientAuth EKU    │
	└──────────────────────────┬──────────────────────────────┘
	                           │
	┌──────────────────────────▼──────────────────────────────┐
	│  SaveCertToFile / LoadCertFromFile (client.crt/.key)    │
	│  SaveToFiles / LoadFromFiles (root.crt/.key)            │
	│  SaveCACertToFile (public-only ca.crt for the operator) │
	└──────────────────────────┬──────────────────────────────┘
	                           │
	┌──────────────────────────▼──────────────────────────────┐
	│  cmd/vaultd builds a *tls.Config from the client cert   │
	│  and passes it into relay.NewClient's tlsClient param    │
	└───────────────────────────────────────────────────────────┘

# Usage

	ca := security.NewCertAuthority()
	dir := security.RelayClientCertDir(baseDir)
	if err := ca.LoadFromFiles(dir); err != nil {
		if err := ca.Initialize(); err != nil {
			return err
		}
		if err := ca.SaveToFiles(dir); err != nil {
			return err
		}
	}
	cert, err := ca.IssueClientCertificate(instanceID)
	if err != nil {
		return err
	}
	if err := security.SaveCertToFile(cert, dir); err != nil {
		return err
	}

Certificate rotation is advisory, not automatic: callers check
CertNeedsRotation against the cert loaded at process start and reissue
via IssueClientCertificate when it returns true, typically from the same
cleanup sweep that already runs ceiling.CleanupOld.
*/
package security
