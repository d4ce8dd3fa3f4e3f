// Package integration manages the vault's registry of stored third-party
// credentials (spec §3's Integration type), keyed by provider name.
package integration

import (
	"errors"
	"time"

	"github.com/cuemby/vaultd/pkg/audit"
	"github.com/cuemby/vaultd/pkg/vault"
)

// ErrNotFound is returned when a named integration does not exist.
var ErrNotFound = errors.New("integration: not found")

// Params is the set of fields accepted by Set.
type Params struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	Email        string
	Scopes       []string
	Metadata     map[string]string

	// Audit, if non-nil, receives a secret.created record for this write.
	Audit *audit.Logger
	Actor string
}

// Set creates or replaces the stored integration named name.
func Set(v *vault.Vault, name string, p Params) error {
	err := v.WithDocument(func(doc *vault.Document) error {
		doc.Integrations[name] = vault.Integration{
			Name:         name,
			AccessToken:  p.AccessToken,
			RefreshToken: p.RefreshToken,
			ExpiresAt:    p.ExpiresAt,
			Email:        p.Email,
			Scopes:       p.Scopes,
			Metadata:     p.Metadata,
		}
		return nil
	})
	if err != nil {
		return err
	}
	p.Audit.LogJSON(name, "integration.set", p.Actor, map[string]any{"name": name})
	return nil
}

// Get returns a copy of the named integration.
func Get(v *vault.Vault, name string) (vault.Integration, error) {
	var (
		out   vault.Integration
		found bool
	)
	err := v.ViewDocument(func(doc *vault.Document) {
		out, found = doc.Integrations[name]
	})
	if err != nil {
		return vault.Integration{}, err
	}
	if !found {
		return vault.Integration{}, ErrNotFound
	}
	return out, nil
}

// Remove deletes the named integration. Any CapabilityGrant whose resource
// references it is left untouched; resolution against a now-missing
// resource is handled at execution time (ResourceMissing). log, if non-nil,
// receives a secret.deleted record.
func Remove(v *vault.Vault, name string, log *audit.Logger, actor string) error {
	err := v.WithDocument(func(doc *vault.Document) error {
		if _, ok := doc.Integrations[name]; !ok {
			return ErrNotFound
		}
		delete(doc.Integrations, name)
		return nil
	})
	if err != nil {
		return err
	}
	log.LogJSON(name, "integration.remove", actor, map[string]any{"name": name})
	return nil
}

// List returns the names of every stored integration.
func List(v *vault.Vault) ([]string, error) {
	var names []string
	err := v.ViewDocument(func(doc *vault.Document) {
		for name := range doc.Integrations {
			names = append(names, name)
		}
	})
	return names, err
}

// Exists reports whether name is currently registered.
func Exists(doc *vault.Document, name string) bool {
	_, ok := doc.Integrations[name]
	return ok
}
