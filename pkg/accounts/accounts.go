// Package accounts implements C3: the boot-time map from a named forge
// identity to its credential and capability set, built on pkg/store's
// secret-loading contract (a secret is never logged, read once at boot) and
// rejecting any capability outside the closed set rather than tolerating it
// dynamically.
package accounts

import (
	"errors"
	"fmt"

	"github.com/agent-forge/core/pkg/store"
)

// Capability is one of the closed set of actions an identity may perform.
type Capability string

const (
	CapComment  Capability = "comment"
	CapOpenPR   Capability = "open_pr"
	CapMerge    Capability = "merge"
	CapLabel    Capability = "label"
	CapEscalate Capability = "escalate"
)

// Identity is a resolved forge account: its credential plus what it may do.
// Credential is held in memory only and must never be logged or included in
// any error message or String() implementation.
type Identity struct {
	Ref          string
	DisplayName  string
	Email        string
	Capabilities map[Capability]bool
	credential   string
}

// ErrUnknownIdentity is returned when a caller names an identity not
// present in the loaded account set.
var ErrUnknownIdentity = errors.New("unknown forge identity")

// Profile is the on-disk declaration of one identity, loaded alongside agent
// profiles. The YAML shape lives in pkg/store to keep a single parser for
// all boot-time declarative files.
type Profile struct {
	Ref          string   `yaml:"forge_identity_ref"`
	DisplayName  string   `yaml:"display_name"`
	Email        string   `yaml:"email"`
	Capabilities []string `yaml:"capabilities"`
}

// Manager resolves forge_identity_ref values to their credential and
// capability set. Immutable after Load: capability sets and credentials do
// not change at runtime.
type Manager struct {
	identities map[string]Identity
}

// Load reads one Profile per identity from profiles and its credential from
// secretDir (via pkg/store.LoadSecret), building the resolvable set.
func Load(profiles []Profile, secretDir string) (*Manager, error) {
	identities := make(map[string]Identity, len(profiles))
	for _, p := range profiles {
		if p.Ref == "" {
			return nil, fmt.Errorf("account profile missing forge_identity_ref")
		}
		cred, err := store.LoadSecret(secretDir, p.Ref)
		if err != nil {
			return nil, fmt.Errorf("loading credential for %s: %w", p.Ref, err)
		}
		caps := make(map[Capability]bool, len(p.Capabilities))
		for _, c := range p.Capabilities {
			switch Capability(c) {
			case CapComment, CapOpenPR, CapMerge, CapLabel, CapEscalate:
				caps[Capability(c)] = true
			default:
				return nil, fmt.Errorf("account profile %s: unknown capability %q", p.Ref, c)
			}
		}
		identities[p.Ref] = Identity{
			Ref:          p.Ref,
			DisplayName:  p.DisplayName,
			Email:        p.Email,
			Capabilities: caps,
			credential:   cred,
		}
	}
	return &Manager{identities: identities}, nil
}

// Credential returns the raw credential string for ref. Callers must not
// wrap the result in an error value or log line.
func (m *Manager) Credential(ref string) (string, error) {
	id, ok := m.identities[ref]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownIdentity, ref)
	}
	return id.credential, nil
}

// Can reports whether ref is permitted to perform capability. An unknown
// identity is never permitted anything.
func (m *Manager) Can(ref string, capability Capability) bool {
	id, ok := m.identities[ref]
	if !ok {
		return false
	}
	return id.Capabilities[capability]
}

// Lookup returns the resolved Identity's public fields (display name,
// email, capability set) without the credential.
func (m *Manager) Lookup(ref string) (Identity, error) {
	id, ok := m.identities[ref]
	if !ok {
		return Identity{}, fmt.Errorf("%w: %s", ErrUnknownIdentity, ref)
	}
	id.credential = ""
	return id, nil
}
