// Package store implements the boot-time, read-only persistence artifacts:
// the agent profile directory and the secret store. It also provides the
// atomic-replace file helper used by pkg/pipeline to persist its own state.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Role is one of the closed set of agent roles.
type Role string

const (
	RoleCoordinator Role = "coordinator"
	RoleDeveloper   Role = "developer"
	RoleReviewer    Role = "reviewer"
	RoleTester      Role = "tester"
	RoleDocumenter  Role = "documenter"
	RoleResearcher  Role = "researcher"
	RoleBot         Role = "bot"
)

var knownRoles = map[Role]bool{
	RoleCoordinator: true, RoleDeveloper: true, RoleReviewer: true,
	RoleTester: true, RoleDocumenter: true, RoleResearcher: true, RoleBot: true,
}

// Lifecycle is always_on or on_demand.
type Lifecycle string

const (
	LifecycleAlwaysOn Lifecycle = "always_on"
	LifecycleOnDemand Lifecycle = "on_demand"
)

// AgentProfile is the declarative, immutable-after-load agent identity.
// One YAML file per profile under ProfileDir.
type AgentProfile struct {
	AgentID          string    `yaml:"agent_id"`
	Role             Role      `yaml:"role"`
	Provider         string    `yaml:"provider"`
	Model            string    `yaml:"model"`
	Capabilities     []string  `yaml:"capabilities"`
	Lifecycle        Lifecycle `yaml:"lifecycle"`
	ConcurrencyLimit int       `yaml:"concurrency_limit"`
	ForgeIdentityRef string    `yaml:"forge_identity_ref"`
}

// ErrUnknownRole is returned for a profile naming a role outside the closed
// set: unknown role values are rejected with a clear error, not tolerated
// dynamically.
var ErrUnknownRole = errors.New("unknown agent role")

// ErrUnknownLifecycle is the lifecycle analogue of ErrUnknownRole.
var ErrUnknownLifecycle = errors.New("unknown agent lifecycle")

// LoadProfiles reads every *.yaml file in dir as one AgentProfile each,
// rejecting unknown roles/lifecycles explicitly rather than silently
// skipping them. Profiles are returned sorted by AgentID for deterministic
// boot ordering.
func LoadProfiles(dir string) ([]AgentProfile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading profile directory %s: %w", dir, err)
	}

	var profiles []AgentProfile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading profile %s: %w", path, err)
		}
		var p AgentProfile
		if err := yaml.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("parsing profile %s: %w", path, err)
		}
		if p.AgentID == "" {
			return nil, fmt.Errorf("profile %s: agent_id is required", path)
		}
		if !knownRoles[p.Role] {
			return nil, fmt.Errorf("profile %s: %w: %q", path, ErrUnknownRole, p.Role)
		}
		if p.Lifecycle != LifecycleAlwaysOn && p.Lifecycle != LifecycleOnDemand {
			return nil, fmt.Errorf("profile %s: %w: %q", path, ErrUnknownLifecycle, p.Lifecycle)
		}
		if p.ConcurrencyLimit <= 0 {
			p.ConcurrencyLimit = 1
		}
		profiles = append(profiles, p)
	}

	sort.Slice(profiles, func(i, j int) bool { return profiles[i].AgentID < profiles[j].AgentID })
	return profiles, nil
}

// AccountProfile is the declarative, immutable-after-load forge identity
// consumed by pkg/accounts. One YAML file per identity; cmd/agent-forge
// reads them from the secret-store directory itself.
type AccountProfile struct {
	Ref          string   `yaml:"forge_identity_ref"`
	DisplayName  string   `yaml:"display_name"`
	Email        string   `yaml:"email"`
	Capabilities []string `yaml:"capabilities"`
}

// LoadAccountProfiles reads every *.yaml file in dir as one AccountProfile
// each, sorted by Ref for deterministic boot ordering.
func LoadAccountProfiles(dir string) ([]AccountProfile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading account directory %s: %w", dir, err)
	}

	var profiles []AccountProfile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading account profile %s: %w", path, err)
		}
		var p AccountProfile
		if err := yaml.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("parsing account profile %s: %w", path, err)
		}
		if p.Ref == "" {
			return nil, fmt.Errorf("account profile %s: forge_identity_ref is required", path)
		}
		profiles = append(profiles, p)
	}

	sort.Slice(profiles, func(i, j int) bool { return profiles[i].Ref < profiles[j].Ref })
	return profiles, nil
}
