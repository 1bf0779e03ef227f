package credentials

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ubuntu/oauth-flows/internal/stringutils"
	"gopkg.in/ini.v1"
)

// Configuration keys.
const (
	// clientIDKey is the key in the clients file for the client ID.
	clientIDKey = "client_id"
	// clientSecretKey is the key in the clients file for the client secret.
	clientSecretKey = "client_secret"
	// issuerKey declares a generic OIDC provider discovered from this issuer.
	issuerKey = "issuer"
	// scopeKey is the scope requested to a generic OIDC provider.
	scopeKey = "scope"

	// workspaceSeparator splits a "provider:workspace" section name.
	workspaceSeparator = ":"
)

// ClientConfig is the client registered with a provider on behalf of a workspace.
type ClientConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret,omitempty"`
}

// OIDCProvider is a generic provider declared in the clients file.
type OIDCProvider struct {
	Name   string `yaml:"name"`
	Issuer string `yaml:"issuer"`
	Scope  string `yaml:"scope,omitempty"`
}

// Clients holds the client configuration of all providers.
type Clients struct {
	// Defaults is the instance-wide client per provider.
	Defaults map[string]ClientConfig `yaml:"defaults"`
	// Workspaces overrides the default client for a workspace, per provider then workspace ID.
	Workspaces map[string]map[string]ClientConfig `yaml:"workspaces"`
	// OIDC lists the generic providers, sorted by name.
	OIDC []OIDCProvider `yaml:"oidc,omitempty"`
}

func getDropInFiles(cfgPath string) ([]any, error) {
	// Check if a .d directory exists and return the paths to the files in it.
	dropInDir := cfgPath + ".d"
	files, err := os.ReadDir(dropInDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var dropInFiles []any
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		dropInFiles = append(dropInFiles, filepath.Join(dropInDir, file.Name()))
	}

	return dropInFiles, nil
}

// ParseClientsFile parses the clients file and its drop-ins.
//
// Each section is named after a provider, optionally suffixed with ":<workspace id>" to override
// the instance-wide client for that workspace. A section with an issuer declares a generic
// OIDC provider.
func ParseClientsFile(cfgPath string) (Clients, error) {
	clients := Clients{
		Defaults:   make(map[string]ClientConfig),
		Workspaces: make(map[string]map[string]ClientConfig),
	}

	dropInFiles, err := getDropInFiles(cfgPath)
	if err != nil {
		return Clients{}, err
	}

	iniCfg, err := ini.Load(cfgPath, dropInFiles...)
	if err != nil {
		return Clients{}, err
	}

	// Check if any of the keys still contain the placeholders.
	for _, section := range iniCfg.Sections() {
		for _, key := range section.Keys() {
			if strings.Contains(key.Value(), "<") && strings.Contains(key.Value(), ">") {
				err = errors.Join(err, fmt.Errorf("found invalid character in section %q, key %q", section.Name(), key.Name()))
			}
		}
	}
	if err != nil {
		return Clients{}, fmt.Errorf("clients file has invalid values, did you edit the file %q?\n%w", cfgPath, err)
	}

	for _, section := range iniCfg.Sections() {
		if section.Name() == ini.DefaultSection {
			continue
		}
		err = errors.Join(err, clients.addSection(section))
	}
	if err != nil {
		return Clients{}, fmt.Errorf("invalid clients file %q: %w", cfgPath, err)
	}

	sort.Slice(clients.OIDC, func(i, j int) bool { return clients.OIDC[i].Name < clients.OIDC[j].Name })

	return clients, nil
}

func (c *Clients) addSection(section *ini.Section) error {
	provider, workspaceID, isOverride := strings.Cut(section.Name(), workspaceSeparator)
	if !stringutils.IsPathComponent(provider) {
		return fmt.Errorf("section %q: invalid provider name", section.Name())
	}

	cfg := ClientConfig{
		ClientID:     section.Key(clientIDKey).String(),
		ClientSecret: section.Key(clientSecretKey).String(),
	}
	if cfg.ClientID == "" {
		return fmt.Errorf("section %q: %s is required", section.Name(), clientIDKey)
	}

	if isOverride {
		if !stringutils.IsPathComponent(workspaceID) {
			return fmt.Errorf("section %q: invalid workspace id", section.Name())
		}
		if section.HasKey(issuerKey) {
			return fmt.Errorf("section %q: %s can only be set on the instance-wide section", section.Name(), issuerKey)
		}
		if c.Workspaces[provider] == nil {
			c.Workspaces[provider] = make(map[string]ClientConfig)
		}
		c.Workspaces[provider][workspaceID] = cfg
		return nil
	}

	c.Defaults[provider] = cfg
	if issuer := section.Key(issuerKey).String(); issuer != "" {
		c.OIDC = append(c.OIDC, OIDCProvider{
			Name:   provider,
			Issuer: issuer,
			Scope:  strings.Join(strings.Fields(section.Key(scopeKey).String()), " "),
		})
	}
	return nil
}

// lookup returns the client of workspaceID for provider, falling back to the instance-wide one.
func (c Clients) lookup(workspaceID, provider string) (ClientConfig, bool) {
	if cfg, ok := c.Workspaces[provider][workspaceID]; ok {
		return cfg, true
	}
	cfg, ok := c.Defaults[provider]
	return cfg, ok
}
