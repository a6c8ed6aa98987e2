package global

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"
	toml "github.com/pelletier/go-toml/v2"
)

const (
	configTOMLFileName = "config.toml"
)

// Profile is how this client presents itself when it registers with a hub.
type Profile struct {
	ClientID     string   `json:"client_id" toml:"client_id"`
	Name         string   `json:"name" toml:"name"`
	Environment  string   `json:"environment" toml:"environment"`
	Role         string   `json:"role" toml:"role"`
	Capabilities []string `json:"capabilities" toml:"capabilities"`
}

// HubOverrides take precedence over the environment when set.
type HubOverrides struct {
	URL       string `json:"url,omitempty" toml:"url,omitempty"`
	HTTPURL   string `json:"http_url,omitempty" toml:"http_url,omitempty"`
	Transport string `json:"transport,omitempty" toml:"transport,omitempty"`
}

type GlobalConfig struct {
	Profile Profile      `json:"profile" toml:"profile"`
	Hub     HubOverrides `json:"hub" toml:"hub"`
}

type ConfigStore struct {
	dir   string
	newID func() string
}

func NewConfigStore(dir string) *ConfigStore {
	return &ConfigStore{dir: dir, newID: uuid.NewString}
}

func (s *ConfigStore) Dir() string {
	return s.dir
}

// LoadOrInit reads config.toml, writing defaults on first use. A generated
// client id is written back so it stays stable across runs.
func (s *ConfigStore) LoadOrInit() (GlobalConfig, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return GlobalConfig{}, err
	}

	path := filepath.Join(s.dir, configTOMLFileName)
	if b, err := os.ReadFile(path); err == nil {
		var cfg GlobalConfig
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return GlobalConfig{}, err
		}
		if strings.TrimSpace(cfg.Profile.ClientID) != "" {
			return normalizeConfig(cfg), nil
		}
		cfg.Profile.ClientID = s.newID()
		cfg = normalizeConfig(cfg)
		if err := writeTOMLAtomically(path, cfg); err != nil {
			return GlobalConfig{}, err
		}
		return cfg, nil
	} else if !os.IsNotExist(err) {
		return GlobalConfig{}, err
	}

	cfg := normalizeConfig(GlobalConfig{Profile: Profile{ClientID: s.newID()}})
	if err := writeTOMLAtomically(path, cfg); err != nil {
		return GlobalConfig{}, err
	}
	return cfg, nil
}

func (s *ConfigStore) Save(cfg GlobalConfig) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	return writeTOMLAtomically(filepath.Join(s.dir, configTOMLFileName), normalizeConfig(cfg))
}

func normalizeConfig(cfg GlobalConfig) GlobalConfig {
	cfg.Profile = normalizeProfile(cfg.Profile)
	cfg.Hub.URL = strings.TrimSpace(cfg.Hub.URL)
	cfg.Hub.HTTPURL = strings.TrimSpace(cfg.Hub.HTTPURL)
	switch t := strings.ToLower(strings.TrimSpace(cfg.Hub.Transport)); t {
	case "ws", "poll":
		cfg.Hub.Transport = t
	default:
		cfg.Hub.Transport = ""
	}
	return cfg
}

func normalizeProfile(p Profile) Profile {
	p.ClientID = strings.TrimSpace(p.ClientID)
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		p.Name = "synapse-dashboard"
	}
	p.Environment = strings.TrimSpace(p.Environment)
	if p.Environment == "" {
		p.Environment = "cli"
	}
	p.Role = strings.ToLower(strings.TrimSpace(p.Role))
	if p.Role == "" {
		p.Role = "observer"
	}
	caps := make([]string, 0, len(p.Capabilities))
	for _, c := range p.Capabilities {
		c = strings.TrimSpace(c)
		if c != "" && !slices.Contains(caps, c) {
			caps = append(caps, c)
		}
	}
	if len(caps) == 0 {
		caps = []string{"observe"}
	}
	p.Capabilities = caps
	return p
}

func writeTOMLAtomically(path string, v any) error {
	b, err := toml.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
