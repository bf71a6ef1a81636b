// Package sources holds the registry of configured delivery sources: which
// bucket each label/distributor drops files into and the credentials attached
// to that relationship.
package sources

import (
	"net/url"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
)

type Source struct {
	Name   string `koanf:"name" json:"name"`
	Env    string `koanf:"env" json:"env,omitempty"`
	Bucket string `koanf:"bucket" json:"bucket"`
	Region string `koanf:"region" json:"region,omitempty"`

	// Credentials the source uses to call us and we use to publish on its
	// behalf. The API key also scopes user-directory matching.
	APIKey    string `koanf:"api_key" json:"api_key"`
	APISecret string `koanf:"api_secret" json:"-"`

	PlacementHosts string `koanf:"placement_hosts" json:"placement_hosts,omitempty"`
	PayoutUserID   string `koanf:"payout_user_id" json:"payout_user_id,omitempty"`

	// Some distributors require a DDEX acknowledgement for every delivery.
	SendAcknowledgements     bool   `koanf:"send_acknowledgements" json:"send_acknowledgements"`
	AcknowledgementURL       string `koanf:"acknowledgement_url" json:"-"`
	AcknowledgementUser      string `koanf:"acknowledgement_user" json:"-"`
	AcknowledgementPass      string `koanf:"acknowledgement_pass" json:"-"`
	AcknowledgementPartyID   string `koanf:"acknowledgement_party_id" json:"-"`
	AcknowledgementPartyName string `koanf:"acknowledgement_party_name" json:"-"`
}

type Registry struct {
	sources []Source
}

type sourcesFile struct {
	Sources []Source `koanf:"sources"`
}

// Load reads the registry from a YAML file, with DDEX_-prefixed environment
// variables layered on top (DDEX_SOURCES__0__API_KEY and friends).
func Load(path string) (*Registry, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, errors.Wrapf(err, "failed to load sources file %s", path)
	}

	err := k.Load(env.Provider("DDEX_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "DDEX_")), "__", ".")
	}), nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	f := sourcesFile{}
	if err := k.Unmarshal("", &f); err != nil {
		return nil, errors.WithStack(err)
	}

	registry := &Registry{sources: f.Sources}
	if err := registry.validate(); err != nil {
		return nil, err
	}
	return registry, nil
}

func (r *Registry) validate() error {
	seen := map[string]bool{}
	for _, s := range r.sources {
		if s.Name == "" {
			return errors.New("source with empty name")
		}
		if seen[s.Name] {
			return errors.Errorf("duplicate source name %q", s.Name)
		}
		seen[s.Name] = true
		if s.SendAcknowledgements && (s.AcknowledgementURL == "" || s.AcknowledgementUser == "" || s.AcknowledgementPass == "") {
			return errors.Errorf("source %q has send_acknowledgements but no acknowledgement gateway config", s.Name)
		}
	}
	return nil
}

func (r *Registry) All() []Source {
	return r.sources
}

func (r *Registry) FindByName(name string) (Source, bool) {
	for _, s := range r.sources {
		if s.Name == name {
			return s, true
		}
	}
	return Source{}, false
}

func (r *Registry) FindByBucket(bucket string) (Source, bool) {
	for _, s := range r.sources {
		if s.Bucket == bucket {
			return s, true
		}
	}
	return Source{}, false
}

func (r *Registry) FindByAPIKey(apiKey string) (Source, bool) {
	for _, s := range r.sources {
		if s.APIKey == apiKey {
			return s, true
		}
	}
	return Source{}, false
}

// FindByXMLURL resolves the source that owns a delivery document by the
// bucket in its s3:// URL.
func (r *Registry) FindByXMLURL(xmlURL string) (Source, bool) {
	u, err := url.Parse(xmlURL)
	if err != nil {
		return Source{}, false
	}
	return r.FindByBucket(u.Host)
}
