package psp

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"custody-wallet-core/internal/models"

	"gopkg.in/yaml.v2"
)

//go:embed providers.yaml
var defaultProvidersYAML []byte

type providerEntry struct {
	Id                string              `yaml:"id"`
	Name              string              `yaml:"name"`
	AvailableServices []string            `yaml:"available_services"`
	RequiresReview    bool                `yaml:"requires_review"`
	ConnectionTTL     string              `yaml:"connection_ttl"`
	Addresses         map[string][]string `yaml:"addresses"`
}

type providersFile struct {
	Providers []providerEntry `yaml:"providers"`
}

// Catalog is the set of providers an account can connect to
type Catalog struct {
	providers map[string]models.PSPProvider
}

// LoadCatalog reads providers from providersFile, or the embedded default when it is empty
func LoadCatalog(providersFile string) (*Catalog, error) {
	data := defaultProvidersYAML
	if providersFile != "" {
		path := providersFile
		if !filepath.IsAbs(path) {
			wd, err := os.Getwd()
			if err != nil {
				return nil, fmt.Errorf("failed to get working directory: %w", err)
			}
			path = filepath.Join(wd, providersFile)
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("unable to read %s: %w", providersFile, err)
		}
		data = raw
	}
	return ParseCatalog(data)
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var file providersFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("unable to parse provider catalog: %w", err)
	}

	catalog := &Catalog{providers: make(map[string]models.PSPProvider, len(file.Providers))}
	for i, entry := range file.Providers {
		if entry.Id == "" || entry.Name == "" {
			return nil, fmt.Errorf("provider at index %d: id and name are required", i)
		}
		services, err := models.ParseCapabilities(entry.AvailableServices)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", entry.Id, err)
		}
		if services.IsEmpty() {
			return nil, fmt.Errorf("provider %s: no available services", entry.Id)
		}
		var ttl time.Duration
		if entry.ConnectionTTL != "" {
			if ttl, err = time.ParseDuration(entry.ConnectionTTL); err != nil {
				return nil, fmt.Errorf("provider %s: invalid connection_ttl: %w", entry.Id, err)
			}
		}
		addresses := make(map[string][]string, len(entry.Addresses))
		for chain, addrs := range entry.Addresses {
			addresses[strings.ToLower(chain)] = append([]string(nil), addrs...)
		}
		if _, dup := catalog.providers[entry.Id]; dup {
			return nil, fmt.Errorf("provider at index %d: duplicate id %s", i, entry.Id)
		}
		catalog.providers[entry.Id] = models.PSPProvider{
			Id:                entry.Id,
			Name:              entry.Name,
			AvailableServices: services,
			RequiresReview:    entry.RequiresReview,
			Addresses:         addresses,
			ConnectionTTL:     ttl,
		}
	}
	return catalog, nil
}

func (c *Catalog) Get(providerId string) (models.PSPProvider, bool) {
	p, ok := c.providers[providerId]
	return p, ok
}

// Providers returns every provider ordered by name
func (c *Catalog) Providers() []models.PSPProvider {
	out := make([]models.PSPProvider, 0, len(c.providers))
	for _, p := range c.providers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
