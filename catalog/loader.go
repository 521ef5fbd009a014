package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RepositoryLoader fetches and parses a Repository from its URI. The
// real catalog document format/parser is out of scope for this engine
// (spec.md §1); callers supply whatever loader matches their document
// format. YAMLLoader below is the default, test-friendly stand-in.
type RepositoryLoader interface {
	Load(uri string) (Repository, error)
}

// yamlRepository is the on-disk shape YAMLLoader reads; it mirrors
// Repository field-for-field so fixtures stay readable.
type yamlRepository struct {
	URI                    string             `yaml:"uri"`
	Name                   string             `yaml:"name"`
	ReferencedRepositories []string           `yaml:"referencedRepositories"`
	Features               []yamlFeature      `yaml:"features"`
}

type yamlFeature struct {
	Name           string              `yaml:"name"`
	Version        string              `yaml:"version"`
	Bundles        []yamlBundleRef     `yaml:"bundles"`
	Dependencies   []yamlFeatureRef    `yaml:"dependencies"`
	Conditionals   []yamlConditional   `yaml:"conditionals"`
	Configurations []yamlConfigRef     `yaml:"configurations"`
}

type yamlBundleRef struct {
	Location   string  `yaml:"location"`
	StartLevel *uint32 `yaml:"startLevel"`
	Dependency bool    `yaml:"dependency"`
}

type yamlFeatureRef struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type yamlConditional struct {
	Triggers       []yamlFeatureRef `yaml:"triggers"`
	Bundles        []yamlBundleRef  `yaml:"bundles"`
	Configurations []yamlConfigRef  `yaml:"configurations"`
}

type yamlConfigRef struct {
	PID       string            `yaml:"pid"`
	Append    bool              `yaml:"append"`
	Overrides map[string]string `yaml:"overrides"`
}

// YAMLLoader loads repository documents from the local filesystem,
// treating the repository URI as a path. It exists to exercise the
// catalog, resolver, and planner against readable fixtures without the
// real (out-of-scope) document parser.
type YAMLLoader struct{}

func (YAMLLoader) Load(uri string) (Repository, error) {
	data, err := os.ReadFile(uri)
	if err != nil {
		return Repository{}, fmt.Errorf("catalog: load %s: %w", uri, err)
	}
	var doc yamlRepository
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Repository{}, fmt.Errorf("catalog: parse %s: %w", uri, err)
	}
	repo := Repository{
		URI:                    uri,
		Name:                   doc.Name,
		ReferencedRepositories: doc.ReferencedRepositories,
	}
	if repo.Name == "" {
		repo.Name = uri
	}
	for _, f := range doc.Features {
		repo.Features = append(repo.Features, convertFeature(f))
	}
	return repo, nil
}

func convertFeature(f yamlFeature) Feature {
	feature := Feature{Name: f.Name, Version: f.Version}
	for _, b := range f.Bundles {
		feature.Bundles = append(feature.Bundles, convertBundleRef(b))
	}
	for _, d := range f.Dependencies {
		feature.Dependencies = append(feature.Dependencies, FeatureRef{Name: d.Name, Version: d.Version})
	}
	for _, c := range f.Conditionals {
		cond := Conditional{}
		for _, t := range c.Triggers {
			cond.Triggers = append(cond.Triggers, FeatureRef{Name: t.Name, Version: t.Version})
		}
		for _, b := range c.Bundles {
			cond.Bundles = append(cond.Bundles, convertBundleRef(b))
		}
		for _, cfg := range c.Configurations {
			cond.Configurations = append(cond.Configurations, ConfigRef{PID: cfg.PID, Append: cfg.Append, Overrides: cfg.Overrides})
		}
		feature.Conditionals = append(feature.Conditionals, cond)
	}
	for _, cfg := range f.Configurations {
		feature.Configurations = append(feature.Configurations, ConfigRef{PID: cfg.PID, Append: cfg.Append, Overrides: cfg.Overrides})
	}
	return feature
}

func convertBundleRef(b yamlBundleRef) BundleRef {
	return BundleRef{Location: b.Location, StartLevel: b.StartLevel, Dependency: b.Dependency}
}

// StaticLoader serves pre-built Repository values by URI, for tests
// that want to construct fixtures as Go literals instead of YAML text.
type StaticLoader map[string]Repository

func (l StaticLoader) Load(uri string) (Repository, error) {
	repo, ok := l[uri]
	if !ok {
		return Repository{}, fmt.Errorf("catalog: no repository registered for %s", uri)
	}
	return repo, nil
}
