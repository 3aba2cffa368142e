package rule

import (
	"fmt"

	"github.com/antchfx/xpath"
	"github.com/nainya/leostore/pkg/typeof"
)

// Parser bundles a section selector, identity field and rule tree. It is immutable once built.
type Parser struct {
	Name     string
	Section  string
	Identity string
	Timezone string
	Types    *typeof.Registry
	Tree     *Tree
}

// Build turns a decoded configuration into a Parser.
func Build(cfg *Config) (*Parser, error) {
	if _, err := xpath.Compile(cfg.Section); err != nil {
		return nil, fmt.Errorf("%w: section: %v", ErrBadExpression, err)
	}
	types, err := typeof.NewRegistryForZone(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	tree, err := BuildTree(cfg.Rules)
	if err != nil {
		return nil, err
	}
	return &Parser{
		Name:     cfg.Name,
		Section:  cfg.Section,
		Identity: cfg.Identity,
		Timezone: types.Location().String(),
		Types:    types,
		Tree:     tree,
	}, nil
}

// Parse decodes, validates and builds a parser from raw configuration bytes.
func Parse(data []byte, format Format) (*Parser, error) {
	cfg, err := Decode(data, format)
	if err != nil {
		return nil, err
	}
	return Build(cfg)
}

// Load reads a parser configuration file.
func Load(path string) (*Parser, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	p, err := Build(cfg)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", path, err)
	}
	return p, nil
}
