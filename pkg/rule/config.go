// ABOUTME: Declarative parser configuration in JSON, YAML or TOML
// ABOUTME: Documents are validated against an embedded JSON schema before decoding

package rule

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema.json
var schemaJSON []byte

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

// Format names a configuration encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatOf picks a format from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, path)
}

// Config is the on-disk shape of a parser.
type Config struct {
	Name     string       `json:"name"`
	Section  string       `json:"section"`
	Identity string       `json:"identity,omitempty"`
	Timezone string       `json:"timezone,omitempty"`
	Rules    []RuleConfig `json:"rules"`
}

// RuleConfig declares one rule. Rules nested under Children take their parent
// from the enclosing rule; flat rules name it through Parent.
type RuleConfig struct {
	ID       string       `json:"id,omitempty"`
	Name     string       `json:"name"`
	XPath    string       `json:"xpath"`
	Regex    string       `json:"regex,omitempty"`
	Sub      string       `json:"sub,omitempty"`
	Type     string       `json:"type,omitempty"`
	Parent   string       `json:"parent,omitempty"`
	Children []RuleConfig `json:"children,omitempty"`
}

// Decode validates data in the given format and decodes it into a Config.
func Decode(data []byte, format Format) (*Config, error) {
	var generic any
	var err error
	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, &generic)
	case FormatYAML:
		err = yaml.Unmarshal(data, &generic)
	case FormatTOML:
		var m map[string]any
		err = toml.Unmarshal(data, &m)
		generic = m
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s config: %w", format, err)
	}

	// Normalize every format to JSON values so one schema and one decoder apply.
	normalized, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("normalize %s config: %w", format, err)
	}
	if err := validate(normalized); err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(normalized, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return &cfg, nil
}

// LoadConfig reads and decodes a configuration file, choosing the format by extension.
func LoadConfig(path string) (*Config, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Decode(data, format)
}

func validate(doc []byte) error {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("parser.schema.json", bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile("parser.schema.json")
	})
	if schemaErr != nil {
		return fmt.Errorf("compile schema: %w", schemaErr)
	}

	var v any
	if err := json.Unmarshal(doc, &v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := compiledSchema.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
