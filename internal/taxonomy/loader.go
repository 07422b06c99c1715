package taxonomy

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"

	"github.com/benvon/tagmatch/internal/validation"
	"gopkg.in/yaml.v3"
)

//go:embed default_taxonomy.yaml
var defaultTaxonomy []byte

// File is the on-disk taxonomy format
type File struct {
	Tags []TagDefinition `yaml:"tags" validate:"required,min=1,dive"`
}

// Parse decodes and validates a YAML taxonomy
func Parse(r io.Reader) ([]TagDefinition, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to decode taxonomy: %w", err)
	}
	if err := validation.Struct(f); err != nil {
		return nil, fmt.Errorf("invalid taxonomy: %w", err)
	}
	return f.Tags, nil
}

// LoadFile reads a taxonomy file and builds its mapping
func LoadFile(path string) (*Mapping, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open taxonomy file: %w", err)
	}
	defer func() { _ = fh.Close() }()

	defs, err := Parse(fh)
	if err != nil {
		return nil, err
	}
	return BuildMapping(defs)
}

// DefaultDefinitions returns the embedded taxonomy definitions
func DefaultDefinitions() ([]TagDefinition, error) {
	return Parse(bytes.NewReader(defaultTaxonomy))
}

// Default builds the mapping for the embedded taxonomy
func Default() (*Mapping, error) {
	defs, err := DefaultDefinitions()
	if err != nil {
		return nil, err
	}
	return BuildMapping(defs)
}

// Load returns the mapping for path, or the embedded taxonomy when path is empty
func Load(path string) (*Mapping, error) {
	if path == "" {
		return Default()
	}
	return LoadFile(path)
}
