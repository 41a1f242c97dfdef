package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/goccy/go-yaml"
	"github.com/kaptinlin/jsonschema"
)

// Environment overrides applied after the file is decoded.
const (
	EnvAddr     = "VIGILCAM_ADDR"
	EnvDataDir  = "VIGILCAM_DATA_DIR"
	EnvLogLevel = "VIGILCAM_LOG_LEVEL"
)

//go:embed config.schema.json
var schemaDocument []byte

var compileSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	schema, err := compiler.Compile(schemaDocument)
	if err != nil {
		return nil, fmt.Errorf("compile config schema: %w", err)
	}
	return schema, nil
})

// Load reads the YAML file at path on top of the defaults. An empty path
// yields the defaults. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := Decode(data, cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

// Decode validates a YAML document against the embedded schema and decodes
// it into cfg. Keys absent from the document keep their current values.
func Decode(data []byte, cfg *Config) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	doc, err := yaml.YAMLToJSON(data)
	if err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	schema, err := compileSchema()
	if err != nil {
		return err
	}
	result := schema.ValidateJSON(doc)
	if !result.IsValid() {
		return fmt.Errorf("schema validation failed: %v", result.Errors)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// ApplyEnv overrides selected fields from the environment. The data
// directory moves both the storage root and the KV directory.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvAddr); ok && strings.TrimSpace(v) != "" {
		c.Server.Addr = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvDataDir); ok && strings.TrimSpace(v) != "" {
		dir := strings.TrimRight(strings.TrimSpace(v), "/")
		c.Storage.Root = dir + "/media"
		c.KV.Dir = dir + "/kv"
	}
	if v, ok := lookup(EnvLogLevel); ok && strings.TrimSpace(v) != "" {
		c.Log.Level = strings.ToLower(strings.TrimSpace(v))
	}
}
