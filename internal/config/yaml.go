package config

import (
	"io"

	"gopkg.in/yaml.v2"
)

// decodeYAML decodes YAML from r on top of defaults, so a field absent from
// the file keeps its value from defaults rather than being reset to YAML's
// zero value.
func decodeYAML(r io.Reader, defaults *Config) (*Config, error) {
	cfg := *defaults
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return nil, err
	}
	return &cfg, nil
}
