package duckdb

import (
	"fmt"
	"sort"

	"github.com/go-viper/mapstructure/v2"
)

// Params holds DuckDB-specific configuration, parsed from the connection's
// options. "extensions" is a comma separated list; every other option is a
// session setting.
type Params struct {
	// Extensions to install and load (e.g., "httpfs", "json")
	Extensions []string `mapstructure:"extensions"`

	// Settings to apply at session level (e.g., memory_limit, threads)
	Settings map[string]string `mapstructure:"settings"`
}

// ParseParams decodes connection options into Params.
func ParseParams(options map[string]string) (*Params, error) {
	input := map[string]any{}
	settings := map[string]string{}
	for k, v := range options {
		if k == "extensions" {
			input["extensions"] = v
			continue
		}
		settings[k] = v
	}
	if len(settings) > 0 {
		input["settings"] = settings
	}

	params := &Params{}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:  mapstructure.StringToSliceHookFunc(","),
		ErrorUnused: true,
		Result:      params,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(input); err != nil {
		return nil, fmt.Errorf("invalid duckdb options: %w", err)
	}
	return params, nil
}

// Statements returns the INSTALL, LOAD and SET statements the params need,
// settings sorted by name.
func (p *Params) Statements() []string {
	var out []string
	for _, ext := range p.Extensions {
		if ext == "" {
			continue
		}
		out = append(out, fmt.Sprintf("INSTALL %s", ext), fmt.Sprintf("LOAD %s", ext))
	}
	keys := make([]string, 0, len(p.Settings))
	for k := range p.Settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, fmt.Sprintf("SET %s = '%s'", k, p.Settings[k]))
	}
	return out
}
