// Package manifest loads the plugin configuration options named in
// spec.md §6: a JSON manifest next to the executable, overridable by
// values embedded in test config.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
)

// Manifest holds the options a host or the plugin's own environment may
// supply at startup.
type Manifest struct {
	ProtocVersion      string   `json:"protocVersion"`
	DownloadURL        string   `json:"downloadUrl"`
	HostToBindTo       string   `json:"hostToBindTo"`
	AdditionalIncludes []string `json:"additionalIncludes"`
}

// rawManifest mirrors AdditionalIncludes' dual JSON shape: spec.md §6
// allows either a bare string or a list of strings.
type rawManifest struct {
	ProtocVersion      string          `json:"protocVersion"`
	DownloadURL        string          `json:"downloadUrl"`
	HostToBindTo       string          `json:"hostToBindTo"`
	AdditionalIncludes json.RawMessage `json:"additionalIncludes"`
}

// Default returns the manifest's built-in defaults, used when no
// manifest file is present and no override supplies a value.
func Default() Manifest {
	return Manifest{
		HostToBindTo: "127.0.0.1",
	}
}

// Load reads and parses a manifest file at path. A missing file is not
// an error: it returns Default().
func Load(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Manifest{}, fmt.Errorf("manifest: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes manifest JSON bytes.
func Parse(data []byte) (Manifest, error) {
	var raw rawManifest
	if err := json.Unmarshal(data, &raw); err != nil {
		return Manifest{}, fmt.Errorf("manifest: malformed JSON: %w", err)
	}

	m := Default()
	if raw.ProtocVersion != "" {
		m.ProtocVersion = raw.ProtocVersion
	}
	if raw.DownloadURL != "" {
		m.DownloadURL = raw.DownloadURL
	}
	if raw.HostToBindTo != "" {
		m.HostToBindTo = raw.HostToBindTo
	}

	includes, err := parseIncludes(raw.AdditionalIncludes)
	if err != nil {
		return Manifest{}, err
	}
	m.AdditionalIncludes = includes
	return m, nil
}

func parseIncludes(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if single == "" {
			return nil, nil
		}
		return []string{single}, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("manifest: additionalIncludes must be a string or list of strings: %w", err)
	}
	return list, nil
}

// Override applies non-zero fields from an embedded test-config override
// on top of m, per spec.md §6's "overridden by values embedded in test
// config".
func (m Manifest) Override(o Manifest) Manifest {
	out := m
	if o.ProtocVersion != "" {
		out.ProtocVersion = o.ProtocVersion
	}
	if o.DownloadURL != "" {
		out.DownloadURL = o.DownloadURL
	}
	if o.HostToBindTo != "" {
		out.HostToBindTo = o.HostToBindTo
	}
	if len(o.AdditionalIncludes) > 0 {
		out.AdditionalIncludes = o.AdditionalIncludes
	}
	return out
}
