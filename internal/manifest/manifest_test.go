package manifest

import (
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	d := Default()
	if d.HostToBindTo != "127.0.0.1" {
		t.Errorf("Default().HostToBindTo = %q, want 127.0.0.1", d.HostToBindTo)
	}
}

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	m, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Default()
	if m.HostToBindTo != want.HostToBindTo || m.ProtocVersion != want.ProtocVersion || len(m.AdditionalIncludes) != 0 {
		t.Errorf("Load(missing) = %+v, want %+v", m, want)
	}
}

func TestParseWithSingleStringInclude(t *testing.T) {
	m, err := Parse([]byte(`{"protocVersion":"25.1","additionalIncludes":"vendor/protos"}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.ProtocVersion != "25.1" {
		t.Errorf("ProtocVersion = %q", m.ProtocVersion)
	}
	if len(m.AdditionalIncludes) != 1 || m.AdditionalIncludes[0] != "vendor/protos" {
		t.Errorf("AdditionalIncludes = %v", m.AdditionalIncludes)
	}
	if m.HostToBindTo != "127.0.0.1" {
		t.Errorf("HostToBindTo default not applied: %q", m.HostToBindTo)
	}
}

func TestParseWithListInclude(t *testing.T) {
	m, err := Parse([]byte(`{"additionalIncludes":["a","b"]}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(m.AdditionalIncludes) != 2 || m.AdditionalIncludes[0] != "a" || m.AdditionalIncludes[1] != "b" {
		t.Errorf("AdditionalIncludes = %v", m.AdditionalIncludes)
	}
}

func TestParseEmptyIncludes(t *testing.T) {
	m, err := Parse([]byte(`{}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.AdditionalIncludes != nil {
		t.Errorf("AdditionalIncludes = %v, want nil", m.AdditionalIncludes)
	}
}

func TestParseMalformedJSON(t *testing.T) {
	_, err := Parse([]byte(`not json`))
	if err == nil {
		t.Fatal("expected error for malformed manifest JSON")
	}
}

func TestParseInvalidIncludesShape(t *testing.T) {
	_, err := Parse([]byte(`{"additionalIncludes": 5}`))
	if err == nil {
		t.Fatal("expected error for additionalIncludes neither string nor list")
	}
}

func TestOverride(t *testing.T) {
	base := Manifest{ProtocVersion: "25.0", HostToBindTo: "127.0.0.1", AdditionalIncludes: []string{"a"}}
	override := Manifest{ProtocVersion: "25.1"}

	merged := base.Override(override)
	if merged.ProtocVersion != "25.1" {
		t.Errorf("ProtocVersion not overridden: %q", merged.ProtocVersion)
	}
	if merged.HostToBindTo != "127.0.0.1" {
		t.Errorf("HostToBindTo should be retained from base: %q", merged.HostToBindTo)
	}
	if len(merged.AdditionalIncludes) != 1 || merged.AdditionalIncludes[0] != "a" {
		t.Errorf("AdditionalIncludes should be retained from base: %v", merged.AdditionalIncludes)
	}
}

func TestOverrideReplacesIncludes(t *testing.T) {
	base := Manifest{AdditionalIncludes: []string{"a"}}
	override := Manifest{AdditionalIncludes: []string{"b", "c"}}

	merged := base.Override(override)
	if len(merged.AdditionalIncludes) != 2 || merged.AdditionalIncludes[0] != "b" {
		t.Errorf("AdditionalIncludes = %v", merged.AdditionalIncludes)
	}
}
