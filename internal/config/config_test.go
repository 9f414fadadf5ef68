package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	p := cfg.Params()
	if p.Geometry.Width != cfg.Grid.Width || !p.Holes || p.SourceTries != 1 {
		t.Errorf("Params() = %+v", p)
	}
}

func TestParse_OverridesDefaults(t *testing.T) {
	doc := `
grid: {width: 64, height: 16, depth: 4, periodic: true}
electrodes: {source_potential: 0.5, drain_potential: -0.5}
temperature_kt: 0.01
traps:
  fraction: 0.2
  depth: 0.3
  clustering: {enabled: true, frequency: 0.1, octaves: 3}
coulomb: {enabled: true, prefactor: 0.5, cutoff: 8}
carriers: {holes: true, electrons: true}
seed: 99
ticks: 500
api: {port: 8080}
`
	cfg, err := Parse([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Grid.Width != 64 || !cfg.Grid.Periodic || cfg.Traps.Clustering.Octaves != 3 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Source.Rate != Default().Source.Rate {
		t.Errorf("unset source.rate should keep default, got %v", cfg.Source.Rate)
	}
	p := cfg.Params()
	if !p.Electrons || p.Seed != 99 || !p.Clustering.Enabled || p.KT != 0.01 {
		t.Errorf("Params() = %+v", p)
	}
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Grid != Default().Grid {
		t.Errorf("empty document should yield defaults")
	}
}

func TestParse_Rejects(t *testing.T) {
	tests := map[string]string{
		"negative width":      "grid: {width: -3}",
		"unknown key":         "grdi: {width: 3}",
		"rate above one":      "source: {rate: 1.5}",
		"fractions over one":  "traps: {fraction: 0.6}\ndefects: {fraction: 0.6}",
		"no carriers":         "carriers: {holes: false, electrons: false}",
		"negative kt":         "temperature_kt: -1",
		"string where number": "ticks: lots",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(doc)); err == nil {
				t.Errorf("Parse(%q) succeeded", doc)
			}
		})
	}
}

func TestParse_ErrInvalid(t *testing.T) {
	_, err := Parse([]byte("traps: {fraction: 0.6}\ndefects: {fraction: 0.6}"))
	if !errors.Is(err, ErrInvalid) {
		t.Errorf("err = %v, want ErrInvalid", err)
	}
	_, err = Parse([]byte("grid: {width: 0}"))
	if !errors.Is(err, ErrInvalid) {
		t.Errorf("err = %v, want ErrInvalid", err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	if err := os.WriteFile(path, []byte("ticks: 42\nworkers: 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Ticks != 42 || cfg.Workers != 3 {
		t.Errorf("cfg ticks %d workers %d", cfg.Ticks, cfg.Workers)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Errorf("Load of missing file succeeded")
	}
}

func TestAdminKey(t *testing.T) {
	cfg := Default()
	cfg.API.AdminKeyEnv = "LANGMUIR_TEST_ADMIN"
	t.Setenv("LANGMUIR_TEST_ADMIN", "s3cret")
	if cfg.AdminKey() != "s3cret" {
		t.Errorf("AdminKey = %q", cfg.AdminKey())
	}
	cfg.API.AdminKeyEnv = ""
	if cfg.AdminKey() != "" {
		t.Errorf("AdminKey without env name should be empty")
	}
}
