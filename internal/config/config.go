// Package config loads run configuration from YAML. A document is first
// checked against an embedded JSON Schema, then decoded over the defaults,
// then checked for cross-field constraints the schema cannot express.
package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/talgya/langmuir/internal/lattice"
	"github.com/talgya/langmuir/internal/world"
)

// ErrInvalid marks configuration that parses but cannot describe a run.
var ErrInvalid = errors.New("invalid config")

//go:embed schema.json
var schemaJSON string

const schemaURL = "langmuir://config.schema.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

type Grid struct {
	Width    int  `yaml:"width" json:"width"`
	Height   int  `yaml:"height" json:"height"`
	Depth    int  `yaml:"depth" json:"depth"`
	Periodic bool `yaml:"periodic" json:"periodic"`
}

type Electrodes struct {
	SourcePotential float64 `yaml:"source_potential" json:"source_potential"`
	DrainPotential  float64 `yaml:"drain_potential" json:"drain_potential"`
}

type Clustering struct {
	Enabled   bool    `yaml:"enabled" json:"enabled"`
	Frequency float64 `yaml:"frequency" json:"frequency"`
	Octaves   int     `yaml:"octaves" json:"octaves"`
}

type Traps struct {
	Fraction   float64    `yaml:"fraction" json:"fraction"`
	Depth      float64    `yaml:"depth" json:"depth"`
	Clustering Clustering `yaml:"clustering" json:"clustering"`
}

type Defects struct {
	Fraction float64 `yaml:"fraction" json:"fraction"`
	Charge   float64 `yaml:"charge" json:"charge"`
}

type Coulomb struct {
	Enabled   bool    `yaml:"enabled" json:"enabled"`
	Prefactor float64 `yaml:"prefactor" json:"prefactor"`
	Cutoff    float64 `yaml:"cutoff" json:"cutoff"` // lattice units; 0 = unlimited
}

type Source struct {
	Rate        float64 `yaml:"rate" json:"rate"`
	Tries       int     `yaml:"tries" json:"tries"`
	MaxCarriers int     `yaml:"max_carriers" json:"max_carriers"`
}

type Carriers struct {
	Holes     bool `yaml:"holes" json:"holes"`
	Electrons bool `yaml:"electrons" json:"electrons"`
}

type Cluster struct {
	NodeFile string `yaml:"node_file" json:"node_file"`
	GPUFile  string `yaml:"gpu_file" json:"gpu_file"`
}

type Output struct {
	DBPath          string `yaml:"db_path" json:"db_path"`
	TrajectoryDir   string `yaml:"trajectory_dir" json:"trajectory_dir"`
	TrajectoryEvery uint64 `yaml:"trajectory_every" json:"trajectory_every"`
}

type API struct {
	Port        int    `yaml:"port" json:"port"` // 0 disables the HTTP server
	AdminKeyEnv string `yaml:"admin_key_env" json:"admin_key_env"`
}

// Config is one run's complete configuration.
type Config struct {
	Grid            Grid       `yaml:"grid" json:"grid"`
	Electrodes      Electrodes `yaml:"electrodes" json:"electrodes"`
	TemperatureKT   float64    `yaml:"temperature_kt" json:"temperature_kt"`
	Traps           Traps      `yaml:"traps" json:"traps"`
	Defects         Defects    `yaml:"defects" json:"defects"`
	Coulomb         Coulomb    `yaml:"coulomb" json:"coulomb"`
	Source          Source     `yaml:"source" json:"source"`
	Carriers        Carriers   `yaml:"carriers" json:"carriers"`
	Seed            uint64     `yaml:"seed" json:"seed"`
	Ticks           uint64     `yaml:"ticks" json:"ticks"`
	Workers         int        `yaml:"workers" json:"workers"`
	ReportEvery     uint64     `yaml:"report_every" json:"report_every"`
	CheckInvariants bool       `yaml:"check_invariants" json:"check_invariants"`
	Cluster         Cluster    `yaml:"cluster" json:"cluster"`
	Output          Output     `yaml:"output" json:"output"`
	API             API        `yaml:"api" json:"api"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	p := world.DefaultParams()
	return Config{
		Grid: Grid{
			Width:    p.Geometry.Width,
			Height:   p.Geometry.Height,
			Depth:    p.Geometry.Depth,
			Periodic: p.Geometry.Periodic,
		},
		Electrodes:    Electrodes{SourcePotential: p.SourcePotential, DrainPotential: p.DrainPotential},
		TemperatureKT: p.KT,
		Traps: Traps{
			Fraction: p.TrapFraction,
			Depth:    p.TrapDepth,
			Clustering: Clustering{
				Frequency: p.Clustering.Frequency,
				Octaves:   2,
			},
		},
		Coulomb:     Coulomb{Prefactor: 1.0, Cutoff: 0},
		Source:      Source{Rate: p.SourceRate, Tries: p.SourceTries},
		Carriers:    Carriers{Holes: p.Holes, Electrons: p.Electrons},
		Ticks:       10000,
		ReportEvery: 1000,
		Output: Output{
			DBPath:          "data/langmuir.db",
			TrajectoryEvery: 100,
		},
		API: API{AdminKeyEnv: "LANGMUIR_ADMIN_KEY"},
	}
}

// Load reads, validates, and decodes the YAML file at path over Default.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg, err := Parse(raw)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse validates and decodes a YAML document over Default.
func Parse(raw []byte) (Config, error) {
	cfg := Default()

	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if doc != nil {
		if err := validateSchema(doc); err != nil {
			return cfg, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("decode yaml: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the constraints that span fields.
func (c *Config) Validate() error {
	var problems []string
	if err := c.Geometry().Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	if !c.Carriers.Holes && !c.Carriers.Electrons {
		problems = append(problems, "at least one carrier type must be enabled")
	}
	if c.Traps.Fraction < 0 || c.Defects.Fraction < 0 {
		problems = append(problems, "fractions must be non-negative")
	}
	if c.Traps.Fraction+c.Defects.Fraction > 1 {
		problems = append(problems, fmt.Sprintf("traps.fraction + defects.fraction = %v exceeds 1",
			c.Traps.Fraction+c.Defects.Fraction))
	}
	if c.TemperatureKT < 0 {
		problems = append(problems, "temperature_kt must be non-negative")
	}
	if c.Source.Rate < 0 || c.Source.Rate > 1 {
		problems = append(problems, "source.rate must be within [0, 1]")
	}
	if c.Source.Tries < 1 {
		problems = append(problems, "source.tries must be at least 1")
	}
	if c.Workers < 0 {
		problems = append(problems, "workers must be non-negative")
	}
	if c.API.Port < 0 || c.API.Port > 65535 {
		problems = append(problems, "api.port out of range")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// Geometry returns the lattice dimensions.
func (c *Config) Geometry() lattice.Geometry {
	return lattice.Geometry{
		Width:    c.Grid.Width,
		Height:   c.Grid.Height,
		Depth:    c.Grid.Depth,
		Periodic: c.Grid.Periodic,
	}
}

// Params converts the configuration into world construction parameters.
func (c *Config) Params() world.Params {
	return world.Params{
		Geometry:        c.Geometry(),
		SourcePotential: c.Electrodes.SourcePotential,
		DrainPotential:  c.Electrodes.DrainPotential,
		KT:              c.TemperatureKT,
		TrapFraction:    c.Traps.Fraction,
		TrapDepth:       c.Traps.Depth,
		Clustering: world.Clustering{
			Enabled:   c.Traps.Clustering.Enabled,
			Frequency: c.Traps.Clustering.Frequency,
			Octaves:   c.Traps.Clustering.Octaves,
		},
		DefectFraction: c.Defects.Fraction,
		DefectCharge:   c.Defects.Charge,
		SourceRate:     c.Source.Rate,
		SourceTries:    c.Source.Tries,
		MaxCarriers:    c.Source.MaxCarriers,
		Holes:          c.Carriers.Holes,
		Electrons:      c.Carriers.Electrons,
		Seed:           c.Seed,
	}
}

// AdminKey returns the API admin token from the configured environment
// variable, or "" when admin endpoints are disabled.
func (c *Config) AdminKey() string {
	if c.API.AdminKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.API.AdminKeyEnv)
}

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		comp := jsonschema.NewCompiler()
		if err := comp.AddResource(schemaURL, strings.NewReader(schemaJSON)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = comp.Compile(schemaURL)
	})
	return schema, schemaErr
}

// validateSchema checks a decoded YAML document. The document is round-tripped
// through JSON so the validator sees the value types it expects.
func validateSchema(doc any) error {
	s, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode for validation: %w", err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	return s.Validate(v)
}
