package seed

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// Group is an activity group seeded into a new database.
type Group struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Description string `mapstructure:"description" yaml:"description"`
}

// Definition registers a constant. Value, when set, is stored at time zero
// so the constant has a value from the start.
type Definition struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Description string `mapstructure:"description" yaml:"description"`
	Validator   string `mapstructure:"validator" yaml:"validator"`
	Value       any    `mapstructure:"value" yaml:"value,omitempty"`
}

// Defaults is the baseline configuration written by the seeder.
type Defaults struct {
	Groups    []Group      `mapstructure:"groups" yaml:"groups"`
	Constants []Definition `mapstructure:"constants" yaml:"constants"`
}

// DefaultConfig returns the built-in activity groups and constants.
func DefaultConfig() Defaults {
	return Defaults{
		Groups: []Group{
			{Name: "Bike", Description: "Cycling activities"},
			{Name: "Run", Description: "Running activities"},
			{Name: "Swim", Description: "Swimming activities"},
			{Name: "Walk", Description: "Walking activities"},
		},
		Constants: []Definition{
			{Name: "ftp.bike", Description: "Functional threshold power for cycling, in watts", Validator: "int"},
			{Name: "fthr.bike", Description: "Functional threshold heart rate for cycling, in bpm", Validator: "int"},
			{Name: "fthr.run", Description: "Functional threshold heart rate for running, in bpm", Validator: "int"},
			{Name: "weight", Description: "Body weight, in kg", Validator: "float"},
			{Name: "hr.zones", Description: "Heart rate zone boundaries as fractions of FTHR",
				Validator: "json:zones", Value: map[string]any{"zones": []any{0.68, 0.83, 0.94, 1.05}}},
		},
	}
}

// DecodeDefaults reads a seed section from a config map, as produced by
// viper or yaml.v3. A missing section yields DefaultConfig.
func DecodeDefaults(raw map[string]any) (Defaults, error) {
	if len(raw) == 0 {
		return DefaultConfig(), nil
	}
	var d Defaults
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &d,
		ErrorUnused: true,
		TagName:     "mapstructure",
	})
	if err != nil {
		return Defaults{}, err
	}
	if err := dec.Decode(raw); err != nil {
		return Defaults{}, fmt.Errorf("decode seed defaults: %w", err)
	}
	return d, d.Validate()
}

// Validate checks names and validator references.
func (d Defaults) Validate() error {
	seen := make(map[string]bool)
	for _, g := range d.Groups {
		if g.Name == "" {
			return fmt.Errorf("activity group without a name")
		}
	}
	for _, c := range d.Constants {
		if err := c.Validate(); err != nil {
			return err
		}
		if seen[c.Name] {
			return fmt.Errorf("constant %s defined twice", c.Name)
		}
		seen[c.Name] = true
	}
	return nil
}

// Validate checks the name, the validator reference and any initial value.
func (c Definition) Validate() error {
	if !ValidName(c.Name) {
		return fmt.Errorf("invalid constant name %q", c.Name)
	}
	check, err := ParseValidator(c.Validator)
	if err != nil {
		return fmt.Errorf("constant %s: %w", c.Name, err)
	}
	if c.Value == nil {
		return nil
	}
	v, err := EncodeValue(c.Value)
	if err != nil {
		return fmt.Errorf("constant %s: %w", c.Name, err)
	}
	if err := check(v); err != nil {
		return fmt.Errorf("constant %s: %w", c.Name, err)
	}
	return nil
}
