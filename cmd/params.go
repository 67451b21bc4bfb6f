package cmd

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pphpc/ppsim/sim"
)

// LoadParameters reads the model parameters from a YAML file.
// Unknown keys are rejected so a misspelled parameter cannot silently fall
// back to zero.
func LoadParameters(path string) (sim.Parameters, error) {
	var p sim.Parameters
	data, err := os.ReadFile(path)
	if err != nil {
		return p, &sim.Error{Kind: sim.ConfigurationError, Op: "read parameters", Err: err}
	}
	p, err = ParseParameters(data)
	if err != nil {
		return p, &sim.Error{Kind: sim.ConfigurationError, Op: "parse " + path, Err: err}
	}
	return p, nil
}

// ParseParameters decodes a YAML parameter document.
func ParseParameters(data []byte) (sim.Parameters, error) {
	var p sim.Parameters
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&p); err != nil {
		return sim.Parameters{}, fmt.Errorf("decode parameters: %w", err)
	}
	return p, nil
}
