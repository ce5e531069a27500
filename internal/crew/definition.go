package crew

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultDefinition []byte

var (
	ErrNoTasks      = errors.New("crew definition has no tasks")
	ErrUnknownAgent = errors.New("task references an unknown agent")
)

// Definition is the YAML description of the agents and the ordered tasks they perform.
type Definition struct {
	Inputs []string             `yaml:"inputs"`
	Agents map[string]AgentSpec `yaml:"agents"`
	Tasks  []TaskSpec           `yaml:"tasks"`
}

type AgentSpec struct {
	Role      string `yaml:"role"`
	Goal      string `yaml:"goal"`
	Backstory string `yaml:"backstory"`
}

type TaskSpec struct {
	Name           string    `yaml:"name"`
	Agent          string    `yaml:"agent"`
	Description    string    `yaml:"description"`
	ExpectedOutput string    `yaml:"expected_output"`
	Tools          []ToolUse `yaml:"tools"`
}

// ToolUse names a tool and the templated input it is called with.
type ToolUse struct {
	Name  string `yaml:"name"`
	Input string `yaml:"input"`
}

// DefaultDefinition returns the embedded doctor/verifier/nutritionist/exercise crew.
func DefaultDefinition() (*Definition, error) {
	return parse(defaultDefinition)
}

// LoadDefinition reads a definition file, or the embedded default when path is empty.
func LoadDefinition(path string) (*Definition, error) {
	if path == "" {
		return DefaultDefinition()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ParseDefinition(f)
}

// ParseDefinition parses a definition from an io.Reader.
func ParseDefinition(r io.Reader) (*Definition, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return parse(data)
}

func parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse crew definition: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate checks that there is work to do and every task has an agent.
func (d *Definition) Validate() error {
	if len(d.Tasks) == 0 {
		return ErrNoTasks
	}
	seen := make(map[string]bool, len(d.Tasks))
	for i, t := range d.Tasks {
		if t.Name == "" {
			return fmt.Errorf("task %d has no name", i)
		}
		if seen[t.Name] {
			return fmt.Errorf("duplicate task name %q", t.Name)
		}
		seen[t.Name] = true
		if _, ok := d.Agents[t.Agent]; !ok {
			return fmt.Errorf("%w: task %q uses %q", ErrUnknownAgent, t.Name, t.Agent)
		}
		if t.Description == "" {
			return fmt.Errorf("task %q has no description", t.Name)
		}
	}
	return nil
}
