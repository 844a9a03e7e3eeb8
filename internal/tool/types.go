// Package tool builds and executes tool child processes. It consumes only
// expanded tool definitions: an argv template of literals plus parameters
// with explicit injection modes. The exec:/shell: configuration sugars are
// expanded by the agent loader before definitions reach this package.
package tool

import "fmt"

// InjectAs selects how a parameter value reaches the child process.
type InjectAs string

const (
	// InjectArgument appends the value as the next positional argument.
	InjectArgument InjectAs = "argument"
	// InjectStdin writes the value to the child's stdin, which is then
	// closed. At most one parameter per tool may use this mode.
	InjectStdin InjectAs = "stdin"
	// InjectOption appends the option name and the value as two separate
	// argv elements (never joined with "=").
	InjectOption InjectAs = "option"
)

// Param describes one tool parameter.
type Param struct {
	Name        string   `yaml:"name" json:"name"`
	Type        string   `yaml:"type" json:"type"`
	Description string   `yaml:"description" json:"description,omitempty"`
	InjectAs    InjectAs `yaml:"inject_as" json:"inject_as"`
	OptionName  string   `yaml:"option_name" json:"option_name,omitempty"`
}

// Def is the internal, post-expansion form of a tool definition.
type Def struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description,omitempty"`
	Command     []string `yaml:"command" json:"command"`
	Parameters  []Param  `yaml:"parameters" json:"parameters"`
}

// Validate checks the structural invariants of an expanded definition.
func (d Def) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("tool has no name")
	}
	if len(d.Command) == 0 {
		return fmt.Errorf("tool %q has an empty command", d.Name)
	}
	stdinCount := 0
	for _, p := range d.Parameters {
		switch p.InjectAs {
		case InjectArgument, "":
		case InjectStdin:
			stdinCount++
		case InjectOption:
			if p.OptionName == "" {
				return fmt.Errorf("tool %q parameter %q: inject_as option requires option_name", d.Name, p.Name)
			}
		default:
			return fmt.Errorf("tool %q parameter %q: unknown inject_as %q", d.Name, p.Name, p.InjectAs)
		}
		if p.Name == "" {
			return fmt.Errorf("tool %q has a parameter with no name", d.Name)
		}
	}
	if stdinCount > 1 {
		return fmt.Errorf("tool %q declares %d stdin parameters; at most one is allowed", d.Name, stdinCount)
	}
	return nil
}
