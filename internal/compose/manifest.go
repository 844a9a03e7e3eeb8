// Package compose resolves a context manifest into the ordered chat
// messages for one LLM request. Sources resolve in declaration order; the
// journal source rebuilds the conversation from the run's event log, so the
// engine itself never has to hold conversation state in memory.
package compose

import "fmt"

// SourceType enumerates the kinds of context sources.
type SourceType string

const (
	SourceFile         SourceType = "file"
	SourceComputedFile SourceType = "computed_file"
	SourceJournal      SourceType = "journal"
)

// OnMissing selects the behavior when a file source's path does not exist.
const (
	OnMissingError = "error"
	OnMissingSkip  = "skip"
)

// defaultGeneratorTimeoutMS bounds computed_file generators when the
// manifest does not declare a timeout.
const defaultGeneratorTimeoutMS = 30_000

// Source is one declarative producer of chat messages.
type Source struct {
	Type SourceType `yaml:"type"`

	// file
	Path      string `yaml:"path,omitempty"`
	OnMissing string `yaml:"on_missing,omitempty"` // error (default) | skip

	// computed_file
	Command    []string `yaml:"command,omitempty"`
	OutputPath string   `yaml:"output_path,omitempty"`
	TimeoutMS  int      `yaml:"timeout_ms,omitempty"`

	// journal
	MaxIterations int `yaml:"max_iterations,omitempty"`
}

// Manifest is an ordered sequence of context sources.
type Manifest struct {
	Sources []Source `yaml:"sources"`
}

// DefaultManifest is assumed when an agent declares no context manifest:
// the journal is the only source.
func DefaultManifest() Manifest {
	return Manifest{Sources: []Source{{Type: SourceJournal}}}
}

// Normalize validates the manifest and guarantees a journal source is
// present; a manifest without one gets the journal appended, since the
// conversation must always reach the model.
func (m Manifest) Normalize() (Manifest, error) {
	hasJournal := false
	for i, src := range m.Sources {
		switch src.Type {
		case SourceFile:
			if src.Path == "" {
				return m, fmt.Errorf("context source %d: file source requires path", i)
			}
			if src.OnMissing != "" && src.OnMissing != OnMissingError && src.OnMissing != OnMissingSkip {
				return m, fmt.Errorf("context source %d: on_missing must be %q or %q", i, OnMissingError, OnMissingSkip)
			}
		case SourceComputedFile:
			if len(src.Command) == 0 || src.OutputPath == "" {
				return m, fmt.Errorf("context source %d: computed_file source requires command and output_path", i)
			}
		case SourceJournal:
			hasJournal = true
		default:
			return m, fmt.Errorf("context source %d: unknown type %q", i, src.Type)
		}
	}
	if !hasJournal {
		m.Sources = append(m.Sources, Source{Type: SourceJournal})
	}
	return m, nil
}
