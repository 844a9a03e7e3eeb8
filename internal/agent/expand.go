package agent

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/deltaengine/delta/internal/tool"
)

// rawTool is a tool entry as written in YAML. Exactly one of exec, shell,
// or command must be set; exec and shell are configuration sugars expanded
// here, before validation.
type rawTool struct {
	Name        string       `yaml:"name"`
	Description string       `yaml:"description"`
	Exec        string       `yaml:"exec"`
	Shell       string       `yaml:"shell"`
	Command     []string     `yaml:"command"`
	Parameters  []tool.Param `yaml:"parameters"`
}

var placeholderRE = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:raw)?\}`)

// expandTool converts a raw YAML tool entry to the internal form.
func expandTool(rt rawTool) (tool.Def, error) {
	forms := 0
	if rt.Exec != "" {
		forms++
	}
	if rt.Shell != "" {
		forms++
	}
	if len(rt.Command) > 0 {
		forms++
	}
	if forms != 1 {
		return tool.Def{}, fmt.Errorf("tool %q: exactly one of exec, shell, or command must be set", rt.Name)
	}

	switch {
	case rt.Exec != "":
		if len(rt.Parameters) > 0 {
			return tool.Def{}, fmt.Errorf("tool %q: exec form derives parameters from placeholders; remove the parameters block", rt.Name)
		}
		return expandExec(rt)
	case rt.Shell != "":
		if len(rt.Parameters) > 0 {
			return tool.Def{}, fmt.Errorf("tool %q: shell form derives parameters from placeholders; remove the parameters block", rt.Name)
		}
		return expandShell(rt)
	default:
		def := tool.Def{Name: rt.Name, Description: rt.Description, Command: rt.Command, Parameters: rt.Parameters}
		for i := range def.Parameters {
			if def.Parameters[i].InjectAs == "" {
				def.Parameters[i].InjectAs = tool.InjectArgument
			}
		}
		return def, nil
	}
}

// expandExec turns `exec: "cmd ${a} ${b}"` into a direct-exec definition.
// Each placeholder becomes its own argv element, so no shell quoting is
// involved. Placeholders must be standalone tokens and must follow all
// literal tokens, because parameters are appended after the argv template.
func expandExec(rt rawTool) (tool.Def, error) {
	tokens := strings.Fields(rt.Exec)
	if len(tokens) == 0 {
		return tool.Def{}, fmt.Errorf("tool %q: empty exec template", rt.Name)
	}
	def := tool.Def{Name: rt.Name, Description: rt.Description}
	seenParam := false
	for _, tok := range tokens {
		m := placeholderRE.FindStringSubmatch(tok)
		if m == nil {
			if strings.Contains(tok, "${") {
				return tool.Def{}, fmt.Errorf("tool %q: placeholder must be a standalone token, got %q", rt.Name, tok)
			}
			if seenParam {
				return tool.Def{}, fmt.Errorf("tool %q: literal %q after a placeholder; literals must precede all placeholders (use shell: for interleaving)", rt.Name, tok)
			}
			def.Command = append(def.Command, tok)
			continue
		}
		if m[0] != tok {
			return tool.Def{}, fmt.Errorf("tool %q: placeholder must be a standalone token, got %q", rt.Name, tok)
		}
		if m[2] != "" {
			return tool.Def{}, fmt.Errorf("tool %q: :raw is only valid in shell templates", rt.Name)
		}
		seenParam = true
		def.Parameters = append(def.Parameters, tool.Param{
			Name:     m[1],
			Type:     "string",
			InjectAs: tool.InjectArgument,
		})
	}
	if len(def.Command) == 0 {
		return tool.Def{}, fmt.Errorf("tool %q: exec template has no command", rt.Name)
	}
	return def, nil
}

// expandShell turns `shell: "cat ${f} | wc -l"` into a /bin/sh -c
// definition. Each distinct placeholder becomes a positional shell
// parameter: `${name}` renders as a quoted "$N" and `${name:raw}` as an
// unquoted $N. Values are passed as argv elements after "--", so they are
// never spliced into the script text.
func expandShell(rt rawTool) (tool.Def, error) {
	positions := map[string]int{}
	var params []tool.Param

	script := placeholderRE.ReplaceAllStringFunc(rt.Shell, func(tok string) string {
		m := placeholderRE.FindStringSubmatch(tok)
		name, raw := m[1], m[2] != ""
		pos, ok := positions[name]
		if !ok {
			pos = len(params) + 1
			positions[name] = pos
			params = append(params, tool.Param{
				Name:     name,
				Type:     "string",
				InjectAs: tool.InjectArgument,
			})
		}
		if raw {
			return fmt.Sprintf("$%d", pos)
		}
		return fmt.Sprintf("\"$%d\"", pos)
	})

	if strings.TrimSpace(script) == "" {
		return tool.Def{}, fmt.Errorf("tool %q: empty shell template", rt.Name)
	}
	return tool.Def{
		Name:        rt.Name,
		Description: rt.Description,
		Command:     []string{"/bin/sh", "-c", script, "--"},
		Parameters:  params,
	}, nil
}
