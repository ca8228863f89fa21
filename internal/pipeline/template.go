package pipeline

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// Placeholders understood in command templates.
const (
	VarSource = "{src}"   // absolute source path
	VarBinary = "{bin}"   // source path without extension
	VarDir    = "{dir}"   // workspace directory
	VarClass  = "{class}" // source file name without extension
)

// Template is a shell-like command line such as "g++ -O2 {src} -o {bin}".
// It is split into argv with shlex BEFORE placeholders are substituted, so a
// workspace path containing spaces still lands in a single argument.
type Template string

// Split parses the template into tokens.
func (t Template) Split() ([]string, error) {
	if strings.TrimSpace(string(t)) == "" {
		return nil, fmt.Errorf("pipeline: command template is empty")
	}
	fields, err := shlex.Split(string(t))
	if err != nil {
		return nil, fmt.Errorf("pipeline: parsing command template %q: %w", string(t), err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("pipeline: command template %q has no fields", string(t))
	}
	return fields, nil
}

// Expand splits the template and substitutes vars into every token.
func (t Template) Expand(vars map[string]string) ([]string, error) {
	fields, err := t.Split()
	if err != nil {
		return nil, err
	}
	out := make([]string, len(fields))
	for i, f := range fields {
		for k, v := range vars {
			f = strings.ReplaceAll(f, k, v)
		}
		out[i] = f
	}
	return out, nil
}

// Tool returns the executable a template starts with, or "" when it starts
// with a placeholder (a compiled binary is not a toolchain).
func (t Template) Tool() string {
	fields, err := t.Split()
	if err != nil || strings.HasPrefix(fields[0], "{") {
		return ""
	}
	return fields[0]
}

// Prefix returns the tokens before the first {src}: the interpreter argv.
func (t Template) Prefix() ([]string, error) {
	fields, err := t.Split()
	if err != nil {
		return nil, err
	}
	for i, f := range fields {
		if strings.Contains(f, VarSource) {
			return fields[:i], nil
		}
	}
	return fields, nil
}
