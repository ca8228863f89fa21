// Package language defines the closed set of languages the runner accepts.
//
// WHY A TAGGED TYPE INSTEAD OF STRINGS?
// Request bodies carry a free-form "language" string. Parsing it once into an
// ID at the edge means every later switch is over a fixed set of constants, and
// "unsupported language" is decided in exactly one place (Parse) instead of
// being re-checked in every mode.
package language

import (
	"fmt"
	"strings"

	"github.com/sakif/code-runner/internal/apperror"
)

// ID identifies one supported language. The zero value is not a valid language.
type ID int

const (
	Python ID = iota + 1
	JavaScript
	Java
	Cpp
)

// All lists every supported language in a stable order.
var All = []ID{Python, JavaScript, Java, Cpp}

// Parse converts a request tag into an ID. Tags are matched exactly;
// any other value yields apperror.ErrUnsupportedLanguage.
func Parse(tag string) (ID, error) {
	switch tag {
	case "python":
		return Python, nil
	case "javascript":
		return JavaScript, nil
	case "java":
		return Java, nil
	case "cpp":
		return Cpp, nil
	default:
		return 0, apperror.UnsupportedLanguage(tag)
	}
}

// String returns the wire tag for the language.
func (id ID) String() string {
	switch id {
	case Python:
		return "python"
	case JavaScript:
		return "javascript"
	case Java:
		return "java"
	case Cpp:
		return "cpp"
	default:
		return fmt.Sprintf("language(%d)", int(id))
	}
}

// Extension returns the source file extension, including the dot.
func (id ID) Extension() string {
	switch id {
	case Python:
		return ".py"
	case JavaScript:
		return ".js"
	case Java:
		return ".java"
	case Cpp:
		return ".cpp"
	default:
		return ".txt"
	}
}

// Compiled reports whether the language has a compile step before running.
func (id ID) Compiled() bool {
	return id == Java || id == Cpp
}

// Valid reports whether id is one of the supported languages.
func (id ID) Valid() bool {
	return id >= Python && id <= Cpp
}

// MarshalText lets an ID appear as its tag in JSON and TOML.
func (id ID) MarshalText() ([]byte, error) {
	if !id.Valid() {
		return nil, apperror.UnsupportedLanguage(id.String())
	}
	return []byte(id.String()), nil
}

// UnmarshalText parses a tag, tolerating surrounding whitespace and case.
func (id *ID) UnmarshalText(b []byte) error {
	parsed, err := Parse(strings.ToLower(strings.TrimSpace(string(b))))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
