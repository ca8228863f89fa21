// Package analyzer applies per-language heuristic rules to raw source text.
//
// NOTHING HERE EXECUTES USER CODE.
// The only rule that needs a real parser is the Python syntax check, and
// that goes through a SyntaxChecker the caller injects (the engine backs it
// with the python harness in compile-only mode, which never runs the code).
//
// Rule sets are independent: each language owns one function, and changing
// one never affects another. Findings keep discovery order and are not
// deduplicated. An empty list is never returned; when nothing fires the
// result is a single NoIssues finding.
package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/sakif/code-runner/internal/language"
)

// NoIssues is the affirmative finding returned when no rule fires.
const NoIssues = "✅ No major issues found!"

// Issue is one finding. Line is 0 when the finding is not tied to a line.
// Message is the full human-readable text, line prefix included.
type Issue struct {
	Line    int
	Message string
}

func (i Issue) String() string { return i.Message }

// SyntaxError is the first syntax error a parser reported.
type SyntaxError struct {
	Line int    `json:"line"`
	Msg  string `json:"msg"`
}

// SyntaxChecker parses source without running it. A nil *SyntaxError with a
// nil error means the source parsed cleanly.
type SyntaxChecker interface {
	CheckSyntax(ctx context.Context, code string) (*SyntaxError, error)
}

// SyntaxCheckFunc adapts a function to SyntaxChecker.
type SyntaxCheckFunc func(ctx context.Context, code string) (*SyntaxError, error)

func (f SyntaxCheckFunc) CheckSyntax(ctx context.Context, code string) (*SyntaxError, error) {
	return f(ctx, code)
}

type ruleSet func(ctx context.Context, a *Analyzer, code string) []Issue

// Analyzer runs the rule set of one language over a source text.
type Analyzer struct {
	python SyntaxChecker
	logger *slog.Logger
	rules  map[language.ID]ruleSet
}

// New creates an Analyzer. python may be nil, in which case the Python
// syntax check is skipped and only the textual rules run.
func New(python SyntaxChecker, logger *slog.Logger) *Analyzer {
	return &Analyzer{
		python: python,
		logger: logger,
		rules: map[language.ID]ruleSet{
			language.Python:     pythonRules,
			language.JavaScript: javascriptRules,
			language.Java:       javaRules,
			language.Cpp:        cppRules,
		},
	}
}

// Analyze returns the findings for code. The caller has already rejected
// empty sources and unsupported tags.
func (a *Analyzer) Analyze(ctx context.Context, lang language.ID, code string) []Issue {
	rules, ok := a.rules[lang]
	if !ok {
		return []Issue{{Message: "Unsupported language."}}
	}
	issues := rules(ctx, a, code)
	if len(issues) == 0 {
		issues = append(issues, Issue{Message: NoIssues})
	}
	return issues
}

// Messages flattens issues to their text.
func Messages(issues []Issue) []string {
	out := make([]string, len(issues))
	for i, is := range issues {
		out[i] = is.Message
	}
	return out
}

func splitLines(code string) []string {
	code = strings.ReplaceAll(code, "\r\n", "\n")
	code = strings.TrimSuffix(code, "\n")
	return strings.Split(code, "\n")
}

func lineIssue(line int, format string, args ...any) Issue {
	return Issue{Line: line, Message: fmt.Sprintf("Line %d: ", line) + fmt.Sprintf(format, args...)}
}

func javascriptRules(_ context.Context, _ *Analyzer, code string) []Issue {
	var issues []Issue
	for i, line := range splitLines(code) {
		n := i + 1
		stripped := strings.TrimSpace(line)
		comment := strings.HasPrefix(stripped, "//")

		if stripped != "" && !comment {
			single := strings.Count(stripped, "'") - strings.Count(stripped, `\'`)
			double := strings.Count(stripped, `"`) - strings.Count(stripped, `\"`)
			if single%2 != 0 {
				issues = append(issues, lineIssue(n, "Mismatched single quotes"))
			}
			if double%2 != 0 {
				issues = append(issues, lineIssue(n, "Mismatched double quotes"))
			}
		}
		if comment {
			continue
		}
		if strings.Contains(line, "==") && !strings.Contains(line, "===") {
			issues = append(issues, lineIssue(n, "Use === instead of == for strict equality."))
		}
		if strings.Contains(line, "var ") {
			issues = append(issues, lineIssue(n, "Consider using 'let' or 'const' instead of 'var'."))
		}
	}
	return issues
}

var (
	pyDefRe      = regexp.MustCompile(`^\s*def\s+\w+\(`)
	pyUnindented = regexp.MustCompile(`^\S`)
)

func pythonRules(ctx context.Context, a *Analyzer, code string) []Issue {
	var issues []Issue

	if a.python != nil {
		synErr, err := a.python.CheckSyntax(ctx, code)
		switch {
		case err != nil:
			a.logger.Warn("python syntax check failed", slog.String("error", err.Error()))
			issues = append(issues, Issue{Message: "Error: " + err.Error()})
		case synErr != nil:
			issues = append(issues, Issue{
				Line:    synErr.Line,
				Message: fmt.Sprintf("Syntax Error on line %d: %s", synErr.Line, synErr.Msg),
			})
		}
	}

	lines := splitLines(code)
	for i, line := range lines {
		if !pyDefRe.MatchString(line) {
			continue
		}
		j := i + 1
		for j < len(lines) && strings.TrimSpace(lines[j]) == "" {
			j++
		}
		if j < len(lines) && pyUnindented.MatchString(lines[j]) {
			issues = append(issues, Issue{
				Line:    j + 1,
				Message: fmt.Sprintf("Indentation error after function definition at line %d.", j+1),
			})
		}
	}

	if strings.Contains(code, "\t") && strings.Contains(code, "    ") {
		issues = append(issues, Issue{Message: "Mixing tabs and spaces for indentation is discouraged."})
	}
	return issues
}

var javaClassRe = regexp.MustCompile(`class\s+\w+`)

func javaRules(_ context.Context, _ *Analyzer, code string) []Issue {
	var issues []Issue
	if !javaClassRe.MatchString(code) {
		issues = append(issues, Issue{Message: "No class declaration found."})
	}
	if !strings.Contains(code, "System.out.println") {
		issues = append(issues, Issue{Message: "No print statement found (System.out.println)."})
	}
	return issues
}

func cppRules(_ context.Context, _ *Analyzer, code string) []Issue {
	var issues []Issue
	if !strings.Contains(code, "int main(") {
		issues = append(issues, Issue{Message: "No main() function found."})
	}
	if !strings.Contains(code, "#include") {
		issues = append(issues, Issue{Message: "No #include directives found."})
	}
	return issues
}
