package pipeline

import (
	"regexp"
	"strings"
)

var (
	classDeclRe  = regexp.MustCompile(`\bclass\s+([A-Za-z_$][A-Za-z0-9_$]*)`)
	publicRe     = regexp.MustCompile(`\bpublic\b`)
	mainMethodRe = regexp.MustCompile(`\bstatic\s+(?:final\s+)?void\s+main\s*\(`)
)

// JavaClassName picks the class the source file must be named after, among
// top-level classes only: the public one, else the one declaring
// static void main, else the first. "Main" when there is none.
// Comments and literals are ignored.
func JavaClassName(code string) string {
	classes := topLevelClasses(stripJava(code))
	if len(classes) == 0 {
		return "Main"
	}
	for _, c := range classes {
		if c.public {
			return c.name
		}
	}
	for _, c := range classes {
		if c.hasMain {
			return c.name
		}
	}
	return classes[0].name
}

type javaClass struct {
	name    string
	public  bool
	hasMain bool
}

// topLevelClasses finds class declarations at brace depth 0 in stripped source.
func topLevelClasses(src string) []javaClass {
	depth := make([]int, len(src)+1)
	d := 0
	for i := 0; i < len(src); i++ {
		depth[i] = d
		switch src[i] {
		case '{':
			d++
		case '}':
			if d > 0 {
				d--
			}
		}
	}
	depth[len(src)] = d

	var out []javaClass
	for _, m := range classDeclRe.FindAllStringSubmatchIndex(src, -1) {
		start := m[0]
		if depth[start] != 0 || (start > 0 && src[start-1] == '.') {
			continue
		}

		// Modifiers sit between the previous statement boundary and "class".
		head := strings.LastIndexAny(src[:start], ";{}")
		c := javaClass{
			name:   src[m[2]:m[3]],
			public: publicRe.MatchString(src[head+1 : start]),
		}

		if open := strings.IndexByte(src[m[1]:], '{'); open >= 0 {
			bodyStart := m[1] + open
			bodyEnd := len(src)
			for j := bodyStart + 1; j < len(src); j++ {
				if src[j] == '}' && depth[j] == 1 {
					bodyEnd = j
					break
				}
			}
			c.hasMain = mainMethodRe.MatchString(src[bodyStart:bodyEnd])
		}
		out = append(out, c)
	}
	return out
}

// stripJava blanks out comments and string, char and text-block literals,
// keeping newlines and byte offsets.
func stripJava(code string) string {
	b := []byte(code)
	blank := func(from, to int) {
		for k := from; k < to && k < len(b); k++ {
			if b[k] != '\n' {
				b[k] = ' '
			}
		}
	}

	for i := 0; i < len(b); {
		switch {
		case strings.HasPrefix(code[i:], "//"):
			end := strings.IndexByte(code[i:], '\n')
			if end < 0 {
				end = len(code) - i
			}
			blank(i, i+end)
			i += end
		case strings.HasPrefix(code[i:], "/*"):
			end := strings.Index(code[i+2:], "*/")
			stop := len(code)
			if end >= 0 {
				stop = i + 2 + end + 2
			}
			blank(i, stop)
			i = stop
		case strings.HasPrefix(code[i:], `"""`):
			end := strings.Index(code[i+3:], `"""`)
			stop := len(code)
			if end >= 0 {
				stop = i + 3 + end + 3
			}
			blank(i, stop)
			i = stop
		case code[i] == '"' || code[i] == '\'':
			quote := code[i]
			j := i + 1
			for j < len(code) && code[j] != quote && code[j] != '\n' {
				if code[j] == '\\' {
					j++
				}
				j++
			}
			stop := min(j+1, len(code))
			blank(i, stop)
			i = stop
		default:
			i++
		}
	}
	return string(b)
}
