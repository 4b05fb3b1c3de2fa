package rules

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

const defaultIterationLimit = 30

// rule rewrites text and reports whether anything changed.
type rule interface {
	rewrite(text string) (string, bool)
}

// Syntax recognizes and compiles one style of rule line.
type Syntax struct {
	Name    string
	Matches func(line string) bool
	Compile func(line string) (rule, error)
}

// Engine applies substitution rules to transcripts until they stop changing.
//
// Rules files hold one rule per line. Blank lines and lines starting with #
// are ignored. Two forms are understood:
//
//	teh => the              case-insensitive literal replacement
//	s/\bgit hub\b/GitHub/g  sed-style regex, flags i g m s
type Engine struct {
	rules []rule
	limit int
}

// Identity returns an engine that leaves text untouched.
func Identity() *Engine {
	return &Engine{limit: defaultIterationLimit}
}

// Load reads rules from path. A blank path or missing file yields the
// identity engine.
func Load(path string, limit int) (*Engine, error) {
	if strings.TrimSpace(path) == "" {
		return withLimit(Identity(), limit), nil
	}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return withLimit(Identity(), limit), nil
		}
		return nil, fmt.Errorf("failed to read rules file %q: %w", path, err)
	}
	defer file.Close()

	engine, err := Parse(file, limit, DefaultSyntaxes()...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rules file %q: %w", path, err)
	}
	return engine, nil
}

// Parse compiles rules from r using syntaxes in order of preference.
func Parse(r io.Reader, limit int, syntaxes ...Syntax) (*Engine, error) {
	if len(syntaxes) == 0 {
		syntaxes = DefaultSyntaxes()
	}

	engine := withLimit(Identity(), limit)
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		compiled, err := compileLine(line, syntaxes)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		engine.rules = append(engine.rules, compiled)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return engine, nil
}

// DefaultSyntaxes lists the built-in rule forms.
func DefaultSyntaxes() []Syntax {
	return []Syntax{
		{Name: "regex", Matches: isRegexLine, Compile: compileRegex},
		{Name: "literal", Matches: isLiteralLine, Compile: compileLiteral},
	}
}

// Len reports how many rules are loaded.
func (e *Engine) Len() int {
	return len(e.rules)
}

// Apply runs every rule in order, repeating the pass until the text is stable
// or the iteration limit is reached.
func (e *Engine) Apply(text string) (string, error) {
	for pass := 0; pass < e.limit && len(e.rules) > 0; pass++ {
		dirty := false
		for _, r := range e.rules {
			if next, changed := r.rewrite(text); changed {
				text = next
				dirty = true
			}
		}
		if !dirty {
			break
		}
	}
	return text, nil
}

func withLimit(engine *Engine, limit int) *Engine {
	if limit > 0 {
		engine.limit = limit
	}
	return engine
}

func compileLine(line string, syntaxes []Syntax) (rule, error) {
	for _, syntax := range syntaxes {
		if syntax.Matches(line) {
			return syntax.Compile(line)
		}
	}
	return nil, errors.New("unsupported rule format")
}

type literal struct {
	pattern     *regexp.Regexp
	replacement string
}

func isLiteralLine(line string) bool {
	return strings.Contains(line, "=>")
}

func compileLiteral(line string) (rule, error) {
	from, to, _ := strings.Cut(line, "=>")
	from = strings.TrimSpace(from)
	if from == "" {
		return nil, errors.New("literal rule source cannot be empty")
	}
	pattern, err := regexp.Compile("(?i)" + regexp.QuoteMeta(from))
	if err != nil {
		return nil, fmt.Errorf("invalid literal source: %w", err)
	}
	return literal{pattern: pattern, replacement: strings.TrimSpace(to)}, nil
}

func (l literal) rewrite(text string) (string, bool) {
	out := l.pattern.ReplaceAllLiteralString(text, l.replacement)
	return out, out != text
}

type substitution struct {
	pattern     *regexp.Regexp
	replacement string
	global      bool
}

func isRegexLine(line string) bool {
	return len(line) > 1 && line[0] == 's' && isDelimiter(line[1])
}

func compileRegex(line string) (rule, error) {
	delim := line[1]
	if !isDelimiter(delim) {
		return nil, errors.New("regex delimiter must be non-alphanumeric")
	}

	pattern, rest, err := splitDelimited(line[2:], delim)
	if err != nil {
		return nil, fmt.Errorf("invalid regex pattern: %w", err)
	}
	replacement, rest, err := splitDelimited(rest, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid regex replacement: %w", err)
	}

	// Matching is case-insensitive unless the pattern itself says otherwise.
	inline := "i"
	global := false
	for _, flag := range strings.TrimSpace(rest) {
		switch flag {
		case 'g':
			global = true
		case 'i':
		case 'm', 's':
			inline += string(flag)
		case ' ':
		default:
			return nil, fmt.Errorf("unsupported regex flag %q", flag)
		}
	}

	compiled, err := regexp.Compile("(?" + inline + ")" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}
	return substitution{pattern: compiled, replacement: replacement, global: global}, nil
}

func (s substitution) rewrite(text string) (string, bool) {
	if s.global {
		out := s.pattern.ReplaceAllString(text, s.replacement)
		return out, out != text
	}

	match := s.pattern.FindStringSubmatchIndex(text)
	if match == nil {
		return text, false
	}
	expanded := s.pattern.ExpandString(nil, s.replacement, text, match)
	out := text[:match[0]] + string(expanded) + text[match[1]:]
	return out, out != text
}

// splitDelimited reads up to the first unescaped delim. Escapes are kept so
// the regexp package sees them.
func splitDelimited(input string, delim byte) (string, string, error) {
	if input == "" {
		return "", "", errors.New("unexpected end of expression")
	}
	var b strings.Builder
	for i := 0; i < len(input); i++ {
		c := input[i]
		switch {
		case c == '\\' && i+1 < len(input):
			b.WriteByte(c)
			b.WriteByte(input[i+1])
			i++
		case c == delim:
			return b.String(), input[i+1:], nil
		default:
			b.WriteByte(c)
		}
	}
	return "", "", errors.New("unterminated expression")
}

func isDelimiter(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return false
	case c == ' ' || c == '\t' || c == '\\':
		return false
	}
	return true
}
