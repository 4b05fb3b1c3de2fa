package rules

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEngineLiteralAndRegexRules(t *testing.T) {
	t.Parallel()

	engine := loadRules(t, `
# literal
pull request => PR
# regex, case-insensitive by default
s/\bwhisper\s*api\b/Whisper API/g
`, 30)

	output, err := engine.Apply("whisper  api pull request")
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if output != "Whisper API PR" {
		t.Fatalf("unexpected output: %q", output)
	}
	if engine.Len() != 2 {
		t.Fatalf("expected 2 rules, got %d", engine.Len())
	}
}

func TestEngineIteratesUntilStable(t *testing.T) {
	t.Parallel()

	engine := loadRules(t, "a => b\nb => c\n", 5)
	output, _ := engine.Apply("a")
	if output != "c" {
		t.Fatalf("expected c, got %q", output)
	}
}

func TestEngineStopsAtIterationLimit(t *testing.T) {
	t.Parallel()

	engine := loadRules(t, "x => xx\n", 3)
	output, _ := engine.Apply("x")
	if output != "xxxxxxxx" {
		t.Fatalf("expected three doubling passes, got %q", output)
	}
}

func TestEngineLiteralRuleStartingWithS(t *testing.T) {
	t.Parallel()

	engine := loadRules(t, "solid complaint => SOLID-compliant\n", 30)
	output, _ := engine.Apply("solid complaint plan")
	if output != "SOLID-compliant plan" {
		t.Fatalf("unexpected output: %q", output)
	}
}

func TestEngineLiteralReplacementIsNotExpanded(t *testing.T) {
	t.Parallel()

	engine := loadRules(t, "dollar sign => $1\n", 30)
	output, _ := engine.Apply("a dollar sign")
	if output != "a $1" {
		t.Fatalf("unexpected output: %q", output)
	}
}

func TestRegexWithoutGlobalReplacesFirstMatchOnly(t *testing.T) {
	t.Parallel()

	compiled, err := compileRegex(`s/(f)oo/${1}ee/`)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	output, changed := compiled.rewrite("foo foo")
	if !changed || output != "fee foo" {
		t.Fatalf("unexpected output: %q changed=%v", output, changed)
	}
}

func TestRegexCustomDelimiterAndEscapes(t *testing.T) {
	t.Parallel()

	compiled, err := compileRegex(`s|a\|b|pipe|g`)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	output, _ := compiled.rewrite("a|b and A|B")
	if output != "pipe and pipe" {
		t.Fatalf("unexpected output: %q", output)
	}
}

func TestCompileRegexUnsupportedFlag(t *testing.T) {
	t.Parallel()

	if _, err := compileRegex(`s/foo/bar/x`); err == nil {
		t.Fatalf("expected unsupported flag error")
	}
	if _, err := compileRegex(`s/foo/bar`); err == nil {
		t.Fatalf("expected unterminated expression error")
	}
}

func TestParseReportsLineNumber(t *testing.T) {
	t.Parallel()

	_, err := Parse(strings.NewReader("# comment\n\nnot-a-rule\n"), 0)
	if err == nil || !strings.Contains(err.Error(), "line 3") {
		t.Fatalf("expected line 3 error, got %v", err)
	}
}

func TestParseWithCustomSyntax(t *testing.T) {
	t.Parallel()

	upper := Syntax{
		Name:    "upper",
		Matches: func(line string) bool { return strings.HasPrefix(line, "upper:") },
		Compile: func(line string) (rule, error) {
			return compileLiteral(strings.TrimPrefix(line, "upper:") + " => " + strings.ToUpper(strings.TrimPrefix(line, "upper:")))
		},
	}
	engine, err := Parse(strings.NewReader("upper:api\n"), 5, append([]Syntax{upper}, DefaultSyntaxes()...)...)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	output, _ := engine.Apply("rest api")
	if output != "rest API" {
		t.Fatalf("unexpected output: %q", output)
	}
}

func TestLoadMissingFileIsIdentity(t *testing.T) {
	t.Parallel()

	for _, path := range []string{"", filepath.Join(t.TempDir(), "missing.rules")} {
		engine, err := Load(path, 0)
		if err != nil {
			t.Fatalf("load %q failed: %v", path, err)
		}
		output, _ := engine.Apply("  untouched text ")
		if output != "  untouched text " || engine.Len() != 0 {
			t.Fatalf("expected identity engine, got %q", output)
		}
	}
}

func TestLoadUnreadablePathFails(t *testing.T) {
	t.Parallel()

	_, err := Load(t.TempDir(), 0)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected a read or parse error for a directory, got %v", err)
	}
}

func loadRules(t *testing.T, contents string, limit int) *Engine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "substitutions.rules")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("failed to write rules file: %v", err)
	}
	engine, err := Load(path, limit)
	if err != nil {
		t.Fatalf("failed to load rules: %v", err)
	}
	return engine
}
