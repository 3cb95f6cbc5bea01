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

// ErrNoFixedPoint is returned when substitutions keep rewriting the text
// after the iteration limit, which usually means two rules undo each other.
var ErrNoFixedPoint = errors.New("transcript rules did not settle")

// Rule rewrites transcript text. Apply reports whether anything changed.
type Rule interface {
	Apply(text string) (string, bool)
}

// Parser compiles one rules-file line into a Rule.
type Parser interface {
	Accepts(line string) bool
	Parse(line string) (Rule, error)
}

// Engine tidies completed model transcripts before they are recorded,
// e.g. fixing the spelling of names the speech model tends to mangle.
type Engine struct {
	rules []Rule
	limit int
}

// Load reads a rules file. A missing file yields an engine without rules.
func Load(path string, limit int) (*Engine, error) {
	if strings.TrimSpace(path) == "" {
		return &Engine{limit: normalizeLimit(limit)}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Engine{limit: normalizeLimit(limit)}, nil
		}
		return nil, fmt.Errorf("open rules file %q: %w", path, err)
	}
	defer f.Close()

	engine, err := Parse(f, limit, DefaultParsers()...)
	if err != nil {
		return nil, fmt.Errorf("rules file %q: %w", path, err)
	}
	return engine, nil
}

// Parse compiles rules from r. Blank lines and lines starting with # are
// skipped. With no parsers given the defaults are used.
func Parse(r io.Reader, limit int, parsers ...Parser) (*Engine, error) {
	if len(parsers) == 0 {
		parsers = DefaultParsers()
	}

	engine := &Engine{limit: normalizeLimit(limit)}
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rule, err := parseLine(line, parsers)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		engine.rules = append(engine.rules, rule)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return engine, nil
}

func parseLine(line string, parsers []Parser) (Rule, error) {
	for _, parser := range parsers {
		if parser.Accepts(line) {
			return parser.Parse(line)
		}
	}
	return nil, fmt.Errorf("unrecognized rule %q", line)
}

// DefaultParsers returns the sed-style and literal parsers, in that order.
func DefaultParsers() []Parser {
	return []Parser{sedParser{}, literalParser{}}
}

func (e *Engine) Len() int {
	return len(e.rules)
}

// Apply runs every rule in order until a full pass changes nothing.
func (e *Engine) Apply(text string) (string, error) {
	if len(e.rules) == 0 {
		return text, nil
	}

	current := text
	for pass := 0; pass < e.limit; pass++ {
		changed := false
		for _, rule := range e.rules {
			if next, ok := rule.Apply(current); ok {
				current = next
				changed = true
			}
		}
		if !changed {
			return current, nil
		}
	}
	return text, fmt.Errorf("%w after %d passes", ErrNoFixedPoint, e.limit)
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultIterationLimit
	}
	return limit
}

// literalParser handles "from => to". Matching ignores case.
type literalParser struct{}

func (literalParser) Accepts(line string) bool {
	return strings.Contains(line, "=>")
}

func (literalParser) Parse(line string) (Rule, error) {
	from, to, _ := strings.Cut(line, "=>")
	from = strings.TrimSpace(from)
	if from == "" {
		return nil, errors.New("literal rule has nothing to replace")
	}
	return patternRule{
		re:          regexp.MustCompile("(?i)" + regexp.QuoteMeta(from)),
		replacement: strings.TrimSpace(to),
		all:         true,
		literal:     true,
	}, nil
}

// sedParser handles s<d>pattern<d>replacement<d>flags for any punctuation
// delimiter d. Flags: g (all matches), c (case-sensitive), m, s.
type sedParser struct{}

func (sedParser) Accepts(line string) bool {
	return len(line) > 1 && line[0] == 's' && isDelimiter(line[1])
}

func (sedParser) Parse(line string) (Rule, error) {
	delim := line[1]
	pattern, rest, err := splitField(line[2:], delim)
	if err != nil {
		return nil, fmt.Errorf("pattern: %w", err)
	}
	replacement, rest, err := splitField(rest, delim)
	if err != nil {
		return nil, fmt.Errorf("replacement: %w", err)
	}

	rule := patternRule{replacement: replacement}
	inline := "i"
	for _, flag := range strings.TrimSpace(rest) {
		switch flag {
		case 'g':
			rule.all = true
		case 'c':
			inline = strings.ReplaceAll(inline, "i", "")
		case 'i':
		case 'm', 's':
			inline += string(flag)
		default:
			return nil, fmt.Errorf("unknown flag %q", flag)
		}
	}
	if inline != "" {
		pattern = "(?" + inline + ")" + pattern
	}
	rule.re, err = regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", pattern, err)
	}
	return rule, nil
}

type patternRule struct {
	re          *regexp.Regexp
	replacement string
	all         bool
	literal     bool
}

func (r patternRule) Apply(text string) (string, bool) {
	var out string
	switch {
	case r.literal:
		out = r.re.ReplaceAllLiteralString(text, r.replacement)
	case r.all:
		out = r.re.ReplaceAllString(text, r.replacement)
	default:
		loc := r.re.FindStringSubmatchIndex(text)
		if loc == nil {
			return text, false
		}
		expanded := r.re.ExpandString(nil, r.replacement, text, loc)
		out = text[:loc[0]] + string(expanded) + text[loc[1]:]
	}
	return out, out != text
}

// splitField reads up to the next unescaped delim. Escapes are kept so the
// regexp compiler sees them.
func splitField(s string, delim byte) (field string, rest string, err error) {
	escaped := false
	for i := 0; i < len(s); i++ {
		switch {
		case escaped:
			escaped = false
		case s[i] == '\\':
			escaped = true
		case s[i] == delim:
			return s[:i], s[i+1:], nil
		}
	}
	return "", "", errors.New("missing closing delimiter")
}

func isDelimiter(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return false
	case c == ' ' || c == '\t' || c == '\\':
		return false
	}
	return c < 0x80
}
