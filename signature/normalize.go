// Package signature turns method signatures into one canonical textual layout and
// recognises signatures that were generated by proxy and enhancer frameworks.
//
// The canonical layout is
//
//	[visibility ]returnType declaringType.method(param1, param2)
//
// Non-visibility modifiers and throws clauses are dropped, generic arguments are erased,
// varargs become arrays and "$$" becomes "..". Package-private methods carry no
// visibility token.
package signature

import (
	"strings"
)

// maxPasses bounds how often rewrite rules may re-trigger each other.
const maxPasses = 8

var modifierTokens = map[string]bool{
	"public":       true,
	"protected":    true,
	"private":      true,
	"static":       true,
	"final":        true,
	"synchronized": true,
	"native":       true,
	"abstract":     true,
	"strictfp":     true,
	"default":      true,
	"transient":    true,
	"volatile":     true,
}

// Normalizer applies canonical rendering followed by an ordered list of rules.
// A Normalizer is immutable and safe for concurrent use.
type Normalizer struct {
	rules []compiledRule
}

// NewNormalizer compiles rules in the given order.
func NewNormalizer(rules []Rule) (*Normalizer, error) {
	compiled, err := compileRules(rules)
	if err != nil {
		return nil, err
	}
	return &Normalizer{rules: compiled}, nil
}

var defaultNormalizer = func() *Normalizer {
	n, err := NewNormalizer(DefaultRules())
	if err != nil {
		panic(err)
	}
	return n
}()

// Default returns the normalizer built from DefaultRules.
func Default() *Normalizer { return defaultNormalizer }

// Normalize normalizes raw with the default rules.
func Normalize(raw string) (string, bool) { return defaultNormalizer.Normalize(raw) }

// Normalize returns the canonical form of raw. It returns ok=false when raw cannot be
// parsed or an ignore rule matches. For every ok result r, Normalize(r) returns r.
func (n *Normalizer) Normalize(raw string) (string, bool) {
	cur := raw
	for range maxPasses {
		c, ok := parse(cur)
		if !ok {
			return "", false
		}
		rendered := c.render()
		next := rendered
		for _, r := range n.rules {
			switch r.Action {
			case ActionIgnore:
				if r.rx.MatchString(next) {
					return "", false
				}
			case ActionRewrite:
				next = r.rx.ReplaceAllString(next, r.Replacement)
			}
		}
		if next == rendered {
			return rendered, true
		}
		cur = next
	}
	return "", false
}

// Parse reads a signature in canonical layout, or anything Normalize accepts, into a
// descriptor. Modifiers and exception types are not part of signatures and stay empty.
func Parse(sig string) (MethodDescriptor, bool) {
	c, ok := parse(sig)
	if !ok {
		return MethodDescriptor{}, false
	}
	vis := PackagePrivate
	if c.visibility != "" {
		vis, _ = ParseVisibility(c.visibility)
	}
	return MethodDescriptor{
		DeclaringType:  c.declaringType,
		Name:           c.name,
		ParameterTypes: c.params,
		ReturnType:     c.returnType,
		Visibility:     vis,
	}, true
}

type canonical struct {
	visibility    string
	returnType    string
	declaringType string
	name          string
	params        []string
}

func (c canonical) render() string {
	var b strings.Builder
	if c.visibility != "" {
		b.WriteString(c.visibility)
		b.WriteByte(' ')
	}
	if c.returnType != "" {
		b.WriteString(c.returnType)
		b.WriteByte(' ')
	}
	b.WriteString(c.declaringType)
	b.WriteByte('.')
	b.WriteString(c.name)
	b.WriteByte('(')
	b.WriteString(strings.Join(c.params, ", "))
	b.WriteByte(')')
	return b.String()
}

func parse(raw string) (canonical, bool) {
	s := CanonicalType(strings.TrimSpace(raw))
	s, ok := eraseGenerics(s)
	if !ok || s == "" {
		return canonical{}, false
	}
	open := strings.IndexByte(s, '(')
	closing := strings.LastIndexByte(s, ')')
	if open <= 0 || closing < open {
		return canonical{}, false
	}
	if tail := strings.TrimSpace(s[closing+1:]); tail != "" && !strings.HasPrefix(tail, "throws ") {
		return canonical{}, false
	}
	inner := s[open+1 : closing]
	if strings.ContainsAny(inner, "()") {
		return canonical{}, false
	}

	head := strings.Fields(s[:open])
	if len(head) == 0 {
		return canonical{}, false
	}
	qualified := head[len(head)-1]
	dot := strings.LastIndexByte(qualified, '.')
	if dot <= 0 || dot == len(qualified)-1 {
		return canonical{}, false
	}
	c := canonical{
		declaringType: qualified[:dot],
		name:          qualified[dot+1:],
	}
	if strings.HasSuffix(c.declaringType, ".") {
		return canonical{}, false
	}

	var rest []string
	for _, tok := range head[:len(head)-1] {
		switch {
		case modifierTokens[tok]:
			if tok == "public" || tok == "protected" || tok == "private" {
				c.visibility = tok
			}
		case strings.HasPrefix(tok, "[") && len(rest) > 0:
			rest[len(rest)-1] += tok
		default:
			rest = append(rest, tok)
		}
	}
	if len(rest) > 1 {
		return canonical{}, false
	}
	if len(rest) == 1 {
		c.returnType = normalizeType(rest[0])
	}

	if strings.TrimSpace(inner) != "" {
		for _, p := range strings.Split(inner, ",") {
			t, ok := paramType(p)
			if !ok {
				return canonical{}, false
			}
			c.params = append(c.params, t)
		}
	}
	return c, true
}

// paramType keeps the type of one parameter entry, dropping "final" and a trailing
// parameter name when the entry was copied from source.
func paramType(p string) (string, bool) {
	var toks []string
	for _, tok := range strings.Fields(p) {
		switch {
		case tok == "final":
		case (strings.HasPrefix(tok, "[") || tok == "...") && len(toks) > 0:
			toks[len(toks)-1] += tok
		default:
			toks = append(toks, tok)
		}
	}
	switch len(toks) {
	case 1, 2:
		return normalizeType(toks[0]), true
	default:
		return "", false
	}
}

func normalizeType(t string) string {
	t = strings.Join(strings.Fields(t), "")
	if strings.HasSuffix(t, "...") {
		t = strings.TrimSuffix(t, "...") + "[]"
	}
	return t
}

// eraseGenerics drops every <...> section, honouring nesting.
func eraseGenerics(s string) (string, bool) {
	if !strings.ContainsAny(s, "<>") {
		return s, true
	}
	var b strings.Builder
	depth := 0
	for _, r := range s {
		switch r {
		case '<':
			depth++
		case '>':
			depth--
			if depth < 0 {
				return "", false
			}
		default:
			if depth == 0 {
				b.WriteRune(r)
			}
		}
	}
	if depth != 0 {
		return "", false
	}
	return b.String(), true
}
