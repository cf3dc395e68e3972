package signature

import (
	"fmt"
	"strings"
)

// Visibility is the access level of a declared method. Values are ordered so that a
// higher value is more visible, which makes threshold checks a plain comparison.
type Visibility int

const (
	Private Visibility = iota
	PackagePrivate
	Protected
	Public
)

var visibilityNames = map[Visibility]string{
	Private:        "private",
	PackagePrivate: "package-private",
	Protected:      "protected",
	Public:         "public",
}

func (v Visibility) String() string {
	if s, ok := visibilityNames[v]; ok {
		return s
	}
	return fmt.Sprintf("Visibility(%d)", int(v))
}

// token is the rendering of v inside a canonical signature. Package-private has none.
func (v Visibility) token() string {
	switch v {
	case Public, Protected, Private:
		return v.String()
	default:
		return ""
	}
}

// ParseVisibility accepts the names produced by Visibility.String.
func ParseVisibility(s string) (Visibility, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "public":
		return Public, nil
	case "protected":
		return Protected, nil
	case "package-private", "package", "default":
		return PackagePrivate, nil
	case "private":
		return Private, nil
	}
	return 0, fmt.Errorf("unknown method visibility %q", s)
}

// Modifier is a set of method flags carried alongside a descriptor. Modifiers do not
// take part in the canonical signature.
type Modifier uint8

const (
	Synthetic Modifier = 1 << iota
	Bridge
	Static
	Abstract
)

// Has reports whether all flags in f are set.
func (m Modifier) Has(f Modifier) bool { return m&f == f }

// MethodDescriptor describes one declared method. Descriptors are values; the slices
// they carry are shared and must not be modified after construction.
type MethodDescriptor struct {
	DeclaringType  string   // fully qualified, e.g. "pkg.Foo" or "pkg.Foo$Inner"
	Name           string   // method name sans type qualifier
	ParameterTypes []string // fully qualified parameter types in declaration order
	ReturnType     string
	Visibility     Visibility
	Modifiers      Modifier
	ExceptionTypes []string
}

// Package returns the package of the declaring type, empty for the default package.
func (d MethodDescriptor) Package() string {
	return PackageOf(d.DeclaringType)
}

// Signature renders the descriptor in canonical layout. The result is not passed
// through the synthetic rules; use Normalize for that.
func (d MethodDescriptor) Signature() string {
	params := make([]string, len(d.ParameterTypes))
	for i, p := range d.ParameterTypes {
		params[i] = normalizeType(p)
	}
	return canonical{
		visibility:    d.Visibility.token(),
		returnType:    normalizeType(d.ReturnType),
		declaringType: d.DeclaringType,
		name:          d.Name,
		params:        params,
	}.render()
}

// SameShape reports whether both descriptors declare a method with the same name and
// parameter types, ignoring the declaring type.
func (d MethodDescriptor) SameShape(o MethodDescriptor) bool {
	if d.Name != o.Name || len(d.ParameterTypes) != len(o.ParameterTypes) {
		return false
	}
	for i := range d.ParameterTypes {
		if normalizeType(d.ParameterTypes[i]) != normalizeType(o.ParameterTypes[i]) {
			return false
		}
	}
	return true
}

// CanonicalType spells a binary type name the way signatures render it, with "$$"
// as "..". Type-keyed lookups must use it so generated class names match.
func CanonicalType(name string) string {
	return strings.ReplaceAll(name, "$$", "..")
}

// PackageOf returns everything before the last dot of a qualified type name.
func PackageOf(typeName string) string {
	if i := strings.LastIndexByte(typeName, '.'); i > 0 {
		return typeName[:i]
	}
	return ""
}

// InPackage reports whether typeName lives in pkg or one of its sub-packages.
// An empty pkg matches everything.
func InPackage(typeName, pkg string) bool {
	pkg = strings.TrimSuffix(pkg, ".")
	if pkg == "" {
		return true
	}
	p := PackageOf(typeName)
	return p == pkg || strings.HasPrefix(p, pkg+".")
}
