package javasrc

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/arxeiss/deadcalls/inventory"
	"github.com/arxeiss/deadcalls/signature"
)

const objectType = "java.lang.Object"

// javaLang lists the java.lang types a source may use without import.
var javaLang = map[string]bool{
	"Object": true, "String": true, "Integer": true, "Long": true, "Short": true, "Byte": true,
	"Character": true, "Boolean": true, "Double": true, "Float": true, "Number": true, "Void": true,
	"Class": true, "Enum": true, "Record": true, "Iterable": true, "Comparable": true,
	"CharSequence": true, "Runnable": true, "Thread": true, "Throwable": true, "Exception": true,
	"RuntimeException": true, "Error": true, "StringBuilder": true, "Math": true, "System": true,
	"IllegalArgumentException": true, "IllegalStateException": true, "Cloneable": true,
	"AutoCloseable": true, "Override": true, "Deprecated": true,
}

type (
	file struct {
		src       []byte
		tree      *sitter.Tree
		pkg       string
		imports   map[string]string // simple name to qualified name
		wildcards []string
		local     map[string]string // simple name to binary name of types declared here
		types     []*typeDecl
	}

	typeDecl struct {
		node   *sitter.Node
		kind   string
		name   string // binary name, e.g. "com.acme.Outer$Inner"
		simple string
		outer  *typeDecl
	}

	// scope resolves simple names inside one declaration.
	scope struct {
		f       *file
		known   map[string]map[string]string
		erasure map[string]string // type variables in scope
	}
)

func (f *file) content(n *sitter.Node) string { return n.Content(f.src) }

func (f *file) read(root *sitter.Node) {
	for i := range int(root.NamedChildCount()) {
		n := root.NamedChild(i)
		switch n.Type() {
		case "package_declaration":
			if name := firstNamed(n, "scoped_identifier", "identifier"); name != nil {
				f.pkg = f.content(name)
			}
		case "import_declaration":
			f.readImport(n)
		case "class_declaration", "interface_declaration", "enum_declaration", "record_declaration":
			f.declare(n, nil)
		}
	}
}

func (f *file) readImport(n *sitter.Node) {
	var (
		name     string
		wildcard bool
	)
	for i := range int(n.ChildCount()) {
		c := n.Child(i)
		switch c.Type() {
		case "static":
			return
		case "scoped_identifier", "identifier":
			name = f.content(c)
		case "asterisk":
			wildcard = true
		}
	}
	switch {
	case name == "":
	case wildcard:
		f.wildcards = append(f.wildcards, name)
	default:
		f.imports[name[strings.LastIndexByte(name, '.')+1:]] = name
	}
}

func (f *file) declare(n *sitter.Node, outer *typeDecl) {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	d := &typeDecl{node: n, kind: n.Type(), simple: f.content(nameNode), outer: outer}
	switch {
	case outer != nil:
		d.name = outer.name + "$" + d.simple
	case f.pkg != "":
		d.name = f.pkg + "." + d.simple
	default:
		d.name = d.simple
	}
	if _, ok := f.local[d.simple]; !ok {
		f.local[d.simple] = d.name
	}
	f.types = append(f.types, d)

	for _, m := range members(n) {
		switch m.Type() {
		case "class_declaration", "interface_declaration", "enum_declaration", "record_declaration":
			f.declare(m, d)
		}
	}
}

// members returns the declarations in the body of a type declaration.
func members(n *sitter.Node) []*sitter.Node {
	body := n.ChildByFieldName("body")
	if body == nil {
		return nil
	}
	var out []*sitter.Node
	for i := range int(body.NamedChildCount()) {
		c := body.NamedChild(i)
		if c.Type() == "enum_body_declarations" {
			for j := range int(c.NamedChildCount()) {
				out = append(out, c.NamedChild(j))
			}
			continue
		}
		out = append(out, c)
	}
	return out
}

func (f *file) unit(d *typeDecl, known map[string]map[string]string) inventory.TypeUnit {
	sc := &scope{f: f, known: known, erasure: make(map[string]string)}
	// type variables of enclosing types stay visible to inner classes
	var chain []*typeDecl
	for t := d; t != nil; t = t.outer {
		chain = append(chain, t)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		sc.bind(chain[i].node.ChildByFieldName("type_parameters"))
	}

	u := inventory.TypeUnit{Name: d.name}
	switch d.kind {
	case "class_declaration":
		u.Superclass = objectType
		if sup := d.node.ChildByFieldName("superclass"); sup != nil && sup.NamedChildCount() > 0 {
			u.Superclass = sc.resolve(sup.NamedChild(0))
		}
	case "enum_declaration":
		u.Superclass = "java.lang.Enum"
	case "record_declaration":
		u.Superclass = "java.lang.Record"
	}

	for _, m := range members(d.node) {
		if m.Type() == "method_declaration" && m.ChildByFieldName("name") != nil {
			u.Methods = append(u.Methods, sc.method(d, m))
		}
	}
	return u
}

func (sc *scope) method(d *typeDecl, m *sitter.Node) signature.MethodDescriptor {
	local := &scope{f: sc.f, known: sc.known, erasure: make(map[string]string, len(sc.erasure))}
	for k, v := range sc.erasure {
		local.erasure[k] = v
	}
	local.bind(m.ChildByFieldName("type_parameters"))

	desc := signature.MethodDescriptor{
		DeclaringType: d.name,
		Name:          sc.f.content(m.ChildByFieldName("name")),
		Visibility:    signature.PackagePrivate,
	}
	if d.kind == "interface_declaration" {
		desc.Visibility = signature.Public
		if m.ChildByFieldName("body") == nil {
			desc.Modifiers |= signature.Abstract
		}
	}
	if mods := firstNamed(m, "modifiers"); mods != nil {
		for i := range int(mods.ChildCount()) {
			switch mods.Child(i).Type() {
			case "public":
				desc.Visibility = signature.Public
			case "protected":
				desc.Visibility = signature.Protected
			case "private":
				desc.Visibility = signature.Private
			case "static":
				desc.Modifiers |= signature.Static
			case "abstract":
				desc.Modifiers |= signature.Abstract
			}
		}
	}
	if t := m.ChildByFieldName("type"); t != nil {
		desc.ReturnType = local.resolve(t) + dims(sc.f, m.ChildByFieldName("dimensions"))
	}

	if params := m.ChildByFieldName("parameters"); params != nil {
		for i := range int(params.NamedChildCount()) {
			p := params.NamedChild(i)
			switch p.Type() {
			case "formal_parameter":
				t := local.resolve(p.ChildByFieldName("type")) + dims(sc.f, p.ChildByFieldName("dimensions"))
				desc.ParameterTypes = append(desc.ParameterTypes, t)
			case "spread_parameter":
				for j := range int(p.NamedChildCount()) {
					c := p.NamedChild(j)
					if c.Type() != "modifiers" && c.Type() != "variable_declarator" {
						desc.ParameterTypes = append(desc.ParameterTypes, local.resolve(c)+"[]")
						break
					}
				}
			}
		}
	}

	if throws := firstNamed(m, "throws"); throws != nil {
		for i := range int(throws.NamedChildCount()) {
			desc.ExceptionTypes = append(desc.ExceptionTypes, local.resolve(throws.NamedChild(i)))
		}
	}
	return desc
}

// bind adds the erasure of each declared type variable, in declaration order.
func (sc *scope) bind(params *sitter.Node) {
	if params == nil {
		return
	}
	for i := range int(params.NamedChildCount()) {
		p := params.NamedChild(i)
		if p.Type() != "type_parameter" {
			continue
		}
		name := firstNamed(p, "type_identifier", "identifier")
		if name == nil {
			continue
		}
		erased := objectType
		if bound := firstNamed(p, "type_bound"); bound != nil && bound.NamedChildCount() > 0 {
			erased = sc.resolve(bound.NamedChild(0))
		}
		sc.erasure[sc.f.content(name)] = erased
	}
}

func (sc *scope) resolve(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	switch n.Type() {
	case "void_type", "integral_type", "floating_point_type", "boolean_type":
		return sc.f.content(n)
	case "type_identifier":
		return sc.name(sc.f.content(n))
	case "scoped_type_identifier":
		return sc.dotted(stripGenerics(sc.f.content(n)))
	case "generic_type":
		if n.NamedChildCount() > 0 {
			return sc.resolve(n.NamedChild(0))
		}
	case "array_type":
		return sc.resolve(n.ChildByFieldName("element")) + dims(sc.f, n.ChildByFieldName("dimensions"))
	case "annotated_type":
		if c := n.NamedChildCount(); c > 0 {
			return sc.resolve(n.NamedChild(int(c) - 1))
		}
	}
	return strings.Join(strings.Fields(sc.f.content(n)), "")
}

func (sc *scope) name(simple string) string {
	if t, ok := sc.erasure[simple]; ok {
		return t
	}
	if t, ok := sc.f.local[simple]; ok {
		return t
	}
	if t, ok := sc.f.imports[simple]; ok {
		return t
	}
	if t, ok := sc.known[sc.f.pkg][simple]; ok {
		return t
	}
	for _, w := range sc.f.wildcards {
		if t, ok := sc.known[w][simple]; ok {
			return t
		}
	}
	if javaLang[simple] {
		return "java.lang." + simple
	}
	if sc.f.pkg == "" {
		return simple
	}
	return sc.f.pkg + "." + simple
}

// dotted resolves "Map.Entry" through its first segment and keeps names starting with a
// package as written, nested types joined with "$".
func (sc *scope) dotted(name string) string {
	parts := strings.Split(name, ".")
	first := 0
	for first < len(parts) && !startsUpper(parts[first]) {
		first++
	}
	if first == len(parts) {
		return name
	}
	var head string
	if first == 0 {
		head = sc.name(parts[0])
	} else {
		head = strings.Join(parts[:first+1], ".")
	}
	if rest := parts[first+1:]; len(rest) > 0 {
		return head + "$" + strings.Join(rest, "$")
	}
	return head
}

func dims(f *file, n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return strings.Repeat("[]", strings.Count(f.content(n), "["))
}

func firstNamed(n *sitter.Node, types ...string) *sitter.Node {
	for i := range int(n.NamedChildCount()) {
		c := n.NamedChild(i)
		for _, t := range types {
			if c.Type() == t {
				return c
			}
		}
	}
	return nil
}

func stripGenerics(s string) string {
	var b strings.Builder
	depth := 0
	for _, r := range s {
		switch {
		case r == '<':
			depth++
		case r == '>':
			depth--
		case depth == 0 && r != ' ' && r != '\t' && r != '\n':
			b.WriteRune(r)
		}
	}
	return b.String()
}

func startsUpper(s string) bool {
	return s != "" && s[0] >= 'A' && s[0] <= 'Z'
}
