package classfile

import (
	"fmt"
	"strings"
)

var baseTypes = map[byte]string{
	'B': "byte",
	'C': "char",
	'D': "double",
	'F': "float",
	'I': "int",
	'J': "long",
	'S': "short",
	'Z': "boolean",
	'V': "void",
}

// MethodTypes splits a method descriptor such as "(ILjava/lang/String;[J)V" into Java
// parameter types and the return type.
func MethodTypes(desc string) ([]string, string, error) {
	if !strings.HasPrefix(desc, "(") {
		return nil, "", fmt.Errorf("invalid method descriptor %q", desc)
	}
	rest := desc[1:]
	var params []string
	for !strings.HasPrefix(rest, ")") {
		if rest == "" {
			return nil, "", fmt.Errorf("invalid method descriptor %q", desc)
		}
		t, tail, err := fieldType(rest)
		if err != nil || t == "void" {
			return nil, "", fmt.Errorf("invalid method descriptor %q", desc)
		}
		params = append(params, t)
		rest = tail
	}
	ret, tail, err := fieldType(rest[1:])
	if err != nil || tail != "" {
		return nil, "", fmt.Errorf("invalid method descriptor %q", desc)
	}
	return params, ret, nil
}

// fieldType decodes the leading field descriptor of desc and returns the remainder.
func fieldType(desc string) (string, string, error) {
	dims := 0
	for dims < len(desc) && desc[dims] == '[' {
		dims++
	}
	if dims == len(desc) {
		return "", "", fmt.Errorf("invalid field descriptor %q", desc)
	}
	var (
		t    string
		rest string
	)
	switch c := desc[dims]; c {
	case 'L':
		end := strings.IndexByte(desc[dims:], ';')
		if end < 2 {
			return "", "", fmt.Errorf("invalid field descriptor %q", desc)
		}
		t = strings.ReplaceAll(desc[dims+1:dims+end], "/", ".")
		rest = desc[dims+end+1:]
	default:
		base, ok := baseTypes[c]
		if !ok || (c == 'V' && dims > 0) {
			return "", "", fmt.Errorf("invalid field descriptor %q", desc)
		}
		t = base
		rest = desc[dims+1:]
	}
	return t + strings.Repeat("[]", dims), rest, nil
}
