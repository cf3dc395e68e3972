// Package classfile reads JVM class files into inventory type units. It understands the
// constant pool, access flags, super class, method descriptors and the Exceptions
// attribute. Everything else in a class file is skipped.
package classfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

const magic = 0xCAFEBABE

// Access flags shared by classes and methods.
const (
	AccPublic    = 0x0001
	AccPrivate   = 0x0002
	AccProtected = 0x0004
	AccStatic    = 0x0008
	AccBridge    = 0x0040
	AccInterface = 0x0200
	AccAbstract  = 0x0400
	AccSynthetic = 0x1000
	AccModule    = 0x8000
)

// Constant pool tags.
const (
	tagUtf8               = 1
	tagInteger            = 3
	tagFloat              = 4
	tagLong               = 5
	tagDouble             = 6
	tagClass              = 7
	tagString             = 8
	tagFieldref           = 9
	tagMethodref          = 10
	tagInterfaceMethodref = 11
	tagNameAndType        = 12
	tagMethodHandle       = 15
	tagMethodType         = 16
	tagDynamic            = 17
	tagInvokeDynamic      = 18
	tagModule             = 19
	tagPackage            = 20
)

var errTruncated = errors.New("truncated class file")

type (
	// Class is the part of a class file the inventory needs. Type names are dotted binary
	// names, e.g. "com.acme.Outer$Inner".
	Class struct {
		Name        string
		Superclass  string // empty for java.lang.Object and modules
		Interfaces  []string
		AccessFlags uint16
		Methods     []Method
		Major       uint16
	}

	// Method is one method_info entry.
	Method struct {
		Name        string
		Descriptor  string
		AccessFlags uint16
		Exceptions  []string
	}

	cpEntry struct {
		tag  byte
		utf8 string
		ref  uint16
	}

	reader struct {
		data []byte
		off  int
		err  error
	}
)

// Read parses a class file from r.
func Read(r io.Reader) (*Class, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read class file: %w", err)
	}
	return Parse(data)
}

// Parse parses the bytes of a class file.
func Parse(data []byte) (*Class, error) {
	r := &reader{data: data}
	if r.u4() != magic {
		if r.err != nil {
			return nil, r.err
		}
		return nil, fmt.Errorf("not a class file: bad magic")
	}
	r.u2() // minor
	c := &Class{Major: r.u2()}

	pool, err := r.constantPool()
	if err != nil {
		return nil, err
	}
	c.AccessFlags = r.u2()
	if c.Name, err = pool.className(r.u2()); err != nil {
		return nil, fmt.Errorf("failed to resolve this_class: %w", err)
	}
	if super := r.u2(); super != 0 {
		if c.Superclass, err = pool.className(super); err != nil {
			return nil, fmt.Errorf("failed to resolve super_class: %w", err)
		}
	}
	for range r.u2() {
		name, err := pool.className(r.u2())
		if err != nil {
			return nil, fmt.Errorf("failed to resolve interface: %w", err)
		}
		c.Interfaces = append(c.Interfaces, name)
	}

	for range r.u2() { // fields
		r.skip(6)
		r.skipAttributes()
	}
	methods := r.u2()
	for range methods {
		m, err := r.method(pool)
		if err != nil {
			return nil, fmt.Errorf("failed to read method of %s: %w", c.Name, err)
		}
		c.Methods = append(c.Methods, m)
	}
	r.skipAttributes()
	if r.err != nil {
		return nil, r.err
	}
	return c, nil
}

// IsModule reports whether c is a module-info descriptor rather than a type.
func (c *Class) IsModule() bool { return c.AccessFlags&AccModule != 0 }

func (r *reader) method(pool constantPool) (Method, error) {
	m := Method{AccessFlags: r.u2()}
	var err error
	if m.Name, err = pool.utf8(r.u2()); err != nil {
		return m, err
	}
	if m.Descriptor, err = pool.utf8(r.u2()); err != nil {
		return m, err
	}
	for range r.u2() {
		name, err := pool.utf8(r.u2())
		if err != nil {
			return m, err
		}
		length := int(r.u4())
		if name != "Exceptions" {
			r.skip(length)
			continue
		}
		end := r.off + length
		for range r.u2() {
			ex, err := pool.className(r.u2())
			if err != nil {
				return m, err
			}
			m.Exceptions = append(m.Exceptions, ex)
		}
		if r.err == nil && r.off != end {
			return m, fmt.Errorf("malformed Exceptions attribute")
		}
	}
	return m, r.err
}

func (r *reader) constantPool() (constantPool, error) {
	count := int(r.u2())
	pool := make(constantPool, count)
	for i := 1; i < count; i++ {
		tag := r.u1()
		e := cpEntry{tag: tag}
		switch tag {
		case tagUtf8:
			raw := r.bytes(int(r.u2()))
			if r.err == nil {
				s, err := modifiedUTF8(raw)
				if err != nil {
					return nil, fmt.Errorf("constant pool index %d: %w", i, err)
				}
				e.utf8 = s
			}
		case tagClass, tagString, tagMethodType, tagModule, tagPackage:
			e.ref = r.u2()
		case tagInteger, tagFloat, tagFieldref, tagMethodref, tagInterfaceMethodref,
			tagNameAndType, tagDynamic, tagInvokeDynamic:
			r.skip(4)
		case tagMethodHandle:
			r.skip(3)
		case tagLong, tagDouble:
			r.skip(8)
			pool[i] = e
			i++ // takes two slots
			continue
		default:
			if r.err != nil {
				return nil, r.err
			}
			return nil, fmt.Errorf("unknown constant pool tag %d at index %d", tag, i)
		}
		if r.err != nil {
			return nil, r.err
		}
		pool[i] = e
	}
	return pool, r.err
}

func (r *reader) skipAttributes() {
	for range r.u2() {
		r.skip(2)
		r.skip(int(r.u4()))
	}
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.data) {
		r.err = errTruncated
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) skip(n int) { r.bytes(n) }

func (r *reader) u1() byte {
	b := r.bytes(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u2() uint16 {
	b := r.bytes(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *reader) u4() uint32 {
	b := r.bytes(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

type constantPool []cpEntry

func (p constantPool) entry(i uint16, tag byte) (cpEntry, error) {
	if int(i) <= 0 || int(i) >= len(p) || p[i].tag != tag {
		return cpEntry{}, fmt.Errorf("bad constant pool reference %d", i)
	}
	return p[i], nil
}

func (p constantPool) utf8(i uint16) (string, error) {
	e, err := p.entry(i, tagUtf8)
	if err != nil {
		return "", err
	}
	return e.utf8, nil
}

func (p constantPool) className(i uint16) (string, error) {
	e, err := p.entry(i, tagClass)
	if err != nil {
		return "", err
	}
	name, err := p.utf8(e.ref)
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(name, "[") {
		t, _, err := fieldType(name)
		return t, err
	}
	return strings.ReplaceAll(name, "/", "."), nil
}

// modifiedUTF8 decodes the CONSTANT_Utf8 encoding: NUL is written as C0 80 and
// supplementary characters as two 3-byte surrogates.
func modifiedUTF8(b []byte) (string, error) {
	ascii := true
	for _, c := range b {
		if c == 0 || c >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		return string(b), nil
	}

	units := make([]uint16, 0, len(b))
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c != 0 && c < 0x80:
			units = append(units, uint16(c))
			i++
		case c&0xe0 == 0xc0 && i+1 < len(b) && b[i+1]&0xc0 == 0x80:
			units = append(units, uint16(c&0x1f)<<6|uint16(b[i+1]&0x3f))
			i += 2
		case c&0xf0 == 0xe0 && i+2 < len(b) && b[i+1]&0xc0 == 0x80 && b[i+2]&0xc0 == 0x80:
			units = append(units, uint16(c&0x0f)<<12|uint16(b[i+1]&0x3f)<<6|uint16(b[i+2]&0x3f))
			i += 3
		default:
			return "", fmt.Errorf("malformed modified UTF-8 at byte %d", i)
		}
	}
	runes := utf16.Decode(units)
	out := make([]byte, 0, len(runes))
	for _, r := range runes {
		out = utf8.AppendRune(out, r)
	}
	return string(out), nil
}
