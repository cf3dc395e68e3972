package classfile

import (
	"archive/zip"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/arxeiss/deadcalls/inventory"
	"github.com/arxeiss/deadcalls/locator"
	"github.com/arxeiss/deadcalls/signature"
)

// Source is an inventory.MethodSource reading compiled classes from class directories
// and jar archives. A single unreadable class is logged and skipped; an unreadable
// archive fails its target.
type Source struct {
	log *zap.Logger
}

var _ inventory.MethodSource = (*Source)(nil)

// New returns a Source logging to log; nil disables logging.
func New(log *zap.Logger) *Source {
	if log == nil {
		log = zap.NewNop()
	}
	return &Source{log: log}
}

// Enumerate implements inventory.MethodSource.
func (s *Source) Enumerate(ctx context.Context, t inventory.ScanTarget) ([]inventory.TypeUnit, error) {
	switch {
	case t.Kind == locator.KindArchive:
		return s.archive(ctx, t.Path)
	case t.Location.Classpath:
		return s.directory(ctx, t)
	default:
		return nil, nil
	}
}

func (s *Source) directory(ctx context.Context, t inventory.ScanTarget) ([]inventory.TypeUnit, error) {
	var units []inventory.TypeUnit
	err := filepath.WalkDir(t.Path, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(t.Path, p)
		if err != nil || rel == "." {
			return nil //nolint:nilerr // only the root itself
		}
		if locator.Excluded(t.Excludes, filepath.ToSlash(rel)) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !isClassFile(rel) {
			return nil
		}
		f, err := os.Open(p)
		if err != nil {
			s.log.Warn("class file skipped", zap.String("path", p), zap.Error(err))
			return nil
		}
		defer f.Close()
		units = s.appendClass(units, t.Path, rel, func() (*Class, error) { return Read(f) })
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk class directory: %w", err)
	}
	return units, nil
}

func (s *Source) archive(ctx context.Context, path string) ([]inventory.TypeUnit, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer zr.Close()

	var units []inventory.TypeUnit
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// multi-release variants duplicate the base classes
		if f.FileInfo().IsDir() || !isClassFile(f.Name) || strings.HasPrefix(f.Name, "META-INF/") {
			continue
		}
		units = s.appendClass(units, path, f.Name, func() (*Class, error) {
			rc, err := f.Open()
			if err != nil {
				return nil, err
			}
			defer rc.Close()
			return Read(rc)
		})
	}
	return units, nil
}

func (s *Source) appendClass(units []inventory.TypeUnit, container, name string, read func() (*Class, error)) []inventory.TypeUnit {
	c, err := read()
	if err != nil {
		s.log.Warn("class file skipped", zap.String("path", container), zap.String("entry", name), zap.Error(err))
		return units
	}
	if c.IsModule() {
		return units
	}
	u, err := TypeUnit(c)
	if err != nil {
		s.log.Warn("class file skipped", zap.String("path", container), zap.String("entry", name), zap.Error(err))
		return units
	}
	return append(units, u)
}

// TypeUnit converts a parsed class into an inventory type unit. Constructors and static
// initializers are left out. Members of synthetic classes are marked synthetic.
func TypeUnit(c *Class) (inventory.TypeUnit, error) {
	u := inventory.TypeUnit{Name: c.Name, Superclass: c.Superclass}
	for _, m := range c.Methods {
		if m.Name == "<init>" || m.Name == "<clinit>" {
			continue
		}
		params, ret, err := MethodTypes(m.Descriptor)
		if err != nil {
			return u, fmt.Errorf("method %s.%s: %w", c.Name, m.Name, err)
		}
		flags := m.AccessFlags
		if c.AccessFlags&AccSynthetic != 0 {
			flags |= AccSynthetic
		}
		u.Methods = append(u.Methods, signature.MethodDescriptor{
			DeclaringType:  c.Name,
			Name:           m.Name,
			ParameterTypes: params,
			ReturnType:     ret,
			Visibility:     visibility(flags),
			Modifiers:      modifiers(flags),
			ExceptionTypes: m.Exceptions,
		})
	}
	return u, nil
}

func visibility(flags uint16) signature.Visibility {
	switch {
	case flags&AccPublic != 0:
		return signature.Public
	case flags&AccProtected != 0:
		return signature.Protected
	case flags&AccPrivate != 0:
		return signature.Private
	default:
		return signature.PackagePrivate
	}
}

func modifiers(flags uint16) signature.Modifier {
	var m signature.Modifier
	if flags&AccSynthetic != 0 {
		m |= signature.Synthetic
	}
	if flags&AccBridge != 0 {
		m |= signature.Bridge
	}
	if flags&AccStatic != 0 {
		m |= signature.Static
	}
	if flags&AccAbstract != 0 {
		m |= signature.Abstract
	}
	return m
}

func isClassFile(name string) bool {
	return strings.HasSuffix(name, ".class") && !strings.HasSuffix(name, "module-info.class")
}
