// Package javasrc reads Java source trees into inventory type units using tree-sitter.
// Simple type names are resolved through imports, types declared in the scanned tree,
// and java.lang, so source-derived signatures match those read from class files.
package javasrc

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/java"
	"go.uber.org/zap"

	"github.com/arxeiss/deadcalls/inventory"
	"github.com/arxeiss/deadcalls/locator"
)

// Source is an inventory.MethodSource for directories holding .java files. Archives and
// directories without sources yield nothing.
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
	if t.Kind != locator.KindDirectory || !t.Location.Sources {
		return nil, nil
	}
	paths, err := sourceFiles(t.Path, t.Excludes)
	if err != nil {
		return nil, err
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(java.GetLanguage())

	files := make([]*file, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := parseFile(ctx, parser, p)
		if err != nil {
			s.log.Warn("source file skipped", zap.String("path", p), zap.Error(err))
			continue
		}
		defer f.tree.Close()
		if f.tree.RootNode().HasError() {
			s.log.Debug("source file has syntax errors", zap.String("path", p))
		}
		files = append(files, f)
	}

	known := make(map[string]map[string]string)
	for _, f := range files {
		if known[f.pkg] == nil {
			known[f.pkg] = make(map[string]string)
		}
		for _, d := range f.types {
			if d.outer == nil {
				known[f.pkg][d.simple] = d.name
			}
		}
	}

	var units []inventory.TypeUnit
	for _, f := range files {
		for _, d := range f.types {
			units = append(units, f.unit(d, known))
		}
	}
	return units, nil
}

func sourceFiles(root string, excludes []string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(root, p)
		if err != nil || rel == "." {
			return nil //nolint:nilerr // only the root itself
		}
		if locator.Excluded(excludes, filepath.ToSlash(rel)) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() && strings.HasSuffix(p, ".java") &&
			d.Name() != "package-info.java" && d.Name() != "module-info.java" {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk source directory: %w", err)
	}
	return paths, nil
}

func parseFile(ctx context.Context, parser *sitter.Parser, path string) (*file, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read source: %w", err)
	}
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("failed to parse source: %w", err)
	}
	f := &file{
		src:     src,
		tree:    tree,
		imports: make(map[string]string),
		local:   make(map[string]string),
	}
	f.read(tree.RootNode())
	return f, nil
}
