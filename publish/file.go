package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"go.uber.org/zap"
)

const inventoryFileName = "inventory.json"

// FilePublisher writes publications as JSON files into Dir. The latest inventory is
// kept in inventory.json; each invocation batch gets its own file. Writes are atomic.
type FilePublisher struct {
	Dir string

	seq atomic.Int64
	log *zap.Logger
}

var _ Publisher = (*FilePublisher)(nil)

// NewFilePublisher returns a publisher writing into dir.
func NewFilePublisher(dir string, log *zap.Logger) *FilePublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &FilePublisher{Dir: dir, log: log}
}

// PublishInventory implements Publisher.
func (p *FilePublisher) PublishInventory(ctx context.Context, inv Inventory) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.write(inventoryFileName, inv); err != nil {
		return fmt.Errorf("failed to publish inventory: %w", err)
	}
	p.log.Info("inventory written",
		zap.String("file", filepath.Join(p.Dir, inventoryFileName)), zap.Int("methods", len(inv.Methods)))
	return nil
}

// PublishInvocations implements Publisher.
func (p *FilePublisher) PublishInvocations(ctx context.Context, batch Invocations) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name := fmt.Sprintf("invocations-%s-%d-%04d.json",
		batch.RunInstanceID, batch.PublishedAt.UnixMilli(), p.seq.Add(1))
	if err := p.write(name, batch); err != nil {
		return fmt.Errorf("failed to publish invocations: %w", err)
	}
	p.log.Info("invocations written", zap.String("file", filepath.Join(p.Dir, name)), zap.Int("entries", len(batch.Entries)))
	return nil
}

func (p *FilePublisher) write(name string, v any) error {
	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(p.Dir, "."+name+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, filepath.Join(p.Dir, name))
}
