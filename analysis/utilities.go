package analysis

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/arxeiss/deadcalls/reconcile"
)

const maxLineSize = 1 << 20

// ReadInvocations reads an invocation log and calls fn for every record in order.
// Each line is either a raw signature or "<epoch millis>\t<raw signature>"; stamped
// tells which, so an explicit zero timestamp is kept apart from a missing one. Blank
// lines and lines starting with # are skipped. Reading stops at the first error fn
// returns.
func ReadInvocations(r io.Reader, fn func(rec reconcile.InvocationRecord, stamped bool) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		rec := reconcile.InvocationRecord{RawSignature: text}
		ts, raw, stamped := strings.Cut(text, "\t")
		if stamped {
			millis, err := strconv.ParseInt(strings.TrimSpace(ts), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid timestamp on line %d: %w", line, err)
			}
			rec.InvokedAtMillis = millis
			rec.RawSignature = strings.TrimSpace(raw)
		}
		if err := fn(rec, stamped); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("failed to read invocation log: %w", err)
	}
	return nil
}

func readInvocationFile(path string, fn func(rec reconcile.InvocationRecord, stamped bool) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open invocation log: %w", err)
	}
	defer f.Close()

	if err := ReadInvocations(f, fn); err != nil {
		return fmt.Errorf("'%s': %w", path, err)
	}
	return nil
}
