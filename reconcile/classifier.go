package reconcile

import (
	"fmt"

	"github.com/arxeiss/deadcalls/inventory"
	"github.com/arxeiss/deadcalls/signature"
)

// Kind is the outcome of classifying one invocation.
type Kind int

const (
	// Ignored invocations are synthetic or unparseable and carry no signature.
	Ignored Kind = iota
	// Unrecognized invocations name a method the inventory does not know.
	Unrecognized
	// Overridden invocations hit a subclass method whose base is in the inventory.
	Overridden
	// Exact invocations name an inventory method.
	Exact
)

func (k Kind) String() string {
	switch k {
	case Ignored:
		return "IGNORED"
	case Unrecognized:
		return "UNRECOGNIZED"
	case Overridden:
		return "OVERRIDDEN"
	case Exact:
		return "EXACT"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// MarshalText renders the kind name in JSON output.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

type (
	// InvocationRecord is one observed call.
	InvocationRecord struct {
		RawSignature    string
		InvokedAtMillis int64
		RunInstanceID   string
	}

	// Result is the classification of an InvocationRecord. ResolvedSignature is empty for
	// ignored invocations, the base signature for overridden ones and the normalized
	// signature otherwise.
	Result struct {
		Kind              Kind   `json:"kind"`
		ResolvedSignature string `json:"resolved,omitempty"`
		RawSignature      string `json:"raw"`
	}

	// Classifier turns raw invocations into results. It is safe for concurrent use.
	Classifier struct {
		Normalizer *signature.Normalizer
	}
)

// NewClassifier returns a classifier using n, or the default normalizer when n is nil.
func NewClassifier(n *signature.Normalizer) *Classifier {
	if n == nil {
		n = signature.Default()
	}
	return &Classifier{Normalizer: n}
}

// Classify never fails: a nil inventory is empty and a nil resolver finds no overrides.
// Normalization runs first, so an ignored signature is never looked up.
func (c *Classifier) Classify(rec InvocationRecord, inv *inventory.Inventory, resolver *OverrideResolver) Result {
	n := c.Normalizer
	if n == nil {
		n = signature.Default()
	}
	res := Result{RawSignature: rec.RawSignature}

	sig, ok := n.Normalize(rec.RawSignature)
	if !ok {
		res.Kind = Ignored
		return res
	}
	if inv.Contains(sig) {
		res.Kind, res.ResolvedSignature = Exact, sig
		return res
	}
	if d, ok := signature.Parse(sig); ok {
		if base, ok := resolver.ResolveBase(inv, d); ok {
			if baseSig, ok := n.Normalize(base.Signature()); ok {
				res.Kind, res.ResolvedSignature = Overridden, baseSig
				return res
			}
		}
	}
	res.Kind, res.ResolvedSignature = Unrecognized, sig
	return res
}
