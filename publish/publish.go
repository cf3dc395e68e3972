// Package publish defines what the collector hands to the transport layer and a
// publisher writing it to a directory.
package publish

import (
	"context"
	"time"

	"github.com/arxeiss/deadcalls/collector"
	"github.com/arxeiss/deadcalls/inventory"
)

type (
	// Metadata identifies the application and run a publication belongs to.
	Metadata struct {
		AppName            string    `json:"appName"`
		AppVersion         string    `json:"appVersion,omitempty"`
		Environment        string    `json:"environment,omitempty"`
		Hostname           string    `json:"hostname,omitempty"`
		RunInstanceID      string    `json:"runInstanceId"`
		RunStartedAtMillis int64     `json:"runStartedAt"`
		PublishedAt        time.Time `json:"publishedAt"`
	}

	// Inventory is a published codebase inventory.
	Inventory struct {
		Metadata
		Fingerprint inventory.Fingerprint `json:"fingerprint"`
		Methods     []string              `json:"methods"`
		ScanErrors  []string              `json:"scanErrors,omitempty"`
	}

	// Invocations is a published batch of collected invocations of one run instance.
	Invocations struct {
		Metadata
		Entries []collector.Entry `json:"entries"`
	}

	// Publisher delivers publications. Implementations decide on transport; a returned
	// error means nothing was acknowledged and the batch will be offered again.
	Publisher interface {
		PublishInventory(ctx context.Context, inv Inventory) error
		PublishInvocations(ctx context.Context, batch Invocations) error
	}
)

// NewInventory builds the publication of snap.
func NewInventory(meta Metadata, snap *inventory.Snapshot) Inventory {
	pub := Inventory{
		Metadata:    meta,
		Fingerprint: snap.Fingerprint,
		Methods:     snap.Inventory.Signatures(),
	}
	for _, err := range snap.ScanErrors {
		pub.ScanErrors = append(pub.ScanErrors, err.Error())
	}
	return pub
}
