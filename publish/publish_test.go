package publish_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/arxeiss/deadcalls/collector"
	"github.com/arxeiss/deadcalls/inventory"
	"github.com/arxeiss/deadcalls/publish"
	"github.com/arxeiss/deadcalls/signature"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("FilePublisher", func() {
	var (
		dir  string
		pub  *publish.FilePublisher
		meta publish.Metadata
		ctx  context.Context
	)

	BeforeEach(func() {
		dir = filepath.Join(GinkgoT().TempDir(), "out")
		pub = publish.NewFilePublisher(dir, nil)
		meta = publish.Metadata{
			AppName:            "shop",
			AppVersion:         "1.4.0",
			Environment:        "prod",
			Hostname:           "node-1",
			RunInstanceID:      "run-1",
			RunStartedAtMillis: 1000,
			PublishedAt:        time.UnixMilli(5000).UTC(),
		}
		ctx = context.Background()
	})

	It("writes the latest inventory", func() {
		snap := &inventory.Snapshot{
			Inventory: inventory.FromDescriptors(signature.MethodDescriptor{
				DeclaringType: "pkg.Foo", Name: "bar", ReturnType: "void", Visibility: signature.Public,
			}),
			Fingerprint: inventory.ComputeFingerprint([]inventory.Artifact{{RelPath: "app.jar", Size: 1}}, 1),
			ScanErrors:  []error{errors.New("failed to scan 'x.jar': broken")},
		}
		Expect(pub.PublishInventory(ctx, publish.NewInventory(meta, snap))).To(Succeed())

		data, err := os.ReadFile(filepath.Join(dir, "inventory.json"))
		Expect(err).To(Succeed())
		var got map[string]any
		Expect(json.Unmarshal(data, &got)).To(Succeed())
		Expect(got).To(HaveKeyWithValue("appName", "shop"))
		Expect(got).To(HaveKeyWithValue("hostname", "node-1"))
		Expect(got).To(HaveKeyWithValue("methods", ConsistOf("public void pkg.Foo.bar()")))
		Expect(got).To(HaveKeyWithValue("scanErrors", ConsistOf("failed to scan 'x.jar': broken")))
		Expect(got).To(HaveKeyWithValue("fingerprint", HaveKeyWithValue("digest", snap.Fingerprint.Digest)))

		By("leaving no temporary files behind")
		entries, err := os.ReadDir(dir)
		Expect(err).To(Succeed())
		Expect(entries).To(HaveLen(1))
	})

	It("writes one file per invocation batch", func() {
		batch := publish.Invocations{
			Metadata: meta,
			Entries: []collector.Entry{{
				RunInstanceID: "run-1", RunStartedAtMillis: 1000, Signature: "public void pkg.Foo.bar()",
				LastInvokedAtMillis: 4000, Confidence: collector.Exact,
			}},
		}
		Expect(pub.PublishInvocations(ctx, batch)).To(Succeed())
		Expect(pub.PublishInvocations(ctx, batch)).To(Succeed())

		files, err := filepath.Glob(filepath.Join(dir, "invocations-run-1-5000-*.json"))
		Expect(err).To(Succeed())
		Expect(files).To(HaveLen(2))

		data, err := os.ReadFile(files[0])
		Expect(err).To(Succeed())
		Expect(string(data)).To(ContainSubstring(`"confidence": "EXACT"`))
		Expect(string(data)).To(ContainSubstring(`"runInstanceId": "run-1"`))
	})

	It("honours cancellation", func() {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		Expect(pub.PublishInvocations(cancelled, publish.Invocations{Metadata: meta})).To(MatchError(context.Canceled))
		_, err := os.Stat(dir)
		Expect(os.IsNotExist(err)).To(BeTrue())
	})

	It("fails when the directory cannot be created", func() {
		blocker := filepath.Join(GinkgoT().TempDir(), "file")
		Expect(os.WriteFile(blocker, nil, 0o644)).To(Succeed())
		blocked := publish.NewFilePublisher(filepath.Join(blocker, "out"), nil)
		Expect(blocked.PublishInvocations(ctx, publish.Invocations{Metadata: meta})).
			To(MatchError(ContainSubstring("failed to publish invocations")))
	})
})
