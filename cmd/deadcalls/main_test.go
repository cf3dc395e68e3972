package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/arxeiss/deadcalls/publish"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const (
	greetSig = "public java.lang.String com.acme.Greeter.greet(java.lang.String)"
	waveSig  = "public void com.acme.Greeter.wave()"
)

var _ = Describe("deadcalls", func() {
	var (
		dir    string
		stdOut *bytes.Buffer
		stdErr *bytes.Buffer
	)

	execute := func(stdin string, args ...string) error {
		root := newRootCmd(strings.NewReader(stdin), stdOut, stdErr)
		root.SetArgs(args)
		return root.ExecuteContext(context.Background())
	}

	write := func(rel, content string) string {
		GinkgoHelper()
		path := filepath.Join(dir, rel)
		Expect(os.MkdirAll(filepath.Dir(path), 0o755)).To(Succeed())
		Expect(os.WriteFile(path, []byte(content), 0o644)).To(Succeed())
		return path
	}

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		stdOut = bytes.NewBuffer(nil)
		stdErr = bytes.NewBuffer(nil)
		write("src/com/acme/Greeter.java", `package com.acme;

public class Greeter {
    public String greet(String name) {
        return "hi " + name;
    }

    public void wave() {
    }

    void internal() {
    }
}
`)
	})

	It("prints usage from the package documentation", func() {
		Expect(execute("", "--help")).To(Succeed())
		Expect(stdOut.String()).To(ContainSubstring("The deadcalls command finds methods of a JVM codebase"))
		Expect(stdOut.String()).To(ContainSubstring("Invocation logs"))
		Expect(stdOut.String()).NotTo(ContainSubstring("package main"))
	})

	It("fails without roots", func() {
		err := execute("", "scan")
		Expect(err).To(MatchError("failed to load configuration: roots must list at least one code location"))
	})

	It("fails on unknown visibility", func() {
		err := execute("", "scan", "--roots", dir, "--method-visibility", "secret")
		Expect(err).To(MatchError(ContainSubstring("failed to load configuration: method_visibility:")))
	})

	Describe("scan", func() {
		It("prints the sorted inventory", func() {
			Expect(execute("", "scan", "--roots", filepath.Join(dir, "src"), "--sources")).To(Succeed())
			Expect(stdOut.String()).To(Equal(greetSig + "\n" + waveSig + "\n"))
			Expect(stdErr.String()).To(ContainSubstring("fingerprint: "))
		})

		It("honours the visibility threshold", func() {
			Expect(execute("", "scan", "--roots", filepath.Join(dir, "src"), "--sources",
				"--method-visibility", "package")).To(Succeed())
			Expect(stdOut.String()).To(ContainSubstring("void com.acme.Greeter.internal()\n"))
		})

		It("finds nothing without sources", func() {
			err := execute("", "scan", "--roots", filepath.Join(dir, "src"))
			Expect(err).To(MatchError("failed to scan codebase: no methods found in 1 code locations (packages: <all>)"))
		})

		It("prints JSON", func() {
			cfg := write("deadcalls.yaml", "app_name: shop\nsources: true\n")
			Expect(execute("", "scan", "--config", cfg, "--roots", filepath.Join(dir, "src"), "--json")).To(Succeed())

			var out publish.Inventory
			Expect(json.Unmarshal(stdOut.Bytes(), &out)).To(Succeed())
			Expect(out.AppName).To(Equal("shop"))
			Expect(out.Methods).To(HaveExactElements(greetSig, waveSig))
			Expect(out.Fingerprint.ArtifactCount).To(Equal(1))
		})
	})

	Describe("report", func() {
		It("prints methods nobody invoked", func() {
			log := write("calls.log", "1714564800000\t"+greetSig+"\n"+"public void com.acme.Missing.run()\n")
			Expect(execute("", "report", "--roots", filepath.Join(dir, "src"), "--sources", "--log", log)).To(Succeed())
			Expect(stdOut.String()).To(Equal(
				"com.acme.Greeter: never invoked: " + waveSig + "\n" +
					"unrecognized invocation: public void com.acme.Missing.run()\n",
			))
		})

		It("prints debug output", func() {
			Expect(execute("", "report", "--roots", filepath.Join(dir, "src"), "--sources", "--debug")).To(Succeed())
			Expect(stdErr.String()).To(ContainSubstring("Starting to scan 1 code locations, might take a while"))
		})
	})

	Describe("agent", func() {
		It("publishes the inventory and the invocations of its input", func() {
			out := filepath.Join(dir, "out")
			input := "1714564800000\t" + greetSig + "\n" +
				"1714564805000\t" + greetSig + "\n" +
				"public void com.acme.Greeter.lambda$wave$0()\n"

			Expect(execute(input, "agent", "--roots", filepath.Join(dir, "src"), "--sources",
				"--output-dir", out, "--environment", "test")).To(Succeed())

			raw, err := os.ReadFile(filepath.Join(out, "inventory.json"))
			Expect(err).To(Succeed())
			var inv publish.Inventory
			Expect(json.Unmarshal(raw, &inv)).To(Succeed())
			Expect(inv.Methods).To(HaveExactElements(greetSig, waveSig))
			Expect(inv.Environment).To(Equal("test"))
			Expect(inv.RunInstanceID).To(HaveLen(36))

			batches, err := filepath.Glob(filepath.Join(out, "invocations-*.json"))
			Expect(err).To(Succeed())
			Expect(batches).To(HaveLen(1))

			raw, err = os.ReadFile(batches[0])
			Expect(err).To(Succeed())
			var batch struct {
				RunInstanceID string `json:"runInstanceId"`
				Entries       []struct {
					Signature     string `json:"signature"`
					LastInvokedAt int64  `json:"lastInvokedAt"`
					Confidence    string `json:"confidence"`
				} `json:"entries"`
			}
			Expect(json.Unmarshal(raw, &batch)).To(Succeed())
			Expect(batch.RunInstanceID).To(Equal(inv.RunInstanceID))
			Expect(batch.Entries).To(HaveLen(1))
			Expect(batch.Entries[0].Signature).To(Equal(greetSig))
			Expect(batch.Entries[0].LastInvokedAt).To(Equal(int64(1714564805000)))
			Expect(batch.Entries[0].Confidence).To(Equal("EXACT"))
		})

		It("keeps an explicit zero timestamp", func() {
			out := filepath.Join(dir, "out")
			Expect(execute("0\t"+greetSig+"\n", "agent", "--roots", filepath.Join(dir, "src"), "--sources",
				"--output-dir", out)).To(Succeed())

			batches, err := filepath.Glob(filepath.Join(out, "invocations-*.json"))
			Expect(err).To(Succeed())
			Expect(batches).To(HaveLen(1))

			raw, err := os.ReadFile(batches[0])
			Expect(err).To(Succeed())
			var batch struct {
				Entries []struct {
					Signature     string `json:"signature"`
					LastInvokedAt int64  `json:"lastInvokedAt"`
				} `json:"entries"`
			}
			Expect(json.Unmarshal(raw, &batch)).To(Succeed())
			Expect(batch.Entries).To(HaveLen(1))
			Expect(batch.Entries[0].Signature).To(Equal(greetSig))
			Expect(batch.Entries[0].LastInvokedAt).To(BeZero())
		})

		It("fails on a missing input file", func() {
			err := execute("", "agent", "--roots", filepath.Join(dir, "src"), "--input", filepath.Join(dir, "nope.log"))
			Expect(err).To(MatchError(ContainSubstring("failed to open input:")))
		})
	})
})
