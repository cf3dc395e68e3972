package inventory_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/arxeiss/deadcalls/inventory"
	"github.com/arxeiss/deadcalls/locator"
	"github.com/arxeiss/deadcalls/signature"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// fakeSource serves type units by target base name.
type fakeSource struct {
	mu      sync.Mutex
	units   map[string][]inventory.TypeUnit
	fail    map[string]error
	visited []string
}

func (f *fakeSource) Enumerate(_ context.Context, t inventory.ScanTarget) ([]inventory.TypeUnit, error) {
	name := filepath.Base(t.Path)
	f.mu.Lock()
	f.visited = append(f.visited, name)
	f.mu.Unlock()
	if err := f.fail[name]; err != nil {
		return nil, err
	}
	return f.units[name], nil
}

func method(typ, name string, vis signature.Visibility, params ...string) signature.MethodDescriptor {
	return signature.MethodDescriptor{
		DeclaringType:  typ,
		Name:           name,
		ParameterTypes: params,
		ReturnType:     "void",
		Visibility:     vis,
	}
}

func writeFile(path string, size int) {
	GinkgoHelper()
	Expect(os.MkdirAll(filepath.Dir(path), 0o755)).To(Succeed())
	Expect(os.WriteFile(path, make([]byte, size), 0o644)).To(Succeed())
	stamp := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	Expect(os.Chtimes(path, stamp, stamp)).To(Succeed())
}

var _ = Describe("Builder", func() {
	var (
		dir    string
		src    *fakeSource
		b      *inventory.Builder
		ctx    context.Context
		locate func(roots ...string) []locator.CodeLocation
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		ctx = context.Background()
		src = &fakeSource{units: map[string][]inventory.TypeUnit{}, fail: map[string]error{}}
		b = inventory.NewBuilder(src, nil)
		locate = func(roots ...string) []locator.CodeLocation {
			locs, errs := locator.New(nil).Resolve(roots)
			Expect(errs).To(BeEmpty())
			return locs
		}
	})

	It("keeps public methods of wanted packages", func() {
		writeFile(filepath.Join(dir, "app.jar"), 10)
		src.units["app.jar"] = []inventory.TypeUnit{
			{Name: "pkg.Foo", Superclass: "java.lang.Object", Methods: []signature.MethodDescriptor{
				method("pkg.Foo", "bar", signature.Public),
				method("pkg.Foo", "hidden", signature.Private),
				method("pkg.Foo", "internal", signature.Protected),
			}},
			{Name: "other.Baz", Methods: []signature.MethodDescriptor{
				method("other.Baz", "qux", signature.Public),
			}},
		}
		b.Packages = []string{"pkg"}

		snap, err := b.Build(ctx, locate(filepath.Join(dir, "app.jar")))
		Expect(err).To(Succeed())
		Expect(snap.Inventory.Signatures()).To(Equal([]string{"public void pkg.Foo.bar()"}))
		Expect(snap.Fingerprint.ArtifactCount).To(Equal(1))
		Expect(snap.Fingerprint.EntryCount).To(Equal(1))
		Expect(snap.ScanErrors).To(BeEmpty())

		parent, ok := snap.Hierarchy.SuperclassOf("pkg.Foo")
		Expect(ok).To(BeTrue())
		Expect(parent).To(Equal("java.lang.Object"))
	})

	It("reports unresolvable roots ahead of target failures", func() {
		writeFile(filepath.Join(dir, "app.jar"), 10)
		writeFile(filepath.Join(dir, "app.war"), 10)
		src.units["app.jar"] = []inventory.TypeUnit{
			{Name: "pkg.Foo", Methods: []signature.MethodDescriptor{method("pkg.Foo", "bar", signature.Public)}},
		}

		snap, err := b.Scan(ctx, nil, []string{
			filepath.Join(dir, "app.jar"), filepath.Join(dir, "missing.jar"), filepath.Join(dir, "app.war"),
		})
		Expect(err).To(Succeed())
		Expect(snap.Inventory.Signatures()).To(Equal([]string{"public void pkg.Foo.bar()"}))
		Expect(snap.ScanErrors).To(HaveLen(2))

		var notFound *locator.LocationNotFoundError
		Expect(errors.As(snap.ScanErrors[0], &notFound)).To(BeTrue())
		Expect(notFound.Path).To(Equal(filepath.Join(dir, "missing.jar")))
		var unsupported *locator.UnsupportedArtifactError
		Expect(errors.As(snap.ScanErrors[1], &unsupported)).To(BeTrue())
		Expect(unsupported.Path).To(Equal(filepath.Join(dir, "app.war")))
	})

	It("keeps unresolvable roots in an empty snapshot", func() {
		snap, err := b.Scan(ctx, locator.New(nil), []string{filepath.Join(dir, "missing.jar")})
		var empty *inventory.EmptyInventoryError
		Expect(errors.As(err, &empty)).To(BeTrue())
		Expect(empty.Locations).To(BeZero())
		Expect(snap.ScanErrors).To(HaveExactElements(MatchError(ContainSubstring("code location not found"))))
	})

	It("honours visibility threshold and excluded packages", func() {
		writeFile(filepath.Join(dir, "app.jar"), 10)
		src.units["app.jar"] = []inventory.TypeUnit{
			{Name: "pkg.Foo", Methods: []signature.MethodDescriptor{
				method("pkg.Foo", "bar", signature.Public),
				method("pkg.Foo", "internal", signature.Protected),
				method("pkg.Foo", "hidden", signature.Private),
			}},
			{Name: "pkg.gen.Stub", Methods: []signature.MethodDescriptor{
				method("pkg.gen.Stub", "call", signature.Public),
			}},
		}
		b.Visibility = signature.Protected
		b.ExcludePackages = []string{"pkg.gen"}

		snap, err := b.Build(ctx, locate(filepath.Join(dir, "app.jar")))
		Expect(err).To(Succeed())
		Expect(snap.Inventory.Signatures()).To(Equal([]string{
			"protected void pkg.Foo.internal()",
			"public void pkg.Foo.bar()",
		}))
	})

	It("drops synthetic, bridge and proxy generated methods", func() {
		writeFile(filepath.Join(dir, "app.jar"), 10)
		synthetic := method("pkg.Foo", "gen", signature.Public)
		synthetic.Modifiers = signature.Synthetic
		bridge := method("pkg.Foo", "compareTo", signature.Public, "java.lang.Object")
		bridge.Modifiers = signature.Bridge
		src.units["app.jar"] = []inventory.TypeUnit{
			{Name: "pkg.Foo", Methods: []signature.MethodDescriptor{
				synthetic, bridge,
				method("pkg.Foo", "lambda$run$0", signature.Public),
				method("pkg.Foo", "run", signature.Public),
			}},
		}

		snap, err := b.Build(ctx, locate(filepath.Join(dir, "app.jar")))
		Expect(err).To(Succeed())
		Expect(snap.Inventory.Signatures()).To(Equal([]string{"public void pkg.Foo.run()"}))
	})

	It("keeps the first of duplicate declarations", func() {
		writeFile(filepath.Join(dir, "a.jar"), 10)
		writeFile(filepath.Join(dir, "b.jar"), 10)
		first := method("pkg.Foo", "bar", signature.Public)
		first.ExceptionTypes = []string{"java.io.IOException"}
		second := method("pkg.Foo", "bar", signature.Public)
		src.units["a.jar"] = []inventory.TypeUnit{{Name: "pkg.Foo", Methods: []signature.MethodDescriptor{first}}}
		src.units["b.jar"] = []inventory.TypeUnit{{Name: "pkg.Foo", Methods: []signature.MethodDescriptor{second}}}

		snap, err := b.Build(ctx, locate(filepath.Join(dir, "a.jar"), filepath.Join(dir, "b.jar")))
		Expect(err).To(Succeed())
		Expect(snap.Inventory.Len()).To(Equal(1))
		e, ok := snap.Inventory.Lookup("public void pkg.Foo.bar()")
		Expect(ok).To(BeTrue())
		Expect(e.Method.ExceptionTypes).To(Equal([]string{"java.io.IOException"}))
	})

	It("flattens nested archives of directory locations", func() {
		writeFile(filepath.Join(dir, "app", "classes", "pkg", "Foo.class"), 20)
		writeFile(filepath.Join(dir, "app", "lib", "dep.jar"), 30)
		writeFile(filepath.Join(dir, "app", "lib", "legacy.war"), 30)
		writeFile(filepath.Join(dir, "app", "README.md"), 5)
		src.units["app"] = []inventory.TypeUnit{{Name: "pkg.Foo", Methods: []signature.MethodDescriptor{
			method("pkg.Foo", "bar", signature.Public),
		}}}
		src.units["dep.jar"] = []inventory.TypeUnit{{Name: "dep.Util", Methods: []signature.MethodDescriptor{
			method("dep.Util", "help", signature.Public),
		}}}

		snap, err := b.Build(ctx, locate(filepath.Join(dir, "app")))
		Expect(err).To(Succeed())
		Expect(src.visited).To(ConsistOf("app", "dep.jar"))
		Expect(snap.Inventory.Len()).To(Equal(2))
		Expect(snap.Artifacts).To(ConsistOf(
			inventory.Artifact{RelPath: "app/classes/pkg/Foo.class", Size: 20, ModTimeMillis: 1714564800000},
			inventory.Artifact{RelPath: "app/lib/dep.jar", Size: 30, ModTimeMillis: 1714564800000},
		))

		Expect(snap.ScanErrors).To(HaveLen(1))
		var unsupported *locator.UnsupportedArtifactError
		Expect(errors.As(snap.ScanErrors[0], &unsupported)).To(BeTrue())
	})

	It("skips excluded files inside directories", func() {
		writeFile(filepath.Join(dir, "app", "pkg", "Foo.class"), 20)
		writeFile(filepath.Join(dir, "app", "test-lib", "junit.jar"), 30)
		src.units["app"] = []inventory.TypeUnit{{Name: "pkg.Foo", Methods: []signature.MethodDescriptor{
			method("pkg.Foo", "bar", signature.Public),
		}}}
		b.Excludes = []string{"test-lib/**"}

		snap, err := b.Build(ctx, locate(filepath.Join(dir, "app")))
		Expect(err).To(Succeed())
		Expect(src.visited).To(ConsistOf("app"))
		Expect(snap.Artifacts).To(HaveLen(1))
	})

	It("collects per-target failures and keeps the rest", func() {
		writeFile(filepath.Join(dir, "good.jar"), 10)
		writeFile(filepath.Join(dir, "bad.jar"), 10)
		src.units["good.jar"] = []inventory.TypeUnit{{Name: "pkg.Foo", Methods: []signature.MethodDescriptor{
			method("pkg.Foo", "bar", signature.Public),
		}}}
		src.fail["bad.jar"] = errors.New("zip: not a valid zip file")

		snap, err := b.Build(ctx, locate(filepath.Join(dir, "bad.jar"), filepath.Join(dir, "good.jar")))
		Expect(err).To(Succeed())
		Expect(snap.Inventory.Len()).To(Equal(1))
		Expect(snap.ScanErrors).To(ConsistOf(MatchError(HaveSuffix("bad.jar': zip: not a valid zip file"))))
	})

	It("reports an empty inventory", func() {
		writeFile(filepath.Join(dir, "app.jar"), 10)
		src.units["app.jar"] = []inventory.TypeUnit{{Name: "other.Foo", Methods: []signature.MethodDescriptor{
			method("other.Foo", "bar", signature.Public),
		}}}
		b.Packages = []string{"pkg"}

		snap, err := b.Build(ctx, locate(filepath.Join(dir, "app.jar")))
		Expect(err).To(MatchError("no methods found in 1 code locations (packages: pkg)"))
		var empty *inventory.EmptyInventoryError
		Expect(errors.As(err, &empty)).To(BeTrue())
		Expect(snap).NotTo(BeNil())
		Expect(snap.Inventory.Len()).To(BeZero())
	})

	It("fails without a method source", func() {
		_, err := inventory.NewBuilder(nil, nil).Build(ctx, nil)
		Expect(err).To(MatchError("no method source configured"))
	})

	It("aborts on a cancelled context", func() {
		writeFile(filepath.Join(dir, "app.jar"), 10)
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := b.Build(cancelled, locate(filepath.Join(dir, "app.jar")))
		Expect(err).To(MatchError(ContainSubstring("scan aborted")))
		Expect(errors.Is(err, context.Canceled)).To(BeTrue())
	})

	Describe("fingerprint", func() {
		BeforeEach(func() {
			writeFile(filepath.Join(dir, "a.jar"), 10)
			writeFile(filepath.Join(dir, "b.jar"), 20)
			writeFile(filepath.Join(dir, "c.jar"), 30)
			for _, n := range []string{"a.jar", "b.jar", "c.jar"} {
				src.units[n] = []inventory.TypeUnit{{Name: "pkg.Foo", Methods: []signature.MethodDescriptor{
					method("pkg.Foo", "bar", signature.Public),
				}}}
			}
		})

		build := func(names ...string) inventory.Fingerprint {
			GinkgoHelper()
			roots := make([]string, 0, len(names))
			for _, n := range names {
				roots = append(roots, filepath.Join(dir, n))
			}
			snap, err := b.Build(ctx, locate(roots...))
			Expect(err).To(Succeed())
			return snap.Fingerprint
		}

		It("does not depend on scan order", func() {
			fp := build("a.jar", "b.jar", "c.jar")
			Expect(build("c.jar", "a.jar", "b.jar")).To(Equal(fp))
			Expect(build("b.jar", "c.jar", "a.jar")).To(Equal(fp))
		})

		It("changes with modification time", func() {
			fp := build("a.jar", "b.jar", "c.jar")
			later := time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC)
			Expect(os.Chtimes(filepath.Join(dir, "b.jar"), later, later)).To(Succeed())
			Expect(build("a.jar", "b.jar", "c.jar").Digest).NotTo(Equal(fp.Digest))
		})

		It("changes with size", func() {
			fp := build("a.jar", "b.jar", "c.jar")
			writeFile(filepath.Join(dir, "c.jar"), 31)
			Expect(build("a.jar", "b.jar", "c.jar").Digest).NotTo(Equal(fp.Digest))
		})
	})
})

var _ = Describe("ComputeFingerprint", func() {
	artifacts := []inventory.Artifact{
		{RelPath: "app/lib/a.jar", Size: 10, ModTimeMillis: 1000},
		{RelPath: "app/classes/pkg/Foo.class", Size: 200, ModTimeMillis: 2000},
		{RelPath: "app/lib/b.jar", Size: 30, ModTimeMillis: 3000},
	}

	It("ignores input order and leaves the input alone", func() {
		reversed := []inventory.Artifact{artifacts[2], artifacts[1], artifacts[0]}
		Expect(inventory.ComputeFingerprint(reversed, 5)).To(Equal(inventory.ComputeFingerprint(artifacts, 5)))
		Expect(reversed[0].RelPath).To(Equal("app/lib/b.jar"))
	})

	DescribeTable("detects changes",
		func(change func(a []inventory.Artifact) []inventory.Artifact) {
			changed := change(append([]inventory.Artifact(nil), artifacts...))
			Expect(inventory.ComputeFingerprint(changed, 5).Digest).
				NotTo(Equal(inventory.ComputeFingerprint(artifacts, 5).Digest))
		},
		Entry("size", func(a []inventory.Artifact) []inventory.Artifact { a[0].Size++; return a }),
		Entry("modification time", func(a []inventory.Artifact) []inventory.Artifact { a[1].ModTimeMillis++; return a }),
		Entry("path", func(a []inventory.Artifact) []inventory.Artifact { a[2].RelPath = "app/lib/c.jar"; return a }),
		Entry("removal", func(a []inventory.Artifact) []inventory.Artifact { return a[1:] }),
	)

	It("summarises itself", func() {
		fp := inventory.ComputeFingerprint(artifacts, 7)
		Expect(fp.Digest).To(HaveLen(64))
		Expect(fp.String()).To(Equal(fp.Digest[:12] + " (artifacts=3, entries=7)"))
	})
})
