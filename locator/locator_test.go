package locator_test

import (
	"os"
	"path/filepath"

	"github.com/arxeiss/deadcalls/locator"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	. "github.com/onsi/gomega/gstruct"
)

func touch(path string) {
	GinkgoHelper()
	Expect(os.MkdirAll(filepath.Dir(path), 0o755)).To(Succeed())
	Expect(os.WriteFile(path, []byte("x"), 0o644)).To(Succeed())
}

var _ = Describe("Locator", func() {
	var (
		dir string
		l   *locator.Locator
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		l = locator.New(nil)
	})

	It("adds archives as-is", func() {
		touch(filepath.Join(dir, "app.jar"))

		locs, errs := l.Resolve([]string{filepath.Join(dir, "app.jar")})
		Expect(errs).To(BeEmpty())
		Expect(locs).To(ConsistOf(MatchFields(IgnoreExtras, Fields{
			"Path": Equal(filepath.Join(dir, "app.jar")),
			"Kind": Equal(locator.KindArchive),
		})))
	})

	It("marks directories with class files as classpath roots", func() {
		touch(filepath.Join(dir, "classes", "pkg", "Foo.class"))
		touch(filepath.Join(dir, "lib", "dep.jar"))

		locs, errs := l.Resolve([]string{dir})
		Expect(errs).To(BeEmpty())
		Expect(locs).To(HaveLen(1))
		Expect(locs[0].Kind).To(Equal(locator.KindDirectory))
		Expect(locs[0].Classpath).To(BeTrue())
		Expect(locs[0].Archives).To(BeTrue())
		Expect(locs[0].Sources).To(BeFalse())
		Expect(locs[0].Root).To(Equal(dir))
	})

	It("detects source trees", func() {
		touch(filepath.Join(dir, "src", "pkg", "Foo.java"))

		locs, errs := l.Resolve([]string{dir})
		Expect(errs).To(BeEmpty())
		Expect(locs).To(HaveLen(1))
		Expect(locs[0].Sources).To(BeTrue())
		Expect(locs[0].Classpath).To(BeFalse())
	})

	It("reports missing roots without stopping", func() {
		touch(filepath.Join(dir, "app.jar"))
		missing := filepath.Join(dir, "nope")

		locs, errs := l.Resolve([]string{missing, filepath.Join(dir, "app.jar")})
		Expect(locs).To(HaveLen(1))
		Expect(errs).To(HaveLen(1))

		var notFound *locator.LocationNotFoundError
		Expect(errs[0]).To(BeAssignableToTypeOf(notFound))
		Expect(errs[0]).To(MatchError("code location not found: " + missing))
	})

	DescribeTable("rejects artifacts it cannot scan",
		func(name, reason string) {
			path := filepath.Join(dir, name)
			touch(path)

			locs, errs := l.Resolve([]string{path})
			Expect(locs).To(BeEmpty())
			Expect(errs).To(ConsistOf(PointTo(MatchAllFields(Fields{
				"Path":   Equal(path),
				"Reason": Equal(reason),
			}))))
		},
		Entry("war", "app.war", "archive must be exploded before scanning"),
		Entry("ear", "app.EAR", "archive must be exploded before scanning"),
		Entry("text file", "notes.txt", "not a directory or code archive"),
	)

	It("rejects directories without code", func() {
		touch(filepath.Join(dir, "README.md"))

		_, errs := l.Resolve([]string{dir})
		Expect(errs).To(HaveLen(1))
		Expect(errs[0]).To(MatchError(ContainSubstring("directory holds no class files, sources or archives")))
	})

	It("expands glob roots in sorted order", func() {
		touch(filepath.Join(dir, "libs", "b.jar"))
		touch(filepath.Join(dir, "libs", "a.jar"))
		touch(filepath.Join(dir, "libs", "c.txt"))

		locs, errs := l.Resolve([]string{filepath.Join(dir, "libs", "*.jar")})
		Expect(errs).To(BeEmpty())
		Expect(locs).To(HaveLen(2))
		Expect(locs[0].Path).To(Equal(filepath.Join(dir, "libs", "a.jar")))
		Expect(locs[1].Path).To(Equal(filepath.Join(dir, "libs", "b.jar")))
	})

	It("reports globs without matches", func() {
		_, errs := l.Resolve([]string{filepath.Join(dir, "*.jar")})
		Expect(errs).To(HaveLen(1))
		Expect(errs[0]).To(MatchError(ContainSubstring("code location not found")))
	})

	It("collapses duplicate roots", func() {
		touch(filepath.Join(dir, "app.jar"))
		path := filepath.Join(dir, "app.jar")

		locs, errs := l.Resolve([]string{path, " " + path + " ", "", path})
		Expect(errs).To(BeEmpty())
		Expect(locs).To(HaveLen(1))
	})

	It("honours exclude patterns", func() {
		touch(filepath.Join(dir, "test-lib", "junit.jar"))
		l = locator.New(nil, "test-lib/**")

		_, errs := l.Resolve([]string{dir})
		Expect(errs).To(HaveLen(1))

		var unsupported *locator.UnsupportedArtifactError
		Expect(errs[0]).To(BeAssignableToTypeOf(unsupported))
	})

	DescribeTable("matches exclude patterns",
		func(rel string, expected bool) {
			Expect(locator.Excluded([]string{"**/test/**", "*-sources.jar"}, rel)).To(Equal(expected))
		},
		Entry(nil, "lib/test/junit.jar", true),
		Entry(nil, "app-sources.jar", true),
		Entry(nil, "lib/app.jar", false),
	)
})
