package analysis

// Report is the JSON document printed by a Runner.
type Report struct {
	Fingerprint  string     // digest of the scanned artifacts
	Packages     []*Package // packages holding dead methods, sorted by path
	Unrecognized []string   // invoked signatures matching no inventory method
}

// Package represents a Java package with its never invoked methods.
type Package struct {
	Name    string    // last segment of the package
	Path    string    // fully qualified package, empty for the default package
	Methods []*Method // list of dead methods within it
}

// Method represents a dead method within a package with all details.
type Method struct {
	Type      string // declaring type, fully qualified
	Name      string // name sans type qualifier
	Signature string // normalized signature
	Static    bool   // method is static
	Abstract  bool   // method has no body
}
