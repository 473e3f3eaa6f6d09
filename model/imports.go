package model

// Import represents a package import used by the artifact type registry to
// resolve short package aliases in output-format declarations.
type Import struct {
	Package string `json:"package" yaml:"package"`
	PkgPath string `json:"pkgPath" yaml:"pkgPath"`
}

// Imports represents a collection of package imports.
type Imports []*Import

// PkgPath returns the package path registered for pkg or "".
func (i Imports) PkgPath(pkg string) string {
	for _, item := range i {
		if item.Package == pkg {
			return item.PkgPath
		}
	}
	return ""
}

// HasPkgPath reports whether pkgPath is already registered.
func (i Imports) HasPkgPath(pkgPath string) bool {
	for _, item := range i {
		if item.PkgPath == pkgPath {
			return true
		}
	}
	return false
}
