package facility

import (
	_ "embed"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// TypeInfo is one entry of the facility type catalog.
type TypeInfo struct {
	ID       Type   `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Category string `json:"category" yaml:"category"`
}

//go:embed catalog.yaml
var catalogYAML []byte

var (
	catalog      = mustParseCatalog(catalogYAML)
	catalogIndex = indexCatalog(catalog)
)

// parseCatalog decodes and checks a catalog document.
func parseCatalog(data []byte) ([]TypeInfo, error) {
	var types []TypeInfo
	if err := yaml.Unmarshal(data, &types); err != nil {
		return nil, eris.Wrap(err, "facility: parse catalog")
	}
	if len(types) == 0 {
		return nil, eris.New("facility: empty catalog")
	}
	seen := make(map[Type]bool, len(types))
	for _, t := range types {
		if t.ID == "" || t.Name == "" {
			return nil, eris.Errorf("facility: catalog entry missing id or name: %+v", t)
		}
		if seen[t.ID] {
			return nil, eris.Errorf("facility: duplicate catalog id %q", t.ID)
		}
		seen[t.ID] = true
	}
	return types, nil
}

func mustParseCatalog(data []byte) []TypeInfo {
	types, err := parseCatalog(data)
	if err != nil {
		panic(err)
	}
	return types
}

func indexCatalog(types []TypeInfo) map[Type]TypeInfo {
	idx := make(map[Type]TypeInfo, len(types))
	for _, t := range types {
		idx[t.ID] = t
	}
	return idx
}

// Catalog returns a copy of the ordered facility type catalog.
func Catalog() []TypeInfo {
	out := make([]TypeInfo, len(catalog))
	copy(out, catalog)
	return out
}

// Lookup returns the catalog entry for t.
func Lookup(t Type) (TypeInfo, bool) {
	info, ok := catalogIndex[t]
	return info, ok
}

// ParseType converts s into a catalog Type.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", &ValidationError{Code: CodeInvalidType, Field: "type", Message: "unknown facility type " + s}
	}
	return t, nil
}
