package concept

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v2"
)

// overrideFile is the YAML shape accepted by Load:
//
//	mappings:
//	  - metric: revenue
//	    statement: income_statement
//	    concepts: [us-gaap:Revenues, ifrs-full:Revenue]
type overrideFile struct {
	Mappings []Mapping `yaml:"mappings"`
}

// Load returns the default map with the mappings in path merged over it.
// An empty path returns Default().
func Load(path string) (*Map, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read concept overrides %s", path)
	}
	return Parse(data)
}

// Parse merges YAML override data over the default mappings.
func Parse(data []byte) (*Map, error) {
	var file overrideFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, eris.Wrap(err, "parse concept overrides")
	}
	for _, mp := range file.Mappings {
		if mp.Statement != "" && !mp.Statement.Valid() {
			return nil, eris.Errorf("concept override %q: unknown statement %q", mp.Metric, mp.Statement)
		}
		if len(mp.Concepts) == 0 {
			return nil, eris.Errorf("concept override %q: no concepts", mp.Metric)
		}
	}
	all := append(append([]Mapping(nil), defaultMappings...), file.Mappings...)
	return New(all...), nil
}
