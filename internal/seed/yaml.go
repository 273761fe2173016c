package seed

import (
	"io"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/proximity-cli/internal/model"
)

type yamlFile struct {
	Candidates []model.RawCandidate `yaml:"candidates"`
}

// ReadYAML parses a document of the form:
//
//	candidates:
//	  - external_id: ChIJ...
//	    location: {lat: 42.34, lon: -71.09}
//	    attributes: {name: CVS}
func ReadYAML(r io.Reader) ([]model.RawCandidate, error) {
	var doc yamlFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, eris.Wrap(err, "seed: decode yaml")
	}
	for i, c := range doc.Candidates {
		if c.ExternalID == "" {
			return nil, eris.Errorf("seed: candidate %d has no external_id", i)
		}
	}
	return doc.Candidates, nil
}
