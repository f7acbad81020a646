package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"sql-guard/internal/model"
)

type signaturesFile struct {
	Signatures map[string]model.MethodSignature `yaml:"signatures"`
}

// LoadSignatures reads call-site signatures keyed by statement id:
//
//	signatures:
//	  UserMapper.search:
//	    params:
//	      - {name: name, type: String}
//	      - {name: bounds, type: RowBounds}
//	    paging: row_bounds
func LoadSignatures(path string) (map[string]model.MethodSignature, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signatures: %w", err)
	}
	return ParseSignatures(data)
}

func ParseSignatures(data []byte) (map[string]model.MethodSignature, error) {
	var doc signaturesFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse signatures: %w", err)
	}
	for id, sig := range doc.Signatures {
		switch sig.Paging {
		case model.PagingNone, model.PagingRowBounds, model.PagingPageDescriptor:
		default:
			return nil, fmt.Errorf("signature %s: unknown paging kind %q", id, sig.Paging)
		}
		for i, p := range sig.Params {
			if p.Name == "" {
				return nil, fmt.Errorf("signature %s: parameter %d has no name", id, i)
			}
		}
	}
	if doc.Signatures == nil {
		doc.Signatures = make(map[string]model.MethodSignature)
	}
	return doc.Signatures, nil
}
