// pkg/tenants/sources.go
package tenants

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// fileDoc is the top-level shape of a registry file:
//
//	apps:
//	  - id: client-abc
//	    secret: abc-secret-123
//	    allowed_origins: ["https://www.abc.test", "*.abc.test"]
//	    name: ABC
type fileDoc struct {
	Apps []Record `json:"apps" yaml:"apps"`
}

// LoadFile reads tenant records from a YAML or JSON file.
func LoadFile(path string) ([]Record, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc fileDoc
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(b, &doc); err != nil {
			return nil, fmt.Errorf("json parse: %w", err)
		}
	default:
		if err := yaml.Unmarshal(b, &doc); err != nil {
			return nil, fmt.Errorf("yaml parse: %w", err)
		}
	}
	return doc.Apps, nil
}

// ParseSeed decodes TENANT_SEED_JSON: a JSON array of records.
func ParseSeed(seed string) ([]Record, error) {
	if strings.TrimSpace(seed) == "" {
		return nil, nil
	}
	var recs []Record
	if err := json.Unmarshal([]byte(seed), &recs); err != nil {
		return nil, fmt.Errorf("tenant seed: %w", err)
	}
	return recs, nil
}

// DevRecords is the local bring-up tenant used when nothing else is configured.
func DevRecords() []Record {
	return []Record{{
		ID:             "client-test",
		Secret:         "test-secret-456",
		AllowedOrigins: []string{"http://localhost:3000", "http://127.0.0.1:3000"},
		Name:           "Local test client",
		Description:    "local development tenant",
	}}
}
