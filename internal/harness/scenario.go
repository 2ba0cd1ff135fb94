package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/aggql/internal/querydoc"
)

// Scenario defines one query against a set of models together with what
// the engine is expected to make of it.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Models is the CUE models directory, relative to the scenario file.
	Models string `yaml:"models"`

	// Dialect selects the SQL dialect. Defaults to sqlite.
	Dialect string `yaml:"dialect,omitempty"`

	// Setup holds SQL statements run against a fresh in-memory SQLite
	// database before the query. Without setup the query is only compiled.
	Setup []string `yaml:"setup,omitempty"`

	// Query is the request under test.
	Query querydoc.Document `yaml:"query"`

	// Expect describes an expected rejection. Nil means the query must
	// succeed.
	Expect *ExpectClause `yaml:"expect,omitempty"`

	// Assertions validate the compiled SQL and the result rows.
	Assertions []Assertion `yaml:"assertions,omitempty"`

	// RequestID is the request ID the engine logs the execution under.
	// If empty, defaults to "scenario-<name>".
	RequestID string `yaml:"request_id,omitempty"`

	// dir is the directory the scenario was loaded from.
	dir string
}

// ExpectClause specifies an expected engine error.
type ExpectClause struct {
	// Error is the expected error code, e.g. "INVALID_OPERATION".
	Error string `yaml:"error"`

	// Message is a substring the error message must contain.
	Message string `yaml:"message,omitempty"`
}

// Assertion validates the compiled SQL or the result.
type Assertion struct {
	// Type specifies the assertion type:
	// - "sql_contains": the data SQL contains Text
	// - "sql_not_contains": the data SQL does not contain Text
	// - "join_count": the data SQL has Count JOIN clauses
	// - "row_count": the result has Count records
	// - "row": record Index has the Expect attribute values
	// - "total": the pagination total is Count
	Type string `yaml:"type"`

	Text   string         `yaml:"text,omitempty"`
	Count  int            `yaml:"count,omitempty"`
	Index  int            `yaml:"index,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertSQLContains    = "sql_contains"
	AssertSQLNotContains = "sql_not_contains"
	AssertJoinCount      = "join_count"
	AssertRowCount       = "row_count"
	AssertRow            = "row"
	AssertTotal          = "total"
)

// LoadScenario loads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse scenario YAML: %w", err)
	}

	abs, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("resolving scenario directory: %w", err)
	}
	s.dir = abs

	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return &s, nil
}

// ModelsDir resolves Models against the scenario's directory.
func (s *Scenario) ModelsDir() string {
	if filepath.IsAbs(s.Models) || s.dir == "" {
		return s.Models
	}
	return filepath.Join(s.dir, s.Models)
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Models == "" {
		return fmt.Errorf("models is required")
	}
	if s.Query.Table == "" && s.Query.Source == nil {
		return fmt.Errorf("query needs a table or a source query")
	}
	if s.Expect != nil && s.Expect.Error == "" {
		return fmt.Errorf("expect.error is required")
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a, len(s.Setup) > 0); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a Assertion, executes bool) error {
	switch a.Type {
	case AssertSQLContains, AssertSQLNotContains:
		if a.Text == "" {
			return fmt.Errorf("assertions[%d]: text is required for %s", index, a.Type)
		}
	case AssertJoinCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertRowCount, AssertTotal, AssertRow:
		if !executes {
			return fmt.Errorf("assertions[%d]: %s needs setup data to run the query against", index, a.Type)
		}
		if a.Type == AssertRow && len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for row", index)
		}
		if a.Count < 0 || a.Index < 0 {
			return fmt.Errorf("assertions[%d]: count and index must be non-negative", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
