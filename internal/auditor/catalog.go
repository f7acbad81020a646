package auditor

import (
	"fmt"
	"sort"
	"strings"

	"sql-guard/internal/model"
)

// RuleConfig is the per-checker section of the catalog configuration.
type RuleConfig struct {
	// Enabled defaults to true when unset.
	Enabled  *bool          `koanf:"enabled" yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Strategy string         `koanf:"strategy" yaml:"strategy,omitempty" json:"strategy,omitempty"`
	Risk     string         `koanf:"risk" yaml:"risk,omitempty" json:"risk,omitempty"`
	Options  map[string]any `koanf:"options" yaml:"options,omitempty" json:"options,omitempty"`
}

// Definition describes one checker of the catalog.
type Definition struct {
	Name        string
	Description string
	Risk        model.RiskLevel
	Strategy    model.ViolationStrategy
	// NeedsSchema marks checkers that only report when a schema is loaded.
	NeedsSchema bool
	New         func(opts Options, schema *model.SchemaCtx) (model.Checker, error)
}

// catalog is the fixed registration order.
var catalog = []Definition{
	{Name: "no_where_clause", Description: "UPDATE/DELETE without WHERE", Risk: model.RiskCritical, Strategy: model.StrategyBlock, New: newNoWhereRule},
	{Name: "dummy_condition", Description: "tautological conditions such as 1=1 or OR TRUE", Risk: model.RiskHigh, Strategy: model.StrategyBlock, New: newDummyConditionRule},
	{Name: "dangerous_function", Description: "denylisted functions anywhere in the statement", Risk: model.RiskCritical, Strategy: model.StrategyBlock, New: newDangerousFunctionRule},
	{Name: "sql_comment", Description: "comment markers outside literals", Risk: model.RiskCritical, Strategy: model.StrategyBlock, New: newSQLCommentRule},
	{Name: "multi_statement", Description: "statement separators outside literals", Risk: model.RiskCritical, Strategy: model.StrategyBlock, New: newMultiStatementRule},
	{Name: "into_outfile", Description: "SELECT INTO OUTFILE and LOAD DATA file access", Risk: model.RiskCritical, Strategy: model.StrategyBlock, New: newIntoOutfileRule},
	{Name: "ddl_operation", Description: "CREATE/ALTER/DROP/TRUNCATE/RENAME", Risk: model.RiskCritical, Strategy: model.StrategyBlock, New: newDDLOperationRule},
	{Name: "denied_table", Description: "access to denylisted tables", Risk: model.RiskHigh, Strategy: model.StrategyBlock, New: newDeniedTableRule},
	{Name: "set_operation", Description: "UNION/INTERSECT/EXCEPT", Risk: model.RiskHigh, Strategy: model.StrategyWarn, New: newSetOperationRule},
	{Name: "sql_injection", Description: "injection payloads in parameter values", Risk: model.RiskCritical, Strategy: model.StrategyBlock, New: newSQLInjectionRule},
	{Name: "dynamic_template", Description: "structural hazards of the originating template", Risk: model.RiskHigh, Strategy: model.StrategyBlock, New: newDynamicTemplateRule},
	{Name: "deep_pagination", Description: "large OFFSET values", Risk: model.RiskMedium, Strategy: model.StrategyWarn, New: newDeepPaginationRule},
	{Name: "large_page_size", Description: "large LIMIT row counts", Risk: model.RiskMedium, Strategy: model.StrategyWarn, New: newLargePageSizeRule},
	{Name: "no_pagination", Description: "unbounded SELECT without WHERE or LIMIT", Risk: model.RiskMedium, Strategy: model.StrategyWarn, New: newNoPaginationRule},
	{Name: "missing_order_by", Description: "LIMIT without ORDER BY", Risk: model.RiskLow, Strategy: model.StrategyLog, New: newMissingOrderByRule},
	{Name: "select_star", Description: "SELECT *", Risk: model.RiskLow, Strategy: model.StrategyLog, New: newSelectStarRule},
	{Name: "negative_query", Description: "NOT IN, != and leading-wildcard LIKE", Risk: model.RiskLow, Strategy: model.StrategyLog, New: newNegativeQueryRule},
	{Name: "index_miss", Description: "WHERE misses every index prefix", Risk: model.RiskLow, Strategy: model.StrategyLog, NeedsSchema: true, New: newIndexMissRule},
	{Name: "implicit_conversion", Description: "string column compared with a number", Risk: model.RiskMedium, Strategy: model.StrategyWarn, NeedsSchema: true, New: newImplicitConversionRule},
}

// Catalog returns the checker definitions in registration order.
func Catalog() []Definition {
	return append([]Definition(nil), catalog...)
}

// Lookup finds a definition by name.
func Lookup(name string) (Definition, bool) {
	for _, d := range catalog {
		if d.Name == name {
			return d, true
		}
	}
	return Definition{}, false
}

// Effective is the resolved configuration of one checker.
type Effective struct {
	Definition
	Enabled  bool
	Strategy model.ViolationStrategy
	Risk     model.RiskLevel
	Options  Options
}

// Resolve merges rules over the catalog defaults, in registration order.
// Unknown checker names, unknown strategies and unknown risk levels are errors.
func Resolve(rules map[string]RuleConfig) ([]Effective, error) {
	var unknown []string
	for name := range rules {
		if _, ok := Lookup(name); !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown checker(s): %s", strings.Join(unknown, ", "))
	}

	out := make([]Effective, 0, len(catalog))
	for _, d := range catalog {
		e := Effective{Definition: d, Enabled: true, Strategy: d.Strategy, Risk: d.Risk}
		rc, ok := rules[d.Name]
		if ok {
			if rc.Enabled != nil {
				e.Enabled = *rc.Enabled
			}
			if rc.Strategy != "" {
				s, err := model.ParseStrategy(rc.Strategy)
				if err != nil {
					return nil, fmt.Errorf("checker %s: %w", d.Name, err)
				}
				e.Strategy = s
			}
			if rc.Risk != "" {
				r, err := model.ParseRiskLevel(rc.Risk)
				if err != nil {
					return nil, fmt.Errorf("checker %s: %w", d.Name, err)
				}
				e.Risk = r
			}
			e.Options = Options(rc.Options)
		}
		out = append(out, e)
	}
	return out, nil
}

// Options holds checker-specific parameters.
type Options map[string]any

// Int reads an integer option. YAML and JSON numbers both decode.
func (o Options) Int(key string, def int64) (int64, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case uint64:
		return int64(n), nil
	case float64:
		if n != float64(int64(n)) {
			return 0, fmt.Errorf("option %s: %v is not an integer", key, v)
		}
		return int64(n), nil
	}
	return 0, fmt.Errorf("option %s: expected integer, got %T", key, v)
}

// Bool reads a boolean option.
func (o Options) Bool(key string, def bool) (bool, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("option %s: expected bool, got %T", key, v)
	}
	return b, nil
}

// Strings reads a list of strings option.
func (o Options) Strings(key string, def []string) ([]string, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}
	switch s := v.(type) {
	case []string:
		return s, nil
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("option %s: expected list of strings, found %T", key, item)
			}
			out = append(out, str)
		}
		return out, nil
	case string:
		// env and flag providers deliver comma-separated lists
		var out []string
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("option %s: expected list of strings, got %T", key, v)
}

func lowerSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[strings.ToLower(strings.TrimSpace(n))] = true
	}
	return set
}
