package model

// Position is the static clause a parameter reference sits in.
type Position string

const (
	PositionWhere      Position = "WHERE"
	PositionOrderBy    Position = "ORDER_BY"
	PositionLimit      Position = "LIMIT"
	PositionSelectList Position = "SELECT_LIST"
	PositionOther      Position = "OTHER"
)

// BindingMode distinguishes driver-bound parameters from text substitution.
type BindingMode string

const (
	SafeBound       BindingMode = "SAFE_BOUND"
	RawSubstitution BindingMode = "RAW_SUBSTITUTION"
)

// Param is one declared parameter of a mapper method.
type Param struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
}

// MethodSignature is the call-site metadata of the method that executes a template.
type MethodSignature struct {
	Params []Param    `json:"params" yaml:"params"`
	Paging PagingKind `json:"paging,omitempty" yaml:"paging"`
}

// Lookup returns the declared parameter with the given name.
func (s *MethodSignature) Lookup(name string) (Param, bool) {
	if s == nil {
		return Param{}, false
	}
	for _, p := range s.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// ParameterUsage describes one parameter marker found in a template.
type ParameterUsage struct {
	Name     string      `json:"name"`
	Type     string      `json:"type,omitempty"`
	Position Position    `json:"position"`
	Mode     BindingMode `json:"mode"`
	Dynamic  bool        `json:"dynamic"`
	Resolved bool        `json:"resolved"`
}

// StructuralIssues are the template-level findings forwarded to the auditor.
type StructuralIssues struct {
	WhereMayDisappear bool     `json:"where_may_disappear"`
	AlwaysTrue        bool     `json:"always_true"`
	NoWhere           bool     `json:"no_where"`
	MissingPagination bool     `json:"missing_pagination"`
	RawParams         []string `json:"raw_params,omitempty"`
	RawInOrderBy      []string `json:"raw_in_order_by,omitempty"`
	Evidence          []string `json:"evidence,omitempty"`
}

// Any reports whether at least one flag is raised.
func (s *StructuralIssues) Any() bool {
	if s == nil {
		return false
	}
	return s.WhereMayDisappear || s.AlwaysTrue || s.NoWhere || s.MissingPagination || len(s.RawParams) > 0
}
