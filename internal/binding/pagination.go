package binding

import (
	"regexp"
	"strings"

	"sql-guard/internal/model"
	"sql-guard/internal/template"
)

var limitWord = regexp.MustCompile(`(?i)\b(?:LIMIT|OFFSET|FETCH\s+(?:FIRST|NEXT))\b`)

// pagingCarrierTypes maps parameter type names that carry paging outside
// the SQL text to their kind.
var pagingCarrierTypes = map[string]model.PagingKind{
	"rowbounds":   model.PagingRowBounds,
	"page":        model.PagingPageDescriptor,
	"ipage":       model.PagingPageDescriptor,
	"pageable":    model.PagingPageDescriptor,
	"pagerequest": model.PagingPageDescriptor,
	"pageparam":   model.PagingPageDescriptor,
}

// DetectPagination reports whether a statement is paged by the template text
// itself or by a paging-carrier parameter of the signature.
func (a *Analyzer) DetectPagination(tpl *template.Template, sig *model.MethodSignature) Pagination {
	var p Pagination
	if tpl != nil {
		p.DirectiveLimit = limitWord.MatchString(tpl.StaticText())
		for _, ref := range tpl.Parameters() {
			if ref.Clause == model.PositionLimit {
				p.DirectiveLimit = true
			}
		}
	}
	if kind := carrierKind(sig); kind != model.PagingNone {
		p.HasPagination = true
		p.Kind = kind
	}
	if p.DirectiveLimit {
		p.HasPagination = true
	}
	return p
}

func carrierKind(sig *model.MethodSignature) model.PagingKind {
	if sig == nil {
		return model.PagingNone
	}
	if sig.Paging != model.PagingNone {
		return sig.Paging
	}
	for _, param := range sig.Params {
		t := param.Type
		if i := strings.LastIndexAny(t, "."); i >= 0 {
			t = t[i+1:]
		}
		if i := strings.IndexByte(t, '<'); i >= 0 {
			t = t[:i]
		}
		if kind, ok := pagingCarrierTypes[strings.ToLower(t)]; ok {
			return kind
		}
	}
	return model.PagingNone
}
