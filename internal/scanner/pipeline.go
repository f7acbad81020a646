package scanner

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sql-guard/internal/auditor"
	"sql-guard/internal/binding"
	"sql-guard/internal/extractor"
	"sql-guard/internal/model"
	"sql-guard/internal/parser"
	"sql-guard/internal/template"
	"sql-guard/internal/variant"
)

// Pipeline turns a source tree into a report: files are extracted by the
// worker pool, then every segment is analysed independently by a bounded
// errgroup.
type Pipeline struct {
	auditor    *auditor.Auditor
	extractors *extractor.Manager
	generator  *variant.Generator
	analyzer   *binding.Analyzer
	signatures map[string]model.MethodSignature
	excludes   []string
	workers    int
	logger     *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

func WithExcludes(patterns []string) Option {
	return func(p *Pipeline) { p.excludes = patterns }
}

// WithSignatures supplies call-site signatures keyed by statement id.
func WithSignatures(sigs map[string]model.MethodSignature) Option {
	return func(p *Pipeline) { p.signatures = sigs }
}

func WithExtractors(m *extractor.Manager) Option {
	return func(p *Pipeline) {
		if m != nil {
			p.extractors = m
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

func NewPipeline(a *auditor.Auditor, sqlParser *parser.SQLParser, opts ...Option) *Pipeline {
	if sqlParser == nil {
		sqlParser = parser.NewSQLParser()
	}
	p := &Pipeline{
		auditor:    a,
		extractors: extractor.NewDefaultManager(),
		workers:    runtime.NumCPU(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("scanner")
	p.generator = variant.NewGenerator(sqlParser, variant.WithLogger(p.logger))
	p.analyzer = binding.NewAnalyzer(p.logger)
	return p
}

// Scan walks root and analyses every extracted statement. Per-file and
// per-template failures become issues; only a failing walk or a cancelled
// ctx returns an error.
func (p *Pipeline) Scan(ctx context.Context, root string) (*model.Report, error) {
	report := &model.Report{
		ID:        uuid.NewString(),
		Source:    root,
		StartedAt: time.Now(),
	}
	log := p.logger.With(zap.String("scan_id", report.ID))

	walker := NewFileWalker(p.extractors.Extensions(), p.excludes)
	paths, walkErrs := walker.Walk(ctx, root)
	pool := NewWorkerPool(p.workers, p.extractors.Extract)

	var segments []model.SQLSegment
	for res := range pool.Start(ctx, paths) {
		report.Files++
		if res.Error != nil {
			log.Warn("extraction failed", zap.String("file", res.File), zap.Error(res.Error))
			report.Issues = append(report.Issues, model.Issue{
				Type:     model.IssueMalformedTemplate,
				Level:    model.RiskHigh,
				Strategy: model.StrategyWarn,
				Message:  fmt.Sprintf("file could not be extracted: %v", res.Error),
				Segment:  model.SQLSegment{Location: model.Location{FilePath: res.File}},
			})
			continue
		}
		segments = append(segments, res.Segments...)
	}
	if err := <-walkErrs; err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	report.Statements = len(segments)

	results := make([]SegmentResult, len(segments))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, seg := range segments {
		i, seg := i, seg
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = p.AnalyzeSegment(seg)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, r := range results {
		report.Variants += r.Variants
		report.Issues = append(report.Issues, r.Issues...)
	}
	report.Sort()
	report.Duration = time.Since(report.StartedAt)
	log.Info("scan complete",
		zap.Int("files", report.Files),
		zap.Int("statements", report.Statements),
		zap.Int("variants", report.Variants),
		zap.Int("issues", len(report.Issues)),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

// SegmentResult is the outcome of analysing one extracted statement.
type SegmentResult struct {
	Variants int
	Issues   []model.Issue
	Binding  *binding.Report
}

// AnalyzeSegment validates a static statement directly, or expands a
// template into variants and validates each valid one with the template's
// structural findings attached. Identical findings across variants are
// reported once. Variants that do not parse are reported as a single LOG
// diagnostic, unless no variant parses at all.
func (p *Pipeline) AnalyzeSegment(seg model.SQLSegment) SegmentResult {
	if !seg.IsTemplate() {
		res := p.auditor.Validate(p.contextFor(seg, seg.SQL, nil, model.PagingNone))
		return SegmentResult{Variants: 1, Issues: p.issues(seg, seg.SQL, res, nil)}
	}

	if strings.TrimSpace(seg.Template) == "" {
		return SegmentResult{Issues: []model.Issue{p.malformedTemplate(seg, "empty statement body")}}
	}
	tpl, err := template.ParseWithOptions(seg.Template, template.Options{Fragments: seg.Fragments})
	if err != nil {
		p.logger.Debug("template rejected", zap.String("statement_id", seg.StatementID), zap.Error(err))
		return SegmentResult{Issues: []model.Issue{p.malformedTemplate(seg, err.Error())}}
	}

	var sig *model.MethodSignature
	if s, ok := p.signatures[seg.StatementID]; ok {
		sig = &s
	}
	cmd := seg.CommandType
	if cmd == model.CommandUnknown {
		cmd = ""
	}
	br := p.analyzer.Analyze(tpl, sig, cmd)

	variants := p.generator.Generate(tpl)
	if len(variants) == 0 {
		variants = []variant.ConcreteVariant{p.generator.Static(tpl)}
	}

	out := SegmentResult{Variants: len(variants), Binding: br}
	checked := variant.ValidOnly(variants)
	switch {
	case len(checked) == 0:
		// nothing parses: the baseline stands for the template as malformed SQL
		checked = variants[:1]
	case len(checked) < len(variants):
		out.Issues = append(out.Issues, p.invalidVariants(seg, variants, len(checked)))
	}

	seen := make(map[string]bool)
	for _, v := range checked {
		structure := br.Structure
		res := p.auditor.Validate(p.contextFor(seg, v.SQL, &structure, br.Pagination.Kind))
		out.Issues = append(out.Issues, p.issues(seg, v.SQL, res, seen)...)
	}
	return out
}

// invalidVariants reports the renderings that do not parse as one
// diagnostic. They are never validated, so they cannot block.
func (p *Pipeline) invalidVariants(seg model.SQLSegment, variants []variant.ConcreteVariant, valid int) model.Issue {
	var first variant.ConcreteVariant
	for _, v := range variants {
		if !v.Valid {
			first = v
			break
		}
	}
	p.logger.Debug("invalid variants skipped",
		zap.String("statement_id", seg.StatementID),
		zap.Int("invalid", len(variants)-valid),
		zap.String("states", first.Describe()),
		zap.Error(first.Err),
	)
	return model.Issue{
		Type:     model.IssueInvalidVariant,
		Level:    model.RiskLow,
		Strategy: model.StrategyLog,
		Message: fmt.Sprintf("%d of %d variants do not parse and were not validated (%s)",
			len(variants)-valid, len(variants), first.Describe()),
		Suggestion: "Check that every combination of optional fragments still forms a complete statement.",
		SQL:        first.SQL,
		Segment:    seg,
	}
}

func (p *Pipeline) contextFor(seg model.SQLSegment, sql string, structure *model.StructuralIssues, paging model.PagingKind) *model.SQLContext {
	cmd := seg.CommandType
	if cmd == model.CommandUnknown {
		cmd = ""
	}
	return &model.SQLContext{
		SQL:            sql,
		CommandType:    cmd,
		ExecutionLayer: model.LayerScan,
		StatementID:    seg.StatementID,
		PagingHint:     paging,
		Structure:      structure,
	}
}

// issues converts a result into located issues. seen, when non-nil,
// suppresses findings already reported for the same segment.
func (p *Pipeline) issues(seg model.SQLSegment, sql string, res *model.ValidationResult, seen map[string]bool) []model.Issue {
	var out []model.Issue
	for _, v := range res.Violations {
		key := v.Checker + "\x00" + v.Message
		if seen != nil {
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		is := model.Issue{
			Type:       v.Checker,
			Level:      v.RiskLevel,
			Message:    v.Message,
			Suggestion: v.Suggestion,
			SQL:        sql,
			Segment:    seg,
		}
		is.Strategy, _ = p.auditor.Strategy(v.Checker)
		if v.Checker == auditor.ParserChecker {
			is.Type = model.IssueMalformedSQL
			if hostLiteral(seg) {
				// a string literal may be a fragment of a larger statement
				is.Level = model.RiskLow
				is.Strategy = model.StrategyLog
			}
		}
		out = append(out, is)
	}
	for _, f := range auditor.Failures(res) {
		p.logger.Debug("checker failed during scan",
			zap.String("checker", f.Checker),
			zap.String("file", seg.Location.FilePath),
			zap.Int("line", seg.Location.Line),
		)
	}
	return out
}

func (p *Pipeline) malformedTemplate(seg model.SQLSegment, msg string) model.Issue {
	return model.Issue{
		Type:       model.IssueMalformedTemplate,
		Level:      model.RiskHigh,
		Strategy:   model.StrategyWarn,
		Message:    msg,
		Suggestion: "Fix the mapper markup; a template that cannot be parsed is never analysed.",
		Segment:    seg,
	}
}

func hostLiteral(seg model.SQLSegment) bool {
	switch seg.Language {
	case "xml", "sql":
		return false
	}
	return true
}
