// ABOUTME: Extraction engine applying a rule tree to every section of a page
// ABOUTME: Sections run on a bounded worker pool, each worker with its own compiled expressions

package extract

import (
	"fmt"
	"io"
	"runtime"
	"strconv"

	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"
	"github.com/nainya/leostore/pkg/rule"
	"github.com/nainya/leostore/pkg/typeof"
	"github.com/rs/zerolog"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"
)

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers bounds the number of sections processed concurrently.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithLogger sets the logger used for the rule walk.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// Engine extracts records with one parser. It is safe for concurrent use.
type Engine struct {
	parser  *rule.Parser
	section *xpath.Expr
	workers int
	log     zerolog.Logger
}

// New creates an engine for p.
func New(p *rule.Parser, opts ...Option) (*Engine, error) {
	section, err := xpath.Compile(p.Section)
	if err != nil {
		return nil, fmt.Errorf("compile section %q: %w", p.Section, err)
	}
	e := &Engine{
		parser:  p,
		section: section,
		workers: runtime.GOMAXPROCS(0),
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Parser returns the rule set the engine was built from.
func (e *Engine) Parser() *rule.Parser { return e.parser }

// Parse extracts records from raw markup.
func (e *Engine) Parse(raw []byte) (*Result, error) {
	doc, err := LoadHTML(raw)
	if err != nil {
		return nil, err
	}
	return e.ParseNode(doc)
}

// ParseReader reads markup fully before parsing so its charset can be detected.
func (e *Engine) ParseReader(r io.Reader) (*Result, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	return e.Parse(raw)
}

type sectionOutput struct {
	record *Record
	faults []Fault
}

// ParseNode extracts records from an already parsed document.
func (e *Engine) ParseNode(doc *html.Node) (*Result, error) {
	sections := htmlquery.QuerySelectorAll(doc, e.section)
	outputs := make([]sectionOutput, len(sections))

	workers := min(e.workers, len(sections))
	jobs := make(chan int)
	var g errgroup.Group
	for n := 0; n < workers; n++ {
		g.Go(func() error {
			exprs, err := e.parser.Tree.Compile()
			if err != nil {
				for range jobs {
				}
				return err
			}
			w := &walker{
				tree:  e.parser.Tree,
				types: e.parser.Types,
				exprs: exprs,
				log:   e.log,
			}
			for i := range jobs {
				w.section = i
				w.faults = nil
				rec := NewRecord()
				for _, root := range w.tree.Roots() {
					w.visit(root, sections[i], rec, 0)
				}
				outputs[i] = sectionOutput{record: rec, faults: w.faults}
			}
			return nil
		})
	}
	for i := range sections {
		jobs <- i
	}
	close(jobs)
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := newResult()
	for _, out := range outputs {
		res.add(e.identity(out.record), out.record)
		res.Faults = append(res.Faults, out.faults...)
	}
	e.log.Debug().
		Str("parser", e.parser.Name).
		Int("sections", len(sections)).
		Int("records", res.Len()).
		Int("faults", len(res.Faults)).
		Msg("Parsed document")
	return res, nil
}

func (e *Engine) identity(rec *Record) string {
	if e.parser.Identity == "" {
		return ""
	}
	v, ok := rec.Get(e.parser.Identity)
	if !ok || v == nil {
		return ""
	}
	return typeof.Text(v)
}

type walker struct {
	tree    *rule.Tree
	types   *typeof.Registry
	exprs   []*xpath.Expr
	log     zerolog.Logger
	section int
	faults  []Fault
}

func (w *walker) fault(i int, err error) {
	r := w.tree.Rule(i)
	w.faults = append(w.faults, Fault{
		RuleID:  r.ID,
		Rule:    r.Name,
		Section: w.section,
		Kind:    classify(err),
		Err:     err,
	})
}

func (w *walker) children(i int, ctx *html.Node, rec *Record, depth int) {
	for _, c := range w.tree.Children(i) {
		w.visit(c, ctx, rec, depth+1)
	}
}

func (w *walker) visit(i int, ctx *html.Node, rec *Record, depth int) {
	r := w.tree.Rule(i)
	w.log.Debug().Int("section", w.section).Int("depth", depth).Str("rule", r.String()).Msg("Visit rule")

	value, err := w.apply(i, ctx)
	if err != nil {
		w.fault(i, err)
		rec.Set(r.Name, ErrorValue)
		w.children(i, ctx, rec, depth)
		return
	}

	switch v := value.(type) {
	case *html.Node:
		nested := NewRecord()
		rec.Set(r.Name, nested)
		w.children(i, v, nested, depth)
	case []any:
		if len(v) == 0 {
			w.fault(i, fmt.Errorf("%w: %s", ErrEmptyMatch, r.XPath))
			return
		}
		var terms *Record
		for n, elem := range v {
			if node, ok := elem.(*html.Node); ok {
				nested := NewRecord()
				rec.Set(r.Name+"_"+strconv.Itoa(n), nested)
				w.children(i, node, nested, depth)
				continue
			}
			if terms == nil {
				terms = NewRecord()
				rec.Set(r.Name, terms)
			}
			terms.Set(strconv.Itoa(n), elem)
		}
		if terms != nil {
			w.children(i, ctx, terms, depth)
		}
	default:
		rec.Set(r.Name, value)
		w.children(i, ctx, rec, depth)
	}
}

// apply evaluates, refines and converts one rule against a context node.
func (w *walker) apply(i int, ctx *html.Node) (value any, err error) {
	r := w.tree.Rule(i)
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %s: %v", ErrEvaluation, r.XPath, p)
		}
	}()

	raw := evaluate(w.exprs[i], ctx)
	if r.Regex != nil {
		var miss error
		if raw, miss = refine(r, raw); miss != nil {
			w.fault(i, miss)
		}
	}
	if r.Type == typeof.Passthrough {
		return raw, nil
	}
	if r.Type == typeof.Container {
		if seq, ok := raw.([]any); ok && len(seq) == 1 {
			return seq[0], nil
		}
		return raw, nil
	}
	if seq, ok := raw.([]any); ok && len(seq) == 0 {
		w.fault(i, fmt.Errorf("%w: %s", ErrEmptyMatch, r.XPath))
	}
	value, err = w.types.Convert(r.Type, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEvaluation, err)
	}
	return value, nil
}

// evaluate returns element nodes as *html.Node, other node kinds as their string
// value, and scalar results unchanged.
func evaluate(expr *xpath.Expr, ctx *html.Node) any {
	switch v := expr.Evaluate(htmlquery.CreateXPathNavigator(ctx)).(type) {
	case *xpath.NodeIterator:
		out := []any{}
		for v.MoveNext() {
			nav := v.Current()
			switch nav.NodeType() {
			case xpath.ElementNode, xpath.RootNode:
				out = append(out, nav.(*htmlquery.NodeNavigator).Current())
			default:
				out = append(out, nav.Value())
			}
		}
		return out
	default:
		return v
	}
}

// refine replaces each matched value with the text the rule's pattern finds in it.
// Values the pattern misses are kept as they are and reported in the returned error.
func refine(r *rule.Rule, raw any) (any, error) {
	var miss error
	one := func(v any) any {
		s := typeof.Text(v)
		loc := r.Regex.FindStringIndex(s)
		if loc == nil {
			if miss == nil {
				miss = &MismatchError{Patterns: []string{r.Regex.String()}, Value: s}
			}
			return v
		}
		matched := s[loc[0]:loc[1]]
		if r.Sub != "" {
			matched = r.Regex.ReplaceAllString(matched, r.Sub)
		}
		return matched
	}
	seq, ok := raw.([]any)
	if !ok {
		return one(raw), miss
	}
	out := make([]any, len(seq))
	for n, v := range seq {
		out[n] = one(v)
	}
	return out, miss
}
