// ABOUTME: Arena rule tree with precomputed ordered child lists
// ABOUTME: Build validates ids, parents, cycles and compiles every expression

package rule

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/antchfx/xpath"
	"github.com/nainya/leostore/pkg/typeof"
)

// NoParent marks a root rule.
const NoParent = -1

// Rule is one compiled extraction rule.
type Rule struct {
	ID     string
	Name   string
	XPath  string
	Regex  *regexp.Regexp
	Sub    string
	Type   typeof.Tag
	Parent int
}

func (r *Rule) String() string {
	return fmt.Sprintf("%s::%s(%s)", r.Type, r.Name, r.XPath)
}

// Tree stores rules by index. Children and roots keep declaration order.
type Tree struct {
	rules    []Rule
	children [][]int
	roots    []int
}

func (t *Tree) Len() int             { return len(t.rules) }
func (t *Tree) Rule(i int) *Rule     { return &t.rules[i] }
func (t *Tree) Roots() []int         { return t.roots }
func (t *Tree) Children(i int) []int { return t.children[i] }

// Walk visits rules depth first in declaration order.
func (t *Tree) Walk(fn func(i, depth int)) {
	var visit func(i, depth int)
	visit = func(i, depth int) {
		fn(i, depth)
		for _, c := range t.children[i] {
			visit(c, depth+1)
		}
	}
	for _, r := range t.roots {
		visit(r, 0)
	}
}

func (t *Tree) String() string {
	var b strings.Builder
	t.Walk(func(i, depth int) {
		b.WriteString(strings.Repeat(" ", depth*3))
		b.WriteString("|_ ")
		b.WriteString(t.rules[i].String())
		b.WriteByte('\n')
	})
	return b.String()
}

// Compile returns a fresh XPath expression per rule, indexed like the tree.
// Compiled expressions carry evaluation state, so each goroutine needs its own set.
func (t *Tree) Compile() ([]*xpath.Expr, error) {
	out := make([]*xpath.Expr, len(t.rules))
	for i := range t.rules {
		expr, err := xpath.Compile(t.rules[i].XPath)
		if err != nil {
			return nil, &BuildError{ID: t.rules[i].ID, Name: t.rules[i].Name, Err: fmt.Errorf("%w: %v", ErrBadExpression, err)}
		}
		out[i] = expr
	}
	return out, nil
}

type flatRule struct {
	cfg    RuleConfig
	parent string
}

// BuildTree validates rule declarations and arranges them into a tree.
func BuildTree(decls []RuleConfig) (*Tree, error) {
	var flat []flatRule
	var flatten func(rs []RuleConfig, parent string, path string)
	flatten = func(rs []RuleConfig, parent string, path string) {
		for _, rc := range rs {
			if rc.ID == "" {
				rc.ID = path + rc.Name
			}
			p := rc.Parent
			if parent != "" {
				p = parent
			}
			flat = append(flat, flatRule{cfg: rc, parent: p})
			flatten(rc.Children, rc.ID, rc.ID+"/")
		}
	}
	flatten(decls, "", "")

	index := make(map[string]int, len(flat))
	for i, fr := range flat {
		if strings.TrimSpace(fr.cfg.Name) == "" {
			return nil, &BuildError{ID: fr.cfg.ID, Err: fmt.Errorf("%w: empty name", ErrInvalidConfig)}
		}
		if _, dup := index[fr.cfg.ID]; dup {
			return nil, &BuildError{ID: fr.cfg.ID, Name: fr.cfg.Name, Err: fmt.Errorf("%w: id", ErrDuplicateRule)}
		}
		index[fr.cfg.ID] = i
	}

	t := &Tree{
		rules:    make([]Rule, len(flat)),
		children: make([][]int, len(flat)),
	}
	siblings := make(map[string]struct{}, len(flat))
	for i, fr := range flat {
		r, err := compileRule(fr.cfg)
		if err != nil {
			return nil, err
		}
		r.Parent = NoParent
		if fr.parent != "" {
			p, ok := index[fr.parent]
			if !ok {
				return nil, &BuildError{ID: r.ID, Name: r.Name, Err: fmt.Errorf("%w: %q", ErrUnknownParent, fr.parent)}
			}
			r.Parent = p
		}
		key := fmt.Sprintf("%d/%s", r.Parent, r.Name)
		if _, dup := siblings[key]; dup {
			return nil, &BuildError{ID: r.ID, Name: r.Name, Err: fmt.Errorf("%w: sibling name", ErrDuplicateRule)}
		}
		siblings[key] = struct{}{}
		t.rules[i] = r
	}

	for i := range t.rules {
		if err := t.checkAncestry(i); err != nil {
			return nil, err
		}
		if p := t.rules[i].Parent; p == NoParent {
			t.roots = append(t.roots, i)
		} else {
			t.children[p] = append(t.children[p], i)
		}
	}
	return t, nil
}

func (t *Tree) checkAncestry(i int) error {
	steps := 0
	for p := t.rules[i].Parent; p != NoParent; p = t.rules[p].Parent {
		steps++
		if p == i || steps > len(t.rules) {
			return &BuildError{ID: t.rules[i].ID, Name: t.rules[i].Name, Err: ErrCycle}
		}
	}
	return nil
}

func compileRule(rc RuleConfig) (Rule, error) {
	r := Rule{
		ID:    rc.ID,
		Name:  rc.Name,
		XPath: rc.XPath,
		Type:  typeof.Parse(rc.Type),
	}
	if _, err := xpath.Compile(rc.XPath); err != nil {
		return r, &BuildError{ID: rc.ID, Name: rc.Name, Err: fmt.Errorf("%w: xpath: %v", ErrBadExpression, err)}
	}
	if rc.Regex != "" {
		re, err := regexp.Compile("(?i)" + rc.Regex)
		if err != nil {
			return r, &BuildError{ID: rc.ID, Name: rc.Name, Err: fmt.Errorf("%w: regex: %v", ErrBadExpression, err)}
		}
		r.Regex = re
		r.Sub = TranslateSub(rc.Sub)
	}
	return r, nil
}

var (
	namedGroupRef = regexp.MustCompile(`\\g<(\w+)>`)
	numberedRef   = regexp.MustCompile(`\\(\d+)`)
)

// TranslateSub rewrites \1 and \g<name> back-references into Go's ${1} form.
func TranslateSub(sub string) string {
	if sub == "" {
		return ""
	}
	sub = strings.ReplaceAll(sub, "$", "$$")
	sub = namedGroupRef.ReplaceAllString(sub, "$${$1}")
	return numberedRef.ReplaceAllString(sub, "$${$1}")
}
