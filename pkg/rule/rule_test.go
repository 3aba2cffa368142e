package rule

import (
	"errors"
	"testing"

	"github.com/nainya/leostore/pkg/typeof"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadYAML(t *testing.T) {
	p, err := Load("testdata/masterclass.yaml")
	require.NoError(t, err)

	assert.Equal(t, "masterclass", p.Name)
	assert.Equal(t, "uid", p.Identity)
	assert.Equal(t, "Europe/Moscow", p.Timezone)

	tree := p.Tree
	require.Len(t, tree.Roots(), 9)
	assert.Equal(t, "uid", tree.Rule(tree.Roots()[0]).Name)

	teacher := tree.Roots()[8]
	assert.Equal(t, typeof.Container, tree.Rule(teacher).Type)
	children := tree.Children(teacher)
	require.Len(t, children, 2)
	assert.Equal(t, "name", tree.Rule(children[0]).Name)
	assert.Equal(t, "bio", tree.Rule(children[1]).Name)
	assert.Equal(t, teacher, tree.Rule(children[0]).Parent)
	assert.Equal(t, "teacher/name", tree.Rule(children[0]).ID)

	age := tree.Rule(tree.Roots()[6])
	require.NotNil(t, age.Regex)
	assert.Equal(t, "${1}", age.Sub)
	assert.Equal(t, "12", age.Regex.ReplaceAllString(age.Regex.FindString("Возраст 12+"), age.Sub))
}

func TestLoadTOMLFlatParents(t *testing.T) {
	p, err := Load("testdata/masterclass.toml")
	require.NoError(t, err)

	tree := p.Tree
	require.Len(t, tree.Roots(), 2)
	teacher := tree.Roots()[1]
	require.Len(t, tree.Children(teacher), 1)
	assert.Equal(t, "teacher.name", tree.Rule(tree.Children(teacher)[0]).ID)
	assert.Equal(t, typeof.DefaultTimezone, p.Timezone)
}

func TestParseJSON(t *testing.T) {
	doc := `{
		"name": "events",
		"section": "//article",
		"rules": [
			{"name": "title", "xpath": "./h1/text()", "type": "STRING"},
			{"name": "misc", "xpath": "./footer", "type": "unheard-of"}
		]
	}`
	p, err := Parse([]byte(doc), FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, typeof.String, p.Tree.Rule(0).Type)
	assert.Equal(t, typeof.Passthrough, p.Tree.Rule(1).Type)
	assert.Empty(t, p.Identity)
}

func TestSchemaRejects(t *testing.T) {
	cases := map[string]string{
		"missing section": `{"name": "x", "rules": [{"name": "a", "xpath": "."}]}`,
		"no rules":        `{"name": "x", "section": "//a", "rules": []}`,
		"unknown field":   `{"name": "x", "section": "//a", "rules": [{"name": "a", "xpath": ".", "color": "red"}]}`,
		"empty xpath":     `{"name": "x", "section": "//a", "rules": [{"name": "a", "xpath": ""}]}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc), FormatJSON)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestBuildTreeErrors(t *testing.T) {
	cases := []struct {
		name  string
		rules []RuleConfig
		want  error
	}{
		{
			name:  "duplicate id",
			rules: []RuleConfig{{ID: "a", Name: "x", XPath: "."}, {ID: "a", Name: "y", XPath: "."}},
			want:  ErrDuplicateRule,
		},
		{
			name:  "duplicate sibling name",
			rules: []RuleConfig{{ID: "a", Name: "x", XPath: "."}, {ID: "b", Name: "x", XPath: "."}},
			want:  ErrDuplicateRule,
		},
		{
			name:  "unknown parent",
			rules: []RuleConfig{{ID: "a", Name: "x", XPath: ".", Parent: "ghost"}},
			want:  ErrUnknownParent,
		},
		{
			name: "cycle",
			rules: []RuleConfig{
				{ID: "a", Name: "x", XPath: ".", Parent: "b"},
				{ID: "b", Name: "y", XPath: ".", Parent: "a"},
			},
			want: ErrCycle,
		},
		{
			name:  "bad xpath",
			rules: []RuleConfig{{ID: "a", Name: "x", XPath: "//["}},
			want:  ErrBadExpression,
		},
		{
			name:  "bad regex",
			rules: []RuleConfig{{ID: "a", Name: "x", XPath: ".", Regex: "(unclosed"}},
			want:  ErrBadExpression,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := BuildTree(tc.rules)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)

			var be *BuildError
			assert.True(t, errors.As(err, &be))
		})
	}
}

func TestSameNameUnderDifferentParents(t *testing.T) {
	tree, err := BuildTree([]RuleConfig{
		{Name: "a", XPath: ".", Children: []RuleConfig{{Name: "name", XPath: "."}}},
		{Name: "b", XPath: ".", Children: []RuleConfig{{Name: "name", XPath: "."}}},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, tree.Len())
}

func TestTreeString(t *testing.T) {
	tree, err := BuildTree([]RuleConfig{
		{Name: "teacher", XPath: "./div", Type: "container", Children: []RuleConfig{
			{Name: "name", XPath: "./b", Type: "string"},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, "|_ container::teacher(./div)\n   |_ string::name(./b)\n", tree.String())
}

func TestCompileIsPerCall(t *testing.T) {
	p, err := Load("testdata/masterclass.yaml")
	require.NoError(t, err)

	a, err := p.Tree.Compile()
	require.NoError(t, err)
	b, err := p.Tree.Compile()
	require.NoError(t, err)
	require.Len(t, a, p.Tree.Len())
	assert.NotSame(t, a[0], b[0])
}

func TestTranslateSub(t *testing.T) {
	assert.Equal(t, "", TranslateSub(""))
	assert.Equal(t, "${1}-${2}", TranslateSub(`\1-\2`))
	assert.Equal(t, "${year}", TranslateSub(`\g<year>`))
	assert.Equal(t, "$$5", TranslateSub("$5"))
}

func TestFormatOf(t *testing.T) {
	f, err := FormatOf("parser.YML")
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, f)

	_, err = FormatOf("parser.ini")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}
