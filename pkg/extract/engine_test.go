package extract

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/nainya/leostore/pkg/rule"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadFixture(t *testing.T, opts ...Option) (*Engine, []byte) {
	t.Helper()
	p, err := rule.Load("testdata/masterclass.yaml")
	require.NoError(t, err)
	e, err := New(p, opts...)
	require.NoError(t, err)
	raw, err := os.ReadFile("testdata/masterclass.html")
	require.NoError(t, err)
	return e, raw
}

func TestParseMasterclasses(t *testing.T) {
	e, raw := loadFixture(t)
	res, err := e.Parse(raw)
	require.NoError(t, err)

	require.Equal(t, []string{"101", "102"}, res.Keys)

	first := res.Records["101"]
	assert.Equal(t, []string{
		"uid", "title", "date", "price", "duration", "total_seats", "age", "tags", "teacher_0", "teacher_1",
	}, first.Keys())

	title, _ := first.Get("title")
	assert.Equal(t, "Гончарное дело", title)

	date, _ := first.Get("date")
	assert.True(t, date.(time.Time).Equal(time.Date(2018, 7, 19, 15, 0, 0, 0, time.UTC)))

	price, _ := first.Get("price")
	assert.True(t, price.(decimal.Decimal).Equal(decimal.NewFromInt(90)))

	duration, _ := first.Get("duration")
	assert.Equal(t, int64(5400), duration)

	seats, _ := first.Get("total_seats")
	assert.Equal(t, int64(12), seats)

	age, _ := first.Get("age")
	assert.Equal(t, int64(12), age)

	tags, _ := first.Get("tags")
	require.IsType(t, &Record{}, tags)
	assert.Equal(t, map[string]any{"0": "керамика", "1": "для взрослых"}, tags.(*Record).ToMap())
}

func TestParseSubTreeMatchesAreIndexed(t *testing.T) {
	e, raw := loadFixture(t)
	res, err := e.Parse(raw)
	require.NoError(t, err)

	first := res.Records["101"].ToMap()
	assert.Equal(t, map[string]any{"name": "Анна", "bio": "Керамист"}, first["teacher_0"])
	assert.Equal(t, map[string]any{"name": "Олег", "bio": "Скульптор"}, first["teacher_1"])
	assert.NotContains(t, first, "teacher")

	second := res.Records["102"].ToMap()
	assert.Equal(t, map[string]any{"name": "Мария", "bio": "Художник"}, second["teacher"])
	assert.Equal(t, "живопись", second["tags"])
}

func TestParseEmptyMatchDoesNotAbortSection(t *testing.T) {
	e, raw := loadFixture(t)
	res, err := e.Parse(raw)
	require.NoError(t, err)

	second := res.Records["102"]
	seats, ok := second.Get("total_seats")
	require.True(t, ok)
	assert.Equal(t, int64(0), seats)

	title, _ := second.Get("title")
	assert.Equal(t, "Акварель", title)

	age, _ := second.Get("age")
	assert.Equal(t, ErrorValue, age)

	require.Len(t, res.Faults, 3)
	assert.Equal(t, EmptyMatch, res.Faults[0].Kind)
	assert.Equal(t, "total_seats", res.Faults[0].Rule)
	assert.Equal(t, 1, res.Faults[0].Section)

	// The unrefined text still reaches the integer converter, which rejects it.
	assert.Equal(t, RefinementMismatch, res.Faults[1].Kind)
	var mismatch *MismatchError
	require.True(t, errors.As(res.Faults[1], &mismatch))
	assert.Equal(t, "для всех", mismatch.Value)
	assert.Equal(t, EvaluationFault, res.Faults[2].Kind)
	assert.Equal(t, "age", res.Faults[2].Rule)
}

func parseInline(t *testing.T, config, page string) *Result {
	t.Helper()
	p, err := rule.Parse([]byte(config), rule.FormatJSON)
	require.NoError(t, err)
	e, err := New(p, WithWorkers(1))
	require.NoError(t, err)
	res, err := e.Parse([]byte(page))
	require.NoError(t, err)
	return res
}

func TestRefinementMissKeepsRawValue(t *testing.T) {
	res := parseInline(t, `{
	"name": "prices",
	"section": "//section",
	"identity": "id",
	"rules": [
		{"name": "id", "xpath": "string(./@id)", "type": "string"},
		{"name": "price", "xpath": "./i/text()", "regex": "\\d+ руб", "type": "string"},
		{"name": "labels", "xpath": "./b/text()", "regex": "\\d+", "type": "string"}
	]
}`, `<section id="s"><i>free</i><b>7 шт</b><b>нет</b></section>`)

	rec := res.Records["s"].ToMap()
	assert.Equal(t, "free", rec["price"])
	assert.Equal(t, map[string]any{"0": "7", "1": "нет"}, rec["labels"])

	require.Len(t, res.Faults, 2)
	for _, f := range res.Faults {
		assert.Equal(t, RefinementMismatch, f.Kind)
	}
	var mismatch *MismatchError
	require.True(t, errors.As(res.Faults[0], &mismatch))
	assert.Equal(t, "free", mismatch.Value)
	require.True(t, errors.As(res.Faults[1], &mismatch))
	assert.Equal(t, "нет", mismatch.Value)
}

func TestTerminalListChildrenWriteIntoIndexMap(t *testing.T) {
	res := parseInline(t, `{
	"name": "tagged",
	"section": "//section",
	"identity": "id",
	"rules": [
		{"name": "id", "xpath": "string(./@id)", "type": "string"},
		{"name": "tags", "xpath": "./span/text()", "type": "string", "children": [
			{"name": "extra", "xpath": "./b/text()", "type": "string"}
		]}
	]
}`, `<section id="1"><span>a</span><span>b</span><b>X</b></section>`)

	rec := res.Records["1"]
	assert.Equal(t, []string{"id", "tags"}, rec.Keys())
	tags, _ := rec.Get("tags")
	require.IsType(t, &Record{}, tags)
	assert.Equal(t, []string{"0", "1", "extra"}, tags.(*Record).Keys())
	assert.Equal(t, map[string]any{"0": "a", "1": "b", "extra": "X"}, tags.(*Record).ToMap())
	assert.Empty(t, res.Faults)
}

func TestPassthroughKeepsSequences(t *testing.T) {
	res := parseInline(t, `{
	"name": "raw",
	"section": "//section",
	"identity": "id",
	"rules": [
		{"name": "id", "xpath": "string(./@id)", "type": "string"},
		{"name": "note", "xpath": "./i/text()", "type": "unknown-tag"},
		{"name": "count", "xpath": "count(./i)", "type": "unknown-tag"}
	]
}`, `<section id="p"><i> one </i></section>`)

	rec := res.Records["p"].ToMap()
	assert.Equal(t, map[string]any{"0": " one "}, rec["note"])
	assert.Equal(t, float64(1), rec["count"])
}

func TestParseWorkerCountDoesNotChangeOutput(t *testing.T) {
	single, raw := loadFixture(t, WithWorkers(1))
	many, _ := loadFixture(t, WithWorkers(8))

	a, err := single.Parse(raw)
	require.NoError(t, err)
	b, err := many.Parse(raw)
	require.NoError(t, err)

	ja, err := a.JSON(false)
	require.NoError(t, err)
	jb, err := b.JSON(false)
	require.NoError(t, err)
	assert.Equal(t, string(ja), string(jb))
}

const faultyConfig = `{
	"name": "faulty",
	"section": "//section",
	"identity": "id",
	"rules": [
		{"name": "id", "xpath": "string(./@id)", "type": "string"},
		{"name": "count", "xpath": "./i/text()", "type": "integer", "children": [
			{"name": "label", "xpath": "./b/text()", "type": "string"}
		]},
		{"name": "box", "xpath": "./div", "type": "container", "children": [
			{"name": "inner", "xpath": "./text()", "type": "string"}
		]}
	]
}`

const faultyPage = `<html><body>
<section id="a"><i>abc</i><b>L</b></section>
<section id="a"><i>7</i><b>M</b></section>
<section><b>N</b></section>
</body></html>`

func TestErrorSentinelAndIdentity(t *testing.T) {
	p, err := rule.Parse([]byte(faultyConfig), rule.FormatJSON)
	require.NoError(t, err)
	e, err := New(p)
	require.NoError(t, err)

	res, err := e.Parse([]byte(faultyPage))
	require.NoError(t, err)

	// Duplicate identities overwrite, keeping first position.
	require.Equal(t, []string{"a", ""}, res.Keys)

	a := res.Records["a"].ToMap()
	assert.Equal(t, int64(7), a["count"])
	assert.Equal(t, "M", a["label"])
	assert.NotContains(t, a, "box")

	anon := res.Records[""].ToMap()
	assert.Equal(t, int64(0), anon["count"])
	assert.Equal(t, "N", anon["label"])

	var kinds []FaultKind
	for _, f := range res.Faults {
		kinds = append(kinds, f.Kind)
	}
	assert.Equal(t, []FaultKind{
		EvaluationFault, EmptyMatch, // section 0: count, box
		EmptyMatch,                  // section 1: box
		EmptyMatch, EmptyMatch,      // section 2: count, box
	}, kinds)
}

func TestErrorSentinelKeepsChildren(t *testing.T) {
	p, err := rule.Parse([]byte(faultyConfig), rule.FormatJSON)
	require.NoError(t, err)
	e, err := New(p, WithWorkers(1))
	require.NoError(t, err)

	res, err := e.Parse([]byte(`<section id="z"><i>abc</i><b>L</b></section>`))
	require.NoError(t, err)

	rec := res.Records["z"].ToMap()
	assert.Equal(t, ErrorValue, rec["count"])
	assert.Equal(t, "L", rec["label"])
}

func TestRenderers(t *testing.T) {
	e, raw := loadFixture(t)
	res, err := e.Parse(raw)
	require.NoError(t, err)

	compact, err := res.JSON(false)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(compact, []byte(`{"101":{"uid":"101","title":"Гончарное дело",`)))

	pretty, err := res.JSON(true)
	require.NoError(t, err)
	assert.Contains(t, string(pretty), "\n    \"101\": {")

	text := res.Text()
	assert.True(t, strings.HasPrefix(text, "uid= 101\ntitle= Гончарное дело\n"))
	assert.Equal(t, 2, strings.Count(text, strings.Repeat("=", 20)+"\n"))
	assert.Contains(t, text, "teacher_0= {\"name\":\"Анна\",\"bio\":\"Керамист\"}")
}

func TestLoadHTML(t *testing.T) {
	_, err := LoadHTML([]byte("  \n"))
	assert.ErrorIs(t, err, ErrEmptyDocument)

	assert.Equal(t, "utf-8", DetectCharset([]byte("<p>привет</p>")))

	// "Привет" in windows-1251 with a matching meta declaration.
	page := append([]byte(`<html><head><meta charset="windows-1251"></head><body><div class="mc"><h2>`),
		0xcf, 0xf0, 0xe8, 0xe2, 0xe5, 0xf2)
	page = append(page, []byte(`</h2></div></body></html>`)...)
	assert.Equal(t, "windows-1251", DetectCharset(page))

	e, _ := loadFixture(t)
	res, err := e.ParseReader(bytes.NewReader(page))
	require.NoError(t, err)
	require.Equal(t, []string{""}, res.Keys)
	title, _ := res.Records[""].Get("title")
	assert.Equal(t, "Привет", title)
}
