// ABOUTME: Value coercion for extracted matches
// ABOUTME: Every converter accepts a single raw value or a sequence of them

package typeof

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/antchfx/htmlquery"
	"github.com/shopspring/decimal"
	"golang.org/x/net/html"
)

// DefaultTimezone is used for date and datetime values when none is configured.
const DefaultTimezone = "Europe/Moscow"

var (
	integerPattern  = regexp.MustCompile(`-?\d+`)
	floatPattern    = regexp.MustCompile(`-?\d+(?:[.,]\d+)?`)
	currencyMarked  = regexp.MustCompile(`(?i)^\s*(\d+(?:[.,]\d+)?)\s*(?:р|₽)`)
	currencyBare    = regexp.MustCompile(`^\s*(\d+(?:[.,]\d+)?)\s*$`)
	durationPattern = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*ч`)

	dateLayouts     = []string{"02.01.2006", "2006-01-02", "02/01/2006"}
	datetimeLayouts = []string{"02.01.2006 15:04", "02.01.2006 15:04:05", "2006-01-02 15:04", "2006-01-02 15:04:05"}
	timeLayouts     = []string{"15:04", "15:04:05"}
)

// Registry converts raw matches according to a Tag.
type Registry struct {
	loc *time.Location
}

// NewRegistry creates a registry resolving dates in loc. A nil loc means DefaultTimezone.
func NewRegistry(loc *time.Location) *Registry {
	if loc == nil {
		loc = defaultLocation()
	}
	return &Registry{loc: loc}
}

// NewRegistryForZone resolves an IANA zone name; an empty name means DefaultTimezone.
func NewRegistryForZone(zone string) (*Registry, error) {
	if zone == "" {
		zone = DefaultTimezone
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("typeof: load timezone %q: %w", zone, err)
	}
	return &Registry{loc: loc}, nil
}

func defaultLocation() *time.Location {
	loc, err := time.LoadLocation(DefaultTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Location returns the zone used for date and datetime values.
func (r *Registry) Location() *time.Location {
	return r.loc
}

// Convert coerces raw through the converter selected by tag.
//
// A single-element []any is unwrapped before conversion, a longer one is converted
// element by element into a new []any. An empty []any yields the tag's zero value,
// except for Container and Passthrough which keep the empty sequence.
func (r *Registry) Convert(tag Tag, raw any) (any, error) {
	switch tag {
	case Container, Passthrough:
		return raw, nil
	case Currency:
		return onceOrMany(raw, decimal.Zero, toCurrency)
	case Date:
		return onceOrMany(raw, nil, r.toDate)
	case Datetime:
		return onceOrMany(raw, nil, r.toDatetime)
	case Duration:
		return onceOrMany(raw, int64(0), toDuration)
	case Float:
		return onceOrMany(raw, float64(0), toFloat)
	case Integer:
		return onceOrMany(raw, int64(0), toInteger)
	case String:
		return onceOrMany(raw, "", toString)
	case Time:
		return onceOrMany(raw, int64(0), toTime)
	}
	return raw, nil
}

func onceOrMany(raw any, zero any, convert func(any) (any, error)) (any, error) {
	seq, ok := raw.([]any)
	if !ok {
		return convert(raw)
	}
	switch len(seq) {
	case 0:
		return zero, nil
	case 1:
		return convert(seq[0])
	}
	out := make([]any, len(seq))
	for i, v := range seq {
		c, err := convert(v)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out[i] = c
	}
	return out, nil
}

// Text renders a raw match as text: element nodes give their inner text.
func Text(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return v
	case *html.Node:
		return htmlquery.InnerText(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprint(raw)
}

func toString(raw any) (any, error) {
	return strings.TrimSpace(Text(raw)), nil
}

func toInteger(raw any) (any, error) {
	if f, ok := raw.(float64); ok {
		return int64(f), nil
	}
	s := strings.TrimSpace(Text(raw))
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	if m := integerPattern.FindString(s); m != "" {
		return strconv.ParseInt(m, 10, 64)
	}
	return nil, &ConversionError{Tag: Integer, Value: s, Patterns: []string{"/" + integerPattern.String() + "/"}}
}

func toFloat(raw any) (any, error) {
	if f, ok := raw.(float64); ok {
		return f, nil
	}
	s := strings.TrimSpace(Text(raw))
	if f, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64); err == nil {
		return f, nil
	}
	if m := floatPattern.FindString(s); m != "" {
		return strconv.ParseFloat(strings.Replace(m, ",", ".", 1), 64)
	}
	return nil, &ConversionError{Tag: Float, Value: s, Patterns: []string{"/" + floatPattern.String() + "/"}}
}

func toCurrency(raw any) (any, error) {
	if f, ok := raw.(float64); ok {
		return decimal.NewFromFloat(f), nil
	}
	s := Text(raw)
	for _, re := range []*regexp.Regexp{currencyMarked, currencyBare} {
		if m := re.FindStringSubmatch(s); m != nil {
			return decimal.NewFromString(strings.Replace(m[1], ",", ".", 1))
		}
	}
	return nil, &ConversionError{Tag: Currency, Value: s, Patterns: []string{
		"/" + currencyMarked.String() + "/",
		"/" + currencyBare.String() + "/",
	}}
}

// toDuration returns whole seconds for "N ч" style hour counts.
func toDuration(raw any) (any, error) {
	if f, ok := raw.(float64); ok {
		return decimal.NewFromFloat(f).Mul(decimal.NewFromInt(3600)).IntPart(), nil
	}
	s := Text(raw)
	m := durationPattern.FindStringSubmatch(s)
	if m == nil {
		return nil, &ConversionError{Tag: Duration, Value: s, Patterns: []string{"/" + durationPattern.String() + "/"}}
	}
	hours, err := decimal.NewFromString(strings.Replace(m[1], ",", ".", 1))
	if err != nil {
		return nil, err
	}
	return hours.Mul(decimal.NewFromInt(3600)).IntPart(), nil
}

func (r *Registry) toDate(raw any) (any, error) {
	s := strings.TrimSpace(Text(raw))
	if t, ok := parseIn(s, dateLayouts, r.loc); ok {
		return t, nil
	}
	return nil, &ConversionError{Tag: Date, Value: s, Patterns: quote(dateLayouts)}
}

// toDatetime accepts "19.07.2018 четверг 18:00": with three fields the middle one
// is a weekday name and is dropped.
func (r *Registry) toDatetime(raw any) (any, error) {
	s := strings.TrimSpace(Text(raw))
	candidate := s
	if fields := strings.Fields(s); len(fields) == 3 {
		candidate = fields[0] + " " + fields[2]
	}
	if t, ok := parseIn(candidate, datetimeLayouts, r.loc); ok {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(r.loc), nil
	}
	return nil, &ConversionError{Tag: Datetime, Value: s, Patterns: quote(append(datetimeLayouts, time.RFC3339))}
}

// toTime returns seconds since midnight for clock readings.
func toTime(raw any) (any, error) {
	s := strings.TrimSpace(Text(raw))
	if t, ok := parseIn(s, timeLayouts, time.UTC); ok {
		return int64(t.Hour()*3600 + t.Minute()*60 + t.Second()), nil
	}
	return nil, &ConversionError{Tag: Time, Value: s, Patterns: quote(timeLayouts)}
}

func parseIn(s string, layouts []string, loc *time.Location) (time.Time, bool) {
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func quote(layouts []string) []string {
	out := make([]string, len(layouts))
	for i, l := range layouts {
		out[i] = strconv.Quote(l)
	}
	return out
}
