package template

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func testScope() MapScope {
	return MapScope{
		"mrn":      "12345",
		"csn":      "900",
		"note_ids": []any{"n1", "n2", "n3"},
		"note": map[string]any{
			"id":   "n1",
			"type": "progress",
			"text": "Patient doing well.",
		},
		"count": float64(3),
		"flag":  true,
	}
}

func TestRenderPlainString(t *testing.T) {
	v, err := Render("no templates here", testScope())
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if v != "no templates here" {
		t.Errorf("Render() = %v", v)
	}
}

func TestRenderSingleExpressionKeepsType(t *testing.T) {
	v, err := Render("{{note_ids}}", testScope())
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	list, ok := v.([]any)
	if !ok || len(list) != 3 {
		t.Fatalf("Render() = %#v, want 3-element list", v)
	}
}

func TestRenderInterpolation(t *testing.T) {
	v, err := Render("patient {{mrn}} encounter {{csn}}", testScope())
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if v != "patient 12345 encounter 900" {
		t.Errorf("Render() = %q", v)
	}
}

func TestRenderAttributeAndIndex(t *testing.T) {
	tests := []struct {
		expr string
		want any
	}{
		{"{{note.text}}", "Patient doing well."},
		{"{{note_ids[0]}}", "n1"},
		{"{{note_ids[-1]}}", "n3"},
		{"{{len(note_ids)}}", float64(3)},
		{"{{note_ids[0:2]}}", []any{"n1", "n2"}},
		{"{{note.text[0:7]}}", "Patient"},
		{"{{min(1, 2, 3)}}", float64(1)},
		{"{{sum([1, 2, 3])}}", float64(6)},
		{"{{round(2.678, 1)}}", 2.7},
		{"{{str(count)}}", "3"},
		{"{{int('42')}}", float64(42)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			v, err := Render(tt.expr, testScope())
			if err != nil {
				t.Fatalf("Render(%q) error = %v", tt.expr, err)
			}
			if !reflect.DeepEqual(v, tt.want) {
				t.Errorf("Render(%q) = %#v, want %#v", tt.expr, v, tt.want)
			}
		})
	}
}

func TestBareExpressionCompatibility(t *testing.T) {
	v, err := Render("len(note_ids)", testScope())
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if v != float64(3) {
		t.Errorf("Render() = %v, want 3", v)
	}

	v, err = Render("note_ids[0:2]", testScope())
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if list, ok := v.([]any); !ok || len(list) != 2 {
		t.Errorf("Render() = %#v, want 2-element list", v)
	}
}

func TestRenderedListLiteralReparsed(t *testing.T) {
	scope := MapScope{"raw": "['a', 'b', 'c']"}
	v, err := Render("{{raw}}", scope)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	want := []any{"a", "b", "c"}
	if !reflect.DeepEqual(v, want) {
		t.Errorf("Render() = %#v, want %#v", v, want)
	}
}

func TestForbiddenTokens(t *testing.T) {
	exprs := []string{
		"{{ __import__('os').system('ls') }}",
		"{{ eval('1') }}",
		"{{ exec('x') }}",
		"{{ open('/etc/passwd') }}",
		"{{ subprocess }}",
		"{{ notes.pop() }}",
		"{{ import }}",
		"{{ df.drop() }}",
		"{{ x.inplace }}",
		"{{ _private }}",
	}
	for _, expr := range exprs {
		t.Run(expr, func(t *testing.T) {
			_, err := Render(expr, testScope())
			if err == nil {
				t.Fatalf("Render(%q) succeeded, want forbidden-token error", expr)
			}
			var terr *Error
			if !errors.As(err, &terr) {
				t.Fatalf("error is %T, want *template.Error", err)
			}
		})
	}
}

func TestUndefinedVariable(t *testing.T) {
	_, err := Render("{{missing}}", testScope())
	if err == nil {
		t.Fatal("expected error for undefined variable")
	}
	if !strings.Contains(err.Error(), "missing") {
		t.Errorf("error %q does not name the variable", err)
	}
}

func TestNonBuiltinCallRejected(t *testing.T) {
	_, err := Render("{{sorted(note_ids)}}", testScope())
	if err == nil {
		t.Fatal("expected error for non-builtin call")
	}
}

func TestParseLiteral(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{`[]`, []any{}},
		{`['a', 'b']`, []any{"a", "b"}},
		{`[1, 2.5, true, None]`, []any{float64(1), 2.5, true, nil}},
		{`{'k': 'v', 'n': 1}`, map[string]any{"k": "v", "n": float64(1)}},
		{`["nested", ["x"]]`, []any{"nested", []any{"x"}}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			v, err := ParseLiteral(tt.in)
			if err != nil {
				t.Fatalf("ParseLiteral(%q) error = %v", tt.in, err)
			}
			if !reflect.DeepEqual(v, tt.want) {
				t.Errorf("ParseLiteral(%q) = %#v, want %#v", tt.in, v, tt.want)
			}
		})
	}
}

func TestTruthy(t *testing.T) {
	tests := []struct {
		in   any
		want bool
	}{
		{nil, false},
		{false, false},
		{true, true},
		{"", false},
		{"false", false},
		{"FALSE", false},
		{"true", true},
		{"anything", true},
		{float64(0), false},
		{float64(1), true},
		{[]any{}, false},
		{[]any{"x"}, true},
	}
	for _, tt := range tests {
		if got := Truthy(tt.in); got != tt.want {
			t.Errorf("Truthy(%#v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
