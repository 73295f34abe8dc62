package expr

import "testing"

func eval(t *testing.T, src string, vars map[string]int, helpers map[string]*Helper) int {
	t.Helper()
	e, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse(%q) error: %v", src, err)
	}
	v, err := e.Eval(&Env{Vars: vars, Helpers: helpers})
	if err != nil {
		t.Fatalf("Eval(%q) error: %v", src, err)
	}
	return v
}

func TestBasicOps(t *testing.T) {
	if got := eval(t, "x + 16*y", map[string]int{"x": 3, "y": 2}, nil); got != 35 {
		t.Errorf("got %d want 35", got)
	}
	if got := eval(t, "(x - y) * 2", map[string]int{"x": 5, "y": 2}, nil); got != 6 {
		t.Errorf("got %d want 6", got)
	}
	if got := eval(t, "-x + 1", map[string]int{"x": 4}, nil); got != -3 {
		t.Errorf("got %d want -3", got)
	}
	if got := eval(t, "~x", map[string]int{"x": 0}, nil); got != -1 {
		t.Errorf("got %d want -1", got)
	}
	if got := eval(t, "x << 2 | 1", map[string]int{"x": 3}, nil); got != 13 {
		t.Errorf("got %d want 13", got)
	}
	if got := eval(t, "x >> 1", map[string]int{"x": 9}, nil); got != 4 {
		t.Errorf("got %d want 4", got)
	}
}

func TestOperatorPrecedence(t *testing.T) {
	if got := eval(t, "2 + 3 * 4", nil, nil); got != 14 {
		t.Errorf("got %d want 14", got)
	}
	if got := eval(t, "2 * 3 + 4", nil, nil); got != 10 {
		t.Errorf("got %d want 10", got)
	}
}

func TestHelperCall(t *testing.T) {
	boardIndex, err := Parse("x / 5")
	if err != nil {
		t.Fatal(err)
	}
	helpers := map[string]*Helper{
		"boardIndex": {Name: "boardIndex", Params: []string{"x"}, Body: boardIndex},
	}
	if got := eval(t, "boardIndex(x) * 10", map[string]int{"x": 12}, helpers); got != 20 {
		t.Errorf("got %d want 20", got)
	}
}

func TestUndefinedIdentifierErrors(t *testing.T) {
	e, err := Parse("x + z")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Eval(&Env{Vars: map[string]int{"x": 1}}); err == nil {
		t.Fatal("expected error for undefined identifier z")
	}
}

func TestDivisionByZero(t *testing.T) {
	e, err := Parse("x / y")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Eval(&Env{Vars: map[string]int{"x": 1, "y": 0}}); err == nil {
		t.Fatal("expected division-by-zero error")
	}
}

func TestParseErrorUnbalancedParen(t *testing.T) {
	if _, err := Parse("(x + 1"); err == nil {
		t.Fatal("expected parse error for unbalanced parenthesis")
	}
}
