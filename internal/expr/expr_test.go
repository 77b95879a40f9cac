package expr

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func rat(a, b int64) *big.Rat { return big.NewRat(a, b) }

func TestEvaluate(t *testing.T) {
	var tests = []struct {
		input  string
		params map[string]*big.Rat
		want   *big.Rat
	}{
		{"3", nil, rat(3, 1)},
		{"2 * hugo", map[string]*big.Rat{"hugo": rat(5, 1)}, rat(10, 1)},
		{"1/2 + 1/3", nil, rat(5, 6)},
		{"(a - b) / 4", map[string]*big.Rat{"a": rat(9, 1), "b": rat(1, 1)}, rat(2, 1)},
		{"-t_fill", map[string]*big.Rat{"t_fill": rat(7, 1)}, rat(-7, 1)},
		{"max(3, 11)", nil, rat(11, 1)},
		{"max(x, 0)", map[string]*big.Rat{"x": rat(-2, 1)}, rat(0, 1)},
		{"ceil(7/2)", nil, rat(4, 1)},
		{"ceil(-7/2)", nil, rat(-3, 1)},
		{"ceil(4)", nil, rat(4, 1)},
		{"1.5e3", nil, rat(1500, 1)},
	}
	for _, test := range tests {
		e, err := Parse(test.input)
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", test.input, err)
		}
		got, err := e.Evaluate(test.params)
		if err != nil {
			t.Fatalf("Evaluate(%q) failed: %v", test.input, err)
		}
		if got.Cmp(test.want) != 0 {
			t.Errorf("Evaluate(%q) = %v, want %v", test.input, got, test.want)
		}
	}
}

func TestEvaluateErrors(t *testing.T) {
	if _, err := MustParse("a + 1").Evaluate(nil); err == nil {
		t.Errorf("Evaluate with missing parameter should fail")
	}
	if _, err := MustParse("1 / z").Evaluate(map[string]*big.Rat{"z": rat(0, 1)}); err == nil {
		t.Errorf("division by zero should fail")
	}
	for _, bad := range []string{"", "1 +", "max(1)", "ceil(1, 2)", "foo(3)", "(1", "1 2"} {
		if _, err := Parse(bad); err == nil {
			t.Errorf("Parse(%q) should fail", bad)
		}
	}
}

func TestNames(t *testing.T) {
	e := MustParse("max(t_start + t_fill, 2 * t_fill) - ceil(other)")
	assert.Equal(t, []string{"other", "t_fill", "t_start"}, e.Names())
	assert.False(t, e.IsConstant())
	assert.True(t, MustParse("max(1, ceil(3/2))").IsConstant())
}

func TestStringRoundTrip(t *testing.T) {
	inputs := []string{"2 * hugo", "max(t - 3, 0)", "ceil(x / 16) * 16", "1/3 + q"}
	params := map[string]*big.Rat{"hugo": rat(3, 2), "t": rat(10, 1), "x": rat(33, 1), "q": rat(1, 1), "other": rat(0, 1)}
	for _, input := range inputs {
		orig := MustParse(input)
		back, err := Parse(orig.String())
		if err != nil {
			t.Fatalf("reparsing %q (from %q) failed: %v", orig.String(), input, err)
		}
		v1, err1 := orig.Evaluate(params)
		v2, err2 := back.Evaluate(params)
		if err1 != nil || err2 != nil {
			t.Fatalf("evaluation of %q failed: %v %v", input, err1, err2)
		}
		if v1.Cmp(v2) != 0 {
			t.Errorf("round trip of %q changed value: %v vs %v", input, v1, v2)
		}
	}
}
