// Package expr implements the small symbolic expressions used for pulse
// durations and parameter mappings. Values are exact rationals, so sample
// counts computed from durations never suffer float roundoff.
package expr

import (
	"fmt"
	"math/big"
	"sort"
	"strings"
)

type opcode int

const (
	opConst opcode = iota
	opParam
	opAdd
	opSub
	opMul
	opDiv
	opMax
	opCeil
)

// Expression is one node of an expression tree. Leaves are rational
// constants or named parameter references.
type Expression struct {
	op    opcode
	value *big.Rat // opConst only
	name  string   // opParam only
	left  *Expression
	right *Expression // nil for opCeil
}

// Constant returns an expression holding the given rational value.
func Constant(v *big.Rat) *Expression {
	return &Expression{op: opConst, value: new(big.Rat).Set(v)}
}

// ConstantInt returns an expression holding an integer value.
func ConstantInt(n int64) *Expression {
	return &Expression{op: opConst, value: new(big.Rat).SetInt64(n)}
}

// ConstantFloat returns an expression holding the exact rational value of f.
func ConstantFloat(f float64) *Expression {
	r := new(big.Rat)
	r.SetFloat64(f)
	return &Expression{op: opConst, value: r}
}

// Parameter returns an expression referencing the named free parameter.
func Parameter(name string) *Expression {
	return &Expression{op: opParam, name: name}
}

// Add returns a+b.
func Add(a, b *Expression) *Expression { return &Expression{op: opAdd, left: a, right: b} }

// Sub returns a-b.
func Sub(a, b *Expression) *Expression { return &Expression{op: opSub, left: a, right: b} }

// Mul returns a*b.
func Mul(a, b *Expression) *Expression { return &Expression{op: opMul, left: a, right: b} }

// Div returns a/b.
func Div(a, b *Expression) *Expression { return &Expression{op: opDiv, left: a, right: b} }

// Max returns the larger of a and b at evaluation time.
func Max(a, b *Expression) *Expression { return &Expression{op: opMax, left: a, right: b} }

// Ceil returns a rounded up to the next integer at evaluation time.
func Ceil(a *Expression) *Expression { return &Expression{op: opCeil, left: a} }

// Names returns the free parameter names of e, sorted and deduplicated.
func (e *Expression) Names() []string {
	seen := make(map[string]bool)
	e.collectNames(seen)
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *Expression) collectNames(seen map[string]bool) {
	if e == nil {
		return
	}
	if e.op == opParam {
		seen[e.name] = true
	}
	e.left.collectNames(seen)
	e.right.collectNames(seen)
}

// Evaluate computes the numeric value of e with the given parameter values.
// A free parameter without a value, or a division by zero, is an error.
func (e *Expression) Evaluate(params map[string]*big.Rat) (*big.Rat, error) {
	switch e.op {
	case opConst:
		return new(big.Rat).Set(e.value), nil
	case opParam:
		v, ok := params[e.name]
		if !ok {
			return nil, fmt.Errorf("expr: parameter %q was not provided", e.name)
		}
		return new(big.Rat).Set(v), nil
	case opCeil:
		v, err := e.left.Evaluate(params)
		if err != nil {
			return nil, err
		}
		return ratCeil(v), nil
	}

	a, err := e.left.Evaluate(params)
	if err != nil {
		return nil, err
	}
	b, err := e.right.Evaluate(params)
	if err != nil {
		return nil, err
	}
	switch e.op {
	case opAdd:
		return a.Add(a, b), nil
	case opSub:
		return a.Sub(a, b), nil
	case opMul:
		return a.Mul(a, b), nil
	case opDiv:
		if b.Sign() == 0 {
			return nil, fmt.Errorf("expr: division by zero in %q", e.String())
		}
		return a.Quo(a, b), nil
	case opMax:
		if a.Cmp(b) >= 0 {
			return a, nil
		}
		return b, nil
	}
	return nil, fmt.Errorf("expr: invalid opcode %d", e.op)
}

// EvaluateFloat is Evaluate with the result converted to float64.
func (e *Expression) EvaluateFloat(params map[string]*big.Rat) (float64, error) {
	v, err := e.Evaluate(params)
	if err != nil {
		return 0, err
	}
	f, _ := v.Float64()
	return f, nil
}

// ratCeil returns the smallest integer >= v, as a Rat.
func ratCeil(v *big.Rat) *big.Rat {
	q := new(big.Int).Quo(v.Num(), v.Denom())
	r := new(big.Int).Rem(v.Num(), v.Denom())
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return new(big.Rat).SetInt(q)
}

// String renders e in the grammar accepted by Parse.
func (e *Expression) String() string {
	switch e.op {
	case opConst:
		if e.value.IsInt() {
			return e.value.Num().String()
		}
		return fmt.Sprintf("(%s / %s)", e.value.Num(), e.value.Denom())
	case opParam:
		return e.name
	case opAdd:
		return fmt.Sprintf("(%s + %s)", e.left, e.right)
	case opSub:
		return fmt.Sprintf("(%s - %s)", e.left, e.right)
	case opMul:
		return fmt.Sprintf("(%s * %s)", e.left, e.right)
	case opDiv:
		return fmt.Sprintf("(%s / %s)", e.left, e.right)
	case opMax:
		return fmt.Sprintf("max(%s, %s)", e.left, e.right)
	case opCeil:
		return fmt.Sprintf("ceil(%s)", e.left)
	}
	return "<invalid>"
}

// IsConstant reports whether e contains no parameter references.
func (e *Expression) IsConstant() bool {
	return len(e.Names()) == 0
}

// Parse reads an expression in the usual infix grammar: numbers, parameter
// names, + - * /, parentheses, and the functions max(a, b) and ceil(a).
func Parse(input string) (*Expression, error) {
	p := &parser{input: input}
	e, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return nil, fmt.Errorf("expr: trailing input %q in %q", p.input[p.pos:], input)
	}
	return e, nil
}

// MustParse is Parse for expressions known valid at compile time.
func MustParse(input string) *Expression {
	e, err := Parse(input)
	if err != nil {
		panic(err)
	}
	return e
}

type parser struct {
	input string
	pos   int
}

func (p *parser) skipSpace() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t') {
		p.pos++
	}
}

func (p *parser) peek() byte {
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

func (p *parser) parseSum() (*Expression, error) {
	e, err := p.parseProduct()
	if err != nil {
		return nil, err
	}
	for {
		p.skipSpace()
		switch p.peek() {
		case '+':
			p.pos++
			rhs, err := p.parseProduct()
			if err != nil {
				return nil, err
			}
			e = Add(e, rhs)
		case '-':
			p.pos++
			rhs, err := p.parseProduct()
			if err != nil {
				return nil, err
			}
			e = Sub(e, rhs)
		default:
			return e, nil
		}
	}
}

func (p *parser) parseProduct() (*Expression, error) {
	e, err := p.parseAtom()
	if err != nil {
		return nil, err
	}
	for {
		p.skipSpace()
		switch p.peek() {
		case '*':
			p.pos++
			rhs, err := p.parseAtom()
			if err != nil {
				return nil, err
			}
			e = Mul(e, rhs)
		case '/':
			p.pos++
			rhs, err := p.parseAtom()
			if err != nil {
				return nil, err
			}
			e = Div(e, rhs)
		default:
			return e, nil
		}
	}
}

func (p *parser) parseAtom() (*Expression, error) {
	p.skipSpace()
	c := p.peek()
	switch {
	case c == '(':
		p.pos++
		e, err := p.parseSum()
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if p.peek() != ')' {
			return nil, fmt.Errorf("expr: missing ')' in %q", p.input)
		}
		p.pos++
		return e, nil
	case c == '-':
		p.pos++
		e, err := p.parseAtom()
		if err != nil {
			return nil, err
		}
		return Sub(ConstantInt(0), e), nil
	case c >= '0' && c <= '9' || c == '.':
		return p.parseNumber()
	case isIdentStart(c):
		return p.parseIdent()
	}
	return nil, fmt.Errorf("expr: unexpected character %q in %q", c, p.input)
}

func (p *parser) parseNumber() (*Expression, error) {
	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if (c >= '0' && c <= '9') || c == '.' || c == 'e' || c == 'E' ||
			((c == '+' || c == '-') && (p.input[p.pos-1] == 'e' || p.input[p.pos-1] == 'E')) {
			p.pos++
			continue
		}
		break
	}
	text := p.input[start:p.pos]
	r, ok := new(big.Rat).SetString(text)
	if !ok {
		return nil, fmt.Errorf("expr: bad number %q", text)
	}
	return Constant(r), nil
}

func (p *parser) parseIdent() (*Expression, error) {
	start := p.pos
	for p.pos < len(p.input) && isIdentPart(p.input[p.pos]) {
		p.pos++
	}
	name := p.input[start:p.pos]
	p.skipSpace()
	if p.peek() != '(' {
		return Parameter(name), nil
	}

	// Function call: only max and ceil exist.
	p.pos++
	first, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(name) {
	case "ceil":
		p.skipSpace()
		if p.peek() != ')' {
			return nil, fmt.Errorf("expr: ceil takes one argument in %q", p.input)
		}
		p.pos++
		return Ceil(first), nil
	case "max":
		p.skipSpace()
		if p.peek() != ',' {
			return nil, fmt.Errorf("expr: max takes two arguments in %q", p.input)
		}
		p.pos++
		second, err := p.parseSum()
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if p.peek() != ')' {
			return nil, fmt.Errorf("expr: missing ')' after max in %q", p.input)
		}
		p.pos++
		return Max(first, second), nil
	}
	return nil, fmt.Errorf("expr: unknown function %q", name)
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
