package formula

import (
	"math"
	"sort"
)

// node is a parsed expression tree.
type node interface {
	eval(vars map[string]float64) (float64, error)
	walk(fn func(node))
}

type numberNode struct{ v float64 }

type identNode struct{ name string }

type unaryNode struct {
	op string
	x  node
}

type binaryNode struct {
	op   string
	l, r node
}

type callNode struct {
	fn   *function
	args []node
}

func (n numberNode) walk(fn func(node)) { fn(n) }
func (n identNode) walk(fn func(node))  { fn(n) }

func (n unaryNode) walk(fn func(node)) {
	fn(n)
	n.x.walk(fn)
}

func (n binaryNode) walk(fn func(node)) {
	fn(n)
	n.l.walk(fn)
	n.r.walk(fn)
}

func (n callNode) walk(fn func(node)) {
	fn(n)
	for _, a := range n.args {
		a.walk(fn)
	}
}

// parser is a recursive-descent parser over the grammar:
//
//	expr    = term { ("+" | "-") term }
//	term    = unary { ("*" | "/" | "%") unary }
//	unary   = ("+" | "-") unary | power
//	power   = primary [ "^" unary ]
//	primary = number | ident | ident "(" [ expr { "," expr } ] ")" | "(" expr ")"
type parser struct {
	expr string
	toks []token
	pos  int
}

func parse(expr string) (node, error) {
	toks, err := lex(expr)
	if err != nil {
		return nil, err
	}
	p := &parser{expr: expr, toks: toks}
	if p.peek().kind == tokEOF {
		return nil, syntaxf(expr, 0, "empty expression")
	}
	n, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, syntaxf(expr, t.pos, "unexpected %q", t.text)
	}
	return n, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) isOp(ops ...string) (string, bool) {
	t := p.peek()
	if t.kind != tokOp {
		return "", false
	}
	for _, op := range ops {
		if t.text == op {
			return op, true
		}
	}
	return "", false
}

func (p *parser) parseExpr() (node, error) {
	l, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.isOp("+", "-")
		if !ok {
			return l, nil
		}
		p.next()
		r, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		l = binaryNode{op: op, l: l, r: r}
	}
}

func (p *parser) parseTerm() (node, error) {
	l, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.isOp("*", "/", "%")
		if !ok {
			return l, nil
		}
		p.next()
		r, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		l = binaryNode{op: op, l: l, r: r}
	}
}

func (p *parser) parseUnary() (node, error) {
	if op, ok := p.isOp("+", "-"); ok {
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return unaryNode{op: op, x: x}, nil
	}
	return p.parsePower()
}

func (p *parser) parsePower() (node, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if _, ok := p.isOp("^"); !ok {
		return base, nil
	}
	p.next()
	exp, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	return binaryNode{op: "^", l: base, r: exp}, nil
}

func (p *parser) parsePrimary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		return numberNode{v: t.num}, nil
	case tokLParen:
		n, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if c := p.next(); c.kind != tokRParen {
			return nil, syntaxf(p.expr, c.pos, "expected ')'")
		}
		return n, nil
	case tokIdent:
		if p.peek().kind != tokLParen {
			return identNode{name: t.text}, nil
		}
		return p.parseCall(t)
	case tokEOF:
		return nil, syntaxf(p.expr, t.pos, "unexpected end of expression")
	}
	return nil, syntaxf(p.expr, t.pos, "unexpected %q", t.text)
}

func (p *parser) parseCall(name token) (node, error) {
	fn, ok := functions[name.text]
	if !ok {
		return nil, &EvaluationError{Kind: ErrUnknownFunction, Expr: p.expr, Pos: name.pos, Msg: name.text}
	}
	p.next() // (
	var args []node
	if p.peek().kind != tokRParen {
		for {
			a, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			args = append(args, a)
			if p.peek().kind != tokComma {
				break
			}
			p.next()
		}
	}
	if c := p.next(); c.kind != tokRParen {
		return nil, syntaxf(p.expr, c.pos, "expected ')' after arguments to %s", name.text)
	}
	if len(args) < fn.minArgs || (fn.maxArgs >= 0 && len(args) > fn.maxArgs) {
		return nil, syntaxf(p.expr, name.pos, "%s takes %s arguments, got %d", name.text, fn.arity(), len(args))
	}
	return callNode{fn: fn, args: args}, nil
}

func (n numberNode) eval(map[string]float64) (float64, error) { return n.v, nil }

func (n identNode) eval(vars map[string]float64) (float64, error) {
	v, ok := vars[n.name]
	if !ok {
		return 0, evalError(ErrUnknownVariable, "%s", n.name)
	}
	return v, nil
}

func (n unaryNode) eval(vars map[string]float64) (float64, error) {
	x, err := n.x.eval(vars)
	if err != nil {
		return 0, err
	}
	if n.op == "-" {
		return -x, nil
	}
	return x, nil
}

func (n binaryNode) eval(vars map[string]float64) (float64, error) {
	l, err := n.l.eval(vars)
	if err != nil {
		return 0, err
	}
	r, err := n.r.eval(vars)
	if err != nil {
		return 0, err
	}
	var out float64
	switch n.op {
	case "+":
		out = l + r
	case "-":
		out = l - r
	case "*":
		out = l * r
	case "/":
		if r == 0 {
			return 0, evalError(ErrDivisionByZero, "%g / 0", l)
		}
		out = l / r
	case "%":
		if r == 0 {
			return 0, evalError(ErrDivisionByZero, "%g %% 0", l)
		}
		out = math.Mod(l, r)
	case "^":
		out = math.Pow(l, r)
	}
	if math.IsNaN(out) || math.IsInf(out, 0) {
		return 0, evalError(ErrNotFinite, "%g %s %g", l, n.op, r)
	}
	return out, nil
}

func (n callNode) eval(vars map[string]float64) (float64, error) {
	args := make([]float64, len(n.args))
	for i, a := range n.args {
		v, err := a.eval(vars)
		if err != nil {
			return 0, err
		}
		args[i] = v
	}
	out := n.fn.apply(args)
	if math.IsNaN(out) || math.IsInf(out, 0) {
		return 0, evalError(ErrNotFinite, "%s(%v)", n.fn.name, args)
	}
	return out, nil
}

// identifiers returns the distinct variable names referenced by n, sorted.
func identifiers(n node) []string {
	seen := make(map[string]struct{})
	n.walk(func(x node) {
		if id, ok := x.(identNode); ok {
			seen[id.name] = struct{}{}
		}
	})
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
