package query

import (
	"fmt"
	"strconv"
	"strings"

	"sta-timeseries/internal/domain"
)

// fieldColumns maps protocol field names to hypertable columns.
var fieldColumns = map[string]string{
	"phenomenonTime":        "timestamp",
	"resultTime":            "timestamp",
	"result":                "value",
	"resultQuality/qc_flag": "qc_flag",
	"qc_flag":               "qc_flag",
	"parameters/depth":      "depth",
	"Datastream/id":         "datastream_id",
	"Datastream/@iot.id":    "datastream_id",
}

var comparisonOps = map[string]string{
	"eq": "=",
	"ne": "!=",
	"gt": ">",
	"ge": ">=",
	"lt": "<",
	"le": "<=",
}

// filterFuncs lists the supported functions and their extract() field, if any.
var filterFuncs = map[string]string{
	"date":   "",
	"year":   "year",
	"month":  "month",
	"day":    "day",
	"hour":   "hour",
	"minute": "minute",
	"second": "second",
}

// Expr is a node of a translated $filter expression.
type Expr interface {
	// String renders backend SQL with literals inlined, for logs and tests.
	String() string
	// Protocol renders the expression back in request syntax.
	Protocol() string
	render(b *sqlBuilder)
}

// Operand is one side of a comparison.
type Operand interface {
	String() string
	Protocol() string
	render(b *sqlBuilder)
}

// Comparison is "left op right" with op already translated to SQL.
type Comparison struct {
	Left  Operand
	Op    string // SQL operator
	ProOp string // protocol operator (eq, ne, ...)
	Right Operand
}

// Logical joins two expressions with "and" or "or".
type Logical struct {
	Op    string
	Left  Expr
	Right Expr
}

// Not negates an expression.
type Not struct {
	X Expr
}

// Group is a parenthesised expression.
type Group struct {
	X Expr
}

// Field is a protocol field mapped to a column.
type Field struct {
	Name   string // protocol name
	Column string
}

// Func is a supported function applied to a field, e.g. date(phenomenonTime).
type Func struct {
	Name string
	Arg  Field
}

// LiteralKind is the type of a literal token.
type LiteralKind int

const (
	LiteralNumber LiteralKind = iota
	LiteralDate
	LiteralString
	LiteralBool
	LiteralNull
)

// Literal is a constant. Text is the value without quotes.
type Literal struct {
	Kind LiteralKind
	Text string
}

func (c *Comparison) String() string {
	if op, ok := c.nullOp(); ok {
		return c.Left.String() + " " + op
	}
	return c.Left.String() + " " + c.Op + " " + c.Right.String()
}

// nullOp renders "eq null" and "ne null" as is null / is not null.
func (c *Comparison) nullOp() (string, bool) {
	lit, ok := c.Right.(Literal)
	if !ok || lit.Kind != LiteralNull {
		return "", false
	}
	switch c.Op {
	case "=":
		return "is null", true
	case "!=":
		return "is not null", true
	}
	return "", false
}

func (c *Comparison) Protocol() string {
	return c.Left.Protocol() + " " + c.ProOp + " " + c.Right.Protocol()
}

func (l *Logical) String() string   { return l.Left.String() + " " + l.Op + " " + l.Right.String() }
func (l *Logical) Protocol() string { return l.Left.Protocol() + " " + l.Op + " " + l.Right.Protocol() }
func (n *Not) String() string       { return "not " + n.X.String() }
func (n *Not) Protocol() string     { return "not " + n.X.Protocol() }
func (g *Group) String() string     { return "(" + g.X.String() + ")" }
func (g *Group) Protocol() string   { return "(" + g.X.Protocol() + ")" }
func (f Field) String() string      { return f.Column }
func (f Field) Protocol() string    { return f.Name }

func (f Func) String() string {
	if part := filterFuncs[f.Name]; part != "" {
		return "extract(" + part + " from " + f.Arg.Column + ")"
	}
	return f.Name + "(" + f.Arg.Column + ")"
}

func (f Func) Protocol() string { return f.Name + "(" + f.Arg.Name + ")" }

func (l Literal) String() string {
	switch l.Kind {
	case LiteralDate, LiteralString:
		return "'" + strings.ReplaceAll(l.Text, "'", "''") + "'"
	default:
		return l.Text
	}
}

func (l Literal) Protocol() string {
	if l.Kind == LiteralString {
		return "'" + strings.ReplaceAll(l.Text, "'", "''") + "'"
	}
	return l.Text
}

// Value returns the literal as a driver argument.
func (l Literal) Value() interface{} {
	switch l.Kind {
	case LiteralNumber:
		if i, err := strconv.ParseInt(l.Text, 10, 64); err == nil {
			return i
		}
		f, _ := strconv.ParseFloat(l.Text, 64)
		return f
	case LiteralBool:
		return l.Text == "true"
	case LiteralNull:
		return nil
	default:
		return l.Text
	}
}

// IsDate reports whether s looks like an ISO-8601 date or date-time, using
// fixed character positions (YYYY-mm-dd or YYYY-mm-ddTHH:MM:SS...).
func IsDate(s string) bool {
	if len(s) > 19 && s[4] == '-' && s[7] == '-' && s[10] == 'T' && s[13] == ':' && s[16] == ':' {
		return true
	}
	return len(s) == 10 && s[4] == '-' && s[7] == '-'
}

// ParseFilter translates a $filter expression into an expression tree.
func ParseFilter(s string) (Expr, error) {
	toks, err := tokenize(s)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return nil, domain.ProtocolSyntax("empty $filter")
	}
	p := &filterParser{toks: toks}
	e, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, domain.ProtocolSyntax("unexpected %q in $filter %q", p.toks[p.pos], s)
	}
	return e, nil
}

// tokenize splits on single spaces, re-joining quoted strings and peeling
// grouping parentheses off the words. A function call such as
// date(phenomenonTime) stays a single token.
func tokenize(s string) ([]string, error) {
	var words []string
	raw := strings.Split(s, " ")
	for i := 0; i < len(raw); i++ {
		w := raw[i]
		if w == "" {
			continue
		}
		if unclosedQuote(w) {
			for i+1 < len(raw) && unclosedQuote(w) {
				i++
				w += " " + raw[i]
			}
			if unclosedQuote(w) {
				return nil, domain.ProtocolSyntax("unterminated string in $filter %q", s)
			}
		}
		words = append(words, w)
	}

	var toks []string
	for _, w := range words {
		for strings.HasPrefix(w, "(") {
			toks = append(toks, "(")
			w = w[1:]
		}
		closing := 0
		if strings.HasPrefix(w, "'") {
			end := strings.LastIndex(w, "'")
			tail := w[end+1:]
			if strings.Trim(tail, ")") != "" {
				return nil, domain.ProtocolSyntax("unexpected %q after string in $filter", tail)
			}
			closing = len(tail)
			w = w[:end+1]
		} else {
			for strings.HasSuffix(w, ")") && strings.Count(w, ")") > strings.Count(w, "(") {
				w = w[:len(w)-1]
				closing++
			}
		}
		if w != "" {
			toks = append(toks, w)
		}
		for ; closing > 0; closing-- {
			toks = append(toks, ")")
		}
	}
	return toks, nil
}

// unclosedQuote reports whether w opens a quoted string it does not close.
func unclosedQuote(w string) bool {
	core := strings.TrimRight(strings.TrimLeft(w, "("), ")")
	if !strings.HasPrefix(core, "'") {
		return false
	}
	return !closesQuote(core)
}

// closesQuote reports whether a token starting with a quote also ends it.
func closesQuote(s string) bool {
	if len(s) < 2 || !strings.HasSuffix(s, "'") {
		return false
	}
	// count trailing quotes after the opening one; an odd count closes
	inner := s[1:]
	n := 0
	for j := len(inner) - 1; j >= 0 && inner[j] == '\''; j-- {
		n++
	}
	return n%2 == 1
}

type filterParser struct {
	toks []string
	pos  int
}

func (p *filterParser) peek() string {
	if p.pos < len(p.toks) {
		return p.toks[p.pos]
	}
	return ""
}

func (p *filterParser) next() (string, error) {
	if p.pos >= len(p.toks) {
		return "", domain.ProtocolSyntax("unexpected end of $filter")
	}
	t := p.toks[p.pos]
	p.pos++
	return t, nil
}

func (p *filterParser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek() == "or" {
		p.pos++
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Logical{Op: "or", Left: left, Right: right}
	}
	return left, nil
}

func (p *filterParser) parseAnd() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek() == "and" {
		p.pos++
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &Logical{Op: "and", Left: left, Right: right}
	}
	return left, nil
}

func (p *filterParser) parseUnary() (Expr, error) {
	switch p.peek() {
	case "not":
		p.pos++
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Not{X: x}, nil
	case "(":
		p.pos++
		x, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if t, err := p.next(); err != nil || t != ")" {
			return nil, domain.ProtocolSyntax("missing ) in $filter")
		}
		return &Group{X: x}, nil
	}
	return p.parseComparison()
}

func (p *filterParser) parseComparison() (Expr, error) {
	lt, err := p.next()
	if err != nil {
		return nil, err
	}
	left, err := parseOperand(lt)
	if err != nil {
		return nil, err
	}
	opTok, err := p.next()
	if err != nil {
		return nil, err
	}
	op, ok := comparisonOps[opTok]
	if !ok {
		return nil, domain.ProtocolSyntax("unsupported operator %q in $filter, expecting one of eq ne gt ge lt le", opTok)
	}
	rt, err := p.next()
	if err != nil {
		return nil, err
	}
	right, err := parseOperand(rt)
	if err != nil {
		return nil, err
	}
	return &Comparison{Left: left, Op: op, ProOp: opTok, Right: right}, nil
}

func parseOperand(tok string) (Operand, error) {
	if tok == "(" || tok == ")" {
		return nil, domain.ProtocolSyntax("unexpected %q in $filter", tok)
	}
	if strings.HasPrefix(tok, "'") {
		text := tok[1 : len(tok)-1]
		return Literal{Kind: LiteralString, Text: strings.ReplaceAll(text, "''", "'")}, nil
	}
	if open := strings.Index(tok, "("); open > 0 && strings.HasSuffix(tok, ")") {
		name := tok[:open]
		if _, ok := filterFuncs[name]; !ok {
			return nil, domain.ProtocolSyntax("unsupported function %q in $filter", name)
		}
		arg, err := parseField(tok[open+1 : len(tok)-1])
		if err != nil {
			return nil, err
		}
		return Func{Name: name, Arg: arg}, nil
	}
	if IsDate(tok) {
		return Literal{Kind: LiteralDate, Text: tok}, nil
	}
	switch tok {
	case "true", "false":
		return Literal{Kind: LiteralBool, Text: tok}, nil
	case "null":
		return Literal{Kind: LiteralNull, Text: tok}, nil
	}
	if _, err := strconv.ParseFloat(tok, 64); err == nil {
		return Literal{Kind: LiteralNumber, Text: tok}, nil
	}
	return parseField(tok)
}

func parseField(name string) (Field, error) {
	col, ok := fieldColumns[name]
	if !ok {
		return Field{}, domain.ProtocolSyntax("unsupported field %q in $filter", name)
	}
	return Field{Name: name, Column: col}, nil
}

// Columns lists the columns referenced by e, in order of appearance.
func Columns(e Expr) []string {
	var cols []string
	var walkOperand func(o Operand)
	walkOperand = func(o Operand) {
		switch v := o.(type) {
		case Field:
			cols = append(cols, v.Column)
		case Func:
			cols = append(cols, v.Arg.Column)
		}
	}
	var walk func(e Expr)
	walk = func(e Expr) {
		switch v := e.(type) {
		case *Comparison:
			walkOperand(v.Left)
			walkOperand(v.Right)
		case *Logical:
			walk(v.Left)
			walk(v.Right)
		case *Not:
			walk(v.X)
		case *Group:
			walk(v.X)
		}
	}
	if e != nil {
		walk(e)
	}
	return cols
}

// SplitDatastream removes a "Datastream/id eq N" term from a conjunction and
// returns N together with the remaining expression (nil if nothing is left).
// A datastream term under or/not, or no term at all, is NotImplemented.
func SplitDatastream(e Expr) (int64, Expr, error) {
	if e == nil {
		return 0, nil, domain.NotImplemented("Observations query without a Datastream/id filter is not implemented")
	}
	var (
		found int64
		count int
	)
	var strip func(e Expr) (Expr, error)
	strip = func(e Expr) (Expr, error) {
		switch v := e.(type) {
		case *Comparison:
			id, ok := datastreamTerm(v)
			if !ok {
				if touchesDatastream(v) {
					return nil, domain.NotImplemented("only Datastream/id eq <id> is supported, got %q", v.Protocol())
				}
				return v, nil
			}
			found = id
			count++
			return nil, nil
		case *Logical:
			if v.Op != "and" {
				if len(datastreamColumns(v)) > 0 {
					return nil, domain.NotImplemented("logical operator %q around a Datastream/id filter is not implemented", v.Op)
				}
				return v, nil
			}
			l, err := strip(v.Left)
			if err != nil {
				return nil, err
			}
			r, err := strip(v.Right)
			if err != nil {
				return nil, err
			}
			switch {
			case l == nil:
				return r, nil
			case r == nil:
				return l, nil
			}
			return &Logical{Op: "and", Left: l, Right: r}, nil
		case *Group:
			x, err := strip(v.X)
			if err != nil || x == nil {
				return x, err
			}
			if x == v.X {
				return v, nil
			}
			return &Group{X: x}, nil
		case *Not:
			if len(datastreamColumns(v)) > 0 {
				return nil, domain.NotImplemented("logical operator \"not\" around a Datastream/id filter is not implemented")
			}
			return v, nil
		}
		return e, nil
	}

	rest, err := strip(e)
	if err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, domain.NotImplemented("Observations query without a Datastream/id filter is not implemented")
	}
	if count > 1 {
		return 0, nil, domain.NotImplemented("Observations query over more than one Datastream/id term is not implemented")
	}
	return found, rest, nil
}

func datastreamTerm(c *Comparison) (int64, bool) {
	f, ok := c.Left.(Field)
	if !ok || f.Column != "datastream_id" || c.Op != "=" {
		return 0, false
	}
	lit, ok := c.Right.(Literal)
	if !ok || lit.Kind != LiteralNumber {
		return 0, false
	}
	id, err := strconv.ParseInt(lit.Text, 10, 64)
	if err != nil || id < 1 {
		return 0, false
	}
	return id, true
}

func touchesDatastream(c *Comparison) bool {
	for _, col := range Columns(c) {
		if col == "datastream_id" {
			return true
		}
	}
	return false
}

func datastreamColumns(e Expr) []string {
	var out []string
	for _, col := range Columns(e) {
		if col == "datastream_id" {
			out = append(out, col)
		}
	}
	return out
}

// sqlBuilder accumulates parameterized SQL.
type sqlBuilder struct {
	sb   strings.Builder
	args []interface{}
	base int
}

func (b *sqlBuilder) placeholder(v interface{}) {
	b.args = append(b.args, v)
	fmt.Fprintf(&b.sb, "$%d", b.base+len(b.args))
}

func (c *Comparison) render(b *sqlBuilder) {
	if op, ok := c.nullOp(); ok {
		c.Left.render(b)
		b.sb.WriteString(" " + op)
		return
	}
	c.Left.render(b)
	b.sb.WriteString(" " + c.Op + " ")
	c.Right.render(b)
}

func (l *Logical) render(b *sqlBuilder) {
	l.Left.render(b)
	b.sb.WriteString(" " + l.Op + " ")
	l.Right.render(b)
}

func (n *Not) render(b *sqlBuilder) {
	b.sb.WriteString("not ")
	n.X.render(b)
}

func (g *Group) render(b *sqlBuilder) {
	b.sb.WriteString("(")
	g.X.render(b)
	b.sb.WriteString(")")
}

func (f Field) render(b *sqlBuilder) { b.sb.WriteString(f.Column) }
func (f Func) render(b *sqlBuilder)  { b.sb.WriteString(f.String()) }

func (l Literal) render(b *sqlBuilder) {
	if l.Kind == LiteralNull {
		b.sb.WriteString("null")
		return
	}
	b.placeholder(l.Value())
}

// SQL renders e as a parameterized predicate whose placeholders start at
// $(argOffset+1). It returns the predicate text and its arguments.
func SQL(e Expr, argOffset int) (string, []interface{}) {
	b := &sqlBuilder{base: argOffset}
	e.render(b)
	return b.sb.String(), b.args
}
