package mql

import (
	"slices"
	"strconv"
	"strings"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"github.com/leapstack-labs/leapmetrics/pkg/dialect"
	"github.com/leapstack-labs/leapmetrics/pkg/query"
)

// Parse parses the body of an MQL call:
//
//	<metrics> [BY <dimensions>]
//	[[FOR <view>] FUNNEL <condition> THEN <condition> ... WITHIN <n> <unit>]
//	[WHERE <condition>] [HAVING <condition>] [ORDER BY <fields>] [LIMIT <n>]
//
// Conditions are SQL and may name fields directly.
func Parse(statement string) (query.Request, error) {
	p := &parser{src: statement, tokens: NewLexer(statement).Tokens()}
	return p.parse()
}

type parser struct {
	src    string
	tokens []Token
	pos    int
}

func (p *parser) cur() Token { return p.tokens[p.pos] }

func (p *parser) next() Token {
	tok := p.tokens[p.pos]
	if tok.Type != EOF {
		p.pos++
	}
	return tok
}

func (p *parser) accept(t TokenType) bool {
	if p.cur().Type == t {
		p.next()
		return true
	}
	return false
}

func (p *parser) errorf(format string, args ...any) error {
	return core.NewParseError(format+" in statement %s", append(args, p.src)...)
}

func (p *parser) unexpected() error {
	tok := p.cur()
	if tok.Type == EOF {
		return p.errorf("Unexpected end of input")
	}
	return p.errorf("Could not parse %s at line %d, column %d", tok.Literal, tok.Pos.Line, tok.Pos.Column)
}

func (p *parser) parse() (query.Request, error) {
	var req query.Request
	var err error
	if strings.TrimSpace(p.src) == "" {
		return req, p.errorf("Empty MQL statement")
	}
	if p.cur().Type == IDENT {
		if req.Metrics, err = p.identifiers(); err != nil {
			return req, err
		}
	}
	if p.accept(BY) {
		if req.Dimensions, err = p.identifiers(); err != nil {
			return req, err
		}
	}
	if p.cur().Type == FOR || p.cur().Type == FUNNEL {
		if req.Funnel, err = p.funnel(); err != nil {
			return req, err
		}
	}
	if p.accept(WHERE) {
		text, err := p.clause("WHERE", HAVING, ORDER, LIMIT)
		if err != nil {
			return req, err
		}
		req.Where = []query.Filter{{Literal: text}}
	}
	if p.accept(HAVING) {
		text, err := p.clause("HAVING", ORDER, LIMIT)
		if err != nil {
			return req, err
		}
		req.Having = []query.Filter{{Literal: text}}
	}
	if p.accept(ORDER) {
		if !p.accept(BY) {
			return req, p.unexpected()
		}
		text, err := p.clause("ORDER BY", LIMIT)
		if err != nil {
			return req, err
		}
		req.OrderBy = query.ParseOrderBy(text)
	}
	if p.accept(LIMIT) {
		tok := p.next()
		n, err := strconv.Atoi(tok.Literal)
		if tok.Type != NUMBER || err != nil {
			return req, p.errorf("LIMIT must be a whole number, got %s", tok.Literal)
		}
		req.Limit = n
	}
	if p.cur().Type != EOF {
		return req, p.unexpected()
	}
	if len(req.Metrics) == 0 && len(req.Dimensions) == 0 {
		return req, p.errorf("No metrics or dimensions found")
	}
	return req, nil
}

// identifiers reads a comma separated list of field names.
func (p *parser) identifiers() ([]string, error) {
	var out []string
	for {
		tok := p.cur()
		if tok.Type != IDENT {
			return nil, p.errorf("Could not parse identifier %s", tok.Literal)
		}
		p.next()
		out = append(out, strings.Trim(tok.Literal, "\"`"))
		if !p.accept(COMMA) {
			return out, nil
		}
	}
}

// funnel reads [FOR <view>] FUNNEL <step> {THEN <step>} WITHIN <n> <unit>.
func (p *parser) funnel() (*query.Funnel, error) {
	fn := &query.Funnel{}
	if p.accept(FOR) {
		tok := p.next()
		if tok.Type != IDENT {
			return nil, p.errorf("Expected a view name after FOR, got %s", tok.Literal)
		}
		fn.ViewName = tok.Literal
	}
	if !p.accept(FUNNEL) {
		return nil, p.unexpected()
	}
	for {
		text, err := p.clause("FUNNEL step", THEN, WITHIN)
		if err != nil {
			return nil, err
		}
		fn.Steps = append(fn.Steps, []query.Filter{{Literal: text}})
		if !p.accept(THEN) {
			break
		}
	}
	if !p.accept(WITHIN) {
		return nil, p.errorf("FUNNEL requires a WITHIN clause")
	}
	value, unit := p.next(), p.next()
	n, err := strconv.Atoi(value.Literal)
	if value.Type != NUMBER || err != nil {
		return nil, p.errorf("WITHIN must be followed by a whole number, got %s", value.Literal)
	}
	u := strings.TrimSuffix(strings.ToLower(unit.Literal), "s")
	if unit.Type != IDENT || !slices.Contains(dialect.Intervals, u) {
		return nil, p.errorf("Unknown WITHIN unit %s, expected one of %s", unit.Literal, strings.Join(dialect.Intervals, ", "))
	}
	fn.Within = query.Within{Value: n, Unit: strings.ToLower(unit.Literal)}
	return fn, nil
}

// clause returns the source text up to the next stop keyword outside of
// parentheses.
func (p *parser) clause(name string, stops ...TokenType) (string, error) {
	start := p.cur()
	end := start.Pos.Offset
	depth := 0
	for {
		tok := p.cur()
		if tok.Type == EOF || (depth == 0 && slices.Contains(stops, tok.Type)) {
			break
		}
		switch tok.Type {
		case ILLEGAL:
			return "", p.errorf("Could not parse %s at line %d, column %d", tok.Literal, tok.Pos.Line, tok.Pos.Column)
		case LPAREN:
			depth++
		case RPAREN:
			if depth == 0 {
				return "", p.errorf("Unbalanced parentheses in %s clause", name)
			}
			depth--
		}
		end = tok.End
		p.next()
	}
	if depth > 0 {
		return "", p.errorf("Unbalanced parentheses in %s clause", name)
	}
	text := strings.TrimSpace(p.src[start.Pos.Offset:end])
	if text == "" {
		return "", p.errorf("Empty %s clause", name)
	}
	return text, nil
}
