package query

import (
	"strings"
)

// supportedFields are the metadata fields a field expression may name.
var supportedFields = map[string]struct{}{
	"path": {}, "ext": {}, "size": {}, "mtime": {},
	"type": {}, "filename": {}, "name": {},
}

// Parse turns a query string into an AST plus an optional sort directive.
// The sort directive is only accepted at the top-level tail; anywhere else
// it is a parse error.
func Parse(query string) (*Parsed, error) {
	tokens, err := lex(query)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens, query: query}

	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}

	sort, err := p.parseSortDirective()
	if err != nil {
		return nil, err
	}

	if p.current().typ != tokEOF {
		return nil, parseErrf(query, p.current().pos, "unexpected token %q", p.current().value)
	}
	return &Parsed{Root: root, Sort: sort}, nil
}

type parser struct {
	tokens []lexToken
	query  string
	pos    int
}

func (p *parser) current() lexToken { return p.tokens[p.pos] }

func (p *parser) advance() lexToken {
	tok := p.tokens[p.pos]
	p.pos++
	return tok
}

func (p *parser) match(typ tokenType) bool {
	if p.current().typ == typ {
		p.pos++
		return true
	}
	return false
}

func (p *parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.match(tokOr) {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = Bool{Op: OpOr, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		if p.match(tokAnd) {
			right, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			left = Bool{Op: OpAnd, Left: left, Right: right}
			continue
		}
		if p.startsClause(p.current().typ) {
			right, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			left = Bool{Op: OpAnd, Left: left, Right: right}
			continue
		}
		return left, nil
	}
}

func (p *parser) parseUnary() (Node, error) {
	if p.match(tokNot) || p.match(tokMinus) {
		child, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return Not{Child: child}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Node, error) {
	switch p.current().typ {
	case tokLParen:
		return p.parseGroup()
	case tokField:
		return p.parseFieldExpr()
	case tokPhrase:
		return p.parsePhrase()
	case tokTerm:
		return p.parseTermOrPrefix()
	}
	return nil, parseErrf(p.query, p.current().pos, "cannot parse expression at %q", p.current().value)
}

func (p *parser) parseGroup() (Node, error) {
	p.advance() // LPAREN
	inner, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.match(tokRParen) {
		return nil, &ParseError{
			Query: p.query,
			Pos:   p.current().pos,
			Msg:   "missing closing parenthesis",
			Hint:  "add a ) to close the group",
		}
	}
	return inner, nil
}

func (p *parser) parseFieldExpr() (Node, error) {
	fieldTok := p.advance()
	field := strings.ToLower(fieldTok.value)
	if _, ok := supportedFields[field]; !ok {
		return nil, parseErrf(p.query, fieldTok.pos, "unsupported field %q", fieldTok.value)
	}
	if !p.match(tokColon) {
		return nil, parseErrf(p.query, p.current().pos, "field query is missing its colon")
	}

	valueTok := p.current()
	if !isValueToken(valueTok.typ) {
		return nil, parseErrf(p.query, valueTok.pos, "field query is missing a value")
	}
	p.advance()

	if p.match(tokRangeSep) {
		toTok := p.current()
		if !isValueToken(toTok.typ) {
			return nil, parseErrf(p.query, toTok.pos, "range query is missing its upper bound")
		}
		p.advance()
		return Range{Field: field, From: valueTok.value, To: toTok.value}, nil
	}
	return Field{Field: field, Value: valueTok.value}, nil
}

func (p *parser) parsePhrase() (Node, error) {
	tok := p.advance()
	var terms []string
	for _, part := range strings.Fields(tok.value) {
		terms = append(terms, part)
	}
	if len(terms) == 0 {
		return nil, parseErrf(p.query, tok.pos, "phrase cannot be empty")
	}
	return Phrase{Terms: terms}, nil
}

func (p *parser) parseTermOrPrefix() (Node, error) {
	tok := p.advance()
	if p.match(tokStar) {
		return Prefix{Prefix: tok.value}, nil
	}
	return Term{Term: tok.value}, nil
}

// parseSortDirective consumes an optional trailing 'sort:field'.
func (p *parser) parseSortDirective() (*Sort, error) {
	if !p.match(tokSort) {
		return nil, nil
	}
	if !p.match(tokColon) {
		return nil, parseErrf(p.query, p.current().pos, "sort directive is missing its colon")
	}
	fieldTok := p.current()
	if fieldTok.typ != tokTerm && fieldTok.typ != tokField {
		return nil, parseErrf(p.query, fieldTok.pos, "sort directive is missing a field")
	}
	p.advance()
	return &Sort{Field: strings.ToLower(fieldTok.value)}, nil
}

func (p *parser) startsClause(typ tokenType) bool {
	switch typ {
	case tokTerm, tokPhrase, tokField, tokLParen, tokNot, tokMinus:
		return true
	}
	return false
}

func isValueToken(typ tokenType) bool {
	return typ == tokTerm || typ == tokPhrase || typ == tokField
}

func lowerTerm(s string) string { return strings.ToLower(s) }
