package mql

import "strings"

// TokenType identifies a lexical token of an MQL statement.
type TokenType int

//nolint:revive // ALL_CAPS token names follow the SQL lexer convention
const (
	EOF TokenType = iota
	ILLEGAL

	IDENT  // total_revenue, orders.channel
	NUMBER // 3, 1.5
	STRING // 'Email'
	OP     // = <> != < > <= >= + - * / % || ::

	COMMA     // ,
	LPAREN    // (
	RPAREN    // )
	SEMICOLON // ;

	keywordStart
	BY
	WHERE
	HAVING
	ORDER
	LIMIT
	FOR
	FUNNEL
	THEN
	WITHIN
	keywordEnd
)

var keywords = map[string]TokenType{
	"by":     BY,
	"where":  WHERE,
	"having": HAVING,
	"order":  ORDER,
	"limit":  LIMIT,
	"for":    FOR,
	"funnel": FUNNEL,
	"then":   THEN,
	"within": WITHIN,
}

var names = map[TokenType]string{
	EOF:       "EOF",
	ILLEGAL:   "ILLEGAL",
	IDENT:     "identifier",
	NUMBER:    "number",
	STRING:    "string",
	OP:        "operator",
	COMMA:     ",",
	LPAREN:    "(",
	RPAREN:    ")",
	SEMICOLON: ";",
}

func (t TokenType) String() string {
	if n, ok := names[t]; ok {
		return n
	}
	for k, v := range keywords {
		if v == t {
			return strings.ToUpper(k)
		}
	}
	return "UNKNOWN"
}

// IsKeyword reports whether t is an MQL clause keyword.
func (t TokenType) IsKeyword() bool { return t > keywordStart && t < keywordEnd }

// lookupIdent returns the keyword type for ident, or IDENT.
func lookupIdent(ident string) TokenType {
	if t, ok := keywords[strings.ToLower(ident)]; ok {
		return t
	}
	return IDENT
}

// Position is a location in the source text.
type Position struct {
	Line   int // 1-based
	Column int // 1-based
	Offset int // 0-based byte offset
}

// Token is one lexical token. End is the byte offset just past it.
type Token struct {
	Type    TokenType
	Literal string
	Pos     Position
	End     int
}
