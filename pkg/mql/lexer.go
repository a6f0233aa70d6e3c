package mql

// Lexer tokenizes MQL statements and the SQL that embeds them.
type Lexer struct {
	input   string
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      byte // current char under examination
	line    int  // current line number (1-based)
	col     int  // current column number (1-based)
}

// NewLexer creates a new Lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input, line: 1}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++

	if l.ch == '\n' {
		l.line++
		l.col = 0
	} else {
		l.col++
	}
}

func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

func (l *Lexer) currentPos() Position {
	return Position{Line: l.line, Column: l.col, Offset: l.pos}
}

// Tokens lexes the whole input, EOF included.
func (l *Lexer) Tokens() []Token {
	var out []Token
	for {
		tok := l.NextToken()
		out = append(out, tok)
		if tok.Type == EOF {
			return out
		}
	}
}

// NextToken returns the next token.
func (l *Lexer) NextToken() Token {
	l.skipWhitespaceAndComments()

	tok := Token{Pos: l.currentPos()}
	switch l.ch {
	case 0:
		tok.Type = EOF
		tok.End = len(l.input)
		return tok
	case ',':
		tok.Type, tok.Literal = COMMA, ","
	case '(':
		tok.Type, tok.Literal = LPAREN, "("
	case ')':
		tok.Type, tok.Literal = RPAREN, ")"
	case ';':
		tok.Type, tok.Literal = SEMICOLON, ";"
	case '=', '+', '-', '*', '/', '%':
		tok.Type, tok.Literal = OP, string(l.ch)
	case '<':
		tok.Type = OP
		if next := l.peekChar(); next == '=' || next == '>' {
			l.readChar()
			tok.Literal = "<" + string(next)
		} else {
			tok.Literal = "<"
		}
	case '>', '!':
		first := l.ch
		if l.peekChar() == '=' {
			l.readChar()
			tok.Type, tok.Literal = OP, string(first)+"="
		} else if first == '>' {
			tok.Type, tok.Literal = OP, ">"
		} else {
			tok.Type, tok.Literal = ILLEGAL, "!"
		}
	case '|', ':':
		first := l.ch
		if l.peekChar() == first {
			l.readChar()
			tok.Type, tok.Literal = OP, string(first)+string(first)
		} else {
			tok.Type, tok.Literal = ILLEGAL, string(first)
		}
	case '\'':
		lit, ok := l.readQuoted('\'')
		tok.Type, tok.Literal = STRING, lit
		if !ok {
			tok.Type = ILLEGAL
		}
		tok.End = l.pos
		return tok
	case '"', '`':
		lit, ok := l.readQuoted(l.ch)
		tok.Type, tok.Literal = IDENT, lit
		if !ok {
			tok.Type = ILLEGAL
		}
		tok.End = l.pos
		return tok
	default:
		switch {
		case isLetter(l.ch) || l.ch == '_':
			tok.Literal = l.readIdentifier()
			tok.Type = lookupIdent(tok.Literal)
			tok.End = l.pos
			return tok
		case isDigit(l.ch):
			tok.Type, tok.Literal = NUMBER, l.readNumber()
			tok.End = l.pos
			return tok
		default:
			tok.Type, tok.Literal = ILLEGAL, string(l.ch)
		}
	}
	l.readChar()
	tok.End = l.pos
	return tok
}

func (l *Lexer) skipWhitespaceAndComments() {
	for {
		for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' {
			l.readChar()
		}
		switch {
		case l.ch == '-' && l.peekChar() == '-':
			for l.ch != '\n' && l.ch != 0 {
				l.readChar()
			}
		case l.ch == '/' && l.peekChar() == '*':
			l.readChar()
			l.readChar()
			for l.ch != 0 && (l.ch != '*' || l.peekChar() != '/') {
				l.readChar()
			}
			if l.ch != 0 {
				l.readChar()
				l.readChar()
			}
		default:
			return
		}
	}
}

// readIdentifier reads a possibly dotted identifier such as orders.channel.
func (l *Lexer) readIdentifier() string {
	start := l.pos
	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' || (l.ch == '.' && isLetter(l.peekChar())) {
		l.readChar()
	}
	return l.input[start:l.pos]
}

func (l *Lexer) readNumber() string {
	start := l.pos
	for isDigit(l.ch) || (l.ch == '.' && isDigit(l.peekChar())) {
		l.readChar()
	}
	return l.input[start:l.pos]
}

// readQuoted reads a quoted string or identifier including its quotes. A
// doubled quote is an escaped quote. ok is false when the input ends first.
func (l *Lexer) readQuoted(quote byte) (string, bool) {
	start := l.pos
	l.readChar()
	for {
		switch {
		case l.ch == 0:
			return l.input[start:l.pos], false
		case l.ch == quote && l.peekChar() == quote:
			l.readChar()
		case l.ch == quote:
			l.readChar()
			return l.input[start:l.pos], true
		}
		l.readChar()
	}
}

func isLetter(ch byte) bool { return ('a' <= ch && ch <= 'z') || ('A' <= ch && ch <= 'Z') }

func isDigit(ch byte) bool { return '0' <= ch && ch <= '9' }
