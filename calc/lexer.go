package calc

import (
	"fmt"
	"unicode/utf8"
)

// TokenKind identifies the type of a lexer token.
type TokenKind int

const (
	TokenNumber TokenKind = iota // numeric literal

	// Operators
	TokenPlus  // +
	TokenMinus // -
	TokenStar  // *
	TokenSlash // /

	// Delimiters
	TokenLParen // (
	TokenRParen // )

	TokenEOF
)

var tokenNames = map[TokenKind]string{
	TokenNumber: "number",
	TokenPlus:   "+",
	TokenMinus:  "-",
	TokenStar:   "*",
	TokenSlash:  "/",
	TokenLParen: "(",
	TokenRParen: ")",
	TokenEOF:    "EOF",
}

func (k TokenKind) String() string {
	if name, ok := tokenNames[k]; ok {
		return name
	}
	return fmt.Sprintf("token(%d)", int(k))
}

// Token is a lexed token with position information.
type Token struct {
	Kind  TokenKind
	Value string // raw text of the token
	Pos   int    // byte offset in source
}

var singleCharTokens = map[rune]TokenKind{
	'+': TokenPlus,
	'-': TokenMinus,
	'*': TokenStar,
	'/': TokenSlash,
	'(': TokenLParen,
	')': TokenRParen,
}

// Lexer tokenizes arithmetic expressions.
type Lexer struct {
	src    string
	pos    int
	tokens []Token
}

// Lex tokenizes the input string and returns all tokens.
func Lex(src string) ([]Token, error) {
	l := &Lexer{src: src}
	if err := l.lexAll(); err != nil {
		return nil, err
	}
	return l.tokens, nil
}

func (l *Lexer) lexAll() error {
	for {
		l.skipWhitespace()
		if l.pos >= len(l.src) {
			l.tokens = append(l.tokens, Token{Kind: TokenEOF, Pos: l.pos})
			return nil
		}

		ch, size := utf8.DecodeRuneInString(l.src[l.pos:])
		if kind, ok := singleCharTokens[ch]; ok {
			l.tokens = append(l.tokens, Token{Kind: kind, Value: string(ch), Pos: l.pos})
			l.pos += size
			continue
		}

		switch {
		case isDigit(ch) || ch == '.':
			if err := l.lexNumber(); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unexpected character %q at position %d", string(ch), l.pos)
		}
	}
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.src) {
		switch l.src[l.pos] {
		case ' ', '\t', '\n', '\r':
			l.pos++
		default:
			return
		}
	}
}

func (l *Lexer) lexNumber() error {
	start := l.pos
	digits := 0
	for l.pos < len(l.src) && isDigit(rune(l.src[l.pos])) {
		l.pos++
		digits++
	}
	// decimal part
	if l.pos < len(l.src) && l.src[l.pos] == '.' {
		l.pos++
		for l.pos < len(l.src) && isDigit(rune(l.src[l.pos])) {
			l.pos++
			digits++
		}
	}
	if digits == 0 {
		return fmt.Errorf("invalid number %q at position %d", l.src[start:l.pos], start)
	}
	l.tokens = append(l.tokens, Token{Kind: TokenNumber, Value: l.src[start:l.pos], Pos: start})
	return nil
}

func isDigit(ch rune) bool {
	return ch >= '0' && ch <= '9'
}
