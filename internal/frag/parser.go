// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package frag

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

func NewParser() *Parser {
	return &Parser{}
}

type Parser struct {
	input string
	pos   int
	// nextPos is start of the next char.
	nextPos int
	// char is the rune starting at pos. char is set to 0 when pos reaches the
	// end of input.
	char rune
	// text accumulates the literal SQL of the bypass part under construction,
	// with brace escapes already resolved.
	text strings.Builder
	// parts are the output of the parser. Parts are added as they are parsed.
	parts []part
	// lineNum is the number of the current line of the input.
	lineNum int
	// lineStart is the position of the first char of the current line in the
	// input.
	lineStart int
}

// Parse takes a SQL template string and returns a Template. Placeholders are
// written as {name}; {{ and }} are escapes for literal braces. Braces inside
// quoted string literals and SQL comments are literal text.
func (p *Parser) Parse(input string) (t *Template, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("cannot parse template: %s", err)
		}
	}()

	p.init(input)

	for p.pos < len(p.input) {
		if ok, err := p.copyStringLiteral(); err != nil {
			return nil, err
		} else if ok {
			continue
		}
		if ok := p.copyComment(); ok {
			continue
		}

		switch p.char {
		case '{':
			if err := p.parsePlaceholder(); err != nil {
				return nil, err
			}
			continue
		case '}':
			line, col := p.lineNum, p.colNum()
			p.advanceChar()
			if !p.skipChar('}') {
				return nil, errorAt(fmt.Errorf(`unexpected "}" outside placeholder, use "}}" for a literal brace`), line, col, p.input)
			}
			p.text.WriteByte('}')
			continue
		}
		p.text.WriteRune(p.char)
		p.advanceChar()
	}

	// Add any remaining literal text to the parts.
	p.flushText()
	return &Template{raw: input, parts: p.parts}, nil
}

// init resets the state of the parser and sets the input string.
func (p *Parser) init(input string) {
	p.input = input
	p.pos = 0
	p.nextPos = 0
	p.char = 0
	p.text.Reset()
	p.parts = []part{}
	p.lineNum = 1
	p.lineStart = 0
	p.advanceChar()
}

// colNum calculates the current column number taking into account line breaks.
func (p *Parser) colNum() int {
	return p.pos - p.lineStart + 1
}

// advanceChar moves the parser to the next character in the input. It also
// takes care of updating the line and column numbers if it encounters line
// breaks.
func (p *Parser) advanceChar() bool {
	if p.nextPos >= len(p.input) {
		p.char = 0
		p.pos = p.nextPos
		return false
	}
	if p.char == '\n' {
		p.lineStart = p.nextPos
		p.lineNum++
	}
	var size int
	p.char, size = utf8.DecodeRuneInString(p.input[p.nextPos:])
	p.pos = p.nextPos
	p.nextPos += size
	return true
}

// errorAt wraps an error with line and column information.
func errorAt(err error, line int, column int, input string) error {
	if strings.ContainsRune(input, '\n') {
		return fmt.Errorf("line %d, column %d: %w", line, column, err)
	} else {
		return fmt.Errorf("column %d: %w", column, err)
	}
}

// peekChar returns true if the current char equals the one passed as parameter.
func (p *Parser) peekChar(c rune) bool {
	return p.pos < len(p.input) && p.char == c
}

// skipChar jumps over the current char if it matches the char passed as a
// parameter. Returns true in that case, false otherwise.
func (p *Parser) skipChar(c rune) bool {
	if p.pos < len(p.input) && p.char == c {
		p.advanceChar()
		return true
	}
	return false
}

// flushText closes the bypass part under construction, if any, and appends it
// to the parts.
func (p *Parser) flushText() {
	if p.text.Len() == 0 {
		return
	}
	p.parts = append(p.parts, &bypass{text: p.text.String()})
	p.text.Reset()
}

// parsePlaceholder parses a {name} placeholder or a {{ brace escape. The
// parser is positioned on the opening brace.
func (p *Parser) parsePlaceholder() error {
	line, col := p.lineNum, p.colNum()
	p.advanceChar()
	if p.skipChar('{') {
		p.text.WriteByte('{')
		return nil
	}

	nameStart := p.pos
	for p.pos < len(p.input) && isNameChar(p.char) {
		p.advanceChar()
	}
	name := p.input[nameStart:p.pos]

	if p.pos >= len(p.input) {
		return errorAt(fmt.Errorf("missing closing brace of placeholder"), line, col, p.input)
	}
	if !p.peekChar('}') {
		return errorAt(fmt.Errorf("invalid character %q in placeholder name", p.char), p.lineNum, p.colNum(), p.input)
	}
	if name == "" {
		return errorAt(fmt.Errorf("empty placeholder name"), line, col, p.input)
	}
	if initial, _ := utf8.DecodeRuneInString(name); !isInitialNameChar(initial) {
		return errorAt(fmt.Errorf("placeholder name %q must start with a letter or underscore", name), line, col, p.input)
	}
	p.advanceChar()

	p.flushText()
	p.parts = append(p.parts, &placeholder{name: name})
	return nil
}

// copyStringLiteral copies single and double quoted sections of input to the
// bypass text verbatim. Doubled up quotes are escaped.
func (p *Parser) copyStringLiteral() (bool, error) {
	c := p.char
	if c != '"' && c != '\'' {
		return false, nil
	}
	line, col := p.lineNum, p.colNum()
	p.text.WriteRune(c)
	p.advanceChar()

	for p.pos < len(p.input) {
		if p.char == c {
			p.text.WriteRune(c)
			p.advanceChar()
			// A doubled up quote is an escape, not a closer.
			if !p.skipChar(c) {
				return true, nil
			}
			p.text.WriteRune(c)
			continue
		}
		p.text.WriteRune(p.char)
		p.advanceChar()
	}
	return false, errorAt(fmt.Errorf("missing closing quote in string literal"), line, col, p.input)
}

// copyComment copies comments as defined by the SQLite spec to the bypass
// text verbatim. If no comment starts at the current position the parser
// state is left unchanged.
func (p *Parser) copyComment() bool {
	c := p.char
	if c != '-' && c != '/' {
		return false
	}
	var next rune
	if p.nextPos < len(p.input) {
		next, _ = utf8.DecodeRuneInString(p.input[p.nextPos:])
	}
	if (c == '-' && next != '-') || (c == '/' && next != '*') {
		return false
	}
	p.text.WriteRune(c)
	p.advanceChar()
	p.text.WriteRune(p.char)
	p.advanceChar()

	if c == '-' {
		// A line comment runs to the end of the line. The newline is not
		// part of the comment.
		for p.pos < len(p.input) && p.char != '\n' {
			p.text.WriteRune(p.char)
			p.advanceChar()
		}
		return true
	}
	// A block comment runs to the closing */ or the end of input, both of
	// which are valid comment ends.
	for p.pos < len(p.input) {
		if p.char == '*' {
			p.text.WriteRune(p.char)
			p.advanceChar()
			if p.skipChar('/') {
				p.text.WriteByte('/')
				return true
			}
			continue
		}
		p.text.WriteRune(p.char)
		p.advanceChar()
	}
	return true
}

// isNameChar returns true if the given char can be part of a placeholder
// name.
func isNameChar(c rune) bool {
	return unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_'
}

// isInitialNameChar returns true if the given char can begin a placeholder
// name.
func isInitialNameChar(c rune) bool {
	return unicode.IsLetter(c) || c == '_'
}
