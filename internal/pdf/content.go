package pdf

import (
	"strconv"
	"strings"
)

// contentText decodes the text-showing operators of a page content stream: literal and
// hex strings passed to Tj, TJ, ' and ". Line breaks follow T*, ', ", ET and Td/TD
// moves with a vertical offset. Fonts with custom encodings come out as raw bytes.
func contentText(stream []byte) string {
	var (
		out      strings.Builder
		operands []token
	)
	lex := &lexer{src: stream}
	for {
		tok, ok := lex.next()
		if !ok {
			break
		}
		if tok.kind != tokOperator {
			operands = append(operands, tok)
			continue
		}
		switch tok.text {
		case "Tj":
			writeStrings(&out, operands)
		case "TJ":
			writeArray(&out, operands)
		case "'", `"`:
			newline(&out)
			writeStrings(&out, operands)
		case "T*", "ET":
			newline(&out)
		case "Td", "TD":
			if len(operands) >= 2 {
				if ty, err := strconv.ParseFloat(operands[len(operands)-1].text, 64); err == nil && ty != 0 {
					newline(&out)
				}
			}
		}
		operands = operands[:0]
	}
	return collapse(out.String())
}

func writeStrings(out *strings.Builder, operands []token) {
	for _, op := range operands {
		if op.kind == tokString {
			out.WriteString(op.text)
		}
	}
}

// writeArray writes TJ strings, inserting a space for large negative kerning offsets.
func writeArray(out *strings.Builder, operands []token) {
	for _, op := range operands {
		switch op.kind {
		case tokString:
			out.WriteString(op.text)
		case tokNumber:
			if v, err := strconv.ParseFloat(op.text, 64); err == nil && v < -200 {
				out.WriteByte(' ')
			}
		}
	}
}

func newline(out *strings.Builder) {
	if out.Len() > 0 && !strings.HasSuffix(out.String(), "\n") {
		out.WriteByte('\n')
	}
}

func collapse(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, l := range lines {
		if l = strings.Join(strings.Fields(l), " "); l != "" {
			kept = append(kept, l)
		}
	}
	return strings.Join(kept, "\n")
}

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokString
	tokName
	tokOperator
	tokOther
)

type token struct {
	kind tokenKind
	text string
}

type lexer struct {
	src []byte
	pos int
}

func (l *lexer) next() (token, bool) {
	l.skipSpace()
	if l.pos >= len(l.src) {
		return token{}, false
	}
	c := l.src[l.pos]
	switch {
	case c == '(':
		return token{kind: tokString, text: l.literal()}, true
	case c == '<' && l.peek(1) == '<', c == '>' && l.peek(1) == '>':
		l.pos += 2
		return token{kind: tokOther}, true
	case c == '<':
		return token{kind: tokString, text: l.hex()}, true
	case c == '[' || c == ']' || c == '{' || c == '}':
		l.pos++
		return token{kind: tokOther}, true
	case c == '/':
		return token{kind: tokName, text: l.word()}, true
	case c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9'):
		return token{kind: tokNumber, text: l.word()}, true
	default:
		w := l.word()
		if w == "" {
			l.pos++
			return token{kind: tokOther}, true
		}
		return token{kind: tokOperator, text: w}, true
	}
}

func (l *lexer) peek(n int) byte {
	if l.pos+n < len(l.src) {
		return l.src[l.pos+n]
	}
	return 0
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == '%' {
			for l.pos < len(l.src) && l.src[l.pos] != '\n' && l.src[l.pos] != '\r' {
				l.pos++
			}
			continue
		}
		if !isSpace(c) {
			return
		}
		l.pos++
	}
}

func (l *lexer) word() string {
	start := l.pos
	if l.pos < len(l.src) && l.src[l.pos] == '/' {
		l.pos++
	}
	for l.pos < len(l.src) && !isSpace(l.src[l.pos]) && !isDelim(l.src[l.pos]) {
		l.pos++
	}
	return string(l.src[start:l.pos])
}

func (l *lexer) literal() string {
	var b strings.Builder
	depth := 0
	l.pos++ // (
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		l.pos++
		switch c {
		case '\\':
			if l.pos >= len(l.src) {
				return b.String()
			}
			e := l.src[l.pos]
			l.pos++
			switch e {
			case 'n':
				b.WriteByte('\n')
			case 'r', '\n':
			case 't':
				b.WriteByte('\t')
			case 'b', 'f':
			case '0', '1', '2', '3', '4', '5', '6', '7':
				v := int(e - '0')
				for i := 0; i < 2 && l.pos < len(l.src) && l.src[l.pos] >= '0' && l.src[l.pos] <= '7'; i++ {
					v = v*8 + int(l.src[l.pos]-'0')
					l.pos++
				}
				writeByteChar(&b, byte(v))
			default:
				b.WriteByte(e)
			}
		case '(':
			depth++
			b.WriteByte(c)
		case ')':
			if depth == 0 {
				return b.String()
			}
			depth--
			b.WriteByte(c)
		default:
			writeByteChar(&b, c)
		}
	}
	return b.String()
}

func (l *lexer) hex() string {
	l.pos++ // <
	var digits []byte
	for l.pos < len(l.src) && l.src[l.pos] != '>' {
		if c := l.src[l.pos]; !isSpace(c) {
			digits = append(digits, c)
		}
		l.pos++
	}
	l.pos++ // >
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	raw := make([]byte, 0, len(digits)/2)
	for i := 0; i+1 < len(digits); i += 2 {
		v, err := strconv.ParseUint(string(digits[i:i+2]), 16, 8)
		if err != nil {
			return ""
		}
		raw = append(raw, byte(v))
	}
	// Two-byte glyph strings from Identity-H fonts: keep the low byte when the high byte is zero.
	if len(raw) >= 2 && len(raw)%2 == 0 && raw[0] == 0 {
		single := make([]byte, 0, len(raw)/2)
		for i := 0; i < len(raw); i += 2 {
			single = append(single, raw[i+1])
		}
		raw = single
	}
	var b strings.Builder
	for _, c := range raw {
		writeByteChar(&b, c)
	}
	return b.String()
}

// writeByteChar maps a byte to its Latin-1 rune so accented WinAnsi text survives.
func writeByteChar(b *strings.Builder, c byte) {
	if c < 0x80 {
		b.WriteByte(c)
		return
	}
	b.WriteRune(rune(c))
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t' || c == '\f' || c == 0
}

func isDelim(c byte) bool {
	return strings.IndexByte("()<>[]{}/%", c) >= 0
}
