package descriptor

import (
	"fmt"
	"strconv"
	"strings"

	"pitchgrid-bridge/internal/expr"
)

// Template is a compiled byte-level SysEx programming template: a sequence
// of literal-byte runs, a single STATUS marker slot (response templates
// only), and placeholder expressions bound to per-pad values (lx, ly, note,
// channel, color) at render time.
//
// Source syntax is whitespace-separated tokens:
//   - a run of an even number of hex digits is a literal byte run (its
//     width is len/2 — a 6-digit run is a 3-byte manufacturer identifier)
//   - the literal token STATUS marks the response status byte slot
//   - {expression} is evaluated against the render-time variables and
//     descriptor helpers, masked to a single byte
type Template struct {
	tokens []templateToken
	src    string
}

type templateTokenKind int

const (
	tokLiteral templateTokenKind = iota
	tokStatus
	tokPlaceholder
)

type templateToken struct {
	kind    templateTokenKind
	literal []byte
	expr    expr.Expr
	src     string
}

// ParseTemplate compiles a template source string.
func ParseTemplate(src string) (*Template, error) {
	fields := strings.Fields(src)
	t := &Template{src: src}
	for _, f := range fields {
		switch {
		case f == "STATUS":
			t.tokens = append(t.tokens, templateToken{kind: tokStatus, src: f})
		case strings.HasPrefix(f, "{") && strings.HasSuffix(f, "}"):
			inner := f[1 : len(f)-1]
			e, err := expr.Parse(inner)
			if err != nil {
				return nil, fmt.Errorf("sysex template %q: bad placeholder %q: %w", src, f, err)
			}
			t.tokens = append(t.tokens, templateToken{kind: tokPlaceholder, expr: e, src: f})
		case isHexRun(f):
			bytes, err := hexRunToBytes(f)
			if err != nil {
				return nil, fmt.Errorf("sysex template %q: bad literal %q: %w", src, f, err)
			}
			t.tokens = append(t.tokens, templateToken{kind: tokLiteral, literal: bytes, src: f})
		default:
			return nil, fmt.Errorf("sysex template %q: unrecognized token %q", src, f)
		}
	}
	return t, nil
}

func isHexRun(s string) bool {
	if len(s) == 0 || len(s)%2 != 0 {
		return false
	}
	for _, c := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return false
		}
	}
	return true
}

func hexRunToBytes(s string) ([]byte, error) {
	out := make([]byte, len(s)/2)
	for i := range out {
		v, err := strconv.ParseUint(s[i*2:i*2+2], 16, 8)
		if err != nil {
			return nil, err
		}
		out[i] = byte(v)
	}
	return out, nil
}

// Render produces the concrete byte sequence for one pad/value set. The
// STATUS token (if present) is rendered as a single zero byte — Render is
// only used for outbound programming templates, where STATUS has no
// meaning; response templates are never rendered, only scanned by
// StatusBytePosition.
func (t *Template) Render(vars map[string]int, helpers map[string]*expr.Helper) ([]byte, error) {
	var out []byte
	env := &expr.Env{Vars: vars, Helpers: helpers}
	for _, tok := range t.tokens {
		switch tok.kind {
		case tokLiteral:
			out = append(out, tok.literal...)
		case tokStatus:
			out = append(out, 0)
		case tokPlaceholder:
			v, err := tok.expr.Eval(env)
			if err != nil {
				return nil, fmt.Errorf("sysex template %q: placeholder %q: %w", t.src, tok.src, err)
			}
			out = append(out, byte(v&0xFF))
		}
	}
	return out, nil
}

// StatusBytePosition scans the template for its STATUS token and returns
// the byte offset (from the start of the rendered message, i.e. including
// the leading 0xF0) at which the status byte will appear. ok is false when
// the template has no STATUS token.
func (t *Template) StatusBytePosition() (int, bool) {
	pos := 0
	for _, tok := range t.tokens {
		if tok.kind == tokStatus {
			return pos, true
		}
		switch tok.kind {
		case tokLiteral:
			pos += len(tok.literal)
		case tokPlaceholder:
			pos++
		}
	}
	return 0, false
}
