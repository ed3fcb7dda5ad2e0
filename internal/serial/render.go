package serial

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// ViewMode selects how received bytes are rendered.
type ViewMode int

const (
	Text ViewMode = iota
	Hex
)

func (v ViewMode) String() string {
	if v == Hex {
		return "Hex"
	}
	return "Text"
}

// ParseViewMode accepts "text" or "hex" in any case.
func ParseViewMode(s string) (ViewMode, error) {
	switch strings.ToLower(s) {
	case "", "text":
		return Text, nil
	case "hex":
		return Hex, nil
	}
	return Text, fmt.Errorf("unknown view mode %q", s)
}

// LineEnding is appended to text sent with Session.Send.
type LineEnding int

const (
	NoLineEnding LineEnding = iota
	LF
	CR
	CRLF
)

// LineEndings lists every mode in display order.
var LineEndings = []LineEnding{NoLineEnding, LF, CR, CRLF}

func (l LineEnding) String() string {
	switch l {
	case LF:
		return "LF"
	case CR:
		return "CR"
	case CRLF:
		return "CRLF"
	}
	return "None"
}

// Suffix returns the bytes the mode appends.
func (l LineEnding) Suffix() string {
	switch l {
	case LF:
		return "\n"
	case CR:
		return "\r"
	case CRLF:
		return "\r\n"
	}
	return ""
}

// ParseLineEnding accepts None, LF, CR or CRLF in any case.
func ParseLineEnding(s string) (LineEnding, error) {
	for _, l := range LineEndings {
		if strings.EqualFold(s, l.String()) {
			return l, nil
		}
	}
	if s == "" {
		return NoLineEnding, nil
	}
	return NoLineEnding, fmt.Errorf("unknown line ending %q", s)
}

// Display is the per-session rendering configuration.
type Display struct {
	View       ViewMode
	Timestamp  bool
	LineEnding LineEnding
	Autoscroll bool
}

// DefaultDisplay is text view with autoscroll on.
func DefaultDisplay() Display {
	return Display{View: Text, Autoscroll: true}
}

const timestampLayout = "15:04:05.000"

const hexDigits = "0123456789ABCDEF"

// RenderHex renders b as uppercase byte pairs separated by single spaces.
func RenderHex(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.Grow(len(b)*3 - 1)
	for i, c := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteByte(hexDigits[c>>4])
		sb.WriteByte(hexDigits[c&0x0f])
	}
	return sb.String()
}

// RenderText decodes b as UTF-8, replacing every invalid byte with U+FFFD.
func RenderText(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r == utf8.RuneError && size == 1 {
			sb.WriteRune(utf8.RuneError)
		} else {
			sb.Write(b[:size])
		}
		b = b[size:]
	}
	return sb.String()
}

// textDecoder carries an incomplete trailing UTF-8 sequence over to the
// next chunk so multibyte characters split by a read are not mangled.
type textDecoder struct {
	pending []byte
}

func (d *textDecoder) decode(b []byte) string {
	if len(d.pending) > 0 {
		b = append(d.pending, b...)
		d.pending = nil
	}
	if n := incompleteSuffix(b); n > 0 {
		d.pending = append([]byte(nil), b[len(b)-n:]...)
		b = b[:len(b)-n]
	}
	return RenderText(b)
}

func (d *textDecoder) reset() {
	d.pending = nil
}

// incompleteSuffix returns the length of a valid but unfinished sequence at
// the end of b, or 0.
func incompleteSuffix(b []byte) int {
	for i := 1; i < utf8.UTFMax && i <= len(b); i++ {
		c := b[len(b)-i]
		if c < utf8.RuneSelf {
			return 0
		}
		if utf8.RuneStart(c) {
			if utf8.FullRune(b[len(b)-i:]) {
				return 0
			}
			return i
		}
	}
	return 0
}

// render turns one received chunk into display text. It returns "" when
// every byte is held back by the decoder.
func (d Display) render(dec *textDecoder, b []byte, now time.Time) string {
	var body string
	if d.View == Hex {
		body = RenderHex(b)
	} else {
		body = dec.decode(b)
	}
	if body == "" {
		return ""
	}
	if d.Timestamp {
		return now.Format(timestampLayout) + " -> " + body
	}
	return body
}
