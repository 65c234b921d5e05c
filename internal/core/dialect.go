package core

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Separator is the field separator of a CSV dialect.
type Separator rune

const (
	SeparatorComma     Separator = ','
	SeparatorTab       Separator = '\t'
	SeparatorPipe      Separator = '|'
	SeparatorSemicolon Separator = ';'
	SeparatorColon     Separator = ':'
)

// ParseSeparator accepts the literal separator character or the keyword TAB.
func ParseSeparator(s string) (Separator, error) {
	switch strings.ToUpper(s) {
	case ",", "COMMA":
		return SeparatorComma, nil
	case "TAB", "\t", `\T`:
		return SeparatorTab, nil
	case "|", "PIPE":
		return SeparatorPipe, nil
	case ";", "SEMICOLON":
		return SeparatorSemicolon, nil
	case ":", "COLON":
		return SeparatorColon, nil
	}
	return 0, fmt.Errorf("unsupported field separator %q", s)
}

// String returns the keyword form used in configuration (TAB for tabs).
func (s Separator) String() string {
	if s == SeparatorTab {
		return "TAB"
	}
	return string(rune(s))
}

// LineTerminator selects which character sequence ends a physical line.
type LineTerminator int

const (
	LineLF LineTerminator = iota
	LineCRLF
	LineCR
)

// ParseLineTerminator parses CR, CRLF or LF (case-insensitive).
func ParseLineTerminator(s string) (LineTerminator, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "LF":
		return LineLF, nil
	case "CRLF":
		return LineCRLF, nil
	case "CR":
		return LineCR, nil
	}
	return 0, fmt.Errorf("unsupported line terminator %q", s)
}

func (l LineTerminator) String() string {
	switch l {
	case LineCRLF:
		return "CRLF"
	case LineCR:
		return "CR"
	default:
		return "LF"
	}
}

// Encoding is the text encoding of the source file.
type Encoding int

const (
	EncodingUTF8 Encoding = iota
	EncodingUTF16
)

// ParseEncoding parses UTF-8 or UTF-16 (dash optional, case-insensitive).
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), "-", "") {
	case "", "UTF8":
		return EncodingUTF8, nil
	case "UTF16":
		return EncodingUTF16, nil
	}
	return 0, fmt.Errorf("unsupported encoding %q", s)
}

func (e Encoding) String() string {
	if e == EncodingUTF16 {
		return "UTF-16"
	}
	return "UTF-8"
}

// DialectOptions is the string form of a dialect as it arrives from users,
// configuration files and JSON requests.
type DialectOptions struct {
	Separator      string `json:"separator"`
	LineTerminator string `json:"line_terminator"`
	Enclosure      string `json:"enclosure"`
	Escape         string `json:"escape"`
	NullKeyword    string `json:"null_keyword"`
	Encoding       string `json:"encoding"`
	HeaderOnTop    *bool  `json:"header_on_top,omitempty"`
}

// DefaultDialectOptions returns comma-separated, LF, double-quoted UTF-8 with a header row.
func DefaultDialectOptions() DialectOptions {
	header := true
	return DialectOptions{
		Separator:      ",",
		LineTerminator: "LF",
		Enclosure:      `"`,
		NullKeyword:    "NO",
		Encoding:       "UTF-8",
		HeaderOnTop:    &header,
	}
}

// Dialect is an immutable CSV dialect. Build one with NewDialect; the zero
// value is not usable.
type Dialect struct {
	sep         Separator
	line        LineTerminator
	enclosure   rune
	escape      rune
	nullKeyword bool
	encoding    Encoding
	headerOnTop bool
	valid       bool
}

// NewDialect validates opts and returns the corresponding Dialect.
func NewDialect(opts DialectOptions) (Dialect, error) {
	sep, err := ParseSeparator(opts.Separator)
	if err != nil {
		return Dialect{}, err
	}
	line, err := ParseLineTerminator(opts.LineTerminator)
	if err != nil {
		return Dialect{}, err
	}
	enc, err := ParseEncoding(opts.Encoding)
	if err != nil {
		return Dialect{}, err
	}
	enclosure, err := parseOptionalRune("enclosure", opts.Enclosure)
	if err != nil {
		return Dialect{}, err
	}
	escape, err := parseOptionalRune("escape", opts.Escape)
	if err != nil {
		return Dialect{}, err
	}
	nullKeyword, err := parseYesNo(opts.NullKeyword)
	if err != nil {
		return Dialect{}, fmt.Errorf("null keyword: %w", err)
	}

	if enclosure == rune(sep) {
		return Dialect{}, fmt.Errorf("enclosure %q must differ from the field separator", enclosure)
	}
	if escape == rune(sep) {
		return Dialect{}, fmt.Errorf("escape %q must differ from the field separator", escape)
	}
	if isLineRune(enclosure) || isLineRune(escape) {
		return Dialect{}, fmt.Errorf("enclosure and escape cannot be line break characters")
	}

	headerOnTop := true
	if opts.HeaderOnTop != nil {
		headerOnTop = *opts.HeaderOnTop
	}

	return Dialect{
		sep:         sep,
		line:        line,
		enclosure:   enclosure,
		escape:      escape,
		nullKeyword: nullKeyword,
		encoding:    enc,
		headerOnTop: headerOnTop,
		valid:       true,
	}, nil
}

func (d Dialect) Separator() Separator           { return d.sep }
func (d Dialect) LineTerminator() LineTerminator { return d.line }
func (d Dialect) Encoding() Encoding             { return d.encoding }
func (d Dialect) NullKeyword() bool              { return d.nullKeyword }
func (d Dialect) HeaderOnTop() bool              { return d.headerOnTop }

// Enclosure returns the enclosure rune and whether one is configured.
func (d Dialect) Enclosure() (rune, bool) { return d.enclosure, d.enclosure != 0 }

// Escape returns the escape rune and whether one is configured.
func (d Dialect) Escape() (rune, bool) { return d.escape, d.escape != 0 }

// Valid reports whether d was built by NewDialect.
func (d Dialect) Valid() bool { return d.valid }

// Options returns the string form of d, suitable for JSON or profiles.
func (d Dialect) Options() DialectOptions {
	header := d.headerOnTop
	opts := DialectOptions{
		Separator:      d.sep.String(),
		LineTerminator: d.line.String(),
		NullKeyword:    "NO",
		Encoding:       d.encoding.String(),
		HeaderOnTop:    &header,
	}
	if d.enclosure != 0 {
		opts.Enclosure = string(d.enclosure)
	}
	if d.escape != 0 {
		opts.Escape = string(d.escape)
	}
	if d.nullKeyword {
		opts.NullKeyword = "YES"
	}
	return opts
}

func (d Dialect) String() string {
	o := d.Options()
	return fmt.Sprintf("sep=%s line=%s enclose=%q escape=%q null=%s enc=%s header=%t",
		o.Separator, o.LineTerminator, o.Enclosure, o.Escape, o.NullKeyword, o.Encoding, d.headerOnTop)
}

func parseOptionalRune(name, s string) (rune, error) {
	if s == "" {
		return 0, nil
	}
	if utf8.RuneCountInString(s) != 1 {
		return 0, fmt.Errorf("%s must be a single character, got %q", name, s)
	}
	r, _ := utf8.DecodeRuneInString(s)
	return r, nil
}

func parseYesNo(s string) (bool, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "NO", "N", "OFF":
		return false, nil
	case "YES", "Y", "ON":
		return true, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("expected YES or NO, got %q", s)
	}
	return b, nil
}

func isLineRune(r rune) bool {
	return r == '\n' || r == '\r'
}
