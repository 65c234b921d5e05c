package core

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"unicode"
)

// Reader tokenizes decoded CSV text according to a Dialect.
//
// It is a lazy, single-pass sequence: each call to Read consumes the next
// logical line. Rows whose field count differs from the header are skipped
// and counted in Discarded.
type Reader struct {
	br      *bufio.Reader
	dialect Dialect
	sep     string
	enc     rune
	esc     rune
	hasEnc  bool
	hasEsc  bool

	buf       strings.Builder
	line      int // physical lines consumed
	header    Header
	started   bool
	discarded int
}

// NewReader returns a Reader over already decoded UTF-8 text. Use NewDecoder
// to wrap raw file bytes first.
func NewReader(r io.Reader, d Dialect) *Reader {
	enc, hasEnc := d.Enclosure()
	esc, hasEsc := d.Escape()
	return &Reader{
		br:      bufio.NewReader(r),
		dialect: d,
		sep:     string(rune(d.Separator())),
		enc:     enc,
		esc:     esc,
		hasEnc:  hasEnc,
		hasEsc:  hasEsc,
	}
}

// ReadLine returns the next non-blank logical line with trailing whitespace
// removed. A line terminator inside an open enclosure is kept as part of the
// line. ReadLine returns io.EOF when the input is exhausted.
func (r *Reader) ReadLine() (string, error) {
	for {
		line, err := r.readPhysical()
		if err != nil {
			return "", err
		}
		r.line++
		line = strings.TrimRightFunc(line, r.trailingSpace)
		if line != "" {
			return line, nil
		}
	}
}

// trailingSpace keeps a trailing tab separator so an empty last field survives.
func (r *Reader) trailingSpace(c rune) bool {
	return unicode.IsSpace(c) && c != rune(r.dialect.Separator())
}

// readPhysical scans one rune at a time until the configured terminator is
// seen outside an enclosure.
func (r *Reader) readPhysical() (string, error) {
	r.buf.Reset()
	inQuote, escaped := false, false

	for {
		c, _, err := r.br.ReadRune()
		if err != nil {
			if err == io.EOF && r.buf.Len() > 0 {
				return r.buf.String(), nil
			}
			return "", err
		}

		if !inQuote {
			switch r.dialect.LineTerminator() {
			case LineLF:
				if c == '\n' {
					return r.buf.String(), nil
				}
			case LineCR:
				if c == '\r' {
					return r.buf.String(), nil
				}
			case LineCRLF:
				if c == '\r' {
					next, _, err := r.br.ReadRune()
					if err != nil && err != io.EOF {
						return "", err
					}
					if err == nil {
						if next == '\n' {
							return r.buf.String(), nil
						}
						_ = r.br.UnreadRune()
					}
				}
			}
		}

		r.buf.WriteRune(c)

		if !r.hasEnc {
			continue
		}
		switch {
		case escaped:
			escaped = false
		case r.hasEsc && r.esc != r.enc && c == r.esc:
			escaped = true
		case c == r.enc:
			inQuote = !inQuote
		}
	}
}

// ReadHeader consumes the first line. With a header on top it returns the
// header names and a nil row; otherwise it synthesizes Column1..ColumnN and
// returns the first line as the first data row, which Read will not return
// again.
func (r *Reader) ReadHeader() (Header, Row, error) {
	if r.started {
		return r.header, nil, nil
	}
	r.started = true

	line, err := r.ReadLine()
	if err == io.EOF {
		return nil, nil, &FormatError{Reason: "file is empty"}
	}
	if err != nil {
		return nil, nil, err
	}

	fields := r.SplitLine(line)
	if !r.dialect.HeaderOnTop() {
		r.header = SyntheticHeader(len(fields))
		return r.header, fields, nil
	}

	header := make(Header, len(fields))
	for i, f := range fields {
		header[i] = f.Text
	}
	if allBlank(header) {
		return nil, nil, &FormatError{Line: r.line, Reason: "header line has no column names"}
	}
	r.header = header
	return header, nil, nil
}

// Read returns the next row whose field count matches the header. The header
// is consumed on the first call if ReadHeader was not called. Read returns
// io.EOF at the end of input.
func (r *Reader) Read() (Row, error) {
	if !r.started {
		_, first, err := r.ReadHeader()
		if err != nil {
			return nil, err
		}
		if first != nil {
			return first, nil
		}
	}

	for {
		line, err := r.ReadLine()
		if err != nil {
			return nil, err
		}
		row := r.SplitLine(line)
		if len(row) != len(r.header) {
			r.discarded++
			continue
		}
		return row, nil
	}
}

// ReadAll reads every remaining row. It is meant for previews and tests;
// imports stream through Read.
func (r *Reader) ReadAll() ([]Row, error) {
	var rows []Row
	for {
		row, err := r.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return rows, err
		}
		rows = append(rows, row)
	}
}

// Header returns the header read so far, or nil before ReadHeader.
func (r *Reader) Header() Header { return r.header }

// Discarded returns the number of rows skipped for a field count mismatch.
func (r *Reader) Discarded() int { return r.discarded }

// Line returns the number of physical lines consumed, blank lines included.
func (r *Reader) Line() int { return r.line }

// SplitLine splits one logical line into fields.
//
// A sentinel separator is appended so the last field ends like every other.
// When an enclosure is configured and a candidate span holds an odd number of
// unescaped enclosures, the span grows to the next separator. The sentinel
// bounds that growth to the end of the line.
func (r *Reader) SplitLine(line string) Row {
	s := line + r.sep
	row := make(Row, 0, strings.Count(line, r.sep)+1)

	start := 0
	for start < len(s) {
		end := start + strings.Index(s[start:], r.sep)
		if r.hasEnc {
			for r.unbalanced(s[start:end]) && end+len(r.sep) < len(s) {
				next := end + len(r.sep)
				end = next + strings.Index(s[next:], r.sep)
			}
		}
		row = append(row, r.field(s[start:end]))
		start = end + len(r.sep)
	}
	return row
}

// unbalanced reports whether span holds an odd number of unescaped enclosures.
func (r *Reader) unbalanced(span string) bool {
	n, escaped := 0, false
	for _, c := range span {
		switch {
		case escaped:
			escaped = false
		case r.hasEsc && r.esc != r.enc && c == r.esc:
			escaped = true
		case c == r.enc:
			n++
		}
	}
	return n%2 == 1
}

func (r *Reader) field(raw string) Value {
	s := strings.TrimSpace(raw)

	if r.hasEnc {
		encLen := len(string(r.enc))
		if len(s) >= 2*encLen && strings.HasPrefix(s, string(r.enc)) && strings.HasSuffix(s, string(r.enc)) {
			s = s[encLen : len(s)-encLen]
		}
		if r.hasEsc {
			s = strings.ReplaceAll(s, string(r.esc)+string(r.enc), string(r.enc))
		}
	}

	s = strings.TrimSpace(s)
	if r.dialect.NullKeyword() && (s == "NULL" || s == "null") {
		return Value{Null: true}
	}
	return Value{Text: s}
}

// SyntheticHeader returns Column1..ColumnN.
func SyntheticHeader(n int) Header {
	h := make(Header, n)
	for i := range h {
		h[i] = fmt.Sprintf("Column%d", i+1)
	}
	return h
}

func allBlank(names []string) bool {
	for _, n := range names {
		if n != "" {
			return false
		}
	}
	return true
}
