package core

// streaming.go provides the streaming decode layer that sits between the
// source file and the tokenizer.
//
//   - NewDecoder: strict UTF-8 or UTF-16 decoding to UTF-8 text
//   - CountingReader: tracks bytes read for error offsets and logging
//
// Nothing here buffers the whole file; every transform works on the chunk
// currently in flight.

import (
	"errors"
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var (
	errInvalidUTF8     = errors.New("invalid UTF-8 sequence")
	errInvalidSequence = errors.New("invalid UTF-16 sequence")
)

// textValidator passes valid UTF-8 through unchanged and fails on the first
// invalid byte. With rejectReplacement set it also fails on U+FFFD, which the
// UTF-16 decoder emits for unpaired surrogates and odd trailing bytes.
type textValidator struct {
	rejectReplacement bool
}

func (v *textValidator) Reset() {}

func (v *textValidator) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	for nSrc < len(src) {
		c := src[nSrc]
		if c < utf8.RuneSelf {
			if nDst >= len(dst) {
				return nDst, nSrc, transform.ErrShortDst
			}
			dst[nDst] = c
			nDst++
			nSrc++
			continue
		}

		r, size := utf8.DecodeRune(src[nSrc:])
		if r == utf8.RuneError && size == 1 {
			// A multi-byte rune split across chunks is not an error yet.
			if !atEOF && !utf8.FullRune(src[nSrc:]) {
				return nDst, nSrc, transform.ErrShortSrc
			}
			return nDst, nSrc, errInvalidUTF8
		}
		if r == utf8.RuneError && v.rejectReplacement {
			return nDst, nSrc, errInvalidSequence
		}
		if nDst+size > len(dst) {
			return nDst, nSrc, transform.ErrShortDst
		}
		copy(dst[nDst:], src[nSrc:nSrc+size])
		nDst += size
		nSrc += size
	}
	return nDst, nSrc, nil
}

// decodingReader converts transform errors into *DecodeError. Errors from
// the underlying reader pass through unchanged.
type decodingReader struct {
	r       io.Reader
	counter *CountingReader
	enc     Encoding
	err     error
}

func (d *decodingReader) Read(p []byte) (int, error) {
	if d.err != nil {
		return 0, d.err
	}
	n, err := d.r.Read(p)
	if err != nil && err != io.EOF {
		var decErr *DecodeError
		if !d.counter.failed(err) && !errors.As(err, &decErr) {
			err = &DecodeError{Encoding: d.enc, Offset: d.counter.BytesRead, Err: err}
		}
		d.err = err
	}
	return n, err
}

// NewDecoder returns a reader producing UTF-8 text from r in encoding enc.
//
// UTF-8 input is validated strictly and a leading byte order mark is dropped.
// UTF-16 input is little-endian unless a byte order mark says otherwise.
// Malformed input fails the read with a *DecodeError; nothing is replaced.
func NewDecoder(r io.Reader, enc Encoding) io.Reader {
	counter := NewCountingReader(r)

	var t transform.Transformer
	switch enc {
	case EncodingUTF16:
		t = transform.Chain(
			unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder(),
			&textValidator{rejectReplacement: true},
		)
	default:
		// Validate before the BOM decoder so it never sees invalid bytes.
		t = transform.Chain(
			&textValidator{},
			unicode.UTF8BOM.NewDecoder(),
		)
	}

	return &decodingReader{
		r:       transform.NewReader(counter, t),
		counter: counter,
		enc:     enc,
	}
}

// CountingReader wraps an io.Reader to track bytes read.
type CountingReader struct {
	reader    io.Reader
	BytesRead int64
	err       error
}

// NewCountingReader creates a counting reader.
func NewCountingReader(r io.Reader) *CountingReader {
	return &CountingReader{reader: r}
}

// Read implements io.Reader.
func (r *CountingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.BytesRead += int64(n)
	if err != nil && err != io.EOF {
		r.err = err
	}
	return n, err
}

// failed reports whether err is the error returned by the wrapped reader.
func (r *CountingReader) failed(err error) bool {
	return r.err != nil && errors.Is(err, r.err)
}
