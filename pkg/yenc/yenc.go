// Package yenc implements the yEnc binary-to-text encoding used to post
// non-text segment payloads as NNTP article bodies (spec.md §4.5).
//
// yEnc shifts each byte by 42 (mod 256) and escapes four bytes that would
// otherwise collide with NNTP/SMTP control sequences: NUL, LF, CR, and the
// escape character itself. Lines are dot-stuffed per RFC 3977 (a line that
// starts with '.' gets a second '.' prepended) since the payload travels
// inside a plain-text article body.
//
// Encoding is per-part: a segment that itself got split across multiple
// NNTP articles (not done by this engine today, but supported by the format)
// carries `=ypart begin=.. end=..` between `=ybegin` and `=yend`. This
// engine always encodes one segment as exactly one part, so begin/end span
// the whole segment.
package yenc

import (
	"bytes"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

const (
	escapeChar  = 0x3D // '='
	escapeShift = 64
	byteShift   = 42

	// LineLength is the number of encoded bytes per output line before a
	// newline is inserted, matching the conventional yEnc line=128 default.
	LineLength = 128
)

// critical is the set of raw byte values that must be escaped after the
// shift is applied: NUL, LF, CR, and '='.
func needsEscape(b byte) bool {
	return b == 0x00 || b == 0x0A || b == 0x0D || b == escapeChar
}

// Header carries the fields of a yEnc =ybegin/=ypart/=yend triple.
type Header struct {
	Part  int
	Total int
	Line  int
	Size  int64
	Name  string
	Begin int64 // 1-indexed, inclusive
	End   int64 // 1-indexed, inclusive
	CRC32 uint32
}

// Encode yEnc-encodes data and returns the full article body: the =ybegin
// header line, the =ypart line, the encoded (and dot-stuffed) body, and the
// =yend trailer line with the part's CRC32.
func Encode(data []byte, name string, part, total int) []byte {
	crc := crc32.ChecksumIEEE(data)

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "=ybegin part=%d total=%d line=%d size=%d name=%s\r\n", part, total, LineLength, len(data), name)
	fmt.Fprintf(&buf, "=ypart begin=%d end=%d\r\n", 1, len(data))

	writeEncodedBody(&buf, data)

	fmt.Fprintf(&buf, "=yend size=%d part=%d pcrc32=%08x\r\n", len(data), part, crc)
	return buf.Bytes()
}

// writeEncodedBody writes the shifted, escaped, dot-stuffed, line-wrapped
// body for data.
func writeEncodedBody(buf *bytes.Buffer, data []byte) {
	col := 0
	lineStart := true

	flushByte := func(b byte) {
		if lineStart && b == '.' {
			buf.WriteByte('.')
		}
		buf.WriteByte(b)
		lineStart = false
		col++
		if col >= LineLength {
			buf.WriteString("\r\n")
			col = 0
			lineStart = true
		}
	}

	for _, raw := range data {
		shifted := raw + byteShift
		if needsEscape(shifted) {
			flushByte(escapeChar)
			flushByte(shifted + escapeShift)
		} else {
			flushByte(shifted)
		}
	}
	if col > 0 {
		buf.WriteString("\r\n")
	}
}

// ErrWriteAfterClose is returned by EncodeWriter.Write once the writer has
// already been closed.
var ErrWriteAfterClose = errors.New("yenc: write after close")

// EncodeWriter streams the yEnc encoding of successive chunks to an
// underlying io.Writer without holding the whole segment in memory twice.
// Callers write the full segment in one or more calls to Write, then call
// Close to flush the final line and emit the =yend trailer.
type EncodeWriter struct {
	sink    io.Writer
	name    string
	part    int
	total   int
	size    int64
	crc     uint32
	col     int
	lineStart bool
	started bool
	closed  bool
}

// NewEncodeWriter creates a streaming yEnc encoder writing to sink. size is
// the full segment size, known up front since the =ybegin/=ypart header
// must declare it before any body bytes are written.
func NewEncodeWriter(sink io.Writer, name string, part, total int, size int64) *EncodeWriter {
	return &EncodeWriter{
		sink:      sink,
		name:      name,
		part:      part,
		total:     total,
		size:      size,
		lineStart: true,
	}
}

func (e *EncodeWriter) writeHeader() error {
	_, err := fmt.Fprintf(e.sink, "=ybegin part=%d total=%d line=%d size=%d name=%s\r\n=ypart begin=1 end=%d\r\n",
		e.part, e.total, LineLength, e.size, e.name, e.size)
	return err
}

func (e *EncodeWriter) putByte(b byte) error {
	if e.lineStart && b == '.' {
		if _, err := e.sink.Write([]byte{'.'}); err != nil {
			return err
		}
	}
	if _, err := e.sink.Write([]byte{b}); err != nil {
		return err
	}
	e.lineStart = false
	e.col++
	if e.col >= LineLength {
		if _, err := e.sink.Write([]byte("\r\n")); err != nil {
			return err
		}
		e.col = 0
		e.lineStart = true
	}
	return nil
}

// Write encodes and writes chunk, updating the running CRC32.
func (e *EncodeWriter) Write(chunk []byte) (int, error) {
	if e.closed {
		return 0, ErrWriteAfterClose
	}
	if !e.started {
		e.started = true
		if err := e.writeHeader(); err != nil {
			return 0, err
		}
	}
	e.crc = crc32.Update(e.crc, crc32.IEEETable, chunk)
	for _, raw := range chunk {
		shifted := raw + byteShift
		if needsEscape(shifted) {
			if err := e.putByte(escapeChar); err != nil {
				return 0, err
			}
			if err := e.putByte(shifted + escapeShift); err != nil {
				return 0, err
			}
		} else {
			if err := e.putByte(shifted); err != nil {
				return 0, err
			}
		}
	}
	return len(chunk), nil
}

// Close flushes any pending line and writes the =yend trailer.
func (e *EncodeWriter) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	if !e.started {
		if err := e.writeHeader(); err != nil {
			return err
		}
	}
	if e.col > 0 {
		if _, err := e.sink.Write([]byte("\r\n")); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(e.sink, "=yend size=%d part=%d pcrc32=%08x\r\n", e.size, e.part, e.crc)
	return err
}
