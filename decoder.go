package imsession

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"sync/atomic"
)

// FrameMode selects how the decoder splits the byte stream.
type FrameMode int32

const (
	// LineMode splits on a delimiter and parses "command SP params".
	LineMode FrameMode = iota
	// BlockMode reads a fixed-size header declaring the body length.
	BlockMode
)

func (m FrameMode) String() string {
	switch m {
	case LineMode:
		return "line"
	case BlockMode:
		return "block"
	default:
		return fmt.Sprintf("mode(%d)", int32(m))
	}
}

// FrameType tells what a decoded Frame carries.
type FrameType int

const (
	// FrameLine is a delimiter-terminated command line.
	FrameLine FrameType = iota
	// FrameBlock is a complete length-declared block.
	FrameBlock
	// FramePayload announces a payload whose body follows in chunks.
	FramePayload
)

// Frame is one self-delimited unit extracted from the stream.
type Frame struct {
	Type    FrameType
	Command string
	// Params is everything after "command SP" for lines, the body for blocks.
	Params []byte
	// ContentType and Length are set on FramePayload announcements.
	ContentType string
	Length      int
	// Raw is the frame as received, without the line delimiter.
	Raw []byte
}

// Args splits Params on spaces.
func (f Frame) Args() []string {
	return strings.Fields(string(f.Params))
}

// BlockInfo is what a BlockHeader learns from one header.
type BlockInfo struct {
	// Command is the dispatch key of the block.
	Command string
	// ContentType, when set, streams the body through the payload assembler
	// instead of buffering it as a single block.
	ContentType string
	// Length is the number of body bytes following the header.
	Length int
}

// BlockHeader parses the fixed-size header that precedes each block.
type BlockHeader interface {
	Size() int
	Parse(header []byte) (BlockInfo, error)
}

// LengthPrefixHeader is a header made only of a big or little endian body length.
// All blocks are dispatched under Command. It also encodes outbound blocks.
type LengthPrefixHeader struct {
	// Width is 2 or 4 bytes. Zero means 4.
	Width int
	// Order defaults to big endian.
	Order   binary.ByteOrder
	Command string
}

func (h LengthPrefixHeader) width() int {
	if h.Width == 2 {
		return 2
	}
	return 4
}

func (h LengthPrefixHeader) order() binary.ByteOrder {
	if h.Order == nil {
		return binary.BigEndian
	}
	return h.Order
}

// Size returns the header width.
func (h LengthPrefixHeader) Size() int {
	return h.width()
}

// Parse reads the body length.
func (h LengthPrefixHeader) Parse(header []byte) (BlockInfo, error) {
	if len(header) != h.width() {
		return BlockInfo{}, fmt.Errorf("header length %d, want %d", len(header), h.width())
	}
	var n uint64
	if h.width() == 2 {
		n = uint64(h.order().Uint16(header))
	} else {
		n = uint64(h.order().Uint32(header))
	}
	return BlockInfo{Command: h.Command, Length: int(n)}, nil
}

// Encode prefixes params with its length. The command is implied by the header.
func (h LengthPrefixHeader) Encode(_ string, params []byte) ([]byte, error) {
	w := h.width()
	if w == 2 && len(params) > 0xFFFF {
		return nil, fmt.Errorf("block of %d bytes exceeds 2-byte length prefix", len(params))
	}
	if uint64(len(params)) > 0xFFFFFFFF {
		return nil, fmt.Errorf("block of %d bytes exceeds 4-byte length prefix", len(params))
	}
	out := make([]byte, w+len(params))
	if w == 2 {
		h.order().PutUint16(out, uint16(len(params)))
	} else {
		h.order().PutUint32(out, uint32(len(params)))
	}
	copy(out[w:], params)
	return out, nil
}

// DecoderConfig configures a Decoder.
type DecoderConfig struct {
	Mode FrameMode
	// Delimiter terminates lines. Defaults to "\r\n".
	Delimiter []byte
	// Header parses block headers. Defaults to a 4-byte LengthPrefixHeader.
	Header BlockHeader
	// MaxFrameSize caps a line or a buffered block. Defaults to 1MB.
	MaxFrameSize int
}

// Decoder incrementally extracts frames from received bytes.
// Feed, Next and TakeChunk must be called from a single goroutine; SetMode
// may be called from anywhere and applies from the next frame on.
type Decoder struct {
	buf      recvBuffer
	mode     atomic.Int32
	delim    []byte
	header   BlockHeader
	maxFrame int
	// scanned counts unconsumed bytes already searched for a delimiter.
	scanned int
}

// NewDecoder returns a decoder for cfg, filling defaults.
func NewDecoder(cfg DecoderConfig) *Decoder {
	if len(cfg.Delimiter) == 0 {
		cfg.Delimiter = []byte("\r\n")
	}
	if cfg.Header == nil {
		cfg.Header = LengthPrefixHeader{}
	}
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = defaultMaxFrameSize
	}
	d := &Decoder{
		delim:    append([]byte(nil), cfg.Delimiter...),
		header:   cfg.Header,
		maxFrame: cfg.MaxFrameSize,
	}
	d.mode.Store(int32(cfg.Mode))
	return d
}

// Mode returns the current framing mode.
func (d *Decoder) Mode() FrameMode {
	return FrameMode(d.mode.Load())
}

// SetMode switches the framing mode for subsequent frames.
func (d *Decoder) SetMode(m FrameMode) {
	d.mode.Store(int32(m))
}

// Feed appends received bytes.
func (d *Decoder) Feed(p []byte) {
	d.buf.append(p)
}

// Buffered returns the number of bytes received but not yet yielded.
func (d *Decoder) Buffered() int {
	return d.buf.len()
}

// Reset discards all buffered bytes.
func (d *Decoder) Reset() {
	d.buf.reset()
	d.scanned = 0
}

// Next yields the next complete frame. ok is false when more bytes are
// needed. A non-nil error is always an *Error of kind MalformedFrame.
func (d *Decoder) Next() (f Frame, ok bool, err error) {
	for d.buf.len() > 0 {
		if d.Mode() == BlockMode {
			return d.nextBlock()
		}

		f, ok, err = d.nextLine()
		if err != nil || !ok {
			return f, ok, err
		}
		if len(f.Raw) == 0 {
			continue
		}
		return f, true, nil
	}
	return Frame{}, false, nil
}

// TakeChunk removes up to max raw bytes for a payload in progress.
func (d *Decoder) TakeChunk(max int) []byte {
	n := d.buf.len()
	if n > max {
		n = max
	}
	if n <= 0 {
		return nil
	}
	chunk := append([]byte(nil), d.buf.unconsumed()[:n]...)
	d.consume(n)
	return chunk
}

func (d *Decoder) nextLine() (Frame, bool, error) {
	data := d.buf.unconsumed()

	// a delimiter may straddle the previous scan boundary
	if d.scanned > len(data) {
		d.scanned = len(data)
	}
	start := d.scanned - (len(d.delim) - 1)
	if start < 0 {
		start = 0
	}

	idx := bytes.Index(data[start:], d.delim)
	if idx < 0 {
		d.scanned = len(data)
		if len(data) > d.maxFrame {
			return Frame{}, false, d.malformed(data[:d.maxFrame], "line exceeds %d bytes without delimiter", d.maxFrame)
		}
		return Frame{}, false, nil
	}

	end := start + idx
	if end > d.maxFrame {
		return Frame{}, false, d.malformed(data[:d.maxFrame], "line of %d bytes exceeds %d", end, d.maxFrame)
	}

	line := append([]byte(nil), data[:end]...)
	d.buf.consume(end + len(d.delim))
	d.scanned = 0

	cmd, params, _ := bytes.Cut(line, []byte{' '})
	return Frame{
		Type:    FrameLine,
		Command: string(cmd),
		Params:  params,
		Raw:     line,
	}, true, nil
}

func (d *Decoder) nextBlock() (Frame, bool, error) {
	data := d.buf.unconsumed()
	size := d.header.Size()
	if len(data) < size {
		return Frame{}, false, nil
	}

	info, err := d.header.Parse(data[:size])
	if err != nil {
		return Frame{}, false, d.malformed(data[:size], "bad block header: %v", err)
	}
	if info.Length < 0 || (info.ContentType == "" && info.Length > d.maxFrame) {
		return Frame{}, false, d.malformed(data[:size], "block length %d out of range", info.Length)
	}

	if info.ContentType != "" {
		hdr := append([]byte(nil), data[:size]...)
		d.consume(size)
		return Frame{
			Type:        FramePayload,
			Command:     info.Command,
			ContentType: info.ContentType,
			Length:      info.Length,
			Raw:         hdr,
		}, true, nil
	}

	total := size + info.Length
	if len(data) < total {
		return Frame{}, false, nil
	}

	raw := append([]byte(nil), data[:total]...)
	d.consume(total)
	return Frame{
		Type:    FrameBlock,
		Command: info.Command,
		Params:  raw[size:],
		Raw:     raw,
	}, true, nil
}

// consume drops n yielded bytes. Bytes already searched for a delimiter
// are consumed first, so the search offset shrinks with them.
func (d *Decoder) consume(n int) {
	d.buf.consume(n)
	d.scanned -= n
	if d.scanned < 0 {
		d.scanned = 0
	}
}

func (d *Decoder) malformed(offending []byte, format string, args ...any) error {
	return &Error{
		Kind:  MalformedFrame,
		Op:    "decode",
		Frame: append([]byte(nil), offending...),
		Err:   fmt.Errorf(format, args...),
	}
}
