package splitter

import (
	"bytes"
	"encoding/binary"
)

// pickleEncoder emits a minimal subset of Python pickle protocol 2 opcodes:
// enough to represent a list of string/None-valued dicts, which is all
// writePickle needs. There is no dependency on any Python runtime or
// third-party pickling library; the opcodes below are documented in
// CPython's pickle.py (PROTO, MARK, EMPTY_LIST, EMPTY_DICT, BINUNICODE,
// APPENDS, SETITEMS, NONE, STOP).
type pickleEncoder struct {
	buf bytes.Buffer
}

func newPickleEncoder() *pickleEncoder { return &pickleEncoder{} }

func (e *pickleEncoder) bytes() []byte { return e.buf.Bytes() }

func (e *pickleEncoder) proto2() {
	e.buf.WriteByte(0x80)
	e.buf.WriteByte(0x02)
}

func (e *pickleEncoder) markList() {
	e.buf.WriteByte(']') // EMPTY_LIST
	e.buf.WriteByte('(') // MARK, opens the run of list items
}

func (e *pickleEncoder) appends() {
	e.buf.WriteByte('e') // APPENDS: pop items up to MARK, append all to the list below
}

func (e *pickleEncoder) markDict() {
	e.buf.WriteByte('}') // EMPTY_DICT
	e.buf.WriteByte('(') // MARK, opens the run of key/value pairs
}

func (e *pickleEncoder) setitems() {
	e.buf.WriteByte('u') // SETITEMS: pop key/value pairs up to MARK into the dict below
}

func (e *pickleEncoder) none() {
	e.buf.WriteByte('N') // NONE
}

func (e *pickleEncoder) unicode(s string) {
	e.buf.WriteByte('X') // BINUNICODE
	var length [4]byte
	binary.LittleEndian.PutUint32(length[:], uint32(len(s)))
	e.buf.Write(length[:])
	e.buf.WriteString(s)
}

func (e *pickleEncoder) stop() {
	e.buf.WriteByte('.') // STOP
}
