package twin

import "strconv"

// boundedWriter appends JSON into a fixed-capacity buffer and latches an
// overflow instead of growing.
type boundedWriter struct {
	buf       []byte
	limit     int
	overflow  bool
	needComma bool
}

func newBoundedWriter(buf []byte) *boundedWriter {
	return &boundedWriter{buf: buf[:0], limit: len(buf)}
}

func (w *boundedWriter) raw(b ...byte) {
	if w.overflow {
		return
	}
	if len(w.buf)+len(b) > w.limit {
		w.overflow = true
		return
	}
	w.buf = append(w.buf, b...)
}

func (w *boundedWriter) str(s string) {
	w.raw(strconv.AppendQuote(nil, s)...)
}

func (w *boundedWriter) integer(n int64) {
	w.raw(strconv.AppendInt(nil, n, 10)...)
}

func (w *boundedWriter) beginObject() {
	w.raw('{')
	w.needComma = false
}

func (w *boundedWriter) endObject() {
	w.raw('}')
	w.needComma = true
}

func (w *boundedWriter) key(name string) {
	if w.needComma {
		w.raw(',')
	}
	w.str(name)
	w.raw(':')
	w.needComma = true
}

func (w *boundedWriter) intMember(name string, v int64) {
	w.key(name)
	w.integer(v)
}

func (w *boundedWriter) stringMember(name, v string) {
	w.key(name)
	w.str(v)
}

// ackMember writes name:{"ac":code,"av":version,"ad":desc,"value":v}.
func (w *boundedWriter) ackMember(name string, a ack, v int64) {
	w.key(name)
	w.beginObject()
	w.intMember("ac", int64(a.code))
	w.intMember("av", a.version)
	w.stringMember("ad", a.desc)
	w.intMember("value", v)
	w.endObject()
}

// bytes returns the encoded document, or ErrBufferTooSmall if any write
// overflowed.
func (w *boundedWriter) bytes() ([]byte, error) {
	if w.overflow {
		return nil, ErrBufferTooSmall
	}
	return w.buf, nil
}
