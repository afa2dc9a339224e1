package frame

// Decoder accumulates bytes read from a stream and yields complete frames.
// It is not safe for concurrent use; each connection's read loop owns one.
type Decoder struct {
	// OnInvalid, if set, is called for every run of discarded bytes.
	OnInvalid func(reason Reason, discarded int)

	buf []byte
}

// Feed appends p to the pending data and returns every frame that can now be
// parsed. The returned payloads are copies and remain valid after later calls.
func (d *Decoder) Feed(p []byte) []Frame {
	d.buf = append(d.buf, p...)

	var frames []Frame
	offset := 0
	for offset < len(d.buf) {
		res := TryParse(d.buf[offset:])
		if res.Status == NeedMoreData {
			break
		}
		offset += res.Consumed

		switch res.Status {
		case Complete:
			payload := make([]byte, len(res.Frame.Payload))
			copy(payload, res.Frame.Payload)
			frames = append(frames, Frame{Checksum: res.Frame.Checksum, Payload: payload})
		case Invalid:
			if d.OnInvalid != nil {
				d.OnInvalid(res.Reason, res.Consumed)
			}
		}
	}

	// Shift the remainder to the front so the buffer doesn't grow without bound.
	remaining := copy(d.buf, d.buf[offset:])
	d.buf = d.buf[:remaining]
	return frames
}

// Buffered returns the number of bytes held back waiting for more data.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Reset discards any buffered bytes.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
}
