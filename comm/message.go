package comm

import (
	"encoding/binary"
	"errors"
	"io"
)

var endian = binary.LittleEndian

// connectionHeader is written once by the dialing side to identify itself.
type connectionHeader struct {
	SrcRank uint32
}

func (h connectionHeader) WriteTo(w io.Writer) error {
	return binary.Write(w, endian, &h)
}

func (h *connectionHeader) ReadFrom(r io.Reader) error {
	return binary.Read(r, endian, h)
}

// messageHeader precedes every framed message on a connection.
type messageHeader struct {
	Tag    uint64
	Length uint32
}

func (h messageHeader) WriteTo(w io.Writer) error {
	return binary.Write(w, endian, &h)
}

func (h *messageHeader) ReadFrom(r io.Reader) error {
	return binary.Read(r, endian, h)
}

var errUnexpectedEnd = errors.New("unexpected end")

func readN(r io.Reader, buf []byte, n int) error {
	for got := 0; got < n; {
		m, err := r.Read(buf[got:n])
		if err != nil {
			return err
		}
		if m <= 0 {
			return errUnexpectedEnd
		}
		got += m
	}
	return nil
}

func writeMessage(w io.Writer, tag uint64, data []byte) error {
	h := messageHeader{Tag: tag, Length: uint32(len(data))}
	if err := h.WriteTo(w); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	_, err := w.Write(data)
	return err
}

func readMessage(r io.Reader) (uint64, []byte, error) {
	var h messageHeader
	if err := h.ReadFrom(r); err != nil {
		return 0, nil, err
	}
	data := make([]byte, h.Length)
	if err := readN(r, data, int(h.Length)); err != nil {
		return 0, nil, err
	}
	return h.Tag, data, nil
}
