package camera

import (
	"bytes"
	"strconv"
)

// Boundary separates parts of a multipart MJPEG body, both on the wire and
// in saved video files.
const Boundary = "123456789000000000000987654321"

// StreamContentType is the Content-Type of a multipart MJPEG body.
const StreamContentType = "multipart/x-mixed-replace;boundary=" + Boundary

const partPrefix = "\r\n--" + Boundary + "\r\nContent-Type: image/jpeg\r\nContent-Length: "

// PartHeaderSize is the length of the part header for an n-byte frame.
func PartHeaderSize(n int) int {
	return len(partPrefix) + len(strconv.Itoa(n)) + 4
}

// AppendPart appends a part header followed by the frame.
func AppendPart(dst, frame []byte) []byte {
	dst = append(dst, partPrefix...)
	dst = strconv.AppendInt(dst, int64(len(frame)), 10)
	dst = append(dst, "\r\n\r\n"...)
	return append(dst, frame...)
}

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// ScanJPEG is a bufio.SplitFunc yielding one complete JPEG per token.
// Bytes before a start-of-image marker are discarded.
func ScanJPEG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := bytes.Index(data, jpegSOI)
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// Keep a trailing 0xFF that may begin a marker.
		if n := len(data); n > 0 && data[n-1] == 0xFF {
			return n - 1, nil, nil
		}
		return len(data), nil, nil
	}
	if end := bytes.Index(data[start+2:], jpegEOI); end >= 0 {
		stop := start + 2 + end + 2
		return stop, data[start:stop], nil
	}
	if atEOF {
		return len(data), nil, nil
	}
	// Drop leading junk; request more data.
	return start, nil, nil
}
