package decode

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// DecompressionError reports a payload that is not a valid zlib stream.
type DecompressionError struct {
	Name string
	Err  error
}

func (e *DecompressionError) Error() string {
	return fmt.Sprintf("decompress %s: %v", e.Name, e.Err)
}

func (e *DecompressionError) Unwrap() error { return e.Err }

// Inflate decompresses blob as a single zlib stream starting at offset 0.
// With scan set, a failed direct attempt is followed by a forward search for the
// first offset that starts a valid zlib stream; the offset used is returned.
func Inflate(blob []byte, scan bool) ([]byte, int, error) {
	data, err := inflateAt(blob, 0)
	if err == nil || !scan {
		return data, 0, err
	}
	for off := 1; off+2 <= len(blob); off++ {
		if !looksLikeZlibHeader(blob[off], blob[off+1]) {
			continue
		}
		if data, scanErr := inflateAt(blob, off); scanErr == nil {
			return data, off, nil
		}
	}
	return nil, 0, err
}

func inflateAt(blob []byte, off int) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(blob[off:]))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

// looksLikeZlibHeader checks CMF/FLG: deflate method, window <= 32K, FCHECK multiple of 31.
func looksLikeZlibHeader(cmf, flg byte) bool {
	if cmf&0x0f != 8 || cmf>>4 > 7 {
		return false
	}
	return (uint16(cmf)<<8|uint16(flg))%31 == 0
}
