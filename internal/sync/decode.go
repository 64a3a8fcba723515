package sync

import (
	"errors"
	"fmt"
)

// ErrMalformedBody is returned by DecodeBody for input that is not base64.
var ErrMalformedBody = errors.New("malformed base64 body")

const base64Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

const invalidSextet = 0xFF

var decodeTable = func() [256]byte {
	var t [256]byte
	for i := range t {
		t[i] = invalidSextet
	}
	for i := 0; i < len(base64Alphabet); i++ {
		t[base64Alphabet[i]] = byte(i)
	}
	return t
}()

// DecodeBody decodes the provider's URL-safe base64 body encoding. Padding is
// optional and embedded whitespace is ignored. The output is returned as-is,
// so non-UTF-8 bodies survive untouched.
func DecodeBody(data string) (string, error) {
	out := make([]byte, 0, len(data)*3/4+3)

	var quad [4]byte
	n, padding := 0, 0
	for i := 0; i < len(data); i++ {
		c := data[i]
		switch c {
		case '\r', '\n', '\t', ' ':
			continue
		case '=':
			padding++
			continue
		case '-':
			c = '+'
		case '_':
			c = '/'
		}
		if padding > 0 {
			return "", fmt.Errorf("%w: data after padding at offset %d", ErrMalformedBody, i)
		}

		v := decodeTable[c]
		if v == invalidSextet {
			return "", fmt.Errorf("%w: illegal character %q at offset %d", ErrMalformedBody, data[i], i)
		}
		quad[n] = v
		n++
		if n == 4 {
			out = append(out, quad[0]<<2|quad[1]>>4, quad[1]<<4|quad[2]>>2, quad[2]<<6|quad[3])
			n = 0
		}
	}

	if padding > 0 && (n == 0 || n+padding > 4) {
		return "", fmt.Errorf("%w: unexpected padding", ErrMalformedBody)
	}

	switch n {
	case 1:
		return "", fmt.Errorf("%w: truncated input", ErrMalformedBody)
	case 2:
		out = append(out, quad[0]<<2|quad[1]>>4)
	case 3:
		out = append(out, quad[0]<<2|quad[1]>>4, quad[1]<<4|quad[2]>>2)
	}

	return string(out), nil
}
