// Copyright 2026 © The Artifacts Authors
// SPDX-License-Identifier: Apache-2.0
package artifact

import (
	"fmt"
	"strings"
	"unicode/utf16"
)

// The functions below implement the LZ-String base64 codec used by the
// CodeSandbox define API (lz-string 1.4 compressToBase64 and
// decompressFromBase64). The algorithm works on UTF-16 code units, so input
// is converted before compression and back after decompression.

const keyStrBase64 = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/="

// bitWriter packs values LSB-first into 6-bit base64 characters.
type bitWriter struct {
	out      strings.Builder
	val      int
	position int
}

func (w *bitWriter) writeBit(bit int) {
	w.val = (w.val << 1) | bit
	if w.position == 5 {
		w.position = 0
		w.out.WriteByte(keyStrBase64[w.val])
		w.val = 0
	} else {
		w.position++
	}
}

func (w *bitWriter) writeBits(value, n int) {
	for i := 0; i < n; i++ {
		w.writeBit(value & 1)
		value >>= 1
	}
}

func (w *bitWriter) flush() string {
	for {
		w.val <<= 1
		if w.position == 5 {
			w.out.WriteByte(keyStrBase64[w.val])
			break
		}
		w.position++
	}
	return w.out.String()
}

// unitKey encodes one UTF-16 unit as a two byte string so dictionary keys
// survive surrogate halves.
func unitKey(u uint16) string {
	return string([]byte{byte(u >> 8), byte(u)})
}

func firstUnit(key string) uint16 {
	return uint16(key[0])<<8 | uint16(key[1])
}

// compressToBase64 returns the LZ-String base64 form of s.
func compressToBase64(s string) string {
	units := utf16.Encode([]rune(s))

	dictionary := make(map[string]int)
	toCreate := make(map[string]bool)
	w := ""
	enlargeIn := 2
	dictSize := 3
	numBits := 2
	out := &bitWriter{}

	emit := func(w string) {
		if toCreate[w] {
			c := firstUnit(w)
			if c < 256 {
				out.writeBits(0, numBits)
				out.writeBits(int(c), 8)
			} else {
				out.writeBits(1, numBits)
				out.writeBits(int(c), 16)
			}
			enlargeIn--
			if enlargeIn == 0 {
				enlargeIn = 1 << numBits
				numBits++
			}
			delete(toCreate, w)
		} else {
			out.writeBits(dictionary[w], numBits)
		}
		enlargeIn--
		if enlargeIn == 0 {
			enlargeIn = 1 << numBits
			numBits++
		}
	}

	for _, u := range units {
		c := unitKey(u)
		if _, ok := dictionary[c]; !ok {
			dictionary[c] = dictSize
			dictSize++
			toCreate[c] = true
		}

		wc := w + c
		if _, ok := dictionary[wc]; ok {
			w = wc
			continue
		}
		emit(w)
		dictionary[wc] = dictSize
		dictSize++
		w = c
	}

	if w != "" {
		emit(w)
	}

	out.writeBits(2, numBits)
	res := out.flush()

	switch len(res) % 4 {
	case 1:
		return res + "==="
	case 2:
		return res + "=="
	case 3:
		return res + "="
	}
	return res
}

// decompressFromBase64 reverses compressToBase64.
func decompressFromBase64(s string) (string, error) {
	if s == "" {
		return "", nil
	}

	values := make([]int, len(s))
	for i := 0; i < len(s); i++ {
		idx := strings.IndexByte(keyStrBase64, s[i])
		if idx < 0 {
			return "", fmt.Errorf("invalid base64 character %q at %d", s[i], i)
		}
		values[i] = idx
	}

	r := &bitReader{values: values, val: values[0], position: 32, index: 1}

	dictionary := [][]uint16{nil, nil, nil}
	enlargeIn := 4
	numBits := 3

	var c []uint16
	switch r.readBits(2) {
	case 0:
		c = []uint16{uint16(r.readBits(8))}
	case 1:
		c = []uint16{uint16(r.readBits(16))}
	case 2:
		return "", nil
	default:
		return "", fmt.Errorf("corrupt stream header")
	}
	dictionary = append(dictionary, c)
	w := c
	result := append([]uint16(nil), c...)

	for {
		if r.index > len(values) {
			return "", fmt.Errorf("unexpected end of stream")
		}

		code := r.readBits(numBits)
		switch code {
		case 0:
			dictionary = append(dictionary, []uint16{uint16(r.readBits(8))})
			code = len(dictionary) - 1
			enlargeIn--
		case 1:
			dictionary = append(dictionary, []uint16{uint16(r.readBits(16))})
			code = len(dictionary) - 1
			enlargeIn--
		case 2:
			return string(utf16.Decode(result)), nil
		}

		if enlargeIn == 0 {
			enlargeIn = 1 << numBits
			numBits++
		}

		var entry []uint16
		switch {
		case code < len(dictionary) && dictionary[code] != nil:
			entry = dictionary[code]
		case code == len(dictionary):
			entry = append(append([]uint16(nil), w...), w[0])
		default:
			return "", fmt.Errorf("corrupt stream: unknown code %d", code)
		}
		result = append(result, entry...)

		next := make([]uint16, 0, len(w)+1)
		next = append(append(next, w...), entry[0])
		dictionary = append(dictionary, next)
		enlargeIn--

		w = entry

		if enlargeIn == 0 {
			enlargeIn = 1 << numBits
			numBits++
		}
	}
}

type bitReader struct {
	values   []int
	val      int
	position int
	index    int
}

func (r *bitReader) readBits(n int) int {
	bits := 0
	for power := 1; power != 1<<n; power <<= 1 {
		resb := r.val & r.position
		r.position >>= 1
		if r.position == 0 {
			r.position = 32
			if r.index < len(r.values) {
				r.val = r.values[r.index]
			} else {
				r.val = 0
			}
			r.index++
		}
		if resb > 0 {
			bits |= power
		}
	}
	return bits
}
