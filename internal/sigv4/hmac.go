package sigv4

import (
	"crypto/hmac"
	"crypto/sha256"
)

// HMACSHA256 computes a keyed MAC over data. The key may be text or the raw
// output of a previous MAC; both are treated as opaque bytes.
func HMACSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

// PortableHMACSHA256 is a from-scratch HMAC-SHA256 built directly on the
// hash primitive (RFC 2104): keys longer than the 64-byte SHA-256 block are
// reduced by hashing, the key is zero-padded to one block, and the padded
// key is XORed with 0x36 (inner) and 0x5C (outer) before the nested digest.
//
// The production path uses crypto/hmac above. This construction exists for
// porting to environments whose hosted MAC primitives mishandle raw binary
// keys; tests hold it byte-equal to the standard library.
func PortableHMACSHA256(key, message []byte) []byte {
	const blockSize = 64

	if len(key) > blockSize {
		sum := sha256.Sum256(key)
		key = sum[:]
	}

	padded := make([]byte, blockSize)
	copy(padded, key)

	ipad := make([]byte, blockSize)
	opad := make([]byte, blockSize)
	for i := range padded {
		ipad[i] = padded[i] ^ 0x36
		opad[i] = padded[i] ^ 0x5C
	}

	inner := sha256.Sum256(append(ipad, message...))
	outer := sha256.Sum256(append(opad, inner[:]...))
	return outer[:]
}
