// Package protocol implements minimal HTTP/1.x request-line and
// Host-header extraction. It performs no URL decoding, no header
// normalization, and no validation beyond locating the two fields the
// proxy needs: the request line (used verbatim as the cache key) and the
// Host header (used to resolve the origin).
package protocol

import "bytes"

var (
	getPrefix  = []byte("GET")
	hostPrefix = []byte("Host: ")
	cr         = byte('\r')
)

// IsGetShaped reports whether raw begins with the literal bytes "GET".
// Any other input is not a request this proxy understands; the session
// terminates.
func IsGetShaped(raw []byte) bool {
	return bytes.HasPrefix(raw, getPrefix)
}

// RequestKey returns the bytes from offset 0 up to (not including) the
// first CR byte — the entire request line sans CRLF. This is the cache
// key. Fingerprint equality is strict byte equality: two logically
// identical GETs that differ in whitespace or URI encoding are distinct
// cache entries.
func RequestKey(raw []byte) ([]byte, bool) {
	idx := bytes.IndexByte(raw, cr)
	if idx < 0 {
		return nil, false
	}
	key := make([]byte, idx)
	copy(key, raw[:idx])
	return key, true
}

// Host returns the bytes following "Host: " up to the next CR. If the
// header is absent, the parser fails and the caller must terminate the
// session.
func Host(raw []byte) ([]byte, bool) {
	start := bytes.Index(raw, hostPrefix)
	if start < 0 {
		return nil, false
	}
	start += len(hostPrefix)

	end := bytes.IndexByte(raw[start:], cr)
	if end < 0 {
		return nil, false
	}

	host := make([]byte, end)
	copy(host, raw[start:start+end])
	return host, true
}
