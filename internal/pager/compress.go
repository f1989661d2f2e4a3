package pager

import "github.com/klauspost/compress/s2"

// Compression is applied to a page's logical payload before encryption
// (spec.md §4.1 "Compression"). s2.EncodeSnappy emits the Snappy block
// format; s2.Decode reads back both Snappy and S2 streams, so payloads
// written by older and newer builds of this package stay readable.

func compressPayload(logical []byte) []byte {
	dst := make([]byte, s2.MaxEncodedLen(len(logical)))
	return s2.EncodeSnappy(dst, logical)
}

func decompressPayload(compressed []byte, logicalLen int) ([]byte, error) {
	dst := make([]byte, 0, logicalLen)
	return s2.Decode(dst, compressed)
}
