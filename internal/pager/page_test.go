package pager

import "testing"

func TestHeaderRoundTrip(t *testing.T) {
	h := &PageHeader{
		CRC32:      0xDEADBEEF,
		Version:    7,
		PrevPageID: 3,
		NextPageID: 9,
		Flags:      FlagData,
		DataLength: 128,
	}
	buf := make([]byte, PageHeaderSize)
	MarshalHeader(h, buf)

	got := UnmarshalHeader(buf)
	if got != *h {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, *h)
	}
}

func TestHeaderRoundTripInvalidPageID(t *testing.T) {
	h := &PageHeader{PrevPageID: InvalidPageID, NextPageID: InvalidPageID}
	buf := make([]byte, PageHeaderSize)
	MarshalHeader(h, buf)

	got := UnmarshalHeader(buf)
	if got.PrevPageID != InvalidPageID || got.NextPageID != InvalidPageID {
		t.Fatalf("expected InvalidPageID sentinels to survive round trip, got prev=%d next=%d", got.PrevPageID, got.NextPageID)
	}
}

func TestChecksumPayloadIsIEEE(t *testing.T) {
	payload := []byte("stream database page payload")
	got := ChecksumPayload(payload)
	if got == 0 {
		t.Fatal("expected non-zero checksum for non-empty payload")
	}
	if ChecksumPayload(payload) != got {
		t.Fatal("checksum must be deterministic")
	}
	if check := ChecksumPayload([]byte("123456789")); check != 0xCBF43926 {
		t.Fatalf("ChecksumPayload(\"123456789\") = %#08x, want CRC-32/ISO-HDLC check value 0xcbf43926", check)
	}
}

func TestPayloadCapacity(t *testing.T) {
	if got := PayloadCapacity(DefaultPageSize); got != DefaultPageSize-PageHeaderSize {
		t.Fatalf("PayloadCapacity(%d) = %d, want %d", DefaultPageSize, got, DefaultPageSize-PageHeaderSize)
	}
}
