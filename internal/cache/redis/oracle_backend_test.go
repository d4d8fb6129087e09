package redis

import (
	"testing"

	"github.com/NFTCall-xyz/nftcall-core/internal/oracle"
)

func TestBucketEncoding(t *testing.T) {
	var b oracle.Bucket
	b[0] = oracle.Slot{Price: 1000, Vol: 100}
	b[7] = oracle.Slot{Price: 65535, Vol: 65535}

	raw := encodeBucket(b)
	if len(raw) != bucketSize {
		t.Fatalf("encoded %d bytes, want %d", len(raw), bucketSize)
	}
	got, err := decodeBucket(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != b {
		t.Fatalf("expected %+v, got %+v", b, got)
	}
	if _, err := decodeBucket(raw[:5]); err == nil {
		t.Fatal("expected short bucket to fail")
	}
}

func TestKeyPrefix(t *testing.T) {
	c := Wrap(nil, "")
	if got := c.key("oracle", "state"); got != "callpool:oracle:state" {
		t.Fatalf("unexpected key %q", got)
	}
	c = Wrap(nil, "staging")
	if got := c.key("lock", "pool"); got != "staging:lock:pool" {
		t.Fatalf("unexpected key %q", got)
	}
}
