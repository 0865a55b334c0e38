package redundancy

import (
	"bytes"
	"testing"
)

func makeDataShards(k, shardSize int, fill byte) [][]byte {
	shards := make([][]byte, k)
	for i := range shards {
		shards[i] = bytes.Repeat([]byte{fill + byte(i)}, shardSize)
	}
	return shards
}

func TestEncodeReconstructAnyKOfKPlusM(t *testing.T) {
	const k, m, shardSize = 4, 3, 256
	enc, err := New(k, m)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	data := makeDataShards(k, shardSize, 0x10)
	parity, err := enc.Encode(data)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if len(parity) != m {
		t.Fatalf("Encode() produced %d parity shards, want %d", len(parity), m)
	}

	all := append(append([][]byte{}, data...), parity...)

	// Drop 3 of the 7 shards (the max tolerable for k=4,m=3) and reconstruct.
	damaged := make([][]byte, len(all))
	copy(damaged, all)
	damaged[0] = nil
	damaged[2] = nil
	damaged[5] = nil

	if err := enc.Reconstruct(damaged); err != nil {
		t.Fatalf("Reconstruct() error = %v", err)
	}
	for i := range damaged {
		if !bytes.Equal(damaged[i], all[i]) {
			t.Errorf("reconstructed shard %d does not match original", i)
		}
	}
}

func TestReconstructFailsWithTooFewShards(t *testing.T) {
	const k, m, shardSize = 4, 3, 128
	enc, _ := New(k, m)
	data := makeDataShards(k, shardSize, 0x01)
	parity, _ := enc.Encode(data)
	all := append(append([][]byte{}, data...), parity...)

	damaged := make([][]byte, len(all))
	copy(damaged, all)
	// Drop 4 of 7 shards, leaving only 3 - below k=4.
	damaged[0] = nil
	damaged[1] = nil
	damaged[2] = nil
	damaged[3] = nil

	if err := enc.Reconstruct(damaged); err != ErrTooFewShards {
		t.Errorf("Reconstruct() error = %v, want ErrTooFewShards", err)
	}
}

func TestVerifyDetectsCorruption(t *testing.T) {
	const k, m, shardSize = 3, 2, 64
	enc, _ := New(k, m)
	data := makeDataShards(k, shardSize, 0x05)
	parity, err := enc.Encode(data)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	all := append(append([][]byte{}, data...), parity...)

	ok, err := enc.Verify(all)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !ok {
		t.Fatal("Verify() = false for untouched shards")
	}

	all[0][0] ^= 0xFF
	ok, err = enc.Verify(all)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if ok {
		t.Error("Verify() = true after corrupting a data shard, want false")
	}
}

func TestPadShardsAndTruncateRoundTrip(t *testing.T) {
	shards := [][]byte{
		bytes.Repeat([]byte{1}, 768000),
		bytes.Repeat([]byte{2}, 768000),
		bytes.Repeat([]byte{3}, 100), // short final segment
	}
	padded, lengths := PadShards(shards)
	for _, p := range padded {
		if len(p) != 768000 {
			t.Fatalf("padded shard length = %d, want 768000", len(p))
		}
	}

	restored := Truncate(padded, lengths)
	for i := range restored {
		if !bytes.Equal(restored[i], shards[i]) {
			t.Errorf("shard %d did not round-trip through pad/truncate", i)
		}
	}
}
