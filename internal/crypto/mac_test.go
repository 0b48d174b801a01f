package crypto

import (
	"bytes"
	"testing"
)

func TestMACSizeMatchesOutput(t *testing.T) {
	mac := NewMAC([]byte("key-material-32-bytes-long-pad!!"))
	mac.Write([]byte("some artifact bytes"))
	sum := mac.Sum(nil)
	if len(sum) != MACSize {
		t.Fatalf("MAC output length = %d, want %d", len(sum), MACSize)
	}
}

func TestMACDiffersByKey(t *testing.T) {
	data := []byte("identical artifact bytes")

	mac1 := NewMAC([]byte("key-one"))
	mac1.Write(data)

	mac2 := NewMAC([]byte("key-two"))
	mac2.Write(data)

	if bytes.Equal(mac1.Sum(nil), mac2.Sum(nil)) {
		t.Fatal("MACs under different keys must differ")
	}
}

func TestMACIsDeterministic(t *testing.T) {
	key := []byte("same-key")
	data := []byte("same data, written in two chunks")

	mac1 := NewMAC(key)
	mac1.Write(data[:10])
	mac1.Write(data[10:])

	mac2 := NewMAC(key)
	mac2.Write(data)

	if !bytes.Equal(mac1.Sum(nil), mac2.Sum(nil)) {
		t.Fatal("streaming writes and a single write must produce the same MAC")
	}
}
