package bytes

import "testing"

func TestStringToBytes(t *testing.T) {
	keys := []string{
		"k",
		"user:1001:session",
		"node_0_large_bytes",
		"value with spaces",
		"キー",
	}
	for _, k := range keys {
		got := StringToBytes(k)
		if string(got) != k {
			t.Errorf("StringToBytes(%q) = %q", k, got)
		}
	}
	if StringToBytes("") != nil {
		t.Error("empty string must convert to nil, not an empty slice")
	}
}

func TestBytesToString(t *testing.T) {
	if got := BytesToString(nil); got != "" {
		t.Errorf("BytesToString(nil) = %q, want empty", got)
	}
	if got := BytesToString([]byte{}); got != "" {
		t.Errorf("BytesToString(empty) = %q, want empty", got)
	}
	if got := BytesToString([]byte("migrate_threshold")); got != "migrate_threshold" {
		t.Errorf("BytesToString = %q", got)
	}
}

// The conversion shares the backing array; a later mutation of the slice is
// visible through the string, which is exactly why callers must treat the
// pair as frozen once converted.
func TestBytesToStringAliasesInput(t *testing.T) {
	b := []byte("node0")
	s := BytesToString(b)
	b[len(b)-1] = '1'
	if s != "node1" {
		t.Errorf("string did not alias slice: %q", s)
	}
}

func TestConversionsDoNotAllocate(t *testing.T) {
	key := "cluster:slot:4096"
	buf := []byte(key)
	var sink int
	n := testing.AllocsPerRun(1000, func() {
		sink += len(StringToBytes(key))
		sink += len(BytesToString(buf))
	})
	if n != 0 {
		t.Errorf("conversions allocated %.0f times per run", n)
	}
	_ = sink
}
