package acquirer

import "testing"

func TestRequestIDStable(t *testing.T) {
	first := RequestID("idem-abc")
	second := RequestID("idem-abc")
	if first != second {
		t.Fatalf("request id must be stable: %s vs %s", first, second)
	}
}

func TestRequestIDDistinctPerKey(t *testing.T) {
	if RequestID("idem-a") == RequestID("idem-b") {
		t.Fatal("distinct keys must derive distinct request ids")
	}
}
