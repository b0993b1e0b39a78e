package eagletime

import "testing"

func TestRoundTripStd(t *testing.T) {
	now := Now()
	std := now.ToStd()
	back := FromStd(std)

	if back.Sub(now) > 0 || now.Sub(back) > 0 {
		t.Fatalf("round trip drifted: %v != %v", now, back)
	}
}

func TestBytesRoundTrip(t *testing.T) {
	vals := []Time{0, 1, 123456.789, Now()}
	for _, v := range vals {
		b := v.Bytes()
		got := FromBytes(b)
		if got != v {
			t.Errorf("Bytes/FromBytes round trip: got %v, want %v", got, v)
		}
	}
}

func TestMonotonicOrdering(t *testing.T) {
	a := Now()
	b := a + 1
	if !(b > a) {
		t.Fatalf("expected b > a")
	}
}
