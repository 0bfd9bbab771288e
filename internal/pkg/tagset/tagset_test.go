package tagset

import "testing"

// Verifies that construction drops duplicates and the empty string.
func TestNew(t *testing.T) {
	s := New("a", "b", "a", "")
	if len(s) != 2 {
		t.Errorf("Expected 2 tags but found %d", len(s))
	}
	if !s.Contains("a") || !s.Contains("b") {
		t.Error("Expected set to contain a and b")
	}
}

// Verifies superset checks against the empty set and proper subsets.
func TestIsSupersetOf(t *testing.T) {
	s := New("red", "big")
	conditions := []struct {
		other    Set
		expected bool
	}{
		{New(), true},
		{New("red"), true},
		{New("red", "big"), true},
		{New("red", "small"), false},
		{New("green"), false},
	}
	for _, condition := range conditions {
		if got := s.IsSupersetOf(condition.other); got != condition.expected {
			t.Errorf("IsSupersetOf(%v) = %v, expected %v", condition.other, got, condition.expected)
		}
	}
}

// Verifies union and difference behave like set algebra, not list concatenation.
func TestUnionAndWithout(t *testing.T) {
	a := New("red", "big")
	b := New("big", "blue")

	union := a.Union(b)
	if len(union) != 3 {
		t.Errorf("Expected union of 3 tags but found %d", len(union))
	}

	diff := a.Without(b)
	if len(diff) != 1 || !diff.Contains("red") {
		t.Errorf("Expected difference to contain only red but got %v", diff)
	}
}

// Verifies encode/decode round-trips through the comma-separated xattr form.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	conditions := [][]string{
		nil,
		{"red"},
		{"red", "big", "blue"},
	}
	for _, tags := range conditions {
		s := New(tags...)
		decoded := Decode(s.Encode())
		if len(decoded) != len(s) {
			t.Errorf("Round trip of %v produced %v", tags, decoded)
		}
		for tag := range s {
			if !decoded.Contains(tag) {
				t.Errorf("Round trip of %v lost tag %s", tags, tag)
			}
		}
	}
}

// Verifies the empty set encodes as the empty string, per spec.
func TestEncodeEmptySet(t *testing.T) {
	if New().Encode() != "" {
		t.Error("Expected empty set to encode as empty string")
	}
	if len(Decode("")) != 0 {
		t.Error("Expected empty string to decode to empty set")
	}
}
