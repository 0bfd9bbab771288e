package tagfs

import (
	"reflect"
	"testing"
)

type fakeRegistry map[string]bool

func (f fakeRegistry) Contains(tag string) bool { return f[tag] }

func TestSplitPath(t *testing.T) {
	cases := []struct {
		raw  string
		want []string
	}{
		{"", nil},
		{"/", nil},
		{"red", []string{"red"}},
		{"/red/big/photo.jpg", []string{"red", "big", "photo.jpg"}},
	}
	for _, c := range cases {
		got := splitPath(c.raw)
		if !reflect.DeepEqual(got, c.want) {
			t.Errorf("splitPath(%q) = %v, want %v", c.raw, got, c.want)
		}
	}
}

func TestClassify_Root(t *testing.T) {
	reg := fakeRegistry{"red": true}
	res := classify(nil, reg)
	if res.kind != kindRoot {
		t.Errorf("Expected kindRoot for empty path, got %v", res.kind)
	}
}

func TestClassify_TagDir(t *testing.T) {
	reg := fakeRegistry{"red": true, "big": true}
	res := classify([]string{"red", "big"}, reg)
	if res.kind != kindTagDir {
		t.Fatalf("Expected kindTagDir, got %v", res.kind)
	}
	if !reflect.DeepEqual(res.tags, []string{"red", "big"}) {
		t.Errorf("Expected accumulated tags [red big], got %v", res.tags)
	}
	if res.name != "big" {
		t.Errorf("Expected name big, got %s", res.name)
	}
}

func TestClassify_File(t *testing.T) {
	reg := fakeRegistry{"red": true}
	res := classify([]string{"red", "photo.jpg"}, reg)
	if res.kind != kindFile {
		t.Fatalf("Expected kindFile, got %v", res.kind)
	}
	if !reflect.DeepEqual(res.tags, []string{"red"}) {
		t.Errorf("Expected accumulated tags [red], got %v", res.tags)
	}
	if res.name != "photo.jpg" {
		t.Errorf("Expected name photo.jpg, got %s", res.name)
	}
}

func TestClassify_UnknownMiddleSegmentFallsThroughAsFile(t *testing.T) {
	reg := fakeRegistry{"red": true}
	res := classify([]string{"red", "nope", "leaf"}, reg)
	if res.kind != kindFile {
		t.Fatalf("Expected kindFile for an unresolvable middle segment, got %v", res.kind)
	}
	if res.name != "nope" {
		t.Errorf("Expected classifier to stop at the first unresolvable segment, got %s", res.name)
	}
}

func TestClassify_RepeatedTagSegmentIsNotDoubleCounted(t *testing.T) {
	reg := fakeRegistry{"red": true}
	res := classify([]string{"red", "red"}, reg)
	if res.kind != kindFile {
		t.Errorf("Expected a repeated tag segment to be treated as a file leaf, got %v", res.kind)
	}
	if !reflect.DeepEqual(res.tags, []string{"red"}) {
		t.Errorf("Expected tags to only contain red once, got %v", res.tags)
	}
}
