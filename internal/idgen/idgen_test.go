package idgen

import "testing"

func TestNewIsHexAndUnique(t *testing.T) {
	a, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if len(a) != 16 {
		t.Errorf("len(id) = %d, want 16", len(a))
	}
	b, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a == b {
		t.Errorf("two consecutive ids collided: %s", a)
	}
}

func TestNewWithPrefix(t *testing.T) {
	id, err := New("codex")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if id[:6] != "codex-" {
		t.Errorf("id = %q, want codex- prefix", id)
	}
}

func TestParseTags(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"a,b,c", []string{"a", "b", "c"}},
		{" a , b ,a", []string{"a", "b"}},
		{"a,,b", []string{"a", "b"}},
	}
	for _, c := range cases {
		got := ParseTags(c.in)
		if len(got) != len(c.want) {
			t.Errorf("ParseTags(%q) = %v, want %v", c.in, got, c.want)
			continue
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Errorf("ParseTags(%q)[%d] = %q, want %q", c.in, i, got[i], c.want[i])
			}
		}
	}
}
