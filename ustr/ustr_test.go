package ustr

import "testing"

func TestTokenize(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"/a/b/c", []string{"a", "b", "c"}},
		{"a/b", []string{"a", "b"}},
		{"/a//b/", []string{"a", "b"}},
		{"/", nil},
		{"", nil},
	}
	for _, c := range cases {
		got := Ustr(c.in).Tokenize()
		if len(got) != len(c.want) {
			t.Fatalf("Tokenize(%q) = %v, want %v", c.in, got, c.want)
		}
		for i := range got {
			if got[i].String() != c.want[i] {
				t.Fatalf("Tokenize(%q)[%d] = %q, want %q", c.in, i, got[i], c.want[i])
			}
		}
	}
}

func TestIsAbsoluteDotDot(t *testing.T) {
	if !Ustr("/foo").IsAbsolute() {
		t.Fatal("expected absolute")
	}
	if Ustr("foo").IsAbsolute() {
		t.Fatal("expected relative")
	}
	if !Ustr(".").Isdot() {
		t.Fatal("expected dot")
	}
	if !Ustr("..").Isdotdot() {
		t.Fatal("expected dotdot")
	}
}

func TestEq(t *testing.T) {
	if !Ustr("abc").Eq(Ustr("abc")) {
		t.Fatal("expected equal")
	}
	if Ustr("abc").Eq(Ustr("abd")) {
		t.Fatal("expected not equal")
	}
}
