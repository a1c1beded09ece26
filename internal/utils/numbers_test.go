package utils

import "testing"

func TestAtoiDefault(t *testing.T) {
	cases := []struct {
		s    string
		def  int
		want int
	}{
		// empty -> default
		{"", 10, 10},
		{"   ", 10, 10},
		// valid ints
		{"42", 0, 42},
		{"-13", 1, -13},
		{"0012", 99, 12},
		{" 3 ", 0, 3},
		// invalid -> default
		{"x", 5, 5},
		{"4 2", 7, 7},
		// overflow -> default
		{"999999999999999999999999", -1, -1},
	}

	for _, tc := range cases {
		if got := AtoiDefault(tc.s, tc.def); got != tc.want {
			t.Fatalf("AtoiDefault(%q, %d) = %d; want %d", tc.s, tc.def, got, tc.want)
		}
	}
}

func TestClamp(t *testing.T) {
	if Clamp(-1, 0, 3) != 0 || Clamp(9, 0, 3) != 3 || Clamp(2, 0, 3) != 2 {
		t.Fatal("Clamp out of bounds")
	}
}

func TestFirstField(t *testing.T) {
	if got := FirstField("  course_access  extra"); got != "course_access" {
		t.Fatalf("FirstField = %q", got)
	}
	if got := FirstField("   "); got != "" {
		t.Fatalf("FirstField(blank) = %q", got)
	}
}
