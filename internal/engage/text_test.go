package engage

import "testing"

func TestParseGrit(t *testing.T) {
	cases := []struct{ in, want string }{
		{"sanding-220-grit.mp4", "220"},
		{"180_grit_drywall", "180"},
		{"80 grit first pass", "80"},
		{"180-220 grit blend", "180–220"},
		{"grit 400 polish", "400"},
		{"grit:320", "320"},
		{"wet sanding basics", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := ParseGrit(tc.in); got != tc.want {
			t.Fatalf("ParseGrit(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSurfaceFromBucket(t *testing.T) {
	cases := []struct{ in, want string }{
		{"wood.json", "wood"},
		{"wet.json", "wet-sanding"},
		{"Drywall.json", "drywall"},
		{"coarse.json", "coarse"},
		{"", "surface"},
	}
	for _, tc := range cases {
		if got := SurfaceFromBucket(tc.in); got != tc.want {
			t.Fatalf("SurfaceFromBucket(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestRenderTemplate(t *testing.T) {
	got := RenderTemplate("Use {grit} grit on {surface}.", "220", "wood")
	if got != "Use 220 grit on wood." {
		t.Fatalf("got %q", got)
	}
	got = RenderTemplate("Use {grit} grit on {surface}.", "", "")
	if got != "Use this grit on surface." {
		t.Fatalf("fallback got %q", got)
	}
}
