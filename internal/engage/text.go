package engage

import (
	"regexp"
	"strings"
)

// DefaultTemplates are short, human-like first comments. {grit} and
// {surface} are filled from item metadata, with generic fallbacks.
var DefaultTemplates = []string{
	"Light pressure with {grit} grit usually blends faster than pushing hard. What are you sanding today?",
	"If the scratch pattern looks uneven, do a few crosshatch passes and re-check. Sanding wet or dry?",
	"Keep the block flat so you don't dig grooves at the edges. Are you using a sanding block or hand-only?",
	"For {surface} work, feather the edges first, then refine the center. What part is giving you trouble?",
	"After sanding, wipe dust and check under a bright light from the side. Do the lines disappear evenly?",
	"Small circles help blend; straight passes help level. Are you going for a smooth finish or just prep?",
	"Try a few lighter passes instead of one heavy pass, less chance of gouging. Are you seeing swirl marks?",
	"On {surface}, sanding dust can hide defects. Wipe often and re-check. Do you see it only after wiping?",
}

var (
	// "180_grit", "180-220 grit", "180 grit"
	gritBefore = regexp.MustCompile(`(\d{2,4})\s*(?:[-_–]\s*(\d{2,4}))?\s*[_\s-]*grit(?:\b|[_-])`)
	// "grit 180", "grit:180-220"
	gritAfter = regexp.MustCompile(`grit[\s:_-]*(\d{2,4})(?:\s*[-_–]\s*(\d{2,4}))?(?:\b|[_-]|\s|$)`)
)

// ParseGrit extracts a grit value like "180" or "180–220" from a filename,
// title, or description. Returns "" when nothing matches.
func ParseGrit(text string) string {
	if text == "" {
		return ""
	}
	t := strings.ToLower(text)

	for _, rx := range []*regexp.Regexp{gritBefore, gritAfter} {
		m := rx.FindStringSubmatch(t)
		if m == nil {
			continue
		}
		a, b := m[1], m[2]
		if b != "" && b != a {
			return a + "–" + b
		}
		return a
	}
	return ""
}

var surfaceNames = map[string]string{
	"drywall": "drywall",
	"wood":    "wood",
	"metal":   "metal",
	"plastic": "plastic",
	"wet":     "wet-sanding",
}

// SurfaceFromBucket maps a bucket file name to a surface label.
func SurfaceFromBucket(bucket string) string {
	name := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(bucket), ".json"))
	if mapped, ok := surfaceNames[name]; ok {
		return mapped
	}
	if name == "" {
		return "surface"
	}
	return name
}

// RenderTemplate substitutes placeholders. An unparseable grit falls back to
// generic wording.
func RenderTemplate(tmpl, grit, surface string) string {
	if grit == "" {
		grit = "this"
	}
	if surface == "" {
		surface = "surface"
	}
	out := strings.ReplaceAll(tmpl, "{grit}", grit)
	out = strings.ReplaceAll(out, "{surface}", surface)
	return strings.TrimSpace(out)
}
