package ocr

import "testing"

func TestLanguage(t *testing.T) {
	cases := []struct {
		code, def, want string
	}{
		{"en", "", "eng"},
		{"de", "eng", "deu"},
		{"fr", "eng", "fra"},
		{"deu", "eng", "deu"},
		{"en+de", "eng", "eng+deu"},
		{"zh", "eng", "chi_sim"},
		{"zh-Hant", "eng", "chi_tra"},
		{"", "slk", "slk"},
		{"", "", "eng"},
		{"not a language", "eng", "eng"},
	}
	for _, c := range cases {
		if got := Language(c.code, c.def); got != c.want {
			t.Errorf("Language(%q, %q) = %q, want %q", c.code, c.def, got, c.want)
		}
	}
}

func TestParseOSD(t *testing.T) {
	out := `Page number: 0
Orientation in degrees: 270
Rotate: 90
Orientation confidence: 7.43
Script: Latin
Script confidence: 2.17
`
	o := parseOSD(out)
	if o.Rotate != 90 || o.Confidence != 7.43 {
		t.Fatalf("parseOSD = %+v", o)
	}
	if o := parseOSD("garbage"); o.Rotate != 0 || o.Confidence != 0 {
		t.Fatalf("parseOSD(garbage) = %+v", o)
	}
}
