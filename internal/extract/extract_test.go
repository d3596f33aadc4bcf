package extract

import (
	"strings"
	"testing"
)

func TestJoinPageSpans(t *testing.T) {
	text, pages := Join([]string{"first", "", "third\x00"})
	if text != "first\n\n\f\n\n\fthird" {
		t.Fatalf("text = %q", text)
	}
	for i, p := range pages {
		if p.Number != i {
			t.Fatalf("page %d numbered %d", i, p.Number)
		}
	}
	if got := text[pages[0].Start:pages[0].End]; got != "first" {
		t.Fatalf("page 0 = %q", got)
	}
	if pages[1].Start != pages[1].End {
		t.Fatalf("empty page has span %+v", pages[1])
	}
	if got := text[pages[2].Start:pages[2].End]; got != "third" {
		t.Fatalf("page 2 = %q", got)
	}
}

func TestBuildStructure(t *testing.T) {
	pages := []string{
		"MASTER AGREEMENT\n\n1. Definitions\nThe Parties agree. Terms apply here.\n\n1.1 Scope\nThis covers everything.",
		"2. Payment\nPay on time! Or else?",
	}
	text, st := BuildStructure(pages, "en")

	if st.Title != "MASTER AGREEMENT" {
		t.Fatalf("title = %q", st.Title)
	}
	if len(st.Pages) != 2 {
		t.Fatalf("pages = %+v", st.Pages)
	}
	var titles []string
	for _, s := range st.Sections {
		titles = append(titles, s.Title)
		if text[s.TitleStart:s.TitleEnd] != s.Title {
			t.Fatalf("section title offsets wrong for %+v", s)
		}
	}
	want := []string{"MASTER AGREEMENT", "1. Definitions", "1.1 Scope", "2. Payment"}
	if strings.Join(titles, "|") != strings.Join(want, "|") {
		t.Fatalf("sections = %q", titles)
	}
	// 1.1 nests in 1 and ends where 2 starts.
	scope, payment := st.Sections[2], st.Sections[3]
	if scope.Level != 2 || scope.End != payment.Start || scope.AbsLevel != 1 {
		t.Fatalf("scope = %+v", scope)
	}
	if payment.Page != 1 {
		t.Fatalf("payment section on page %d", payment.Page)
	}

	var sentences []string
	for _, s := range st.Sentences {
		sentences = append(sentences, text[s.Start:s.End])
		if s.Language != "en" {
			t.Fatalf("sentence language %q", s.Language)
		}
	}
	joined := strings.Join(sentences, "|")
	for _, s := range []string{"The Parties agree.", "Terms apply here.", "Pay on time!", "Or else?"} {
		if !strings.Contains(joined, s) {
			t.Fatalf("sentence %q missing from %q", s, joined)
		}
	}
	for _, p := range st.Paragraphs {
		if strings.Contains(text[p.Start:p.End], "\f") {
			t.Fatalf("paragraph crosses a page break: %q", text[p.Start:p.End])
		}
	}
}

func TestBuildStructureEmpty(t *testing.T) {
	text, st := BuildStructure([]string{" ", ""}, "en")
	if text != " \n\n\f" || len(st.Pages) != 2 || len(st.Sentences) != 0 || st.Sections == nil {
		t.Fatalf("structure = %+v", st)
	}
}

func TestFindPage(t *testing.T) {
	_, pages := Join([]string{"aaaa", "bb", "", "cccccc"})
	cases := map[int]int{0: 0, 3: 0, 4: -1, 7: 1, 8: 1, 9: -1, 15: 3, 20: 3, 21: -1}
	for off, want := range cases {
		if got := FindPage(pages, off); got != want {
			t.Errorf("FindPage(%d) = %d, want %d", off, got, want)
		}
	}
}

func TestBuildCoordinates(t *testing.T) {
	_, pages := Join([]string{"a", "b"})
	c := BuildCoordinates(pages, []Box{{595, 842}}, []float64{0, 89.6})
	if c.Pages[0].BBox != [4]float64{0, 0, 595, 842} || c.Pages[1].BBox != [4]float64{} {
		t.Fatalf("boxes = %+v", c.Pages)
	}
	if c.Pages[1].Rotation != 90 {
		t.Fatalf("rotation = %d", c.Pages[1].Rotation)
	}
}

func TestDetectTables(t *testing.T) {
	text := "Quarterly figures\n" +
		"Item    Q1    Q2\n" +
		"Apples\t10\t12\n" +
		"Pears    3    4\n" +
		"\n" +
		"Closing remarks here."
	tables := DetectTables(text, 2, Box{Width: 600, Height: 600})
	if len(tables) != 1 {
		t.Fatalf("tables = %+v", tables)
	}
	tb := tables[0]
	if tb.Page != 2 || len(tb.Data) != 3 || tb.Data[1][0] != "Apples" || tb.Data[2][2] != "4" {
		t.Fatalf("table = %+v", tb)
	}
	if tb.Coordinates.Top != 100 || tb.Coordinates.Height != 300 || tb.Coordinates.Width != 600 {
		t.Fatalf("coordinates = %+v", tb.Coordinates)
	}
	if got := DetectTables("just prose\nno columns", 0, Box{}); len(got) != 0 {
		t.Fatalf("prose detected as table: %+v", got)
	}
}

func TestEncodeFormats(t *testing.T) {
	_, st := BuildStructure([]string{"HEADING\nBody text. More text."}, "en")
	for _, format := range []string{"json", "msgpack"} {
		data, ext, err := Encode(format, st)
		if err != nil || ext != format {
			t.Fatalf("%s: ext=%q err=%v", format, ext, err)
		}
		var back Structure
		if err := Decode(format, data, &back); err != nil {
			t.Fatalf("%s decode: %v", format, err)
		}
		if back.Title != st.Title || len(back.Sentences) != len(st.Sentences) {
			t.Fatalf("%s: got %+v", format, back)
		}
	}
	if _, _, err := Encode("xml", st); err == nil {
		t.Fatal("xml accepted")
	}
}
