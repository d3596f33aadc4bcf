// Package extract turns per-page text into the structured artifacts of a
// request: text structure spans, tables and PDF coordinates.
package extract

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// PageSeparator is placed between pages of the plain text.
const PageSeparator = "\n\n\f"

type Page struct {
	Number   int        `json:"number"`
	Start    int        `json:"start"`
	End      int        `json:"end"`
	BBox     [4]float64 `json:"bbox"`
	Rotation int        `json:"rotation"`
}

type Span struct {
	Start    int    `json:"start"`
	End      int    `json:"end"`
	Language string `json:"language"`
}

type Section struct {
	Start      int    `json:"start"`
	End        int    `json:"end"`
	Title      string `json:"title"`
	TitleStart int    `json:"title_start"`
	TitleEnd   int    `json:"title_end"`
	Level      int    `json:"level"`
	AbsLevel   int    `json:"abs_level"`
	Page       int    `json:"page"`
}

// Structure locates pages, paragraphs, sentences and sections in the plain
// text. Offsets are byte offsets into the joined text.
type Structure struct {
	Title      string    `json:"title"`
	Language   string    `json:"language"`
	Pages      []Page    `json:"pages"`
	Sentences  []Span    `json:"sentences"`
	Paragraphs []Span    `json:"paragraphs"`
	Sections   []Section `json:"sections"`
}

// Join concatenates page texts with PageSeparator and returns the page
// spans. Page numbers are 0-based as in the structure artifact.
func Join(pages []string) (string, []Page) {
	var b strings.Builder
	spans := make([]Page, len(pages))
	for i, p := range pages {
		if i > 0 {
			b.WriteString(PageSeparator)
		}
		p = strings.ReplaceAll(p, "\x00", "")
		start := b.Len()
		b.WriteString(p)
		spans[i] = Page{Number: i, Start: start, End: b.Len()}
	}
	return b.String(), spans
}

// BuildStructure joins pages and derives the structure spans. lang is
// stamped on every span.
func BuildStructure(pages []string, lang string) (string, Structure) {
	text, pageSpans := Join(pages)
	st := Structure{
		Language:   lang,
		Pages:      pageSpans,
		Sentences:  []Span{},
		Paragraphs: []Span{},
		Sections:   []Section{},
	}
	if strings.TrimSpace(text) == "" {
		return text, st
	}
	for _, p := range paragraphSpans(text) {
		st.Paragraphs = append(st.Paragraphs, Span{Start: p[0], End: p[1], Language: lang})
		for _, s := range sentenceSpans(text, p[0], p[1]) {
			st.Sentences = append(st.Sentences, Span{Start: s[0], End: s[1], Language: lang})
		}
	}
	st.Sections = sections(text, pageSpans)
	st.Title = title(text, st.Sections)
	return text, st
}

var paragraphBreak = regexp.MustCompile(`\n[ \t]*\n|\f`)

// paragraphSpans splits on blank lines and form feeds, trimming whitespace
// off each span.
func paragraphSpans(text string) [][2]int {
	var out [][2]int
	start := 0
	emit := func(s, e int) {
		s, e = trimSpan(text, s, e)
		if e > s {
			out = append(out, [2]int{s, e})
		}
	}
	for _, m := range paragraphBreak.FindAllStringIndex(text, -1) {
		emit(start, m[0])
		start = m[1]
	}
	emit(start, len(text))
	return out
}

// sentenceSpans splits text[start:end] after '.', '!' or '?' when followed
// by whitespace and an upper-case letter or digit.
func sentenceSpans(text string, start, end int) [][2]int {
	var out [][2]int
	s := start
	for i := start; i < end; {
		r, size := utf8.DecodeRuneInString(text[i:])
		i += size
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		j := i
		for j < end {
			nr, nsize := utf8.DecodeRuneInString(text[j:])
			if !unicode.IsSpace(nr) {
				break
			}
			j += nsize
		}
		if j == i || j >= end {
			continue
		}
		next, _ := utf8.DecodeRuneInString(text[j:])
		if unicode.IsUpper(next) || unicode.IsDigit(next) {
			if a, b := trimSpan(text, s, i); b > a {
				out = append(out, [2]int{a, b})
			}
			s = j
		}
	}
	if a, b := trimSpan(text, s, end); b > a {
		out = append(out, [2]int{a, b})
	}
	return out
}

func trimSpan(text string, s, e int) (int, int) {
	for s < e {
		r, size := utf8.DecodeRuneInString(text[s:])
		if !unicode.IsSpace(r) {
			break
		}
		s += size
	}
	for e > s {
		r, size := utf8.DecodeLastRuneInString(text[:e])
		if !unicode.IsSpace(r) {
			break
		}
		e -= size
	}
	return s, e
}

var numberedHeading = regexp.MustCompile(`^((?:\d+\.)*\d+)\.?\s+\S`)

// sections treats short lines without terminal punctuation that are either
// numbered ("2.1 Scope") or fully upper case as headings. A section runs
// until the next heading of the same or a higher level.
func sections(text string, pages []Page) []Section {
	var heads []Section
	offset := 0
	for _, line := range strings.SplitAfter(text, "\n") {
		lineStart := offset
		offset += len(line)
		ts, te := trimSpan(text, lineStart, lineStart+len(line))
		if te <= ts {
			continue
		}
		title := text[ts:te]
		level, ok := headingLevel(title)
		if !ok {
			continue
		}
		heads = append(heads, Section{
			Title:      title,
			TitleStart: ts,
			TitleEnd:   te,
			Start:      ts,
			Level:      level,
			Page:       FindPage(pages, ts),
		})
	}
	for i := range heads {
		heads[i].End = len(text)
		for j := i + 1; j < len(heads); j++ {
			if heads[j].Level <= heads[i].Level {
				heads[i].End = heads[j].Start
				break
			}
		}
		heads[i].AbsLevel = absLevel(heads[:i], heads[i])
	}
	if heads == nil {
		return []Section{}
	}
	return heads
}

func headingLevel(line string) (int, bool) {
	if utf8.RuneCountInString(line) > 80 || strings.ContainsAny(line[len(line)-1:], ".,;:!?") {
		return 0, false
	}
	if m := numberedHeading.FindStringSubmatch(line); m != nil {
		return strings.Count(m[1], ".") + 1, true
	}
	letters, upper := 0, 0
	for _, r := range line {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters >= 3 && upper == letters {
		return 1, true
	}
	return 0, false
}

// absLevel is the nesting depth among enclosing sections, counting from 0.
func absLevel(prev []Section, s Section) int {
	depth := 0
	for _, p := range prev {
		if p.Start < s.Start && p.End > s.Start && p.Level < s.Level {
			depth++
		}
	}
	return depth
}

func title(text string, secs []Section) string {
	if len(secs) > 0 {
		return secs[0].Title
	}
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			if utf8.RuneCountInString(line) > 120 {
				return ""
			}
			return line
		}
	}
	return ""
}
