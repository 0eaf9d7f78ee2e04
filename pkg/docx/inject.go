package docx

import "regexp"

// FindInjectionPoint scans paragraphs in body order and returns the block
// index just after the first paragraph whose text matches the pattern. The
// second return value reports whether a match was found; callers decide how
// to handle a missing anchor.
func (d *Document) FindInjectionPoint(pattern *regexp.Regexp) (int, bool) {
	for i, b := range d.Blocks {
		if !b.IsParagraph() {
			continue
		}
		if pattern.MatchString(b.Text()) {
			return i + 1, true
		}
	}
	return 0, false
}
