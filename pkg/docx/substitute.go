package docx

import (
	"regexp"
	"strings"
)

var (
	paragraphRe = regexp.MustCompile(`(?s)<w:p(?:>|\s[^>]*>).*?</w:p>`)
	runRe       = regexp.MustCompile(`(?s)<w:r(?:>|\s[^>]*>).*?</w:r>`)
	textRe      = regexp.MustCompile(`(?s)<w:t(?:\s[^>]*)?>.*?</w:t>|<w:t(?:\s[^>]*)?/>`)
)

var escaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

var unescaper = strings.NewReplacer(
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&apos;", "'",
	"&amp;", "&",
)

func escapeText(s string) string   { return escaper.Replace(s) }
func unescapeText(s string) string { return unescaper.Replace(s) }

// textOf extracts the inner text of a single w:t element match.
func textOf(wt string) string {
	if strings.HasSuffix(wt, "/>") {
		return ""
	}
	open := strings.IndexByte(wt, '>')
	close := strings.LastIndex(wt, "<")
	if open < 0 || close <= open {
		return ""
	}
	return unescapeText(wt[open+1 : close])
}

// elementText concatenates all w:t content inside raw XML, in order.
func elementText(rawXML string) string {
	var sb strings.Builder
	for _, wt := range textRe.FindAllString(rawXML, -1) {
		sb.WriteString(textOf(wt))
	}
	return sb.String()
}

// Text returns the visible text of a block. For tables this is the
// concatenation of all cell text.
func (b Block) Text() string {
	return elementText(b.XML)
}

// ReplaceAll substitutes every marker in every paragraph of the document,
// including paragraphs nested in tables. Markers absent from the document
// leave it unchanged.
func (d *Document) ReplaceAll(replacements map[string]string) {
	if len(replacements) == 0 {
		return
	}
	for i, b := range d.Blocks {
		switch {
		case b.IsParagraph():
			d.Blocks[i].XML = replaceInParagraph(b.XML, replacements)
		case b.IsTable():
			d.Blocks[i].XML = paragraphRe.ReplaceAllStringFunc(b.XML, func(p string) string {
				return replaceInParagraph(p, replacements)
			})
		}
	}
}

// replaceInParagraph applies every applicable replacement to one w:p element.
// A marker contained entirely in one w:t is swapped in place, keeping the run
// formatting. A marker split across runs forces the paragraph text to be
// rewritten into its first run.
func replaceInParagraph(pXML string, replacements map[string]string) string {
	for marker, value := range replacements {
		if marker == "" {
			continue
		}
		// Bounded so a value containing its own marker cannot loop forever.
		for pass := 0; pass < 64 && strings.Contains(elementText(pXML), marker); pass++ {
			replaced, ok := replaceInRuns(pXML, marker, value)
			if ok {
				pXML = replaced
				continue
			}
			// Marker split across runs: collapse the paragraph text into
			// the first run. Later markers still match against the result.
			full := strings.ReplaceAll(elementText(pXML), marker, value)
			pXML = setParagraphText(pXML, full)
		}
	}
	return pXML
}

// replaceInRuns tries the formatting-preserving strategy: find a w:t whose
// own text contains the marker and rewrite just that element.
func replaceInRuns(pXML, marker, value string) (string, bool) {
	done := false
	out := textRe.ReplaceAllStringFunc(pXML, func(wt string) string {
		if done {
			return wt
		}
		text := textOf(wt)
		if !strings.Contains(text, marker) {
			return wt
		}
		done = true
		return wrapText(strings.ReplaceAll(text, marker, value))
	})
	return out, done
}

func wrapText(text string) string {
	return `<w:t xml:space="preserve">` + escapeText(text) + `</w:t>`
}

// setParagraphText rewrites a paragraph so its whole visible text lives in
// the first text element, blanking the rest. Runs keep their properties.
func setParagraphText(pXML, text string) string {
	first := true
	if textRe.MatchString(pXML) {
		return textRe.ReplaceAllStringFunc(pXML, func(wt string) string {
			if first {
				first = false
				return wrapText(text)
			}
			return `<w:t/>`
		})
	}

	// No text element at all: put one into the first run, or synthesize a run.
	if loc := runRe.FindStringIndex(pXML); loc != nil {
		run := pXML[loc[0]:loc[1]]
		run = strings.TrimSuffix(run, "</w:r>") + wrapText(text) + "</w:r>"
		return pXML[:loc[0]] + run + pXML[loc[1]:]
	}
	if strings.HasSuffix(pXML, "</w:p>") {
		return strings.TrimSuffix(pXML, "</w:p>") + "<w:r>" + wrapText(text) + "</w:r></w:p>"
	}
	// Self-closing empty paragraph.
	if strings.HasSuffix(pXML, "/>") {
		return strings.TrimSuffix(pXML, "/>") + "><w:r>" + wrapText(text) + "</w:r></w:p>"
	}
	return pXML
}
