package docx

import (
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildDoc(t *testing.T, paragraphs ...string) *Document {
	t.Helper()
	d := New()
	for _, p := range paragraphs {
		d.AddParagraph(p)
	}
	return d
}

func roundTrip(t *testing.T, d *Document) *Document {
	t.Helper()
	data, err := d.Bytes()
	require.NoError(t, err)
	reopened, err := OpenBytes(data)
	require.NoError(t, err)
	return reopened
}

func blockTexts(d *Document) []string {
	texts := make([]string, 0, len(d.Blocks))
	for _, b := range d.Blocks {
		texts = append(texts, b.Text())
	}
	return texts
}

func TestOpenBytesRoundTrip(t *testing.T) {
	d := buildDoc(t, "first", "second", "third")
	reopened := roundTrip(t, d)

	assert.Equal(t, []string{"first", "second", "third"}, blockTexts(reopened))
	assert.NotEmpty(t, reopened.sectPr)
}

func TestSaveAndOpen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "doc.docx")

	d := buildDoc(t, "hello")
	require.NoError(t, d.Save(path))

	reopened, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello"}, blockTexts(reopened))
}

func TestOpenBytesRejectsGarbage(t *testing.T) {
	_, err := OpenBytes([]byte("not a zip archive"))
	assert.Error(t, err)
}

func TestReplaceAllSingleRun(t *testing.T) {
	d := buildDoc(t, "Klient: {{NazwaFirmyKlienta}}", "bez znacznika")
	d.ReplaceAll(map[string]string{"{{NazwaFirmyKlienta}}": "ACME Sp. z o.o."})

	assert.Equal(t, "Klient: ACME Sp. z o.o.", d.Blocks[0].Text())
	assert.Equal(t, "bez znacznika", d.Blocks[1].Text())
}

func TestReplaceAllEscapesValue(t *testing.T) {
	d := buildDoc(t, "{{X}}")
	d.ReplaceAll(map[string]string{"{{X}}": `a < b & "c"`})

	assert.Equal(t, `a < b & "c"`, d.Blocks[0].Text())
	assert.NotContains(t, d.Blocks[0].XML, `a < b`)
}

func TestReplaceAllMarkerSplitAcrossRuns(t *testing.T) {
	d := New()
	// Word often fragments a marker across runs with different formatting.
	d.AddBlock("p", `<w:p><w:r><w:t>Temat: {{Te</w:t></w:r>`+
		`<w:r><w:rPr><w:b/></w:rPr><w:t>mat}}</w:t></w:r>`+
		`<w:r><w:t xml:space="preserve"> koniec</w:t></w:r></w:p>`)
	d.ReplaceAll(map[string]string{"{{Temat}}": "audyt"})

	assert.Equal(t, "Temat: audyt koniec", d.Blocks[0].Text())
}

func TestReplaceAllInsideTable(t *testing.T) {
	d := New()
	d.AddBlock("tbl", `<w:tbl><w:tblPr/><w:tr><w:tc>`+
		`<w:p><w:r><w:t>{{cena}}</w:t></w:r></w:p>`+
		`</w:tc></w:tr></w:tbl>`)
	d.ReplaceAll(map[string]string{"{{cena}}": "1200.00"})

	assert.Equal(t, "1200.00", d.Blocks[0].Text())
}

func TestReplaceAllAbsentMarkerLeavesDocumentUnchanged(t *testing.T) {
	d := buildDoc(t, "stala tresc", "inna linia")
	before := append([]Block(nil), d.Blocks...)

	d.ReplaceAll(map[string]string{"{{Nieobecny}}": "wartosc"})
	assert.Equal(t, before, d.Blocks)

	// A second pass over already substituted content is a no-op too.
	d.ReplaceAll(map[string]string{"{{Nieobecny}}": "wartosc"})
	assert.Equal(t, before, d.Blocks)
}

func TestReplaceAllMultipleOccurrences(t *testing.T) {
	d := buildDoc(t, "{{firmaM}} i {{firmaM}}", "{{firmaM}}")
	d.ReplaceAll(map[string]string{"{{firmaM}}": "Wolftax"})

	assert.Equal(t, "Wolftax i Wolftax", d.Blocks[0].Text())
	assert.Equal(t, "Wolftax", d.Blocks[1].Text())
}

func TestFindInjectionPoint(t *testing.T) {
	d := buildDoc(t, "wstep", "Opis:   szczegoly", "reszta")
	re := regexp.MustCompile(`Opis:\s+`)

	idx, found := d.FindInjectionPoint(re)
	require.True(t, found)
	assert.Equal(t, 2, idx)
}

func TestFindInjectionPointNotFound(t *testing.T) {
	d := buildDoc(t, "wstep", "reszta")

	idx, found := d.FindInjectionPoint(regexp.MustCompile(`Opis:\s+`))
	assert.False(t, found)
	assert.Zero(t, idx)
}

func TestFindInjectionPointMatchesSplitRuns(t *testing.T) {
	d := New()
	d.AddBlock("p", `<w:p><w:r><w:t>Opi</w:t></w:r><w:r><w:t xml:space="preserve">s: tu</w:t></w:r></w:p>`)

	idx, found := d.FindInjectionPoint(regexp.MustCompile(`Opis:\s+`))
	require.True(t, found)
	assert.Equal(t, 1, idx)
}

func TestMergeAppendsInOrder(t *testing.T) {
	dst := buildDoc(t, "baza")
	src := buildDoc(t, "produkt A", "produkt B")

	require.NoError(t, dst.Merge(src))
	assert.Equal(t, []string{"baza", "produkt A", "produkt B"}, blockTexts(dst))
}

func TestMergeAtInsertsBeforeIndex(t *testing.T) {
	dst := buildDoc(t, "naglowek", "stopka")
	src := buildDoc(t, "srodek")

	require.NoError(t, dst.MergeAt(src, 1))
	assert.Equal(t, []string{"naglowek", "srodek", "stopka"}, blockTexts(dst))
}

func TestMergeKeepsSectPrAtEnd(t *testing.T) {
	dst := buildDoc(t, "baza")
	src := buildDoc(t, "dodatek")
	require.NoError(t, dst.Merge(src))

	reopened := roundTrip(t, dst)
	assert.Equal(t, []string{"baza", "dodatek"}, blockTexts(reopened))
	assert.NotEmpty(t, reopened.sectPr)
}

func TestMergeCopiesMissingStyles(t *testing.T) {
	dst := buildDoc(t, "baza")
	src := buildDoc(t, "dodatek")
	srcStyles := strings.Replace(string(src.part("word/styles.xml")), "</w:styles>",
		`<w:style w:type="paragraph" w:styleId="Produkt"><w:name w:val="Produkt"/></w:style></w:styles>`, 1)
	src.parts["word/styles.xml"] = []byte(srcStyles)

	require.NoError(t, dst.Merge(src))
	assert.Contains(t, string(dst.part("word/styles.xml")), `w:styleId="Produkt"`)

	// Merging again must not duplicate the definition.
	require.NoError(t, dst.Merge(src))
	assert.Equal(t, 1, strings.Count(string(dst.part("word/styles.xml")), `w:styleId="Produkt"`))
}

func TestMergeRemapsNumbering(t *testing.T) {
	numbering := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
		`<w:numbering xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">` +
		`<w:abstractNum w:abstractNumId="1"><w:lvl w:ilvl="0"><w:numFmt w:val="decimal"/></w:lvl></w:abstractNum>` +
		`<w:num w:numId="1"><w:abstractNumId w:val="1"/></w:num>` +
		`</w:numbering>`

	dst := buildDoc(t, "baza")
	dst.addPart("word/numbering.xml", []byte(numbering))

	src := buildDoc(t)
	src.addPart("word/numbering.xml", []byte(numbering))
	src.AddBlock("p", `<w:p><w:pPr><w:numPr><w:ilvl w:val="0"/><w:numId w:val="1"/></w:numPr></w:pPr>`+
		`<w:r><w:t>punkt</w:t></w:r></w:p>`)

	require.NoError(t, dst.Merge(src))

	merged := string(dst.part("word/numbering.xml"))
	assert.Contains(t, merged, `w:numId="2"`)
	assert.Contains(t, merged, `w:abstractNumId="2"`)
	assert.Contains(t, dst.Blocks[len(dst.Blocks)-1].XML, `<w:numId w:val="2"`)
}

func TestMergeCopiesReferencedImage(t *testing.T) {
	imageData := []byte{0x89, 'P', 'N', 'G'}

	src := buildDoc(t)
	src.addPart("word/media/image1.png", imageData)
	srcRels := strings.Replace(string(src.part("word/_rels/document.xml.rels")), "</Relationships>",
		`<Relationship Id="rId9" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/image" Target="media/image1.png"/></Relationships>`, 1)
	src.parts["word/_rels/document.xml.rels"] = []byte(srcRels)
	src.AddBlock("p", `<w:p><w:r><w:drawing><a:blip r:embed="rId9"/></w:drawing></w:r></w:p>`)

	dst := buildDoc(t, "baza")
	require.NoError(t, dst.Merge(src))

	rels := string(dst.part("word/_rels/document.xml.rels"))
	assert.Contains(t, rels, `Target="media/image1.png"`)
	assert.NotContains(t, dst.Blocks[len(dst.Blocks)-1].XML, `"rId9"`)
	assert.Contains(t, string(dst.part("[Content_Types].xml")), `Extension="png"`)
	assert.Equal(t, imageData, dst.part("word/media/image1.png"))
}

func TestPageBreakBlocks(t *testing.T) {
	d := buildDoc(t, "strona 1")
	d.AppendPageBreak()
	d.AddParagraph("strona 2")

	require.Len(t, d.Blocks, 3)
	assert.True(t, d.Blocks[1].IsPageBreak())
	assert.False(t, d.Blocks[0].IsPageBreak())

	reopened := roundTrip(t, d)
	assert.True(t, reopened.Blocks[1].IsPageBreak())
}
