package docx

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
)

const pageBreakXML = `<w:p><w:r><w:br w:type="page"/></w:r></w:p>`

// PageBreakBlock returns a paragraph holding a single page break.
func PageBreakBlock() Block {
	return Block{Tag: "p", XML: pageBreakXML}
}

// AppendPageBreak appends a page break paragraph to the body.
func (d *Document) AppendPageBreak() {
	d.Blocks = append(d.Blocks, PageBreakBlock())
}

// IsPageBreak reports whether the block is a bare page break paragraph.
func (b Block) IsPageBreak() bool {
	return b.IsParagraph() && strings.Contains(b.XML, `<w:br w:type="page"`)
}

// Merge appends the body of src to this document, carrying over the styles,
// numbering definitions and referenced parts (images, hyperlinks) that the
// source blocks depend on. IDs are remapped to avoid collisions; a style ID
// already defined in the destination keeps the destination definition.
func (d *Document) Merge(src *Document) error {
	return d.MergeAt(src, -1)
}

// MergeAt inserts the body of src before block index. A negative index
// appends at the end.
func (d *Document) MergeAt(src *Document, index int) error {
	blocks, err := d.importBlocks(src)
	if err != nil {
		return err
	}
	if index < 0 {
		d.Blocks = append(d.Blocks, blocks...)
		return nil
	}
	d.InsertBlocks(index, blocks)
	return nil
}

func (d *Document) importBlocks(src *Document) ([]Block, error) {
	blocks := append([]Block(nil), src.Blocks...)

	d.mergeStyles(src)
	blocks = d.mergeNumbering(src, blocks)
	blocks, err := d.mergeRelationships(src, blocks)
	if err != nil {
		return nil, err
	}
	return blocks, nil
}

var (
	styleElemRe = regexp.MustCompile(`(?s)<w:style[ >].*?</w:style>`)
	styleIDRe   = regexp.MustCompile(`w:styleId="([^"]*)"`)
)

// mergeStyles copies style definitions the destination does not have yet.
func (d *Document) mergeStyles(src *Document) {
	srcStyles := src.part("word/styles.xml")
	if srcStyles == nil {
		return
	}
	dstStyles := d.part("word/styles.xml")
	if dstStyles == nil {
		d.addPart("word/styles.xml", append([]byte(nil), srcStyles...))
		d.registerPart("word/styles.xml",
			"application/vnd.openxmlformats-officedocument.wordprocessingml.styles+xml",
			"http://schemas.openxmlformats.org/officeDocument/2006/relationships/styles",
			"styles.xml")
		return
	}

	known := make(map[string]bool)
	for _, m := range styleIDRe.FindAllStringSubmatch(string(dstStyles), -1) {
		known[m[1]] = true
	}

	var missing []string
	for _, elem := range styleElemRe.FindAllString(string(srcStyles), -1) {
		m := styleIDRe.FindStringSubmatch(elem)
		if m == nil || known[m[1]] {
			continue
		}
		known[m[1]] = true
		missing = append(missing, elem)
	}
	if len(missing) == 0 {
		return
	}
	merged := strings.Replace(string(dstStyles), "</w:styles>",
		strings.Join(missing, "")+"</w:styles>", 1)
	d.parts["word/styles.xml"] = []byte(merged)
}

var (
	abstractNumDefRe = regexp.MustCompile(`(<w:abstractNum [^>]*w:abstractNumId=")(\d+)(")`)
	abstractNumRefRe = regexp.MustCompile(`(<w:abstractNumId w:val=")(\d+)(")`)
	numDefRe         = regexp.MustCompile(`(<w:num [^>]*w:numId=")(\d+)(")`)
	numRefRe         = regexp.MustCompile(`(<w:numId w:val=")(\d+)(")`)
	abstractNumElem  = regexp.MustCompile(`(?s)<w:abstractNum[ >].*?</w:abstractNum>`)
	numElem          = regexp.MustCompile(`(?s)<w:num[ >].*?</w:num>`)
)

// mergeNumbering imports list definitions, shifting every numbering ID by an
// offset above the destination's highest so existing lists keep counting
// independently.
func (d *Document) mergeNumbering(src *Document, blocks []Block) []Block {
	srcNumbering := src.part("word/numbering.xml")
	if srcNumbering == nil {
		return blocks
	}

	dstNumbering := d.part("word/numbering.xml")
	offset := maxNumberingID(dstNumbering)

	shifted := shiftIDs(string(srcNumbering), abstractNumDefRe, offset)
	shifted = shiftIDs(shifted, abstractNumRefRe, offset)
	shifted = shiftIDs(shifted, numDefRe, offset)

	for i := range blocks {
		blocks[i].XML = shiftIDs(blocks[i].XML, numRefRe, offset)
	}

	if dstNumbering == nil {
		d.addPart("word/numbering.xml", []byte(shifted))
		d.registerPart("word/numbering.xml",
			"application/vnd.openxmlformats-officedocument.wordprocessingml.numbering+xml",
			"http://schemas.openxmlformats.org/officeDocument/2006/relationships/numbering",
			"numbering.xml")
		return blocks
	}

	abstracts := abstractNumElem.FindAllString(shifted, -1)
	nums := numElem.FindAllString(shifted, -1)

	merged := string(dstNumbering)
	// Schema order: all abstractNum elements precede num elements.
	if at := strings.Index(merged, "<w:num "); at >= 0 {
		merged = merged[:at] + strings.Join(abstracts, "") + merged[at:]
	} else {
		merged = strings.Replace(merged, "</w:numbering>",
			strings.Join(abstracts, "")+"</w:numbering>", 1)
	}
	merged = strings.Replace(merged, "</w:numbering>",
		strings.Join(nums, "")+"</w:numbering>", 1)
	d.parts["word/numbering.xml"] = []byte(merged)
	return blocks
}

func maxNumberingID(numbering []byte) int {
	max := 0
	for _, re := range []*regexp.Regexp{abstractNumDefRe, numDefRe} {
		for _, m := range re.FindAllStringSubmatch(string(numbering), -1) {
			if v, err := strconv.Atoi(m[2]); err == nil && v > max {
				max = v
			}
		}
	}
	return max
}

func shiftIDs(s string, re *regexp.Regexp, offset int) string {
	if offset == 0 {
		return s
	}
	return re.ReplaceAllStringFunc(s, func(match string) string {
		m := re.FindStringSubmatch(match)
		v, err := strconv.Atoi(m[2])
		if err != nil {
			return match
		}
		return m[1] + strconv.Itoa(v+offset) + m[3]
	})
}

var (
	relationshipRe = regexp.MustCompile(`<Relationship\s[^>]*?/?>`)
	relIDNumRe     = regexp.MustCompile(`Id="rId(\d+)"`)
	relAttrID      = regexp.MustCompile(`Id="([^"]*)"`)
	relAttrType    = regexp.MustCompile(`Type="([^"]*)"`)
	relAttrTarget  = regexp.MustCompile(`Target="([^"]*)"`)
	relAttrMode    = regexp.MustCompile(`TargetMode="([^"]*)"`)
)

// mergeRelationships carries over every relationship the source blocks
// reference: internal targets (images and similar) are copied in under fresh
// part names, external targets (hyperlinks) keep their URL. Relationship IDs
// are remapped in two phases so source and destination ID ranges cannot
// collide mid-rewrite.
func (d *Document) mergeRelationships(src *Document, blocks []Block) ([]Block, error) {
	srcRels := src.part("word/_rels/document.xml.rels")
	if srcRels == nil {
		return blocks, nil
	}
	dstRels := d.part("word/_rels/document.xml.rels")
	if dstRels == nil {
		dstRels = []byte(minimalDocRelsXML)
		d.addPart("word/_rels/document.xml.rels", dstRels)
	}

	nextID := maxRelID(dstRels)
	var added []string
	tmpSeq := 0
	rewrite := make(map[string]string) // temp placeholder -> final ID

	referenced := func(id string) bool {
		needle := `"` + id + `"`
		for _, b := range blocks {
			if strings.Contains(b.XML, needle) {
				return true
			}
		}
		return false
	}

	for _, rel := range relationshipRe.FindAllString(string(srcRels), -1) {
		id := firstGroup(relAttrID, rel)
		relType := firstGroup(relAttrType, rel)
		target := firstGroup(relAttrTarget, rel)
		if id == "" || target == "" || !referenced(id) {
			continue
		}

		nextID++
		newID := fmt.Sprintf("rId%d", nextID)

		if firstGroup(relAttrMode, rel) == "External" {
			added = append(added, fmt.Sprintf(
				`<Relationship Id=%q Type=%q Target=%q TargetMode="External"/>`,
				newID, relType, target))
		} else {
			data := src.part("word/" + target)
			if data == nil {
				continue
			}
			newTarget := d.freshPartName(target)
			d.addPart("word/"+newTarget, append([]byte(nil), data...))
			d.ensureDefaultContentType(path.Ext(newTarget))
			added = append(added, fmt.Sprintf(
				`<Relationship Id=%q Type=%q Target=%q/>`, newID, relType, newTarget))
		}

		tmpSeq++
		tmp := fmt.Sprintf("\x00rel%d\x00", tmpSeq)
		for i := range blocks {
			blocks[i].XML = strings.ReplaceAll(blocks[i].XML, `"`+id+`"`, `"`+tmp+`"`)
		}
		rewrite[tmp] = newID
	}

	for tmp, final := range rewrite {
		for i := range blocks {
			blocks[i].XML = strings.ReplaceAll(blocks[i].XML, `"`+tmp+`"`, `"`+final+`"`)
		}
	}

	if len(added) > 0 {
		merged := strings.Replace(string(d.part("word/_rels/document.xml.rels")),
			"</Relationships>", strings.Join(added, "")+"</Relationships>", 1)
		d.parts["word/_rels/document.xml.rels"] = []byte(merged)
	}
	return blocks, nil
}

func firstGroup(re *regexp.Regexp, s string) string {
	if m := re.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return ""
}

func maxRelID(rels []byte) int {
	max := 0
	for _, m := range relIDNumRe.FindAllStringSubmatch(string(rels), -1) {
		if v, err := strconv.Atoi(m[1]); err == nil && v > max {
			max = v
		}
	}
	return max
}

// freshPartName picks a target name under word/ that does not clash with an
// existing part, keeping the directory and extension of the original.
func (d *Document) freshPartName(target string) string {
	if !d.hasPart("word/" + target) {
		return target
	}
	dir := path.Dir(target)
	ext := path.Ext(target)
	stem := strings.TrimSuffix(path.Base(target), ext)
	for i := 1; ; i++ {
		candidate := path.Join(dir, fmt.Sprintf("%s_%d%s", stem, i, ext))
		if !d.hasPart("word/" + candidate) {
			return candidate
		}
	}
}

var contentTypeByExt = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".tiff": "image/tiff",
	".emf":  "image/x-emf",
	".wmf":  "image/x-wmf",
	".bin":  "application/vnd.openxmlformats-officedocument.oleObject",
}

// ensureDefaultContentType adds a Default extension mapping when missing.
func (d *Document) ensureDefaultContentType(ext string) {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" {
		return
	}
	ctype, ok := contentTypeByExt["."+ext]
	if !ok {
		ctype = "application/octet-stream"
	}
	ct := string(d.part("[Content_Types].xml"))
	if strings.Contains(ct, `Extension="`+ext+`"`) {
		return
	}
	entry := fmt.Sprintf(`<Default Extension=%q ContentType=%q/>`, ext, ctype)
	d.parts["[Content_Types].xml"] = []byte(strings.Replace(ct, "</Types>", entry+"</Types>", 1))
}

// registerPart records a new package part in the content types and the
// document relationships.
func (d *Document) registerPart(partName, contentType, relType, relTarget string) {
	ct := string(d.part("[Content_Types].xml"))
	if !strings.Contains(ct, `PartName="/`+partName+`"`) {
		entry := fmt.Sprintf(`<Override PartName=%q ContentType=%q/>`, "/"+partName, contentType)
		d.parts["[Content_Types].xml"] = []byte(strings.Replace(ct, "</Types>", entry+"</Types>", 1))
	}

	rels := d.part("word/_rels/document.xml.rels")
	if rels == nil {
		rels = []byte(minimalDocRelsXML)
		d.addPart("word/_rels/document.xml.rels", rels)
	}
	if strings.Contains(string(rels), `Target="`+relTarget+`"`) {
		return
	}
	newID := fmt.Sprintf("rId%d", maxRelID(rels)+1)
	entry := fmt.Sprintf(`<Relationship Id=%q Type=%q Target=%q/>`, newID, relType, relTarget)
	merged := strings.Replace(string(rels), "</Relationships>", entry+"</Relationships>", 1)
	d.parts["word/_rels/document.xml.rels"] = []byte(merged)
}
