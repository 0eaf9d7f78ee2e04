package docx

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

var (
	ErrNotWordDocument = errors.New("not a wordprocessingml document")
)

// Block is one top-level element of the document body: a paragraph ("p"),
// a table ("tbl") or any other structural element kept as raw XML.
type Block struct {
	Tag string
	XML string
}

// IsParagraph reports whether the block is a w:p element.
func (b Block) IsParagraph() bool { return b.Tag == "p" }

// IsTable reports whether the block is a w:tbl element.
func (b Block) IsTable() bool { return b.Tag == "tbl" }

// Document is an opened .docx package. The body of word/document.xml is
// modeled as an ordered block list; every other package part is preserved
// byte for byte unless a merge touches it.
type Document struct {
	parts     map[string][]byte
	partOrder []string

	header []byte // document.xml up to and including the body open tag
	footer []byte // document.xml from the body close tag to the end
	sectPr []byte // trailing section properties, pinned to the body end

	Blocks []Block
}

// Open reads a .docx file from disk.
func Open(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return OpenBytes(data)
}

// OpenReader reads a .docx package from a reader.
func OpenReader(r io.Reader) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return OpenBytes(data)
}

// OpenBytes reads a .docx package from memory.
func OpenBytes(data []byte) (*Document, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open docx package: %w", err)
	}

	d := &Document{parts: make(map[string][]byte)}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open part %s: %w", f.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read part %s: %w", f.Name, err)
		}
		d.addPart(f.Name, content)
	}

	if err := d.parseBody(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Document) addPart(name string, data []byte) {
	if _, ok := d.parts[name]; !ok {
		d.partOrder = append(d.partOrder, name)
	}
	d.parts[name] = data
}

func (d *Document) part(name string) []byte {
	return d.parts[name]
}

func (d *Document) hasPart(name string) bool {
	_, ok := d.parts[name]
	return ok
}

func (d *Document) parseBody() error {
	docXML, ok := d.parts["word/document.xml"]
	if !ok {
		return ErrNotWordDocument
	}

	open := bytes.Index(docXML, []byte("<w:body"))
	if open < 0 {
		return ErrNotWordDocument
	}
	openEnd := bytes.IndexByte(docXML[open:], '>')
	if openEnd < 0 {
		return ErrNotWordDocument
	}
	bodyStart := open + openEnd + 1

	bodyEnd := bytes.LastIndex(docXML, []byte("</w:body>"))
	if bodyEnd < 0 || bodyEnd < bodyStart {
		return ErrNotWordDocument
	}

	d.header = append([]byte(nil), docXML[:bodyStart]...)
	d.footer = append([]byte(nil), docXML[bodyEnd:]...)

	blocks, err := splitTopLevel(docXML[bodyStart:bodyEnd])
	if err != nil {
		return fmt.Errorf("parse document body: %w", err)
	}

	// Section properties stay pinned at the end of the body across appends.
	if n := len(blocks); n > 0 && blocks[n-1].Tag == "sectPr" {
		d.sectPr = []byte(blocks[n-1].XML)
		blocks = blocks[:n-1]
	}
	d.Blocks = blocks
	return nil
}

// splitTopLevel slices raw XML content into its top-level child elements,
// preserving the exact bytes of each element.
func splitTopLevel(content []byte) ([]Block, error) {
	dec := xml.NewDecoder(bytes.NewReader(content))
	var blocks []Block
	depth := 0
	var start int64
	var tag string
	var prev int64

	for {
		tok, err := dec.RawToken()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				start = prev
				tag = t.Name.Local
			}
			depth++
		case xml.EndElement:
			depth--
			if depth == 0 {
				end := dec.InputOffset()
				blocks = append(blocks, Block{Tag: tag, XML: string(content[start:end])})
			}
		}
		prev = dec.InputOffset()
	}
	return blocks, nil
}

// Bytes serializes the document back into a .docx package.
func (d *Document) Bytes() ([]byte, error) {
	var body bytes.Buffer
	body.Write(d.header)
	for _, b := range d.Blocks {
		body.WriteString(b.XML)
	}
	if len(d.sectPr) > 0 {
		body.Write(d.sectPr)
	}
	body.Write(d.footer)
	d.parts["word/document.xml"] = body.Bytes()

	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)
	for _, name := range d.partOrder {
		w, err := zw.Create(name)
		if err != nil {
			return nil, fmt.Errorf("write part %s: %w", name, err)
		}
		if _, err := w.Write(d.parts[name]); err != nil {
			return nil, fmt.Errorf("write part %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Save writes the document to disk, creating parent directories as needed.
func (d *Document) Save(path string) error {
	data, err := d.Bytes()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// AddParagraph appends a plain text paragraph.
func (d *Document) AddParagraph(text string) {
	d.Blocks = append(d.Blocks, Block{
		Tag: "p",
		XML: `<w:p><w:r><w:t xml:space="preserve">` + escapeText(text) + `</w:t></w:r></w:p>`,
	})
}

// AddBlock appends a raw body element. The tag must match the element name.
func (d *Document) AddBlock(tag, rawXML string) {
	d.Blocks = append(d.Blocks, Block{Tag: tag, XML: rawXML})
}

// InsertBlocks inserts blocks before index. An index at or beyond the block
// count appends.
func (d *Document) InsertBlocks(index int, blocks []Block) {
	if index < 0 {
		index = 0
	}
	if index >= len(d.Blocks) {
		d.Blocks = append(d.Blocks, blocks...)
		return
	}
	rest := append([]Block(nil), d.Blocks[index:]...)
	d.Blocks = append(d.Blocks[:index], append(blocks, rest...)...)
}

const minimalStylesXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:styles xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:style w:type="paragraph" w:styleId="Normal">
    <w:name w:val="Normal"/>
    <w:qFormat/>
  </w:style>
</w:styles>`

const minimalContentTypesXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
  <Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>
  <Default Extension="xml" ContentType="application/xml"/>
  <Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>
  <Override PartName="/word/styles.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.styles+xml"/>
</Types>`

const minimalRelsXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
  <Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>
</Relationships>`

const minimalDocRelsXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
  <Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/styles" Target="styles.xml"/>
</Relationships>`

// New creates an empty document with the minimal required package parts.
func New() *Document {
	d := &Document{parts: make(map[string][]byte)}
	d.addPart("[Content_Types].xml", []byte(minimalContentTypesXML))
	d.addPart("_rels/.rels", []byte(minimalRelsXML))
	d.addPart("word/_rels/document.xml.rels", []byte(minimalDocRelsXML))
	d.addPart("word/styles.xml", []byte(minimalStylesXML))
	d.addPart("word/document.xml", nil)

	d.header = []byte(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n" +
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships"><w:body>`)
	d.footer = []byte(`</w:body></w:document>`)
	d.sectPr = []byte(`<w:sectPr><w:pgSz w:w="11906" w:h="16838"/></w:sectPr>`)
	return d
}
