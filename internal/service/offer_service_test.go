package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolftax/oferta_tools/internal/constant"
	"github.com/wolftax/oferta_tools/pkg/docx"
)

type offerFixture struct {
	templatesDir string
	productsDir  string
	outputDir    string
}

func newOfferFixture(t *testing.T) *offerFixture {
	t.Helper()
	root := t.TempDir()
	f := &offerFixture{
		templatesDir: filepath.Join(root, "templates"),
		productsDir:  filepath.Join(root, "produkty"),
		outputDir:    filepath.Join(root, "output"),
	}
	for _, dir := range []string{f.templatesDir, f.productsDir, f.outputDir} {
		require.NoError(t, os.MkdirAll(dir, 0755))
	}
	return f
}

func (f *offerFixture) writeTemplate(t *testing.T, name string, paragraphs ...string) {
	t.Helper()
	d := docx.New()
	for _, p := range paragraphs {
		d.AddParagraph(p)
	}
	require.NoError(t, d.Save(filepath.Join(f.templatesDir, name)))
}

func (f *offerFixture) writeProduct(t *testing.T, name string, paragraphs ...string) {
	t.Helper()
	d := docx.New()
	for _, p := range paragraphs {
		d.AddParagraph(p)
	}
	require.NoError(t, d.Save(filepath.Join(f.productsDir, name)))
}

func (f *offerFixture) config(fragments ...TemplateFragment) OfferConfig {
	return OfferConfig{
		TemplatesDir:           f.templatesDir,
		ProductsDir:            f.productsDir,
		OutputDir:              f.outputDir,
		Fragments:              fragments,
		InjectionAfterFile:     "zakres.docx",
		InjectionMarker:        regexp.MustCompile(`Opis:\s+`),
		FallbackInjectionIndex: -1,
	}
}

func generate(t *testing.T, srv OfferService, req *OfferRequest) *docx.Document {
	t.Helper()
	out := filepath.Join(t.TempDir(), "offer.docx")
	require.NoError(t, srv.Generate(context.Background(), req, out))
	doc, err := docx.Open(out)
	require.NoError(t, err)
	return doc
}

// contentTexts drops page break blocks and returns the remaining block texts.
func contentTexts(doc *docx.Document) []string {
	var texts []string
	for _, b := range doc.Blocks {
		if b.IsPageBreak() {
			continue
		}
		texts = append(texts, b.Text())
	}
	return texts
}

func pageBreakCount(doc *docx.Document) int {
	n := 0
	for _, b := range doc.Blocks {
		if b.IsPageBreak() {
			n++
		}
	}
	return n
}

func TestNewOfferServiceMissingTemplate(t *testing.T) {
	f := newOfferFixture(t)
	_, err := NewOfferService(f.config(TemplateFragment{File: "brak.docx", Order: 1}))
	assert.ErrorIs(t, err, constant.ErrTemplateNotFound)
}

func TestNewOfferServiceNoFragments(t *testing.T) {
	f := newOfferFixture(t)
	_, err := NewOfferService(f.config())
	assert.ErrorIs(t, err, constant.ErrTemplateNotFound)
}

func TestGenerateSubstitutesFields(t *testing.T) {
	f := newOfferFixture(t)
	f.writeTemplate(t, "oferta.docx", "Klient: {{NazwaFirmyKlienta}}", "Opis: uslugi", "Stopka")

	srv, err := NewOfferService(f.config(TemplateFragment{File: "oferta.docx", Order: 1}))
	require.NoError(t, err)

	doc := generate(t, srv, &OfferRequest{
		Fields: map[string]string{"NazwaFirmyKlienta": "ACME Sp. z o.o."},
	})
	assert.Equal(t, []string{"Klient: ACME Sp. z o.o.", "Opis: uslugi", "Stopka"}, contentTexts(doc))
	assert.Zero(t, pageBreakCount(doc))
}

func TestGenerateSingleTemplateInjectsProductsInOrder(t *testing.T) {
	f := newOfferFixture(t)
	f.writeTemplate(t, "oferta.docx", "Wstep", "Opis: uslugi", "Stopka")
	f.writeProduct(t, "ksiegowosc.docx", "Produkt ksiegowosc")
	f.writeProduct(t, "kadry.docx", "Produkt kadry")
	f.writeProduct(t, "podatki.docx", "Produkt podatki")

	srv, err := NewOfferService(f.config(TemplateFragment{File: "oferta.docx", Order: 1}))
	require.NoError(t, err)

	doc := generate(t, srv, &OfferRequest{
		Products: []string{"ksiegowosc", "kadry", "podatki"},
	})

	assert.Equal(t, []string{
		"Wstep", "Opis: uslugi",
		"Produkt ksiegowosc", "Produkt kadry", "Produkt podatki",
		"Stopka",
	}, contentTexts(doc))

	// One break before each product and one after the last.
	assert.Equal(t, 4, pageBreakCount(doc))

	// Each product sits right behind its break, after the marker paragraph.
	texts := make([]string, 0, len(doc.Blocks))
	for _, b := range doc.Blocks {
		if b.IsPageBreak() {
			texts = append(texts, "<pb>")
		} else {
			texts = append(texts, b.Text())
		}
	}
	assert.Equal(t, []string{
		"Wstep", "Opis: uslugi",
		"<pb>", "Produkt ksiegowosc",
		"<pb>", "Produkt kadry",
		"<pb>", "Produkt podatki",
		"<pb>", "Stopka",
	}, texts)
}

func TestGenerateSkipsMissingProducts(t *testing.T) {
	f := newOfferFixture(t)
	f.writeTemplate(t, "oferta.docx", "Wstep", "Opis: uslugi")
	f.writeProduct(t, "kadry.docx", "Produkt kadry")

	srv, err := NewOfferService(f.config(TemplateFragment{File: "oferta.docx", Order: 1}))
	require.NoError(t, err)

	doc := generate(t, srv, &OfferRequest{
		Products: []string{"nie-istnieje", "kadry"},
	})
	assert.Equal(t, []string{"Wstep", "Opis: uslugi", "Produkt kadry"}, contentTexts(doc))
	assert.Equal(t, 2, pageBreakCount(doc))
}

func TestGenerateEmptyProductListAddsNothing(t *testing.T) {
	f := newOfferFixture(t)
	f.writeTemplate(t, "oferta.docx", "Wstep", "Opis: uslugi")

	srv, err := NewOfferService(f.config(TemplateFragment{File: "oferta.docx", Order: 1}))
	require.NoError(t, err)

	doc := generate(t, srv, &OfferRequest{})
	assert.Equal(t, []string{"Wstep", "Opis: uslugi"}, contentTexts(doc))
	assert.Zero(t, pageBreakCount(doc))
}

func TestGenerateMissingMarkerFailsWithoutFallback(t *testing.T) {
	f := newOfferFixture(t)
	f.writeTemplate(t, "oferta.docx", "Wstep", "Stopka")
	f.writeProduct(t, "kadry.docx", "Produkt kadry")

	srv, err := NewOfferService(f.config(TemplateFragment{File: "oferta.docx", Order: 1}))
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "offer.docx")
	err = srv.Generate(context.Background(), &OfferRequest{Products: []string{"kadry"}}, out)
	assert.ErrorIs(t, err, constant.ErrInjectionAnchorNotFound)
	assert.NoFileExists(t, out)
}

func TestGenerateMissingMarkerUsesConfiguredFallback(t *testing.T) {
	f := newOfferFixture(t)
	f.writeTemplate(t, "oferta.docx", "Wstep", "Stopka")
	f.writeProduct(t, "kadry.docx", "Produkt kadry")

	cfg := f.config(TemplateFragment{File: "oferta.docx", Order: 1})
	cfg.FallbackInjectionIndex = 1
	srv, err := NewOfferService(cfg)
	require.NoError(t, err)

	doc := generate(t, srv, &OfferRequest{Products: []string{"kadry"}})
	assert.Equal(t, []string{"Wstep", "Produkt kadry", "Stopka"}, contentTexts(doc))
}

func TestGenerateFragmentsComposeInConfiguredOrder(t *testing.T) {
	f := newOfferFixture(t)
	f.writeTemplate(t, "tytul.docx", "Strona tytulowa {{firmaM}}")
	f.writeTemplate(t, "zakres.docx", "Zakres uslug")
	f.writeTemplate(t, "kontakt.docx", "Kontakt")

	// Deliberately out of order to verify sorting.
	srv, err := NewOfferService(f.config(
		TemplateFragment{File: "kontakt.docx", Order: 3},
		TemplateFragment{File: "tytul.docx", Order: 1},
		TemplateFragment{File: "zakres.docx", Order: 2},
	))
	require.NoError(t, err)

	doc := generate(t, srv, &OfferRequest{
		Fields:   map[string]string{"firmaM": "Wolftax"},
		Products: []string{"ksiegowosc", "kadry"},
	})

	// Products are missing from disk here, so only fragments compose.
	assert.Equal(t, []string{"Strona tytulowa Wolftax", "Zakres uslug", "Kontakt"}, contentTexts(doc))
	assert.Equal(t, 2, pageBreakCount(doc))
}

func TestGenerateFragmentsInjectAfterAnchor(t *testing.T) {
	f := newOfferFixture(t)
	f.writeTemplate(t, "tytul.docx", "Strona tytulowa")
	f.writeTemplate(t, "zakres.docx", "Zakres uslug")
	f.writeTemplate(t, "kontakt.docx", "Kontakt")
	f.writeProduct(t, "ksiegowosc.docx", "Produkt ksiegowosc")
	f.writeProduct(t, "kadry.docx", "Produkt kadry")

	srv, err := NewOfferService(f.config(
		TemplateFragment{File: "tytul.docx", Order: 1},
		TemplateFragment{File: "zakres.docx", Order: 2},
		TemplateFragment{File: "kontakt.docx", Order: 3},
	))
	require.NoError(t, err)

	doc := generate(t, srv, &OfferRequest{Products: []string{"ksiegowosc", "kadry"}})

	texts := make([]string, 0, len(doc.Blocks))
	for _, b := range doc.Blocks {
		if b.IsPageBreak() {
			texts = append(texts, "<pb>")
		} else {
			texts = append(texts, b.Text())
		}
	}
	assert.Equal(t, []string{
		"Strona tytulowa",
		"<pb>", "Zakres uslug",
		"<pb>", "Produkt ksiegowosc",
		"<pb>", "Produkt kadry",
		"<pb>", "Kontakt",
	}, texts)
}

func TestGenerateFragmentsMissingAnchorFails(t *testing.T) {
	f := newOfferFixture(t)
	f.writeTemplate(t, "tytul.docx", "Strona tytulowa")
	f.writeTemplate(t, "kontakt.docx", "Kontakt")
	f.writeProduct(t, "kadry.docx", "Produkt kadry")

	srv, err := NewOfferService(f.config(
		TemplateFragment{File: "tytul.docx", Order: 1},
		TemplateFragment{File: "kontakt.docx", Order: 2},
	))
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "offer.docx")
	err = srv.Generate(context.Background(), &OfferRequest{Products: []string{"kadry"}}, out)
	assert.ErrorIs(t, err, constant.ErrInjectionAnchorNotFound)
}

func TestGenerateTOCFragmentSkipsSubstitution(t *testing.T) {
	f := newOfferFixture(t)
	f.writeTemplate(t, "tytul.docx", "{{Temat}}")
	f.writeTemplate(t, "spis.docx", "{{Temat}}")

	srv, err := NewOfferService(f.config(
		TemplateFragment{File: "tytul.docx", Order: 1},
		TemplateFragment{File: "spis.docx", Order: 2, IsTOC: true},
	))
	require.NoError(t, err)

	doc := generate(t, srv, &OfferRequest{Fields: map[string]string{"Temat": "Audyt"}})
	assert.Equal(t, []string{"Audyt", "{{Temat}}"}, contentTexts(doc))
}

func TestGenerateConcurrentRequestsAreIsolated(t *testing.T) {
	f := newOfferFixture(t)
	f.writeTemplate(t, "oferta.docx", "Klient: {{NazwaFirmyKlienta}}", "Opis: uslugi")
	f.writeProduct(t, "kadry.docx", "Produkt kadry")

	srv, err := NewOfferService(f.config(TemplateFragment{File: "oferta.docx", Order: 1}))
	require.NoError(t, err)

	outDir := t.TempDir()
	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := &OfferRequest{
				Fields:   map[string]string{"NazwaFirmyKlienta": fmt.Sprintf("Klient %d", i)},
				Products: []string{"kadry"},
			}
			errs[i] = srv.Generate(context.Background(),
				req, filepath.Join(outDir, fmt.Sprintf("offer_%d.docx", i)))
		}(i)
	}
	wg.Wait()

	for i := 0; i < 8; i++ {
		require.NoError(t, errs[i])
		doc, err := docx.Open(filepath.Join(outDir, fmt.Sprintf("offer_%d.docx", i)))
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("Klient: Klient %d", i), doc.Blocks[0].Text())
	}
}

func TestListProducts(t *testing.T) {
	f := newOfferFixture(t)
	f.writeTemplate(t, "oferta.docx", "Wstep")
	f.writeProduct(t, "kadry.docx", "x")
	f.writeProduct(t, "ksiegowosc.docx", "x")

	srv, err := NewOfferService(f.config(TemplateFragment{File: "oferta.docx", Order: 1}))
	require.NoError(t, err)

	products, err := srv.ListProducts()
	require.NoError(t, err)
	assert.Equal(t, []string{"kadry", "ksiegowosc"}, products)
}

func TestListOffersEmptyOutput(t *testing.T) {
	f := newOfferFixture(t)
	f.writeTemplate(t, "oferta.docx", "Wstep")

	srv, err := NewOfferService(f.config(TemplateFragment{File: "oferta.docx", Order: 1}))
	require.NoError(t, err)

	offers, err := srv.ListOffers()
	require.NoError(t, err)
	assert.Empty(t, offers)
}
