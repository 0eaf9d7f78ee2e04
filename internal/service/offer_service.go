package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/wolftax/oferta_tools/internal/constant"
	"github.com/wolftax/oferta_tools/pkg/docx"
	"github.com/wolftax/oferta_tools/pkg/logger"
	"github.com/wolftax/oferta_tools/pkg/util"
)

// OfferConfig is the static composition setup resolved from configuration at
// startup.
type OfferConfig struct {
	TemplatesDir string
	ProductsDir  string
	OutputDir    string

	// Fragments in composition order. A single entry means the whole offer
	// is one template and products are injected at a text marker inside it.
	Fragments []TemplateFragment

	// InjectionAfterFile names the fragment after which products are
	// injected when composing from multiple fragments.
	InjectionAfterFile string

	// InjectionMarker locates the injection paragraph in the single
	// template variant.
	InjectionMarker *regexp.Regexp

	// FallbackInjectionIndex is used when the anchor cannot be found: a
	// fragment index in the multi fragment variant, a body block index in
	// the single template variant. Negative disables the fallback and makes
	// a missing anchor a hard error.
	FallbackInjectionIndex int

	// Placeholder delimiters wrapped around field names. Empty means the
	// default {{ }}.
	PlaceholderLeft  string
	PlaceholderRight string
}

type OfferService interface {
	// Generate composes the offer document and writes it to outputPath.
	Generate(ctx context.Context, req *OfferRequest, outputPath string) error
	// ListProducts returns the available product module names.
	ListProducts() ([]string, error)
	// ListOffers returns the generated offer folders, newest first.
	ListOffers() ([]OfferFolderInfo, error)
}

type offerService struct {
	cfg OfferConfig
}

func NewOfferService(cfg OfferConfig) (OfferService, error) {
	if len(cfg.Fragments) == 0 {
		return nil, fmt.Errorf("%w: no template fragments configured", constant.ErrTemplateNotFound)
	}
	frags := append([]TemplateFragment(nil), cfg.Fragments...)
	sort.SliceStable(frags, func(i, j int) bool { return frags[i].Order < frags[j].Order })
	cfg.Fragments = frags

	if cfg.InjectionMarker == nil {
		cfg.InjectionMarker = regexp.MustCompile(`Opis:\s+`)
	}
	if cfg.PlaceholderLeft == "" {
		cfg.PlaceholderLeft = "{{"
	}
	if cfg.PlaceholderRight == "" {
		cfg.PlaceholderRight = "}}"
	}

	for _, f := range cfg.Fragments {
		if !util.FileExists(filepath.Join(cfg.TemplatesDir, f.File)) {
			return nil, fmt.Errorf("%w: %s", constant.ErrTemplateNotFound, f.File)
		}
	}
	return &offerService{cfg: cfg}, nil
}

func (s *offerService) Generate(ctx context.Context, req *OfferRequest, outputPath string) error {
	replacements := make(map[string]string, len(req.Fields))
	for name, value := range req.Fields {
		replacements[s.cfg.PlaceholderLeft+name+s.cfg.PlaceholderRight] = value
	}

	products, err := s.loadProducts(req.Products)
	if err != nil {
		return err
	}

	var doc *docx.Document
	if len(s.cfg.Fragments) == 1 {
		doc, err = s.composeSingle(replacements, products)
	} else {
		doc, err = s.composeFragments(replacements, products)
	}
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := doc.Save(outputPath); err != nil {
		return fmt.Errorf("save composed offer: %w", err)
	}
	logger.Info("offer composed",
		logger.F("output", outputPath),
		logger.F("fragments", len(s.cfg.Fragments)),
		logger.F("products", len(products)))
	return nil
}

// loadProducts opens the requested product documents in request order. A
// missing product is logged and skipped; the remaining products still
// compose.
func (s *offerService) loadProducts(names []string) ([]*docx.Document, error) {
	var docs []*docx.Document
	for _, name := range names {
		file := name
		if !strings.EqualFold(filepath.Ext(file), ".docx") {
			file += ".docx"
		}
		path := filepath.Join(s.cfg.ProductsDir, file)
		if !util.FileExists(path) {
			logger.Warn("product module not found, skipping", logger.F("product", name))
			continue
		}
		doc, err := docx.Open(path)
		if err != nil {
			return nil, fmt.Errorf("%w: product %s: %v", constant.ErrTemplateCorrupted, name, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *offerService) openFragment(f TemplateFragment, replacements map[string]string) (*docx.Document, error) {
	doc, err := docx.Open(filepath.Join(s.cfg.TemplatesDir, f.File))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", constant.ErrTemplateNotFound, f.File)
		}
		return nil, fmt.Errorf("%w: %s: %v", constant.ErrTemplateCorrupted, f.File, err)
	}
	// Table of contents fragments hold field codes, not markers.
	if !f.IsTOC {
		doc.ReplaceAll(replacements)
	}
	return doc, nil
}

// composeSingle fills the one configured template and inserts the products
// at the marker paragraph, each preceded by a page break, with one trailing
// break after the last.
func (s *offerService) composeSingle(replacements map[string]string, products []*docx.Document) (*docx.Document, error) {
	doc, err := s.openFragment(s.cfg.Fragments[0], replacements)
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return doc, nil
	}

	at, found := doc.FindInjectionPoint(s.cfg.InjectionMarker)
	if !found {
		if s.cfg.FallbackInjectionIndex < 0 || s.cfg.FallbackInjectionIndex > len(doc.Blocks) {
			return nil, constant.ErrInjectionAnchorNotFound
		}
		at = s.cfg.FallbackInjectionIndex
		logger.Warn("injection marker not found, using configured fallback index",
			logger.F("index", at))
	}

	for _, p := range products {
		doc.InsertBlocks(at, []docx.Block{docx.PageBreakBlock()})
		at++
		before := len(doc.Blocks)
		if err := doc.MergeAt(p, at); err != nil {
			return nil, fmt.Errorf("merge product: %w", err)
		}
		at += len(doc.Blocks) - before
	}
	doc.InsertBlocks(at, []docx.Block{docx.PageBreakBlock()})
	return doc, nil
}

// composeFragments assembles the ordered fragment list, each fragment on a
// new page, and injects the products right after the anchor fragment.
func (s *offerService) composeFragments(replacements map[string]string, products []*docx.Document) (*docx.Document, error) {
	anchor, err := s.resolveAnchor(len(products) > 0)
	if err != nil {
		return nil, err
	}

	doc, err := s.openFragment(s.cfg.Fragments[0], replacements)
	if err != nil {
		return nil, err
	}

	skipBreak := false
	if s.cfg.Fragments[0].File == anchor {
		if err := appendProducts(doc, products); err != nil {
			return nil, err
		}
		skipBreak = len(products) > 0
	}

	for _, f := range s.cfg.Fragments[1:] {
		frag, err := s.openFragment(f, replacements)
		if err != nil {
			return nil, err
		}
		if !skipBreak {
			doc.AppendPageBreak()
		}
		skipBreak = false
		if err := doc.Merge(frag); err != nil {
			return nil, fmt.Errorf("merge fragment %s: %w", f.File, err)
		}
		if f.File == anchor {
			if err := appendProducts(doc, products); err != nil {
				return nil, err
			}
			skipBreak = len(products) > 0
		}
	}
	return doc, nil
}

// resolveAnchor validates the configured anchor fragment. With no products
// to inject the anchor is irrelevant and not required to exist.
func (s *offerService) resolveAnchor(required bool) (string, error) {
	for _, f := range s.cfg.Fragments {
		if f.File == s.cfg.InjectionAfterFile {
			return f.File, nil
		}
	}
	if !required {
		return "", nil
	}
	idx := s.cfg.FallbackInjectionIndex
	if idx < 0 || idx >= len(s.cfg.Fragments) {
		return "", constant.ErrInjectionAnchorNotFound
	}
	logger.Warn("injection anchor fragment not configured, using fallback fragment index",
		logger.F("index", idx),
		logger.F("fragment", s.cfg.Fragments[idx].File))
	return s.cfg.Fragments[idx].File, nil
}

// appendProducts appends each product on its own page plus one trailing page
// break separating the products from whatever follows.
func appendProducts(doc *docx.Document, products []*docx.Document) error {
	if len(products) == 0 {
		return nil
	}
	for _, p := range products {
		doc.AppendPageBreak()
		if err := doc.Merge(p); err != nil {
			return fmt.Errorf("merge product: %w", err)
		}
	}
	doc.AppendPageBreak()
	return nil
}

func (s *offerService) ListProducts() ([]string, error) {
	files, err := util.ListFilesByExt(s.cfg.ProductsDir, ".docx")
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, strings.TrimSuffix(f, filepath.Ext(f)))
	}
	return names, nil
}

func (s *offerService) ListOffers() ([]OfferFolderInfo, error) {
	entries, err := os.ReadDir(s.cfg.OutputDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []OfferFolderInfo{}, nil
		}
		return nil, err
	}

	var offers []OfferFolderInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files, _ := os.ReadDir(filepath.Join(s.cfg.OutputDir, e.Name()))
		var names []string
		for _, f := range files {
			if !f.IsDir() {
				names = append(names, f.Name())
			}
		}
		offers = append(offers, OfferFolderInfo{
			Folder:    e.Name(),
			Files:     names,
			CreatedAt: info.ModTime(),
		})
	}
	sort.Slice(offers, func(i, j int) bool { return offers[i].CreatedAt.After(offers[j].CreatedAt) })
	return offers, nil
}
