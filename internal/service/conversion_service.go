package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"github.com/wolftax/oferta_tools/internal/constant"
	"github.com/wolftax/oferta_tools/pkg/logger"
)

// CommandRunner abstracts external tool invocation so the pipeline can be
// tested without LibreOffice or poppler installed.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr string, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	err := cmd.Run()
	return outBuf.String(), errBuf.String(), err
}

// AutomationConverter converts through a native word processor automation
// interface. It is the Windows conversion path and the macOS fallback; on
// plain server deployments it stays nil.
type AutomationConverter interface {
	Convert(ctx context.Context, docxPath, pdfPath string) error
}

// ConversionConfig is the external tool setup for the pipeline.
type ConversionConfig struct {
	SofficePath  string
	PdftoppmPath string
	OutputDir    string
	TempDir      string
	Timeout      time.Duration
	JPGDPIs      int
	JPGQuality   int
}

// OfferOutput describes the organized result of one generation request.
type OfferOutput struct {
	Folder   string   // folder name under the output root
	MainFile string   // absolute path of the requested primary artifact
	JPGDir   string   // absolute path of the preview directory
	JPGFiles []string // ordered preview page paths
	FileSize int64    // size of the primary artifact in bytes
}

type ConversionService interface {
	// ConvertToPDF renders a .docx file to pdfPath using the platform
	// converter.
	ConvertToPDF(ctx context.Context, docxPath, pdfPath string) error
	// ConvertToJPG rasterizes every page of a PDF into outDir as
	// page_1.jpg, page_2.jpg and so on, returning the ordered paths.
	ConvertToJPG(ctx context.Context, pdfPath, outDir string) ([]string, error)
	// OrganizeOffer converts the composed document into the requested
	// format and lays the artifacts out under the output root. Preview
	// JPEGs are always produced; intermediate PDFs are always removed.
	OrganizeOffer(ctx context.Context, docxPath, baseName, format string) (*OfferOutput, error)
}

type conversionService struct {
	cfg        ConversionConfig
	runner     CommandRunner
	automation AutomationConverter
	goos       string
}

// NewConversionService builds the pipeline. runner and automation may be nil;
// the defaults shell out to the configured tools.
func NewConversionService(cfg ConversionConfig, runner CommandRunner, automation AutomationConverter) ConversionService {
	if runner == nil {
		runner = execRunner{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.JPGDPIs <= 0 {
		cfg.JPGDPIs = 100
	}
	if cfg.JPGQuality <= 0 {
		cfg.JPGQuality = 90
	}
	return &conversionService{
		cfg:        cfg,
		runner:     runner,
		automation: automation,
		goos:       runtime.GOOS,
	}
}

func (s *conversionService) ConvertToPDF(ctx context.Context, docxPath, pdfPath string) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	switch s.goos {
	case "windows":
		if s.automation == nil {
			return constant.ErrUnsupportedPlatform
		}
		return s.automation.Convert(ctx, docxPath, pdfPath)
	case "darwin":
		if err := s.sofficeConvert(ctx, docxPath, pdfPath); err != nil {
			if s.automation == nil {
				return err
			}
			logger.Warn("soffice conversion failed, falling back to automation",
				logger.F("error", err.Error()))
			return s.automation.Convert(ctx, docxPath, pdfPath)
		}
		return nil
	default:
		return s.sofficeConvert(ctx, docxPath, pdfPath)
	}
}

// sofficeConvert runs the headless LibreOffice converter. soffice always
// names its output after the input stem, so the result is renamed when the
// caller wants a different name.
func (s *conversionService) sofficeConvert(ctx context.Context, docxPath, pdfPath string) error {
	outDir := filepath.Dir(pdfPath)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return err
	}

	_, stderr, err := s.runner.Run(ctx, s.cfg.SofficePath,
		"--headless", "--convert-to", "pdf", "--outdir", outDir, docxPath)
	if err != nil {
		return fmt.Errorf("%w: soffice: %v: %s", constant.ErrConversionFailed, err, strings.TrimSpace(stderr))
	}

	stem := strings.TrimSuffix(filepath.Base(docxPath), filepath.Ext(docxPath))
	produced := filepath.Join(outDir, stem+".pdf")
	if _, err := os.Stat(produced); err != nil {
		return fmt.Errorf("%w: soffice produced no output: %s", constant.ErrConversionFailed, strings.TrimSpace(stderr))
	}
	if produced != pdfPath {
		if err := os.Rename(produced, pdfPath); err != nil {
			return fmt.Errorf("%w: rename converted pdf: %v", constant.ErrConversionFailed, err)
		}
	}
	return nil
}

func (s *conversionService) ConvertToJPG(ctx context.Context, pdfPath, outDir string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, err
	}

	prefix := filepath.Join(outDir, "page")
	_, stderr, err := s.runner.Run(ctx, s.cfg.PdftoppmPath,
		"-png", "-r", strconv.Itoa(s.cfg.JPGDPIs), pdfPath, prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: pdftoppm: %v: %s", constant.ErrConversionFailed, err, strings.TrimSpace(stderr))
	}

	pages, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: pdftoppm produced no pages", constant.ErrConversionFailed)
	}
	// pdftoppm pads page numbers to a uniform width, so the lexical order
	// is the page order.
	sort.Strings(pages)

	jpgs := make([]string, 0, len(pages))
	for i, page := range pages {
		img, err := imaging.Open(page)
		if err != nil {
			return nil, fmt.Errorf("%w: decode page %s: %v", constant.ErrConversionFailed, filepath.Base(page), err)
		}
		jpgPath := filepath.Join(outDir, fmt.Sprintf("page_%d.jpg", i+1))
		if err := imaging.Save(img, jpgPath, imaging.JPEGQuality(s.cfg.JPGQuality)); err != nil {
			return nil, fmt.Errorf("%w: encode page %d: %v", constant.ErrConversionFailed, i+1, err)
		}
		os.Remove(page)
		jpgs = append(jpgs, jpgPath)
	}
	return jpgs, nil
}

func (s *conversionService) OrganizeOffer(ctx context.Context, docxPath, baseName, format string) (*OfferOutput, error) {
	if !constant.ValidFormat(format) {
		return nil, fmt.Errorf("%w: %q", constant.ErrInvalidOutputFormat, format)
	}

	folder := filepath.Join(s.cfg.OutputDir, baseName)
	jpgDir := filepath.Join(folder, "jpg")
	if err := os.MkdirAll(folder, 0755); err != nil {
		return nil, err
	}

	out := &OfferOutput{Folder: baseName, JPGDir: jpgDir}

	switch format {
	case constant.FormatDocx:
		finalDocx := filepath.Join(folder, baseName+".docx")
		if err := moveFile(docxPath, finalDocx); err != nil {
			return nil, err
		}
		tempPDF := filepath.Join(s.cfg.TempDir, baseName+".pdf")
		defer os.Remove(tempPDF)
		if err := s.ConvertToPDF(ctx, finalDocx, tempPDF); err != nil {
			return nil, err
		}
		jpgs, err := s.ConvertToJPG(ctx, tempPDF, jpgDir)
		if err != nil {
			return nil, err
		}
		out.MainFile = finalDocx
		out.JPGFiles = jpgs

	case constant.FormatPDF:
		finalPDF := filepath.Join(folder, baseName+".pdf")
		if err := s.ConvertToPDF(ctx, docxPath, finalPDF); err != nil {
			return nil, err
		}
		os.Remove(docxPath)
		jpgs, err := s.ConvertToJPG(ctx, finalPDF, jpgDir)
		if err != nil {
			return nil, err
		}
		out.MainFile = finalPDF
		out.JPGFiles = jpgs

	case constant.FormatJPG:
		tempPDF := filepath.Join(s.cfg.TempDir, baseName+".pdf")
		defer os.Remove(tempPDF)
		if err := s.ConvertToPDF(ctx, docxPath, tempPDF); err != nil {
			return nil, err
		}
		os.Remove(docxPath)
		jpgs, err := s.ConvertToJPG(ctx, tempPDF, jpgDir)
		if err != nil {
			return nil, err
		}
		out.MainFile = jpgs[0]
		out.JPGFiles = jpgs
	}

	if info, err := os.Stat(out.MainFile); err == nil {
		out.FileSize = info.Size()
	}
	return out, nil
}

// moveFile renames when possible and falls back to a copy across
// filesystems.
func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
