package api_offer

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/wolftax/oferta_tools/internal/constant"
	"github.com/wolftax/oferta_tools/internal/service"
	"github.com/wolftax/oferta_tools/pkg/logger"
	"github.com/wolftax/oferta_tools/pkg/util"
)

type OfferHandler struct {
	offerService      service.OfferService
	conversionService service.ConversionService
	tempDir           string
	outputDir         string
}

// RegisterOfferHandler wires the offer endpoints into the package registry.
func RegisterOfferHandler(offerSrv service.OfferService, convSrv service.ConversionService, tempDir, outputDir string) {
	registerHandler(&OfferHandler{
		offerService:      offerSrv,
		conversionService: convSrv,
		tempDir:           tempDir,
		outputDir:         outputDir,
	})
}

func (h *OfferHandler) RegisterRoutes(router fiber.Router) {
	offer := router.Group("/offer")
	offer.Post("/generate", h.Generate)
	offer.Get("/products", h.Products)
	offer.Get("/list", h.List)
	offer.Get("/download/:folder/:file", h.Download)
	offer.Get("/jpgs/:folder", h.JPGs)
}

// GenerateOfferRequest carries the field values substituted into the offer
// templates. Field names follow the markers used in the Wolftax documents.
type GenerateOfferRequest struct {
	ClientCompany string `json:"clientCompany"`
	CaseNumber    string `json:"caseNumber"`
	Subject       string `json:"subject"`
	Deadline      string `json:"deadline"`
	ValidUntil    string `json:"validUntil"`
	ClientTaxID   string `json:"clientTaxId"`
	OfferDate     string `json:"offerDate"`
	Company       string `json:"company"`
	Category      string `json:"category"`
	Description   string `json:"description"`
	Justification string `json:"justification"`

	Price      *float64 `json:"price"`
	HourBudget *int     `json:"hourBudget"`

	// ExtraFields substitutes arbitrary additional markers.
	ExtraFields map[string]string `json:"extraFields"`

	Products     []string `json:"products"`
	OutputFormat string   `json:"outputFormat"`
}

// fields maps the request onto the template marker names. Empty values still
// substitute so unused markers disappear from the output.
func (r *GenerateOfferRequest) fields() map[string]string {
	f := map[string]string{
		"NazwaFirmyKlienta": r.ClientCompany,
		"Sygnatura-sprawy":  r.CaseNumber,
		"Temat":             r.Subject,
		"Termin":            r.Deadline,
		"waznosc-oferty":    r.ValidUntil,
		"waznado":           r.ValidUntil,
		"KLIENT(NIP)":       r.ClientTaxID,
		"Oferta z dnia":     r.OfferDate,
		"firmaM":            r.Company,
		"temat":             r.Subject,
		"kategoria":         r.Category,
		"opis":              r.Description,
		"uzasadnienie":      r.Justification,
	}
	if r.Price != nil {
		price := fmt.Sprintf("%.2f", *r.Price)
		f["cena"] = price
		f["Wynagrodzenie"] = price
	}
	if r.HourBudget != nil {
		hours := strconv.Itoa(*r.HourBudget)
		f["RBG"] = hours
		f["Szacowanyczaspracy"] = hours
	}
	for k, v := range r.ExtraFields {
		f[k] = v
	}
	return f
}

type GenerateOfferResponse struct {
	Success        bool     `json:"success"`
	Message        string   `json:"message,omitempty"`
	OutputFolder   string   `json:"outputFolder,omitempty"`
	FileName       string   `json:"fileName,omitempty"`
	Format         string   `json:"format,omitempty"`
	FileSizeBytes  int64    `json:"fileSizeBytes,omitempty"`
	JPGCount       int      `json:"jpgCount,omitempty"`
	JPGFiles       []string `json:"jpgFiles,omitempty"`
	ProcessingTime float64  `json:"processingTimeSeconds"`
}

func (h *OfferHandler) Generate(c *fiber.Ctx) error {
	start := time.Now()

	req := new(GenerateOfferRequest)
	if err := c.BodyParser(req); err != nil {
		return failGenerate(c, start, fiber.StatusBadRequest, "invalid request body")
	}

	format := strings.ToLower(req.OutputFormat)
	if format == "" {
		format = constant.FormatDocx
	}
	if !constant.ValidFormat(format) {
		return failGenerate(c, start, fiber.StatusBadRequest,
			fmt.Sprintf("unsupported output format %q", req.OutputFormat))
	}

	offerID := util.NewOfferID()
	tempDocx := filepath.Join(h.tempDir, offerID+".docx")

	offerReq := &service.OfferRequest{Fields: req.fields(), Products: req.Products}
	if err := h.offerService.Generate(c.UserContext(), offerReq, tempDocx); err != nil {
		logger.Error("offer composition failed",
			logger.F("offerId", offerID),
			logger.F("error", err.Error()))
		return failGenerate(c, start, constant.GetErrorCode(err), err.Error())
	}

	out, err := h.conversionService.OrganizeOffer(c.UserContext(), tempDocx, offerID, format)
	if err != nil {
		os.Remove(tempDocx)
		logger.Error("offer conversion failed",
			logger.F("offerId", offerID),
			logger.F("format", format),
			logger.F("error", err.Error()))
		return failGenerate(c, start, constant.GetErrorCode(err), err.Error())
	}

	jpgNames := make([]string, 0, len(out.JPGFiles))
	for _, p := range out.JPGFiles {
		jpgNames = append(jpgNames, filepath.Base(p))
	}

	return c.JSON(&GenerateOfferResponse{
		Success:        true,
		OutputFolder:   out.Folder,
		FileName:       filepath.Base(out.MainFile),
		Format:         format,
		FileSizeBytes:  out.FileSize,
		JPGCount:       len(out.JPGFiles),
		JPGFiles:       jpgNames,
		ProcessingTime: time.Since(start).Seconds(),
	})
}

func failGenerate(c *fiber.Ctx, start time.Time, status int, message string) error {
	return c.Status(status).JSON(&GenerateOfferResponse{
		Success:        false,
		Message:        message,
		ProcessingTime: time.Since(start).Seconds(),
	})
}

func (h *OfferHandler) Products(c *fiber.Ctx) error {
	products, err := h.offerService.ListProducts()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(&service.Response{
			Code:    fiber.StatusInternalServerError,
			Message: err.Error(),
		})
	}
	return c.JSON(&service.Response{Data: products})
}

func (h *OfferHandler) List(c *fiber.Ctx) error {
	offers, err := h.offerService.ListOffers()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(&service.Response{
			Code:    fiber.StatusInternalServerError,
			Message: err.Error(),
		})
	}
	return c.JSON(&service.Response{Data: offers})
}

func (h *OfferHandler) Download(c *fiber.Ctx) error {
	folder := c.Params("folder")
	file := c.Params("file")
	path, ok := h.safePath(folder, file)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(&service.Response{
			Code:    fiber.StatusBadRequest,
			Message: "invalid file path",
		})
	}
	if !util.FileExists(path) {
		return c.Status(fiber.StatusNotFound).JSON(&service.Response{
			Code:    fiber.StatusNotFound,
			Message: "file not found",
		})
	}
	return c.Download(path)
}

func (h *OfferHandler) JPGs(c *fiber.Ctx) error {
	folder := c.Params("folder")
	dir, ok := h.safePath(folder, "jpg")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(&service.Response{
			Code:    fiber.StatusBadRequest,
			Message: "invalid folder",
		})
	}
	files, err := util.ListFilesByExt(dir, ".jpg")
	if err != nil {
		if os.IsNotExist(err) {
			return c.Status(fiber.StatusNotFound).JSON(&service.Response{
				Code:    fiber.StatusNotFound,
				Message: "offer not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(&service.Response{
			Code:    fiber.StatusInternalServerError,
			Message: err.Error(),
		})
	}
	return c.JSON(&service.Response{Data: files})
}

// safePath joins path segments under the output root, rejecting traversal.
func (h *OfferHandler) safePath(segments ...string) (string, bool) {
	for _, s := range segments {
		if s == "" || s == "." || s == ".." ||
			strings.ContainsAny(s, `/\`) || strings.Contains(s, "..") {
			return "", false
		}
	}
	return filepath.Join(append([]string{h.outputDir}, segments...)...), true
}
