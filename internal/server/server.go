package server

import (
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/wolftax/oferta_tools/internal/api_loadtest"
	"github.com/wolftax/oferta_tools/internal/api_offer"
	"github.com/wolftax/oferta_tools/internal/middleware"
	"github.com/wolftax/oferta_tools/internal/service"
	"github.com/wolftax/oferta_tools/pkg/config"
	"github.com/wolftax/oferta_tools/pkg/database"
	"github.com/wolftax/oferta_tools/pkg/logger"
	"github.com/wolftax/oferta_tools/pkg/util"
)

// Start wires the services, registers the routes and serves until a shutdown
// signal arrives.
func Start() error {
	templatesDir := config.GetString("offer.templates_dir")
	productsDir := config.GetString("offer.products_dir")
	outputDir := config.GetString("offer.output_dir")
	tempDir := config.GetString("offer.temp_dir")
	for _, dir := range []string{outputDir, tempDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	offerSrv, err := buildOfferService(templatesDir, productsDir, outputDir)
	if err != nil {
		return err
	}
	convSrv := service.NewConversionService(service.ConversionConfig{
		SofficePath:  config.GetString("converter.soffice_path"),
		PdftoppmPath: config.GetString("converter.pdftoppm_path"),
		OutputDir:    outputDir,
		TempDir:      tempDir,
		Timeout:      time.Duration(config.GetInt("converter.timeout")) * time.Second,
		JPGDPIs:      config.GetInt("offer.jpg_dpi"),
	}, nil, nil)
	loadTestSrv := service.NewLoadTestService(
		database.GetDB(),
		service.NewMonitorService(),
		time.Duration(config.GetInt("loadtest.monitor_interval"))*time.Second,
		config.GetInt("loadtest.max_workers"),
	)

	api_offer.RegisterOfferHandler(offerSrv, convSrv, tempDir, outputDir)
	api_loadtest.RegisterLoadTestHandler(loadTestSrv)

	app := fiber.New(fiber.Config{
		AppName:   config.GetString("server.app_name"),
		BodyLimit: 10 * 1024 * 1024,
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: config.GetString("security.allowed_origins"),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))
	app.Use(fiberlogger.New())

	app.Get("/health", healthHandler(templatesDir, productsDir))

	v1 := app.Group("/api/v1")
	v1.Use(middleware.RateLimit())
	api_offer.RegisterRoutes(v1)
	api_loadtest.RegisterRoutes(v1)

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(config.GetServerAddress())
	}()
	logger.Info("server started", logger.F("address", config.GetServerAddress()))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutdown signal received", logger.F("signal", sig.String()))
	}

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Error("server shutdown failed", logger.F("error", err.Error()))
	}
	return nil
}

func buildOfferService(templatesDir, productsDir, outputDir string) (service.OfferService, error) {
	var fragments []service.TemplateFragment
	if err := config.UnmarshalKey("offer.template_files", &fragments); err != nil {
		return nil, fmt.Errorf("%w: offer.template_files: %v", config.ErrInvalidConfig, err)
	}

	marker := config.GetString("offer.injection_marker")
	markerRe, err := regexp.Compile(regexp.QuoteMeta(marker) + `\s+`)
	if err != nil {
		return nil, fmt.Errorf("%w: offer.injection_marker: %v", config.ErrInvalidConfig, err)
	}

	return service.NewOfferService(service.OfferConfig{
		TemplatesDir:           templatesDir,
		ProductsDir:            productsDir,
		OutputDir:              outputDir,
		Fragments:              fragments,
		InjectionAfterFile:     config.GetString("offer.injection_after_file"),
		InjectionMarker:        markerRe,
		FallbackInjectionIndex: config.GetInt("offer.fallback_injection_index"),
		PlaceholderLeft:        config.GetString("offer.placeholder_left"),
		PlaceholderRight:       config.GetString("offer.placeholder_right"),
	})
}

func healthHandler(templatesDir, productsDir string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		checks := fiber.Map{
			"templates": dirExists(templatesDir),
			"products":  dirExists(productsDir),
			"database":  databaseAlive(),
		}
		status := "ok"
		for _, ok := range checks {
			if ok != true {
				status = "degraded"
			}
		}
		return c.JSON(fiber.Map{
			"status":        status,
			"checks":        checks,
			"productsCount": productCount(productsDir),
			"time":          time.Now().Format(time.RFC3339),
		})
	}
}

func productCount(dir string) int {
	files, err := util.ListFilesByExt(dir, ".docx")
	if err != nil {
		return 0
	}
	return len(files)
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func databaseAlive() bool {
	db := database.GetDB()
	if db == nil {
		return false
	}
	sqlDB, err := db.DB()
	if err != nil {
		return false
	}
	return sqlDB.Ping() == nil
}
