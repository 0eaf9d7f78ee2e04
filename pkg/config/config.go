package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

var (
	config *viper.Viper
	once   sync.Once
)

// Init loads the configuration file and installs defaults.
func Init(configFiles ...string) error {
	var err error
	once.Do(func() {
		config = viper.New()
		configFile := "config.yaml"
		if len(configFiles) > 0 {
			configFile = configFiles[0]
		}
		config.SetConfigFile(configFile)

		setDefaults()

		if err = config.ReadInConfig(); err != nil {
			err = fmt.Errorf("read config file failed: %v", err)
			return
		}

		config.WatchConfig()
	})
	return err
}

func setDefaults() {
	config.SetDefault("server.port", 8001)
	config.SetDefault("server.app_name", "oferta-generator")
	config.SetDefault("server.node_id", 1)

	config.SetDefault("database.type", "sqlite")
	config.SetDefault("database.file", "data/loadtest.db")
	config.SetDefault("database.host", "localhost")
	config.SetDefault("database.port", 5432)
	config.SetDefault("database.user", "postgres")
	config.SetDefault("database.password", "postgres")
	config.SetDefault("database.dbname", "oferta_tools")
	config.SetDefault("database.max_idle_conns", 10)
	config.SetDefault("database.max_open_conns", 100)
	config.SetDefault("database.conn_max_lifetime", 3600)

	config.SetDefault("log.filename", "logs/app.log")
	config.SetDefault("log.max_size", 100)
	config.SetDefault("log.max_backups", 3)
	config.SetDefault("log.max_age", 28)
	config.SetDefault("log.compress", true)

	config.SetDefault("security.allowed_origins", "*")

	config.SetDefault("rate_limit.enabled", true)
	config.SetDefault("rate_limit.max_requests", 120)
	config.SetDefault("rate_limit.duration", 60)

	// Offer composition
	config.SetDefault("offer.templates_dir", "templates/wolftax-oferta")
	config.SetDefault("offer.template_files", []map[string]interface{}{
		{"file": "doc1.docx", "order": 1, "name": "strona tytulowa"},
		{"file": "doc2.docx", "order": 2, "name": "spis tresci", "is_toc": true},
		{"file": "doc3.docx", "order": 3, "name": "zakres uslug"},
		{"file": "doc4.docx", "order": 4, "name": "wycena"},
		{"file": "doc5.docx", "order": 5, "name": "warunki wspolpracy"},
		{"file": "doc6.docx", "order": 6, "name": "kontakt"},
	})
	config.SetDefault("offer.products_dir", "produkty")
	config.SetDefault("offer.output_dir", "output")
	config.SetDefault("offer.temp_dir", "temp")
	config.SetDefault("offer.injection_after_file", "doc3.docx")
	config.SetDefault("offer.injection_marker", "Opis:")
	// -1 disables the ordinal fallback so a missing anchor fails loudly.
	config.SetDefault("offer.fallback_injection_index", -1)
	config.SetDefault("offer.jpg_dpi", 100)
	config.SetDefault("offer.placeholder_left", "{{")
	config.SetDefault("offer.placeholder_right", "}}")

	// External converters
	config.SetDefault("converter.soffice_path", "libreoffice")
	config.SetDefault("converter.pdftoppm_path", "pdftoppm")
	config.SetDefault("converter.timeout", 120)

	// Load tester
	config.SetDefault("loadtest.timeout", 30)
	config.SetDefault("loadtest.max_workers", 50)
	config.SetDefault("loadtest.monitor_interval", 1)
}

// Get returns a raw configuration value.
func Get(key string) interface{} {
	return config.Get(key)
}

func GetString(key string) string {
	return config.GetString(key)
}

func GetInt(key string) int {
	return config.GetInt(key)
}

func GetInt64(key string) int64 {
	return config.GetInt64(key)
}

func GetUint64(key string) uint64 {
	return config.GetUint64(key)
}

func GetFloat64(key string) float64 {
	return config.GetFloat64(key)
}

func GetBool(key string) bool {
	return config.GetBool(key)
}

func GetStringSlice(key string) []string {
	return config.GetStringSlice(key)
}

func GetStringMapString(key string) map[string]string {
	return config.GetStringMapString(key)
}

func Set(key string, value interface{}) {
	config.Set(key, value)
}

func IsSet(key string) bool {
	return config.IsSet(key)
}

// UnmarshalKey decodes one configuration section into a struct.
func UnmarshalKey(key string, out interface{}) error {
	return config.UnmarshalKey(key, out)
}

func AllSettings() map[string]interface{} {
	return config.AllSettings()
}

// GetDSN builds the connection string for the configured database driver.
func GetDSN() string {
	dbType := GetString("database.type")
	switch strings.ToLower(dbType) {
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			GetString("database.host"),
			GetInt("database.port"),
			GetString("database.user"),
			GetString("database.password"),
			GetString("database.dbname"),
		)
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			GetString("database.user"),
			GetString("database.password"),
			GetString("database.host"),
			GetInt("database.port"),
			GetString("database.dbname"),
		)
	case "sqlite":
		return GetString("database.file")
	default:
		return ""
	}
}

// GetServerAddress returns the listen address.
func GetServerAddress() string {
	return fmt.Sprintf(":%d", GetInt("server.port"))
}
