package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Store struct {
		Backend string // "json" or "sqlite"
		Path    string
	}
	Download struct {
		DataDir  string
		Trackers []string
		NoUpload bool
		// Rate caps in bytes per second, 0 = unlimited.
		MaxDownloadRate int64
		MaxUploadRate   int64
	}
	Upload struct {
		Provider string // "s3" or "onedrive"
		Folder   string
	}
	Storage struct {
		Bucket   string
		Region   string
		Endpoint string
	}
	AWS struct {
		Profile string
	}
	OneDrive struct {
		ClientID     string
		ClientSecret string
		TenantID     string
		TokenPath    string
	}
	Service struct {
		Interval        time.Duration
		MaxRetries      int
		PurgeOnComplete bool
	}
	Server struct {
		Addr string
	}
	Auth struct {
		JWTSecret    string
		PasswordHash string
		TokenTTL     time.Duration
	}
}

// Load reads configuration from environment variables and optional config files.
func Load() (Config, error) {
	loadDotEnv()

	v := viper.New()
	v.SetEnvPrefix("BTBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.backend", "json")
	v.SetDefault("store.path", "data/tasks.json")
	v.SetDefault("download.datadir", "data/downloads")
	v.SetDefault("download.noupload", false)
	v.SetDefault("download.maxdownloadrate", 0)
	v.SetDefault("download.maxuploadrate", 0)
	v.SetDefault("upload.provider", "onedrive")
	v.SetDefault("upload.folder", "BTDownloads")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("aws.profile", "")
	v.SetDefault("onedrive.clientid", "")
	v.SetDefault("onedrive.clientsecret", "")
	v.SetDefault("onedrive.tenantid", "common")
	v.SetDefault("onedrive.tokenpath", "data/onedrive_token.json")
	v.SetDefault("service.interval", "300s")
	v.SetDefault("service.maxretries", 5)
	v.SetDefault("service.purgeoncomplete", false)
	v.SetDefault("server.addr", "")
	v.SetDefault("auth.jwtsecret", "")
	v.SetDefault("auth.passwordhash", "")
	v.SetDefault("auth.tokenttl", "12h")

	v.SetConfigName("config")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional file

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	switch cfg.Store.Backend {
	case "json", "sqlite":
	default:
		return fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
	switch cfg.Upload.Provider {
	case "s3", "onedrive":
	default:
		return fmt.Errorf("unknown upload provider %q", cfg.Upload.Provider)
	}
	if cfg.Service.Interval <= 0 {
		return fmt.Errorf("service interval must be positive")
	}
	if cfg.Download.MaxDownloadRate < 0 || cfg.Download.MaxUploadRate < 0 {
		return fmt.Errorf("download rate caps must not be negative")
	}
	return nil
}

func loadDotEnv() {
	file, err := os.Open(".env")
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		partsIndex := strings.Index(line, "=")
		if partsIndex <= 0 {
			continue
		}

		key := strings.TrimSpace(line[:partsIndex])
		value := strings.TrimSpace(line[partsIndex+1:])
		value = strings.Trim(value, `"'`)
		if key == "" {
			continue
		}

		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, value)
		}
	}
}
