package main

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"

	"btbridge/internal/config"
	"btbridge/internal/storage"
)

func buildUploader(ctx context.Context, cfg config.Config, interactive bool, logger *logrus.Logger) (storage.Uploader, error) {
	progress := newUploadProgressLogger(logger)

	switch cfg.Upload.Provider {
	case "s3":
		if cfg.Storage.Bucket == "" {
			return nil, fmt.Errorf("storage bucket is required")
		}

		loadOpts := []func(*awscfg.LoadOptions) error{
			awscfg.WithRegion(cfg.Storage.Region),
		}
		if cfg.AWS.Profile != "" {
			loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
		}

		awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}

		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.Storage.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
				o.UsePathStyle = true
			}
		})
		logger.Infof("using s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)
		return storage.NewS3Uploader(client, cfg.Storage.Bucket, progress), nil

	case "onedrive":
		return storage.NewOneDriveUploader(storage.OneDriveConfig{
			ClientID:     cfg.OneDrive.ClientID,
			ClientSecret: cfg.OneDrive.ClientSecret,
			TenantID:     cfg.OneDrive.TenantID,
			TokenPath:    cfg.OneDrive.TokenPath,
			Interactive:  interactive,
			Logger:       logger,
			Progress:     progress,
		})

	default:
		return nil, fmt.Errorf("unknown upload provider %q", cfg.Upload.Provider)
	}
}

func newUploadProgressLogger(logger *logrus.Logger) storage.ProgressFunc {
	var lastLog time.Time
	return func(done, total int64) {
		now := time.Now()
		if total == 0 {
			if now.Sub(lastLog) < 500*time.Millisecond && done != 0 {
				return
			}
			lastLog = now
			logger.Infof("upload progress: %s uploaded", formatBytes(done))
			return
		}

		percent := float64(done) / float64(total) * 100
		if now.Sub(lastLog) < 500*time.Millisecond && done != total {
			return
		}
		lastLog = now
		logger.Infof("upload progress: %.1f%% (%s/%s)", percent, formatBytes(done), formatBytes(total))
	}
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%dB", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB",
		float64(b)/float64(div),
		"KMGTPE"[exp],
	)
}
