package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"btbridge/internal/domain"
)

// S3Uploader uploads task data to Amazon S3 (or compatible APIs). The SDK
// credential chain supplies the credential, so there is no interactive
// flow; EnsureAuthenticated probes the bucket instead.
type S3Uploader struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	progress ProgressFunc
}

func NewS3Uploader(client *s3.Client, bucket string, progress ProgressFunc) *S3Uploader {
	return &S3Uploader{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		progress: progress,
	}
}

func (s *S3Uploader) InteractiveAuth() bool { return false }

func (s *S3Uploader) EnsureAuthenticated(ctx context.Context) error {
	if s.bucket == "" {
		return fmt.Errorf("%w: storage bucket is not configured", domain.ErrAuthRequired)
	}
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return fmt.Errorf("%w: head bucket %s: %v", domain.ErrAuthRequired, s.bucket, err)
	}
	return nil
}

// Authenticate has no interactive leg for S3; it only verifies the
// credential chain resolves.
func (s *S3Uploader) Authenticate(ctx context.Context) error {
	return s.EnsureAuthenticated(ctx)
}

func (s *S3Uploader) Upload(ctx context.Context, localPath, remoteFolder string) (string, error) {
	files, totalSize, err := collectFiles(localPath)
	if err != nil {
		return "", fmt.Errorf("%w: scan local path: %v", domain.ErrFatal, err)
	}

	progress := newProgressReporter(totalSize, s.progress)
	keyPrefix := strings.Trim(remoteFolder, "/")

	for _, file := range files {
		key := path.Join(keyPrefix, file.rel)

		f, err := os.Open(file.path)
		if err != nil {
			return "", fmt.Errorf("%w: open file %s: %v", domain.ErrFatal, file.path, err)
		}
		var reader io.Reader = f
		if progress != nil {
			reader = io.TeeReader(f, progress)
		}
		_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
			Body:   reader,
			ACL:    types.ObjectCannedACLPrivate,
		})
		closeErr := f.Close()
		if err != nil {
			return "", fmt.Errorf("%w: upload %s: %v", domain.ErrTransient, file.rel, err)
		}
		if closeErr != nil {
			return "", fmt.Errorf("close file %s: %w", file.path, closeErr)
		}
	}

	progress.flush()
	return fmt.Sprintf("s3://%s/%s", s.bucket, keyPrefix), nil
}

var _ Uploader = (*S3Uploader)(nil)
