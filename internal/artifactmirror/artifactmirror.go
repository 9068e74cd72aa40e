// Package artifactmirror implements the optional, best-effort object-storage
// mirror of completed job artifacts. An earlier encrypted,
// password-protected download flow for an unrelated file-delivery product
// doesn't apply here: nothing in this domain needs decryption, only a
// plain one-way upload of a finished artifact, so this package keeps only
// the aws-sdk-go-v2 + s3 manager dependency and drops the AES-GCM/PBKDF2
// machinery entirely.
package artifactmirror

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/rs/zerolog"
)

// Mirror uploads finished artifacts to a configured S3-compatible bucket.
// A nil *Mirror (or one built for an empty bucket) is always a no-op, so
// callers can construct one unconditionally and just call Upload.
type Mirror struct {
	bucket   string
	uploader *manager.Uploader
}

// New builds a Mirror for bucket. If bucket is empty, Upload becomes a
// no-op and no AWS client is constructed.
func New(ctx context.Context, bucket string) (*Mirror, error) {
	if bucket == "" {
		return &Mirror{}, nil
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("artifactmirror: load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &Mirror{bucket: bucket, uploader: manager.NewUploader(client)}, nil
}

// Enabled reports whether a bucket is configured.
func (m *Mirror) Enabled() bool { return m != nil && m.bucket != "" }

// Upload copies localPath to <jobID>/<key> in the mirror bucket. Failures
// are never fatal to the caller: they are logged and returned so the
// controller can record them in job metadata, but the job's terminal
// status never depends on this succeeding.
func (m *Mirror) Upload(ctx context.Context, log *zerolog.Logger, jobID, key, localPath string) error {
	if !m.Enabled() {
		return nil
	}
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("artifactmirror: open %s: %w", localPath, err)
	}
	defer f.Close()

	objectKey := fmt.Sprintf("%s/%s", jobID, key)
	_, err = m.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(objectKey),
		Body:   f,
	})
	if err != nil {
		if log != nil {
			log.Warn().Err(err).Str("job_id", jobID).Str("key", objectKey).Msg("artifact mirror upload failed")
		}
		return fmt.Errorf("artifactmirror: upload %s: %w", objectKey, err)
	}
	return nil
}
