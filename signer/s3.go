package signer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/florinutz/deltashare/internal/s3client"
	"github.com/florinutz/deltashare/sharingerr"
)

// MaxS3Expiry is the longest lifetime SigV4 accepts for a presigned URL.
const MaxS3Expiry = 7 * 24 * time.Hour

// Presigner is the subset of the S3 presign client used by S3.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3 mints presigned GET URLs for s3:// locations.
type S3 struct {
	presigner Presigner
	now       func() time.Time
	logger    *slog.Logger
}

// NewS3 wraps a presign client, typically s3.NewPresignClient(client).
func NewS3(p Presigner, logger *slog.Logger) *S3 {
	if logger == nil {
		logger = slog.Default()
	}
	return &S3{presigner: p, now: time.Now, logger: logger.With("component", "signer_s3")}
}

func (s *S3) Sign(ctx context.Context, location string, expiry time.Duration) (Grant, error) {
	bucket, key, err := s3client.ParseLocation(location)
	if err != nil {
		return Grant{}, err
	}
	if key == "" {
		return Grant{}, fmt.Errorf("location %q: missing object key", location)
	}
	expiry = min(expiry, MaxS3Expiry)
	issued := s.now()
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Grant{}, err
		}
		s.logger.Warn("presign failed", "bucket", bucket, "key", key, "error", err)
		return Grant{}, fmt.Errorf("%w: presign s3://%s/%s: %v", sharingerr.ErrSignerUnavailable, bucket, key, err)
	}
	return Grant{URL: req.URL, ExpiresAt: issued.Add(expiry)}, nil
}
