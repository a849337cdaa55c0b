package logstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/florinutz/deltashare/internal/s3client"
	"github.com/florinutz/deltashare/sharingerr"
)

// S3API is the subset of the S3 client used by the store.
type S3API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3 reads logs from S3-compatible object storage. Locations are
// s3://bucket/prefix URLs.
type S3 struct {
	client S3API
	logger *slog.Logger
}

// NewS3 creates an S3 log store over an existing client.
func NewS3(client S3API, logger *slog.Logger) *S3 {
	if logger == nil {
		logger = slog.Default()
	}
	return &S3{client: client, logger: logger.With("component", "logstore_s3")}
}

func (s *S3) List(ctx context.Context, location string, from int64) (Listing, error) {
	bucket, root, err := s3client.ParseLocation(location)
	if err != nil {
		return Listing{}, err
	}
	prefix := s3client.JoinKey(root, LogDir) + "/"

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	}
	if from > 0 {
		// Keys sort lexically and versions are zero-padded, so everything
		// below from can be skipped server-side.
		input.StartAfter = aws.String(prefix + fmt.Sprintf("%020d", from-1) + "~")
	}

	var entries []entry
	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return Listing{}, fmt.Errorf("list s3://%s/%s: %w", bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			e := entry{name: path.Base(aws.ToString(obj.Key)), size: aws.ToInt64(obj.Size)}
			if obj.LastModified != nil {
				e.modTime = obj.LastModified.UnixMilli()
			}
			entries = append(entries, e)
		}
	}
	if len(entries) == 0 && from == 0 {
		return Listing{}, &sharingerr.NotFoundError{Kind: "table log", Name: location}
	}
	s.logger.Debug("listed log", "location", location, "from", from, "objects", len(entries))
	return buildListing(entries, from), nil
}

func (s *S3) Open(ctx context.Context, location, name string) (Segment, error) {
	bucket, root, err := s3client.ParseLocation(location)
	if err != nil {
		return nil, err
	}
	key := s3client.JoinKey(root, LogDir, path.Base(name))
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, &sharingerr.NotFoundError{Kind: "log segment", Name: "s3://" + bucket + "/" + key}
		}
		return nil, fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3://%s/%s: %w", bucket, key, err)
	}
	return bytesSegment{bytes.NewReader(data)}, nil
}
