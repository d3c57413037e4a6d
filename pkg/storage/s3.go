// Copyright 2025 AetherEngine
//
// S3 storage backend. Issues real presigned URLs (single PUT and multipart
// parts), exposes object metadata, and supports bounded remote re-hashing.

package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/aether-engine/aether/pkg/config"
)

const headRetries = 3

// S3Backend issues presigned URLs against a real object store
type S3Backend struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	logger  *log.Logger
}

// NewS3Backend builds an S3 backend from configuration. Credentials come
// from the SDK default chain (env, shared config, instance role).
func NewS3Backend(ctx context.Context, cfg *config.Config) (*S3Backend, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.S3EndpointURL)
			o.UsePathStyle = true
		}
	})
	return &S3Backend{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.ArtifactBucket,
		logger:  log.New(log.Writer(), "[Storage] ", log.LstdFlags),
	}, nil
}

func (b *S3Backend) PresignPut(ctx context.Context, key, digest string, expires time.Duration) (*PresignedUpload, error) {
	req, err := b.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(b.bucket),
		Key:      aws.String(key),
		Metadata: map[string]string{"sha256": digest},
	}, s3.WithPresignExpires(clampExpiry(expires)))
	if err != nil {
		return nil, fmt.Errorf("failed to presign put: %w", err)
	}
	headers := make(map[string]string, len(req.SignedHeader))
	for k, v := range req.SignedHeader {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}
	return &PresignedUpload{URL: req.URL, Method: req.Method, Headers: headers, StorageKey: key}, nil
}

func (b *S3Backend) HeadSize(ctx context.Context, key string) (*int64, error) {
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		b.logger.Printf("head object failed for %s: %v", key, err)
		return nil, nil
	}
	return out.ContentLength, nil
}

func (b *S3Backend) HeadMetadata(ctx context.Context, key string) (map[string]string, error) {
	var out *s3.HeadObjectOutput
	var err error
	for attempt := 1; attempt <= headRetries; attempt++ {
		out, err = b.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(key),
		})
		if err == nil {
			return out.Metadata, nil
		}
		if attempt == headRetries {
			break
		}
		b.logger.Printf("head object retry %d for %s: %v", attempt, key, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond << attempt):
		}
	}
	b.logger.Printf("head object failed for %s after %d attempts: %v", key, headRetries, err)
	return nil, nil
}

// RemoteSHA256 downloads and hashes the object when its size is known and
// within maxBytes. Oversize or unknown-size objects are skipped, not errors.
func (b *S3Backend) RemoteSHA256(ctx context.Context, key string, maxBytes int64) (*string, error) {
	size, err := b.HeadSize(ctx, key)
	if err != nil || size == nil {
		return nil, err
	}
	if *size < 0 || *size > maxBytes {
		return nil, nil
	}

	var obj *s3.GetObjectOutput
	for attempt := 1; attempt <= headRetries; attempt++ {
		obj, err = b.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(key),
		})
		if err == nil {
			break
		}
		if attempt == headRetries {
			b.logger.Printf("get object failed for %s after %d attempts: %v", key, headRetries, err)
			return nil, nil
		}
		b.logger.Printf("get object retry %d for %s: %v", attempt, key, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(75 * time.Millisecond << attempt):
		}
	}
	defer obj.Body.Close()

	hasher := sha256.New()
	buf := make([]byte, 8192)
	var total int64
	for {
		n, readErr := obj.Body.Read(buf)
		if n > 0 {
			total += int64(n)
			if total > maxBytes {
				return nil, nil
			}
			hasher.Write(buf[:n])
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("failed to read remote object: %w", readErr)
		}
	}
	if total != *size {
		b.logger.Printf("remote hash size drift for %s: expected %d got %d", key, *size, total)
	}
	digest := hex.EncodeToString(hasher.Sum(nil))
	return &digest, nil
}

func (b *S3Backend) InitMultipart(ctx context.Context, key string) (string, error) {
	out, err := b.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("failed to init multipart upload: %w", err)
	}
	return aws.ToString(out.UploadId), nil
}

func (b *S3Backend) PresignPart(ctx context.Context, key, uploadID string, partNumber int32, expires time.Duration) (*PresignedUpload, error) {
	req, err := b.presign.PresignUploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(b.bucket),
		Key:        aws.String(key),
		UploadId:   aws.String(uploadID),
		PartNumber: aws.Int32(partNumber),
	}, s3.WithPresignExpires(clampExpiry(expires)))
	if err != nil {
		return nil, fmt.Errorf("failed to presign part %d: %w", partNumber, err)
	}
	headers := make(map[string]string, len(req.SignedHeader))
	for k, v := range req.SignedHeader {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}
	return &PresignedUpload{URL: req.URL, Method: req.Method, Headers: headers, StorageKey: key}, nil
}

func (b *S3Backend) CompleteMultipart(ctx context.Context, key, uploadID string, parts []Part) error {
	completed := make([]s3types.CompletedPart, 0, len(parts))
	for _, p := range parts {
		completed = append(completed, s3types.CompletedPart{
			PartNumber: aws.Int32(p.Number),
			ETag:       aws.String(p.ETag),
		})
	}
	_, err := b.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(b.bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &s3types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return fmt.Errorf("failed to complete multipart upload: %w", err)
	}
	return nil
}
