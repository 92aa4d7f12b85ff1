// Package storage wraps the remote object storage backend (any
// S3-compatible service) behind the small set of operations the upload and
// lifecycle services need: presigned capabilities, multipart sessions and
// chunked batch deletion.
//
// The client is stateless per call and is constructed once at process start,
// then injected into the services that need it.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/andrejsk/dropvault/internal/server/models"
)

// maxDeleteBatch is the backend's per-call cap on batched deletions.
// DeleteBatch chunks larger inputs accordingly.
const maxDeleteBatch = 1000

// S3API is the subset of the AWS S3 client used by this package.
// It allows mocking in tests.
type S3API interface {
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
	ListMultipartUploads(ctx context.Context, params *s3.ListMultipartUploadsInput, optFns ...func(*s3.Options)) (*s3.ListMultipartUploadsOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// PresignAPI is the subset of the AWS S3 presign client used by this
// package.
type PresignAPI interface {
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignUploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Config holds the settings needed to reach the S3-compatible backend.
type Config struct {
	Bucket        string
	Region        string
	BaseEndpoint  string
	RootUser      string
	RootPassword  string
	PresignExpiry time.Duration
}

// Client issues time-limited, capability-scoped operations against the
// remote object storage service.
type Client struct {
	bucket        string
	presignExpiry time.Duration
	api           S3API
	presigner     PresignAPI
}

// NewClient builds an S3 client from the given settings (static credentials
// plus a base endpoint, as used with MinIO and other S3-compatible
// backends) and wraps it in a Client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.RootUser,
			cfg.RootPassword,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.BaseEndpoint)
		o.UsePathStyle = true
	})

	return NewClientWithAPI(cfg, api, s3.NewPresignClient(api)), nil
}

// NewClientWithAPI wraps pre-built API implementations. Used in tests.
func NewClientWithAPI(cfg Config, api S3API, presigner PresignAPI) *Client {
	expiry := cfg.PresignExpiry
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	return &Client{
		bucket:        cfg.Bucket,
		presignExpiry: expiry,
		api:           api,
		presigner:     presigner,
	}
}

// expiryOrDefault resolves a per-call capability lifetime, falling back to
// the configured default.
func (c *Client) expiryOrDefault(expires time.Duration) time.Duration {
	if expires > 0 {
		return expires
	}
	return c.presignExpiry
}

// PresignPut returns a presigned PUT URL authorizing a single-shot write to
// key. expires <= 0 selects the configured default lifetime.
func (c *Client) PresignPut(ctx context.Context, key string, expires time.Duration) (string, error) {
	req, err := c.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(c.expiryOrDefault(expires)))
	if err != nil {
		return "", fmt.Errorf("presigning put for %q: %w", key, err)
	}
	return req.URL, nil
}

// PresignGet returns a presigned GET URL authorizing a read of key.
func (c *Client) PresignGet(ctx context.Context, key string, expires time.Duration) (string, error) {
	req, err := c.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(c.expiryOrDefault(expires)))
	if err != nil {
		return "", fmt.Errorf("presigning get for %q: %w", key, err)
	}
	return req.URL, nil
}

// CreateMultipart opens a multipart session for key and returns the backend
// session identifier.
func (c *Client) CreateMultipart(ctx context.Context, key, mimeType string) (string, error) {
	in := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}
	if mimeType != "" {
		in.ContentType = aws.String(mimeType)
	}
	out, err := c.api.CreateMultipartUpload(ctx, in)
	if err != nil {
		return "", fmt.Errorf("creating multipart upload for %q: %w", key, err)
	}
	return aws.ToString(out.UploadId), nil
}

// PresignPart returns a presigned URL authorizing the upload of one part of
// the given multipart session.
func (c *Client) PresignPart(ctx context.Context, key, sessionID string, partNumber int32, expires time.Duration) (string, error) {
	req, err := c.presigner.PresignUploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(c.bucket),
		Key:        aws.String(key),
		UploadId:   aws.String(sessionID),
		PartNumber: aws.Int32(partNumber),
	}, s3.WithPresignExpires(c.expiryOrDefault(expires)))
	if err != nil {
		return "", fmt.Errorf("presigning part %d for %q: %w", partNumber, key, err)
	}
	return req.URL, nil
}

// CompleteMultipart asks the backend to assemble the session's parts into
// the final object. The backend requires a strictly ordered part list, so
// parts are sorted by part number before submission.
func (c *Client) CompleteMultipart(ctx context.Context, key, sessionID string, parts []models.UploadedPart) error {
	completed := make([]types.CompletedPart, 0, len(parts))
	for _, p := range parts {
		completed = append(completed, types.CompletedPart{
			PartNumber: aws.Int32(p.PartNumber),
			ETag:       aws.String(p.ETag),
		})
	}
	sort.Slice(completed, func(i, j int) bool {
		return aws.ToInt32(completed[i].PartNumber) < aws.ToInt32(completed[j].PartNumber)
	})

	_, err := c.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(c.bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(sessionID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return fmt.Errorf("completing multipart upload for %q: %w", key, err)
	}
	return nil
}

// AbortMultipart cancels a multipart session, releasing the backend storage
// its parts occupy. Aborting a session that no longer exists is not an
// error, so aborts are safe to repeat.
func (c *Client) AbortMultipart(ctx context.Context, key, sessionID string) error {
	_, err := c.api.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(c.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(sessionID),
	})
	if err != nil {
		if IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("aborting multipart upload for %q: %w", key, err)
	}
	return nil
}

// StaleUpload identifies an unfinished multipart session.
type StaleUpload struct {
	Key       string
	SessionID string
	Initiated time.Time
}

// ListStaleUploads returns unfinished multipart sessions initiated before
// the given cutoff.
func (c *Client) ListStaleUploads(ctx context.Context, olderThan time.Time) ([]StaleUpload, error) {
	var stale []StaleUpload

	in := &s3.ListMultipartUploadsInput{Bucket: aws.String(c.bucket)}
	for {
		out, err := c.api.ListMultipartUploads(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("listing multipart uploads: %w", err)
		}

		for _, u := range out.Uploads {
			if u.Initiated != nil && u.Initiated.Before(olderThan) {
				stale = append(stale, StaleUpload{
					Key:       aws.ToString(u.Key),
					SessionID: aws.ToString(u.UploadId),
					Initiated: *u.Initiated,
				})
			}
		}

		if !aws.ToBool(out.IsTruncated) {
			break
		}
		in.KeyMarker = out.NextKeyMarker
		in.UploadIdMarker = out.NextUploadIdMarker
	}

	return stale, nil
}

// DeleteBatch removes the given keys from the backend, chunking the request
// to the backend's per-call cap. It returns the keys the backend reported
// as failed; a key that never existed counts as deleted (idempotence).
func (c *Client) DeleteBatch(ctx context.Context, keys []string) ([]string, error) {
	var failed []string

	for start := 0; start < len(keys); start += maxDeleteBatch {
		end := start + maxDeleteBatch
		if end > len(keys) {
			end = len(keys)
		}
		chunk := keys[start:end]

		objects := make([]types.ObjectIdentifier, 0, len(chunk))
		for _, k := range chunk {
			objects = append(objects, types.ObjectIdentifier{Key: aws.String(k)})
		}

		out, err := c.api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(c.bucket),
			Delete: &types.Delete{
				Objects: objects,
				Quiet:   aws.Bool(true),
			},
		})
		if err != nil {
			// The whole chunk is unconfirmed.
			failed = append(failed, chunk...)
			continue
		}

		for _, e := range out.Errors {
			// An absent key is already in the desired state.
			if isNotFoundCode(aws.ToString(e.Code)) {
				continue
			}
			failed = append(failed, aws.ToString(e.Key))
		}
	}

	if len(failed) > 0 {
		return failed, fmt.Errorf("batch delete: %d of %d keys failed", len(failed), len(keys))
	}
	return nil, nil
}

// IsNotFound reports whether err represents a missing key, session or
// bucket on the backend. Such errors are permanent and, for deletion paths,
// success-equivalent.
func IsNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if isNotFoundCode(apiErr.ErrorCode()) {
			return true
		}
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var noSuchUpload *types.NoSuchUpload
	if errors.As(err, &noSuchUpload) {
		return true
	}
	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == 404 {
		return true
	}
	return false
}

func isNotFoundCode(code string) bool {
	switch code {
	case "NoSuchKey", "NoSuchUpload", "NoSuchBucket", "NotFound", "404":
		return true
	}
	return false
}
