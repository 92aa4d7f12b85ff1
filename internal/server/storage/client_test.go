package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrejsk/dropvault/internal/server/models"
)

type fakeS3 struct {
	createOut *s3.CreateMultipartUploadOutput
	createErr error

	completeErr   error
	completeInput *s3.CompleteMultipartUploadInput

	abortErr   error
	abortCalls int

	listPages []*s3.ListMultipartUploadsOutput
	listErr   error
	listCalls []*s3.ListMultipartUploadsInput

	deleteInputs []*s3.DeleteObjectsInput
	deleteOuts   []*s3.DeleteObjectsOutput
	deleteErrs   []error
}

func (f *fakeS3) CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	if f.createOut != nil {
		return f.createOut, nil
	}
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String("upload-1")}, nil
}

func (f *fakeS3) CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	f.completeInput = params
	if f.completeErr != nil {
		return nil, f.completeErr
	}
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (f *fakeS3) AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	f.abortCalls++
	if f.abortErr != nil {
		return nil, f.abortErr
	}
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (f *fakeS3) ListMultipartUploads(ctx context.Context, params *s3.ListMultipartUploadsInput, optFns ...func(*s3.Options)) (*s3.ListMultipartUploadsOutput, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	cp := *params
	f.listCalls = append(f.listCalls, &cp)
	page := f.listPages[0]
	f.listPages = f.listPages[1:]
	return page, nil
}

func (f *fakeS3) DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.deleteInputs = append(f.deleteInputs, params)
	i := len(f.deleteInputs) - 1
	if i < len(f.deleteErrs) && f.deleteErrs[i] != nil {
		return nil, f.deleteErrs[i]
	}
	if i < len(f.deleteOuts) && f.deleteOuts[i] != nil {
		return f.deleteOuts[i], nil
	}
	return &s3.DeleteObjectsOutput{}, nil
}

// fakePresigner records the presign expiry each call was made with.
type fakePresigner struct {
	expiries []time.Duration
	err      error
}

func (f *fakePresigner) record(optFns []func(*s3.PresignOptions)) {
	var opts s3.PresignOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	f.expiries = append(f.expiries, opts.Expires)
}

func (f *fakePresigner) PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	f.record(optFns)
	if f.err != nil {
		return nil, f.err
	}
	return &v4.PresignedHTTPRequest{URL: "https://signed.example/put/" + aws.ToString(params.Key)}, nil
}

func (f *fakePresigner) PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	f.record(optFns)
	if f.err != nil {
		return nil, f.err
	}
	return &v4.PresignedHTTPRequest{URL: "https://signed.example/get/" + aws.ToString(params.Key)}, nil
}

func (f *fakePresigner) PresignUploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	f.record(optFns)
	if f.err != nil {
		return nil, f.err
	}
	return &v4.PresignedHTTPRequest{
		URL: fmt.Sprintf("https://signed.example/part/%s/%d", aws.ToString(params.Key), aws.ToInt32(params.PartNumber)),
	}, nil
}

func newTestClient(api *fakeS3, presigner *fakePresigner) *Client {
	return NewClientWithAPI(Config{Bucket: "test-bucket", PresignExpiry: 15 * time.Minute}, api, presigner)
}

func TestPresignExpiryDefaulting(t *testing.T) {
	presigner := &fakePresigner{}
	c := newTestClient(&fakeS3{}, presigner)

	_, err := c.PresignPut(context.Background(), "k", 0)
	require.NoError(t, err)
	_, err = c.PresignGet(context.Background(), "k", time.Minute)
	require.NoError(t, err)
	_, err = c.PresignPart(context.Background(), "k", "upload-1", 1, -time.Second)
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{15 * time.Minute, time.Minute, 15 * time.Minute}, presigner.expiries)
}

func TestCompleteMultipartSortsParts(t *testing.T) {
	api := &fakeS3{}
	c := newTestClient(api, &fakePresigner{})

	parts := []models.UploadedPart{
		{PartNumber: 2, ETag: "e2"},
		{PartNumber: 3, ETag: "e3"},
		{PartNumber: 1, ETag: "e1"},
	}
	err := c.CompleteMultipart(context.Background(), "k", "upload-1", parts)
	require.NoError(t, err)

	require.NotNil(t, api.completeInput)
	got := api.completeInput.MultipartUpload.Parts
	require.Len(t, got, 3)
	for i, p := range got {
		assert.Equal(t, int32(i+1), aws.ToInt32(p.PartNumber))
		assert.Equal(t, fmt.Sprintf("e%d", i+1), aws.ToString(p.ETag))
	}
}

func TestAbortMultipartTreatsMissingSessionAsSuccess(t *testing.T) {
	api := &fakeS3{abortErr: &smithy.GenericAPIError{Code: "NoSuchUpload", Message: "session gone"}}
	c := newTestClient(api, &fakePresigner{})

	// Aborting twice must be safe: the second call hits NoSuchUpload.
	require.NoError(t, c.AbortMultipart(context.Background(), "k", "upload-1"))
	require.NoError(t, c.AbortMultipart(context.Background(), "k", "upload-1"))
	assert.Equal(t, 2, api.abortCalls)
}

func TestAbortMultipartPropagatesOtherErrors(t *testing.T) {
	api := &fakeS3{abortErr: &smithy.GenericAPIError{Code: "AccessDenied"}}
	c := newTestClient(api, &fakePresigner{})

	err := c.AbortMultipart(context.Background(), "k", "upload-1")
	assert.Error(t, err)
}

func TestDeleteBatchChunksLargeInputs(t *testing.T) {
	api := &fakeS3{}
	c := newTestClient(api, &fakePresigner{})

	keys := make([]string, 1500)
	for i := range keys {
		keys[i] = fmt.Sprintf("users/u1/obj-%04d", i)
	}

	failed, err := c.DeleteBatch(context.Background(), keys)
	require.NoError(t, err)
	assert.Empty(t, failed)

	require.Len(t, api.deleteInputs, 2)
	assert.Len(t, api.deleteInputs[0].Delete.Objects, 1000)
	assert.Len(t, api.deleteInputs[1].Delete.Objects, 500)
	assert.True(t, aws.ToBool(api.deleteInputs[0].Delete.Quiet))
}

func TestDeleteBatchReportsPerKeyFailures(t *testing.T) {
	api := &fakeS3{
		deleteOuts: []*s3.DeleteObjectsOutput{{
			Errors: []types.Error{
				{Key: aws.String("k2"), Code: aws.String("InternalError")},
				// A key that never existed is already deleted.
				{Key: aws.String("k3"), Code: aws.String("NoSuchKey")},
			},
		}},
	}
	c := newTestClient(api, &fakePresigner{})

	failed, err := c.DeleteBatch(context.Background(), []string{"k1", "k2", "k3"})
	require.Error(t, err)
	assert.Equal(t, []string{"k2"}, failed)
}

func TestDeleteBatchCallErrorFailsWholeChunk(t *testing.T) {
	api := &fakeS3{deleteErrs: []error{errors.New("connection reset")}}
	c := newTestClient(api, &fakePresigner{})

	failed, err := c.DeleteBatch(context.Background(), []string{"k1", "k2"})
	require.Error(t, err)
	assert.Equal(t, []string{"k1", "k2"}, failed)
}

func TestListStaleUploadsPaginatesAndFilters(t *testing.T) {
	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	old := cutoff.Add(-2 * time.Hour)
	fresh := cutoff.Add(time.Hour)

	api := &fakeS3{
		listPages: []*s3.ListMultipartUploadsOutput{
			{
				Uploads: []types.MultipartUpload{
					{Key: aws.String("k1"), UploadId: aws.String("s1"), Initiated: &old},
					{Key: aws.String("k2"), UploadId: aws.String("s2"), Initiated: &fresh},
				},
				IsTruncated:        aws.Bool(true),
				NextKeyMarker:      aws.String("k2"),
				NextUploadIdMarker: aws.String("s2"),
			},
			{
				Uploads: []types.MultipartUpload{
					{Key: aws.String("k3"), UploadId: aws.String("s3"), Initiated: &old},
				},
				IsTruncated: aws.Bool(false),
			},
		},
	}
	c := newTestClient(api, &fakePresigner{})

	stale, err := c.ListStaleUploads(context.Background(), cutoff)
	require.NoError(t, err)

	require.Len(t, stale, 2)
	assert.Equal(t, "k1", stale[0].Key)
	assert.Equal(t, "s1", stale[0].SessionID)
	assert.Equal(t, "k3", stale[1].Key)

	require.Len(t, api.listCalls, 2)
	assert.Equal(t, "k2", aws.ToString(api.listCalls[1].KeyMarker))
	assert.Equal(t, "s2", aws.ToString(api.listCalls[1].UploadIdMarker))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(&smithy.GenericAPIError{Code: "NoSuchKey"}))
	assert.True(t, IsNotFound(&smithy.GenericAPIError{Code: "NoSuchUpload"}))
	assert.True(t, IsNotFound(&types.NoSuchKey{}))
	assert.True(t, IsNotFound(fmt.Errorf("wrapped: %w", &types.NoSuchUpload{})))
	assert.False(t, IsNotFound(&smithy.GenericAPIError{Code: "AccessDenied"}))
	assert.False(t, IsNotFound(errors.New("plain")))
	assert.False(t, IsNotFound(nil))
}

func TestCreateMultipartReturnsSessionID(t *testing.T) {
	api := &fakeS3{createOut: &s3.CreateMultipartUploadOutput{UploadId: aws.String("sess-42")}}
	c := newTestClient(api, &fakePresigner{})

	id, err := c.CreateMultipart(context.Background(), "k", "application/zip")
	require.NoError(t, err)
	assert.Equal(t, "sess-42", id)
}
