package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/kbqa/internal/domain"
)

type MockS3API struct {
	mock.Mock
}

func (m *MockS3API) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*s3.ListObjectsV2Output)
	return out, args.Error(1)
}

func (m *MockS3API) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*s3.GetObjectOutput)
	return out, args.Error(1)
}

func object(body string, length *int64) *s3.GetObjectOutput {
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body)), ContentLength: length}
}

func TestS3Client_ListKeysFollowsContinuation(t *testing.T) {
	api := new(MockS3API)
	client := NewS3ClientWithAPI(api, "kb", 0)

	api.On("ListObjectsV2", mock.Anything, mock.MatchedBy(func(in *s3.ListObjectsV2Input) bool {
		return in.ContinuationToken == nil && aws.ToString(in.Prefix) == "docs/"
	})).Return(&s3.ListObjectsV2Output{
		Contents:              []types.Object{{Key: aws.String("docs/a.md")}, {Key: aws.String("docs/b.md")}},
		IsTruncated:           aws.Bool(true),
		NextContinuationToken: aws.String("page-2"),
	}, nil).Once()
	api.On("ListObjectsV2", mock.Anything, mock.MatchedBy(func(in *s3.ListObjectsV2Input) bool {
		return aws.ToString(in.ContinuationToken) == "page-2"
	})).Return(&s3.ListObjectsV2Output{
		Contents: []types.Object{{Key: aws.String("docs/c.txt")}},
	}, nil).Once()

	keys, err := client.ListKeys(context.Background(), "docs/")
	require.NoError(t, err)
	assert.Equal(t, []string{"docs/a.md", "docs/b.md", "docs/c.txt"}, keys)
	api.AssertExpectations(t)
}

func TestS3Client_ListKeysMissingBucket(t *testing.T) {
	api := new(MockS3API)
	api.On("ListObjectsV2", mock.Anything, mock.Anything).Return(nil, &types.NoSuchBucket{})

	_, err := NewS3ClientWithAPI(api, "gone", 0).ListKeys(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrObjectNotFound)
}

func TestS3Client_ReadObject(t *testing.T) {
	api := new(MockS3API)
	client := NewS3ClientWithAPI(api, "kb", 1024)
	api.On("GetObject", mock.Anything, mock.MatchedBy(func(in *s3.GetObjectInput) bool {
		return aws.ToString(in.Bucket) == "kb" && aws.ToString(in.Key) == "docs/a.md"
	})).Return(object("Refunds within 30 days", aws.Int64(22)), nil)

	body, err := client.ReadObject(context.Background(), "docs/a.md")
	require.NoError(t, err)
	assert.Equal(t, "Refunds within 30 days", string(body))
	assert.Equal(t, "s3://kb/docs/a.md", client.URI("docs/a.md"))
}

func TestS3Client_ReadObjectTooLarge(t *testing.T) {
	t.Run("declared length", func(t *testing.T) {
		api := new(MockS3API)
		api.On("GetObject", mock.Anything, mock.Anything).Return(object("01234567890", aws.Int64(11)), nil)

		_, err := NewS3ClientWithAPI(api, "kb", 10).ReadObject(context.Background(), "big.txt")
		assert.ErrorIs(t, err, domain.ErrDocumentTooLarge)
		assert.ErrorContains(t, err, "s3://kb/big.txt")
	})

	t.Run("unknown length", func(t *testing.T) {
		api := new(MockS3API)
		api.On("GetObject", mock.Anything, mock.Anything).Return(object("01234567890", nil), nil)

		_, err := NewS3ClientWithAPI(api, "kb", 10).ReadObject(context.Background(), "big.txt")
		assert.ErrorIs(t, err, domain.ErrDocumentTooLarge)
	})
}

func TestS3Client_ReadObjectErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		notFound bool
	}{
		{"no such key", &types.NoSuchKey{}, true},
		{"generic not found", &smithy.GenericAPIError{Code: "NotFound"}, true},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, false},
		{"network", errors.New("connection reset"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := new(MockS3API)
			api.On("GetObject", mock.Anything, mock.Anything).Return(nil, tt.err)

			_, err := NewS3ClientWithAPI(api, "kb", 0).ReadObject(context.Background(), "missing.txt")
			require.Error(t, err)
			assert.Equal(t, tt.notFound, errors.Is(err, domain.ErrObjectNotFound))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestNewS3Client_RequiresBucket(t *testing.T) {
	_, err := NewS3Client(context.Background(), S3ClientConfig{Region: "us-east-1"})
	assert.ErrorContains(t, err, "bucket")
}
