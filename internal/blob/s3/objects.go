package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/NFTCall-xyz/nftcall-core/internal/domain"
)

// minPartSize is the smallest part S3 accepts in a multipart upload.
const minPartSize int64 = manager.MinUploadPartSize

// Objects reads and writes objects in the client's bucket. It implements
// domain.BlobWriter and domain.BlobReader.
type Objects struct {
	api    *s3.Client
	bucket string
}

func NewObjects(c *Client) *Objects {
	return &Objects{api: c.s3, bucket: c.bucket}
}

func (o *Objects) key(path string) (*string, *string) {
	return aws.String(o.bucket), aws.String(path)
}

// Put stores data with a single PutObject call.
func (o *Objects) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	bucket, key := o.key(path)
	in := &s3.PutObjectInput{Bucket: bucket, Key: key, Body: data}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := o.api.PutObject(ctx, in); err != nil {
		return fmt.Errorf("s3blob: put %s: %w", path, err)
	}
	return nil
}

// PutMultipart streams data through the upload manager. partSize is raised
// to the S3 minimum when smaller.
func (o *Objects) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	up := manager.NewUploader(o.api, func(u *manager.Uploader) {
		u.PartSize = max(partSize, minPartSize)
	})
	bucket, key := o.key(path)
	if _, err := up.Upload(ctx, &s3.PutObjectInput{Bucket: bucket, Key: key, Body: data}); err != nil {
		return fmt.Errorf("s3blob: multipart put %s: %w", path, err)
	}
	return nil
}

// Get opens the object at path; the caller closes the body. A missing
// object yields domain.ErrNotFound.
func (o *Objects) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	bucket, key := o.key(path)
	out, err := o.api.GetObject(ctx, &s3.GetObjectInput{Bucket: bucket, Key: key})
	switch {
	case missing(err):
		return nil, fmt.Errorf("s3blob: get %s: %w", path, domain.ErrNotFound)
	case err != nil:
		return nil, fmt.Errorf("s3blob: get %s: %w", path, err)
	}
	return out.Body, nil
}

// List walks every page under prefix and returns the objects sorted by key.
func (o *Objects) List(ctx context.Context, prefix string) ([]domain.BlobInfo, error) {
	pages := s3.NewListObjectsV2Paginator(o.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(o.bucket),
		Prefix: aws.String(prefix),
	})
	var infos []domain.BlobInfo
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3blob: list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			infos = append(infos, domain.BlobInfo{
				Path:         aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}
	slices.SortFunc(infos, func(a, b domain.BlobInfo) int { return strings.Compare(a.Path, b.Path) })
	return infos, nil
}

// Exists reports whether an object is stored at path.
func (o *Objects) Exists(ctx context.Context, path string) (bool, error) {
	bucket, key := o.key(path)
	_, err := o.api.HeadObject(ctx, &s3.HeadObjectInput{Bucket: bucket, Key: key})
	switch {
	case err == nil:
		return true, nil
	case missing(err):
		return false, nil
	default:
		return false, fmt.Errorf("s3blob: head %s: %w", path, err)
	}
}

// missing reports a not-found answer. HEAD responses have no body, so
// some providers only send the bare "NotFound" code.
func missing(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "NoSuchKey", "NotFound":
		return true
	}
	return false
}

var (
	_ domain.BlobWriter = (*Objects)(nil)
	_ domain.BlobReader = (*Objects)(nil)
)
