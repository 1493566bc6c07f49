package aws

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/open-sspm/opsdash/internal/connectors/connerr"
	"github.com/open-sspm/opsdash/internal/connectors/restapi"
)

const (
	maxKeysPerPage       = 1000
	defaultPresignExpiry = time.Hour

	contentTypeJSON = "application/json"
	contentTypeText = "text/plain"
)

type S3API interface {
	ListBuckets(context.Context, *s3.ListBucketsInput, ...func(*s3.Options)) (*s3.ListBucketsOutput, error)
	ListObjectsV2(context.Context, *s3.ListObjectsV2Input, ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(context.Context, *s3.DeleteObjectInput, ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(context.Context, *s3.HeadObjectInput, ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

type PresignAPI interface {
	PresignGetObject(context.Context, *s3.GetObjectInput, ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignPutObject(context.Context, *s3.PutObjectInput, ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

type UploadAPI interface {
	Upload(context.Context, *s3.PutObjectInput, ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

type DownloadAPI interface {
	Download(context.Context, io.WriterAt, *s3.GetObjectInput, ...func(*manager.Downloader)) (int64, error)
}

type Bucket struct {
	Name      string     `json:"name"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

type Object struct {
	Key          string     `json:"key"`
	Size         int64      `json:"size"`
	LastModified *time.Time `json:"last_modified,omitempty"`
	ETag         string     `json:"etag,omitempty"`
	StorageClass string     `json:"storage_class,omitempty"`
}

// ObjectContent is a fetched object. Raw holds the exact bytes stored;
// Content is the same payload decoded as JSON when possible.
type ObjectContent struct {
	Bucket       string          `json:"bucket"`
	Key          string          `json:"key"`
	ContentType  string          `json:"content_type,omitempty"`
	LastModified *time.Time      `json:"last_modified,omitempty"`
	Content      restapi.Decoded `json:"content"`
	Raw          []byte          `json:"-"`
}

type PutResult struct {
	Bucket      string `json:"bucket"`
	Key         string `json:"key"`
	ContentType string `json:"content_type,omitempty"`
	ETag        string `json:"etag,omitempty"`
	VersionID   string `json:"version_id,omitempty"`
}

type UploadResult struct {
	Bucket       string     `json:"bucket"`
	Key          string     `json:"key"`
	Location     string     `json:"location,omitempty"`
	ETag         string     `json:"etag,omitempty"`
	Size         int64      `json:"size"`
	ContentType  string     `json:"content_type,omitempty"`
	LastModified *time.Time `json:"last_modified,omitempty"`
}

func (c *Client) s3(ctx context.Context) (*s3Handle, error) {
	return handle[*s3Handle](ctx, c, ServiceS3)
}

func (c *Client) ListBuckets(ctx context.Context) ([]Bucket, error) {
	h, err := c.s3(ctx)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	resp, err := h.api.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err := c.observe(ctx, "s3.ListBuckets", "s3://", start, err); err != nil {
		return nil, err
	}
	out := make([]Bucket, 0, len(resp.Buckets))
	for _, b := range resp.Buckets {
		out = append(out, Bucket{Name: aws.ToString(b.Name), CreatedAt: utc(b.CreationDate)})
	}
	return out, nil
}

// ListObjects returns at most maxKeys objects under prefix in listing order.
// maxKeys <= 0 drains the whole prefix.
func (c *Client) ListObjects(ctx context.Context, bucket, prefix string, maxKeys int) ([]Object, error) {
	h, err := c.s3(ctx)
	if err != nil {
		return nil, err
	}
	in := &s3.ListObjectsV2Input{
		Bucket:  aws.String(bucket),
		MaxKeys: aws.Int32(pageSize(maxKeys, maxKeysPerPage)),
	}
	if prefix != "" {
		in.Prefix = aws.String(prefix)
	}
	target := "s3://" + bucket + "/" + prefix
	p := s3.NewListObjectsV2Paginator(h.api, in)
	return drain(ctx, maxKeys, p.HasMorePages, func(ctx context.Context) ([]Object, error) {
		start := time.Now()
		page, err := p.NextPage(ctx)
		if err := c.observe(ctx, "s3.ListObjectsV2", target, start, err); err != nil {
			return nil, err
		}
		items := make([]Object, 0, len(page.Contents))
		for _, o := range page.Contents {
			items = append(items, Object{
				Key:          aws.ToString(o.Key),
				Size:         aws.ToInt64(o.Size),
				LastModified: utc(o.LastModified),
				ETag:         strings.Trim(aws.ToString(o.ETag), `"`),
				StorageClass: string(o.StorageClass),
			})
		}
		return items, nil
	})
}

func (c *Client) GetObject(ctx context.Context, bucket, key string) (ObjectContent, error) {
	h, err := c.s3(ctx)
	if err != nil {
		return ObjectContent{}, err
	}
	target := "s3://" + bucket + "/" + key
	start := time.Now()
	resp, err := h.api.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err := c.observe(ctx, "s3.GetObject", target, start, err); err != nil {
		return ObjectContent{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return ObjectContent{}, &connerr.RemoteRequestError{Vendor: Kind, Target: target, Err: err}
	}
	return ObjectContent{
		Bucket:       bucket,
		Key:          key,
		ContentType:  aws.ToString(resp.ContentType),
		LastModified: utc(resp.LastModified),
		Content:      restapi.Decode(raw),
		Raw:          raw,
	}, nil
}

// encodeBody turns a caller payload into bytes and the content type to use
// when none was given: strings are text, byte slices are sent untyped, and
// anything else is JSON-encoded.
func encodeBody(body any) ([]byte, string, error) {
	switch v := body.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return v, "", nil
	case string:
		return []byte(v), contentTypeText, nil
	case json.RawMessage:
		return v, contentTypeJSON, nil
	case io.Reader:
		b, err := io.ReadAll(v)
		return b, "", err
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, "", fmt.Errorf("aws: encode object body: %w", err)
		}
		return b, contentTypeJSON, nil
	}
}

// PutObject writes body to key. contentType is defaulted from the body type
// only when empty.
func (c *Client) PutObject(ctx context.Context, bucket, key string, body any, contentType string) (PutResult, error) {
	raw, inferred, err := encodeBody(body)
	if err != nil {
		return PutResult{}, err
	}
	if strings.TrimSpace(contentType) == "" {
		contentType = inferred
	}

	h, err := c.s3(ctx)
	if err != nil {
		return PutResult{}, err
	}
	in := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(raw),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	start := time.Now()
	resp, err := h.api.PutObject(ctx, in)
	if err := c.observe(ctx, "s3.PutObject", "s3://"+bucket+"/"+key, start, err); err != nil {
		return PutResult{}, err
	}
	return PutResult{
		Bucket:      bucket,
		Key:         key,
		ContentType: contentType,
		ETag:        strings.Trim(aws.ToString(resp.ETag), `"`),
		VersionID:   aws.ToString(resp.VersionId),
	}, nil
}

func (c *Client) DeleteObject(ctx context.Context, bucket, key string) error {
	h, err := c.s3(ctx)
	if err != nil {
		return err
	}
	start := time.Now()
	_, err = h.api.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	return c.observe(ctx, "s3.DeleteObject", "s3://"+bucket+"/"+key, start, err)
}

// PresignURL returns a time-limited URL for GET or PUT on key.
func (c *Client) PresignURL(ctx context.Context, bucket, key string, expiry time.Duration, method string) (string, error) {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}
	if method != http.MethodGet && method != http.MethodPut {
		return "", &connerr.UnsupportedOperationError{Vendor: Kind, Operation: "presign " + method}
	}
	if expiry <= 0 {
		expiry = defaultPresignExpiry
	}
	h, err := c.s3(ctx)
	if err != nil {
		return "", err
	}
	if h.presign == nil {
		return "", &connerr.UnsupportedOperationError{Vendor: Kind, Operation: "presign"}
	}

	withExpiry := s3.WithPresignExpires(expiry)
	start := time.Now()
	var req *v4.PresignedHTTPRequest
	if method == http.MethodPut {
		req, err = h.presign.PresignPutObject(ctx, &s3.PutObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)}, withExpiry)
	} else {
		req, err = h.presign.PresignGetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)}, withExpiry)
	}
	if err := c.observe(ctx, "s3.Presign"+method, "s3://"+bucket+"/"+key, start, err); err != nil {
		return "", err
	}
	return req.URL, nil
}

// UploadStream streams r to key with the multipart uploader and returns the
// stored object's metadata.
func (c *Client) UploadStream(ctx context.Context, bucket, key string, r io.Reader, contentType string) (UploadResult, error) {
	h, err := c.s3(ctx)
	if err != nil {
		return UploadResult{}, err
	}
	if h.uploader == nil {
		return UploadResult{}, &connerr.UnsupportedOperationError{Vendor: Kind, Operation: "upload stream"}
	}
	target := "s3://" + bucket + "/" + key
	in := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   r,
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	start := time.Now()
	up, err := h.uploader.Upload(ctx, in)
	if err := c.observe(ctx, "s3.Upload", target, start, err); err != nil {
		return UploadResult{}, err
	}

	start = time.Now()
	head, err := h.api.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err := c.observe(ctx, "s3.HeadObject", target, start, err); err != nil {
		return UploadResult{}, err
	}
	slog.Info("uploaded object", "bucket", bucket, "key", key, "size", aws.ToInt64(head.ContentLength))
	return UploadResult{
		Bucket:       bucket,
		Key:          key,
		Location:     up.Location,
		ETag:         strings.Trim(aws.ToString(head.ETag), `"`),
		Size:         aws.ToInt64(head.ContentLength),
		ContentType:  aws.ToString(head.ContentType),
		LastModified: utc(head.LastModified),
	}, nil
}

// DownloadFile writes key to path and returns the number of bytes written.
// A partially written file is removed on failure.
func (c *Client) DownloadFile(ctx context.Context, bucket, key, path string) (int64, error) {
	h, err := c.s3(ctx)
	if err != nil {
		return 0, err
	}
	if h.downloader == nil {
		return 0, &connerr.UnsupportedOperationError{Vendor: Kind, Operation: "download file"}
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	n, err := h.downloader.Download(ctx, f, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	closeErr := f.Close()
	if err := c.observe(ctx, "s3.Download", "s3://"+bucket+"/"+key, start, err); err != nil {
		_ = os.Remove(path)
		return 0, err
	}
	if closeErr != nil {
		return 0, closeErr
	}
	return n, nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
