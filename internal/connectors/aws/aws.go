// Package aws is the AWS connector: S3, Lambda, Glue, SageMaker, CloudWatch
// Logs and STS behind one lazily authenticated session.
package aws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
	"github.com/open-sspm/opsdash/internal/connectors/clientcache"
	"github.com/open-sspm/opsdash/internal/connectors/connerr"
	"github.com/open-sspm/opsdash/internal/metrics"
)

const defaultHTTPTimeout = 120 * time.Second

// Service is one AWS API surface reachable through the connector.
type Service int

const (
	ServiceS3 Service = iota
	ServiceLambda
	ServiceGlue
	ServiceSageMaker
	ServiceLogs
	ServiceSTS
)

func (s Service) String() string {
	switch s {
	case ServiceS3:
		return "s3"
	case ServiceLambda:
		return "lambda"
	case ServiceGlue:
		return "glue"
	case ServiceSageMaker:
		return "sagemaker"
	case ServiceLogs:
		return "logs"
	case ServiceSTS:
		return "sts"
	default:
		return fmt.Sprintf("service(%d)", int(s))
	}
}

// Clients supplies prebuilt API clients. Nil fields leave that service
// unavailable. Credentials, when set, are retrieved before each client is
// first handed out.
type Clients struct {
	Credentials aws.CredentialsProvider

	S3         S3API
	Presign    PresignAPI
	Uploader   UploadAPI
	Downloader DownloadAPI
	Lambda     LambdaAPI
	Glue       GlueAPI
	SageMaker  SageMakerAPI
	Logs       LogsAPI
	STS        STSAPI
}

type s3Handle struct {
	api        S3API
	presign    PresignAPI
	uploader   UploadAPI
	downloader DownloadAPI
}

type Client struct {
	cfg     Config
	clients Clients

	Now   func() time.Time
	Sleep func(context.Context, time.Duration) error

	cache *clientcache.Cache[Service, any]
}

// New loads the SDK configuration for cfg. It does not contact AWS.
func New(ctx context.Context, cfg Config) (*Client, error) {
	cfg = cfg.Normalized()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		config.WithHTTPClient(&http.Client{Timeout: defaultHTTPTimeout}),
	}
	if cfg.StaticKeys() {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(awscreds.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			cfg.SessionToken,
		)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, &connerr.ConfigurationError{Vendor: Kind, Invalid: map[string]string{"sdk": err.Error()}}
	}
	return NewWithConfig(awsCfg, cfg)
}

// NewWithConfig builds every service client from an existing SDK config.
func NewWithConfig(awsCfg aws.Config, cfg Config) (*Client, error) {
	cfg = cfg.Normalized()
	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewWithClients(cfg, Clients{
		Credentials: awsCfg.Credentials,
		S3:          s3Client,
		Presign:     s3.NewPresignClient(s3Client),
		Uploader:    manager.NewUploader(s3Client),
		Downloader:  manager.NewDownloader(s3Client),
		Lambda: lambda.NewFromConfig(awsCfg, func(o *lambda.Options) {
			o.BaseEndpoint = optionalEndpoint(cfg.Endpoint)
		}),
		Glue: glue.NewFromConfig(awsCfg, func(o *glue.Options) {
			o.BaseEndpoint = optionalEndpoint(cfg.Endpoint)
		}),
		SageMaker: sagemaker.NewFromConfig(awsCfg, func(o *sagemaker.Options) {
			o.BaseEndpoint = optionalEndpoint(cfg.Endpoint)
		}),
		Logs: cloudwatchlogs.NewFromConfig(awsCfg, func(o *cloudwatchlogs.Options) {
			o.BaseEndpoint = optionalEndpoint(cfg.Endpoint)
		}),
		STS: sts.NewFromConfig(awsCfg, func(o *sts.Options) {
			o.BaseEndpoint = optionalEndpoint(cfg.Endpoint)
		}),
	})
}

func optionalEndpoint(endpoint string) *string {
	if endpoint == "" {
		return nil
	}
	return aws.String(endpoint)
}

// NewWithClients wires caller-supplied API clients, typically fakes in tests.
func NewWithClients(cfg Config, clients Clients) (*Client, error) {
	cfg = cfg.Normalized()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Client{cfg: cfg, clients: clients}
	c.cache = clientcache.New(Kind, c.build)
	return c, nil
}

func (c *Client) Kind() string { return Kind }

// Region returns the configured region.
func (c *Client) Region() string { return c.cfg.Region }

func (c *Client) build(ctx context.Context, svc Service) (any, error) {
	if c.clients.Credentials != nil {
		if _, err := c.clients.Credentials.Retrieve(ctx); err != nil {
			return nil, err
		}
	}
	var h any
	switch svc {
	case ServiceS3:
		if c.clients.S3 != nil {
			h = &s3Handle{
				api:        c.clients.S3,
				presign:    c.clients.Presign,
				uploader:   c.clients.Uploader,
				downloader: c.clients.Downloader,
			}
		}
	case ServiceLambda:
		if c.clients.Lambda != nil {
			h = c.clients.Lambda
		}
	case ServiceGlue:
		if c.clients.Glue != nil {
			h = c.clients.Glue
		}
	case ServiceSageMaker:
		if c.clients.SageMaker != nil {
			h = c.clients.SageMaker
		}
	case ServiceLogs:
		if c.clients.Logs != nil {
			h = c.clients.Logs
		}
	case ServiceSTS:
		if c.clients.STS != nil {
			h = c.clients.STS
		}
	}
	if h == nil {
		return nil, &connerr.ConfigurationError{Vendor: Kind, Missing: []string{svc.String() + " client"}}
	}
	return h, nil
}

// handle returns the cached client for svc, authenticating on first use.
func handle[T any](ctx context.Context, c *Client, svc Service) (T, error) {
	var zero T
	h, err := c.cache.Get(ctx, svc)
	if err != nil {
		return zero, err
	}
	t, ok := h.(T)
	if !ok {
		return zero, fmt.Errorf("aws: %s handle has type %T", svc, h)
	}
	return t, nil
}

// Authenticate verifies credentials by building the S3 client.
func (c *Client) Authenticate(ctx context.Context) error {
	_, err := handle[*s3Handle](ctx, c, ServiceS3)
	return err
}

// ValidateConnection lists buckets and reports whether that succeeded.
func (c *Client) ValidateConnection(ctx context.Context) bool {
	if _, err := c.ListBuckets(ctx); err != nil {
		slog.Warn("aws connection check failed", "region", c.cfg.Region, "err", err)
		return false
	}
	return true
}

// Close drops every cached service client.
func (c *Client) Close() error {
	return c.cache.Reset(nil)
}

var authErrorCodes = map[string]bool{
	"InvalidAccessKeyId":          true,
	"SignatureDoesNotMatch":       true,
	"ExpiredToken":                true,
	"ExpiredTokenException":       true,
	"InvalidClientTokenId":        true,
	"UnrecognizedClientException": true,
}

// observe records the call and converts SDK failures into the connector
// error taxonomy.
func (c *Client) observe(ctx context.Context, op, target string, start time.Time, err error) error {
	err = c.classify(ctx, op, target, err)
	metrics.ObserveRequest(Kind, op, start, connerr.Outcome(err))
	return err
}

func (c *Client) classify(ctx context.Context, op, target string, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	remote := &connerr.RemoteRequestError{Vendor: Kind, Target: target, Err: err}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		remote.StatusCode = respErr.HTTPStatusCode()
	}
	var apiErr smithy.APIError
	code := ""
	if errors.As(err, &apiErr) {
		code = apiErr.ErrorCode()
		remote.Body = strings.TrimSpace(code + ": " + apiErr.ErrorMessage())
	}
	slog.Warn("aws request failed", "operation", op, "target", target, "status", remote.StatusCode, "err", err)
	if authErrorCodes[code] || remote.StatusCode == http.StatusUnauthorized {
		return &connerr.AuthenticationError{Vendor: Kind, Err: remote}
	}
	return remote
}

// drain collects paginator pages until the source is exhausted or maxItems
// is reached. maxItems <= 0 means no cap.
func drain[T any](ctx context.Context, maxItems int, hasMore func() bool, next func(context.Context) ([]T, error)) ([]T, error) {
	var out []T
	for hasMore() {
		if maxItems > 0 && len(out) >= maxItems {
			break
		}
		items, err := next(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
	}
	if maxItems > 0 && len(out) > maxItems {
		out = out[:maxItems]
	}
	return out, nil
}

func pageSize(maxItems, vendorMax int) int32 {
	if maxItems <= 0 || maxItems > vendorMax {
		return int32(vendorMax)
	}
	return int32(maxItems)
}
