// Package resolver locates external AWB archives named by a cue sheet:
// on disk, behind an HTTP base URL, or in an S3 bucket.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"haruki-cri-extractor/config"
	"haruki-cri-extractor/utils/cricodecs/criacb"
	harukiLogger "haruki-cri-extractor/utils/logger"
	"haruki-cri-extractor/utils/s3client"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-resty/resty/v2"
)

var logger = harukiLogger.NewLogger("HarukiAWBResolver", "INFO", nil)

func notFound(name string, where string) error {
	return fmt.Errorf("%s in %s: %w", name, where, criacb.ErrArchiveNotFound)
}

// Dir resolves names relative to a directory.
type Dir struct {
	Root string
}

func (d Dir) Resolve(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !filepath.IsLocal(name) {
		return nil, fmt.Errorf("refusing non-local archive name %q", name)
	}
	data, err := os.ReadFile(filepath.Join(d.Root, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, notFound(name, d.Root)
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// HTTP fetches <base>/<name>. Server errors are retried; 404 means the
// archive does not exist.
type HTTP struct {
	base   string
	client *resty.Client
}

type HTTPOptions struct {
	Headers map[string]string
	Retries int
	Timeout time.Duration
	Proxy   string
}

func NewHTTP(baseURL string, opts HTTPOptions) *HTTP {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 16
	transport.IdleConnTimeout = 30 * time.Second
	transport.TLSHandshakeTimeout = 10 * time.Second

	client := resty.New()
	client.
		SetRetryCount(opts.Retries).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			return err != nil || resp.StatusCode() >= 500
		}).
		SetTransport(transport).
		SetHeader("Accept", "*/*")
	if opts.Timeout > 0 {
		client.SetTimeout(opts.Timeout)
	}
	for k, v := range opts.Headers {
		client.SetHeader(k, v)
	}
	if opts.Proxy != "" {
		client.SetProxy(opts.Proxy)
	}
	return &HTTP{base: strings.TrimRight(baseURL, "/"), client: client}
}

func (h *HTTP) Resolve(ctx context.Context, name string) ([]byte, error) {
	target := h.base + "/" + url.PathEscape(name)
	logger.Debugf("Fetching %s", target)
	resp, err := h.client.R().SetContext(ctx).Get(target)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", target, err)
	}
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return nil, notFound(name, h.base)
	case resp.StatusCode() != http.StatusOK:
		return nil, fmt.Errorf("failed to fetch %s: unexpected status %d", target, resp.StatusCode())
	}
	return resp.Body(), nil
}

// S3 reads <prefix>/<name> from a bucket.
type S3 struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewS3(client *s3.Client, bucket string, prefix string) *S3 {
	return &S3{client: client, bucket: bucket, prefix: prefix}
}

func (r *S3) Resolve(ctx context.Context, name string) ([]byte, error) {
	key := s3client.Key(r.prefix, name)
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if s3client.IsNotFound(err) {
		return nil, notFound(name, "s3://"+r.bucket+"/"+r.prefix)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get s3://%s/%s: %w", r.bucket, key, err)
	}
	defer func(body io.ReadCloser) {
		_ = body.Close()
	}(out.Body)
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read s3://%s/%s: %w", r.bucket, key, err)
	}
	return data, nil
}

// Chain tries each resolver in order and returns the first success. If
// every resolver reports the archive missing the joined error still
// matches criacb.ErrArchiveNotFound; any other failure is returned
// without the not-found errors so it is not mistaken for a missing file.
type Chain []criacb.Resolver

func (c Chain) Resolve(ctx context.Context, name string) ([]byte, error) {
	if len(c) == 0 {
		return nil, notFound(name, "empty resolver chain")
	}
	var missing, failed []error
	for _, r := range c {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := r.Resolve(ctx, name)
		if err == nil {
			return data, nil
		}
		if errors.Is(err, criacb.ErrArchiveNotFound) {
			missing = append(missing, err)
			continue
		}
		logger.Warnf("Resolver failed for %s: %v", name, err)
		failed = append(failed, err)
	}
	if len(failed) > 0 {
		return nil, errors.Join(failed...)
	}
	return nil, errors.Join(missing...)
}

// New builds a chain from configuration, in declaration order.
func New(cfgs []config.ResolverConfig, proxy string) (Chain, error) {
	chain := make(Chain, 0, len(cfgs))
	for i, rc := range cfgs {
		switch rc.Type {
		case "dir":
			chain = append(chain, Dir{Root: rc.Path})
		case "http":
			chain = append(chain, NewHTTP(rc.BaseURL, HTTPOptions{
				Headers: rc.Headers,
				Retries: rc.Retries,
				Timeout: time.Duration(rc.TimeoutSeconds) * time.Second,
				Proxy:   proxy,
			}))
		case "s3":
			chain = append(chain, NewS3(s3client.New(rc.S3), rc.S3.Bucket, rc.S3.Prefix))
		default:
			return nil, fmt.Errorf("resolver %d: unknown type %q", i, rc.Type)
		}
	}
	return chain, nil
}
