// Package fetch performs one conditional HTTP retrieval of a feed resource.
// Every failure path resolves to a tagged Result; the fetcher never lets an
// error escape the component boundary.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Status tags the outcome of one fetch.
type Status int

const (
	StatusSuccess Status = iota
	StatusNotModified
	StatusFailed
)

// ErrorKind classifies a failed fetch.
type ErrorKind string

const (
	KindNetwork   ErrorKind = "network"
	KindTimeout   ErrorKind = "timeout"
	KindHTTP4xx   ErrorKind = "http-4xx"
	KindHTTP5xx   ErrorKind = "http-5xx"
	KindMalformed ErrorKind = "malformed-response"
)

// Error carries the kind and detail of a failed fetch.
type Error struct {
	Kind   ErrorKind
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Transient reports whether the failure is worth retrying on the normal
// backoff schedule. Repeated 4xx responses indicate a permanently broken
// subscription instead.
func (e *Error) Transient() bool {
	return e.Kind == KindNetwork || e.Kind == KindTimeout || e.Kind == KindHTTP5xx
}

// Validators holds the conditional-request tokens from a previous fetch.
type Validators struct {
	ETag         string
	LastModified string
}

// Result is the tagged outcome of one fetch.
type Result struct {
	Status      Status
	HTTPStatus  int
	Body        []byte
	ContentType string
	Validators  Validators
	// HubURL and SelfURL come from WebSub Link headers when the feed
	// advertises a hub.
	HubURL  string
	SelfURL string
	Err     *Error
}

var errTooManyRedirects = errors.New("too many redirects")

// Options configures a Fetcher.
type Options struct {
	Timeout      time.Duration
	MaxRedirects int
	MaxBodyBytes int64
	UserAgent    string
}

// Fetcher retrieves feed documents over HTTP(S).
type Fetcher struct {
	client       *http.Client
	timeout      time.Duration
	maxBodyBytes int64
	userAgent    string
}

// New creates a Fetcher. The per-fetch timeout is a hard wall-clock bound.
func New(opts Options) *Fetcher {
	maxRedirects := opts.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = 5
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = "feedhub/1.0 (+https://github.com/feedhub)"
	}

	return &Fetcher{
		client: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return errTooManyRedirects
				}
				return nil
			},
		},
		timeout:      opts.Timeout,
		maxBodyBytes: opts.MaxBodyBytes,
		userAgent:    userAgent,
	}
}

// Fetch retrieves url with a conditional request when validators are present.
// The returned Result is always usable; inspect Status before Body.
func (f *Fetcher) Fetch(ctx context.Context, url string, v Validators) Result {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return failed(KindNetwork, fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/feed+json, application/xml;q=0.9, */*;q=0.8")
	if v.ETag != "" {
		req.Header.Set("If-None-Match", v.ETag)
	}
	if v.LastModified != "" {
		req.Header.Set("If-Modified-Since", v.LastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return failed(classifyTransportError(err), err.Error())
	}
	defer resp.Body.Close()

	hub, self := discoverLinks(resp.Header)

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return Result{
			Status:     StatusNotModified,
			HTTPStatus: resp.StatusCode,
			Validators: v,
			HubURL:     hub,
			SelfURL:    self,
		}

	case resp.StatusCode >= 500:
		return failedHTTP(resp.StatusCode, KindHTTP5xx)

	case resp.StatusCode >= 400:
		return failedHTTP(resp.StatusCode, KindHTTP4xx)

	case resp.StatusCode >= 300:
		// Redirects are followed by the client; anything left over is a
		// response we cannot use.
		return failedHTTP(resp.StatusCode, KindMalformed)
	}

	body, err := f.readBody(resp.Body)
	if err != nil {
		kind := KindMalformed
		if isTimeout(err) {
			kind = KindTimeout
		}
		return Result{
			Status:     StatusFailed,
			HTTPStatus: resp.StatusCode,
			Err:        &Error{Kind: kind, Detail: err.Error()},
		}
	}

	log.Debug().
		Str("url", url).
		Int("status", resp.StatusCode).
		Int("bytes", len(body)).
		Msg("Feed fetched")

	return Result{
		Status:      StatusSuccess,
		HTTPStatus:  resp.StatusCode,
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		Validators: Validators{
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		},
		HubURL:  hub,
		SelfURL: self,
	}
}

// readBody reads up to the configured cap and rejects oversized documents.
func (f *Fetcher) readBody(r io.Reader) ([]byte, error) {
	if f.maxBodyBytes <= 0 {
		return io.ReadAll(r)
	}
	body, err := io.ReadAll(io.LimitReader(r, f.maxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > f.maxBodyBytes {
		return nil, fmt.Errorf("response body exceeds %d byte limit", f.maxBodyBytes)
	}
	return body, nil
}

func failed(kind ErrorKind, detail string) Result {
	return Result{Status: StatusFailed, Err: &Error{Kind: kind, Detail: detail}}
}

func failedHTTP(status int, kind ErrorKind) Result {
	return Result{
		Status:     StatusFailed,
		HTTPStatus: status,
		Err:        &Error{Kind: kind, Detail: fmt.Sprintf("HTTP status %d", status)},
	}
}

func classifyTransportError(err error) ErrorKind {
	if isTimeout(err) {
		return KindTimeout
	}
	return KindNetwork
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
