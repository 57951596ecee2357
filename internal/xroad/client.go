package xroad

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	apperrors "github.com/xroad-catalogue/collector/pkg/errors"
)

// restVersion is the REST protocol version segment used in query URLs.
const restVersion = "r1"

// Options configures a protocol client.
type Options struct {
	// ServerURL is the security server address. A missing scheme defaults
	// to http, or https when TLS material is configured.
	ServerURL string
	// Identity is the caller's own identity placed in query headers.
	Identity ClientID
	// Timeout is the hard per-call deadline.
	Timeout time.Duration
	// CACertFile enables server certificate verification against the
	// given bundle. When empty the peer certificate is not validated.
	CACertFile string
	// ClientCertFile and ClientKeyFile configure mutual TLS. Both must be
	// set together; leaving them empty is a valid configuration.
	ClientCertFile string
	ClientKeyFile  string
}

// Client issues directory and description queries against a security
// server. All methods are synchronous and honour the configured per-call
// deadline; deadline expiry is reported as a TimeoutError, distinct from
// every other transport or protocol failure.
type Client struct {
	baseURL  *url.URL
	identity ClientID
	timeout  time.Duration
	http     *http.Client
}

// NewClient builds a protocol client from Options.
func NewClient(opts Options) (*Client, error) {
	rawURL := opts.ServerURL
	secured := opts.CACertFile != "" || opts.ClientCertFile != ""
	if !strings.Contains(rawURL, "://") {
		if secured {
			rawURL = "https://" + rawURL
		} else {
			rawURL = "http://" + rawURL
		}
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, apperrors.NewValidationError("server_url", fmt.Sprintf("invalid security server URL %q", opts.ServerURL), err)
	}

	tlsConfig := &tls.Config{InsecureSkipVerify: opts.CACertFile == ""} //nolint:gosec
	if opts.CACertFile != "" {
		pem, err := os.ReadFile(opts.CACertFile)
		if err != nil {
			return nil, apperrors.NewValidationError("server_cert", "cannot read CA certificate bundle", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, apperrors.NewValidationError("server_cert", "no certificates found in CA bundle", nil)
		}
		tlsConfig.RootCAs = pool
		tlsConfig.InsecureSkipVerify = false
	}
	if opts.ClientCertFile != "" || opts.ClientKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(opts.ClientCertFile, opts.ClientKeyFile)
		if err != nil {
			return nil, apperrors.NewValidationError("client_cert", "cannot load client certificate pair", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Client{
		baseURL:  parsed,
		identity: opts.Identity,
		timeout:  timeout,
		http: &http.Client{
			Transport: &http.Transport{TLSClientConfig: tlsConfig},
		},
	}, nil
}

// Endpoint returns the security server address this client targets. The
// collection engine keys its timeout cascade on this value.
func (c *Client) Endpoint() string {
	return c.baseURL.String()
}

// Identity returns the caller identity used in query headers.
func (c *Client) Identity() ClientID {
	return c.identity
}

// get performs a GET request under the per-call deadline and returns the
// response body. HTTP error statuses are returned as httpStatusError so
// callers can inspect the error document.
func (c *Client) get(ctx context.Context, target string, header http.Header) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, apperrors.NewTransportError(target, err)
	}
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	return c.do(req)
}

// post performs a POST request under the per-call deadline.
func (c *Client) post(ctx context.Context, target, contentType string, body []byte) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(string(body)))
	if err != nil {
		return nil, "", apperrors.NewTransportError(target, err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", c.classify(target, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", c.classify(target, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, "", &httpStatusError{status: resp.StatusCode, body: data}
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.classify(req.URL.String(), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.classify(req.URL.String(), err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &httpStatusError{status: resp.StatusCode, body: data}
	}
	return data, nil
}

// classify separates deadline expiry from every other transport failure.
// The distinction is load-bearing: only timeouts arm the skip cascade.
func (c *Client) classify(target string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewTimeoutError(c.Endpoint(), err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperrors.NewTimeoutError(c.Endpoint(), err)
	}
	return apperrors.NewTransportError(target, err)
}

// httpStatusError carries a non-2xx response so protocol-level handlers
// can inspect the error document before deciding on an error kind.
type httpStatusError struct {
	status int
	body   []byte
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d", e.status)
}

// resolve builds an absolute URL from pre-encoded path segments. Segments
// are joined verbatim; identifier segments arrive already percent-encoded.
func (c *Client) resolve(pathSegments ...string) string {
	return c.baseURL.Scheme + "://" + c.baseURL.Host + "/" + strings.Join(pathSegments, "/")
}
