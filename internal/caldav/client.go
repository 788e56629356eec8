package caldav

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	appLog "caldavcal/internal/log"
)

const (
	defaultTimeout = 30 * time.Second
	maxRedirects   = 5
)

// Options configures a CalDAV session.
type Options struct {
	// URL is the server or principal URL, e.g. https://dav.example.com/.
	URL      string
	Username string
	Password string
	// CACertPath optionally points at a PEM bundle used instead of the
	// system roots to verify the server certificate.
	CACertPath string
	// Timeout bounds each HTTP request. Zero means 30s.
	Timeout time.Duration
	// Transport overrides the underlying RoundTripper (tests).
	Transport http.RoundTripper
}

// Client is an authenticated CalDAV session bound to one principal.
type Client struct {
	http      *http.Client
	base      *url.URL
	principal *url.URL
	homeSet   *url.URL
}

// basicAuthTransport adds HTTP Basic credentials to every request.
type basicAuthTransport struct {
	username string
	password string
	next     http.RoundTripper
}

// withoutCredentials marks a request that must not carry Basic credentials.
type withoutCredentials struct{}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	if skip, _ := req.Context().Value(withoutCredentials{}).(bool); skip {
		r.Header.Del("Authorization")
		return t.next.RoundTrip(r)
	}
	if t.username != "" {
		r.SetBasicAuth(t.username, t.password)
	}
	return t.next.RoundTrip(r)
}

// NewHTTPClient builds the HTTP client used by a session: Basic auth,
// optional custom CA bundle and a per-request timeout. Redirects are not
// followed automatically because PROPFIND and REPORT must keep their
// method across a redirect; Client.do handles them.
func NewHTTPClient(opts Options) (*http.Client, error) {
	next := opts.Transport
	if next == nil {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		if opts.CACertPath != "" {
			pem, err := os.ReadFile(opts.CACertPath)
			if err != nil {
				return nil, fmt.Errorf("caldav: read CA certificate: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(pem) {
				return nil, fmt.Errorf("caldav: no certificates found in %s", opts.CACertPath)
			}
			tr.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
		}
		next = tr
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: &basicAuthTransport{username: opts.Username, password: opts.Password, next: next},
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}, nil
}

// Connect opens a session and discovers the principal and its calendar
// home set. It is the only place that walks the discovery chain; every
// later call reuses the discovered URLs.
func Connect(ctx context.Context, opts Options) (*Client, error) {
	if opts.URL == "" {
		return nil, errors.New("caldav: server URL is empty")
	}
	base, err := url.Parse(opts.URL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("caldav: invalid server URL %q", opts.URL)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("caldav: unsupported URL scheme %q", base.Scheme)
	}

	hc, err := NewHTTPClient(opts)
	if err != nil {
		return nil, err
	}

	c := &Client{http: hc, base: base}
	if err := c.discover(ctx); err != nil {
		return nil, err
	}

	appLog.Info("caldav session ready",
		"host", base.Host,
		"principal", c.principal.Path,
		"home_set", c.homeSet.Path,
	)
	return c, nil
}

// HomeSet returns the discovered calendar-home-set URL.
func (c *Client) HomeSet() string {
	if c.homeSet == nil {
		return ""
	}
	return c.homeSet.String()
}

// resolve turns a (possibly relative) href from the server into an absolute URL.
func (c *Client) resolve(ref string, against *url.URL) (*url.URL, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, err
	}
	if against == nil {
		against = c.base
	}
	return against.ResolveReference(u), nil
}

// do sends a WebDAV request and returns the response body when the status
// matches want. Same-method redirects are followed up to maxRedirects; a hop
// to another host is sent without credentials.
func (c *Client) do(ctx context.Context, method string, target *url.URL, depth int, body []byte, want int) ([]byte, *url.URL, error) {
	current := target
	for hop := 0; hop <= maxRedirects; hop++ {
		reqCtx := ctx
		if !strings.EqualFold(current.Host, target.Host) {
			reqCtx = context.WithValue(ctx, withoutCredentials{}, true)
		}
		req, err := http.NewRequestWithContext(reqCtx, method, current.String(), bytes.NewReader(body))
		if err != nil {
			return nil, nil, &TransportError{Op: method, URL: current.String(), Err: err}
		}
		req.Header.Set("Content-Type", "application/xml; charset=utf-8")
		req.Header.Set("Depth", strconv.Itoa(depth))

		appLog.Debug("caldav request", "method", method, "url", current.String(), "depth", depth)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, nil, &TransportError{Op: method, URL: current.String(), Err: err}
		}
		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		appLog.Debug("caldav response", "method", method, "url", current.String(), "status", resp.StatusCode, "bytes", len(data))

		switch resp.StatusCode {
		case http.StatusMovedPermanently, http.StatusFound, http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
			loc := resp.Header.Get("Location")
			if loc == "" {
				return nil, nil, &TransportError{Op: method, URL: current.String(), StatusCode: resp.StatusCode}
			}
			next, err := c.resolve(loc, current)
			if err != nil {
				return nil, nil, &TransportError{Op: method, URL: current.String(), Err: err}
			}
			current = next
			continue
		case want:
			if readErr != nil {
				return nil, nil, &TransportError{Op: method, URL: current.String(), Err: readErr}
			}
			return data, current, nil
		default:
			return nil, nil, &TransportError{Op: method, URL: current.String(), StatusCode: resp.StatusCode}
		}
	}
	return nil, nil, &TransportError{Op: method, URL: target.String(), Err: errors.New("too many redirects")}
}
