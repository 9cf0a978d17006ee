package combinedenergy

import (
	"net/http"
	"strings"
	"time"
)

// Option configures a Client.
type Option func(*clientOptions)

// clientOptions holds configuration options for the Client.
type clientOptions struct {
	httpClient     *http.Client
	timeout        time.Duration
	expiryWindow   time.Duration
	userHost       string
	dataHost       string
	logSessionHost string
	userAgent      string
	sessionExpired SessionExpiredFunc
	now            func() time.Time
}

func defaultOptions() clientOptions {
	return clientOptions{
		timeout:        DefaultRequestTimeout,
		expiryWindow:   DefaultExpiryWindow,
		userHost:       UserAccessHost,
		dataHost:       DataAccessHost,
		logSessionHost: LogSessionHost,
		userAgent:      "GoCombinedEnergy/" + Version,
		sessionExpired: DefaultSessionExpired,
		now:            time.Now,
	}
}

// WithHTTPClient uses a caller supplied http.Client as the transport.
// The caller keeps ownership of its connection pool.
func WithHTTPClient(client *http.Client) Option {
	return func(o *clientOptions) {
		o.httpClient = client
	}
}

// WithTimeout sets the per request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(o *clientOptions) {
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}

// WithExpiryWindow sets how long before the token expiry a new login is made.
func WithExpiryWindow(window time.Duration) Option {
	return func(o *clientOptions) {
		if window >= 0 {
			o.expiryWindow = window
		}
	}
}

// WithUserAccessHost overrides the host serving the login endpoint.
func WithUserAccessHost(host string) Option {
	return func(o *clientOptions) {
		o.userHost = strings.TrimRight(host, "/")
	}
}

// WithDataAccessHost overrides the data service base URL.
func WithDataAccessHost(host string) Option {
	return func(o *clientOptions) {
		o.dataHost = strings.TrimRight(host, "/")
	}
}

// WithLogSessionHost overrides the host serving LogSessionStart.
func WithLogSessionHost(host string) Option {
	return func(o *clientOptions) {
		o.logSessionHost = strings.TrimRight(host, "/")
	}
}

// WithUserAgent sets a custom user agent string.
func WithUserAgent(userAgent string) Option {
	return func(o *clientOptions) {
		if userAgent != "" {
			o.userAgent = userAgent
		}
	}
}

// WithSessionExpiredFunc replaces the predicate deciding whether a response
// means the session token is no longer accepted.
func WithSessionExpiredFunc(fn SessionExpiredFunc) Option {
	return func(o *clientOptions) {
		if fn != nil {
			o.sessionExpired = fn
		}
	}
}

// WithClock sets the time source used for token expiry and relative ranges.
func WithClock(now func() time.Time) Option {
	return func(o *clientOptions) {
		if now != nil {
			o.now = now
		}
	}
}
