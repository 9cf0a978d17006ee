package combinedenergy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Hosts of the Combined Energy platform
const (
	UserAccessHost = "https://onwatch.combined.energy"
	DataAccessHost = "https://ds20.combined.energy/data-service"
	LogSessionHost = "https://dp20.combined.energy"
)

const (
	// DefaultRequestTimeout bounds every single HTTP request
	DefaultRequestTimeout = 10 * time.Second
	// DefaultExpiryWindow is subtracted from the token lifetime so tokens are
	// renewed before the server rejects them
	DefaultExpiryWindow = 300 * time.Second

	// maxReauth is the number of times a request is replayed after the
	// session was reported expired
	maxReauth = 1
)

// Version is reported in the User-Agent header
var Version = "dev"

// SessionExpiredFunc decides whether a data response means the token was
// rejected and a new login is needed.
type SessionExpiredFunc func(status int, body []byte) bool

// DefaultSessionExpired treats HTTP 401 and a failed status mentioning an
// expired token as session expiry.
func DefaultSessionExpired(status int, body []byte) bool {
	if status == http.StatusUnauthorized {
		return true
	}
	var payload struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return false
	}
	return strings.EqualFold(payload.Status, "failed") &&
		strings.Contains(strings.ToLower(payload.Error), "expired")
}

// Credentials identify a Combined Energy account
type Credentials struct {
	MobileOrEmail string
	Password      string
}

// String never includes the password
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{MobileOrEmail: %q, Password: <redacted>}", c.MobileOrEmail)
}

// Session is an authenticated login bound to an installation
type Session struct {
	InstallationID int
	IssuedAt       time.Time
	ExpiresAt      time.Time

	token string
}

// Valid reports whether the session can still be used at now
func (s *Session) Valid(now time.Time) bool {
	return s != nil && s.token != "" && now.Before(s.ExpiresAt)
}

// RawResponse is an undecoded data service response
type RawResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client manages the login session and talks to the Combined Energy API.
// A Client is safe for concurrent use.
type Client struct {
	creds          Credentials
	installationID int
	opts           clientOptions
	http           *resty.Client
	ownsTransport  bool
	logger         zerolog.Logger

	mu      sync.RWMutex
	session *Session
	bound   bool

	flight singleflight.Group
}

// NewClient creates a new Combined Energy client. No request is made until
// the first call that needs a session.
func NewClient(creds Credentials, installationID int, logger zerolog.Logger, opts ...Option) (*Client, error) {
	if strings.TrimSpace(creds.MobileOrEmail) == "" {
		return nil, fmt.Errorf("%w: mobile or email is required", ErrInvalidConfig)
	}
	if creds.Password == "" {
		return nil, fmt.Errorf("%w: password is required", ErrInvalidConfig)
	}
	if installationID <= 0 {
		return nil, fmt.Errorf("%w: installation id must be positive, got %d", ErrInvalidConfig, installationID)
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	for name, host := range map[string]string{"user": o.userHost, "data": o.dataHost, "log session": o.logSessionHost} {
		if _, err := url.ParseRequestURI(host); err != nil {
			return nil, fmt.Errorf("%w: invalid %s host %q: %v", ErrInvalidConfig, name, host, err)
		}
	}

	logger = logger.With().Str("component", "combinedenergy").Int("installation_id", installationID).Logger()

	var rc *resty.Client
	owns := false
	if o.httpClient != nil {
		rc = resty.NewWithClient(o.httpClient)
	} else {
		rc = resty.New()
		owns = true
	}
	rc.SetHeader("User-Agent", o.userAgent).
		SetHeader("Accept", "application/json").
		SetLogger(restyLogger{logger: logger})

	return &Client{
		creds:          creds,
		installationID: installationID,
		opts:           o,
		http:           rc,
		ownsTransport:  owns,
		logger:         logger,
	}, nil
}

// InstallationID returns the installation this client is bound to
func (c *Client) InstallationID() int {
	return c.installationID
}

// Session returns a copy of the current session if it is still valid
func (c *Client) Session() (Session, bool) {
	s, ok := c.current()
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Login always performs a new login and replaces the held session.
// Concurrent callers share a single in-flight login.
func (c *Client) Login(ctx context.Context) (*Session, error) {
	s, err := c.sharedLogin(ctx, true)
	if err != nil {
		return nil, err
	}
	out := *s
	return &out, nil
}

// Close drops the session and releases idle connections of an owned transport.
func (c *Client) Close() {
	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()

	if c.ownsTransport {
		c.http.GetClient().CloseIdleConnections()
	}
	c.logger.Debug().Msg("client closed")
}

func (c *Client) current() (*Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.session.Valid(c.opts.now()) {
		return nil, false
	}
	return c.session, true
}

// invalidate clears the session only if it still holds token, so a fresher
// session stored by another caller survives.
func (c *Client) invalidate(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil && c.session.token == token {
		c.session = nil
	}
}

// token returns a usable token, logging in when none is held or the held
// one is past its expiry.
func (c *Client) token(ctx context.Context) (string, error) {
	if s, ok := c.current(); ok {
		return s.token, nil
	}
	s, err := c.sharedLogin(ctx, false)
	if err != nil {
		return "", err
	}
	return s.token, nil
}

func (c *Client) sharedLogin(ctx context.Context, force bool) (*Session, error) {
	// The flight must outlive any single caller's cancellation.
	flightCtx := context.WithoutCancel(ctx)
	ch := c.flight.DoChan("login", func() (any, error) {
		if !force {
			if s, ok := c.current(); ok {
				return s, nil
			}
		}
		return c.login(flightCtx)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for login: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Session), nil
	}
}

func (c *Client) login(ctx context.Context) (*Session, error) {
	if _, ok := c.current(); ok {
		c.logger.Debug().Msg("replacing session")
	} else {
		c.logger.Debug().Msg("login required")
	}

	form := url.Values{
		"mobileOrEmail": {c.creds.MobileOrEmail},
		"pass":          {c.creds.Password},
		"store":         {"false"},
	}
	endpoint := c.opts.userHost + "/user/Login"
	resp, err := c.postForm(ctx, endpoint, form)
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode() {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return nil, &AuthError{Reason: fmt.Sprintf("login rejected with status %d", resp.StatusCode())}
	}
	if !resp.IsSuccess() {
		return nil, c.statusError(resp)
	}

	var login Login
	if err := json.Unmarshal(resp.Body(), &login); err != nil {
		return nil, &FormatError{Endpoint: "user/Login", Body: truncateBody(resp.Body()), Err: err}
	}
	if login.Status != "ok" {
		reason := login.Error
		if reason == "" {
			reason = "login failed"
		}
		return nil, &AuthError{Reason: reason}
	}
	if login.JWT == "" {
		return nil, &FormatError{Endpoint: "user/Login", Body: truncateBody(resp.Body()), Err: errors.New("missing jwt")}
	}
	if login.ExpireMinutes <= 0 {
		return nil, &FormatError{
			Endpoint: "user/Login",
			Body:     truncateBody(resp.Body()),
			Err:      fmt.Errorf("token lifetime must be positive, got expireMins=%d", login.ExpireMinutes),
		}
	}

	login.Created = c.opts.now()
	session := &Session{
		InstallationID: c.installationID,
		IssuedAt:       login.Created,
		ExpiresAt:      login.Expires(c.opts.expiryWindow),
		token:          login.JWT,
	}

	c.mu.RLock()
	bound := c.bound
	c.mu.RUnlock()
	if !bound {
		if err := c.bind(ctx, session); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	c.session = session
	c.bound = true
	c.mu.Unlock()

	c.logger.Info().Time("expires", session.ExpiresAt).Msg("logged in to Combined Energy")
	return session, nil
}

// bind verifies the installation is visible to the account.
func (c *Client) bind(ctx context.Context, s *Session) error {
	params := c.installationParams()
	params.Set("jwt", s.token)

	resp, err := c.get(ctx, "installation", params)
	if err != nil {
		return err
	}
	switch resp.StatusCode() {
	case http.StatusForbidden, http.StatusNotFound:
		return fmt.Errorf("%w: installation %d (status %d)", ErrInstallationNotFound, c.installationID, resp.StatusCode())
	}
	if !resp.IsSuccess() {
		return c.statusError(resp)
	}

	var inst struct {
		InstallationID int `json:"installationId"`
	}
	if err := json.Unmarshal(resp.Body(), &inst); err != nil {
		return &FormatError{Endpoint: "installation", Body: truncateBody(resp.Body()), Err: err}
	}
	if inst.InstallationID != c.installationID {
		return fmt.Errorf("%w: installation %d", ErrInstallationNotFound, c.installationID)
	}
	return nil
}

// authorized runs call with a valid token. When the response reports an
// expired session the token is dropped, a new login is made and call is
// replayed, at most maxReauth times.
func (c *Client) authorized(ctx context.Context, call func(token string) (*resty.Response, error)) (*resty.Response, error) {
	for attempt := 0; ; attempt++ {
		token, err := c.token(ctx)
		if err != nil {
			return nil, err
		}

		resp, err := call(token)
		if err != nil {
			return nil, err
		}
		if !c.opts.sessionExpired(resp.StatusCode(), resp.Body()) {
			return resp, nil
		}

		c.invalidate(token)
		if attempt >= maxReauth {
			return nil, &AuthError{Reason: "session expired again after re-login"}
		}
		c.logger.Debug().Int("status", resp.StatusCode()).Msg("session expired; logging in again")
	}
}

// Request performs an authenticated GET against a data service endpoint,
// e.g. "comm-stat". The jwt parameter is added by the client.
func (c *Client) Request(ctx context.Context, endpoint string, params url.Values) (*RawResponse, error) {
	query := url.Values{}
	for k, v := range params {
		query[k] = append([]string(nil), v...)
	}

	resp, err := c.authorized(ctx, func(token string) (*resty.Response, error) {
		query.Set("jwt", token)
		return c.get(ctx, endpoint, query)
	})
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, c.statusError(resp)
	}

	return &RawResponse{
		StatusCode: resp.StatusCode(),
		Header:     resp.Header(),
		Body:       resp.Body(),
	}, nil
}

func getJSON[T any](ctx context.Context, c *Client, endpoint string, params url.Values) (*T, error) {
	raw, err := c.Request(ctx, endpoint, params)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(endpoint, raw.Body); err != nil {
		return nil, err
	}
	var out T
	if err := json.Unmarshal(raw.Body, &out); err != nil {
		return nil, &FormatError{Endpoint: endpoint, Body: truncateBody(raw.Body), Err: err}
	}
	return &out, nil
}

// checkStatus rejects a 2xx body whose status field reports a failure. The
// data service answers refused queries this way instead of with an HTTP error.
func checkStatus(endpoint string, body []byte) error {
	var head struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	if json.Unmarshal(body, &head) != nil || !strings.EqualFold(head.Status, "failed") {
		return nil
	}
	reason := head.Error
	if reason == "" {
		reason = "no reason given"
	}
	return &FormatError{
		Endpoint: endpoint,
		Body:     truncateBody(body),
		Err:      fmt.Errorf("upstream reported failed status: %s", reason),
	}
}

// User gets details of the logged in user
func (c *Client) User(ctx context.Context) (*CurrentUser, error) {
	return getJSON[CurrentUser](ctx, c, "user", nil)
}

// Installation gets details of the installation
func (c *Client) Installation(ctx context.Context) (*Installation, error) {
	return getJSON[Installation](ctx, c, "installation", c.installationParams())
}

// InstallationCustomers gets the customers linked to the installation
func (c *Client) InstallationCustomers(ctx context.Context) (*InstallationCustomers, error) {
	return getJSON[InstallationCustomers](ctx, c, "inst-customers", c.installationParams())
}

// CommunicationStatus gets the connection status of the installation monitor
func (c *Client) CommunicationStatus(ctx context.Context) (*ConnectionStatus, error) {
	return getJSON[ConnectionStatus](ctx, c, "comm-stat", c.installationParams())
}

// CommunicationHistory gets the connection history of the installation monitor
func (c *Client) CommunicationHistory(ctx context.Context) (*ConnectionHistory, error) {
	return getJSON[ConnectionHistory](ctx, c, "comm-hist", c.installationParams())
}

// Readings fetches device readings for [start, end) sampled every increment
// seconds. A zero start or end leaves that bound to the server.
func (c *Client) Readings(ctx context.Context, start, end time.Time, increment int) (*Readings, error) {
	if increment <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidIncrement, increment)
	}
	if !start.IsZero() && !end.IsZero() && !end.After(start) {
		return nil, fmt.Errorf("%w: end %s is not after start %s", ErrInvalidRange, end.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	params := c.installationParams()
	params.Set("rangeStart", epochParam(start))
	params.Set("rangeEnd", epochParam(end))
	params.Set("seconds", strconv.Itoa(increment))

	raw, err := c.Request(ctx, "readings", params)
	if err != nil {
		return nil, err
	}
	return decodeReadings("readings", raw.Body)
}

// LastReadings fetches the readings of the trailing window of length d
func (c *Client) LastReadings(ctx context.Context, d time.Duration, increment int) (*Readings, error) {
	if d <= 0 {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidRange, d)
	}
	now := c.opts.now()
	return c.Readings(ctx, now.Add(-d), now, increment)
}

// StartLogSession asks the platform to start a new log session. Some
// installations stop producing readings until this is called.
func (c *Client) StartLogSession(ctx context.Context) (bool, error) {
	endpoint := c.opts.logSessionHost + "/mqtt2/user/LogSessionStart"
	resp, err := c.authorized(ctx, func(token string) (*resty.Response, error) {
		return c.postForm(ctx, endpoint, url.Values{
			"i":   {strconv.Itoa(c.installationID)},
			"jwt": {token},
		})
	})
	if err != nil {
		return false, err
	}
	if !resp.IsSuccess() {
		return false, c.statusError(resp)
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return false, &FormatError{Endpoint: "LogSessionStart", Body: truncateBody(resp.Body()), Err: err}
	}
	ok := body.Status == "ok"
	c.logger.Debug().Bool("ok", ok).Msg("log session start requested")
	return ok, nil
}

func (c *Client) installationParams() url.Values {
	return url.Values{"i": {strconv.Itoa(c.installationID)}}
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values) (*resty.Response, error) {
	target := c.opts.dataHost + "/dataAccess/" + endpoint
	ctx, cancel := context.WithTimeout(ctx, c.opts.timeout)
	defer cancel()

	if e := c.logger.Debug(); e.Enabled() {
		e.Str("url", target).Str("query", redact(params).Encode()).Msg("request")
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParamsFromValues(params).
		Get(target)
	if err != nil {
		return nil, &TransportError{Op: http.MethodGet, URL: target, Err: err}
	}
	return resp, nil
}

func (c *Client) postForm(ctx context.Context, target string, form url.Values) (*resty.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.timeout)
	defer cancel()

	c.logger.Debug().Str("url", target).Msg("request")

	resp, err := c.http.R().
		SetContext(ctx).
		SetFormDataFromValues(form).
		Post(target)
	if err != nil {
		return nil, &TransportError{Op: http.MethodPost, URL: target, Err: err}
	}
	return resp, nil
}

// statusError converts a non-success response into an APIError.
func (c *Client) statusError(resp *resty.Response) error {
	code := resp.StatusCode()
	if code >= http.StatusInternalServerError {
		c.logger.Debug().Int("status", code).Str("body", truncateBody(resp.Body())).Msg("server error")
	}
	msg := http.StatusText(code)
	if msg == "" {
		msg = "unexpected status"
	}
	return &APIError{StatusCode: code, Message: msg, Body: truncateBody(resp.Body())}
}

func epochParam(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return strconv.FormatInt(t.Unix(), 10)
}

func redact(params url.Values) url.Values {
	out := url.Values{}
	for k, v := range params {
		if k == "jwt" || k == "pass" {
			out.Set(k, "REDACTED")
			continue
		}
		out[k] = v
	}
	return out
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// restyLogger forwards transport log lines into zerolog
type restyLogger struct {
	logger zerolog.Logger
}

func (l restyLogger) Errorf(format string, v ...any) {
	l.logger.Error().Str("source", "resty").Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l restyLogger) Warnf(format string, v ...any) {
	l.logger.Warn().Str("source", "resty").Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l restyLogger) Debugf(format string, v ...any) {
	l.logger.Debug().Str("source", "resty").Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}
