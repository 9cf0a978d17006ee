package combinedenergy

import (
	"context"
	"net/url"
	"time"
)

// ReadingsSource is what a ReadingsIterator pulls windows from.
// *Client implements it.
type ReadingsSource interface {
	Readings(ctx context.Context, start, end time.Time, increment int) (*Readings, error)
	StartLogSession(ctx context.Context) (bool, error)
}

// API is the full set of calls offered by Client
type API interface {
	ReadingsSource

	Login(ctx context.Context) (*Session, error)
	Request(ctx context.Context, endpoint string, params url.Values) (*RawResponse, error)
	User(ctx context.Context) (*CurrentUser, error)
	Installation(ctx context.Context) (*Installation, error)
	InstallationCustomers(ctx context.Context) (*InstallationCustomers, error)
	CommunicationStatus(ctx context.Context) (*ConnectionStatus, error)
	CommunicationHistory(ctx context.Context) (*ConnectionHistory, error)
	LastReadings(ctx context.Context, d time.Duration, increment int) (*Readings, error)
	Close()
}

var _ API = (*Client)(nil)
