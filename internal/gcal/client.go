// Package gcal wraps the Google Calendar v3 API for one user account.
package gcal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// ErrCallbackNotFound is returned when no callback url is configured for the user's redirect version
var ErrCallbackNotFound = errors.New("google callback url not found")

// Credentials are the OAuth client settings shared by all users
type Credentials struct {
	ClientID     string
	ClientSecret string
	Callbacks    map[string]string
	// Endpoint overrides the API base url, used by tests
	Endpoint string
	// TokenURL overrides Google's OAuth token endpoint
	TokenURL string
}

// Token is a user's stored grant
type Token struct {
	AccessToken        string
	RefreshToken       string
	RedirectURLVersion string
}

// ListOptions narrows an events list call
type ListOptions struct {
	TimeMin     string
	TimeMax     string
	UpdatedMin  string
	TimeZone    string
	ShowDeleted bool
}

// Client calls Calendar API on behalf of one user
type Client struct {
	service *calendar.Service
}

// NewClient builds an authorized client. The redirect url version picks the OAuth callback.
func NewClient(ctx context.Context, creds Credentials, token Token) (*Client, error) {
	callbackURL, ok := creds.Callbacks[token.RedirectURLVersion]
	if !ok || callbackURL == "" {
		return nil, fmt.Errorf("%w: version %q", ErrCallbackNotFound, token.RedirectURLVersion)
	}

	endpoint := google.Endpoint
	if creds.TokenURL != "" {
		endpoint.TokenURL = creds.TokenURL
	}
	conf := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  callbackURL,
		Endpoint:     endpoint,
		Scopes:       []string{calendar.CalendarScope},
	}
	ts := conf.TokenSource(ctx, seedToken(token))

	opts := []option.ClientOption{option.WithTokenSource(ts)}
	if creds.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(creds.Endpoint))
	}

	service, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return &Client{service: service}, nil
}

// seedToken turns the stored grant into the token source's starting point.
// The stored access token carries no expiry, so with a refresh token it is
// marked expired and exchanged before the first call.
func seedToken(token Token) *oauth2.Token {
	seed := &oauth2.Token{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    "Bearer",
	}
	if token.RefreshToken != "" {
		seed.Expiry = time.Unix(1, 0)
	}
	return seed
}

// NewClientWithHTTP builds a client over a preconfigured http client
func NewClientWithHTTP(ctx context.Context, httpClient *http.Client, endpoint string) (*Client, error) {
	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	service, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return &Client{service: service}, nil
}

// ListEvents returns every event matching opts across all result pages
func (c *Client) ListEvents(ctx context.Context, calendarID string, opts ListOptions) ([]*calendar.Event, error) {
	var events []*calendar.Event
	pageToken := ""
	for {
		call := c.service.Events.List(calendarID).
			Context(ctx).
			MaxResults(2500).
			SingleEvents(true).
			ShowDeleted(opts.ShowDeleted)
		if opts.TimeMin != "" {
			call = call.TimeMin(opts.TimeMin)
		}
		if opts.TimeMax != "" {
			call = call.TimeMax(opts.TimeMax)
		}
		if opts.UpdatedMin != "" {
			call = call.UpdatedMin(opts.UpdatedMin)
		}
		if opts.TimeZone != "" {
			call = call.TimeZone(opts.TimeZone)
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		res, err := call.Do()
		if err != nil {
			return nil, err
		}
		events = append(events, res.Items...)
		if res.NextPageToken == "" {
			return events, nil
		}
		pageToken = res.NextPageToken
	}
}

// GetEvent fetches one event
func (c *Client) GetEvent(ctx context.Context, calendarID, eventID string) (*calendar.Event, error) {
	return c.service.Events.Get(calendarID, eventID).Context(ctx).Do()
}

// InsertEvent creates an event
func (c *Client) InsertEvent(ctx context.Context, calendarID string, event *calendar.Event) (*calendar.Event, error) {
	return c.service.Events.Insert(calendarID, event).SupportsAttachments(true).Context(ctx).Do()
}

// UpdateEvent replaces an event
func (c *Client) UpdateEvent(ctx context.Context, calendarID, eventID string, event *calendar.Event) (*calendar.Event, error) {
	return c.service.Events.Update(calendarID, eventID, event).SupportsAttachments(true).Context(ctx).Do()
}

// DeleteEvent removes an event
func (c *Client) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	return c.service.Events.Delete(calendarID, eventID).Context(ctx).Do()
}

// MoveEvent moves an event to another calendar
func (c *Client) MoveEvent(ctx context.Context, calendarID, eventID, destinationID string) (*calendar.Event, error) {
	return c.service.Events.Move(calendarID, eventID, destinationID).Context(ctx).Do()
}

// ParseTime parses an RFC3339 timestamp from an API field, returning zero on failure
func ParseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
