// Package lmsdl downloads HLS lecture recordings and tracks every download as
// a session with live progress and a persistent history.
//
// Basic usage:
//
//	c, err := lmsdl.New()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer c.Close()
//
//	m := c.Manager()
//	m.Start(ctx)
//	id, err := m.Download(ctx, lmsdl.Request{
//		URL:   "https://example.com/master.m3u8",
//		Title: "Lecture 1",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	res, err := m.Wait(ctx, id)
//
// Or use the convenience function:
//
//	res, err := lmsdl.DownloadURL(ctx, "https://example.com/master.m3u8", "Lecture 1")
package lmsdl

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/mohaanymo/lmsdl/internal/config"
	"github.com/mohaanymo/lmsdl/internal/history"
	"github.com/mohaanymo/lmsdl/internal/httpclient"
)

// Settings is the full client configuration.
type Settings = config.Settings

// DefaultSettings returns the default configuration.
func DefaultSettings() *Settings {
	return config.New()
}

// LoadSettings reads the configuration file at path (or the default location
// when path is empty) with LMSDL_ environment overrides applied.
func LoadSettings(path string) (*Settings, error) {
	return config.Load(path)
}

// Client owns the shared resources of a downloader process.
type Client struct {
	settings *Settings
	log      zerolog.Logger
	manager  *Manager
}

type clientOptions struct {
	settings   *Settings
	log        zerolog.Logger
	httpClient *http.Client
	store      history.Store
	now        func() time.Time
}

// Option configures the client.
type Option func(*clientOptions)

// WithSettings replaces the default configuration.
func WithSettings(s *Settings) Option {
	return func(o *clientOptions) {
		o.settings = s
	}
}

// WithLogger sets the logger used by every component.
func WithLogger(l zerolog.Logger) Option {
	return func(o *clientOptions) {
		o.log = l
	}
}

// WithHTTPClient sets the client used for playlist and segment requests.
// Bandwidth limits and default headers from the settings are not applied to it.
func WithHTTPClient(c *http.Client) Option {
	return func(o *clientOptions) {
		o.httpClient = c
	}
}

// WithHistoryStore overrides the history backend selected by the settings.
func WithHistoryStore(s history.Store) Option {
	return func(o *clientOptions) {
		o.store = s
	}
}

// WithClock replaces time.Now for session timing.
func WithClock(now func() time.Time) Option {
	return func(o *clientOptions) {
		o.now = now
	}
}

// New creates a client with the given options.
func New(opts ...Option) (*Client, error) {
	o := &clientOptions{log: zerolog.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	if o.settings == nil {
		o.settings = config.New()
	}
	if err := o.settings.Validate(); err != nil {
		return nil, err
	}

	s := o.settings
	if o.httpClient == nil {
		o.httpClient = httpclient.NewWithRateLimit(httpclient.Config{
			UserAgent: s.Download.UserAgent,
			Headers:   s.Download.Headers,
		}, s.Download.MaxBandwidth)
	}
	if o.store == nil {
		store, err := history.Open(s.History.Backend, s.History.Path)
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		o.store = store
	}

	m, err := newManager(o)
	if err != nil {
		o.store.Close()
		return nil, err
	}

	return &Client{
		settings: s,
		log:      o.log,
		manager:  m,
	}, nil
}

// Manager returns the session manager.
func (c *Client) Manager() *Manager {
	return c.manager
}

// Settings returns the effective configuration.
func (c *Client) Settings() *Settings {
	return c.settings
}

// Close stops all downloads and releases the history store.
// Always call Close() when done, preferably with defer.
func (c *Client) Close() error {
	return c.manager.Close()
}

// DownloadURL is a convenience function for a single download.
// It blocks until the session finishes.
func DownloadURL(ctx context.Context, url, title string, opts ...Option) (*Result, error) {
	c, err := New(opts...)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	m := c.Manager()
	m.Start(ctx)

	id, err := m.Download(ctx, Request{URL: url, Title: title})
	if err != nil {
		return nil, err
	}
	return m.Wait(ctx, id)
}
