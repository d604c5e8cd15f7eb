// Package github is a rate-limit-aware client for the GitHub REST API.
//
// A Client owns one app-token session and the quota state observed on it.
// Before each request the session blocks while the last observed quota is
// below LowWaterMark and a reset time is known.
package github

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/reporadar/internal/logging"
	"github.com/fyrsmithlabs/reporadar/internal/manifest"
	"github.com/fyrsmithlabs/reporadar/internal/repository"
)

// DefaultRequestTimeout bounds every API call.
const DefaultRequestTimeout = 30 * time.Second

// Config configures a Client.
type Config struct {
	// Token is the app token. Empty means unauthenticated requests.
	Token string

	// RequestTimeout is applied per HTTP call. Default 30s.
	RequestTimeout time.Duration

	// BaseURL overrides https://api.github.com/.
	BaseURL string
}

// Option customises a Client.
type Option func(*Client)

// WithLogger sets the logger used for throttle warnings.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithTransport sets the base transport beneath auth and throttling.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.base = rt }
}

// WithClock replaces time.Now and the context-aware sleep.
func WithClock(now func() time.Time, sleep func(context.Context, time.Duration) error) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// Client wraps go-github with quota-aware throttling.
type Client struct {
	api     *gh.Client
	quota   *quota
	baseURL *url.URL
	timeout time.Duration

	base   http.RoundTripper
	now    func() time.Time
	sleep  func(context.Context, time.Duration) error
	logger *logging.Logger
}

// New builds a Client for the app token in cfg.
func New(cfg Config, opts ...Option) (*Client, error) {
	c := &Client{
		quota:   &quota{},
		timeout: cfg.RequestTimeout,
		base:    http.DefaultTransport,
		now:     time.Now,
		sleep:   sleepContext,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout <= 0 {
		c.timeout = DefaultRequestTimeout
	}

	if cfg.BaseURL != "" {
		u, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("parsing github base url: %w", err)
		}
		c.baseURL = u
	}

	c.api = c.newSession(cfg.Token, c.quota)
	return c, nil
}

// newSession builds a go-github client whose transport chain is
// throttle -> oauth2 -> base, tracking quota in q.
func (c *Client) newSession(token string, q *quota) *gh.Client {
	rt := c.base
	if token != "" {
		rt = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}),
			Base:   c.base,
		}
	}
	httpClient := &http.Client{
		Timeout: c.timeout,
		Transport: &throttle{
			next:   rt,
			quota:  q,
			now:    c.now,
			sleep:  c.sleep,
			logger: c.logger,
		},
	}

	api := gh.NewClient(httpClient)
	if c.baseURL != nil {
		api.BaseURL = c.baseURL
	}
	return api
}

// RateLimitRemaining reports the last observed app-token quota. ok is false
// until a response has carried the header.
func (c *Client) RateLimitRemaining() (remaining int, ok bool) {
	return c.quota.snapshot()
}

// apiContext makes go-github hand every request to the throttle. Without
// it go-github fails locally with a RateLimitError once a response has
// reported zero remaining, and the throttle never gets to wait.
func (c *Client) apiContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, gh.BypassRateLimitCheck, true)
}

// decodeContent returns a file's decoded body. GitHub sends encoding "none"
// with no content for files over 1 MB; ok is false for those.
func decodeContent(file *gh.RepositoryContent) (content string, ok bool, err error) {
	if file.GetEncoding() == "none" {
		return "", false, nil
	}
	content, err = file.GetContent()
	if err != nil {
		return "", false, err
	}
	return content, true, nil
}

// FetchMetadata returns the repository's metadata.
func (c *Client) FetchMetadata(ctx context.Context, owner, name string) (repository.Metadata, error) {
	repo, resp, err := c.api.Repositories.Get(c.apiContext(ctx), owner, name)
	if err != nil {
		return repository.Metadata{}, wrap(owner+"/"+name, resp, err)
	}
	return toMetadata(repo), nil
}

// FetchReadme returns the decoded default README. found is false when the
// repository has none.
func (c *Client) FetchReadme(ctx context.Context, owner, name string) (content string, found bool, err error) {
	file, resp, err := c.api.Repositories.GetReadme(c.apiContext(ctx), owner, name, nil)
	if err != nil {
		if isNotFound(resp) {
			return "", false, nil
		}
		return "", false, wrap(owner+"/"+name, resp, err)
	}
	content, ok, err := decodeContent(file)
	if err != nil {
		return "", false, &FetchError{Resource: owner + "/" + name, Err: fmt.Errorf("decoding readme: %w", err)}
	}
	return content, ok, nil
}

// FetchLanguages returns each language's share of bytes as a percentage
// rounded to one decimal.
func (c *Client) FetchLanguages(ctx context.Context, owner, name string) (map[string]float64, error) {
	raw, resp, err := c.api.Repositories.ListLanguages(c.apiContext(ctx), owner, name)
	if err != nil {
		return nil, wrap(owner+"/"+name, resp, err)
	}
	return languagePercentages(raw), nil
}

func languagePercentages(raw map[string]int) map[string]float64 {
	total := 0
	for _, n := range raw {
		total += n
	}
	out := make(map[string]float64, len(raw))
	if total == 0 {
		return out
	}
	for lang, n := range raw {
		out[lang] = math.Round(float64(n)/float64(total)*1000) / 10
	}
	return out
}

// FetchManifests probes the repository root for every manifest.Filenames
// entry concurrently. Missing files and directories are omitted; results
// keep the probe order.
func (c *Client) FetchManifests(ctx context.Context, owner, name string) ([]repository.ManifestEntry, error) {
	found := make([]*repository.ManifestEntry, len(manifest.Filenames))

	g, gctx := errgroup.WithContext(c.apiContext(ctx))
	for i, filename := range manifest.Filenames {
		g.Go(func() error {
			file, _, resp, err := c.api.Repositories.GetContents(gctx, owner, name, filename, nil)
			if err != nil {
				if isNotFound(resp) {
					return nil
				}
				return wrap(owner+"/"+name, resp, err)
			}
			if file == nil {
				return nil
			}
			content, ok, err := decodeContent(file)
			if err != nil {
				return &FetchError{Resource: owner + "/" + name, Err: fmt.Errorf("decoding %s: %w", filename, err)}
			}
			if !ok {
				return nil
			}
			found[i] = &repository.ManifestEntry{Filename: filename, Content: content}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	entries := make([]repository.ManifestEntry, 0, len(found))
	for _, e := range found {
		if e != nil {
			entries = append(entries, *e)
		}
	}
	return entries, nil
}

// SearchRepositories runs a repository search, e.g. "topic:cli stars:>50".
func (c *Client) SearchRepositories(ctx context.Context, query, sort string, perPage int) ([]repository.Metadata, error) {
	opts := &gh.SearchOptions{
		Sort:        sort,
		ListOptions: gh.ListOptions{PerPage: perPage},
	}
	result, resp, err := c.api.Search.Repositories(c.apiContext(ctx), query, opts)
	if err != nil {
		return nil, wrap("search "+query, resp, err)
	}
	out := make([]repository.Metadata, 0, len(result.Repositories))
	for _, r := range result.Repositories {
		out = append(out, toMetadata(r))
	}
	return out, nil
}

// ListUserRepositories lists up to 100 repositories visible to userToken,
// most recently updated first.
//
// The call runs on its own session: the app token is never attached and the
// app quota is neither read nor updated.
func (c *Client) ListUserRepositories(ctx context.Context, userToken string) ([]repository.Metadata, error) {
	if userToken == "" {
		return nil, &FetchError{Resource: "user/repos", Err: fmt.Errorf("user token is required")}
	}
	api := c.newSession(userToken, &quota{})

	req, err := api.NewRequest(http.MethodGet, "user/repos?sort=updated&per_page=100", nil)
	if err != nil {
		return nil, &FetchError{Resource: "user/repos", Err: err}
	}
	var repos []*gh.Repository
	resp, err := api.Do(c.apiContext(ctx), req, &repos)
	if err != nil {
		return nil, wrap("user/repos", resp, err)
	}

	out := make([]repository.Metadata, 0, len(repos))
	for _, r := range repos {
		out = append(out, toMetadata(r))
	}
	c.logger.Debug(ctx, "listed user repositories", zap.Int("count", len(out)))
	return out, nil
}

func toMetadata(r *gh.Repository) repository.Metadata {
	m := repository.Metadata{
		ID:          r.GetID(),
		FullName:    r.GetFullName(),
		URL:         r.GetHTMLURL(),
		Description: r.GetDescription(),
		Topics:      append([]string{}, r.Topics...),
		Language:    r.GetLanguage(),
		Stars:       r.GetStargazersCount(),
		Forks:       r.GetForksCount(),
	}
	if r.UpdatedAt != nil {
		t := r.UpdatedAt.Time
		m.UpdatedAt = &t
	}
	return m
}
