package indexer

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/reporadar/internal/logging"
	"github.com/fyrsmithlabs/reporadar/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// SeedPerTopic is how many search results are requested per topic.
const SeedPerTopic = 30

const seedSearchSort = "stars"

// DefaultTopics is the topic list the seeder walks, in search order.
var DefaultTopics = []string{
	"web-framework", "machine-learning", "cli-tool", "database", "game-engine",
	"mobile-app", "devops", "data-science", "api", "testing",
	"security", "blockchain", "compiler", "networking", "gui",
	"text-editor", "package-manager", "static-site-generator", "orm", "message-queue",
	"monitoring", "container", "search-engine", "http-client", "image-processing",
	"nlp", "embedded", "terminal", "linter", "build-tool",
	"deep-learning", "computer-vision", "reinforcement-learning", "chatbot", "llm",
	"generative-ai", "transformer", "pytorch", "tensorflow", "kubernetes",
	"docker", "terraform", "ansible", "ci-cd", "microservices",
	"graphql", "rest-api", "websocket", "grpc", "authentication",
	"oauth", "jwt", "encryption", "proxy", "load-balancer",
	"reverse-proxy", "web-scraping", "crawler", "automation", "bot",
	"discord-bot", "slack-bot", "telegram-bot", "react", "vue",
	"svelte", "nextjs", "tailwindcss", "css-framework", "component-library",
	"design-system", "icon", "font", "animation", "3d",
	"webgl", "game", "physics-engine", "audio", "video",
	"streaming", "media-player", "pdf", "markdown", "documentation",
	"wiki", "cms", "blog", "e-commerce", "payment",
	"email", "notification", "calendar", "dashboard", "admin-panel",
	"analytics", "logging", "tracing", "profiler", "debugger",
	"code-editor", "ide", "language-server", "syntax-highlighting", "code-formatter",
	"type-checker", "bundler", "transpiler", "interpreter", "virtual-machine",
	"operating-system", "filesystem", "distributed-system", "consensus", "raft",
	"cache", "redis", "sqlite", "postgresql", "mongodb",
	"elasticsearch", "time-series", "graph-database", "key-value-store", "data-pipeline",
	"etl", "data-visualization", "charting", "plotting", "geospatial",
	"maps", "gps", "iot", "robotics", "drone",
	"self-driving", "simulation", "scientific-computing", "bioinformatics", "quantum-computing",
	"cryptography", "hashing", "vpn", "firewall", "malware-analysis",
	"penetration-testing", "vulnerability-scanner", "password-manager", "blockchain-ethereum", "smart-contracts",
	"defi", "nft", "cryptocurrency", "wallet", "cross-platform",
	"flutter", "react-native", "electron", "tauri", "wasm",
	"serverless", "lambda", "edge-computing", "cdn", "dns",
	"http-server", "web-server", "rate-limiting", "queue", "task-scheduler",
	"cron", "workflow-engine", "state-machine", "parser", "serialization",
	"protobuf", "json", "yaml", "xml", "csv",
	"regex", "math", "statistics", "linear-algebra", "optimization",
	"genetic-algorithm", "neural-network", "speech-recognition", "text-to-speech", "translation",
	"sentiment-analysis", "recommendation-system", "collaborative-filtering", "feature-engineering", "model-serving",
	"mlops", "jupyter", "notebook",
}

// Searcher runs GitHub repository searches. *github.Client implements it.
type Searcher interface {
	SearchRepositories(ctx context.Context, query, sort string, perPage int) ([]repository.Metadata, error)
}

// BatchIndexer indexes a list of repositories. *Pipeline implements it.
type BatchIndexer interface {
	IndexBatch(ctx context.Context, ids []repository.Identity, force bool) repository.BatchIndexResult
}

var _ BatchIndexer = (*Pipeline)(nil)

// Seeder populates an empty index from topic searches.
type Seeder struct {
	searcher Searcher
	indexer  BatchIndexer
	logger   *logging.Logger
	topics   []string
	limiter  *rate.Limiter
}

// SeederOption configures a Seeder.
type SeederOption func(*Seeder)

// WithTopics replaces DefaultTopics.
func WithTopics(topics []string) SeederOption {
	return func(s *Seeder) { s.topics = topics }
}

// WithSearchLimiter replaces the default two-searches-per-second limiter.
func WithSearchLimiter(l *rate.Limiter) SeederOption {
	return func(s *Seeder) { s.limiter = l }
}

// NewSeeder builds a Seeder.
func NewSeeder(searcher Searcher, indexer BatchIndexer, logger *logging.Logger, opts ...SeederOption) *Seeder {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Seeder{
		searcher: searcher,
		indexer:  indexer,
		logger:   logger,
		topics:   DefaultTopics,
		limiter:  rate.NewLimiter(rate.Limit(2), 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SeedOptions controls one seeding run.
type SeedOptions struct {
	MinStars int
	// Limit caps the candidate list; zero means no cap.
	Limit  int
	DryRun bool
}

// SeedReport describes a seeding run. Result is nil on a dry run.
type SeedReport struct {
	Candidates   []repository.Identity
	FailedTopics []string
	Result       *repository.BatchIndexResult
}

// Seed searches every topic for repositories above MinStars, dedupes them
// in first-seen order, and indexes them without forcing. A failed topic
// search is logged and skipped. Only context cancellation aborts the run.
func (s *Seeder) Seed(ctx context.Context, opts SeedOptions) (SeedReport, error) {
	ctx = logging.WithRunID(ctx, uuid.NewString())
	var report SeedReport
	seen := make(map[string]struct{})

	for _, topic := range s.topics {
		if err := s.limiter.Wait(ctx); err != nil {
			return report, err
		}
		query := fmt.Sprintf("topic:%s stars:>%d", topic, opts.MinStars)
		found, err := s.searcher.SearchRepositories(ctx, query, seedSearchSort, SeedPerTopic)
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			s.logger.Warn(ctx, "topic search failed", zap.String("topic", topic), zap.Error(err))
			report.FailedTopics = append(report.FailedTopics, topic)
			continue
		}

		added := 0
		for _, meta := range found {
			id, err := meta.Identity()
			if err != nil {
				continue
			}
			if _, dup := seen[id.FullName()]; dup {
				continue
			}
			seen[id.FullName()] = struct{}{}
			report.Candidates = append(report.Candidates, id)
			added++
		}
		s.logger.Debug(ctx, "searched topic",
			zap.String("topic", topic),
			zap.Int("results", len(found)),
			zap.Int("new", added),
		)
	}

	if opts.Limit > 0 && len(report.Candidates) > opts.Limit {
		report.Candidates = report.Candidates[:opts.Limit]
	}
	s.logger.Info(ctx, "collected seed candidates",
		zap.Int("candidates", len(report.Candidates)),
		zap.Int("failed_topics", len(report.FailedTopics)),
	)

	if opts.DryRun {
		for _, id := range report.Candidates {
			s.logger.Info(ctx, "would index", zap.String("repo", id.FullName()))
		}
		return report, nil
	}

	result := s.indexer.IndexBatch(ctx, report.Candidates, false)
	report.Result = &result
	return report, nil
}
