package http

import (
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/reporadar/internal/repository"
	"github.com/fyrsmithlabs/reporadar/internal/vectorstore"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Search defaults and bounds.
const (
	DefaultWeightPurpose = 0.7
	DefaultWeightStack   = 0.3
	DefaultLimit         = 20
	MaxLimit             = 100
	searchMinScore       = 0.1
)

// SearchRequest is the request body for POST /api/search. Omitted fields
// take the defaults above.
type SearchRequest struct {
	RepoURL       string   `json:"repo_url"`
	WeightPurpose *float64 `json:"weight_purpose"`
	WeightStack   *float64 `json:"weight_stack"`
	Limit         *int     `json:"limit"`
	MinStars      int      `json:"min_stars"`
}

// SearchResultItem is one similar repository.
type SearchResultItem struct {
	FullName        string   `json:"full_name"`
	URL             string   `json:"url"`
	Description     string   `json:"description"`
	Topics          []string `json:"topics"`
	LanguagePrimary string   `json:"language_primary"`
	Stars           int      `json:"stars"`
	SimilarityScore float64  `json:"similarity_score"`
	PurposeScore    float64  `json:"purpose_score"`
	StackScore      float64  `json:"stack_score"`
}

// QueryRepo identifies the repository a search was run for.
type QueryRepo struct {
	FullName    string `json:"full_name"`
	Description string `json:"description"`
}

// SearchResponse is the response body for POST /api/search.
type SearchResponse struct {
	QueryRepo    QueryRepo          `json:"query_repo"`
	Results      []SearchResultItem `json:"results"`
	IndexedCount int                `json:"indexed_count"`
	SearchTimeMS float64            `json:"search_time_ms"`
}

// IndexRequest is the request body for POST /api/index.
type IndexRequest struct {
	RepoURL string `json:"repo_url"`
}

// IndexResponse is the response body for POST /api/index.
type IndexResponse struct {
	Status   repository.IndexStatus `json:"status"`
	RepoID   int64                  `json:"repo_id"`
	FullName string                 `json:"full_name"`
}

// HealthResponse is the response body for GET /api/health.
type HealthResponse struct {
	Status                   string `json:"status"`
	IndexedRepos             int    `json:"indexed_repos"`
	QdrantConnected          bool   `json:"qdrant_connected"`
	GitHubRateLimitRemaining *int   `json:"github_rate_limit_remaining"`
}

type searchParams struct {
	weightPurpose, weightStack float64
	limit                      int
	minStars                   int
}

func (r SearchRequest) validate() (searchParams, error) {
	p := searchParams{
		weightPurpose: DefaultWeightPurpose,
		weightStack:   DefaultWeightStack,
		limit:         DefaultLimit,
		minStars:      r.MinStars,
	}
	if r.WeightPurpose != nil {
		p.weightPurpose = *r.WeightPurpose
	}
	if r.WeightStack != nil {
		p.weightStack = *r.WeightStack
	}
	if r.Limit != nil {
		p.limit = *r.Limit
	}

	if p.weightPurpose < 0 || p.weightPurpose > 1 {
		return p, fmt.Errorf("weight_purpose must be between 0 and 1")
	}
	if p.weightStack < 0 || p.weightStack > 1 {
		return p, fmt.Errorf("weight_stack must be between 0 and 1")
	}
	if total := p.weightPurpose + p.weightStack; total < 0.99 || total > 1.01 {
		return p, fmt.Errorf("weight_purpose + weight_stack must equal 1.0, got %g", total)
	}
	if p.limit < 1 || p.limit > MaxLimit {
		return p, fmt.Errorf("limit must be between 1 and %d", MaxLimit)
	}
	return p, nil
}

// handleSearch indexes the query repository if needed and returns its
// nearest neighbours, excluding itself.
func (s *Server) handleSearch(c echo.Context) error {
	ctx := c.Request().Context()

	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(ctx, "invalid search request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	params, err := req.validate()
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	id, err := repository.ParseIdentity(req.RepoURL)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	start := time.Now()

	indexed := s.indexer.IndexSingleRepo(ctx, id.Owner, id.Name, false)
	if indexed.Status == repository.StatusFailed {
		return echo.NewHTTPError(http.StatusBadGateway, "Failed to index: "+indexed.Message)
	}
	queryID := uint64(indexed.RepoID)

	purpose, stack, ok, err := s.store.GetVectors(ctx, queryID)
	if err != nil {
		s.logger.Error(ctx, "failed to load query vectors", zap.Error(err), zap.Uint64("repo_id", queryID))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load repository vectors")
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "Repo vectors not found after indexing")
	}

	hits, err := s.store.SearchSimilar(ctx, vectorstore.SearchQuery{
		Purpose:       purpose,
		Stack:         stack,
		WeightPurpose: params.weightPurpose,
		WeightStack:   params.weightStack,
		Limit:         params.limit + 1,
		MinScore:      searchMinScore,
	})
	if err != nil {
		s.logger.Error(ctx, "similarity search failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "search failed")
	}

	items := make([]SearchResultItem, 0, params.limit)
	for _, h := range hits {
		if h.ID == queryID {
			continue
		}
		if params.minStars > 0 && h.Payload.Stars < params.minStars {
			continue
		}
		items = append(items, SearchResultItem{
			FullName:        h.Payload.FullName,
			URL:             h.Payload.URL,
			Description:     h.Payload.Description,
			Topics:          nonNil(h.Payload.Topics),
			LanguagePrimary: h.Payload.LanguagePrimary,
			Stars:           h.Payload.Stars,
			SimilarityScore: round(h.Score, 4),
			PurposeScore:    round(h.PurposeScore, 4),
			StackScore:      round(h.StackScore, 4),
		})
		if len(items) >= params.limit {
			break
		}
	}
	elapsed := float64(time.Since(start).Microseconds()) / 1000

	indexedCount := 0
	if stats, err := s.store.Stats(ctx); err == nil {
		indexedCount = stats.Count
	} else {
		s.logger.Warn(ctx, "failed to read store stats", zap.Error(err))
	}

	return c.JSON(http.StatusOK, SearchResponse{
		QueryRepo:    QueryRepo{FullName: indexed.FullName, Description: indexed.Description},
		Results:      items,
		IndexedCount: indexedCount,
		SearchTimeMS: round(elapsed, 1),
	})
}

// handleIndex force re-indexes one repository.
func (s *Server) handleIndex(c echo.Context) error {
	ctx := c.Request().Context()

	var req IndexRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(ctx, "invalid index request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	id, err := repository.ParseIdentity(req.RepoURL)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	result := s.indexer.IndexSingleRepo(ctx, id.Owner, id.Name, true)
	if result.Status == repository.StatusFailed {
		return echo.NewHTTPError(http.StatusBadGateway, "Indexing failed: "+result.Message)
	}
	return c.JSON(http.StatusOK, IndexResponse{
		Status:   result.Status,
		RepoID:   result.RepoID,
		FullName: result.FullName,
	})
}

// handleHealth reports store reachability and the last seen GitHub quota.
// It always answers 200; a store failure only marks the status degraded.
func (s *Server) handleHealth(c echo.Context) error {
	ctx := c.Request().Context()
	resp := HealthResponse{Status: "ok", QdrantConnected: true}

	stats, err := s.store.Stats(ctx)
	if err != nil {
		s.logger.Warn(ctx, "health check: store unavailable", zap.Error(err))
		resp.Status = "degraded"
		resp.QdrantConnected = false
	} else {
		resp.IndexedRepos = stats.Count
	}

	if s.quota != nil {
		if remaining, ok := s.quota.RateLimitRemaining(); ok {
			resp.GitHubRateLimitRemaining = &remaining
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
