// Package qdrant wraps the official Qdrant gRPC client for collections that
// carry several named dense vectors per point and numeric point ids.
package qdrant

import (
	"context"

	"github.com/qdrant/go-client/qdrant"
)

// Point is one record with its named vectors and payload.
type Point struct {
	ID      uint64
	Vectors map[string][]float32
	Payload map[string]any
}

// ScoredPoint is a query hit.
type ScoredPoint struct {
	Point
	Score float32
}

// CollectionSpec describes a collection of named cosine vectors.
type CollectionSpec struct {
	// Vectors maps each vector name to its dimension.
	Vectors map[string]uint64
	// Quantize enables INT8 scalar quantization kept in RAM.
	Quantize bool
}

// API is the subset of *qdrant.Client used here.
type API interface {
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Get(ctx context.Context, request *qdrant.GetPoints) ([]*qdrant.RetrievedPoint, error)
	Delete(ctx context.Context, request *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	Count(ctx context.Context, request *qdrant.CountPoints) (uint64, error)
	Scroll(ctx context.Context, request *qdrant.ScrollPoints) ([]*qdrant.RetrievedPoint, error)
	Close() error
}

var _ API = (*qdrant.Client)(nil)
