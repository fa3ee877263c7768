package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"emias_bot/internal/domain"
)

type countCollection interface {
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
}

// StatsProvider exposes record counts for metrics gauges and the owner stats
// command without leaking MongoDB internals to callers.
type StatsProvider struct {
	records countCollection
}

// NewStatsProvider constructs a StatsProvider backed by the records collection.
func NewStatsProvider(records countCollection) *StatsProvider {
	return &StatsProvider{records: records}
}

// CountRecords returns the number of onboarded chats.
func (p *StatsProvider) CountRecords(ctx context.Context) (int64, error) {
	return p.count(ctx, bson.D{}, "records")
}

// CountEligible returns the number of records with both personal fields set.
func (p *StatsProvider) CountEligible(ctx context.Context) (int64, error) {
	return p.count(ctx, domain.EligibleFilter(), "eligible records")
}

func (p *StatsProvider) count(ctx context.Context, filter interface{}, label string) (int64, error) {
	if ctx == nil {
		return 0, errors.New("context is required")
	}
	if p == nil || p.records == nil {
		return 0, errors.New("stats provider is not initialized")
	}

	count, err := p.records.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", label, err)
	}

	return count, nil
}
