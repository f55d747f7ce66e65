// Package search implements merged, deduplicated cross-entity search:
// a direct search over the primary kind and a derived search through the
// related kind, joined into one result set.
package search

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/relaypoint/crm-gateway/pkg/crm"
)

// Source reports which branch produced a result.
type Source string

const (
	// SourceDirect marks hits from searching the primary kind itself.
	SourceDirect Source = "direct"

	// SourceDerived marks hits reached through the related kind.
	SourceDerived Source = "derived"
)

// EnrichmentCompanyName is the enrichment key carrying the display name
// of the related company.
const EnrichmentCompanyName = "company_name"

// searchLimit caps each branch's remote search.
const searchLimit = 100

// batchReadLimit is the platform cap on ids per batch read.
const batchReadLimit = 100

// Result is one merged search hit. Ids are unique across the whole
// output; the first branch to produce an id decides its position.
type Result struct {
	Record     crm.Record
	Source     Source
	Enrichment map[string]string
}

// Collection is the kind-bound remote surface each branch searches.
// *crm.Collection satisfies it.
type Collection interface {
	Kind() string
	Search(ctx context.Context, query string, limit int) ([]crm.Record, error)
	BatchRead(ctx context.Context, ids []string) ([]crm.Record, error)
}

// Resolver resolves associations between the two kinds.
// *assoc.Resolver satisfies it.
type Resolver interface {
	ResolveBatch(ctx context.Context, fromKind, toKind string, fromIDs []string) (map[string][]string, error)
}

// Recorder receives direct-branch hits for caching. *cache.Cache
// satisfies it. Optional; recording failures never fail a search.
type Recorder interface {
	UpsertBulk(ctx context.Context, ownerID string, records []crm.Record) error
}

// Merger runs both search branches and merges their results.
type Merger struct {
	primary  Collection
	related  Collection
	resolver Resolver
	recorder Recorder
	logger   zerolog.Logger
}

// NewMerger creates a merger over the primary and related collections.
// recorder may be nil.
func NewMerger(primary, related Collection, resolver Resolver, recorder Recorder) *Merger {
	return &Merger{
		primary:  primary,
		related:  related,
		resolver: resolver,
		recorder: recorder,
		logger:   log.With().Str("component", "crm-search").Logger(),
	}
}

// Search runs the direct and derived branches concurrently and merges
// them. A failure in one branch is isolated: the other branch's results
// are still returned. Only when both branches fail does Search return an
// error.
func (m *Merger) Search(ctx context.Context, ownerID, query string) ([]Result, error) {
	var (
		wg                    sync.WaitGroup
		direct, derived       []Result
		directErr, derivedErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		direct, directErr = m.directBranch(ctx, ownerID, query)
	}()
	go func() {
		defer wg.Done()
		derived, derivedErr = m.derivedBranch(ctx, query)
	}()
	wg.Wait()

	if directErr != nil && derivedErr != nil {
		return nil, fmt.Errorf("both search branches failed: direct: %v; derived: %w", directErr, derivedErr)
	}
	if directErr != nil {
		m.logger.Warn().Err(directErr).Str("query", query).Msg("Direct search branch failed - partial results")
	}
	if derivedErr != nil {
		m.logger.Warn().Err(derivedErr).Str("query", query).Msg("Derived search branch failed - partial results")
	}

	return merge(direct, derived), nil
}

// directBranch searches the primary kind and enriches each hit with the
// display name of its related record. The relationship is treated as
// singular here: the first associated id wins, per the resolver's
// remote-order guarantee.
func (m *Merger) directBranch(ctx context.Context, ownerID, query string) ([]Result, error) {
	hits, err := m.primary.Search(ctx, query, searchLimit)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}

	if m.recorder != nil {
		if err := m.recorder.UpsertBulk(ctx, ownerID, hits); err != nil {
			m.logger.Warn().Err(err).Msg("Failed to record search hits in cache")
		}
	}

	ids := recordIDs(hits)
	edges, err := m.resolver.ResolveBatch(ctx, m.primary.Kind(), m.related.Kind(), ids)
	if err != nil {
		return nil, err
	}

	// First-wins: edges[id][0] is "the" related record of each hit.
	relatedOf := make(map[string]string, len(hits))
	var relatedIDs []string
	seenRelated := make(map[string]bool)
	for _, id := range ids {
		if len(edges[id]) == 0 {
			continue
		}
		relatedID := edges[id][0]
		relatedOf[id] = relatedID
		if !seenRelated[relatedID] {
			seenRelated[relatedID] = true
			relatedIDs = append(relatedIDs, relatedID)
		}
	}

	names, err := m.relatedNames(ctx, relatedIDs)
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(hits))
	for i, hit := range hits {
		results[i] = Result{Record: hit, Source: SourceDirect}
		if name, found := names[relatedOf[hit.ID]]; found {
			results[i].Enrichment = map[string]string{EnrichmentCompanyName: name}
		}
	}
	return results, nil
}

// derivedBranch searches the related kind, reverse-resolves each hit to
// its primary records, and attaches the related display name to each.
func (m *Merger) derivedBranch(ctx context.Context, query string) ([]Result, error) {
	relatedHits, err := m.related.Search(ctx, query, searchLimit)
	if err != nil {
		return nil, err
	}
	if len(relatedHits) == 0 {
		return nil, nil
	}

	edges, err := m.resolver.ResolveBatch(ctx, m.related.Kind(), m.primary.Kind(), recordIDs(relatedHits))
	if err != nil {
		return nil, err
	}

	// Walk related hits in arrival order; the first related record to
	// claim a primary id provides its enrichment.
	nameOf := make(map[string]string)
	var primaryIDs []string
	for _, relatedHit := range relatedHits {
		for _, primaryID := range edges[relatedHit.ID] {
			if _, claimed := nameOf[primaryID]; claimed {
				continue
			}
			nameOf[primaryID] = relatedHit.Properties.Name
			primaryIDs = append(primaryIDs, primaryID)
		}
	}
	if len(primaryIDs) == 0 {
		return nil, nil
	}

	records, err := m.batchReadAll(ctx, m.primary, primaryIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]crm.Record, len(records))
	for _, record := range records {
		byID[record.ID] = record
	}

	var results []Result
	for _, id := range primaryIDs {
		record, found := byID[id]
		if !found {
			continue
		}
		result := Result{Record: record, Source: SourceDerived}
		if name := nameOf[id]; name != "" {
			result.Enrichment = map[string]string{EnrichmentCompanyName: name}
		}
		results = append(results, result)
	}
	return results, nil
}

// relatedNames batch-reads related records and maps id to display name.
func (m *Merger) relatedNames(ctx context.Context, ids []string) (map[string]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	records, err := m.batchReadAll(ctx, m.related, ids)
	if err != nil {
		return nil, err
	}

	names := make(map[string]string, len(records))
	for _, record := range records {
		if record.Properties.Name != "" {
			names[record.ID] = record.Properties.Name
		}
	}
	return names, nil
}

// batchReadAll chunks ids at the platform's batch cap.
func (m *Merger) batchReadAll(ctx context.Context, col Collection, ids []string) ([]crm.Record, error) {
	var records []crm.Record
	for start := 0; start < len(ids); start += batchReadLimit {
		end := start + batchReadLimit
		if end > len(ids) {
			end = len(ids)
		}
		chunk, err := col.BatchRead(ctx, ids[start:end])
		if err != nil {
			return nil, err
		}
		records = append(records, chunk...)
	}
	return records, nil
}

// merge deduplicates by primary id: direct results first in arrival
// order, then unseen derived results. When a derived duplicate carries
// enrichment the direct occurrence lacked, the enrichment is attached to
// the kept result.
func merge(direct, derived []Result) []Result {
	merged := make([]Result, 0, len(direct)+len(derived))
	position := make(map[string]int, len(direct))

	for _, result := range direct {
		if _, seen := position[result.Record.ID]; seen {
			continue
		}
		position[result.Record.ID] = len(merged)
		merged = append(merged, result)
	}

	for _, result := range derived {
		at, seen := position[result.Record.ID]
		if seen {
			if merged[at].Enrichment == nil && result.Enrichment != nil {
				merged[at].Enrichment = result.Enrichment
			}
			continue
		}
		position[result.Record.ID] = len(merged)
		merged = append(merged, result)
	}
	return merged
}

func recordIDs(records []crm.Record) []string {
	ids := make([]string, len(records))
	for i, record := range records {
		ids[i] = record.ID
	}
	return ids
}
