// Package assoc resolves many-to-many associations between two CRM
// entity kinds through the platform's batch association endpoint.
package assoc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/relaypoint/crm-gateway/pkg/client"
)

// BatchLimit is the platform's hard cap on ids per batch association call.
const BatchLimit = 100

// Resolver batch-resolves id-to-ids links between two entity kinds.
//
// Resolved edges preserve remote-returned order. The resolver makes no
// singularity assumption: callers treating a relationship as 1:1 take
// the first element themselves and must document that convention at the
// call site.
type Resolver struct {
	client *client.Client
	logger zerolog.Logger
}

// NewResolver creates an association resolver on top of a gateway.
func NewResolver(c *client.Client) *Resolver {
	return &Resolver{
		client: c,
		logger: log.With().Str("component", "crm-assoc").Logger(),
	}
}

// batchReadResponse is the wire shape of a batch association read.
type batchReadResponse struct {
	Results []struct {
		From struct {
			ID string `json:"id"`
		} `json:"from"`
		To []struct {
			ID string `json:"id"`
		} `json:"to"`
	} `json:"results"`
}

// ResolveBatch resolves the toKind associations of every id in fromIDs.
// Ids are chunked at the platform's batch limit, one gateway call per
// chunk, and the per-chunk maps are merged (keys are disjoint by
// construction). Every input id is present in the result, with an empty
// slice when it has no edges. Any chunk failure aborts the whole call:
// a partial map would make "resolution failed" indistinguishable from
// "no association exists".
func (r *Resolver) ResolveBatch(ctx context.Context, fromKind, toKind string, fromIDs []string) (map[string][]string, error) {
	edges := make(map[string][]string, len(fromIDs))
	for _, id := range fromIDs {
		edges[id] = nil
	}

	for start := 0; start < len(fromIDs); start += BatchLimit {
		end := start + BatchLimit
		if end > len(fromIDs) {
			end = len(fromIDs)
		}

		if err := r.resolveChunk(ctx, fromKind, toKind, fromIDs[start:end], edges); err != nil {
			return nil, fmt.Errorf("resolve %s->%s associations: %w", fromKind, toKind, err)
		}
	}

	r.logger.Debug().
		Str("from", fromKind).
		Str("to", toKind).
		Int("ids", len(fromIDs)).
		Msg("Association batch resolved")

	return edges, nil
}

// resolveChunk issues one batch read and folds the edges into out.
func (r *Resolver) resolveChunk(ctx context.Context, fromKind, toKind string, ids []string, out map[string][]string) error {
	inputs := make([]map[string]string, len(ids))
	for i, id := range ids {
		inputs[i] = map[string]string{"id": id}
	}

	raw, err := r.client.Post(ctx, "/associations/"+fromKind+"/"+toKind+"/batch/read", map[string]any{
		"inputs": inputs,
	})
	if err != nil {
		return err
	}

	var resp batchReadResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("decode batch read: %w", err)
	}

	for _, result := range resp.Results {
		toIDs := make([]string, 0, len(result.To))
		for _, to := range result.To {
			toIDs = append(toIDs, to.ID)
		}
		out[result.From.ID] = toIDs
	}
	return nil
}
