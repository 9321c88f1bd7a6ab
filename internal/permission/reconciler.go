package permission

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkazmin/clientd/internal/api"
)

// Reconciler loads permission records and commits drafts against the
// backend. Stateless between calls.
type Reconciler struct {
	api *api.Client
}

// NewReconciler creates a permission reconciler over the given API client.
func NewReconciler(client *api.Client) *Reconciler {
	return &Reconciler{api: client}
}

// Load fetches the current permissions for a client. Permission reads never
// fail the caller: any error, 404 included, degrades to the supplied
// fallback record. This asymmetry with validity is deliberate and load
// failures are only logged.
func (r *Reconciler) Load(ctx context.Context, clientID string, fallback Record) Record {
	raw, err := r.api.Get(ctx, fmt.Sprintf("/api/clients/%s/permissions", clientID))
	if err != nil {
		log.Warn().Err(err).Str("client", clientID).Msg("Permission load failed, using defaults")
		return fallback
	}

	obj, err := api.Extract(raw, "permissions")
	if err != nil {
		log.Warn().Err(err).Str("client", clientID).Msg("Unrecognized permission response, using defaults")
		return fallback
	}

	var rec Record
	if err := json.Unmarshal(obj, &rec); err != nil {
		log.Warn().Err(err).Str("client", clientID).Msg("Undecodable permission response, using defaults")
		return fallback
	}

	return rec
}

// Commit sends the entire draft as one PATCH with full-replace semantics.
// On success the response body becomes the new authoritative record and the
// matching clean draft is returned with it. On failure the caller keeps its
// draft untouched, so nothing the operator typed is lost.
func (r *Reconciler) Commit(ctx context.Context, clientID string, d Draft) (Record, error) {
	raw, err := r.api.Patch(ctx, fmt.Sprintf("/api/clients/%s/permissions", clientID), Record(d))
	if err != nil {
		log.Warn().Err(err).Str("client", clientID).Msg("Permission commit failed")
		return Record{}, err
	}

	// The response is the updated record. If the backend answers with an
	// empty or unrecognizable body, the accepted draft is the record: the
	// PATCH replaced the full object.
	rec := Record(d)
	if obj, err := api.Extract(raw, "permissions"); err == nil {
		var parsed Record
		if json.Unmarshal(obj, &parsed) == nil {
			rec = parsed
		}
	}

	log.Info().Str("client", clientID).Msg("Permissions committed")
	return rec, nil
}
