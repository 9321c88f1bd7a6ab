package validity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkazmin/clientd/internal/api"
)

// Reconciler loads validity records and commits drafts against the backend.
// It keeps no state between commits; a commit is a function of the draft and
// the last-known record plus the side effects of executing the plan.
type Reconciler struct {
	api *api.Client
	now func() time.Time
}

// NewReconciler creates a validity reconciler over the given API client.
func NewReconciler(client *api.Client) *Reconciler {
	return &Reconciler{api: client, now: time.Now}
}

// Load fetches the current validity record for a client. A backend 404 is
// not an error: accounts without a validity row yield the canonical unknown
// record. Every other failure surfaces as *api.FetchError; no retry here,
// retries are the caller's business.
func (r *Reconciler) Load(ctx context.Context, clientID string) (Record, error) {
	raw, err := r.api.Get(ctx, fmt.Sprintf("/api/account/%s/validity", clientID))
	if api.IsNotFound(err) {
		return Unknown(), nil
	}
	if err != nil {
		return Record{}, err
	}

	obj, err := api.Extract(raw, "validity")
	if err != nil {
		return Record{}, err
	}

	var rec Record
	if err := json.Unmarshal(obj, &rec); err != nil {
		return Record{}, &api.FetchError{Message: fmt.Sprintf("decode validity for %s: %v", clientID, err)}
	}
	if rec.Status == "" {
		rec.Status = StatusUnknown
	}

	return rec, nil
}

// Commit executes the plan for (draft, record) sequentially, then reloads
// the record and derives a clean draft from it. On any operation failure the
// pre-commit record and draft come back untouched together with the error:
// local state never reflects a write the backend did not confirm. A clean
// draft commits nothing and issues no request.
//
// A partial failure (first operation applied, second failed) leaves the
// backend in a state only the next Load will reveal; there is no
// compensating write.
func (r *Reconciler) Commit(ctx context.Context, clientID string, d Draft, rec Record) (Record, Draft, error) {
	ops := Plan(d, rec, r.now())
	if len(ops) == 0 {
		log.Debug().Str("client", clientID).Msg("Validity commit skipped, draft is clean")
		return rec, d, nil
	}

	for _, op := range ops {
		if err := r.apply(ctx, clientID, op); err != nil {
			log.Warn().
				Err(err).
				Str("client", clientID).
				Str("op", op.Kind.String()).
				Msg("Validity commit failed")
			return rec, d, err
		}
	}

	fresh, err := r.Load(ctx, clientID)
	if err != nil {
		// Operations applied but the confirming reload failed. Keep the
		// stale record; the caller sees the error and can refresh.
		return rec, d, err
	}

	log.Info().
		Str("client", clientID).
		Int("ops", len(ops)).
		Str("status", string(fresh.Status)).
		Msg("Validity committed")

	return fresh, DeriveDraft(fresh), nil
}

// grantBody is the PUT validity request. Enabling always re-grants a
// window; explicit-expiry grants also pin the window start.
type grantBody struct {
	Years   int    `json:"years"`
	Months  int    `json:"months"`
	Days    int    `json:"days"`
	StartAt string `json:"startAt,omitempty"`
}

func (r *Reconciler) apply(ctx context.Context, clientID string, op Op) error {
	switch op.Kind {
	case OpDisable:
		_, err := r.api.Patch(ctx, fmt.Sprintf("/api/account/%s/validity/disable", clientID), nil)
		return err

	case OpGrant:
		body := grantBody{Days: op.Days}
		if op.StartAt != nil {
			body.StartAt = op.StartAt.UTC().Format(time.RFC3339)
		}
		_, err := r.api.Put(ctx, fmt.Sprintf("/api/account/%s/validity", clientID), body)
		return err

	default:
		return &api.CommitError{Message: fmt.Sprintf("unknown operation kind %d", op.Kind)}
	}
}
