package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/warp/policy-billing/factory"
)

// LoadSeed resets the database and loads the demo book of business.
func (h *Handler) LoadSeed(w http.ResponseWriter, r *http.Request) {
	resp, err := h.Seed(r.Context())
	if err != nil {
		h.respondError(w, "Failed to load seed data", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Seed clears the store and loads the embedded demo fixture.
//
// Development only. The fixture is validated before anything is cleared and
// concurrent seeds are serialized, but the reset and the load are separate
// writes: requests served in between see a partial book, and a load that
// fails after the reset leaves it that way.
func (h *Handler) Seed(ctx context.Context) (SeedResponse, error) {
	fx, err := factory.SeedFixture()
	if err != nil {
		return SeedResponse{}, fmt.Errorf("seed fixture: %w", err)
	}

	h.seedMu.Lock()
	defer h.seedMu.Unlock()

	if err := h.Store.Reset(ctx); err != nil {
		return SeedResponse{}, fmt.Errorf("reset: %w", err)
	}

	res, err := factory.NewLoader(h.Accounting).Load(ctx, fx)
	if err != nil {
		return SeedResponse{}, err
	}

	h.Logger.Info("seed data loaded",
		"contacts", len(res.Contacts),
		"policies", len(res.Policies),
		"payments", len(res.Payments),
	)
	return SeedResponse{
		Contacts: len(res.Contacts),
		Policies: len(res.Policies),
		Payments: len(res.Payments),
	}, nil
}
