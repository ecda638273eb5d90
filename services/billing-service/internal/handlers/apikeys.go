package handlers

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/garageflow/garageflow/libs/httpx"
	"github.com/garageflow/garageflow/libs/plans"
	"github.com/garageflow/garageflow/services/billing-service/internal/storage"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const apiKeyPrefix = "gf_"

type createAPIKeyRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

type createAPIKeyResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Prefix    string `json:"prefix"`
	Key       string `json:"key"`
	CreatedAt string `json:"created_at"`
}

// CreateAPIKey mints a key for plans with api_access. The plaintext key is
// returned once; only its bcrypt hash is stored.
func (h *Handler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req createAPIKeyRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.WriteRequestError(w, err)
		return
	}
	ident, _ := httpx.IdentityFromContext(r.Context())
	sub, _ := h.planFor(r.Context(), ident.TenantID)
	allowed := plans.HasAccess(sub.Effective(), plans.FeatureAPIAccess)
	h.metrics.PlanCheck(string(plans.FeatureAPIAccess), allowed)
	if !allowed {
		httpx.WriteError(w, http.StatusForbidden, "api access is not included in the current plan")
		return
	}

	id := uuid.New()
	prefix := apiKeyPrefix + strings.ReplaceAll(id.String(), "-", "")[:8]
	secret, err := newSecret()
	if err != nil {
		h.logger.Error("api key secret generation failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to create api key")
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), h.apiKeyCost)
	if err != nil {
		h.logger.Error("api key hash failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to create api key")
		return
	}

	key := storage.APIKey{
		ID:        id.String(),
		TenantID:  ident.TenantID,
		Name:      strings.TrimSpace(req.Name),
		Prefix:    prefix,
		KeyHash:   string(hash),
		CreatedAt: h.now().UTC(),
	}
	if err := h.store.WithTx(r.Context(), func(tx storage.Tx) error {
		return tx.InsertAPIKey(r.Context(), key)
	}); err != nil {
		h.logger.Error("api key insert failed", "err", err, "tenant_id", ident.TenantID)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to create api key")
		return
	}
	h.logger.Info("api key created", "tenant_id", ident.TenantID, "prefix", prefix)
	httpx.WriteJSON(w, http.StatusCreated, createAPIKeyResponse{
		ID:        key.ID,
		Name:      key.Name,
		Prefix:    prefix,
		Key:       prefix + "." + secret,
		CreatedAt: key.CreatedAt.Format(time.RFC3339),
	})
}

func newSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
