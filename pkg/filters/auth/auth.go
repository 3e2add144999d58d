package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/samber/lo"

	"speechway.dev/config"
	"speechway.dev/pkg/filters"
	"speechway.dev/pkg/metadata"
	"speechway.dev/pkg/object"
	"speechway.dev/pkg/utils"
)

var _ filters.RequestFilter = (*AuthFilter)(nil)
var _ filters.OnRequestPreFilter = (*AuthFilter)(nil)
var _ filters.OnTextToSpeechRequestFilter = (*AuthFilter)(nil)

type apiKeyEntry struct {
	digest [sha256.Size]byte
	info   *metadata.AuthInfo
}

// AuthFilter authenticates callers against the statically configured gateway
// keys and checks the requested model against the key's allow and deny rules.
type AuthFilter struct {
	filters.IsRequestFilter

	keys []apiKeyEntry
}

func NewWithConfig(cfg config.AuthConfig) (filters.RequestFilter, error) {
	if len(cfg.Keys) == 0 {
		return nil, errors.New("auth filter requires at least one key")
	}

	keys := lo.Map(cfg.Keys, func(key config.APIKeyConfig, i int) apiKeyEntry {
		return apiKeyEntry{
			digest: sha256.Sum256([]byte(key.Key)),
			info: &metadata.AuthInfo{
				APIKeyID:    lo.CoalesceOrEmpty(key.ID, utils.MaskSecret(key.Key)),
				UserID:      key.UserID,
				AllowModels: key.AllowModels,
				DenyModels:  key.DenyModels,
			},
		}
	})

	return &AuthFilter{keys: keys}, nil
}

// lookup compares digests in constant time and walks every key so timing does
// not reveal which entry matched.
func (a *AuthFilter) lookup(apiKey string) (*metadata.AuthInfo, bool) {
	digest := sha256.Sum256([]byte(apiKey))

	var found *metadata.AuthInfo

	for _, entry := range a.keys {
		if subtle.ConstantTimeCompare(digest[:], entry.digest[:]) == 1 {
			found = entry.info
		}
	}

	return found, found != nil
}

func (a *AuthFilter) OnRequestPre(ctx context.Context, sourceHTTPRequest *http.Request) filters.RequestFilterResult {
	rMeta := metadata.RequestMetadataFromCtx(ctx)
	rMeta.EnabledAuthFilter = true

	apiKey, err := BearerMarshal(sourceHTTPRequest)
	if err != nil {
		slog.Debug("auth filter: no api key", "error", err)
		return filters.NewFailed(object.NewErrorMissingAPIKey())
	}

	info, ok := a.lookup(apiKey)
	if !ok {
		slog.Debug("auth filter: unknown api key", "apikey", utils.MaskSecret(apiKey))
		return filters.NewFailed(object.NewErrorIncorrectAPIKey(utils.MaskSecret(apiKey)))
	}

	rMeta.AuthInfo = info

	slog.Debug("auth filter: api key accepted", "apikey_id", info.GetAPIKeyID(), "user", info.GetUserID())

	return filters.NewOK()
}

func (a *AuthFilter) OnTextToSpeechRequest(ctx context.Context, request object.LLMRequest, sourceHTTPRequest *http.Request) filters.RequestFilterResult {
	rMeta := metadata.RequestMetadataFromCtx(ctx)
	if rMeta.AuthInfo == nil {
		return filters.NewFailed(errors.New("missing auth info in context"))
	}

	authInfo := rMeta.AuthInfo

	// Missing models are reported by request validation along with the
	// other missing fields.
	accessModel := request.GetModel()
	if accessModel == "" {
		return filters.NewOK()
	}

	if !CanAccessModel(accessModel, authInfo.AllowModels, authInfo.DenyModels) {
		slog.Debug("auth filter: model access denied", "user", authInfo.GetUserID(), "model", accessModel)
		return filters.NewFailed(object.NewErrorModelAccessDenied(accessModel))
	}

	return filters.NewOK()
}

func BearerMarshal(request *http.Request) (string, error) {
	authHeader := request.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("missing Authorization header")
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(authHeader, prefix) {
		return "", errors.New("invalid Authorization header format")
	}

	token := strings.TrimSpace(strings.TrimPrefix(authHeader, prefix))
	if token == "" {
		return "", errors.New("missing API Key in Authorization header")
	}

	return token, nil
}

func matchAny(requestModel string, rules []string) bool {
	return lo.SomeBy(rules, func(rule string) bool {
		matched, err := doublestar.Match(rule, requestModel)
		return err == nil && matched
	})
}

func IsDenied(requestModel string, denyModels []string) bool {
	return matchAny(requestModel, denyModels)
}

// IsGranted treats an empty allow list as allowing every model.
func IsGranted(requestModel string, allowModels []string) bool {
	if len(allowModels) == 0 {
		return true
	}

	return matchAny(requestModel, allowModels)
}

/*
CanAccessModel reports whether a key may use requestModel. Rules are
doublestar globs:

- "*" matches models without a provider prefix, such as "eleven_multilingual_v2".

- "elevenlabs/*" matches every model routed explicitly to ElevenLabs.

- "**" matches every model.

Deny rules win over allow rules.
*/
func CanAccessModel(requestModel string, allowModels []string, denyModels []string) bool {
	return !IsDenied(requestModel, denyModels) && IsGranted(requestModel, allowModels)
}
