package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/samber/mo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"speechway.dev/config"
	"speechway.dev/pkg/metadata"
	"speechway.dev/pkg/metrics"
	"speechway.dev/pkg/object"
	elevenlabs "speechway.dev/pkg/types/elevenlabs/v1"
	"speechway.dev/pkg/types/openai"
	"speechway.dev/pkg/types/tts"
)

const tracerName = "speechway.dev/pkg/speech"

// Client dispatches speech requests to the configured providers. It is safe
// for concurrent use and never retries.
type Client struct {
	cfg        *config.Config
	httpClient *http.Client
	metrics    *metrics.Metrics
	lookupEnv  func(string) (string, bool)
	providers  map[string]tts.SpeechProvider
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithEnvLookup replaces os.LookupEnv when resolving credentials.
func WithEnvLookup(lookupEnv func(string) (string, bool)) Option {
	return func(c *Client) {
		c.lookupEnv = lookupEnv
	}
}

// WithProvider registers an additional provider, replacing any provider with
// the same name.
func WithProvider(provider tts.SpeechProvider) Option {
	return func(c *Client) {
		c.providers[provider.Name()] = provider
	}
}

func New(cfg *config.Config, opts ...Option) *Client {
	if cfg == nil {
		cfg = config.Default()
	}

	c := &Client{
		cfg:        cfg,
		httpClient: http.DefaultClient,
		lookupEnv:  os.LookupEnv,
		providers: map[string]tts.SpeechProvider{
			elevenlabs.ProviderName: elevenlabs.NewProvider(
				elevenlabs.WithFormatPolicy(cfg.Provider(elevenlabs.ProviderName).FormatPolicy),
			),
			openai.ProviderName: openai.NewSpeechProvider(cfg.Provider(openai.ProviderName).FormatPolicy),
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Providers lists the registered provider selectors in order.
func (c *Client) Providers() []string {
	names := lo.Keys(c.providers)
	slices.Sort(names)

	return names
}

// Validate reports every missing required field of req at once.
func Validate(req tts.Request) error {
	if lo.IsNil(req) {
		return object.NewErrorMissingParameters("model", "input", "voice")
	}

	missing := make([]string, 0, 3)
	if strings.TrimSpace(req.GetModel()) == "" {
		missing = append(missing, "model")
	}

	if req.GetInput() == "" {
		missing = append(missing, "input")
	}

	if strings.TrimSpace(req.GetVoice()) == "" {
		missing = append(missing, "voice")
	}

	if len(missing) > 0 {
		return object.NewErrorMissingParameters(missing...)
	}

	return nil
}

// Route picks the provider for model. A registered "<provider>/" prefix
// selects that provider and is stripped; anything else goes to the default
// provider unchanged.
func (c *Client) Route(model string) (tts.SpeechProvider, string, error) {
	if prefix, rest, ok := strings.Cut(model, "/"); ok {
		if provider, registered := c.providers[prefix]; registered && rest != "" {
			return provider, rest, nil
		}
	}

	provider, ok := c.providers[c.cfg.DefaultProvider]
	if !ok {
		return nil, "", object.NewErrorUnsupportedProvider(c.cfg.DefaultProvider)
	}

	return provider, model, nil
}

func (c *Client) lookupFirstEnv(names ...string) string {
	for _, name := range names {
		if value, ok := c.lookupEnv(name); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}

	return ""
}

// ResolveCredentials applies request > environment > configuration, and the
// provider default for the base URL.
func (c *Client) ResolveCredentials(provider tts.SpeechProvider, overrides tts.CredentialOverrides) (tts.Credentials, error) {
	providerCfg := c.cfg.Provider(provider.Name())

	var requestKey, requestBase string
	if !lo.IsNil(overrides) {
		requestKey = strings.TrimSpace(lo.FromPtrOr(overrides.GetAPIKey(), ""))
		requestBase = strings.TrimSpace(lo.FromPtrOr(overrides.GetAPIBase(), ""))
	}

	creds := tts.Credentials{
		APIKey: lo.CoalesceOrEmpty(
			requestKey,
			c.lookupFirstEnv(provider.APIKeyEnvNames()...),
			providerCfg.APIKey,
		),
		APIBase: lo.CoalesceOrEmpty(
			requestBase,
			c.lookupFirstEnv(provider.APIBaseEnvName()),
			providerCfg.APIBase,
			provider.DefaultAPIBase(),
		),
	}

	if creds.APIKey == "" {
		return tts.Credentials{}, object.NewErrorMissingCredential(provider.DisplayName(), provider.APIKeyEnvNames()...)
	}

	return creds, nil
}

func upstreamHeaders(providerCfg config.ProviderConfig) http.Header {
	headers := make(http.Header, len(providerCfg.Headers))
	for k, v := range providerCfg.Headers {
		headers.Set(k, v)
	}

	return headers
}

func credentialOverrides(req tts.Request) tts.CredentialOverrides {
	overrides, _ := req.(tts.CredentialOverrides)
	return overrides
}

// Speech performs exactly one upstream call once the request is valid and
// credentials resolve, and returns the audio bytes unmodified.
func (c *Client) Speech(ctx context.Context, req tts.Request) (*tts.AudioResponse, error) {
	err := Validate(req)
	if err != nil {
		return nil, err
	}

	provider, model, err := c.Route(req.GetModel())
	if err != nil {
		return nil, err
	}

	creds, err := c.ResolveCredentials(provider, credentialOverrides(req))
	if err != nil {
		return nil, err
	}

	routed := routedRequest{Request: req, model: model}
	providerCfg := c.cfg.Provider(provider.Name())

	ctx, span := otel.Tracer(tracerName).Start(ctx, "speech."+provider.Name())
	defer span.End()

	span.SetAttributes(
		attribute.String("speech.provider", provider.Name()),
		attribute.String("speech.model", model),
		attribute.String("speech.voice", req.GetVoice()),
		attribute.Int("speech.input_characters", len([]rune(req.GetInput()))),
	)

	if providerCfg.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, providerCfg.Timeout)
		defer cancel()
	}

	startedAt := time.Now()

	audio, err := c.do(ctx, provider, creds, routed, upstreamHeaders(providerCfg))
	c.observe(provider, startedAt, audio, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		return nil, err
	}

	span.SetAttributes(attribute.Int("speech.audio_bytes", len(audio.Bytes())))

	return audio, nil
}

func (c *Client) do(ctx context.Context, provider tts.SpeechProvider, creds tts.Credentials, req tts.Request, headers http.Header) (*tts.AudioResponse, error) {
	httpReq, err := provider.BuildSpeechRequest(ctx, creds, req, headers)
	if err != nil {
		return nil, err
	}

	rMeta := metadata.RequestMetadataFromCtx(ctx)
	rMeta.UpstreamProvider = provider.Name()
	rMeta.UpstreamRequestModel = req.GetModel()
	rMeta.UpstreamRequestAt = time.Now()

	slog.Debug("sending speech request",
		slog.String("provider", provider.Name()),
		slog.String("model", req.GetModel()),
		slog.String("url", httpReq.URL.Redacted()),
	)

	resp, err := c.httpClient.Do(httpReq)

	rMeta.UpstreamRespondAt = time.Now()

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}

		return nil, object.NewTransportError(provider.DisplayName(), err)
	}

	rMeta.UpstreamResponseStatusCode = resp.StatusCode
	rMeta.UpstreamResponseHeader = mo.Some(resp.Header)

	audio, err := provider.ParseSpeechResponse(resp, req)
	if err != nil {
		rMeta.UpstreamResponseErrorMessage = err.Error()

		var transportErr *object.TransportError
		if errors.As(err, &transportErr) && ctx.Err() != nil && !errors.Is(err, ctx.Err()) {
			return nil, object.NewTransportError(provider.DisplayName(), fmt.Errorf("%w: %w", ctx.Err(), transportErr.Cause))
		}

		return nil, err
	}

	if usage, ok := object.AsLLMCharactersUsage(audio.GetUsage()); ok {
		rMeta.UpstreamCharactersUsage = mo.Some(usage)
	}

	return audio, nil
}

func (c *Client) observe(provider tts.SpeechProvider, startedAt time.Time, audio *tts.AudioResponse, err error) {
	duration := time.Since(startedAt)

	if err != nil {
		kind := object.KindOf(err)

		slog.Error("speech request failed",
			slog.String("provider", provider.Name()),
			slog.String("kind", string(kind)),
			slog.Duration("duration", duration),
			slog.Any("error", err),
		)

		c.metrics.ObserveSpeech(provider.Name(), lo.Ternary(kind == object.ErrorKindUnknown, "unknown_error", string(kind)), duration)

		return
	}

	c.metrics.ObserveSpeech(provider.Name(), metrics.ResultSuccess, duration)

	if usage, ok := object.AsLLMCharactersUsage(audio.GetUsage()); ok {
		c.metrics.AddUsage(provider.Name(), usage.GetInputCharacters(), len(audio.Bytes()))
	}
}

// SpeechAsync runs Speech on its own goroutine. The future settles with the
// same result Speech would return.
func (c *Client) SpeechAsync(ctx context.Context, req tts.Request) *mo.Future[*tts.AudioResponse] {
	return mo.NewFuture(func(resolve func(*tts.AudioResponse), reject func(error)) {
		audio, err := c.Speech(ctx, req)
		if err != nil {
			reject(err)
			return
		}

		resolve(audio)
	})
}

// Voices returns a voice manager for the ElevenLabs account selected by the
// overrides, environment, or configuration.
func (c *Client) Voices(overrides tts.CredentialOverrides) (*elevenlabs.VoiceManager, error) {
	provider, ok := c.providers[elevenlabs.ProviderName]
	if !ok {
		return nil, object.NewErrorUnsupportedProvider(elevenlabs.ProviderName)
	}

	creds, err := c.ResolveCredentials(provider, overrides)
	if err != nil {
		return nil, err
	}

	return elevenlabs.NewVoiceManager(c.httpClient, creds), nil
}
