package verifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	googleoauth "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	apperrors "github.com/familyportal/devicelink/internal/errors"
	"github.com/familyportal/devicelink/internal/model"
)

// DefaultExpiresIn is used when the provider does not report a lifetime.
const DefaultExpiresIn = time.Hour

const invalidTokenMessage = "Invalid Google token"

var tracer = otel.Tracer("github.com/familyportal/devicelink/internal/verifier")

type Verification struct {
	Identity  model.Identity
	ExpiresIn time.Duration
}

// TokenVerifier checks a bearer token with the identity provider.
// Rejected tokens return an INVALID_TOKEN AppError; transport problems and
// timeouts return VERIFIER_UNAVAILABLE.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Verification, error)
}

type GoogleConfig struct {
	// Endpoint overrides the Google API base URL, for tests.
	Endpoint string
	Timeout  time.Duration
}

type GoogleVerifier struct {
	httpClient *http.Client
	endpoint   string
	timeout    time.Duration
}

func NewGoogleVerifier(cfg GoogleConfig) *GoogleVerifier {
	return &GoogleVerifier{
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		endpoint:   cfg.Endpoint,
		timeout:    cfg.Timeout,
	}
}

func (v *GoogleVerifier) Verify(ctx context.Context, token string) (*Verification, error) {
	ctx, span := tracer.Start(ctx, "verifier.google.Verify")
	defer span.End()

	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	result, err := v.verify(ctx, token)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperrors.GetCode(err)))
		return nil, err
	}
	return result, nil
}

func (v *GoogleVerifier) verify(ctx context.Context, token string) (*Verification, error) {
	svc, err := v.service(ctx, option.WithHTTPClient(v.httpClient))
	if err != nil {
		return nil, apperrors.VerifierUnavailable(err)
	}

	info, err := svc.Tokeninfo().AccessToken(token).Context(ctx).Do()
	if err != nil {
		return nil, classify(err)
	}

	expiresIn := time.Duration(info.ExpiresIn) * time.Second
	if expiresIn <= 0 {
		expiresIn = DefaultExpiresIn
	}

	identity := model.Identity{
		Subject: info.UserId,
		Email:   info.Email,
	}
	v.enrichProfile(ctx, token, &identity)

	return &Verification{Identity: identity, ExpiresIn: expiresIn}, nil
}

// enrichProfile fills the profile from userinfo. Tokens without the profile
// scope are still accepted, so failures here are only logged and the subject
// may stay empty.
func (v *GoogleVerifier) enrichProfile(ctx context.Context, token string, identity *model.Identity) {
	authCtx := context.WithValue(ctx, oauth2.HTTPClient, v.httpClient)
	client := oauth2.NewClient(authCtx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))

	svc, err := v.service(ctx, option.WithHTTPClient(client))
	if err != nil {
		log.Debug().Err(err).Msg("Failed to build userinfo client")
		return
	}

	profile, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		log.Debug().Err(err).Msg("Userinfo lookup failed, continuing without profile")
		return
	}

	if identity.Subject == "" {
		identity.Subject = profile.Id
	}
	if identity.Email == "" {
		identity.Email = profile.Email
	}
	identity.Name = profile.Name
	identity.Picture = profile.Picture
}

func (v *GoogleVerifier) service(ctx context.Context, opts ...option.ClientOption) (*googleoauth.Service, error) {
	if v.endpoint != "" {
		opts = append(opts, option.WithEndpoint(v.endpoint))
	}
	svc, err := googleoauth.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create oauth2 service: %w", err)
	}
	return svc, nil
}

// classify maps provider errors to AppErrors. Tokeninfo carries the token in
// its query string, so transport errors are rebuilt without the request URL.
func classify(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apperrors.InvalidToken(invalidTokenMessage).WithCause(err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = fmt.Errorf("%s tokeninfo: %w", urlErr.Op, urlErr.Err)
	}
	return apperrors.VerifierUnavailable(err)
}
