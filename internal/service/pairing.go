package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/familyportal/devicelink/internal/audit"
	apperrors "github.com/familyportal/devicelink/internal/errors"
	"github.com/familyportal/devicelink/internal/model"
	"github.com/familyportal/devicelink/internal/repository"
	"github.com/familyportal/devicelink/internal/util"
	"github.com/familyportal/devicelink/internal/verifier"
)

const (
	pairingCodeChars  = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	defaultCodeLength = 6
	maxCreateAttempts = 10
)

var tracer = otel.Tracer("github.com/familyportal/devicelink/internal/service")

type PairingConfig struct {
	CodeLength   int
	PendingTTL   time.Duration
	LinkedGrace  time.Duration
	PollInterval time.Duration
}

type CreateCodeResult struct {
	Record    *model.PairingCode
	ExpiresIn time.Duration
	Interval  time.Duration
}

type PairingService struct {
	repo     repository.PairingCodeRepository
	verifier verifier.TokenVerifier
	cfg      PairingConfig
	now      func() time.Time
}

func NewPairingService(
	repo repository.PairingCodeRepository,
	tokenVerifier verifier.TokenVerifier,
	cfg PairingConfig,
) *PairingService {
	if cfg.CodeLength <= 0 {
		cfg.CodeLength = defaultCodeLength
	}
	return &PairingService{
		repo:     repo,
		verifier: tokenVerifier,
		cfg:      cfg,
		now:      time.Now,
	}
}

// CreateCode allocates a fresh pending code. Collisions with live codes are
// retried with a new code.
func (s *PairingService) CreateCode(ctx context.Context) (*CreateCodeResult, error) {
	ctx, span := tracer.Start(ctx, "PairingService.CreateCode")
	defer span.End()

	for attempt := 1; attempt <= maxCreateAttempts; attempt++ {
		code, err := generatePairingCode(s.cfg.CodeLength)
		if err != nil {
			return nil, s.fail(span, apperrors.Internal("Failed to generate pairing code").WithCause(err))
		}

		pc, err := s.repo.Create(ctx, model.CreatePairingCodeParams{
			ID:        uuid.NewString(),
			Code:      code,
			CreatedAt: s.now(),
		})
		if errors.Is(err, repository.ErrConflict) {
			log.Debug().Int("attempt", attempt).Msg("pairing code collision, regenerating")
			continue
		}
		if err != nil {
			return nil, s.fail(span, apperrors.Store(err))
		}

		span.SetAttributes(attribute.String("pairing.id", pc.ID))
		audit.Log(ctx, audit.Event{
			Type:   audit.EventCodeCreate,
			CodeID: pc.ID,
			Code:   util.MaskCode(pc.Code),
		})

		return &CreateCodeResult{
			Record:    pc,
			ExpiresIn: s.cfg.PendingTTL,
			Interval:  s.cfg.PollInterval,
		}, nil
	}

	return nil, s.fail(span, apperrors.Internal("Failed to allocate a unique pairing code").
		WithCause(apperrors.Conflict("Pairing code")))
}

// GetStatus is the TV-side poll. It has no side effects, so repeated polls
// of the same state return the same record.
func (s *PairingService) GetStatus(ctx context.Context, code string) (*model.PairingCode, error) {
	ctx, span := tracer.Start(ctx, "PairingService.GetStatus")
	defer span.End()

	pc, appErr := s.findLive(ctx, NormalizeCode(code))
	if appErr != nil {
		return nil, s.fail(span, appErr)
	}

	span.SetAttributes(
		attribute.String("pairing.id", pc.ID),
		attribute.String("pairing.status", string(pc.Status)),
	)
	return pc, nil
}

// Link attaches the companion's credential to a pending code. Checks run in
// order: unknown code, missing token, already linked, then the verifier. The
// final store transition can still lose a race and report AlreadyLinked.
func (s *PairingService) Link(ctx context.Context, code, token string) (*model.Identity, error) {
	ctx, span := tracer.Start(ctx, "PairingService.Link")
	defer span.End()

	pc, appErr := s.findLive(ctx, NormalizeCode(code))
	if appErr != nil {
		return nil, s.fail(span, appErr)
	}
	span.SetAttributes(attribute.String("pairing.id", pc.ID))

	token = strings.TrimSpace(token)
	if token == "" {
		return nil, s.fail(span, apperrors.MissingRequired("token"))
	}

	if pc.IsLinked() {
		s.logRejected(ctx, pc)
		return nil, s.fail(span, apperrors.AlreadyLinked())
	}

	verification, err := s.verifier.Verify(ctx, token)
	if err != nil {
		appErr, ok := apperrors.AsAppError(err)
		if !ok {
			appErr = apperrors.VerifierUnavailable(err)
		}
		audit.Log(ctx, audit.Event{
			Type:    audit.EventLinkFailure,
			CodeID:  pc.ID,
			Code:    util.MaskCode(pc.Code),
			Details: map[string]interface{}{
				"reason":   string(appErr.Code),
				"error":    err,
				"token_fp": tokenFingerprint(token),
			},
		})
		return nil, s.fail(span, appErr)
	}

	now := s.now()
	linked, err := s.repo.MarkLinked(ctx, model.MarkLinkedParams{
		Code: pc.Code,
		Credential: model.Credential{
			Token:     token,
			ExpiresAt: now.Add(verification.ExpiresIn),
		},
		Identity: verification.Identity,
		LinkedAt: now,
	})
	switch {
	case errors.Is(err, repository.ErrAlreadyLinked):
		s.logRejected(ctx, pc)
		return nil, s.fail(span, apperrors.AlreadyLinked())
	case errors.Is(err, repository.ErrNotFound):
		return nil, s.fail(span, apperrors.NotFound())
	case err != nil:
		return nil, s.fail(span, apperrors.Store(err))
	}

	audit.Log(ctx, audit.Event{
		Type:    audit.EventLinkSuccess,
		CodeID:  linked.ID,
		Code:    util.MaskCode(linked.Code),
		Subject: linked.Identity.Subject,
	})

	identity := *linked.Identity
	return &identity, nil
}

// findLive hides unknown, expired and swept codes behind the same NotFound.
func (s *PairingService) findLive(ctx context.Context, code string) (*model.PairingCode, *apperrors.AppError) {
	if code == "" {
		return nil, apperrors.NotFound()
	}

	pc, err := s.repo.FindByCode(ctx, code)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound()
	}
	if err != nil {
		return nil, apperrors.Store(err)
	}

	if pc.ExpiredAt(s.now(), s.cfg.PendingTTL, s.cfg.LinkedGrace) {
		return nil, apperrors.NotFound()
	}
	return pc, nil
}

func (s *PairingService) logRejected(ctx context.Context, pc *model.PairingCode) {
	audit.Log(ctx, audit.Event{
		Type:   audit.EventLinkRejected,
		CodeID: pc.ID,
		Code:   util.MaskCode(pc.Code),
	})
}

func (s *PairingService) fail(span trace.Span, err *apperrors.AppError) error {
	span.SetStatus(codes.Error, string(err.Code))
	if err.Code == apperrors.ErrCodeStore || err.Code == apperrors.ErrCodeInternal {
		span.RecordError(err)
		log.Error().Err(err).Str("code", string(err.Code)).Msg("pairing operation failed")
	}
	return err
}

// tokenFingerprint lets repeated failures with one token be correlated
// without logging the token.
func tokenFingerprint(token string) string {
	return util.HashToken(token)[:16]
}

// NormalizeCode accepts what people type: lowercase, padding, and the
// spaces or dashes used to group characters on screen.
func NormalizeCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	return strings.NewReplacer(" ", "", "-", "").Replace(code)
}

func generatePairingCode(length int) (string, error) {
	alphabetSize := big.NewInt(int64(len(pairingCodeChars)))
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		buf[i] = pairingCodeChars[n.Int64()]
	}
	return string(buf), nil
}
