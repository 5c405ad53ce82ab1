package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"communique/internal/audit"
	"communique/internal/identity/credential"
	"communique/internal/proof"
	"communique/internal/submission/metrics"
	id "communique/pkg/domain"
	dErrors "communique/pkg/domain-errors"
	"communique/pkg/platform/sentinel"
	"communique/pkg/requestcontext"
)

// Verifier checks a submitted proof against its public outputs. In
// production this is the external proving module's verify half.
type Verifier interface {
	Verify(ctx context.Context, prf proof.Proof, outputs proof.PublicOutputs) (bool, error)
}

// CreateRequest carries everything the submission endpoint accepts.
type CreateRequest struct {
	Proof            proof.Proof
	PublicOutputs    proof.PublicOutputs
	EncryptedWitness []byte
	WitnessKeyID     string
	IdempotencyKey   id.IdempotencyKey
	ActionID         id.ActionID
	Subject          string
	Body             string
	Recipients       []Recipient
}

// Service is the submission ledger: the uniqueness gate for nullifiers and
// the single place trust tier promotion happens.
type Service struct {
	store    Store
	creds    credential.Cache
	policy   credential.Policy
	verifier Verifier
	audit    audit.Publisher
	metrics  *metrics.Metrics
	logger   *slog.Logger
	tracer   trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAuditPublisher(publisher audit.Publisher) Option {
	return func(s *Service) {
		s.audit = publisher
	}
}

func NewService(ledger Store, creds credential.Cache, policy credential.Policy, verifier Verifier, opts ...Option) (*Service, error) {
	if ledger == nil {
		return nil, fmt.Errorf("ledger store is required")
	}
	if creds == nil {
		return nil, fmt.Errorf("credential cache is required")
	}
	if verifier == nil {
		return nil, fmt.Errorf("proof verifier is required")
	}

	svc := &Service{
		store:    ledger,
		creds:    creds,
		policy:   policy,
		verifier: verifier,
		audit:    audit.NopPublisher{},
		logger:   slog.Default(),
		tracer:   otel.Tracer("communique/submission"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Create validates the request, records the submission exactly once per
// nullifier, and promotes the sender's cached tier when the action
// qualifies. Validation happens before any side effect; the store decides
// uniqueness and runs the promotion exactly once per nullifier.
func (s *Service) Create(ctx context.Context, req CreateRequest) (id.SubmissionID, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.create")
	defer span.End()
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.CreateDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
		}
	}()

	pseudonym := requestcontext.Pseudonym(ctx)
	if pseudonym.IsNil() {
		return id.SubmissionID{}, dErrors.New(dErrors.CodeUnauthorized, "submission requires an authenticated participant")
	}

	nullifier, err := s.validate(ctx, req)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RejectedInvalid.Inc()
		}
		return id.SubmissionID{}, err
	}
	span.SetAttributes(attribute.Int("recipients", len(req.Recipients)))

	// Credential freshness gates the action; expiry mid-flow surfaces
	// here and never corrupts an already-created submission.
	cred, err := s.creds.Get(ctx, pseudonym)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return id.SubmissionID{}, dErrors.New(dErrors.CodeUnauthorized, "session credential expired, re-verify to continue")
		}
		return id.SubmissionID{}, dErrors.Wrap(err, dErrors.CodeInternal, "credential lookup failed")
	}
	now := requestcontext.Now(ctx)
	if !s.policy.Admits(cred, credential.ActionConstituentMessage, now) {
		return id.SubmissionID{}, dErrors.New(dErrors.CodeUnauthorized, "session credential too old for this action, re-verify to continue")
	}
	if !cred.Tier.AtLeast(id.TierAddressAttested) {
		return id.SubmissionID{}, dErrors.Newf(dErrors.CodeForbidden, "constituent messages require tier %d or above", id.TierAddressAttested)
	}

	sub := &Submission{
		ID:               id.NewSubmissionID(),
		Nullifier:        nullifier,
		IdempotencyKey:   req.IdempotencyKey,
		SenderPseudonym:  pseudonym,
		ActionID:         req.ActionID,
		Subject:          req.Subject,
		Body:             req.Body,
		Recipients:       req.Recipients,
		EncryptedWitness: req.EncryptedWitness,
		WitnessKeyID:     req.WitnessKeyID,
	}
	attempts := make([]DeliveryAttempt, 0, len(req.Recipients))
	for _, r := range req.Recipients {
		attempts = append(attempts, DeliveryAttempt{
			ID:           id.NewAttemptID(),
			SubmissionID: sub.ID,
			Recipient:    r,
			Status:       AttemptPending,
		})
	}

	result, err := s.store.Create(ctx, sub, attempts, func(txCtx context.Context) error {
		return s.promote(txCtx, cred)
	})
	if err != nil {
		if errors.Is(err, ErrNullifierReused) {
			// Abuse signal: same credential, same action, new request
			// identity. Logged and counted apart from ordinary retries.
			if s.metrics != nil {
				s.metrics.NullifierReused.Inc()
			}
			s.audit.Emit(ctx, audit.Event{
				Kind:      audit.KindNullifierReused,
				Pseudonym: pseudonym,
				RequestID: requestcontext.RequestID(ctx),
				Detail:    map[string]any{"action_id": req.ActionID.String()},
			})
			s.logger.WarnContext(ctx, "nullifier reuse rejected",
				"action_id", req.ActionID.String(),
				"request_id", requestcontext.RequestID(ctx),
			)
			return id.SubmissionID{}, dErrors.Wrap(err, dErrors.CodeConflict, "nullifier already used for this action")
		}
		return id.SubmissionID{}, dErrors.Wrap(err, dErrors.CodeInternal, "ledger create failed")
	}

	if result.Existing {
		if s.metrics != nil {
			s.metrics.IdempotentRetry.Inc()
		}
		s.logger.DebugContext(ctx, "idempotent submission retry",
			"submission_id", result.SubmissionID.String(),
		)
		return result.SubmissionID, nil
	}

	if s.metrics != nil {
		s.metrics.Created.Inc()
	}
	s.audit.Emit(ctx, audit.Event{
		Kind:         audit.KindSubmissionCreated,
		Pseudonym:    pseudonym,
		SubmissionID: result.SubmissionID.String(),
		RequestID:    requestcontext.RequestID(ctx),
		Detail:       map[string]any{"recipients": len(req.Recipients)},
	})
	s.logger.InfoContext(ctx, "submission created",
		"submission_id", result.SubmissionID.String(),
		"recipients", len(req.Recipients),
		"request_id", requestcontext.RequestID(ctx),
	)
	return result.SubmissionID, nil
}

// validate rejects malformed requests before any side effect and verifies
// the proof against its public outputs.
func (s *Service) validate(ctx context.Context, req CreateRequest) (id.Nullifier, error) {
	if req.IdempotencyKey.IsNil() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "idempotency key is required")
	}
	if req.ActionID.IsNil() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "action id is required")
	}
	if len(req.Proof) == 0 {
		return "", dErrors.New(dErrors.CodeValidation, "proof is required")
	}
	if len(req.EncryptedWitness) == 0 || req.WitnessKeyID == "" {
		return "", dErrors.New(dErrors.CodeValidation, "encrypted witness and key id are required")
	}
	if len(req.Recipients) == 0 {
		return "", dErrors.New(dErrors.CodeValidation, "at least one recipient is required")
	}
	for _, r := range req.Recipients {
		if r.Channel != ChannelCongress && r.Channel != ChannelEmail {
			return "", dErrors.Newf(dErrors.CodeValidation, "unknown delivery channel %q", r.Channel)
		}
		if r.OfficeID == "" {
			return "", dErrors.New(dErrors.CodeValidation, "recipient office id is required")
		}
	}

	nullifier, err := id.ParseNullifier(req.PublicOutputs.Nullifier)
	if err != nil {
		return "", err
	}

	ok, err := s.verifier.Verify(ctx, req.Proof, req.PublicOutputs)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "proof verification unavailable")
	}
	if !ok {
		return "", dErrors.New(dErrors.CodeValidation, "proof does not verify against its public outputs")
	}
	return nullifier, nil
}

// promote lifts the cached credential to district-verified on the first
// accepted submission. Runs inside the store's atomic create, so exactly one
// of any set of concurrent submissions performs it. The cache write lands
// before the store commits, so a commit failure can leave the promotion
// applied; that is safe because setting the tier is idempotent and the
// already-promoted check below makes the retried create a no-op.
func (s *Service) promote(ctx context.Context, cred credential.SessionCredential) error {
	if cred.Tier >= id.TierDistrictVerified {
		return nil
	}
	promoted := cred
	promoted.Tier = id.TierDistrictVerified
	if err := s.creds.Put(ctx, promoted); err != nil {
		return fmt.Errorf("tier promotion: %w", err)
	}
	if s.metrics != nil {
		s.metrics.TierPromotions.Inc()
	}
	s.audit.Emit(ctx, audit.Event{
		Kind:      audit.KindTierPromoted,
		Pseudonym: cred.Pseudonym,
		RequestID: requestcontext.RequestID(ctx),
		Detail: map[string]any{
			"from": cred.Tier.String(),
			"to":   promoted.Tier.String(),
		},
	})
	return nil
}
