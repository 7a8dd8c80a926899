package approval

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/procuredata/console/internal/events"
	"github.com/procuredata/console/internal/lock"
	"github.com/procuredata/console/internal/models"
	"github.com/procuredata/console/internal/observability"
	"github.com/procuredata/console/internal/security"
	"github.com/procuredata/console/internal/store"
	"github.com/procuredata/console/pkg/utils"
)

// listWindow bounds how many transactions a single organization view loads.
const listWindow = 500

// AssetSource resolves catalog assets; the cache manager implements it.
type AssetSource interface {
	GetAsset(ctx context.Context, id uuid.UUID) (*models.DataAsset, error)
}

type Config struct {
	// AutoSubmit moves a new request straight to pending_subject.
	AutoSubmit       bool          `yaml:"auto_submit" mapstructure:"auto_submit"`
	LockTTL          time.Duration `yaml:"lock_ttl" mapstructure:"lock_ttl"`
	OperationTimeout time.Duration `yaml:"operation_timeout" mapstructure:"operation_timeout"`
	MaxPurposeLength int           `yaml:"max_purpose_length" mapstructure:"max_purpose_length"`
}

// Service runs the approval workflow against the store. Each transition is
// evaluated and written while holding a per-transaction lock, and the store
// rejects the write if the version moved underneath.
type Service struct {
	store     store.PrimaryStore
	assets    AssetSource
	locker    lock.DistributedLock
	machine   *Machine
	publisher events.Publisher
	sanitizer *security.InputSanitizer
	obs       *observability.Manager
	logger    zerolog.Logger
	config    Config
}

type ServiceOption func(*Service)

func WithMachine(m *Machine) ServiceOption {
	return func(s *Service) { s.machine = m }
}

func WithSanitizer(sanitizer *security.InputSanitizer) ServiceOption {
	return func(s *Service) { s.sanitizer = sanitizer }
}

func NewService(
	primaryStore store.PrimaryStore,
	assets AssetSource,
	locker lock.DistributedLock,
	publisher events.Publisher,
	obs *observability.Manager,
	config Config,
	opts ...ServiceOption,
) *Service {
	if config.LockTTL <= 0 {
		config.LockTTL = 10 * time.Second
	}
	if config.OperationTimeout <= 0 {
		config.OperationTimeout = 15 * time.Second
	}
	if config.MaxPurposeLength <= 0 {
		config.MaxPurposeLength = 1000
	}
	if obs == nil {
		obs = observability.NewNopManager()
	}

	s := &Service{
		store:     primaryStore,
		assets:    assets,
		locker:    locker,
		machine:   NewMachine(),
		publisher: publisher,
		sanitizer: security.NewInputSanitizer(security.SanitizerConfig{Enabled: true}),
		obs:       obs,
		logger:    obs.Logger().GetZerologLogger().With().Str("component", "approval").Logger(),
		config:    config,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Machine() *Machine {
	return s.machine
}

func validateActor(actor Actor) error {
	if actor.OrganizationID == "" || actor.UserID == "" {
		return utils.NewAppError(utils.CodeUnauthorized, "caller identity is required", nil)
	}
	return nil
}

// RequestAccess creates a transaction for assetID on behalf of the caller's
// organization.
func (s *Service) RequestAccess(ctx context.Context, actor Actor, assetID uuid.UUID, purpose string) (*models.Transaction, error) {
	ctx, span := s.obs.Tracing().StartTransactionOperation(ctx, "request", "")
	defer span.End()

	if err := validateActor(actor); err != nil {
		return nil, err
	}

	purpose, err := s.sanitizer.SanitizeString(purpose)
	if err != nil {
		return nil, utils.NewAppError(utils.CodeValidation, "invalid purpose", err)
	}
	if purpose == "" {
		return nil, utils.NewAppError(utils.CodeValidation, "purpose is required", nil).
			WithDetail("purpose", "required")
	}
	if len(purpose) > s.config.MaxPurposeLength {
		return nil, utils.NewAppError(utils.CodeValidation, "purpose is too long", nil).
			WithDetail("purpose", "max length exceeded")
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.OperationTimeout)
	defer cancel()

	asset, err := s.assets.GetAsset(ctx, assetID)
	if err != nil {
		s.obs.Tracing().SetSpanError(span, err)
		return nil, err
	}

	tx := models.NewTransaction(asset, actor.OrganizationID, actor.UserID, purpose)
	created := tx

	if !s.config.AutoSubmit {
		if err := s.store.CreateTransaction(ctx, tx); err != nil {
			s.obs.Tracing().SetSpanError(span, err)
			return nil, err
		}
		s.publish(ctx, events.NewTransactionEvent(events.EventTransactionRequested, "", tx, actor.UserID, actor.OrganizationID))
		return tx, nil
	}

	submitted, err := s.machine.Apply(tx, actor, ActionSubmit)
	if err != nil {
		return nil, err
	}

	if err := s.createAndSubmit(ctx, created, submitted); err != nil {
		s.obs.Tracing().SetSpanError(span, err)
		return nil, err
	}

	s.obs.Metrics().RecordTransition(string(ActionSubmit), string(created.Status), string(submitted.Status))
	s.publish(ctx, events.NewTransactionEvent(events.EventTransactionRequested, "", created, actor.UserID, actor.OrganizationID))
	s.publish(ctx, events.NewTransactionEvent(events.EventTransactionSubmitted, created.Status, submitted, actor.UserID, actor.OrganizationID))

	return submitted, nil
}

func (s *Service) createAndSubmit(ctx context.Context, created, submitted *models.Transaction) (err error) {
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return utils.WrapError(err, "begin transaction")
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				s.logger.Warn().Err(rbErr).Msg("Rollback failed")
			}
		}
	}()

	if err = tx.CreateTransaction(ctx, created); err != nil {
		return err
	}
	if err = tx.UpdateTransaction(ctx, submitted, created.Version); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Service) Submit(ctx context.Context, id uuid.UUID, actor Actor) (*models.Transaction, error) {
	return s.transition(ctx, id, actor, ActionSubmit)
}

func (s *Service) Approve(ctx context.Context, id uuid.UUID, actor Actor) (*models.Transaction, error) {
	return s.transition(ctx, id, actor, ActionApprove)
}

// Reject is open to every party of a live transaction regardless of role.
// Organizations outside the transaction get not found.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, actor Actor) (*models.Transaction, error) {
	return s.transition(ctx, id, actor, ActionReject)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, actor Actor, action Action) (*models.Transaction, error) {
	ctx, span := s.obs.Tracing().StartTransactionOperation(ctx, string(action), id.String())
	defer span.End()

	if err := validateActor(actor); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.OperationTimeout)
	defer cancel()

	resource := "transaction:" + id.String()
	start := time.Now()
	handle, err := s.locker.Acquire(ctx, resource, s.config.LockTTL)
	s.obs.Metrics().RecordLockOperation("acquire", err == nil, time.Since(start))
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, utils.NewAppError(utils.CodeConcurrentModification, "transaction is being modified by another request", err).
				WithDetail("id", id.String())
		}
		return nil, utils.WrapError(err, "acquire %s", resource)
	}
	defer func() {
		releaseErr := handle.Release(context.WithoutCancel(ctx))
		s.obs.Metrics().RecordLockOperation("release", releaseErr == nil, 0)
		if releaseErr != nil {
			s.logger.Warn().Err(releaseErr).Str("resource", resource).Msg("Failed to release lock")
		}
	}()

	current, err := s.visible(ctx, id, actor.OrganizationID)
	if err != nil {
		s.obs.Tracing().SetSpanError(span, err)
		return nil, err
	}

	next, err := s.machine.Apply(current, actor, action)
	if err != nil {
		s.obs.Metrics().RecordDeniedAction(string(action), string(current.Status))
		s.logger.Info().
			Str("transaction_id", id.String()).
			Str("status", string(current.Status)).
			Str("action", string(action)).
			Str("organization_id", actor.OrganizationID).
			Msg("Transition refused")
		return nil, err
	}

	if err := s.store.UpdateTransaction(ctx, next, current.Version); err != nil {
		s.obs.Tracing().SetSpanError(span, err)
		return nil, err
	}

	s.obs.Metrics().RecordTransition(string(action), string(current.Status), string(next.Status))
	s.logger.Info().
		Str("transaction_id", id.String()).
		Str("from", string(current.Status)).
		Str("to", string(next.Status)).
		Str("organization_id", actor.OrganizationID).
		Msg("Transaction advanced")

	s.publish(ctx, events.NewTransactionEvent(eventTypeFor(action, next.Status), current.Status, next, actor.UserID, actor.OrganizationID))

	return next, nil
}

func eventTypeFor(action Action, to models.TransactionStatus) events.EventType {
	switch {
	case action == ActionSubmit:
		return events.EventTransactionSubmitted
	case action == ActionReject:
		return events.EventTransactionRejected
	case to == models.StatusCompleted:
		return events.EventTransactionCompleted
	default:
		return events.EventTransactionApproved
	}
}

// publish never fails the caller: the transition is already committed.
func (s *Service) publish(ctx context.Context, event events.TransactionEvent) {
	if s.publisher == nil {
		return
	}
	err := s.publisher.Publish(ctx, event)
	s.obs.Metrics().RecordEventPublished(string(event.Type), err)
	if err != nil {
		s.logger.Error().Err(err).
			Str("event_type", string(event.Type)).
			Str("transaction_id", event.TransactionID.String()).
			Msg("Failed to publish transaction event")
	}
}

// visible loads the transaction and hides it from organizations that are
// not a party to it.
func (s *Service) visible(ctx context.Context, id uuid.UUID, org string) (*models.Transaction, error) {
	tx, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(RolesOf(tx, org)) == 0 {
		return nil, utils.NewAppError(utils.CodeNotFound, "transaction not found", nil).
			WithDetail("id", id.String())
	}
	return tx, nil
}

// View is a transaction together with the caller's affordances.
type View struct {
	*models.Transaction
	Roles      []Role   `json:"roles"`
	CanApprove bool     `json:"can_approve"`
	Actions    []Action `json:"actions"`
}

func (s *Service) view(tx *models.Transaction, org string) View {
	actions := s.machine.AvailableActions(tx, org)
	if actions == nil {
		actions = []Action{}
	}
	return View{
		Transaction: tx,
		Roles:       RolesOf(tx, org),
		CanApprove:  s.machine.CanApprove(tx, org),
		Actions:     actions,
	}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID, actor Actor) (View, error) {
	if err := validateActor(actor); err != nil {
		return View{}, err
	}
	tx, err := s.visible(ctx, id, actor.OrganizationID)
	if err != nil {
		return View{}, err
	}
	return s.view(tx, actor.OrganizationID), nil
}

// ListForOrganization returns every transaction org is party to, bucketed by role.
func (s *Service) ListForOrganization(ctx context.Context, org string, status models.TransactionStatus) (Buckets, error) {
	if strings.TrimSpace(org) == "" {
		return Buckets{}, utils.NewAppError(utils.CodeUnauthorized, "caller identity is required", nil)
	}
	if status != "" && !status.IsValid() {
		return Buckets{}, utils.NewAppError(utils.CodeInvalidInput, "unknown transaction status", nil).
			WithDetail("status", string(status))
	}

	txs, err := s.store.ListTransactions(ctx, models.TransactionFilter{OrganizationID: org, Status: status, Limit: listWindow})
	if err != nil {
		return Buckets{}, err
	}
	return Classify(txs, org), nil
}

func (s *Service) Stats(ctx context.Context, org string) (Stats, error) {
	txs, err := s.store.ListTransactions(ctx, models.TransactionFilter{OrganizationID: org, Limit: listWindow})
	if err != nil {
		return Stats{}, err
	}
	return s.machine.Stats(txs, org), nil
}
