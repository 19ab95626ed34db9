// Package signing sends project contracts for two-party electronic signature
// and reconciles the provider's callbacks and poll results into project state.
package signing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/xfund/backend/internal/audit"
	"github.com/xfund/backend/internal/lifecycle"
	"github.com/xfund/backend/internal/models"
	"github.com/xfund/backend/internal/notify"
	"github.com/xfund/backend/internal/observability"
	"github.com/xfund/backend/internal/repository"
)

var (
	ErrNotApproved        = errors.New("project is not approved for contract signature")
	ErrUnknownRequest     = errors.New("no project matches the signature request")
	ErrSubmissionConflict = errors.New("project changed while the contract was being submitted")
	ErrNotDeclined        = errors.New("signature was not declined")
)

// Signing order on the provider: the platform signs before the owner.
const (
	platformSignerOrder = 0
	ownerSignerOrder    = 1
)

type ProjectStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Project, error)
	GetBySignatureRequestID(ctx context.Context, requestID string) (*models.Project, error)
	ListByLifecycle(ctx context.Context, state models.LifecycleState) ([]*models.Project, error)
	TransitionLifecycle(ctx context.Context, id uuid.UUID, from, to models.LifecycleState) (bool, error)
	RecordSubmission(ctx context.Context, id uuid.UUID, sig models.Signature) (bool, error)
	SaveSigning(ctx context.Context, id uuid.UUID, lc models.LifecycleState, sig models.Signature) error
}

type AccountStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
}

// DocumentSource returns the contract to sign for a project.
type DocumentSource interface {
	Contract(ctx context.Context, projectID uuid.UUID) (filename string, content []byte, err error)
}

// Locker serializes work on one key. The returned release must be called.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

type Service struct {
	projects  ProjectStore
	accounts  AccountStore
	documents DocumentSource
	provider  Provider
	locker    Locker
	platform  Signer
	audit     audit.Recorder
	notifier  notify.Notifier
	logger    *slog.Logger
}

func NewService(projects ProjectStore, accounts AccountStore, documents DocumentSource, provider Provider, locker Locker,
	platform Signer, rec audit.Recorder, n notify.Notifier, logger *slog.Logger) *Service {
	return &Service{
		projects:  projects,
		accounts:  accounts,
		documents: documents,
		provider:  provider,
		locker:    locker,
		platform:  platform,
		audit:     rec,
		notifier:  n,
		logger:    logger,
	}
}

var tracer = otel.Tracer("signing")

func lockKey(projectID uuid.UUID) string { return "signing:project:" + projectID.String() }

// Submit sends the project's contract for signature. The provider calls run
// without holding the project lock; only the final state update takes it, and
// nothing is stored unless every provider call succeeded.
func (s *Service) Submit(ctx context.Context, actor, projectID uuid.UUID) (p *models.Project, err error) {
	ctx, span := tracer.Start(ctx, "signing.Submit")
	span.SetAttributes(attribute.String("project_id", projectID.String()))
	defer func() { observability.EndSpan(span, err) }()

	p, err = s.projects.GetByID(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}
	if !lifecycle.CanSubmitContract(p.Lifecycle, p.Signature.State) {
		return nil, ErrNotApproved
	}
	owner, err := s.accounts.GetByID(ctx, p.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("load owner: %w", err)
	}
	filename, content, err := s.documents.Contract(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load contract: %w", err)
	}

	sig, err := s.openRequest(ctx, p, owner, filename, content)
	if err != nil {
		observability.SigningEvents.WithLabelValues("submit", "provider_error").Inc()
		return nil, err
	}

	release, err := s.locker.Acquire(ctx, lockKey(projectID))
	if err != nil {
		return nil, fmt.Errorf("lock project: %w", err)
	}
	defer release()

	ok, err := s.projects.RecordSubmission(ctx, projectID, sig)
	if err != nil {
		return nil, fmt.Errorf("record submission: %w", err)
	}
	if !ok {
		s.logger.Warn("signature request orphaned by concurrent change", "project_id", projectID, "request_id", sig.RequestID)
		return nil, ErrSubmissionConflict
	}
	observability.SigningEvents.WithLabelValues("submit", string(DecisionApplied)).Inc()

	from := p.Lifecycle
	p.Lifecycle = models.LifecycleSigning
	p.Signature = sig
	s.audit.Record(ctx, actor, audit.ActionContractSubmitted, models.ProjectRef(projectID), map[string]any{
		"request_id": sig.RequestID, "from": from, "to": models.LifecycleSigning,
	})
	s.notifier.Notify(ctx, p.OwnerID, actor, models.ProjectRef(projectID), notify.TypeContractSent,
		"Contract sent for signature", fmt.Sprintf("The contract for %s is ready to sign once the platform has signed.", p.Title))
	return p, nil
}

// openRequest runs the four provider calls and returns the signing facts to
// store.
func (s *Service) openRequest(ctx context.Context, p *models.Project, owner *models.Account, filename string, content []byte) (models.Signature, error) {
	var sig models.Signature
	requestID, err := s.provider.CreateRequest(ctx, "Contract "+p.Title)
	if err != nil {
		return sig, err
	}
	documentID, err := s.provider.UploadDocument(ctx, requestID, filename, content)
	if err != nil {
		return sig, err
	}
	adminSignerID, err := s.provider.AddSigner(ctx, requestID, documentID, s.platform, platformSignerOrder)
	if err != nil {
		return sig, err
	}
	ownerSignerID, err := s.provider.AddSigner(ctx, requestID, documentID, Signer{
		FirstName: owner.FirstName, LastName: owner.LastName, Email: owner.Email,
	}, ownerSignerOrder)
	if err != nil {
		return sig, err
	}
	if err := s.provider.Activate(ctx, requestID); err != nil {
		return sig, err
	}
	return models.Signature{
		State:         models.SigningAwaitingAdmin,
		RequestID:     requestID,
		DocumentID:    documentID,
		AdminSignerID: adminSignerID,
		OwnerSignerID: ownerSignerID,
	}, nil
}

// HandleEvent applies one provider callback. It returns ErrUnknownRequest when
// no project carries the request identifier; callers acknowledge it anyway.
func (s *Service) HandleEvent(ctx context.Context, ev Event) error {
	fact, ok := ev.Fact()
	if !ok {
		s.logger.Info("signing event ignored", "event", ev.Name, "request_id", ev.RequestID)
		observability.SigningEvents.WithLabelValues(ev.Name, string(DecisionIgnored)).Inc()
		return nil
	}
	p, err := s.projects.GetBySignatureRequestID(ctx, ev.RequestID)
	if errors.Is(err, repository.ErrNotFound) {
		s.logger.Warn("signing event for unknown request", "event", ev.Name, "request_id", ev.RequestID)
		observability.SigningEvents.WithLabelValues(ev.Name, "unknown_request").Inc()
		return ErrUnknownRequest
	}
	if err != nil {
		return fmt.Errorf("find project: %w", err)
	}
	_, err = s.apply(ctx, p.ID, ev.RequestID, fact)
	return err
}

// Sync polls the provider for the project's request and applies what it
// reports through the same rules as callbacks.
func (s *Service) Sync(ctx context.Context, projectID uuid.UUID) (*models.Project, error) {
	p, err := s.projects.GetByID(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}
	if p.Signature.RequestID == "" {
		return p, nil
	}
	status, err := s.provider.GetRequest(ctx, p.Signature.RequestID)
	if err != nil {
		return nil, err
	}
	facts := FactsFromStatus(status)
	if len(facts) == 0 {
		return p, nil
	}
	return s.apply(ctx, projectID, p.Signature.RequestID, facts...)
}

// SyncAll polls every project currently in signing. Errors are logged per
// project; the count of projects polled without error is returned.
func (s *Service) SyncAll(ctx context.Context) (int, error) {
	projects, err := s.projects.ListByLifecycle(ctx, models.LifecycleSigning)
	if err != nil {
		return 0, err
	}
	synced := 0
	for _, p := range projects {
		if p.Signature.State == models.SigningDeclined {
			continue
		}
		if _, err := s.Sync(ctx, p.ID); err != nil {
			s.logger.Warn("signature poll failed", "project_id", p.ID, "request_id", p.Signature.RequestID, "error", err)
			continue
		}
		synced++
	}
	return synced, nil
}

// ResetAfterDecline returns a declined project to approved so its contract
// can be submitted again.
func (s *Service) ResetAfterDecline(ctx context.Context, actor, projectID uuid.UUID) error {
	release, err := s.locker.Acquire(ctx, lockKey(projectID))
	if err != nil {
		return fmt.Errorf("lock project: %w", err)
	}
	defer release()

	p, err := s.projects.GetByID(ctx, projectID)
	if err != nil {
		return fmt.Errorf("load project: %w", err)
	}
	if p.Signature.State != models.SigningDeclined {
		return ErrNotDeclined
	}
	if _, err := lifecycle.Transition(p.Lifecycle, models.LifecycleApproved); err != nil {
		return err
	}
	ok, err := s.projects.TransitionLifecycle(ctx, projectID, p.Lifecycle, models.LifecycleApproved)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: project %s changed state concurrently", lifecycle.ErrIllegalTransition, projectID)
	}
	s.audit.Record(ctx, actor, audit.ActionLifecycleChanged, models.ProjectRef(projectID), map[string]any{
		"from": p.Lifecycle, "to": models.LifecycleApproved, "reason": "signature_declined",
	})
	return nil
}

// apply reconciles facts against the stored project under the project lock.
func (s *Service) apply(ctx context.Context, projectID uuid.UUID, requestID string, facts ...Fact) (p *models.Project, err error) {
	ctx, span := tracer.Start(ctx, "signing.apply")
	span.SetAttributes(attribute.String("project_id", projectID.String()), attribute.String("request_id", requestID))
	defer func() { observability.EndSpan(span, err) }()

	release, err := s.locker.Acquire(ctx, lockKey(projectID))
	if err != nil {
		return nil, fmt.Errorf("lock project: %w", err)
	}
	defer release()

	p, err = s.projects.GetByID(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}
	if p.Signature.RequestID != requestID {
		s.logger.Info("signing fact for superseded request", "project_id", projectID, "request_id", requestID)
		return p, nil
	}

	lc, sig := p.Lifecycle, p.Signature
	for _, f := range facts {
		out := Reconcile(lc, sig, f)
		observability.SigningEvents.WithLabelValues(string(f.Kind), string(out.Decision)).Inc()
		if out.Decision == DecisionUnknownSigner {
			s.logger.Warn("signing event for unknown signer",
				"project_id", projectID, "request_id", requestID, "signer_id", f.SignerID)
		}
		lc, sig = out.Lifecycle, out.Signature
	}
	if lc == p.Lifecycle && sig == p.Signature {
		return p, nil
	}

	if err := s.projects.SaveSigning(ctx, projectID, lc, sig); err != nil {
		return nil, fmt.Errorf("save signing state: %w", err)
	}
	s.audit.Record(ctx, models.SystemPlatformAccountID, audit.ActionSigningUpdated, models.ProjectRef(projectID), map[string]any{
		"request_id": requestID, "from": p.Signature.State, "to": sig.State,
	})
	if lc != p.Lifecycle {
		s.audit.Record(ctx, models.SystemPlatformAccountID, audit.ActionLifecycleChanged, models.ProjectRef(projectID), map[string]any{
			"from": p.Lifecycle, "to": lc, "reason": "contract_signed",
		})
	}
	s.logger.Info("signing state updated",
		"project_id", projectID, "signing_state", sig.State, "lifecycle_state", lc)

	switch sig.State {
	case models.SigningDone:
		s.notifier.Notify(ctx, p.OwnerID, models.SystemPlatformAccountID, models.ProjectRef(projectID), notify.TypeContractSigned,
			"Contract signed", fmt.Sprintf("Both parties signed the contract for %s.", p.Title))
	case models.SigningDeclined:
		s.notifier.Notify(ctx, p.OwnerID, models.SystemPlatformAccountID, models.ProjectRef(projectID), notify.TypeContractDeclined,
			"Contract declined", fmt.Sprintf("The contract for %s was declined.", p.Title))
	}

	p.Lifecycle, p.Signature = lc, sig
	return p, nil
}

// FactsFromStatus turns a polled request into facts, signer facts first.
func FactsFromStatus(st *RequestStatus) []Fact {
	if st.Status == RequestStatusDeclined {
		return []Fact{{Kind: FactRequestDeclined}}
	}
	var facts []Fact
	for _, signer := range st.Signers {
		switch signer.Status {
		case SignerStatusSigned:
			facts = append(facts, Fact{Kind: FactSignerDone, SignerID: signer.ID})
		case SignerStatusDeclined:
			return []Fact{{Kind: FactRequestDeclined}}
		}
	}
	if st.Status == RequestStatusDone {
		facts = append(facts, Fact{Kind: FactRequestDone})
	}
	return facts
}
