// Package review gates the generated supplier email behind a human decision.
//
// A completed run publishes an approval request carrying approve and reject
// links. Each link holds a single-use token, stored only as a bcrypt hash.
// Deciding applies a version-stamped update to the supplier record, so a
// re-extracted record or a second decision cannot overwrite the first.
package review

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/joseph-ayodele/esg-compliance/constants"
	"github.com/joseph-ayodele/esg-compliance/internal/common"
	"github.com/joseph-ayodele/esg-compliance/internal/email"
	"github.com/joseph-ayodele/esg-compliance/internal/entity"
	"github.com/joseph-ayodele/esg-compliance/internal/repository"
	"github.com/joseph-ayodele/esg-compliance/internal/storage"
)

// Decision values accepted by Decide.
const (
	Approve = "approve"
	Reject  = "reject"
)

type Service struct {
	runs      repository.RunRepository
	suppliers repository.SupplierRepository
	audits    repository.AuditRepository
	store     storage.Store
	notifier  Notifier
	baseURL   string
	newToken  func() string
	tokenCost int
	log       *slog.Logger
}

func NewService(
	runs repository.RunRepository,
	suppliers repository.SupplierRepository,
	audits repository.AuditRepository,
	store storage.Store,
	notifier Notifier,
	baseURL string,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	return &Service{
		runs:      runs,
		suppliers: suppliers,
		audits:    audits,
		store:     store,
		notifier:  notifier,
		baseURL:   strings.TrimRight(baseURL, "/"),
		newToken:  uuid.NewString,
		tokenCost: bcrypt.DefaultCost,
		log:       logger,
	}
}

// completedSupplier returns the supplier record of a run that reached COMPLETED.
func (s *Service) completedSupplier(ctx context.Context, runID string) (*entity.SupplierRecord, error) {
	run, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != constants.RunStatusCompleted {
		return nil, fmt.Errorf("%w: run %s is %s", common.ErrNotReady, runID, run.Status)
	}
	return s.suppliers.GetByRun(ctx, runID)
}

// RequestApproval issues a fresh token for the run and publishes the approval request.
func (s *Service) RequestApproval(ctx context.Context, runID string) error {
	sup, err := s.completedSupplier(ctx, runID)
	if err != nil {
		return err
	}
	rows, err := s.audits.List(ctx, repository.AuditFilter{CompanyName: sup.CompanyName, KeyPrefix: sup.AuditDate})
	if err != nil {
		return err
	}

	token := s.newToken()
	hash, err := bcrypt.GenerateFromPassword([]byte(token), s.tokenCost)
	if err != nil {
		return fmt.Errorf("hash review token: %w", err)
	}
	stored := string(hash)
	updated, err := s.suppliers.UpdateApproval(ctx, repository.ApprovalUpdate{
		ID:              sup.ID,
		ExpectedVersion: sup.ApprovalVersion,
		Status:          constants.ApprovalPending,
		Token:           &stored,
	})
	if err != nil {
		return err
	}

	msg := Message{
		Kind:        KindApprovalRequest,
		RunID:       runID,
		CompanyName: sup.CompanyName,
		AuditDate:   sup.AuditDate,
		Subject:     "Audit Approval Request",
		Body:        s.requestBody(runID, sup, email.IssuesTable(rows), token),
	}
	if err := s.notifier.Notify(ctx, msg); err != nil {
		return fmt.Errorf("publish approval request: %w", err)
	}
	s.log.Info("review.request.sent", "run_id", runID, "company", sup.CompanyName, "version", updated.ApprovalVersion)
	return nil
}

// Link returns the approve or reject URL for a token.
func (s *Service) Link(decision, runID, token string) string {
	q := url.Values{}
	q.Set("run", runID)
	q.Set("token", token)
	return s.baseURL + "/" + decision + "?" + q.Encode()
}

func (s *Service) requestBody(runID string, sup *entity.SupplierRecord, issues, token string) string {
	if issues == "" {
		issues = "No graded issues."
	}
	var b strings.Builder
	b.WriteString("Hello,\n")
	b.WriteString("The ESG compliance job has processed the following report:\n\n")
	fmt.Fprintf(&b, "Company:           %s\n", sup.CompanyName)
	fmt.Fprintf(&b, "Date of Audit:     %s\n\n", sup.AuditDate)
	b.WriteString(issues)
	b.WriteString("\n\nPlease check that you are happy with the results and use one of the links below.\n\n")
	fmt.Fprintf(&b, "Approve:\n%s\n\n", s.Link(Approve, runID, token))
	fmt.Fprintf(&b, "Reject:\n%s\n", s.Link(Reject, runID, token))
	return b.String()
}

func tokenMatches(hash, token string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil
}

func rejectionNotice(sup *entity.SupplierRecord) string {
	return fmt.Sprintf(`Hello,

This is a notification that the following audit has been rejected upon human review.

Company:           %s
Date of Audit:     %s`, sup.CompanyName, sup.AuditDate)
}

// Decide applies an approve or reject decision carried by a review link.
func (s *Service) Decide(ctx context.Context, runID, token, decision string) (*entity.SupplierRecord, error) {
	v := common.NewValidator().
		Field("run", runID, common.Required, common.RunID).
		Field("token", token, common.Required).
		Field("decision", decision, common.OneOf(Approve, Reject))
	if err := v.Error(); err != nil {
		return nil, err
	}

	sup, err := s.completedSupplier(ctx, runID)
	if err != nil {
		return nil, err
	}
	if sup.ApprovalStatus != constants.ApprovalPending || !tokenMatches(sup.ApprovalToken, token) {
		s.log.Warn("review.decide.stale", "run_id", runID, "status", sup.ApprovalStatus)
		return nil, fmt.Errorf("%w: review link for run %s is no longer valid", common.ErrConflict, runID)
	}

	status := constants.ApprovalRejected
	body := rejectionNotice(sup)
	if decision == Approve {
		raw, err := s.store.Get(ctx, storage.Keys{RunID: runID}.Email())
		if err != nil {
			return nil, fmt.Errorf("read generated email: %w", err)
		}
		status = constants.ApprovalApproved
		body = string(raw)
	}

	cleared := ""
	updated, err := s.suppliers.UpdateApproval(ctx, repository.ApprovalUpdate{
		ID:              sup.ID,
		ExpectedVersion: sup.ApprovalVersion,
		Status:          status,
		Token:           &cleared,
		EmailBody:       &body,
	})
	if err != nil {
		return nil, err
	}

	if err := s.notifier.Notify(ctx, Message{
		Kind:        KindConfirmation,
		RunID:       runID,
		CompanyName: sup.CompanyName,
		AuditDate:   sup.AuditDate,
		Subject:     "Audit Email Body",
		Body:        body,
	}); err != nil {
		// the decision is stored; only the confirmation is lost
		s.log.Error("review.confirm.failed", "run_id", runID, "error", err)
	}
	s.log.Info("review.decide.ok", "run_id", runID, "status", status, "version", updated.ApprovalVersion)
	return updated, nil
}
