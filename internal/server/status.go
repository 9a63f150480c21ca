package server

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/joseph-ayodele/esg-compliance/constants"
	"github.com/joseph-ayodele/esg-compliance/internal/common"
	"github.com/joseph-ayodele/esg-compliance/internal/entity"
	"github.com/joseph-ayodele/esg-compliance/internal/repository"
	"github.com/joseph-ayodele/esg-compliance/internal/storage"
)

// RunView is what the status endpoints report for one run.
type RunView struct {
	Run            entity.WorkflowRun       `json:"run"`
	Sections       []entity.SectionRun      `json:"sections"`
	Completed      bool                     `json:"completed"` // status marker written
	ApprovalStatus constants.ApprovalStatus `json:"approval_status,omitempty"`
}

type StatusService struct {
	runs      repository.RunRepository
	suppliers repository.SupplierRepository
	store     storage.Store
	log       *slog.Logger
}

func NewStatusService(runs repository.RunRepository, suppliers repository.SupplierRepository, store storage.Store, logger *slog.Logger) *StatusService {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusService{runs: runs, suppliers: suppliers, store: store, log: logger}
}

func (s *StatusService) RunStatus(ctx context.Context, runID string) (*RunView, error) {
	if err := common.NewValidator().Field("run_id", runID, common.Required, common.RunID).Error(); err != nil {
		return nil, err
	}
	run, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	sections, err := s.runs.ListSections(ctx, runID)
	if err != nil {
		return nil, err
	}
	view := &RunView{Run: *run, Sections: sections}

	key := storage.Keys{RunID: runID}.Status()
	if ok, err := s.store.Exists(ctx, key); err != nil {
		return nil, err
	} else if ok {
		body, err := s.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		view.Completed = strings.TrimSpace(string(body)) == constants.StatusCompleted
	}

	if s.suppliers != nil && run.CompanyName != "" {
		sup, err := s.suppliers.GetByRun(ctx, runID)
		switch {
		case err == nil:
			view.ApprovalStatus = sup.ApprovalStatus
		case !errors.Is(err, common.ErrNotFound):
			return nil, err
		}
	}
	s.log.Debug("status.run.ok", "run_id", runID, "status", run.Status, "sections", len(sections))
	return view, nil
}
