package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/burnweek/camp-registration-system/models"
	"github.com/burnweek/camp-registration-system/repositories"
	"github.com/burnweek/camp-registration-system/storage"
)

// ReportService exports season rosters and audit logs as CSV files in object
// storage and hands back public URLs.
type ReportService struct {
	registrationRepo repositories.RegistrationRepository
	assignmentRepo   repositories.AssignmentRepository
	auditRepo        repositories.AuditRepository
	uploader         storage.FileUploader
	logger           *slog.Logger
}

func NewReportService(
	registrationRepo repositories.RegistrationRepository,
	assignmentRepo repositories.AssignmentRepository,
	auditRepo repositories.AuditRepository,
	uploader storage.FileUploader,
	logger *slog.Logger,
) *ReportService {
	return &ReportService{
		registrationRepo: registrationRepo,
		assignmentRepo:   assignmentRepo,
		auditRepo:        auditRepo,
		uploader:         uploader,
		logger:           logger,
	}
}

// SeasonExport points at the uploaded report files for one season.
type SeasonExport struct {
	Season    int    `json:"season"`
	RosterURL string `json:"roster_url"`
	AuditURL  string `json:"audit_url"`
}

// ExportSeason builds the roster and audit CSVs concurrently and uploads both.
func (s *ReportService) ExportSeason(ctx context.Context, season int) (*SeasonExport, error) {
	if s.uploader == nil {
		return nil, fmt.Errorf("report storage is not configured")
	}
	if season < minSeason || season > maxSeason {
		return nil, ErrInvalidSeason
	}

	var rosterCSV, auditCSV []byte

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rosterCSV, err = s.buildRosterCSV(gCtx, season)
		return err
	})
	g.Go(func() error {
		var err error
		auditCSV, err = s.buildAuditCSV(gCtx, season)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stamp := time.Now().UTC().Format("20060102T150405Z")
	export := &SeasonExport{Season: season}

	g, gCtx = errgroup.WithContext(ctx)
	g.Go(func() error {
		key := fmt.Sprintf("reports/%d/roster_%s.csv", season, stamp)
		res, err := s.uploader.Upload(gCtx, key, "text/csv", bytes.NewReader(rosterCSV))
		if err != nil {
			return fmt.Errorf("failed to upload roster report: %w", err)
		}
		export.RosterURL = s.uploader.GetPublicURL(res.Key)
		return nil
	})
	g.Go(func() error {
		key := fmt.Sprintf("reports/%d/audit_%s.csv", season, stamp)
		res, err := s.uploader.Upload(gCtx, key, "text/csv", bytes.NewReader(auditCSV))
		if err != nil {
			return fmt.Errorf("failed to upload audit report: %w", err)
		}
		export.AuditURL = s.uploader.GetPublicURL(res.Key)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "season report exported",
		slog.Int("season", season),
		slog.String("roster_url", export.RosterURL),
		slog.String("audit_url", export.AuditURL),
	)
	return export, nil
}

func (s *ReportService) buildRosterCSV(ctx context.Context, season int) ([]byte, error) {
	regs, err := s.registrationRepo.ListBySeason(ctx, season)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"registration_id", "participant_id", "status", "needs_review", "resource_kind", "resource_id", "assignment_state", "created_at"}); err != nil {
		return nil, err
	}

	for _, reg := range regs {
		assignments, err := s.assignmentRepo.ListByRegistration(ctx, nil, reg.ID)
		if err != nil {
			return nil, err
		}
		base := []string{
			strconv.Itoa(reg.ID),
			strconv.Itoa(reg.ParticipantID),
			string(reg.Status),
			strconv.FormatBool(reg.NeedsReview),
		}
		if len(assignments) == 0 {
			row := append(append([]string{}, base...), "", "", "", reg.CreatedAt.Format(time.RFC3339))
			if err := w.Write(row); err != nil {
				return nil, err
			}
			continue
		}
		for _, a := range assignments {
			row := append(append([]string{}, base...),
				string(a.ResourceKind),
				strconv.Itoa(a.ResourceID),
				string(a.State),
				reg.CreatedAt.Format(time.RFC3339),
			)
			if err := w.Write(row); err != nil {
				return nil, err
			}
		}
	}

	w.Flush()
	return buf.Bytes(), w.Error()
}

func (s *ReportService) buildAuditCSV(ctx context.Context, season int) ([]byte, error) {
	regs, err := s.registrationRepo.ListBySeason(ctx, season)
	if err != nil {
		return nil, err
	}
	seasonRegs := make(map[int]bool, len(regs))
	for _, reg := range regs {
		seasonRegs[reg.ID] = true
	}

	entries, err := s.auditRepo.Query(ctx, models.AuditFilter{})
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"entry_id", "actor_id", "registration_id", "action", "notes", "payload", "created_at"}); err != nil {
		return nil, err
	}
	for _, e := range entries {
		if !seasonRegs[e.RegistrationID] {
			continue
		}
		row := []string{
			strconv.Itoa(e.ID),
			strconv.Itoa(e.ActorID),
			strconv.Itoa(e.RegistrationID),
			string(e.Action),
			e.Notes,
			string(e.Payload),
			e.CreatedAt.Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	w.Flush()
	return buf.Bytes(), w.Error()
}
