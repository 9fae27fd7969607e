package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/hirelens/sourcing-engine/internal/repository"
)

// Service is a tiny façade over repositories that produces XLSX bytes for
// candidate exports.
type Service struct {
	searches repository.SearchRepository
	links    repository.SearchCandidateRepository
	logger   *slog.Logger
}

func NewService(searches repository.SearchRepository, links repository.SearchCandidateRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{searches: searches, links: links, logger: logger}
}

// ExportCandidatesXLSX returns an XLSX workbook (as bytes) with every
// candidate linked to the search, best scores first.
func (s *Service) ExportCandidatesXLSX(ctx context.Context, searchID uuid.UUID) ([]byte, error) {
	start := time.Now()

	if _, err := s.searches.GetByID(ctx, searchID); err != nil {
		return nil, fmt.Errorf("load search: %w", err)
	}

	results, err := s.links.ListResults(ctx, searchID)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}

	f := excelize.NewFile()
	const sheet = "Candidates"
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		_, err := f.NewSheet(sheet)
		if err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)

	headers := []string{
		"Name",
		"Headline",
		"Current Title",
		"Current Company",
		"Location",
		"Profile URL",
		"Match Score",
		"Status",
		"Source",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	row := 2
	for _, r := range results {
		score := ""
		if r.Link.MatchScore != nil {
			score = fmt.Sprintf("%.2f", *r.Link.MatchScore)
		}
		values := []any{
			r.Candidate.FullName,
			r.Candidate.Headline,
			r.Candidate.CurrentTitle,
			r.Candidate.CurrentCompany,
			r.Candidate.Location,
			r.Candidate.ProfileURL,
			score,
			r.Link.Status,
			r.Link.Source,
		}
		for i, v := range values {
			cell, _ := excelize.CoordinatesToCellName(i+1, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
		row++
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}

	s.logger.Info("export.candidates_xlsx",
		"search_id", searchID,
		"rows", len(results),
		"bytes", buf.Len(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}
