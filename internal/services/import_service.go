package services

import (
	"context"
	"errors"
	"io"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/perfmon-backend/internal/importer"
	"github.com/tbourn/perfmon-backend/internal/observability"
)

// ImportRequest is one uploaded file to run through the pipeline.
type ImportRequest struct {
	Domain            string
	Mode              string
	Filename          string
	Body              io.Reader
	ConfirmDeactivate bool
	Actor             string
}

// ImportService parses uploads and runs them through the import pipeline.
type ImportService struct {
	Pipeline *importer.Pipeline
}

// NewImportService constructs an ImportService.
func NewImportService(p *importer.Pipeline) *ImportService {
	return &ImportService{Pipeline: p}
}

// Run parses req.Body and runs a dry-run or commit. On a rejected commit the
// report is returned together with the *importer.CommitAbortedError.
func (s *ImportService) Run(ctx context.Context, req ImportRequest) (*importer.Report, error) {
	tr := otel.Tracer("services/ImportService")
	ctx, span := tr.Start(ctx, "Run",
		trace.WithAttributes(
			attribute.String("import.domain", req.Domain),
			attribute.String("import.mode", req.Mode),
			attribute.String("import.file", req.Filename),
		),
	)
	defer span.End()

	d, err := importer.ParseDomain(req.Domain)
	if err != nil {
		return nil, err
	}
	mode, err := importer.ParseMode(req.Mode)
	if err != nil {
		return nil, err
	}
	tbl, err := importer.ReadTable(req.Filename, req.Body)
	if err != nil {
		return nil, err
	}

	rep, err := s.Pipeline.Run(ctx, d, mode, tbl, importer.Options{
		ConfirmDeactivate: req.ConfirmDeactivate,
		Actor:             req.Actor,
	})
	var aborted *importer.CommitAbortedError
	if err != nil && !errors.As(err, &aborted) {
		span.RecordError(err)
		observability.ObserveImport(string(d), string(mode), "failed", len(tbl.Records))
		return nil, err
	}
	observability.ObserveImport(string(d), string(mode), string(rep.State), rep.Rows)
	log.Info().
		Str("domain", string(d)).Str("mode", string(mode)).Str("state", string(rep.State)).
		Int("rows", rep.Rows).Int("errors", len(rep.Errors)).
		Int("created", len(rep.Created)).Int("updated", len(rep.Updated)).Int("deactivated", len(rep.Deactivated)).
		Str("actor", req.Actor).
		Msg("import finished")
	return rep, err
}

// Template renders the upload template of a domain.
func (s *ImportService) Template(domain, format string) ([]byte, string, error) {
	d, err := importer.ParseDomain(domain)
	if err != nil {
		return nil, "", err
	}
	return importer.Template(d, format)
}
