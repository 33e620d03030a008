// Import HTTP handlers.
//
//   - POST /import/{domain}?mode=dry-run|commit   (multipart upload)
//   - GET  /import/{domain}/template?format=csv|xlsx
//
// Idempotency:
// A commit sent with an Idempotency-Key header stores its report under
// (actor, scope, key). A retry with the same key returns the stored report
// with `Idempotency-Replayed: true` instead of committing again.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/perfmon-backend/internal/http/middleware"
	"github.com/tbourn/perfmon-backend/internal/importer"
	"github.com/tbourn/perfmon-backend/internal/services"
	"github.com/tbourn/perfmon-backend/internal/sysutil"
)

// ImportRejectedResponse is returned when a commit finds row errors. Nothing
// was written; Report lists every issue.
type ImportRejectedResponse struct {
	ErrorResponse
	Report *importer.Report `json:"report"`
}

// Import godoc
// @ID          importFile
// @Summary     Import a data file
// @Description Validates an uploaded CSV or XLSX file for a domain. dry-run returns the report and the diff against the store; commit applies it atomically or rejects it with the report.
// @Tags        Import
// @Accept      multipart/form-data
// @Produce     json
//
// @Param       X-User-ID           header    string  false "Acting user"  example(planner)
// @Param       Idempotency-Key     header    string  false "Replays a committed import"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       domain              path      string  true  "Import domain"  Enums(services, budget-annual, ops-actual, calendar-1404, seasonality)
// @Param       mode                query     string  false "Run mode"  Enums(dry-run, commit) default(dry-run)
// @Param       confirm_deactivate  query     bool    false "Deactivate active services missing from the file"
// @Param       file                formData  file    true  "CSV or XLSX file"
//
// @Success     200  {object}  importer.Report
// @Failure     400  {object}  handlers.ErrorResponse          "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse          "Unknown domain"
// @Failure     409  {object}  handlers.ErrorResponse          "Concurrent commit"
// @Failure     413  {object}  handlers.ErrorResponse          "File too large"
// @Failure     415  {object}  handlers.ErrorResponse          "Unsupported format"
// @Failure     422  {object}  handlers.ImportRejectedResponse "Commit aborted"
// @Failure     500  {object}  handlers.ErrorResponse          "Internal error"
// @Router      /import/{domain} [post]
func (h *Handlers) Import(c *gin.Context) {
	ctx := c.Request.Context()
	who := actor(c)
	mode := strings.TrimSpace(c.DefaultQuery("mode", string(importer.ModeDryRun)))
	commit := mode == string(importer.ModeCommit)

	idemKey, _ := middleware.GetIdempotencyKey(c)
	scope := middleware.GetIdempotencyScope(c)
	if commit && idemKey != "" && h.svc.Idempotency != nil {
		if status, body, found, err := h.svc.Idempotency.Lookup(ctx, who, scope, idemKey); err == nil && found {
			middleware.LoggerFrom(c).Info().
				Str("idempotency_key", idemKey).
				Bool("flagged", middleware.IsReplay(c)).
				Msg("import replayed")
			c.Header("Idempotency-Replayed", "true")
			c.Data(status, "application/json; charset=utf-8", body)
			return
		}
	}

	fh, err := c.FormFile("file")
	if err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			failErr(c, err, ErrCodeImportFailed)
			return
		}
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, `multipart field "file" is required`)
		return
	}
	f, err := fh.Open()
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeMalformedFile, "cannot read uploaded file")
		return
	}
	defer f.Close()

	rep, err := h.svc.Import.Run(ctx, services.ImportRequest{
		Domain:            c.Param("domain"),
		Mode:              mode,
		Filename:          fh.Filename,
		Body:              f,
		ConfirmDeactivate: sysutil.IsTruthy(c.Query("confirm_deactivate")),
		Actor:             who,
	})
	var aborted *importer.CommitAbortedError
	switch {
	case errors.As(err, &aborted):
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, ImportRejectedResponse{
			ErrorResponse: ErrorResponse{
				RequestID: c.Writer.Header().Get("X-Request-ID"),
				Code:      ErrCodeCommitAborted,
				Message:   aborted.Error(),
			},
			Report: rep,
		})
		return
	case err != nil:
		failErr(c, err, ErrCodeImportFailed)
		return
	}

	if commit && idemKey != "" && h.svc.Idempotency != nil {
		if body, err := json.Marshal(rep); err == nil {
			if err := h.svc.Idempotency.Save(ctx, who, scope, idemKey, http.StatusOK, body); err != nil {
				middleware.LoggerFrom(c).Warn().Err(err).Msg("idempotency record not stored")
			}
		}
	}
	ok(c, http.StatusOK, rep)
}

// Template godoc
// @ID          importTemplate
// @Summary     Download an import template
// @Description Returns an empty template with the domain's headers. XLSX templates carry helper formulas.
// @Tags        Import
// @Produce     octet-stream
//
// @Param       domain  path   string  true  "Import domain"  Enums(services, budget-annual, ops-actual, calendar-1404, seasonality)
// @Param       format  query  string  false "File format"    Enums(csv, xlsx) default(csv)
//
// @Success     200  {file}    file
// @Failure     404  {object}  handlers.ErrorResponse "Unknown domain"
// @Failure     415  {object}  handlers.ErrorResponse "Unsupported format"
// @Router      /import/{domain}/template [get]
func (h *Handlers) Template(c *gin.Context) {
	domain := c.Param("domain")
	format := strings.ToLower(strings.TrimSpace(c.DefaultQuery("format", importer.FormatCSV)))
	body, contentType, err := h.svc.Import.Template(domain, format)
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	attachment(c, domain+"-template."+format, contentType, body)
}
