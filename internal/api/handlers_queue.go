// handlers_queue.go - Upload queue handlers
package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/instabrief/backend/internal/history"
	"github.com/instabrief/backend/internal/intake"
	"github.com/instabrief/backend/internal/models"
	"github.com/instabrief/backend/internal/queue"
	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000

	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// QueueResponse is the queue snapshot returned by queue endpoints.
type QueueResponse struct {
	SessionID  string                 `json:"sessionId" msgpack:"sessionId"`
	Items      []models.QueueItem     `json:"items" msgpack:"items"`
	Processing bool                   `json:"processing" msgpack:"processing"`
	Settings   models.SummarySettings `json:"settings" msgpack:"settings"`
}

// RejectedFile names an upload refused at intake.
type RejectedFile struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// UploadResponse is returned by HandleUploadFiles.
type UploadResponse struct {
	Accepted int                `json:"accepted"`
	Rejected []RejectedFile     `json:"rejected"`
	Items    []models.QueueItem `json:"items"`
}

func snapshot(id string, q *queue.Manager) QueueResponse {
	return QueueResponse{
		SessionID:  id,
		Items:      q.Items(),
		Processing: q.IsProcessing(),
		Settings:   q.Settings(),
	}
}

// HandleUploadFiles accepts the multipart "files" field into the session's
// queue. Files refused at intake produce one error notification each and
// the rest are accepted.
func (h *Handler) HandleUploadFiles(c echo.Context) error {
	id, q, err := h.queueFor(c)
	if err != nil {
		return err
	}

	form, err := c.MultipartForm()
	if err != nil {
		return NewBadRequestError("invalid multipart form", err)
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		return NewValidationError("files")
	}

	observer := h.hub.For(id)
	refs := make([]models.FileRef, 0, len(headers))
	rejected := []RejectedFile{}

	for _, fh := range headers {
		ref, err := h.intakeFile(fh)
		if err != nil {
			var rej *intake.RejectedFileError
			if errors.As(err, &rej) {
				rejected = append(rejected, RejectedFile{Name: rej.Name, Reason: rej.Reason.Error()})
				observer.Notify(models.Notification{
					Level:   models.NotificationError,
					Message: rej.Error(),
					Time:    time.Now(),
				})
				continue
			}
			for _, r := range refs {
				if err := h.store.Delete(r.StoreID); err != nil {
					h.logger.Warn("api.payload_release_failed", "store_id", shortID(r.StoreID), "error", err)
				}
			}
			return NewInternalError("failed to store upload", err)
		}
		refs = append(refs, ref)
	}

	items, err := q.AcceptFiles(refs)
	if err != nil {
		if apiErr := fromDomainError(err, id); apiErr != nil {
			return apiErr
		}
		return NewInternalError("failed to queue upload", err)
	}
	h.logger.Info("api.files_uploaded", "session_id", shortID(id), "accepted", len(refs), "rejected", len(rejected))

	status := http.StatusCreated
	if len(refs) == 0 {
		status = http.StatusOK
	}
	return c.JSON(status, UploadResponse{
		Accepted: len(refs),
		Rejected: rejected,
		Items:    items,
	})
}

// intakeFile validates one multipart file and stores its payload.
func (h *Handler) intakeFile(fh *multipart.FileHeader) (models.FileRef, error) {
	name := filepath.Base(fh.Filename)

	// Reject by extension and declared size before reading anything.
	if models.FileTypeOf(name) == "" {
		return models.FileRef{}, &intake.RejectedFileError{Name: name, Reason: intake.ErrUnsupportedType}
	}
	if fh.Size > intake.MaxFileSize {
		return models.FileRef{}, &intake.RejectedFileError{Name: name, Reason: intake.ErrTooLarge}
	}

	src, err := fh.Open()
	if err != nil {
		return models.FileRef{}, fmt.Errorf("open %s: %w", name, err)
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, intake.MaxFileSize+1))
	if err != nil {
		return models.FileRef{}, fmt.Errorf("read %s: %w", name, err)
	}

	ft, err := intake.Validate(name, int64(len(data)), data)
	if err != nil {
		return models.FileRef{}, err
	}

	info, err := h.store.Save(name, fh.Header.Get("Content-Type"), bytes.NewReader(data))
	if err != nil {
		return models.FileRef{}, err
	}
	return models.FileRef{StoreID: info.ID, Name: name, Size: info.Size, Type: ft}, nil
}

// HandleGetQueue returns the queue snapshot as JSON.
func (h *Handler) HandleGetQueue(c echo.Context) error {
	id, q, err := h.queueFor(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snapshot(id, q))
}

// HandleGetQueueMsgpack returns the queue snapshot in MessagePack format.
func (h *Handler) HandleGetQueueMsgpack(c echo.Context) error {
	id, q, err := h.queueFor(c)
	if err != nil {
		return err
	}
	data, err := msgpack.Marshal(snapshot(id, q))
	if err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}
	return c.Blob(http.StatusOK, "application/msgpack", data)
}

// HandleRemoveItem removes one item. Unknown item ids are not an error.
func (h *Handler) HandleRemoveItem(c echo.Context) error {
	_, q, err := h.queueFor(c)
	if err != nil {
		return err
	}
	q.RemoveItem(c.Param("itemId"))
	return c.NoContent(http.StatusNoContent)
}

// HandleGetSettings returns the session's summary settings.
func (h *Handler) HandleGetSettings(c echo.Context) error {
	_, q, err := h.queueFor(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, q.Settings())
}

// HandleUpdateSettings replaces the settings. Omitted fields keep their
// current value.
func (h *Handler) HandleUpdateSettings(c echo.Context) error {
	id, q, err := h.queueFor(c)
	if err != nil {
		return err
	}

	s := q.Settings()
	if err := c.Bind(&s); err != nil {
		return NewBadRequestError("invalid settings body", err)
	}
	s, err = s.Normalize()
	if err != nil {
		return NewInvalidSettingsError(err)
	}
	if s.Language != models.LanguageAuto && !h.catalog.HasLanguage(s.Language) {
		return NewInvalidSettingsError(fmt.Errorf("%w: language %q is not offered", models.ErrInvalidSettings, s.Language))
	}

	updated, err := q.UpdateSettings(s)
	if err != nil {
		if apiErr := fromDomainError(err, id); apiErr != nil {
			return apiErr
		}
		return NewInternalError("failed to update settings", err)
	}
	return c.JSON(http.StatusOK, updated)
}

// HandleProcess starts a processing run in the background. Progress is
// reported on the session's event stream.
func (h *Handler) HandleProcess(c echo.Context) error {
	id, q, err := h.queueFor(c)
	if err != nil {
		return err
	}

	if _, err := q.ProcessAllAsync(h.runCtx); err != nil {
		if apiErr := fromDomainError(err, id); apiErr != nil {
			return apiErr
		}
		return NewInternalError("failed to start processing", err)
	}
	return c.JSON(http.StatusAccepted, snapshot(id, q))
}

// HandleGetHistory lists recorded item outcomes for the session.
func (h *Handler) HandleGetHistory(c echo.Context) error {
	id, _, err := h.queueFor(c)
	if err != nil {
		return err
	}

	limit := defaultHistoryLimit
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return NewValidationError("limit")
		}
		limit = min(n, maxHistoryLimit)
	}

	entries, err := h.runs(c, id, limit)
	if err != nil {
		return NewInternalError("failed to read history", err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"sessionId": id,
		"entries":   entries,
	})
}

// HandleExport downloads the queue and its run history as an XLSX workbook.
func (h *Handler) HandleExport(c echo.Context) error {
	id, q, err := h.queueFor(c)
	if err != nil {
		return err
	}

	runs, err := h.runs(c, id, maxHistoryLimit)
	if err != nil {
		return NewInternalError("failed to read history", err)
	}
	data, err := h.exporter.QueueXLSX(q.Items(), runs)
	if err != nil {
		return NewInternalError("failed to build workbook", err)
	}

	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename="instabrief-%s.xlsx"`, shortID(id)))
	return c.Blob(http.StatusOK, xlsxContentType, data)
}

func (h *Handler) runs(c echo.Context, sessionID string, limit int) ([]history.Entry, error) {
	if h.history == nil {
		return []history.Entry{}, nil
	}
	entries, err := h.history.List(c.Request().Context(), sessionID, limit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	return entries, nil
}

// shortID safely truncates an ID for logging
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
