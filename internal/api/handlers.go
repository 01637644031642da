package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goodtune/dwelltime/internal/duration"
	"github.com/goodtune/dwelltime/internal/storage"
	"github.com/google/uuid"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type apiKeyResponse struct {
	APIKey    string    `json:"api_key"`
	ExpiresAt time.Time `json:"expires_at"`
}

type personDurationResponse struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	TotalDuration string `json:"total_duration"`
	CreatedAt     string `json:"created_at"`
}

type personDurationWithDetailsResponse struct {
	personDurationResponse
	Details []detailResponse `json:"details"`
}

type detailResponse struct {
	ID               int64      `json:"id"`
	PersonDurationID int64      `json:"person_duration_id"`
	LabeledImage     *string    `json:"labeled_image"`
	Nim              string     `json:"nim"`
	Name             string     `json:"name"`
	NameTrackID      string     `json:"name_track_id"`
	StartTime        time.Time  `json:"start_time"`
	EndTime          *time.Time `json:"end_time"`
}

type closeDetailResponse struct {
	NameTrackID string    `json:"name_track_id"`
	EndTime     time.Time `json:"end_time"`
}

type createPersonDurationRequest struct {
	Name string `json:"name" binding:"required"`
}

type closeDetailRequest struct {
	EndTime string `json:"end_time" binding:"required"`
}

func toPersonDuration(p *storage.PersonDuration) personDurationResponse {
	return personDurationResponse{
		ID:            p.ID,
		Name:          p.Name,
		TotalDuration: duration.FormatTotal(p.TotalSeconds),
		CreatedAt:     p.CreatedOn,
	}
}

func toDetail(d *storage.Detail) detailResponse {
	resp := detailResponse{
		ID:               d.ID,
		PersonDurationID: d.PersonDurationID,
		Nim:              d.SubjectID,
		Name:             d.Name,
		NameTrackID:      d.TrackID,
		StartTime:        d.StartTime,
		EndTime:          d.EndTime,
	}
	if d.LabeledImage != "" {
		ref := d.LabeledImage
		resp.LabeledImage = &ref
	}
	return resp
}

func toDetails(details []storage.Detail) []detailResponse {
	out := make([]detailResponse, 0, len(details))
	for i := range details {
		out = append(out, toDetail(&details[i]))
	}
	return out
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, messageResponse{Message: "Welcome to dwelltime API"})
}

func (s *Server) handleGenerateAPIKey(c *gin.Context) {
	cred, err := s.gate.Issue(c.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Str("handler", "generate-api-key").Msg("Failed to issue API key")
		writeMessage(c, http.StatusInternalServerError, "Failed to generate API key")
		return
	}

	c.JSON(http.StatusCreated, apiKeyResponse{APIKey: cred.Token, ExpiresAt: cred.ExpiresAt})
}

func (s *Server) handleCreatePersonDuration(c *gin.Context) {
	var req createPersonDurationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeMessage(c, http.StatusBadRequest, "Request body must be JSON with a name")
		return
	}

	p, created, err := s.tracker.CreateDaily(c.Request.Context(), req.Name)
	if err != nil {
		s.writeError(c, "create-person-duration", err)
		return
	}
	if !created {
		c.JSON(http.StatusOK, messageResponse{Message: "data already exists for today"})
		return
	}

	c.JSON(http.StatusCreated, toPersonDuration(p))
}

func (s *Server) handleListPersonDurations(c *gin.Context) {
	items, err := s.tracker.List(c.Request.Context())
	if err != nil {
		s.writeError(c, "list-person-durations", err)
		return
	}

	out := make([]personDurationWithDetailsResponse, 0, len(items))
	for i := range items {
		out = append(out, personDurationWithDetailsResponse{
			personDurationResponse: toPersonDuration(&items[i]),
			Details:                toDetails(items[i].Details),
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleOpenDetail(c *gin.Context) {
	req := duration.OpenRequest{
		SubjectID:   c.PostForm("nim"),
		SubjectName: c.PostForm("name"),
		TrackID:     c.PostForm("name_track_id"),
	}

	header, err := c.FormFile("image_file")
	switch {
	case err == nil:
		f, err := header.Open()
		if err != nil {
			writeMessage(c, http.StatusBadRequest, "Unable to read image_file")
			return
		}
		defer f.Close()
		req.Image = f
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
	default:
		writeMessage(c, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	d, err := s.tracker.Open(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, "open-detail", err)
		return
	}

	c.JSON(http.StatusCreated, toDetail(d))
}

func (s *Server) handleCloseDetail(c *gin.Context) {
	var req closeDetailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeMessage(c, http.StatusBadRequest, "Request body must be JSON with an end_time")
		return
	}

	end, err := parseEndTime(req.EndTime, s.config.Location)
	if err != nil {
		writeMessage(c, http.StatusBadRequest, "end_time must be an ISO 8601 timestamp")
		return
	}

	d, err := s.tracker.Close(c.Request.Context(), c.Param("track_id"), end)
	if err != nil {
		s.writeError(c, "close-detail", err)
		return
	}

	c.JSON(http.StatusOK, closeDetailResponse{NameTrackID: d.TrackID, EndTime: *d.EndTime})
}

func (s *Server) handleListDetails(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		writeMessage(c, http.StatusBadRequest, "id must be a positive integer")
		return
	}

	details, err := s.tracker.Details(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, "list-details", err)
		return
	}

	c.JSON(http.StatusOK, toDetails(details))
}

func (s *Server) handleShowLabeledImage(c *gin.Context) {
	filename := c.Query("filename")
	if filename == "" {
		writeMessage(c, http.StatusBadRequest, "filename is required")
		return
	}

	f, info, err := s.tracker.Image(c.Request.Context(), filename)
	if err != nil {
		s.writeError(c, "show-labeled-image", err)
		return
	}
	defer f.Close()

	c.Header("Cache-Control", "private, max-age=86400")
	c.DataFromReader(http.StatusOK, info.Size, info.ContentType, f, nil)
}

// naiveLayouts are accepted for end times sent without a UTC offset.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// parseEndTime reads an RFC 3339 timestamp. Timestamps without an offset
// are taken to be in loc.
func parseEndTime(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	var lastErr error
	for _, layout := range naiveLayouts {
		t, err := time.ParseInLocation(layout, value, loc)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// writeError maps tracker error kinds onto HTTP statuses. Storage failures
// are logged with a request id and never echoed to the client.
func (s *Server) writeError(c *gin.Context, handler string, err error) {
	switch {
	case errors.Is(err, duration.ErrValidation):
		writeMessage(c, http.StatusBadRequest, cleanMessage(err, duration.ErrValidation))
	case errors.Is(err, duration.ErrNotFound):
		writeMessage(c, http.StatusNotFound, cleanMessage(err, duration.ErrNotFound))
	case errors.Is(err, duration.ErrConflict):
		writeMessage(c, http.StatusConflict, cleanMessage(err, duration.ErrConflict))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeMessage(c, http.StatusServiceUnavailable, "Request was cancelled")
	default:
		requestID := uuid.NewString()
		s.logger.Error().
			Err(err).
			Str("handler", handler).
			Str("request_id", requestID).
			Msg("Request failed")
		writeMessage(c, http.StatusInternalServerError, "Internal server error (request "+requestID+")")
	}
}

// cleanMessage drops the kind prefix from a tracker error message.
func cleanMessage(err, kind error) string {
	return strings.TrimPrefix(err.Error(), kind.Error()+": ")
}

func writeMessage(c *gin.Context, status int, message string) {
	c.JSON(status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	})
}
