package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	batchdomain "github.com/fleetdesk/fleetdesk/internal/batch/domain"
	"github.com/fleetdesk/fleetdesk/internal/upload"
	"github.com/fleetdesk/fleetdesk/internal/upload/notify"
)

const maxUploadBytes = 32 << 20

// SubmitUpload accepts the workbook and returns the batch id immediately;
// processing happens on the job runner.
func (s *Server) SubmitUpload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		AbortWithError(c, newValidationError("file", "invalid_file", "file is required"))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		AbortWithError(c, err)
		return
	}
	defer file.Close()

	batch, err := s.uploadSvc.Submit(c.Request.Context(), upload.SubmitRequest{
		UploaderID: uploaderID(c),
		Filename:   fileHeader.Filename,
		File:       file,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"data": batch})
}

func (s *Server) GetBatch(c *gin.Context) {
	batch, err := s.batchSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": batch})
}

func (s *Server) ListBatches(c *gin.Context) {
	pageSize := 0
	if raw := strings.TrimSpace(c.Query("page_size")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			AbortWithError(c, newValidationError("page_size", "invalid_page_size", "invalid page size"))
			return
		}
		pageSize = parsed
	}

	resp, err := s.batchSvc.List(c.Request.Context(), batchdomain.ListBatchesRequest{
		UploaderID: uploaderID(c),
		PageToken:  strings.TrimSpace(c.Query("page_token")),
		PageSize:   pageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetBatchCounts(c *gin.Context) {
	counts, err := s.batchSvc.CountByValidationStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": counts})
}

func (s *Server) CancelBatch(c *gin.Context) {
	if err := s.batchSvc.RequestCancel(c.Request.Context(), c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"data": gin.H{"status": string(batchdomain.BatchStatusCancelling)}})
}

// DownloadErrorReport streams the artifact; a batch without invalid rows has
// no report and yields 404.
func (s *Server) DownloadErrorReport(c *gin.Context) {
	file, batch, err := s.uploadSvc.OpenErrorReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if file == nil {
		AbortWithError(c, ErrNotFound)
		return
	}
	defer file.Close()

	c.Header("Content-Disposition", `attachment; filename="`+*batch.ErrorReportLocation+`"`)
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Status(http.StatusOK)
	_, _ = io.Copy(c.Writer, file)
}

func (s *Server) StreamBatchProgress(c *gin.Context) {
	if s.progress == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	batch, err := s.batchSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	subscription, backlog, err := s.progress.Subscribe(batch.ID)
	if err != nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}
	defer subscription.Close()

	writer := c.Writer
	headers := writer.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	flusher, ok := writer.(http.Flusher)
	if !ok {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	if _, err := io.WriteString(writer, "retry: 2000\n\n"); err != nil {
		return
	}

	for _, event := range backlog {
		if err := writeProgressEvent(writer, event); err != nil {
			return
		}
	}
	flusher.Flush()

	ctx := c.Request.Context()
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-subscription.Events():
			if err := writeProgressEvent(writer, event); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := io.WriteString(writer, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeProgressEvent(w io.Writer, event notify.ProgressEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Event, payload)
	return err
}

func uploaderID(c *gin.Context) snowflake.ID {
	raw := strings.TrimSpace(c.GetHeader("X-Uploader-ID"))
	if raw == "" {
		return 0
	}
	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return snowflake.ID(parsed)
}
