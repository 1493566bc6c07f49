package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/open-sspm/opsdash/internal/connectors/aws"
	"github.com/open-sspm/opsdash/internal/connectors/registry"
	"github.com/open-sspm/opsdash/internal/csvstats"
)

const csvContentType = "text/csv"

// ObjectUploader is the slice of the AWS connector used for CSV uploads.
type ObjectUploader interface {
	registry.Connector
	UploadStream(ctx context.Context, bucket, key string, r io.Reader, contentType string) (aws.UploadResult, error)
}

type UploadStats struct {
	TotalRows   int       `json:"total_rows"`
	Columns     []string  `json:"columns"`
	ProcessedAt time.Time `json:"processed_at"`
}

type UploadResponse struct {
	Success     bool             `json:"success"`
	Filename    string           `json:"filename"`
	Stats       UploadStats      `json:"stats"`
	Data        []map[string]any `json:"data"`
	HasMoreData bool             `json:"has_more_data"`
}

type AnalyzeResponse struct {
	Success  bool   `json:"success"`
	Filename string `json:"filename"`
	csvstats.Analysis
}

type S3UploadResponse struct {
	Success    bool   `json:"success"`
	Filename   string `json:"filename"`
	S3Location string `json:"s3_location"`
	Timestamp  string `json:"timestamp"`
	FileSize   int    `json:"file_size"`
}

// readUpload returns the name and bytes of the multipart "file" field.
func (h *Handlers) readUpload(c *echo.Context) (string, []byte, error) {
	limit := h.Cfg.MaxUploadBytes
	if limit <= 0 {
		limit = 10 << 20
	}
	req := c.Request()
	req.Body = http.MaxBytesReader(c.Response(), req.Body, limit+1<<20)

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", nil, &APIError{Status: http.StatusRequestEntityTooLarge, Detail: "file is too large", Err: err}
		}
		return "", nil, &APIError{Status: http.StatusBadRequest, Detail: "a file upload named \"file\" is required", Err: err}
	}
	if err := csvstats.CheckFilename(fh.Filename); err != nil {
		return "", nil, badRequest("File must be a CSV")
	}
	if fh.Size > limit {
		return "", nil, &APIError{Status: http.StatusRequestEntityTooLarge, Detail: fmt.Sprintf("file exceeds %d bytes", limit)}
	}

	f, err := fh.Open()
	if err != nil {
		return "", nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return "", nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > limit {
		return "", nil, &APIError{Status: http.StatusRequestEntityTooLarge, Detail: fmt.Sprintf("file exceeds %d bytes", limit)}
	}
	return fh.Filename, data, nil
}

func parseError(err error) error {
	if errors.Is(err, csvstats.ErrInvalidInput) {
		return &APIError{Status: http.StatusBadRequest, Detail: "Error processing CSV: " + strings.TrimPrefix(err.Error(), "csvstats: "), Err: err}
	}
	return err
}

func (h *Handlers) HandleUploadCSV(c *echo.Context) error {
	skipRows, err := queryInt(c, "skip_rows", 0, 0, 1<<20)
	if err != nil {
		return err
	}
	name, data, err := h.readUpload(c)
	if err != nil {
		return err
	}
	table, err := csvstats.Parse(data, csvstats.Options{SkipRows: skipRows, Delimiter: c.QueryParam("delimiter")})
	if err != nil {
		return parseError(err)
	}

	return c.JSON(http.StatusOK, UploadResponse{
		Success:  true,
		Filename: name,
		Stats: UploadStats{
			TotalRows:   len(table.Rows),
			Columns:     table.Columns,
			ProcessedAt: h.now(),
		},
		Data:        table.Records(csvstats.PreviewRows),
		HasMoreData: len(table.Rows) > csvstats.PreviewRows,
	})
}

func (h *Handlers) HandleAnalyzeCSV(c *echo.Context) error {
	name, data, err := h.readUpload(c)
	if err != nil {
		return err
	}
	table, err := csvstats.Parse(data, csvstats.Options{Delimiter: c.QueryParam("delimiter")})
	if err != nil {
		return parseError(err)
	}
	return c.JSON(http.StatusOK, AnalyzeResponse{
		Success:  true,
		Filename: name,
		Analysis: csvstats.Analyze(table, len(data), h.now()),
	})
}

// HandleUploadToS3 stores the raw file under <folder>/<base>_<stamp>.csv.
func (h *Handlers) HandleUploadToS3(c *echo.Context) error {
	bucket := strings.TrimSpace(c.QueryParam("bucket_name"))
	if bucket == "" {
		bucket = h.Cfg.S3Bucket
	}
	if bucket == "" {
		return badRequest("bucket_name is required")
	}
	folder := h.Cfg.S3Folder
	if c.QueryParams().Has("folder_path") {
		folder = c.QueryParam("folder_path")
	}

	uploader, ok := registry.Lookup[ObjectUploader](h.Connectors, aws.Kind)
	if !ok {
		return notConfigured("AWS")
	}
	name, data, err := h.readUpload(c)
	if err != nil {
		return err
	}

	key, stamp := csvstats.S3Key(folder, name, h.now())
	if _, err := uploader.UploadStream(c.Request().Context(), bucket, key, bytes.NewReader(data), csvContentType); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, S3UploadResponse{
		Success:    true,
		Filename:   name,
		S3Location: fmt.Sprintf("s3://%s/%s", bucket, key),
		Timestamp:  stamp,
		FileSize:   len(data),
	})
}

func notConfigured(vendor string) *APIError {
	return &APIError{Status: http.StatusServiceUnavailable, Detail: vendor + " connector is not configured"}
}
