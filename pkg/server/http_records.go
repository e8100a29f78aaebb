package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"

	"github.com/kumarabd/detection-plane/pkg/logtypes"
	"github.com/kumarabd/detection-plane/pkg/pipeline"
)

// recordsHandler injects records into the pipeline. The body is one
// JSON object or an array of objects, optionally gzip-encoded.
func (s *HTTP) recordsHandler(c *gin.Context) {
	reader, err := getBodyReader(c.Request)
	if err != nil {
		s.metric.IncIngestRejectedTotal("bad_body")
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	defer reader.Close()

	body, err := io.ReadAll(io.LimitReader(reader, s.config.Bounds.MaxBodyBytes+1))
	if err != nil {
		s.metric.IncIngestRejectedTotal("bad_body")
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if int64(len(body)) > s.config.Bounds.MaxBodyBytes {
		s.metric.IncIngestRejectedTotal("too_large")
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "body too large"})
		return
	}

	records, err := decodeRecords(body)
	if err != nil {
		s.metric.IncIngestRejectedTotal("bad_json")
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if len(records) == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "empty batch"})
		return
	}

	accepted := 0
	for _, record := range records {
		if err := s.service.Accept(record); err != nil {
			if errors.Is(err, pipeline.ErrPipelineClosed) {
				s.metric.IncIngestRejectedTotal("closed")
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
					"error":    "pipeline closed",
					"accepted": accepted,
					"rejected": len(records) - accepted,
				})
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "ingestion failed"})
			return
		}
		accepted++
		s.metric.IncIngestRecordsTotal("http")
	}

	c.JSON(http.StatusAccepted, gin.H{
		"accepted": accepted,
		"rejected": len(records) - accepted,
	})
}

// decodeRecords accepts either a single record object or an array.
func decodeRecords(body []byte) ([]logtypes.LogRecord, error) {
	var records []logtypes.LogRecord
	if err := json.Unmarshal(body, &records); err == nil {
		return records, nil
	}

	var record logtypes.LogRecord
	if err := json.Unmarshal(body, &record); err != nil {
		return nil, err
	}
	return []logtypes.LogRecord{record}, nil
}
