package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"receiptpocket/internal/analyze"
	"receiptpocket/internal/receipt"
	"receiptpocket/internal/server/repository"
	"receiptpocket/internal/server/storage"
)

// Handlers contains all HTTP request handlers.
type Handlers struct {
	receipts *repository.ReceiptRepository
	configs  *repository.ConfigRepository
	blobs    storage.BlobStore
	analyzer analyze.Analyzer
	logger   *zap.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(
	receipts *repository.ReceiptRepository,
	configs *repository.ConfigRepository,
	blobs storage.BlobStore,
	analyzer analyze.Analyzer,
	logger *zap.Logger,
) *Handlers {
	return &Handlers{
		receipts: receipts,
		configs:  configs,
		blobs:    blobs,
		analyzer: analyzer,
		logger:   logger,
	}
}

// UpsertResponse is the response body of a successful upsert.
type UpsertResponse struct {
	Success     bool   `json:"success"`
	URL         string `json:"url,omitempty"`
	EvidenceURL string `json:"evidenceUrl,omitempty"`
}

// HealthCheck reports server liveness.
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// UpsertReceipt stores a receipt record. Inline data-URI attachments are
// moved to the blob store and their URLs rewritten to this server's /view
// endpoint before the metadata row is written.
func (h *Handlers) UpsertReceipt(c *gin.Context) {
	var rec receipt.Receipt
	if err := c.ShouldBindJSON(&rec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("保存失敗: %v", err)})
		return
	}
	if rec.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "保存失敗: id is required"})
		return
	}

	if rec.PaymentMethod == "" {
		rec.PaymentMethod = receipt.PaymentCash
	}
	if rec.MimeType == "" {
		rec.MimeType = "image/jpeg"
	}
	if rec.Profile == "" {
		rec.Profile = receipt.ProfileBusiness
	}
	if rec.AssetType == "" {
		rec.AssetType = receipt.AssetImage
	}

	origin := requestOrigin(c)

	if data, ok := decodeDataURI(rec.ImageURL); ok {
		if err := h.blobs.Save(rec.ID, data, rec.MimeType); err != nil {
			h.logger.Error("Failed to store receipt image",
				zap.String("id", rec.ID), zap.Error(err))
		} else {
			rec.ImageURL = fmt.Sprintf("%s/view/%s", origin, rec.ID)
		}
	}
	if data, ok := decodeDataURI(rec.EvidenceURL); ok {
		evidenceID := "evidence-" + rec.ID
		if err := h.blobs.Save(evidenceID, data, "image/jpeg"); err != nil {
			h.logger.Error("Failed to store evidence image",
				zap.String("id", rec.ID), zap.Error(err))
		} else {
			rec.EvidenceURL = fmt.Sprintf("%s/view/%s", origin, evidenceID)
		}
	}

	if err := h.receipts.Upsert(&rec); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("保存失敗: %v", err)})
		return
	}

	c.JSON(http.StatusOK, UpsertResponse{
		Success:     true,
		URL:         rec.ImageURL,
		EvidenceURL: rec.EvidenceURL,
	})
}

// ListReceipts returns every stored receipt, newest first.
func (h *Handlers) ListReceipts(c *gin.Context) {
	receipts, err := h.receipts.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("取得失敗: %v", err)})
		return
	}
	c.JSON(http.StatusOK, receipts)
}

// DeleteReceipt removes a receipt row and its blobs. The id comes from the
// query string, with the trailing path segment as a fallback.
func (h *Handlers) DeleteReceipt(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		id = c.Param("id")
	}
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "IDが必要です"})
		return
	}

	if _, err := h.receipts.Delete(id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("削除失敗: %v", err)})
		return
	}

	// Blob removal is best effort.
	if err := h.blobs.Delete(id); err != nil {
		h.logger.Warn("Failed to delete receipt blob", zap.String("id", id), zap.Error(err))
	}
	if err := h.blobs.Delete("evidence-" + id); err != nil {
		h.logger.Warn("Failed to delete evidence blob", zap.String("id", id), zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GetConfig returns all configuration entries as one JSON object.
func (h *Handlers) GetConfig(c *gin.Context) {
	entries, err := h.configs.All()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	config := make(map[string]json.RawMessage, len(entries))
	for key, value := range entries {
		config[key] = json.RawMessage(value)
	}
	c.JSON(http.StatusOK, config)
}

// SetConfig stores one configuration entry.
func (h *Handlers) SetConfig(c *gin.Context) {
	var req struct {
		Key   string          `json:"key"`
		Value json.RawMessage `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key is required"})
		return
	}

	if err := h.configs.Set(req.Key, string(req.Value)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ViewBlob serves a stored attachment. Blob content is immutable per key, so
// responses are cacheable for a year.
func (h *Handlers) ViewBlob(c *gin.Context) {
	id := c.Param("id")

	content, contentType, err := h.blobs.Read(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.String(http.StatusNotFound, "Not Found")
			return
		}
		c.String(http.StatusInternalServerError, err.Error())
		return
	}

	c.Header("Cache-Control", "public, max-age=31536000")
	c.Data(http.StatusOK, contentType, content)
}

// AnalyzeReceipt runs the image through the configured analyzer and returns
// its field guesses.
func (h *Handlers) AnalyzeReceipt(c *gin.Context) {
	if h.analyzer == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "解析失敗: analyzer is not configured"})
		return
	}

	var req struct {
		Base64Data string   `json:"base64Data"`
		MimeType   string   `json:"mimeType"`
		Categories []string `json:"categories"`
		Language   string   `json:"language"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("解析失敗: %v", err)})
		return
	}

	result, err := h.analyzer.Analyze(c.Request.Context(), analyze.Request{
		Base64Data: req.Base64Data,
		MimeType:   req.MimeType,
		Categories: req.Categories,
		Language:   req.Language,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("解析失敗: %v", err)})
		return
	}
	c.JSON(http.StatusOK, result)
}

// decodeDataURI returns the decoded payload of a data: URI, or ok=false when
// the value is empty or already a plain URL.
func decodeDataURI(value string) ([]byte, bool) {
	if !strings.HasPrefix(value, "data:") {
		return nil, false
	}
	idx := strings.Index(value, ",")
	if idx < 0 {
		return nil, false
	}
	decoded, err := base64.StdEncoding.DecodeString(value[idx+1:])
	if err != nil {
		return nil, false
	}
	return decoded, true
}

// requestOrigin reconstructs the external origin for rewriting blob URLs.
func requestOrigin(c *gin.Context) string {
	scheme := "http"
	if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	} else if c.Request.TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, c.Request.Host)
}
