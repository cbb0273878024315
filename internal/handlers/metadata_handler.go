package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/synesthesie/imagemeta/internal/apperr"
	"github.com/synesthesie/imagemeta/internal/metadata"
	"github.com/synesthesie/imagemeta/internal/middleware"
	"github.com/synesthesie/imagemeta/internal/models"
	"github.com/synesthesie/imagemeta/internal/query"
	"github.com/synesthesie/imagemeta/internal/services"
	"github.com/synesthesie/imagemeta/pkg/validation"
)

type MetadataHandler struct {
	metadataService *services.MetadataService
	maxUploadSize   int64
	log             zerolog.Logger
}

func NewMetadataHandler(metadataService *services.MetadataService, maxUploadSize int64, log zerolog.Logger) *MetadataHandler {
	if maxUploadSize <= 0 {
		maxUploadSize = services.DefaultMaxImageSize
	}
	return &MetadataHandler{
		metadataService: metadataService,
		maxUploadSize:   maxUploadSize,
		log:             log,
	}
}

// Register mounts the metadata routes on api. requireAuth guards the
// writes; uploadLimit runs in front of asset uploads only.
func (h *MetadataHandler) Register(api *gin.RouterGroup, requireAuth, uploadLimit gin.HandlerFunc) {
	api.POST("/metadata/extract", h.Extract)
	api.POST("/search", h.Search)

	assets := api.Group("/assets")
	{
		assets.POST("", requireAuth, uploadLimit, h.CreateAsset)
		assets.DELETE("/:id", requireAuth, h.DeleteAsset)
		assets.GET("/:id/metadata", h.GetMetadata)
		assets.PUT("/:id/metadata", requireAuth, h.EditMetadata)
		assets.POST("/:id/metadata/strip", requireAuth, h.StripMetadata)
		assets.PUT("/:id/visibility", requireAuth, h.UpdateVisibility)
		assets.GET("/:id/versions", h.ListVersions)
		assets.GET("/:id/versions/:versionId", h.GetVersion)
		assets.POST("/:id/versions/:versionId/restore", requireAuth, h.RestoreVersion)
		assets.GET("/:id/diff", h.Diff)
	}
}

// respondError writes err with the status of its class. Internal failures
// are logged and never shown to the caller.
func (h *MetadataHandler) respondError(c *gin.Context, err error) {
	status := apperr.StatusCode(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("route", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, gin.H{"error": apperr.PublicMessage(err)})
}

func uuidParam(c *gin.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperr.InvalidRequest.New("invalid %s", name)
	}
	return id, nil
}

func intQuery(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.InvalidRequest.New("%s must be an integer", name)
	}
	return n, nil
}

// readUpload reads the multipart "file" field and the user fields sent
// alongside it.
func (h *MetadataHandler) readUpload(c *gin.Context) (string, []byte, metadata.UserFields, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadSize+1<<20)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", nil, metadata.UserFields{}, apperr.InvalidRequest.New("file too large")
		}
		return "", nil, metadata.UserFields{}, apperr.InvalidRequest.New("file is required")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxUploadSize+1))
	if err != nil {
		return "", nil, metadata.UserFields{}, apperr.InvalidRequest.New("failed to read file")
	}
	if int64(len(data)) > h.maxUploadSize {
		return "", nil, metadata.UserFields{}, apperr.InvalidRequest.New("file too large")
	}

	user := metadata.UserFields{
		Title:       c.PostForm("title"),
		Description: c.PostForm("description"),
		Tags:        validation.SplitTags(c.PostForm("tags")),
	}
	return header.Filename, data, user, nil
}

// Extract normalizes an uploaded image without storing anything.
// POST /api/v1/metadata/extract
// Multipart form: file (required), title, description, tags (comma separated)
func (h *MetadataHandler) Extract(c *gin.Context) {
	_, data, user, err := h.readUpload(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if len(data) == 0 {
		h.respondError(c, apperr.InvalidRequest.New("file is empty"))
		return
	}

	doc, degraded := h.metadataService.ExtractAndNormalize(data, user)
	c.JSON(http.StatusOK, gin.H{
		"metadata": doc,
		"degraded": degraded,
	})
}

// CreateAsset uploads an image and records its initial version.
// POST /api/v1/assets
// Multipart form: file (required), title, description, tags, public
func (h *MetadataHandler) CreateAsset(c *gin.Context) {
	filename, data, user, err := h.readUpload(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	isPublic, _ := strconv.ParseBool(c.PostForm("public"))

	asset, degraded, err := h.metadataService.CreateAsset(c.Request.Context(), services.CreateAssetInput{
		OwnerID:  middleware.CallerID(c),
		IsPublic: isPublic,
		Filename: filename,
		Data:     data,
		User:     user,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"asset":    assetResponse(asset),
		"degraded": degraded,
	})
}

func assetResponse(a *models.Asset) gin.H {
	return gin.H{
		"id":        a.ID,
		"ownerId":   a.OwnerID,
		"isPublic":  a.IsPublic(),
		"filename":  a.Filename,
		"mimeType":  a.MimeType,
		"sizeBytes": a.SizeBytes,
		"checksum":  a.Checksum,
		"metadata":  a.CurrentDocument(),
		"createdAt": a.CreatedAt.UTC(),
		"updatedAt": a.UpdatedAt.UTC(),
	}
}

func versionResponse(v *models.MetadataVersion) gin.H {
	return gin.H{
		"versionId":   v.ID,
		"assetId":     v.AssetID,
		"seq":         v.Seq,
		"authorId":    v.AuthorID,
		"changeType":  v.ChangeType,
		"description": v.Description,
		"metadata":    v.Snapshot(),
		"createdAt":   v.CreatedAt.UTC(),
	}
}

// GetMetadata returns the current document.
// GET /api/v1/assets/:id/metadata
func (h *MetadataHandler) GetMetadata(c *gin.Context) {
	assetID, err := uuidParam(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}
	doc, err := h.metadataService.GetCurrentMetadata(c.Request.Context(), assetID, middleware.CallerID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assetId": assetID, "metadata": doc})
}

type editRequest struct {
	Patch       map[string]any `json:"patch"`
	Description string         `json:"description"`
}

// EditMetadata applies a JSON merge patch to the current document.
// PUT /api/v1/assets/:id/metadata
// Body: {"patch": {...}, "description": "..."}
func (h *MetadataHandler) EditMetadata(c *gin.Context) {
	assetID, err := uuidParam(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}
	var req editRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apperr.InvalidRequest.New("invalid request body"))
		return
	}

	versionID, err := h.metadataService.EditMetadata(c.Request.Context(), assetID, req.Patch, middleware.CallerID(c), req.Description)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondCurrent(c, assetID, versionID)
}

// respondCurrent answers a mutation with the snapshot id and the new
// current document.
func (h *MetadataHandler) respondCurrent(c *gin.Context, assetID, versionID uuid.UUID) {
	doc, err := h.metadataService.GetCurrentMetadata(c.Request.Context(), assetID, middleware.CallerID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"versionId": versionID,
		"metadata":  doc,
	})
}

// StripMetadata removes everything but basic fields.
// POST /api/v1/assets/:id/metadata/strip
func (h *MetadataHandler) StripMetadata(c *gin.Context) {
	assetID, err := uuidParam(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}
	versionID, err := h.metadataService.StripMetadata(c.Request.Context(), assetID, middleware.CallerID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondCurrent(c, assetID, versionID)
}

// RestoreVersion makes a past version current again.
// POST /api/v1/assets/:id/versions/:versionId/restore
func (h *MetadataHandler) RestoreVersion(c *gin.Context) {
	assetID, err := uuidParam(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}
	versionID, err := uuidParam(c, "versionId")
	if err != nil {
		h.respondError(c, err)
		return
	}
	snapshotID, err := h.metadataService.RestoreVersion(c.Request.Context(), assetID, versionID, middleware.CallerID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondCurrent(c, assetID, snapshotID)
}

// UpdateVisibility switches an asset between public and private.
// PUT /api/v1/assets/:id/visibility
// Body: {"isPublic": true}
func (h *MetadataHandler) UpdateVisibility(c *gin.Context) {
	assetID, err := uuidParam(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}
	var req struct {
		IsPublic *bool `json:"isPublic"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.IsPublic == nil {
		h.respondError(c, apperr.InvalidRequest.New("isPublic is required"))
		return
	}

	asset, err := h.metadataService.UpdateVisibility(c.Request.Context(), assetID, *req.IsPublic, middleware.CallerID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"asset": assetResponse(asset)})
}

// DeleteAsset removes an asset, its history and its stored bytes.
// DELETE /api/v1/assets/:id
func (h *MetadataHandler) DeleteAsset(c *gin.Context) {
	assetID, err := uuidParam(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.metadataService.DeleteAsset(c.Request.Context(), assetID, middleware.CallerID(c)); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "asset deleted"})
}

// ListVersions pages through an asset's history, newest first.
// GET /api/v1/assets/:id/versions?limit=&offset=
func (h *MetadataHandler) ListVersions(c *gin.Context) {
	assetID, err := uuidParam(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}
	limit, err := intQuery(c, "limit")
	if err != nil {
		h.respondError(c, err)
		return
	}
	offset, err := intQuery(c, "offset")
	if err != nil {
		h.respondError(c, err)
		return
	}

	page, err := h.metadataService.ListVersions(c.Request.Context(), assetID, limit, offset, middleware.CallerID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	versions := make([]gin.H, 0, len(page.Versions))
	for i := range page.Versions {
		versions = append(versions, versionResponse(&page.Versions[i]))
	}
	c.JSON(http.StatusOK, gin.H{
		"versions": versions,
		"total":    page.Total,
		"limit":    page.Limit,
		"offset":   page.Offset,
	})
}

// GetVersion returns one version.
// GET /api/v1/assets/:id/versions/:versionId
func (h *MetadataHandler) GetVersion(c *gin.Context) {
	assetID, err := uuidParam(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}
	versionID, err := uuidParam(c, "versionId")
	if err != nil {
		h.respondError(c, err)
		return
	}
	v, err := h.metadataService.GetVersion(c.Request.Context(), assetID, versionID, middleware.CallerID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, versionResponse(v))
}

// Diff compares two versions. Either side may be "current", which is also
// the default.
// GET /api/v1/assets/:id/diff?from=&to=&includeUnchanged=
func (h *MetadataHandler) Diff(c *gin.Context) {
	assetID, err := uuidParam(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}
	includeUnchanged, _ := strconv.ParseBool(c.Query("includeUnchanged"))
	from, to := c.Query("from"), c.Query("to")

	delta, err := h.metadataService.DiffVersions(c.Request.Context(), assetID, from, to, middleware.CallerID(c),
		metadata.DiffOptions{IncludeUnchanged: includeUnchanged})
	if err != nil {
		h.respondError(c, err)
		return
	}
	if delta == nil {
		delta = metadata.Delta{}
	}
	c.JSON(http.StatusOK, gin.H{
		"from":  refOrCurrent(from),
		"to":    refOrCurrent(to),
		"delta": delta,
		"summary": gin.H{
			"added":   delta.Count(metadata.Added),
			"removed": delta.Count(metadata.Removed),
			"changed": delta.Count(metadata.Changed),
		},
	})
}

func refOrCurrent(ref string) string {
	if ref == "" {
		return services.CurrentVersion
	}
	return ref
}

// Search runs a structured search. The scope always follows the caller:
// authenticated callers see their own assets plus public ones unless the
// body asks for public assets only.
// POST /api/v1/search?limit=&offset=&sort=
func (h *MetadataHandler) Search(c *gin.Context) {
	var req query.Request
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.respondError(c, apperr.InvalidRequest.New("invalid request body"))
			return
		}
	}
	req.Scope.OwnerID = middleware.CallerID(c)
	if req.Scope.IsPublic {
		req.Scope.OwnerID = ""
	}

	limit, err := intQuery(c, "limit")
	if err != nil {
		h.respondError(c, err)
		return
	}
	offset, err := intQuery(c, "offset")
	if err != nil {
		h.respondError(c, err)
		return
	}
	sort, err := query.ParseSort(c.Query("sort"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	result, err := h.metadataService.Search(c.Request.Context(), req, query.NewPage(limit, offset, sort))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
