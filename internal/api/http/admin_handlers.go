package http

import (
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wamanager/console/internal/adminapi"
)

// UploadFile forwards a multipart upload to the platform file service.
// Large files go through the chunked protocol.
func (h *Handlers) UploadFile(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "file is required")
		return
	}
	f, err := header.Open()
	if err != nil {
		respondError(c, err, http.StatusInternalServerError)
		return
	}
	defer f.Close()

	logger := h.logger.With(zap.String("file", header.Filename))
	info, err := h.api.Files.Upload(c.Request.Context(), header.Filename, f, header.Size, adminapi.UploadOptions{
		Folder: c.PostForm("folder"),
		Progress: func(p adminapi.UploadProgress) {
			logger.Debug("Upload progress",
				zap.Int("chunk", p.Chunk),
				zap.Int("chunks", p.TotalChunks),
				zap.Float64("percent", p.Percent()))
		},
	})
	if err != nil {
		respondError(c, err, http.StatusBadGateway)
		return
	}
	c.JSON(http.StatusCreated, info)
}

// errOutsideUploadRoot is returned for directories outside the upload root
var errOutsideUploadRoot = errors.New("directory is outside the upload root")

// DirUploadRequest uploads matching files from a directory under the upload
// root. Root is relative to the upload root; empty means the root itself.
type DirUploadRequest struct {
	Root    string `json:"root"`
	Pattern string `json:"pattern"`
	Folder  string `json:"folder"`
}

// UploadDir uploads every file under a local directory that matches a glob
func (h *Handlers) UploadDir(c *gin.Context) {
	if h.uploadRoot == "" {
		c.JSON(http.StatusForbidden, gin.H{"error": "directory uploads are disabled; set UPLOAD_ROOT"})
		return
	}

	var req DirUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	dir, err := confine(h.uploadRoot, req.Root)
	switch {
	case errors.Is(err, errOutsideUploadRoot):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	case err != nil:
		badRequest(c, "root must be an existing directory under the upload root")
		return
	}

	results, err := h.api.Files.UploadDir(c.Request.Context(), dir, req.Pattern, adminapi.UploadOptions{Folder: req.Folder})
	if err != nil {
		respondError(c, err, http.StatusBadRequest)
		return
	}

	items := make([]gin.H, 0, len(results))
	failed := 0
	for _, r := range results {
		item := gin.H{"path": r.Path}
		if r.Err != nil {
			failed++
			item["error"] = adminapi.UserMessage(r.Err)
			if errors.Is(r.Err, adminapi.ErrEmptyFile) {
				item["error"] = "empty file"
			}
		} else {
			item["file"] = r.File
		}
		items = append(items, item)
	}
	c.JSON(http.StatusOK, gin.H{"files": items, "uploaded": len(results) - failed, "failed": failed})
}

// confine resolves dir against base, following symlinks, and fails unless the
// result stays inside base.
func confine(base, dir string) (string, error) {
	realBase, err := filepath.Abs(base)
	if err != nil {
		return "", err
	}
	if realBase, err = filepath.EvalSymlinks(realBase); err != nil {
		return "", err
	}

	target := dir
	if !filepath.IsAbs(target) {
		target = filepath.Join(realBase, target)
	}
	target, err = filepath.EvalSymlinks(filepath.Clean(target))
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(realBase, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errOutsideUploadRoot
	}
	return target, nil
}

// SearchMessages queries the platform message archive
func (h *Handlers) SearchMessages(c *gin.Context) {
	q := adminapi.MessageSearch{
		ListParams: adminapi.ListParams{
			Keyword:   c.Query("keyword"),
			SortBy:    c.Query("sort_by"),
			SortOrder: c.Query("sort_order"),
		},
		AccountID:     c.Query("account_id"),
		Sender:        c.Query("sender"),
		SensitiveOnly: queryFlag(c, "sensitive"),
	}

	var ok bool
	if q.Page, ok = queryInt(c, "page"); !ok {
		return
	}
	if q.PageSize, ok = queryInt(c, "page_size"); !ok {
		return
	}
	if q.StartTime, ok = queryTime(c, "start"); !ok {
		return
	}
	if q.EndTime, ok = queryTime(c, "end"); !ok {
		return
	}

	page, err := h.api.Search.Messages(c.Request.Context(), q)
	if err != nil {
		respondError(c, err, http.StatusBadGateway)
		return
	}
	c.JSON(http.StatusOK, page)
}

func queryInt(c *gin.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		badRequest(c, name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func queryTime(c *gin.Context, name string) (*time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		badRequest(c, name+" must be an RFC 3339 timestamp")
		return nil, false
	}
	return &t, true
}
