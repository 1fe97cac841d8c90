package adminapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
)

const (
	// DefaultDirectUploadLimit is the largest file sent in one request
	DefaultDirectUploadLimit int64 = 10 << 20
	// DefaultChunkSize is the chunk size when the server does not pick one
	DefaultChunkSize int64 = 5 << 20

	sniffLen = 3072
)

// ErrEmptyFile is returned for zero-byte uploads
var ErrEmptyFile = errors.New("adminapi: empty file")

// UploadProgress reports how far an upload has come
type UploadProgress struct {
	Name        string
	Uploaded    int64
	Total       int64
	Chunk       int
	TotalChunks int
}

// Percent returns completion in the range 0..100
func (p UploadProgress) Percent() float64 {
	if p.Total <= 0 {
		return 0
	}
	return float64(p.Uploaded) / float64(p.Total) * 100
}

// UploadOptions tunes one upload
type UploadOptions struct {
	Folder      string
	DirectLimit int64
	ChunkSize   int64
	Progress    func(UploadProgress)
}

// chunkSession is the server state of a chunked upload
type chunkSession struct {
	UploadID       string `json:"uploadId"`
	ChunkSize      int64  `json:"chunkSize"`
	TotalChunks    int    `json:"totalChunks"`
	UploadedChunks []int  `json:"uploadedChunks"`
}

// FileService covers /files
type FileService struct {
	*ReadResource[FileInfo]
	directLimit int64
	chunkSize   int64
}

func newFileService(c *Client) *FileService {
	return &FileService{
		ReadResource: NewReadResource[FileInfo](c, "/files"),
		directLimit:  DefaultDirectUploadLimit,
		chunkSize:    DefaultChunkSize,
	}
}

// SetLimits overrides the direct upload limit and the default chunk size
func (s *FileService) SetLimits(directLimit, chunkSize int64) {
	if directLimit > 0 {
		s.directLimit = directLimit
	}
	if chunkSize > 0 {
		s.chunkSize = chunkSize
	}
}

// Delete removes an uploaded file
func (s *FileService) Delete(ctx context.Context, id string) error {
	return s.client.do(ctx, request{
		method: http.MethodDelete,
		path:   s.itemPath(id),
		route:  s.itemRoute(),
	}, nil)
}

// UploadFile uploads the file at path
func (s *FileService) UploadFile(ctx context.Context, path string, opts UploadOptions) (*FileInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat upload: %w", err)
	}
	return s.Upload(ctx, filepath.Base(path), f, st.Size(), opts)
}

// Upload sends size bytes from r. Small files go in one multipart request;
// larger ones go in chunks and resume from whatever the server already holds.
func (s *FileService) Upload(ctx context.Context, name string, r io.ReaderAt, size int64, opts UploadOptions) (*FileInfo, error) {
	if size <= 0 {
		return nil, ErrEmptyFile
	}
	if opts.DirectLimit <= 0 {
		opts.DirectLimit = s.directLimit
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = s.chunkSize
	}

	mime, err := detectMIME(r, size)
	if err != nil {
		return nil, err
	}

	if size <= opts.DirectLimit {
		return s.uploadDirect(ctx, name, r, size, mime, opts)
	}
	return s.uploadChunked(ctx, name, r, size, mime, opts)
}

func detectMIME(r io.ReaderAt, size int64) (string, error) {
	n := int64(sniffLen)
	if size < n {
		n = size
	}
	head := make([]byte, n)
	if _, err := r.ReadAt(head, 0); err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read upload: %w", err)
	}
	return mimetype.Detect(head).String(), nil
}

func (s *FileService) uploadDirect(ctx context.Context, name string, r io.ReaderAt, size int64, mime string, opts UploadOptions) (*FileInfo, error) {
	data := make([]byte, size)
	if _, err := r.ReadAt(data, 0); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read upload: %w", err)
	}

	form := map[string]string{"mimeType": mime}
	if opts.Folder != "" {
		form["folder"] = opts.Folder
	}

	var info FileInfo
	err := s.client.do(ctx, request{
		method:    http.MethodPost,
		path:      "/files/upload",
		form:      form,
		fileField: "file",
		fileName:  name,
		fileData:  data,
	}, &info)
	if err != nil {
		return nil, err
	}

	report(opts.Progress, UploadProgress{Name: name, Uploaded: size, Total: size, Chunk: 1, TotalChunks: 1})
	return &info, nil
}

func (s *FileService) uploadChunked(ctx context.Context, name string, r io.ReaderAt, size int64, mime string, opts UploadOptions) (*FileInfo, error) {
	fileHash, err := hashReader(r, size)
	if err != nil {
		return nil, err
	}

	var session chunkSession
	err = s.client.do(ctx, request{
		method: http.MethodPost,
		path:   "/files/upload/init",
		body: map[string]any{
			"fileName":  name,
			"fileSize":  size,
			"fileHash":  fileHash,
			"mimeType":  mime,
			"chunkSize": opts.ChunkSize,
			"folder":    opts.Folder,
		},
	}, &session)
	if err != nil {
		return nil, err
	}
	if session.UploadID == "" {
		return nil, fmt.Errorf("%w: missing upload id", ErrBadResponse)
	}

	chunkSize := session.ChunkSize
	if chunkSize <= 0 {
		chunkSize = opts.ChunkSize
	}
	total := int((size + chunkSize - 1) / chunkSize)
	if session.TotalChunks > 0 && session.TotalChunks != total {
		return nil, fmt.Errorf("%w: server expects %d chunks, computed %d", ErrBadResponse, session.TotalChunks, total)
	}

	done := make(map[int]bool, len(session.UploadedChunks))
	for _, idx := range session.UploadedChunks {
		done[idx] = true
	}

	logger := s.client.logger.With(zap.String("upload_id", session.UploadID), zap.String("file", name))
	if len(done) > 0 {
		logger.Info("Resuming chunked upload", zap.Int("uploaded", len(done)), zap.Int("total", total))
	}

	var uploaded int64
	buf := make([]byte, chunkSize)
	for idx := 0; idx < total; idx++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		offset := int64(idx) * chunkSize
		length := chunkSize
		if offset+length > size {
			length = size - offset
		}

		if !done[idx] {
			chunk := buf[:length]
			if _, err := r.ReadAt(chunk, offset); err != nil && !errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("read chunk %d: %w", idx, err)
			}
			sum := sha256.Sum256(chunk)

			err := s.client.do(ctx, request{
				method: http.MethodPost,
				path:   "/files/upload/chunk",
				form: map[string]string{
					"uploadId":   session.UploadID,
					"chunkIndex": strconv.Itoa(idx),
					"chunkHash":  hex.EncodeToString(sum[:]),
				},
				fileField: "chunk",
				fileName:  name + ".part" + strconv.Itoa(idx),
				fileData:  chunk,
			}, nil)
			if err != nil {
				logger.Warn("Chunk upload failed", zap.Int("chunk", idx), zap.Error(err))
				return nil, err
			}
		}

		uploaded += length
		report(opts.Progress, UploadProgress{
			Name:        name,
			Uploaded:    uploaded,
			Total:       size,
			Chunk:       idx + 1,
			TotalChunks: total,
		})
	}

	var info FileInfo
	err = s.client.do(ctx, request{
		method: http.MethodPost,
		path:   "/files/upload/complete",
		body: map[string]any{
			"uploadId": session.UploadID,
			"fileHash": fileHash,
		},
	}, &info)
	if err != nil {
		return nil, err
	}
	logger.Info("Chunked upload complete", zap.Int("chunks", total), zap.Int64("bytes", size))
	return &info, nil
}

func hashReader(r io.ReaderAt, size int64) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, io.NewSectionReader(r, 0, size)); err != nil {
		return "", fmt.Errorf("hash upload: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func report(fn func(UploadProgress), p UploadProgress) {
	if fn != nil {
		fn(p)
	}
}
