package httpapi

import (
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/domain"
	"github.com/fyrsmithlabs/ragd/internal/indexer"
)

// maxSearchK caps top_k so one query cannot drag the whole store through
// the scorer.
const maxSearchK = 50

type uploadResponse struct {
	FileID   int64  `json:"file_id"`
	Filename string `json:"filename"`
	Status   string `json:"status"`
}

type acceptedResponse struct {
	Accepted bool  `json:"accepted"`
	FileID   int64 `json:"file_id"`
}

type filePayload struct {
	ID           int64     `json:"id"`
	Filename     string    `json:"filename"`
	Status       string    `json:"status"`
	TotalChunks  int       `json:"total_chunks"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type fileListResponse struct {
	Files []filePayload `json:"files"`
}

type searchResult struct {
	FileID      int64   `json:"file_id"`
	ChunkIndex  int     `json:"chunk_index"`
	Distance    float64 `json:"distance"`
	Text        string  `json:"text"`
	PageNumber  int     `json:"page_number,omitempty"`
	SectionType string  `json:"section_type,omitempty"`
	FileName    string  `json:"file_name,omitempty"`
}

type searchResponse struct {
	Results []searchResult `json:"results"`
}

func toFilePayload(f domain.FileDocument) filePayload {
	return filePayload{
		ID:           f.ID,
		Filename:     f.Filename,
		Status:       string(f.Status),
		TotalChunks:  f.TotalChunks,
		ErrorMessage: f.ErrorMessage,
		CreatedAt:    f.CreatedAt,
		UpdatedAt:    f.UpdatedAt,
	}
}

// handleUpload stores a multipart upload and registers it as pending.
// A client that already extracted sections (the path for binary formats)
// attaches them as a JSON "sections" part; those files skip extraction
// and land in ready directly.
func (s *Server) handleUpload(c echo.Context) error {
	header, err := c.FormFile("file")
	if err != nil {
		return domain.New(domain.KindValidation, `multipart "file" part is required`)
	}
	ctx := c.Request().Context()

	var sections []domain.FileSection
	if raw := c.FormValue("sections"); raw != "" {
		sections, err = indexer.ParseSectionsJSON([]byte(raw))
		if err != nil {
			return err
		}
	}

	path, err := s.saveUpload(header)
	if err != nil {
		return err
	}

	file, err := s.store.CreateFile(ctx, header.Filename, path)
	if err != nil {
		return err
	}

	if len(sections) > 0 {
		if err := s.store.AddSections(ctx, file.ID, sections); err != nil {
			return err
		}
		if err := s.store.UpdateFileStatus(ctx, file.ID, domain.FileReady, "", 0); err != nil {
			return err
		}
		file.Status = domain.FileReady
	}

	s.logger.Info("file uploaded",
		zap.Int64("file_id", file.ID),
		zap.String("filename", file.Filename),
		zap.Int("sections", len(sections)))

	return c.JSON(http.StatusCreated, uploadResponse{
		FileID:   file.ID,
		Filename: file.Filename,
		Status:   string(file.Status),
	})
}

// saveUpload writes the payload under the upload directory with a
// collision-free name, keeping the original name only as a suffix.
func (s *Server) saveUpload(header *multipart.FileHeader) (string, error) {
	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		return "", domain.Wrap(domain.KindStorage, "create upload directory", err)
	}

	src, err := header.Open()
	if err != nil {
		return "", domain.Wrap(domain.KindValidation, "open multipart payload", err)
	}
	defer src.Close()

	name := uuid.NewString() + "_" + filepath.Base(header.Filename)
	path := filepath.Join(s.cfg.UploadDir, name)

	dst, err := os.Create(path)
	if err != nil {
		return "", domain.Wrap(domain.KindStorage, "create stored upload", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(path)
		return "", domain.Wrap(domain.KindStorage, "write stored upload", err)
	}
	return path, nil
}

// handleIndex enqueues an asynchronous indexing run. The 202 means
// queued, not indexed; progress is visible on the file row.
func (s *Server) handleIndex(c echo.Context) error {
	fid, err := fileIDParam(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	file, err := s.store.GetFile(ctx, fid)
	if err != nil {
		return err
	}
	if !file.Status.Indexable() {
		return domain.Newf(domain.KindValidation,
			"file %d is %s and cannot be indexed", fid, file.Status)
	}

	if err := s.queue.Enqueue(fid); err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, acceptedResponse{Accepted: true, FileID: fid})
}

func (s *Server) handleSearch(c echo.Context) error {
	query := c.QueryParam("q")

	var fileID *int64
	if raw := c.QueryParam("file_id"); raw != "" {
		fid, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || fid <= 0 {
			return domain.Newf(domain.KindValidation, "invalid file_id %q", raw)
		}
		fileID = &fid
	}

	topK := 0
	if raw := c.QueryParam("top_k"); raw != "" {
		k, err := strconv.Atoi(raw)
		if err != nil || k <= 0 {
			return domain.Newf(domain.KindValidation, "invalid top_k %q", raw)
		}
		topK = min(k, maxSearchK)
	}

	hits, err := s.chat.SearchChunks(c.Request().Context(), query, fileID, topK)
	if err != nil {
		return err
	}

	results := make([]searchResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, searchResult{
			FileID:      h.Chunk.FileID,
			ChunkIndex:  h.Chunk.Index,
			Distance:    h.Distance,
			Text:        h.Chunk.Text,
			PageNumber:  h.Chunk.PageNumber,
			SectionType: h.Chunk.SectionType,
			FileName:    h.Chunk.FileName,
		})
	}
	return c.JSON(http.StatusOK, searchResponse{Results: results})
}

func (s *Server) handleListFiles(c echo.Context) error {
	files, err := s.store.ListFiles(c.Request().Context())
	if err != nil {
		return err
	}
	payload := make([]filePayload, 0, len(files))
	for _, f := range files {
		payload = append(payload, toFilePayload(f))
	}
	return c.JSON(http.StatusOK, fileListResponse{Files: payload})
}

func (s *Server) handleGetFile(c echo.Context) error {
	fid, err := fileIDParam(c)
	if err != nil {
		return err
	}
	file, err := s.store.GetFile(c.Request().Context(), fid)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toFilePayload(*file))
}

func (s *Server) handleDeleteFile(c echo.Context) error {
	fid, err := fileIDParam(c)
	if err != nil {
		return err
	}
	deleted, err := s.pipeline.Delete(c.Request().Context(), fid)
	if err != nil {
		return err
	}
	if !deleted {
		return domain.Newf(domain.KindNotFound, "file %d not found", fid)
	}
	return c.JSON(http.StatusOK, deleteResponse{Deleted: true})
}

func fileIDParam(c echo.Context) (int64, error) {
	raw := c.Param("fid")
	fid, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || fid <= 0 {
		return 0, domain.Newf(domain.KindValidation, "invalid file id %q", raw)
	}
	return fid, nil
}
