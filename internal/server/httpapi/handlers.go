// Package httpapi exposes the memo service over HTTP: CRUD routes,
// the attachment download proxy, on-demand summary generation and
// full-text search.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hi-space/next-memo/internal/common"
	"github.com/hi-space/next-memo/internal/logging"
	"github.com/hi-space/next-memo/internal/server/models"
	"github.com/hi-space/next-memo/internal/server/repositories/memos"
	"github.com/hi-space/next-memo/internal/server/services"
)

// maxUploadSize bounds a single multipart request body.
const maxUploadSize = 50 << 20 // 50MB

// MemoAPI is the slice of the memo service the handlers need.
type MemoAPI interface {
	Create(ctx context.Context, in services.CreateMemoInput) (*models.Memo, error)
	Get(ctx context.Context, id string) (*models.Memo, error)
	List(ctx context.Context, f memos.Filter, cursor string) ([]*models.Memo, string, error)
	Update(ctx context.Context, id string, in services.UpdateMemoInput) (*models.Memo, error)
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, query string, f memos.Filter, size int) ([]*models.Memo, int, error)
	DownloadByURL(ctx context.Context, fileURL string) ([]byte, string, error)
	DownloadByKey(ctx context.Context, key string) ([]byte, string, error)
	WithRetrievalURLs(ctx context.Context, memo *models.Memo) *models.Memo
}

// Summarizer generates summary metadata on demand.
type Summarizer interface {
	Generate(ctx context.Context, memo *models.Memo) (services.SummaryResult, error)
}

type Deps struct {
	Memos     MemoAPI
	Summaries Summarizer
	Logger    logging.Logger
}

// NewRouter builds the public route table.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/memos", handleListMemos(deps))
		r.Post("/memos", handleCreateMemo(deps))
		r.Get("/memos/{id}", handleGetMemo(deps))
		r.Put("/memos/{id}", handleUpdateMemo(deps))
		r.Delete("/memos/{id}", handleDeleteMemo(deps))

		r.Get("/download", handleDownloadByURL(deps))
		r.Get("/download/{key}", handleDownloadByKey(deps))

		r.Post("/summary", handleSummary(deps))
		r.Post("/search", handleSearch(deps))
	})

	return r
}

// writeJSON writes v with the given status. Encoding failures are
// logged only; headers are already out by then.
func writeJSON(deps Deps, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		deps.Logger.Error(context.Background(), "response encoding failed", "error", err)
	}
}

// writeError maps the error kind to a status code and emits the fixed
// message. Internal detail never reaches the client.
func writeError(deps Deps, w http.ResponseWriter, r *http.Request, err error, msg string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, common.ErrorValidation):
		status = http.StatusBadRequest
	case errors.Is(err, common.ErrorNotFound):
		status = http.StatusNotFound
		msg = "Memo not found"
	}
	if status == http.StatusInternalServerError {
		deps.Logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(deps, w, status, map[string]string{"error": msg})
}

// listFilter extracts the structured predicate from query parameters.
func listFilter(r *http.Request) (memos.Filter, error) {
	f := memos.Filter{
		Prefix:     r.URL.Query().Get("prefix"),
		SearchTerm: r.URL.Query().Get("searchTerm"),
	}
	if raw := r.URL.Query().Get("priority"); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil {
			return f, common.ErrorValidation
		}
		f.Priority = &p
	}
	return f, nil
}

type listResponse struct {
	Items            []*models.Memo `json:"items"`
	LastEvaluatedKey *string        `json:"lastEvaluatedKey"`
}

func handleListMemos(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := listFilter(r)
		if err != nil {
			writeError(deps, w, r, err, "Invalid priority value")
			return
		}

		items, next, err := deps.Memos.List(r.Context(), f, r.URL.Query().Get("lastKey"))
		if err != nil {
			writeError(deps, w, r, err, "Failed to fetch memos")
			return
		}

		resp := listResponse{Items: make([]*models.Memo, len(items))}
		for i, m := range items {
			resp.Items[i] = deps.Memos.WithRetrievalURLs(r.Context(), m)
		}
		if next != "" {
			resp.LastEvaluatedKey = &next
		}
		writeJSON(deps, w, http.StatusOK, resp)
	}
}

// memoForm is the shared multipart payload of create and update.
type memoForm struct {
	Title           string
	Content         string
	Prefix          string
	Priority        int
	DeletedFileUrls []string
	Files           []services.UploadFile
}

func parseMemoForm(w http.ResponseWriter, r *http.Request) (memoForm, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		return memoForm{}, common.ErrorValidation
	}

	form := memoForm{
		Title:   r.FormValue("title"),
		Content: r.FormValue("content"),
		Prefix:  r.FormValue("prefix"),
	}

	if raw := r.FormValue("priority"); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil {
			return memoForm{}, common.ErrorValidation
		}
		form.Priority = p
	}

	if raw := r.FormValue("deletedFileUrls"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &form.DeletedFileUrls); err != nil {
			return memoForm{}, common.ErrorValidation
		}
	}

	if r.MultipartForm != nil {
		for _, fh := range r.MultipartForm.File["files"] {
			f, err := fh.Open()
			if err != nil {
				return memoForm{}, common.ErrorValidation
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				return memoForm{}, common.ErrorValidation
			}
			form.Files = append(form.Files, services.UploadFile{
				Name:        fh.Filename,
				ContentType: fh.Header.Get("Content-Type"),
				Data:        data,
			})
		}
	}
	return form, nil
}

func handleCreateMemo(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		form, err := parseMemoForm(w, r)
		if err != nil {
			writeError(deps, w, r, err, "Invalid form data")
			return
		}

		memo, err := deps.Memos.Create(r.Context(), services.CreateMemoInput{
			Title:    form.Title,
			Content:  form.Content,
			Prefix:   form.Prefix,
			Priority: form.Priority,
			Files:    form.Files,
		})
		if err != nil {
			writeError(deps, w, r, err, "Failed to create memo")
			return
		}
		writeJSON(deps, w, http.StatusCreated, deps.Memos.WithRetrievalURLs(r.Context(), memo))
	}
}

func handleGetMemo(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		memo, err := deps.Memos.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(deps, w, r, err, "Failed to fetch memo")
			return
		}
		writeJSON(deps, w, http.StatusOK, deps.Memos.WithRetrievalURLs(r.Context(), memo))
	}
}

func handleUpdateMemo(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		form, err := parseMemoForm(w, r)
		if err != nil {
			writeError(deps, w, r, err, "Invalid form data")
			return
		}

		memo, err := deps.Memos.Update(r.Context(), chi.URLParam(r, "id"), services.UpdateMemoInput{
			Title:           form.Title,
			Content:         form.Content,
			Prefix:          form.Prefix,
			Priority:        form.Priority,
			DeletedFileUrls: form.DeletedFileUrls,
			Files:           form.Files,
		})
		if err != nil {
			writeError(deps, w, r, err, "Failed to update memo")
			return
		}
		writeJSON(deps, w, http.StatusOK, deps.Memos.WithRetrievalURLs(r.Context(), memo))
	}
}

func handleDeleteMemo(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Memos.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeError(deps, w, r, err, "Failed to delete memo")
			return
		}
		writeJSON(deps, w, http.StatusOK, map[string]bool{"success": true})
	}
}

func handleDownloadByURL(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fileURL := r.URL.Query().Get("fileUrl")
		fileName := r.URL.Query().Get("fileName")
		if fileURL == "" || fileName == "" {
			writeError(deps, w, r, common.ErrorValidation, "File URL and file name are required")
			return
		}

		data, contentType, err := deps.Memos.DownloadByURL(r.Context(), fileURL)
		if err != nil {
			writeError(deps, w, r, err, "Failed to download file")
			return
		}

		if contentType == "" {
			contentType = "application/octet-stream"
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Disposition",
			mime.FormatMediaType("attachment", map[string]string{"filename": fileName}))
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		_, _ = w.Write(data)
	}
}

func handleDownloadByKey(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, contentType, err := deps.Memos.DownloadByKey(r.Context(), chi.URLParam(r, "key"))
		if err != nil {
			writeError(deps, w, r, err, "Failed to download file")
			return
		}

		if contentType == "" {
			contentType = "application/octet-stream"
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		_, _ = w.Write(data)
	}
}

func handleSummary(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var memo models.Memo
		if err := json.NewDecoder(r.Body).Decode(&memo); err != nil {
			writeError(deps, w, r, common.ErrorValidation, "Invalid request body")
			return
		}

		res, err := deps.Summaries.Generate(r.Context(), &memo)
		if err != nil {
			// Enrichment is best-effort; the client still gets a JSON
			// body rather than a bare transport error.
			writeError(deps, w, r, err, "Failed to generate summary")
			return
		}
		writeJSON(deps, w, http.StatusOK, res)
	}
}

type searchRequest struct {
	Query    string `json:"query"`
	Priority *int   `json:"priority,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
	Size     int    `json:"size,omitempty"`
}

type searchResponse struct {
	Hits  []*models.Memo `json:"hits"`
	Total int            `json:"total"`
}

func handleSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(deps, w, r, common.ErrorValidation, "Invalid request body")
			return
		}
		if req.Query == "" {
			writeError(deps, w, r, common.ErrorValidation, "Query is required")
			return
		}
		if req.Size <= 0 {
			req.Size = memos.DefaultPageSize
		}

		hits, total, err := deps.Memos.Search(r.Context(), req.Query,
			memos.Filter{Priority: req.Priority, Prefix: req.Prefix}, req.Size)
		if err != nil {
			writeError(deps, w, r, err, "Failed to search memos")
			return
		}

		resp := searchResponse{Hits: make([]*models.Memo, len(hits)), Total: total}
		for i, m := range hits {
			resp.Hits[i] = deps.Memos.WithRetrievalURLs(r.Context(), m)
		}
		writeJSON(deps, w, http.StatusOK, resp)
	}
}
