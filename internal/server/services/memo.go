// Package services contains the memo orchestration layer: CRUD over the
// repository, the attachment reconciler, and summary enrichment.
package services

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hi-space/next-memo/internal/common"
	"github.com/hi-space/next-memo/internal/dbx"
	"github.com/hi-space/next-memo/internal/logging"
	"github.com/hi-space/next-memo/internal/server/blob"
	sc "github.com/hi-space/next-memo/internal/server/config"
	"github.com/hi-space/next-memo/internal/server/models"
	"github.com/hi-space/next-memo/internal/server/repositories/memos"
	"github.com/hi-space/next-memo/internal/server/repositories/repomanager"
)

// Submitter enqueues a memo for background summary enrichment. The memo
// operation never waits on, nor fails because of, the enrichment.
type Submitter interface {
	Submit(memo *models.Memo)
}

// CreateMemoInput is the parsed create request.
type CreateMemoInput struct {
	Title    string
	Content  string
	Prefix   string
	Priority int // 0 means "use the default"
	Files    []UploadFile
}

// UpdateMemoInput is the parsed update request. Title, Content, Prefix
// and Priority replace the stored values wholesale; the attachment set
// changes through DeletedFileUrls and Files.
type UpdateMemoInput struct {
	Title           string
	Content         string
	Prefix          string
	Priority        int
	DeletedFileUrls []string
	Files           []UploadFile
}

// withTx is a seam for tests.
var withTx = dbx.WithTx

type MemoService struct {
	db     *sql.DB
	repos  repomanager.RepositoryManager
	blobs  blob.Gateway
	enrich Submitter
	config *sc.Config
	logger logging.Logger
}

// NewMemoService wires the memo orchestration layer. enrich may be nil
// to disable background enrichment.
func NewMemoService(db *sql.DB, repos repomanager.RepositoryManager, blobs blob.Gateway,
	enrich Submitter, config *sc.Config, logger logging.Logger) *MemoService {
	return &MemoService{
		db:     db,
		repos:  repos,
		blobs:  blobs,
		enrich: enrich,
		config: config,
		logger: logger.With("module", "memo_service"),
	}
}

func normalizePriority(p int) (int, error) {
	if p == 0 {
		return models.PriorityDefault, nil
	}
	if p < models.PriorityMin || p > models.PriorityMax {
		return 0, fmt.Errorf("%w: priority %d out of range", common.ErrorValidation, p)
	}
	return p, nil
}

// Create validates the input, reconciles attachments against an empty
// existing set, persists the new memo and hands it to the enrichment
// queue.
func (s *MemoService) Create(ctx context.Context, in CreateMemoInput) (*models.Memo, error) {
	if strings.TrimSpace(in.Content) == "" {
		return nil, fmt.Errorf("%w: content is required", common.ErrorValidation)
	}
	priority, err := normalizePriority(in.Priority)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	now := time.Now().UTC()

	res, err := s.reconcileAttachments(ctx, id, in.Content, nil, nil, in.Files)
	if err != nil {
		return nil, err
	}

	memo := &models.Memo{
		ID:        id,
		Title:     in.Title,
		Content:   res.Content,
		Prefix:    in.Prefix,
		Priority:  priority,
		Files:     res.Files,
		FileCount: res.FileCount,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repos.Memos(s.db).Put(ctx, memo); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "memo created", "memo_id", id, "files", memo.FileCount)
	s.submitEnrichment(memo)
	return memo, nil
}

// Get returns a single memo or common.ErrorNotFound.
func (s *MemoService) Get(ctx context.Context, id string) (*models.Memo, error) {
	return s.repos.Memos(s.db).Get(ctx, id)
}

// List pages memos newest-updated-first.
func (s *MemoService) List(ctx context.Context, f memos.Filter, cursor string) ([]*models.Memo, string, error) {
	return s.repos.Memos(s.db).List(ctx, f, cursor, memos.DefaultPageSize)
}

// Update replaces the memo's fields wholesale, reconciling the
// attachment delta. ID and CreatedAt are preserved; Summary and Tags
// stay until the next enrichment pass overwrites them.
func (s *MemoService) Update(ctx context.Context, id string, in UpdateMemoInput) (*models.Memo, error) {
	if strings.TrimSpace(in.Content) == "" {
		return nil, fmt.Errorf("%w: content is required", common.ErrorValidation)
	}
	priority, err := normalizePriority(in.Priority)
	if err != nil {
		return nil, err
	}

	var memo *models.Memo
	err = withTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repos.Memos(tx)
		existing, err := repo.Get(ctx, id)
		if err != nil {
			return err
		}

		res, err := s.reconcileAttachments(ctx, id, in.Content, existing.Files, in.DeletedFileUrls, in.Files)
		if err != nil {
			return err
		}

		memo = &models.Memo{
			ID:        existing.ID,
			Title:     in.Title,
			Content:   res.Content,
			Prefix:    in.Prefix,
			Priority:  priority,
			Files:     res.Files,
			FileCount: res.FileCount,
			Summary:   existing.Summary,
			Tags:      existing.Tags,
			CreatedAt: existing.CreatedAt,
			UpdatedAt: time.Now().UTC(),
		}
		return repo.Put(ctx, memo)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "memo updated", "memo_id", id, "files", memo.FileCount)
	s.submitEnrichment(memo)
	return memo, nil
}

// Delete removes every attachment blob (best-effort, fanned out) and
// then the record. A blob whose key cannot be derived, or whose delete
// fails, is logged and skipped rather than blocking the delete.
func (s *MemoService) Delete(ctx context.Context, id string) error {
	err := withTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repos.Memos(tx)
		memo, err := repo.Get(ctx, id)
		if err != nil {
			return err
		}

		if _, err := s.reconcileAttachments(ctx, id, "", memo.Files, fileURLs(memo.Files), nil); err != nil {
			s.logger.Warn(ctx, "attachment cleanup failed", "memo_id", id, "error", err)
		}

		return repo.Delete(ctx, id)
	})
	if err != nil {
		return err
	}

	s.logger.Info(ctx, "memo deleted", "memo_id", id)
	return nil
}

// Search runs a ranked full-text query.
func (s *MemoService) Search(ctx context.Context, query string, f memos.Filter, size int) ([]*models.Memo, int, error) {
	return s.repos.Memos(s.db).Search(ctx, query, f, size)
}

// DownloadByURL resolves a stored canonical file URL and streams the
// object back.
func (s *MemoService) DownloadByURL(ctx context.Context, fileURL string) ([]byte, string, error) {
	key, err := s.blobs.KeyFromURL(fileURL)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", common.ErrorValidation, err)
	}
	return s.blobs.Get(ctx, key)
}

// DownloadByKey serves the download-proxy route: key is
// "{memoId}-{fileName}" as embedded in rewritten memo content.
func (s *MemoService) DownloadByKey(ctx context.Context, key string) ([]byte, string, error) {
	return s.blobs.Get(ctx, "files/"+key)
}

// WithRetrievalURLs returns a copy of the memo whose attachment URLs are
// browser-fetchable: CDN URLs when a public base is configured,
// presigned GET URLs otherwise. Stored records always keep canonical
// URLs; this translation happens on the way out only.
func (s *MemoService) WithRetrievalURLs(ctx context.Context, memo *models.Memo) *models.Memo {
	if memo == nil || len(memo.Files) == 0 {
		return memo
	}

	out := *memo
	out.Files = make([]models.AttachmentRef, len(memo.Files))
	copy(out.Files, memo.Files)

	for i := range out.Files {
		key, err := s.blobs.KeyFromURL(out.Files[i].FileUrl)
		if err != nil {
			s.logger.Warn(ctx, "cannot derive key for retrieval url", "url", out.Files[i].FileUrl, "error", err)
			continue
		}
		if s.config.PublicBaseURL != "" {
			escaped := (&url.URL{Path: key}).EscapedPath()
			out.Files[i].FileUrl = strings.TrimRight(s.config.PublicBaseURL, "/") + "/" + escaped
			continue
		}
		signed, err := s.blobs.PresignGet(ctx, key, s.config.PresignTTL)
		if err != nil {
			s.logger.Warn(ctx, "presign failed, falling back to canonical url", "key", key, "error", err)
			continue
		}
		out.Files[i].FileUrl = signed
	}
	return &out
}

func (s *MemoService) submitEnrichment(memo *models.Memo) {
	if s.enrich == nil {
		return
	}
	s.enrich.Submit(memo)
}

func fileURLs(files []models.AttachmentRef) []string {
	urls := make([]string, len(files))
	for i, f := range files {
		urls[i] = f.FileUrl
	}
	return urls
}
