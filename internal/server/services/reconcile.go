package services

import (
	"context"
	"net/url"

	"golang.org/x/sync/errgroup"

	"github.com/hi-space/next-memo/internal/server/models"
)

// UploadFile carries one newly uploaded raw file through the reconciler.
type UploadFile struct {
	Name        string
	ContentType string
	Data        []byte
}

// storageKey derives the blob key for an attachment deterministically
// from the memo id and the original file name. Re-uploading the same
// name therefore overwrites the previous blob, which is accepted.
func storageKey(memoID, fileName string) string {
	return "files/" + memoID + "-" + fileName
}

// downloadPath is the stable in-content retrieval path for an
// attachment, served by the download proxy route.
func downloadPath(memoID, fileName string) string {
	return "/api/download/" + url.PathEscape(memoID+"-"+fileName)
}

// reconcileResult is the attachment state the caller persists.
type reconcileResult struct {
	Content   string
	Files     []models.AttachmentRef
	FileCount int
}

// reconcileAttachments computes the new attachment set for a memo write:
//
//  1. removal: derive the storage key behind each removedURLs entry,
//     delete those blobs (best-effort, fanned out; a URL whose key
//     cannot be derived is logged and skipped) and drop the existing
//     refs whose own derived key matches. Stored refs hold canonical
//     URLs while clients echo back the presigned or CDN form they were
//     served, so matching happens on keys, never on raw URL equality;
//  2. upload: store every incoming file under its derived key (fanned
//     out; any failure aborts the operation);
//  3. rewrite: once all uploads resolved, replace blob: placeholders in
//     content with stable download-proxy references;
//  4. merge: surviving existing refs followed by new refs, in order,
//     with FileCount recomputed.
//
// A removal URL that matches no existing ref is a no-op.
func (s *MemoService) reconcileAttachments(ctx context.Context, memoID, content string,
	existing []models.AttachmentRef, removedURLs []string, incoming []UploadFile) (reconcileResult, error) {

	removedKeys := make(map[string]struct{}, len(removedURLs))
	for _, raw := range removedURLs {
		key, err := s.blobs.KeyFromURL(raw)
		if err != nil {
			s.logger.Warn(ctx, "skipping attachment removal", "url", raw, "error", err)
			continue
		}
		removedKeys[key] = struct{}{}
	}

	if len(removedKeys) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		for key := range removedKeys {
			g.Go(func() error {
				if err := s.blobs.Delete(gctx, key); err != nil {
					s.logger.Warn(gctx, "attachment blob delete failed", "key", key, "error", err)
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	files := make([]models.AttachmentRef, 0, len(existing)+len(incoming))
	for _, f := range existing {
		key, err := s.blobs.KeyFromURL(f.FileUrl)
		if err != nil {
			files = append(files, f)
			continue
		}
		if _, ok := removedKeys[key]; !ok {
			files = append(files, f)
		}
	}

	newRefs := make([]models.AttachmentRef, len(incoming))
	if len(incoming) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		for i, in := range incoming {
			g.Go(func() error {
				key := storageKey(memoID, in.Name)
				if err := s.blobs.Put(gctx, key, in.Data, in.ContentType); err != nil {
					return err
				}
				newRefs[i] = models.AttachmentRef{
					FileName: in.Name,
					FileUrl:  s.blobs.ObjectURL(key),
					FileType: in.ContentType,
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return reconcileResult{}, err
		}
	}

	// Rewrite only after every upload in the batch has resolved.
	for _, in := range incoming {
		content = rewriteAttachmentRef(content, in.Name, downloadPath(memoID, in.Name), isImageFile(in.Name))
	}

	files = append(files, newRefs...)
	return reconcileResult{Content: content, Files: files, FileCount: len(files)}, nil
}
