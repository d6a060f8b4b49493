package services

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hi-space/next-memo/internal/common"
	"github.com/hi-space/next-memo/internal/dbx"
	"github.com/hi-space/next-memo/internal/server/models"
)

func TestMemoService_Create(t *testing.T) {
	gw := newFakeGateway()
	repo := newFakeRepo()
	enrich := &fakeSubmitter{}
	s := newTestMemoService(gw, repo, enrich)

	memo, err := s.Create(context.Background(), CreateMemoInput{
		Title:   "groceries",
		Content: "milk ![list.png](blob:http://localhost/1)",
		Files: []UploadFile{
			{Name: "list.png", ContentType: "image/png", Data: []byte("img")},
		},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, memo.ID)
	assert.Equal(t, models.PriorityDefault, memo.Priority)
	assert.Equal(t, memo.CreatedAt, memo.UpdatedAt)
	assert.Equal(t, 1, memo.FileCount)
	assert.Contains(t, memo.Content, "/api/download/"+memo.ID+"-list.png")
	assert.NotContains(t, memo.Content, "blob:")

	stored, err := repo.Get(context.Background(), memo.ID)
	require.NoError(t, err)
	assert.Equal(t, memo.Content, stored.Content)

	assert.Equal(t, 1, enrich.count())
}

func TestMemoService_CreateRejectsEmptyContent(t *testing.T) {
	s := newTestMemoService(newFakeGateway(), newFakeRepo(), nil)

	for _, content := range []string{"", "   ", "\n\t"} {
		_, err := s.Create(context.Background(), CreateMemoInput{Content: content})
		assert.ErrorIs(t, err, common.ErrorValidation)
	}
}

func TestMemoService_CreateRejectsPriorityOutOfRange(t *testing.T) {
	s := newTestMemoService(newFakeGateway(), newFakeRepo(), nil)

	for _, p := range []int{-1, 6, 100} {
		_, err := s.Create(context.Background(), CreateMemoInput{Content: "x", Priority: p})
		assert.ErrorIs(t, err, common.ErrorValidation)
	}

	memo, err := s.Create(context.Background(), CreateMemoInput{Content: "x", Priority: 5})
	require.NoError(t, err)
	assert.Equal(t, 5, memo.Priority)
}

func TestMemoService_Update(t *testing.T) {
	gw := newFakeGateway()
	repo := newFakeRepo()
	s := newTestMemoService(gw, repo, nil)

	created, err := s.Create(context.Background(), CreateMemoInput{
		Title:    "v1",
		Content:  "first",
		Priority: 2,
		Files: []UploadFile{
			{Name: "old.txt", ContentType: "text/plain", Data: []byte("o")},
		},
	})
	require.NoError(t, err)

	// Simulate a past enrichment so we can check it survives the update.
	require.NoError(t, repo.UpdateEnrichment(context.Background(), created.ID, "", "a summary", []string{"t1"}))

	updated, err := s.Update(context.Background(), created.ID, UpdateMemoInput{
		Title:           "v2",
		Content:         "second ![new.png](blob:x)",
		Priority:        4,
		DeletedFileUrls: []string{created.Files[0].FileUrl},
		Files: []UploadFile{
			{Name: "new.png", ContentType: "image/png", Data: []byte("n")},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)
	assert.False(t, updated.UpdatedAt.Before(created.UpdatedAt))
	assert.Equal(t, "v2", updated.Title)
	assert.Equal(t, 4, updated.Priority)
	assert.Equal(t, "a summary", updated.Summary)
	assert.Equal(t, []string{"t1"}, updated.Tags)

	require.Equal(t, 1, updated.FileCount)
	assert.Equal(t, "new.png", updated.Files[0].FileName)

	_, _, err = gw.Get(context.Background(), "files/"+created.ID+"-old.txt")
	assert.Error(t, err)
}

func TestMemoService_UpdateRemovesByRetrievalURL(t *testing.T) {
	gw := newFakeGateway()
	repo := newFakeRepo()
	s := newTestMemoService(gw, repo, nil)

	created, err := s.Create(context.Background(), CreateMemoInput{
		Content: "body",
		Files: []UploadFile{
			{Name: "a.txt", ContentType: "text/plain", Data: []byte("a")},
		},
	})
	require.NoError(t, err)

	// The client only ever sees the translated attachment URL, and that
	// is what comes back in the removal list.
	visible := s.WithRetrievalURLs(context.Background(), created)
	require.NotEqual(t, created.Files[0].FileUrl, visible.Files[0].FileUrl)

	updated, err := s.Update(context.Background(), created.ID, UpdateMemoInput{
		Content:         "body",
		DeletedFileUrls: []string{visible.Files[0].FileUrl},
	})
	require.NoError(t, err)

	assert.Zero(t, updated.FileCount)
	assert.Empty(t, updated.Files)
	_, _, err = gw.Get(context.Background(), "files/"+created.ID+"-a.txt")
	assert.Error(t, err, "blob must be gone along with the ref")
}

func TestMemoService_WithRetrievalURLs_CDNEscapesKey(t *testing.T) {
	gw := newFakeGateway()
	cfg := testConfig()
	cfg.PublicBaseURL = "https://cdn.example.com/"
	s := NewMemoService(nil, &fakeRepoManager{repo: newFakeRepo()}, gw, nil, cfg, testLogger())

	created, err := s.Create(context.Background(), CreateMemoInput{
		Content: "pic ![my photo.png](blob:http://localhost/1)",
		Files: []UploadFile{
			{Name: "my photo.png", ContentType: "image/png", Data: []byte("img")},
		},
	})
	require.NoError(t, err)

	visible := s.WithRetrievalURLs(context.Background(), created)
	assert.Equal(t,
		"https://cdn.example.com/files/"+created.ID+"-my%20photo.png",
		visible.Files[0].FileUrl)
}

func TestMemoService_UpdateRunsInTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	orig := withTx
	withTx = dbx.WithTx
	defer func() { withTx = orig }()

	mock.ExpectBegin()
	mock.ExpectCommit()

	repo := newFakeRepo()
	require.NoError(t, repo.Put(context.Background(), &models.Memo{ID: "m1", Content: "x"}))
	mgr := &fakeRepoManager{repo: repo}
	s := NewMemoService(db, mgr, newFakeGateway(), nil, testConfig(), testLogger())

	_, err = s.Update(context.Background(), "m1", UpdateMemoInput{Content: "y"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	_, ok := mgr.lastDB.(*sql.Tx)
	assert.True(t, ok, "repository must be bound to the transaction, not the root DB")
}

func TestMemoService_DeleteRunsInTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	orig := withTx
	withTx = dbx.WithTx
	defer func() { withTx = orig }()

	mock.ExpectBegin()
	mock.ExpectRollback()

	mgr := &fakeRepoManager{repo: newFakeRepo()}
	s := NewMemoService(db, mgr, newFakeGateway(), nil, testConfig(), testLogger())

	// Get fails inside the transaction; WithTx must roll back.
	err = s.Delete(context.Background(), "missing")
	assert.ErrorIs(t, err, common.ErrorNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoService_UpdateMissingMemo(t *testing.T) {
	s := newTestMemoService(newFakeGateway(), newFakeRepo(), nil)

	_, err := s.Update(context.Background(), "no-such-id", UpdateMemoInput{Content: "x"})
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestMemoService_Delete(t *testing.T) {
	gw := newFakeGateway()
	repo := newFakeRepo()
	s := newTestMemoService(gw, repo, nil)

	memo, err := s.Create(context.Background(), CreateMemoInput{
		Content: "bye",
		Files: []UploadFile{
			{Name: "a.txt", ContentType: "text/plain", Data: []byte("a")},
			{Name: "b.txt", ContentType: "text/plain", Data: []byte("b")},
		},
	})
	require.NoError(t, err)

	require.NoError(t, s.Delete(context.Background(), memo.ID))

	_, err = repo.Get(context.Background(), memo.ID)
	assert.ErrorIs(t, err, common.ErrorNotFound)
	assert.Empty(t, gw.objects)
}

func TestMemoService_DeleteMissingMemo(t *testing.T) {
	s := newTestMemoService(newFakeGateway(), newFakeRepo(), nil)
	assert.ErrorIs(t, s.Delete(context.Background(), "nope"), common.ErrorNotFound)
}

func TestMemoService_DownloadByURL(t *testing.T) {
	gw := newFakeGateway()
	require.NoError(t, gw.Put(context.Background(), "files/m1-a.txt", []byte("payload"), "text/plain"))
	s := newTestMemoService(gw, newFakeRepo(), nil)

	data, ct, err := s.DownloadByURL(context.Background(), gw.ObjectURL("files/m1-a.txt"))
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
	assert.Equal(t, "text/plain", ct)

	_, _, err = s.DownloadByURL(context.Background(), "http://elsewhere/x")
	assert.ErrorIs(t, err, common.ErrorValidation)
}

func TestMemoService_DownloadByKey(t *testing.T) {
	gw := newFakeGateway()
	require.NoError(t, gw.Put(context.Background(), "files/m1-a.txt", []byte("payload"), "text/plain"))
	s := newTestMemoService(gw, newFakeRepo(), nil)

	data, _, err := s.DownloadByKey(context.Background(), "m1-a.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)

	_, _, err = s.DownloadByKey(context.Background(), "m1-missing.txt")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestMemoService_WithRetrievalURLs_Presigned(t *testing.T) {
	gw := newFakeGateway()
	s := newTestMemoService(gw, newFakeRepo(), nil)
	s.config.PublicBaseURL = ""

	memo := &models.Memo{
		ID: "m1",
		Files: []models.AttachmentRef{
			{FileName: "a.txt", FileUrl: gw.ObjectURL("files/m1-a.txt")},
		},
	}

	out := s.WithRetrievalURLs(context.Background(), memo)
	assert.True(t, strings.HasPrefix(out.Files[0].FileUrl, "https://signed.example.com/"))
	// The stored memo keeps its canonical URL.
	assert.Equal(t, gw.ObjectURL("files/m1-a.txt"), memo.Files[0].FileUrl)
}

func TestMemoService_WithRetrievalURLs_CDN(t *testing.T) {
	gw := newFakeGateway()
	s := newTestMemoService(gw, newFakeRepo(), nil)
	s.config.PublicBaseURL = "https://cdn.example.com/"

	memo := &models.Memo{
		ID: "m1",
		Files: []models.AttachmentRef{
			{FileName: "a.txt", FileUrl: gw.ObjectURL("files/m1-a.txt")},
		},
	}

	out := s.WithRetrievalURLs(context.Background(), memo)
	assert.Equal(t, "https://cdn.example.com/files/m1-a.txt", out.Files[0].FileUrl)
}

// A submitter that blocks forever must not block the write path; Submit
// is expected to be non-blocking by contract, which the worker enforces
// with a bounded queue. Here we only check the service tolerates a nil
// submitter.
func TestMemoService_NilSubmitter(t *testing.T) {
	s := newTestMemoService(newFakeGateway(), newFakeRepo(), nil)

	memo, err := s.Create(context.Background(), CreateMemoInput{Content: "x"})
	require.NoError(t, err)
	assert.NotEmpty(t, memo.ID)
}
