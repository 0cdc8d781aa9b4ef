package app

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"

	"bluelight/pkg/domain"
)

var pdfBytes = []byte("%PDF-1.7 single line diagram")

func artifactHandler(hits *atomic.Int32, body []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/api/files/gen-1" {
			http.Error(w, "unknown file", http.StatusNotFound)
			return
		}
		_, _ = w.Write(body)
	}
}

func TestAcceptArtifactStoresDrawing(t *testing.T) {
	var hits atomic.Int32
	f := newFixture(t, artifactHandler(&hits, pdfBytes))
	f.seed(t, "o1", domain.KindOrder, domain.StatusInProgress)
	ctx := context.Background()

	rec, sess, err := f.app.AcceptArtifact(ctx, "o1", " gen-1 ")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if sess.Status != domain.StatusUploaded || sess.UploadedFileID != rec.ID {
		t.Fatalf("unexpected session after accept: %+v", sess)
	}
	if sess.StaffNote != "AI-generated SLD" {
		t.Fatalf("staff note = %q", sess.StaffNote)
	}
	if rec.Kind != domain.FileDrawingSLD || rec.OriginalName != "sld_o1.pdf" || rec.SizeBytes != int64(len(pdfBytes)) {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if !strings.HasPrefix(rec.StoragePath, "orders/o1/") || !strings.HasSuffix(rec.StoragePath, ".pdf") {
		t.Fatalf("unexpected storage path %q", rec.StoragePath)
	}
	data, err := f.artifacts.Fetch(ctx, rec.StoragePath)
	if err != nil || !bytes.Equal(data, pdfBytes) {
		t.Fatalf("stored bytes mismatch: err=%v", err)
	}
	latest, ok, err := f.store.LatestFile(ctx, "o1", domain.FileDrawingSLD)
	if err != nil || !ok || latest.ID != rec.ID {
		t.Fatalf("latest drawing: %+v ok=%v err=%v", latest, ok, err)
	}
	if st := f.status(t, "o1"); st != domain.StatusUploaded {
		t.Fatalf("stored status = %s", st)
	}
}

func TestAcceptArtifactFromRevisionRequested(t *testing.T) {
	var hits atomic.Int32
	f := newFixture(t, artifactHandler(&hits, pdfBytes))
	f.seed(t, "o1", domain.KindOrder, domain.StatusRevisionRequested)

	if _, sess, err := f.app.AcceptArtifact(context.Background(), "o1", "gen-1"); err != nil || sess.Status != domain.StatusUploaded {
		t.Fatalf("accept from revision_requested: status=%s err=%v", sess.Status, err)
	}
}

func TestAcceptArtifactEmptyDrawing(t *testing.T) {
	var hits atomic.Int32
	f := newFixture(t, artifactHandler(&hits, nil))
	f.seed(t, "S2", domain.KindOrder, domain.StatusInProgress)
	ctx := context.Background()

	if _, _, err := f.app.AcceptArtifact(ctx, "S2", "gen-1"); !errors.Is(err, ErrArtifactEmpty) {
		t.Fatalf("expected ErrArtifactEmpty, got %v", err)
	}
	if _, ok, _ := f.store.LatestFile(ctx, "S2", domain.FileDrawingSLD); ok {
		t.Fatalf("no file record may be created for an empty drawing")
	}
	if st := f.status(t, "S2"); st != domain.StatusInProgress {
		t.Fatalf("status = %s, want in_progress", st)
	}
}

func TestAcceptArtifactInvalidState(t *testing.T) {
	statuses := []domain.SessionStatus{
		domain.StatusCompleted,
		domain.StatusRequested,
		domain.StatusPaid,
		domain.StatusUploaded,
		domain.StatusConfirmed,
		domain.StatusQuoteRejected,
	}
	for _, status := range statuses {
		t.Run(string(status), func(t *testing.T) {
			var hits atomic.Int32
			f := newFixture(t, artifactHandler(&hits, pdfBytes))
			f.seed(t, "S3", domain.KindOrder, status)

			_, _, err := f.app.AcceptArtifact(context.Background(), "S3", "gen-1")
			if !errors.Is(err, ErrInvalidState) || !errors.Is(err, domain.ErrInvalidTransition) {
				t.Fatalf("expected ErrInvalidState, got %v", err)
			}
			if st := f.status(t, "S3"); st != status {
				t.Fatalf("status changed to %s", st)
			}
			if hits.Load() != 0 {
				t.Fatalf("nothing may be fetched for a session that cannot accept a drawing")
			}
		})
	}
}

func TestAcceptArtifactFetchFailure(t *testing.T) {
	var hits atomic.Int32
	f := newFixture(t, artifactHandler(&hits, pdfBytes))
	f.seed(t, "s1", domain.KindRequest, domain.StatusGeneratingDraft)
	ctx := context.Background()

	if _, _, err := f.app.AcceptArtifact(ctx, "s1", "gen-unknown"); !errors.Is(err, ErrArtifactFetchFailed) {
		t.Fatalf("expected ErrArtifactFetchFailed, got %v", err)
	}
	if _, ok, _ := f.store.LatestFile(ctx, "s1", domain.FileDrawingSLD); ok {
		t.Fatalf("no file record may be created when the fetch fails")
	}
	if _, _, err := f.app.AcceptArtifact(ctx, "s1", ""); !errors.Is(err, ErrArtifactRefRequired) {
		t.Fatalf("expected ErrArtifactRefRequired, got %v", err)
	}
	if _, _, err := f.app.AcceptArtifact(ctx, "missing", "gen-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestAcceptArtifactKeepsFileWhenTransitionRefused(t *testing.T) {
	var f *fixture
	f = newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Someone completes the order while the drawing is downloading.
		sess, _, _ := f.store.GetSession(r.Context(), "o1")
		sess.Status = domain.StatusCompleted
		_ = f.store.SaveSession(r.Context(), sess)
		_, _ = w.Write(pdfBytes)
	}))
	f.seed(t, "o1", domain.KindOrder, domain.StatusInProgress)
	ctx := context.Background()

	rec, _, err := f.app.AcceptArtifact(ctx, "o1", "gen-1")
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if rec.ID == "" {
		t.Fatalf("the stored file record must be returned with the error")
	}
	latest, ok, err := f.store.LatestFile(ctx, "o1", domain.FileDrawingSLD)
	if err != nil || !ok || latest.ID != rec.ID {
		t.Fatalf("file record must survive a refused transition: ok=%v err=%v", ok, err)
	}
	if _, err := f.artifacts.Fetch(ctx, rec.StoragePath); err != nil {
		t.Fatalf("stored bytes must survive a refused transition: %v", err)
	}
	sess, _, _ := f.store.GetSession(ctx, "o1")
	if sess.Status != domain.StatusCompleted || sess.UploadedFileID != "" {
		t.Fatalf("session must be left alone: %+v", sess)
	}
}
