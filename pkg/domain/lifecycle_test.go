package domain

import (
	"errors"
	"testing"
)

func TestBeginExchange(t *testing.T) {
	tests := []struct {
		name    string
		kind    SessionKind
		status  SessionStatus
		want    SessionStatus
		changed bool
	}{
		{"requested starts generating", KindRequest, StatusRequested, StatusGeneratingDraft, true},
		{"generating is a no-op", KindRequest, StatusGeneratingDraft, StatusGeneratingDraft, false},
		{"uploaded request untouched", KindRequest, StatusUploaded, StatusUploaded, false},
		{"paid order starts work", KindOrder, StatusPaid, StatusInProgress, true},
		{"in progress is a no-op", KindOrder, StatusInProgress, StatusInProgress, false},
		{"pending quote untouched", KindOrder, StatusPendingQuote, StatusPendingQuote, false},
		{"revision requested untouched", KindOrder, StatusRevisionRequested, StatusRevisionRequested, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := DrawingSession{Kind: tc.kind, Status: tc.status}
			if got := s.BeginExchange(); got != tc.changed {
				t.Fatalf("changed = %v, want %v", got, tc.changed)
			}
			if s.Status != tc.want {
				t.Fatalf("status = %s, want %s", s.Status, tc.want)
			}
			if s.BeginExchange() {
				t.Fatalf("second call must not change status")
			}
		})
	}
}

func TestMarkUploaded(t *testing.T) {
	allowed := []SessionStatus{StatusGeneratingDraft, StatusInProgress, StatusRevisionRequested}
	for _, status := range allowed {
		s := DrawingSession{Kind: KindOrder, Status: status}
		if err := s.MarkUploaded("file-1", "AI-generated SLD"); err != nil {
			t.Fatalf("mark uploaded from %s: %v", status, err)
		}
		if s.Status != StatusUploaded || s.UploadedFileID != "file-1" {
			t.Fatalf("unexpected session after upload from %s: %+v", status, s)
		}
	}

	denied := []SessionStatus{
		StatusRequested, StatusUploaded, StatusConfirmed, StatusPendingQuote, StatusQuoteProposed,
		StatusQuoteRejected, StatusPendingPayment, StatusPaid, StatusCompleted,
	}
	for _, status := range denied {
		s := DrawingSession{Kind: KindOrder, Status: status}
		err := s.MarkUploaded("file-1", "")
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("expected invalid transition from %s, got %v", status, err)
		}
		if s.Status != status || s.UploadedFileID != "" {
			t.Fatalf("session mutated on failed upload from %s: %+v", status, s)
		}
	}
}

func TestOrderLifecycle(t *testing.T) {
	s := DrawingSession{Kind: KindOrder, Status: InitialStatus(KindOrder)}
	steps := []struct {
		name string
		do   func() error
		want SessionStatus
	}{
		{"propose", func() error { return s.ProposeQuote("120.00", "standard") }, StatusQuoteProposed},
		{"accept", s.AcceptQuote, StatusPendingPayment},
		{"pay", s.MarkPaid, StatusPaid},
		{"start", s.StartWork, StatusInProgress},
		{"upload", func() error { return s.MarkUploaded("f1", "") }, StatusUploaded},
		{"revise", func() error { return s.RequestRevision("wrong breaker rating") }, StatusRevisionRequested},
		{"reupload", func() error { return s.MarkUploaded("f2", "") }, StatusUploaded},
		{"complete", s.Complete, StatusCompleted},
	}
	for _, step := range steps {
		if err := step.do(); err != nil {
			t.Fatalf("%s: %v", step.name, err)
		}
		if s.Status != step.want {
			t.Fatalf("%s: status = %s, want %s", step.name, s.Status, step.want)
		}
	}
	if s.UploadedFileID != "f2" {
		t.Fatalf("uploaded file = %q, want f2", s.UploadedFileID)
	}
	if err := s.Complete(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected completing twice to fail, got %v", err)
	}
}

func TestRejectQuoteIsTerminal(t *testing.T) {
	s := DrawingSession{Kind: KindOrder, Status: StatusQuoteProposed}
	if err := s.RejectQuote(); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if err := s.AcceptQuote(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected accept after reject to fail, got %v", err)
	}
	if s.BeginExchange() {
		t.Fatalf("rejected order must not auto-advance")
	}
}

func TestRequestConfirm(t *testing.T) {
	s := DrawingSession{Kind: KindRequest, Status: InitialStatus(KindRequest)}
	if err := s.Confirm(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected confirm from requested to fail, got %v", err)
	}
	s.BeginExchange()
	if err := s.MarkUploaded("f1", ""); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if err := s.Confirm(); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if s.Status != StatusConfirmed {
		t.Fatalf("status = %s, want confirmed", s.Status)
	}
	if s.CanAcceptArtifact() {
		t.Fatalf("confirmed request must not accept artifacts")
	}
}

func TestOrderActionsRejectRequests(t *testing.T) {
	s := DrawingSession{Kind: KindRequest, Status: StatusPendingQuote}
	if err := s.ProposeQuote("1", ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected order-only action on request to fail, got %v", err)
	}
}
