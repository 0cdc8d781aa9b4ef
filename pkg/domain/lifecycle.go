package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition reports a lifecycle action attempted from a status that
// does not allow it. Callers must not retry it blindly.
var ErrInvalidTransition = errors.New("invalid status transition")

// uploadableStatuses are the states a finished drawing can be accepted from.
var uploadableStatuses = map[SessionStatus]struct{}{
	StatusGeneratingDraft:   {},
	StatusInProgress:        {},
	StatusRevisionRequested: {},
}

// CanAcceptArtifact reports whether a drawing can currently be accepted.
func (s *DrawingSession) CanAcceptArtifact() bool {
	_, ok := uploadableStatuses[s.Status]
	return ok
}

// InitialStatus returns the status a freshly opened session of kind starts in.
func InitialStatus(kind SessionKind) SessionStatus {
	if kind == KindOrder {
		return StatusPendingQuote
	}
	return StatusRequested
}

// BeginExchange advances a session that is about to start a drafting
// conversation: requested -> generating_draft, paid -> in_progress. Every
// other status is left alone. It reports whether the status changed.
func (s *DrawingSession) BeginExchange() bool {
	switch s.Status {
	case StatusRequested:
		s.setStatus(StatusGeneratingDraft)
		return true
	case StatusPaid:
		s.setStatus(StatusInProgress)
		return true
	}
	return false
}

// MarkUploaded records the accepted drawing and moves the session to uploaded.
func (s *DrawingSession) MarkUploaded(fileID, note string) error {
	if !s.CanAcceptArtifact() {
		return s.invalid("upload drawing")
	}
	s.UploadedFileID = fileID
	s.StaffNote = note
	s.setStatus(StatusUploaded)
	return nil
}

// Confirm closes a request after the applicant checked the uploaded drawing.
func (s *DrawingSession) Confirm() error {
	if s.Kind != KindRequest || s.Status != StatusUploaded {
		return s.invalid("confirm")
	}
	s.setStatus(StatusConfirmed)
	return nil
}

func (s *DrawingSession) ProposeQuote(amount, note string) error {
	if err := s.requireOrder(StatusPendingQuote, "propose quote"); err != nil {
		return err
	}
	s.QuoteAmount = amount
	s.QuoteNote = note
	s.setStatus(StatusQuoteProposed)
	return nil
}

func (s *DrawingSession) AcceptQuote() error {
	if err := s.requireOrder(StatusQuoteProposed, "accept quote"); err != nil {
		return err
	}
	s.setStatus(StatusPendingPayment)
	return nil
}

func (s *DrawingSession) RejectQuote() error {
	if err := s.requireOrder(StatusQuoteProposed, "reject quote"); err != nil {
		return err
	}
	s.setStatus(StatusQuoteRejected)
	return nil
}

func (s *DrawingSession) MarkPaid() error {
	if err := s.requireOrder(StatusPendingPayment, "mark paid"); err != nil {
		return err
	}
	s.setStatus(StatusPaid)
	return nil
}

func (s *DrawingSession) StartWork() error {
	if err := s.requireOrder(StatusPaid, "start work"); err != nil {
		return err
	}
	s.setStatus(StatusInProgress)
	return nil
}

// RequestRevision sends an uploaded order back to the drafter. The previous
// drawing reference is kept until a new one is accepted.
func (s *DrawingSession) RequestRevision(comment string) error {
	if err := s.requireOrder(StatusUploaded, "request revision"); err != nil {
		return err
	}
	s.RevisionComment = comment
	s.setStatus(StatusRevisionRequested)
	return nil
}

func (s *DrawingSession) Complete() error {
	if err := s.requireOrder(StatusUploaded, "complete"); err != nil {
		return err
	}
	s.setStatus(StatusCompleted)
	return nil
}

func (s *DrawingSession) requireOrder(want SessionStatus, action string) error {
	if s.Kind != KindOrder || s.Status != want {
		return s.invalid(action)
	}
	return nil
}

func (s *DrawingSession) invalid(action string) error {
	return fmt.Errorf("%w: cannot %s from %s", ErrInvalidTransition, action, s.Status)
}

func (s *DrawingSession) setStatus(status SessionStatus) {
	s.Status = status
	s.UpdatedAt = time.Now().UTC()
}
