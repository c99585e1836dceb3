// Package domain contains core domain types for the CAPS tutor.
package domain

import (
	"time"
)

const (
	// MaxHistory is the number of most recent history entries kept per session.
	MaxHistory = 12

	// Unknown marks a subject, grade or topic that has not been detected.
	Unknown = "unknown"
)

// HistoryEntry is a single conversational turn kept for context.
type HistoryEntry struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ExamMode distinguishes past-paper style packs from general exam preparation.
type ExamMode string

const (
	ExamModePastPaper ExamMode = "past_paper"
	ExamModePrep      ExamMode = "exam_prep"
)

// ExamFlowState tracks an in-progress exam preparation flow.
type ExamFlowState struct {
	Active     bool     `json:"active"`
	Subject    string   `json:"subject"`
	Grade      string   `json:"grade"`
	FocusTopic string   `json:"focus_topic"`
	Mode       ExamMode `json:"mode"`
	Stage      string   `json:"stage"`
}

// WelcomeVariant selects which welcome message a greeting receives.
type WelcomeVariant string

const (
	WelcomeFirstTime WelcomeVariant = "first_time"
	WelcomeReturning WelcomeVariant = "returning"
	WelcomeNone      WelcomeVariant = "none"
)

// Session holds per-user conversational state.
type Session struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name,omitempty"`

	Subject string `json:"subject,omitempty"`
	Grade   string `json:"grade,omitempty"`

	WelcomeSent     bool `json:"welcome_sent"`
	HasReceivedHelp bool `json:"has_received_help"`

	CurrentAgent    string `json:"current_agent,omitempty"`
	LastExpectation string `json:"last_expectation,omitempty"`

	ActiveQuestion *Question      `json:"active_question,omitempty"`
	HintLevel      int            `json:"hint_level"`
	ExamFlow       *ExamFlowState `json:"exam_flow,omitempty"`

	PracticeTopic      string     `json:"practice_topic,omitempty"`
	PracticeDifficulty Difficulty `json:"practice_difficulty,omitempty"`

	History []HistoryEntry `json:"history,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSession creates an empty session for a user.
func NewSession(userID string, now time.Time) *Session {
	return &Session{
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Expired reports whether the session has been idle longer than ttl.
func (s *Session) Expired(ttl time.Duration, now time.Time) bool {
	return ttl > 0 && now.Sub(s.UpdatedAt) > ttl
}

// HasSubject reports whether a subject has been detected.
func (s *Session) HasSubject() bool {
	return Known(s.Subject)
}

// HasGrade reports whether a grade has been detected.
func (s *Session) HasGrade() bool {
	return Known(s.Grade)
}

// SetActiveQuestion replaces the in-flight question. Hint progress always
// restarts because hints belong to a single question.
func (s *Session) SetActiveQuestion(q *Question) {
	s.ActiveQuestion = q
	s.HintLevel = 0
}

// EndExamFlow marks any exam flow finished. The last focus stays on record
// but exam commands no longer apply to it.
func (s *Session) EndExamFlow() {
	if s.ExamFlow != nil {
		s.ExamFlow.Active = false
	}
}

// RevealNextHint returns the next hint for the active question and advances
// HintLevel. It returns false once the question has no further hints.
func (s *Session) RevealNextHint() (string, bool) {
	if s.ActiveQuestion == nil {
		return "", false
	}
	limit := min(len(s.ActiveQuestion.Hints), MaxHints)
	if s.HintLevel >= limit {
		return "", false
	}
	hint := s.ActiveQuestion.Hints[s.HintLevel]
	s.HintLevel++
	return hint, true
}

// AppendHistory adds an entry and drops the oldest entries beyond MaxHistory.
func (s *Session) AppendHistory(role, content string, at time.Time) {
	s.History = append(s.History, HistoryEntry{
		Role:      role,
		Content:   content,
		Timestamp: at,
	})
	if n := len(s.History); n > MaxHistory {
		s.History = append([]HistoryEntry(nil), s.History[n-MaxHistory:]...)
	}
}

// RecentHistory returns the last n history entries.
func (s *Session) RecentHistory(n int) []HistoryEntry {
	if n >= len(s.History) {
		return s.History
	}
	return s.History[len(s.History)-n:]
}

// WelcomeVariant is a pure function of the lifecycle flags.
func (s *Session) WelcomeVariant() WelcomeVariant {
	return SelectWelcome(s.WelcomeSent, s.HasReceivedHelp)
}

// SelectWelcome picks the welcome message for the given lifecycle flags.
func SelectWelcome(welcomeSent, hasReceivedHelp bool) WelcomeVariant {
	switch {
	case !welcomeSent:
		return WelcomeFirstTime
	case hasReceivedHelp:
		return WelcomeReturning
	default:
		return WelcomeNone
	}
}

// Clone returns a deep copy so callers can hand out snapshots safely.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.ActiveQuestion != nil {
		q := s.ActiveQuestion.Clone()
		c.ActiveQuestion = q
	}
	if s.ExamFlow != nil {
		f := *s.ExamFlow
		c.ExamFlow = &f
	}
	if s.History != nil {
		c.History = append([]HistoryEntry(nil), s.History...)
	}
	return &c
}

// Known reports whether v carries a real value rather than "" or "unknown".
func Known(v string) bool {
	return v != "" && v != Unknown
}
