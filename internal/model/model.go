// Package model contains the struct definitions shared across packages.
package model

import "time"

// DocumentClass tags an uploaded document with the kind of salary paperwork
// it appears to be. The tag is inferred from the file name, which is a known
// limitation: a renamed file gets a wrong class.
type DocumentClass string

const (
	ClassPaySlip    DocumentClass = "pay_slip"
	ClassSalarySlip DocumentClass = "salary_slip"
	ClassForm16     DocumentClass = "form_16"
)

// FieldCategory partitions extracted field records into the groups consumers
// query by.
type FieldCategory string

const (
	CategoryIdentity  FieldCategory = "identity"
	CategoryEarning   FieldCategory = "earning"
	CategoryDeduction FieldCategory = "deduction"
	CategoryDerived   FieldCategory = "derived"
)

// Categories lists every field category in display order.
func Categories() []FieldCategory {
	return []FieldCategory{CategoryIdentity, CategoryEarning, CategoryDeduction, CategoryDerived}
}

// Session is the time-bounded scope owning all of one user's uploads,
// extracted fields, calculations and conversation entries. Rows are never
// mutated after creation; they only disappear through the expiry sweep.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Valid reports whether the session has not expired at the given instant.
// The comparison is strict: a session is invalid exactly at its expiry.
func (s *Session) Valid(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// Document records one uploaded file. StoredName is the locator inside the
// upload directory; after a successful ingestion it must point at an existing
// file, and the reconciliation sweep repairs any drift.
type Document struct {
	ID         int64         `json:"id"`
	SessionID  string        `json:"sessionId"`
	FileName   string        `json:"fileName"`
	StoredName string        `json:"-"`
	Class      DocumentClass `json:"class"`
	UploadedAt time.Time     `json:"uploadedAt"`
}

// FieldRecord is one extracted field value, scoped to a session and a
// category. Values are kept as opaque text.
type FieldRecord struct {
	ID         int64         `json:"id"`
	SessionID  string        `json:"sessionId"`
	Category   FieldCategory `json:"category"`
	Name       string        `json:"name"`
	Value      string        `json:"value"`
	RecordedAt time.Time     `json:"recordedAt"`
}

// Calculation is one two-regime tax comparison. NetTax is always the minimum
// of the two regime amounts. Multiple historical rows may exist per session;
// callers treat the most recent as current.
type Calculation struct {
	ID              int64     `json:"id"`
	SessionID       string    `json:"sessionId"`
	GrossIncome     float64   `json:"grossIncome"`
	OldRegimeTax    float64   `json:"oldRegimeTax"`
	NewRegimeTax    float64   `json:"newRegimeTax"`
	TotalDeductions float64   `json:"totalDeductions"`
	NetTax          float64   `json:"netTax"`
	SubjectName     string    `json:"subjectName,omitempty"`
	CalculatedAt    time.Time `json:"calculatedAt"`
}

// ConversationEntry is one message/response pair. Unlike every other entity
// the conversation reads back oldest-first.
type ConversationEntry struct {
	ID          int64     `json:"id"`
	SessionID   string    `json:"sessionId"`
	UserMessage string    `json:"userMessage"`
	Response    string    `json:"response"`
	CreatedAt   time.Time `json:"createdAt"`
}
