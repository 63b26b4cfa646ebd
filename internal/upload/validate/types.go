// Package validate classifies decoded upload rows against business rules,
// master data, and existing drivers.
package validate

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type ValidationStatus string

const (
	StatusValid   ValidationStatus = "valid"
	StatusInvalid ValidationStatus = "invalid"
)

// Error codes shared with the error report.
const (
	CodeMissingField       = "missing_field"
	CodeInvalidFormat      = "invalid_format"
	CodeUnderage           = "underage"
	CodeFutureDate         = "future_date"
	CodeUnknownType        = "unknown_type"
	CodeOrphanRow          = "orphan_row"
	CodePrimaryCardinality = "primary_address_cardinality"
	CodeDuplicateRef       = "duplicate_ref"
	CodeDuplicateInFile    = "duplicate_in_file"
	CodeDuplicateExisting  = "duplicate_existing"
	CodePersistenceFailed  = "persistence_failed"
)

// FieldError is always attributable to a specific cell so the operator can fix it.
type FieldError struct {
	Sheet   string `json:"sheet"`
	Row     int    `json:"row"`
	RefID   string `json:"ref_id,omitempty"`
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ParsedAddress struct {
	Row           int
	AddressTypeID snowflake.ID
	Line1         string
	Line2         string
	City          string
	State         string
	PostalCode    string
	IsPrimary     bool

	// cell values that still need rule context to interpret
	rawType    string
	rawPrimary string
}

type ParsedDocument struct {
	Row            int
	DocumentTypeID snowflake.ID
	Number         string
	IssuedAt       *time.Time
	ExpiresAt      *time.Time

	rawType    string
	rawIssued  string
	rawExpires string
}

type ParsedEmployment struct {
	Row       int
	Employer  string
	Role      string
	StartedAt *time.Time
	EndedAt   *time.Time

	rawStart string
	rawEnd   string
}

type ParsedIncident struct {
	Row         int
	OccurredAt  *time.Time
	Description string
	Severity    string

	rawDate string
}

// RowRecord groups every sheet row sharing one ref id into a single logical
// driver, together with its classification.
type RowRecord struct {
	RefID  string
	Row    int // row number on the Drivers sheet
	Status ValidationStatus
	Errors []FieldError

	FirstName           string
	LastName            string
	Phone               string
	Email               string
	DateOfBirth         time.Time
	VehicleRegistration string

	Addresses  []ParsedAddress
	Documents  []ParsedDocument
	Employment []ParsedEmployment
	Incidents  []ParsedIncident
}

func (r *RowRecord) AddError(e FieldError) {
	if e.RefID == "" {
		e.RefID = r.RefID
	}
	r.Errors = append(r.Errors, e)
	r.Status = StatusInvalid
}

// Result is the validation engine's output for one batch: classified records
// plus orphan-row errors that could not be attached to any record.
type Result struct {
	Records []*RowRecord
	Orphans []FieldError
}

// AllErrors flattens record errors and orphans for the error report.
func (r Result) AllErrors() []FieldError {
	var out []FieldError
	for _, rec := range r.Records {
		out = append(out, rec.Errors...)
	}
	out = append(out, r.Orphans...)
	return out
}
