package validate

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fleetdesk/fleetdesk/internal/clock"
	"github.com/fleetdesk/fleetdesk/internal/config"
	driverdomain "github.com/fleetdesk/fleetdesk/internal/driver/domain"
	masterdomain "github.com/fleetdesk/fleetdesk/internal/masterdata/domain"
	"github.com/fleetdesk/fleetdesk/internal/upload/decoder"
)

type EngineParam struct {
	fx.In

	Log        *zap.Logger
	MasterData masterdomain.Repository
	Drivers    driverdomain.Repository
	Rules      *config.RulesConfigHolder
	Clock      clock.Clock
}

// Engine applies field-level, cross-sheet, and duplicate rules. Rules are pure
// functions of the record plus read-only reference data, so records can be
// validated independently.
type Engine struct {
	log        *zap.Logger
	masterData masterdomain.Repository
	drivers    driverdomain.Repository
	rules      *config.RulesConfigHolder
	clock      clock.Clock
}

func NewEngine(p EngineParam) *Engine {
	return &Engine{
		log:        p.Log.Named("upload.validate"),
		masterData: p.MasterData,
		drivers:    p.Drivers,
		rules:      p.Rules,
		clock:      p.Clock,
	}
}

type documentType struct {
	id      snowflake.ID
	pattern *regexp.Regexp
}

type refData struct {
	documentTypes map[string]documentType
	addressTypes  map[string]snowflake.ID
}

// Validate classifies every record in the decoded workbook. A failure here is
// an infrastructure error (reference data unavailable), not a row problem.
// batchID scopes the persisted-duplicate lookups: rows this batch committed on
// an earlier attempt must not read back as duplicates of themselves.
func (e *Engine) Validate(ctx context.Context, batchID string, sheets decoder.Sheets) (Result, error) {
	ref, err := e.loadRefData(ctx)
	if err != nil {
		return Result{}, err
	}

	result := e.groupRecords(sheets)

	for _, rec := range result.Records {
		e.applyFieldRules(rec, ref)
	}
	if err := e.applyDuplicateRules(ctx, batchID, result.Records); err != nil {
		return Result{}, err
	}

	valid := 0
	for _, rec := range result.Records {
		if rec.Status == StatusValid {
			valid++
		}
	}
	e.log.Info("batch validated",
		zap.Int("records", len(result.Records)),
		zap.Int("valid", valid),
		zap.Int("orphan_rows", len(result.Orphans)),
	)
	return result, nil
}

func (e *Engine) loadRefData(ctx context.Context) (refData, error) {
	docTypes, err := e.masterData.ListDocumentTypes(ctx)
	if err != nil {
		return refData{}, fmt.Errorf("load document types: %w", err)
	}
	addrTypes, err := e.masterData.ListAddressTypes(ctx)
	if err != nil {
		return refData{}, fmt.Errorf("load address types: %w", err)
	}

	ref := refData{
		documentTypes: make(map[string]documentType, len(docTypes)),
		addressTypes:  make(map[string]snowflake.ID, len(addrTypes)),
	}
	for _, dt := range docTypes {
		pattern, err := regexp.Compile(dt.NumberPattern)
		if err != nil {
			return refData{}, fmt.Errorf("document type %s has invalid pattern: %w", dt.Code, err)
		}
		ref.documentTypes[normalizeKey(dt.Code)] = documentType{id: dt.ID, pattern: pattern}
	}
	for _, at := range addrTypes {
		ref.addressTypes[normalizeKey(at.Code)] = at.ID
	}
	return ref, nil
}

// groupRecords builds one RowRecord per distinct ref id on the Drivers sheet
// and attaches subordinate rows. Subordinate rows with no matching driver row
// become orphan errors, never silently dropped or attached elsewhere.
func (e *Engine) groupRecords(sheets decoder.Sheets) Result {
	var result Result
	byRef := make(map[string]*RowRecord)

	for _, row := range sheets[decoder.SheetDrivers] {
		refID := row.Get(decoder.ColRefID)
		rec := &RowRecord{
			RefID:  refID,
			Row:    row.Number,
			Status: StatusValid,

			FirstName:           row.Get(decoder.ColFirstName),
			LastName:            row.Get(decoder.ColLastName),
			Phone:               row.Get(decoder.ColPhone),
			Email:               row.Get(decoder.ColEmail),
			VehicleRegistration: strings.ToUpper(row.Get(decoder.ColVehicleRegistration)),
		}

		if raw := row.Get(decoder.ColDateOfBirth); raw != "" {
			dob, err := parseDate(raw)
			if err != nil {
				rec.AddError(FieldError{
					Sheet: decoder.SheetDrivers, Row: row.Number,
					Field: decoder.ColDateOfBirth, Code: CodeInvalidFormat,
					Message: err.Error(),
				})
			} else {
				rec.DateOfBirth = dob
			}
		}

		if refID == "" {
			rec.AddError(FieldError{
				Sheet: decoder.SheetDrivers, Row: row.Number,
				Field: decoder.ColRefID, Code: CodeMissingField,
				Message: "ref id is required",
			})
			result.Records = append(result.Records, rec)
			continue
		}

		if earlier, seen := byRef[refID]; seen {
			// The ref id must appear exactly once; both rows are rejected so
			// neither wins silently.
			earlier.AddError(FieldError{
				Sheet: decoder.SheetDrivers, Row: earlier.Row, RefID: refID,
				Field: decoder.ColRefID, Code: CodeDuplicateRef,
				Message: fmt.Sprintf("ref id %s appears more than once on the Drivers sheet", refID),
			})
			rec.AddError(FieldError{
				Sheet: decoder.SheetDrivers, Row: row.Number, RefID: refID,
				Field: decoder.ColRefID, Code: CodeDuplicateRef,
				Message: fmt.Sprintf("ref id %s appears more than once on the Drivers sheet", refID),
			})
			result.Records = append(result.Records, rec)
			continue
		}

		byRef[refID] = rec
		result.Records = append(result.Records, rec)
	}

	attach := func(sheet string, handle func(rec *RowRecord, row decoder.RawRow)) {
		for _, row := range sheets[sheet] {
			refID := row.Get(decoder.ColRefID)
			rec, ok := byRef[refID]
			if !ok {
				result.Orphans = append(result.Orphans, FieldError{
					Sheet: sheet, Row: row.Number, RefID: refID,
					Field: decoder.ColRefID, Code: CodeOrphanRow,
					Message: fmt.Sprintf("no Drivers row with ref id %q", refID),
				})
				continue
			}
			handle(rec, row)
		}
	}

	attach(decoder.SheetAddresses, func(rec *RowRecord, row decoder.RawRow) {
		rec.Addresses = append(rec.Addresses, ParsedAddress{
			Row:        row.Number,
			Line1:      row.Get(decoder.ColLine1),
			Line2:      row.Get(decoder.ColLine2),
			City:       row.Get(decoder.ColCity),
			State:      row.Get(decoder.ColState),
			PostalCode: row.Get(decoder.ColPostalCode),
			rawType:    row.Get(decoder.ColAddressType),
			rawPrimary: row.Get(decoder.ColIsPrimary),
		})
	})

	attach(decoder.SheetDocuments, func(rec *RowRecord, row decoder.RawRow) {
		rec.Documents = append(rec.Documents, ParsedDocument{
			Row:        row.Number,
			Number:     row.Get(decoder.ColDocumentNumber),
			rawType:    row.Get(decoder.ColDocumentType),
			rawIssued:  row.Get(decoder.ColIssuedOn),
			rawExpires: row.Get(decoder.ColExpiresOn),
		})
	})

	attach(decoder.SheetEmployment, func(rec *RowRecord, row decoder.RawRow) {
		rec.Employment = append(rec.Employment, ParsedEmployment{
			Row:      row.Number,
			Employer: row.Get(decoder.ColEmployer),
			Role:     row.Get(decoder.ColRole),
			rawStart: row.Get(decoder.ColStartDate),
			rawEnd:   row.Get(decoder.ColEndDate),
		})
	})

	attach(decoder.SheetIncidents, func(rec *RowRecord, row decoder.RawRow) {
		rec.Incidents = append(rec.Incidents, ParsedIncident{
			Row:         row.Number,
			Description: row.Get(decoder.ColDescription),
			Severity:    row.Get(decoder.ColSeverity),
			rawDate:     row.Get(decoder.ColIncidentDate),
		})
	})

	return result
}

// applyFieldRules evaluates every rule and collects every error; there is no
// early exit, so the error report is maximally informative.
func (e *Engine) applyFieldRules(rec *RowRecord, ref refData) {
	rules := e.rules.Get()
	now := e.clock.Now()

	e.driverFieldRules(rec, rules, now)
	e.addressRules(rec, ref)
	e.documentRules(rec, ref)
	e.historyRules(rec)
}

func (e *Engine) driverFieldRules(rec *RowRecord, rules config.RulesConfig, now time.Time) {
	required := []struct {
		field string
		value string
	}{
		{decoder.ColFirstName, rec.FirstName},
		{decoder.ColLastName, rec.LastName},
		{decoder.ColPhone, rec.Phone},
		{decoder.ColEmail, rec.Email},
		{decoder.ColVehicleRegistration, rec.VehicleRegistration},
	}
	for _, f := range required {
		if f.value == "" {
			rec.AddError(FieldError{
				Sheet: decoder.SheetDrivers, Row: rec.Row,
				Field: f.field, Code: CodeMissingField,
				Message: fmt.Sprintf("%s is required", f.field),
			})
		}
	}

	if rec.Phone != "" && !validPhone(rec.Phone) {
		rec.AddError(FieldError{
			Sheet: decoder.SheetDrivers, Row: rec.Row,
			Field: decoder.ColPhone, Code: CodeInvalidFormat,
			Message: "phone must be a 10-digit mobile number",
		})
	}
	if rec.Email != "" && !validEmail(rec.Email) {
		rec.AddError(FieldError{
			Sheet: decoder.SheetDrivers, Row: rec.Row,
			Field: decoder.ColEmail, Code: CodeInvalidFormat,
			Message: "email address is not well formed",
		})
	}
	if rec.VehicleRegistration != "" && !validVehicleRegistration(rec.VehicleRegistration) {
		rec.AddError(FieldError{
			Sheet: decoder.SheetDrivers, Row: rec.Row,
			Field: decoder.ColVehicleRegistration, Code: CodeInvalidFormat,
			Message: "vehicle registration does not match the expected format",
		})
	}

	switch {
	case rec.DateOfBirth.IsZero():
		if !hasError(rec.Errors, decoder.ColDateOfBirth) {
			rec.AddError(FieldError{
				Sheet: decoder.SheetDrivers, Row: rec.Row,
				Field: decoder.ColDateOfBirth, Code: CodeMissingField,
				Message: "date of birth is required",
			})
		}
	case rec.DateOfBirth.After(now):
		rec.AddError(FieldError{
			Sheet: decoder.SheetDrivers, Row: rec.Row,
			Field: decoder.ColDateOfBirth, Code: CodeFutureDate,
			Message: "date of birth is in the future",
		})
	case ageAt(rec.DateOfBirth, now) < rules.MinDriverAgeYears:
		rec.AddError(FieldError{
			Sheet: decoder.SheetDrivers, Row: rec.Row,
			Field: decoder.ColDateOfBirth, Code: CodeUnderage,
			Message: fmt.Sprintf("driver must be at least %d years old", rules.MinDriverAgeYears),
		})
	}
}

func (e *Engine) addressRules(rec *RowRecord, ref refData) {
	primaries := 0
	for i := range rec.Addresses {
		addr := &rec.Addresses[i]

		if addr.Line1 == "" {
			rec.AddError(FieldError{
				Sheet: decoder.SheetAddresses, Row: addr.Row,
				Field: decoder.ColLine1, Code: CodeMissingField,
				Message: "address line 1 is required",
			})
		}
		if addr.PostalCode != "" && !validPostalCode(addr.PostalCode) {
			rec.AddError(FieldError{
				Sheet: decoder.SheetAddresses, Row: addr.Row,
				Field: decoder.ColPostalCode, Code: CodeInvalidFormat,
				Message: "postal code must be a 6-digit number",
			})
		}

		typeID, ok := ref.addressTypes[normalizeKey(addr.rawType)]
		if !ok {
			rec.AddError(FieldError{
				Sheet: decoder.SheetAddresses, Row: addr.Row,
				Field: decoder.ColAddressType, Code: CodeUnknownType,
				Message: fmt.Sprintf("unknown address type %q", addr.rawType),
			})
		} else {
			addr.AddressTypeID = typeID
		}

		primary, ok := parseBool(addr.rawPrimary)
		if !ok {
			rec.AddError(FieldError{
				Sheet: decoder.SheetAddresses, Row: addr.Row,
				Field: decoder.ColIsPrimary, Code: CodeInvalidFormat,
				Message: fmt.Sprintf("cannot interpret %q as yes/no", addr.rawPrimary),
			})
			continue
		}
		addr.IsPrimary = primary
		if primary {
			primaries++
		}
	}

	// Exactly one primary address; zero or several is an error, never a
	// silent default.
	if primaries != 1 {
		rec.AddError(FieldError{
			Sheet: decoder.SheetAddresses, Row: rec.Row, RefID: rec.RefID,
			Field: decoder.ColIsPrimary, Code: CodePrimaryCardinality,
			Message: fmt.Sprintf("exactly one primary address is required, found %d", primaries),
		})
	}
}

func (e *Engine) documentRules(rec *RowRecord, ref refData) {
	for i := range rec.Documents {
		doc := &rec.Documents[i]

		if doc.Number == "" {
			rec.AddError(FieldError{
				Sheet: decoder.SheetDocuments, Row: doc.Row,
				Field: decoder.ColDocumentNumber, Code: CodeMissingField,
				Message: "document number is required",
			})
		}

		dt, ok := ref.documentTypes[normalizeKey(doc.rawType)]
		if !ok {
			rec.AddError(FieldError{
				Sheet: decoder.SheetDocuments, Row: doc.Row,
				Field: decoder.ColDocumentType, Code: CodeUnknownType,
				Message: fmt.Sprintf("unknown document type %q", doc.rawType),
			})
		} else {
			doc.DocumentTypeID = dt.id
			if doc.Number != "" && !dt.pattern.MatchString(doc.Number) {
				rec.AddError(FieldError{
					Sheet: decoder.SheetDocuments, Row: doc.Row,
					Field: decoder.ColDocumentNumber, Code: CodeInvalidFormat,
					Message: fmt.Sprintf("document number does not match the %s format", doc.rawType),
				})
			}
		}

		doc.IssuedAt = e.optionalDate(rec, decoder.SheetDocuments, doc.Row, decoder.ColIssuedOn, doc.rawIssued)
		doc.ExpiresAt = e.optionalDate(rec, decoder.SheetDocuments, doc.Row, decoder.ColExpiresOn, doc.rawExpires)
	}
}

func (e *Engine) historyRules(rec *RowRecord) {
	for i := range rec.Employment {
		emp := &rec.Employment[i]
		if emp.Employer == "" {
			rec.AddError(FieldError{
				Sheet: decoder.SheetEmployment, Row: emp.Row,
				Field: decoder.ColEmployer, Code: CodeMissingField,
				Message: "employer is required",
			})
		}
		emp.StartedAt = e.optionalDate(rec, decoder.SheetEmployment, emp.Row, decoder.ColStartDate, emp.rawStart)
		emp.EndedAt = e.optionalDate(rec, decoder.SheetEmployment, emp.Row, decoder.ColEndDate, emp.rawEnd)
	}

	for i := range rec.Incidents {
		inc := &rec.Incidents[i]
		if inc.Description == "" {
			rec.AddError(FieldError{
				Sheet: decoder.SheetIncidents, Row: inc.Row,
				Field: decoder.ColDescription, Code: CodeMissingField,
				Message: "incident description is required",
			})
		}
		inc.OccurredAt = e.optionalDate(rec, decoder.SheetIncidents, inc.Row, decoder.ColIncidentDate, inc.rawDate)
	}
}

func (e *Engine) optionalDate(rec *RowRecord, sheet string, row int, field, raw string) *time.Time {
	if raw == "" {
		return nil
	}
	ts, err := parseDate(raw)
	if err != nil {
		rec.AddError(FieldError{
			Sheet: sheet, Row: row,
			Field: field, Code: CodeInvalidFormat,
			Message: err.Error(),
		})
		return nil
	}
	return &ts
}

// applyDuplicateRules checks the intra-batch scope first (cheap, in memory)
// and only consults storage for values the batch has not claimed yet.
func (e *Engine) applyDuplicateRules(ctx context.Context, batchID string, records []*RowRecord) error {
	seenPhones := make(map[string]bool)
	seenEmails := make(map[string]bool)
	seenDocs := make(map[string]bool)

	for _, rec := range records {
		if err := e.checkDuplicate(ctx, batchID, rec, decoder.SheetDrivers, rec.Row, decoder.ColPhone,
			rec.Phone, seenPhones, e.drivers.PhoneExists); err != nil {
			return err
		}
		if err := e.checkDuplicate(ctx, batchID, rec, decoder.SheetDrivers, rec.Row, decoder.ColEmail,
			rec.Email, seenEmails, e.drivers.EmailExists); err != nil {
			return err
		}
		for _, doc := range rec.Documents {
			if err := e.checkDuplicate(ctx, batchID, rec, decoder.SheetDocuments, doc.Row, decoder.ColDocumentNumber,
				doc.Number, seenDocs, e.drivers.DocumentNumberExists); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) checkDuplicate(
	ctx context.Context,
	batchID string,
	rec *RowRecord,
	sheet string,
	row int,
	field, value string,
	seen map[string]bool,
	exists func(context.Context, string, string) (bool, error),
) error {
	if value == "" {
		return nil
	}
	key := normalizeKey(value)

	if seen[key] {
		rec.AddError(FieldError{
			Sheet: sheet, Row: row,
			Field: field, Code: CodeDuplicateInFile,
			Message: fmt.Sprintf("%s %s already used earlier in this file", field, value),
		})
		return nil
	}
	seen[key] = true

	found, err := exists(ctx, value, batchID)
	if err != nil {
		return fmt.Errorf("duplicate lookup for %s: %w", field, err)
	}
	if found {
		rec.AddError(FieldError{
			Sheet: sheet, Row: row,
			Field: field, Code: CodeDuplicateExisting,
			Message: fmt.Sprintf("%s %s already exists", field, value),
		})
	}
	return nil
}

func hasError(errs []FieldError, field string) bool {
	for _, e := range errs {
		if e.Field == field {
			return true
		}
	}
	return false
}
