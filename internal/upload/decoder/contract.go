package decoder

// The workbook layout is a versioned contract with the template exporter.
// Sheet names and header rows must match exactly; anything else is rejected
// before a single row is interpreted.

const (
	SheetDrivers    = "Drivers"
	SheetAddresses  = "Addresses"
	SheetDocuments  = "Documents"
	SheetEmployment = "Employment History"
	SheetIncidents  = "Incidents"
)

const (
	ColRefID = "Ref ID"

	ColFirstName           = "First Name"
	ColLastName            = "Last Name"
	ColPhone               = "Phone"
	ColEmail               = "Email"
	ColDateOfBirth         = "Date of Birth"
	ColVehicleRegistration = "Vehicle Registration"

	ColAddressType = "Address Type"
	ColLine1       = "Line 1"
	ColLine2       = "Line 2"
	ColCity        = "City"
	ColState       = "State"
	ColPostalCode  = "Postal Code"
	ColIsPrimary   = "Is Primary"

	ColDocumentType   = "Document Type"
	ColDocumentNumber = "Document Number"
	ColIssuedOn       = "Issued On"
	ColExpiresOn      = "Expires On"

	ColEmployer  = "Employer"
	ColRole      = "Role"
	ColStartDate = "Start Date"
	ColEndDate   = "End Date"

	ColIncidentDate = "Date"
	ColDescription  = "Description"
	ColSeverity     = "Severity"
)

type sheetContract struct {
	name     string
	required bool
	headers  []string
}

var contracts = []sheetContract{
	{SheetDrivers, true, []string{
		ColRefID, ColFirstName, ColLastName, ColPhone, ColEmail, ColDateOfBirth, ColVehicleRegistration,
	}},
	{SheetAddresses, true, []string{
		ColRefID, ColAddressType, ColLine1, ColLine2, ColCity, ColState, ColPostalCode, ColIsPrimary,
	}},
	{SheetDocuments, true, []string{
		ColRefID, ColDocumentType, ColDocumentNumber, ColIssuedOn, ColExpiresOn,
	}},
	{SheetEmployment, false, []string{
		ColRefID, ColEmployer, ColRole, ColStartDate, ColEndDate,
	}},
	{SheetIncidents, false, []string{
		ColRefID, ColIncidentDate, ColDescription, ColSeverity,
	}},
}

// Headers returns the expected header row for a sheet, or nil for an unknown
// sheet name. The template exporter shares this contract.
func Headers(sheet string) []string {
	for _, c := range contracts {
		if c.name == sheet {
			return append([]string(nil), c.headers...)
		}
	}
	return nil
}
