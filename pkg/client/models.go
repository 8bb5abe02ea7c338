package client

import "time"

// TaxpayerStatus is the registration status of a taxpayer.
type TaxpayerStatus string

const (
	TaxpayerActive    TaxpayerStatus = "active"
	TaxpayerInactive  TaxpayerStatus = "inactive"
	TaxpayerSuspended TaxpayerStatus = "suspended"
	TaxpayerDormant   TaxpayerStatus = "dormant"
)

// ObligationStatus is the compliance status of a tax obligation.
type ObligationStatus string

const (
	ObligationCompliant    ObligationStatus = "compliant"
	ObligationNonCompliant ObligationStatus = "non_compliant"
	ObligationPending      ObligationStatus = "pending"
	ObligationOverdue      ObligationStatus = "overdue"
)

// PINVerification is the result of a PIN lookup. Dates are YYYY-MM-DD as
// returned by the API.
type PINVerification struct {
	PINNumber        string         `json:"pin_number"`
	IsValid          bool           `json:"is_valid"`
	TaxpayerName     string         `json:"taxpayer_name,omitempty"`
	Status           TaxpayerStatus `json:"status,omitempty"`
	RegistrationDate string         `json:"registration_date,omitempty"`
	BusinessType     string         `json:"business_type,omitempty"`
	PostalAddress    string         `json:"postal_address,omitempty"`
	PhysicalAddress  string         `json:"physical_address,omitempty"`
	Email            string         `json:"email,omitempty"`
	PhoneNumber      string         `json:"phone_number,omitempty"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	VerifiedAt       time.Time      `json:"verified_at"`
}

// IsActive reports whether the PIN is valid and the taxpayer active.
func (r *PINVerification) IsActive() bool {
	return r.IsValid && r.Status == TaxpayerActive
}

// TCCVerification is the result of a tax compliance certificate lookup.
type TCCVerification struct {
	TCCNumber       string    `json:"tcc_number"`
	IsValid         bool      `json:"is_valid"`
	PINNumber       string    `json:"pin_number,omitempty"`
	TaxpayerName    string    `json:"taxpayer_name,omitempty"`
	IssueDate       string    `json:"issue_date,omitempty"`
	ExpiryDate      string    `json:"expiry_date,omitempty"`
	CertificateType string    `json:"certificate_type,omitempty"`
	Status          string    `json:"status,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	VerifiedAt      time.Time `json:"verified_at"`
}

// IsExpired reports whether the certificate expired before now. A missing
// or unparseable expiry date counts as not expired.
func (r *TCCVerification) IsExpired(now time.Time) bool {
	if r.ExpiryDate == "" {
		return false
	}
	expiry, err := time.Parse(time.DateOnly, r.ExpiryDate)
	if err != nil {
		return false
	}
	return now.After(expiry.Add(24 * time.Hour))
}

// EslipValidation is the result of an electronic payment slip check.
type EslipValidation struct {
	SlipNumber       string    `json:"slip_number"`
	IsValid          bool      `json:"is_valid"`
	PINNumber        string    `json:"pin_number,omitempty"`
	Amount           float64   `json:"amount,omitempty"`
	PaymentDate      string    `json:"payment_date,omitempty"`
	PaymentReference string    `json:"payment_reference,omitempty"`
	ObligationType   string    `json:"obligation_type,omitempty"`
	TaxPeriod        string    `json:"tax_period,omitempty"`
	Status           string    `json:"status,omitempty"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	ValidatedAt      time.Time `json:"validated_at"`
}

// NilReturn is the result of filing a NIL return.
type NilReturn struct {
	PINNumber              string `json:"pin_number"`
	Period                 string `json:"period"`
	ObligationID           string `json:"obligation_id"`
	SubmissionReference    string `json:"submission_reference,omitempty"`
	SubmissionDate         string `json:"submission_date,omitempty"`
	IsSuccessful           bool   `json:"is_successful"`
	AcknowledgementReceipt string `json:"acknowledgement_receipt,omitempty"`
	ErrorMessage           string `json:"error_message,omitempty"`
}

// TaxObligation is one obligation registered against a taxpayer.
type TaxObligation struct {
	ObligationID   string           `json:"obligation_id"`
	ObligationType string           `json:"obligation_type"`
	Description    string           `json:"description"`
	Frequency      string           `json:"frequency"`
	Status         ObligationStatus `json:"status"`
	DueDate        string           `json:"due_date,omitempty"`
	LastFiled      string           `json:"last_filed,omitempty"`
}

// TaxpayerDetails is the full taxpayer record.
type TaxpayerDetails struct {
	PINNumber        string           `json:"pin_number"`
	TaxpayerName     string           `json:"taxpayer_name"`
	BusinessName     string           `json:"business_name,omitempty"`
	RegistrationDate string           `json:"registration_date,omitempty"`
	Status           TaxpayerStatus   `json:"status"`
	BusinessType     string           `json:"business_type,omitempty"`
	PostalAddress    string           `json:"postal_address,omitempty"`
	PhysicalAddress  string           `json:"physical_address,omitempty"`
	Email            string           `json:"email,omitempty"`
	PhoneNumber      string           `json:"phone_number,omitempty"`
	TaxObligations   []TaxObligation  `json:"tax_obligations"`
	ComplianceStatus ObligationStatus `json:"compliance_status,omitempty"`
	TCCStatus        string           `json:"tcc_status,omitempty"`
	LastUpdated      time.Time        `json:"last_updated"`
}

// DisplayName prefers the business name over the taxpayer name.
func (d *TaxpayerDetails) DisplayName() string {
	if d.BusinessName != "" {
		return d.BusinessName
	}
	return d.TaxpayerName
}

// ObligationsByStatus returns the obligations with the given status.
func (d *TaxpayerDetails) ObligationsByStatus(status ObligationStatus) []TaxObligation {
	var out []TaxObligation
	for _, o := range d.TaxObligations {
		if o.Status == status {
			out = append(out, o)
		}
	}
	return out
}

// wire payloads as returned by the API; "valid" and "success" differ from
// the result field names.

type pinPayload struct {
	Valid            bool           `json:"valid"`
	TaxpayerName     string         `json:"taxpayer_name"`
	Status           TaxpayerStatus `json:"status"`
	RegistrationDate string         `json:"registration_date"`
	BusinessType     string         `json:"business_type"`
	PostalAddress    string         `json:"postal_address"`
	PhysicalAddress  string         `json:"physical_address"`
	Email            string         `json:"email"`
	PhoneNumber      string         `json:"phone_number"`
}

type tccPayload struct {
	Valid           bool   `json:"valid"`
	PINNumber       string `json:"pin_number"`
	TaxpayerName    string `json:"taxpayer_name"`
	IssueDate       string `json:"issue_date"`
	ExpiryDate      string `json:"expiry_date"`
	CertificateType string `json:"certificate_type"`
	Status          string `json:"status"`
}

type eslipPayload struct {
	Valid            bool    `json:"valid"`
	PINNumber        string  `json:"pin_number"`
	Amount           float64 `json:"amount"`
	PaymentDate      string  `json:"payment_date"`
	PaymentReference string  `json:"payment_reference"`
	ObligationType   string  `json:"obligation_type"`
	TaxPeriod        string  `json:"tax_period"`
	Status           string  `json:"status"`
}

type nilReturnPayload struct {
	Success                bool   `json:"success"`
	SubmissionReference    string `json:"submission_reference"`
	SubmissionDate         string `json:"submission_date"`
	AcknowledgementReceipt string `json:"acknowledgement_receipt"`
}
