// Package validate checks and normalises KRA identifiers and taxpayer
// fields before any request is made. Every failure is an
// *apierror.ValidationError.
package validate

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BerjisTech/kra-connect-go/pkg/apierror"
)

var (
	pinPattern    = regexp.MustCompile(`^P\d{9}[A-Z]$`)
	tccPattern    = regexp.MustCompile(`^TCC\d+$`)
	periodPattern = regexp.MustCompile(`^\d{6}$`)
	emailPattern  = regexp.MustCompile(`^[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}$`)
	phonePattern  = regexp.MustCompile(`^\+254[17]\d{8}$`)

	phoneSeparators = strings.NewReplacer(" ", "", "\t", "", "-", "")
)

const (
	minObligationIDLength = 3
	minEslipLength        = 5
	minPeriodYear         = 2000
	maxPeriodYear         = 2100
)

func invalid(field, value, message string) error {
	return &apierror.ValidationError{Field: field, Value: value, Message: message}
}

// PIN returns the PIN upper-cased and trimmed. A KRA PIN is "P", nine
// digits and a letter, e.g. P051234567A.
func PIN(pin string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(pin))
	if normalized == "" {
		return "", invalid("pin", "", "PIN number is required")
	}
	if !pinPattern.MatchString(normalized) {
		return "", invalid("pin", normalized, "must be P followed by 9 digits and a letter (e.g. P051234567A)")
	}
	return normalized, nil
}

// TCC returns the tax compliance certificate number upper-cased and trimmed.
func TCC(tcc string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(tcc))
	if normalized == "" {
		return "", invalid("tcc", "", "TCC number is required")
	}
	if !tccPattern.MatchString(normalized) {
		return "", invalid("tcc", normalized, "must be TCC followed by digits (e.g. TCC123456)")
	}
	return normalized, nil
}

// Period checks a YYYYMM tax period with a year in 2000-2100.
func Period(period string) (string, error) {
	period = strings.TrimSpace(period)
	if period == "" {
		return "", invalid("period", "", "period is required")
	}
	if !periodPattern.MatchString(period) {
		return "", invalid("period", period, "must be in YYYYMM format (e.g. 202401 for January 2024)")
	}

	year, _ := strconv.Atoi(period[:4])
	month, _ := strconv.Atoi(period[4:])
	if year < minPeriodYear || year > maxPeriodYear {
		return "", invalid("period", period, "year must be between 2000 and 2100")
	}
	if month < 1 || month > 12 {
		return "", invalid("period", period, "month must be between 01 and 12")
	}
	return period, nil
}

// ObligationID checks a tax obligation identifier.
func ObligationID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", invalid("obligation_id", "", "obligation ID is required")
	}
	if len(id) < minObligationIDLength {
		return "", invalid("obligation_id", id, "must be at least 3 characters")
	}
	return id, nil
}

// EslipNumber checks an electronic payment slip number.
func EslipNumber(slip string) (string, error) {
	slip = strings.TrimSpace(slip)
	if slip == "" {
		return "", invalid("slip_number", "", "e-slip number is required")
	}
	if len(slip) < minEslipLength {
		return "", invalid("slip_number", slip, "must be at least 5 characters")
	}
	return slip, nil
}

// Amount rejects negative monetary amounts.
func Amount(field string, amount float64) (float64, error) {
	if amount < 0 {
		return 0, invalid(field, strconv.FormatFloat(amount, 'f', -1, 64), "must be positive")
	}
	return amount, nil
}

// Date checks an ISO 8601 calendar date (YYYY-MM-DD).
func Date(field, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", invalid(field, "", field+" is required")
	}
	if _, err := time.Parse(time.DateOnly, value); err != nil {
		return "", invalid(field, value, "must be in YYYY-MM-DD format (e.g. 2024-01-15)")
	}
	return value, nil
}

// Email returns the address lower-cased and trimmed.
func Email(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", invalid("email", "", "email is required")
	}
	if !emailPattern.MatchString(email) {
		return "", invalid("email", email, "invalid email format")
	}
	return email, nil
}

// Phone normalises a Kenyan number to +254XXXXXXXXX. Local (07..., 01...)
// and unprefixed international (254...) forms are accepted.
func Phone(phone string) (string, error) {
	phone = phoneSeparators.Replace(strings.TrimSpace(phone))
	if phone == "" {
		return "", invalid("phone_number", "", "phone number is required")
	}

	switch {
	case strings.HasPrefix(phone, "0"):
		phone = "+254" + phone[1:]
	case strings.HasPrefix(phone, "254"):
		phone = "+" + phone
	case !strings.HasPrefix(phone, "+254"):
		return "", invalid("phone_number", phone, "must be in Kenyan format (+254XXXXXXXXX or 07XXXXXXXX)")
	}

	if !phonePattern.MatchString(phone) {
		return "", invalid("phone_number", phone, "must be +254 followed by 9 digits starting with 7 or 1")
	}
	return phone, nil
}

// MaskPIN hides all but the first three and last two characters of a PIN
// for logging.
func MaskPIN(pin string) string {
	if len(pin) < 5 {
		return "***"
	}
	return pin[:3] + strings.Repeat("*", len(pin)-5) + pin[len(pin)-2:]
}

// Mask hides all but the last visible characters of s.
func Mask(s string, visible int) string {
	if len(s) <= visible {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-visible) + s[len(s)-visible:]
}
