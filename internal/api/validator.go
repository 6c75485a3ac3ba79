package api

import (
	"strings"
	"unicode"

	"mediagate/internal/errs"
)

const minTokenLength = 10

// uploadForm carries the non-file multipart fields through the pipeline.
type uploadForm struct {
	AccessToken       string
	AccountID         string
	ServiceIdentifier string
	ServiceSecret     string
}

// validateUploadForm checks the shape of every required and optional field,
// collecting all violations rather than stopping at the first.
func validateUploadForm(form uploadForm) []errs.Violation {
	var violations []errs.Violation

	token := strings.TrimSpace(form.AccessToken)
	switch {
	case token == "":
		violations = append(violations, errs.Violation{Field: "whatsapp_access_token", Message: "whatsapp_access_token is required"})
	case len(token) < minTokenLength:
		violations = append(violations, errs.Violation{Field: "whatsapp_access_token", Message: "invalid whatsapp_access_token"})
	}

	accountID := strings.TrimSpace(form.AccountID)
	switch {
	case accountID == "":
		violations = append(violations, errs.Violation{Field: "whatsapp_business_account_id", Message: "whatsapp_business_account_id is required"})
	case len(accountID) < minTokenLength:
		violations = append(violations, errs.Violation{Field: "whatsapp_business_account_id", Message: "invalid whatsapp_business_account_id"})
	}

	if identifier := strings.TrimSpace(form.ServiceIdentifier); identifier != "" && !isNumeric(identifier) {
		violations = append(violations, errs.Violation{Field: "service_identifier", Message: "invalid service_identifier"})
	}

	if secret := form.ServiceSecret; secret != "" && len(secret) != 10 {
		violations = append(violations, errs.Violation{Field: "service_secret", Message: "invalid service_secret"})
	}

	return violations
}

func isNumeric(value string) bool {
	for _, r := range value {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return len(value) > 0
}
