package pipeline

// ResolveJobDescription applies the workflow's document-resolution priority
// from spec §4.4: prefer inline content, then a fetchable URI, then a
// taxonomy summary attached to the input. Returns ok=false when none apply,
// in which case the workflow must abort with validation_error.
func ResolveJobDescription(input RoleOnboardingInput, taxonomySummary string) (content string, uri string, ok bool) {
	for _, d := range input.Documents {
		if d.Type != DocumentJobDescription {
			continue
		}
		if d.Content != "" {
			return d.Content, "", true
		}
	}
	for _, d := range input.Documents {
		if d.Type != DocumentJobDescription {
			continue
		}
		if d.URI != "" {
			return "", d.URI, true
		}
	}
	if taxonomySummary != "" {
		return taxonomySummary, "", true
	}
	return "", "", false
}

// HasResolvableJobDescription reports whether input already carries a usable
// job-description document, without consulting a taxonomy fallback. Used by
// the pre-execution validation gate (spec §4.4) before any auto-resolution
// happens against the HTTP document-listing service.
func HasResolvableJobDescription(input RoleOnboardingInput) bool {
	for _, d := range input.Documents {
		if d.Type == DocumentJobDescription && d.HasUsablePayload() {
			return true
		}
	}
	return false
}

// ValidateInput runs the workflow's synchronous pre-execution validation
// (spec §4.4): non-empty company_id, non-empty role_name, and a resolvable
// job description (either already present or supplied via taxonomySummary,
// e.g. after HTTP-layer auto-resolution populated the documents slice).
func ValidateInput(input RoleOnboardingInput, taxonomySummary string) *PipelineError {
	if input.CompanyID == "" {
		return NewValidationError("company_id is required")
	}
	if input.RoleName == "" {
		return NewValidationError("role_name is required")
	}
	if _, _, ok := ResolveJobDescription(input, taxonomySummary); !ok {
		return NewValidationError("no resolvable job description for role %q", input.RoleName)
	}
	return nil
}
