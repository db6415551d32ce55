package provider

import (
	"strings"

	"jobboard/ingestion-service/internal/model"
)

// ContainsRedFlag returns true if any red flag term appears (case-insensitive)
// anywhere in the combined title + employer + description text.
func ContainsRedFlag(title, employer, description string, redFlags []string) bool {
	if len(redFlags) == 0 {
		return false
	}
	combined := strings.ToLower(title + " " + employer + " " + description)
	for _, flag := range redFlags {
		if flag == "" {
			continue
		}
		if strings.Contains(combined, strings.ToLower(flag)) {
			return true
		}
	}
	return false
}

// dropReason explains why normalize rejected a record; empty means kept.
type dropReason string

const (
	dropMissingID    dropReason = "missing_external_id"
	dropMissingTitle dropReason = "missing_title"
	dropRedFlag      dropReason = "red_flag"
)

// normalize trims l and decides whether it is usable. Malformed upstream
// records are expected and never fail the batch.
func normalize(l model.ExternalListing, source string, redFlags []string) (model.ExternalListing, dropReason) {
	l.ExternalID = strings.TrimSpace(l.ExternalID)
	l.Title = strings.TrimSpace(l.Title)
	l.EmployerName = strings.TrimSpace(l.EmployerName)
	l.Location = strings.TrimSpace(l.Location)

	if l.ExternalID == "" {
		return l, dropMissingID
	}
	if l.Title == "" {
		return l, dropMissingTitle
	}
	if ContainsRedFlag(l.Title, l.EmployerName, l.Description, redFlags) {
		return l, dropRedFlag
	}
	if l.Source == "" {
		l.Source = source
	}
	if l.EmploymentTypes == nil {
		l.EmploymentTypes = []string{}
	}
	return l, ""
}
