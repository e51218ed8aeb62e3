package models

import "strings"

// Recipient is a dealer record as far as rendering is concerned.
type Recipient struct {
	ID            string `json:"id"`
	DisplayName   string `json:"display_name"`
	Phone         string `json:"phone"`
	Website       string `json:"website,omitempty"`
	LogoURL       string `json:"logo_url"`
	ProgramStatus string `json:"program_status"`
}

// MissingFields lists the template-required fields that are blank.
func (r Recipient) MissingFields() []string {
	var missing []string
	if strings.TrimSpace(r.DisplayName) == "" {
		missing = append(missing, "display_name")
	}
	if strings.TrimSpace(r.Phone) == "" {
		missing = append(missing, "phone")
	}
	if strings.TrimSpace(r.LogoURL) == "" {
		missing = append(missing, "logo_url")
	}
	return missing
}

// RecipientFilter selects the recipients of a new batch.
type RecipientFilter struct {
	// ProgramStatus defaults to FULL.
	ProgramStatus string   `json:"program_status,omitempty"`
	RecipientIDs  []string `json:"recipient_ids,omitempty"`
	SkipIDs       []string `json:"skip_ids,omitempty"`
}

// DefaultProgramStatus is the program tier that receives videos.
const DefaultProgramStatus = "FULL"
