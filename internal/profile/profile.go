// Package profile loads the candidate profile: the resume text used for
// scoring and tailoring, and the contact details the browser agent fills
// into application forms.
package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// UserInfo holds the form-fill details for a submission.
type UserInfo struct {
	Name           string `json:"name"`
	Email          string `json:"email"`
	Phone          string `json:"phone,omitempty"`
	Location       string `json:"location,omitempty"`
	CurrentCompany string `json:"current_company,omitempty"`
	LinkedIn       string `json:"linkedin,omitempty"`
	GitHub         string `json:"github,omitempty"`
	ResumePDF      string `json:"resume_pdf,omitempty"`
}

// Profile is the full candidate profile.
type Profile struct {
	Resume   string
	UserInfo *UserInfo
}

// Load reads the resume text and user info files.
func Load(resumeFile, userInfoFile string) (*Profile, error) {
	data, err := os.ReadFile(resumeFile)
	if err != nil {
		return nil, fmt.Errorf("reading resume file %q: %w", resumeFile, err)
	}
	resume := strings.TrimSpace(string(data))
	if resume == "" {
		return nil, fmt.Errorf("resume file %q is empty", resumeFile)
	}

	p := &Profile{Resume: resume}

	if userInfoFile != "" {
		file, err := os.Open(userInfoFile)
		if err != nil {
			return nil, fmt.Errorf("opening user info file %q: %w", userInfoFile, err)
		}
		defer file.Close()

		var info UserInfo
		if err := json.NewDecoder(file).Decode(&info); err != nil {
			return nil, fmt.Errorf("decoding user info file %q: %w", userInfoFile, err)
		}
		p.UserInfo = &info
	}

	return p, nil
}

// ValidateForSubmission checks the fields every application form needs.
func (u *UserInfo) ValidateForSubmission() error {
	if u == nil {
		return fmt.Errorf("user info is required for submission")
	}
	if strings.TrimSpace(u.Name) == "" {
		return fmt.Errorf("user info: name is required")
	}
	if strings.TrimSpace(u.Email) == "" {
		return fmt.Errorf("user info: email is required")
	}
	return nil
}
