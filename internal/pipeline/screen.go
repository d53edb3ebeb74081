package pipeline

import (
	"fmt"
	"strings"

	"github.com/jobhound/jobhound/internal/posting"
)

// screenReason reports why a seed is dropped at intake, or "" to keep it.
// Red-flag terms match case-insensitively anywhere in the combined
// title/company/description text; excluded companies match the company name
// exactly.
func screenReason(seed posting.Seed, redFlags, excludeCompanies []string) string {
	combined := strings.ToLower(seed.Title + " " + seed.Company + " " + seed.Description)
	for _, flag := range redFlags {
		if flag == "" {
			continue
		}
		if strings.Contains(combined, strings.ToLower(flag)) {
			return fmt.Sprintf("red flag term %q", flag)
		}
	}

	company := strings.ToLower(strings.TrimSpace(seed.Company))
	for _, excluded := range excludeCompanies {
		if excluded == "" {
			continue
		}
		if company == strings.ToLower(strings.TrimSpace(excluded)) {
			return fmt.Sprintf("excluded company %q", excluded)
		}
	}

	return ""
}
