package availability

import (
	"strings"
)

// StaffDirectory lists the staff whose calendars feed the staff-availability score.
type StaffDirectory interface {
	StaffEmails(location string) []string
}

// StaticStaffDirectory maps a location to staff emails.
type StaticStaffDirectory map[string][]string

// StaffEmails returns the staff for a location.
func (d StaticStaffDirectory) StaffEmails(location string) []string {
	return d[location]
}

// ParseStaffDirectory reads "main=a@x.com,b@x.com;annex=c@x.com".
// Malformed segments are ignored.
func ParseStaffDirectory(raw string) StaticStaffDirectory {
	dir := make(StaticStaffDirectory)
	for _, segment := range strings.Split(raw, ";") {
		location, emails, ok := strings.Cut(segment, "=")
		location = strings.TrimSpace(location)
		if !ok || location == "" {
			continue
		}
		for _, email := range strings.Split(emails, ",") {
			if email = strings.TrimSpace(email); email != "" {
				dir[location] = append(dir[location], email)
			}
		}
	}
	return dir
}
