package orders

import (
	"net/mail"
	"strings"
)

// ValidEmail accepts a bare address such as ada@example.com; display names
// are rejected.
func ValidEmail(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > 254 {
		return false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return false
	}
	at := strings.LastIndexByte(s, '@')
	return at > 0 && strings.Contains(s[at+1:], ".")
}

// Validate returns a field -> message map of what is missing or malformed.
func (c CustomerData) Validate() map[string]string {
	fields := map[string]string{}
	required := []struct{ key, value, label string }{
		{"first_name", c.FirstName, "First name"},
		{"last_name", c.LastName, "Last name"},
		{"address1", c.Address1, "Address"},
		{"city", c.City, "City"},
		{"state", c.State, "State"},
		{"postal_code", c.PostalCode, "Postal code"},
		{"country", c.Country, "Country"},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			fields[r.key] = r.label + " is required"
		}
	}
	switch {
	case strings.TrimSpace(c.Email) == "":
		fields["email"] = "Email is required"
	case !ValidEmail(c.Email):
		fields["email"] = "Please enter a valid email address"
	}
	return fields
}

// Normalize trims every field.
func (c CustomerData) Normalize() CustomerData {
	trim := strings.TrimSpace
	return CustomerData{
		Email:      strings.ToLower(trim(c.Email)),
		FirstName:  trim(c.FirstName),
		LastName:   trim(c.LastName),
		Phone:      trim(c.Phone),
		Address1:   trim(c.Address1),
		Address2:   trim(c.Address2),
		City:       trim(c.City),
		State:      trim(c.State),
		PostalCode: trim(c.PostalCode),
		Country:    trim(c.Country),
		Notes:      trim(c.Notes),
	}
}
