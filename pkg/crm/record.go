// Package crm defines the typed view of remote CRM records and the
// object operations the platform exposes for them.
package crm

import (
	"encoding/json"
	"strings"
	"time"
)

// Entity kinds this gateway works with.
const (
	KindContacts  = "contacts"
	KindCompanies = "companies"
)

// Well-known remote property names.
const (
	PropFirstName = "firstname"
	PropLastName  = "lastname"
	PropEmail     = "email"
	PropPhone     = "phone"
	PropJobTitle  = "jobtitle"
	PropName      = "name"
	PropDomain    = "domain"
	PropCity      = "city"
	PropState     = "state"
)

// Record is a remote CRM record. The platform owns it; local copies are
// read-only snapshots except through explicit write calls.
type Record struct {
	ID         string     `json:"id"`
	Properties Properties `json:"properties"`
	CreatedAt  time.Time  `json:"createdAt,omitzero"`
	UpdatedAt  time.Time  `json:"updatedAt,omitzero"`
}

// Properties carries the well-known contact and company fields as typed
// members and preserves everything else in Extra, so unknown remote
// properties survive a round trip.
type Properties struct {
	// Contact fields.
	FirstName string
	LastName  string
	Email     string
	Phone     string
	JobTitle  string

	// Company fields.
	Name   string
	Domain string
	City   string
	State  string

	// Extra holds properties without a typed field. Nil when none.
	Extra map[string]string
}

// FullName returns "first last" for contacts, trimmed when one part is
// missing.
func (p Properties) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// UnmarshalJSON decodes a remote property bag. JSON nulls are dropped:
// the platform sends explicit nulls for unset properties.
func (p *Properties) UnmarshalJSON(data []byte) error {
	var raw map[string]*string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	for key, val := range raw {
		if val == nil {
			continue
		}
		switch key {
		case PropFirstName:
			p.FirstName = *val
		case PropLastName:
			p.LastName = *val
		case PropEmail:
			p.Email = *val
		case PropPhone:
			p.Phone = *val
		case PropJobTitle:
			p.JobTitle = *val
		case PropName:
			p.Name = *val
		case PropDomain:
			p.Domain = *val
		case PropCity:
			p.City = *val
		case PropState:
			p.State = *val
		default:
			if p.Extra == nil {
				p.Extra = make(map[string]string)
			}
			p.Extra[key] = *val
		}
	}
	return nil
}

// MarshalJSON encodes the property bag for write calls. Empty well-known
// fields are omitted so partial updates only touch provided properties.
func (p Properties) MarshalJSON() ([]byte, error) {
	out := make(map[string]string, 9+len(p.Extra))

	set := func(key, val string) {
		if val != "" {
			out[key] = val
		}
	}
	set(PropFirstName, p.FirstName)
	set(PropLastName, p.LastName)
	set(PropEmail, p.Email)
	set(PropPhone, p.Phone)
	set(PropJobTitle, p.JobTitle)
	set(PropName, p.Name)
	set(PropDomain, p.Domain)
	set(PropCity, p.City)
	set(PropState, p.State)

	for key, val := range p.Extra {
		out[key] = val
	}
	return json.Marshal(out)
}
