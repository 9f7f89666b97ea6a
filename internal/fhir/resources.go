package fhir

import (
	"encoding/json"
	"strings"
	"time"
)

// Identifier is a business identifier attached to a resource.
type Identifier struct {
	System string `json:"system,omitempty"`
	Value  string `json:"value,omitempty"`
}

// HumanName is a patient name.
type HumanName struct {
	Family string   `json:"family,omitempty"`
	Given  []string `json:"given,omitempty"`
}

// Address is a postal address.
type Address struct {
	PostalCode string `json:"postalCode,omitempty"`
}

// Coding is a code from a terminology.
type Coding struct {
	System string `json:"system,omitempty"`
	Code   string `json:"code,omitempty"`
}

// CodeableConcept is a set of codings.
type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// Reference points at another resource.
type Reference struct {
	ID        string `json:"id,omitempty"`
	Reference string `json:"reference,omitempty"`
}

// Attachment holds inline or referenced document content.
type Attachment struct {
	ContentType string `json:"contentType,omitempty"`
	Data        string `json:"data,omitempty"`
	URL         string `json:"url,omitempty"`
}

// Patient is the subset of the FHIR Patient resource the indexer reads.
type Patient struct {
	ResourceType     string           `json:"resourceType"`
	ID               string           `json:"id"`
	Identifier       []Identifier     `json:"identifier,omitempty"`
	Name             []HumanName      `json:"name,omitempty"`
	Gender           string           `json:"gender,omitempty"`
	BirthDate        string           `json:"birthDate,omitempty"`
	DeceasedBoolean  *bool            `json:"deceasedBoolean,omitempty"`
	DeceasedDateTime string           `json:"deceasedDateTime,omitempty"`
	Address          []Address        `json:"address,omitempty"`
	MaritalStatus    *CodeableConcept `json:"maritalStatus,omitempty"`
	Language         string           `json:"language,omitempty"`
}

// MRN returns the value of the first identifier in system.
func (p *Patient) MRN(system string) string {
	for _, id := range p.Identifier {
		if id.System == system {
			return id.Value
		}
	}
	return ""
}

// Deceased reports whether the patient is recorded as deceased.
func (p *Patient) Deceased() bool {
	return p.DeceasedDateTime != "" || (p.DeceasedBoolean != nil && *p.DeceasedBoolean)
}

// DocumentContent is one content entry of a DocumentReference.
type DocumentContent struct {
	Attachment Attachment `json:"attachment"`
}

// DocumentReference is the subset of the FHIR DocumentReference resource the indexer reads.
type DocumentReference struct {
	ResourceType string            `json:"resourceType"`
	ID           string            `json:"id"`
	Subject      *Reference        `json:"subject,omitempty"`
	Created      string            `json:"created,omitempty"`
	Date         string            `json:"date,omitempty"`
	Content      []DocumentContent `json:"content,omitempty"`
}

// SubjectID returns the id of the patient the document is about.
func (d *DocumentReference) SubjectID() string {
	if d.Subject == nil {
		return ""
	}
	if d.Subject.ID != "" {
		return d.Subject.ID
	}
	ref := d.Subject.Reference
	if i := strings.LastIndex(ref, "/"); i >= 0 {
		return ref[i+1:]
	}
	return ref
}

// CreatedAt returns the document's creation time, or the zero time when absent.
// STU3 servers report it in created, R4 servers in date.
func (d *DocumentReference) CreatedAt() time.Time {
	for _, v := range []string{d.Created, d.Date} {
		if v == "" {
			continue
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, v); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}

// Binary is raw document content.
type Binary struct {
	ResourceType string `json:"resourceType"`
	ContentType  string `json:"contentType,omitempty"`
	Data         string `json:"data,omitempty"`
}

// BundleLink is a paging link of a search result.
type BundleLink struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

// BundleEntry is one search result.
type BundleEntry struct {
	Resource json.RawMessage `json:"resource"`
}

// Bundle is a search result page.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	Link         []BundleLink  `json:"link,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
}

// Next returns the URL of the next page, if any.
func (b *Bundle) Next() string {
	for _, l := range b.Link {
		if l.Relation == "next" {
			return l.URL
		}
	}
	return ""
}

type resourceHeader struct {
	ResourceType string `json:"resourceType"`
}
