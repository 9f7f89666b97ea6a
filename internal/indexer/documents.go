package indexer

import (
	"strings"
	"unicode/utf8"

	"fhirindex/internal/fhir"
	"fhirindex/internal/solr"
)

// documentSource is the SOURCE value stamped on every indexed document.
const documentSource = "source1"

const solrDateLayout = "2006-01-02T15:04:05Z"

func documentFields(doc *fhir.DocumentReference, mrn string, content fhir.Content) solr.Document {
	fields := solr.Document{
		"ID":       doc.ID,
		"RPT_ID":   doc.ID,
		"RPT_TEXT": content.Text,
		"SOURCE":   documentSource,
		"MRN":      mrn,
	}
	if created := doc.CreatedAt(); !created.IsZero() {
		fields["RPT_DATE"] = created.UTC().Format(solrDateLayout)
	}
	return fields
}

func patientFields(p *fhir.Patient, mrn string) solr.Document {
	fields := solr.Document{
		"ID":            mrn,
		"EXTERNAL_ID":   mrn,
		"DECEASED_FLAG": 0,
	}
	if p.Deceased() {
		fields["DECEASED_FLAG"] = 1
	}

	if len(p.Name) > 0 {
		name := p.Name[0]
		setField(fields, "FIRST_NAME", truncate(strings.Join(name.Given, " "), 65))
		setField(fields, "LAST_NAME", truncate(name.Family, 75))
	}
	setField(fields, "BIRTH_DATE", p.BirthDate)
	setField(fields, "SEX_CD", truncate(p.Gender, 50))
	setField(fields, "LANGUAGE_CD", truncate(p.Language, 50))
	if p.MaritalStatus != nil && len(p.MaritalStatus.Coding) > 0 {
		setField(fields, "MARITAL_STATUS_CD", truncate(p.MaritalStatus.Coding[0].Code, 50))
	}
	if len(p.Address) > 0 {
		setField(fields, "ZIP_CD", truncate(p.Address[0].PostalCode, 10))
	}
	return fields
}

func setField(doc solr.Document, name, value string) {
	if value != "" {
		doc[name] = value
	}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
