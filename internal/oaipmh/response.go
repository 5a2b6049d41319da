package oaipmh

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// CodeNoRecordsMatch is returned by repositories for an empty, but valid,
// selection (3.6).
const CodeNoRecordsMatch = "noRecordsMatch"

// OAIError wraps OAI error codes and messages.
type OAIError struct {
	Code    string
	Message string
}

func (e OAIError) Error() string {
	return fmt.Sprintf("oai-pmh %s: %s", e.Code, strings.TrimSpace(e.Message))
}

// resumptionToken is part of OAI flow control (3.5).
type resumptionToken struct {
	Value            string `xml:",chardata"`
	Cursor           string `xml:"cursor,attr"`
	CompleteListSize string `xml:"completeListSize,attr"`
}

type header struct {
	Status     string `xml:"status,attr"`
	Identifier string `xml:"identifier"`
	Datestamp  string `xml:"datestamp"`
}

func (h header) Deleted() bool {
	return h.Status == "deleted"
}

type record struct {
	Header header `xml:"header"`
}

// Response holds the parts of a ListRecords response the harvester needs.
// Metadata payloads are not decoded, they are staged verbatim.
type Response struct {
	XMLName xml.Name `xml:"OAI-PMH"`
	Date    string   `xml:"responseDate"`
	Request struct {
		Verb     string `xml:"verb,attr"`
		Endpoint string `xml:",chardata"`
	} `xml:"request"`
	Errors []struct {
		Code    string `xml:"code,attr"`
		Message string `xml:",chardata"`
	} `xml:"error"`
	ListRecords struct {
		Records []record        `xml:"record"`
		Token   resumptionToken `xml:"resumptionToken"`
	} `xml:"ListRecords"`
}

// Err returns the first OAI error of the response, if any.
func (r Response) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return OAIError{Code: r.Errors[0].Code, Message: r.Errors[0].Message}
}

func (r Response) Token() string {
	return strings.TrimSpace(r.ListRecords.Token.Value)
}

// Counts returns the number of records and the number of deleted records in
// the response.
func (r Response) Counts() (records, deleted int) {
	for _, rec := range r.ListRecords.Records {
		if rec.Header.Deleted() {
			deleted++
		}
	}
	return len(r.ListRecords.Records), deleted
}
