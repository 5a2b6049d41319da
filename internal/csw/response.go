package csw

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// SearchResults carries the paging attributes of a GetRecords response
// (OGC 07-006r1, 10.8.4.4).
type SearchResults struct {
	Matched    int `xml:"numberOfRecordsMatched,attr"`
	Returned   int `xml:"numberOfRecordsReturned,attr"`
	NextRecord int `xml:"nextRecord,attr"`
}

type GetRecordsResponse struct {
	XMLName       xml.Name      `xml:"GetRecordsResponse"`
	SearchResults SearchResults `xml:"SearchResults"`
}

// ExceptionReport is the OWS error document.
type ExceptionReport struct {
	XMLName    xml.Name `xml:"ExceptionReport"`
	Exceptions []struct {
		Code    string   `xml:"exceptionCode,attr"`
		Locator string   `xml:"locator,attr"`
		Text    []string `xml:"ExceptionText"`
	} `xml:"Exception"`
}

type ExceptionError struct {
	Code    string
	Locator string
	Text    string
}

func (e ExceptionError) Error() string {
	s := "csw exception " + e.Code
	if e.Locator != "" {
		s += " (" + e.Locator + ")"
	}
	if e.Text != "" {
		s += ": " + e.Text
	}
	return s
}

var errNoRoot = errors.New("document has no root element")

func rootElement(body []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return "", errNoRoot
		}
		if err != nil {
			return "", err
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se.Name.Local, nil
		}
	}
}

// decode parses a GetRecords page. An exception report is returned as an
// ExceptionError.
func decode(body []byte) (GetRecordsResponse, error) {
	var resp GetRecordsResponse

	root, err := rootElement(body)
	if err != nil {
		return resp, err
	}

	switch root {
	case "ExceptionReport":
		var report ExceptionReport
		if err := xml.Unmarshal(body, &report); err != nil {
			return resp, err
		}
		if len(report.Exceptions) == 0 {
			return resp, ExceptionError{Code: "unknown"}
		}
		e := report.Exceptions[0]
		return resp, ExceptionError{
			Code:    e.Code,
			Locator: e.Locator,
			Text:    strings.TrimSpace(strings.Join(e.Text, " ")),
		}
	case "GetRecordsResponse":
		if err := xml.Unmarshal(body, &resp); err != nil {
			return resp, err
		}
		return resp, nil
	}
	return resp, fmt.Errorf("unexpected root element <%s>", root)
}
