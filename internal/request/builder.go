// Package request turns a source configuration into the query string sent
// to its catalog service.
package request

import (
	"errors"
	"fmt"
	"strings"

	"github.com/turbolytics/harvester/internal"
)

var (
	ErrUnsupportedProtocol    = errors.New("protocol not supported")
	ErrMissingMetadataKeyword = errors.New("OAI-PMH source requires a metadata keyword (mdkw)")
	ErrInvalidQualifier       = errors.New("qualifier value contains a reserved query character")
)

// CSWGetRecords requests full ISO 19139 records. It has no per-source or
// temporal qualifiers.
const CSWGetRecords = "?SERVICE=CSW&VERSION=2.0.2" +
	"&request=GetRecords&constraintLanguage=CQL_TEXT" +
	"&typeNames=csw:Record" +
	"&resultType=results" +
	"&outputSchema=http://www.isotc211.org/2005/gmd&elementSetName=full"

// Strategy builds the request for one protocol.
type Strategy func(src internal.Source, from internal.TemporalFilter) (string, error)

var strategies = map[internal.Protocol]Strategy{
	internal.ProtocolOAIPMH: listRecords,
	internal.ProtocolCSW:    getRecords,
}

// Build returns the request string for src. Sources with an unknown protocol
// return ErrUnsupportedProtocol.
func Build(src internal.Source, from internal.TemporalFilter) (string, error) {
	strategy, ok := strategies[src.Protocol]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedProtocol, src.Protocol)
	}
	return strategy(src, from)
}

// Supported reports whether p has a request strategy.
func Supported(p internal.Protocol) bool {
	_, ok := strategies[p]
	return ok
}

type qualifier struct {
	key   string
	value string
}

func listRecords(src internal.Source, from internal.TemporalFilter) (string, error) {
	if src.MetadataKeyword == "" {
		return "", ErrMissingMetadataKeyword
	}

	qs := []qualifier{{"metadataPrefix", src.MetadataKeyword}}
	if src.Set != "" {
		qs = append(qs, qualifier{"set", src.Set})
	}
	if !from.IsZero() {
		qs = append(qs, qualifier{"from", from.String()})
	}

	var b strings.Builder
	b.WriteString("?verb=ListRecords")
	for _, q := range qs {
		// values go onto the wire verbatim
		if strings.ContainsAny(q.value, "&=?# \t\r\n") {
			return "", fmt.Errorf("%w: %s=%q", ErrInvalidQualifier, q.key, q.value)
		}
		b.WriteString("&")
		b.WriteString(q.key)
		b.WriteString("=")
		b.WriteString(q.value)
	}
	return b.String(), nil
}

func getRecords(internal.Source, internal.TemporalFilter) (string, error) {
	return CSWGetRecords, nil
}
