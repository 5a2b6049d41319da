package harvest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"text/template"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turbolytics/harvester/internal/catalog"
)

const oaiPage = `<OAI-PMH xmlns="http://www.openarchives.org/OAI/2.0/">
<responseDate>2024-01-02T00:00:00Z</responseDate>
<ListRecords>
%s
<resumptionToken>%s</resumptionToken>
</ListRecords></OAI-PMH>`

func records(ids ...string) string {
	var b strings.Builder
	for _, id := range ids {
		fmt.Fprintf(&b, "<record><header><identifier>%s</identifier></header><metadata/></record>\n", id)
	}
	return b.String()
}

func newOAIServer(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch q.Get("resumptionToken") {
		case "":
			assert.Equal(t, "iso", q.Get("metadataPrefix"))
			assert.Equal(t, "2024-01-01", q.Get("from"))
			fmt.Fprintf(w, oaiPage, records("a", "b", "c"), "page2")
		case "page2":
			fmt.Fprintf(w, oaiPage, records("d", "e"), "")
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
}

func newMalformedServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<csw:GetRecordsResponse><unterminated")
	}))
}

const configTemplate = `
S1:
  protocol: OAI-PMH
  source: "{{.OAI}}/oai"
  mdkw: iso
  raw: "{{.Dir}}/s1/raw"
  mmd: "{{.Dir}}/s1/mmd"
CCIN:
  retries: 0
  raw: "{{.Dir}}/raw"
S2:
  protocol: OGC-CSW
  source: "{{.CSW}}/csw"
  raw: "{{.Dir}}/s2/raw"
S3:
  protocol: SRU
  source: http://localhost/sru
  raw: "{{.Dir}}/s3/raw"
`

func writeConfig(t *testing.T, dir, oai, csw string) string {
	tmpl, err := template.New("config").Parse(configTemplate)
	require.NoError(t, err)

	configPath := filepath.Join(dir, "config.yml")
	f, err := os.Create(configPath)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, tmpl.Execute(f, struct{ OAI, CSW, Dir string }{oai, csw, dir}))
	return configPath
}

func TestHarvestCommand(t *testing.T) {
	oai := newOAIServer(t)
	defer oai.Close()
	csw := newMalformedServer()
	defer csw.Close()

	dir := t.TempDir()
	configPath := writeConfig(t, dir, oai.URL, csw.URL)
	reportPath := filepath.Join(dir, "report.json")

	var out bytes.Buffer
	cmd := NewCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{
		"--config", configPath,
		"--from", "2024-01-01",
		"--report", reportPath,
	})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	report, err := catalog.Load(reportPath)
	require.NoError(t, err)
	require.Len(t, report.Entries, 3)
	assert.True(t, report.Completed)

	s1, ok := report.Lookup("S1")
	require.True(t, ok)
	assert.Equal(t, catalog.StatusSucceeded, s1.Status)
	assert.Equal(t, 5, s1.Records)
	assert.Equal(t, 2, s1.Pages)

	s2, ok := report.Lookup("S2")
	require.True(t, ok)
	assert.Equal(t, catalog.StatusFailed, s2.Status)
	assert.NotEmpty(t, s2.Error)

	s3, ok := report.Lookup("S3")
	require.True(t, ok)
	assert.Equal(t, catalog.StatusSkipped, s3.Status)

	// bootstrap creates every output directory, the control section's included
	for _, d := range []string{"raw", "s1/mmd", "s2/raw", "s3/raw"} {
		fi, err := os.Stat(filepath.Join(dir, d))
		require.NoError(t, err, d)
		assert.True(t, fi.IsDir(), d)
	}

	pages, err := os.ReadDir(filepath.Join(dir, "s1", "raw"))
	require.NoError(t, err)
	assert.Len(t, pages, 2)

	assert.Contains(t, out.String(), "S1")
	assert.Contains(t, out.String(), "3 sources, 1 succeeded, 1 failed, 1 skipped, 5 records harvested")
}

func TestHarvestCommandInvalidFrom(t *testing.T) {
	dir := t.TempDir()
	configPath := writeConfig(t, dir, "http://localhost", "http://localhost")

	cmd := NewCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", configPath, "--from", "yesterday"})
	assert.Error(t, cmd.ExecuteContext(context.Background()))

	// nothing is harvested, so no output directory is created
	_, err := os.Stat(filepath.Join(dir, "s1"))
	assert.True(t, os.IsNotExist(err))
}

func TestHarvestCommandRequiresConfig(t *testing.T) {
	cmd := NewCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{})
	assert.Error(t, cmd.ExecuteContext(context.Background()))
}

func TestPlanCommand(t *testing.T) {
	dir := t.TempDir()
	configPath := writeConfig(t, dir, "http://oai.example.org", "http://csw.example.org")
	jobsPath := filepath.Join(dir, "jobs.json")

	cmd := NewPlanCommand()
	cmd.SetArgs([]string{"--config", configPath, "--from", "2024-01-01", "--jobs", jobsPath})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	bs, err := os.ReadFile(jobsPath)
	require.NoError(t, err)

	var dump struct {
		Record []map[string]string `json:"record"`
	}
	require.NoError(t, json.Unmarshal(bs, &dump))
	require.Len(t, dump.Record, 2)

	assert.Equal(t, "S1", dump.Record[0]["section"])
	assert.Equal(t, "http://oai.example.org/oai", dump.Record[0]["baseURL"])
	assert.Equal(t, "?verb=ListRecords&metadataPrefix=iso&from=2024-01-01", dump.Record[0]["records"])
	assert.Equal(t, "OAI-PMH", dump.Record[0]["hProtocol"])

	assert.Equal(t, "S2", dump.Record[1]["section"])
	assert.True(t, strings.HasPrefix(dump.Record[1]["records"], "?SERVICE=CSW"))
}
