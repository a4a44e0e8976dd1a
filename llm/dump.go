package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/afero"
)

// DumpDirName is the directory under the working directory that enables
// request/response dumps when it exists.
const DumpDirName = ".httpcalls"

const redactedAuthorization = "Bearer {{OPENAI_API_KEY}}"

// callDumper writes one .http file per call. Failures are logged by the
// caller and never affect the call itself.
type callDumper struct {
	fs  afero.Fs
	dir string
	now func() time.Time
}

func (d *callDumper) enabled() bool {
	if d == nil || d.fs == nil || d.dir == "" {
		return false
	}
	ok, err := afero.DirExists(d.fs, d.dir)
	return err == nil && ok
}

// writeRequest records the request with the Authorization value replaced by a
// placeholder and returns the dump path.
func (d *callDumper) writeRequest(method, url string, header http.Header, payload []byte) (string, error) {
	name := fmt.Sprintf("call-%d.http", d.now().UnixMilli())
	path := filepath.Join(d.dir, name)

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %s\n", method, url)
	writeHeaders(&buf, header, true)
	buf.WriteString("\n")
	buf.Write(prettyJSON(payload))
	buf.WriteString("\n")

	if err := afero.WriteFile(d.fs, path, buf.Bytes(), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// appendResponse adds the response section to an existing dump.
func (d *callDumper) appendResponse(path string, resp *http.Response, body []byte, elapsed time.Duration) error {
	f, err := d.fs.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "\n### Response - elapsed_ms: %d\n", elapsed.Milliseconds())
	fmt.Fprintf(&buf, "HTTP/1.1 %d %s\n", resp.StatusCode, http.StatusText(resp.StatusCode))
	writeHeaders(&buf, resp.Header, false)
	buf.WriteString("\n")
	buf.Write(prettyJSON(body))
	buf.WriteString("\n")
	_, err = f.Write(buf.Bytes())
	return err
}

func writeHeaders(buf *bytes.Buffer, header http.Header, redact bool) {
	keys := make([]string, 0, len(header))
	for k := range header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range header[k] {
			if redact && http.CanonicalHeaderKey(k) == "Authorization" {
				v = redactedAuthorization
			}
			fmt.Fprintf(buf, "%s: %s\n", k, v)
		}
	}
}

func prettyJSON(data []byte) []byte {
	var out bytes.Buffer
	if err := json.Indent(&out, data, "", "  "); err != nil {
		return data
	}
	return out.Bytes()
}
