package formdata_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopwire/loopwire/formdata"
)

func TestFormDataURLEncodedWhenNoFileFields(t *testing.T) {
	fd := formdata.NewFormData(true)
	fd.AddField("name", "Ada")
	fd.AddField("role", "engineer")

	contentType, body, err := fd.Generate("")
	require.NoError(t, err)
	assert.Equal(t, "application/x-www-form-urlencoded", contentType)
	assert.Contains(t, string(body), "name=Ada")
}

func TestFormDataSwitchesToMultipartWithFileField(t *testing.T) {
	fd := formdata.NewFormData(true)
	fd.AddField("name", "Ada")
	fd.AddFileField("avatar", "pic.png", "image/png", []byte("\x89PNG"))

	contentType, body, err := fd.Generate("")
	require.NoError(t, err)
	assert.Contains(t, contentType, "multipart/form-data; boundary=")
	assert.Contains(t, string(body), `name="name"`)
	assert.Contains(t, string(body), `filename="pic.png"`)
	assert.True(t, strings.HasSuffix(string(body), "--\r\n"))
}

func TestMultipartWriterRejectsUnknownContentEncoding(t *testing.T) {
	w := formdata.NewMultipartWriter("mixed", "fixedboundary")
	part := formdata.NewPart([]byte("data"))
	part.Headers.Set("Content-Encoding", "zstd")

	err := w.AppendPayload(part)
	assert.Error(t, err)
}

func TestMultipartWriterSetsContentLengthWhenSizePreserving(t *testing.T) {
	w := formdata.NewMultipartWriter("mixed", "fixedboundary")
	part := formdata.NewPart([]byte("hello"))
	require.NoError(t, w.AppendPayload(part))

	assert.Equal(t, "5", part.Headers.Get("Content-Length"))
	assert.Equal(t, "application/octet-stream", part.Headers.Get("Content-Type"))
}

func TestBuildContentDispositionHeaderQuotesASCII(t *testing.T) {
	header, err := formdata.BuildContentDispositionHeader("form-data", map[string]string{"name": "field"}, true)
	require.NoError(t, err)
	assert.Equal(t, `form-data; name="field"`, header)
}

func TestBuildContentDispositionHeaderEncodesNonASCII(t *testing.T) {
	header, err := formdata.BuildContentDispositionHeader("form-data", map[string]string{"name": "café"}, true)
	require.NoError(t, err)
	assert.Contains(t, header, "name*=utf-8''")
}
