package formdata

import (
	"fmt"
	"net/url"
	"strings"
)

// Field is one entry of a FormData: a name/value pair plus the optional
// metadata needed to render it as a multipart part (spec §4.12 "Fields
// have (type, type_options, headers, value)").
type Field struct {
	Name             string
	Value            []byte
	ContentType      string
	Filename         string
	TransferEncoding string
}

func (f Field) isFileLike() bool {
	return f.Filename != "" || f.ContentType != "" || f.TransferEncoding != ""
}

// FormData accumulates fields and renders either an
// application/x-www-form-urlencoded or multipart/form-data payload,
// switching to multipart as soon as any field looks file-like (spec
// §4.12 "FormData builds either ... depending on whether any field is
// binary/file-like").
type FormData struct {
	fields      []Field
	isMultipart bool
	quoteFields bool
}

// NewFormData returns an empty FormData. quoteFields controls how
// multipart field names/filenames are rendered: RFC-5987/quoted-string
// encoded (true, the common case), or wrapped in quotes with only
// backslash and double quote escaped (false).
func NewFormData(quoteFields bool) *FormData {
	return &FormData{quoteFields: quoteFields}
}

// AddField appends a plain text field.
func (f *FormData) AddField(name, value string) {
	f.fields = append(f.fields, Field{Name: name, Value: []byte(value)})
}

// AddFileField appends a binary/file field, forcing the FormData into
// multipart mode. filename defaults to name if empty.
func (f *FormData) AddFileField(name, filename, contentType string, data []byte) {
	if filename == "" {
		filename = name
	}
	f.fields = append(f.fields, Field{
		Name:        name,
		Value:       data,
		ContentType: contentType,
		Filename:    filename,
	})
	f.isMultipart = true
}

// Generate renders the accumulated fields into a wire body, returning
// the Content-Type header value to pair with it (spec §4.12
// "generate_form() returns a Payload").
func (f *FormData) Generate(encoding string) (contentType string, body []byte, err error) {
	multipart := f.isMultipart
	if !multipart {
		for _, field := range f.fields {
			if field.isFileLike() {
				multipart = true
				break
			}
		}
	}
	if multipart {
		return f.generateMultipart(encoding)
	}
	return f.generateURLEncoded(encoding)
}

func (f *FormData) generateURLEncoded(encoding string) (string, []byte, error) {
	if encoding == "" {
		encoding = "utf-8"
	}

	values := url.Values{}
	for _, field := range f.fields {
		values.Add(field.Name, string(field.Value))
	}

	contentType := "application/x-www-form-urlencoded"
	if !strings.EqualFold(encoding, "utf-8") {
		contentType = fmt.Sprintf("application/x-www-form-urlencoded; charset=%s", encoding)
	}
	return contentType, []byte(values.Encode()), nil
}

func (f *FormData) generateMultipart(encoding string) (string, []byte, error) {
	writer := NewMultipartWriter("form-data", "")
	for _, field := range f.fields {
		part := NewPart(field.Value)
		if field.ContentType != "" {
			part.Headers.Set("Content-Type", field.ContentType)
		}
		if field.TransferEncoding != "" {
			part.Headers.Set("Content-Transfer-Encoding", field.TransferEncoding)
		}

		params := map[string]string{"name": field.Name}
		if field.Filename != "" {
			params["filename"] = field.Filename
		}
		if err := part.SetContentDisposition("form-data", params, f.quoteFields); err != nil {
			return "", nil, fmt.Errorf("formdata: field %q: %w", field.Name, err)
		}

		if err := writer.AppendPayload(part); err != nil {
			return "", nil, fmt.Errorf("formdata: field %q: %w", field.Name, err)
		}
	}
	return writer.ContentType(), writer.Bytes(), nil
}
