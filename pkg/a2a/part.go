package a2a

import (
	"encoding/base64"

	v "github.com/cohesivestack/valgo"
)

/*
Part is a discriminated union over Text, File and Data parts.  We keep it
simple by embedding all optional fields in a single struct – this avoids
heavy custom JSON marshalling logic while remaining spec-compliant.

Exactly ONE of Text, File, or Data is populated according to the Type
field; Validate enforces the constraint at the wire boundary.
*/
type Part struct {
	Type PartType `json:"type"`

	// Exactly one of the following should be populated depending on Type.
	Text string         `json:"text,omitempty"`
	File *FileContent   `json:"file,omitempty"`
	Data map[string]any `json:"data,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// PartType is the discriminator for a Part union.
type PartType string

const (
	PartTypeText PartType = "text"
	PartTypeFile PartType = "file"
	PartTypeData PartType = "data"
)

/*
FileContent carries a file either inline (base64 in Bytes) or by
reference (URI).  The two are mutually exclusive.
*/
type FileContent struct {
	Name     *string `json:"name,omitempty"`
	MimeType *string `json:"mimeType,omitempty"`
	Bytes    string  `json:"bytes,omitempty"`
	URI      string  `json:"uri,omitempty"`
}

func NewTextPart(text string) Part {
	return Part{
		Type: PartTypeText,
		Text: text,
	}
}

func NewFilePart(name string, mimeType string, data []byte) Part {
	return Part{
		Type: PartTypeFile,
		File: &FileContent{
			Name:     &name,
			MimeType: &mimeType,
			Bytes:    base64.StdEncoding.EncodeToString(data),
		},
	}
}

func NewDataPart(data map[string]any) Part {
	return Part{
		Type: PartTypeData,
		Data: data,
	}
}

/*
Validate checks the union tag and that only the tagged payload is set.
A file part carrying both bytes and a uri is rejected, as is a part
carrying payloads not matching its tag.
*/
func (part *Part) Validate() error {
	val := v.Is(v.String(string(part.Type), "type").InSlice([]string{
		string(PartTypeText), string(PartTypeFile), string(PartTypeData),
	}))

	switch part.Type {
	case PartTypeText:
		val.Is(v.Bool(part.File == nil && part.Data == nil, "text").
			True("text part must not carry file or data payloads"))
	case PartTypeFile:
		val.Is(v.Bool(part.File != nil, "file").
			True("file part requires file content"))

		if part.File != nil {
			val.Is(v.Bool((part.File.Bytes == "") != (part.File.URI == ""), "file").
				True("file content requires exactly one of bytes or uri"))
		}
	case PartTypeData:
		val.Is(v.Bool(part.Data != nil, "data").
			True("data part requires a data payload"))
	}

	if !val.Valid() {
		return val.Error()
	}

	return nil
}
