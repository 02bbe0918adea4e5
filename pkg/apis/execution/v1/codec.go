package v1

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"mime"
	"strings"
	"unicode"
)

// NewExecutionRequest wraps exe into a request for architecture/board.
func NewExecutionRequest(exe []byte, target Target) *ExecutionRequest {
	return &ExecutionRequest{
		Executable: Executable{
			Encoding: EncodingBase64,
			Data:     base64.StdEncoding.EncodeToString(exe),
		},
		Target: target,
	}
}

// Decode reads a request. JSON is used when contentType says so, XML
// otherwise.
func Decode(r io.Reader, contentType string) (*ExecutionRequest, error) {
	req := &ExecutionRequest{}

	if isJSON(contentType) {
		dec := json.NewDecoder(r)
		dec.DisallowUnknownFields()
		if err := dec.Decode(req); err != nil {
			return nil, fmt.Errorf("decode json execution request: %w", err)
		}
	} else {
		if err := xml.NewDecoder(r).Decode(req); err != nil {
			return nil, fmt.Errorf("decode xml execution request: %w", err)
		}
	}

	req.Target.Architecture = strings.TrimSpace(req.Target.Architecture)
	req.Target.Board = strings.TrimSpace(req.Target.Board)
	req.EndString = strings.TrimSpace(req.EndString)
	return req, nil
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == ContentTypeJSON || strings.HasSuffix(mediaType, "+json")
}

// EncodeXML writes r as an indented XML document.
func (r *ExecutionRequest) EncodeXML(w io.Writer) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encode execution request: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// Payload returns the decoded binary. Whitespace inside the encoded text is
// ignored.
func (r *ExecutionRequest) Payload() ([]byte, error) {
	enc := strings.TrimSpace(r.Executable.Encoding)
	if enc != "" && !strings.EqualFold(enc, EncodingBase64) {
		return nil, fmt.Errorf("unsupported executable encoding %q", r.Executable.Encoding)
	}

	data := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, r.Executable.Data)
	if data == "" {
		return nil, fmt.Errorf("executable is empty")
	}

	out, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("decode executable: %w", err)
	}
	return out, nil
}

// Validate checks the fields that a pool cannot do without.
func (r *ExecutionRequest) Validate() error {
	switch {
	case r.Target.Architecture == "" || r.Target.Board == "":
		return fmt.Errorf("target architecture and board are required")
	case r.RetryMaximum < 0:
		return fmt.Errorf("retry maximum must not be negative, got %d", r.RetryMaximum)
	case r.Timeout <= 0:
		return fmt.Errorf("timeout must be a positive number of seconds, got %d", r.Timeout)
	case r.Timeout > MaxTimeoutSeconds:
		return fmt.Errorf("timeout must not exceed %d seconds, got %d", MaxTimeoutSeconds, r.Timeout)
	case r.SerialTimeout < 0:
		return fmt.Errorf("serial timeout must not be negative, got %d", r.SerialTimeout)
	case r.SerialTimeout > MaxTimeoutSeconds:
		return fmt.Errorf("serial timeout must not exceed %d seconds, got %d", MaxTimeoutSeconds, r.SerialTimeout)
	case r.EndString == "":
		return fmt.Errorf("end string must not be empty")
	}
	return nil
}

// EncodeXMLBytes is a convenience wrapper around EncodeXML.
func (r *ExecutionRequest) EncodeXMLBytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := r.EncodeXML(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
