package wire

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
)

// EncodeMultipart writes content into a single-part multipart body under
// field, returning the encoded body and its content type.
func EncodeMultipart(field string, filename string, content io.Reader) (*bytes.Buffer, string, error) {
	return EncodeMultipartForm(nil, field, filename, content)
}

// EncodeMultipartForm writes plain form fields next to one file part.
func EncodeMultipartForm(fields map[string]string, fileField string, filename string, content io.Reader) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return nil, "", fmt.Errorf("write multipart field: %w", err)
		}
	}

	part, err := writer.CreateFormFile(fileField, filename)
	if err != nil {
		return nil, "", fmt.Errorf("create multipart field: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, "", fmt.Errorf("write multipart content: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("finish multipart body: %w", err)
	}

	return body, writer.FormDataContentType(), nil
}
