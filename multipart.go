package gbackup

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/textproto"

	"google.golang.org/api/drive/v3"
)

const appDataFolder = "appDataFolder"

// backupMetadata describes the backup file. Drive rejects an update that
// names parents, so they are only set when the file is created.
func (c *Config) backupMetadata(create bool) *drive.File {
	file := &drive.File{
		Name:        c.FileName,
		Description: c.Description,
		MimeType:    "application/json",
	}
	if create {
		file.Parents = []string{appDataFolder}
	}
	return file
}

// EncodeMultipart builds a multipart/related body with the metadata part
// followed by the payload part. The body starts with "--boundary" and ends
// with "--boundary--".
func EncodeMultipart(meta *drive.File, payload []byte, boundary string) ([]byte, error) {
	if !json.Valid(payload) {
		return nil, ErrMalformedBackup
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}

	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	if err := w.SetBoundary(boundary); err != nil {
		return nil, err
	}
	parts := []struct {
		contentType string
		body        []byte
	}{
		{"application/json; charset=UTF-8", metaJSON},
		{"application/json", payload},
	}
	for _, p := range parts {
		pw, err := w.CreatePart(textproto.MIMEHeader{"Content-Type": {p.contentType}})
		if err != nil {
			return nil, err
		}
		if _, err := pw.Write(p.body); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\r\n")), nil
}

func multipartContentType(boundary string) string {
	return "multipart/related; boundary=" + boundary
}
