package gbackup

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
)

type recordedRequest struct {
	Method        string
	Path          string
	Query         map[string][]string
	ContentType   string
	ContentLength int64
	Authorization string
	Body          []byte
}

// fakeDrive serves the handful of Drive v3 endpoints the service talks to.
type fakeDrive struct {
	mut          sync.Mutex
	order        []string
	files        map[string][]byte
	nextID       int
	listStatus   int
	uploadStatus int
	requests     []recordedRequest
}

func newFakeDrive() *fakeDrive {
	return &fakeDrive{files: map[string][]byte{}}
}

func (f *fakeDrive) put(id string, content string) {
	f.mut.Lock()
	defer f.mut.Unlock()
	if _, ok := f.files[id]; !ok {
		f.order = append(f.order, id)
	}
	f.files[id] = []byte(content)
}

func (f *fakeDrive) content(id string) []byte {
	f.mut.Lock()
	defer f.mut.Unlock()
	return f.files[id]
}

func (f *fakeDrive) recorded() []recordedRequest {
	f.mut.Lock()
	defer f.mut.Unlock()
	return append([]recordedRequest{}, f.requests...)
}

func (f *fakeDrive) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	f.mut.Lock()
	defer f.mut.Unlock()
	f.requests = append(f.requests, recordedRequest{
		Method:        r.Method,
		Path:          r.URL.Path,
		Query:         r.URL.Query(),
		ContentType:   r.Header.Get("Content-Type"),
		ContentLength: r.ContentLength,
		Authorization: r.Header.Get("Authorization"),
		Body:          body,
	})

	const (
		filesPath  = "/drive/v3/files"
		uploadPath = "/upload/drive/v3/files"
	)
	switch {
	case r.Method == http.MethodGet && r.URL.Path == filesPath:
		if f.listStatus != 0 {
			writeAPIError(w, f.listStatus, "listing refused")
			return
		}
		list := map[string][]map[string]string{"files": {}}
		for _, id := range f.order {
			list["files"] = append(list["files"], map[string]string{"id": id})
		}
		writeJSONResponse(w, list)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, filesPath+"/"):
		id := strings.TrimPrefix(r.URL.Path, filesPath+"/")
		content, ok := f.files[id]
		if !ok || r.URL.Query().Get("alt") != "media" {
			writeAPIError(w, http.StatusNotFound, "File not found: "+id)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(content)
	case r.Method == http.MethodPost && r.URL.Path == uploadPath:
		if f.uploadStatus != 0 {
			writeAPIError(w, f.uploadStatus, "upload refused")
			return
		}
		_, payload, err := parseMultipart(r.Header.Get("Content-Type"), body)
		if err != nil {
			writeAPIError(w, http.StatusBadRequest, err.Error())
			return
		}
		f.nextID++
		id := fmt.Sprintf("NEW%d", f.nextID)
		f.order = append(f.order, id)
		f.files[id] = payload
		writeJSONResponse(w, map[string]string{"id": id, "name": DefaultFileName})
	case r.Method == http.MethodPatch && strings.HasPrefix(r.URL.Path, uploadPath+"/"):
		if f.uploadStatus != 0 {
			writeAPIError(w, f.uploadStatus, "upload refused")
			return
		}
		id := strings.TrimPrefix(r.URL.Path, uploadPath+"/")
		if _, ok := f.files[id]; !ok {
			writeAPIError(w, http.StatusNotFound, "File not found: "+id)
			return
		}
		meta, payload, err := parseMultipart(r.Header.Get("Content-Type"), body)
		if err != nil {
			writeAPIError(w, http.StatusBadRequest, err.Error())
			return
		}
		if _, ok := meta["parents"]; ok {
			writeAPIError(w, http.StatusForbidden, "The parents field is not directly writable in update requests.")
			return
		}
		f.files[id] = payload
		writeJSONResponse(w, map[string]string{"id": id, "name": DefaultFileName})
	default:
		writeAPIError(w, http.StatusNotFound, "unknown endpoint")
	}
}

func parseMultipart(contentType string, body []byte) (map[string]interface{}, []byte, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, nil, err
	}
	if mediaType != "multipart/related" {
		return nil, nil, fmt.Errorf("unexpected media type %s", mediaType)
	}
	reader := multipart.NewReader(bytes.NewReader(body), params["boundary"])
	parts := [][]byte{}
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		b, err := io.ReadAll(part)
		if err != nil {
			return nil, nil, err
		}
		parts = append(parts, b)
	}
	if len(parts) != 2 {
		return nil, nil, fmt.Errorf("expected 2 parts, got %d", len(parts))
	}
	meta := map[string]interface{}{}
	if err := json.Unmarshal(parts[0], &meta); err != nil {
		return nil, nil, err
	}
	return meta, parts[1], nil
}

func writeJSONResponse(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{"code": status, "message": message},
	})
}
