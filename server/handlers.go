package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/wikibag/wikibag"
	"github.com/wikibag/wikibag/telemetry"
)

// handlerFunc is an HTTP handler that reports failures instead of writing
// them itself.
type handlerFunc func(w http.ResponseWriter, r *http.Request) error

// handle wraps a handlerFunc: it tags the request with its endpoint name
// and converts any error into a 500 with the error's message as the body,
// logging the structured detail first. Validation errors share the 500
// mapping deliberately; splitting them out would change the wire contract.
func (s *Server) handle(endpoint string, fn handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		telemetry.SetEndpoint(r, endpoint)
		err := fn(w, r)
		if err == nil {
			return
		}

		kind := "internal"
		var appErr *wikibag.Error
		if errors.As(err, &appErr) {
			kind = appErr.Kind.String()
		}
		s.logger.Error("request failed",
			"endpoint", endpoint,
			"kind", kind,
			"path", r.URL.Path,
			"error", err,
		)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// handleWiki renders the full document collection into the carrier page.
func (s *Server) handleWiki(w http.ResponseWriter, r *http.Request) error {
	all, err := s.config.Store.All(r.Context())
	if err != nil {
		return err
	}

	docs := make([]map[string]any, 0, len(all))
	for _, t := range all {
		docs = append(docs, t.Document())
	}

	page, err := s.config.Template.Render(docs)
	if err != nil {
		return wikibag.Responsef("error rendering wiki: %v", err)
	}

	w.Header().Set("Content-Type", "text/html")
	_, _ = w.Write(page)
	return nil
}

// handleStatus reports the configured server identity.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) error {
	return s.writeJSON(w, s.config.Status)
}

// handleList returns every document in skinny form (no text bodies).
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) error {
	all, err := s.config.Store.All(r.Context())
	if err != nil {
		return err
	}

	docs := make([]map[string]any, 0, len(all))
	for _, t := range all {
		docs = append(docs, t.SkinnyDocument())
	}
	return s.writeJSON(w, docs)
}

// handleGet returns one document, pretty-printed, or 404 with an empty body.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) error {
	title := r.PathValue("title")

	t, err := s.config.Store.Get(r.Context(), title)
	if err != nil {
		return err
	}
	if t == nil {
		w.WriteHeader(http.StatusNotFound)
		return nil
	}

	body, err := json.MarshalIndent(t.Document(), "", "  ")
	if err != nil {
		return wikibag.Responsef("error serializing tiddler: %v", err)
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
	return nil
}

// handlePut stores a document, offloading inline binary payloads first.
func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) error {
	title := r.PathValue("title")

	var doc map[string]any
	if err := s.readJSON(w, r, &doc); err != nil {
		return err
	}

	if s.config.Offloader != nil {
		s.config.Offloader.Offload(r.Context(), title, doc)
	}

	t, err := wikibag.FromValue(doc)
	if err != nil {
		return err
	}

	revision, err := s.config.Store.Replace(r.Context(), title, t)
	if err != nil {
		return err
	}

	w.Header().Set("Etag", fmt.Sprintf("default/%s/%d:", title, revision))
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// handleDelete removes a document and kicks off backing-storage cleanup in
// the background. Responds 204 whether or not the record existed.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) error {
	title := r.PathValue("title")

	deleted, err := s.config.Store.Pop(r.Context(), title)
	if err != nil {
		return err
	}
	if deleted != nil && s.config.Cleaner != nil {
		// Detached from the response: deletion latency is not paid by
		// the client, and cleanup failures are the cleaner's problem.
		go s.config.Cleaner.Clean(context.WithoutCancel(r.Context()), *deleted)
	}
	s.logger.Info("deleted tiddler", "title", title)

	w.WriteHeader(http.StatusNoContent)
	return nil
}

// signUploadResponse is the wire shape of a presigned upload grant.
type signUploadResponse struct {
	UploadURL string `json:"upload_url"`
	PublicURL string `json:"public_url"`
	Name      string `json:"name"`
	Key       string `json:"key"`
	Bucket    string `json:"bucket"`
	Region    string `json:"region"`
}

// handleSignUpload hands out a presigned PUT URL for client-side direct
// upload, keyed by a hash of the filename.
func (s *Server) handleSignUpload(w http.ResponseWriter, r *http.Request) error {
	if s.config.Objects == nil {
		return wikibag.Responsef("S3 is not enabled in configuration")
	}

	q := r.URL.Query()
	filename := q.Get("filename")
	contentType := q.Get("content_type")

	ext := "bin"
	if i := strings.LastIndexByte(filename, '.'); i >= 0 && i+1 < len(filename) {
		ext = filename[i+1:]
	}
	key := "tiddlers/" + wikibag.HashName(filename).String() + "." + ext

	uploadURL, err := s.config.Objects.PresignPut(r.Context(), s.config.Bucket, key, contentType, presignTTL)
	if err != nil {
		return wikibag.Responsef("S3 presign failed: %v", err)
	}

	return s.writeJSON(w, signUploadResponse{
		UploadURL: uploadURL,
		PublicURL: s.config.PublicURLBase + "/" + key,
		Name:      s.config.S3Name,
		Key:       key,
		Bucket:    s.config.Bucket,
		Region:    s.config.Objects.Region(),
	})
}

// inboxRequest is a quick-capture note from an external client.
type inboxRequest struct {
	Text string `json:"text"`
	Tags string `json:"tags"`
}

// handleInbox creates a timestamped Inbox tiddler from the request.
func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) error {
	var req inboxRequest
	if err := s.readJSON(w, r, &req); err != nil {
		return err
	}

	now := s.now()
	// TiddlyWiki timestamps are 17 digits: seconds precision, zero-padded
	// milliseconds.
	created := now.Format("20060102150405") + "000"
	title := "Inbox " + now.Format("2006-01-02 15:04:05")

	tags := "Inbox"
	if req.Tags != "" {
		tags = "Inbox " + req.Tags
	}

	t, err := wikibag.FromValue(map[string]any{
		"title":    title,
		"text":     req.Text,
		"tags":     tags,
		"created":  created,
		"modified": created,
		"type":     "text/vnd.tiddlywiki",
	})
	if err != nil {
		return err
	}
	if err := s.config.Store.Put(r.Context(), t); err != nil {
		return err
	}
	s.logger.Info("inbox captured", "title", title)

	return s.writeJSON(w, map[string]any{
		"status":  "ok",
		"title":   title,
		"created": created,
	})
}

// readJSON decodes a size-capped JSON request body.
func (s *Server) readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return wikibag.Validationf("decoding request body: %v", err)
	}
	return nil
}

// writeJSON writes v as a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, v any) error {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return wikibag.Responsef("error encoding response: %v", err)
	}
	return nil
}
