package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/csvimport/internal/core"
	"github.com/JonMunkholm/csvimport/internal/logging"
)

// uploadSlack covers the multipart framing and form fields around the file.
const uploadSlack = 1 << 20

// maxFormMemory is the part of a multipart body kept in memory; the rest
// spills to disk.
const maxFormMemory = 8 << 20

// upload is a received CSV file stored in the upload directory.
type upload struct {
	path    string
	name    string
	dialect core.Dialect
}

func (u *upload) remove() {
	os.Remove(u.path)
}

// receiveUpload stores the "file" part of a multipart request and resolves
// the dialect from the "profile" or "dialect" fields. The caller owns the
// stored file.
func (s *Server) receiveUpload(w http.ResponseWriter, r *http.Request) (*upload, error) {
	maxSize := s.cfg.Import.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+uploadSlack)

	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return nil, &core.FileAccessError{Path: "upload", Err: core.ErrFileTooLarge}
		}
		return nil, badRequest("invalid multipart form")
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, badRequest("no file provided")
	}
	defer file.Close()

	if header.Size > maxSize {
		return nil, &core.FileAccessError{Path: header.Filename, Err: core.ErrFileTooLarge}
	}

	d, err := s.requestDialect(r)
	if err != nil {
		return nil, err
	}

	path, err := s.store(file)
	if err != nil {
		return nil, err
	}
	return &upload{path: path, name: filepath.Base(header.Filename), dialect: d}, nil
}

// store copies an uploaded part into the upload directory.
func (s *Server) store(file multipart.File) (string, error) {
	tmp, err := os.CreateTemp(s.cfg.Import.UploadDir, "csvimport-*.csv")
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("store upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("store upload: %w", err)
	}
	return tmp.Name(), nil
}

// requestDialect resolves the dialect of a request: a named profile wins,
// then inline JSON options layered over the configured default, then the
// configured default itself.
func (s *Server) requestDialect(r *http.Request) (core.Dialect, error) {
	if name := r.FormValue("profile"); name != "" {
		p, ok := s.profiles.Get(name)
		if !ok {
			return core.Dialect{}, badRequest(fmt.Sprintf("unknown profile %q", name))
		}
		return core.DialectFromProfile(p)
	}

	base, err := s.service.DefaultDialect()
	if err != nil {
		return core.Dialect{}, err
	}

	raw := r.FormValue("dialect")
	if raw == "" {
		return base, nil
	}
	opts := base.Options()
	if err := json.Unmarshal([]byte(raw), &opts); err != nil {
		return core.Dialect{}, badRequest("invalid dialect format")
	}
	d, err := core.NewDialect(opts)
	if err != nil {
		return core.Dialect{}, badRequest(err.Error())
	}
	return d, nil
}

// requestWait parses the optional "wait" field. With wait=false the import
// is rejected at once when every slot is taken.
func requestWait(r *http.Request) (bool, error) {
	v := r.FormValue("wait")
	if v == "" {
		return true, nil
	}
	wait, err := strconv.ParseBool(v)
	if err != nil {
		return false, badRequest("invalid wait: " + v)
	}
	return wait, nil
}

// requestMapping parses the optional "mapping" field: a JSON array with one
// target column per source column, "" to skip a column.
func requestMapping(r *http.Request) (core.Mapping, error) {
	raw := r.FormValue("mapping")
	if raw == "" {
		return nil, nil
	}
	var mapping core.Mapping
	if err := json.Unmarshal([]byte(raw), &mapping); err != nil {
		return nil, badRequest("invalid mapping format")
	}
	return mapping, nil
}

// handleHealth reports whether the target database answers.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health.Ping(ctx); err != nil {
			logging.FromContext(r.Context()).Warn("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus returns limiter and import counters for monitoring.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"driver":  s.cfg.Database.Driver,
		"limiter": s.service.LimiterStatus(),
		"imports": len(s.service.ActiveImports()),
	})
}

// handleListProfiles returns the named dialect profiles and the default.
func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"default":  s.cfg.Import.DefaultProfile(),
		"profiles": s.profiles.List(),
	})
}

func (s *Server) handleTableColumns(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")

	cols, err := s.service.TableColumns(r.Context(), table)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"table": table, "columns": cols})
}

// handleHeader returns the header line of an uploaded file.
func (s *Server) handleHeader(w http.ResponseWriter, r *http.Request) {
	up, err := s.receiveUpload(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	defer up.remove()

	header, err := s.service.LoadHeader(r.Context(), up.path, up.dialect)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"file":    up.name,
		"dialect": up.dialect.Options(),
		"header":  header,
	})
}

// handlePreview returns the first rows of an uploaded file with the default
// mapping against the target table.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	up, err := s.receiveUpload(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	defer up.remove()

	table := r.FormValue("table")
	if table == "" {
		s.respondError(w, r, badRequest("missing table"))
		return
	}

	preview, err := s.service.LoadPreview(r.Context(), up.path, up.dialect, table)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	preview.Path = up.name
	writeJSON(w, http.StatusOK, preview)
}

// handleStartImport stores the upload and starts an asynchronous import.
// The stored file is removed once the import finishes.
func (s *Server) handleStartImport(w http.ResponseWriter, r *http.Request) {
	up, err := s.receiveUpload(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	table := r.FormValue("table")
	if table == "" {
		up.remove()
		s.respondError(w, r, badRequest("missing table"))
		return
	}
	mapping, err := requestMapping(r)
	if err != nil {
		up.remove()
		s.respondError(w, r, err)
		return
	}
	wait, err := requestWait(r)
	if err != nil {
		up.remove()
		s.respondError(w, r, err)
		return
	}

	importID, err := s.service.StartImport(r.Context(), core.Request{
		Path:    up.path,
		Table:   table,
		Dialect: up.dialect,
		Mapping: mapping,
		NoWait:  !wait,
	})
	if err != nil {
		up.remove()
		s.respondError(w, r, err)
		return
	}

	s.uploads.Add(1)
	go s.releaseUpload(importID, up)

	logging.FromContext(r.Context()).Info("import accepted",
		"import_id", importID,
		"table", table,
		"file", up.name,
	)
	w.Header().Set("Location", "/api/imports/"+importID)
	writeJSON(w, http.StatusAccepted, map[string]string{"import_id": importID})
}

// releaseUpload removes the stored file after the import has finished.
func (s *Server) releaseUpload(importID string, up *upload) {
	defer s.uploads.Done()
	defer up.remove()

	if _, err := s.service.ImportResult(context.Background(), importID); err != nil {
		logging.WithFields(context.Background(), "import_id", importID).
			Warn("import result unavailable", "error", err)
	}
}

// handleListImports returns the progress of every tracked import.
func (s *Server) handleListImports(w http.ResponseWriter, r *http.Request) {
	imports := s.service.ActiveImports()
	sort.Slice(imports, func(i, j int) bool { return imports[i].ImportID < imports[j].ImportID })
	writeJSON(w, http.StatusOK, imports)
}

// handleImportProgress streams import progress via Server-Sent Events.
// Supports resumption via the lastEventId query parameter or the
// Last-Event-ID header.
func (s *Server) handleImportProgress(w http.ResponseWriter, r *http.Request) {
	importID := chi.URLParam(r, "importID")

	// The event ID is the progress percentage, allowing clients to skip
	// already-received events after reconnection
	lastEventIDStr := r.URL.Query().Get("lastEventId")
	if lastEventIDStr == "" {
		lastEventIDStr = r.Header.Get("Last-Event-ID")
	}
	resuming := false
	var lastEventID int
	if lastEventIDStr != "" {
		if n, err := strconv.Atoi(lastEventIDStr); err == nil {
			lastEventID, resuming = n, true
		}
	}

	progressCh, err := s.service.SubscribeProgress(importID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	defer s.service.Unsubscribe(importID, progressCh)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		logging.FromContext(r.Context()).Error("streaming not supported", "error", err)
		return
	}

	for {
		select {
		case progress, ok := <-progressCh:
			if !ok {
				// Channel closed - import finished
				fmt.Fprint(w, "event: complete\ndata: {}\n\n")
				rc.Flush()
				return
			}

			// Final events are always delivered, even on resumption.
			if resuming && !progress.Done && progress.Percent <= lastEventID {
				continue
			}

			data, err := json.Marshal(progress)
			if err != nil {
				return
			}
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", progress.Percent, data)
			if err := rc.Flush(); err != nil {
				return
			}

		case <-r.Context().Done():
			return
		}
	}
}

// handleImportResult returns the final result of an import, or 202 with the
// current progress while it is still running.
func (s *Server) handleImportResult(w http.ResponseWriter, r *http.Request) {
	importID := chi.URLParam(r, "importID")

	progress, err := s.service.ImportProgress(importID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if !progress.Done {
		writeJSON(w, http.StatusAccepted, progress)
		return
	}

	result, err := s.service.ImportResult(r.Context(), importID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	out := *result
	out.Path = filepath.Base(out.Path)
	writeJSON(w, http.StatusOK, out)
}

// handleCancelImport cancels an in-progress import.
func (s *Server) handleCancelImport(w http.ResponseWriter, r *http.Request) {
	importID := chi.URLParam(r, "importID")

	if err := s.service.CancelImport(importID); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}
