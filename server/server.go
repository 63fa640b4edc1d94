// Package server exposes the conversion over HTTP: an archive uploaded to
// POST /convert comes back as a CSV download.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"crawshaw.io/iox"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dhcgn/mbox-to-csv/convert"
)

// FormField is the multipart field carrying the uploaded archive.
const FormField = "file"

var allowedExtensions = map[string]bool{"mbox": true}

type Server struct {
	opts   convert.Options
	logger *slog.Logger
	filer  *iox.Filer
	router chi.Router
}

// New returns a server converting uploads with opts. Observers in opts are
// ignored; every request runs its own pipeline.
func New(opts convert.Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	opts.Observers = nil

	s := &Server{
		opts:   opts,
		logger: logger,
		filer:  iox.NewFiler(0),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Post("/convert", s.handleConvert)

	s.router = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("http server shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "ok\n")
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile(FormField)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			http.Error(w, "no file part in request", http.StatusBadRequest)
			return
		}
		http.Error(w, "invalid upload: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	name := uploadName(header.Filename)
	if name == "" {
		http.Error(w, "no file selected", http.StatusBadRequest)
		return
	}
	if !allowedFile(name) {
		http.Error(w, "file type not allowed, upload a .mbox file", http.StatusBadRequest)
		return
	}

	opts := s.opts
	opts.Logger = s.logger.With("requestID", middleware.GetReqID(r.Context()), "upload", name)

	// The skipped count goes into a header, so the CSV is buffered until the
	// conversion has finished.
	out := s.filer.BufferFile(0)
	defer out.Close()

	summary, err := convert.ConvertMboxToCsv(r.Context(), file, out, opts)
	if err != nil {
		opts.Logger.Warn("conversion failed", "err", err)
		http.Error(w, "could not convert archive: "+err.Error(), http.StatusUnprocessableEntity)
		return
	}
	if _, err := out.Seek(0, io.SeekStart); err != nil {
		http.Error(w, "could not read converted archive", http.StatusInternalServerError)
		return
	}

	download := strings.TrimSuffix(name, path.Ext(name)) + ".csv"
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": download}))
	w.Header().Set("X-Skipped-Messages", strconv.Itoa(summary.Skipped))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, out); err != nil {
		opts.Logger.Warn("failed to send csv", "err", err)
		return
	}
	opts.Logger.Info("conversion served", summary.LogAttrs()...)
}

// uploadName strips any directory part a client sent with the file name.
func uploadName(filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	switch name {
	case ".", "/", "..":
		return ""
	}
	return name
}

func allowedFile(name string) bool {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return false
	}
	return allowedExtensions[strings.ToLower(name[i+1:])]
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			started := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(started),
				"requestID", middleware.GetReqID(r.Context()),
			)
		})
	}
}
