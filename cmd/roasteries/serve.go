package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/maloquacious/roasteries/internal/logger"
	"github.com/maloquacious/roasteries/internal/session"
	"github.com/maloquacious/roasteries/internal/store"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	port       int
	adminPort  int
	shutdownTO time.Duration
	exitAfter  time.Duration
	publicDir  string
)

// maxImportSize bounds an uploaded database image.
const maxImportSize = 32 << 20

func addServeFlags(fs *pflag.FlagSet) {
	fs.IntVar(&port, "port", 8080, "public HTTP port (site and API)")
	fs.IntVar(&adminPort, "admin-port", 8383, "admin HTTP port (JSON, loopback only)")
	fs.StringVar(&publicDir, "public", "public", "directory for static site assets")
	fs.DurationVar(&shutdownTO, "shutdown-timeout", 15*time.Second, "graceful shutdown timeout")
	fs.DurationVar(&exitAfter, "exit-after", 0, "optional runtime; if set, server exits after this duration (testing)")
}

// runServe starts the public (site + API) and admin (JSON) servers with graceful shutdown.
func runServe(cmd *cobra.Command, args []string) error {
	s, cfg, log, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	publicMux := http.NewServeMux()
	publicMux.Handle("/", http.FileServer(http.Dir(cfg.PublicDir)))
	publicMux.Handle("/api/", newAPI(s, log))

	publicMux.HandleFunc("GET /live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	publicMux.HandleFunc("GET /ready", func(w http.ResponseWriter, r *http.Request) {
		state, err := s.Verify(r.Context())
		if err != nil || state != store.StateReady {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("NOT READY"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("READY"))
	})

	// --- Admin routes (JSON-only, loopback only) ---
	adminMux := http.NewServeMux()
	adminMux.Handle("/admin/status", jsonOnly(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		state, err := s.Verify(r.Context())
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "store_error", err.Error())
			return
		}
		startup := s.StartupReport()
		_ = json.NewEncoder(w).Encode(map[string]any{
			"version":   version.String(),
			"buildDate": buildDate,
			"schema":    state.String(),
			"time":      time.Now().UTC().Format(time.RFC3339),
			"mode":      "running",
			"startup": map[string]any{
				"changed":      startup.Changed(),
				"renamed":      nonNil(startup.Renamed),
				"addedColumns": nonNil(startup.AddedColumns),
				"seeded":       startup.Seeded,
				"failures":     len(startup.Failures),
			},
		})
	})))

	adminMux.Handle("/admin/shutdown", jsonOnly(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "shutting down"})
		go func() {
			// give the response a moment to flush
			time.Sleep(200 * time.Millisecond)
			cancel()
		}()
	})))

	publicSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: publicMux,
	}

	// Bind admin to 127.0.0.1 only (loopback enforcement)
	adminListener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", adminPort))
	if err != nil {
		return fmt.Errorf("admin listener bind failed (loopback only): %w", err)
	}
	adminSrv := &http.Server{
		Handler: adminMux,
	}

	errCh := make(chan error, 2)

	go func() {
		log.Info("public server listening on :%d", cfg.Port)
		if err := publicSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("public server error: %w", err)
		}
	}()

	go func() {
		log.Info("admin server listening on 127.0.0.1:%d (JSON-only)", adminPort)
		if err := adminSrv.Serve(adminListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("admin server error: %w", err)
		}
	}()

	if exitAfter > 0 {
		log.Info("exit-after timer set: %s", exitAfter)
		time.AfterFunc(exitAfter, cancel)
	}

	var serveErr error
	select {
	case <-ctx.Done():
		// graceful shutdown
	case serveErr = <-errCh:
		log.Error("%v", serveErr)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTO)
	defer cancelShutdown()

	_ = publicSrv.Shutdown(shutdownCtx)
	_ = adminSrv.Shutdown(shutdownCtx)
	log.Info("shutdown complete")
	return serveErr
}

// newAPI returns the roastery API handler.
func newAPI(s *session.Session, log logger.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /api/roasteries", jsonOnly(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f := session.Filter{
			Visited: q.Get("visited") == "true",
			Starred: q.Get("starred") == "true",
			Search:  q.Get("search"),
			Region:  q.Get("region"),
		}
		entries, err := s.List(r.Context(), f)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "store_error", err.Error())
			return
		}
		if entries == nil {
			entries = []session.Entry{}
		}
		writeJSONResponse(w, entries)
	})))

	mux.Handle("GET /api/roasteries/{name}", jsonOnly(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec, err := s.Get(r.Context(), r.PathValue("name"))
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "store_error", err.Error())
			return
		}
		writeJSONResponse(w, rec)
	})))

	mux.Handle("POST /api/roasteries/{name}", jsonOnly(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Field string          `json:"field"`
			Value json.RawMessage `json:"value"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
			return
		}
		value, err := rawValue(payload.Value)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		u, err := store.ParseUpdate(payload.Field, value)
		if errors.Is(err, store.ErrUnknownField) {
			writeJSONError(w, http.StatusBadRequest, "unknown_field", err.Error())
			return
		}
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_value", err.Error())
			return
		}

		name := r.PathValue("name")
		rec, err := s.Update(r.Context(), name, u)
		if err != nil {
			log.Error("set %s for %q: %v", u.Field(), name, err)
			writeJSONError(w, http.StatusInternalServerError, "store_error", err.Error())
			return
		}
		writeJSONResponse(w, rec)
	})))

	mux.Handle("GET /api/regions", jsonOnly(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONResponse(w, regionCounts(s.Catalog()))
	})))

	mux.Handle("GET /api/stats", jsonOnly(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st, err := s.Stats(r.Context())
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "store_error", err.Error())
			return
		}
		writeJSONResponse(w, st)
	})))

	mux.HandleFunc("GET /api/export", func(w http.ResponseWriter, r *http.Request) {
		image, err := s.Export(r.Context())
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "store_error", err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/x-sqlite3")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", session.ExportFileName(time.Now())))
		w.Header().Set("Content-Length", strconv.Itoa(len(image)))
		w.Write(image)
	})

	mux.HandleFunc("POST /api/import", func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportSize))
		if err != nil {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "too_large", err.Error())
			return
		}
		report, err := s.Import(r.Context(), data)
		if errors.Is(err, store.ErrCorruptSnapshot) {
			writeJSONError(w, http.StatusUnprocessableEntity, "corrupt_snapshot", "Error importing database. Please check the file format.")
			return
		}
		if err != nil {
			log.Error("import: %v", err)
			writeJSONError(w, http.StatusInternalServerError, "store_error", err.Error())
			return
		}
		for _, f := range report.Failures {
			log.Warn("%v", f)
		}
		writeJSONResponse(w, map[string]any{
			"status":       "imported",
			"addedColumns": report.AddedColumns,
			"seeded":       report.Seeded,
		})
	})

	return mux
}

// rawValue turns a JSON boolean or string into the textual form ParseUpdate takes.
func rawValue(raw json.RawMessage) (string, error) {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return strconv.FormatBool(b), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	return "", errors.New("value must be a boolean or a string")
}

// jsonOnly enforces JSON-only contract for API and admin routes.
func jsonOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accept := r.Header.Get("Accept")
		if !strings.Contains(accept, "application/json") && !strings.Contains(accept, "*/*") && accept != "" {
			writeJSONError(w, http.StatusNotAcceptable, "not_acceptable", "Accept must include application/json")
			return
		}
		if r.Method != http.MethodGet && !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			writeJSONError(w, http.StatusUnsupportedMediaType, "unsupported_media_type", "Content-Type must be application/json")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func writeJSONResponse(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": msg,
	})
}
