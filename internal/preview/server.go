// Package preview serves the documents produced in watch mode to a browser
// and pushes a reload message over a WebSocket whenever one is regenerated.
package preview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/conneroisu/rxpdf/internal/artifact"
	"github.com/conneroisu/rxpdf/internal/compiler"
	"github.com/conneroisu/rxpdf/internal/logging"
)

// Document is the latest outcome for one record.
type Document struct {
	RecordID   string          `json:"record_id"`
	TemplateID string          `json:"template"`
	Version    string          `json:"version,omitempty"`
	Format     compiler.Format `json:"format"`
	Digest     string          `json:"digest,omitempty"`
	Pages      int             `json:"pages"`
	Error      string          `json:"error,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`

	pages [][]byte
}

// Message is pushed to browsers on every update.
type Message struct {
	Type     string    `json:"type"`
	Document *Document `json:"document,omitempty"`
}

// Message types.
const (
	MessageReload = "reload"
	MessageError  = "error"
)

// Server holds the latest document per record and serves them.
type Server struct {
	addr   string
	hub    *Hub
	logger logging.Logger
	page   *template.Template

	mu   sync.RWMutex
	docs map[string]*Document

	httpServer *http.Server
	listener   net.Listener
}

// New creates a preview Server listening on host:port. Port 0 picks a free
// port at Start.
func New(host string, port int, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	return &Server{
		addr:   addr,
		hub:    NewHub(allowedHosts(host, port), logger),
		logger: logger.WithComponent("preview"),
		page:   template.Must(template.New("index").Parse(indexTemplate)),
		docs:   make(map[string]*Document),
	}
}

func allowedHosts(host string, port int) []string {
	p := strconv.Itoa(port)
	hosts := []string{net.JoinHostPort(host, p)}
	if host != "localhost" {
		hosts = append(hosts, net.JoinHostPort("localhost", p))
	}
	if host != "127.0.0.1" {
		hosts = append(hosts, net.JoinHostPort("127.0.0.1", p))
	}
	return hosts
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /api/documents", s.handleList)
	mux.HandleFunc("GET /documents/{record}/{page}", s.handleDocument)
	mux.Handle("GET /ws", s.hub)
	return mux
}

// Start listens and serves until ctx is cancelled. It returns once the
// listener is bound.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("preview listen: %w", err)
	}
	s.listener = ln

	// Port 0 resolves now; origins must name the real port.
	if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
		host, _, _ := net.SplitHostPort(s.addr)
		s.hub.allowedHosts = allowedHosts(host, tcp.Port)
	}

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.hub.Run(ctx)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(ctx, err, "preview server stopped")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info(ctx, "preview server listening", "url", s.URL())
	return nil
}

// URL returns the address browsers should open.
func (s *Server) URL() string {
	if s.listener != nil {
		return "http://" + s.listener.Addr().String() + "/"
	}
	return "http://" + s.addr + "/"
}

// Publish records a successful generation and tells browsers to reload.
func (s *Server) Publish(h *artifact.Handle) error {
	pages := [][]byte{}
	if len(h.Pages) > 0 {
		for _, p := range h.Pages {
			data, err := p.Bytes()
			if err != nil {
				return err
			}
			pages = append(pages, data)
		}
	} else {
		data, err := h.Bytes()
		if err != nil {
			return err
		}
		pages = append(pages, data)
	}

	doc := &Document{
		RecordID:   h.RecordID,
		TemplateID: h.TemplateID,
		Version:    h.TemplateVersion,
		Format:     h.Format,
		Digest:     h.Digest.String(),
		Pages:      len(pages),
		UpdatedAt:  time.Now(),
		pages:      pages,
	}
	s.store(doc)
	s.send(Message{Type: MessageReload, Document: doc})
	return nil
}

// PublishError records a failed generation. The last good output for the
// record stays available.
func (s *Server) PublishError(recordID, templateID string, cause error) {
	s.mu.Lock()
	doc := &Document{RecordID: recordID, TemplateID: templateID}
	if prev, ok := s.docs[recordID]; ok {
		copied := *prev
		doc = &copied
	}
	doc.Error = cause.Error()
	doc.UpdatedAt = time.Now()
	s.docs[recordID] = doc
	s.mu.Unlock()

	s.send(Message{Type: MessageError, Document: doc})
}

func (s *Server) store(doc *Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.RecordID] = doc
}

func (s *Server) send(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error(context.Background(), err, "encode preview message")
		return
	}
	s.hub.Broadcast(data)
}

// Documents returns the current documents sorted by record id.
func (s *Server) Documents() []*Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]*Document, 0, len(s.docs))
	for _, d := range s.docs {
		docs = append(docs, d)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].RecordID < docs[j].RecordID })
	return docs
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.page.Execute(w, s.Documents()); err != nil {
		s.logger.Error(r.Context(), err, "render preview index")
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.Documents()); err != nil {
		s.logger.Error(r.Context(), err, "encode document list")
	}
}

var contentTypes = map[compiler.Format]string{
	compiler.FormatPDF: "application/pdf",
	compiler.FormatPNG: "image/png",
	compiler.FormatSVG: "image/svg+xml",
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	record := r.PathValue("record")
	page, err := strconv.Atoi(r.PathValue("page"))
	if err != nil || page < 1 {
		http.Error(w, "invalid page", http.StatusBadRequest)
		return
	}

	s.mu.RLock()
	doc, ok := s.docs[record]
	s.mu.RUnlock()
	if !ok || page > len(doc.pages) {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", contentTypes[doc.Format])
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("ETag", strconv.Quote(doc.Digest))
	_, _ = w.Write(doc.pages[page-1])
}

const indexTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>rxpdf preview</title>
<style>
body { font-family: sans-serif; margin: 2rem; }
.doc { margin-bottom: 2rem; }
.error { color: #b00; white-space: pre-wrap; font-family: monospace; }
img, embed { border: 1px solid #ccc; max-width: 100%; }
embed { width: 100%; height: 80vh; }
</style>
</head>
<body>
<h1>rxpdf preview</h1>
{{range .}}
<section class="doc" id="{{.RecordID}}">
<h2>{{.RecordID}} <small>{{.TemplateID}} {{.Version}}</small></h2>
{{if .Error}}<p class="error">{{.Error}}</p>{{end}}
{{$doc := .}}
{{if eq (print .Format) "pdf"}}
<embed src="/documents/{{.RecordID}}/1" type="application/pdf">
{{else}}
{{range .PageList}}<img src="/documents/{{$doc.RecordID}}/{{.}}" alt="page {{.}}">{{end}}
{{end}}
</section>
{{else}}
<p>Waiting for the first document…</p>
{{end}}
<script>
(function () {
  var ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
  ws.onmessage = function () { location.reload(); };
  ws.onclose = function () { setTimeout(function () { location.reload(); }, 1000); };
})();
</script>
</body>
</html>
`

// PageList returns the 1-based page numbers, for templates.
func (d *Document) PageList() []int {
	pages := make([]int, d.Pages)
	for i := range pages {
		pages[i] = i + 1
	}
	return pages
}
