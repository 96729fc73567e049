package router

import (
	"net/http"
	"strings"

	handlers "medshare/handler"
	"medshare/internal/devnet"
	docHandler "medshare/internal/document"
	"medshare/middleware"
	"medshare/pkg/logger"
	"medshare/socket"
)

type Options struct {
	JWTSecret string
	// Blobs, when set, serves locally stored content under /ipfs/ so gateway
	// URLs resolve against this process.
	Blobs *devnet.Blobs
}

func Setup(docs *docHandler.DocumentHandler, health *handlers.HealthHandler, hub *socket.Hub, opts Options) http.Handler {
	mux := http.NewServeMux()
	auth := middleware.Auth(opts.JWTSecret)

	// WebSocket
	wsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account, _ := middleware.Account(r.Context())
		socket.ServeWs(hub, w, r, account.Hex())
	})
	mux.Handle("/ws", auth(wsHandler))

	// REST API
	mux.Handle("/api/session", auth(http.HandlerFunc(docs.GetSession)))
	mux.Handle("/api/fee", auth(http.HandlerFunc(docs.GetFee)))
	mux.Handle("/api/documents/upload", auth(http.HandlerFunc(docs.UploadDocument)))
	mux.Handle("/api/documents", auth(http.HandlerFunc(docs.GetDocuments)))
	mux.Handle("/api/documents/share", auth(http.HandlerFunc(docs.ShareDocument)))
	mux.Handle("/api/documents/unshare", auth(http.HandlerFunc(docs.UnshareDocument)))
	mux.Handle("/api/doctors", auth(http.HandlerFunc(docs.GetDoctors)))
	mux.Handle("/api/doctors/register", auth(http.HandlerFunc(docs.RegisterDoctor)))
	mux.Handle("/api/activity", auth(http.HandlerFunc(docs.GetActivity)))
	mux.HandleFunc("/api/health", health.GetHealth)

	if opts.Blobs != nil {
		mux.HandleFunc("/ipfs/", serveBlob(opts.Blobs))
	}

	return middleware.CORSMiddleware(mux)
}

func serveBlob(blobs *devnet.Blobs) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		fp := strings.TrimPrefix(r.URL.Path, "/ipfs/")
		data, meta, ok, err := blobs.Get(r.Context(), fp)
		if err != nil {
			logger.Sugar.Errorf("Router: failed to read blob %s: %v", fp, err)
			http.Error(w, "Failed to read content", http.StatusInternalServerError)
			return
		}
		if !ok {
			http.NotFound(w, r)
			return
		}
		if meta.MediaType != "" {
			w.Header().Set("Content-Type", meta.MediaType)
		}
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		w.Write(data)
	}
}
