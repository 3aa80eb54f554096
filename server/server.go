package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/lookahead/pkg/annotate"
	"github.com/cyclopcam/lookahead/pkg/labeler"
	"github.com/cyclopcam/lookahead/pkg/nn"
	"github.com/cyclopcam/lookahead/pkg/speech"
	"github.com/cyclopcam/lookahead/server/storage"
	"github.com/cyclopcam/lookahead/server/storagecache"
	"github.com/cyclopcam/lookahead/server/util"
	"github.com/julienschmidt/httprouter"
	"gorm.io/gorm"
)

type Server struct {
	Log logs.Log
	DB  *gorm.DB

	config      *Config
	signalIn    chan os.Signal
	httpServer  *http.Server
	httpRouter  *httprouter.Router
	storage     storage.Storage
	imageCache  *storagecache.StorageCache
	tempFiles   *util.TempFiles
	fonts       *annotate.FontLoader
	renderer    *annotate.Renderer
	announcer   *nn.Announcer
	labeler     labeler.Labeler
	synthesizer speech.Synthesizer // nil if speech is disabled
	sharedLabel *LabelSlot         // nil unless Config.SharedSelectedLabel
}

// Collaborators overrides the external services that would otherwise be created from the config
type Collaborators struct {
	Storage     storage.Storage
	Labeler     labeler.Labeler
	Synthesizer speech.Synthesizer
}

func NewServer(configFile string) (*Server, error) {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return nil, err
	}
	return NewServerFromConfig(cfg)
}

func NewServerFromConfig(cfg *Config) (*Server, error) {
	logger, err := logs.NewLog()
	if err != nil {
		return nil, err
	}
	return NewServerWithConfig(logger, cfg, Collaborators{})
}

// NewServerWithConfig creates a server from an already validated config.
// Any non-nil members of override are used instead of the services named in cfg.
func NewServerWithConfig(logger logs.Log, cfg *Config, override Collaborators) (*Server, error) {
	db, err := openDB(logger, cfg.DB)
	if err != nil {
		return nil, err
	}

	// Use our own subdirectory, so that tempPath can be shared with other data
	tempFiles, err := util.NewTempFiles(filepath.Join(cfg.TempPath, "uploads"))
	if err != nil {
		return nil, err
	}

	// Open blob store
	storageServer := override.Storage
	if storageServer == nil {
		if storageServer, err = openStorage(logger, cfg.Storage); err != nil {
			return nil, err
		}
	}
	imageCache := storagecache.NewStorageCache(logger, storageServer, int64(cfg.ImageCacheMB)*1024*1024)

	ctx := context.Background()
	lbl := override.Labeler
	if lbl == nil {
		if lbl, err = openLabeler(ctx, logger, cfg.Labeler); err != nil {
			return nil, err
		}
	}
	synth := override.Synthesizer
	if synth == nil && cfg.Speech.Backend == SpeechGoogle {
		if synth, err = speech.NewGoogleTTS(ctx, logger, cfg.Speech.APIKey); err != nil {
			return nil, err
		}
	}

	// Captions are skipped until the font is ready, so there's no need to wait here
	fonts := annotate.NewFontLoader(logger, cfg.FontPath, cfg.FontSize)
	fonts.Start()

	annotator := annotate.NewAnnotator(annotate.Style{
		Thickness: cfg.Border.Thickness,
		Color:     cfg.Border.Color.RGBA(),
	}, fonts)

	s := &Server{
		Log:         logger,
		DB:          db,
		config:      cfg,
		storage:     storageServer,
		imageCache:  imageCache,
		tempFiles:   tempFiles,
		fonts:       fonts,
		renderer:    annotate.NewRenderer(annotator, annotate.NewResizer(cfg.MaxImageSize), *cfg.Region),
		announcer:   nn.NewAnnouncer(cfg.Announce.Found, cfg.Announce.Nothing),
		labeler:     lbl,
		synthesizer: synth,
	}
	if cfg.SharedSelectedLabel {
		logger.Warnf("sharedSelectedLabel is enabled. Concurrent clients may hear each other's announcements.")
		s.sharedLabel = &LabelSlot{}
	}
	if err := s.setupHttpRoutes(); err != nil {
		return nil, err
	}
	return s, nil
}

func openStorage(logger logs.Log, cfg StorageConfig) (storage.Storage, error) {
	if cfg.GCS != nil {
		// Google Cloud Storage
		return storage.NewStorageGCS(logger, cfg.GCS.Bucket, cfg.GCS.Public)
	} else if cfg.Filesystem != nil {
		// Filesystem
		return storage.NewStorageFS(logger, cfg.Filesystem.Root)
	}
	return nil, fmt.Errorf("One of the storage options must be configured (i.e. either 'filesystem' or 'gcs')")
}

func openLabeler(ctx context.Context, logger logs.Log, cfg LabelerConfig) (labeler.Labeler, error) {
	switch cfg.Backend {
	case LabelerGoogleVision:
		return labeler.NewGoogleVision(ctx, logger, cfg.APIKey)
	case LabelerOllama:
		return labeler.NewOllama(logger, cfg.OllamaURL, cfg.OllamaModel)
	case LabelerNone:
		logger.Warnf("No labeler configured. No objects will ever be found.")
		return &labeler.Fixed{}, nil
	}
	return nil, fmt.Errorf("Unknown labeler backend '%v'", cfg.Backend)
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.httpRouter
}

// ListenHTTP listens on the configured address, and blocks until the server is shut down
func (s *Server) ListenHTTP() error {
	s.Log.Infof("Listening on %v", s.config.Listen)
	s.httpServer = &http.Server{
		Addr:    s.config.Listen,
		Handler: s.httpRouter,
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) ListenForKillSignals() {
	s.Log.Infof("ListenForKillSignals starting")
	s.signalIn = make(chan os.Signal, 1)
	signal.Notify(s.signalIn, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig, ok := <-s.signalIn:
			if ok {
				s.Log.Infof("Received OS signal '%v'. ListenForKillSignals will exit after shutdown", sig.String())
				s.Shutdown()
			} else {
				// This path gets hit when Shutdown() is called by something other than ourselves, and Shutdown() closes the signalIn channel.
				s.Log.Infof("signalIn closed. ListenForKillSignals will exit now")
			}
		}
	}()
}

func (s *Server) Shutdown() {
	s.Log.Infof("Shutdown")
	if s.signalIn != nil {
		signal.Stop(s.signalIn)
		close(s.signalIn)
	}
	if s.httpServer != nil {
		s.Log.Infof("Closing HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := s.httpServer.Shutdown(ctx)
		cancel()
		if err != nil {
			s.Log.Warnf("HTTP server shutdown error: %v", err)
		}
	}
	closeIfCloser(s.Log, "labeler", s.labeler)
	closeIfCloser(s.Log, "synthesizer", s.synthesizer)
	closeIfCloser(s.Log, "storage", s.storage)
	if sqlDB, err := s.DB.DB(); err == nil {
		sqlDB.Close()
	}
	s.Log.Infof("Shutdown complete")
	s.Log.Close()
}

func closeIfCloser(log logs.Log, what string, v any) {
	if c, ok := v.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			log.Warnf("Error closing %v: %v", what, err)
		}
	}
}
