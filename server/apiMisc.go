package server

import (
	"net/http"
	"time"

	"github.com/cyclopcam/lookahead/server/storagecache"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

func (s *Server) httpPing(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	type pingJSON struct {
		Time      int64 `json:"time"`
		FontReady bool  `json:"fontReady"`
	}
	ping := &pingJSON{
		Time:      time.Now().Unix(),
		FontReady: s.fonts.Ready(),
	}
	www.SendJSON(w, ping)
}

func (s *Server) httpStats(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	type statsJSON struct {
		ImageCache  storagecache.Stats `json:"imageCache"`
		NumUploads  int64              `json:"numUploads"`
		NumAnalyses int64              `json:"numAnalyses"`
	}
	stats := &statsJSON{
		ImageCache: s.imageCache.Stats(),
	}
	www.Check(s.DB.Table("upload").Count(&stats.NumUploads).Error)
	www.Check(s.DB.Table("analysis").Count(&stats.NumAnalyses).Error)
	www.SendJSON(w, stats)
}
