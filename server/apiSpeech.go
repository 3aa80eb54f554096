package server

import (
	"net/http"

	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

// httpSpeech reads an announcement out loud.
// With ?analysis=<id>, it's the announcement of that analysis. Without it, and only if
// sharedSelectedLabel is enabled, it's the most recent announcement from any client.
func (s *Server) httpSpeech(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	if s.synthesizer == nil {
		www.Panic(http.StatusServiceUnavailable, "Speech is not configured")
	}

	sentence := ""
	if idStr := www.QueryValue(r, "analysis"); idStr != "" {
		sentence = s.getAnalysis(idStr).Sentence
	} else if s.sharedLabel != nil {
		_, latest, ok := s.sharedLabel.Get()
		if !ok {
			www.Panic(http.StatusNotFound, "Nothing has been analyzed yet")
		}
		sentence = latest
	} else {
		www.PanicBadRequestf("The 'analysis' parameter is required")
	}

	voice := s.config.Speech.Voice
	audio, err := s.synthesizer.Synthesize(r.Context(), sentence, voice)
	if err != nil {
		s.Log.Errorf("Error converting '%v' to speech: %v", sentence, err)
		www.PanicServerError("Error converting text to speech")
	}
	w.Header().Set("Content-Type", voice.ContentType())
	www.CacheNever(w)
	w.Write(audio)
}
