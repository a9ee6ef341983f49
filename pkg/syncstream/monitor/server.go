package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"
)

type Server struct {
	monitor        *Monitor
	srv            *http.Server
	updateInterval time.Duration
	logger         zerolog.Logger
}

func NewServer(m *Monitor, port int, updateInterval time.Duration, logger zerolog.Logger) *Server {
	s := &Server{
		monitor:        m,
		srv:            &http.Server{Addr: fmt.Sprintf(":%d", port)},
		updateInterval: updateInterval,
		logger:         logger,
	}
	s.srv.Handler = s.Router()
	return s
}

func (s *Server) Router() http.Handler {
	handler := httprouter.New()
	handler.GET("/", s.index)
	handler.GET("/status", s.status)
	handler.GET("/power.png", s.power)
	handler.GET("/spectrum.png", s.spectrum)
	return handler
}

func (s *Server) index(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.Header().Add("Content-Type", "text/html")
	fmt.Fprintf(w, `<html><head><title>syncstream</title></head>
<script type="text/javascript">
	window.onload = function() {
		setInterval(function() {
			for (const id of ['power', 'spectrum']) {
				var image = document.getElementById(id);
				image.src = image.src.split("?")[0] + "?" + new Date().getTime();
			}
		}, %d);
	}
</script>
<body style='background-color: black'>
<div style="display: flex; flex-direction: row; flex-wrap: wrap">
<div><img id="power" src="/power.png" /></div>
<div><img id="spectrum" src="/spectrum.png" /></div>
</div></body></html>`, s.updateInterval.Milliseconds())
}

func (s *Server) status(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.Header().Add("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.monitor.Status()); err != nil {
		s.logger.Warn().Err(err).Msg("failed to write status")
	}
}

func (s *Server) power(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	powers, _ := s.monitor.snapshot()
	if len(powers) == 0 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	s.writeImage(w, func() ([]byte, error) { return powerImage(powers) })
}

func (s *Server) spectrum(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	_, samples := s.monitor.snapshot()
	if len(samples) == 0 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	s.writeImage(w, func() ([]byte, error) { return spectrumImage(samples, s.monitor.sampleRate) })
}

func (s *Server) writeImage(w http.ResponseWriter, draw func() ([]byte, error)) {
	img, err := draw()
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to render plot")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Add("Content-Type", "image/png")
	w.Write(img)
}

// Run serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.srv.Shutdown(shutdown)
	}()

	s.logger.Info().Str("addr", s.srv.Addr).Msg("monitor listening")
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
