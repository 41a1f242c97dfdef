package api

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mikeyg42/vigilcam/internal/capture"
	"github.com/mikeyg42/vigilcam/internal/config"
	"github.com/mikeyg42/vigilcam/internal/settings"
	"github.com/mikeyg42/vigilcam/internal/supervisor"
)

const maxConfigBody = 4 << 10

type motionConfigResponse struct {
	EmissionTime  int  `json:"emission_time"`
	LiveTime      int  `json:"live_time"`
	CaptureMode   int  `json:"capture_mode"`
	VideoDuration int  `json:"video_duration"`
	Active        bool `json:"active"`
}

type motionStatusResponse struct {
	Active       bool `json:"active"`
	Remaining    int  `json:"remaining"`
	IsLive       bool `json:"is_live"`
	EmissionTime int  `json:"emission_time"`
}

func (s *Server) handleMotionConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		m := s.deps.Settings.Get()
		writeJSON(w, http.StatusOK, motionConfigResponse{
			EmissionTime:  m.EmissionTime,
			LiveTime:      m.LiveTime,
			CaptureMode:   int(m.CaptureMode),
			VideoDuration: m.VideoDuration,
			Active:        s.deps.Gate.IsActive(),
		})
	case http.MethodPost:
		s.updateMotionConfig(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) updateMotionConfig(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxConfigBody)

	u, err := parseMotionUpdate(r)
	if err != nil {
		writeFail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if _, err := s.deps.Settings.Update(u); err != nil {
		if errors.Is(err, settings.ErrNoValidFields) {
			writeFail(w, http.StatusBadRequest, "invalid parameters")
			return
		}
		s.logger.Error("Failed to save motion settings", zap.Error(err))
		writeFail(w, http.StatusInternalServerError, "failed to save settings")
		return
	}
	writeOK(w)
}

// parseMotionUpdate accepts a JSON body or the form fields time, live,
// mode and vdur. Fields that are not integers are left out.
func parseMotionUpdate(r *http.Request) (config.MotionUpdate, error) {
	var u config.MotionUpdate
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		err := json.NewDecoder(r.Body).Decode(&u)
		return u, err
	}

	if err := r.ParseForm(); err != nil {
		return u, err
	}
	u.EmissionTime = formInt(r, "time")
	u.LiveTime = formInt(r, "live")
	u.CaptureMode = formInt(r, "mode")
	u.VideoDuration = formInt(r, "vdur")
	return u, nil
}

func formInt(r *http.Request, key string) *int {
	v := r.Form.Get(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil
	}
	return &n
}

func (s *Server) handleMotionForce(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	s.deps.Gate.ForceOn()
	writeOK(w)
}

func (s *Server) handleMotionStop(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	s.deps.Gate.ForceOff()
	writeOK(w)
}

func (s *Server) motionStatus() motionStatusResponse {
	st := s.deps.Gate.Status()
	return motionStatusResponse{
		Active:       st.Active,
		Remaining:    st.Remaining,
		IsLive:       st.Live,
		EmissionTime: s.deps.Settings.Get().EmissionTime,
	}
}

func (s *Server) handleMotionStatus(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	noCache(w)
	writeJSON(w, http.StatusOK, s.motionStatus())
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	if err := s.deps.Capture.RequestCapture(supervisor.ReasonManual); err != nil {
		if errors.Is(err, capture.ErrBusy) {
			writeFail(w, http.StatusConflict, "capture already in progress")
			return
		}
		writeFail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeOK(w)
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	if s.deps.Journal == nil {
		writeFail(w, http.StatusNotFound, "journal disabled")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.deps.Journal.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Warn("Journal query failed", zap.Error(err))
		writeFail(w, http.StatusServiceUnavailable, "journal not available")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(entries),
		"entries": entries,
	})
}

const (
	wsPushInterval = time.Second
	wsWriteWait    = 5 * time.Second
	wsPongWait     = 60 * time.Second
)

func (s *Server) upgrader() *websocket.Upgrader {
	allowAll := false
	allowed := make(map[string]bool, len(s.cfg.AllowedOrigins))
	for _, o := range s.cfg.AllowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}
	return &websocket.Upgrader{
		ReadBufferSize:  512,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return allowAll || origin == "" || allowed[origin] || origin == "http://"+r.Host
		},
	}
}

// handleMotionWS pushes the motion status once per second until the client
// goes away.
func (s *Server) handleMotionWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an error status.
		s.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	log := s.logger.With(zap.String("remote", r.RemoteAddr))
	log.Debug("Status websocket opened")

	// Reader: handles pongs and close frames, discards everything else.
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Debug("Status websocket read error", zap.Error(err))
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPushInterval)
	defer ticker.Stop()
	ping := time.NewTicker(wsPongWait / 2)
	defer ping.Stop()

	push := func() error {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(s.motionStatus())
	}
	if err := push(); err != nil {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			return
		case <-closed:
			log.Debug("Status websocket closed")
			return
		case <-ticker.C:
			if err := push(); err != nil {
				log.Debug("Status websocket write failed", zap.Error(err))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
