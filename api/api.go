package api

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/pkg/profile"
	log "github.com/sirupsen/logrus"

	"github.com/robo-magellan/cone-nav/msgs"
	"github.com/robo-magellan/cone-nav/nav"
)

type server struct {
	cpuprofile bool
	loop       *nav.Loop
}

// InitServer wires the navigator's HTTP surface: health, status and
// the exec command entry point used by the ground station.
func InitServer(cpuprofile bool, loop *nav.Loop) *mux.Router {

	router := mux.NewRouter().StrictSlash(true)

	s := server{cpuprofile: cpuprofile, loop: loop}

	api := router.PathPrefix("/").Subrouter()

	api.HandleFunc("/nav/-/healthz", s.healthz).Methods(http.MethodGet)
	api.HandleFunc("/nav/status", s.status).Methods(http.MethodGet)
	api.HandleFunc("/nav/exec", s.exec).Methods(http.MethodPost)

	return router
}

func (s *server) healthz(w http.ResponseWriter, r *http.Request) {
	type health struct {
		Status string `json:"status"`
	}

	json.NewEncoder(w).Encode(health{Status: "Ok"})
}

func (s *server) status(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(s.loop.Status())
}

type execRequest struct {
	Command string `json:"command"`
}

func (s *server) exec(w http.ResponseWriter, req *http.Request) {
	if s.cpuprofile {
		defer profile.Start().Stop()
	}

	fields := log.Fields{
		"action": "exec",
	}
	if ip, err := getIp(req); err == nil {
		fields["IP"] = ip
	}
	requestLogger := log.WithFields(fields)

	var r execRequest
	if err := json.NewDecoder(req.Body).Decode(&r); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	switch r.Command {
	case msgs.CmdStart, msgs.CmdReset, msgs.CmdAdjustWaypoints:
	default:
		requestLogger.Warnf("Unknown command '%s'", r.Command)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	requestLogger.Infof("Exec '%s' in state '%s'", r.Command, s.loop.Status().State)
	s.loop.Post(nav.ExecCommand{Command: r.Command})

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"command": r.Command})
}

func getIp(r *http.Request) (string, error) {
	//Get IP from the X-REAL-IP header
	ip := r.Header.Get("X-REAL-IP")
	netIP := net.ParseIP(ip)
	if netIP != nil {
		return ip, nil
	}

	//Get IP from X-FORWARDED-FOR header
	ips := r.Header.Get("X-FORWARDED-FOR")
	splitIps := strings.Split(ips, ",")
	for _, ip := range splitIps {
		netIP := net.ParseIP(ip)
		if netIP != nil {
			return ip, nil
		}
	}

	//Get IP from RemoteAddr
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "", err
	}
	netIP = net.ParseIP(ip)
	if netIP != nil {
		return ip, nil
	}
	return "", fmt.Errorf("No valid ip found")
}
