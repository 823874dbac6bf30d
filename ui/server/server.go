// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/edukit/jobsched"
)

// Server is a simple web server with a WebSocket backend that streams
// the state of the job queue to connected browsers.
type Server struct {
	s       *jobsched.Scheduler
	hub     *hub
	updates chan *Event
}

// New initializes a new Server around the given scheduler.
func New(s *jobsched.Scheduler) *Server {
	return &Server{
		s:       s,
		hub:     newHub(),
		updates: make(chan *Event, 64),
	}
}

// Event is a single message pushed to connected clients: either a
// periodic stats snapshot or a live job state change.
type Event struct {
	Type    string              `json:"type"`
	Stats   *jobsched.Stats     `json:"stats,omitempty"`
	Job     *jobsched.JobRecord `json:"job,omitempty"`
	Message string              `json:"message,omitempty"`
}

// Notify feeds a job state change into the server. It is safe to call
// from the engine's goroutines: events are dropped rather than blocking
// when the channel is full.
func (srv *Server) Notify(record *jobsched.JobRecord) {
	select {
	case srv.updates <- &Event{Type: "JOB_STATE", Job: record}:
	default:
	}
}

// Observer returns an observer that feeds job state changes into the
// server. Pass it to the scheduler via SetObserver.
func (srv *Server) Observer() jobsched.Observer {
	return jobsched.ObserverFunc(srv.Notify)
}

// Serve initializes the mux and starts the web server at the given address.
func (srv *Server) Serve(addr string) error {
	r := http.NewServeMux()
	r.Handle("/ws", wsHandler{srv: srv})
	r.Handle("/", http.FileServer(http.Dir("public")))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.hub.run(ctx)
	go srv.watch(ctx)
	return http.ListenAndServe(addr, r)
}

// watch periodically broadcasts queue statistics and forwards live job
// state changes to the hub.
func (srv *Server) watch(ctx context.Context) {
	t := time.NewTicker(1 * time.Second)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			stats, err := srv.s.Stats(ctx)
			if err != nil {
				continue
			}
			srv.broadcast(&Event{Type: "STATS", Stats: stats})
		case ev := <-srv.updates:
			srv.broadcast(ev)
		}
	}
}

func (srv *Server) broadcast(ev *Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	srv.hub.broadcast <- payload
}
