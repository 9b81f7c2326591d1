package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/mnohosten/shardkv/pkg/cluster"
	"github.com/mnohosten/shardkv/pkg/lsm"
)

// handleStatus is the liveness probe
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// handleMetrics exposes node counters in Prometheus text format
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	if err := s.exporter.WriteMetrics(w); err != nil {
		s.log.WithError(err).Error("failed to write metrics")
	}
}

// isInternal reports whether the request is a replica hop from another
// coordinator; such requests act on the local engine only.
func isInternal(r *http.Request) bool {
	return r.Header.Get(cluster.HeaderInternal) == "true"
}

// entityKey extracts and validates the id parameter
func entityKey(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "missing or empty id", http.StatusBadRequest)
		return nil, false
	}
	return []byte(id), true
}

// entityQuorum parses the replicas clause, applying cluster defaults
func (s *Server) entityQuorum(w http.ResponseWriter, r *http.Request) (cluster.Quorum, bool) {
	q, err := cluster.ParseQuorum(r.URL.Query().Get("replicas"), s.coord.ClusterSize())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return cluster.Quorum{}, false
	}
	return q, true
}

// writeTimestamp parses the X-Timestamp header of an internal write hop
func writeTimestamp(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	ts, err := strconv.ParseUint(r.Header.Get(cluster.HeaderTimestamp), 10, 64)
	if err != nil {
		http.Error(w, "missing or bad "+cluster.HeaderTimestamp+" header", http.StatusBadRequest)
		return 0, false
	}
	return ts, true
}

func (s *Server) handleEntityGet(w http.ResponseWriter, r *http.Request) {
	key, ok := entityKey(w, r)
	if !ok {
		return
	}

	if isInternal(r) {
		s.handleInternalGet(w, key)
		return
	}

	q, ok := s.entityQuorum(w, r)
	if !ok {
		return
	}

	state, err := s.coord.Get(r.Context(), key, q)
	if err != nil {
		s.collector.RecordGet(false)
		if errors.Is(err, cluster.ErrQuorumUnmet) {
			http.Error(w, "Not Enough Replicas", http.StatusGatewayTimeout)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if !state.Found || state.Tombstone {
		s.collector.RecordGet(true)
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	s.collector.RecordGet(true)
	w.Header().Set(cluster.HeaderTimestamp, strconv.FormatUint(state.Timestamp, 10))
	w.WriteHeader(http.StatusOK)
	w.Write(state.Value)
}

// handleInternalGet answers a replica hop from the local engine, exposing
// the record's timestamp and tombstone state on the wire so the caller can
// merge replicas without another round trip.
func (s *Server) handleInternalGet(w http.ResponseWriter, key []byte) {
	rec, err := s.engine.Get(key)
	if err != nil {
		s.log.WithError(err).Error("local read failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if rec == nil {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	w.Header().Set(cluster.HeaderTimestamp, strconv.FormatUint(rec.Timestamp, 10))
	if rec.Tombstone {
		w.Header().Set(cluster.HeaderTombstone, "true")
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(rec.Value)
}

func (s *Server) handleEntityPut(w http.ResponseWriter, r *http.Request) {
	key, ok := entityKey(w, r)
	if !ok {
		return
	}

	value, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if isInternal(r) {
		ts, ok := writeTimestamp(w, r)
		if !ok {
			return
		}
		if err := s.engine.Upsert(lsm.NewRecord(key, value, ts)); err != nil {
			s.log.WithError(err).Error("local write failed")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
		return
	}

	q, ok := s.entityQuorum(w, r)
	if !ok {
		return
	}

	if err := s.coord.Put(r.Context(), key, value, q); err != nil {
		s.collector.RecordPut(false)
		if errors.Is(err, cluster.ErrQuorumUnmet) {
			http.Error(w, "Not Enough Replicas", http.StatusGatewayTimeout)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.collector.RecordPut(true)
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleEntityDelete(w http.ResponseWriter, r *http.Request) {
	key, ok := entityKey(w, r)
	if !ok {
		return
	}

	if isInternal(r) {
		ts, ok := writeTimestamp(w, r)
		if !ok {
			return
		}
		if err := s.engine.Upsert(lsm.NewTombstone(key, ts)); err != nil {
			s.log.WithError(err).Error("local delete failed")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	q, ok := s.entityQuorum(w, r)
	if !ok {
		return
	}

	if err := s.coord.Delete(r.Context(), key, q); err != nil {
		s.collector.RecordDelete(false)
		if errors.Is(err, cluster.ErrQuorumUnmet) {
			http.Error(w, "Not Enough Replicas", http.StatusGatewayTimeout)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.collector.RecordDelete(true)
	w.WriteHeader(http.StatusAccepted)
}
