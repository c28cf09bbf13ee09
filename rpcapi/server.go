package rpcapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/golang/glog"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensmt/smtd/service"
	"github.com/opensmt/smtd/storage"
)

// Server is the JSON-RPC 2.0 HTTP adapter around a service.Service,
// plus /healthz and /metrics.
type Server struct {
	svc    *service.Service
	router *mux.Router
}

// NewServer builds a Server dispatching onto svc.
func NewServer(svc *service.Service) *Server {
	s := &Server{svc: svc, router: mux.NewRouter()}
	s.router.HandleFunc("/", s.handleRPC).Methods(http.MethodPost)
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, errorResponse(nil, codeParseError, "parse error: "+err.Error()))
		return
	}
	if req.JSONRPC != jsonrpcVersion {
		writeJSON(w, errorResponse(req.ID, codeInvalidRequest, "jsonrpc must be \"2.0\""))
		return
	}

	ctx := r.Context()
	resp := s.dispatch(ctx, req)
	writeJSON(w, resp)
}

func (s *Server) dispatch(ctx context.Context, req request) response {
	switch req.Method {
	case "update_memory_smt":
		return s.handleUpdateMemory(ctx, req)
	case "update_db_smt":
		return s.handleUpdateDB(ctx, req)
	case "update_db_smt_middle":
		return s.handleUpdateDBSequenced(ctx, req)
	case "get_smt_root":
		return s.handleGetRoot(ctx, req)
	case "delete_smt":
		return s.handleDelete(ctx, req)
	default:
		return errorResponse(req.ID, codeMethodNotFound, "unknown method: "+req.Method)
	}
}

func (s *Server) handleUpdateMemory(ctx context.Context, req request) response {
	var p updateParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return errorResponse(req.ID, codeInvalidParams, err.Error())
	}
	pairs, err := p.toPairs()
	if err != nil {
		return errorResponse(req.ID, codeInvalidParams, err.Error())
	}
	root, proofs, err := s.svc.BuildInMemory(ctx, pairs, p.Opt.toServiceOpt())
	if err != nil {
		return mapError(req.ID, err)
	}
	return resultResponse(req.ID, updateResult{
		Root:   encodeHash(root),
		Proofs: proofsToHex(proofs, p.Opt.GetProof),
	})
}

func (s *Server) handleUpdateDB(ctx context.Context, req request) response {
	var p updateParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return errorResponse(req.ID, codeInvalidParams, err.Error())
	}
	pairs, err := p.toPairs()
	if err != nil {
		return errorResponse(req.ID, codeInvalidParams, err.Error())
	}
	root, proofs, err := s.svc.UpdatePersistent(ctx, p.TreeName, pairs, p.Opt.toServiceOpt())
	if err != nil {
		return mapError(req.ID, err)
	}
	return resultResponse(req.ID, updateResult{
		Root:   encodeHash(root),
		Proofs: proofsToHex(proofs, p.Opt.GetProof),
	})
}

func (s *Server) handleUpdateDBSequenced(ctx context.Context, req request) response {
	var p updateParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return errorResponse(req.ID, codeInvalidParams, err.Error())
	}
	pairs, err := p.toPairs()
	if err != nil {
		return errorResponse(req.ID, codeInvalidParams, err.Error())
	}
	roots, proofs, err := s.svc.UpdatePersistentSequenced(ctx, p.TreeName, pairs, p.Opt.toServiceOpt())
	if err != nil {
		return mapError(req.ID, err)
	}
	return resultResponse(req.ID, sequencedResult{
		Roots:  rootsToHex(roots),
		Proofs: proofsToHex(proofs, p.Opt.GetProof),
	})
}

func (s *Server) handleGetRoot(ctx context.Context, req request) response {
	var p treeNameParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return errorResponse(req.ID, codeInvalidParams, err.Error())
	}
	root, err := s.svc.GetRoot(ctx, p.TreeName)
	if err != nil {
		return mapError(req.ID, err)
	}
	return resultResponse(req.ID, encodeHash(root))
}

func (s *Server) handleDelete(ctx context.Context, req request) response {
	var p treeNameParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return errorResponse(req.ID, codeInvalidParams, err.Error())
	}
	ok, err := s.svc.Wipe(ctx, p.TreeName)
	if err != nil {
		return mapError(req.ID, err)
	}
	return resultResponse(req.ID, ok)
}

// mapError translates a service/storage/smt error into a JSON-RPC
// error response. It never leaks an internal Go error's full detail
// beyond its message text, and it never lets a panic escape to the
// client: panics are reserved for programmer bugs and are handled by
// net/http's per-request recover, not by this adapter.
func mapError(id json.RawMessage, err error) response {
	var invalidInput *service.InvalidInputError
	switch {
	case errors.As(err, &invalidInput):
		return errorResponse(id, codeInvalidParams, err.Error())
	case errors.Is(err, storage.ErrStoreUnavailable):
		return errorResponse(id, codeStoreUnavailable, err.Error())
	case errors.Is(err, storage.ErrTransactionConflict):
		return errorResponse(id, codeConflict, err.Error())
	case errors.Is(err, service.ErrWipePostconditionViolated):
		glog.Errorf("rpcapi: wipe postcondition violated: %v", err)
		return errorResponse(id, codeWipeViolated, err.Error())
	default:
		glog.Errorf("rpcapi: internal error: %v", err)
		return errorResponse(id, codeInternalError, "internal error")
	}
}

// writeJSON always responds HTTP 200: JSON-RPC carries its own error
// envelope in the body, independent of transport status.
func writeJSON(w http.ResponseWriter, resp response) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
