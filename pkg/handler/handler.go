package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/rius2g/splitgroup/pkg/dataprotector"
	gp "github.com/rius2g/splitgroup/pkg/groupProcessor"
	"github.com/rius2g/splitgroup/pkg/logging"
	t "github.com/rius2g/splitgroup/pkg/types"
)

// Pipeline is what the HTTP surface drives. *groupProcessor.GroupProcessor
// satisfies it.
type Pipeline interface {
	CreateGroup(ctx context.Context, req gp.CreateGroupRequest) (t.Progress, error)
	Deploy(ctx context.Context, req gp.DeployRequest) (t.Progress, error)
	Protect(ctx context.Context, req gp.ProtectRequest) (t.Progress, error)
	Push(ctx context.Context, group, protectedData string) (common.Hash, error)
	Resume(ctx context.Context, flowID string) (t.Progress, error)
	Flow(ctx context.Context, id string) (t.Progress, error)
	Flows(ctx context.Context, owner string) ([]t.Progress, error)
	Groups(ctx context.Context, owner string) ([]t.Group, error)
	Group(ctx context.Context, address string) (t.Group, error)
	Members(ctx context.Context, group string) ([]common.Address, error)
	GrantAccess(ctx context.Context, req t.GrantAccessRequest) (t.GrantedAccess, error)
}

var _ Pipeline = (*gp.GroupProcessor)(nil)

type APIHandler struct {
	Pipeline    Pipeline
	DataChainID uint64
}

func NewHandler(pipeline Pipeline, dataChainID uint64) *APIHandler {
	return &APIHandler{Pipeline: pipeline, DataChainID: dataChainID}
}

type errorResponse struct {
	StatusCode int    `json:"statusCode"`
	Error      string `json:"error"`
}

type pushRequest struct {
	ProtectedData string `json:"protectedData"`
}

type pushResponse struct {
	Group         string      `json:"group"`
	ProtectedData string      `json:"protectedData"`
	TxHash        common.Hash `json:"txHash"`
}

type membersResponse struct {
	Group   string           `json:"group"`
	Members []common.Address `json:"members"`
}

// Routes registers every endpoint on r.
func (h *APIHandler) Routes(r *mux.Router, metrics http.Handler) {
	r.HandleFunc("/healthz", h.Health).Methods(http.MethodGet)
	if metrics != nil {
		r.Handle("/metrics", metrics).Methods(http.MethodGet)
	}

	r.HandleFunc("/groups", h.CreateGroup).Methods(http.MethodPost)
	r.HandleFunc("/groups", h.ListGroups).Methods(http.MethodGet)
	r.HandleFunc("/groups/deploy", h.Deploy).Methods(http.MethodPost)
	r.HandleFunc("/groups/{address}", h.GetGroup).Methods(http.MethodGet)
	r.HandleFunc("/groups/{address}/push", h.Push).Methods(http.MethodPost)
	r.HandleFunc("/groups/{address}/members", h.Members).Methods(http.MethodGet)
	r.HandleFunc("/protect", h.Protect).Methods(http.MethodPost)
	r.HandleFunc("/grants", h.GrantAccess).Methods(http.MethodPost)
	r.HandleFunc("/flows", h.ListFlows).Methods(http.MethodGet)
	r.HandleFunc("/flows/{id}", h.GetFlow).Methods(http.MethodGet)
	r.HandleFunc("/flows/{id}/resume", h.Resume).Methods(http.MethodPost)
	r.HandleFunc("/explorer/{kind}/{address}", h.Explorer).Methods(http.MethodGet)
}

// GET /healthz
func (h *APIHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// POST /groups
func (h *APIHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req gp.CreateGroupRequest
	if !readBody(w, r, &req) {
		return
	}
	p, err := h.Pipeline.CreateGroup(r.Context(), req)
	if err != nil && p.ID != "" {
		// the flow exists and can be resumed
		writeJSON(w, statusFor(err), p)
		return
	}
	if err != nil {
		setErrorStatus(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// POST /groups/deploy
func (h *APIHandler) Deploy(w http.ResponseWriter, r *http.Request) {
	var req gp.DeployRequest
	if !readBody(w, r, &req) {
		return
	}
	p, err := h.Pipeline.Deploy(r.Context(), req)
	if err != nil {
		setErrorStatus(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// POST /protect
func (h *APIHandler) Protect(w http.ResponseWriter, r *http.Request) {
	var req gp.ProtectRequest
	if !readBody(w, r, &req) {
		return
	}
	p, err := h.Pipeline.Protect(r.Context(), req)
	if err != nil {
		setErrorStatus(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// POST /groups/{address}/push
func (h *APIHandler) Push(w http.ResponseWriter, r *http.Request) {
	group := mux.Vars(r)["address"]
	var req pushRequest
	if !readBody(w, r, &req) {
		return
	}
	hash, err := h.Pipeline.Push(r.Context(), group, req.ProtectedData)
	if err != nil {
		setErrorStatus(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, pushResponse{Group: group, ProtectedData: req.ProtectedData, TxHash: hash})
}

// GET /groups?owner=
func (h *APIHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.Pipeline.Groups(r.Context(), r.URL.Query().Get("owner"))
	if err != nil {
		setErrorStatus(r.Context(), w, err)
		return
	}
	if groups == nil {
		groups = []t.Group{}
	}
	writeJSON(w, http.StatusOK, groups)
}

// GET /groups/{address}
func (h *APIHandler) GetGroup(w http.ResponseWriter, r *http.Request) {
	group, err := h.Pipeline.Group(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		setErrorStatus(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

// GET /groups/{address}/members
func (h *APIHandler) Members(w http.ResponseWriter, r *http.Request) {
	group := mux.Vars(r)["address"]
	members, err := h.Pipeline.Members(r.Context(), group)
	if err != nil {
		setErrorStatus(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, membersResponse{Group: group, Members: members})
}

// POST /grants
func (h *APIHandler) GrantAccess(w http.ResponseWriter, r *http.Request) {
	var req t.GrantAccessRequest
	if !readBody(w, r, &req) {
		return
	}
	access, err := h.Pipeline.GrantAccess(r.Context(), req)
	if err != nil {
		setErrorStatus(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, access)
}

// GET /flows?owner=
func (h *APIHandler) ListFlows(w http.ResponseWriter, r *http.Request) {
	flows, err := h.Pipeline.Flows(r.Context(), r.URL.Query().Get("owner"))
	if err != nil {
		setErrorStatus(r.Context(), w, err)
		return
	}
	if flows == nil {
		flows = []t.Progress{}
	}
	writeJSON(w, http.StatusOK, flows)
}

// GET /flows/{id}
func (h *APIHandler) GetFlow(w http.ResponseWriter, r *http.Request) {
	p, err := h.Pipeline.Flow(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		setErrorStatus(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// POST /flows/{id}/resume
func (h *APIHandler) Resume(w http.ResponseWriter, r *http.Request) {
	p, err := h.Pipeline.Resume(r.Context(), mux.Vars(r)["id"])
	if err != nil && p.ID != "" {
		writeJSON(w, statusFor(err), p)
		return
	}
	if err != nil {
		setErrorStatus(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GET /explorer/{kind}/{address}?chainId=
func (h *APIHandler) Explorer(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	chainID := h.DataChainID
	if raw := r.URL.Query().Get("chainId"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			setErrorStatus(r.Context(), w, errors.Wrap(t.ErrUnsupportedNetwork, "chainId"))
			return
		}
		chainID = id
	}
	url, ok := dataprotector.ExplorerURL(chainID, vars["address"], vars["kind"])
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{StatusCode: http.StatusNotFound, Error: "No explorer for this network"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func readBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{StatusCode: http.StatusBadRequest, Error: "Invalid payload"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func setErrorStatus(ctx context.Context, w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logging.Logger(ctx).Errorw("request failed", "status", status, "error", err)
	} else {
		logging.Logger(ctx).Infow("request rejected", "status", status, "error", err)
	}
	writeJSON(w, status, errorResponse{StatusCode: status, Error: t.UserMessage(err)})
}

func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, t.ErrFlowNotFound):
		return http.StatusNotFound
	case errors.Is(err, t.ErrInvalidAddress), errors.Is(err, t.ErrEmptyName), errors.Is(err, t.ErrNoParticipants),
		errors.Is(err, t.ErrPushNotReady):
		return http.StatusBadRequest
	case errors.Is(err, t.ErrAccessNotGranted):
		return http.StatusForbidden
	case errors.Is(err, t.ErrNotConnected), errors.Is(err, t.ErrNotInitialized):
		return http.StatusUnauthorized
	case errors.Is(err, t.ErrWrongNetwork), errors.Is(err, t.ErrUnsupportedNetwork), errors.Is(err, t.ErrNoProtectedData),
		errors.Is(err, t.ErrFlowConflict):
		return http.StatusConflict
	}
	// chain and data service failures
	return http.StatusBadGateway
}
