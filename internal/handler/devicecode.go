package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/familyportal/devicelink/internal/errors"
	"github.com/familyportal/devicelink/internal/model"
	"github.com/familyportal/devicelink/internal/service"
)

type createCodeResponse struct {
	Code      string `json:"code"`
	ExpiresIn int64  `json:"expiresIn"`
	Interval  int64  `json:"interval"`
}

type statusResponse struct {
	Status    model.PairingStatus `json:"status"`
	Token     string              `json:"token,omitempty"`
	ExpiresAt int64               `json:"expiresAt,omitempty"`
	User      *model.Identity     `json:"user,omitempty"`
}

// linkRequest accepts "credential" as an alias for "token".
type linkRequest struct {
	Code       string `json:"code"`
	Token      string `json:"token"`
	Credential string `json:"credential"`
}

type linkResponse struct {
	Success bool           `json:"success"`
	User    model.Identity `json:"user"`
}

type DeviceCodeHandler struct {
	pairingService *service.PairingService
	createLimit    func(http.Handler) http.Handler
	linkLimit      func(http.Handler) http.Handler
}

// NewDeviceCodeHandler takes optional middleware for the create and link
// routes, normally per-IP rate limits. Nil means no limit.
func NewDeviceCodeHandler(
	pairingService *service.PairingService,
	createLimit func(http.Handler) http.Handler,
	linkLimit func(http.Handler) http.Handler,
) *DeviceCodeHandler {
	passthrough := func(next http.Handler) http.Handler { return next }
	if createLimit == nil {
		createLimit = passthrough
	}
	if linkLimit == nil {
		linkLimit = passthrough
	}
	return &DeviceCodeHandler{
		pairingService: pairingService,
		createLimit:    createLimit,
		linkLimit:      linkLimit,
	}
}

func (h *DeviceCodeHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.MethodNotAllowed(h.MethodNotAllowed)
	r.With(h.createLimit).Post("/", h.Create)
	r.Get("/", h.Status)
	r.With(h.linkLimit).Put("/", h.Link)

	return r
}

// POST /api/device-code
// TV asks for a new pairing code.
func (h *DeviceCodeHandler) Create(w http.ResponseWriter, r *http.Request) {
	result, err := h.pairingService.CreateCode(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, createCodeResponse{
		Code:      result.Record.Code,
		ExpiresIn: seconds(result.ExpiresIn),
		Interval:  seconds(result.Interval),
	})
}

// GET /api/device-code?code=XXXXXX
// TV polls until the code is linked.
func (h *DeviceCodeHandler) Status(w http.ResponseWriter, r *http.Request) {
	pc, err := h.pairingService.GetStatus(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		writeError(w, err)
		return
	}

	resp := statusResponse{Status: pc.Status}
	if pc.IsLinked() && pc.Credential != nil {
		resp.Token = pc.Credential.Token
		resp.ExpiresAt = epochMillis(pc.Credential.ExpiresAt)
		resp.User = pc.Identity
	}
	writeJSON(w, http.StatusOK, resp)
}

// PUT /api/device-code
// Companion device links a code to its Google access token.
func (h *DeviceCodeHandler) Link(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, apperrors.InvalidInput("body", "must be a JSON object"))
		return
	}

	token := req.Token
	if token == "" {
		token = req.Credential
	}

	identity, err := h.pairingService.Link(r.Context(), req.Code, token)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, linkResponse{Success: true, User: *identity})
}

func (h *DeviceCodeHandler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, apperrors.MethodNotAllowed())
}
