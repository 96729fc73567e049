package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"medshare/internal/contentstore"
	"medshare/internal/document/model"
	"medshare/internal/document/service"
	"medshare/internal/wallet"
	"medshare/middleware"
	"medshare/pkg/fault"
	"medshare/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
)

// multipartOverhead is the allowance for form boundaries and headers on top
// of the largest accepted file.
const multipartOverhead = 1 << 20

// ActivityLog is the read side of the activity journal.
type ActivityLog interface {
	Recent(ctx context.Context, account string, limit int) ([]model.Activity, error)
}

// DocumentHandler acts for the wallet's active account. Requests whose token
// names another account are refused.
type DocumentHandler struct {
	Uploads  *service.UploadService
	Access   *service.AccessService
	Wallet   service.Wallet
	Activity ActivityLog
	Network  wallet.Network
}

func NewDocumentHandler(uploads *service.UploadService, access *service.AccessService, w service.Wallet, activity ActivityLog, network wallet.Network) *DocumentHandler {
	return &DocumentHandler{Uploads: uploads, Access: access, Wallet: w, Activity: activity, Network: network}
}

type errorResponse struct {
	Error *model.Failure `json:"error"`
}

func (h *DocumentHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	account, err := h.Wallet.Account(r.Context())
	if err != nil {
		writeError(w, fault.WithStage(err, fault.StageWallet))
		return
	}
	writeJSON(w, http.StatusOK, model.SessionResponse{
		Account: account.Hex(),
		ChainID: h.Network.ChainID,
		Network: h.Network.Name,
	})
}

func (h *DocumentHandler) GetFee(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	fee, err := h.Uploads.QuoteFee(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.FeeResponse{Wei: fee.String(), Ether: model.FormatEther(fee)})
}

func (h *DocumentHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, ok := h.actor(w, r); !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, contentstore.MaxBlobSize+multipartOverhead)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, fault.Newf(fault.PayloadTooLarge, fault.StageUpload, "request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		http.Error(w, "Missing file field: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	if err := contentstore.CheckSize(header.Size); err != nil {
		writeError(w, err)
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Failed to read file", http.StatusBadRequest)
		return
	}

	attempt, err := h.Uploads.Upload(r.Context(), model.File{
		Name:      header.Filename,
		MediaType: header.Header.Get("Content-Type"),
		Data:      data,
	}, nil)
	if err != nil {
		logger.Sugar.Errorf("Handler: upload %s failed: %v", header.Filename, err)
		writeJSON(w, statusFor(err), attempt)
		return
	}
	writeJSON(w, http.StatusOK, attempt)
}

func (h *DocumentHandler) GetDocuments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, ok := h.actor(w, r); !ok {
		return
	}
	role, err := model.ParseRole(r.URL.Query().Get("view"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	entries, err := h.Access.Documents(r.Context(), role)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *DocumentHandler) ShareDocument(w http.ResponseWriter, r *http.Request) {
	h.changeAccess(w, r, h.Access.Share)
}

func (h *DocumentHandler) UnshareDocument(w http.ResponseWriter, r *http.Request) {
	h.changeAccess(w, r, h.Access.Unshare)
}

func (h *DocumentHandler) changeAccess(w http.ResponseWriter, r *http.Request, change func(context.Context, string, common.Address) (*model.AccessChange, error)) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, ok := h.actor(w, r); !ok {
		return
	}
	var req model.ShareRequest
	if !decode(w, r, shareSchema, &req) {
		return
	}
	result, err := change(r.Context(), req.Fingerprint, common.HexToAddress(req.Doctor))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *DocumentHandler) GetDoctors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	doctors, err := h.Access.Doctors(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doctors)
}

func (h *DocumentHandler) RegisterDoctor(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, ok := h.actor(w, r); !ok {
		return
	}
	var req model.RegisterDoctorRequest
	if !decode(w, r, registerDoctorSchema, &req) {
		return
	}
	result, err := h.Access.RegisterDoctor(r.Context(), req.Name, req.Specialization)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *DocumentHandler) GetActivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	account, ok := middleware.Account(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if h.Activity == nil {
		http.Error(w, "Activity journal is not configured", http.StatusNotFound)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.Activity.Recent(r.Context(), account.Hex(), limit)
	if err != nil {
		logger.Sugar.Errorf("Handler: failed to read activity: %v", err)
		http.Error(w, "Failed to read activity", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// actor checks the token's account is the wallet's active account.
func (h *DocumentHandler) actor(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	claimed, ok := middleware.Account(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return common.Address{}, false
	}
	active, err := h.Wallet.Account(r.Context())
	if err != nil {
		writeError(w, fault.WithStage(err, fault.StageWallet))
		return common.Address{}, false
	}
	if active != claimed {
		logger.Sugar.Warnf("Token account %s is not the active account %s", claimed.Hex(), active.Hex())
		http.Error(w, "Forbidden: token account is not the active wallet account", http.StatusForbidden)
		return common.Address{}, false
	}
	return active, true
}

// statusFor maps a failure kind to an HTTP status.
func statusFor(err error) int {
	fe, ok := fault.As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch fe.Kind {
	case fault.PreconditionFailed:
		if fe.Stage == fault.StageSharing || fe.Stage == fault.StageRevocation {
			return http.StatusForbidden
		}
		return http.StatusBadRequest
	case fault.PayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case fault.UserRejected, fault.SubmissionRejected:
		return http.StatusConflict
	case fault.InsufficientFunds:
		return http.StatusPaymentRequired
	case fault.StoreUnavailable, fault.StoreRejected:
		return http.StatusBadGateway
	case fault.ChainRejected:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorResponse{Error: model.NewFailure(err)})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Sugar.Errorf("Handler: failed to encode response: %v", err)
	}
}
