package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"shop-auth-service/internal/models"
	"shop-auth-service/internal/service"
	"shop-auth-service/internal/util"
)

// AdminHandler is the admin-role account handler plus the elevation
// endpoint. There is no admin registration route; admins only come from
// elevated users.
type AdminHandler struct {
	*AccountHandler
}

func NewAdminHandler(accounts *service.AccountService, tokens *service.TokenService, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		AccountHandler: NewAccountHandler(models.RoleAdmin, accounts, tokens, logger),
	}
}

type elevateRequest struct {
	UserID string `json:"user_id"`
}

// RegisterRoutes mounts the shared account routes and the admin-only
// elevation route.
func (h *AdminHandler) RegisterRoutes(r chi.Router) {
	h.AccountHandler.RegisterRoutes(r)

	r.Group(func(r chi.Router) {
		r.Use(Authenticator(h.tokens, models.RoleAdmin))
		r.Post("/elevate", h.ElevateUser)
	})
}

// ElevateUser promotes an existing user account to the admin role.
func (h *AdminHandler) ElevateUser(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.sessionClaims(w, r)
	if !ok {
		return
	}

	var req elevateRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithError(w, err)
		return
	}

	if err := h.accounts.ElevateToAdmin(r.Context(), req.UserID); err != nil {
		respondWithError(w, err)
		return
	}

	h.logger.Info("User elevated to admin",
		util.String("user_id", req.UserID),
		util.String("elevated_by", claims.ID),
	)
	respondWithJSON(w, http.StatusOK, successResponse(nil, "User elevated to admin successfully!"))
}
