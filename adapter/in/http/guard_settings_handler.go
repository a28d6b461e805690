package http

import (
	"phishguard/core/port/in"
	"phishguard/pkg/apperr"
	"phishguard/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// SettingsHandler handles detector settings requests.
type SettingsHandler struct {
	settings in.SettingsService
}

func NewSettingsHandler(settings in.SettingsService) *SettingsHandler {
	return &SettingsHandler{settings: settings}
}

func (h *SettingsHandler) Register(router fiber.Router) {
	router.Get("/settings", h.GetSettings)
	router.Put("/settings", h.UpdateSettings)
	router.Patch("/settings", h.UpdateSettings)
}

func (h *SettingsHandler) GetSettings(c *fiber.Ctx) error {
	return response.OK(c, h.settings.Current())
}

// UpdateSettings saves a partial change. Fields left out keep their value.
func (h *SettingsHandler) UpdateSettings(c *fiber.Ctx) error {
	var req in.UpdateSettingsRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if req.Enabled == nil && req.NotificationsEnabled == nil {
		return apperr.BadRequest("nothing to update")
	}

	s, err := h.settings.Update(c.UserContext(), &req)
	if err != nil {
		return apperr.DatabaseError("save settings", err)
	}
	return response.OK(c, s)
}
