package server

import (
	"github.com/gofiber/fiber/v2"
)

// GetFeatureFlags handles GET /api/features. Partial rollouts are evaluated
// for the caller, so an anonymous request sees them off.
// @Summary Feature flags for the caller
// @Tags ops
// @Produce json
// @Success 200 {object} featureflags.Report
// @Router /api/features [get]
func (s *Server) GetFeatureFlags(c *fiber.Ctx) error {
	return c.JSON(s.featureFlags.Report(viewerID(c)))
}
