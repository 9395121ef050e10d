package handler

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-chat/internal/dto"
	"github.com/noah-isme/gema-chat/internal/service"
	"github.com/noah-isme/gema-chat/internal/utils"
)

// RoomHandler serves the room catalog.
type RoomHandler struct {
	catalog   service.CatalogService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewRoomHandler creates a room handler instance.
func NewRoomHandler(catalog service.CatalogService, validate *validator.Validate, logger zerolog.Logger) *RoomHandler {
	return &RoomHandler{
		catalog:   catalog,
		validator: validate,
		logger:    logger.With().Str("component", "room_handler").Logger(),
	}
}

// Register binds catalog routes. create guards room creation, typically a rate limiter.
func (h *RoomHandler) Register(router fiber.Router, create ...fiber.Handler) {
	router.Get("/", h.list)
	router.Post("/", append(create, h.join)...)
}

func (h *RoomHandler) list(c *fiber.Ctx) error {
	rooms, err := h.catalog.List(requestContext(c))
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to list rooms")
		return utils.Fail(c, fiber.StatusInternalServerError, "failed to list rooms", nil)
	}

	return utils.OK(c, dto.NewRoomResponseSlice(rooms), "rooms", map[string]int{"total": len(rooms)})
}

func (h *RoomHandler) join(c *fiber.Ctx) error {
	var payload dto.RoomJoinRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, "invalid payload", nil)
	}
	payload.Name = strings.TrimSpace(payload.Name)

	if err := h.validator.Struct(payload); err != nil {
		if isValidationError(err) {
			return utils.Fail(c, fiber.StatusUnprocessableEntity, "invalid room name", validationDetails(err))
		}
		return utils.Fail(c, fiber.StatusBadRequest, err.Error(), nil)
	}

	room, err := h.catalog.Join(requestContext(c), payload.Name)
	switch {
	case errors.Is(err, service.ErrInvalidRoomName):
		return utils.Fail(c, fiber.StatusUnprocessableEntity, err.Error(), nil)
	case err != nil:
		requestLogger(h.logger, c).Error().Err(err).Str("name", payload.Name).Msg("failed to join room")
		return utils.Fail(c, fiber.StatusInternalServerError, "failed to join room", nil)
	}

	return utils.OK(c, dto.NewRoomResponse(room), "room ready", nil)
}
