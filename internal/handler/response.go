package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/dopaminelite/filestorage/internal/domain"
)

// ErrorBody is the JSON envelope for every failed request
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// StatusFor maps a lifecycle error kind to its HTTP status
func StatusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindBadRequest:
		return fiber.StatusBadRequest
	case domain.KindNotFound:
		return fiber.StatusNotFound
	case domain.KindStorage:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

// writeError renders err; internal causes are never exposed to the client
func writeError(c *fiber.Ctx, err error) error {
	var de *domain.Error
	if !errors.As(err, &de) {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorBody{Error: ErrorDetail{
			Code:    string(domain.KindInternal),
			Message: "internal server error",
		}})
	}
	return c.Status(StatusFor(de.Kind)).JSON(ErrorBody{Error: ErrorDetail{
		Code:    string(de.Kind),
		Message: de.Message,
		Details: de.Details,
	}})
}

func badRequest(c *fiber.Ctx, message, field string) error {
	return writeError(c, domain.NewBadRequest(message).WithDetail("field", field))
}
