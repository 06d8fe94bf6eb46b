package controller

import (
	"errors"

	"automail/engine"
	"automail/middleware"
	"automail/tags"
	"automail/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// MaxBulkEnroll bounds one manual enrollment request.
const MaxBulkEnroll = 1000

type SequenceController struct {
	DB     *gorm.DB
	Engine *engine.Engine
	Logger logrus.FieldLogger
}

func NewSequenceController(db *gorm.DB, eng *engine.Engine, logger logrus.FieldLogger) *SequenceController {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &SequenceController{
		DB:     db,
		Engine: eng,
		Logger: logger,
	}
}

type BulkEnrollRequest struct {
	ContactIDs []uint `json:"contact_ids" validate:"required,min=1,max=1000"`
}

type CancelEnrollmentRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=255"`
}

// BulkEnroll enrolls a list of contacts into a sequence of the caller.
func (sc *SequenceController) BulkEnroll(c *fiber.Ctx) error {
	userID := middleware.UserID(c)
	sequenceID := utils.ParseUint(c.Params("id"))
	if sequenceID == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid sequence ID", nil)
	}

	var req BulkEnrollRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	result, err := sc.Engine.BulkEnroll(c.UserContext(), userID, sequenceID, req.ContactIDs)
	if err != nil {
		return sc.engineError(c, err, "Failed to enroll contacts")
	}

	status := fiber.StatusOK
	if len(result.Created) > 0 {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(utils.SuccessResponse(result))
}

// Stats returns enrollment and send counts of one sequence.
func (sc *SequenceController) Stats(c *fiber.Ctx) error {
	sequenceID := utils.ParseUint(c.Params("id"))
	if sequenceID == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid sequence ID", nil)
	}

	stats, err := sc.Engine.SequenceStats(c.UserContext(), middleware.UserID(c), sequenceID)
	if err != nil {
		return sc.engineError(c, err, "Failed to fetch sequence stats")
	}
	return c.JSON(utils.SuccessResponse(stats))
}

func (sc *SequenceController) GetEnrollment(c *fiber.Ctx) error {
	enrollmentID := utils.ParseUint(c.Params("id"))
	if enrollmentID == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid enrollment ID", nil)
	}

	enrollment, err := sc.Engine.GetEnrollment(c.UserContext(), middleware.UserID(c), enrollmentID)
	if err != nil {
		return sc.engineError(c, err, "Failed to fetch enrollment")
	}
	return c.JSON(utils.SuccessResponse(enrollment))
}

// CancelEnrollment stops an enrollment of the caller and its pending sends.
func (sc *SequenceController) CancelEnrollment(c *fiber.Ctx) error {
	userID := middleware.UserID(c)
	enrollmentID := utils.ParseUint(c.Params("id"))
	if enrollmentID == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid enrollment ID", nil)
	}

	var req CancelEnrollmentRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
		}
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}
	if req.Reason == "" {
		req.Reason = "cancelled_by_user"
	}

	// tenant check before the unscoped engine call
	if _, err := sc.Engine.GetEnrollment(c.UserContext(), userID, enrollmentID); err != nil {
		return sc.engineError(c, err, "Failed to fetch enrollment")
	}

	changed, err := sc.Engine.CancelEnrollment(c.UserContext(), enrollmentID, req.Reason)
	if err != nil {
		return sc.engineError(c, err, "Failed to cancel enrollment")
	}
	if !changed {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Enrollment is already finished", nil)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"message":       "Enrollment cancelled",
		"enrollment_id": enrollmentID,
	}))
}

// ListTags returns the tag catalog of the caller.
func (sc *SequenceController) ListTags(c *fiber.Ctx) error {
	rows, err := tags.List(c.UserContext(), sc.DB, middleware.UserID(c))
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch tags", err)
	}
	return c.JSON(utils.SuccessResponse(rows))
}

// Unsubscribe handles the signed link placed in every sequence email. It is
// public; the token proves the link came from us. Repeated clicks succeed.
func (sc *SequenceController) Unsubscribe(c *fiber.Ctx) error {
	enrollmentID := utils.ParseUint(c.Params("id"))
	if enrollmentID == 0 || !utils.VerifyUnsubscribeToken(enrollmentID, c.Params("token")) {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid unsubscribe link", nil)
	}

	changed, err := sc.Engine.CancelEnrollment(c.UserContext(), enrollmentID, "unsubscribed")
	if err != nil {
		if errors.Is(err, engine.ErrEnrollmentNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Enrollment not found", nil)
		}
		utils.LogError("unsubscribe", err, map[string]interface{}{"enrollment_id": enrollmentID})
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to unsubscribe", nil)
	}

	if changed {
		utils.LogEvent("unsubscribe", map[string]interface{}{"enrollment_id": enrollmentID})
	}

	if c.Method() == fiber.MethodPost {
		return c.SendStatus(fiber.StatusOK)
	}
	c.Type("html")
	return c.SendString("<html><body><p>You have been unsubscribed.</p></body></html>")
}

func (sc *SequenceController) engineError(c *fiber.Ctx, err error, message string) error {
	switch {
	case errors.Is(err, engine.ErrSequenceNotFound):
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Sequence not found", nil)
	case errors.Is(err, engine.ErrEnrollmentNotFound):
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Enrollment not found", nil)
	case errors.Is(err, engine.ErrSequenceNotActive):
		return utils.ErrorResponse(c, fiber.StatusConflict, "Sequence is not active", nil)
	case errors.Is(err, engine.ErrNoSteps):
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Sequence has no steps", nil)
	}

	sc.Logger.WithError(err).WithField("path", c.Path()).Error(message)
	utils.LogError("sequence_api", err, map[string]interface{}{"path": c.Path()})
	return utils.ErrorResponse(c, fiber.StatusInternalServerError, message, nil)
}
