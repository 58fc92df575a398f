package handler

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dopaminelite/filestorage/internal/domain"
	"github.com/dopaminelite/filestorage/internal/service"
)

// FileHandler handles HTTP requests for stored files
type FileHandler struct {
	files          domain.FileService
	maxUploadBytes int64
	validate       *validator.Validate
	log            zerolog.Logger
}

// NewFileHandler creates a new file handler
func NewFileHandler(files domain.FileService, maxUploadMB int64, log zerolog.Logger) *FileHandler {
	return &FileHandler{
		files:          files,
		maxUploadBytes: maxUploadMB * 1024 * 1024,
		validate:       validator.New(),
		log:            log,
	}
}

// BulkSignRequest is the body of POST /api/v1/files/signed-urls
type BulkSignRequest struct {
	Items []domain.BulkSignItem `json:"items" validate:"dive"`
}

// BulkSignResponse wraps the signed URLs in request order
type BulkSignResponse struct {
	Items []domain.SignedURL `json:"items"`
}

// Upload handles POST /api/v1/files
func (h *FileHandler) Upload(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return badRequest(c, "invalid multipart form: "+err.Error(), "files")
	}

	parts := form.File["files"]
	if len(parts) == 0 {
		return badRequest(c, "missing 'files' field in form data", "files")
	}

	owner, err := parseOwner(formOrQuery(c, form.Value, "createdByUserId"), true)
	if err != nil {
		return writeError(c, err)
	}

	contextType, err := domain.ParseContextType(formOrQuery(c, form.Value, "contextType"))
	if err != nil {
		return writeError(c, err)
	}

	var contextRefID *string
	if ref := formOrQuery(c, form.Value, "contextRefId"); ref != "" {
		contextRefID = &ref
	}

	generateSignedURL := true
	if raw := formOrQuery(c, form.Value, "generateSignedUrl"); raw != "" {
		if generateSignedURL, err = strconv.ParseBool(raw); err != nil {
			return badRequest(c, "generateSignedUrl must be a boolean", "generateSignedUrl")
		}
	}

	for _, part := range parts {
		if part.Size > h.maxUploadBytes {
			return writeError(c, domain.NewBadRequest(
				fmt.Sprintf("file size exceeds maximum of %dMB", h.maxUploadBytes/(1024*1024)),
			).WithDetail("field", "files").WithDetail("fileName", part.Filename))
		}
	}

	results := make([]*domain.UploadResult, 0, len(parts))
	for _, part := range parts {
		content, err := readPart(part)
		if err != nil {
			return writeError(c, domain.NewBadRequest("unable to read file bytes").
				WithDetail("fileName", part.Filename).WithCause(err))
		}

		res, err := h.files.Upload(c.UserContext(), domain.UploadInput{
			Content:           content,
			OriginalFileName:  part.Filename,
			MimeType:          part.Header.Get(fiber.HeaderContentType),
			CreatedByUserID:   owner,
			ContextType:       contextType,
			ContextRefID:      contextRefID,
			GenerateSignedURL: generateSignedURL,
		})
		if err != nil {
			return writeError(c, err)
		}
		results = append(results, res)
	}

	h.log.Debug().Int("count", len(results)).Str("context_type", string(contextType)).Msg("upload request completed")
	return c.Status(fiber.StatusCreated).JSON(results)
}

// List handles GET /api/v1/files
func (h *FileHandler) List(c *fiber.Ctx) error {
	owner, err := parseOwner(c.Query("createdByUserId"), false)
	if err != nil {
		return writeError(c, err)
	}

	var contextType domain.ContextType
	if raw := c.Query("contextType"); raw != "" {
		if contextType, err = domain.ParseContextType(raw); err != nil {
			return writeError(c, err)
		}
	}

	limit, err := queryInt(c, "limit", service.DefaultListLimit)
	if err != nil {
		return writeError(c, err)
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		return writeError(c, err)
	}

	list, err := h.files.List(c.UserContext(), domain.ListInput{
		CreatedByUserID: owner,
		ContextType:     contextType,
		ContextRefID:    c.Query("contextRefId"),
		Limit:           limit,
		Offset:          offset,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(list)
}

// Get handles GET /api/v1/files/:fileId
func (h *FileHandler) Get(c *fiber.Ctx) error {
	file, err := h.files.Get(c.UserContext(), c.Params("fileId"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(file)
}

// Delete handles DELETE /api/v1/files/:fileId
func (h *FileHandler) Delete(c *fiber.Ctx) error {
	if err := h.files.SoftDelete(c.UserContext(), c.Params("fileId")); err != nil {
		return writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// SignOne handles GET /api/v1/files/:fileId/signed-url
func (h *FileHandler) SignOne(c *fiber.Ctx) error {
	intent, err := domain.ParseSignedURLIntent(c.Query("intent"))
	if err != nil {
		return writeError(c, err)
	}
	ttl, err := optionalQueryInt(c, "expiresInSeconds")
	if err != nil {
		return writeError(c, err)
	}

	signed, err := h.files.SignOne(c.UserContext(), c.Params("fileId"), intent, ttl)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(signed)
}

// SignBulk handles POST /api/v1/files/signed-urls
func (h *FileHandler) SignBulk(c *fiber.Ctx) error {
	var req BulkSignRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body", "items")
	}
	if err := h.validate.Struct(req); err != nil {
		return writeError(c, validationError(err))
	}
	for i := range req.Items {
		intent, err := domain.ParseSignedURLIntent(string(req.Items[i].Intent))
		if err != nil {
			return writeError(c, domain.NewBadRequest(fmt.Sprintf("unknown intent %q", req.Items[i].Intent)).
				WithDetail("field", fmt.Sprintf("items[%d].intent", i)))
		}
		req.Items[i].Intent = intent
	}

	ttl, err := optionalQueryInt(c, "expiresInSeconds")
	if err != nil {
		return writeError(c, err)
	}

	items, err := h.files.SignBulk(c.UserContext(), req.Items, ttl)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(BulkSignResponse{Items: items})
}

// parseOwner checks that a present owner id is a UUID and returns it canonicalized
func parseOwner(raw string, required bool) (string, error) {
	if raw == "" {
		if required {
			return "", domain.NewBadRequest("createdByUserId is required").WithDetail("field", "createdByUserId")
		}
		return "", nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", domain.NewBadRequest("createdByUserId must be a UUID").WithDetail("field", "createdByUserId")
	}
	return id.String(), nil
}

// formOrQuery prefers the multipart value and falls back to the query string
func formOrQuery(c *fiber.Ctx, values map[string][]string, key string) string {
	if v := values[key]; len(v) > 0 && v[0] != "" {
		return strings.TrimSpace(v[0])
	}
	return strings.TrimSpace(c.Query(key))
}

func queryInt(c *fiber.Ctx, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.NewBadRequest(key+" must be an integer").WithDetail("field", key)
	}
	return v, nil
}

func optionalQueryInt(c *fiber.Ctx, key string) (*int, error) {
	if c.Query(key) == "" {
		return nil, nil
	}
	v, err := queryInt(c, key, 0)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func readPart(part *multipart.FileHeader) ([]byte, error) {
	f, err := part.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// validationError turns the first validator failure into a BadRequest
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return domain.NewBadRequest(fmt.Sprintf("%s failed on the '%s' rule", fe.Field(), fe.Tag())).
			WithDetail("field", fe.Namespace())
	}
	return domain.NewBadRequest("invalid request body")
}
