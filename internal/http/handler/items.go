package handler

import (
	"math"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"projectapi/internal/service"
)

type queryError struct {
	code, message string
}

func parseIntQuery(c *fiber.Ctx, key, code string) (int, *queryError) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &queryError{code, "invalid " + key}
	}
	return n, nil
}

func parsePriceQuery(c *fiber.Ctx, key string) (*float64, *queryError) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, &queryError{"INVALID_PRICE", "invalid " + key}
	}
	return &v, nil
}

// parseListParams decodes the list query string. Range normalization of
// limit and offset is left to the service.
func parseListParams(c *fiber.Ctx) (service.ItemListParams, *queryError) {
	var p service.ItemListParams
	var qe *queryError

	if p.Limit, qe = parseIntQuery(c, "limit", "INVALID_LIMIT"); qe != nil {
		return p, qe
	}
	if p.Offset, qe = parseIntQuery(c, "offset", "INVALID_OFFSET"); qe != nil {
		return p, qe
	}
	if p.MinPrice, qe = parsePriceQuery(c, "min_price"); qe != nil {
		return p, qe
	}
	if p.MaxPrice, qe = parsePriceQuery(c, "max_price"); qe != nil {
		return p, qe
	}
	if p.MinPrice != nil && p.MaxPrice != nil && *p.MinPrice > *p.MaxPrice {
		return p, &queryError{"INVALID_PRICE", "min_price must not exceed max_price"}
	}
	if raw := c.Query("owner"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return p, &queryError{"INVALID_OWNER", "invalid owner id"}
		}
		p.OwnerID = &id
	}
	p.Sort = c.Query("sort")
	if _, err := service.ParseSort(p.Sort); err != nil {
		return p, &queryError{"INVALID_SORT", "invalid sort field; use name, price, created_at or updated_at with optional '-'"}
	}
	p.Category = c.Query("category")
	p.Search = c.Query("q")
	return p, nil
}

func parseID(c *fiber.Ctx) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Params("id"))
	return id, err == nil
}

func invalidID(c *fiber.Ctx) error {
	return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
}

// ListItems godoc
// @Summary List items
// @Description Paginated, filterable, sortable listing. Ties are broken by id.
// @Tags Items
// @Produce json
// @Param limit query int false "page size (1..100)" default(10)
// @Param offset query int false "rows to skip" default(0)
// @Param category query string false "exact category"
// @Param q query string false "substring of name or description"
// @Param min_price query number false "inclusive lower price bound"
// @Param max_price query number false "inclusive upper price bound"
// @Param owner query string false "owner user id"
// @Param sort query string false "name, price, created_at or updated_at; prefix '-' for descending" default(-created_at)
// @Success 200 {object} service.ItemListResult
// @Failure 400 {object} errorPayload
// @Router /api/items [get]
func ListItems(svc service.ItemService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, qe := parseListParams(c)
		if qe != nil {
			return writeError(c, fiber.StatusBadRequest, qe.code, qe.message)
		}
		res, err := svc.List(c.UserContext(), p)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(res)
	}
}

// GetItem godoc
// @Summary Get an item
// @Tags Items
// @Produce json
// @Param id path string true "item id"
// @Success 200 {object} model.Item
// @Failure 404 {object} errorPayload
// @Router /api/items/{id} [get]
func GetItem(svc service.ItemService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := parseID(c)
		if !ok {
			return invalidID(c)
		}
		it, err := svc.Get(c.UserContext(), id)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(it)
	}
}

// CreateItem godoc
// @Summary Create an item owned by the caller
// @Tags Items
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body service.ItemInput true "item"
// @Success 201 {object} model.Item
// @Failure 422 {object} errorPayload
// @Router /api/items [post]
func CreateItem(svc service.ItemService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, ok := actorFrom(c)
		if !ok {
			return unauthenticated(c)
		}
		var in service.ItemInput
		if err := c.BodyParser(&in); err != nil {
			return invalidBody(c)
		}
		it, err := svc.Create(c.UserContext(), actor, in)
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(it)
	}
}

// ReplaceItem godoc
// @Summary Replace every editable field of an item
// @Tags Items
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "item id"
// @Param body body service.ItemInput true "item"
// @Success 200 {object} model.Item
// @Failure 403 {object} errorPayload
// @Router /api/items/{id} [put]
func ReplaceItem(svc service.ItemService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, ok := actorFrom(c)
		if !ok {
			return unauthenticated(c)
		}
		id, ok := parseID(c)
		if !ok {
			return invalidID(c)
		}
		var in service.ItemInput
		if err := c.BodyParser(&in); err != nil {
			return invalidBody(c)
		}
		it, err := svc.Replace(c.UserContext(), actor, id, in)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(it)
	}
}

// PatchItem godoc
// @Summary Update some fields of an item
// @Tags Items
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "item id"
// @Param body body service.ItemPatch true "fields to change"
// @Success 200 {object} model.Item
// @Failure 403 {object} errorPayload
// @Router /api/items/{id} [patch]
func PatchItem(svc service.ItemService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, ok := actorFrom(c)
		if !ok {
			return unauthenticated(c)
		}
		id, ok := parseID(c)
		if !ok {
			return invalidID(c)
		}
		var in service.ItemPatch
		if err := c.BodyParser(&in); err != nil {
			return invalidBody(c)
		}
		it, err := svc.Patch(c.UserContext(), actor, id, in)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(it)
	}
}

// DeleteItem godoc
// @Summary Delete an item and its image
// @Tags Items
// @Security BearerAuth
// @Param id path string true "item id"
// @Success 204
// @Failure 403 {object} errorPayload
// @Router /api/items/{id} [delete]
func DeleteItem(svc service.ItemService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, ok := actorFrom(c)
		if !ok {
			return unauthenticated(c)
		}
		id, ok := parseID(c)
		if !ok {
			return invalidID(c)
		}
		if err := svc.Delete(c.UserContext(), actor, id); err != nil {
			return respondError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// UploadItemImage godoc
// @Summary Upload or replace an item's image
// @Tags Items
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param id path string true "item id"
// @Param file formData file true "image"
// @Success 200 {object} model.Item
// @Failure 503 {object} errorPayload
// @Router /api/items/{id}/image [put]
func UploadItemImage(svc service.ItemService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, ok := actorFrom(c)
		if !ok {
			return unauthenticated(c)
		}
		id, ok := parseID(c)
		if !ok {
			return invalidID(c)
		}

		fh, err := c.FormFile("file")
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "FILE_REQUIRED", "file is required")
		}
		f, err := fh.Open()
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "FILE_OPEN_ERROR", "cannot open uploaded file")
		}
		defer f.Close()

		ct := fh.Header.Get("Content-Type")
		if ct == "" {
			ct = "application/octet-stream"
		}

		it, err := svc.UploadImage(c.UserContext(), actor, id, f, fh.Filename, ct, fh.Size)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(it)
	}
}

// ItemImage godoc
// @Summary Redirect to a short-lived download URL for the item's image
// @Tags Items
// @Param id path string true "item id"
// @Success 307
// @Failure 404 {object} errorPayload
// @Router /api/items/{id}/image [get]
func ItemImage(svc service.ItemService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := parseID(c)
		if !ok {
			return invalidID(c)
		}
		u, err := svc.ImageURL(c.UserContext(), id)
		if err != nil {
			return respondError(c, err)
		}
		return c.Redirect(u, fiber.StatusTemporaryRedirect)
	}
}
