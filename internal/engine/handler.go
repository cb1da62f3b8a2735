package engine

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"keysync-backend/internal/metadata"
	"keysync-backend/internal/store"
)

// Handler translates HTTP CRUD requests into repository reads and
// Syncer mutations.
type Handler struct {
	store   *store.Store
	syncer  *Syncer
	fields  FieldRepo
	objects ObjectRepo
	rules   RuleRepo
	keys    KeyRepo
}

func NewHandler(s *store.Store, syncer *Syncer, fields FieldRepo, objects ObjectRepo, rules RuleRepo, keys KeyRepo) *Handler {
	return &Handler{store: s, syncer: syncer, fields: fields, objects: objects, rules: rules, keys: keys}
}

// --- Fields ---

type fieldCreateRequest struct {
	DataLabel string `json:"data_label"`
	Label     string `json:"label"`
}

type fieldUpdateRequest struct {
	Label string `json:"label"`
}

// ListFields handles GET /api/fields
func (h *Handler) ListFields(c *fiber.Ctx) error {
	fields, err := h.fields.FindAll(c.Context(), h.store.DB)
	if err != nil {
		return fmt.Errorf("list fields: %w", err)
	}
	if fields == nil {
		fields = []metadata.Field{}
	}
	return c.JSON(fiber.Map{"data": fields})
}

// CreateField handles POST /api/fields
func (h *Handler) CreateField(c *fiber.Ctx) error {
	var body fieldCreateRequest
	if err := c.BodyParser(&body); err != nil {
		return NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body")
	}
	if body.DataLabel == "" {
		return NewAppError("INVALID_PAYLOAD", 400, "data_label is required")
	}

	field, err := h.syncer.CreateField(c.Context(), body.DataLabel, body.Label)
	if err != nil {
		return fmt.Errorf("create field: %w", err)
	}
	return c.Status(201).JSON(fiber.Map{"data": field})
}

// UpdateField handles PUT /api/fields/:id
func (h *Handler) UpdateField(c *fiber.Ctx) error {
	var body fieldUpdateRequest
	if err := c.BodyParser(&body); err != nil {
		return NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body")
	}

	id := c.Params("id")
	field, err := h.syncer.UpdateField(c.Context(), id, body.Label)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NotFoundError("field", id)
		}
		return fmt.Errorf("update field %s: %w", id, err)
	}
	return c.JSON(fiber.Map{"data": field})
}

// --- Objects ---

type objectRequest struct {
	Attributes map[string]string `json:"attributes"`
}

// ListObjects handles GET /api/objects
func (h *Handler) ListObjects(c *fiber.Ctx) error {
	objects, err := h.objects.FindAll(c.Context(), h.store.DB)
	if err != nil {
		return fmt.Errorf("list objects: %w", err)
	}
	if objects == nil {
		objects = []metadata.Object{}
	}
	return c.JSON(fiber.Map{"data": objects})
}

// GetObject handles GET /api/objects/:id
func (h *Handler) GetObject(c *fiber.Ctx) error {
	id := c.Params("id")
	object, err := h.objects.FindByID(c.Context(), h.store.DB, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NotFoundError("object", id)
		}
		return fmt.Errorf("get object %s: %w", id, err)
	}
	return c.JSON(fiber.Map{"data": object})
}

// CreateObject handles POST /api/objects
func (h *Handler) CreateObject(c *fiber.Ctx) error {
	var body objectRequest
	if err := c.BodyParser(&body); err != nil {
		return NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body")
	}

	object, err := h.syncer.CreateObject(c.Context(), body.Attributes)
	if err != nil {
		return fmt.Errorf("create object: %w", err)
	}
	return c.Status(201).JSON(fiber.Map{"data": object})
}

// UpdateObject handles PUT /api/objects/:id
func (h *Handler) UpdateObject(c *fiber.Ctx) error {
	var body objectRequest
	if err := c.BodyParser(&body); err != nil {
		return NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body")
	}

	id := c.Params("id")
	object, err := h.syncer.UpdateObject(c.Context(), id, body.Attributes)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NotFoundError("object", id)
		}
		return fmt.Errorf("update object %s: %w", id, err)
	}
	return c.JSON(fiber.Map{"data": object})
}

// DeleteObject handles DELETE /api/objects/:id
func (h *Handler) DeleteObject(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.syncer.DeleteObject(c.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NotFoundError("object", id)
		}
		return fmt.Errorf("delete object %s: %w", id, err)
	}
	return c.SendStatus(204)
}

// --- Rules ---

type ruleRequest struct {
	FieldID       string `json:"field_id"`
	Type          string `json:"type"`
	RegexPattern  string `json:"regex_pattern"`
	RegexReplacer string `json:"regex_replacer"`
}

func (r ruleRequest) toInput() (RuleInput, error) {
	in := RuleInput{
		FieldID:  r.FieldID,
		Type:     metadata.GenerationType(r.Type),
		Pattern:  r.RegexPattern,
		Replacer: r.RegexReplacer,
	}
	if in.FieldID == "" {
		return RuleInput{}, NewAppError("INVALID_PAYLOAD", 400, "field_id is required")
	}
	if !in.Type.Valid() {
		return RuleInput{}, NewAppError("INVALID_PAYLOAD", 400, fmt.Sprintf("unknown rule type %q", r.Type))
	}
	if in.Type == metadata.GenerationRegex && in.Pattern == "" {
		return RuleInput{}, NewAppError("INVALID_PAYLOAD", 400, "regex_pattern is required for regex rules")
	}
	return in, nil
}

// ListRules handles GET /api/rules
func (h *Handler) ListRules(c *fiber.Ctx) error {
	rules, err := h.rules.FindAll(c.Context(), h.store.DB)
	if err != nil {
		return fmt.Errorf("list rules: %w", err)
	}
	if rules == nil {
		rules = []metadata.Rule{}
	}
	return c.JSON(fiber.Map{"data": rules})
}

// GetRule handles GET /api/rules/:id
func (h *Handler) GetRule(c *fiber.Ctx) error {
	id := c.Params("id")
	rule, err := h.rules.FindByID(c.Context(), h.store.DB, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NotFoundError("rule", id)
		}
		return fmt.Errorf("get rule %s: %w", id, err)
	}
	return c.JSON(fiber.Map{"data": rule})
}

// CreateRule handles POST /api/rules
func (h *Handler) CreateRule(c *fiber.Ctx) error {
	var body ruleRequest
	if err := c.BodyParser(&body); err != nil {
		return NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body")
	}
	in, err := body.toInput()
	if err != nil {
		return err
	}

	rule, err := h.syncer.CreateRule(c.Context(), in)
	if err != nil {
		var mf *MissingFieldError
		if errors.As(err, &mf) {
			return NotFoundError("field", mf.FieldID)
		}
		return fmt.Errorf("create rule: %w", err)
	}
	return c.Status(201).JSON(fiber.Map{"data": rule})
}

// UpdateRule handles PUT /api/rules/:id
func (h *Handler) UpdateRule(c *fiber.Ctx) error {
	var body ruleRequest
	if err := c.BodyParser(&body); err != nil {
		return NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body")
	}
	in, err := body.toInput()
	if err != nil {
		return err
	}

	id := c.Params("id")
	rule, err := h.syncer.UpdateRule(c.Context(), id, in)
	if err != nil {
		// A missing target field is not a missing rule.
		var mf *MissingFieldError
		if errors.As(err, &mf) {
			return NotFoundError("field", mf.FieldID)
		}
		if errors.Is(err, store.ErrNotFound) {
			return NotFoundError("rule", id)
		}
		return fmt.Errorf("update rule %s: %w", id, err)
	}
	return c.JSON(fiber.Map{"data": rule})
}

// DeleteRule handles DELETE /api/rules/:id
func (h *Handler) DeleteRule(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.syncer.DeleteRule(c.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NotFoundError("rule", id)
		}
		return fmt.Errorf("delete rule %s: %w", id, err)
	}
	return c.SendStatus(204)
}

// --- Keys (read-only; keys are only ever written by synchronization) ---

// ListKeys handles GET /api/keys
func (h *Handler) ListKeys(c *fiber.Ctx) error {
	keys, err := h.keys.FindAll(c.Context(), h.store.DB)
	if err != nil {
		return fmt.Errorf("list keys: %w", err)
	}
	if keys == nil {
		keys = []metadata.Key{}
	}
	return c.JSON(fiber.Map{"data": keys})
}

// GetKey handles GET /api/keys/:rule_id/:object_id
func (h *Handler) GetKey(c *fiber.Ctx) error {
	ruleID := c.Params("rule_id")
	objectID := c.Params("object_id")
	key, err := h.keys.FindByID(c.Context(), h.store.DB, ruleID, objectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NotFoundError("key", ruleID+"/"+objectID)
		}
		return fmt.Errorf("get key %s/%s: %w", ruleID, objectID, err)
	}
	return c.JSON(fiber.Map{"data": key})
}
