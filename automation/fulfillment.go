package automation

import (
	"academy/models"
	"academy/rules"
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const DefaultFulfillmentTag = "dfy_purchased"

// FulfillmentOutcome reports the required phase of a done-for-you grant.
type FulfillmentOutcome struct {
	ProductID           uint   `json:"productId"`
	ProductSlug         string `json:"productSlug"`
	ProductName         string `json:"productName"`
	PurchaseID          uint   `json:"purchaseId"`
	Created             bool   `json:"created"`
	AssignedToID        *uint  `json:"assignedToId,omitempty"`
	CanonicalTag        string `json:"canonicalTag"`
	CanonicalTagCreated bool   `json:"canonicalTagCreated"`
	IntakeLink          string `json:"intakeLink"`
}

// FulfillmentHandler turns a done-for-you tag into a purchase assigned to a
// staff member. Every step is an insert-or-fetch, so re-applying the tag
// converges on the same rows.
type FulfillmentHandler struct {
	db      *gorm.DB
	tags    *TagStore
	policy  AssignmentPolicy
	log     *zap.Logger
	baseURL string
}

func NewFulfillmentHandler(db *gorm.DB, tags *TagStore, policy AssignmentPolicy, log *zap.Logger, baseURL string) *FulfillmentHandler {
	return &FulfillmentHandler{
		db:      db,
		tags:    tags,
		policy:  policy,
		log:     log,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Persist runs the required steps (product, assignee, purchase, canonical tag)
// and returns the best-effort notifications for the caller to dispatch.
func (h *FulfillmentHandler) Persist(ctx context.Context, user models.User, spec rules.ProductSpec, canonicalTag, sourceTag string, grantedBy uint) (FulfillmentOutcome, []Notification, error) {
	out := FulfillmentOutcome{CanonicalTag: rules.Normalize(canonicalTag)}
	if out.CanonicalTag == "" {
		out.CanonicalTag = DefaultFulfillmentTag
	}

	product, err := h.findOrCreateProduct(ctx, spec)
	if err != nil {
		return out, nil, actionFailed("create_dfy_product", spec.Slug, err)
	}
	out.ProductID = product.ID
	out.ProductSlug = product.Slug
	out.ProductName = product.Name

	purchase, created, err := h.upsertPurchase(ctx, user.ID, product.ID, sourceTag)
	if err != nil {
		return out, nil, actionFailed("create_dfy_purchase", product.Slug, err)
	}
	out.PurchaseID = purchase.ID
	out.Created = created

	if purchase.AssignedToID == nil {
		if assignee := h.pickAssignee(ctx, *purchase); assignee != nil {
			res := h.db.WithContext(ctx).
				Model(&models.DfyPurchase{}).
				Where("id = ? AND assigned_to_id IS NULL", purchase.ID).
				Update("assigned_to_id", assignee.ID)
			if res.Error != nil {
				h.log.Warn("dfy assignment not saved", zap.Uint("purchase_id", purchase.ID), zap.Error(res.Error))
			} else if res.RowsAffected == 1 {
				id := assignee.ID
				purchase.AssignedToID = &id
			} else if err := h.db.WithContext(ctx).First(purchase, purchase.ID).Error; err != nil {
				h.log.Warn("dfy purchase reload failed", zap.Uint("purchase_id", purchase.ID), zap.Error(err))
			}
		}
	}
	out.AssignedToID = purchase.AssignedToID

	_, tagCreated, err := h.tags.Ensure(ctx, user.ID, out.CanonicalTag, nil)
	if err != nil {
		return out, nil, actionFailed("record_canonical_tag", out.CanonicalTag, err)
	}
	out.CanonicalTagCreated = tagCreated

	out.IntakeLink = fmt.Sprintf("%s/dfy/intake/%d?token=%s", h.baseURL, purchase.ID, purchase.IntakeToken)

	h.log.Info("dfy purchase persisted",
		zap.Uint("user_id", user.ID), zap.Uint("purchase_id", purchase.ID),
		zap.Bool("created", created), zap.String("product", product.Slug))

	return out, h.notifications(user, out, grantedBy), nil
}

func (h *FulfillmentHandler) findOrCreateProduct(ctx context.Context, spec rules.ProductSpec) (*models.DfyProduct, error) {
	slug := strings.TrimSpace(spec.Slug)
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		name = slug
	}
	if err := h.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.DfyProduct{Slug: slug, Name: name, Price: spec.Price}).Error; err != nil {
		return nil, err
	}
	var product models.DfyProduct
	if err := h.db.WithContext(ctx).Where("slug = ?", slug).First(&product).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

func (h *FulfillmentHandler) upsertPurchase(ctx context.Context, userID, productID uint, sourceTag string) (*models.DfyPurchase, bool, error) {
	row := models.DfyPurchase{
		UserID:            userID,
		ProductID:         productID,
		Status:            models.DfyPurchaseStatusPaid,
		FulfillmentStatus: models.FulfillmentPending,
		IntakeToken:       uuid.NewString(),
		SourceTag:         rules.Normalize(sourceTag),
	}
	res := h.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 1 {
		return &row, true, nil
	}
	var existing models.DfyPurchase
	if err := h.db.WithContext(ctx).
		Where("user_id = ? AND product_id = ?", userID, productID).
		First(&existing).Error; err != nil {
		return nil, false, err
	}
	return &existing, false, nil
}

func (h *FulfillmentHandler) pickAssignee(ctx context.Context, purchase models.DfyPurchase) *models.User {
	if h.policy == nil {
		return nil
	}
	assignee, err := h.policy.Assign(ctx, purchase)
	if err != nil {
		h.log.Warn("dfy assignee lookup failed", zap.Uint("purchase_id", purchase.ID), zap.Error(err))
		return nil
	}
	if assignee == nil {
		h.log.Warn("no dfy assignee available", zap.Uint("purchase_id", purchase.ID))
	}
	return assignee
}

func (h *FulfillmentHandler) notifications(user models.User, out FulfillmentOutcome, grantedBy uint) []Notification {
	subject, html := dfyWelcomeEmail(user.Name, out.ProductName, out.IntakeLink)
	ns := []Notification{{
		Kind:      KindDfyWelcomeEmail,
		Channel:   models.ChannelEmail,
		UserID:    user.ID,
		To:        user.Email,
		ToName:    user.Name,
		Subject:   subject,
		HTML:      html,
		DedupeKey: fmt.Sprintf("dfy_purchase:%d:welcome", out.PurchaseID),
		Metadata:  map[string]any{"purchase_id": out.PurchaseID, "product": out.ProductSlug},
	}}

	if out.AssignedToID != nil {
		ns = append(ns, Notification{
			Kind:      KindDfyStaffMessage,
			Channel:   models.ChannelDM,
			UserID:    user.ID,
			SenderID:  grantedBy,
			Recipient: *out.AssignedToID,
			Body:      dfyStaffMessage(user.Name, user.Email, out.ProductName, out.IntakeLink),
			DedupeKey: fmt.Sprintf("dfy_purchase:%d:staff_dm", out.PurchaseID),
			Metadata:  map[string]any{"purchase_id": out.PurchaseID},
		})
	} else {
		h.log.Info("dfy staff message skipped, no assignee", zap.Uint("purchase_id", out.PurchaseID))
	}
	return ns
}
