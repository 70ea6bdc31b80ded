package automation

import (
	"academy/models"
	"academy/rules"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

var launchProduct = rules.ProductSpec{Slug: "dfy-practice-launch", Name: "Done-For-You Practice Launch", Price: 997}

func newFulfillment(t *testing.T, db *gorm.DB, policy AssignmentPolicy) *FulfillmentHandler {
	log := zaptest.NewLogger(t)
	return NewFulfillmentHandler(db, NewTagStore(db, log), policy, log, "https://academy.test/")
}

func TestFulfillmentPersistUpserts(t *testing.T) {
	db := newTestDB(t)
	staff := createUser(t, db, "Ops@Academy.test", models.RoleStaff)
	user := createUser(t, db, "buyer@academy.test", models.RoleUser)
	handler := newFulfillment(t, db, FixedAssignee{Directory: NewGormStaffDirectory(db), Email: "ops@academy.test"})
	ctx := context.Background()

	first, ns, err := handler.Persist(ctx, *user, launchProduct, "dfy_purchased", "DFY Launch VIP", 0)
	require.NoError(t, err)
	assert.True(t, first.Created)
	require.NotNil(t, first.AssignedToID)
	assert.Equal(t, staff.ID, *first.AssignedToID)
	assert.True(t, first.CanonicalTagCreated)
	assert.True(t, strings.HasPrefix(first.IntakeLink, "https://academy.test/dfy/intake/"))
	require.Len(t, ns, 2)
	assert.Equal(t, KindDfyWelcomeEmail, ns[0].Kind)
	assert.Contains(t, ns[0].HTML, first.IntakeLink)
	assert.Equal(t, KindDfyStaffMessage, ns[1].Kind)
	assert.Equal(t, staff.ID, ns[1].Recipient)
	assert.Contains(t, ns[1].Body, first.IntakeLink)

	second, ns, err := handler.Persist(ctx, *user, launchProduct, "dfy_purchased", "done-for-you-upgrade", 0)
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.False(t, second.CanonicalTagCreated)
	assert.Equal(t, first.PurchaseID, second.PurchaseID)
	assert.Equal(t, first.IntakeLink, second.IntakeLink)
	assert.Len(t, ns, 2)

	assert.EqualValues(t, 1, count(t, db, &models.DfyProduct{}, ""))
	assert.EqualValues(t, 1, count(t, db, &models.DfyPurchase{}, "user_id = ?", user.ID))
	assert.EqualValues(t, 1, count(t, db, &models.UserTag{}, "user_id = ? AND tag = ?", user.ID, "dfy_purchased"))

	var purchase models.DfyPurchase
	require.NoError(t, db.First(&purchase, first.PurchaseID).Error)
	assert.Equal(t, models.FulfillmentPending, purchase.FulfillmentStatus)
	assert.Equal(t, "dfy launch vip", purchase.SourceTag)
}

func TestFulfillmentWithoutAssignee(t *testing.T) {
	db := newTestDB(t)
	user := createUser(t, db, "buyer@academy.test", models.RoleUser)
	handler := newFulfillment(t, db, FixedAssignee{Directory: NewGormStaffDirectory(db), Email: "nobody@academy.test"})
	ctx := context.Background()

	out, ns, err := handler.Persist(ctx, *user, launchProduct, "", "dfy", 0)
	require.NoError(t, err)
	assert.True(t, out.Created)
	assert.Nil(t, out.AssignedToID)
	assert.Equal(t, DefaultFulfillmentTag, out.CanonicalTag)
	require.Len(t, ns, 1)
	assert.Equal(t, KindDfyWelcomeEmail, ns[0].Kind)

	// Staff joins later; re-applying the tag fills the assignee on the existing purchase.
	staff := createUser(t, db, "nobody@academy.test", models.RoleStaff)
	out, ns, err = handler.Persist(ctx, *user, launchProduct, "", "dfy", 0)
	require.NoError(t, err)
	assert.False(t, out.Created)
	require.NotNil(t, out.AssignedToID)
	assert.Equal(t, staff.ID, *out.AssignedToID)
	assert.Len(t, ns, 2)
}

func TestRoundRobinRotates(t *testing.T) {
	db := newTestDB(t)
	a := createUser(t, db, "a@academy.test", models.RoleStaff)
	b := createUser(t, db, "b@academy.test", models.RoleStaff)
	handler := newFulfillment(t, db, RoundRobin{Directory: NewGormStaffDirectory(db), Role: models.RoleStaff, DB: db})
	ctx := context.Background()

	var assigned []uint
	for _, email := range []string{"u1@academy.test", "u2@academy.test", "u3@academy.test"} {
		user := createUser(t, db, email, models.RoleUser)
		out, _, err := handler.Persist(ctx, *user, launchProduct, "", "dfy", 0)
		require.NoError(t, err)
		require.NotNil(t, out.AssignedToID)
		assigned = append(assigned, *out.AssignedToID)
	}
	assert.Equal(t, []uint{a.ID, b.ID, a.ID}, assigned)
}

func TestLeastLoadedPrefersIdleStaff(t *testing.T) {
	db := newTestDB(t)
	busy := createUser(t, db, "busy@academy.test", models.RoleStaff)
	idle := createUser(t, db, "idle@academy.test", models.RoleStaff)
	buyer := createUser(t, db, "old@academy.test", models.RoleUser)
	require.NoError(t, db.Create(&models.DfyProduct{Slug: "other", Name: "Other"}).Error)
	require.NoError(t, db.Create(&models.DfyPurchase{
		UserID: buyer.ID, ProductID: 1, AssignedToID: &busy.ID, IntakeToken: "t-1",
	}).Error)

	policy := LeastLoaded{Directory: NewGormStaffDirectory(db), Role: models.RoleStaff, DB: db}
	pick, err := policy.Assign(context.Background(), models.DfyPurchase{})
	require.NoError(t, err)
	require.NotNil(t, pick)
	assert.Equal(t, idle.ID, pick.ID)

	require.NoError(t, db.Model(&models.DfyPurchase{}).Where("assigned_to_id = ?", busy.ID).
		Update("fulfillment_status", models.FulfillmentDelivered).Error)
	pick, err = policy.Assign(context.Background(), models.DfyPurchase{})
	require.NoError(t, err)
	assert.Equal(t, busy.ID, pick.ID)
}

func TestNewAssignmentPolicy(t *testing.T) {
	dir := NewGormStaffDirectory(nil)

	p, err := NewAssignmentPolicy("", dir, nil, "ops@academy.test", models.RoleStaff)
	require.NoError(t, err)
	assert.IsType(t, FixedAssignee{}, p)

	p, err = NewAssignmentPolicy("Round_Robin", dir, nil, "", models.RoleStaff)
	require.NoError(t, err)
	assert.IsType(t, RoundRobin{}, p)

	p, err = NewAssignmentPolicy("least_loaded", dir, nil, "", models.RoleStaff)
	require.NoError(t, err)
	assert.IsType(t, LeastLoaded{}, p)

	_, err = NewAssignmentPolicy("random", dir, nil, "", models.RoleStaff)
	assert.Error(t, err)
}

func TestFixedAssigneeWithoutEmail(t *testing.T) {
	pick, err := FixedAssignee{Directory: NewGormStaffDirectory(nil)}.Assign(context.Background(), models.DfyPurchase{})
	require.NoError(t, err)
	assert.Nil(t, pick)
}
