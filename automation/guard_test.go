package automation

import (
	"academy/models"
	"academy/rules"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestTagStoreRecordStrict(t *testing.T) {
	db := newTestDB(t)
	store := NewTagStore(db, zaptest.NewLogger(t))
	user := createUser(t, db, "lead@academy.test", models.RoleUser)
	ctx := context.Background()

	first, created, err := store.Record(ctx, user.ID, "  Gut_Health_Purchased ", nil, rules.ClassStrict)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "gut_health_purchased", first.Tag)

	again, created, err := store.Record(ctx, user.ID, "gut_health_purchased", nil, rules.ClassStrict)
	require.Error(t, err)
	assert.True(t, IsTagExists(err))
	assert.False(t, created)
	require.NotNil(t, again)
	assert.Equal(t, first.ID, again.ID)

	assert.EqualValues(t, 1, count(t, db, &models.UserTag{}, "user_id = ?", user.ID))
}

func TestTagStoreRecordUpsert(t *testing.T) {
	db := newTestDB(t)
	store := NewTagStore(db, zaptest.NewLogger(t))
	user := createUser(t, db, "lead@academy.test", models.RoleUser)
	ctx := context.Background()

	value := " vip "
	row, created, err := store.Record(ctx, user.ID, "dfy_launch", &value, rules.ClassUpsert)
	require.NoError(t, err)
	assert.True(t, created)
	require.NotNil(t, row.Value)
	assert.Equal(t, "vip", *row.Value)

	row2, created, err := store.Ensure(ctx, user.ID, "DFY_LAUNCH", nil)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, row.ID, row2.ID)
	assert.EqualValues(t, 1, count(t, db, &models.UserTag{}, ""))
}

func TestTagStoreRecordInvalid(t *testing.T) {
	db := newTestDB(t)
	store := NewTagStore(db, zaptest.NewLogger(t))

	_, _, err := store.Record(context.Background(), 1, "   ", nil, rules.ClassStrict)
	require.Error(t, err)
	assert.Equal(t, ErrCodeInvalidGrant, ErrorCode(err))

	_, _, err = store.Record(context.Background(), 0, "tag", nil, rules.ClassStrict)
	assert.Equal(t, ErrCodeInvalidGrant, ErrorCode(err))
}

func TestTagStoreDelete(t *testing.T) {
	db := newTestDB(t)
	store := NewTagStore(db, zaptest.NewLogger(t))
	user := createUser(t, db, "lead@academy.test", models.RoleUser)
	ctx := context.Background()

	row, _, err := store.Record(ctx, user.ID, "webinar_attended", nil, rules.ClassStrict)
	require.NoError(t, err)

	deleted, err := store.Delete(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, "webinar_attended", deleted.Tag)
	assert.EqualValues(t, 0, count(t, db, &models.UserTag{}, ""))

	_, err = store.Delete(ctx, row.ID)
	require.Error(t, err)
	assert.Equal(t, ErrCodeTagNotFound, ErrorCode(err))

	// Deleted strict tags can be granted again.
	_, created, err := store.Record(ctx, user.ID, "webinar_attended", nil, rules.ClassStrict)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestTagStoreSuggestions(t *testing.T) {
	db := newTestDB(t)
	store := NewTagStore(db, zaptest.NewLogger(t))
	ctx := context.Background()

	u1 := createUser(t, db, "one@academy.test", models.RoleUser)
	u2 := createUser(t, db, "two@academy.test", models.RoleUser)
	require.NoError(t, db.Model(u1).Update("acquisition_source", "Facebook").Error)
	require.NoError(t, db.Model(u2).Update("acquisition_source", "facebook").Error)
	require.NoError(t, db.Create(&models.MarketingTag{Slug: "spring_sale"}).Error)
	require.NoError(t, db.Create(&models.MarketingTag{Slug: "webinar_attended"}).Error)

	_, _, err := store.Record(ctx, u1.ID, "webinar_attended", nil, rules.ClassStrict)
	require.NoError(t, err)
	_, _, err = store.Record(ctx, u2.ID, "webinar_attended", nil, rules.ClassStrict)
	require.NoError(t, err)
	_, _, err = store.Record(ctx, u2.ID, "lead", nil, rules.ClassUpsert)
	require.NoError(t, err)

	got, err := store.Suggestions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"lead", "source:facebook", "spring_sale", "webinar_attended"}, got)
}

func TestTagStoreListForUser(t *testing.T) {
	db := newTestDB(t)
	store := NewTagStore(db, zaptest.NewLogger(t))
	ctx := context.Background()
	user := createUser(t, db, "lead@academy.test", models.RoleUser)
	other := createUser(t, db, "other@academy.test", models.RoleUser)

	for _, tag := range []string{"a", "b"} {
		_, _, err := store.Record(ctx, user.ID, tag, nil, rules.ClassStrict)
		require.NoError(t, err)
	}
	_, _, err := store.Record(ctx, other.ID, "c", nil, rules.ClassStrict)
	require.NoError(t, err)

	tags, err := store.ListForUser(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, "a", tags[0].Tag)
	assert.Equal(t, "b", tags[1].Tag)
}
