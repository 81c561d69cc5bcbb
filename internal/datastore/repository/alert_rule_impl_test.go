package repository

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenfield-iot/agrialert/internal/datastore/entities"
	"github.com/greenfield-iot/agrialert/internal/errors"
	"github.com/greenfield-iot/agrialert/internal/sensor"
)

func newRule(id, userID string, active bool) *entities.AlertRule {
	return &entities.AlertRule{
		ID:         id,
		UserID:     userID,
		Parameter:  sensor.SoilMoisturePct,
		Comparison: "<",
		Threshold:  30,
		Active:     active,
		Contact:    entities.Contact{Type: "email", Value: "farmer@example.com"},
	}
}

func TestAlertRuleRepository_CreateAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAlertRuleRepository(db)
	ctx := t.Context()

	rule := newRule("r1", "u1", true)
	rule.DeviceID = "field-1"
	rule.Critical = true
	require.NoError(t, repo.CreateRule(ctx, rule))

	got, err := repo.GetRule(ctx, "u1", "r1")
	require.NoError(t, err)
	assert.Equal(t, sensor.SoilMoisturePct, got.Parameter)
	assert.Equal(t, "<", got.Comparison)
	assert.InDelta(t, 30.0, got.Threshold, 0)
	assert.True(t, got.Critical)
	assert.True(t, got.Active)
	assert.Equal(t, "field-1", got.DeviceID)
	assert.Equal(t, entities.Contact{Type: "email", Value: "farmer@example.com"}, got.Contact)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestAlertRuleRepository_CreateRequiresIDs(t *testing.T) {
	repo := NewAlertRuleRepository(setupTestDB(t))
	assert.Error(t, repo.CreateRule(t.Context(), newRule("", "u1", true)))
	assert.Error(t, repo.CreateRule(t.Context(), newRule("r1", "", true)))
}

func TestAlertRuleRepository_CreateRules_RollsBack(t *testing.T) {
	repo := NewAlertRuleRepository(setupTestDB(t))
	ctx := t.Context()

	require.NoError(t, repo.CreateRule(ctx, newRule("dup", "u1", true)))

	err := repo.CreateRules(ctx, []*entities.AlertRule{
		newRule("fresh", "u1", true),
		newRule("dup", "u1", true),
	})
	require.Error(t, err, "duplicate primary key fails the batch")

	_, err = repo.GetRule(ctx, "u1", "fresh")
	require.ErrorIs(t, err, ErrAlertRuleNotFound, "earlier inserts are rolled back")

	require.NoError(t, repo.CreateRules(ctx, []*entities.AlertRule{
		newRule("a", "u1", true),
		newRule("b", "u1", false),
	}))
	all, err := repo.ListRules(ctx, AlertRuleFilter{UserID: "u1"})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	assert.Error(t, repo.CreateRules(ctx, []*entities.AlertRule{newRule("", "u1", true)}))
}

func TestAlertRuleRepository_GetRule_OtherUser(t *testing.T) {
	repo := NewAlertRuleRepository(setupTestDB(t))
	ctx := t.Context()

	require.NoError(t, repo.CreateRule(ctx, newRule("r1", "u1", true)))

	_, err := repo.GetRule(ctx, "u2", "r1")
	require.ErrorIs(t, err, ErrAlertRuleNotFound)

	_, err = repo.GetRule(ctx, "u1", "missing")
	require.ErrorIs(t, err, ErrAlertRuleNotFound)
}

func TestAlertRuleRepository_ListRules(t *testing.T) {
	repo := NewAlertRuleRepository(setupTestDB(t))
	ctx := t.Context()

	require.NoError(t, repo.CreateRule(ctx, newRule("a", "u1", true)))
	require.NoError(t, repo.CreateRule(ctx, newRule("b", "u1", false)))
	require.NoError(t, repo.CreateRule(ctx, newRule("c", "u2", true)))

	all, err := repo.ListRules(ctx, AlertRuleFilter{UserID: "u1"})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active := true
	onlyActive, err := repo.ListRules(ctx, AlertRuleFilter{UserID: "u1", Active: &active})
	require.NoError(t, err)
	require.Len(t, onlyActive, 1)
	assert.Equal(t, "a", onlyActive[0].ID)

	inactive := false
	onlyInactive, err := repo.ListRules(ctx, AlertRuleFilter{UserID: "u1", Active: &inactive})
	require.NoError(t, err)
	require.Len(t, onlyInactive, 1)
	assert.Equal(t, "b", onlyInactive[0].ID)

	_, err = repo.ListRules(ctx, AlertRuleFilter{})
	assert.Error(t, err, "listing without a user must fail")
}

func TestAlertRuleRepository_UpdateRule(t *testing.T) {
	repo := NewAlertRuleRepository(setupTestDB(t))
	ctx := t.Context()

	original := newRule("r1", "u1", true)
	require.NoError(t, repo.CreateRule(ctx, original))
	created, err := repo.GetRule(ctx, "u1", "r1")
	require.NoError(t, err)

	update := newRule("r1", "u1", false)
	update.Comparison = ">="
	update.Threshold = 0
	update.Critical = false
	update.Contact = entities.Contact{Type: "sms", Value: "+15551234567"}
	require.NoError(t, repo.UpdateRule(ctx, update))

	got, err := repo.GetRule(ctx, "u1", "r1")
	require.NoError(t, err)
	assert.Equal(t, ">=", got.Comparison)
	assert.InDelta(t, 0.0, got.Threshold, 0, "zero threshold must be written")
	assert.False(t, got.Active, "false must be written")
	assert.Equal(t, "sms", got.Contact.Type)
	assert.True(t, created.CreatedAt.Equal(got.CreatedAt), "created_at must not change")
}

func TestAlertRuleRepository_UpdateRule_NotOwned(t *testing.T) {
	repo := NewAlertRuleRepository(setupTestDB(t))
	ctx := t.Context()

	require.NoError(t, repo.CreateRule(ctx, newRule("r1", "u1", true)))

	err := repo.UpdateRule(ctx, newRule("r1", "u2", false))
	require.ErrorIs(t, err, ErrAlertRuleNotFound)

	got, err := repo.GetRule(ctx, "u1", "r1")
	require.NoError(t, err)
	assert.True(t, got.Active)
}

func TestAlertRuleRepository_ToggleRule(t *testing.T) {
	repo := NewAlertRuleRepository(setupTestDB(t))
	ctx := t.Context()

	require.NoError(t, repo.CreateRule(ctx, newRule("r1", "u1", true)))

	require.NoError(t, repo.ToggleRule(ctx, "u1", "r1", false))
	got, err := repo.GetRule(ctx, "u1", "r1")
	require.NoError(t, err)
	assert.False(t, got.Active)

	require.ErrorIs(t, repo.ToggleRule(ctx, "u2", "r1", true), ErrAlertRuleNotFound)
}

func TestAlertRuleRepository_DeleteRule(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAlertRuleRepository(db)
	marks := NewDispatchMarkRepository(db)
	ctx := t.Context()

	require.NoError(t, repo.CreateRule(ctx, newRule("r1", "u1", true)))
	key := MarkKey{UserID: "u1", RuleID: "r1", Parameter: "soilMoisturePct"}
	ok, err := marks.TryMark(ctx, key, time.Now(), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, repo.SaveTriggered(ctx, &entities.TriggeredAlert{
		ID: "t1", UserID: "u1", AlertID: "r1", Parameter: sensor.SoilMoisturePct,
		Comparison: "<", TriggeredAt: time.Now(), Status: entities.TriggeredStatusSent,
	}))

	require.ErrorIs(t, repo.DeleteRule(ctx, "u2", "r1"), ErrAlertRuleNotFound)
	require.NoError(t, repo.DeleteRule(ctx, "u1", "r1"))
	require.ErrorIs(t, repo.DeleteRule(ctx, "u1", "r1"), ErrAlertRuleNotFound)

	_, err = marks.GetMark(ctx, key)
	require.ErrorIs(t, err, ErrDispatchMarkNotFound, "marks are removed with the rule")

	items, total, err := repo.ListTriggered(ctx, TriggeredFilter{UserID: "u1"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total, "triggered records outlive the rule")
	assert.Len(t, items, 1)
}

func TestAlertRuleRepository_ListTriggered(t *testing.T) {
	repo := NewAlertRuleRepository(setupTestDB(t))
	ctx := t.Context()

	base := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	for i := range 5 {
		require.NoError(t, repo.SaveTriggered(ctx, &entities.TriggeredAlert{
			ID:          fmt.Sprintf("t%d", i),
			UserID:      "u1",
			AlertID:     "r1",
			Parameter:   sensor.CO2,
			Comparison:  ">",
			TriggeredAt: base.Add(time.Duration(i) * time.Minute),
			Status:      entities.TriggeredStatusSent,
		}))
	}
	require.NoError(t, repo.SaveTriggered(ctx, &entities.TriggeredAlert{
		ID: "other", UserID: "u2", AlertID: "r9", Parameter: sensor.CO2,
		Comparison: ">", TriggeredAt: base, Status: entities.TriggeredStatusFailed,
	}))

	items, total, err := repo.ListTriggered(ctx, TriggeredFilter{UserID: "u1", Limit: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 5, total)
	require.Len(t, items, 2)
	assert.Equal(t, "t4", items[0].ID, "newest first")
	assert.Equal(t, "t3", items[1].ID)

	page2, _, err := repo.ListTriggered(ctx, TriggeredFilter{UserID: "u1", Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.Equal(t, "t2", page2[0].ID)
}

func TestAlertRuleRepository_DeleteTriggeredBefore(t *testing.T) {
	repo := NewAlertRuleRepository(setupTestDB(t))
	ctx := t.Context()

	now := time.Now()
	require.NoError(t, repo.SaveTriggered(ctx, &entities.TriggeredAlert{
		ID: "old", UserID: "u1", AlertID: "r1", Parameter: sensor.NH3, Comparison: ">",
		TriggeredAt: now.AddDate(0, 0, -40), Status: entities.TriggeredStatusSent,
	}))
	require.NoError(t, repo.SaveTriggered(ctx, &entities.TriggeredAlert{
		ID: "new", UserID: "u1", AlertID: "r1", Parameter: sensor.NH3, Comparison: ">",
		TriggeredAt: now, Status: entities.TriggeredStatusSent,
	}))

	deleted, err := repo.DeleteTriggeredBefore(ctx, now.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	items, _, err := repo.ListTriggered(ctx, TriggeredFilter{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "new", items[0].ID)
}

func TestErrAlertRuleNotFound_Wrapped(t *testing.T) {
	wrapped := fmt.Errorf("context: %w", ErrAlertRuleNotFound)
	assert.True(t, errors.Is(wrapped, ErrAlertRuleNotFound))
}
