package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUser_Entity(t *testing.T) {
	u := &User{Username: "admin"}
	assert.True(t, u.IsNew())

	u.SetID(1)
	assert.Equal(t, int64(1), u.GetID())
	assert.False(t, u.IsNew())
	assert.Equal(t, "cy_sys_user", u.TableName())
}

func TestUser_Touch(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	updated := created.Add(time.Hour)

	u := &User{}
	u.Touch(created, true)
	assert.Equal(t, created, u.CreatedAt)
	assert.Equal(t, created, u.UpdatedAt)

	u.Touch(updated, false)
	assert.Equal(t, created, u.CreatedAt)
	assert.Equal(t, updated, u.UpdatedAt)
}

func TestIsValidUserStatus(t *testing.T) {
	assert.True(t, IsValidUserStatus(UserStatusNormal))
	assert.True(t, IsValidUserStatus(UserStatusBlocked))
	assert.False(t, IsValidUserStatus("deleted"))
	assert.False(t, IsValidUserStatus(""))
}
