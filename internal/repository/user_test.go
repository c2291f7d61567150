// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskdeck/taskdeck/internal/models"
	"github.com/taskdeck/taskdeck/internal/repository"
	"github.com/taskdeck/taskdeck/internal/testutil"
)

func TestCreateUser(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()

	user := &models.User{Email: "ann@example.com", PasswordHash: "hash", FirstName: "Ann", LastName: "Lee"}
	err := repo.CreateUser(ctx, user)

	require.NoError(t, err)
	assert.NotZero(t, user.ID)
	assert.NotZero(t, user.CreatedAt)
	assert.False(t, user.Verified)
}

func TestCreateUser_DuplicateEmail(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()

	require.NoError(t, repo.CreateUser(ctx, &models.User{Email: "ann@example.com", PasswordHash: "hash"}))

	err := repo.CreateUser(ctx, &models.User{Email: "ann@example.com", PasswordHash: "other"})

	assert.ErrorIs(t, err, repository.ErrDuplicate)
}

func TestGetUserByID(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()

	created := testutil.NewTestUser(t, repo, "ann@example.com", true)

	retrieved, err := repo.GetUserByID(ctx, created.ID)

	require.NoError(t, err)
	assert.Equal(t, created.ID, retrieved.ID)
	assert.Equal(t, "ann@example.com", retrieved.Email)
	assert.Equal(t, created.PasswordHash, retrieved.PasswordHash)
	assert.True(t, retrieved.Verified)
	assert.True(t, created.CreatedAt.Equal(retrieved.CreatedAt))
}

func TestGetUserByID_NotFound(t *testing.T) {
	_, repo := testutil.NewTestDB(t)

	_, err := repo.GetUserByID(context.Background(), 999)

	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestGetUserByEmail(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()

	created := testutil.NewTestUser(t, repo, "ann@example.com", false)

	retrieved, err := repo.GetUserByEmail(ctx, "ann@example.com")

	require.NoError(t, err)
	assert.Equal(t, created.ID, retrieved.ID)

	_, err = repo.GetUserByEmail(ctx, "bob@example.com")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestVerifyUserAndResetPassword(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()

	user := testutil.NewTestUser(t, repo, "ann@example.com", false)

	require.NoError(t, repo.VerifyUserAndResetPassword(ctx, user.ID, "reset"))

	got, err := repo.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, got.Verified)
	assert.Equal(t, "reset", got.PasswordHash)

	// A verified user keeps the hash it has.
	require.NoError(t, repo.VerifyUserAndResetPassword(ctx, user.ID, "again"))
	got, err = repo.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "reset", got.PasswordHash)

	assert.ErrorIs(t, repo.VerifyUserAndResetPassword(ctx, 999, "x"), repository.ErrNotFound)
}
