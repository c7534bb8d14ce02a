package main

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"keypool/internal/auth"
	"keypool/internal/httpapi"
	"keypool/internal/models"
	"keypool/internal/storage"
	"keypool/internal/utils"
)

const minPasswordLength = 8

// adminStore is the part of the admin user repository the CLI needs
type adminStore interface {
	GetByEmail(ctx context.Context, email string) (*models.AdminUser, error)
	List(ctx context.Context, enabledOnly bool) ([]*models.AdminUser, error)
	Create(ctx context.Context, user *models.AdminUser) error
}

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage console accounts",
	}

	var email, password, role string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a console account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, deps *httpapi.Dependencies) error {
				user, err := createAdmin(ctx, deps.AdminUsers, email, password, auth.Role(role))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created %s (%s) with roles %v\n", user.Email, user.ID, []string(user.Roles))
				return nil
			})
		},
	}
	create.Flags().StringVar(&email, "email", "", "Account email")
	create.Flags().StringVar(&password, "password", "", "Account password, at least 8 characters")
	create.Flags().StringVar(&role, "role", string(auth.RoleAdmin), "Account role: admin or viewer")
	_ = create.MarkFlagRequired("email")
	_ = create.MarkFlagRequired("password")

	bootstrap := &cobra.Command{
		Use:   "bootstrap",
		Short: "Create the first admin from ADMIN_BOOTSTRAP_EMAIL and ADMIN_BOOTSTRAP_PASSWORD",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, deps *httpapi.Dependencies) error {
				cfg := deps.Config.Admin
				if cfg.BootstrapEmail == "" || cfg.BootstrapPassword == "" {
					return errors.New("ADMIN_BOOTSTRAP_EMAIL and ADMIN_BOOTSTRAP_PASSWORD must be set")
				}
				user, err := bootstrapAdmin(ctx, deps.AdminUsers, cfg.BootstrapEmail, cfg.BootstrapPassword)
				if err != nil {
					return err
				}
				if user == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "Admin accounts already exist, nothing to do")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created bootstrap admin %s (%s)\n", user.Email, user.ID)
				return nil
			})
		},
	}

	cmd.AddCommand(create, bootstrap)
	return cmd
}

func validateAdminInput(email, password string, role auth.Role) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@")+1:], ".") {
		return utils.Errorf(utils.ErrInvalidArgument, "invalid email format: %s", email)
	}
	if len(password) < minPasswordLength {
		return utils.Errorf(utils.ErrInvalidArgument, "password must be at least %d characters long", minPasswordLength)
	}
	if !role.IsValid() {
		return utils.Errorf(utils.ErrInvalidArgument, "unknown role %q", role)
	}
	return nil
}

// createAdmin stores a new enabled account with an argon2id password hash
func createAdmin(ctx context.Context, store adminStore, email, password string, role auth.Role) (*models.AdminUser, error) {
	email = strings.TrimSpace(email)
	if err := validateAdminInput(email, password, role); err != nil {
		return nil, err
	}

	existing, err := store.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, storage.ErrAdminUserNotFound) {
		return nil, fmt.Errorf("check existing account: %w", err)
	}
	if existing != nil {
		return nil, storage.ErrDuplicateAdminUser
	}

	hash, err := utils.HashPasswordArgon2(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &models.AdminUser{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: hash,
		Roles:        models.StringList{string(role)},
		Enabled:      true,
	}
	if err := store.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	return user, nil
}

// bootstrapAdmin creates the first admin account. It returns a nil user when
// any account already exists.
func bootstrapAdmin(ctx context.Context, store adminStore, email, password string) (*models.AdminUser, error) {
	existing, err := store.List(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("check existing accounts: %w", err)
	}
	if len(existing) > 0 {
		return nil, nil
	}

	user, err := createAdmin(ctx, store, email, password, auth.RoleAdmin)
	if err != nil {
		return nil, err
	}
	utils.NewLogger("admin").Info("Bootstrap admin created", "email", user.Email, "id", user.ID)
	return user, nil
}
