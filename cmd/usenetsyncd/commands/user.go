package commands

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kraklabs/usenetsync/internal/cli/prompt"
	"github.com/kraklabs/usenetsync/pkg/account"
	"github.com/kraklabs/usenetsync/pkg/config"
	"github.com/kraklabs/usenetsync/pkg/storage"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage local user accounts",
	Long:  `Create, list, and remove the accounts that own folders and shares.`,
}

var (
	userEmail    string
	userPassword string
)

var userCreateCmd = &cobra.Command{
	Use:   "create <username>",
	Short: "Create a local user account",
	Args:  cobra.ExactArgs(1),
	Long: `Create a local user account. If --password is not given, prompts
for one interactively.

Examples:
  usenetsyncd user create alice
  usenetsyncd user create alice --email alice@example.com`,
	RunE: runUserCreate,
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List local user accounts",
	RunE:  runUserList,
}

var userDeleteCmd = &cobra.Command{
	Use:   "delete <username>",
	Short: "Delete a local user account",
	Args:  cobra.ExactArgs(1),
	RunE:  runUserDelete,
}

var userResetPasswordCmd = &cobra.Command{
	Use:   "reset-password <username>",
	Short: "Reset a local user account's password",
	Args:  cobra.ExactArgs(1),
	RunE:  runUserResetPassword,
}

var userSetKeyCmd = &cobra.Command{
	Use:   "set-key <username> <public-key-hex>",
	Short: "Register a user's X25519 public key for private shares",
	Args:  cobra.ExactArgs(2),
	Long: `Register the hex-encoded 32-byte X25519 public key a user presents
when accepting private-share invitations. 'usenetsyncd share create --mode
private' looks this up by username to build each recipient's commitment.`,
	RunE: runUserSetKey,
}

func init() {
	userCreateCmd.Flags().StringVar(&userEmail, "email", "", "Email address")
	userCreateCmd.Flags().StringVar(&userPassword, "password", "", "Password (prompted interactively if omitted)")

	userCmd.AddCommand(userCreateCmd)
	userCmd.AddCommand(userListCmd)
	userCmd.AddCommand(userDeleteCmd)
	userCmd.AddCommand(userResetPasswordCmd)
	userCmd.AddCommand(userSetKeyCmd)
}

func runUserCreate(cmd *cobra.Command, args []string) error {
	username := args[0]

	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	password := userPassword
	if password == "" {
		password, err = prompt.PasswordWithConfirmation("Password", "Confirm password", 8)
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
	}
	if err := account.ValidatePassword(password); err != nil {
		return err
	}

	hash, err := account.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	engine, err := cfg.Database.OpenEngine()
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = engine.Close() }()

	user := storage.User{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        userEmail,
		PasswordHash: hash,
	}
	if err := engine.Insert(context.Background(), &user); err != nil {
		if strings.Contains(err.Error(), "UNIQUE") || strings.Contains(err.Error(), "duplicate") {
			return fmt.Errorf("user %q already exists", username)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	fmt.Printf("User created\n")
	fmt.Printf("  ID:       %s\n", user.ID)
	fmt.Printf("  Username: %s\n", user.Username)

	return nil
}

func runUserList(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	engine, err := cfg.Database.OpenEngine()
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = engine.Close() }()

	var users []storage.User
	if err := engine.FetchAll(context.Background(), &users, "SELECT * FROM users ORDER BY username ASC"); err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}

	if len(users) == 0 {
		fmt.Println("No users yet. Use 'usenetsyncd user create' to add one.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSERNAME\tEMAIL\tHAS KEY")
	for _, u := range users {
		hasKey := "no"
		if len(u.PublicKey) == 32 {
			hasKey = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", u.ID, u.Username, u.Email, hasKey)
	}
	return w.Flush()
}

func runUserDelete(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	engine, err := cfg.Database.OpenEngine()
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = engine.Close() }()

	ctx := context.Background()
	user, err := lookupUserByUsername(ctx, engine, args[0])
	if err != nil {
		return err
	}

	if err := engine.Delete(ctx, &user); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	fmt.Printf("User %s deleted\n", args[0])
	return nil
}

func runUserResetPassword(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	engine, err := cfg.Database.OpenEngine()
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = engine.Close() }()

	ctx := context.Background()
	user, err := lookupUserByUsername(ctx, engine, args[0])
	if err != nil {
		return err
	}

	password, err := prompt.PasswordWithConfirmation("New password", "Confirm password", 8)
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	if err := account.ValidatePassword(password); err != nil {
		return err
	}

	hash, err := account.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	user.PasswordHash = hash
	if err := engine.Update(ctx, &user); err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	fmt.Printf("Password reset for %s\n", args[0])
	return nil
}

func runUserSetKey(cmd *cobra.Command, args []string) error {
	username, keyHex := args[0], args[1]

	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return fmt.Errorf("invalid public key hex: %w", err)
	}
	if len(key) != 32 {
		return fmt.Errorf("public key must be 32 bytes, got %d", len(key))
	}

	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	engine, err := cfg.Database.OpenEngine()
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = engine.Close() }()

	ctx := context.Background()
	user, err := lookupUserByUsername(ctx, engine, username)
	if err != nil {
		return err
	}

	user.PublicKey = key
	if err := engine.Update(ctx, &user); err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	fmt.Printf("Public key registered for %s\n", username)
	return nil
}
