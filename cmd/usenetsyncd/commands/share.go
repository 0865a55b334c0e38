package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kraklabs/usenetsync/internal/cli/prompt"
	"github.com/kraklabs/usenetsync/pkg/access"
	"github.com/kraklabs/usenetsync/pkg/config"
	"github.com/kraklabs/usenetsync/pkg/nntp"
	"github.com/kraklabs/usenetsync/pkg/publisher"
	"github.com/kraklabs/usenetsync/pkg/retry"
	"github.com/kraklabs/usenetsync/pkg/storage"
)

var shareCmd = &cobra.Command{
	Use:   "share",
	Short: "Manage published shares",
	Long:  `Create, list, revoke, and extend the shares usenetsyncd has published.`,
}

var (
	shareFolderID   string
	shareOwner      string
	shareMode       string
	shareExpiryDays int
	shareRecipients []string
)

var shareCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Publish a share for a folder's current version",
	Long: `Wait for every segment of a folder's current version to finish
posting, build and encrypt its index, post it as one article, and record
the resulting share.

Public shares need no extra input. Protected shares prompt for a password
interactively unless USENETSYNC_SHARE_PASSWORD is set. Private shares
authorize specific recipients by username, resolving each one's stored
X25519 public key.

Examples:
  usenetsyncd share create --folder <folder-id> --owner admin --mode public
  usenetsyncd share create --folder <folder-id> --owner admin --mode protected
  usenetsyncd share create --folder <folder-id> --owner admin --mode private --recipient alice --recipient bob`,
	RunE: runShareCreate,
}

var shareListCmd = &cobra.Command{
	Use:   "list",
	Short: "List published shares",
	RunE:  runShareList,
}

var shareRevokeCmd = &cobra.Command{
	Use:   "revoke <share-id>",
	Short: "Revoke a published share",
	Args:  cobra.ExactArgs(1),
	RunE:  runShareRevoke,
}

var shareExtendDays int

var shareExtendCmd = &cobra.Command{
	Use:   "extend <share-id>",
	Short: "Extend a share's expiry",
	Args:  cobra.ExactArgs(1),
	RunE:  runShareExtend,
}

func init() {
	shareCreateCmd.Flags().StringVar(&shareFolderID, "folder", "", "Folder identifier (required)")
	shareCreateCmd.Flags().StringVar(&shareOwner, "owner", "", "Owning username (required)")
	shareCreateCmd.Flags().StringVar(&shareMode, "mode", "public", "Access mode (public|protected|private)")
	shareCreateCmd.Flags().IntVar(&shareExpiryDays, "expiry-days", 0, "Days until the share expires (0 = never)")
	shareCreateCmd.Flags().StringArrayVar(&shareRecipients, "recipient", nil, "Recipient username (private shares only, repeatable)")
	_ = shareCreateCmd.MarkFlagRequired("folder")
	_ = shareCreateCmd.MarkFlagRequired("owner")

	shareExtendCmd.Flags().IntVar(&shareExtendDays, "days", 30, "Additional days to extend the share by")

	shareCmd.AddCommand(shareCreateCmd)
	shareCmd.AddCommand(shareListCmd)
	shareCmd.AddCommand(shareRevokeCmd)
	shareCmd.AddCommand(shareExtendCmd)
}

func openPublisher(cfg *config.Config, engine storage.Engine) (*publisher.Publisher, error) {
	pool := nntp.NewPool(cfg.NNTP.ServerConfigs(), cfg.NNTP.PoolStrategy())
	retrier := retry.NewRunner(cfg.Ingest.RateLimitMaxRequests, cfg.Ingest.RateLimitWindow)
	return publisher.New(publisher.Config{Newsgroup: cfg.Ingest.Newsgroup}, engine, pool, retrier), nil
}

func runShareCreate(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	mode := access.Mode(strings.ToLower(shareMode))
	switch mode {
	case access.ModePublic, access.ModeProtected, access.ModePrivate:
	default:
		return fmt.Errorf("invalid access mode %q: must be public, protected, or private", shareMode)
	}

	engine, err := cfg.Database.OpenEngine()
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = engine.Close() }()

	ctx := context.Background()

	owner, err := lookupUserByUsername(ctx, engine, shareOwner)
	if err != nil {
		return err
	}

	req := publisher.CreateShareRequest{
		FolderID:    shareFolderID,
		OwnerUserID: owner.ID,
		Mode:        mode,
		ExpiryDays:  shareExpiryDays,
	}

	switch mode {
	case access.ModeProtected:
		password := os.Getenv("USENETSYNC_SHARE_PASSWORD")
		if password == "" {
			password, err = prompt.PasswordWithConfirmation("Share password", "Confirm password", 8)
			if err != nil {
				return fmt.Errorf("failed to read share password: %w", err)
			}
		}
		req.Password = password
	case access.ModePrivate:
		if len(shareRecipients) == 0 {
			return fmt.Errorf("private shares require at least one --recipient")
		}
		recipients, err := resolveRecipients(ctx, engine, shareRecipients)
		if err != nil {
			return err
		}
		req.Recipients = recipients
	}

	pub, err := openPublisher(cfg, engine)
	if err != nil {
		return err
	}

	publication, err := pub.CreateShare(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to create share: %w", err)
	}

	fmt.Printf("Share published\n")
	fmt.Printf("  ID:     %s\n", publication.ID)
	fmt.Printf("  Folder: %s (version %d)\n", publication.FolderID, publication.FolderVersion)
	fmt.Printf("  Mode:   %s\n", publication.AccessMode)
	if publication.ExpiresAt != nil {
		fmt.Printf("  Expiry: %s\n", publication.ExpiresAt.Format("2006-01-02"))
	}

	return nil
}

// resolveRecipients looks up each username's stored X25519 public key and
// builds the publisher.Recipient list CreateShareRequest expects.
func resolveRecipients(ctx context.Context, engine storage.Engine, usernames []string) ([]publisher.Recipient, error) {
	recipients := make([]publisher.Recipient, 0, len(usernames))
	for _, username := range usernames {
		user, err := lookupUserByUsername(ctx, engine, username)
		if err != nil {
			return nil, err
		}
		if len(user.PublicKey) != 32 {
			return nil, fmt.Errorf("user %q has no registered public key; run 'usenetsyncd user set-key' first", username)
		}
		var recipient publisher.Recipient
		recipient.UserID = user.ID
		copy(recipient.PublicKey[:], user.PublicKey)
		recipients = append(recipients, recipient)
	}
	return recipients, nil
}

func runShareList(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	engine, err := cfg.Database.OpenEngine()
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = engine.Close() }()

	var shares []storage.Publication
	if err := engine.FetchAll(context.Background(), &shares, "SELECT * FROM publications ORDER BY created_at DESC"); err != nil {
		return fmt.Errorf("failed to list shares: %w", err)
	}

	if len(shares) == 0 {
		fmt.Println("No shares published yet. Use 'usenetsyncd share create' to publish one.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFOLDER\tVERSION\tMODE\tSTATUS\tACCESSES")
	for _, s := range shares {
		status := s.Status
		if s.Revoked {
			status = "revoked"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%d\n",
			s.ID, s.FolderID, s.FolderVersion, s.AccessMode, status, s.AccessCount)
	}
	return w.Flush()
}

func runShareRevoke(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	engine, err := cfg.Database.OpenEngine()
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = engine.Close() }()

	pub, err := openPublisher(cfg, engine)
	if err != nil {
		return err
	}

	if err := pub.RevokeShare(context.Background(), args[0]); err != nil {
		return fmt.Errorf("failed to revoke share: %w", err)
	}

	fmt.Printf("Share %s revoked\n", args[0])
	return nil
}

func runShareExtend(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	engine, err := cfg.Database.OpenEngine()
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = engine.Close() }()

	pub, err := openPublisher(cfg, engine)
	if err != nil {
		return err
	}

	if err := pub.ExtendShare(context.Background(), args[0], shareExtendDays); err != nil {
		return fmt.Errorf("failed to extend share: %w", err)
	}

	fmt.Printf("Share %s extended by %d days\n", args[0], shareExtendDays)
	return nil
}
