package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kraklabs/usenetsync/pkg/config"
	"github.com/kraklabs/usenetsync/pkg/foldersync"
	"github.com/kraklabs/usenetsync/pkg/keymanager"
	"github.com/kraklabs/usenetsync/pkg/storage"
)

var folderCmd = &cobra.Command{
	Use:   "folder",
	Short: "Manage synchronized folders",
	Long:  `Add, list, sync, and remove the local folders usenetsyncd tracks.`,
}

var (
	folderOwner       string
	folderDisplayName string
	folderAccessMode  string
)

var folderAddCmd = &cobra.Command{
	Use:   "add <path>",
	Short: "Start tracking a local folder",
	Args:  cobra.ExactArgs(1),
	Long: `Register a local directory for synchronization: mints a folder
identifier, generates its Ed25519 signing keypair sealed under the master
key, and records it in the index database. Run 'usenetsyncd folder sync'
afterward to perform the first scan and stage its segments for upload.

Examples:
  usenetsyncd folder add /srv/media --owner admin
  usenetsyncd folder add /srv/media --owner admin --display-name "Media" --access-mode private`,
	RunE: runFolderAdd,
}

var folderListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked folders",
	RunE:  runFolderList,
}

var folderSyncCmd = &cobra.Command{
	Use:   "sync <folder-id>",
	Short: "Scan a folder and stage changed segments",
	Args:  cobra.ExactArgs(1),
	RunE:  runFolderSync,
}

var folderRemoveCmd = &cobra.Command{
	Use:   "remove <folder-id>",
	Short: "Stop tracking a folder",
	Long: `Mark a folder inactive. Already-staged segments and published
shares referencing it are left untouched; the folder simply stops being
scanned or watched going forward.`,
	Args: cobra.ExactArgs(1),
	RunE: runFolderRemove,
}

func init() {
	folderAddCmd.Flags().StringVar(&folderOwner, "owner", "", "Owning username (required)")
	folderAddCmd.Flags().StringVar(&folderDisplayName, "display-name", "", "Human-readable folder name")
	folderAddCmd.Flags().StringVar(&folderAccessMode, "access-mode", "private", "Default access mode for shares of this folder (public|protected|private)")
	_ = folderAddCmd.MarkFlagRequired("owner")

	folderCmd.AddCommand(folderAddCmd)
	folderCmd.AddCommand(folderListCmd)
	folderCmd.AddCommand(folderSyncCmd)
	folderCmd.AddCommand(folderRemoveCmd)
}

func openFolderSyncService(cfg *config.Config, engine storage.Engine) (*foldersync.Service, error) {
	masterKey, err := keymanager.LoadMasterKeyFile(cfg.Ingest.MasterKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load master key: %w (run 'usenetsyncd init' first)", err)
	}
	keys := keymanager.New(engine)
	return foldersync.New(foldersync.Config{
		StagingDir:  cfg.Ingest.StagingDir,
		ScanWorkers: cfg.Ingest.ScanWorkers,
	}, engine, keys, masterKey), nil
}

func runFolderAdd(cmd *cobra.Command, args []string) error {
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

	owner, err := lookupUserByUsername(ctx, engine, folderOwner)
	if err != nil {
		return err
	}

	svc, err := openFolderSyncService(cfg, engine)
	if err != nil {
		return err
	}

	folder, err := svc.AddFolder(ctx, args[0], folderDisplayName, owner.ID, folderAccessMode)
	if err != nil {
		return fmt.Errorf("failed to add folder: %w", err)
	}

	fmt.Printf("Folder registered\n")
	fmt.Printf("  ID:           %s\n", folder.ID)
	fmt.Printf("  Path:         %s\n", folder.LocalPath)
	fmt.Printf("  Access mode:  %s\n", folder.AccessMode)
	fmt.Printf("\nRun 'usenetsyncd folder sync %s' to perform the first scan.\n", folder.ID)

	return nil
}

func runFolderList(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	engine, err := cfg.Database.OpenEngine()
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = engine.Close() }()

	var folders []storage.Folder
	if err := engine.FetchAll(context.Background(), &folders, "SELECT * FROM folders ORDER BY created_at DESC"); err != nil {
		return fmt.Errorf("failed to list folders: %w", err)
	}

	if len(folders) == 0 {
		fmt.Println("No folders tracked yet. Use 'usenetsyncd folder add' to register one.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPATH\tVERSION\tFILES\tSIZE\tMODE\tSTATUS")
	for _, f := range folders {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			f.ID, f.LocalPath, f.CurrentVersion, f.FileCount, f.TotalSize, f.AccessMode, f.Status)
	}
	return w.Flush()
}

func runFolderSync(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	engine, err := cfg.Database.OpenEngine()
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = engine.Close() }()

	svc, err := openFolderSyncService(cfg, engine)
	if err != nil {
		return err
	}

	result, err := svc.SyncFolder(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("failed to sync folder: %w", err)
	}

	fmt.Printf("Sync complete\n")
	fmt.Printf("  Version:         %d\n", result.Version)
	fmt.Printf("  Files changed:   %d\n", result.FilesChanged)
	fmt.Printf("  Files total:     %d\n", result.FilesTotal)
	fmt.Printf("  Segments staged: %d\n", result.SegmentsStaged)

	return nil
}

func runFolderRemove(cmd *cobra.Command, args []string) error {
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

	var folders []storage.Folder
	if err := engine.FetchAll(ctx, &folders, "SELECT * FROM folders WHERE id = ?", args[0]); err != nil {
		return fmt.Errorf("failed to look up folder: %w", err)
	}
	if len(folders) == 0 {
		return fmt.Errorf("folder %s not found", args[0])
	}

	folder := folders[0]
	folder.Status = "removed"
	if err := engine.Update(ctx, &folder); err != nil {
		return fmt.Errorf("failed to remove folder: %w", err)
	}

	fmt.Printf("Folder %s marked removed\n", folder.ID)
	return nil
}

// lookupUserByUsername resolves a username to its storage.User row.
func lookupUserByUsername(ctx context.Context, engine storage.Engine, username string) (storage.User, error) {
	var users []storage.User
	if err := engine.FetchAll(ctx, &users, "SELECT * FROM users WHERE username = ?", username); err != nil {
		return storage.User{}, fmt.Errorf("failed to look up user %q: %w", username, err)
	}
	if len(users) == 0 {
		return storage.User{}, fmt.Errorf("user %q not found", username)
	}
	return users[0], nil
}
