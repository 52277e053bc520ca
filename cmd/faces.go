package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/facegate/facegate/internal/config"
	"github.com/facegate/facegate/internal/facedb"
	"github.com/facegate/facegate/internal/recognize"
)

var facesCmd = &cobra.Command{
	Use:   "faces",
	Short: "Manage the stored face database",
	Long: `Inspect and edit the face database directly, without a running server.
These commands operate on the same storage the server uses, so run them
only while the server is stopped.`,
}

var facesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrolled faces",
	RunE:  runFacesList,
}

var facesRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove one enrolled face",
	Args:  cobra.ExactArgs(1),
	RunE:  runFacesRemove,
}

var facesClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every enrolled face",
	RunE:  runFacesClear,
}

func init() {
	rootCmd.AddCommand(facesCmd)
	facesCmd.AddCommand(facesListCmd, facesRemoveCmd, facesClearCmd)

	facesCmd.PersistentFlags().String("backend", recognize.VariantEncoding, "Backend collection to operate on (encoding or detection)")
	facesClearCmd.Flags().Bool("yes", false, "Skip confirmation prompt")
}

func openFaceDB(cmd *cobra.Command) (*facedb.Database, error) {
	variant := mustGetString(cmd, "backend")
	if variant != recognize.VariantEncoding && variant != recognize.VariantDetection {
		return nil, fmt.Errorf("unknown backend %q", variant)
	}

	cfg := config.Load()
	store, err := newStoreFactory(cfg)(variant)
	if err != nil {
		return nil, err
	}
	return facedb.Open(store, newLogger())
}

func runFacesList(cmd *cobra.Command, args []string) error {
	db, err := openFaceDB(cmd)
	if err != nil {
		return err
	}

	entries := db.Snapshot()
	if len(entries) == 0 {
		fmt.Println("No faces enrolled.")
		return nil
	}

	fmt.Printf("Enrolled faces (%d):\n", len(entries))
	for _, f := range entries {
		fmt.Printf("  %s (added %s)\n", f.Name, f.AddedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func runFacesRemove(cmd *cobra.Command, args []string) error {
	db, err := openFaceDB(cmd)
	if err != nil {
		return err
	}

	removed, err := db.Remove(args[0])
	if err != nil {
		return fmt.Errorf("removing %s: %w", args[0], err)
	}
	if !removed {
		fmt.Printf("No face named '%s' found.\n", args[0])
		return nil
	}
	fmt.Printf("Removed '%s'.\n", args[0])
	return nil
}

func runFacesClear(cmd *cobra.Command, args []string) error {
	db, err := openFaceDB(cmd)
	if err != nil {
		return err
	}

	count := db.Count()
	if count == 0 {
		fmt.Println("No faces enrolled.")
		return nil
	}

	if !mustGetBool(cmd, "yes") && !confirmAction(fmt.Sprintf("Remove all %d face(s)? [y/N]: ", count)) {
		fmt.Println("Cancelled.")
		return nil
	}

	if err := db.Clear(); err != nil {
		return fmt.Errorf("clearing faces: %w", err)
	}
	fmt.Printf("Done! Removed %d face(s).\n", count)
	return nil
}
