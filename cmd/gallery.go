package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/khaledhikmat/fr-go/service/gallery"
	"github.com/spf13/cobra"
)

var (
	galleryFile  string
	galleryDBURL string
)

var galleryCmd = &cobra.Command{
	Use:   "gallery",
	Short: "Manage the known-identity gallery",
}

var galleryImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a JSON gallery into Postgres",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		file := galleryFile
		if file == "" {
			file = cfgSvc.GetGalleryFile()
		}
		dbURL := galleryDBURL
		if dbURL == "" {
			dbURL = cfgSvc.GetGalleryDBURL()
		}
		if dbURL == "" {
			return fmt.Errorf("no gallery database configured, use --db or GALLERY_DB_URL")
		}

		identities, err := gallery.NewFiles(file).Identities(ctx)
		if err != nil {
			return err
		}

		store, err := gallery.NewPostgres(ctx, dbURL)
		if err != nil {
			return err
		}
		defer store.Close(ctx)

		n, err := store.Import(ctx, identities)
		if err != nil {
			return err
		}

		color.Green("✅ Imported %d descriptors for %d identities from %s", n, len(gallery.Names(identities)), file)
		return nil
	},
}

var galleryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the identities of the configured gallery",
	RunE: func(cmd *cobra.Command, _ []string) error {
		identities, err := loadGallery(cmd.Context(), cfgSvc)
		if err != nil {
			return err
		}

		for _, name := range gallery.Names(identities) {
			fmt.Println(name)
		}
		color.Cyan("%d descriptors", len(identities))
		return nil
	},
}

func init() {
	galleryImportCmd.Flags().StringVar(&galleryFile, "file", "", "JSON gallery to import (default: GALLERY_FILE)")
	galleryImportCmd.Flags().StringVar(&galleryDBURL, "db", "", "PostgreSQL connection string (default: GALLERY_DB_URL)")

	galleryCmd.AddCommand(galleryImportCmd, galleryListCmd)
	rootCmd.AddCommand(galleryCmd)
}
