package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/canvasgate/canvasgate/internal/model"
)

func newBoardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "board",
		Short: "Manage boards and share grants",
		Long:  "Create boards and grant other subjects access to them.",
	}

	cmd.AddCommand(newBoardCreateCmd())
	cmd.AddCommand(newBoardShareCmd())

	return cmd
}

// ---------- board create ----------

func newBoardCreateCmd() *cobra.Command {
	var (
		owner       string
		title       string
		description string
		public      bool
	)

	cmd := &cobra.Command{
		Use:     "create",
		Short:   "Create a board",
		Example: `  canvasgate board create --owner user-123 --title "Roadmap"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if title == "" {
				return fmt.Errorf("--title must not be empty")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openConfigStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			b := &model.Board{OwnerID: owner, Title: title, Description: description, IsPublic: public}
			if err := store.CreateBoard(cmd.Context(), b); err != nil {
				return fmt.Errorf("create board: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Board %q created: %s\n", b.Title, b.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Owning subject id (required)")
	cmd.Flags().StringVar(&title, "title", "", "Board title (required)")
	cmd.Flags().StringVar(&description, "description", "", "Board description")
	cmd.Flags().BoolVar(&public, "public", false, "Allow anyone to view the board")
	cmd.MarkFlagRequired("owner")
	cmd.MarkFlagRequired("title")

	return cmd
}

// ---------- board share ----------

func newBoardShareCmd() *cobra.Command {
	var (
		subject    string
		capability string
		expires    string
	)

	cmd := &cobra.Command{
		Use:   "share <board-id>",
		Short: "Grant a subject access to a board",
		Example: `  canvasgate board share 0190... --subject user-456
  canvasgate board share 0190... --subject user-456 --capability comment --expires 72h`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			capab := model.Capability(capability)
			if !capab.Valid() {
				return fmt.Errorf("invalid capability %q: use view or comment", capability)
			}
			var expiresAt *time.Time
			if expires != "" {
				d, err := time.ParseDuration(expires)
				if err != nil || d <= 0 {
					return fmt.Errorf("invalid --expires %q", expires)
				}
				t := time.Now().Add(d)
				expiresAt = &t
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openConfigStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			board, err := store.GetBoard(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("get board: %w", err)
			}
			if subject == board.OwnerID {
				return fmt.Errorf("subject %q already owns the board", subject)
			}

			g := &model.ShareGrant{
				BoardID:    board.ID,
				SubjectID:  subject,
				Capability: capab,
				CreatedBy:  board.OwnerID,
				ExpiresAt:  expiresAt,
			}
			if err := store.CreateShareGrant(cmd.Context(), g); err != nil {
				return fmt.Errorf("create share grant: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Shared board %s with %s (%s): grant %s\n", board.ID, subject, capab, g.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "Subject to share with (required)")
	cmd.Flags().StringVar(&capability, "capability", string(model.CapabilityView), "Capability: view or comment")
	cmd.Flags().StringVar(&expires, "expires", "", "Grant lifetime, e.g. 72h (default: no expiry)")
	cmd.MarkFlagRequired("subject")

	return cmd
}
