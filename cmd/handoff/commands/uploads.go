package commands

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func uploadsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "uploads",
		Short: "Inspect and prune the uploads dir (admin API)",
	}
	cmd.AddCommand(uploadsListCmd(), uploadsRmCmd())
	return cmd
}

func uploadsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored uploads, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := newClient().ListUploads(cmd.Context())
			if err != nil {
				return err
			}
			return emit(cmd, list, func(w io.Writer) {
				if len(list) == 0 {
					line(w, "no uploads")
					return
				}
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tSIZE\tMODIFIED")
				for _, u := range list {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", u.Name, sizeLabel(u.Size), u.Modified.Format(time.RFC3339))
				}
				_ = tw.Flush()
			})
		},
	}
}

func uploadsRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <name>...",
		Short: "Delete stored uploads by name",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			for _, name := range args {
				if err := c.DeleteUpload(cmd.Context(), name); err != nil {
					return err
				}
			}
			return emit(cmd, map[string][]string{"deleted": args}, func(w io.Writer) {
				for _, name := range args {
					line(w, "deleted %s", name)
				}
			})
		},
	}
}
