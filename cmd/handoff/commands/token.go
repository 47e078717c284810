package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue and inspect single-use upload links",
	}
	cmd.AddCommand(tokenCreateCmd(), tokenCheckCmd())
	return cmd
}

func tokenCreateCmd() *cobra.Command {
	var desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Issue a new upload link",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := newClient().CreateToken(cmd.Context(), desc)
			if err != nil {
				return err
			}
			return emit(cmd, t, func(w io.Writer) {
				line(w, "token:   %s", t.Token)
				line(w, "url:     %s", t.URL)
				line(w, "short:   %s", t.ShortURL)
				line(w, "expires: %s", t.Expires)
			})
		},
	}
	cmd.Flags().StringVarP(&desc, "description", "d", "", "what the upload is for")
	return cmd
}

func tokenCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <token>",
		Short: "Show whether a link is pending, used or expired",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := newClient().CheckToken(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return emit(cmd, st, func(w io.Writer) {
				line(w, "state:   %s", st.State)
				if !st.Exists {
					return
				}
				line(w, "expires: %s", st.Expires)
				if st.Used && st.Filename != nil {
					var size int64
					if st.Size != nil {
						size = *st.Size
					}
					line(w, "file:    %s (%d bytes)", *st.Filename, size)
					line(w, "at:      %s", st.UploadedAt)
					line(w, "blake2b: %s", st.Checksum)
				}
			})
		},
	}
}

func uploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <token> <file>",
		Short: "Upload a local file through an upload link",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()
			res, err := newClient().Upload(cmd.Context(), args[0], filepath.Base(args[1]), f)
			if err != nil {
				return err
			}
			return emit(cmd, res, func(w io.Writer) {
				line(w, "stored %s (%d bytes)", res.Filename, res.Size)
			})
		},
	}
}

func shareCmd() *cobra.Command {
	var source, desc string
	cmd := &cobra.Command{
		Use:   "share <filename>",
		Short: "Publish an uploaded or session file as a new download session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			s, err := c.Share(cmd.Context(), shareRequest(args[0], source, desc))
			if err != nil {
				return err
			}
			return emit(cmd, s, func(w io.Writer) {
				line(w, "session: %s", s.SessionID)
				line(w, "url:     %s", s.URL)
				line(w, "short:   %s", s.ShortURL)
				line(w, "expires: %s", s.Expires)
			})
		},
	}
	cmd.Flags().StringVar(&source, "from", "", "session to take the file from")
	cmd.Flags().StringVarP(&desc, "description", "d", "", "session description")
	return cmd
}

func sizeLabel(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
