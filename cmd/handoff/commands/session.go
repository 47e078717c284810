package commands

import (
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"handoff/pkg/client"
)

func shareRequest(filename, source, desc string) client.ShareRequest {
	return client.ShareRequest{Filename: filename, SourceSessionID: source, Description: desc}
}

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage download sessions",
	}
	cmd.AddCommand(sessionCreateCmd(), sessionListCmd(), sessionShowCmd(), sessionAddCmd())
	return cmd
}

func sessionCreateCmd() *cobra.Command {
	var desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an empty download session (admin API)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newClient().CreateSession(cmd.Context(), desc)
			if err != nil {
				return err
			}
			return emit(cmd, s, func(w io.Writer) { printSession(w, s) })
		},
	}
	cmd.Flags().StringVarP(&desc, "description", "d", "", "session description")
	return cmd
}

func sessionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List live sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := newClient().ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			return emit(cmd, list, func(w io.Writer) {
				if len(list) == 0 {
					line(w, "no live sessions")
					return
				}
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tFILES\tEXPIRES\tDESCRIPTION")
				for _, s := range list {
					fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", s.ID, len(s.Files), s.Expires, s.Description)
				}
				_ = tw.Flush()
			})
		},
	}
}

func sessionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session and its file links",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newClient().GetSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return emit(cmd, s, func(w io.Writer) { printSession(w, s) })
		},
	}
}

func sessionAddCmd() *cobra.Command {
	var (
		name string
		text string
	)
	cmd := &cobra.Command{
		Use:   "add <session-id> [path]",
		Short: "Add a server-local file, or --text content, to a session (admin API)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := client.AddFileRequest{}
			switch {
			case len(args) == 2 && !cmd.Flags().Changed("text"):
				p, err := filepath.Abs(args[1])
				if err != nil {
					return err
				}
				req.Path = p
			case len(args) == 1 && cmd.Flags().Changed("text"):
				if name == "" {
					return fmt.Errorf("--name is required with --text")
				}
				req.Filename = name
				req.Content = &text
			default:
				return fmt.Errorf("give either a path or --text")
			}
			f, err := newClient().AddFile(cmd.Context(), args[0], req)
			if err != nil {
				return err
			}
			return emit(cmd, f, func(w io.Writer) {
				line(w, "added %s (%s)", f.Name, sizeLabel(f.Size))
				line(w, "url:   %s", f.URL)
				line(w, "short: %s", f.ShortURL)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "file name for --text")
	cmd.Flags().StringVar(&text, "text", "", "inline file content")
	return cmd
}

func shareDirCmd() *cobra.Command {
	var pattern, desc string
	cmd := &cobra.Command{
		Use:   "share-dir <dir>",
		Short: "Share the matching files of a server-local directory (admin API)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			d, err := newClient().ShareDirectory(cmd.Context(), dir, pattern, desc)
			if err != nil {
				return err
			}
			return emit(cmd, d, func(w io.Writer) {
				if d.SessionID == "" {
					line(w, "%s", d.Message)
					return
				}
				line(w, "session: %s", d.SessionID)
				line(w, "url:     %s", d.URL)
				line(w, "expires: %s", d.Expires)
				for _, f := range d.Files {
					line(w, "  %s  %s  %s", f.Name, sizeLabel(f.Size), f.ShortURL)
				}
			})
		},
	}
	cmd.Flags().StringVarP(&pattern, "pattern", "p", "*", "glob for file names")
	cmd.Flags().StringVarP(&desc, "description", "d", "", "session description")
	return cmd
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired sessions and tokens now (admin API)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := newClient().Sweep(cmd.Context())
			if err != nil {
				return err
			}
			return emit(cmd, r, func(w io.Writer) {
				line(w, "removed %d session(s), %d token(s)", r.Sessions, r.Tokens)
			})
		},
	}
}

func printSession(w io.Writer, s *client.Session) {
	line(w, "session: %s", s.ID)
	if s.Description != "" {
		line(w, "about:   %s", s.Description)
	}
	line(w, "url:     %s", s.URL)
	line(w, "expires: %s", s.Expires)
	for _, f := range s.Files {
		line(w, "  %s  %s", f.Name, f.ShortURL)
	}
}
