package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"svnlite/internal/api"
	"svnlite/internal/delta"
	"svnlite/internal/diff"
	"svnlite/internal/ra"
	"svnlite/internal/repos"
	"svnlite/internal/script"
	"svnlite/shared/utils"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const logSeparator = "------------------------------------------------------------------------"

func createCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create URL",
		Short: "Create an empty repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			url, err := repoURL(args[0])
			if err != nil {
				return err
			}
			c, err := newClient(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.Create(ctx, url); err != nil {
				return fmt.Errorf("creating repository: %w", err)
			}
			fmt.Println("Created repository at", url)
			return nil
		},
	}
}

func infoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info URL",
		Short: "Describe a repository node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rev, err := revisionFlag(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			return withSession(ctx, args[0], func(s *ra.Session) error {
				url, _ := s.SessionURL(ctx)
				root, _ := s.RootURL(ctx)
				uuid, _ := s.UUID(ctx)
				youngest, err := s.LatestRevision(ctx)
				if err != nil {
					return err
				}
				d, err := s.Stat(ctx, "", rev)
				if err != nil {
					return err
				}
				if d == nil {
					return fmt.Errorf("%s does not exist", url)
				}

				fmt.Printf("URL: %s\n", url)
				fmt.Printf("Repository Root: %s\n", root)
				fmt.Printf("Repository UUID: %s\n", uuid)
				fmt.Printf("Revision: %d\n", youngest)
				fmt.Printf("Node Kind: %s\n", d.Kind)
				if d.Kind == delta.KindFile {
					fmt.Printf("Size: %s\n", humanize.Bytes(uint64(d.Size)))
				}
				if d.Author != "" {
					fmt.Printf("Last Changed Author: %s\n", d.Author)
				}
				fmt.Printf("Last Changed Rev: %d\n", d.CreatedRev)
				fmt.Printf("Last Changed Date: %s (%s)\n", d.Date.Local().Format(time.RFC1123Z), humanize.Time(d.Date))
				return nil
			})
		},
	}
	cmd.Flags().StringP("revision", "r", "HEAD", "revision to describe")
	return cmd
}

func lsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls URL",
		Short: "List a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rev, err := revisionFlag(cmd)
			if err != nil {
				return err
			}
			long, _ := cmd.Flags().GetBool("long")
			ctx := cmd.Context()
			return withSession(ctx, args[0], func(s *ra.Session) error {
				entries, _, err := s.List(ctx, "", rev)
				if err != nil {
					return err
				}
				for _, e := range entries {
					name := e.Name
					if e.Kind == delta.KindDir {
						name += "/"
					}
					if !long {
						fmt.Println(name)
						continue
					}
					size := ""
					if e.Kind == delta.KindFile {
						size = humanize.Bytes(uint64(e.Size))
					}
					fmt.Printf("%7d %-10s %9s %-14s %s\n", e.CreatedRev, e.Author, size, humanize.Time(e.Date), name)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringP("revision", "r", "HEAD", "revision to list")
	cmd.Flags().BoolP("long", "l", false, "show revision, author, size and age")
	return cmd
}

func catCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cat URL",
		Short: "Print a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rev, err := revisionFlag(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			return withSession(ctx, args[0], func(s *ra.Session) error {
				_, _, err := s.GetFile(ctx, "", rev, os.Stdout)
				return err
			})
		},
	}
	cmd.Flags().StringP("revision", "r", "HEAD", "revision to print")
	return cmd
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log URL",
		Short: "Show the revisions that changed a path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end := delta.InvalidRevnum, delta.Revnum(0)
			if r, _ := cmd.Flags().GetString("revision"); r != "" {
				var err error
				if start, end, err = utils.ParseRange(r); err != nil {
					return err
				}
			}
			limit, _ := cmd.Flags().GetInt("limit")
			changed, _ := cmd.Flags().GetBool("changed")
			header := color.New(color.FgYellow).SprintFunc()

			ctx := cmd.Context()
			return withSession(ctx, args[0], func(s *ra.Session) error {
				opts := repos.LogOptions{Start: start, End: end, Limit: limit, ChangedPaths: changed}
				err := s.Log(ctx, opts, func(e repos.LogEntry) error {
					lines := strings.Count(e.Message, "\n")
					if e.Message != "" && !strings.HasSuffix(e.Message, "\n") {
						lines++
					}
					fmt.Println(logSeparator)
					fmt.Printf("%s | %s | %s | %d line(s)\n", header(fmt.Sprintf("r%d", e.Revision)), e.Author,
						e.Date.Local().Format("2006-01-02 15:04:05 -0700 (Mon, 02 Jan 2006)"), lines)
					if changed && len(e.ChangedPaths) > 0 {
						fmt.Println("Changed paths:")
						for _, cp := range e.ChangedPaths {
							line := fmt.Sprintf("   %s /%s", cp.Action, cp.Path)
							if cp.CopyFrom != nil {
								line += fmt.Sprintf(" (from /%s:%d)", cp.CopyFrom.Path, cp.CopyFrom.Rev)
							}
							fmt.Println(line)
						}
					}
					fmt.Printf("\n%s\n", strings.TrimRight(e.Message, "\n"))
					return nil
				})
				if err != nil {
					return err
				}
				fmt.Println(logSeparator)
				return nil
			})
		},
	}
	cmd.Flags().StringP("revision", "r", "", "revision range A:B (default HEAD:0)")
	cmd.Flags().IntP("limit", "l", 0, "maximum number of entries")
	cmd.Flags().BoolP("changed", "v", false, "list changed paths")
	return cmd
}

func commitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "commit URL -F SCRIPT",
		Short: "Commit an edit script",
		Long: `Replays a YAML or JSON edit script through a commit editor rooted at URL.
Each operation in the script is one editor call.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			if file == "" {
				return fmt.Errorf("an edit script is required (-F)")
			}
			sc, err := script.Load(file)
			if err != nil {
				return err
			}
			if sc.Author == "" {
				sc.Author = username()
			}

			ctx := cmd.Context()
			return withSession(ctx, args[0], func(s *ra.Session) error {
				var committed *delta.CommitInfo
				editor, err := s.CommitEditor(ctx, ra.CommitParams{
					Revprops:   sc.RevisionProps(),
					LockTokens: sc.LockTokens,
					Callback: func(_ context.Context, info delta.CommitInfo) error {
						committed = &info
						return nil
					},
				})
				if err != nil {
					return err
				}
				defer editor.Close()

				if err := sc.Replay(ctx, editor); err != nil {
					return fmt.Errorf("committing: %w", err)
				}
				printCommitted(committed)
				return nil
			})
		},
	}
	cmd.Flags().StringP("file", "F", "", "edit script to commit")
	return cmd
}

func printCommitted(info *delta.CommitInfo) {
	if info == nil {
		fmt.Println("Nothing to commit.")
		return
	}
	color.New(color.FgGreen).Printf("Committed revision %d.\n", info.Revision)
	if info.PostCommitErr != "" {
		color.New(color.FgRed).Printf("Warning: %s\n", info.PostCommitErr)
	}
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import DIR URL",
		Short: "Commit a local directory tree",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			message, _ := cmd.Flags().GetString("message")
			ignore, _ := cmd.Flags().GetStringSlice("ignore")
			ctx := cmd.Context()
			return withSession(ctx, args[1], func(s *ra.Session) error {
				info, err := importDir(ctx, s, args[0], importOptions{
					Message: message,
					Author:  username(),
					Ignore:  ignore,
				})
				if err != nil {
					return err
				}
				printCommitted(info)
				return nil
			})
		},
	}
	cmd.Flags().StringP("message", "m", "", "log message")
	cmd.Flags().StringSlice("ignore", defaultIgnores, "glob patterns of names to skip")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export URL DIR",
		Short: "Write a repository directory to disk",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rev, err := revisionFlag(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			return withSession(ctx, args[0], func(s *ra.Session) error {
				got, err := exportDir(ctx, s, rev, args[1])
				if err != nil {
					return err
				}
				fmt.Printf("Exported revision %d.\n", got)
				return nil
			})
		},
	}
	cmd.Flags().StringP("revision", "r", "HEAD", "revision to export")
	return cmd
}

func diffCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diff URL -r A:B",
		Short: "Show changes between two revisions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, _ := cmd.Flags().GetString("revision")
			from, to, err := utils.ParseRange(r)
			if err != nil {
				return err
			}
			summarize, _ := cmd.Flags().GetBool("summarize")

			ctx := cmd.Context()
			return withSession(ctx, args[0], func(s *ra.Session) error {
				youngest, err := s.LatestRevision(ctx)
				if err != nil {
					return err
				}
				if !from.IsValid() {
					from = youngest
				}
				if !to.IsValid() {
					to = youngest
				}
				_, err = api.Compare(ctx, s, from, to, diff.Options{
					Out:       os.Stdout,
					Summarize: summarize,
					Color:     !color.NoColor,
				})
				return err
			})
		},
	}
	cmd.Flags().StringP("revision", "r", "", "revision range A:B, or N for N-1:N")
	cmd.Flags().Bool("summarize", false, "list changed paths only")
	_ = cmd.MarkFlagRequired("revision")
	return cmd
}

func lockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lock URL",
		Short: "Lock a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			comment, _ := cmd.Flags().GetString("message")
			force, _ := cmd.Flags().GetBool("force")
			expires, _ := cmd.Flags().GetDuration("expires")
			ctx := cmd.Context()
			return withSession(ctx, args[0], func(s *ra.Session) error {
				l, err := s.Lock(ctx, "", repos.LockOptions{
					Owner:   username(),
					Comment: comment,
					Rev:     delta.InvalidRevnum,
					Steal:   force,
					Expires: expires,
				})
				if err != nil {
					return err
				}
				fmt.Printf("'/%s' locked by user '%s'.\n", l.Path, l.Owner)
				fmt.Printf("Token: %s\n", l.Token)
				return nil
			})
		},
	}
	cmd.Flags().StringP("message", "m", "", "lock comment")
	cmd.Flags().Bool("force", false, "steal a lock held by someone else")
	cmd.Flags().Duration("expires", 0, "lock lifetime (0 never expires)")
	return cmd
}

func unlockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unlock URL",
		Short: "Release a file lock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, _ := cmd.Flags().GetString("token")
			force, _ := cmd.Flags().GetBool("force")
			ctx := cmd.Context()
			return withSession(ctx, args[0], func(s *ra.Session) error {
				if err := s.Unlock(ctx, "", token, force); err != nil {
					return err
				}
				url, _ := s.SessionURL(ctx)
				fmt.Printf("'%s' unlocked.\n", url)
				return nil
			})
		},
	}
	cmd.Flags().String("token", "", "lock token")
	cmd.Flags().Bool("force", false, "break the lock without its token")
	return cmd
}

func locksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "locks URL",
		Short: "List locks at or below a path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, _ := cmd.Flags().GetString("depth")
			depth, err := delta.ParseDepth(d)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			return withSession(ctx, args[0], func(s *ra.Session) error {
				found, err := s.GetLocks(ctx, "", depth)
				if err != nil {
					return err
				}
				for _, l := range found {
					fmt.Printf("/%s  %s  %s  %s\n", l.Path, l.Owner, l.Token, humanize.Time(l.Created))
					if l.Comment != "" {
						fmt.Printf("  %s\n", l.Comment)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().String("depth", "infinity", "empty, files, immediates or infinity")
	return cmd
}

func mergeinfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mergeinfo URL",
		Short: "Show recorded merge sources",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rev, err := revisionFlag(cmd)
			if err != nil {
				return err
			}
			inherit := repos.Explicit
			switch mode, _ := cmd.Flags().GetString("inherit"); mode {
			case "explicit":
			case "inherited":
				inherit = repos.Inherited
			case "nearest-ancestor":
				inherit = repos.NearestAncestor
			default:
				return fmt.Errorf("unknown inherit mode %q", mode)
			}

			ctx := cmd.Context()
			return withSession(ctx, args[0], func(s *ra.Session) error {
				found, err := s.GetMergeinfo(ctx, []string{""}, rev, inherit)
				if err != nil {
					return err
				}
				if mi := found[""]; len(mi) > 0 {
					fmt.Println(strings.TrimRight(mi.String(), "\n"))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringP("revision", "r", "HEAD", "revision to read")
	cmd.Flags().String("inherit", "explicit", "explicit, inherited or nearest-ancestor")
	return cmd
}
