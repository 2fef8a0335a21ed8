package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"libradesk/internal/auth"
	"libradesk/internal/circulation"
	"libradesk/internal/domain"
)

func newMigrateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := root.setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			st, err := openStore(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer st.Close()

			v, err := st.SchemaVersion(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", v)
			return nil
		},
	}
}

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Hash a staff password for STAFF_PASSWORD_HASH",
		RunE: func(cmd *cobra.Command, args []string) error {
			fd := int(os.Stdin.Fd())
			if !term.IsTerminal(fd) {
				return errors.New("hash-password needs an interactive terminal")
			}

			password, err := readPassword(cmd, fd, "Password: ")
			if err != nil {
				return err
			}
			if len(password) < 8 {
				return errors.New("password must be at least 8 characters")
			}
			confirm, err := readPassword(cmd, fd, "Confirm password: ")
			if err != nil {
				return err
			}
			if password != confirm {
				return errors.New("passwords do not match")
			}

			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

// readPassword reads a line from the terminal without echoing it.
func readPassword(cmd *cobra.Command, fd int, prompt string) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

func newAuditCmd(root *rootOptions) *cobra.Command {
	var fix bool
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Compare book copy counts with active loans",
		Long: "audit reads the database directly and lists every book whose copies on loan " +
			"disagree with its active transactions. With --fix each one is reconciled.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := root.setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			st, err := openStore(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer st.Close()

			loans := circulation.NewService(st, log, circulation.WithClock(domain.SystemClock))
			drifts, err := loans.Audit(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(drifts) == 0 {
				fmt.Fprintln(out, "ledger consistent")
				return nil
			}
			printDrifts(out, drifts)

			if !fix {
				return fmt.Errorf("%d books out of balance", len(drifts))
			}
			for _, d := range drifts {
				if _, err := loans.Reconcile(cmd.Context(), d.BookID); err != nil {
					log.Error("Reconcile failed", zap.String("book_id", d.BookID), zap.Error(err))
					return err
				}
			}
			fmt.Fprintf(out, "reconciled %d books\n", len(drifts))
			return nil
		},
	}
	cmd.Flags().BoolVar(&fix, "fix", false, "reconcile every drifted book")
	return cmd
}

func printDrifts(out io.Writer, drifts []circulation.Drift) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BOOK\tTITLE\tTOTAL\tAVAILABLE\tACTIVE\tEXPECTED")
	for _, d := range drifts {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\n",
			d.BookID, d.Title, d.TotalCopies, d.AvailableCopies, d.ActiveLoans, d.ExpectedAvailable)
	}
	tw.Flush()
}
