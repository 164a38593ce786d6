package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/JannisRoesner/PICARD-sub000/internal/adapter/postgres"
	"github.com/JannisRoesner/PICARD-sub000/internal/app"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
)

var errEmptyPassword = errors.New("no password given on stdin")

type passwordSetter interface {
	SetPassword(ctx context.Context, password string) error
}

func NewSetPasswordCommand() *cobra.Command {
	var databaseURL string

	cmd := &cobra.Command{
		Use:   "set-password",
		Short: "Replace the shared login password",
		Long: `Read a new password from the first line of stdin and store its hash,
replacing any existing password. Existing browser sessions stay logged in.

  echo 'new-password' | picardctl set-password`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := openPool(cmd.Context(), databaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := app.NewService(postgres.NewStore(pool), nil, nil, clockwork.NewRealClock(), nil)
			if err := setPassword(cmd.Context(), svc, cmd.InOrStdin()); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "password updated")
			return err
		},
	}

	cmd.Flags().StringVar(&databaseURL, "database-url", "", "PostgreSQL URL (or set DATABASE_URL env)")

	return cmd
}

func setPassword(ctx context.Context, svc passwordSetter, in io.Reader) error {
	password, err := readLine(in)
	if err != nil {
		return err
	}
	if err := svc.SetPassword(ctx, password); err != nil {
		return fmt.Errorf("failed to set password: %w", err)
	}
	return nil
}

// readLine returns the first line of in without its line ending.
func readLine(in io.Reader) (string, error) {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errEmptyPassword
	}
	return line, nil
}
