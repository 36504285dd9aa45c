package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/familyportal/devicelink/internal/pairclient"
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a pairing code",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()

		created, err := newClient().Create(ctx)
		if err != nil {
			return err
		}
		return printJSON(created)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status CODE",
	Short: "Poll a pairing code once",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()

		st, err := newClient().Status(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(st)
	},
}

var linkCmd = &cobra.Command{
	Use:   "link CODE",
	Short: "Link a pairing code with an access token",
	Long: `Link hands a Google access token to the device showing CODE.
The token may also come from PAIRCTL_TOKEN.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token := v.GetString("token")
		if token == "" {
			return errors.New("a token is required (--token or PAIRCTL_TOKEN)")
		}

		ctx, cancel := requestContext(cmd)
		defer cancel()

		res, err := newClient().Link(ctx, args[0], token)
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

var waitCmd = &cobra.Command{
	Use:   "wait [CODE]",
	Short: "Poll until a code is linked, creating one if none is given",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runWait,
}

func init() {
	linkCmd.Flags().String("token", "", "Google OAuth access token")
	_ = v.BindPFlag("token", linkCmd.Flags().Lookup("token"))

	waitCmd.Flags().Duration("interval", 0, "poll interval (default: the server's)")
	_ = v.BindPFlag("interval", waitCmd.Flags().Lookup("interval"))
}

func runWait(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c := newClient()
	interval := v.GetDuration("interval")

	var code string
	if len(args) == 1 {
		code = args[0]
	} else {
		reqCtx, cancel := requestContext(cmd)
		created, err := c.Create(reqCtx)
		cancel()
		if err != nil {
			return err
		}
		code = created.Code
		if interval == 0 {
			interval = time.Duration(created.Interval) * time.Second
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Enter code %s on your phone (expires in %s)\n",
			code, time.Duration(created.ExpiresIn)*time.Second)
	}

	st, err := c.WaitLinked(ctx, code, interval, pairclient.WithNotify(func(err error, next time.Duration) {
		log.Warn().Err(err).Dur("retry_in", next).Msg("poll failed")
	}))
	if pairclient.IsNotFound(err) {
		return fmt.Errorf("code %s expired or is unknown", code)
	}
	if err != nil {
		return err
	}
	return printJSON(st)
}

func requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), v.GetDuration("timeout"))
}
