package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/querygate/pkg/client"
)

const defaultAppID = "querygate"

// ClientCommand drives a server from a device: activation, queries and
// status, remembering the activated license in a local state file.
func ClientCommand() *cli.Command {
	home, _ := os.UserHomeDir()
	return &cli.Command{
		Name:  "client",
		Usage: "Talk to a querygate server from this device",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Usage:   "Server base URL",
				Value:   "http://localhost:8000",
				EnvVars: []string{"QUERYGATE_CLIENT_SERVER"},
			},
			&cli.StringFlag{
				Name:    "api-key",
				Usage:   "Client API key",
				EnvVars: []string{"QUERYGATE_CLIENT_API_KEY"},
			},
			&cli.StringFlag{
				Name:  "state",
				Usage: "Activation state `FILE`",
				Value: filepath.Join(home, ".querygate", "activation.json"),
			},
			&cli.StringFlag{
				Name:  "app-id",
				Usage: "Application id the device fingerprint is scoped to",
				Value: defaultAppID,
			},
			&cli.StringFlag{
				Name:  "fingerprint",
				Usage: "Override the device fingerprint",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Per-request timeout",
				Value: client.DefaultTimeout,
			},
		},
		Subcommands: []*cli.Command{
			{
				Name:      "trial-activate",
				Usage:     "Start the free trial on this device",
				ArgsUsage: "ACTIVATION_CODE",
				Action:    runClientTrialActivate,
			},
			{
				Name:      "activate",
				Usage:     "Bind a premium license to this device",
				ArgsUsage: "LICENSE_ID",
				Action:    runClientActivate,
			},
			{
				Name:      "ask",
				Usage:     "Submit a query",
				ArgsUsage: "QUERY...",
				Action:    runClientAsk,
			},
			{
				Name:   "status",
				Usage:  "Show the entitlement of this device",
				Action: runClientStatus,
			},
			{
				Name:   "fingerprint",
				Usage:  "Print this device's fingerprint",
				Action: runClientFingerprint,
			},
		},
	}
}

func fingerprint(c *cli.Context) (string, error) {
	if fp := c.String("fingerprint"); fp != "" {
		return fp, nil
	}
	return client.DeviceFingerprint(c.String("app-id"))
}

func newClient(c *cli.Context) *client.Client {
	return client.New(c.String("server"), c.String("api-key"), client.WithTimeout(c.Duration("timeout")))
}

// activated loads the state file and fails if the device is not activated.
func activated(c *cli.Context) (client.LocalState, error) {
	st, err := client.LoadState(c.String("state"))
	if err != nil {
		return st, err
	}
	if !st.Activated || st.LicenseID == "" {
		return st, errors.New("device is not activated, run `client trial-activate` or `client activate` first")
	}
	return st, nil
}

func runClientTrialActivate(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("expected exactly one ACTIVATION_CODE argument", 2)
	}
	fp, err := fingerprint(c)
	if err != nil {
		return err
	}
	id, err := newClient(c).TrialActivate(c.Context, c.Args().First(), fp)
	if err != nil {
		return fmt.Errorf("trial activation failed: %w", err)
	}
	if err := client.SaveState(c.String("state"), client.LocalState{LicenseID: id, Activated: true}); err != nil {
		return err
	}
	fmt.Printf("Trial activated (license %s)\n", id)
	return nil
}

func runClientActivate(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("expected exactly one LICENSE_ID argument", 2)
	}
	id := c.Args().First()
	fp, err := fingerprint(c)
	if err != nil {
		return err
	}
	if err := newClient(c).Activate(c.Context, id, fp); err != nil {
		return fmt.Errorf("activation failed: %w", err)
	}
	if err := client.SaveState(c.String("state"), client.LocalState{LicenseID: id, Activated: true}); err != nil {
		return err
	}
	fmt.Printf("License %s activated on this device\n", id)
	return nil
}

func runClientAsk(c *cli.Context) error {
	query := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if query == "" {
		return cli.Exit("query must not be empty", 2)
	}
	st, err := activated(c)
	if err != nil {
		return err
	}
	fp, err := fingerprint(c)
	if err != nil {
		return err
	}

	res, err := newClient(c).Chat(c.Context, st.LicenseID, fp, query)
	if err != nil {
		return err
	}
	fmt.Println(res.Response)
	if res.Remaining != nil {
		fmt.Fprintf(os.Stderr, "(%d trial queries remaining)\n", *res.Remaining)
	}
	return nil
}

func runClientStatus(c *cli.Context) error {
	st, err := activated(c)
	if err != nil {
		return err
	}
	fp, err := fingerprint(c)
	if err != nil {
		return err
	}

	status, err := newClient(c).Status(c.Context, st.LicenseID, fp)
	if err != nil {
		return err
	}
	fmt.Printf("License:   %s (%s)\n", status.LicenseID, status.Kind)
	if status.Limit != nil && status.Used != nil && status.Remaining != nil {
		fmt.Printf("Usage:     %d/%d (%d remaining)\n", *status.Used, *status.Limit, *status.Remaining)
	}
	if status.ExpiresAt != nil {
		fmt.Printf("Expires:   %s (expired=%t)\n", *status.ExpiresAt, status.Expired)
	}
	return nil
}

func runClientFingerprint(c *cli.Context) error {
	fp, err := fingerprint(c)
	if err != nil {
		return err
	}
	fmt.Println(fp)
	return nil
}
