package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
)

// LicenseCommand manages the registration directory directly against the
// configured database, without a running server.
func LicenseCommand() *cli.Command {
	return &cli.Command{
		Name:  "license",
		Usage: "Manage issued licenses",
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Register a premium license id",
				ArgsUsage: "LICENSE_ID",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "inactive", Usage: "Create the license deactivated"},
				},
				Action: runLicenseAdd,
			},
			{
				Name:      "deactivate",
				Usage:     "Deactivate a license",
				ArgsUsage: "LICENSE_ID",
				Action:    runLicenseSetActive(false),
			},
			{
				Name:      "activate",
				Usage:     "Reactivate a license",
				ArgsUsage: "LICENSE_ID",
				Action:    runLicenseSetActive(true),
			},
			{
				Name:   "list",
				Usage:  "List issued licenses",
				Action: runLicenseList,
			},
		},
	}
}

func licenseArg(c *cli.Context) (string, error) {
	if c.NArg() != 1 {
		return "", cli.Exit("expected exactly one LICENSE_ID argument", 2)
	}
	return c.Args().First(), nil
}

func runLicenseAdd(c *cli.Context) error {
	id, err := licenseArg(c)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(c, "license")
	if err != nil {
		return err
	}
	svc, db, err := openLicenses(c.Context, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	rec, err := svc.CreateLicense(c.Context, id, !c.Bool("inactive"))
	if err != nil {
		return err
	}
	fmt.Printf("Registration number %s added (active=%t)\n", rec.ID, rec.Active)
	return nil
}

func runLicenseSetActive(active bool) cli.ActionFunc {
	return func(c *cli.Context) error {
		id, err := licenseArg(c)
		if err != nil {
			return err
		}
		cfg, err := loadConfig(c, "license")
		if err != nil {
			return err
		}
		svc, db, err := openLicenses(c.Context, cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := svc.SetActive(c.Context, id, active); err != nil {
			return err
		}
		fmt.Printf("License %s active=%t\n", id, active)
		return nil
	}
}

func runLicenseList(c *cli.Context) error {
	cfg, err := loadConfig(c, "license")
	if err != nil {
		return err
	}
	svc, db, err := openLicenses(c.Context, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	recs, err := svc.ListLicenses(c.Context)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tACTIVE\tCREATED")
	for _, rec := range recs {
		kind := "premium"
		if rec.IsTrial {
			kind = "trial"
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", rec.ID, kind, rec.Active, rec.CreatedAt.UTC().Format(time.RFC3339))
	}
	return w.Flush()
}
