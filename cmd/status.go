package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/s0up4200/combined-energy/combinedenergy"
)

var showHistory bool

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show installation details and connection status",
	Long: `Log in, then show the installation, its devices and whether the site
controller is currently connected.`,
	PreRunE: initializeApp,
	PostRun: closeApp,
	RunE:    runStatus,
}

// customersCmd represents the customers command
var customersCmd = &cobra.Command{
	Use:     "customers",
	Short:   "List the customers of the installation",
	PreRunE: initializeApp,
	PostRun: closeApp,
	RunE:    runCustomers,
}

// userCmd represents the user command
var userCmd = &cobra.Command{
	Use:     "user",
	Short:   "Show the logged in user",
	PreRunE: initializeApp,
	PostRun: closeApp,
	RunE:    runUser,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(customersCmd)
	rootCmd.AddCommand(userCmd)

	statusCmd.Flags().BoolVar(&showHistory, "history", false, "also show the connection history")
}

func runStatus(cmd *cobra.Command, args []string) error {
	var (
		installation *combinedenergy.Installation
		connection   *combinedenergy.ConnectionStatus
		user         *combinedenergy.CurrentUser
		history      *combinedenergy.ConnectionHistory
	)

	// The first call logs in; the rest share the session.
	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(4)

	g.Go(func() (err error) {
		installation, err = client.Installation(ctx)
		return err
	})
	g.Go(func() (err error) {
		connection, err = client.CommunicationStatus(ctx)
		return err
	})
	g.Go(func() (err error) {
		user, err = client.User(ctx)
		return err
	})
	if showHistory {
		g.Go(func() (err error) {
			history, err = client.CommunicationHistory(ctx)
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	fmt.Printf("Installation %d", installation.InstallationID)
	if addr := formatAddress(installation); addr != "" {
		fmt.Printf(" (%s)", addr)
	}
	fmt.Println()
	fmt.Printf("- User: %s\n", user.User.GetDisplayName())
	fmt.Printf("- Timezone: %s\n", installation.Timezone)
	fmt.Printf("- Connected: %s", boolToStatus(connection.Connected))
	if !connection.Since.IsZero() {
		fmt.Printf(" since %s", connection.Since.Local().Format(time.DateTime))
	}
	fmt.Println()

	if len(installation.Devices) > 0 {
		fmt.Printf("\nDevices:\n")
		fmt.Println(strings.Repeat("-", 80))
		for _, d := range installation.Devices {
			name := d.DisplayName
			if name == "" {
				name = d.RefName
			}
			fmt.Printf("  • %-30s %-18s ID: %d", name, d.DeviceType, d.DeviceID)
			if d.Status != "" {
				fmt.Printf("  [%s]", d.Status)
			}
			fmt.Println()
		}
	}

	if history != nil {
		fmt.Printf("\nConnection history:\n")
		for _, h := range history.History {
			fmt.Printf("  %s  %-12s %s\n", h.Timestamp.Local().Format(time.DateTime), connectedLabel(h.Connected), h.Device)
		}
	}

	return nil
}

func runCustomers(cmd *cobra.Command, args []string) error {
	customers, err := client.InstallationCustomers(cmd.Context())
	if err != nil {
		return err
	}

	if len(customers.Customers) == 0 {
		fmt.Println("No customers found for this installation.")
		return nil
	}

	fmt.Printf("\nFound %d customers:\n", len(customers.Customers))
	fmt.Println(strings.Repeat("-", 80))
	for _, c := range customers.Customers {
		fmt.Printf("• %s <%s>", c.Name, c.Email)
		if c.Primary {
			fmt.Printf(" [PRIMARY]")
		}
		fmt.Println()
		if c.Phone != nil && *c.Phone != "" {
			fmt.Printf("  Phone: %s\n", *c.Phone)
		}
	}

	return nil
}

func runUser(cmd *cobra.Command, args []string) error {
	current, err := client.User(cmd.Context())
	if err != nil {
		return err
	}

	u := current.User
	fmt.Printf("%s (ID: %d)\n", u.GetDisplayName(), u.ID)
	if u.Email != "" {
		fmt.Printf("- Email: %s\n", u.Email)
	}
	if u.Mobile != "" {
		fmt.Printf("- Mobile: %s\n", u.Mobile)
	}
	if u.Type != "" {
		fmt.Printf("- Type: %s\n", u.Type)
	}

	if session, ok := client.Session(); ok {
		fmt.Printf("- Session expires: %s\n", session.ExpiresAt.Local().Format(time.DateTime))
	}

	return nil
}

func formatAddress(i *combinedenergy.Installation) string {
	parts := make([]string, 0, 4)
	for _, p := range []string{i.StreetAddress, i.Locality, i.State, i.Postcode} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

func connectedLabel(connected bool) string {
	if connected {
		return "connected"
	}
	return "disconnected"
}

func boolToStatus(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
