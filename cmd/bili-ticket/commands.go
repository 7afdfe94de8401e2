package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/Amorter/bili-ticket/internal/account"
	"github.com/Amorter/bili-ticket/internal/catalog"
	"github.com/Amorter/bili-ticket/internal/login"
	"github.com/Amorter/bili-ticket/internal/monitor"
	"github.com/Amorter/bili-ticket/internal/purchase"
	"github.com/Amorter/bili-ticket/internal/remote"
	"github.com/Amorter/bili-ticket/internal/rush"
	"github.com/Amorter/bili-ticket/internal/statusapi"
)

// parseFlags parses a subcommand's flags. Common flags were consumed
// already. It returns pflag.ErrHelp after printing help.
func parseFlags(flagSet *pflag.FlagSet, args []string) error {
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return err
		}
		return fmt.Errorf("%s: %w", flagSet.Name(), err)
	}
	return nil
}

func newFlagSet(name string) *pflag.FlagSet {
	return pflag.NewFlagSet("bili-ticket "+name, pflag.ContinueOnError)
}

// helpOrErr turns a help request into a clean exit.
func helpOrErr(err error) error {
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	return err
}

// ═══════════════════════════════════════════════════════════════
// login
// ═══════════════════════════════════════════════════════════════

func loginCmd(ctx context.Context, a *app, args []string) error {
	flagSet := newFlagSet("login")
	force := flagSet.Bool("force", false, "discard the saved session and log in again")
	if err := parseFlags(flagSet, args); err != nil {
		return helpOrErr(err)
	}

	if *force {
		a.state.Reset()
	}
	if err := a.authenticate(ctx); err != nil {
		return err
	}
	return a.save()
}

// authenticate runs the QR handshake unless the restored session is
// already logged in, then refreshes the display identity. A restored cookie
// the platform no longer accepts is discarded and a new QR code is shown.
func (a *app) authenticate(ctx context.Context) error {
	scanned, err := a.handshake(ctx)
	if err != nil {
		return err
	}

	identity, err := a.account.RefreshIdentity(ctx)
	if !scanned && remote.IsRejection(err) {
		a.logger.Warn("saved session expired",
			"operation", "fetch_identity",
			"outcome", "failure",
			"reason", remote.Reason(err),
		)
		a.state.Reset()
		if _, err := a.handshake(ctx); err != nil {
			return err
		}
		identity, err = a.account.RefreshIdentity(ctx)
	}
	if err != nil {
		// Only a rejection shows the cookie is dead; keep it otherwise.
		a.logger.Warn("identity lookup failed", "operation", "fetch_identity", "outcome", "failure", "error", err)
		a.printf("Logged in.\n")
		return nil
	}
	a.printf("Logged in as %s\n", identity.Uname)
	return nil
}

// handshake shows a QR code and waits for it to be confirmed. It reports
// false when the session was already authenticated and nothing was scanned.
func (a *app) handshake(ctx context.Context) (bool, error) {
	pending, err := a.login.Begin(ctx)
	switch {
	case errors.Is(err, login.ErrAlreadyAuthenticated):
		return false, nil
	case err != nil:
		return false, err
	}
	a.printf("Scan the QR code with the mobile app to log in:\n  %s\n", pending.URL)
	a.printf("QR image: %s\n", pending.ImageURL)
	if err := pending.Wait(ctx); err != nil {
		pending.Cancel()
		return false, fmt.Errorf("login: %w", err)
	}
	return true, nil
}

// ═══════════════════════════════════════════════════════════════
// orders
// ═══════════════════════════════════════════════════════════════

func ordersCmd(ctx context.Context, a *app, args []string) error {
	flagSet := newFlagSet("orders")
	watch := flagSet.Bool("watch", false, "keep polling and print the list when it changes")
	if err := parseFlags(flagSet, args); err != nil {
		return helpOrErr(err)
	}
	if !a.state.Authenticated() {
		return account.ErrNotAuthenticated
	}

	if !*watch {
		orders, err := a.refreshOrders(ctx)
		if err != nil {
			return err
		}
		a.printOrders(orders)
		return nil
	}

	if err := a.monitor.Start(ctx); err != nil {
		return err
	}
	defer a.monitor.Stop()

	ticker := time.NewTicker(a.settings.MonitorInterval)
	defer ticker.Stop()
	var last []remote.Order
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			orders := a.state.Orders()
			if orders == nil || slices.Equal(orders, last) {
				continue
			}
			last = orders
			a.printf("\n%s\n", time.Now().Format(time.DateTime))
			a.printOrders(orders)
		}
	}
}

// refreshOrders fetches the first page of orders into the session so that
// pay and cancel can check the order's status.
func (a *app) refreshOrders(ctx context.Context) ([]remote.Order, error) {
	cookie := a.state.Cookie()
	if cookie == "" {
		return nil, account.ErrNotAuthenticated
	}
	cycle := a.state.Cycle()
	orders, err := a.client.ListOrders(ctx, cookie, 0, monitor.DefaultPageSize)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	a.state.ReplaceOrders(cycle, orders)
	return orders, nil
}

func (a *app) printOrders(orders []remote.Order) {
	if len(orders) == 0 {
		a.printf("No orders.\n")
		return
	}
	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ORDER\tITEM\tSTATUS\tPAY\tCREATED")
	for _, o := range orders {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", o.OrderID, o.ItemInfo.Name, o.SubStatusName, money(o.PayMoney), o.Ctime)
	}
	tw.Flush()
}

// money formats a minor-unit amount.
func money(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}

// ═══════════════════════════════════════════════════════════════
// catalog
// ═══════════════════════════════════════════════════════════════

func catalogCmd(ctx context.Context, a *app, args []string) error {
	flagSet := newFlagSet("catalog")
	projectID := flagSet.Int64("project", a.stored.ProjectID, "project id")
	if err := parseFlags(flagSet, args); err != nil {
		return helpOrErr(err)
	}
	if *projectID <= 0 {
		return errors.New("catalog: --project is required")
	}

	c, err := a.catalog.Fetch(ctx, *projectID)
	if err != nil {
		return err
	}
	a.printCatalog(c)

	a.stored.ProjectID = c.ProjectID
	return a.save()
}

func (a *app) printCatalog(c *catalog.Catalog) {
	a.printf("%s (project %d)\n", c.Name, c.ProjectID)
	a.printf("Image:      %s\n", c.ImageURL)
	if !c.SaleBegin.IsZero() {
		a.printf("Sale:       %s - %s\n", c.SaleBegin.Local().Format(time.DateTime), c.SaleEnd.Local().Format(time.DateTime))
	}
	a.printf("Buyer mode: %s\n\n", c.Mode)

	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SCREEN\tSKU\tTICKET\tPRICE\tON SALE")
	for _, screen := range c.Screens {
		for _, ticket := range screen.Tickets {
			fmt.Fprintf(tw, "%d %s\t%d\t%s\t%s\t%t\n", screen.ID, screen.Name, ticket.SkuID, ticket.Desc, money(ticket.Price), ticket.OnSale)
		}
	}
	tw.Flush()
}

// ═══════════════════════════════════════════════════════════════
// buy / rush
// ═══════════════════════════════════════════════════════════════

// selectionFlags describe what to buy and who for. Defaults come from the
// saved state so a rush can be prepared once and rerun.
type selectionFlags struct {
	projectID int64
	screenID  int64
	skuID     int64
	count     int
	name      string
	phone     string
	deviceID  string
	addressID int64
	address   string
	buyerIDs  []int64
}

func (s *selectionFlags) register(flagSet *pflag.FlagSet, a *app) {
	stored := a.stored
	count := stored.Count
	if count == 0 {
		count = 1
	}
	flagSet.Int64Var(&s.projectID, "project", stored.ProjectID, "project id")
	flagSet.Int64Var(&s.screenID, "screen", stored.ScreenID, "screen id")
	flagSet.Int64Var(&s.skuID, "sku", stored.SkuID, "ticket sku id")
	flagSet.IntVar(&s.count, "count", count, "number of tickets")
	flagSet.StringVar(&s.name, "name", stored.Name, "contact name")
	flagSet.StringVar(&s.phone, "phone", stored.Phone, "contact phone")
	flagSet.StringVar(&s.deviceID, "device-id", stored.DeviceID, "device id sent with the order")
	flagSet.Int64Var(&s.addressID, "address-id", stored.AddressID, "delivery address id")
	flagSet.StringVar(&s.address, "address", stored.Address, "delivery address")
	flagSet.Int64SliceVar(&s.buyerIDs, "buyer", stored.BuyerIDs, "registered buyer id, once per ticket")
}

// resolve fetches the catalog and turns the flags into a purchase request.
// The choice is remembered in the saved state.
func (s *selectionFlags) resolve(ctx context.Context, a *app) (*catalog.Catalog, purchase.Selection, purchase.BuyerFields, error) {
	if s.projectID <= 0 || s.screenID <= 0 || s.skuID <= 0 {
		return nil, purchase.Selection{}, purchase.BuyerFields{}, errors.New("--project, --screen and --sku are required")
	}
	c, err := a.catalog.Fetch(ctx, s.projectID)
	if err != nil {
		return nil, purchase.Selection{}, purchase.BuyerFields{}, err
	}
	sel, err := purchase.NewSelection(c, s.screenID, s.skuID, s.count)
	if err != nil {
		return nil, purchase.Selection{}, purchase.BuyerFields{}, err
	}

	buyer := purchase.BuyerFields{
		Mode:      c.Mode,
		Name:      s.name,
		Phone:     s.phone,
		AddressID: s.addressID,
		Address:   s.address,
		DeviceID:  s.deviceID,
	}
	if c.Mode == catalog.ModeBuyer {
		buyer.Buyers, err = a.pickBuyers(ctx, s.buyerIDs)
		if err != nil {
			return nil, purchase.Selection{}, purchase.BuyerFields{}, err
		}
	}
	if err := buyer.Validate(s.count); err != nil {
		return nil, purchase.Selection{}, purchase.BuyerFields{}, err
	}

	a.stored.ProjectID = s.projectID
	a.stored.ScreenID = s.screenID
	a.stored.SkuID = s.skuID
	a.stored.Count = s.count
	a.stored.Name = s.name
	a.stored.Phone = s.phone
	a.stored.DeviceID = s.deviceID
	a.stored.AddressID = s.addressID
	a.stored.Address = s.address
	a.stored.BuyerIDs = s.buyerIDs
	return c, sel, buyer, nil
}

func (a *app) pickBuyers(ctx context.Context, ids []int64) ([]remote.Buyer, error) {
	registered, err := a.account.Buyers(ctx)
	if err != nil {
		return nil, err
	}
	picked := make([]remote.Buyer, 0, len(ids))
	for _, id := range ids {
		i := slices.IndexFunc(registered, func(b remote.Buyer) bool { return b.ID == id })
		if i < 0 {
			return nil, fmt.Errorf("buyer %d is not registered on this account", id)
		}
		picked = append(picked, registered[i])
	}
	return picked, nil
}

func buyCmd(ctx context.Context, a *app, args []string) error {
	flagSet := newFlagSet("buy")
	var sel selectionFlags
	sel.register(flagSet, a)
	if err := parseFlags(flagSet, args); err != nil {
		return helpOrErr(err)
	}

	_, selection, buyer, err := sel.resolve(ctx, a)
	if err != nil {
		return err
	}
	if err := a.save(); err != nil {
		return err
	}

	orderID, err := a.purchase.Purchase(ctx, selection, buyer)
	if err != nil {
		if reason := remote.Reason(err); reason != "" {
			return fmt.Errorf("order rejected: %s", reason)
		}
		return err
	}
	a.printf("Order created: %s\n", orderID)
	a.printf("Pay with: bili-ticket pay --order %s\n", orderID)
	return nil
}

func rushCmd(ctx context.Context, a *app, args []string) error {
	flagSet := newFlagSet("rush")
	var sel selectionFlags
	sel.register(flagSet, a)
	workers := flagSet.Int("workers", a.settings.RushWorkers, "concurrent attempt loops")
	attempts := flagSet.Int("attempts", a.settings.RushAttempts, "attempt budget across all workers")
	at := flagSet.String("at", "", `start time: "sale" for the sale start, RFC 3339, or "2006-01-02 15:04:05" local`)
	lead := flagSet.Duration("lead", 0, "start this long before --at")
	reportDir := flagSet.String("report-dir", a.settings.RushReportDir, "directory for the Markdown report (empty disables it)")
	if err := parseFlags(flagSet, args); err != nil {
		return helpOrErr(err)
	}

	c, selection, buyer, err := sel.resolve(ctx, a)
	if err != nil {
		return err
	}
	startAt, err := parseStart(*at, c)
	if err != nil {
		return err
	}
	if !startAt.IsZero() {
		startAt = startAt.Add(-*lead)
	}
	if err := a.save(); err != nil {
		return err
	}

	plan := rush.Plan{
		Selection:   selection,
		Buyer:       buyer,
		Workers:     *workers,
		MaxAttempts: *attempts,
		StartAt:     startAt,
		Limiter:     a.rushLimiter(),
		BaseDelay:   a.settings.RushBackoff,
	}
	if !startAt.IsZero() {
		a.printf("Waiting until %s\n", startAt.Local().Format("2006-01-02 15:04:05.000"))
	}

	summary, runErr := a.rush.Run(ctx, plan)
	if *reportDir != "" && summary.Attempts > 0 {
		path, err := rush.SaveReport(*reportDir, plan, summary)
		if err != nil {
			a.logger.Warn("report not saved", "operation", "save_report", "outcome", "failure", "error", err)
		} else {
			a.printf("Report saved to: %s\n", path)
		}
	}
	if runErr != nil {
		return runErr
	}

	a.printf("Attempts: %d  Failures: %d  p50: %v  p99: %v\n",
		summary.Attempts, summary.Failures, summary.Latency.P50, summary.Latency.P99)
	for _, extra := range summary.Extra {
		a.printf("Extra order %s was also created; cancel it with: bili-ticket cancel --order %s\n", extra, extra)
	}
	if !summary.Won() {
		if summary.Err != nil {
			return fmt.Errorf("no order created: %w", summary.Err)
		}
		return errors.New("no order created")
	}
	a.printf("Order created: %s\n", summary.OrderID)
	return nil
}

// parseStart resolves the --at value against the catalog.
func parseStart(value string, c *catalog.Catalog) (time.Time, error) {
	switch value {
	case "":
		return time.Time{}, nil
	case "sale":
		if c.SaleBegin.IsZero() {
			return time.Time{}, errors.New("project has no sale start time")
		}
		return c.SaleBegin, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(time.DateTime, value, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("--at %q: want \"sale\", RFC 3339 or %q", value, time.DateTime)
	}
	return t, nil
}

// ═══════════════════════════════════════════════════════════════
// pay / cancel / buyers
// ═══════════════════════════════════════════════════════════════

// orderArg reads the order id from --order or the first argument.
func orderArg(name string, args []string) (string, error) {
	flagSet := newFlagSet(name)
	order := flagSet.String("order", "", "order id")
	if err := parseFlags(flagSet, args); err != nil {
		return "", err
	}
	id := *order
	if id == "" && flagSet.NArg() > 0 {
		id = flagSet.Arg(0)
	}
	if _, err := strconv.ParseInt(id, 10, 64); err != nil {
		return "", fmt.Errorf("%s: order id required", name)
	}
	return id, nil
}

func payCmd(ctx context.Context, a *app, args []string) error {
	orderID, err := orderArg("pay", args)
	if err != nil {
		return helpOrErr(err)
	}
	if _, err := a.refreshOrders(ctx); err != nil {
		return err
	}
	payment, err := a.account.Pay(ctx, orderID)
	if err != nil {
		return err
	}
	a.printf("Scan to pay order %s:\n  %s\n", payment.OrderID, payment.CodeURL)
	a.printf("QR image: %s\n", payment.ImageURL)
	return nil
}

func cancelCmd(ctx context.Context, a *app, args []string) error {
	orderID, err := orderArg("cancel", args)
	if err != nil {
		return helpOrErr(err)
	}
	if _, err := a.refreshOrders(ctx); err != nil {
		return err
	}
	if err := a.account.Cancel(ctx, orderID); err != nil {
		return err
	}
	a.printf("Order %s cancelled.\n", orderID)
	return nil
}

func buyersCmd(ctx context.Context, a *app, args []string) error {
	if err := parseFlags(newFlagSet("buyers"), args); err != nil {
		return helpOrErr(err)
	}
	buyers, err := a.account.Buyers(ctx)
	if err != nil {
		return err
	}
	if len(buyers) == 0 {
		a.printf("No registered buyers.\n")
		return nil
	}
	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPHONE\tDEFAULT")
	for _, b := range buyers {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%t\n", b.ID, b.Name, b.Tel, b.IsDefault == 1)
	}
	tw.Flush()
	return nil
}

// ═══════════════════════════════════════════════════════════════
// serve
// ═══════════════════════════════════════════════════════════════

func serveCmd(ctx context.Context, a *app, args []string) error {
	flagSet := newFlagSet("serve")
	addr := flagSet.String("addr", a.settings.StatusAddr, "status API listen address")
	if err := parseFlags(flagSet, args); err != nil {
		return helpOrErr(err)
	}

	if err := a.authenticate(ctx); err != nil {
		return err
	}
	if err := a.save(); err != nil {
		return err
	}

	if err := a.monitor.Start(ctx); err != nil {
		return err
	}
	defer a.monitor.Stop()

	handler := statusapi.NewHandler(a.state, statusapi.Options{
		Login:   a.login,
		Monitor: a.monitor,
		Logger:  a.logger.With("component", "statusapi"),
	})
	a.logger.Info("status API listening", "operation", "serve", "addr", *addr)
	if err := statusapi.Serve(ctx, *addr, statusapi.NewRouter(handler)); err != nil {
		return err
	}
	return a.save()
}
