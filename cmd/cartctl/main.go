// Command cartctl is a terminal storefront. It keeps an optimistic cart in
// a reconcile.Session and confirms every change with the cart API.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/noah-isme/toko-storefront/internal/cart"
	"github.com/noah-isme/toko-storefront/internal/cartclient"
	"github.com/noah-isme/toko-storefront/internal/cartid"
	"github.com/noah-isme/toko-storefront/internal/db"
	"github.com/noah-isme/toko-storefront/internal/pricing"
	"github.com/noah-isme/toko-storefront/internal/reconcile"
)

func main() {
	if err := newCommand().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "cartctl:", err)
		os.Exit(1)
	}
}

// shop is the per-invocation state shared by subcommands.
type shop struct {
	client  *cartclient.Client
	ids     *cartid.File
	session *reconcile.Session
	out     io.Writer
	taxBps  int
	curr    string
}

func newCommand() *cli.Command {
	var sh shop
	return &cli.Command{
		Name:  "cartctl",
		Usage: "manage a storefront cart from the terminal",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "api", Value: "http://localhost:8080", Usage: "cart API base URL", Sources: cli.EnvVars("CART_API_URL")},
			&cli.StringFlag{Name: "state", Value: cartid.DefaultPath(), Usage: "file remembering the cart id", Sources: cli.EnvVars("CART_STATE_FILE")},
			&cli.DurationFlag{Name: "timeout", Value: 10 * time.Second, Usage: "per request timeout"},
			&cli.IntFlag{Name: "tax-bps", Value: 1100, Usage: "tax rate used for optimistic prices", Sources: cli.EnvVars("CART_TAX_BPS")},
			&cli.StringFlag{Name: "currency", Value: "IDR", Sources: cli.EnvVars("CART_CURRENCY")},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "log reconciliation details to stderr"},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			level := zerolog.WarnLevel
			if cmd.Bool("verbose") {
				level = zerolog.DebugLevel
			}
			logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
				Level(level).With().Timestamp().Logger()

			sh.out = cmd.Root().Writer
			if sh.out == nil {
				sh.out = os.Stdout
			}
			sh.taxBps = int(cmd.Int("tax-bps"))
			sh.curr = strings.ToUpper(cmd.String("currency"))
			sh.client = cartclient.New(cmd.String("api"), cmd.Duration("timeout"))
			sh.ids = cartid.NewFile(cmd.String("state"))
			sh.session = reconcile.NewSession(sh.client, reconcile.WithIDStore(sh.ids), reconcile.WithLogger(logger))
			return logger.WithContext(ctx), nil
		},
		Commands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "print the current cart",
				Action: sh.action(func(ctx context.Context, cmd *cli.Command) (*cart.Cart, error) { return sh.session.Cart(), nil }),
			},
			{
				Name:      "add",
				Usage:     "add a variant to the cart",
				ArgsUsage: "<sku>",
				Flags:     []cli.Flag{&cli.IntFlag{Name: "qty", Aliases: []string{"q"}, Value: 1}},
				Action:    sh.action(sh.add),
			},
			{
				Name:      "inc",
				Usage:     "increase the quantity of a line by one",
				ArgsUsage: "<line>",
				Action:    sh.action(sh.lineAction(cart.Increase)),
			},
			{
				Name:      "dec",
				Usage:     "decrease the quantity of a line by one, removing it at zero",
				ArgsUsage: "<line>",
				Action:    sh.action(sh.lineAction(cart.Decrease)),
			},
			{
				Name:      "remove",
				Usage:     "remove a line",
				ArgsUsage: "<line>",
				Action:    sh.action(sh.lineAction(cart.Remove)),
			},
			{
				Name:  "reset",
				Usage: "empty the cart",
				Action: sh.action(func(ctx context.Context, _ *cli.Command) (*cart.Cart, error) {
					return sh.session.Submit(ctx, cart.Reset())
				}),
			},
			{
				Name:      "voucher",
				Usage:     "apply a voucher code, or remove it when none is given",
				ArgsUsage: "[code]",
				Action: sh.action(func(ctx context.Context, cmd *cli.Command) (*cart.Cart, error) {
					return sh.session.ApplyVoucher(ctx, strings.TrimSpace(cmd.Args().First()))
				}),
			},
			{
				Name:   "checkout",
				Usage:  "place the cart and open a payment intent",
				Flags:  []cli.Flag{&cli.StringFlag{Name: "channel", Usage: "payment channel, e.g. gopay"}},
				Action: sh.checkout,
			},
			{
				Name:  "migrate",
				Usage: "apply catalog and voucher schema migrations",
				Flags: []cli.Flag{&cli.StringFlag{Name: "database-url", Required: true, Sources: cli.EnvVars("DATABASE_URL")}},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if err := db.Migrate(cmd.String("database-url")); err != nil {
						return err
					}
					fmt.Fprintln(cmd.Root().Writer, "migrations applied")
					return nil
				},
			},
		},
	}
}

// load seeds the session from the remembered cart. A cart the API no longer
// knows, or one that was ordered or abandoned, is forgotten so the next
// change starts a fresh one.
func (sh *shop) load(ctx context.Context) error {
	c, err := sh.session.Load(ctx)
	switch {
	case errors.Is(err, cartclient.ErrNotFound):
		zerolog.Ctx(ctx).Info().Msg("remembered cart expired, starting a new one")
		return sh.session.Forget()
	case err != nil:
		return err
	case c != nil && c.Status.Final():
		zerolog.Ctx(ctx).Info().Str("cart_id", c.ID).Str("status", string(c.Status)).Msg("remembered cart is closed, starting a new one")
		return sh.session.Forget()
	}
	return nil
}

func (sh *shop) action(fn func(context.Context, *cli.Command) (*cart.Cart, error)) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		if err := sh.load(ctx); err != nil {
			return err
		}
		c, err := fn(ctx, cmd)
		if c == nil && errors.Is(err, reconcile.ErrBackend) {
			c = sh.session.Cart()
		}
		render(sh.out, c)
		return err
	}
}

func (sh *shop) add(ctx context.Context, cmd *cli.Command) (*cart.Cart, error) {
	sku := strings.TrimSpace(cmd.Args().First())
	if sku == "" {
		return nil, errors.New("sku is required")
	}
	v, err := sh.client.Variant(ctx, sku)
	if err != nil {
		return nil, fmt.Errorf("look up %s: %w", sku, err)
	}
	in := cart.ItemInput{
		SKU:         v.SKU,
		VariantName: v.Name,
		ProductName: v.ProductName,
		Quantity:    int(cmd.Int("qty")),
		Price:       pricing.FromGross(v.UnitGross, sh.taxBps, sh.curr),
	}
	if v.ImageURL != "" {
		in.Image = &cart.Image{URL: v.ImageURL, Alt: v.ProductName}
	}
	return sh.session.Submit(ctx, cart.Add(in))
}

// lineAction adapts an index based action to 1-based line numbers as printed.
func (sh *shop) lineAction(build func(int) cart.Action) func(context.Context, *cli.Command) (*cart.Cart, error) {
	return func(ctx context.Context, cmd *cli.Command) (*cart.Cart, error) {
		line, err := strconv.Atoi(cmd.Args().First())
		if err != nil || line < 1 {
			return nil, fmt.Errorf("line must be a positive number, got %q", cmd.Args().First())
		}
		return sh.session.Submit(ctx, build(line-1))
	}
}

func (sh *shop) checkout(ctx context.Context, cmd *cli.Command) error {
	if err := sh.load(ctx); err != nil {
		return err
	}
	c := sh.session.Cart()
	if c == nil || c.ID == "" {
		return errors.New("cart is empty")
	}
	intent, err := sh.client.OrderIntent(ctx, c.ID, cmd.String("channel"))
	if err != nil {
		return err
	}
	if _, err := sh.session.Load(ctx); err != nil {
		return err
	}
	render(sh.out, sh.session.Cart())
	fmt.Fprintf(sh.out, "\norder %s via %s: %s %s\n", intent.Order.OrderID, intent.Provider,
		intent.Order.Summary.Total.StringFixed(2), intent.Order.Currency)
	if intent.RedirectURL != "" {
		fmt.Fprintf(sh.out, "pay at %s\n", intent.RedirectURL)
	}
	return nil
}

func render(w io.Writer, c *cart.Cart) {
	if c == nil || len(c.Items) == 0 {
		fmt.Fprintln(w, "cart is empty")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "#\tSKU\tITEM\tQTY\tPRICE\n")
	for i, it := range c.Items {
		fmt.Fprintf(tw, "%d\t%s\t%s (%s)\t%d\t%s\n", i+1, it.Variant.SKU, it.Name, it.Variant.Name, it.Quantity, it.Price.Gross.StringFixed(2))
	}
	_ = tw.Flush()
	for _, p := range c.AppliedPromotions {
		fmt.Fprintf(w, "promotion %s: -%s\n", p.Code, p.Amount.Gross.StringFixed(2))
	}
	fmt.Fprintf(w, "%d units, total %s %s (tax %s)", c.Quantity(), c.Total.Gross.StringFixed(2), c.Total.Currency, c.Total.TaxAmount.StringFixed(2))
	if c.Status != "" && c.Status != cart.StatusCart {
		fmt.Fprintf(w, " [%s]", c.Status)
	}
	fmt.Fprintln(w)
}
