// Package ui renders the storefront screens on a terminal. Every
// screen fetches its own data, renders a loading/error/content state,
// and routes mutations back through the gateway client. No screen is
// ever left hanging: each asynchronous path ends in either rendered
// content or an inline error message.
package ui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"storefront/internal/api"
	"storefront/internal/cart"
	"storefront/internal/checkout"
	"storefront/internal/models"
	"storefront/internal/session"
)

// UI drives the interactive storefront.
type UI struct {
	client *api.Client
	cart   *cart.ViewModel
	sess   *session.Session
	in     *bufio.Scanner
	out    io.Writer
}

// New creates a UI reading commands from in and rendering to out.
func New(client *api.Client, sess *session.Session, in io.Reader, out io.Writer) *UI {
	return &UI{
		client: client,
		cart:   cart.NewViewModel(client),
		sess:   sess,
		in:     bufio.NewScanner(in),
		out:    out,
	}
}

// Run enters the main menu loop until the user quits or input ends.
func (u *UI) Run(ctx context.Context) error {
	for {
		u.printf("\n=== Storefront ===\n")
		if u.sess.Authenticated() {
			u.printf("[p] products  [c] cart  [o] orders  [u] profile  [x] logout  [q] quit\n")
		} else {
			u.printf("[p] products  [l] login  [s] signup  [q] quit\n")
		}

		choice, ok := u.prompt("> ")
		if !ok {
			return nil
		}
		switch choice {
		case "p":
			u.productsScreen(ctx)
		case "c":
			u.cartScreen(ctx)
		case "o":
			u.ordersScreen(ctx)
		case "u":
			u.profileScreen(ctx)
		case "l":
			u.loginScreen(ctx)
		case "s":
			u.signupScreen(ctx)
		case "x":
			u.sess.Clear()
			u.printf("Logged out.\n")
		case "q":
			return nil
		}
	}
}

func (u *UI) printf(format string, args ...interface{}) {
	fmt.Fprintf(u.out, format, args...)
}

func (u *UI) prompt(label string) (string, bool) {
	u.printf("%s", label)
	if !u.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(u.in.Text()), true
}

// showError renders a classified failure inline.
func (u *UI) showError(err error) {
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		u.printf("Error: %s\n", apiErr.Message)
		return
	}
	u.printf("Error: %v\n", err)
}

// loadWithRetry runs a read-path fetch, offering a retry for
// retryable failures. Mutations never go through here.
func (u *UI) loadWithRetry(load func() error) bool {
	for {
		err := load()
		if err == nil {
			return true
		}
		u.showError(err)
		var apiErr *api.Error
		if !errors.As(err, &apiErr) || !apiErr.Retryable() {
			return false
		}
		answer, ok := u.prompt("Try again? [y/N] ")
		if !ok || answer != "y" {
			return false
		}
	}
}

func money(v float64) string {
	// Two-decimal rounding happens here, at render time only.
	return fmt.Sprintf("$%.2f", v)
}

func (u *UI) productsScreen(ctx context.Context) {
	var products []models.Product
	if !u.loadWithRetry(func() error {
		var err error
		products, err = u.client.ListProducts(ctx)
		return err
	}) {
		return
	}

	w := tabwriter.NewWriter(u.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tPRODUCT\tPRICE\tSTOCK")
	for i, p := range products {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\n", i+1, p.Name, money(p.Price), p.Stock)
	}
	w.Flush()

	choice, ok := u.prompt("Add product # to cart (or enter to go back): ")
	if !ok || choice == "" {
		return
	}
	idx, err := strconv.Atoi(choice)
	if err != nil || idx < 1 || idx > len(products) {
		u.printf("No such product.\n")
		return
	}
	if err := u.client.AddToCart(ctx, products[idx-1].ID, 1); err != nil {
		u.showError(err)
		return
	}
	u.printf("Added %s to cart.\n", products[idx-1].Name)
}

func (u *UI) cartScreen(ctx context.Context) {
	for {
		if !u.loadWithRetry(func() error { return u.cart.Load(ctx) }) {
			return
		}

		snapshot := u.cart.Snapshot()
		if snapshot.IsEmpty() {
			u.printf("Your cart is empty. Add some products to get started!\n")
			return
		}

		w := tabwriter.NewWriter(u.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "#\tPRODUCT\tQTY\tPRICE\tTOTAL")
		for i, item := range snapshot.Items {
			fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\n",
				i+1, item.Product.Name, item.Quantity, money(item.Product.Price), money(item.Total()))
		}
		w.Flush()
		u.printf("Subtotal: %s  Tax (18%%): %s  Grand total: %s\n",
			money(snapshot.Subtotal()), money(snapshot.Tax()), money(snapshot.GrandTotal()))

		choice, ok := u.prompt("[+ n] more  [- n] fewer  [rm n] remove  [co] checkout  [enter] back: ")
		if !ok || choice == "" {
			return
		}
		if choice == "co" {
			u.checkoutScreen(ctx)
			return
		}

		fields := strings.Fields(choice)
		if len(fields) != 2 {
			u.printf("Unrecognized command.\n")
			continue
		}
		idx, err := strconv.Atoi(fields[1])
		if err != nil || idx < 1 || idx > len(snapshot.Items) {
			u.printf("No such line.\n")
			continue
		}
		item := snapshot.Items[idx-1]

		switch fields[0] {
		case "+":
			err = u.cart.ChangeQuantity(ctx, item.ID, item.Quantity+1)
		case "-":
			if item.Quantity <= 1 {
				u.printf("Quantity cannot go below 1; use rm to remove the line.\n")
				continue
			}
			err = u.cart.ChangeQuantity(ctx, item.ID, item.Quantity-1)
		case "rm":
			err = u.cart.RemoveItem(ctx, item.ID)
		default:
			u.printf("Unrecognized command.\n")
			continue
		}
		if err != nil {
			u.showError(err)
		}
	}
}

func (u *UI) checkoutScreen(ctx context.Context) {
	flow := checkout.NewWorkflow(u.client)
	if !u.loadWithRetry(func() error { return flow.Start(ctx) }) {
		return
	}
	if flow.State() == checkout.StateCartEmpty {
		u.printf("Your cart is empty; nothing to check out.\n")
		return
	}

	snapshot := flow.Cart()
	u.printf("Checkout: %d line(s), grand total %s\n", len(snapshot.Items), money(snapshot.GrandTotal()))
	answer, ok := u.prompt("Proceed to payment? [y/N] ")
	if !ok || answer != "y" {
		return
	}

	if err := flow.Proceed(ctx); err != nil {
		u.showError(err)
		return
	}
	order := flow.Order()
	u.printf("Order #%d created, amount due %s\n", order.ID, money(order.TotalAmount))

	for flow.State() == checkout.StateAwaitingPayment {
		choice, ok := u.prompt("[pay] mock payment  [back] cancel and return: ")
		if !ok {
			return
		}
		switch choice {
		case "pay":
			if err := flow.Pay(ctx); err != nil {
				u.showError(err)
				u.printf("Payment failed; you can retry or go back.\n")
				continue
			}
			if warning := flow.Warning(); warning != "" {
				u.printf("Warning: %s\n", warning)
			}
			u.orderSuccessScreen(ctx, order.ID)
			return
		case "back":
			if err := flow.Cancel(ctx); err != nil {
				u.showError(err)
			}
			u.printf("Payment cancelled; your cart is unchanged.\n")
			return
		}
	}
}

func (u *UI) orderSuccessScreen(ctx context.Context, orderID int64) {
	u.printf("Payment successful!\n")
	var order *models.Order
	if !u.loadWithRetry(func() error {
		var err error
		order, err = u.client.GetOrder(ctx, orderID)
		return err
	}) {
		return
	}
	u.renderOrder(order)
}

func (u *UI) ordersScreen(ctx context.Context) {
	var orders []models.Order
	if !u.loadWithRetry(func() error {
		var err error
		orders, err = u.client.ListOrders(ctx)
		return err
	}) {
		return
	}
	if len(orders) == 0 {
		u.printf("No orders yet.\n")
		return
	}

	w := tabwriter.NewWriter(u.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tORDER\tDATE\tSTATUS\tTOTAL")
	for i, o := range orders {
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\n",
			i+1, o.ID, o.CreatedAt.Format("2006-01-02 15:04"), o.Status, money(o.TotalAmount))
	}
	w.Flush()

	choice, ok := u.prompt("View order # (or 'cancel n', enter to go back): ")
	if !ok || choice == "" {
		return
	}

	if rest, found := strings.CutPrefix(choice, "cancel "); found {
		idx, err := strconv.Atoi(strings.TrimSpace(rest))
		if err != nil || idx < 1 || idx > len(orders) {
			u.printf("No such order.\n")
			return
		}
		if _, err := u.client.CancelOrder(ctx, orders[idx-1].ID); err != nil {
			u.showError(err)
			return
		}
		u.printf("Order #%d cancelled.\n", orders[idx-1].ID)
		return
	}

	idx, err := strconv.Atoi(choice)
	if err != nil || idx < 1 || idx > len(orders) {
		u.printf("No such order.\n")
		return
	}
	var order *models.Order
	if !u.loadWithRetry(func() error {
		var err error
		order, err = u.client.GetOrder(ctx, orders[idx-1].ID)
		return err
	}) {
		return
	}
	u.renderOrder(order)
}

func (u *UI) renderOrder(order *models.Order) {
	u.printf("Order #%d  %s  %s\n", order.ID, order.Status, order.CreatedAt.Format("2006-01-02 15:04"))
	w := tabwriter.NewWriter(u.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PRODUCT\tQTY\tPRICE AT PURCHASE\tTOTAL")
	for _, item := range order.Items {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n",
			item.Product.Name, item.Quantity, money(item.Price), money(item.Price*float64(item.Quantity)))
	}
	w.Flush()
	u.printf("Total: %s\n", money(order.TotalAmount))
}

func (u *UI) profileScreen(ctx context.Context) {
	var user *models.User
	if !u.loadWithRetry(func() error {
		var err error
		user, err = u.client.GetProfile(ctx)
		return err
	}) {
		return
	}
	u.printf("Name:  %s\nEmail: %s\n", user.Name, user.Email)

	choice, ok := u.prompt("[e] edit profile  [pw] change password  [enter] back: ")
	if !ok {
		return
	}
	switch choice {
	case "e":
		name, ok := u.prompt("Name: ")
		if !ok {
			return
		}
		email, ok := u.prompt("Email: ")
		if !ok {
			return
		}
		if _, err := u.client.UpdateProfile(ctx, name, email); err != nil {
			u.showError(err)
			return
		}
		u.printf("Profile updated.\n")
	case "pw":
		current, ok := u.prompt("Current password: ")
		if !ok {
			return
		}
		next, ok := u.prompt("New password: ")
		if !ok {
			return
		}
		if err := u.client.ChangePassword(ctx, current, next); err != nil {
			u.showError(err)
			return
		}
		u.printf("Password changed.\n")
	}
}

func (u *UI) loginScreen(ctx context.Context) {
	email, ok := u.prompt("Email: ")
	if !ok {
		return
	}
	password, ok := u.prompt("Password: ")
	if !ok {
		return
	}
	if err := u.client.Login(ctx, email, password); err != nil {
		u.showError(err)
		return
	}
	u.printf("Welcome back!\n")
}

func (u *UI) signupScreen(ctx context.Context) {
	name, ok := u.prompt("Name: ")
	if !ok {
		return
	}
	email, ok := u.prompt("Email: ")
	if !ok {
		return
	}
	password, ok := u.prompt("Password: ")
	if !ok {
		return
	}
	if err := u.client.Signup(ctx, name, email, password); err != nil {
		u.showError(err)
		return
	}
	u.printf("Account created.\n")
}
