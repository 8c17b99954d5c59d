package licensing

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/itixo/durabletask/activity"
	"github.com/itixo/durabletask/workflow"
)

// Delivery hands results of the licensing activities to the outside world.
type Delivery interface {
	Notify(ctx context.Context, n *Notification) error
	StoreLicence(ctx context.Context, f *LicenceFile) error
}

var ErrMissingEmail = errors.New("payment has no email")

// Activities are registered as a struct, each exported method becomes an activity of the same name.
type Activities struct {
	delivery Delivery
	clock    clock.Clock
}

func NewActivities(delivery Delivery, clock clock.Clock) *Activities {
	return &Activities{
		delivery: delivery,
		clock:    clock,
	}
}

func (a *Activities) GenerateOrder(ctx context.Context, p Payment) (Order, error) {
	logger := activity.Logger(ctx)
	logger.Info("Received payment", "product_id", p.ProductID, "email", p.Email)

	if p.Email == "" {
		return Order{}, workflow.NewPermanentError(ErrMissingEmail)
	}

	o := Order{
		OrderID:      rand.Int(),
		Email:        p.Email,
		ProductID:    p.ProductID,
		PurchaseDate: a.clock.Now().UTC(),
	}

	logger.Info("Generated order", "order_id", o.OrderID)

	return o, nil
}

func (a *Activities) NotifyAboutAcceptedPayment(ctx context.Context, p Payment) (Notification, error) {
	activity.Logger(ctx).Info("Notifying customer", "email", p.Email)

	n := Notification{
		Email:   p.Email,
		Message: fmt.Sprintf("Your payment for product %d was accepted!", p.ProductID),
	}

	if err := a.delivery.Notify(ctx, &n); err != nil {
		return Notification{}, fmt.Errorf("delivering notification: %w", err)
	}

	return n, nil
}

func (a *Activities) GenerateLicenceFile(ctx context.Context, o Order) (LicenceFile, error) {
	code := uuid.NewString()

	var sb strings.Builder
	fmt.Fprintf(&sb, "OrderId: %d\n", o.OrderID)
	fmt.Fprintf(&sb, "Email: %s\n", o.Email)
	fmt.Fprintf(&sb, "ProductId: %d\n", o.ProductID)
	fmt.Fprintf(&sb, "PurchaseDate: %s\n", a.clock.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&sb, "LicenceCode: %s\n", code)

	f := LicenceFile{
		Name:     uuid.NewString() + ".lic",
		Contents: sb.String(),
	}

	activity.Logger(ctx).Info("Generating licence file", "order_id", o.OrderID, "file", f.Name)

	if err := a.delivery.StoreLicence(ctx, &f); err != nil {
		return LicenceFile{}, fmt.Errorf("storing licence file: %w", err)
	}

	return f, nil
}
