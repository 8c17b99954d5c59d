package licensing

import (
	"github.com/itixo/durabletask/workflow"
)

// LicenceAttempts is the number of attempts licence generation gets before the orchestration fails.
const LicenceAttempts = 3

// Result is the output of LicenceOrchestration.
type Result struct {
	Order       Order  `json:"order"`
	LicenceFile string `json:"licence_file"`
}

// LicenceOrchestration turns an accepted payment into an order, then notifies the customer and generates the
// licence file in parallel.
func LicenceOrchestration(ctx workflow.Context, p Payment) (Result, error) {
	logger := workflow.Logger(ctx)

	// Only used for method references, activities are resolved by name
	var a *Activities

	order, err := workflow.ExecuteActivity[Order](ctx, workflow.DefaultActivityOptions, a.GenerateOrder, p).Get(ctx)
	if err != nil {
		return Result{}, err
	}

	logger.Info("Order generated", "order_id", order.OrderID)

	notify := workflow.ExecuteActivity[Notification](ctx, workflow.DefaultActivityOptions, a.NotifyAboutAcceptedPayment, p)
	licence := workflow.ExecuteActivity[LicenceFile](ctx, workflow.ActivityOptions{
		RetryOptions: workflow.RetryOptions{MaxAttempts: LicenceAttempts},
	}, a.GenerateLicenceFile, order)

	if err := workflow.WaitAll(ctx, notify, licence); err != nil {
		return Result{}, err
	}

	f, err := licence.Get(ctx)
	if err != nil {
		return Result{}, err
	}

	return Result{Order: order, LicenceFile: f.Name}, nil
}
