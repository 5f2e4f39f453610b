package notifier

import (
	"fmt"

	orderdomain "github.com/bitvend/bitvend/internal/order/domain"
)

// messageFor renders the buyer notification for the terminal state the order
// reached. Texts are HTML, matching the bot's parse mode.
func messageFor(order *orderdomain.Order, target orderdomain.State) string {
	switch target {
	case orderdomain.StatePaid:
		return fmt.Sprintf(
			"✅ <b>Payment Successful!</b>\n\n"+
				"Your payment of %s %s has been received.\n"+
				"Order <code>%s</code> is now complete.\n\n"+
				"Thank you for your purchase!",
			order.Amount.String(), order.Currency, order.ID.String(),
		)
	case orderdomain.StateFailed:
		return fmt.Sprintf(
			"❌ <b>Payment Failed</b>\n\n"+
				"The payment for order <code>%s</code> (%s %s) was not completed.\n"+
				"You can start a new checkout at any time.",
			order.ID.String(), order.Amount.String(), order.Currency,
		)
	case orderdomain.StateExpired:
		return fmt.Sprintf(
			"⌛ <b>Invoice Expired</b>\n\n"+
				"The payment window for order <code>%s</code> (%s %s) has closed.\n"+
				"Start a new checkout to get a fresh invoice.",
			order.ID.String(), order.Amount.String(), order.Currency,
		)
	default:
		return fmt.Sprintf("Order <code>%s</code> was updated.", order.ID.String())
	}
}
